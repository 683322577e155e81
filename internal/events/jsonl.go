package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdSink appends events as zstd-compressed JSON lines to one file
// per run.
type JSONLZstdSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	enc  *zstd.Encoder
	w    *bufio.Writer
}

// LogPath is the event log location for a run.
func LogPath(dir, runID string) string {
	return filepath.Join(dir, fmt.Sprintf("events-%s.jsonl.zst", runID))
}

func NewJSONLZstdSink(dir, runID string) (*JSONLZstdSink, error) {
	path := LogPath(dir, runID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &JSONLZstdSink{path: path, f: f, enc: enc, w: bufio.NewWriterSize(enc, 64*1024)}, nil
}

func (s *JSONLZstdSink) Path() string { return s.path }

func (s *JSONLZstdSink) Publish(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return os.ErrClosed
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *JSONLZstdSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1 error
	if s.w != nil {
		err1 = s.w.Flush()
	}
	if s.enc != nil {
		if err := s.enc.Close(); err1 == nil {
			err1 = err
		}
		s.enc = nil
	}
	if s.f != nil {
		if err := s.f.Close(); err1 == nil {
			err1 = err
		}
		s.f = nil
	}
	s.w = nil
	return err1
}

// ReadLog decodes every event in a compressed log.
func ReadLog(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Event
	jd := json.NewDecoder(dec)
	for {
		var ev Event
		if err := jd.Decode(&ev); err == io.EOF {
			return out, nil
		} else if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}
