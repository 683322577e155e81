package events

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
	"time"
)

type failingSink struct{ closed bool }

func (f *failingSink) Publish(Event) error { return errors.New("boom") }
func (f *failingSink) Close() error        { f.closed = true; return nil }

func TestBusFansOutAndLogsSinkFailures(t *testing.T) {
	var buf bytes.Buffer
	mem := &MemorySink{}
	bad := &failingSink{}
	bus := NewBus(log.New(&buf, "", 0), bad, mem)

	seed := int64(42)
	bus.Publish(Event{Kind: KindTrackSwitched, Seed: &seed})
	bus.Publish(Event{Kind: KindRoundSwitched, Time: time.Unix(10, 0)})

	got := mem.Events()
	if len(got) != 2 || got[0].Kind != KindTrackSwitched || got[1].Kind != KindRoundSwitched {
		t.Fatalf("unexpected events: %+v", got)
	}
	if got[0].Time.IsZero() {
		t.Fatal("expected publish time to be stamped")
	}
	if !got[1].Time.Equal(time.Unix(10, 0)) {
		t.Fatalf("explicit time overwritten: %v", got[1].Time)
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Fatalf("sink failure not logged: %q", buf.String())
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !bad.closed {
		t.Fatal("sink not closed")
	}
}

func TestNilBusDropsEvents(t *testing.T) {
	var bus *Bus
	bus.Publish(Event{Kind: KindTrainingStopped})
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestLogSinkFormatsSeed(t *testing.T) {
	var buf bytes.Buffer
	seed := int64(-3)
	_ = LogSink{Logger: log.New(&buf, "", 0)}.Publish(Event{Kind: KindTrackGenerated, Generation: 2, TrackIndex: 1, Seed: &seed})
	if got, want := strings.TrimSpace(buf.String()), "track_generated gen=2 track=1 seed=-3"; got != want {
		t.Fatalf("unexpected log line: got=%q want=%q", got, want)
	}
}

func TestJSONLZstdSinkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewJSONLZstdSink(dir, "run-1")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := sink.Publish(Event{Kind: KindGenerationAdvanced, Generation: i + 1, Fitness: []float64{float64(i)}}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sink.Publish(Event{Kind: KindTrainingStopped}); err == nil {
		t.Fatal("expected publish after close to fail")
	}

	got, err := ReadLog(LogPath(dir, "run-1"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(got) != 3 || got[2].Generation != 3 || got[2].Fitness[0] != 2 {
		t.Fatalf("unexpected log contents: %+v", got)
	}
}
