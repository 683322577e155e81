package events

import (
	"log"
	"sync"
	"time"
)

type Kind string

const (
	KindPopulationCreated      Kind = "population_created"
	KindPopulationCreateFailed Kind = "population_create_failed"
	KindTrainingStarted        Kind = "training_started"
	KindTrackGenerated         Kind = "track_generated"
	KindContourFailed          Kind = "contour_failed"
	KindBoundariesSettled      Kind = "boundaries_settled"
	KindTrackSwitched          Kind = "track_switched"
	KindRoundSwitched          Kind = "round_switched"
	KindEvolveSkipped          Kind = "evolve_skipped"
	KindGenerationAdvanced     Kind = "generation_advanced"
	KindSnapshotSaved          Kind = "snapshot_saved"
	KindTrainingStopped        Kind = "training_stopped"
)

// Event is one training notification. Fields that do not apply to a kind
// are left zero.
type Event struct {
	Kind       Kind               `json:"kind"`
	Time       time.Time          `json:"time"`
	RunID      string             `json:"run_id,omitempty"`
	Generation int                `json:"generation,omitempty"`
	TrackIndex int                `json:"track_index,omitempty"`
	Seed       *int64             `json:"seed,omitempty"`
	Message    string             `json:"message,omitempty"`
	Fitness    []float64          `json:"fitness,omitempty"`
	Values     map[string]float64 `json:"values,omitempty"`
}

type Sink interface {
	Publish(Event) error
	Close() error
}

// Bus fans events out to every registered sink. Sink failures are logged
// and never reach the publisher.
type Bus struct {
	mu     sync.Mutex
	sinks  []Sink
	logger *log.Logger
	now    func() time.Time
}

func NewBus(logger *log.Logger, sinks ...Sink) *Bus {
	return &Bus{sinks: append([]Sink(nil), sinks...), logger: logger, now: time.Now}
}

func (b *Bus) Add(s Sink) {
	if b == nil || s == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Publish stamps ev with the current time when it has none. A nil bus
// drops events.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = b.now().UTC()
	}
	b.mu.Lock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.Unlock()
	for _, s := range sinks {
		if err := s.Publish(ev); err != nil && b.logger != nil {
			b.logger.Printf("sink publish %s: %v", ev.Kind, err)
		}
	}
}

// Close closes every sink and forgets them.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	sinks := b.sinks
	b.sinks = nil
	b.mu.Unlock()
	var first error
	for _, s := range sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogSink writes a one-line summary per event.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Publish(ev Event) error {
	if s.Logger == nil {
		return nil
	}
	switch {
	case ev.Seed != nil && ev.Message != "":
		s.Logger.Printf("%s gen=%d track=%d seed=%d %s", ev.Kind, ev.Generation, ev.TrackIndex, *ev.Seed, ev.Message)
	case ev.Seed != nil:
		s.Logger.Printf("%s gen=%d track=%d seed=%d", ev.Kind, ev.Generation, ev.TrackIndex, *ev.Seed)
	case ev.Message != "":
		s.Logger.Printf("%s gen=%d %s", ev.Kind, ev.Generation, ev.Message)
	default:
		s.Logger.Printf("%s gen=%d", ev.Kind, ev.Generation)
	}
	return nil
}

func (LogSink) Close() error { return nil }

// MemorySink keeps every event in order.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Publish(ev Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) Close() error { return nil }

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Kinds lists recorded event kinds in order.
func (s *MemorySink) Kinds() []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Kind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}
