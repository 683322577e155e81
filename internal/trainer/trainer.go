package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"carbrains/internal/events"
	"carbrains/internal/folders"
	"carbrains/internal/model"
	"carbrains/internal/physics"
	"carbrains/internal/population"
	"carbrains/internal/track"
)

type State int

const (
	StateIdle State = iota
	StateReady
	StateRunningTrack
	StateRoundBoundary
	StateSetBoundary
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateRunningTrack:
		return "running_track"
	case StateRoundBoundary:
		return "round_boundary"
	case StateSetBoundary:
		return "set_boundary"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var (
	ErrNoPopulation = errors.New("no population")
	ErrNoSeeds      = errors.New("no seeds")
	ErrNoTracks     = errors.New("no track source")
	ErrRunning      = errors.New("training is running")
	ErrIOShape      = errors.New("population io shape does not match simulator")
)

// MinOutputs is the number of control outputs a car needs: throttle and
// steering.
const MinOutputs = 2

// TrackSource builds the track for one seed slot.
type TrackSource interface {
	BuildSlot(ctx context.Context, slot *int64, onFailure func(seed int64, err error)) (*track.Track, error)
	CheckpointCount() int
}

// Simulator is the physics collaborator. Car indices match population
// member indices.
type Simulator interface {
	LoadTrack(t *track.Track)
	PollSettled() bool
	SpawnCars(n int)
	RemoveCars()
	Respawn(i int)
	Activate(i int)
	Stall(i int)
	SensorCount() int
	Sense(i int, out []float64)
	Drive(i int, outputs []float64)
	Step(dt float64) []physics.Contact
}

// Recorder persists each completed set.
type Recorder interface {
	RecordGeneration(ctx context.Context, summary model.GenerationSummary, records []model.TrackRecord) error
}

type Deps struct {
	Engine   population.Engine
	Tracks   TrackSource
	Sim      Simulator
	Bus      *events.Bus
	Logger   *log.Logger
	Clock    Clock
	Folders  folders.Layout
	Recorder Recorder
	RunID    string
}

// Status is a point-in-time view of the trainer.
type Status struct {
	RunID       string              `json:"run_id,omitempty"`
	State       State               `json:"state"`
	Generation  int                 `json:"generation"`
	TrackIndex  int                 `json:"track_index"`
	Seed        *int64              `json:"seed,omitempty"`
	LapTime     float64             `json:"lap_time"`
	FastestLap  float64             `json:"fastest_lap,omitempty"`
	TrackRecord float64             `json:"track_record,omitempty"`
	Leniency    float64             `json:"leniency"`
	Active      int                 `json:"active"`
	Finished    int                 `json:"finished"`
	Speedup     string              `json:"speedup"`
	Population  *population.Info    `json:"population,omitempty"`
	Records     []model.TrackRecord `json:"records,omitempty"`
}

// Trainer sequences tracks, scores episodes and evolves the population.
// Run executes on a single goroutine; the other methods may be called
// concurrently with it.
type Trainer struct {
	cfg  Config
	deps Deps

	mu          sync.Mutex
	state       State
	pop         *population.Population
	seeds       []*int64
	generation  int
	speedup     Speedup
	running     bool
	cancel      context.CancelFunc
	stopping    bool
	skip        bool
	pendingTopN int
	pendingAll  bool
	records     []*model.TrackRecord
	status      Status
}

func New(cfg Config, deps Deps) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("trainer config: %w", err)
	}
	if deps.Engine == nil {
		return nil, errors.New("nil population engine")
	}
	if deps.Sim == nil {
		return nil, errors.New("nil simulator")
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}
	return &Trainer{
		cfg:     cfg,
		deps:    deps,
		seeds:   append([]*int64(nil), cfg.Seeds...),
		speedup: cfg.Speedup,
	}, nil
}

func (t *Trainer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Trainer) Generation() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// CreatePopulation replaces the current population. With a members path the
// population is loaded, and evolves only when a config is also given;
// otherwise a fresh population is generated from the config. Any existing
// population is released first, so a failure leaves none.
func (t *Trainer) CreatePopulation(configPath, membersPath string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrRunning
	}
	if configPath == "" && membersPath == "" {
		return errors.New("create population: config or members path required")
	}
	if t.pop != nil {
		if err := t.pop.Close(); err != nil {
			t.deps.Logger.Printf("release previous population: %v", err)
		}
		t.pop = nil
	}
	t.state = StateIdle

	pop, err := t.openPopulation(configPath, membersPath)
	if err != nil {
		t.publish(events.Event{Kind: events.KindPopulationCreateFailed, Message: err.Error()})
		return err
	}
	info := pop.Info()
	t.pop = pop
	t.generation = info.Generation + 1
	t.state = StateReady
	t.publish(events.Event{
		Kind:       events.KindPopulationCreated,
		Generation: t.generation,
		Values: map[string]float64{
			"size":    float64(info.Size),
			"inputs":  float64(info.Inputs),
			"outputs": float64(info.Outputs),
			"evolves": boolValue(pop.EvolveEnabled()),
		},
	})
	return nil
}

func (t *Trainer) openPopulation(configPath, membersPath string) (*population.Population, error) {
	var (
		pop *population.Population
		err error
	)
	if membersPath != "" {
		pop, err = population.Load(t.deps.Engine, membersPath, configPath)
	} else {
		pop, err = population.Create(t.deps.Engine, configPath)
	}
	if err != nil {
		return nil, err
	}
	info := pop.Info()
	if sensors := t.deps.Sim.SensorCount(); info.Inputs != sensors || info.Outputs < MinOutputs {
		cerr := pop.Close()
		return nil, errors.Join(
			fmt.Errorf("%w: inputs=%d outputs=%d, simulator wants inputs=%d outputs>=%d", ErrIOShape, info.Inputs, info.Outputs, sensors, MinOutputs),
			cerr,
		)
	}
	return pop, nil
}

// SetSeeds replaces the ordered seed list. A nil entry is a random slot.
func (t *Trainer) SetSeeds(seeds []*int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrRunning
	}
	t.seeds = make([]*int64, len(seeds))
	for i, s := range seeds {
		if s != nil {
			v := *s
			t.seeds[i] = &v
		}
	}
	return nil
}

func (t *Trainer) SetSpeedup(s Speedup) error {
	if err := s.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	t.speedup = s
	t.mu.Unlock()
	return nil
}

// SkipTrack ends the current track after the next tick. The request is
// consumed by that tick and dropped when the track ends without it or when
// a new Run starts.
func (t *Trainer) SkipTrack() {
	t.mu.Lock()
	t.skip = true
	t.mu.Unlock()
}

// RequestSaveTopN saves the best n members at the next set boundary.
func (t *Trainer) RequestSaveTopN(n int) {
	t.mu.Lock()
	t.pendingTopN = n
	t.mu.Unlock()
}

// RequestSaveAll saves every member at the next set boundary.
func (t *Trainer) RequestSaveAll() {
	t.mu.Lock()
	t.pendingAll = true
	t.mu.Unlock()
}

// Stop aborts a running training loop after its in-flight tick.
func (t *Trainer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.stopping = true
		t.cancel()
	}
}

// Close stops training and releases the population.
func (t *Trainer) Close() error {
	t.Stop()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrRunning
	}
	if t.pop == nil {
		return nil
	}
	err := t.pop.Close()
	t.pop = nil
	t.state = StateIdle
	return err
}

func (t *Trainer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.status
	s.RunID = t.deps.RunID
	s.State = t.state
	s.Generation = t.generation
	s.Speedup = t.speedup.String()
	if t.pop != nil {
		info := t.pop.Info()
		s.Population = &info
	}
	s.Records = t.recordList()
	return s
}

func (t *Trainer) recordList() []model.TrackRecord {
	var out []model.TrackRecord
	for _, r := range t.records {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Run trains until Stop, context cancellation, the generation limit or a
// collaborator failure. A run ended by Stop or the generation limit returns
// nil.
func (t *Trainer) Run(ctx context.Context) error {
	t.mu.Lock()
	switch {
	case t.running:
		t.mu.Unlock()
		return ErrRunning
	case t.pop == nil:
		t.mu.Unlock()
		return ErrNoPopulation
	case len(t.seeds) == 0:
		t.mu.Unlock()
		return ErrNoSeeds
	case t.deps.Tracks == nil:
		t.mu.Unlock()
		return ErrNoTracks
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.running = true
	t.stopping = false
	t.skip = false
	t.cancel = cancel
	t.records = make([]*model.TrackRecord, len(t.seeds))
	t.status = Status{Leniency: 1}
	pop := t.pop
	seeds := append([]*int64(nil), t.seeds...)
	t.mu.Unlock()

	r := &run{
		t:        t,
		pop:      pop,
		seeds:    seeds,
		size:     pop.Size(),
		acc:      newAccumulator(pop.Size()),
		episodes: make([]Episode, pop.Size()),
		inputs:   make([]float64, pop.Inputs()),
		outputs:  make([]float64, pop.Outputs()),
		pacer:    newPacer(t.deps.Clock, t.cfg),
	}
	t.deps.Sim.SpawnCars(r.size)
	t.publish(events.Event{
		Kind:       events.KindTrainingStarted,
		Generation: t.Generation(),
		Values:     map[string]float64{"seeds": float64(len(seeds)), "size": float64(r.size)},
	})

	err := r.loop(runCtx)

	t.deps.Sim.RemoveCars()
	t.mu.Lock()
	stopped := t.stopping
	t.running = false
	t.cancel = nil
	t.stopping = false
	t.state = StateStopped
	gen := t.generation
	t.mu.Unlock()

	if err != nil && errors.Is(err, context.Canceled) && stopped {
		err = nil
	}
	msg := "stopped"
	if err != nil {
		msg = err.Error()
	}
	t.publish(events.Event{Kind: events.KindTrainingStopped, Generation: gen, Message: msg})
	return err
}

func (t *Trainer) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Trainer) publish(ev events.Event) {
	if ev.RunID == "" {
		ev.RunID = t.deps.RunID
	}
	t.deps.Bus.Publish(ev)
}

func (t *Trainer) clearSkip() {
	t.mu.Lock()
	t.skip = false
	t.mu.Unlock()
}

func (t *Trainer) consumeSkip() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	skip := t.skip
	t.skip = false
	return skip
}

func (t *Trainer) currentSpeedup() Speedup {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speedup
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
