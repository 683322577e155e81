package population

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrEngine wraps failures reported by the engine.
	ErrEngine = errors.New("population engine")
	ErrClosed = errors.New("population closed")
)

// Handle identifies a population inside an engine. Its meaning is private
// to the engine.
type Handle uint64

type Info struct {
	Size       int `json:"size"`
	Inputs     int `json:"inputs"`
	Outputs    int `json:"outputs"`
	Generation int `json:"generation"`
}

// Engine owns agent internals. Callers only create, evaluate, evolve,
// persist and dispose populations through handles.
type Engine interface {
	CreateFromConfig(configPath string) (Handle, Info, error)
	LoadExisting(membersPath, configPath string) (Handle, Info, error)
	Evaluate(h Handle, index int, inputs, outputs []float64) error
	Evolve(h Handle, fitness []float64) error
	SaveTopN(path string, h Handle, fitness []float64, n int) error
	SaveAll(path string, h Handle) error
	Dispose(h Handle) error
}

// Population owns one engine handle. Close releases it and is safe to call
// more than once; every other method fails with ErrClosed afterwards.
type Population struct {
	mu      sync.Mutex
	engine  Engine
	handle  Handle
	info    Info
	evolves bool
	closed  bool
}

// Create builds a fresh population from an engine config. Fresh
// populations always evolve.
func Create(engine Engine, configPath string) (*Population, error) {
	if engine == nil {
		return nil, errors.New("nil population engine")
	}
	h, info, err := engine.CreateFromConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: create from %q: %w", ErrEngine, configPath, err)
	}
	return adopt(engine, h, info, true)
}

// Load restores saved members. Without a config the population can be
// driven but not evolved.
func Load(engine Engine, membersPath, configPath string) (*Population, error) {
	if engine == nil {
		return nil, errors.New("nil population engine")
	}
	h, info, err := engine.LoadExisting(membersPath, configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load %q: %w", ErrEngine, membersPath, err)
	}
	return adopt(engine, h, info, configPath != "")
}

func adopt(engine Engine, h Handle, info Info, evolves bool) (*Population, error) {
	if info.Size < 1 || info.Inputs < 1 || info.Outputs < 1 {
		derr := engine.Dispose(h)
		return nil, errors.Join(
			fmt.Errorf("%w: invalid population shape size=%d inputs=%d outputs=%d", ErrEngine, info.Size, info.Inputs, info.Outputs),
			derr,
		)
	}
	return &Population{engine: engine, handle: h, info: info, evolves: evolves}, nil
}

func (p *Population) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

func (p *Population) Size() int    { return p.Info().Size }
func (p *Population) Inputs() int  { return p.Info().Inputs }
func (p *Population) Outputs() int { return p.Info().Outputs }

// EvolveEnabled reports whether Evolve may be called.
func (p *Population) EvolveEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evolves
}

func (p *Population) Evaluate(index int, inputs, outputs []float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if index < 0 || index >= p.info.Size {
		return fmt.Errorf("member index %d out of range [0, %d)", index, p.info.Size)
	}
	if len(inputs) != p.info.Inputs || len(outputs) != p.info.Outputs {
		return fmt.Errorf("io shape mismatch: inputs=%d/%d outputs=%d/%d", len(inputs), p.info.Inputs, len(outputs), p.info.Outputs)
	}
	if err := p.engine.Evaluate(p.handle, index, inputs, outputs); err != nil {
		return fmt.Errorf("%w: evaluate member %d: %w", ErrEngine, index, err)
	}
	return nil
}

func (p *Population) Evolve(fitness []float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if !p.evolves {
		return errors.New("population was loaded without a config and cannot evolve")
	}
	if err := p.checkFitness(fitness); err != nil {
		return err
	}
	if err := p.engine.Evolve(p.handle, fitness); err != nil {
		return fmt.Errorf("%w: evolve: %w", ErrEngine, err)
	}
	return nil
}

func (p *Population) SaveTopN(path string, fitness []float64, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.checkFitness(fitness); err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("save top n requires n >= 1, got %d", n)
	}
	if err := p.engine.SaveTopN(path, p.handle, fitness, n); err != nil {
		return fmt.Errorf("%w: save top %d: %w", ErrEngine, n, err)
	}
	return nil
}

func (p *Population) SaveAll(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.engine.SaveAll(path, p.handle); err != nil {
		return fmt.Errorf("%w: save all: %w", ErrEngine, err)
	}
	return nil
}

func (p *Population) checkFitness(fitness []float64) error {
	if len(fitness) != p.info.Size {
		return fmt.Errorf("fitness length %d does not match population size %d", len(fitness), p.info.Size)
	}
	return nil
}

// Close disposes the engine handle once.
func (p *Population) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.engine.Dispose(p.handle); err != nil {
		return fmt.Errorf("%w: dispose: %w", ErrEngine, err)
	}
	return nil
}
