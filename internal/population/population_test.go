package population

import (
	"errors"
	"testing"
)

type fakeEngine struct {
	info       Info
	createErr  error
	disposed   []Handle
	evolved    int
	evaluated  int
	savedTopN  int
	savedAll   int
	nextHandle Handle
}

func (f *fakeEngine) CreateFromConfig(string) (Handle, Info, error) {
	if f.createErr != nil {
		return 0, Info{}, f.createErr
	}
	f.nextHandle++
	return f.nextHandle, f.info, nil
}

func (f *fakeEngine) LoadExisting(string, string) (Handle, Info, error) {
	return f.CreateFromConfig("")
}

func (f *fakeEngine) Evaluate(_ Handle, _ int, _, outputs []float64) error {
	f.evaluated++
	for i := range outputs {
		outputs[i] = 1
	}
	return nil
}

func (f *fakeEngine) Evolve(Handle, []float64) error { f.evolved++; return nil }

func (f *fakeEngine) SaveTopN(string, Handle, []float64, int) error { f.savedTopN++; return nil }

func (f *fakeEngine) SaveAll(string, Handle) error { f.savedAll++; return nil }

func (f *fakeEngine) Dispose(h Handle) error {
	f.disposed = append(f.disposed, h)
	return nil
}

func TestCreateAndCloseOnce(t *testing.T) {
	engine := &fakeEngine{info: Info{Size: 3, Inputs: 6, Outputs: 2}}
	p, err := Create(engine, "cfg.yaml")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !p.EvolveEnabled() || p.Size() != 3 {
		t.Fatalf("unexpected population: evolve=%v size=%d", p.EvolveEnabled(), p.Size())
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if len(engine.disposed) != 1 {
		t.Fatalf("unexpected dispose count: got=%d want=1", len(engine.disposed))
	}
	if err := p.Evaluate(0, make([]float64, 6), make([]float64, 2)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestCreateFailureWrapsEngineError(t *testing.T) {
	cause := errors.New("bad config")
	engine := &fakeEngine{createErr: cause}
	p, err := Create(engine, "cfg.yaml")
	if p != nil {
		t.Fatal("expected no population on failure")
	}
	if !errors.Is(err, ErrEngine) || !errors.Is(err, cause) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInvalidShapeDisposesHandle(t *testing.T) {
	engine := &fakeEngine{info: Info{Size: 0, Inputs: 6, Outputs: 2}}
	if _, err := Create(engine, "cfg.yaml"); !errors.Is(err, ErrEngine) {
		t.Fatalf("expected engine error, got %v", err)
	}
	if len(engine.disposed) != 1 {
		t.Fatalf("handle leaked: disposed=%v", engine.disposed)
	}
}

func TestLoadWithoutConfigCannotEvolve(t *testing.T) {
	engine := &fakeEngine{info: Info{Size: 2, Inputs: 1, Outputs: 1, Generation: 7}}
	p, err := Load(engine, "members.json", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer p.Close()
	if p.EvolveEnabled() || p.Info().Generation != 7 {
		t.Fatalf("unexpected loaded population: %+v evolve=%v", p.Info(), p.EvolveEnabled())
	}
	if err := p.Evolve([]float64{1, 2}); err == nil {
		t.Fatal("expected evolve to be refused")
	}
	if engine.evolved != 0 {
		t.Fatalf("engine evolve called %d times", engine.evolved)
	}
}

func TestShapeChecks(t *testing.T) {
	engine := &fakeEngine{info: Info{Size: 2, Inputs: 3, Outputs: 2}}
	p, err := Create(engine, "cfg.yaml")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer p.Close()

	if err := p.Evaluate(2, make([]float64, 3), make([]float64, 2)); err == nil {
		t.Fatal("expected index error")
	}
	if err := p.Evaluate(0, make([]float64, 2), make([]float64, 2)); err == nil {
		t.Fatal("expected input shape error")
	}
	out := make([]float64, 2)
	if err := p.Evaluate(1, make([]float64, 3), out); err != nil || out[0] != 1 {
		t.Fatalf("unexpected evaluate result: out=%v err=%v", out, err)
	}
	if err := p.Evolve([]float64{1}); err == nil {
		t.Fatal("expected fitness length error")
	}
	if err := p.SaveTopN("top.json", []float64{1, 2}, 0); err == nil {
		t.Fatal("expected n error")
	}
	if err := p.SaveTopN("top.json", []float64{1, 2}, 1); err != nil {
		t.Fatalf("save top n: %v", err)
	}
	if err := p.SaveAll("all.json"); err != nil {
		t.Fatalf("save all: %v", err)
	}
	if engine.savedTopN != 1 || engine.savedAll != 1 {
		t.Fatalf("unexpected save counts: top=%d all=%d", engine.savedTopN, engine.savedAll)
	}
}
