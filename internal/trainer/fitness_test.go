package trainer

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestLeniencyIsMonotonicAndClamped(t *testing.T) {
	prev := math.Inf(1)
	for finished := 0; finished <= 10; finished++ {
		l := Leniency(finished, 10, 0.75)
		if l > prev {
			t.Fatalf("leniency increased at finished=%d: got=%v prev=%v", finished, l, prev)
		}
		if l < 0 || l > 1 {
			t.Fatalf("leniency out of range at finished=%d: %v", finished, l)
		}
		prev = l
	}
	if got := Leniency(10, 10, 0.75); got != 0 {
		t.Fatalf("unexpected clamp: got=%v want=0", got)
	}
	if got := Leniency(0, 10, 0.75); got != 1 {
		t.Fatalf("unexpected leniency with no finishers: got=%v want=1", got)
	}
}

func TestEpisodeReachFinishAndIgnoreFarGates(t *testing.T) {
	var e Episode
	e.activate(0)
	if ok, _ := e.reach(150, 150, 0.1); ok {
		t.Fatal("expected start gate to be ignored at spawn")
	}
	if ok, _ := e.reach(10, 150, 1); !ok {
		t.Fatal("expected checkpoint 10 to be accepted")
	}
	if ok, _ := e.reach(86, 150, 2); ok {
		t.Fatal("expected checkpoint 86 to be rejected from 10")
	}
	if ok, _ := e.reach(84, 150, 3); !ok {
		t.Fatal("expected checkpoint 84 to be accepted from 10")
	}
	if e.LastAdvance != 3 || e.MaxCheckpoint != 84 {
		t.Fatalf("unexpected progress: last=%v max=%d", e.LastAdvance, e.MaxCheckpoint)
	}
	e.reach(150, 150, 4.5)
	if !e.Finished || e.FinishTime != 4.5 || e.Active {
		t.Fatalf("unexpected finish state: %+v", e)
	}
	if float64(e.Checkpoint)/150 != 1 {
		t.Fatalf("unexpected checkpoint fraction: %v", float64(e.Checkpoint)/150)
	}
	e.stall()
	if e.Stalled {
		t.Fatal("finished episode must not count as stalled")
	}
}

func TestEpisodeTimeoutUsesLeniency(t *testing.T) {
	var e Episode
	e.activate(0)
	if e.timedOut(5, 10, 1) {
		t.Fatal("unexpected timeout before base timeout")
	}
	if !e.timedOut(5, 10, 0.4) {
		t.Fatal("expected timeout once leniency shrinks the threshold")
	}
	e.stall()
	if !e.Stalled || e.timedOut(100, 10, 1) {
		t.Fatalf("unexpected stalled state: %+v", e)
	}
}

func TestScoreTrackStalledAtZero(t *testing.T) {
	cfg := DefaultConfig()
	acc := newAccumulator(1)
	added := cfg.scoreTrack(acc, []Episode{{Stalled: true}}, 10)
	if added[0] != 0 || acc.fitness[0] != 0 {
		t.Fatalf("unexpected fitness: got=%v want=0", added[0])
	}
}

func TestScoreTrackSpeedRankPerTrack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BonusPlacement = BonusPerTrack
	cfg.SquareAfterTrack = false
	acc := newAccumulator(3)
	eps := []Episode{
		{Checkpoint: 4, Finished: true, FinishTime: 10},
		{Checkpoint: 4, Finished: true, FinishTime: 15},
		{Checkpoint: 4, Finished: true, FinishTime: 20},
	}
	added := cfg.scoreTrack(acc, eps, 4)
	want := []float64{1.7, 1.2 + 0.5*0.25, 1.2}
	for i := range want {
		if math.Abs(added[i]-want[i]) > 1e-12 {
			t.Fatalf("unexpected track fitness[%d]: got=%v want=%v", i, added[i], want[i])
		}
	}
}

func TestScoreTrackNeedsSpreadForRank(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BonusPlacement = BonusPerTrack
	cfg.SquareAfterTrack = false
	acc := newAccumulator(2)
	added := cfg.scoreTrack(acc, []Episode{
		{Checkpoint: 4, Finished: true, FinishTime: 10},
		{Checkpoint: 4, Finished: true, FinishTime: 10},
	}, 4)
	if math.Abs(added[0]-1.2) > 1e-12 || math.Abs(added[1]-1.2) > 1e-12 {
		t.Fatalf("unexpected fitness without spread: %v", added)
	}
}

func TestCloseSetGatesBonusOnTracksFinished(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SquareAfterSet = false
	acc := newAccumulator(2)
	acc.fitness = []float64{1, 1}
	acc.speedBonus = []float64{0.5, 0.5}
	acc.tracksFinished = []int{2, 1}
	got := cfg.closeSet(acc, 4)
	if got[0] != 1.5 || got[1] != 1 {
		t.Fatalf("unexpected set fitness: got=%v want=[1.5 1]", got)
	}
	cfg.SquareAfterSet = true
	got = cfg.closeSet(acc, 4)
	if got[0] != 2.25 {
		t.Fatalf("unexpected squared set fitness: got=%v want=2.25", got[0])
	}
	acc.reset()
	if !allZero(acc.fitness) || acc.tracksFinished[0] != 0 {
		t.Fatal("expected accumulator reset")
	}
}

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	return nil
}

func TestPacerCarriesFractionalTime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickSeconds = 0.02
	cfg.FrameInterval = 10 * time.Millisecond
	p := newPacer(&manualClock{now: time.Unix(0, 0)}, cfg)

	var got []int
	total := 0
	for i := 0; i < 10; i++ {
		n, err := p.next(context.Background(), Factor(1))
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, n)
		total += n
	}
	if total != 5 {
		t.Fatalf("unexpected tick total: got=%d want=5 (%v)", total, got)
	}
	for _, n := range got {
		if n > 1 {
			t.Fatalf("unexpected burst at 1x: %v", got)
		}
	}

	n, err := p.next(context.Background(), Factor(4))
	if err != nil || n != 2 {
		t.Fatalf("unexpected ticks at 4x: got=%d err=%v want=2", n, err)
	}
}

func TestPacerUncappedRunsBatches(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UncappedBatch = 64
	p := newPacer(&manualClock{}, cfg)
	n, err := p.next(context.Background(), Uncapped())
	if err != nil || n != 64 {
		t.Fatalf("unexpected uncapped batch: got=%d err=%v", n, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.next(ctx, Uncapped()); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestSpeedupValidation(t *testing.T) {
	for _, s := range []Speedup{Factor(0), Factor(-1), Factor(math.Inf(1))} {
		if err := s.Validate(); err == nil {
			t.Fatalf("expected invalid speedup %v", s)
		}
	}
	if Uncapped().String() != "uncapped" || Factor(2.5).String() != "2.5x" {
		t.Fatalf("unexpected speedup strings: %s %s", Uncapped(), Factor(2.5))
	}
	if s, err := ParseSpeedup("uncapped"); err != nil || !s.Uncapped {
		t.Fatalf("unexpected parse of uncapped: %v %v", s, err)
	}
	if s, err := ParseSpeedup("4x"); err != nil || s != Factor(4) {
		t.Fatalf("unexpected parse of 4x: %v %v", s, err)
	}
	for _, v := range []string{"0", "-2", "fast"} {
		if _, err := ParseSpeedup(v); err == nil {
			t.Fatalf("expected parse error for %q", v)
		}
	}
}
