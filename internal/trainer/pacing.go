package trainer

import (
	"context"
	"math"
	"time"
)

// Clock abstracts wall-clock time for pacing and display pauses.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// tickEpsilon absorbs rounding when the accumulated time is a whole number
// of ticks.
const tickEpsilon = 1e-9

// pacer converts wall-clock frames into whole simulation ticks. Fractional
// time carries over to the next frame and never yields a partial tick.
type pacer struct {
	clock    Clock
	dt       float64
	frame    time.Duration
	batch    int
	last     time.Time
	leftover float64
	paced    bool
}

func newPacer(clock Clock, cfg Config) *pacer {
	return &pacer{clock: clock, dt: cfg.TickSeconds, frame: cfg.FrameInterval, batch: cfg.UncappedBatch}
}

// reset drops carried time, used when a new track starts.
func (p *pacer) reset() {
	p.leftover = 0
	p.paced = false
}

// next yields once and returns how many ticks to run before yielding again.
func (p *pacer) next(ctx context.Context, speed Speedup) (int, error) {
	if speed.Uncapped {
		p.paced = false
		p.leftover = 0
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return p.batch, nil
	}
	if !p.paced {
		p.paced = true
		p.last = p.clock.Now()
	}
	if err := p.clock.Sleep(ctx, p.frame); err != nil {
		return 0, err
	}
	now := p.clock.Now()
	elapsed := now.Sub(p.last).Seconds()
	p.last = now
	if elapsed < 0 {
		elapsed = 0
	}
	p.leftover += elapsed * speed.Factor
	n := int(math.Floor(p.leftover/p.dt + tickEpsilon))
	if n < 0 {
		n = 0
	}
	p.leftover -= float64(n) * p.dt
	if p.leftover < 0 {
		p.leftover = 0
	}
	return n, nil
}
