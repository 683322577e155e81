package trainer

import (
	"context"
	"fmt"
	"time"

	"carbrains/internal/events"
	"carbrains/internal/folders"
	"carbrains/internal/model"
	"carbrains/internal/physics"
	"carbrains/internal/population"
)

// run holds the state owned by one Run call.
type run struct {
	t        *Trainer
	pop      *population.Population
	seeds    []*int64
	size     int
	acc      *accumulator
	episodes []Episode
	inputs   []float64
	outputs  []float64
	pacer    *pacer
	sets     int
}

func (r *run) loop(ctx context.Context) error {
	for {
		tracks := make([]model.TrackSummary, 0, len(r.seeds))
		for idx := range r.seeds {
			r.t.setState(StateRunningTrack)
			summary, err := r.runTrack(ctx, idx)
			if err != nil {
				return err
			}
			tracks = append(tracks, summary)
			if idx < len(r.seeds)-1 {
				r.t.setState(StateRoundBoundary)
			}
		}
		r.t.setState(StateSetBoundary)
		done, err := r.endSet(ctx, tracks)
		if err != nil || done {
			return err
		}
	}
}

// runTrack plays one seed slot to completion and adds its fitness
// contribution. A slot whose track cannot be built contributes nothing.
func (r *run) runTrack(ctx context.Context, idx int) (model.TrackSummary, error) {
	t := r.t
	// a skip left pending when the track ends belongs to this track
	defer t.clearSkip()
	slot := r.seeds[idx]
	gen := t.Generation()
	summary := model.TrackSummary{Index: idx, Random: slot == nil}
	if slot != nil {
		summary.Seed = *slot
	}

	tr, err := t.deps.Tracks.BuildSlot(ctx, slot, func(seed int64, err error) {
		summary.Regenerations++
		s := seed
		t.publish(events.Event{Kind: events.KindContourFailed, Generation: gen, TrackIndex: idx, Seed: &s, Message: err.Error()})
	})
	if err != nil {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		t.deps.Logger.Printf("skip track %d: %v", idx, err)
		return summary, nil
	}
	summary.Seed = tr.Seed
	seed := tr.Seed
	checkpoints := len(tr.Checkpoints)
	t.publish(events.Event{
		Kind: events.KindTrackGenerated, Generation: gen, TrackIndex: idx, Seed: &seed,
		Values: map[string]float64{"checkpoints": float64(checkpoints), "random": boolValue(tr.Random)},
	})

	t.deps.Sim.LoadTrack(tr)
	for !t.deps.Sim.PollSettled() {
		if err := t.deps.Clock.Sleep(ctx, t.cfg.FrameInterval); err != nil {
			return summary, err
		}
	}
	t.publish(events.Event{Kind: events.KindBoundariesSettled, Generation: gen, TrackIndex: idx, Seed: &seed})

	var record float64
	t.mu.Lock()
	if rec := t.records[idx]; rec != nil {
		record = rec.LapTime
	}
	t.status.TrackIndex = idx
	t.status.Seed = &seed
	t.status.LapTime = 0
	t.status.FastestLap = 0
	t.status.TrackRecord = record
	t.status.Leniency = 1
	t.status.Active = r.size
	t.status.Finished = 0
	t.mu.Unlock()

	for i := range r.episodes {
		r.episodes[i].reset()
		t.deps.Sim.Respawn(i)
	}
	for i := range r.episodes {
		t.deps.Sim.Activate(i)
		r.episodes[i].activate(0)
	}

	ep := &episodeRun{active: r.size, checkpoints: checkpoints}
	r.pacer.reset()
	runErr := r.drive(ctx, ep)

	for i := range r.episodes {
		if r.episodes[i].Active {
			t.deps.Sim.Stall(i)
			r.episodes[i].stall()
		}
	}
	if runErr != nil {
		return summary, runErr
	}

	added := t.cfg.scoreTrack(r.acc, r.episodes, checkpoints)
	progress := 0.0
	for _, e := range r.episodes {
		progress += float64(e.Checkpoint) / float64(checkpoints)
		if e.Finished {
			summary.Finishers++
			if summary.FastestLap == 0 || e.FinishTime < summary.FastestLap {
				summary.FastestLap = e.FinishTime
			}
		}
	}
	summary.MeanProgress = progress / float64(r.size)
	summary.Ticks = ep.ticks

	if slot != nil && summary.Finishers > 0 {
		t.mu.Lock()
		if rec := t.records[idx]; rec == nil || summary.FastestLap < rec.LapTime {
			t.records[idx] = &model.TrackRecord{Slot: idx, Seed: tr.Seed, LapTime: summary.FastestLap, Generation: gen}
			t.status.TrackRecord = summary.FastestLap
		}
		t.mu.Unlock()
	}

	if err := t.deps.Clock.Sleep(ctx, t.cfg.DisplayPause); err != nil {
		return summary, err
	}
	t.publish(events.Event{
		Kind: events.KindTrackSwitched, Generation: gen, TrackIndex: idx, Seed: &seed, Fitness: added,
		Values: map[string]float64{
			"finishers":     float64(summary.Finishers),
			"fastest_lap":   summary.FastestLap,
			"mean_progress": summary.MeanProgress,
			"ticks":         float64(summary.Ticks),
		},
	})
	return summary, nil
}

// episodeRun tracks one track's tick loop.
type episodeRun struct {
	now         float64
	ticks       int
	active      int
	finished    int
	checkpoints int
}

func (r *run) drive(ctx context.Context, ep *episodeRun) error {
	t := r.t
	for ep.active > 0 {
		n, err := r.pacer.next(ctx, t.currentSpeedup())
		if err != nil {
			return err
		}
		for k := 0; k < n && ep.active > 0; k++ {
			skip := t.consumeSkip()
			if err := r.tick(ep); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if skip {
				return nil
			}
			if t.cfg.MaxTrackSeconds > 0 && ep.now >= t.cfg.MaxTrackSeconds {
				return nil
			}
		}
	}
	return nil
}

// tick evaluates every active agent, steps physics once, then advances the
// clock, leniency and stall timeouts.
func (r *run) tick(ep *episodeRun) error {
	t := r.t
	sim := t.deps.Sim
	for i := range r.episodes {
		if !r.episodes[i].Active {
			continue
		}
		sim.Sense(i, r.inputs)
		if err := r.pop.Evaluate(i, r.inputs, r.outputs); err != nil {
			return fmt.Errorf("evaluate agent %d: %w", i, err)
		}
		sim.Drive(i, r.outputs)
	}
	contacts := sim.Step(t.cfg.TickSeconds)
	ep.ticks++
	ep.now = float64(ep.ticks) * t.cfg.TickSeconds

	for _, c := range contacts {
		if c.Car < 0 || c.Car >= len(r.episodes) {
			continue
		}
		e := &r.episodes[c.Car]
		if !e.Active {
			continue
		}
		switch c.Kind {
		case physics.ContactWall:
			sim.Stall(c.Car)
			e.stall()
			ep.active--
		case physics.ContactCheckpoint:
			if _, finished := e.reach(c.Checkpoint, ep.checkpoints, ep.now); finished {
				sim.Stall(c.Car)
				ep.active--
				ep.finished++
			}
		}
	}

	leniency := Leniency(ep.finished, r.size, t.cfg.LeniencyK)
	for i := range r.episodes {
		e := &r.episodes[i]
		if e.timedOut(ep.now, t.cfg.BaseTimeout, leniency) {
			sim.Stall(i)
			e.stall()
			ep.active--
		}
	}

	fastest := 0.0
	for _, e := range r.episodes {
		if e.Finished && (fastest == 0 || e.FinishTime < fastest) {
			fastest = e.FinishTime
		}
	}
	t.mu.Lock()
	t.status.LapTime = ep.now
	t.status.FastestLap = fastest
	t.status.Leniency = leniency
	t.status.Active = ep.active
	t.status.Finished = ep.finished
	t.mu.Unlock()
	return nil
}

// endSet shapes set fitness, saves requested snapshots, evolves and records
// the generation. It reports whether the generation limit was reached.
func (r *run) endSet(ctx context.Context, tracks []model.TrackSummary) (bool, error) {
	t := r.t
	fitness := t.cfg.closeSet(r.acc, len(r.seeds))
	at := t.deps.Clock.Now()

	t.mu.Lock()
	topN := t.cfg.SaveTopN
	if t.pendingTopN > 0 {
		topN = t.pendingTopN
	}
	saveAll := t.cfg.SaveAll || t.pendingAll
	t.pendingTopN = 0
	t.pendingAll = false
	gen := t.generation
	t.mu.Unlock()

	if topN > 0 {
		if topN > r.size {
			topN = r.size
		}
		r.snapshot(folders.SnapshotBest, at, gen, func(path string) error {
			return r.pop.SaveTopN(path, fitness, topN)
		})
	}
	if saveAll {
		r.snapshot(folders.SnapshotAll, at, gen, r.pop.SaveAll)
	}

	best, mean := bestAndMean(fitness)
	summary := model.GenerationSummary{Generation: gen, BestFitness: best, MeanFitness: mean, Tracks: tracks}
	for _, tr := range tracks {
		summary.Finishers += tr.Finishers
	}

	if r.pop.EvolveEnabled() {
		if allZero(fitness) {
			summary.EvolveSkipped = true
			t.deps.Logger.Printf("generation %d: all fitness zero, evolve skipped", gen)
			t.publish(events.Event{Kind: events.KindEvolveSkipped, Generation: gen, Fitness: fitness})
		} else {
			if err := r.pop.Evolve(fitness); err != nil {
				return false, fmt.Errorf("evolve generation %d: %w", gen, err)
			}
			t.mu.Lock()
			t.generation++
			next := t.generation
			t.mu.Unlock()
			t.publish(events.Event{
				Kind: events.KindGenerationAdvanced, Generation: next, Fitness: fitness,
				Values: map[string]float64{"best": best, "mean": mean},
			})
		}
	}

	if t.deps.Recorder != nil {
		t.mu.Lock()
		records := t.recordList()
		t.mu.Unlock()
		if err := t.deps.Recorder.RecordGeneration(ctx, summary, records); err != nil {
			t.deps.Logger.Printf("record generation %d: %v", gen, err)
		}
	}

	r.acc.reset()
	r.sets++
	t.publish(events.Event{Kind: events.KindRoundSwitched, Generation: t.Generation(), Values: map[string]float64{"sets": float64(r.sets)}})
	return t.cfg.MaxGenerations > 0 && r.sets >= t.cfg.MaxGenerations, nil
}

func (r *run) snapshot(kind folders.SnapshotKind, at time.Time, gen int, save func(path string) error) {
	t := r.t
	path, err := t.deps.Folders.SnapshotPath(kind, at, r.seeds)
	if err == nil {
		err = save(path)
	}
	if err != nil {
		t.deps.Logger.Printf("save %s snapshot: %v", kind, err)
		return
	}
	t.publish(events.Event{Kind: events.KindSnapshotSaved, Generation: gen, Message: path})
}
