package carbrains

import (
	"context"
	"errors"
	"sync"
	"time"

	"carbrains/internal/model"
	"carbrains/internal/population"
	"carbrains/internal/stats"
	"carbrains/internal/storage"
)

const (
	runStatusRunning = "running"
	runStatusStopped = "stopped"
	runStatusFailed  = "failed"
)

// runRecorder persists every completed set to the store and the run's
// artifact directory.
type runRecorder struct {
	store   storage.Store
	runsDir string
	now     func() time.Time

	mu          sync.Mutex
	run         model.Run
	config      stats.RunConfig
	generations []model.GenerationSummary
	records     []model.TrackRecord
}

func newRunRecorder(store storage.Store, runsDir string, run model.Run, cfg stats.RunConfig) *runRecorder {
	return &runRecorder{store: store, runsDir: runsDir, now: time.Now, run: run, config: cfg}
}

// describe fills in the population shape once it is known.
func (r *runRecorder) describe(info population.Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run.PopulationSize, r.run.Inputs, r.run.Outputs = info.Size, info.Inputs, info.Outputs
	r.config.PopulationSize, r.config.Inputs, r.config.Outputs = info.Size, info.Inputs, info.Outputs
}

func (r *runRecorder) start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run.VersionedRecord = storage.Versioned()
	r.run.Status = runStatusRunning
	if r.run.CreatedAt.IsZero() {
		r.run.CreatedAt = r.now().UTC()
	}
	r.run.UpdatedAt = r.run.CreatedAt
	return errors.Join(r.store.SaveRun(ctx, r.run), r.writeArtifacts())
}

func (r *runRecorder) RecordGeneration(ctx context.Context, summary model.GenerationSummary, records []model.TrackRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary.VersionedRecord = storage.Versioned()
	r.generations = append(r.generations, summary)
	r.records = append([]model.TrackRecord(nil), records...)
	if len(r.generations) == 1 || summary.BestFitness > r.run.BestFitness {
		r.run.BestFitness = summary.BestFitness
	}
	r.run.Generations = len(r.generations)
	r.run.UpdatedAt = r.now().UTC()
	return r.persist(ctx)
}

func (r *runRecorder) finish(ctx context.Context, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run.Status = status
	r.run.UpdatedAt = r.now().UTC()
	return errors.Join(r.store.SaveRun(ctx, r.run), r.writeArtifacts())
}

func (r *runRecorder) persist(ctx context.Context) error {
	best := make([]float64, len(r.generations))
	for i, g := range r.generations {
		best[i] = g.BestFitness
	}
	return errors.Join(
		r.store.SaveGenerations(ctx, r.run.ID, r.generations),
		r.store.SaveFitnessHistory(ctx, r.run.ID, best),
		r.store.SaveTrackRecords(ctx, r.run.ID, r.records),
		r.store.SaveRun(ctx, r.run),
		r.writeArtifacts(),
	)
}

func (r *runRecorder) writeArtifacts() error {
	if _, err := stats.WriteRunArtifacts(r.runsDir, stats.RunArtifacts{
		Config:       r.config,
		Generations:  r.generations,
		TrackRecords: r.records,
	}); err != nil {
		return err
	}
	return stats.AppendRunIndex(r.runsDir, stats.RunIndexEntry{
		RunID:            r.run.ID,
		Seeds:            r.run.Seeds,
		PopulationSize:   r.run.PopulationSize,
		Generations:      r.run.Generations,
		Evolves:          r.run.Evolves,
		FinalBestFitness: r.run.BestFitness,
		CreatedAtUTC:     r.run.CreatedAt.Format(time.RFC3339Nano),
	})
}

func (r *runRecorder) snapshot() (model.Run, []model.GenerationSummary, []model.TrackRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run, append([]model.GenerationSummary(nil), r.generations...), append([]model.TrackRecord(nil), r.records...)
}
