package storage

import (
	"context"

	"carbrains/internal/model"
)

// Store defines persistence for training runs and their per-generation output.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, id string) (model.Run, bool, error)
	ListRuns(ctx context.Context) ([]model.Run, error)
	SaveGenerations(ctx context.Context, runID string, generations []model.GenerationSummary) error
	GetGenerations(ctx context.Context, runID string) ([]model.GenerationSummary, bool, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveTrackRecords(ctx context.Context, runID string, records []model.TrackRecord) error
	GetTrackRecords(ctx context.Context, runID string) ([]model.TrackRecord, bool, error)
}
