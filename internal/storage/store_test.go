package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"carbrains/internal/model"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	mem := NewMemoryStore()
	if err := mem.Init(ctx); err != nil {
		t.Fatalf("init memory: %v", err)
	}
	lite := NewSQLiteStore(filepath.Join(t.TempDir(), "carbrains.db"))
	if err := lite.Init(ctx); err != nil {
		t.Fatalf("init sqlite: %v", err)
	}
	t.Cleanup(func() { _ = lite.Close() })
	return map[string]Store{"memory": mem, "sqlite": lite}
}

func TestStoreRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	seed := int64(42)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			older := model.Run{VersionedRecord: Versioned(), ID: "run-a", CreatedAt: base, Seeds: []*int64{&seed, nil}, PopulationSize: 50, Status: "running"}
			newer := model.Run{VersionedRecord: Versioned(), ID: "run-b", CreatedAt: base.Add(time.Hour), Status: "stopped"}
			for _, run := range []model.Run{older, newer} {
				if err := store.SaveRun(ctx, run); err != nil {
					t.Fatalf("save run: %v", err)
				}
			}

			got, ok, err := store.GetRun(ctx, "run-a")
			if err != nil || !ok {
				t.Fatalf("get run: ok=%v err=%v", ok, err)
			}
			if len(got.Seeds) != 2 || got.Seeds[0] == nil || *got.Seeds[0] != 42 || got.Seeds[1] != nil {
				t.Fatalf("unexpected seeds: %+v", got.Seeds)
			}

			older.Status = "stopped"
			older.Generations = 4
			if err := store.SaveRun(ctx, older); err != nil {
				t.Fatalf("update run: %v", err)
			}
			runs, err := store.ListRuns(ctx)
			if err != nil {
				t.Fatalf("list runs: %v", err)
			}
			if len(runs) != 2 || runs[0].ID != "run-b" || runs[1].Generations != 4 {
				t.Fatalf("unexpected runs: %+v", runs)
			}

			if _, ok, err := store.GetRun(ctx, "missing"); ok || err != nil {
				t.Fatalf("unexpected missing run result: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestStorePerRunPayloads(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			generations := []model.GenerationSummary{
				{VersionedRecord: Versioned(), Generation: 1, BestFitness: 0.4, Tracks: []model.TrackSummary{{Index: 0, Seed: 42, Finishers: 2, FastestLap: 12.5}}},
				{VersionedRecord: Versioned(), Generation: 2, BestFitness: 0.9, EvolveSkipped: true},
			}
			if err := store.SaveGenerations(ctx, "run-1", generations); err != nil {
				t.Fatalf("save generations: %v", err)
			}
			gotGen, ok, err := store.GetGenerations(ctx, "run-1")
			if err != nil || !ok {
				t.Fatalf("get generations: ok=%v err=%v", ok, err)
			}
			if len(gotGen) != 2 || gotGen[0].Tracks[0].FastestLap != 12.5 || !gotGen[1].EvolveSkipped {
				t.Fatalf("unexpected generations: %+v", gotGen)
			}

			if err := store.SaveFitnessHistory(ctx, "run-1", []float64{0.4, 0.9}); err != nil {
				t.Fatalf("save history: %v", err)
			}
			history, ok, err := store.GetFitnessHistory(ctx, "run-1")
			if err != nil || !ok || len(history) != 2 || history[1] != 0.9 {
				t.Fatalf("unexpected history: %v ok=%v err=%v", history, ok, err)
			}

			records := []model.TrackRecord{{Slot: 0, Seed: 42, LapTime: 11.25, Generation: 2}}
			if err := store.SaveTrackRecords(ctx, "run-1", records); err != nil {
				t.Fatalf("save records: %v", err)
			}
			gotRecords, ok, err := store.GetTrackRecords(ctx, "run-1")
			if err != nil || !ok || len(gotRecords) != 1 || gotRecords[0].LapTime != 11.25 {
				t.Fatalf("unexpected records: %+v ok=%v err=%v", gotRecords, ok, err)
			}

			if _, ok, err := store.GetTrackRecords(ctx, "run-2"); ok || err != nil {
				t.Fatalf("unexpected missing records result: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	data, err := EncodeRun(model.Run{ID: "old", VersionedRecord: model.VersionedRecord{SchemaVersion: 0, CodecVersion: 1}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeRun(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
	data, err = EncodeGenerations([]model.GenerationSummary{{Generation: 1}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeGenerations(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestUninitializedStoresFail(t *testing.T) {
	ctx := context.Background()
	if err := NewMemoryStore().SaveRun(ctx, model.Run{ID: "x"}); err == nil {
		t.Fatal("expected memory store init error")
	}
	if _, err := NewSQLiteStore(filepath.Join(t.TempDir(), "x.db")).ListRuns(ctx); err == nil {
		t.Fatal("expected sqlite store init error")
	}
	if err := NewSQLiteStore("").Init(ctx); err == nil {
		t.Fatal("expected missing path error")
	}
}
