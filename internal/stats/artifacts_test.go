package stats

import (
	"os"
	"path/filepath"
	"testing"

	"carbrains/internal/model"
)

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "run-123"
	seed := int64(42)
	artifacts := RunArtifacts{
		Config: RunConfig{
			RunID:          runID,
			Seeds:          []*int64{&seed, nil},
			PopulationSize: 4,
			Inputs:         6,
			Outputs:        2,
			Evolves:        true,
		},
		Generations: []model.GenerationSummary{
			{Generation: 1, BestFitness: 0.5, MeanFitness: 0.2},
			{Generation: 2, BestFitness: 0.7, MeanFitness: 0.3, Finishers: 1},
		},
		TrackRecords: []model.TrackRecord{{Slot: 0, Seed: 42, LapTime: 9.5, Generation: 2}},
	}

	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	for _, file := range artifactFiles {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	history, ok, err := ReadFitnessHistory(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read history: ok=%v err=%v", ok, err)
	}
	if len(history) != 2 || history[1] != 0.7 {
		t.Fatalf("unexpected history: got=%v want=[0.5 0.7]", history)
	}

	cfg, ok, err := ReadRunConfig(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read config: ok=%v err=%v", ok, err)
	}
	if SeedList(cfg.Seeds) != "42,r" {
		t.Fatalf("unexpected seeds: got=%s want=42,r", SeedList(cfg.Seeds))
	}

	if err := os.WriteFile(filepath.Join(runDir, "events-"+runID+".jsonl.zst"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write event log: %v", err)
	}
	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range append(artifactFiles, "events-"+runID+".jsonl.zst") {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}

	records, ok, err := ReadTrackRecords(outDir, runID)
	if err != nil || !ok || len(records) != 1 || records[0].LapTime != 9.5 {
		t.Fatalf("unexpected exported records: %+v ok=%v err=%v", records, ok, err)
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("expected run id error")
	}
}

func TestReadMissingArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	if _, ok, err := ReadGenerations(baseDir, "nope"); ok || err != nil {
		t.Fatalf("expected missing generations; ok=%t err=%v", ok, err)
	}
	if _, ok, err := ReadFitnessHistory(baseDir, "nope"); ok || err != nil {
		t.Fatalf("expected missing history; ok=%t err=%v", ok, err)
	}
}

func TestRunIndexAppendListAndUpsert(t *testing.T) {
	baseDir := t.TempDir()

	err := AppendRunIndex(baseDir, RunIndexEntry{
		RunID:            "run-1",
		PopulationSize:   8,
		Generations:      3,
		FinalBestFitness: 0.80,
		CreatedAtUTC:     "2026-02-10T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-1: %v", err)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:            "run-2",
		PopulationSize:   8,
		Generations:      3,
		FinalBestFitness: 0.82,
		CreatedAtUTC:     "2026-02-10T11:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-2: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-2" || entries[1].RunID != "run-1" {
		t.Fatalf("unexpected order: %+v", entries)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:            "run-1",
		PopulationSize:   8,
		Generations:      5,
		FinalBestFitness: 0.90,
		CreatedAtUTC:     "2026-02-10T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("upsert run-1: %v", err)
	}

	entries, err = ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list after upsert: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after upsert, got %d", len(entries))
	}
	if entries[0].RunID != "run-1" || entries[0].FinalBestFitness != 0.90 {
		t.Fatalf("unexpected upsert result: %+v", entries[0])
	}
}

func TestRunIndexEqualTimestampPrefersLaterAppend(t *testing.T) {
	baseDir := t.TempDir()
	ts := "2026-02-10T12:00:00Z"

	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-a", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-a: %v", err)
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-b", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-b: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-b" {
		t.Fatalf("expected latest appended run-b first, got %+v", entries)
	}
}
