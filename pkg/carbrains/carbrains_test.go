package carbrains

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"carbrains/internal/brains"
	"carbrains/internal/config"
	"carbrains/internal/events"
	"carbrains/internal/folders"
	"carbrains/internal/stats"
	"carbrains/internal/trainer"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.Folders.Root = t.TempDir()
	cfg.Storage.Backend = "memory"
	cfg.Track.MooreDegree = 0
	cfg.Track.SkipPoints = false
	cfg.Track.MakeSpline = false
	cfg.Track.MaxAttempts = 2
	cfg.Render.Resolution = 128
	cfg.Checkpoints.Count = 16
	cfg.Training.BaseTimeout = 0.2
	cfg.Training.MaxTrackSeconds = 2
	cfg.Training.DisplayPauseMS = 0
	cfg.Training.Speedup = config.Speedup(trainer.Uncapped())
	return cfg
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(context.Background(), Options{Config: testConfig(t)})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeSmallEngineConfig(t *testing.T, c *Client) string {
	t.Helper()
	tmpl := brains.DefaultConfigTemplate()
	tmpl.PopulationSize = 6
	tmpl.Network.InputCount = 1 + c.Config().Physics.RayCount
	path := filepath.Join(t.TempDir(), "small.yaml")
	if err := brains.WriteConfig(path, tmpl); err != nil {
		t.Fatalf("write engine config: %v", err)
	}
	return path
}

func TestExportBrainsConfigMatchesSensors(t *testing.T) {
	c := newTestClient(t)
	path, err := c.ExportBrainsConfig("")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if filepath.Base(path) != DefaultBrainsConfig {
		t.Fatalf("unexpected export path: %s", path)
	}
	tmpl, err := brains.LoadConfig(path)
	if err != nil {
		t.Fatalf("load exported: %v", err)
	}
	if got, want := tmpl.Network.InputCount, 1+c.Config().Physics.RayCount; got != want {
		t.Fatalf("unexpected input count: got=%d want=%d", got, want)
	}
}

func TestTrainOneGenerationWritesArtifacts(t *testing.T) {
	c := newTestClient(t)
	engine := writeSmallEngineConfig(t, c)

	summary, err := c.Train(context.Background(), TrainRequest{
		RunID:          "run-a",
		Seeds:          []*int64{nil},
		EngineConfig:   engine,
		MaxGenerations: 1,
	})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if summary.Status != runStatusStopped || summary.Generations != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.BestByGeneration) != 1 {
		t.Fatalf("unexpected fitness history: %v", summary.BestByGeneration)
	}

	cfg, ok, err := stats.ReadRunConfig(c.runsDir(), "run-a")
	if err != nil || !ok {
		t.Fatalf("read run config: ok=%t err=%v", ok, err)
	}
	if cfg.PopulationSize != 6 || !cfg.Evolves {
		t.Fatalf("unexpected run config: %+v", cfg)
	}
	index, err := stats.ListRunIndex(c.runsDir())
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(index) != 1 || index[0].RunID != "run-a" || index[0].Generations != 1 {
		t.Fatalf("unexpected run index: %+v", index)
	}

	logged, err := events.ReadLog(summary.EventLog)
	if err != nil {
		t.Fatalf("read event log: %v", err)
	}
	if len(logged) < 2 || logged[0].Kind != events.KindPopulationCreated {
		t.Fatalf("unexpected event log head: %+v", logged)
	}
	if logged[len(logged)-1].Kind != events.KindTrainingStopped {
		t.Fatalf("unexpected final event: %s", logged[len(logged)-1].Kind)
	}

	runs, err := c.Runs(context.Background(), 0)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != runStatusStopped || runs[0].PopulationSize != 6 {
		t.Fatalf("unexpected stored runs: %+v", runs)
	}
	id, gens, err := c.Generations(context.Background(), "", true)
	if err != nil {
		t.Fatalf("generations: %v", err)
	}
	if id != "run-a" || len(gens) != 1 {
		t.Fatalf("unexpected generations: id=%s n=%d", id, len(gens))
	}

	out := t.TempDir()
	exported, err := c.Export(context.Background(), ExportRequest{Latest: true, OutDir: out})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, name := range []string{"config.json", "generations.json", "fitness_history.csv", "track_records.json", filepath.Base(summary.EventLog)} {
		if _, err := os.Stat(filepath.Join(exported.Directory, name)); err != nil {
			t.Fatalf("missing exported %s: %v", name, err)
		}
	}
}

func TestTrainWithoutEngineConfigExportsDefault(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	summary, err := c.Train(ctx, TrainRequest{
		RunID:   "run-b",
		Started: func(*trainer.Trainer, string) { cancel() },
	})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if summary.Status != runStatusStopped {
		t.Fatalf("unexpected status: %s", summary.Status)
	}
	if _, err := os.Stat(filepath.Join(c.Layout().Path(folders.Configs), DefaultBrainsConfig)); err != nil {
		t.Fatalf("default engine config not written: %v", err)
	}
}

func TestResolveRunIDRequiresOneSelector(t *testing.T) {
	c := newTestClient(t)
	if _, _, err := c.Generations(context.Background(), "", false); err == nil {
		t.Fatal("expected error without run id or latest")
	}
	if _, _, err := c.Generations(context.Background(), "x", true); err == nil {
		t.Fatal("expected error with both run id and latest")
	}
	if _, _, err := c.Generations(context.Background(), "", true); err == nil {
		t.Fatal("expected error with no runs")
	}
}

func TestTrainServesObserverStatus(t *testing.T) {
	c := newTestClient(t)
	engine := writeSmallEngineConfig(t, c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var status struct {
		RunID      string `json:"run_id"`
		State      string `json:"state"`
		Population *struct {
			Size int `json:"size"`
		} `json:"population"`
	}
	summary, err := c.Train(ctx, TrainRequest{
		RunID:        "run-obs",
		EngineConfig: engine,
		ObserverAddr: "127.0.0.1:0",
		Started: func(_ *trainer.Trainer, addr string) {
			defer cancel()
			resp, err := http.Get("http://" + addr + "/status")
			if err != nil {
				t.Errorf("get status: %v", err)
				return
			}
			defer resp.Body.Close()
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				t.Errorf("decode status: %v", err)
			}
		},
	})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if summary.ObserverAddr == "" {
		t.Fatal("expected a bound observer address")
	}
	if status.RunID != "run-obs" || status.State != trainer.StateReady.String() || status.Population == nil || status.Population.Size != 6 {
		t.Fatalf("unexpected served status: %+v", status)
	}
}
