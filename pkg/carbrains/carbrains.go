// Package carbrains is the public entry point: it builds race tracks and
// runs training sessions from a YAML configuration.
package carbrains

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"carbrains/internal/brains"
	"carbrains/internal/config"
	"carbrains/internal/events"
	"carbrains/internal/folders"
	"carbrains/internal/model"
	"carbrains/internal/observer"
	"carbrains/internal/physics"
	"carbrains/internal/platform"
	"carbrains/internal/render"
	"carbrains/internal/stats"
	"carbrains/internal/storage"
	"carbrains/internal/track"
	"carbrains/internal/trainer"
)

// DefaultBrainsConfig is the engine config written to the configs folder
// when a run names neither a config nor saved members.
const DefaultBrainsConfig = "default.yaml"

type Options struct {
	// ConfigPath is a YAML file laid over the embedded defaults.
	ConfigPath string
	// Config, when set, is used as is and ConfigPath is ignored.
	Config *config.Config
	Logger *log.Logger
}

type Client struct {
	cfg    *config.Config
	layout folders.Layout
	store  storage.Store
	logger *log.Logger
}

func New(ctx context.Context, opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	layout := cfg.Layout()
	if _, err := layout.Ensure(folders.Runs); err != nil {
		return nil, err
	}
	store, err := storage.NewStore(cfg.Storage.Backend, cfg.StoragePath())
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, err
	}
	return &Client{cfg: cfg, layout: layout, store: store, logger: logger}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Config() *config.Config { return c.cfg }

func (c *Client) Layout() folders.Layout { return c.layout }

func (c *Client) runsDir() string { return c.layout.Path(folders.Runs) }

func (c *Client) newBuilder(rng *rand.Rand) (*track.Builder, *render.Rasterizer, error) {
	gen, err := track.NewGenerator(c.cfg.GeneratorConfig())
	if err != nil {
		return nil, nil, err
	}
	raster, err := render.NewRasterizer(c.cfg.RenderConfig())
	if err != nil {
		return nil, nil, err
	}
	b, err := track.NewBuilder(gen, raster, c.cfg.Extractor(), c.cfg.BuilderConfig(), rng)
	if err != nil {
		return nil, nil, err
	}
	return b, raster, nil
}

type TrackResult struct {
	Track         *track.Track
	Mask          *image.Gray
	Regenerations int
}

// BuildTrack runs the track pipeline for one seed slot. A nil seed draws
// random seeds until one yields a track.
func (c *Client) BuildTrack(ctx context.Context, seed *int64) (TrackResult, error) {
	b, raster, err := c.newBuilder(rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		return TrackResult{}, err
	}
	var res TrackResult
	tr, err := b.BuildSlot(ctx, seed, func(s int64, err error) {
		res.Regenerations++
		c.logger.Printf("seed %d rejected: %v", s, err)
	})
	if err != nil {
		return res, err
	}
	mask, err := raster.Rasterize(tr.Centerline)
	if err != nil {
		return res, err
	}
	res.Track = tr
	res.Mask = mask
	return res, nil
}

// ExportBrainsConfig writes the default engine config sized for the
// configured sensors. An empty path writes into the configs folder.
func (c *Client) ExportBrainsConfig(path string) (string, error) {
	if path == "" {
		dir, err := c.layout.Ensure(folders.Configs)
		if err != nil {
			return "", err
		}
		path = filepath.Join(dir, DefaultBrainsConfig)
	}
	tmpl := brains.DefaultConfigTemplate()
	tmpl.Network.InputCount = 1 + c.cfg.Physics.RayCount
	if err := brains.WriteConfig(path, tmpl); err != nil {
		return "", err
	}
	return path, nil
}

type TrainRequest struct {
	RunID string
	// Seeds overrides training.seeds when non-empty.
	Seeds        []*int64
	EngineConfig string
	Members      string
	Speedup      *trainer.Speedup
	// MaxGenerations overrides training.max_generations when > 0.
	MaxGenerations int
	// ObserverAddr overrides observer.addr when set.
	ObserverAddr string
	// Started, when set, is called with the trainer and the bound observer
	// address just before training begins.
	Started func(tr *trainer.Trainer, observerAddr string)
}

type TrainSummary struct {
	RunID            string
	Status           string
	ArtifactsDir     string
	EventLog         string
	ObserverAddr     string
	Generations      int
	BestByGeneration []float64
	FinalBestFitness float64
	Records          []model.TrackRecord
}

// Train creates a population and trains it until the generation limit,
// cancellation or failure. Cancelling ctx ends the run cleanly.
func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	cfg := c.cfg
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	tcfg := cfg.TrainerConfig()
	if len(req.Seeds) > 0 {
		tcfg.Seeds = req.Seeds
	}
	if req.Speedup != nil {
		tcfg.Speedup = *req.Speedup
	}
	if req.MaxGenerations > 0 {
		tcfg.MaxGenerations = req.MaxGenerations
	}
	engineConfig, members := req.EngineConfig, req.Members
	if engineConfig == "" && members == "" {
		engineConfig, members = cfg.Population.EngineConfig, cfg.Population.Members
	}
	if engineConfig == "" && members == "" {
		path, err := c.ExportBrainsConfig("")
		if err != nil {
			return TrainSummary{}, err
		}
		c.logger.Printf("no engine config given, using %s", path)
		engineConfig = path
	}

	world, err := physics.NewWorld(cfg.PhysicsConfig())
	if err != nil {
		return TrainSummary{}, err
	}
	builder, _, err := c.newBuilder(rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		return TrainSummary{}, err
	}

	runDir := filepath.Join(c.runsDir(), runID)
	eventLog, err := events.NewJSONLZstdSink(runDir, runID)
	if err != nil {
		return TrainSummary{}, err
	}
	bus := events.NewBus(c.logger, events.LogSink{Logger: prefixed(c.logger, "[events] ")}, eventLog)
	defer func() {
		if err := bus.Close(); err != nil {
			c.logger.Printf("close event sinks: %v", err)
		}
	}()

	var current atomic.Pointer[trainer.Trainer]
	observerAddr := cfg.Observer.Addr
	if req.ObserverAddr != "" {
		observerAddr = req.ObserverAddr
	}
	var boundAddr string
	if observerAddr != "" {
		obs := observer.NewServer(prefixed(c.logger, "[observer] "), cfg.Observer.Buffer, func() any {
			if tr := current.Load(); tr != nil {
				return tr.Status()
			}
			return nil
		})
		ln, err := net.Listen("tcp", observerAddr)
		if err != nil {
			return TrainSummary{}, fmt.Errorf("observer listen: %w", err)
		}
		boundAddr = ln.Addr().String()
		services := platform.NewSupervisor(platform.DefaultPolicy(), platform.Hooks{
			OnRestart: func(name string, err error, n int) {
				c.logger.Printf("%s restart %d after: %v", name, n, err)
			},
			OnGiveUp: func(name string, err error, n int) {
				c.logger.Printf("%s stopped after %d restarts: %v", name, n, err)
			},
		})
		defer services.StopAll()
		first := ln
		if err := services.Start("observer", platform.RestartOnFailure, func(ctx context.Context) error {
			l := first
			first = nil
			if l == nil {
				var err error
				if l, err = net.Listen("tcp", boundAddr); err != nil {
					return err
				}
			}
			return serveHTTP(ctx, l, obs.Mux())
		}); err != nil {
			_ = ln.Close()
			return TrainSummary{}, err
		}
		bus.Add(obs)
		c.logger.Printf("observer listening on %s", boundAddr)
	}

	evolves := engineConfig != ""
	rec := newRunRecorder(c.store, c.runsDir(), model.Run{
		ID:          runID,
		Seeds:       tcfg.Seeds,
		Evolves:     evolves,
		ConfigPath:  engineConfig,
		MembersPath: members,
	}, stats.RunConfig{
		RunID:        runID,
		Seeds:        tcfg.Seeds,
		Evolves:      evolves,
		EngineConfig: engineConfig,
		Members:      members,
		Settings:     cfg,
	})

	tr, err := trainer.New(tcfg, trainer.Deps{
		Engine:   brains.NewEngine(),
		Tracks:   builder,
		Sim:      world,
		Bus:      bus,
		Logger:   prefixed(c.logger, "[trainer] "),
		Folders:  c.layout,
		Recorder: rec,
		RunID:    runID,
	})
	if err != nil {
		return TrainSummary{}, err
	}
	current.Store(tr)
	defer func() {
		if err := tr.Close(); err != nil {
			c.logger.Printf("release population: %v", err)
		}
	}()
	if err := tr.CreatePopulation(engineConfig, members); err != nil {
		return TrainSummary{}, err
	}
	if info := tr.Status().Population; info != nil {
		rec.describe(*info)
	}
	if err := rec.start(ctx); err != nil {
		return TrainSummary{}, err
	}

	if req.Started != nil {
		req.Started(tr, boundAddr)
	}
	runErr := tr.Run(ctx)
	status := runStatusStopped
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if runErr != nil {
		status = runStatusFailed
	}
	finishCtx := context.WithoutCancel(ctx)
	if err := rec.finish(finishCtx, status); err != nil {
		c.logger.Printf("record run %s: %v", runID, err)
	}

	run, generations, records := rec.snapshot()
	summary := TrainSummary{
		RunID:            runID,
		Status:           status,
		ArtifactsDir:     runDir,
		EventLog:         eventLog.Path(),
		ObserverAddr:     boundAddr,
		Generations:      run.Generations,
		FinalBestFitness: run.BestFitness,
		Records:          records,
	}
	for _, g := range generations {
		summary.BestByGeneration = append(summary.BestByGeneration, g.BestFitness)
	}
	return summary, runErr
}

// Runs lists stored runs, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]model.Run, error) {
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", errors.New("run id or latest is required")
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("no runs recorded")
	}
	return runs[0].ID, nil
}

func (c *Client) Generations(ctx context.Context, runID string, latest bool) (string, []model.GenerationSummary, error) {
	id, err := c.resolveRunID(ctx, runID, latest)
	if err != nil {
		return "", nil, err
	}
	gens, ok, err := c.store.GetGenerations(ctx, id)
	if err != nil {
		return id, nil, err
	}
	if !ok {
		return id, nil, fmt.Errorf("no generations for run %s", id)
	}
	return id, gens, nil
}

func (c *Client) Records(ctx context.Context, runID string, latest bool) (string, []model.TrackRecord, error) {
	id, err := c.resolveRunID(ctx, runID, latest)
	if err != nil {
		return "", nil, err
	}
	recs, _, err := c.store.GetTrackRecords(ctx, id)
	return id, recs, err
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

// Export copies a run's artifacts and event log to OutDir.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	id, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = "exports"
	}
	dir, err := stats.ExportRunArtifacts(c.runsDir(), id, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: id, Directory: filepath.Clean(dir)}, nil
}

// serveHTTP serves h on ln until ctx is done.
func serveHTTP(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errc
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func prefixed(base *log.Logger, prefix string) *log.Logger {
	if base == nil {
		return log.New(io.Discard, prefix, 0)
	}
	return log.New(base.Writer(), prefix, base.Flags())
}

// FileSize reports the size of path, zero when it is missing.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
