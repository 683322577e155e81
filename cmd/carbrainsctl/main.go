package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"carbrains/internal/trainer"
	api "carbrains/pkg/carbrains"
)

const exportsDir = "exports"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "track":
		return runTrack(ctx, args[1:])
	case "export-config":
		return runExportConfig(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "generations":
		return runGenerations(ctx, args[1:])
	case "records":
		return runRecords(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type commonFlags struct {
	config  *string
	verbose *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config:  fs.String("config", "", "YAML config laid over the built-in defaults"),
		verbose: fs.Bool("v", false, "log progress to stderr"),
	}
}

func (f commonFlags) open(ctx context.Context) (*api.Client, error) {
	logger := log.New(io.Discard, "", 0)
	if *f.verbose {
		logger = log.New(os.Stderr, "[carbrains] ", log.LstdFlags|log.Lmicroseconds)
	}
	return api.New(ctx, api.Options{ConfigPath: *f.config, Logger: logger})
}

func runTrack(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("track", flag.ContinueOnError)
	common := addCommonFlags(fs)
	seedFlag := fs.String("seed", "", "track seed; empty draws a random one")
	maskOut := fs.String("mask", "", "write the rasterized road mask (.png, .bmp or .tiff)")
	jsonOut := fs.Bool("json", false, "emit the track as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	seed, err := parseSeed(*seedFlag)
	if err != nil {
		return err
	}

	client, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.BuildTrack(ctx, seed)
	if err != nil {
		return err
	}
	if *maskOut != "" {
		if err := writeMask(*maskOut, res.Mask); err != nil {
			return err
		}
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Track)
	}

	tr := res.Track
	fmt.Printf("seed=%d random=%t outer=%d inner=%d checkpoints=%d regenerations=%d\n",
		tr.Seed, tr.Random, len(tr.Outer), len(tr.Inner), len(tr.Checkpoints), res.Regenerations)
	if *maskOut != "" {
		fmt.Printf("mask=%s size=%s\n", *maskOut, humanize.Bytes(uint64(api.FileSize(*maskOut))))
	}
	return nil
}

func writeMask(path string, img image.Image) error {
	if img == nil {
		return errors.New("no mask to write")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(f, img)
	case ".bmp":
		err = bmp.Encode(f, img)
	case ".tif", ".tiff":
		err = tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("unsupported mask format: %s", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return f.Sync()
}

func runExportConfig(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export-config", flag.ContinueOnError)
	common := addCommonFlags(fs)
	out := fs.String("out", "", "output path; defaults to the configs folder")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	path, err := client.ExportBrainsConfig(*out)
	if err != nil {
		return err
	}
	fmt.Printf("engine config written to %s\n", path)
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id; generated when empty")
	seeds := fs.String("seeds", "", "comma-separated seeds, \"random\" for a random slot")
	engineConfig := fs.String("engine-config", "", "population engine config file")
	members := fs.String("members", "", "saved population members to load")
	speedup := fs.String("speedup", "", "simulation speedup factor or \"uncapped\"")
	gens := fs.Int("gens", 0, "stop after this many generations; 0 runs until interrupted")
	observerAddr := fs.String("observer", "", "serve live events and status on this address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *gens < 0 {
		return errors.New("gens must be >= 0")
	}

	req := api.TrainRequest{
		RunID:          *runID,
		EngineConfig:   *engineConfig,
		Members:        *members,
		MaxGenerations: *gens,
		ObserverAddr:   *observerAddr,
	}
	if *seeds != "" {
		list, err := parseSeedList(*seeds)
		if err != nil {
			return err
		}
		req.Seeds = list
	}
	if *speedup != "" {
		s, err := trainer.ParseSpeedup(*speedup)
		if err != nil {
			return err
		}
		req.Speedup = &s
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	started := time.Now()
	summary, err := client.Train(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("run_id=%s status=%s generations=%d best=%.4f elapsed=%s\n",
		summary.RunID, summary.Status, summary.Generations, summary.FinalBestFitness, time.Since(started).Round(time.Millisecond))
	fmt.Printf("artifacts=%s\n", summary.ArtifactsDir)
	fmt.Printf("events=%s size=%s\n", summary.EventLog, humanize.Bytes(uint64(api.FileSize(summary.EventLog))))
	for _, r := range summary.Records {
		fmt.Printf("record slot=%d seed=%d lap=%.2fs generation=%d\n", r.Slot, r.Seed, r.LapTime, r.Generation)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := addCommonFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	runs, err := client.Runs(ctx, *limit)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("run_id=%s status=%s created=%s seeds=%s population=%s generations=%d best=%.4f\n",
			r.ID, r.Status, humanize.Time(r.CreatedAt), formatSeeds(r.Seeds), humanize.Comma(int64(r.PopulationSize)), r.Generations, r.BestFitness)
	}
	return nil
}

func runGenerations(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generations", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	id, gens, err := client.Generations(ctx, *runID, *latest)
	if err != nil {
		return err
	}
	fmt.Printf("run_id=%s\n", id)
	for _, g := range gens {
		note := ""
		if g.EvolveSkipped {
			note = " evolve=skipped"
		}
		fmt.Printf("%s generation best=%.4f mean=%.4f finishers=%d tracks=%d%s\n",
			humanize.Ordinal(g.Generation), g.BestFitness, g.MeanFitness, g.Finishers, len(g.Tracks), note)
	}
	return nil
}

func runRecords(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("records", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	id, records, err := client.Records(ctx, *runID, *latest)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("run_id=%s no track records\n", id)
		return nil
	}
	fmt.Printf("run_id=%s\n", id)
	for _, r := range records {
		fmt.Printf("slot=%d seed=%d lap=%.2fs generation=%d\n", r.Slot, r.Seed, r.LapTime, r.Generation)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id to export")
	latest := fs.Bool("latest", false, "export the most recent run")
	outDir := fs.String("out", exportsDir, "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	exported, err := client.Export(ctx, api.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to %s\n", exported.RunID, exported.Directory)
	return nil
}

func parseSeed(v string) (*int64, error) {
	v = strings.TrimSpace(v)
	if v == "" || v == "random" || v == "null" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid seed %q: %w", v, err)
	}
	return &n, nil
}

func parseSeedList(v string) ([]*int64, error) {
	parts := strings.Split(v, ",")
	seeds := make([]*int64, 0, len(parts))
	for _, p := range parts {
		s, err := parseSeed(p)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, s)
	}
	return seeds, nil
}

func formatSeeds(seeds []*int64) string {
	parts := make([]string, len(seeds))
	for i, s := range seeds {
		if s == nil {
			parts[i] = "random"
			continue
		}
		parts[i] = strconv.FormatInt(*s, 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: carbrainsctl <track|export-config|train|runs|generations|records|export> [flags]", msg)
}
