package track

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand"

	"carbrains/internal/contour"
	"carbrains/internal/curve"
	"carbrains/internal/geom"
)

// ErrGeneration marks a seed that did not yield a usable track.
var ErrGeneration = errors.New("track generation failed")

const DefaultMaxAttempts = 8

// Rasterizer renders the filled track band around a centerline into an
// 8-bit mask covering a square of WorldExtent world units centered on the
// origin.
type Rasterizer interface {
	Rasterize(spline curve.Spline) (*image.Gray, error)
	WorldExtent() float64
}

// BoundaryExtractor turns a mask into the outer/inner wall rings.
type BoundaryExtractor interface {
	Extract(mask *image.Gray, extent float64) (contour.Boundaries, error)
}

// Track is everything the simulation needs for one seed.
type Track struct {
	Seed        int64        `json:"seed"`
	Random      bool         `json:"random"`
	Centerline  curve.Spline `json:"-"`
	Outer       []geom.Vec2  `json:"outer"`
	Inner       []geom.Vec2  `json:"inner"`
	Checkpoints []Checkpoint `json:"checkpoints"`
	Start       Pose         `json:"start"`
}

// Walls returns the collider segments of both boundary rings.
func (t *Track) Walls() []geom.Segment {
	walls := geom.Ring(t.Outer)
	return append(walls, geom.Ring(t.Inner)...)
}

type BuilderConfig struct {
	Checkpoints    int
	GateHalfLength float64
	MaxAttempts    int
}

func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		Checkpoints:    DefaultCheckpointCount,
		GateHalfLength: DefaultGateHalfLength,
		MaxAttempts:    DefaultMaxAttempts,
	}
}

// Builder assembles tracks: centerline, mask, boundaries, gates and start.
type Builder struct {
	gen       *Generator
	raster    Rasterizer
	extractor BoundaryExtractor
	cfg       BuilderConfig
	rng       *rand.Rand
}

func NewBuilder(gen *Generator, raster Rasterizer, extractor BoundaryExtractor, cfg BuilderConfig, rng *rand.Rand) (*Builder, error) {
	if gen == nil || raster == nil || extractor == nil {
		return nil, errors.New("builder requires generator, rasterizer and extractor")
	}
	if cfg.Checkpoints < 1 {
		return nil, fmt.Errorf("checkpoint count must be > 0, got %d", cfg.Checkpoints)
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Builder{gen: gen, raster: raster, extractor: extractor, cfg: cfg, rng: rng}, nil
}

func (b *Builder) CheckpointCount() int {
	return b.cfg.Checkpoints
}

// RandomSeed draws a fresh signed 32-bit seed.
func RandomSeed(rng *rand.Rand) int64 {
	return int64(int32(rng.Uint32()))
}

// Build runs the full pipeline for one seed.
func (b *Builder) Build(seed int64) (*Track, error) {
	spline, err := b.gen.Centerline(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: seed %d: %w", ErrGeneration, seed, err)
	}
	mask, err := b.raster.Rasterize(spline)
	if err != nil {
		return nil, fmt.Errorf("%w: seed %d: rasterize: %w", ErrGeneration, seed, err)
	}
	bounds, err := b.extractor.Extract(mask, b.raster.WorldExtent())
	if err != nil {
		return nil, fmt.Errorf("%w: seed %d: %w", ErrGeneration, seed, err)
	}
	checkpoints, err := Checkpoints(spline, b.cfg.Checkpoints, b.cfg.GateHalfLength)
	if err != nil {
		return nil, fmt.Errorf("%w: seed %d: %w", ErrGeneration, seed, err)
	}
	start, err := SpawnPose(spline)
	if err != nil {
		return nil, fmt.Errorf("%w: seed %d: %w", ErrGeneration, seed, err)
	}
	return &Track{
		Seed:        seed,
		Centerline:  spline,
		Outer:       bounds.Outer,
		Inner:       bounds.Inner,
		Checkpoints: checkpoints,
		Start:       start,
	}, nil
}

// BuildSlot builds the track for one seed slot. A nil slot draws random
// seeds and retries up to MaxAttempts times; a fixed slot gets one attempt
// since regenerating it would yield the same geometry. onFailure, when set,
// sees every failed attempt.
func (b *Builder) BuildSlot(ctx context.Context, slot *int64, onFailure func(seed int64, err error)) (*Track, error) {
	if slot != nil {
		t, err := b.Build(*slot)
		if err != nil && onFailure != nil {
			onFailure(*slot, err)
		}
		return t, err
	}

	var lastErr error
	for attempt := 0; attempt < b.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seed := RandomSeed(b.rng)
		t, err := b.Build(seed)
		if err == nil {
			t.Random = true
			return t, nil
		}
		if onFailure != nil {
			onFailure(seed, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("random slot: %d attempts failed: %w", b.cfg.MaxAttempts, lastErr)
}
