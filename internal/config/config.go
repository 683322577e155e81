// Package config loads the CarBrains YAML configuration: embedded defaults
// overlaid with an optional user file, checked against an embedded schema.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"carbrains/internal/contour"
	"carbrains/internal/folders"
	"carbrains/internal/physics"
	"carbrains/internal/render"
	"carbrains/internal/track"
	"carbrains/internal/trainer"
)

//go:embed defaults.yaml
var defaultsYAML []byte

//go:embed config.schema.json
var schemaJSON []byte

const schemaURL = "config.schema.json"

// DefaultDatabase is the sqlite file name used when storage.sqlite_path is
// empty.
const DefaultDatabase = "carbrains.db"

type Config struct {
	Track       TrackConfig      `yaml:"track"`
	Render      RenderConfig     `yaml:"render"`
	Contour     ContourConfig    `yaml:"contour"`
	Checkpoints CheckpointConfig `yaml:"checkpoints"`
	Physics     PhysicsConfig    `yaml:"physics"`
	Training    TrainingConfig   `yaml:"training"`
	Population  PopulationConfig `yaml:"population"`
	Storage     StorageConfig    `yaml:"storage"`
	Folders     FoldersConfig    `yaml:"folders"`
	Observer    ObserverConfig   `yaml:"observer"`
}

// TrackConfig drives centerline generation and regeneration of random slots.
type TrackConfig struct {
	MooreDegree     int     `yaml:"moore_degree"`
	SkipPoints      bool    `yaml:"skip_points"`
	MinSkip         int     `yaml:"min_skip"`
	MaxSkip         int     `yaml:"max_skip"`
	WorldScale      float64 `yaml:"world_scale"`
	MakeSpline      bool    `yaml:"make_spline"`
	SplineDegree    int     `yaml:"spline_degree"`
	RandomWeights   bool    `yaml:"random_weights"`
	MinWeight       float64 `yaml:"min_weight"`
	MaxWeight       float64 `yaml:"max_weight"`
	ReverseOddSeeds bool    `yaml:"reverse_odd_seeds"`
	MaxAttempts     int     `yaml:"max_attempts"`
}

type RenderConfig struct {
	Resolution   int     `yaml:"resolution"`
	HalfWidth    float64 `yaml:"half_width"`
	Extent       float64 `yaml:"extent"`
	Detail       int     `yaml:"detail"`
	CornerDetail int     `yaml:"corner_detail"`
}

// ContourConfig epsilons are fractions of each contour's perimeter.
type ContourConfig struct {
	OuterEpsilon float64 `yaml:"outer_epsilon"`
	InnerEpsilon float64 `yaml:"inner_epsilon"`
	Cutoff       int     `yaml:"cutoff"`
}

type CheckpointConfig struct {
	Count          int     `yaml:"count"`
	GateHalfLength float64 `yaml:"gate_half_length"`
}

type PhysicsConfig struct {
	Acceleration   float64 `yaml:"acceleration"`
	Braking        float64 `yaml:"braking"`
	Reverse        float64 `yaml:"reverse"`
	Steering       float64 `yaml:"steering"`
	LinearDamping  float64 `yaml:"linear_damping"`
	AngularDamping float64 `yaml:"angular_damping"`
	CarRadius      float64 `yaml:"car_radius"`
	RayCount       int     `yaml:"ray_count"`
	RaySpread      float64 `yaml:"ray_spread"`
	RayRange       float64 `yaml:"ray_range"`
	SettleFrames   int     `yaml:"settle_frames"`
}

type TrainingConfig struct {
	// Seeds is the ordered seed list; null entries are random slots.
	Seeds                []*int64 `yaml:"seeds"`
	TickSeconds          float64  `yaml:"tick_seconds"`
	BaseTimeout          float64  `yaml:"base_timeout"`
	MaxTrackSeconds      float64  `yaml:"max_track_seconds"`
	LeniencyK            float64  `yaml:"leniency_k"`
	SquareAfterTrack     bool     `yaml:"square_after_track"`
	SquareAfterSet       bool     `yaml:"square_after_set"`
	SpeedBonusPlacement  string   `yaml:"speed_bonus_placement"`
	SpeedBonusSquared    bool     `yaml:"speed_bonus_squared"`
	SpeedBonusWeight     float64  `yaml:"speed_bonus_weight"`
	FlatFinishBonus      float64  `yaml:"flat_finish_bonus"`
	MinFinishFraction    float64  `yaml:"min_finish_fraction"`
	MinTracksForSetBonus int      `yaml:"min_tracks_for_set_bonus"`
	Speedup              Speedup  `yaml:"speedup"`
	FrameRate            float64  `yaml:"frame_rate"`
	DisplayPauseMS       int      `yaml:"display_pause_ms"`
	UncappedBatch        int      `yaml:"uncapped_batch"`
	SaveTopN             int      `yaml:"save_top_n"`
	SaveAll              bool     `yaml:"save_all"`
	MaxGenerations       int      `yaml:"max_generations"`
}

type PopulationConfig struct {
	EngineConfig string `yaml:"engine_config"`
	Members      string `yaml:"members"`
}

type StorageConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
}

type FoldersConfig struct {
	Root string `yaml:"root"`
}

type ObserverConfig struct {
	Addr   string `yaml:"addr"`
	Buffer int    `yaml:"buffer"`
}

// Speedup is a positive multiplier or the string "uncapped" in YAML.
type Speedup trainer.Speedup

func (s *Speedup) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!str" {
		if n.Value != "uncapped" {
			return fmt.Errorf("speedup: want a number or \"uncapped\", got %q", n.Value)
		}
		*s = Speedup(trainer.Uncapped())
		return nil
	}
	var f float64
	if err := n.Decode(&f); err != nil {
		return fmt.Errorf("speedup: %w", err)
	}
	*s = Speedup(trainer.Factor(f))
	return nil
}

func (s Speedup) MarshalYAML() (any, error) {
	if s.Uncapped {
		return "uncapped", nil
	}
	return s.Factor, nil
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func configSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Default returns the embedded defaults.
func Default() (*Config, error) {
	return Load("")
}

// Load reads path over the embedded defaults. An empty path yields the
// defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := Parse(cfg, data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse checks data against the schema and overlays it on cfg. Fields absent
// from data keep their current values.
func Parse(cfg *Config, data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if doc != nil {
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("normalizing config: %w", err)
		}
		var plain any
		if err := json.Unmarshal(raw, &plain); err != nil {
			return fmt.Errorf("normalizing config: %w", err)
		}
		s, err := configSchema()
		if err != nil {
			return fmt.Errorf("compiling config schema: %w", err)
		}
		if err := s.Validate(plain); err != nil {
			return fmt.Errorf("config does not match schema: %w", err)
		}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// Validate checks cross-field rules by building every component config.
func (c *Config) Validate() error {
	if err := c.GeneratorConfig().Validate(); err != nil {
		return fmt.Errorf("track: %w", err)
	}
	if c.Track.MaxAttempts < 1 {
		return fmt.Errorf("track: max_attempts must be >= 1")
	}
	if err := c.RenderConfig().Validate(); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if c.Contour.Cutoff < 0 || c.Contour.Cutoff > 254 {
		return fmt.Errorf("contour: cutoff must be in [0, 254]")
	}
	if c.Contour.OuterEpsilon < 0 || c.Contour.InnerEpsilon < 0 {
		return fmt.Errorf("contour: epsilons must be >= 0")
	}
	if c.Checkpoints.Count < 2 || c.Checkpoints.GateHalfLength <= 0 {
		return fmt.Errorf("checkpoints: count must be >= 2 and gate_half_length > 0")
	}
	if err := c.PhysicsConfig().Validate(); err != nil {
		return fmt.Errorf("physics: %w", err)
	}
	if !(c.Training.FrameRate > 0) {
		return fmt.Errorf("training: frame_rate must be > 0")
	}
	if c.Training.DisplayPauseMS < 0 {
		return fmt.Errorf("training: display_pause_ms must be >= 0")
	}
	if err := c.TrainerConfig().Validate(); err != nil {
		return fmt.Errorf("training: %w", err)
	}
	switch c.Storage.Backend {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("storage: unsupported backend %q", c.Storage.Backend)
	}
	if c.Observer.Buffer < 1 {
		return fmt.Errorf("observer: buffer must be >= 1")
	}
	return nil
}

func (c *Config) GeneratorConfig() track.GeneratorConfig {
	t := c.Track
	return track.GeneratorConfig{
		MooreDegree:     t.MooreDegree,
		SkipPoints:      t.SkipPoints,
		MinSkip:         t.MinSkip,
		MaxSkip:         t.MaxSkip,
		WorldScale:      t.WorldScale,
		MakeSpline:      t.MakeSpline,
		SplineDegree:    t.SplineDegree,
		RandomWeights:   t.RandomWeights,
		MinWeight:       t.MinWeight,
		MaxWeight:       t.MaxWeight,
		ReverseOddSeeds: t.ReverseOddSeeds,
	}
}

func (c *Config) BuilderConfig() track.BuilderConfig {
	return track.BuilderConfig{
		Checkpoints:    c.Checkpoints.Count,
		GateHalfLength: c.Checkpoints.GateHalfLength,
		MaxAttempts:    c.Track.MaxAttempts,
	}
}

func (c *Config) RenderConfig() render.Config {
	r := c.Render
	return render.Config{
		Resolution:   r.Resolution,
		HalfWidth:    r.HalfWidth,
		Extent:       r.Extent,
		Detail:       r.Detail,
		CornerDetail: r.CornerDetail,
	}
}

func (c *Config) Extractor() contour.Extractor {
	return contour.Extractor{
		OuterEpsilon: c.Contour.OuterEpsilon,
		InnerEpsilon: c.Contour.InnerEpsilon,
		Cutoff:       uint8(c.Contour.Cutoff),
	}
}

func (c *Config) PhysicsConfig() physics.Config {
	p := c.Physics
	return physics.Config{
		Acceleration:   p.Acceleration,
		Braking:        p.Braking,
		Reverse:        p.Reverse,
		Steering:       p.Steering,
		LinearDamping:  p.LinearDamping,
		AngularDamping: p.AngularDamping,
		CarRadius:      p.CarRadius,
		RayCount:       p.RayCount,
		RaySpread:      p.RaySpread,
		RayRange:       p.RayRange,
		SettleFrames:   p.SettleFrames,
	}
}

func (c *Config) TrainerConfig() trainer.Config {
	t := c.Training
	out := trainer.Config{
		Seeds:                append([]*int64(nil), t.Seeds...),
		TickSeconds:          t.TickSeconds,
		BaseTimeout:          t.BaseTimeout,
		MaxTrackSeconds:      t.MaxTrackSeconds,
		LeniencyK:            t.LeniencyK,
		SquareAfterTrack:     t.SquareAfterTrack,
		SquareAfterSet:       t.SquareAfterSet,
		BonusPlacement:       trainer.BonusPlacement(t.SpeedBonusPlacement),
		SpeedBonusSquared:    t.SpeedBonusSquared,
		SpeedBonusWeight:     t.SpeedBonusWeight,
		FlatFinishBonus:      t.FlatFinishBonus,
		MinFinishFraction:    t.MinFinishFraction,
		MinTracksForSetBonus: t.MinTracksForSetBonus,
		Speedup:              trainer.Speedup(t.Speedup),
		DisplayPause:         time.Duration(t.DisplayPauseMS) * time.Millisecond,
		UncappedBatch:        t.UncappedBatch,
		SaveTopN:             t.SaveTopN,
		SaveAll:              t.SaveAll,
		MaxGenerations:       t.MaxGenerations,
	}
	if t.FrameRate > 0 {
		out.FrameInterval = time.Duration(float64(time.Second) / t.FrameRate)
	}
	return out
}

func (c *Config) Layout() folders.Layout {
	return folders.Layout{Root: c.Folders.Root}
}

// StoragePath is the sqlite file, defaulting to the runs folder.
func (c *Config) StoragePath() string {
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath
	}
	return filepath.Join(c.Layout().Path(folders.Runs), DefaultDatabase)
}

func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
