package trainer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Speedup paces simulation ticks against wall-clock time. An uncapped
// speedup runs ticks back to back.
type Speedup struct {
	Uncapped bool
	Factor   float64
}

func Uncapped() Speedup { return Speedup{Uncapped: true} }

func Factor(f float64) Speedup { return Speedup{Factor: f} }

func (s Speedup) Validate() error {
	if s.Uncapped {
		return nil
	}
	if !(s.Factor > 0) || math.IsInf(s.Factor, 0) {
		return fmt.Errorf("speedup must be a positive number or uncapped, got %v", s.Factor)
	}
	return nil
}

func (s Speedup) String() string {
	if s.Uncapped {
		return "uncapped"
	}
	return strconv.FormatFloat(s.Factor, 'g', -1, 64) + "x"
}

// ParseSpeedup accepts "uncapped" or a positive factor with an optional
// trailing "x".
func ParseSpeedup(v string) (Speedup, error) {
	if v == "uncapped" {
		return Uncapped(), nil
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(v, "x"), 64)
	if err != nil {
		return Speedup{}, fmt.Errorf("speedup: %w", err)
	}
	s := Factor(f)
	return s, s.Validate()
}

// BonusPlacement says where the speed-rank bonus is applied.
type BonusPlacement string

const (
	// BonusPerSet collects speed bonuses per track and adds them at the end
	// of a set to agents that finished enough tracks.
	BonusPerSet BonusPlacement = "set"
	// BonusPerTrack adds the speed bonus into the track term before squaring.
	BonusPerTrack BonusPlacement = "track"
)

// Config holds the orchestrator knobs. Times are simulated seconds unless
// noted.
type Config struct {
	Seeds []*int64

	TickSeconds     float64
	BaseTimeout     float64
	MaxTrackSeconds float64
	LeniencyK       float64

	SquareAfterTrack     bool
	SquareAfterSet       bool
	BonusPlacement       BonusPlacement
	SpeedBonusSquared    bool
	SpeedBonusWeight     float64
	FlatFinishBonus      float64
	MinFinishFraction    float64
	MinTracksForSetBonus int

	Speedup Speedup
	// FrameInterval is the wall-clock length of one paced frame.
	FrameInterval time.Duration
	// DisplayPause is the wall-clock pause after each track.
	DisplayPause time.Duration
	// UncappedBatch is how many ticks run between cancellation checks when
	// uncapped.
	UncappedBatch int

	SaveTopN       int
	SaveAll        bool
	MaxGenerations int
}

func DefaultConfig() Config {
	return Config{
		TickSeconds:       0.02,
		BaseTimeout:       10,
		MaxTrackSeconds:   600,
		LeniencyK:         0.75,
		SquareAfterTrack:  true,
		SquareAfterSet:    true,
		BonusPlacement:    BonusPerSet,
		SpeedBonusSquared: true,
		SpeedBonusWeight:  0.5,
		FlatFinishBonus:   0.2,
		MinFinishFraction: 0.1,
		Speedup:           Factor(1),
		FrameInterval:     time.Second / 60,
		DisplayPause:      500 * time.Millisecond,
		UncappedBatch:     256,
	}
}

func (c Config) Validate() error {
	if !(c.TickSeconds > 0) {
		return fmt.Errorf("tick_seconds must be > 0")
	}
	if !(c.BaseTimeout > 0) {
		return fmt.Errorf("base_timeout must be > 0")
	}
	if c.MaxTrackSeconds < 0 {
		return fmt.Errorf("max_track_seconds must be >= 0")
	}
	if !(c.LeniencyK > 0) {
		return fmt.Errorf("leniency_k must be > 0")
	}
	switch c.BonusPlacement {
	case BonusPerSet, BonusPerTrack:
	default:
		return fmt.Errorf("unknown speed bonus placement %q", c.BonusPlacement)
	}
	if c.SpeedBonusWeight < 0 || c.FlatFinishBonus < 0 {
		return fmt.Errorf("bonuses must be >= 0")
	}
	if c.MinFinishFraction < 0 || c.MinFinishFraction > 1 {
		return fmt.Errorf("min_finish_fraction must be in [0, 1]")
	}
	if c.MinTracksForSetBonus < 0 {
		return fmt.Errorf("min_tracks_for_set_bonus must be >= 0")
	}
	if err := c.Speedup.Validate(); err != nil {
		return err
	}
	if c.FrameInterval <= 0 {
		return fmt.Errorf("frame interval must be > 0")
	}
	if c.DisplayPause < 0 {
		return fmt.Errorf("display pause must be >= 0")
	}
	if c.UncappedBatch < 1 {
		return fmt.Errorf("uncapped batch must be > 0")
	}
	if c.SaveTopN < 0 || c.MaxGenerations < 0 {
		return fmt.Errorf("save_top_n and max_generations must be >= 0")
	}
	return nil
}

// setBonusTracks is how many tracks an agent must finish for its set-level
// speed bonus to count.
func (c Config) setBonusTracks(seeds int) int {
	if c.MinTracksForSetBonus > 0 {
		return c.MinTracksForSetBonus
	}
	return (seeds + 1) / 2
}
