package track

import (
	"fmt"
	"math/rand"

	"carbrains/internal/curve"
	"carbrains/internal/geom"
)

// Diameter is the default world-space extent of a generated centerline.
const Diameter = 10.0

// GeneratorConfig controls the seed -> centerline pipeline.
type GeneratorConfig struct {
	MooreDegree     int
	SkipPoints      bool
	MinSkip         int
	MaxSkip         int
	WorldScale      float64
	MakeSpline      bool
	SplineDegree    int
	RandomWeights   bool
	MinWeight       float64
	MaxWeight       float64
	ReverseOddSeeds bool
}

func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MooreDegree:     2,
		SkipPoints:      true,
		MinSkip:         3,
		MaxSkip:         8,
		WorldScale:      Diameter,
		MakeSpline:      true,
		SplineDegree:    2,
		RandomWeights:   true,
		MinWeight:       0.5,
		MaxWeight:       1.0,
		ReverseOddSeeds: true,
	}
}

func (c GeneratorConfig) Validate() error {
	if c.MooreDegree < 0 {
		return fmt.Errorf("moore degree must be >= 0")
	}
	if c.SkipPoints && (c.MinSkip < 1 || c.MinSkip > c.MaxSkip) {
		return fmt.Errorf("skip range must satisfy 1 <= min <= max, got [%d, %d]", c.MinSkip, c.MaxSkip)
	}
	if c.WorldScale <= 0 {
		return fmt.Errorf("world scale must be > 0")
	}
	if c.MakeSpline {
		if c.SplineDegree < 0 {
			return fmt.Errorf("spline degree must be >= 0")
		}
		if c.RandomWeights && (c.MinWeight <= 0 || c.MinWeight > c.MaxWeight) {
			return fmt.Errorf("weight range must satisfy 0 < min <= max, got [%f, %f]", c.MinWeight, c.MaxWeight)
		}
	}
	return nil
}

// Generator turns integer seeds into closed centerlines. The Moore curve
// depends only on the degree and is computed once.
type Generator struct {
	cfg   GeneratorConfig
	moore []geom.Vec2
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	points, err := curve.MooreCurve(cfg.MooreDegree)
	if err != nil {
		return nil, err
	}
	return &Generator{cfg: cfg, moore: points}, nil
}

func (g *Generator) Config() GeneratorConfig {
	return g.cfg
}

// ControlPolygon samples the Moore curve with random strides and scales the
// result to world units. Point 0 is always kept.
func (g *Generator) ControlPolygon(seed int64) []geom.Vec2 {
	points := g.moore
	if g.cfg.SkipPoints {
		rng := rand.New(rand.NewSource(seed))
		sampled := make([]geom.Vec2, 0, len(points)/g.cfg.MinSkip+1)
		for i := 0; i < len(points); i += g.cfg.MinSkip + rng.Intn(g.cfg.MaxSkip-g.cfg.MinSkip+1) {
			sampled = append(sampled, points[i])
		}
		points = sampled
	}

	out := make([]geom.Vec2, len(points))
	for i, p := range points {
		out[i] = p.Scale(g.cfg.WorldScale)
	}
	if g.cfg.MakeSpline && g.cfg.ReverseOddSeeds && seed&1 == 1 {
		// keep the start point, drive the loop the other way round
		for i, j := 1, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// Weights assigns one positive weight per control point.
func (g *Generator) Weights(seed int64, count int) []float64 {
	weights := make([]float64, count)
	if !g.cfg.RandomWeights {
		for i := range weights {
			weights[i] = 1
		}
		return weights
	}
	// Same stream as the strides in ControlPolygon, restarted on purpose:
	// existing seeds must keep producing the same tracks.
	rng := rand.New(rand.NewSource(seed))
	span := g.cfg.MaxWeight - g.cfg.MinWeight
	for i := range weights {
		weights[i] = g.cfg.MinWeight + rng.Float64()*span
	}
	return weights
}

// Centerline builds the loop for seed. Degenerate control polygons surface
// as construction errors from the curve package.
func (g *Generator) Centerline(seed int64) (curve.Spline, error) {
	control := g.ControlPolygon(seed)
	if !g.cfg.MakeSpline {
		return curve.NewPolygon(control)
	}
	return curve.Fit(control, g.Weights(seed, len(control)), g.cfg.SplineDegree)
}
