package track

import (
	"fmt"
	"math"

	"carbrains/internal/curve"
	"carbrains/internal/geom"
)

const (
	DefaultCheckpointCount = 150
	DefaultGateHalfLength  = 0.5

	// tangentDelta is the parameter offset used for the finite-difference
	// tangent at each gate.
	tangentDelta = 0.001
)

// Checkpoint is a trigger gate across the track. Index is 1-based; the gate
// with Index == count sits on the start line.
type Checkpoint struct {
	Index    int          `json:"index"`
	Position geom.Vec2    `json:"position"`
	Gate     geom.Segment `json:"gate"`
}

// Checkpoints places count gates along spline at t = i/count, each
// perpendicular to the local tangent.
func Checkpoints(spline curve.Spline, count int, halfLength float64) ([]Checkpoint, error) {
	if count < 1 {
		return nil, fmt.Errorf("checkpoint count must be > 0, got %d", count)
	}
	if halfLength <= 0 {
		return nil, fmt.Errorf("gate half length must be > 0, got %f", halfLength)
	}
	out := make([]Checkpoint, 0, count)
	for i := 1; i <= count; i++ {
		t := float64(i) / float64(count)
		pos, err := spline.EvaluateAt(t)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %d: %w", i, err)
		}
		tangent, err := Tangent(spline, t)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %d: %w", i, err)
		}
		normal := tangent.Perp().Scale(halfLength)
		out = append(out, Checkpoint{
			Index:    i,
			Position: pos,
			Gate:     geom.Segment{A: pos.Sub(normal), B: pos.Add(normal)},
		})
	}
	return out, nil
}

// Tangent estimates the unit direction of travel at t by a central
// difference, wrapping the probe parameters around the seam.
func Tangent(spline curve.Spline, t float64) (geom.Vec2, error) {
	before, err := spline.EvaluateAt(wrapUnit(t - tangentDelta))
	if err != nil {
		return geom.Vec2{}, err
	}
	after, err := spline.EvaluateAt(wrapUnit(t + tangentDelta))
	if err != nil {
		return geom.Vec2{}, err
	}
	dir := after.Sub(before).Normalize()
	if dir == (geom.Vec2{}) {
		return geom.Vec2{}, fmt.Errorf("%w: zero tangent at t=%f", ErrGeneration, t)
	}
	return dir, nil
}

func wrapUnit(t float64) float64 {
	t = math.Mod(t, 1)
	if t < 0 {
		t++
	}
	return t
}

// CanAdvance reports whether an agent sitting on checkpoint current may
// move to checkpoint next on a trigger. Skips larger than half a lap are
// rejected so stray or doubled triggers cannot jump the counter.
func CanAdvance(current, next, total int) bool {
	return next <= current+total/2
}

// Pose is a position plus heading in radians.
type Pose struct {
	Position geom.Vec2 `json:"position"`
	Heading  float64   `json:"heading"`
}

// SpawnPose places agents at the start of the loop facing along it.
func SpawnPose(spline curve.Spline) (Pose, error) {
	start, err := spline.EvaluateAt(0)
	if err != nil {
		return Pose{}, err
	}
	ahead, err := spline.EvaluateAt(tangentDelta)
	if err != nil {
		return Pose{}, err
	}
	dir := ahead.Sub(start)
	if dir == (geom.Vec2{}) {
		return Pose{}, fmt.Errorf("%w: zero spawn heading", ErrGeneration)
	}
	return Pose{Position: start, Heading: dir.Angle()}, nil
}
