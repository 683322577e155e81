package curve

import (
	"errors"
	"fmt"
	"math"

	"carbrains/internal/geom"
)

var (
	ErrTooFewPoints   = errors.New("too few control points")
	ErrZeroWeight     = errors.New("control point weight must not be zero")
	ErrDegree         = errors.New("invalid degree")
	ErrLengthMismatch = errors.New("control points and weights differ in length")
	ErrOutOfDomain    = errors.New("parameter outside [0, 1]")
	ErrDetail         = errors.New("detail hint must be > 0")
	ErrCoincident     = errors.New("consecutive corners coincide")
)

// MaxSplineDegree bounds the basis table used during evaluation.
const MaxSplineDegree = 10

const weightEpsilon = 1e-9

// Kind tags the variant held by a Spline.
type Kind int

const (
	KindPolygon Kind = iota + 1
	KindNURBS
)

func (k Kind) String() string {
	switch k {
	case KindPolygon:
		return "polygon"
	case KindNURBS:
		return "nurbs"
	default:
		return "unknown"
	}
}

// Spline is a closed loop evaluated on [0, 1] with EvaluateAt(0) ==
// EvaluateAt(1). It holds exactly one of two variants: a piecewise-linear
// polygon or a periodic rational B-spline.
type Spline struct {
	kind    Kind
	polygon *polygon
	nurbs   *nurbs
}

func (s Spline) Kind() Kind { return s.kind }

// EvaluateAt returns the point at parameter t. t outside [0, 1] is rejected.
func (s Spline) EvaluateAt(t float64) (geom.Vec2, error) {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return geom.Vec2{}, fmt.Errorf("%w: %v", ErrOutOfDomain, t)
	}
	switch s.kind {
	case KindPolygon:
		return s.polygon.evaluate(t), nil
	case KindNURBS:
		return s.nurbs.evaluate(t), nil
	default:
		return geom.Vec2{}, errors.New("spline is not initialized")
	}
}

// Corners returns the polygon corners for the polygon variant, or
// detailHint evenly spaced samples of the curve for the spline variant.
// The first point is not repeated at the end.
func (s Spline) Corners(detailHint int) ([]geom.Vec2, error) {
	switch s.kind {
	case KindPolygon:
		return append([]geom.Vec2(nil), s.polygon.corners...), nil
	case KindNURBS:
		if detailHint <= 0 {
			return nil, ErrDetail
		}
		out := make([]geom.Vec2, detailHint)
		for i := range out {
			out[i] = s.nurbs.evaluate(float64(i) / float64(detailHint))
		}
		return out, nil
	default:
		return nil, errors.New("spline is not initialized")
	}
}

// Fit builds a loop through the control polygon. Degree 0 falls back to the
// polygon variant and ignores weights.
func Fit(points []geom.Vec2, weights []float64, degree int) (Spline, error) {
	if degree == 0 {
		return NewPolygon(points)
	}
	return NewNURBS(points, weights, degree)
}

type polygon struct {
	corners       []geom.Vec2
	lengths       []float64
	circumference float64
}

// NewPolygon wraps corners into a closed piecewise-linear loop evaluated by
// arc length. Consecutive corners, including last and first, must differ.
func NewPolygon(corners []geom.Vec2) (Spline, error) {
	if len(corners) < 3 {
		return Spline{}, fmt.Errorf("%w: polygon needs at least 3 corners, got %d", ErrTooFewPoints, len(corners))
	}
	p := &polygon{
		corners: append([]geom.Vec2(nil), corners...),
		lengths: make([]float64, len(corners)),
	}
	for i := range corners {
		d := corners[i].Dist(corners[(i+1)%len(corners)])
		if d == 0 {
			return Spline{}, fmt.Errorf("%w: corners %d and %d", ErrCoincident, i, (i+1)%len(corners))
		}
		p.lengths[i] = d
		p.circumference += d
	}
	return Spline{kind: KindPolygon, polygon: p}, nil
}

func (p *polygon) evaluate(t float64) geom.Vec2 {
	target := t * p.circumference
	walked := 0.0
	n := len(p.corners)
	for i, l := range p.lengths {
		if walked+l >= target || i == n-1 {
			frac := (target - walked) / l
			frac = math.Max(0, math.Min(1, frac))
			return geom.Lerp(p.corners[i], p.corners[(i+1)%n], frac)
		}
		walked += l
	}
	return p.corners[0]
}

type nurbs struct {
	points  []geom.Vec2
	weights []float64
	knots   []float64
	degree  int
	// spans first..last are evaluated; lo/hi are their outer knots.
	first, last int
	lo, hi      float64
}

// NewNURBS builds a periodic rational B-spline. The control polygon is
// extended by wrapping degree entries from both ends over a uniform knot
// vector; evaluation skips one span past the padded seam so that exactly
// one loop of the original polygon is traced.
func NewNURBS(points []geom.Vec2, weights []float64, degree int) (Spline, error) {
	if degree < 1 || degree > MaxSplineDegree {
		return Spline{}, fmt.Errorf("%w: spline degree must be in [1, %d], got %d", ErrDegree, MaxSplineDegree, degree)
	}
	if len(points) != len(weights) {
		return Spline{}, fmt.Errorf("%w: points=%d weights=%d", ErrLengthMismatch, len(points), len(weights))
	}
	minPoints := degree + 1
	if minPoints < 3 {
		minPoints = 3
	}
	if len(points) < minPoints {
		return Spline{}, fmt.Errorf("%w: degree %d needs at least %d points, got %d", ErrTooFewPoints, degree, minPoints, len(points))
	}
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || math.Abs(w) < weightEpsilon {
			return Spline{}, fmt.Errorf("%w: index %d has weight %v", ErrZeroWeight, i, w)
		}
	}

	count := len(points)
	padded := make([]geom.Vec2, 0, count+2*degree)
	padded = append(padded, points[count-degree:]...)
	padded = append(padded, points...)
	padded = append(padded, points[:degree]...)

	paddedWeights := make([]float64, 0, count+2*degree)
	paddedWeights = append(paddedWeights, weights[count-degree:]...)
	paddedWeights = append(paddedWeights, weights...)
	paddedWeights = append(paddedWeights, weights[:degree]...)

	knotCount := len(padded) + degree + 1
	knots := make([]float64, knotCount)
	for i := range knots {
		knots[i] = float64(i) / float64(knotCount-1)
	}

	first := degree + 1
	last := degree + count
	return Spline{kind: KindNURBS, nurbs: &nurbs{
		points:  padded,
		weights: paddedWeights,
		knots:   knots,
		degree:  degree,
		first:   first,
		last:    last,
		lo:      knots[first],
		hi:      knots[last+1],
	}}, nil
}

func (n *nurbs) evaluate(t float64) geom.Vec2 {
	u := n.lo + (n.hi-n.lo)*t
	span := int(u * float64(len(n.knots)-1))
	if span < n.first {
		span = n.first
	}
	if span > n.last {
		span = n.last
	}

	basis := n.basis(span, u)
	var num geom.Vec2
	den := 0.0
	for s := 0; s <= n.degree; s++ {
		i := span - n.degree + s
		b := basis[s] * n.weights[i]
		num = num.Add(n.points[i].Scale(b))
		den += b
	}
	return num.Scale(1 / den)
}

// basis computes the degree+1 non-zero basis functions on span with the
// triangular Cox-de Boor recurrence, in place over fixed-size tables.
func (n *nurbs) basis(span int, u float64) [MaxSplineDegree + 1]float64 {
	var out, left, right [MaxSplineDegree + 1]float64
	out[0] = 1
	for r := 1; r <= n.degree; r++ {
		left[r] = u - n.knots[span+1-r]
		right[r] = n.knots[span+r] - u
		saved := 0.0
		for s := 0; s < r; s++ {
			tmp := out[s] / (right[s+1] + left[r-s])
			out[s] = saved + right[s+1]*tmp
			saved = left[r-s] * tmp
		}
		out[r] = saved
	}
	return out
}
