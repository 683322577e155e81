package contour

import (
	"errors"
	"fmt"
	"image"

	"carbrains/internal/geom"
)

var (
	// ErrHierarchy means the mask did not hold exactly one band with one hole.
	ErrHierarchy = errors.New("unexpected contour hierarchy")
	// ErrDegenerate means a boundary collapsed to zero extent.
	ErrDegenerate = errors.New("degenerate boundary")
)

// DefaultEpsilon is the simplification tolerance as a fraction of each
// boundary's perimeter.
const DefaultEpsilon = 0.0005

// Boundaries are the two wall rings of a track in world coordinates. Each
// ring repeats its first point at the end.
type Boundaries struct {
	Outer []geom.Vec2 `json:"outer"`
	Inner []geom.Vec2 `json:"inner"`
}

type Extractor struct {
	OuterEpsilon float64
	InnerEpsilon float64
	Cutoff       uint8
}

func NewExtractor() Extractor {
	return Extractor{OuterEpsilon: DefaultEpsilon, InnerEpsilon: DefaultEpsilon, Cutoff: DefaultCutoff}
}

// Extract finds the outer and inner boundary of the filled band in mask and
// maps them into a square of extent world units centered on the origin,
// with y pointing up.
func (e Extractor) Extract(mask *image.Gray, extent float64) (Boundaries, error) {
	if mask == nil || mask.Bounds().Empty() {
		return Boundaries{}, fmt.Errorf("%w: empty mask", ErrDegenerate)
	}
	if extent <= 0 {
		return Boundaries{}, fmt.Errorf("%w: extent %f", ErrDegenerate, extent)
	}

	contours := FindContours(mask, e.Cutoff)
	outerIdx, innerIdx, err := selectBand(contours)
	if err != nil {
		return Boundaries{}, err
	}

	m := pixelMapping{bounds: mask.Bounds(), extent: extent}
	outer, err := m.ring(contours[outerIdx].Points, e.OuterEpsilon)
	if err != nil {
		return Boundaries{}, fmt.Errorf("outer: %w", err)
	}
	inner, err := m.ring(contours[innerIdx].Points, e.InnerEpsilon)
	if err != nil {
		return Boundaries{}, fmt.Errorf("inner: %w", err)
	}
	return Boundaries{Outer: outer, Inner: inner}, nil
}

// selectBand picks the single top-level outer border and its single hole.
func selectBand(contours []Contour) (int, int, error) {
	outer := -1
	for i, c := range contours {
		if c.Parent != -1 || c.Hole {
			continue
		}
		if outer >= 0 {
			return 0, 0, fmt.Errorf("%w: more than one top-level border", ErrHierarchy)
		}
		outer = i
	}
	if outer < 0 {
		return 0, 0, fmt.Errorf("%w: no outer border", ErrHierarchy)
	}

	inner := -1
	for i, c := range contours {
		switch {
		case c.Parent == outer:
			if inner >= 0 {
				return 0, 0, fmt.Errorf("%w: outer border has more than one hole", ErrHierarchy)
			}
			inner = i
		case c.Parent >= 0 && c.Parent != outer:
			return 0, 0, fmt.Errorf("%w: nested border inside the hole", ErrHierarchy)
		}
	}
	if inner < 0 {
		return 0, 0, fmt.Errorf("%w: outer border has no hole", ErrHierarchy)
	}
	return outer, inner, nil
}

type pixelMapping struct {
	bounds image.Rectangle
	extent float64
}

func (m pixelMapping) world(p image.Point) geom.Vec2 {
	w, h := float64(m.bounds.Dx()), float64(m.bounds.Dy())
	x := (float64(p.X-m.bounds.Min.X)+0.5)/w*m.extent - m.extent/2
	y := m.extent/2 - (float64(p.Y-m.bounds.Min.Y)+0.5)/h*m.extent
	return geom.V(x, y)
}

func (m pixelMapping) ring(points []image.Point, epsilon float64) ([]geom.Vec2, error) {
	pixels := make([]geom.Vec2, len(points))
	for i, p := range points {
		pixels[i] = geom.V(float64(p.X), float64(p.Y))
	}
	simplified := Simplify(pixels, epsilon*Perimeter(pixels))

	out := make([]geom.Vec2, 0, len(simplified)+1)
	for _, p := range simplified {
		out = append(out, m.world(image.Pt(int(p.X), int(p.Y))))
	}
	b := geom.BoundsOf(out)
	if len(out) < 3 || b.Width() == 0 || b.Height() == 0 {
		return nil, fmt.Errorf("%w: %d points spanning %fx%f", ErrDegenerate, len(out), b.Width(), b.Height())
	}
	return append(out, out[0]), nil
}
