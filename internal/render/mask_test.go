package render

import (
	"testing"

	"carbrains/internal/contour"
	"carbrains/internal/curve"
	"carbrains/internal/geom"
)

func squareLoop(t *testing.T) curve.Spline {
	t.Helper()
	spline, err := curve.NewPolygon([]geom.Vec2{{X: -3, Y: -3}, {X: 3, Y: -3}, {X: 3, Y: 3}, {X: -3, Y: 3}})
	if err != nil {
		t.Fatalf("polygon: %v", err)
	}
	return spline
}

func TestRasterizeFillsBandOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolution = 120
	r, err := NewRasterizer(cfg)
	if err != nil {
		t.Fatalf("new rasterizer: %v", err)
	}
	mask, err := r.Rasterize(squareLoop(t))
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	if mask.Bounds().Dx() != 120 || mask.Bounds().Dy() != 120 {
		t.Fatalf("unexpected mask bounds: %v", mask.Bounds())
	}
	// 10 pixels per world unit, origin at pixel (60, 60)
	tests := []struct {
		name string
		x, y int
		want uint8
	}{
		{name: "bottom-edge", x: 60, y: 90, want: 255},
		{name: "left-edge", x: 30, y: 60, want: 255},
		{name: "corner", x: 30, y: 30, want: 255},
		{name: "center", x: 60, y: 60, want: 0},
		{name: "outside", x: 5, y: 5, want: 0},
	}
	for _, tc := range tests {
		if got := mask.GrayAt(tc.x, tc.y).Y; got != tc.want {
			t.Fatalf("unexpected %s pixel: got=%d want=%d", tc.name, got, tc.want)
		}
	}
}

func TestRasterizedBandYieldsBoundaries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolution = 240
	r, err := NewRasterizer(cfg)
	if err != nil {
		t.Fatalf("new rasterizer: %v", err)
	}
	mask, err := r.Rasterize(squareLoop(t))
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	b, err := contour.NewExtractor().Extract(mask, r.WorldExtent())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	ob := geom.BoundsOf(b.Outer)
	ib := geom.BoundsOf(b.Inner)
	const tol = 0.1
	if abs(ob.Max.X-3.4) > tol || abs(ob.Min.Y+3.4) > tol {
		t.Fatalf("unexpected outer bounds: %+v", ob)
	}
	if abs(ib.Max.X-2.6) > tol || abs(ib.Min.Y+2.6) > tol {
		t.Fatalf("unexpected inner bounds: %+v", ib)
	}
}

func TestConfigValidation(t *testing.T) {
	for _, cfg := range []Config{
		{Resolution: 4, HalfWidth: 1, Extent: 1, Detail: 4, CornerDetail: 4},
		{Resolution: 64, HalfWidth: 0, Extent: 1, Detail: 4, CornerDetail: 4},
		{Resolution: 64, HalfWidth: 1, Extent: 1, Detail: 2, CornerDetail: 4},
	} {
		if _, err := NewRasterizer(cfg); err == nil {
			t.Fatalf("expected validation error for %+v", cfg)
		}
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
