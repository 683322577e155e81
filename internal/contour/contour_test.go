package contour

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"carbrains/internal/geom"
)

func fillRect(img *image.Gray, r image.Rectangle, v uint8) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
}

func bandMask() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 40, 40))
	fillRect(img, image.Rect(5, 5, 35, 35), 255)
	fillRect(img, image.Rect(15, 15, 25, 25), 0)
	return img
}

func TestFindContoursHierarchy(t *testing.T) {
	img := bandMask()
	fillRect(img, image.Rect(18, 18, 22, 22), 200)

	contours := FindContours(img, DefaultCutoff)
	if len(contours) != 3 {
		t.Fatalf("unexpected contour count: got=%d want=3", len(contours))
	}
	want := []struct {
		hole   bool
		parent int
		points int
	}{
		{hole: false, parent: -1, points: 116},
		{hole: true, parent: 0, points: 40},
		{hole: false, parent: 1, points: 12},
	}
	for i, w := range want {
		c := contours[i]
		if c.Hole != w.hole || c.Parent != w.parent || len(c.Points) != w.points {
			t.Fatalf("unexpected contour %d: hole=%v parent=%d points=%d", i, c.Hole, c.Parent, len(c.Points))
		}
	}
	if contours[0].Points[0] != image.Pt(5, 5) {
		t.Fatalf("unexpected outer start: %v", contours[0].Points[0])
	}
}

func TestFindContoursThresholdIsStrict(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 6, 6))
	fillRect(img, image.Rect(1, 1, 5, 5), DefaultCutoff)
	if got := FindContours(img, DefaultCutoff); len(got) != 0 {
		t.Fatalf("pixels at the cutoff must be background, got %d contours", len(got))
	}
	img.SetGray(2, 2, color.Gray{Y: DefaultCutoff + 1})
	got := FindContours(img, DefaultCutoff)
	if len(got) != 1 || len(got[0].Points) != 1 || got[0].Points[0] != image.Pt(2, 2) {
		t.Fatalf("unexpected single pixel contour: %+v", got)
	}
}

func TestSimplifyDropsCollinearPoints(t *testing.T) {
	var ring []geom.Vec2
	for x := 0; x < 10; x++ {
		ring = append(ring, geom.V(float64(x), 0))
	}
	for y := 0; y < 10; y++ {
		ring = append(ring, geom.V(10, float64(y)))
	}
	for x := 10; x > 0; x-- {
		ring = append(ring, geom.V(float64(x), 10))
	}
	for y := 10; y > 0; y-- {
		ring = append(ring, geom.V(0, float64(y)))
	}
	got := Simplify(ring, 0.01)
	want := []geom.Vec2{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	if len(got) != len(want) {
		t.Fatalf("unexpected simplified ring: got=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected corner %d: got=%v want=%v", i, got[i], want[i])
		}
	}
}

func TestSimplifyKeepsFeaturesAboveTolerance(t *testing.T) {
	ring := []geom.Vec2{{X: 0, Y: 0}, {X: 5, Y: 0.5}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	if got := Simplify(ring, 0.4); len(got) != 5 {
		t.Fatalf("unexpected point count at low tolerance: got=%d want=5", len(got))
	}
	if got := Simplify(ring, 0.6); len(got) != 4 {
		t.Fatalf("unexpected point count at high tolerance: got=%d want=4", len(got))
	}
}

func TestExtractBand(t *testing.T) {
	b, err := NewExtractor().Extract(bandMask(), 40)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(b.Outer) != 5 || b.Outer[0] != b.Outer[len(b.Outer)-1] {
		t.Fatalf("unexpected outer ring: %v", b.Outer)
	}
	if len(b.Inner) != 9 || b.Inner[0] != b.Inner[len(b.Inner)-1] {
		t.Fatalf("unexpected inner ring: %v", b.Inner)
	}
	if got := b.Outer[0]; !geom.ApproxEqual(got, geom.V(-14.5, 14.5), 1e-9) {
		t.Fatalf("unexpected outer start: got=%+v want=(-14.5, 14.5)", got)
	}
	ob := geom.BoundsOf(b.Outer)
	if !geom.ApproxEqual(ob.Min, geom.V(-14.5, -14.5), 1e-9) || !geom.ApproxEqual(ob.Max, geom.V(14.5, 14.5), 1e-9) {
		t.Fatalf("unexpected outer bounds: %+v", ob)
	}
	ib := geom.BoundsOf(b.Inner)
	if !geom.ApproxEqual(ib.Min, geom.V(-5.5, -5.5), 1e-9) || !geom.ApproxEqual(ib.Max, geom.V(5.5, 5.5), 1e-9) {
		t.Fatalf("unexpected inner bounds: %+v", ib)
	}
}

func TestExtractRejectsUnexpectedShapes(t *testing.T) {
	twoHoles := image.NewGray(image.Rect(0, 0, 40, 40))
	fillRect(twoHoles, image.Rect(5, 5, 35, 35), 255)
	fillRect(twoHoles, image.Rect(10, 10, 15, 15), 0)
	fillRect(twoHoles, image.Rect(20, 20, 30, 30), 0)

	solid := image.NewGray(image.Rect(0, 0, 40, 40))
	fillRect(solid, image.Rect(5, 5, 35, 35), 255)

	twoBands := bandMask()
	fillRect(twoBands, image.Rect(36, 36, 39, 39), 255)

	island := bandMask()
	fillRect(island, image.Rect(18, 18, 22, 22), 255)

	tests := []struct {
		name string
		mask *image.Gray
	}{
		{name: "blank", mask: image.NewGray(image.Rect(0, 0, 40, 40))},
		{name: "solid", mask: solid},
		{name: "two-holes", mask: twoHoles},
		{name: "two-bands", mask: twoBands},
		{name: "island", mask: island},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewExtractor().Extract(tc.mask, 40); !errors.Is(err, ErrHierarchy) {
				t.Fatalf("expected hierarchy error, got %v", err)
			}
		})
	}
}

func TestExtractRejectsDegenerateInput(t *testing.T) {
	if _, err := NewExtractor().Extract(image.NewGray(image.Rectangle{}), 40); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("expected degenerate error for empty mask, got %v", err)
	}
	if _, err := NewExtractor().Extract(bandMask(), 0); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("expected degenerate error for zero extent, got %v", err)
	}
}
