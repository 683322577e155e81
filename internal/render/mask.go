package render

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/vector"

	"carbrains/internal/curve"
	"carbrains/internal/geom"
)

type Config struct {
	// Resolution is the side of the square mask in pixels.
	Resolution int
	// HalfWidth is half the road width in world units.
	HalfWidth float64
	// Extent is the world-space side of the square covered by the mask.
	Extent float64
	// Detail is the number of centerline samples for spline tracks.
	Detail int
	// CornerDetail is the number of sides of the disc drawn at each sample.
	CornerDetail int
}

func DefaultConfig() Config {
	return Config{
		Resolution:   512,
		HalfWidth:    0.4,
		Extent:       12,
		Detail:       256,
		CornerDetail: 16,
	}
}

func (c Config) Validate() error {
	if c.Resolution < 8 {
		return fmt.Errorf("resolution must be >= 8, got %d", c.Resolution)
	}
	if c.HalfWidth <= 0 || c.Extent <= 0 {
		return fmt.Errorf("half width and extent must be > 0")
	}
	if c.Detail < 3 || c.CornerDetail < 3 {
		return fmt.Errorf("detail and corner detail must be >= 3")
	}
	return nil
}

// Rasterizer draws the road band around a centerline into an 8-bit mask:
// 255 on the road, 0 elsewhere, anti-aliased at the edges.
type Rasterizer struct {
	cfg Config
}

func NewRasterizer(cfg Config) (*Rasterizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Rasterizer{cfg: cfg}, nil
}

func (r *Rasterizer) WorldExtent() float64 {
	return r.cfg.Extent
}

// Rasterize fills one quad per centerline segment and one disc per sample.
// Every shape is wound the same way so overlaps accumulate instead of
// cancelling out.
func (r *Rasterizer) Rasterize(spline curve.Spline) (*image.Gray, error) {
	corners, err := spline.Corners(r.cfg.Detail)
	if err != nil {
		return nil, err
	}
	n := r.cfg.Resolution
	scale := float64(n) / r.cfg.Extent
	half := r.cfg.Extent / 2

	px := make([]geom.Vec2, len(corners))
	for i, c := range corners {
		px[i] = geom.V((c.X+half)*scale, (half-c.Y)*scale)
	}
	radius := r.cfg.HalfWidth * scale

	z := vector.NewRasterizer(n, n)
	for i, a := range px {
		b := px[(i+1)%len(px)]
		dir := b.Sub(a).Normalize()
		if dir == (geom.Vec2{}) {
			continue
		}
		side := dir.Perp().Scale(radius)
		fill(z, []geom.Vec2{a.Add(side), b.Add(side), b.Sub(side), a.Sub(side)})
	}
	disc := make([]geom.Vec2, r.cfg.CornerDetail)
	for _, c := range px {
		for k := range disc {
			angle := 2 * math.Pi * float64(k) / float64(len(disc))
			disc[k] = c.Add(geom.FromAngle(angle).Scale(radius))
		}
		fill(z, disc)
	}

	alpha := image.NewAlpha(image.Rect(0, 0, n, n))
	z.Draw(alpha, alpha.Bounds(), image.Opaque, image.Point{})
	return &image.Gray{Pix: alpha.Pix, Stride: alpha.Stride, Rect: alpha.Rect}, nil
}

func fill(z *vector.Rasterizer, poly []geom.Vec2) {
	reversed := geom.SignedArea(poly) < 0
	at := func(i int) geom.Vec2 {
		if reversed {
			return poly[len(poly)-1-i]
		}
		return poly[i]
	}
	first := at(0)
	z.MoveTo(float32(first.X), float32(first.Y))
	for i := 1; i < len(poly); i++ {
		p := at(i)
		z.LineTo(float32(p.X), float32(p.Y))
	}
	z.ClosePath()
}
