package contour

import "image"

// DefaultCutoff is the binarization threshold: pixels strictly brighter
// than it are foreground.
const DefaultCutoff uint8 = 127

// Contour is one border found in a binary image. Parent indexes into the
// slice returned by FindContours, or is -1 for top-level borders.
type Contour struct {
	Points []image.Point
	Hole   bool
	Parent int
}

// neighbour offsets in clockwise order on a y-down grid, starting east
var (
	stepX = [8]int{1, 1, 0, -1, -1, -1, 0, 1}
	stepY = [8]int{0, 1, 1, 1, 0, -1, -1, -1}
)

func direction(dx, dy int) int {
	for d := 0; d < 8; d++ {
		if stepX[d] == dx && stepY[d] == dy {
			return d
		}
	}
	return 0
}

// labels is the working grid for border following: the thresholded image
// with a one-pixel zero frame, overwritten with border numbers as borders
// are traced.
type labels struct {
	w, h int
	cell []int32
}

func newLabels(mask *image.Gray, cutoff uint8) *labels {
	b := mask.Bounds()
	l := &labels{w: b.Dx() + 2, h: b.Dy() + 2}
	l.cell = make([]int32, l.w*l.h)
	for y := 0; y < b.Dy(); y++ {
		row := mask.Pix[y*mask.Stride : y*mask.Stride+b.Dx()]
		for x, v := range row {
			if v > cutoff {
				l.cell[(y+1)*l.w+x+1] = 1
			}
		}
	}
	return l
}

func (l *labels) at(x, y int) int32     { return l.cell[y*l.w+x] }
func (l *labels) set(x, y int, v int32) { l.cell[y*l.w+x] = v }

type border struct {
	hole   bool
	parent int32
	points []image.Point
}

// FindContours traces every border of the binary image obtained by
// thresholding mask at cutoff, with 8-connected foreground, and recovers the
// full parent/child tree (Suzuki and Abe, 1985).
func FindContours(mask *image.Gray, cutoff uint8) []Contour {
	l := newLabels(mask, cutoff)
	origin := mask.Bounds().Min

	// border 1 is the image frame, which behaves as a hole
	borders := []border{{}, {hole: true}}
	nbd := int32(1)

	for y := 1; y < l.h-1; y++ {
		lnbd := int32(1)
		for x := 1; x < l.w-1; x++ {
			v := l.at(x, y)
			var (
				start  bool
				hole   bool
				fx, fy int
			)
			switch {
			case v == 1 && l.at(x-1, y) == 0:
				start, fx, fy = true, x-1, y
			case v >= 1 && l.at(x+1, y) == 0:
				start, hole, fx, fy = true, true, x+1, y
				if v > 1 {
					lnbd = v
				}
			}

			if start {
				nbd++
				prev := borders[lnbd]
				parent := lnbd
				if prev.hole == hole {
					parent = prev.parent
				}
				points := l.follow(x, y, fx, fy, nbd, origin)
				borders = append(borders, border{hole: hole, parent: parent, points: points})
			}

			if v := l.at(x, y); v != 0 && v != 1 {
				if v < 0 {
					v = -v
				}
				lnbd = v
			}
		}
	}

	out := make([]Contour, 0, len(borders)-2)
	for _, b := range borders[2:] {
		parent := -1
		if b.parent > 1 {
			parent = int(b.parent) - 2
		}
		out = append(out, Contour{Points: b.points, Hole: b.hole, Parent: parent})
	}
	return out
}

// follow traces one border starting at (x0, y0) whose background neighbour
// is (fx, fy), labelling visited pixels with nbd.
func (l *labels) follow(x0, y0, fx, fy int, nbd int32, origin image.Point) []image.Point {
	d0 := direction(fx-x0, fy-y0)
	found := -1
	for k := 0; k < 8; k++ {
		d := (d0 + k) % 8
		if l.at(x0+stepX[d], y0+stepY[d]) != 0 {
			found = d
			break
		}
	}
	if found < 0 {
		l.set(x0, y0, -nbd)
		return []image.Point{{X: x0 - 1 + origin.X, Y: y0 - 1 + origin.Y}}
	}

	x1, y1 := x0+stepX[found], y0+stepY[found]
	x2, y2 := x1, y1
	x3, y3 := x0, y0
	var points []image.Point
	for {
		d2 := direction(x2-x3, y2-y3)
		eastClear := false
		x4, y4 := x3, y3
		for k := 1; k <= 8; k++ {
			d := (d2 - k + 8) % 8
			nx, ny := x3+stepX[d], y3+stepY[d]
			if l.at(nx, ny) != 0 {
				x4, y4 = nx, ny
				break
			}
			if d == 0 {
				eastClear = true
			}
		}

		if eastClear {
			l.set(x3, y3, -nbd)
		} else if l.at(x3, y3) == 1 {
			l.set(x3, y3, nbd)
		}
		points = append(points, image.Point{X: x3 - 1 + origin.X, Y: y3 - 1 + origin.Y})

		if x4 == x0 && y4 == y0 && x3 == x1 && y3 == y1 {
			return points
		}
		x2, y2 = x3, y3
		x3, y3 = x4, y4
	}
}
