package curve

import (
	"fmt"

	"carbrains/internal/geom"
)

type heading int

const (
	headingUp heading = iota
	headingRight
	headingDown
	headingLeft
)

func (h heading) turnRight() heading { return (h + 1) % 4 }
func (h heading) turnLeft() heading  { return (h + 3) % 4 }

func (h heading) step() (int, int) {
	switch h {
	case headingUp:
		return 0, 1
	case headingRight:
		return 1, 0
	case headingDown:
		return 0, -1
	default:
		return -1, 0
	}
}

// Moore curve L-system: F steps forward, + turns right, - turns left.
const mooreAxiom = "LFL+F+LFL"

var mooreRules = map[byte]string{
	'L': "-RF+LFL+FR-",
	'R': "+LF-RFR-FL+",
}

type turtle struct {
	x, y   int
	dir    heading
	points [][2]int
}

func (t *turtle) run(program string, level int) {
	for i := 0; i < len(program); i++ {
		switch c := program[i]; c {
		case 'F':
			dx, dy := t.dir.step()
			t.x += dx
			t.y += dy
			t.points = append(t.points, [2]int{t.x, t.y})
		case '+':
			t.dir = t.dir.turnRight()
		case '-':
			t.dir = t.dir.turnLeft()
		default:
			if level > 0 {
				t.run(mooreRules[c], level-1)
			}
		}
	}
}

// MooreCurve returns the points of a closed Moore curve of the given degree,
// normalized so the bounding box spans [-0.5, 0.5] on both axes. The last
// point is adjacent to the first; the loop is closed implicitly.
func MooreCurve(degree int) ([]geom.Vec2, error) {
	if degree < 0 {
		return nil, fmt.Errorf("%w: moore degree must be >= 0, got %d", ErrDegree, degree)
	}

	t := &turtle{dir: headingUp, points: [][2]int{{0, 0}}}
	t.run(mooreAxiom, degree)

	raw := make([]geom.Vec2, len(t.points))
	for i, p := range t.points {
		raw[i] = geom.V(float64(p[0]), float64(p[1]))
	}

	bounds := geom.BoundsOf(raw)
	center := bounds.Center()
	w, h := bounds.Width(), bounds.Height()
	for i, p := range raw {
		raw[i] = geom.V((p.X-center.X)/w, (p.Y-center.Y)/h)
	}
	return raw, nil
}
