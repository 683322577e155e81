package contour

import "carbrains/internal/geom"

// Perimeter returns the length of the closed ring through points.
func Perimeter(points []geom.Vec2) float64 {
	total := 0.0
	for i := range points {
		total += points[i].Dist(points[(i+1)%len(points)])
	}
	return total
}

// Simplify reduces a closed ring with Douglas-Peucker. The ring is split at
// point 0 and at the point farthest from it; each half is then simplified
// so no dropped point lies farther than tolerance from the result. The
// output is open (first point not repeated).
func Simplify(ring []geom.Vec2, tolerance float64) []geom.Vec2 {
	n := len(ring)
	if n < 3 {
		return append([]geom.Vec2(nil), ring...)
	}

	far, farDist := 0, -1.0
	for i := 1; i < n; i++ {
		if d := ring[i].Dist(ring[0]); d > farDist {
			far, farDist = i, d
		}
	}

	closed := make([]geom.Vec2, n+1)
	copy(closed, ring)
	closed[n] = ring[0]

	keep := make([]bool, n+1)
	keep[0], keep[far], keep[n] = true, true, true

	type span struct{ from, to int }
	stack := []span{{0, far}, {far, n}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		seg := geom.Segment{A: closed[s.from], B: closed[s.to]}
		best, bestDist := -1, -1.0
		for m := s.from + 1; m < s.to; m++ {
			if d := seg.Distance(closed[m]); d > bestDist {
				best, bestDist = m, d
			}
		}
		if best >= 0 && bestDist > tolerance {
			keep[best] = true
			stack = append(stack, span{s.from, best}, span{best, s.to})
		}
	}

	out := make([]geom.Vec2, 0, n)
	for i := 0; i < n; i++ {
		if keep[i] {
			out = append(out, ring[i])
		}
	}
	return out
}
