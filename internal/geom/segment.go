package geom

import "math"

const segmentEpsilon = 1e-12

// Segment is a straight line between two points.
type Segment struct {
	A Vec2 `json:"a"`
	B Vec2 `json:"b"`
}

// Intersect reports whether s and o cross and, if so, the fraction along s
// where they meet. Parallel segments never intersect.
func (s Segment) Intersect(o Segment) (float64, bool) {
	r := s.B.Sub(s.A)
	q := o.B.Sub(o.A)
	denom := r.Cross(q)
	if math.Abs(denom) < segmentEpsilon {
		return 0, false
	}
	diff := o.A.Sub(s.A)
	t := diff.Cross(q) / denom
	u := diff.Cross(r) / denom
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}

// Distance returns the shortest distance from p to any point on s.
func (s Segment) Distance(p Vec2) float64 {
	d := s.B.Sub(s.A)
	lenSq := d.Dot(d)
	if lenSq < segmentEpsilon {
		return p.Dist(s.A)
	}
	t := p.Sub(s.A).Dot(d) / lenSq
	t = math.Max(0, math.Min(1, t))
	return p.Dist(Lerp(s.A, s.B, t))
}

// RayDistance casts a ray from origin along the unit vector dir and reports
// the distance to s when hit.
func (s Segment) RayDistance(origin, dir Vec2) (float64, bool) {
	q := s.B.Sub(s.A)
	denom := dir.Cross(q)
	if math.Abs(denom) < segmentEpsilon {
		return 0, false
	}
	diff := s.A.Sub(origin)
	t := diff.Cross(q) / denom
	u := diff.Cross(dir) / denom
	if t < 0 || u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}

// Ring turns a closed point list into segments, connecting the last point
// back to the first unless the list already repeats it.
func Ring(points []Vec2) []Segment {
	n := len(points)
	if n < 2 {
		return nil
	}
	if points[0] == points[n-1] {
		n--
	}
	out := make([]Segment, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Segment{A: points[i], B: points[(i+1)%n]})
	}
	return out
}

// SignedArea returns the shoelace area of a closed polygon; positive when
// the points run counter-clockwise in a y-up frame.
func SignedArea(points []Vec2) float64 {
	area := 0.0
	for i := range points {
		j := (i + 1) % len(points)
		area += points[i].Cross(points[j])
	}
	return area / 2
}
