package physics

import (
	"fmt"
	"math"
	"sort"

	"carbrains/internal/geom"
	"carbrains/internal/track"
)

type Config struct {
	Acceleration   float64
	Braking        float64
	Reverse        float64
	Steering       float64
	LinearDamping  float64
	AngularDamping float64
	CarRadius      float64
	RayCount       int
	RaySpread      float64
	RayRange       float64
	// SettleFrames is how many polls pass after LoadTrack before the
	// boundary colliders report settled.
	SettleFrames int
}

func DefaultConfig() Config {
	return Config{
		Acceleration:   6,
		Braking:        10,
		Reverse:        2,
		Steering:       25,
		LinearDamping:  1.5,
		AngularDamping: 8,
		CarRadius:      0.08,
		RayCount:       5,
		RaySpread:      math.Pi,
		RayRange:       5,
		SettleFrames:   2,
	}
}

func (c Config) Validate() error {
	if c.Acceleration < 0 || c.Braking < 0 || c.Reverse < 0 || c.Steering < 0 {
		return fmt.Errorf("forces must be >= 0")
	}
	if c.LinearDamping < 0 || c.AngularDamping < 0 {
		return fmt.Errorf("damping must be >= 0")
	}
	if c.CarRadius <= 0 {
		return fmt.Errorf("car radius must be > 0")
	}
	if c.RayCount < 1 || c.RayRange <= 0 {
		return fmt.Errorf("ray count and range must be > 0")
	}
	if c.SettleFrames < 0 {
		return fmt.Errorf("settle frames must be >= 0")
	}
	return nil
}

type ContactKind int

const (
	ContactWall ContactKind = iota + 1
	ContactCheckpoint
)

func (k ContactKind) String() string {
	switch k {
	case ContactWall:
		return "wall"
	case ContactCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// Contact is a collision or trigger reported by Step.
type Contact struct {
	Car        int
	Kind       ContactKind
	Checkpoint int
}

// Car is the rigid state of one vehicle.
type Car struct {
	Position        geom.Vec2 `json:"position"`
	Heading         float64   `json:"heading"`
	Velocity        geom.Vec2 `json:"velocity"`
	AngularVelocity float64   `json:"angular_velocity"`
	Active          bool      `json:"active"`

	throttle float64
	steer    float64
}

func (c *Car) forward() geom.Vec2 { return geom.FromAngle(c.Heading) }

// World is a deterministic top-down simulation of cars between the two
// boundary rings of a track, with checkpoint gates as triggers.
type World struct {
	cfg    Config
	walls  []geom.Segment
	gates  []track.Checkpoint
	start  track.Pose
	cars   []Car
	settle int
}

func NewWorld(cfg Config) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &World{cfg: cfg}, nil
}

// LoadTrack replaces the colliders and gates. Cars are left in place until
// respawned.
func (w *World) LoadTrack(t *track.Track) {
	w.walls = t.Walls()
	w.gates = append(w.gates[:0], t.Checkpoints...)
	w.start = t.Start
	w.settle = w.cfg.SettleFrames
}

// PollSettled is called once per frame after LoadTrack and reports whether
// the colliders are in place.
func (w *World) PollSettled() bool {
	if w.settle > 0 {
		w.settle--
		return false
	}
	return true
}

func (w *World) SpawnCars(n int) {
	w.cars = make([]Car, n)
	for i := range w.cars {
		w.Respawn(i)
	}
}

func (w *World) RemoveCars() {
	w.cars = nil
}

func (w *World) CarCount() int {
	return len(w.cars)
}

func (w *World) Car(i int) Car {
	return w.cars[i]
}

// Respawn puts car i on the start line, at rest and inactive.
func (w *World) Respawn(i int) {
	w.cars[i] = Car{Position: w.start.Position, Heading: w.start.Heading}
}

func (w *World) Activate(i int) {
	w.cars[i].Active = true
}

// Stall deactivates car i and kills its motion.
func (w *World) Stall(i int) {
	c := &w.cars[i]
	c.Active = false
	c.Velocity = geom.Vec2{}
	c.AngularVelocity = 0
	c.throttle, c.steer = 0, 0
}

// SensorCount is the length of the slice Sense fills: signed speed plus one
// distance per ray.
func (w *World) SensorCount() int {
	return 1 + w.cfg.RayCount
}

// Sense writes signed speed followed by ray distances, left to right.
func (w *World) Sense(i int, out []float64) {
	c := &w.cars[i]
	speed := c.Velocity.Len()
	if c.Velocity.Dot(c.forward()) < 0 {
		speed = -speed
	}
	out[0] = speed
	for k := 0; k < w.cfg.RayCount; k++ {
		out[1+k] = w.castRay(c.Position, geom.FromAngle(c.Heading+w.rayOffset(k)))
	}
}

func (w *World) rayOffset(k int) float64 {
	if w.cfg.RayCount == 1 {
		return 0
	}
	return w.cfg.RaySpread/2 - float64(k)*w.cfg.RaySpread/float64(w.cfg.RayCount-1)
}

func (w *World) castRay(origin, dir geom.Vec2) float64 {
	best := w.cfg.RayRange
	for _, wall := range w.walls {
		if d, ok := wall.RayDistance(origin, dir); ok && d < best {
			best = d
		}
	}
	return best
}

// Drive stores the controls for the next step: outputs[0] is throttle/brake
// and outputs[1] steering, both clamped to [-1, 1]. Positive steering turns
// clockwise.
func (w *World) Drive(i int, outputs []float64) {
	c := &w.cars[i]
	c.throttle, c.steer = 0, 0
	if len(outputs) > 0 {
		c.throttle = clampUnit(outputs[0])
	}
	if len(outputs) > 1 {
		c.steer = clampUnit(outputs[1])
	}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

// Step integrates every active car by dt and returns the contacts that
// happened during the step, ordered by car and then by distance travelled.
// A car touching a wall is stalled where it stood before the step.
func (w *World) Step(dt float64) []Contact {
	var contacts []Contact
	for i := range w.cars {
		c := &w.cars[i]
		if !c.Active {
			continue
		}

		fwd := c.forward()
		switch {
		case c.throttle >= 0:
			c.Velocity = c.Velocity.Add(fwd.Scale(c.throttle * w.cfg.Acceleration * dt))
		case c.Velocity.Dot(fwd) > 0:
			c.Velocity = c.Velocity.Add(fwd.Scale(c.throttle * w.cfg.Braking * dt))
		default:
			c.Velocity = c.Velocity.Add(fwd.Scale(c.throttle * w.cfg.Reverse * dt))
		}
		c.AngularVelocity -= c.steer * w.cfg.Steering * dt

		c.Velocity = c.Velocity.Scale(1 / (1 + w.cfg.LinearDamping*dt))
		c.AngularVelocity /= 1 + w.cfg.AngularDamping*dt

		next := c.Position.Add(c.Velocity.Scale(dt))
		path := geom.Segment{A: c.Position, B: next}

		if w.hitsWall(path) {
			w.Stall(i)
			contacts = append(contacts, Contact{Car: i, Kind: ContactWall})
			continue
		}

		contacts = append(contacts, w.crossedGates(i, path)...)
		c.Position = next
		c.Heading += c.AngularVelocity * dt
	}
	return contacts
}

func (w *World) hitsWall(path geom.Segment) bool {
	for _, wall := range w.walls {
		if _, ok := path.Intersect(wall); ok {
			return true
		}
		if wall.Distance(path.B) < w.cfg.CarRadius {
			return true
		}
	}
	return false
}

func (w *World) crossedGates(car int, path geom.Segment) []Contact {
	type hit struct {
		at    float64
		index int
	}
	var hits []hit
	for _, g := range w.gates {
		if at, ok := path.Intersect(g.Gate); ok {
			hits = append(hits, hit{at: at, index: g.Index})
		}
	}
	sort.Slice(hits, func(a, b int) bool { return hits[a].at < hits[b].at })
	out := make([]Contact, 0, len(hits))
	for _, h := range hits {
		out = append(out, Contact{Car: car, Kind: ContactCheckpoint, Checkpoint: h.index})
	}
	return out
}
