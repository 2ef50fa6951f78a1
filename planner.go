package shelfarm

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PathMode selects how positions are interpolated within a segment.
type PathMode int

const (
	Linear PathMode = iota
	Circular
)

func (m PathMode) String() string {
	switch m {
	case Linear:
		return "linear"
	case Circular:
		return "circular"
	default:
		return "unknown"
	}
}

// PlannedPath is one entry of the planner log.
type PlannedPath struct {
	Tag    string
	Mode   PathMode
	Points []r3.Vector
}

// Planner generates point to point paths and keeps an ordered log of everything it
// generated, used to render or export a full plan.
type Planner struct {
	log []PlannedPath
}

// NewPlanner returns a planner with an empty log.
func NewPlanner() *Planner {
	return &Planner{}
}

// Linear samples p(t) = start + t(end-start) at resolution evenly spaced t in [0,1].
// The first and last points are exactly start and end.
func (p *Planner) Linear(tag string, start, end r3.Vector, resolution int) ([]r3.Vector, error) {
	if resolution < 2 {
		return nil, errors.Wrapf(ErrInvalidResolution, "linear path %q: got %d, need at least 2", tag, resolution)
	}

	last := resolution - 1
	diff := end.Sub(start)
	points := make([]r3.Vector, resolution)
	for i := range points {
		t := float64(i) / float64(last)
		points[i] = start.Add(diff.Mul(t))
	}
	points[0] = start
	points[last] = end

	p.record(tag, Linear, points)
	return points, nil
}

// Circular treats start and end as polar coordinates around Z. The azimuth is slerped
// between the two Z rotations while radius and height are interpolated linearly on their
// own, so endpoints at different radii or heights give a spiral arc.
func (p *Planner) Circular(tag string, start, end r3.Vector, resolution int) ([]r3.Vector, error) {
	if resolution < 2 {
		return nil, errors.Wrapf(ErrInvalidResolution, "circular path %q: got %d, need at least 2", tag, resolution)
	}

	startRot := RotationZ(math.Atan2(start.Y, start.X))
	endRot := RotationZ(math.Atan2(end.Y, end.X))
	startRadius := math.Hypot(start.X, start.Y)
	endRadius := math.Hypot(end.X, end.Y)

	last := resolution - 1
	points := make([]r3.Vector, resolution)
	for i := range points {
		t := float64(i) / float64(last)
		rot := Slerp(startRot, endRot, t)
		radius := startRadius + t*(endRadius-startRadius)
		height := start.Z + t*(end.Z-start.Z)
		points[i] = rot.Rotate(r3.Vector{X: radius}).Add(r3.Vector{Z: height})
	}
	points[0] = start
	points[last] = end

	p.record(tag, Circular, points)
	return points, nil
}

// Generate dispatches to Linear or Circular.
func (p *Planner) Generate(tag string, mode PathMode, start, end r3.Vector, resolution int) ([]r3.Vector, error) {
	if mode == Circular {
		return p.Circular(tag, start, end, resolution)
	}
	return p.Linear(tag, start, end, resolution)
}

// Log returns a copy of every path generated since the last Clear.
func (p *Planner) Log() []PlannedPath {
	out := make([]PlannedPath, len(p.log))
	for i, entry := range p.log {
		out[i] = PlannedPath{Tag: entry.Tag, Mode: entry.Mode, Points: append([]r3.Vector(nil), entry.Points...)}
	}
	return out
}

// Clear resets the log.
func (p *Planner) Clear() {
	p.log = nil
}

func (p *Planner) record(tag string, mode PathMode, points []r3.Vector) {
	p.log = append(p.log, PlannedPath{Tag: tag, Mode: mode, Points: append([]r3.Vector(nil), points...)})
}

// Slerp interpolates along the shortest arc between q1 and q2. t=0 and t=1 return the
// inputs unchanged.
func Slerp(q1, q2 Quaternion, t float64) Quaternion {
	if t <= 0 {
		return q1
	}
	if t >= 1 {
		return q2
	}

	a, b := q1.Number(), q2.Number()
	dot := q1.Dot(q2)
	if dot < 0 {
		b.Real, b.Imag, b.Jmag, b.Kmag = -b.Real, -b.Imag, -b.Jmag, -b.Kmag
		dot = -dot
	}
	dot = math.Max(-1, math.Min(1, dot))

	// nearly parallel: sin(theta) vanishes, fall back to a normalized lerp
	if dot > 1-1e-12 {
		return NewQuaternion(
			a.Real+t*(b.Real-a.Real),
			a.Imag+t*(b.Imag-a.Imag),
			a.Jmag+t*(b.Jmag-a.Jmag),
			a.Kmag+t*(b.Kmag-a.Kmag),
		)
	}

	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	s1 := math.Sin((1-t)*theta) / sinTheta
	s2 := math.Sin(t*theta) / sinTheta
	return NewQuaternion(
		s1*a.Real+s2*b.Real,
		s1*a.Imag+s2*b.Imag,
		s1*a.Jmag+s2*b.Jmag,
		s1*a.Kmag+s2*b.Kmag,
	)
}

// SlerpSequence returns n orientations slerped from `from` to `to`.
func SlerpSequence(from, to Quaternion, n int) []Quaternion {
	if n < 2 {
		return []Quaternion{to}
	}
	out := make([]Quaternion, n)
	for i := range out {
		out[i] = Slerp(from, to, float64(i)/float64(n-1))
	}
	return out
}

// YawRamp returns n orientations rotating `from` about world Z by a linearly increasing
// angle that reaches rotation at the last sample. The first sample is `from` itself.
func YawRamp(from Quaternion, rotation float64, n int) []Quaternion {
	if n < 2 {
		return []Quaternion{RotationZ(rotation).Mul(from)}
	}
	out := make([]Quaternion, n)
	out[0] = from
	for i := 1; i < n; i++ {
		out[i] = RotationZ(rotation * float64(i) / float64(n-1)).Mul(from)
	}
	return out
}

// HoldSequence repeats q n times.
func HoldSequence(q Quaternion, n int) []Quaternion {
	out := make([]Quaternion, n)
	for i := range out {
		out[i] = q
	}
	return out
}

// YawDelta returns the signed angle between the XY projections of from and to.
// Positive is counter-clockwise. A projection of zero length yields 0.
func YawDelta(from, to r3.Vector) float64 {
	a := r3.Vector{X: from.X, Y: from.Y}
	b := r3.Vector{X: to.X, Y: to.Y}
	na, nb := a.Norm(), b.Norm()
	if na < floatTolerance || nb < floatTolerance {
		return 0
	}

	cos := math.Max(-1, math.Min(1, a.Dot(b)/(na*nb)))
	angle := math.Acos(cos)
	if a.X*b.Y-a.Y*b.X < 0 {
		angle = -angle
	}
	return angle
}
