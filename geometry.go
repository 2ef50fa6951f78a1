package shelfarm

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/num/quat"
)

const floatTolerance = 1e-9

// Quaternion is an immutable unit quaternion. The zero value is the identity rotation.
type Quaternion struct {
	n quat.Number
}

// NewQuaternion returns the normalized quaternion w + xi + yj + zk. A zero-norm input
// yields the identity.
func NewQuaternion(w, x, y, z float64) Quaternion {
	return quaternionFromNumber(quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z})
}

// IdentityQuaternion is the rotation that leaves every vector unchanged.
func IdentityQuaternion() Quaternion {
	return Quaternion{n: quat.Number{Real: 1}}
}

// RotationZ returns the rotation of angle radians about the world Z axis.
func RotationZ(angle float64) Quaternion {
	return Quaternion{n: quat.Number{Real: math.Cos(angle / 2), Kmag: math.Sin(angle / 2)}}
}

// AxisAngle returns the rotation of angle radians about axis.
func AxisAngle(axis r3.Vector, angle float64) Quaternion {
	if axis.Norm() < floatTolerance {
		return IdentityQuaternion()
	}
	axis = axis.Normalize()
	s := math.Sin(angle / 2)
	return NewQuaternion(math.Cos(angle/2), axis.X*s, axis.Y*s, axis.Z*s)
}

// EulerZYX builds the rotation yaw about Z, then pitch about Y, then roll about X.
func EulerZYX(yaw, pitch, roll float64) Quaternion {
	return RotationZ(yaw).
		Mul(AxisAngle(r3.Vector{Y: 1}, pitch)).
		Mul(AxisAngle(r3.Vector{X: 1}, roll))
}

func quaternionFromNumber(n quat.Number) Quaternion {
	norm := quat.Abs(n)
	if norm < floatTolerance || math.IsNaN(norm) {
		return IdentityQuaternion()
	}
	return Quaternion{n: quat.Scale(1/norm, n)}
}

// Number returns the underlying gonum quaternion.
func (q Quaternion) Number() quat.Number {
	if q.n == (quat.Number{}) {
		return quat.Number{Real: 1}
	}
	return q.n
}

// Mul composes q after o (q·o) and renormalizes the product.
func (q Quaternion) Mul(o Quaternion) Quaternion {
	return quaternionFromNumber(quat.Mul(q.Number(), o.Number()))
}

// Conj returns the inverse rotation.
func (q Quaternion) Conj() Quaternion {
	return Quaternion{n: quat.Conj(q.Number())}
}

// Dot returns the 4-D dot product of q and o.
func (q Quaternion) Dot(o Quaternion) float64 {
	a, b := q.Number(), o.Number()
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// Rotate applies the rotation to v.
func (q Quaternion) Rotate(v r3.Vector) r3.Vector {
	n := q.Number()
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(n, p), quat.Conj(n))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Yaw returns the heading of the rotation about Z in (-π, π].
func (q Quaternion) Yaw() float64 {
	n := q.Number()
	return math.Atan2(2*(n.Real*n.Kmag+n.Imag*n.Jmag), 1-2*(n.Jmag*n.Jmag+n.Kmag*n.Kmag))
}

// ApproxEqual compares components within tol. q and -q are treated as different.
func (q Quaternion) ApproxEqual(o Quaternion, tol float64) bool {
	a, b := q.Number(), o.Number()
	return math.Abs(a.Real-b.Real) <= tol &&
		math.Abs(a.Imag-b.Imag) <= tol &&
		math.Abs(a.Jmag-b.Jmag) <= tol &&
		math.Abs(a.Kmag-b.Kmag) <= tol
}

// SameRotation reports whether q and o describe the same rotation (q ≡ -q).
func (q Quaternion) SameRotation(o Quaternion, tol float64) bool {
	return math.Abs(math.Abs(q.Dot(o))-1) <= tol
}

// Orientation converts q to an rdk axis-angle orientation.
func (q Quaternion) Orientation() spatialmath.Orientation {
	n := q.Number()
	if n.Real < 0 {
		n = quat.Scale(-1, n)
	}
	theta := 2 * math.Acos(math.Min(1, n.Real))
	s := math.Sqrt(math.Max(0, 1-n.Real*n.Real))
	if s < floatTolerance {
		return &spatialmath.R4AA{Theta: 0, RX: 0, RY: 0, RZ: 1}
	}
	return &spatialmath.R4AA{Theta: theta, RX: n.Imag / s, RY: n.Jmag / s, RZ: n.Kmag / s}
}

// QuaternionFromOrientation converts any rdk orientation to a Quaternion.
func QuaternionFromOrientation(o spatialmath.Orientation) Quaternion {
	if o == nil {
		return IdentityQuaternion()
	}
	return quaternionFromNumber(o.Quaternion())
}

func (q Quaternion) String() string {
	n := q.Number()
	return fmt.Sprintf("(%.4f, %.4f, %.4f, %.4f)", n.Real, n.Imag, n.Jmag, n.Kmag)
}

// Waypoint is one position and orientation sample along a planned path.
type Waypoint struct {
	Position    r3.Vector
	Orientation Quaternion
}

// Pose returns the waypoint as an rdk pose.
func (w Waypoint) Pose() spatialmath.Pose {
	return spatialmath.NewPose(w.Position, w.Orientation.Orientation())
}

// ApproxEqual compares position and orientation within tol.
func (w Waypoint) ApproxEqual(o Waypoint, tol float64) bool {
	return vectorsApproxEqual(w.Position, o.Position, tol) && w.Orientation.ApproxEqual(o.Orientation, tol)
}

func vectorsApproxEqual(a, b r3.Vector, tol float64) bool {
	return math.Abs(a.X-b.X) <= tol && math.Abs(a.Y-b.Y) <= tol && math.Abs(a.Z-b.Z) <= tol
}

// Point is a configuration-friendly position in millimeters.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Vector converts the point to an r3 vector.
func (p Point) Vector() r3.Vector {
	return r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
}

// PoseConfig is a named pose as written in configuration: a position plus ZYX Euler
// angles in degrees.
type PoseConfig struct {
	Position Point   `json:"position" yaml:"position"`
	YawDeg   float64 `json:"yaw_deg,omitempty" yaml:"yaw_deg,omitempty"`
	PitchDeg float64 `json:"pitch_deg,omitempty" yaml:"pitch_deg,omitempty"`
	RollDeg  float64 `json:"roll_deg,omitempty" yaml:"roll_deg,omitempty"`
}

// Waypoint converts the configured pose.
func (p PoseConfig) Waypoint() Waypoint {
	return Waypoint{
		Position:    p.Position.Vector(),
		Orientation: p.Orientation(),
	}
}

// Orientation converts the configured Euler angles.
func (p PoseConfig) Orientation() Quaternion {
	return EulerZYX(degToRad(p.YawDeg), degToRad(p.PitchDeg), degToRad(p.RollDeg))
}

func degToRad(deg float64) float64 { return deg * math.Pi / 180 }

func radToDeg(rad float64) float64 { return rad * 180 / math.Pi }
