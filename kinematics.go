package shelfarm

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
)

// IKMode selects which parts of a target pose the solver must honor.
type IKMode int

const (
	// IKModeFull honors position and the complete tool orientation.
	IKModeFull IKMode = iota
	// IKModeAxis honors position and the tool approach axis; roll follows the seed.
	IKModeAxis
	// IKModePosition honors position only.
	IKModePosition
)

func (m IKMode) String() string {
	switch m {
	case IKModeFull:
		return "full"
	case IKModeAxis:
		return "axis"
	case IKModePosition:
		return "position"
	default:
		return fmt.Sprintf("IKMode(%d)", int(m))
	}
}

// IKSolver maps a tool pose to a joint vector. seed is the previous solution and may be
// nil; solvers use it to pick the branch closest to the current configuration.
type IKSolver interface {
	Solve(ctx context.Context, target spatialmath.Pose, mode IKMode, seed []float64) ([]float64, error)
}

// ArmGeometry holds the link lengths of the reference five axis arm, in millimeters.
type ArmGeometry struct {
	BaseHeight       float64 `json:"base_height_mm,omitempty" yaml:"base_height_mm,omitempty"`
	UpperArm         float64 `json:"upper_arm_mm,omitempty" yaml:"upper_arm_mm,omitempty"`
	Forearm          float64 `json:"forearm_mm,omitempty" yaml:"forearm_mm,omitempty"`
	ToolLength       float64 `json:"tool_length_mm,omitempty" yaml:"tool_length_mm,omitempty"`
	TiltToleranceDeg float64 `json:"tilt_tolerance_deg,omitempty" yaml:"tilt_tolerance_deg,omitempty"`
}

func (g *ArmGeometry) applyDefaults() error {
	if g.BaseHeight == 0 {
		g.BaseHeight = 120
	}
	if g.UpperArm == 0 {
		g.UpperArm = 220
	}
	if g.Forearm == 0 {
		g.Forearm = 220
	}
	if g.ToolLength == 0 {
		g.ToolLength = 80
	}
	if g.TiltToleranceDeg == 0 {
		g.TiltToleranceDeg = 1
	}
	if g.UpperArm < 0 || g.Forearm < 0 || g.ToolLength < 0 {
		return fmt.Errorf("arm link lengths must be positive, got upper %v forearm %v tool %v", g.UpperArm, g.Forearm, g.ToolLength)
	}
	return nil
}

// ArticulatedSolver is a closed-form solver for a base yaw, shoulder, elbow, wrist pitch,
// wrist roll arm whose tool points straight down. Joint angles are radians; shoulder is
// measured from horizontal and the elbow is kept above the shoulder-wrist line.
type ArticulatedSolver struct {
	geom ArmGeometry
}

// NewArticulatedSolver returns a solver for geom, filling default link lengths.
func NewArticulatedSolver(geom ArmGeometry) (*ArticulatedSolver, error) {
	if err := geom.applyDefaults(); err != nil {
		return nil, err
	}
	return &ArticulatedSolver{geom: geom}, nil
}

// Joints is the number of joints the solver returns.
func (s *ArticulatedSolver) Joints() int { return 5 }

// Solve implements IKSolver.
func (s *ArticulatedSolver) Solve(ctx context.Context, target spatialmath.Pose, mode IKMode, seed []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(seed) != 0 && len(seed) != s.Joints() {
		return nil, fmt.Errorf("seed has %d joints, solver has %d", len(seed), s.Joints())
	}

	q := QuaternionFromOrientation(target.Orientation())
	if mode != IKModePosition {
		axis := q.Rotate(r3.Vector{Z: -1})
		tilt := math.Acos(math.Max(-1, math.Min(1, -axis.Z)))
		if radToDeg(tilt) > s.geom.TiltToleranceDeg {
			return nil, errors.Wrapf(ErrUnreachable, "tool tilted %.2f° from vertical", radToDeg(tilt))
		}
	}

	wrist := target.Point().Add(r3.Vector{Z: s.geom.ToolLength})
	radius := math.Hypot(wrist.X, wrist.Y)
	height := wrist.Z - s.geom.BaseHeight
	l1, l2 := s.geom.UpperArm, s.geom.Forearm

	d := (radius*radius + height*height - l1*l1 - l2*l2) / (2 * l1 * l2)
	if d > 1 || d < -1 {
		return nil, errors.Wrapf(ErrUnreachable, "wrist center %v is %.1fmm from the shoulder, reach is [%.1f, %.1f]",
			wrist, math.Hypot(radius, height), math.Abs(l1-l2), l1+l2)
	}

	base := math.Atan2(wrist.Y, wrist.X)
	if radius < floatTolerance && len(seed) > 0 {
		base = seed[0]
	}
	elbow := -math.Acos(d)
	shoulder := math.Atan2(height, radius) - math.Atan2(l2*math.Sin(elbow), l1+l2*math.Cos(elbow))
	pitch := -math.Pi/2 - shoulder - elbow

	roll := 0.0
	switch {
	case mode == IKModeFull:
		roll = q.Yaw() - base
	case len(seed) > 0:
		roll = seed[4]
	}

	if len(seed) > 0 {
		base = nearestTurn(base, seed[0])
		roll = nearestTurn(roll, seed[4])
	}
	return []float64{base, shoulder, elbow, pitch, roll}, nil
}

// Forward returns the tool pose for joints.
func (s *ArticulatedSolver) Forward(joints []float64) (Waypoint, error) {
	if len(joints) != s.Joints() {
		return Waypoint{}, fmt.Errorf("got %d joints, solver has %d", len(joints), s.Joints())
	}
	base, shoulder, elbow, pitch, roll := joints[0], joints[1], joints[2], joints[3], joints[4]
	l1, l2, tool := s.geom.UpperArm, s.geom.Forearm, s.geom.ToolLength

	r := l1*math.Cos(shoulder) + l2*math.Cos(shoulder+elbow) + tool*math.Cos(shoulder+elbow+pitch)
	z := l1*math.Sin(shoulder) + l2*math.Sin(shoulder+elbow) + tool*math.Sin(shoulder+elbow+pitch)

	tilt := -(shoulder + elbow + pitch) - math.Pi/2
	return Waypoint{
		Position:    r3.Vector{X: r * math.Cos(base), Y: r * math.Sin(base), Z: z + s.geom.BaseHeight},
		Orientation: RotationZ(base + roll).Mul(AxisAngle(r3.Vector{Y: 1}, tilt)),
	}, nil
}

// nearestTurn returns angle shifted by whole turns to lie within π of ref.
func nearestTurn(angle, ref float64) float64 {
	return angle + 2*math.Pi*math.Round((ref-angle)/(2*math.Pi))
}
