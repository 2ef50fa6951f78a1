package shelfarm

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSolver(t *testing.T) *ArticulatedSolver {
	t.Helper()
	s, err := NewArticulatedSolver(ArmGeometry{})
	require.NoError(t, err)
	return s
}

func TestSolverRoundTrip(t *testing.T) {
	s := newTestSolver(t)
	ctx := context.Background()

	targets := []Waypoint{
		{Position: r3.Vector{X: 200, Z: 300}},
		{Position: r3.Vector{X: 250, Y: 0, Z: 250}, Orientation: RotationZ(0.4)},
		{Position: r3.Vector{X: -200, Y: 50, Z: 150}, Orientation: RotationZ(-2.8)},
		{Position: r3.Vector{Y: -250, Z: 100}, Orientation: RotationZ(-math.Pi / 2)},
	}
	for _, target := range targets {
		joints, err := s.Solve(ctx, target.Pose(), IKModeFull, nil)
		require.NoError(t, err, "target %v", target.Position)
		require.Len(t, joints, 5)

		got, err := s.Forward(joints)
		require.NoError(t, err)
		assert.True(t, vectorsApproxEqual(target.Position, got.Position, 1e-6), "target %v, forward %v", target.Position, got.Position)
		assert.True(t, target.Orientation.SameRotation(got.Orientation, 1e-6), "target %v, forward %v", target.Orientation, got.Orientation)
		// elbow stays up
		assert.LessOrEqual(t, joints[2], 0.0)
	}
}

func TestSolverUnreachable(t *testing.T) {
	s := newTestSolver(t)
	_, err := s.Solve(context.Background(), Waypoint{Position: r3.Vector{X: 900, Z: 100}}.Pose(), IKModeFull, nil)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestSolverRejectsTilt(t *testing.T) {
	s := newTestSolver(t)
	tilted := Waypoint{Position: r3.Vector{X: 200, Z: 200}, Orientation: AxisAngle(r3.Vector{Y: 1}, 0.3)}

	_, err := s.Solve(context.Background(), tilted.Pose(), IKModeFull, nil)
	assert.ErrorIs(t, err, ErrUnreachable)
	_, err = s.Solve(context.Background(), tilted.Pose(), IKModeAxis, nil)
	assert.ErrorIs(t, err, ErrUnreachable)

	_, err = s.Solve(context.Background(), tilted.Pose(), IKModePosition, nil)
	assert.NoError(t, err)
}

func TestSolverFollowsSeed(t *testing.T) {
	s := newTestSolver(t)
	ctx := context.Background()
	target := Waypoint{Position: r3.Vector{X: 200, Y: 10, Z: 200}, Orientation: RotationZ(0.1)}

	seed := []float64{2 * math.Pi, 0.5, -1, 0, 2 * math.Pi}
	joints, err := s.Solve(ctx, target.Pose(), IKModeFull, seed)
	require.NoError(t, err)
	assert.InDelta(t, 2*math.Pi, joints[0], 0.2)
	assert.InDelta(t, 2*math.Pi, joints[4], 0.2)

	// axis mode leaves roll where the seed had it
	seed[4] = 1.25
	joints, err = s.Solve(ctx, target.Pose(), IKModeAxis, seed)
	require.NoError(t, err)
	assert.InDelta(t, 1.25, joints[4], 1e-12)

	_, err = s.Solve(ctx, target.Pose(), IKModeFull, []float64{1, 2})
	assert.Error(t, err)
}

func TestSolverHonorsContext(t *testing.T) {
	s := newTestSolver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Solve(ctx, Waypoint{Position: r3.Vector{X: 200, Z: 300}}.Pose(), IKModeFull, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestArmGeometryDefaults(t *testing.T) {
	g := ArmGeometry{}
	require.NoError(t, g.applyDefaults())
	assert.Equal(t, 220.0, g.UpperArm)
	assert.Equal(t, 80.0, g.ToolLength)

	_, err := NewArticulatedSolver(ArmGeometry{UpperArm: -1})
	assert.Error(t, err)
}

func TestNearestTurn(t *testing.T) {
	assert.InDelta(t, 2*math.Pi+0.1, nearestTurn(0.1, 2*math.Pi), 1e-12)
	assert.InDelta(t, -0.1, nearestTurn(2*math.Pi-0.1, 0), 1e-12)
	assert.InDelta(t, 0.3, nearestTurn(0.3, 0.2), 1e-12)
}
