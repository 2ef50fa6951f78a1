package shelfarm

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// YawBucket maps a range of yaw deltas to the gripper rotation applied while traveling.
// A bucket covers (previous bucket's UpperDeg, UpperDeg].
type YawBucket struct {
	UpperDeg    float64 `json:"upper_deg" yaml:"upper_deg"`
	RotationDeg float64 `json:"rotation_deg" yaml:"rotation_deg"`
	// OverWrap marks rotations that wind the wrist far enough to need a corrective
	// detour later in the flow.
	OverWrap bool `json:"over_wrap,omitempty" yaml:"over_wrap,omitempty"`
}

// DefaultYawBuckets are the retrieve-flow rotations; the return flow mirrors the signs.
func DefaultYawBuckets() []YawBucket {
	return []YawBucket{
		{UpperDeg: -90, RotationDeg: 0},
		{UpperDeg: 0, RotationDeg: 90},
		{UpperDeg: 90, RotationDeg: -90},
		{UpperDeg: 180, RotationDeg: -180, OverWrap: true},
	}
}

// SequencerConfig holds the named poses and offsets a flow is planned against.
// Distances are millimeters.
type SequencerConfig struct {
	Idle         PoseConfig `json:"idle" yaml:"idle"`
	Staging      Point      `json:"staging" yaml:"staging"`
	DropOff      PoseConfig `json:"drop_off" yaml:"drop_off"`
	WeighStation PoseConfig `json:"weigh_station" yaml:"weigh_station"`

	// ApproachDistance is the radial standoff in front of a bin before inserting.
	ApproachDistance float64 `json:"approach_distance_mm,omitempty" yaml:"approach_distance_mm,omitempty"`
	LiftHeight       float64 `json:"lift_height_mm,omitempty" yaml:"lift_height_mm,omitempty"`
	// AboveHeight is the hover height over the drop-off and weigh station.
	AboveHeight float64 `json:"above_height_mm,omitempty" yaml:"above_height_mm,omitempty"`
	DetourLift  float64 `json:"detour_lift_mm,omitempty" yaml:"detour_lift_mm,omitempty"`

	LinearResolution   int `json:"linear_resolution,omitempty" yaml:"linear_resolution,omitempty"`
	CircularResolution int `json:"circular_resolution,omitempty" yaml:"circular_resolution,omitempty"`

	YawBuckets []YawBucket `json:"yaw_buckets,omitempty" yaml:"yaw_buckets,omitempty"`
}

// DefaultSequencerConfig returns a layout for the reference arm.
func DefaultSequencerConfig() SequencerConfig {
	var cfg SequencerConfig
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills every zero field, poses included, from the reference layout.
func (cfg *SequencerConfig) applyDefaults() {
	if cfg.Idle == (PoseConfig{}) {
		cfg.Idle = PoseConfig{Position: Point{X: 200, Y: 0, Z: 300}}
	}
	if cfg.Staging == (Point{}) {
		cfg.Staging = Point{X: 250, Y: 0, Z: 250}
	}
	if cfg.DropOff == (PoseConfig{}) {
		cfg.DropOff = PoseConfig{Position: Point{X: 0, Y: -250, Z: 100}, YawDeg: -90}
	}
	if cfg.WeighStation == (PoseConfig{}) {
		cfg.WeighStation = PoseConfig{Position: Point{X: 0, Y: 250, Z: 100}, YawDeg: 90}
	}
	if cfg.ApproachDistance == 0 {
		cfg.ApproachDistance = 60
	}
	if cfg.LiftHeight == 0 {
		cfg.LiftHeight = 20
	}
	if cfg.AboveHeight == 0 {
		cfg.AboveHeight = 80
	}
	if cfg.DetourLift == 0 {
		cfg.DetourLift = 30
	}
	if cfg.LinearResolution == 0 {
		cfg.LinearResolution = 10
	}
	if cfg.CircularResolution == 0 {
		cfg.CircularResolution = 25
	}
	if len(cfg.YawBuckets) == 0 {
		cfg.YawBuckets = DefaultYawBuckets()
	}
}

// Validate fills defaults and checks the yaw table.
func (cfg *SequencerConfig) Validate() error {
	cfg.applyDefaults()

	if cfg.LinearResolution < 2 || cfg.CircularResolution < 2 {
		return errors.Wrapf(ErrInvalidResolution, "linear %d, circular %d", cfg.LinearResolution, cfg.CircularResolution)
	}
	sort.SliceStable(cfg.YawBuckets, func(i, j int) bool { return cfg.YawBuckets[i].UpperDeg < cfg.YawBuckets[j].UpperDeg })
	if last := cfg.YawBuckets[len(cfg.YawBuckets)-1]; last.UpperDeg < 180 {
		return errors.Errorf("yaw buckets must cover up to 180°, last bucket ends at %v°", last.UpperDeg)
	}
	return nil
}

// Goal is one semantic task.
type Goal struct {
	Flow Flow
	Part PartLocation
}

// PathSegment is one planned phase.
type PathSegment struct {
	Phase     string
	Mode      PathMode
	IKMode    IKMode
	Waypoints []Waypoint
	// Actions run in order once the segment's motion completes.
	Actions []Action
}

// Start returns the first waypoint.
func (s PathSegment) Start() Waypoint { return s.Waypoints[0] }

// End returns the last waypoint.
func (s PathSegment) End() Waypoint { return s.Waypoints[len(s.Waypoints)-1] }

// MotionPlan is the full ordered set of segments for a goal.
type MotionPlan struct {
	Flow     Flow
	Part     PartLocation
	Segments []PathSegment
}

// Waypoints returns the total number of waypoints.
func (p *MotionPlan) Waypoints() int {
	n := 0
	for _, s := range p.Segments {
		n += len(s.Waypoints)
	}
	return n
}

// Validate checks every segment starts where the previous one ended.
func (p *MotionPlan) Validate() error {
	for i, s := range p.Segments {
		if len(s.Waypoints) < 2 {
			return errors.Errorf("segment %d (%s) has %d waypoints", i, s.Phase, len(s.Waypoints))
		}
		if i == 0 {
			continue
		}
		prev := p.Segments[i-1]
		if !prev.End().ApproxEqual(s.Start(), floatTolerance) {
			return errors.Errorf("segment %d (%s) starts at %v %v but %s ended at %v %v", i, s.Phase,
				s.Start().Position, s.Start().Orientation, prev.Phase, prev.End().Position, prev.End().Orientation)
		}
	}
	return nil
}

// Sequencer expands a Goal into a continuous MotionPlan by walking the flow's phase
// table.
type Sequencer struct {
	cfg     SequencerConfig
	planner *Planner
	logger  logging.Logger
}

// NewSequencer validates cfg and returns a sequencer with its own planner.
func NewSequencer(cfg SequencerConfig, logger logging.Logger) (*Sequencer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sequencer{cfg: cfg, planner: NewPlanner(), logger: logger}, nil
}

// Planner returns the planner whose log holds the paths of the last Plan call.
func (s *Sequencer) Planner() *Planner { return s.planner }

// Config returns the validated configuration.
func (s *Sequencer) Config() SequencerConfig { return s.cfg }

type planState struct {
	pose     Waypoint
	wrap     float64
	wrapped  bool
	detoured bool
}

// Plan builds the motion plan for goal. The planner log is cleared first.
func (s *Sequencer) Plan(goal Goal) (*MotionPlan, error) {
	phases, err := phasesFor(goal.Flow)
	if err != nil {
		return nil, err
	}
	s.planner.Clear()

	plan := &MotionPlan{Flow: goal.Flow, Part: goal.Part}
	state := planState{pose: s.cfg.Idle.Waypoint()}

	for _, ph := range phases {
		if ph.detour && !state.wrapped {
			continue
		}

		start := state.pose
		end := s.resolve(ph.target, goal.Part, start)
		points, err := s.planner.Generate(ph.name, ph.mode, start.Position, end, s.resolution(ph.mode))
		if err != nil {
			return nil, err
		}

		rule := ph.orient
		if state.detoured && ph.afterDetour != nil {
			rule = *ph.afterDetour
			state.detoured = false
		}
		orientations := s.orient(rule, goal.Flow, start, end, len(points), &state)

		seg := PathSegment{
			Phase:     ph.name,
			Mode:      ph.mode,
			IKMode:    ph.ikMode,
			Waypoints: make([]Waypoint, len(points)),
			Actions:   ph.actions,
		}
		for i := range points {
			seg.Waypoints[i] = Waypoint{Position: points[i], Orientation: orientations[i]}
		}
		appendSegment(plan, seg)
		state.pose = seg.End()
	}

	s.logger.Debugf("planned %s of %q: %d segments, %d waypoints", goal.Flow, goal.Part.ID, len(plan.Segments), plan.Waypoints())
	return plan, nil
}

// appendSegment panics if seg does not start where the plan currently ends. That can
// only happen through a bug in the phase table or orientation rules.
func appendSegment(plan *MotionPlan, seg PathSegment) {
	if n := len(plan.Segments); n > 0 {
		prev := plan.Segments[n-1].End()
		if !prev.ApproxEqual(seg.Start(), floatTolerance) {
			panic(fmt.Sprintf("phase %s breaks continuity: starts at %v %v, previous ended at %v %v",
				seg.Phase, seg.Start().Position, seg.Start().Orientation, prev.Position, prev.Orientation))
		}
	}
	plan.Segments = append(plan.Segments, seg)
}

func (s *Sequencer) resolution(mode PathMode) int {
	if mode == Circular {
		return s.cfg.CircularResolution
	}
	return s.cfg.LinearResolution
}

func (s *Sequencer) resolve(t target, part PartLocation, from Waypoint) r3.Vector {
	up := func(v r3.Vector, h float64) r3.Vector { return v.Add(r3.Vector{Z: h}) }
	switch t {
	case targetIdle:
		return s.cfg.Idle.Position.Vector()
	case targetStaging:
		return s.cfg.Staging.Vector()
	case targetPartApproach:
		return s.approach(part)
	case targetPart:
		return part.Position
	case targetPartLifted:
		return up(part.Position, s.cfg.LiftHeight)
	case targetPartRetracted:
		return up(s.approach(part), s.cfg.LiftHeight)
	case targetDropAbove:
		return up(s.cfg.DropOff.Position.Vector(), s.cfg.AboveHeight)
	case targetDrop:
		return s.cfg.DropOff.Position.Vector()
	case targetWeighAbove:
		return up(s.cfg.WeighStation.Position.Vector(), s.cfg.AboveHeight)
	case targetWeigh:
		return s.cfg.WeighStation.Position.Vector()
	case targetDetour:
		return up(from.Position, s.cfg.DetourLift)
	default:
		panic(fmt.Sprintf("unhandled target %d", t))
	}
}

// approach is the point ApproachDistance short of the part along the ray from the base.
func (s *Sequencer) approach(part PartLocation) r3.Vector {
	az := math.Atan2(part.Position.Y, part.Position.X)
	return part.Position.Sub(r3.Vector{X: math.Cos(az), Y: math.Sin(az)}.Mul(s.cfg.ApproachDistance))
}

func (s *Sequencer) orient(rule orientationRule, flow Flow, start Waypoint, end r3.Vector, n int, state *planState) []Quaternion {
	switch rule.kind {
	case orientDirectedYaw:
		delta := YawDelta(start.Position, end)
		bucket := s.bucket(delta)
		rotation := degToRad(bucket.RotationDeg)
		if flow == Return {
			rotation = -rotation
		}
		if bucket.OverWrap {
			state.wrapped = true
			state.wrap += rotation
			s.logger.Debugf("yaw delta %.1f° wraps the wrist by %.1f°, detour pending", radToDeg(delta), radToDeg(rotation))
		}
		return YawRamp(start.Orientation, rotation, n)
	case orientSlerp:
		return SlerpSequence(start.Orientation, s.named(rule.toward), n)
	case orientDetour:
		out := YawRamp(start.Orientation, -state.wrap, n)
		state.wrap = 0
		state.wrapped = false
		state.detoured = true
		return out
	default:
		return HoldSequence(start.Orientation, n)
	}
}

func (s *Sequencer) bucket(delta float64) YawBucket {
	deg := radToDeg(delta)
	for _, b := range s.cfg.YawBuckets {
		if deg <= b.UpperDeg+floatTolerance {
			return b
		}
	}
	return s.cfg.YawBuckets[len(s.cfg.YawBuckets)-1]
}

func (s *Sequencer) named(o namedOrientation) Quaternion {
	switch o {
	case orientationDropOff:
		return s.cfg.DropOff.Orientation()
	case orientationWeigh:
		return s.cfg.WeighStation.Orientation()
	default:
		return s.cfg.Idle.Orientation()
	}
}

// Solve runs IK over every waypoint of plan, seeding each call with the previous
// solution. The first failure aborts with an *IKFailure and no trajectory.
func (s *Sequencer) Solve(ctx context.Context, plan *MotionPlan, solver IKSolver, seed []float64) ([][][]float64, error) {
	out := make([][][]float64, len(plan.Segments))
	for i, seg := range plan.Segments {
		out[i] = make([][]float64, len(seg.Waypoints))
		for j, wp := range seg.Waypoints {
			joints, err := solver.Solve(ctx, wp.Pose(), seg.IKMode, seed)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, &IKFailure{Phase: seg.Phase, Segment: i, Waypoint: j, Target: wp, Err: err}
			}
			out[i][j] = joints
			seed = joints
		}
	}
	return out, nil
}
