package shelfarm

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Transmitter is the request/response link the executor drives. *CommandChannel
// implements it.
type Transmitter interface {
	Request(ctx context.Context, message string, m Matcher) (Response, error)
}

// ProtocolConfig names the controller's command and acknowledgement tokens.
type ProtocolConfig struct {
	Greeting    string        `json:"greeting,omitempty" yaml:"greeting,omitempty"`
	Ack         string        `json:"ack,omitempty" yaml:"ack,omitempty"`
	MotionAck   string        `json:"motion_ack,omitempty" yaml:"motion_ack,omitempty"`
	GripOpen    string        `json:"grip_open,omitempty" yaml:"grip_open,omitempty"`
	GripClose   string        `json:"grip_close,omitempty" yaml:"grip_close,omitempty"`
	GripAck     string        `json:"grip_ack,omitempty" yaml:"grip_ack,omitempty"`
	Weigh       string        `json:"weigh,omitempty" yaml:"weigh,omitempty"`
	WeighReply  string        `json:"weigh_reply,omitempty" yaml:"weigh_reply,omitempty"`
	MotionSlack time.Duration `json:"motion_slack,omitempty" yaml:"motion_slack,omitempty"`
}

func (p *ProtocolConfig) applyDefaults() {
	if p.Greeting == "" {
		p.Greeting = defaultGreeting
	}
	if p.Ack == "" {
		p.Ack = defaultAck
	}
	if p.MotionAck == "" {
		p.MotionAck = "OK"
	}
	if p.GripOpen == "" {
		p.GripOpen = "GRIP OPEN"
	}
	if p.GripClose == "" {
		p.GripClose = "GRIP CLOSE"
	}
	if p.GripAck == "" {
		p.GripAck = p.MotionAck
	}
	if p.Weigh == "" {
		p.Weigh = "WEIGH"
	}
	if p.WeighReply == "" {
		p.WeighReply = "WEIGHT"
	}
	if p.MotionSlack == 0 {
		p.MotionSlack = 2 * time.Second
	}
}

// Step is the motion of one segment followed by its actions.
type Step struct {
	Phase    string
	Commands []MotorCommand
	Actions  []Action
	// Start is the commanded position before the step, in the coordinator's unit.
	Start []float64
}

// Program is a fully solved and coordinated plan, ready to transmit.
type Program struct {
	Plan   *MotionPlan
	Joints [][][]float64
	Steps  []Step
	// Final is the commanded joint position in radians after the last step.
	Final []float64
}

// Commands returns the number of motor commands across all steps.
func (p *Program) Commands() int {
	n := 0
	for _, s := range p.Steps {
		n += len(s.Commands)
	}
	return n
}

// ExecutionReport summarizes a completed program.
type ExecutionReport struct {
	Flow         Flow
	PartID       string
	CommandsSent int
	ActionsRun   int
	// Weights holds the fields of each weigh reply, in order.
	Weights [][]string
}

// Executor turns goals into programs and transmits them.
type Executor struct {
	sequencer   *Sequencer
	solver      IKSolver
	coordinator *Coordinator
	tx          Transmitter
	protocol    ProtocolConfig
	logger      logging.Logger
}

// NewExecutor wires the pipeline. tx may be nil for planning only executors.
func NewExecutor(seq *Sequencer, solver IKSolver, coord *Coordinator, tx Transmitter, protocol ProtocolConfig, logger logging.Logger) *Executor {
	protocol.applyDefaults()
	return &Executor{
		sequencer:   seq,
		solver:      solver,
		coordinator: coord,
		tx:          tx,
		protocol:    protocol,
		logger:      logger,
	}
}

// Prepare plans, solves and coordinates goal starting from the joint position start.
// Nothing is transmitted; an IK failure anywhere leaves no program.
func (e *Executor) Prepare(ctx context.Context, goal Goal, start []float64) (*Program, error) {
	plan, err := e.sequencer.Plan(goal)
	if err != nil {
		return nil, err
	}
	joints, err := e.sequencer.Solve(ctx, plan, e.solver, start)
	if err != nil {
		return nil, err
	}

	prog := &Program{Plan: plan, Joints: joints, Steps: make([]Step, len(plan.Segments))}
	var commanded []float64
	if start != nil {
		commanded = e.coordinator.fromRadians(start)
	}
	for i, seg := range plan.Segments {
		trajectory := make([][]float64, 0, len(joints[i]))
		for j, q := range joints[i] {
			if j == 0 && commanded != nil {
				trajectory = append(trajectory, commanded)
				continue
			}
			trajectory = append(trajectory, e.coordinator.fromRadians(q))
		}
		coord, err := e.coordinator.Coordinate(trajectory)
		if err != nil {
			return nil, errors.Wrapf(err, "coordinating phase %s", seg.Phase)
		}
		prog.Steps[i] = Step{Phase: seg.Phase, Commands: coord.Commands, Actions: seg.Actions}
		if len(trajectory) > 0 {
			prog.Steps[i].Start = trajectory[0]
		}
		commanded = coord.Commanded
	}
	prog.Final = e.coordinator.toRadians(commanded)
	return prog, nil
}

// Execute transmits prog, waiting for the acknowledgement of every command before the
// next is sent.
func (e *Executor) Execute(ctx context.Context, prog *Program) (*ExecutionReport, error) {
	if e.tx == nil {
		return nil, errors.Wrap(ErrNotConnected, "executor has no transmitter")
	}

	report := &ExecutionReport{Flow: prog.Plan.Flow, PartID: prog.Plan.Part.ID}
	for _, step := range prog.Steps {
		for k, cmd := range step.Commands {
			wait := time.Duration(cmd.DurationUS)*time.Microsecond + e.protocol.MotionSlack
			if _, err := e.request(ctx, cmd.Line(), Exact(e.protocol.MotionAck), wait); err != nil {
				return report, e.stopped(step, k, report, err)
			}
			report.CommandsSent++
		}
		for _, action := range step.Actions {
			if err := e.runAction(ctx, action, report); err != nil {
				return report, e.stopped(step, len(step.Commands), report, errors.Wrapf(err, "action %s", action))
			}
			report.ActionsRun++
		}
		e.logger.Debugf("phase %s done, %d commands sent", step.Phase, report.CommandsSent)
	}

	e.logger.Infof("%s of %q complete: %d commands, %d actions", report.Flow, report.PartID, report.CommandsSent, report.ActionsRun)
	return report, nil
}

func (e *Executor) stopped(step Step, acked int, report *ExecutionReport, err error) *ExecutionError {
	return &ExecutionError{
		Phase:     step.Phase,
		Sent:      report.CommandsSent,
		Commanded: e.commandedAfter(step, acked),
		Err:       err,
	}
}

// commandedAfter returns the joint position in radians once the first acked commands
// of step have run. Axes left inactive stay at the step's start.
func (e *Executor) commandedAfter(step Step, acked int) []float64 {
	if step.Start == nil {
		return nil
	}
	axes := e.coordinator.Registry().Axes()
	out := make([]float64, len(step.Start))
	for i, v := range step.Start {
		deg := e.coordinator.toDegrees(v)
		for _, cmd := range step.Commands[:acked] {
			deg += cmd.Steps(i) * axes[i].Profile.StepAngle()
		}
		out[i] = degToRad(deg)
	}
	return out
}

// Run prepares and executes goal.
func (e *Executor) Run(ctx context.Context, goal Goal, start []float64) (*ExecutionReport, *Program, error) {
	prog, err := e.Prepare(ctx, goal, start)
	if err != nil {
		return nil, nil, err
	}
	report, err := e.Execute(ctx, prog)
	return report, prog, err
}

func (e *Executor) runAction(ctx context.Context, action Action, report *ExecutionReport) error {
	wait := e.protocol.MotionSlack
	switch action {
	case ActionGripOpen:
		_, err := e.request(ctx, e.protocol.GripOpen, Exact(e.protocol.GripAck), wait)
		return err
	case ActionGripClose:
		_, err := e.request(ctx, e.protocol.GripClose, Exact(e.protocol.GripAck), wait)
		return err
	case ActionWeigh:
		resp, err := e.request(ctx, e.protocol.Weigh, Prefix(e.protocol.WeighReply), wait)
		if err != nil {
			return err
		}
		report.Weights = append(report.Weights, resp.Fields)
		if len(resp.Fields) > 0 {
			if grams, perr := strconv.ParseFloat(resp.Fields[0], 64); perr == nil {
				e.logger.Infof("part %q weighs %.1fg", report.PartID, grams)
			}
		}
		return nil
	default:
		return errors.Errorf("unknown action %d", int(action))
	}
}

func (e *Executor) request(ctx context.Context, message string, m Matcher, wait time.Duration) (Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return e.tx.Request(reqCtx, message, m)
}
