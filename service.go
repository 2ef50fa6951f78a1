package shelfarm

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
)

// Model is the pick-and-place sequencer service.
var Model = resource.NewModel("shelfarm", "pickplace", "sequencer")

func init() {
	resource.RegisterService(
		generic.API,
		Model,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newPickPlace,
		})
}

// PickPlace plans and runs retrieve/return tasks against one motor controller.
type PickPlace struct {
	resource.Named
	resource.AlwaysRebuild

	logger   logging.Logger
	cfg      *Config
	registry *MotorRegistry
	parts    PartLocator
	seq      *Sequencer
	executor *Executor
	channels *ChannelRegistry
	channel  *CommandChannel

	// one task at a time; joints is the commanded position after the last task
	mu     sync.Mutex
	joints []float64
}

func newPickPlace(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (resource.Resource, error) {
	cfg, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}
	return NewPickPlace(ctx, conf.ResourceName(), cfg, globalChannels, logger)
}

// NewPickPlace builds the service. When cfg.Port is set the controller channel is
// acquired from channels and connected before returning.
func NewPickPlace(ctx context.Context, name resource.Name, cfg *Config, channels *ChannelRegistry, logger logging.Logger) (*PickPlace, error) {
	if _, _, err := cfg.Validate(name.ShortName()); err != nil {
		return nil, err
	}

	layout, fromFile, err := cfg.LoadLayout(logger)
	if err != nil {
		return nil, err
	}
	if fromFile {
		logger.Debugf("using layout file %s", cfg.LayoutFile)
	}

	registry, err := NewMotorRegistry(cfg.Motors)
	if err != nil {
		return nil, err
	}
	solver, err := NewArticulatedSolver(cfg.Arm)
	if err != nil {
		return nil, err
	}
	if registry.Len() != solver.Joints() {
		return nil, fmt.Errorf("%d motors configured, arm has %d joints", registry.Len(), solver.Joints())
	}
	coord, err := NewCoordinator(registry, cfg.Coordinator, logger)
	if err != nil {
		return nil, err
	}
	seq, err := NewSequencer(layout.Sequencer, logger)
	if err != nil {
		return nil, err
	}

	s := &PickPlace{
		Named:    name.AsNamed(),
		logger:   logger,
		cfg:      cfg,
		registry: registry,
		parts:    layout.Parts,
		seq:      seq,
		channels: channels,
	}

	var tx Transmitter
	if cfg.Port != "" {
		channel, err := channels.Acquire(ctx, newChannelConfig(cfg.Port, cfg.Baudrate, cfg.Timeout, cfg.MailboxSize, cfg.Protocol), logger)
		if err != nil {
			return nil, err
		}
		s.channel = channel
		tx = channel
	}
	s.executor = NewExecutor(seq, solver, coord, tx, cfg.Protocol, logger)
	return s, nil
}

// Retrieve moves partID from its shelf bin to the drop-off.
func (s *PickPlace) Retrieve(ctx context.Context, partID string) (*ExecutionReport, error) {
	return s.run(ctx, Retrieve, partID)
}

// ReturnPart moves the part at the drop-off back to partID's bin via the weigh station.
func (s *PickPlace) ReturnPart(ctx context.Context, partID string) (*ExecutionReport, error) {
	return s.run(ctx, Return, partID)
}

func (s *PickPlace) run(ctx context.Context, flow Flow, partID string) (*ExecutionReport, error) {
	goal, err := s.goal(ctx, flow, partID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil {
		return nil, errors.Wrap(ErrNotConnected, "no port configured")
	}
	if err := reconnect(ctx, s.channel, s.cfg.Baudrate, s.cfg.Timeout, s.logger); err != nil {
		return nil, err
	}

	report, prog, err := s.executor.Run(ctx, goal, s.joints)
	if prog != nil && err == nil {
		s.joints = prog.Final
	}
	if err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			// the arm stopped mid-program; the next task starts from where it was left
			s.joints = execErr.Commanded
			s.logger.Warnf("task stopped in %s, arm left at %v", execErr.Phase, execErr.Commanded)
		}
		return report, err
	}
	return report, nil
}

// Prepare plans and coordinates a task without transmitting it.
func (s *PickPlace) Prepare(ctx context.Context, flow Flow, partID string) (*Program, error) {
	goal, err := s.goal(ctx, flow, partID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executor.Prepare(ctx, goal, s.joints)
}

func (s *PickPlace) goal(ctx context.Context, flow Flow, partID string) (Goal, error) {
	if partID == "" {
		return Goal{}, errors.New("part id is required")
	}
	loc, err := s.parts.Locate(ctx, partID)
	if err != nil {
		return Goal{}, err
	}
	return Goal{Flow: flow, Part: loc}, nil
}

// DoCommand dispatches on cmd["command"].
func (s *PickPlace) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "retrieve", "return":
		partID, _ := cmd["part"].(string)
		run := s.Retrieve
		if cmd["command"] == "return" {
			run = s.ReturnPart
		}
		report, err := run(ctx, partID)
		if err != nil {
			return reportToMap(report, err), err
		}
		return reportToMap(report, nil), nil

	case "plan":
		flowName, _ := cmd["flow"].(string)
		flow, err := ParseFlow(flowName)
		if err != nil {
			return nil, err
		}
		partID, _ := cmd["part"].(string)
		prog, err := s.Prepare(ctx, flow, partID)
		if err != nil {
			return nil, err
		}
		return programToMap(prog), nil

	case "export_plan":
		s.mu.Lock()
		log := s.seq.Planner().Log()
		s.mu.Unlock()
		paths := make([]interface{}, 0, len(log))
		for _, entry := range log {
			points := make([]interface{}, 0, len(entry.Points))
			for _, p := range entry.Points {
				points = append(points, []interface{}{p.X, p.Y, p.Z})
			}
			paths = append(paths, map[string]interface{}{
				"tag":    entry.Tag,
				"mode":   entry.Mode.String(),
				"points": points,
			})
		}
		return map[string]interface{}{"paths": paths}, nil

	case "motors":
		return map[string]interface{}{"motors": motorsToList(s.registry.Axes())}, nil

	case "activate_motor", "deactivate_motor":
		axis, ok := cmd["axis"].(string)
		if !ok {
			return nil, fmt.Errorf("%s command requires 'axis' string parameter", cmd["command"])
		}
		toggle := s.registry.Activate
		if cmd["command"] == "deactivate_motor" {
			toggle = s.registry.Deactivate
		}
		if err := toggle(axis); err != nil {
			return nil, err
		}
		state, err := s.registry.Lookup(axis)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"axis": axis, "active": state.Active}, nil

	case "discover_ports":
		probe, _ := cmd["probe"].(bool)
		ports, err := DiscoverPorts(ctx, DiscoveryOptions{
			Probe:    probe,
			Baudrate: s.cfg.Baudrate,
			Greeting: s.cfg.Protocol.Greeting,
			Ack:      s.cfg.Protocol.Ack,
		}, s.logger)
		if err != nil {
			return nil, err
		}
		list := make([]interface{}, 0, len(ports))
		for _, p := range ports {
			list = append(list, map[string]interface{}{
				"name":       p.Name,
				"suffix":     p.Suffix,
				"usb":        p.IsUSB,
				"vid":        p.VID,
				"pid":        p.PID,
				"product":    p.Product,
				"responding": p.Responding,
			})
		}
		return map[string]interface{}{"ports": list}, nil

	case "status":
		result := map[string]interface{}{
			"port":  s.cfg.Port,
			"parts": len(s.partIDs()),
			"state": Disconnected.String(),
		}
		s.mu.Lock()
		channel := s.channel
		s.mu.Unlock()
		if channel != nil {
			result["state"] = channel.State().String()
			if refs, _, ok := s.channels.Status(s.cfg.Port); ok {
				result["ref_count"] = refs
			}
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (s *PickPlace) partIDs() []string {
	if table, ok := s.parts.(PartTable); ok {
		return table.IDs()
	}
	return nil
}

// Close releases the controller channel.
func (s *PickPlace) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil {
		return nil
	}
	s.channel = nil
	return s.channels.Release(s.cfg.Port)
}

func reportToMap(report *ExecutionReport, err error) map[string]interface{} {
	result := map[string]interface{}{"success": err == nil}
	if report != nil {
		result["flow"] = report.Flow.String()
		result["part"] = report.PartID
		result["commands_sent"] = report.CommandsSent
		result["actions_run"] = report.ActionsRun
		if len(report.Weights) > 0 {
			weights := make([]interface{}, 0, len(report.Weights))
			for _, w := range report.Weights {
				fields := make([]interface{}, len(w))
				for i, f := range w {
					fields[i] = f
				}
				weights = append(weights, fields)
			}
			result["weights"] = weights
		}
	}
	if err != nil {
		result["error"] = err.Error()
	}
	return result
}

func programToMap(prog *Program) map[string]interface{} {
	segments := make([]interface{}, 0, len(prog.Plan.Segments))
	for i, seg := range prog.Plan.Segments {
		actions := make([]interface{}, 0, len(seg.Actions))
		for _, a := range seg.Actions {
			actions = append(actions, a.String())
		}
		lines := make([]interface{}, 0, len(prog.Steps[i].Commands))
		for _, c := range prog.Steps[i].Commands {
			lines = append(lines, c.String())
		}
		segments = append(segments, map[string]interface{}{
			"phase":     seg.Phase,
			"mode":      seg.Mode.String(),
			"waypoints": len(seg.Waypoints),
			"actions":   actions,
			"commands":  lines,
		})
	}
	return map[string]interface{}{
		"flow":           prog.Plan.Flow.String(),
		"part":           prog.Plan.Part.ID,
		"segments":       segments,
		"total_commands": prog.Commands(),
	}
}

func motorsToList(axes []MotorAxisState) []interface{} {
	out := make([]interface{}, 0, len(axes))
	for _, a := range axes {
		out = append(out, map[string]interface{}{
			"name":                 a.Profile.Name,
			"active":               a.Active,
			"max_speed_rpm":        a.Profile.MaxSpeedRPM,
			"steps_per_revolution": a.Profile.StepsPerRevolution,
			"step_angle_deg":       a.Profile.StepAngle(),
			"max_frequency_hz":     a.Profile.MaxFrequency(),
		})
	}
	return out
}
