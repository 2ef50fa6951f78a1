package shelfarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
)

// GripperModel exposes the controller's gripper as a standalone component. It shares
// the sequencer's channel when both name the same port.
var GripperModel = resource.NewModel("shelfarm", "pickplace", "gripper")

type GripperConfig struct {
	Port        string         `json:"port,omitempty"`
	Baudrate    int            `json:"baudrate,omitempty"`
	Timeout     time.Duration  `json:"timeout,omitempty"`
	MailboxSize int            `json:"mailbox_size,omitempty"`
	Protocol    ProtocolConfig `json:"protocol,omitempty"`

	// Jaw envelope in mm, used for the collision box
	JawSize *Point `json:"jaw_size,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *GripperConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, fmt.Errorf("%s: must specify port for serial communication", path)
	}
	if cfg.Baudrate == 0 {
		cfg.Baudrate = defaultBaudrate
	}
	if cfg.Baudrate < 0 {
		return nil, nil, fmt.Errorf("%s: baudrate must be positive, got %d", path, cfg.Baudrate)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MailboxSize == 0 {
		cfg.MailboxSize = defaultMailboxSize
	}
	cfg.Protocol.applyDefaults()
	return nil, nil, nil
}

func init() {
	resource.RegisterComponent(
		gripper.API,
		GripperModel,
		resource.Registration[gripper.Gripper, *GripperConfig]{
			Constructor: newGripper,
		},
	)
}

type channelGripper struct {
	resource.AlwaysRebuild

	name       resource.Name
	logger     logging.Logger
	channels   *ChannelRegistry
	port       string
	baudrate   int
	timeout    time.Duration
	channel    *CommandChannel
	protocol   ProtocolConfig
	geometries []spatialmath.Geometry

	mu       sync.Mutex
	isMoving atomic.Bool
	holding  atomic.Bool
}

func newGripper(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (gripper.Gripper, error) {
	cfg, err := resource.NativeConfig[*GripperConfig](conf)
	if err != nil {
		return nil, err
	}
	return NewGripper(ctx, conf.ResourceName(), cfg, globalChannels, logger)
}

// NewGripper acquires the controller channel for cfg.Port from channels.
func NewGripper(ctx context.Context, name resource.Name, cfg *GripperConfig, channels *ChannelRegistry, logger logging.Logger) (gripper.Gripper, error) {
	if _, _, err := cfg.Validate(name.ShortName()); err != nil {
		return nil, err
	}

	jaw := r3.Vector{X: 60, Y: 50, Z: 80}
	if cfg.JawSize != nil {
		jaw = cfg.JawSize.Vector()
	}
	jaws, err := spatialmath.NewBox(spatialmath.NewPoseFromPoint(r3.Vector{Z: jaw.Z / 2}), jaw, "jaws")
	if err != nil {
		return nil, fmt.Errorf("invalid jaw size: %w", err)
	}

	channel, err := channels.Acquire(ctx, newChannelConfig(cfg.Port, cfg.Baudrate, cfg.Timeout, cfg.MailboxSize, cfg.Protocol), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get shared channel for gripper: %w", err)
	}

	logger.Debugf("gripper on %s: open=%q close=%q ack=%q", cfg.Port, cfg.Protocol.GripOpen, cfg.Protocol.GripClose, cfg.Protocol.GripAck)
	return &channelGripper{
		name:       name,
		logger:     logger,
		channels:   channels,
		port:       cfg.Port,
		baudrate:   cfg.Baudrate,
		timeout:    cfg.Timeout,
		channel:    channel,
		protocol:   cfg.Protocol,
		geometries: []spatialmath.Geometry{jaws},
	}, nil
}

func (g *channelGripper) Name() resource.Name {
	return g.name
}

func (g *channelGripper) actuate(ctx context.Context, command string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.channel == nil {
		return ErrNotConnected
	}
	if err := reconnect(ctx, g.channel, g.baudrate, g.timeout, g.logger); err != nil {
		return err
	}

	g.isMoving.Store(true)
	defer g.isMoving.Store(false)

	ctx, cancel := context.WithTimeout(ctx, g.protocol.MotionSlack)
	defer cancel()
	if _, err := g.channel.Request(ctx, command, Exact(g.protocol.GripAck)); err != nil {
		return fmt.Errorf("gripper %q: %w", command, err)
	}
	return nil
}

func (g *channelGripper) Open(ctx context.Context, extra map[string]interface{}) error {
	g.logger.Debug("Opening gripper")
	if err := g.actuate(ctx, g.protocol.GripOpen); err != nil {
		return err
	}
	g.holding.Store(false)
	return nil
}

// Grab closes the jaws. The controller only acknowledges the command, so a successful
// close is reported as grabbed.
func (g *channelGripper) Grab(ctx context.Context, extra map[string]interface{}) (bool, error) {
	g.logger.Debug("Closing gripper")
	if err := g.actuate(ctx, g.protocol.GripClose); err != nil {
		return false, err
	}
	g.holding.Store(true)
	return true, nil
}

func (g *channelGripper) Stop(ctx context.Context, extra map[string]interface{}) error {
	// grip commands run to completion on the controller
	return nil
}

func (g *channelGripper) IsMoving(ctx context.Context) (bool, error) {
	return g.isMoving.Load(), nil
}

func (g *channelGripper) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return g.geometries, nil
}

func (g *channelGripper) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "open":
		return map[string]interface{}{"success": true}, g.Open(ctx, nil)
	case "grab":
		grabbed, err := g.Grab(ctx, nil)
		return map[string]interface{}{"grabbed": grabbed}, err
	case "status":
		refs, state, _ := g.channels.Status(g.port)
		return map[string]interface{}{
			"port":      g.port,
			"state":     state.String(),
			"ref_count": refs,
			"holding":   g.holding.Load(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (g *channelGripper) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.channel == nil {
		return nil
	}
	g.channel = nil
	return g.channels.Release(g.port)
}

func (g *channelGripper) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return nil, errors.ErrUnsupported
}

func (g *channelGripper) GoToInputs(ctx context.Context, inputs ...[]referenceframe.Input) error {
	return errors.ErrUnsupported
}

func (g *channelGripper) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return nil, errors.ErrUnsupported
}

func (g *channelGripper) IsHoldingSomething(ctx context.Context, extra map[string]interface{}) (gripper.HoldingStatus, error) {
	return gripper.HoldingStatus{IsHoldingSomething: g.holding.Load()}, nil
}
