package shelfarm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// AngleUnit is the unit of incoming joint vectors.
type AngleUnit string

const (
	Radians AngleUnit = "radians"
	Degrees AngleUnit = "degrees"
)

// CoordinatorConfig tunes motor coordination.
type CoordinatorConfig struct {
	// MinFrequency is the step rate (Hz) at or below which an axis is deferred rather
	// than driven in a shared command.
	MinFrequency float64   `json:"min_frequency_hz,omitempty" yaml:"min_frequency_hz,omitempty"`
	Unit         AngleUnit `json:"angle_unit,omitempty" yaml:"angle_unit,omitempty"`
}

const defaultMinFrequency = 5.0

func (cfg *CoordinatorConfig) applyDefaults() error {
	if cfg.MinFrequency == 0 {
		cfg.MinFrequency = defaultMinFrequency
	}
	if cfg.MinFrequency < 0 {
		return fmt.Errorf("min_frequency_hz must not be negative, got %v", cfg.MinFrequency)
	}
	switch cfg.Unit {
	case "":
		cfg.Unit = Radians
	case Radians, Degrees:
	default:
		return fmt.Errorf("angle_unit must be %q or %q, got %q", Radians, Degrees, cfg.Unit)
	}
	return nil
}

// MotorCommand is one synchronized step burst: every axis runs at its signed frequency
// for the shared duration.
type MotorCommand struct {
	Frequencies []float64
	DurationUS  uint64
}

// Line serializes the command for the controller: frequencies in reverse axis order
// with two decimals, then the duration in microseconds, newline terminated.
func (c MotorCommand) Line() string {
	fields := make([]string, 0, len(c.Frequencies)+1)
	for i := len(c.Frequencies) - 1; i >= 0; i-- {
		fields = append(fields, formatFrequency(c.Frequencies[i]))
	}
	fields = append(fields, strconv.FormatUint(c.DurationUS, 10))
	return strings.Join(fields, ",") + "\n"
}

func (c MotorCommand) String() string {
	return strings.TrimSuffix(c.Line(), "\n")
}

// Steps returns the signed steps the command drives on axis i.
func (c MotorCommand) Steps(i int) float64 {
	return c.Frequencies[i] * float64(c.DurationUS) / 1e6
}

func formatFrequency(f float64) string {
	if math.Abs(f) < 0.005 {
		return "0"
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// ParseMotorCommand reverses Line for a controller with the given axis count.
func ParseMotorCommand(line string, axes int) (MotorCommand, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != axes+1 {
		return MotorCommand{}, fmt.Errorf("motor command %q: expected %d fields, got %d", line, axes+1, len(fields))
	}

	cmd := MotorCommand{Frequencies: make([]float64, axes)}
	for i := 0; i < axes; i++ {
		f, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return MotorCommand{}, errors.Wrapf(err, "motor command %q: frequency field %d", line, i)
		}
		cmd.Frequencies[axes-1-i] = f
	}
	d, err := strconv.ParseUint(strings.TrimSpace(fields[axes]), 10, 64)
	if err != nil {
		return MotorCommand{}, errors.Wrapf(err, "motor command %q: duration", line)
	}
	if d == 0 {
		return MotorCommand{}, fmt.Errorf("motor command %q: zero duration", line)
	}
	cmd.DurationUS = d
	return cmd, nil
}

// Coordination is the result of coordinating one joint trajectory.
type Coordination struct {
	Commands []MotorCommand
	// Commanded is the position every axis is at once Commands complete, in the
	// coordinator's angle unit. Feed it back as the start of the next trajectory so
	// sub-step residuals keep carrying.
	Commanded []float64
	// Skipped lists axes whose deferred rotation could not be flushed.
	Skipped []string
}

// Coordinator turns joint-space waypoints into synchronized motor commands.
type Coordinator struct {
	registry *MotorRegistry
	cfg      CoordinatorConfig
	logger   logging.Logger
}

// NewCoordinator validates cfg and binds it to registry.
func NewCoordinator(registry *MotorRegistry, cfg CoordinatorConfig, logger logging.Logger) (*Coordinator, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &Coordinator{registry: registry, cfg: cfg, logger: logger}, nil
}

// Registry returns the motor registry the coordinator reads from.
func (c *Coordinator) Registry() *MotorRegistry {
	return c.registry
}

type deferredMotion struct {
	degrees float64
	seconds float64
}

// Coordinate emits commands moving the arm through waypoints. waypoints[0] is taken as
// the current commanded position.
func (c *Coordinator) Coordinate(waypoints [][]float64) (*Coordination, error) {
	axes := c.registry.Axes()
	n := len(axes)
	for i, wp := range waypoints {
		if len(wp) != n {
			return nil, errors.Wrapf(ErrAxisMismatch, "waypoint %d has %d joints, registry has %d axes", i, len(wp), n)
		}
	}
	if len(waypoints) == 0 {
		return &Coordination{}, nil
	}

	commanded := make([]float64, n)
	for i, v := range waypoints[0] {
		commanded[i] = c.toDegrees(v)
	}

	out := &Coordination{}
	deferred := make([]deferredMotion, n)
	deltas := make([]float64, n)

	for k := 1; k < len(waypoints); k++ {
		duration := 0.0
		for i, axis := range axes {
			deltas[i] = 0
			target := c.toDegrees(waypoints[k][i])
			if !axis.Active {
				// not driven; track the target so reactivation does not replay history
				commanded[i] = target
				continue
			}
			d := target - commanded[i]
			if math.Abs(d) < axis.Profile.StepAngle() {
				continue
			}
			deltas[i] = d
			duration = math.Max(duration, math.Abs(d)*60/(360*axis.Profile.MaxSpeedRPM))
		}
		if duration == 0 {
			continue
		}

		durationUS := roundMicros(duration)
		seconds := float64(durationUS) / 1e6

		cmd := MotorCommand{Frequencies: make([]float64, n), DurationUS: durationUS}
		driven := false
		for i, axis := range axes {
			if deltas[i] == 0 {
				continue
			}
			commanded[i] += deltas[i]
			f := deltas[i] / axis.Profile.StepAngle() / seconds
			if math.Abs(f) <= c.cfg.MinFrequency {
				deferred[i].degrees += deltas[i]
				deferred[i].seconds += seconds
				continue
			}
			cmd.Frequencies[i] = f
			driven = true
		}
		if driven {
			out.Commands = append(out.Commands, cmd)
		}
	}

	for i, axis := range axes {
		fragment := deferred[i]
		stepAngle := axis.Profile.StepAngle()
		if fragment.degrees == 0 {
			continue
		}
		if math.Abs(fragment.degrees) < stepAngle {
			// never driven; carry it into the next trajectory
			commanded[i] -= fragment.degrees
			continue
		}
		maxFreq := axis.Profile.MaxFrequency()
		if maxFreq <= 0 {
			c.logger.Warnf("cannot flush %.3f° deferred on axis %q: no usable max frequency", fragment.degrees, axis.Profile.Name)
			commanded[i] -= fragment.degrees
			out.Skipped = append(out.Skipped, axis.Profile.Name)
			continue
		}

		steps := fragment.degrees / stepAngle
		durationUS := uint64(math.Ceil(math.Abs(steps) / maxFreq * 1e6))
		if durationUS < 1 {
			durationUS = 1
		}
		cmd := MotorCommand{Frequencies: make([]float64, n), DurationUS: durationUS}
		cmd.Frequencies[i] = steps / (float64(durationUS) / 1e6)
		c.logger.Debugf("flushing %.3f° on axis %q deferred over %.3fs", fragment.degrees, axis.Profile.Name, fragment.seconds)
		out.Commands = append(out.Commands, cmd)
	}

	out.Commanded = make([]float64, n)
	for i, v := range commanded {
		out.Commanded[i] = c.fromDegrees(v)
	}
	return out, nil
}

// fromRadians converts solver output to the coordinator's unit.
func (c *Coordinator) fromRadians(joints []float64) []float64 {
	out := make([]float64, len(joints))
	for i, v := range joints {
		out[i] = c.fromDegrees(radToDeg(v))
	}
	return out
}

func (c *Coordinator) toRadians(joints []float64) []float64 {
	if joints == nil {
		return nil
	}
	out := make([]float64, len(joints))
	for i, v := range joints {
		out[i] = degToRad(c.toDegrees(v))
	}
	return out
}

func roundMicros(seconds float64) uint64 {
	us := math.Round(seconds * 1e6)
	if us < 1 {
		return 1
	}
	return uint64(us)
}

func (c *Coordinator) toDegrees(v float64) float64 {
	if c.cfg.Unit == Degrees {
		return v
	}
	return radToDeg(v)
}

func (c *Coordinator) fromDegrees(v float64) float64 {
	if c.cfg.Unit == Degrees {
		return v
	}
	return degToRad(v)
}
