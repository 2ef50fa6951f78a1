package shelfarm

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// MotorProfile describes one stepper axis. Profiles are read-only once registered.
type MotorProfile struct {
	Name               string  `json:"name" yaml:"name"`
	MaxSpeedRPM        float64 `json:"max_speed_rpm" yaml:"max_speed_rpm"`
	MaxAcceleration    float64 `json:"max_acceleration,omitempty" yaml:"max_acceleration,omitempty"`
	StepsPerRevolution int     `json:"steps_per_revolution" yaml:"steps_per_revolution"`
	MaxTorque          float64 `json:"max_torque,omitempty" yaml:"max_torque,omitempty"`
	// Disabled starts the axis deactivated.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// StepAngle returns degrees of rotation per step.
func (p MotorProfile) StepAngle() float64 {
	if p.StepsPerRevolution <= 0 {
		return 0
	}
	return 360 / float64(p.StepsPerRevolution)
}

// MaxFrequency returns the step rate in Hz at max speed.
func (p MotorProfile) MaxFrequency() float64 {
	return p.MaxSpeedRPM * float64(p.StepsPerRevolution) / 60
}

func (p MotorProfile) validate() error {
	if p.Name == "" {
		return errors.New("motor profile must have a name")
	}
	if p.StepsPerRevolution <= 0 {
		return fmt.Errorf("motor %q: steps_per_revolution must be positive, got %d", p.Name, p.StepsPerRevolution)
	}
	if p.MaxSpeedRPM <= 0 {
		return fmt.Errorf("motor %q: max_speed_rpm must be positive, got %v", p.Name, p.MaxSpeedRPM)
	}
	return nil
}

// DefaultMotorProfiles returns the five axes of the reference arm in joint order.
func DefaultMotorProfiles() []MotorProfile {
	return []MotorProfile{
		{Name: "base", MaxSpeedRPM: 30, MaxAcceleration: 200, StepsPerRevolution: 3200, MaxTorque: 1.2},
		{Name: "shoulder", MaxSpeedRPM: 20, MaxAcceleration: 150, StepsPerRevolution: 6400, MaxTorque: 2.4},
		{Name: "elbow", MaxSpeedRPM: 25, MaxAcceleration: 150, StepsPerRevolution: 6400, MaxTorque: 1.8},
		{Name: "wrist_pitch", MaxSpeedRPM: 40, MaxAcceleration: 300, StepsPerRevolution: 3200, MaxTorque: 0.6},
		{Name: "wrist_roll", MaxSpeedRPM: 60, MaxAcceleration: 400, StepsPerRevolution: 3200, MaxTorque: 0.4},
	}
}

// MotorAxisState pairs a profile with its activation flag.
type MotorAxisState struct {
	Profile MotorProfile
	Active  bool
}

// MotorRegistry is the ordered set of motor axes. Axis order matches joint vector order.
// Activation may be toggled concurrently with coordination; coordinators work from a
// snapshot taken by Axes.
type MotorRegistry struct {
	mu    sync.RWMutex
	axes  []MotorAxisState
	index map[string]int
}

// NewMotorRegistry registers the given profiles in order.
func NewMotorRegistry(profiles []MotorProfile) (*MotorRegistry, error) {
	if len(profiles) == 0 {
		return nil, errors.New("at least one motor profile is required")
	}

	r := &MotorRegistry{
		axes:  make([]MotorAxisState, 0, len(profiles)),
		index: make(map[string]int, len(profiles)),
	}
	for _, p := range profiles {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.index[p.Name]; dup {
			return nil, fmt.Errorf("duplicate motor profile %q", p.Name)
		}
		r.index[p.Name] = len(r.axes)
		r.axes = append(r.axes, MotorAxisState{Profile: p, Active: !p.Disabled})
	}
	return r, nil
}

// Len returns the number of axes.
func (r *MotorRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.axes)
}

// Lookup returns the current state of the named axis.
func (r *MotorRegistry) Lookup(name string) (MotorAxisState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[name]
	if !ok {
		return MotorAxisState{}, errors.Wrapf(ErrUnknownAxis, "%q", name)
	}
	return r.axes[i], nil
}

// Activate enables the named axis.
func (r *MotorRegistry) Activate(name string) error {
	return r.setActive(name, true)
}

// Deactivate disables the named axis; coordinators emit 0 Hz for it.
func (r *MotorRegistry) Deactivate(name string) error {
	return r.setActive(name, false)
}

func (r *MotorRegistry) setActive(name string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[name]
	if !ok {
		return errors.Wrapf(ErrUnknownAxis, "%q", name)
	}
	r.axes[i].Active = active
	return nil
}

// Axes returns a snapshot of every axis in joint order.
func (r *MotorRegistry) Axes() []MotorAxisState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]MotorAxisState(nil), r.axes...)
}
