package shelfarm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMotorProfileDerived(t *testing.T) {
	p := MotorProfile{Name: "base", MaxSpeedRPM: 60, StepsPerRevolution: 200}
	assert.InDelta(t, 1.8, p.StepAngle(), 1e-12)
	assert.InDelta(t, 200.0, p.MaxFrequency(), 1e-12)
	assert.Zero(t, MotorProfile{}.StepAngle())
}

func TestNewMotorRegistryValidates(t *testing.T) {
	tests := []struct {
		name     string
		profiles []MotorProfile
	}{
		{name: "empty", profiles: nil},
		{name: "missing name", profiles: []MotorProfile{{MaxSpeedRPM: 10, StepsPerRevolution: 200}}},
		{name: "zero steps", profiles: []MotorProfile{{Name: "a", MaxSpeedRPM: 10}}},
		{name: "zero speed", profiles: []MotorProfile{{Name: "a", StepsPerRevolution: 200}}},
		{name: "duplicate", profiles: []MotorProfile{
			{Name: "a", MaxSpeedRPM: 10, StepsPerRevolution: 200},
			{Name: "a", MaxSpeedRPM: 10, StepsPerRevolution: 200},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMotorRegistry(tt.profiles)
			assert.Error(t, err)
		})
	}
}

func TestMotorRegistryActivation(t *testing.T) {
	profiles := DefaultMotorProfiles()
	profiles[4].Disabled = true
	r, err := NewMotorRegistry(profiles)
	require.NoError(t, err)
	assert.Equal(t, 5, r.Len())

	roll, err := r.Lookup("wrist_roll")
	require.NoError(t, err)
	assert.False(t, roll.Active)

	require.NoError(t, r.Activate("wrist_roll"))
	require.NoError(t, r.Deactivate("base"))

	axes := r.Axes()
	assert.False(t, axes[0].Active)
	assert.True(t, axes[4].Active)

	// snapshots are copies
	axes[0].Active = true
	base, _ := r.Lookup("base")
	assert.False(t, base.Active)

	assert.ErrorIs(t, r.Activate("tail"), ErrUnknownAxis)
	_, err = r.Lookup("tail")
	assert.ErrorIs(t, err, ErrUnknownAxis)
}

func TestMotorRegistryConcurrentToggle(t *testing.T) {
	r, err := NewMotorRegistry(DefaultMotorProfiles())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.Deactivate("elbow")
			_ = r.Activate("elbow")
		}()
		go func() {
			defer wg.Done()
			assert.Len(t, r.Axes(), 5)
		}()
	}
	wg.Wait()

	elbow, err := r.Lookup("elbow")
	require.NoError(t, err)
	assert.True(t, elbow.Active)
}
