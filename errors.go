package shelfarm

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidResolution   = errors.New("invalid path resolution")
	ErrConnectionTimeout   = errors.New("connection handshake timed out")
	ErrNotConnected        = errors.New("command channel not connected")
	ErrHandshakeInProgress = errors.New("handshake already in progress")
	ErrChannelClosed       = errors.New("command channel closed")
	ErrUnknownPart         = errors.New("unknown part")
	ErrUnknownAxis         = errors.New("unknown motor axis")
	ErrAxisMismatch        = errors.New("joint vector does not match motor axes")
	ErrUnreachable         = errors.New("pose unreachable")
)

// IKFailure reports the waypoint the inverse kinematics solver could not reach.
// The enclosing plan must not be executed.
type IKFailure struct {
	Phase    string
	Segment  int
	Waypoint int
	Target   Waypoint
	Err      error
}

func (e *IKFailure) Error() string {
	return fmt.Sprintf("ik failed in phase %q (segment %d, waypoint %d) at %v: %v",
		e.Phase, e.Segment, e.Waypoint, e.Target.Position, e.Err)
}

func (e *IKFailure) Unwrap() error { return e.Err }

// TransportError is an I/O failure on the underlying link.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExecutionError reports how far a plan got before transmission failed. Commands
// already sent have been executed by the device.
type ExecutionError struct {
	Phase string
	Sent  int
	// Commanded is the joint position in radians after the last acknowledged command.
	Commanded []float64
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution stopped in phase %q after %d commands: %v", e.Phase, e.Sent, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
