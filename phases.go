package shelfarm

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Flow is the kind of pick-and-place task being planned.
type Flow int

const (
	Retrieve Flow = iota
	Return
)

func (f Flow) String() string {
	switch f {
	case Retrieve:
		return "retrieve"
	case Return:
		return "return"
	default:
		return fmt.Sprintf("Flow(%d)", int(f))
	}
}

// ParseFlow parses "retrieve" or "return".
func ParseFlow(s string) (Flow, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "retrieve", "":
		return Retrieve, nil
	case "return":
		return Return, nil
	default:
		return 0, errors.Errorf("unknown flow %q, expected retrieve or return", s)
	}
}

// Action is a gripper or scale operation performed once a segment's motion completes.
type Action int

const (
	ActionGripClose Action = iota
	ActionGripOpen
	ActionWeigh
)

func (a Action) String() string {
	switch a {
	case ActionGripClose:
		return "grip_close"
	case ActionGripOpen:
		return "grip_open"
	case ActionWeigh:
		return "weigh"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

type target int

const (
	targetIdle target = iota
	targetStaging
	targetPartApproach
	targetPart
	targetPartLifted
	targetPartRetracted
	targetDropAbove
	targetDrop
	targetWeighAbove
	targetWeigh
	targetDetour
)

type orientationKind int

const (
	orientHold orientationKind = iota
	orientDirectedYaw
	orientSlerp
	orientDetour
)

type namedOrientation int

const (
	orientationIdle namedOrientation = iota
	orientationDropOff
	orientationWeigh
)

type orientationRule struct {
	kind   orientationKind
	toward namedOrientation
}

var (
	hold        = orientationRule{kind: orientHold}
	directedYaw = orientationRule{kind: orientDirectedYaw}
	undoWrap    = orientationRule{kind: orientDetour}
)

func slerpTo(o namedOrientation) orientationRule {
	return orientationRule{kind: orientSlerp, toward: o}
}

// phase describes one segment of a flow. Detour phases are only planned while an
// over-wrap is pending; afterDetour, when set, replaces orient for the first phase
// planned after a detour.
type phase struct {
	name        string
	mode        PathMode
	target      target
	orient      orientationRule
	afterDetour *orientationRule
	ikMode      IKMode
	actions     []Action
	detour      bool
}

func detourPhase(name string) phase {
	return phase{name: name, mode: Linear, target: targetDetour, orient: undoWrap, detour: true}
}

func ruleRef(r orientationRule) *orientationRule { return &r }

var retrievePhases = []phase{
	{name: "leave_idle", mode: Linear, target: targetStaging, orient: hold},
	{name: "travel_to_part", mode: Circular, target: targetPartApproach, orient: directedYaw},
	{name: "insert", mode: Linear, target: targetPart, orient: hold, actions: []Action{ActionGripClose}},
	{name: "lift", mode: Linear, target: targetPartLifted, orient: hold},
	{name: "retract", mode: Linear, target: targetPartRetracted, orient: hold},
	detourPhase("detour"),
	{name: "travel_to_drop_off", mode: Circular, target: targetDropAbove, orient: directedYaw, afterDetour: ruleRef(slerpTo(orientationDropOff))},
	{name: "descend_drop_off", mode: Linear, target: targetDrop, orient: hold, actions: []Action{ActionGripOpen}},
	{name: "retract_drop_off", mode: Linear, target: targetDropAbove, orient: hold},
	detourPhase("detour_drop_off"),
	{name: "travel_to_staging", mode: Circular, target: targetStaging, orient: slerpTo(orientationIdle)},
	{name: "return_to_idle", mode: Linear, target: targetIdle, orient: hold},
}

var returnPhases = []phase{
	{name: "leave_idle", mode: Linear, target: targetStaging, orient: hold},
	{name: "travel_to_pickup", mode: Circular, target: targetDropAbove, orient: slerpTo(orientationDropOff)},
	{name: "descend_pickup", mode: Linear, target: targetDrop, orient: hold, actions: []Action{ActionGripClose}},
	{name: "lift_pickup", mode: Linear, target: targetDropAbove, orient: hold},
	{name: "travel_to_weigh", mode: Circular, target: targetWeighAbove, orient: slerpTo(orientationWeigh)},
	{name: "descend_weigh", mode: Linear, target: targetWeigh, orient: hold, actions: []Action{ActionGripOpen, ActionWeigh, ActionGripClose}},
	{name: "lift_weigh", mode: Linear, target: targetWeighAbove, orient: hold},
	{name: "travel_to_shelf", mode: Circular, target: targetPartRetracted, orient: directedYaw},
	{name: "insert", mode: Linear, target: targetPartLifted, orient: hold},
	{name: "lower", mode: Linear, target: targetPart, orient: hold, actions: []Action{ActionGripOpen}},
	{name: "retract", mode: Linear, target: targetPartApproach, orient: hold},
	detourPhase("detour"),
	{name: "travel_to_staging", mode: Circular, target: targetStaging, orient: slerpTo(orientationIdle)},
	{name: "return_to_idle", mode: Linear, target: targetIdle, orient: hold},
}

func phasesFor(flow Flow) ([]phase, error) {
	switch flow {
	case Retrieve:
		return retrievePhases, nil
	case Return:
		return returnPhases, nil
	default:
		return nil, errors.Errorf("unknown flow %v", flow)
	}
}
