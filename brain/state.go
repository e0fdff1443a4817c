package brain

import "time"

// State is the robot-level behavior state.
type State int

const (
	// Idle holds the last commanded positions and accepts goals.
	Idle State = iota
	// Planning holds position, or finishes braking, while a plan is
	// computed off the tick.
	Planning
	// Executing streams the active trajectory.
	Executing
	// Fault sends the safe output after a goal failed. Reset returns to
	// Idle.
	Fault
	// EmergencyStop sends the safe output after a safety veto or a
	// transport failure. Reset returns to Idle.
	EmergencyStop
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Planning:
		return "planning"
	case Executing:
		return "executing"
	case Fault:
		return "fault"
	case EmergencyStop:
		return "emergency_stop"
	default:
		return "unknown"
	}
}

// Transition is published every time the state changes.
type Transition struct {
	From   State
	To     State
	GoalID string
	// Reason is set when entering Fault or EmergencyStop.
	Reason error
	At     time.Time
}

// Status is a snapshot of the state machine.
type Status struct {
	State  State
	GoalID string
	Reason error
	// Kind classifies Reason, see FaultKind.
	Kind  string
	Since time.Time
}
