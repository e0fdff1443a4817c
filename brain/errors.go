package brain

import (
	"github.com/pkg/errors"

	"humanoid_brain/ik"
	"humanoid_brain/kinematics"
	"humanoid_brain/safety"
	"humanoid_brain/trajectory"
)

var (
	// ErrCommunicationFault is raised when feedback for a joint is missing
	// or stale for more than one tick, or the transport keeps failing.
	ErrCommunicationFault = errors.New("communication fault")
	// ErrMalformedGoal rejects a goal at submission.
	ErrMalformedGoal = errors.New("malformed goal")
	// ErrRejected refuses goals while faulted or stopped.
	ErrRejected = errors.New("goal rejected")
	// ErrPlanningTimeout faults a goal whose deadline or planning budget
	// ran out.
	ErrPlanningTimeout = errors.New("planning timed out")
	// ErrNotSettled faults a goal whose trajectory ended without the
	// measured state reaching the goal in time.
	ErrNotSettled = errors.New("goal not reached")
	// ErrInternal wraps unexpected failures such as a panicking planner.
	ErrInternal = errors.New("internal error")
)

var kinds = []struct {
	err  error
	name string
}{
	{kinematics.ErrIncompleteState, "IncompleteState"},
	{kinematics.ErrConstruction, "ConstructionError"},
	{kinematics.ErrUnknownFrame, "UnknownFrame"},
	{ik.ErrMaxIterationsExceeded, "MaxIterationsExceeded"},
	{ik.ErrSingularityDetected, "SingularityDetected"},
	{trajectory.ErrUnreachableWithinLimits, "UnreachableWithinLimits"},
	{safety.ErrLimitViolation, "LimitViolation"},
	{safety.ErrTrackingFault, "TrackingFault"},
	{safety.ErrHazardProximity, "HazardProximity"},
	{ErrCommunicationFault, "CommunicationFault"},
	{ErrMalformedGoal, "MalformedGoal"},
	{ErrRejected, "Rejected"},
	{ErrPlanningTimeout, "PlanningTimeout"},
	{ErrNotSettled, "NotSettled"},
}

// FaultKind names the kind of err, or returns "" for nil. Errors of no
// known kind are "Internal".
func FaultKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
