// Package transport defines the command and feedback channels between the
// controller and the hardware or simulation that moves the joints.
//
// Both channels are keyed by joint identifier. Positions are in radians
// (meters for prismatic joints), velocities in rad/s (m/s) and torques in
// N·m (N).
package transport

import (
	"context"
	"time"
)

// Feedback is one measured joint sample.
type Feedback struct {
	Position float64
	Velocity float64
	Torque   float64
	Stamp    time.Time
}

// Command is one joint target for a control tick.
type Command struct {
	Position float64
	Velocity float64
	Torque   float64
	Stamp    time.Time
}

// FeedbackSource supplies the latest measurements.
type FeedbackSource interface {
	// ReadFeedback overwrites dst with the latest sample of every joint it
	// knows. A sample whose stamp has not advanced since the previous read
	// is stale. Implementations must return within a bounded time.
	ReadFeedback(ctx context.Context, dst map[string]Feedback) error
}

// CommandSink accepts joint targets.
type CommandSink interface {
	// WriteCommand hands over one tick's targets. The map is reused by the
	// caller and must not be retained. Implementations must return within a
	// bounded time.
	WriteCommand(ctx context.Context, cmd map[string]Command) error
}

// Transport is a bidirectional joint interface.
type Transport interface {
	FeedbackSource
	CommandSink
	Close(ctx context.Context) error
}
