package brain

import (
	"time"

	"github.com/pkg/errors"

	"humanoid_brain/ik"
	"humanoid_brain/safety"
	"humanoid_brain/trajectory"
)

// SafeOutput selects what Fault and EmergencyStop dispatch.
type SafeOutput string

const (
	// SafeHold repeats the last command that passed the safety gate, at
	// zero velocity.
	SafeHold SafeOutput = "hold"
	// SafeZero commands every joint to zero, clamped into its limits.
	SafeZero SafeOutput = "zero"
)

// Config is fixed for the lifetime of a Brain.
type Config struct {
	TickRateHz float64 `json:"tick_rate_hz" yaml:"tick_rate_hz"`
	// CompletionTolerance applies to goals without their own tolerance:
	// radians or meters per joint for joint goals, and meters and radians
	// for pose goals.
	CompletionTolerance float64 `json:"completion_tolerance" yaml:"completion_tolerance"`
	// SettleTimeout is how long after a trajectory ends the measured state
	// may take to reach the goal before the goal faults.
	SettleTimeout time.Duration `json:"settle_timeout" yaml:"settle_timeout"`
	// PlanningTimeout bounds one planning task.
	PlanningTimeout time.Duration `json:"planning_timeout" yaml:"planning_timeout"`
	SafeOutput      SafeOutput    `json:"safe_output" yaml:"safe_output"`
	// HazardScanStep is the sampling step of the singularity scan run on
	// every planned trajectory.
	HazardScanStep time.Duration `json:"hazard_scan_step" yaml:"hazard_scan_step"`

	IK      ik.Config          `json:"ik" yaml:"ik"`
	Planner trajectory.Options `json:"planner" yaml:"planner"`
	Safety  safety.Config      `json:"safety" yaml:"safety"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		TickRateHz:          500,
		CompletionTolerance: 1e-3,
		SettleTimeout:       500 * time.Millisecond,
		PlanningTimeout:     250 * time.Millisecond,
		SafeOutput:          SafeHold,
		HazardScanStep:      10 * time.Millisecond,
		IK:                  ik.DefaultConfig(),
		Planner:             trajectory.DefaultOptions(),
		Safety:              safety.DefaultConfig(),
	}
}

// Period is the time between ticks.
func (c Config) Period() time.Duration {
	return time.Duration(float64(time.Second) / c.TickRateHz)
}

// Validate range-checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.TickRateHz <= 0 || c.TickRateHz > 10000:
		return errors.Errorf("tick_rate_hz must be in (0, 10000], got %g", c.TickRateHz)
	case c.CompletionTolerance <= 0:
		return errors.Errorf("completion_tolerance must be positive, got %g", c.CompletionTolerance)
	case c.SettleTimeout < 0:
		return errors.Errorf("settle_timeout must not be negative, got %v", c.SettleTimeout)
	case c.PlanningTimeout <= 0:
		return errors.Errorf("planning_timeout must be positive, got %v", c.PlanningTimeout)
	case c.SafeOutput != SafeHold && c.SafeOutput != SafeZero:
		return errors.Errorf("safe_output must be %q or %q, got %q", SafeHold, SafeZero, c.SafeOutput)
	case c.HazardScanStep <= 0:
		return errors.Errorf("hazard_scan_step must be positive, got %v", c.HazardScanStep)
	}
	if err := c.IK.Validate(); err != nil {
		return errors.Wrap(err, "ik")
	}
	if err := c.Planner.Validate(); err != nil {
		return errors.Wrap(err, "planner")
	}
	return errors.Wrap(c.Safety.Validate(), "safety")
}
