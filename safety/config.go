package safety

import "github.com/pkg/errors"

// Config holds the monitor thresholds.
type Config struct {
	// PositionMargin is how far past a position limit a command may land
	// before the violation is critical rather than clamped.
	PositionMargin float64 `json:"position_margin" yaml:"position_margin"`
	// VelocityMargin is the fraction above a velocity limit at which a
	// command is critical rather than clamped.
	VelocityMargin float64 `json:"velocity_margin" yaml:"velocity_margin"`
	// TrackingThreshold is the largest tolerated gap between measured and
	// commanded position.
	TrackingThreshold float64 `json:"tracking_threshold" yaml:"tracking_threshold"`
	// SingularityThreshold is the smallest Jacobian singular value allowed
	// along an active trajectory. Zero disables the check.
	SingularityThreshold float64 `json:"singularity_threshold" yaml:"singularity_threshold"`
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		PositionMargin:       0.1,
		VelocityMargin:       0.5,
		TrackingThreshold:    0.35,
		SingularityThreshold: 1e-4,
	}
}

// Validate range-checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.PositionMargin < 0:
		return errors.Errorf("position_margin must not be negative, got %g", c.PositionMargin)
	case c.VelocityMargin < 0:
		return errors.Errorf("velocity_margin must not be negative, got %g", c.VelocityMargin)
	case c.TrackingThreshold <= 0:
		return errors.Errorf("tracking_threshold must be positive, got %g", c.TrackingThreshold)
	case c.SingularityThreshold < 0:
		return errors.Errorf("singularity_threshold must not be negative, got %g", c.SingularityThreshold)
	}
	return nil
}
