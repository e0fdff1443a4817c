package ik

import "github.com/pkg/errors"

// Config tunes the damped least-squares solver. Angles are in radians and
// distances in meters.
type Config struct {
	// MaxIterations bounds the number of solver steps.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`
	// Tolerance is the task-space error norm accepted as converged.
	Tolerance float64 `json:"tolerance" yaml:"tolerance"`
	// Damping is the lambda of the damped normal equations.
	Damping float64 `json:"damping" yaml:"damping"`
	// MaxStep caps the change of any joint in one iteration.
	MaxStep float64 `json:"max_step" yaml:"max_step"`
	// SingularityThreshold is the smallest Jacobian singular value
	// tolerated before an iteration counts as singular.
	SingularityThreshold float64 `json:"singularity_threshold" yaml:"singularity_threshold"`
	// SingularityPatience is how many consecutive singular iterations end
	// the solve.
	SingularityPatience int `json:"singularity_patience" yaml:"singularity_patience"`
	// OrientationWeight scales the rotation error against the position
	// error.
	OrientationWeight float64 `json:"orientation_weight" yaml:"orientation_weight"`
	// PositionOnly ignores orientation, for chains that cannot control it.
	PositionOnly bool `json:"position_only" yaml:"position_only"`
	// OPW, when set, solves the named six-joint arm in closed form and
	// hands the nearest branch to the iterative solver as its seed.
	OPW *OPWParameters `json:"opw,omitempty" yaml:"opw,omitempty"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxIterations:        200,
		Tolerance:            1e-4,
		Damping:              0.01,
		MaxStep:              0.2,
		SingularityThreshold: 1e-5,
		SingularityPatience:  10,
		OrientationWeight:    1,
	}
}

// Validate range-checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.MaxIterations <= 0:
		return errors.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	case c.Tolerance <= 0:
		return errors.Errorf("tolerance must be positive, got %g", c.Tolerance)
	case c.Damping <= 0:
		return errors.Errorf("damping must be positive, got %g", c.Damping)
	case c.MaxStep <= 0:
		return errors.Errorf("max_step must be positive, got %g", c.MaxStep)
	case c.SingularityThreshold < 0:
		return errors.Errorf("singularity_threshold must not be negative, got %g", c.SingularityThreshold)
	case c.SingularityPatience <= 0:
		return errors.Errorf("singularity_patience must be positive, got %d", c.SingularityPatience)
	case c.OrientationWeight <= 0 && !c.PositionOnly:
		return errors.Errorf("orientation_weight must be positive, got %g", c.OrientationWeight)
	case c.OPW != nil && c.PositionOnly:
		return errors.New("opw needs the full pose and cannot be combined with position_only")
	}
	if c.OPW != nil {
		return c.OPW.Validate()
	}
	return nil
}
