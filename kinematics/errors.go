package kinematics

import "github.com/pkg/errors"

var (
	// ErrConstruction is returned when a model definition is rejected.
	ErrConstruction = errors.New("invalid kinematic model")
	// ErrIncompleteState is returned when a joint state lacks a joint the
	// computation needs.
	ErrIncompleteState = errors.New("incomplete joint state")
	// ErrUnknownFrame is returned for a frame name the model does not define.
	ErrUnknownFrame = errors.New("unknown frame")
)
