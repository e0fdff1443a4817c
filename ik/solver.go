// Package ik solves inverse kinematics by damped least squares over the
// geometric Jacobian, optionally seeded by a closed-form solution for
// ortho-parallel six-joint arms.
package ik

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"humanoid_brain/kinematics"
	"humanoid_brain/spatial"
)

var (
	// ErrMaxIterationsExceeded is returned when the iteration budget runs
	// out before the error falls under tolerance.
	ErrMaxIterationsExceeded = errors.New("inverse kinematics did not converge")
	// ErrSingularityDetected is returned when the chain stays too close to
	// a singular configuration for damping to make progress.
	ErrSingularityDetected = errors.New("singular configuration")
)

// Solution is a converged joint configuration.
type Solution struct {
	State      kinematics.JointState
	Positions  []float64
	Iterations int
	Residual   float64
}

// Solver is stateless between calls and safe for concurrent use.
type Solver struct {
	fk       *kinematics.ForwardSolver
	model    *kinematics.Model
	cfg      Config
	analytic *analytic
}

// NewSolver builds a solver on top of a forward kinematics solver.
func NewSolver(fk *kinematics.ForwardSolver, cfg Config) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid inverse kinematics config")
	}
	s := &Solver{fk: fk, model: fk.Model(), cfg: cfg}
	if cfg.OPW != nil {
		a, err := bindOPW(fk, *cfg.OPW)
		if err != nil {
			return nil, errors.Wrap(err, "invalid inverse kinematics config")
		}
		s.analytic = a
	}
	return s, nil
}

// Config returns the solver settings.
func (s *Solver) Config() Config { return s.cfg }

// Solve finds joint positions placing frame at target, starting from seed.
// The seed must cover every joint; joints off the frame's chain keep their
// seed positions.
func (s *Solver) Solve(ctx context.Context, target spatial.Pose, frame string, seed kinematics.JointState) (Solution, error) {
	fi, ok := s.model.Frame(frame)
	if !ok {
		return Solution{}, errors.Wrapf(kinematics.ErrUnknownFrame, "%q", frame)
	}
	q, err := s.model.Positions(seed)
	if err != nil {
		return Solution{}, err
	}
	sol, err := s.SolvePositions(ctx, target, fi, q)
	if err != nil {
		return Solution{}, err
	}
	sol.State = s.model.StateFromPositions(sol.Positions, seed.Stamp)
	return sol, nil
}

// SolvePositions is Solve over positions in model order and a frame index.
// seed is not modified. When an analytic branch reaches target it replaces
// the seed, so the iteration only polishes it.
func (s *Solver) SolvePositions(ctx context.Context, target spatial.Pose, frame int, seed []float64) (Solution, error) {
	if len(seed) != s.model.NumJoints() {
		return Solution{}, errors.Wrapf(kinematics.ErrIncompleteState, "seed has %d joints, model has %d", len(seed), s.model.NumJoints())
	}
	chain := s.model.Chain(frame)
	rows := 6
	if s.cfg.PositionOnly {
		rows = 3
	}
	cols := len(chain)

	q := make([]float64, len(seed))
	copy(q, seed)
	if branches := s.Branches(target, frame, seed); len(branches) > 0 {
		copy(q, branches[0])
	}
	for _, i := range chain {
		q[i] = s.model.Limits(i).Clamp(q[i])
	}

	full := mat.NewDense(6, cols, nil)
	jac := full.Slice(0, rows, 0, cols).(*mat.Dense)
	e := mat.NewVecDense(rows, nil)
	y := mat.NewVecDense(rows, nil)
	dq := mat.NewVecDense(cols, nil)
	normal := mat.NewSymDense(rows, nil)
	values := make([]float64, min(rows, cols))
	var svd mat.SVD
	var chol mat.Cholesky

	lambda2 := s.cfg.Damping * s.cfg.Damping
	singular := 0
	for iter := 0; ; iter++ {
		if err := ctx.Err(); err != nil {
			return Solution{}, errors.Wrapf(err, "inverse kinematics stopped after %d iterations", iter)
		}

		residual := s.taskError(s.fk.PoseAt(q, frame), target, e)
		if residual <= s.cfg.Tolerance {
			return Solution{Positions: q, Iterations: iter, Residual: residual}, nil
		}
		if iter >= s.cfg.MaxIterations {
			return Solution{}, errors.Wrapf(ErrMaxIterationsExceeded, "residual %.3g after %d iterations", residual, iter)
		}

		s.fk.Jacobian(q, frame, full)
		if !s.cfg.PositionOnly && s.cfg.OrientationWeight != 1 {
			for r := 3; r < 6; r++ {
				for c := 0; c < cols; c++ {
					jac.Set(r, c, jac.At(r, c)*s.cfg.OrientationWeight)
				}
			}
		}

		if !svd.Factorize(jac, mat.SVDNone) {
			return Solution{}, errors.Wrap(ErrSingularityDetected, "jacobian decomposition failed")
		}
		sigma := math.Inf(1)
		for _, v := range svd.Values(values) {
			sigma = math.Min(sigma, v)
		}
		if sigma < s.cfg.SingularityThreshold {
			singular++
			if singular >= s.cfg.SingularityPatience {
				return Solution{}, errors.Wrapf(ErrSingularityDetected, "smallest singular value %.3g for %d iterations", sigma, singular)
			}
		} else {
			singular = 0
		}

		// dq = J^T (J J^T + lambda^2 I)^-1 e
		normal.Zero()
		normal.SymOuterK(1, jac)
		for r := 0; r < rows; r++ {
			normal.SetSym(r, r, normal.At(r, r)+lambda2)
		}
		if !chol.Factorize(normal) {
			return Solution{}, errors.Wrap(ErrSingularityDetected, "damped normal equations not positive definite")
		}
		if err := chol.SolveVecTo(y, e); err != nil {
			return Solution{}, errors.Wrap(ErrSingularityDetected, err.Error())
		}
		dq.MulVec(jac.T(), y)

		largest := 0.0
		for c := 0; c < cols; c++ {
			largest = math.Max(largest, math.Abs(dq.AtVec(c)))
		}
		scale := 1.0
		if largest > s.cfg.MaxStep {
			scale = s.cfg.MaxStep / largest
		}
		for c, i := range chain {
			q[i] = s.model.Limits(i).Clamp(q[i] + scale*dq.AtVec(c))
		}
	}
}

// taskError fills e with the weighted task-space error and returns its norm.
func (s *Solver) taskError(current, target spatial.Pose, e *mat.VecDense) float64 {
	dp, dr := current.Error(target)
	e.SetVec(0, dp.X)
	e.SetVec(1, dp.Y)
	e.SetVec(2, dp.Z)
	if !s.cfg.PositionOnly {
		w := s.cfg.OrientationWeight
		e.SetVec(3, dr.X*w)
		e.SetVec(4, dr.Y*w)
		e.SetVec(5, dr.Z*w)
	}
	return mat.Norm(e, 2)
}
