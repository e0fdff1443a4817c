package safety

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"humanoid_brain/kinematics"
	"humanoid_brain/trajectory"
)

// Profile is the singularity margin of a trajectory sampled at a fixed
// step: the smallest Jacobian singular value over the watched frames. It is
// computed while planning so the per-tick lookup is constant time.
type Profile struct {
	step    time.Duration
	margins []float64
}

// MarginAt returns the margin at offset at. Offsets past the end use the
// final sample; a nil profile has unlimited margin.
func (p *Profile) MarginAt(at time.Duration) float64 {
	if p == nil || len(p.margins) == 0 {
		return math.Inf(1)
	}
	if at <= 0 {
		return p.margins[0]
	}
	i := int(at / p.step)
	if i >= len(p.margins) {
		i = len(p.margins) - 1
	}
	// the margin over [i*step, (i+1)*step] is bounded by both ends
	if i+1 < len(p.margins) {
		return math.Min(p.margins[i], p.margins[i+1])
	}
	return p.margins[i]
}

// Minimum returns the smallest margin along the trajectory.
func (p *Profile) Minimum() float64 {
	min := math.Inf(1)
	if p == nil {
		return min
	}
	for _, v := range p.margins {
		min = math.Min(min, v)
	}
	return min
}

// ScanTrajectory samples traj every step and records the smallest singular
// value of each frame's Jacobian, or of its translational rows when
// positionOnly is set. The context is checked between samples.
func ScanTrajectory(
	ctx context.Context,
	fk *kinematics.ForwardSolver,
	traj *trajectory.Trajectory,
	frames []string,
	step time.Duration,
	positionOnly bool,
) (*Profile, error) {
	if step <= 0 {
		return nil, errors.Errorf("scan step must be positive, got %v", step)
	}
	model := fk.Model()
	rows := 6
	if positionOnly {
		rows = 3
	}
	type watched struct {
		frame  int
		full   *mat.Dense
		jac    mat.Matrix
		values []float64
	}
	var watch []watched
	for _, name := range frames {
		fi, ok := model.Frame(name)
		if !ok {
			return nil, errors.Wrapf(kinematics.ErrUnknownFrame, "%q", name)
		}
		cols := len(model.Chain(fi))
		full := mat.NewDense(6, cols, nil)
		watch = append(watch, watched{
			frame:  fi,
			full:   full,
			jac:    full.Slice(0, rows, 0, cols),
			values: make([]float64, min(rows, cols)),
		})
	}

	n := int(traj.Duration()/step) + 2
	p := &Profile{step: step, margins: make([]float64, 0, n)}
	values := make([]kinematics.JointValue, model.NumJoints())
	q := make([]float64, model.NumJoints())
	var svd mat.SVD
	for k := 0; k < n; k++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "singularity scan stopped")
		}
		traj.SampleInto(time.Duration(k)*step, values)
		for i := range values {
			q[i] = values[i].Position
		}
		margin := math.Inf(1)
		for _, w := range watch {
			fk.Jacobian(q, w.frame, w.full)
			if !svd.Factorize(w.jac, mat.SVDNone) {
				margin = 0
				continue
			}
			for _, v := range svd.Values(w.values) {
				margin = math.Min(margin, v)
			}
		}
		p.margins = append(p.margins, margin)
	}
	return p, nil
}
