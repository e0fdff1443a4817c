package brain

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"humanoid_brain/safety"
	"humanoid_brain/trajectory"
)

// planResult is what a planning task hands back to the control loop.
type planResult struct {
	generation uint64
	traj       *trajectory.Trajectory
	profile    *safety.Profile
	err        error
}

// resultCell is the single-slot handoff between planning tasks and the
// control loop. A result never replaces one from a newer generation.
type resultCell struct {
	p atomic.Pointer[planResult]
}

func (c *resultCell) offer(r *planResult) {
	for {
		cur := c.p.Load()
		if cur != nil && cur.generation > r.generation {
			return
		}
		if c.p.CompareAndSwap(cur, r) {
			return
		}
	}
}

func (c *resultCell) take() *planResult {
	return c.p.Swap(nil)
}

// startPlanning cancels any running task and launches one for g from the
// given positions. It runs on the control loop.
func (b *Brain) startPlanning(g *Goal, start []float64) {
	b.stopPlanning()
	b.generation++
	generation := b.generation

	ctx, cancel := context.WithTimeout(b.cancelCtx, b.cfg.PlanningTimeout)
	if !g.Deadline.IsZero() {
		dctx, dcancel := context.WithDeadline(ctx, g.Deadline)
		outer := cancel
		ctx, cancel = dctx, func() {
			dcancel()
			outer()
		}
	}
	b.cancelPlan = cancel

	b.activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGoWithCallback(func() {
		defer b.activeBackgroundWorkers.Done()
		r := b.plan(ctx, g, start)
		if errors.Is(r.err, context.Canceled) {
			// preempted; a newer goal or shutdown owns the cell
			return
		}
		if errors.Is(r.err, context.DeadlineExceeded) {
			r.err = errors.Wrapf(ErrPlanningTimeout, "goal %s: %v", g.ID, r.err)
		}
		r.generation = generation
		b.results.offer(r)
	}, func(err interface{}) {
		b.results.offer(&planResult{
			generation: generation,
			err:        errors.Wrapf(ErrInternal, "planning goal %s panicked: %v", g.ID, err),
		})
	})
}

func (b *Brain) stopPlanning() {
	if b.cancelPlan != nil {
		b.cancelPlan()
		b.cancelPlan = nil
	}
}

// plan solves IK for pose goals, plans the motion and scans it for
// singularities. It must not touch loop-owned state.
func (b *Brain) plan(ctx context.Context, g *Goal, start []float64) *planResult {
	goal := append([]float64{}, start...)
	frames := b.model.EndEffectors()
	if g.Pose != nil {
		fi, _ := b.model.Frame(g.Frame)
		sol, err := b.ik.SolvePositions(ctx, *g.Pose, fi, start)
		if err != nil {
			return &planResult{err: errors.Wrapf(err, "goal %s", g.ID)}
		}
		goal = sol.Positions
		frames = []string{g.Frame}
	} else {
		for id, v := range g.Joints {
			i, _ := b.model.JointIndex(id)
			goal[i] = v
		}
	}

	traj, err := b.planner.Plan(start, goal)
	if err != nil {
		return &planResult{err: errors.Wrapf(err, "goal %s", g.ID)}
	}
	profile, err := safety.ScanTrajectory(ctx, b.fk, traj, frames, b.cfg.HazardScanStep, b.cfg.IK.PositionOnly)
	if err != nil {
		return &planResult{err: errors.Wrapf(err, "goal %s", g.ID)}
	}
	return &planResult{traj: traj, profile: profile}
}
