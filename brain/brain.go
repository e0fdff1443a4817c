// Package brain is the behavior state machine and the fixed-rate control
// loop that drives the joints.
//
// Every tick reads feedback, samples the active trajectory when executing,
// passes the command through the safety monitor, dispatches it and then
// advances the state machine. Inverse kinematics and trajectory planning run
// on a separate task whose result reaches the loop through a single-slot
// cell, so a tick never waits on a solver.
package brain

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"humanoid_brain/ik"
	"humanoid_brain/kinematics"
	"humanoid_brain/safety"
	"humanoid_brain/trajectory"
	"humanoid_brain/transport"
)

// Feedback older than this many ticks is a communication fault.
const maxStaleTicks = 1

// Brain owns the behavior state and the active trajectory.
type Brain struct {
	logger  logging.Logger
	cfg     Config
	model   *kinematics.Model
	fk      *kinematics.ForwardSolver
	ik      *ik.Solver
	planner *trajectory.Planner
	monitor *safety.Monitor
	io      transport.Transport

	// written by any goroutine
	inbox   atomic.Pointer[Goal]
	resetRq atomic.Bool
	status  atomic.Pointer[Status]
	results resultCell
	subsMu  sync.Mutex
	subs    map[uint64]chan Transition
	nextSub uint64

	cancelCtx               context.Context
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup

	// owned by the control loop
	state      State
	goal       *Goal
	generation uint64
	cancelPlan context.CancelFunc
	traj       *trajectory.Trajectory
	profile    *safety.Profile
	frame      int
	startedAt  time.Time
	brake      *trajectory.Trajectory
	brakeStart time.Time

	ids          []string
	feedback     map[string]transport.Feedback
	out          map[string]transport.Command
	lastStamp    []time.Time
	stale        []int
	seen         []bool
	haveMeasured bool
	measured     []kinematics.JointValue
	q            []float64
	cmd          []kinematics.JointValue
	hold         []kinematics.JointValue
	haveHold     bool
	readErr      error
	writeErrors  int
}

// New builds a brain for m commanding io. The model and config are fixed
// for the brain's lifetime.
func New(m *kinematics.Model, io transport.Transport, cfg Config, logger logging.Logger) (*Brain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid brain config")
	}
	fk := kinematics.NewForwardSolver(m)
	solver, err := ik.NewSolver(fk, cfg.IK)
	if err != nil {
		return nil, err
	}
	monitor, err := safety.NewMonitor(m, cfg.Safety)
	if err != nil {
		return nil, err
	}

	n := m.NumJoints()
	b := &Brain{
		logger:    logger,
		cfg:       cfg,
		model:     m,
		fk:        fk,
		ik:        solver,
		planner:   trajectory.NewPlanner(m, cfg.Planner),
		monitor:   monitor,
		io:        io,
		subs:      map[uint64]chan Transition{},
		ids:       m.JointIDs(),
		feedback:  make(map[string]transport.Feedback, n),
		out:       make(map[string]transport.Command, n),
		lastStamp: make([]time.Time, n),
		stale:     make([]int, n),
		seen:      make([]bool, n),
		measured:  make([]kinematics.JointValue, n),
		q:         make([]float64, n),
		cmd:       make([]kinematics.JointValue, n),
		hold:      make([]kinematics.JointValue, n),
	}
	for _, id := range b.ids {
		b.out[id] = transport.Command{}
	}
	b.cancelCtx, b.cancel = context.WithCancel(context.Background())
	b.status.Store(&Status{State: Idle})
	return b, nil
}

// Submit queues a goal and returns its id without waiting for it to be
// planned. A goal submitted before the loop picks up the previous one
// replaces it. Goals are refused while in Fault or EmergencyStop.
func (b *Brain) Submit(g Goal) (string, error) {
	if st := b.status.Load().State; st == Fault || st == EmergencyStop {
		return "", errors.Wrapf(ErrRejected, "robot is in %s", st)
	}
	goal := g.copy()
	if err := goal.validate(b.model); err != nil {
		return "", err
	}
	if goal.ID == "" {
		goal.ID = uuid.NewString()
	}
	if prev := b.inbox.Swap(goal); prev != nil {
		b.logger.Debugf("goal %s superseded by %s before planning", prev.ID, goal.ID)
	}
	return goal.ID, nil
}

// Reset clears Fault or EmergencyStop on the next tick.
func (b *Brain) Reset() error {
	if st := b.status.Load().State; st != Fault && st != EmergencyStop {
		return errors.Errorf("nothing to reset in %s", st)
	}
	b.resetRq.Store(true)
	return nil
}

// Status returns the latest state snapshot.
func (b *Brain) Status() Status {
	return *b.status.Load()
}

// Subscribe delivers every later transition on the returned channel. A
// subscriber that falls more than buffer transitions behind misses them.
// The cancel function closes the channel.
func (b *Brain) Subscribe(buffer int) (<-chan Transition, func()) {
	ch := make(chan Transition, buffer)
	b.subsMu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subsMu.Lock()
			delete(b.subs, id)
			b.subsMu.Unlock()
			close(ch)
		})
	}
}

// Run ticks at the configured rate until ctx is done.
func (b *Brain) Run(ctx context.Context) error {
	b.logger.Infof("control loop running at %g Hz over %d joints", b.cfg.TickRateHz, len(b.ids))
	ticker := time.NewTicker(b.cfg.Period())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			b.tick(ctx, now)
		}
	}
}

// Close stops any planning task and waits for it to return. The transport
// is left open.
func (b *Brain) Close() {
	b.cancel()
	b.activeBackgroundWorkers.Wait()
}

func (b *Brain) tick(ctx context.Context, now time.Time) {
	if b.resetRq.Swap(false) && (b.state == Fault || b.state == EmergencyStop) {
		// resync the hold position to wherever the joints are now
		b.haveHold = false
		b.setState(Idle, nil, now)
	}
	b.takePlan(now)

	if worst := b.readFeedback(ctx); worst >= 0 && b.state != EmergencyStop {
		err := errors.Wrapf(ErrCommunicationFault, "joint %q feedback stale for %d ticks", b.ids[worst], b.stale[worst])
		if b.readErr != nil {
			err = errors.Wrapf(ErrCommunicationFault, "feedback read failed %d times: %v", b.stale[worst], b.readErr)
		}
		b.setState(EmergencyStop, err, now)
	}

	if g := b.inbox.Swap(nil); g != nil {
		b.accept(g, now)
	}

	margin := math.Inf(1)
	switch b.state {
	case Executing:
		elapsed := now.Sub(b.startedAt)
		b.traj.SampleInto(elapsed, b.cmd)
		margin = b.profile.MarginAt(elapsed)
	case Idle, Planning:
		if b.brake != nil {
			b.brake.SampleInto(now.Sub(b.brakeStart), b.cmd)
		} else if !b.holdInto(b.cmd) {
			return
		}
	default:
		if b.safeInto(b.cmd) {
			b.dispatch(ctx, now)
		}
		return
	}

	var measured []kinematics.JointValue
	if b.haveMeasured {
		measured = b.measured
	}
	if report := b.monitor.Check(b.cmd, measured, margin); report.Veto {
		b.setState(EmergencyStop, report.Err(), now)
		if b.safeInto(b.cmd) {
			b.dispatch(ctx, now)
		}
		return
	}
	copy(b.hold, b.cmd)
	b.haveHold = true
	b.dispatch(ctx, now)
	b.advance(now)
}

// takePlan moves a finished planning result into execution once the joints
// are at rest. Results from superseded goals are dropped.
func (b *Brain) takePlan(now time.Time) {
	if b.brake != nil && !b.brake.Done(now.Sub(b.brakeStart)) {
		return
	}
	r := b.results.take()
	if r == nil {
		return
	}
	if r.generation != b.generation || b.state != Planning {
		b.logger.Debugf("discarding stale plan from generation %d", r.generation)
		return
	}
	if r.err != nil {
		b.setState(Fault, r.err, now)
		return
	}
	b.traj, b.profile = r.traj, r.profile
	b.brake = nil
	b.startedAt = now
	b.setState(Executing, nil, now)
}

func (b *Brain) accept(g *Goal, now time.Time) {
	if b.state == Fault || b.state == EmergencyStop {
		b.logger.Warnf("dropping goal %s received in %s", g.ID, b.state)
		return
	}
	b.goal = g
	if !g.Deadline.IsZero() && !now.Before(g.Deadline) {
		b.setState(Fault, errors.Wrapf(ErrPlanningTimeout, "goal %s deadline passed before planning", g.ID), now)
		return
	}
	if g.Pose != nil {
		b.frame, _ = b.model.Frame(g.Frame)
	}
	start := make([]float64, len(b.cmd))
	switch {
	case b.brake != nil:
		copy(start, b.brake.Goal())
	case b.state == Executing && b.haveHold && b.startBraking(now):
		copy(start, b.brake.Goal())
	default:
		if !b.holdInto(b.cmd) {
			b.setState(Fault, errors.Wrapf(kinematics.ErrIncompleteState, "no joint state to plan goal %s from", g.ID), now)
			return
		}
		for i := range b.cmd {
			start[i] = b.cmd[i].Position
		}
	}
	b.traj, b.profile = nil, nil
	b.startPlanning(g, start)
	b.setState(Planning, nil, now)
}

// startBraking ramps the last gated command down to rest so a preempted
// motion does not stop within one tick. The replacement is planned from
// where the joints come to rest.
func (b *Brain) startBraking(now time.Time) bool {
	positions := make([]float64, len(b.hold))
	velocities := make([]float64, len(b.hold))
	for i, v := range b.hold {
		positions[i], velocities[i] = v.Position, v.Velocity
	}
	brake, err := b.planner.Stop(positions, velocities)
	if err != nil {
		b.logger.Warnf("cannot brake before replanning, holding in place: %v", err)
		return false
	}
	b.brake, b.brakeStart = brake, now
	return true
}

// readFeedback refreshes the measured state and returns the index of a
// joint whose feedback is too stale, or -1.
func (b *Brain) readFeedback(ctx context.Context) int {
	b.readErr = b.io.ReadFeedback(ctx, b.feedback)
	worst := -1
	all := true
	for i, id := range b.ids {
		fb, ok := b.feedback[id]
		if b.readErr != nil || !ok || !fb.Stamp.After(b.lastStamp[i]) {
			b.stale[i]++
			if b.stale[i] > maxStaleTicks && (worst < 0 || b.stale[i] > b.stale[worst]) {
				worst = i
			}
		} else {
			b.stale[i] = 0
			b.lastStamp[i] = fb.Stamp
			b.measured[i] = kinematics.JointValue{Position: fb.Position, Velocity: fb.Velocity, Torque: fb.Torque}
			b.q[i] = fb.Position
			b.seen[i] = true
		}
		all = all && b.seen[i]
	}
	b.haveMeasured = all
	return worst
}

// holdInto writes the last gated command at rest, or the measured
// positions if nothing was commanded yet. It reports false when neither is
// known.
func (b *Brain) holdInto(dst []kinematics.JointValue) bool {
	switch {
	case b.haveHold:
		for i := range dst {
			dst[i] = kinematics.JointValue{Position: b.hold[i].Position}
		}
	case b.haveMeasured:
		for i := range dst {
			dst[i] = kinematics.JointValue{Position: b.measured[i].Position}
		}
	default:
		return false
	}
	return true
}

// safeInto writes the configured safe output, always inside the position
// limits.
func (b *Brain) safeInto(dst []kinematics.JointValue) bool {
	if b.cfg.SafeOutput == SafeHold {
		if !b.holdInto(dst) {
			return false
		}
	} else {
		for i := range dst {
			dst[i] = kinematics.JointValue{}
		}
	}
	for i := range dst {
		dst[i].Position = b.model.Limits(i).Clamp(dst[i].Position)
	}
	return true
}

func (b *Brain) dispatch(ctx context.Context, now time.Time) {
	for i, id := range b.ids {
		c := b.cmd[i]
		b.out[id] = transport.Command{Position: c.Position, Velocity: c.Velocity, Torque: c.Torque, Stamp: now}
	}
	err := b.io.WriteCommand(ctx, b.out)
	if err == nil {
		b.writeErrors = 0
		return
	}
	b.writeErrors++
	if b.writeErrors == 1 || b.writeErrors%1000 == 0 {
		b.logger.Warnf("command dispatch failed (%d in a row): %v", b.writeErrors, err)
	}
	if b.writeErrors > maxStaleTicks && b.state != EmergencyStop {
		b.setState(EmergencyStop, errors.Wrapf(ErrCommunicationFault, "command dispatch failed %d times: %v", b.writeErrors, err), now)
	}
}

// advance finishes the active goal once the trajectory has ended and the
// joints have arrived.
func (b *Brain) advance(now time.Time) {
	if b.state != Executing {
		return
	}
	elapsed := now.Sub(b.startedAt)
	if !b.traj.Done(elapsed) {
		return
	}
	if b.reached() {
		b.setState(Idle, nil, now)
		return
	}
	if elapsed-b.traj.Duration() > b.cfg.SettleTimeout {
		b.setState(Fault, errors.Wrapf(ErrNotSettled, "goal %s not reached %v after the trajectory ended",
			b.goal.ID, b.cfg.SettleTimeout), now)
	}
}

func (b *Brain) reached() bool {
	if !b.haveMeasured {
		return false
	}
	tol := b.goal.Tolerance
	if tol == 0 {
		tol = b.cfg.CompletionTolerance
	}
	if b.goal.Pose != nil {
		if b.cfg.IK.PositionOnly {
			return b.fk.PoseAt(b.q, b.frame).Point.Sub(b.goal.Pose.Point).Norm() <= tol
		}
		return b.fk.Verify(b.q, b.frame, *b.goal.Pose, tol)
	}
	for i, g := range b.traj.Goal() {
		if math.Abs(b.q[i]-g) > tol {
			return false
		}
	}
	return true
}

func (b *Brain) setState(to State, reason error, now time.Time) {
	from := b.state
	goalID := ""
	if b.goal != nil {
		goalID = b.goal.ID
	}
	b.state = to

	switch to {
	case Idle:
		b.goal = nil
		fallthrough
	case Fault, EmergencyStop:
		b.stopPlanning()
		b.traj, b.profile = nil, nil
		b.brake = nil
	}

	b.status.Store(&Status{State: to, GoalID: goalID, Reason: reason, Kind: FaultKind(reason), Since: now})
	if reason != nil {
		b.logger.Errorf("%s -> %s (goal %q): %v", from, to, goalID, reason)
	} else {
		b.logger.Infof("%s -> %s (goal %q)", from, to, goalID)
	}

	t := Transition{From: from, To: to, GoalID: goalID, Reason: reason, At: now}
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- t:
		default:
		}
	}
}
