package ik

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"humanoid_brain/kinematics"
	"humanoid_brain/models"
	"humanoid_brain/spatial"
)

func singleJoint(t *testing.T) *kinematics.Model {
	t.Helper()
	m, err := kinematics.NewModel(kinematics.Definition{
		Name: "single",
		Joints: []kinematics.JointConfig{
			{ID: "joint_1", Axis: [3]float64{0, 0, 1}, Min: -math.Pi / 2, Max: math.Pi / 2, MaxVelocity: 1, MaxAcceleration: 1, MaxTorque: 1},
		},
		Links: []kinematics.LinkConfig{
			{ID: "tip", Joint: "joint_1", TransformConfig: kinematics.TransformConfig{Translation: [3]float64{1, 0, 0}}},
		},
	})
	test.That(t, err, test.ShouldBeNil)
	return m
}

func newSolver(t *testing.T, m *kinematics.Model, cfg Config) *Solver {
	t.Helper()
	s, err := NewSolver(kinematics.NewForwardSolver(m), cfg)
	test.That(t, err, test.ShouldBeNil)
	return s
}

func TestSingleJointReachable(t *testing.T) {
	m := singleJoint(t)
	s := newSolver(t, m, DefaultConfig())
	target := kinematics.NewForwardSolver(m).PoseAt([]float64{math.Pi / 4}, 0)

	sol, err := s.Solve(context.Background(), target, "tip", m.StateFromPositions([]float64{0}, time.Now()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.State.Joints["joint_1"].Position, test.ShouldAlmostEqual, math.Pi/4, DefaultConfig().Tolerance)
	test.That(t, sol.Iterations, test.ShouldBeLessThanOrEqualTo, 50)
	test.That(t, sol.Residual, test.ShouldBeLessThanOrEqualTo, DefaultConfig().Tolerance)
}

func TestSingleJointOutOfReach(t *testing.T) {
	m := singleJoint(t)
	s := newSolver(t, m, DefaultConfig())

	tests := []struct {
		name   string
		target spatial.Pose
	}{
		{"too far", spatial.Translation(r3.Vector{X: 5})},
		{"beyond joint limit", kinematics.NewForwardSolver(m).PoseAt([]float64{2.5}, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SolvePositions(context.Background(), tt.target, 0, []float64{0})
			test.That(t, err, test.ShouldNotBeNil)
			failed := errors.Is(err, ErrMaxIterationsExceeded) || errors.Is(err, ErrSingularityDetected)
			test.That(t, failed, test.ShouldBeTrue)
		})
	}
}

func TestSingularityDetected(t *testing.T) {
	// two coaxial joints at the same origin give identical Jacobian columns
	m, err := kinematics.NewModel(kinematics.Definition{
		Joints: []kinematics.JointConfig{
			{ID: "a", Axis: [3]float64{0, 0, 1}, Min: -3, Max: 3, MaxVelocity: 1, MaxAcceleration: 1, MaxTorque: 1},
			{ID: "b", Parent: "a", Axis: [3]float64{0, 0, 1}, Min: -3, Max: 3, MaxVelocity: 1, MaxAcceleration: 1, MaxTorque: 1},
		},
		Links: []kinematics.LinkConfig{
			{ID: "tip", Joint: "b", TransformConfig: kinematics.TransformConfig{Translation: [3]float64{1, 0, 0}}},
		},
	})
	test.That(t, err, test.ShouldBeNil)
	cfg := DefaultConfig()
	cfg.SingularityThreshold = 1e-6
	cfg.SingularityPatience = 3
	s := newSolver(t, m, cfg)

	_, err = s.SolvePositions(context.Background(), spatial.Translation(r3.Vector{Z: 1}), 1, []float64{0, 0})
	test.That(t, errors.Is(err, ErrSingularityDetected), test.ShouldBeTrue)
}

func TestRoundTrip(t *testing.T) {
	m, err := models.Load("so101")
	test.That(t, err, test.ShouldBeNil)
	fk := kinematics.NewForwardSolver(m)
	s := newSolver(t, m, DefaultConfig())
	frame, _ := m.Frame("gripper")

	rng := rand.New(rand.NewSource(7))
	for n := 0; n < 20; n++ {
		q := make([]float64, m.NumJoints())
		for i := range q {
			l := m.Limits(i)
			q[i] = l.Min + 0.1*(l.Max-l.Min) + 0.8*(l.Max-l.Min)*rng.Float64()
		}
		target := fk.PoseAt(q, frame)

		sol, err := s.SolvePositions(context.Background(), target, frame, q)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sol.Iterations, test.ShouldEqual, 0)

		seed := make([]float64, len(q))
		for i := range q {
			seed[i] = m.Limits(i).Clamp(q[i] + 0.1*(rng.Float64()-0.5))
		}
		sol, err = s.SolvePositions(context.Background(), target, frame, seed)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, fk.Verify(sol.Positions, frame, target, DefaultConfig().Tolerance), test.ShouldBeTrue)
		for i, v := range sol.Positions {
			test.That(t, m.Limits(i).Contains(v), test.ShouldBeTrue)
		}
	}
}

func TestPositionOnly(t *testing.T) {
	m, err := models.Load("humanoid_upper")
	test.That(t, err, test.ShouldBeNil)
	fk := kinematics.NewForwardSolver(m)
	cfg := DefaultConfig()
	cfg.PositionOnly = true
	s := newSolver(t, m, cfg)

	frame, _ := m.Frame("left_hand")
	home := make([]float64, m.NumJoints())
	for i := range home {
		home[i] = m.Limits(i).Clamp(0)
	}
	elbow, _ := m.JointIndex("left_elbow")
	home[elbow] = -0.8
	start := fk.PoseAt(home, frame)
	target := spatial.Translation(start.Point.Add(r3.Vector{X: 0.05, Z: 0.05}))

	sol, err := s.SolvePositions(context.Background(), target, frame, home)
	test.That(t, err, test.ShouldBeNil)
	got := fk.PoseAt(sol.Positions, frame).Point
	test.That(t, got.Sub(target.Point).Norm(), test.ShouldBeLessThanOrEqualTo, cfg.Tolerance)

	// the other arm is not on the chain and keeps its seed
	right, _ := m.JointIndex("right_elbow")
	test.That(t, sol.Positions[right], test.ShouldEqual, home[right])
}

func TestSolveCancelled(t *testing.T) {
	m := singleJoint(t)
	s := newSolver(t, m, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.SolvePositions(ctx, spatial.Translation(r3.Vector{Y: 1}), 0, []float64{0})
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestSolveInputErrors(t *testing.T) {
	m := singleJoint(t)
	s := newSolver(t, m, DefaultConfig())

	_, err := s.Solve(context.Background(), spatial.Identity(), "nope", m.StateFromPositions([]float64{0}, time.Time{}))
	test.That(t, errors.Is(err, kinematics.ErrUnknownFrame), test.ShouldBeTrue)

	_, err = s.Solve(context.Background(), spatial.Identity(), "tip", kinematics.NewJointState(time.Time{}))
	test.That(t, errors.Is(err, kinematics.ErrIncompleteState), test.ShouldBeTrue)
}

func TestConfigValidate(t *testing.T) {
	test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)

	bad := []func(c *Config){
		func(c *Config) { c.MaxIterations = 0 },
		func(c *Config) { c.Tolerance = 0 },
		func(c *Config) { c.Damping = 0 },
		func(c *Config) { c.MaxStep = -1 },
		func(c *Config) { c.SingularityThreshold = -1 },
		func(c *Config) { c.SingularityPatience = 0 },
		func(c *Config) { c.OrientationWeight = 0 },
	}
	for _, mutate := range bad {
		c := DefaultConfig()
		mutate(&c)
		test.That(t, c.Validate(), test.ShouldNotBeNil)
		_, err := NewSolver(kinematics.NewForwardSolver(singleJoint(t)), c)
		test.That(t, err, test.ShouldNotBeNil)
	}
}
