package trajectory

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"humanoid_brain/kinematics"
	"humanoid_brain/models"
)

func twoJoints(t *testing.T) *kinematics.Model {
	t.Helper()
	m, err := kinematics.NewModel(kinematics.Definition{
		Joints: []kinematics.JointConfig{
			{ID: "a", Axis: [3]float64{0, 0, 1}, Min: -5, Max: 5, MaxVelocity: 1, MaxAcceleration: 1, MaxTorque: 1},
			{ID: "b", Parent: "a", Axis: [3]float64{0, 1, 0}, Min: -5, Max: 5, MaxVelocity: 2, MaxAcceleration: 4, MaxTorque: 1},
		},
	})
	require.NoError(t, err)
	return m
}

func TestTrapezoid(t *testing.T) {
	m := twoJoints(t)
	traj, err := NewPlanner(m, DefaultOptions()).Plan([]float64{0, 0}, []float64{2, 0})
	require.NoError(t, err)

	// 1s ramp up, 1s cruise, 1s ramp down
	assert.Equal(t, 3*time.Second, traj.Duration())

	v := traj.Sample(500 * time.Millisecond)
	assert.InDelta(t, 0.125, v[0].Position, 1e-9)
	assert.InDelta(t, 0.5, v[0].Velocity, 1e-9)
	assert.InDelta(t, 1, v[0].Acceleration, 1e-9)

	v = traj.Sample(1500 * time.Millisecond)
	assert.InDelta(t, 1.0, v[0].Position, 1e-9)
	assert.InDelta(t, 1.0, v[0].Velocity, 1e-9)
	assert.InDelta(t, 0, v[0].Acceleration, 1e-9)

	v = traj.Sample(2500 * time.Millisecond)
	assert.InDelta(t, 1.875, v[0].Position, 1e-9)
	assert.InDelta(t, -1, v[0].Acceleration, 1e-9)

	// b does not move
	assert.Equal(t, 0.0, v[1].Position)
}

func TestTriangle(t *testing.T) {
	m := twoJoints(t)
	traj, err := NewPlanner(m, DefaultOptions()).Plan([]float64{0, 0}, []float64{-0.5, 0})
	require.NoError(t, err)
	assert.InDelta(t, 2*math.Sqrt(0.5), traj.Duration().Seconds(), 1e-6)

	mid := traj.Sample(traj.Duration() / 2)
	assert.InDelta(t, -0.25, mid[0].Position, 1e-6)
	assert.InDelta(t, -math.Sqrt(0.5), mid[0].Velocity, 1e-6)
}

func TestSynchronizedArrival(t *testing.T) {
	m := twoJoints(t)
	traj, err := NewPlanner(m, DefaultOptions()).Plan([]float64{0, 0}, []float64{2, 0.3})
	require.NoError(t, err)
	// a is the slow joint
	assert.Equal(t, 3*time.Second, traj.Duration())

	almost := traj.Sample(traj.Duration() - time.Millisecond)
	assert.Less(t, almost[1].Position, 0.3)
	assert.InDelta(t, 0.3, almost[1].Position, 1e-3)

	peak := 0.0
	for at := time.Duration(0); at <= traj.Duration(); at += 10 * time.Millisecond {
		peak = math.Max(peak, math.Abs(traj.Sample(at)[1].Velocity))
	}
	// slowed well below its own limit
	assert.Less(t, peak, 0.2)
}

func TestSamplePastEndIsGoal(t *testing.T) {
	m := twoJoints(t)
	goal := []float64{1.234, -0.75}
	traj, err := NewPlanner(m, DefaultOptions()).Plan([]float64{-1, 0.5}, goal)
	require.NoError(t, err)

	for _, at := range []time.Duration{traj.Duration(), traj.Duration() + time.Nanosecond, time.Hour} {
		v := traj.Sample(at)
		assert.Equal(t, goal[0], v[0].Position)
		assert.Equal(t, goal[1], v[1].Position)
		assert.Equal(t, 0.0, v[0].Velocity)
		assert.True(t, traj.Done(at))
	}
	assert.Equal(t, traj.Sample(time.Hour), traj.Sample(2*time.Hour))
}

func TestZeroMotion(t *testing.T) {
	m := twoJoints(t)
	traj, err := NewPlanner(m, DefaultOptions()).Plan([]float64{0.5, 0.5}, []float64{0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), traj.Duration())
	wps := traj.Waypoints(10 * time.Millisecond)
	require.Len(t, wps, 1)
	assert.Equal(t, 0.5, wps[0].Values[0].Position)
}

func TestUnreachable(t *testing.T) {
	m := twoJoints(t)
	tests := []struct {
		name  string
		opts  Options
		start []float64
		goal  []float64
	}{
		{"zero velocity scale", Options{VelocityScale: 0, AccelerationScale: 1}, []float64{0, 0}, []float64{1, 0}},
		{"zero acceleration scale", Options{VelocityScale: 1, AccelerationScale: 0}, []float64{0, 0}, []float64{1, 0}},
		{"goal outside limits", DefaultOptions(), []float64{0, 0}, []float64{6, 0}},
		{"nan goal", DefaultOptions(), []float64{0, 0}, []float64{math.NaN(), 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlanner(m, tt.opts).Plan(tt.start, tt.goal)
			assert.True(t, errors.Is(err, ErrUnreachableWithinLimits), "got %v", err)
		})
	}

	// a zero scale is harmless when nothing moves
	_, err := NewPlanner(m, Options{}).Plan([]float64{1, 1}, []float64{1, 1})
	assert.NoError(t, err)
}

func TestPlanStates(t *testing.T) {
	m := twoJoints(t)
	p := NewPlanner(m, DefaultOptions())
	start := m.StateFromPositions([]float64{0.1, 0.2}, time.Now())
	goal := kinematics.NewJointState(time.Now())
	goal.Joints["b"] = kinematics.JointValue{Position: 1}

	traj, err := p.PlanStates(start, goal)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 1}, traj.Goal())

	end := traj.State(traj.Duration(), time.Time{})
	assert.Equal(t, 0.1, end.Joints["a"].Position)

	goal.Joints["zz"] = kinematics.JointValue{}
	_, err = p.PlanStates(start, goal)
	assert.Error(t, err)

	_, err = p.PlanStates(kinematics.NewJointState(time.Now()), goal)
	assert.True(t, errors.Is(err, kinematics.ErrIncompleteState))
}

func TestRandomTrajectoriesRespectLimits(t *testing.T) {
	m, err := models.Load("humanoid_upper")
	require.NoError(t, err)
	p := NewPlanner(m, DefaultOptions())
	rng := rand.New(rand.NewSource(11))

	random := func() []float64 {
		q := make([]float64, m.NumJoints())
		for i := range q {
			l := m.Limits(i)
			q[i] = l.Min + (l.Max-l.Min)*rng.Float64()
		}
		return q
	}

	const slack = 1e-9
	for n := 0; n < 25; n++ {
		start, goal := random(), random()
		traj, err := p.Plan(start, goal)
		require.NoError(t, err)

		wps := traj.Waypoints(7 * time.Millisecond)
		require.NotEmpty(t, wps)
		for i := range start {
			assert.Equal(t, start[i], wps[0].Values[i].Position)
			assert.Equal(t, goal[i], wps[len(wps)-1].Values[i].Position)
		}
		for k := 1; k < len(wps); k++ {
			require.Greater(t, wps[k].At, wps[k-1].At)
			dt := (wps[k].At - wps[k-1].At).Seconds()
			for i := range start {
				l := m.Limits(i)
				cur := wps[k].Values[i]
				assert.LessOrEqual(t, math.Abs(cur.Velocity), l.Velocity+slack)
				assert.LessOrEqual(t, math.Abs(cur.Acceleration), l.Acceleration+slack)
				step := math.Abs(cur.Position - wps[k-1].Values[i].Position)
				assert.LessOrEqual(t, step/dt, l.Velocity+1e-6)
			}
		}
	}
}

func TestStop(t *testing.T) {
	m := twoJoints(t)
	p := NewPlanner(m, DefaultOptions())
	traj, err := p.Stop([]float64{1, 0}, []float64{1, -2})
	require.NoError(t, err)
	assert.Equal(t, time.Second, traj.Duration())
	assert.InDeltaSlice(t, []float64{1.5, -0.5}, traj.Goal(), 1e-9)

	v := traj.Sample(0)
	assert.InDelta(t, 1.0, v[0].Position, 1e-9)
	assert.InDelta(t, 1.0, v[0].Velocity, 1e-9)
	assert.InDelta(t, 0.0, v[1].Position, 1e-9)
	assert.InDelta(t, -2.0, v[1].Velocity, 1e-9)

	v = traj.Sample(500 * time.Millisecond)
	assert.InDelta(t, 1.375, v[0].Position, 1e-9)
	assert.InDelta(t, 0.5, v[0].Velocity, 1e-9)
	assert.InDelta(t, -1, v[0].Acceleration, 1e-9)
	// b is already at rest
	assert.InDelta(t, -0.5, v[1].Position, 1e-9)
	assert.Zero(t, v[1].Velocity)

	prev := traj.Sample(0)
	for at := 10 * time.Millisecond; at <= traj.Duration(); at += 10 * time.Millisecond {
		cur := traj.Sample(at)
		for i := range cur {
			assert.LessOrEqual(t, math.Abs(cur[i].Velocity), math.Abs(prev[i].Velocity)+1e-12)
		}
		prev = cur
	}

	still, err := p.Stop([]float64{0.2, -0.3}, []float64{0, 0})
	require.NoError(t, err)
	assert.Zero(t, still.Duration())
	assert.Equal(t, []float64{0.2, -0.3}, still.Goal())

	_, err = p.Stop([]float64{4.9, 0}, []float64{1, 0})
	assert.True(t, errors.Is(err, ErrUnreachableWithinLimits), err)
	_, err = p.Stop([]float64{0}, []float64{0})
	assert.True(t, errors.Is(err, kinematics.ErrIncompleteState), err)
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())
	assert.Error(t, Options{VelocityScale: 1.5, AccelerationScale: 1}.Validate())
	assert.Error(t, Options{VelocityScale: 1, AccelerationScale: 0}.Validate())
}
