package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"

	"humanoid_brain/brain"
	"humanoid_brain/ik"
	"humanoid_brain/kinematics"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := write(t, "brain.yaml", `
model: humanoid_upper
log_level: debug
tick_rate_hz: 1000
planning_timeout: 100ms
safe_output: zero
ik:
  max_iterations: 50
  tolerance: 0.001
  damping: 0.05
  max_step: 0.1
  singularity_threshold: 0.00001
  singularity_patience: 5
  orientation_weight: 0.5
  position_only: true
safety:
  position_margin: 0.05
  velocity_margin: 0.25
  tracking_threshold: 0.2
  singularity_threshold: 0.001
transport:
  kind: sim
  sim:
    time_constant: 30ms
    initial:
      left_elbow: -0.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "humanoid_upper", cfg.Model)
	assert.Equal(t, 1000.0, cfg.TickRateHz)
	assert.Equal(t, time.Millisecond, cfg.Period())
	assert.Equal(t, 100*time.Millisecond, cfg.PlanningTimeout)
	assert.Equal(t, brain.SafeZero, cfg.SafeOutput)
	assert.Equal(t, 50, cfg.IK.MaxIterations)
	assert.True(t, cfg.IK.PositionOnly)
	assert.Equal(t, 0.2, cfg.Safety.TrackingThreshold)
	assert.Equal(t, 30*time.Millisecond, cfg.Transport.Sim.TimeConstant)

	// unset sections keep their defaults
	assert.Equal(t, brain.DefaultConfig().Planner, cfg.Planner)
	assert.Equal(t, brain.DefaultConfig().SettleTimeout, cfg.SettleTimeout)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, logging.DEBUG, level)

	m, err := cfg.LoadModel()
	require.NoError(t, err)
	assert.Equal(t, "humanoid_upper", m.Name())
}

func TestLoadAnalyticIK(t *testing.T) {
	path := write(t, "brain.yaml", `
model: kr6
ik:
  opw: {frame: flange, a1: 0.150, c1: 0.550, c2: 0.550, c3: 0.600, c4: 0.110}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.IK.OPW)
	assert.Equal(t, 0.6, cfg.IK.OPW.C3)
	// the rest of the section keeps its defaults
	assert.Equal(t, brain.DefaultConfig().IK.MaxIterations, cfg.IK.MaxIterations)

	m, err := cfg.LoadModel()
	require.NoError(t, err)
	_, err = ik.NewSolver(kinematics.NewForwardSolver(m), cfg.IK)
	require.NoError(t, err)

	path = write(t, "bad.yaml", `
model: kr6
ik:
  position_only: true
  opw: {a1: 0.150, c1: 0.550, c2: 0.550, c3: 0.600, c4: 0.110}
`)
	_, err = Load(path)
	assert.ErrorContains(t, err, "position_only")
}

func TestLoadJSON(t *testing.T) {
	path := write(t, "brain.json", `{
		"model": "so101",
		"tick_rate_hz": 40,
		"planner": {"velocity_scale": 0.5, "acceleration_scale": 0.25},
		"transport": {"kind": "feetech", "feetech": {"port": "/dev/ttyACM0", "poll_interval": 15000000}}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 40.0, cfg.TickRateHz)
	assert.Equal(t, 0.5, cfg.Planner.VelocityScale)
	assert.Equal(t, TransportFeetech, cfg.Transport.Kind)

	_, err = cfg.LoadModel()
	require.NoError(t, err)
	assert.Equal(t, 1000000, cfg.Transport.Feetech.Baudrate)
	assert.Len(t, cfg.Transport.Feetech.Servos, 5)
	assert.Equal(t, 15*time.Millisecond, cfg.Transport.Feetech.PollInterval)
}

func TestTickRatePerTransport(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate("default"))
	assert.Equal(t, brain.DefaultConfig().TickRateHz, cfg.TickRateHz)

	cfg = Default()
	cfg.Transport.Kind = TransportFeetech
	require.NoError(t, cfg.Validate("feetech"))
	assert.Equal(t, 20*time.Millisecond, cfg.Period())
	_, err := cfg.LoadModel()
	require.NoError(t, err)
	// every tick sees at least one fresh poll
	assert.LessOrEqual(t, cfg.Transport.Feetech.PollInterval, cfg.Period())
	assert.GreaterOrEqual(t, cfg.Transport.Feetech.PollInterval, cfg.Transport.Feetech.BusCycle())
}

func TestFeetechPollMustKeepUp(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			"tick rate beyond the bus",
			"tick_rate_hz: 500\ntransport:\n  kind: feetech\n",
			"longer than the 2ms control period",
		},
		{
			"poll slower than a tick",
			"tick_rate_hz: 50\ntransport:\n  kind: feetech\n  feetech:\n    poll_interval: 30ms\n",
			"longer than the 20ms control period",
		},
		{
			"poll faster than the bus",
			"transport:\n  kind: feetech\n  feetech:\n    poll_interval: 1ms\n",
			"shorter than",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(write(t, "brain.yaml", tc.yaml))
			require.NoError(t, err)
			_, err = cfg.LoadModel()
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate("default"))
	m, err := cfg.LoadModel()
	require.NoError(t, err)
	assert.Equal(t, 5, m.NumJoints())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no model", func(c *Config) { c.Model = "" }, "must specify a model"},
		{"transport", func(c *Config) { c.Transport.Kind = "can" }, "unknown transport"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "cfg.yaml"},
		{"tick rate", func(c *Config) { c.TickRateHz = -1 }, "tick_rate_hz"},
		{"safety", func(c *Config) { c.Safety.PositionMargin = -1 }, "position_margin"},
		{"sim", func(c *Config) { c.Transport.Sim.TimeConstant = -time.Second }, "time_constant"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate("cfg.yaml"), tc.want)
		})
	}
}

func TestLoadModelErrors(t *testing.T) {
	cfg := Default()
	cfg.Model = "walker"
	_, err := cfg.LoadModel()
	assert.ErrorContains(t, err, "walker")

	cfg = Default()
	cfg.Transport.Sim.Initial = map[string]float64{"tail": 1}
	_, err = cfg.LoadModel()
	assert.ErrorContains(t, err, "tail")

	cfg = Default()
	cfg.Model = write(t, "broken.yaml", `
name: broken
joints:
  - id: a
    axis: [0, 0, 0]
    min: -1
    max: 1
    max_velocity: 1
    max_acceleration: 1
    max_torque: 1
`)
	_, err = cfg.LoadModel()
	assert.ErrorIs(t, err, kinematics.ErrConstruction)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(write(t, "bad.json", `{"model": `))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Load(write(t, "bad.yaml", "tick_rate_hz: -5\n"))
	assert.ErrorContains(t, err, "tick_rate_hz")
}
