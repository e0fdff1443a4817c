// Package config loads the process configuration for the brain service.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"gopkg.in/yaml.v3"

	"humanoid_brain/brain"
	"humanoid_brain/kinematics"
	"humanoid_brain/models"
	"humanoid_brain/transport/feetech"
	"humanoid_brain/transport/sim"
)

// Transport kinds.
const (
	TransportSim     = "sim"
	TransportFeetech = "feetech"
)

// Config is the whole process configuration. Durations are strings such as
// "250ms" in YAML and nanoseconds in JSON. A zero tick_rate_hz selects the
// transport's default rate.
type Config struct {
	// Model is an embedded model name or a path to a model file.
	Model    string `json:"model" yaml:"model"`
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`

	brain.Config `yaml:",inline"`

	Transport Transport `json:"transport" yaml:"transport"`
}

// Transport selects and configures the joint interface.
type Transport struct {
	Kind    string         `json:"kind" yaml:"kind"`
	Sim     sim.Config     `json:"sim,omitempty" yaml:"sim,omitempty"`
	Feetech feetech.Config `json:"feetech,omitempty" yaml:"feetech,omitempty"`
}

// Default returns a configuration driving the simulated SO-101 arm.
func Default() Config {
	cfg := Config{
		Model:     "so101",
		LogLevel:  "info",
		Config:    brain.DefaultConfig(),
		Transport: Transport{Kind: TransportSim},
	}
	cfg.TickRateHz = 0
	return cfg
}

// defaultTickRate is the control rate each transport sustains.
func defaultTickRate(kind string) float64 {
	if kind == TransportFeetech {
		return feetech.DefaultTickRateHz
	}
	return brain.DefaultConfig().TickRateHz
}

// Load reads a YAML or JSON file, chosen by extension, over the defaults
// and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	cfg, err := Parse(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	if err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data over the defaults without validating. format is
// "yaml", "yml" or anything else for JSON.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()
	var err error
	switch strings.ToLower(format) {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	return &cfg, nil
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Model == "" {
		return errors.Errorf("%s: must specify a model", path)
	}
	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = TransportSim
	}
	if cfg.Transport.Kind != TransportSim && cfg.Transport.Kind != TransportFeetech {
		return errors.Errorf("%s: unknown transport kind %q", path, cfg.Transport.Kind)
	}
	if cfg.TickRateHz == 0 {
		cfg.TickRateHz = defaultTickRate(cfg.Transport.Kind)
	}
	if cfg.Transport.Sim.TimeConstant < 0 {
		return errors.Errorf("%s: sim time_constant must not be negative", path)
	}
	if _, err := cfg.Level(); err != nil {
		return errors.Wrap(err, path)
	}
	return errors.Wrap(cfg.Config.Validate(), path)
}

// Level parses LogLevel, defaulting to info.
func (cfg *Config) Level() (logging.Level, error) {
	if cfg.LogLevel == "" {
		return logging.INFO, nil
	}
	return logging.LevelFromString(cfg.LogLevel)
}

// LoadModel builds the configured model and checks the transport settings
// against its joints and the tick rate. Model errors match
// kinematics.ErrConstruction. cfg must have been validated.
func (cfg *Config) LoadModel() (*kinematics.Model, error) {
	m, err := models.Load(cfg.Model)
	if err != nil {
		return nil, err
	}
	for id := range cfg.Transport.Sim.Initial {
		if _, ok := m.Joint(id); !ok {
			return nil, errors.Errorf("transport.sim: initial position for unknown joint %q", id)
		}
	}
	if cfg.Transport.Kind == TransportFeetech {
		if err := cfg.Transport.Feetech.Validate("transport.feetech", m); err != nil {
			return nil, err
		}
		if cfg.TickRateHz <= 0 {
			return nil, errors.New("config must be validated before scheduling the feetech bus")
		}
		if err := cfg.Transport.Feetech.Schedule("transport.feetech", cfg.Period()); err != nil {
			return nil, err
		}
	}
	return m, nil
}
