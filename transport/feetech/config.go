package feetech

import (
	"fmt"
	"time"

	"humanoid_brain/kinematics"
)

// Config selects the serial bus and maps model joints to servos.
type Config struct {
	// Port is the serial device; empty selects the first candidate port
	// that answers on the first configured servo.
	Port     string        `json:"port,omitempty" yaml:"port,omitempty"`
	Baudrate int           `json:"baudrate,omitempty" yaml:"baudrate,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// PollInterval is how often the bus is read and written. It must fit
	// one bus cycle and be no longer than the control period; zero picks
	// half the period, see Schedule.
	PollInterval time.Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	// Servos maps joint ids to servo ids.
	Servos          map[string]int `json:"servos,omitempty" yaml:"servos,omitempty"`
	CalibrationFile string         `json:"calibration_file,omitempty" yaml:"calibration_file,omitempty"`
}

// DefaultTickRateHz is a control rate one 1 Mbaud bus sustains for a small
// arm, with a fresh sample every tick.
const DefaultTickRateHz = 50

// One request/response exchange: about 16 bytes on the wire plus the
// turnaround of a USB serial adapter.
const (
	exchangeBytes      = 16
	exchangeTurnaround = 300 * time.Microsecond
)

// BusCycle estimates one poll: a position read, a load read and a write for
// every mapped servo.
func (cfg Config) BusCycle() time.Duration {
	baud := cfg.Baudrate
	if baud <= 0 {
		baud = 1000000
	}
	wire := time.Duration(exchangeBytes*10) * time.Second / time.Duration(baud)
	return time.Duration(3*len(cfg.Servos)) * (wire + exchangeTurnaround)
}

// Schedule fits the poll interval to a control period. Feedback is only
// refreshed once per poll, so a poll slower than the period starves the
// control loop, and one faster than a bus cycle cannot be kept. A zero
// interval becomes half the period, or one bus cycle if that is longer.
// Call it after Validate.
func (cfg *Config) Schedule(path string, period time.Duration) error {
	cycle := cfg.BusCycle()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = max(period/2, cycle)
	}
	if cfg.PollInterval > period {
		return fmt.Errorf("%s: poll_interval %v is longer than the %v control period; lower tick_rate_hz or poll faster",
			path, cfg.PollInterval, period)
	}
	if cfg.PollInterval < cycle {
		return fmt.Errorf("%s: poll_interval %v is shorter than the %v one bus cycle takes for %d servos at %d baud",
			path, cfg.PollInterval, cycle, len(cfg.Servos), cfg.Baudrate)
	}
	return nil
}

// Validate fills defaults and checks the mapping against the model.
func (cfg *Config) Validate(path string, m *kinematics.Model) error {
	if cfg.Baudrate == 0 {
		cfg.Baudrate = 1000000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 100 * time.Millisecond
	}
	if cfg.PollInterval < 0 {
		return fmt.Errorf("%s: poll_interval must not be negative", path)
	}
	if len(cfg.Servos) == 0 {
		cfg.Servos = make(map[string]int, m.NumJoints())
		for i, id := range m.JointIDs() {
			cfg.Servos[id] = i + 1
		}
	}
	seen := map[int]string{}
	for _, id := range m.JointIDs() {
		servo, ok := cfg.Servos[id]
		if !ok {
			return fmt.Errorf("%s: joint %q has no servo", path, id)
		}
		if servo < 0 || servo > 253 {
			return fmt.Errorf("%s: joint %q servo id %d out of range", path, id, servo)
		}
		if other, dup := seen[servo]; dup {
			return fmt.Errorf("%s: servo %d assigned to both %q and %q", path, servo, other, id)
		}
		seen[servo] = id
	}
	for id := range cfg.Servos {
		if _, ok := m.Joint(id); !ok {
			return fmt.Errorf("%s: servo mapped to unknown joint %q", path, id)
		}
	}
	return nil
}
