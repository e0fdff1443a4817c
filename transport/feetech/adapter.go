// Package feetech drives Feetech STS serial-bus servos through the
// transport contract. Bus I/O runs on a polling goroutine so that reads and
// writes from the control loop never wait on the serial port.
package feetech

import (
	"context"
	"sync"
	"time"

	sts "github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"humanoid_brain/kinematics"
	"humanoid_brain/transport"
)

// Full-scale servo load reading, in tenths of a percent.
const fullLoad = 1000.0

// servoDriver is the part of a servo the adapter uses.
type servoDriver interface {
	Position(ctx context.Context) (int, error)
	Load(ctx context.Context) (int, error)
	SetPositionWithSpeed(ctx context.Context, position, speed int) error
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
}

type servoJoint struct {
	id          string
	driver      servoDriver
	cal         Calibration
	torqueLimit float64
	lastPos     float64
	lastStamp   time.Time
}

// Adapter is a transport.Transport over one Feetech bus.
type Adapter struct {
	logger   logging.Logger
	cfg      Config
	release  func() error
	joints   []*servoJoint
	mu       sync.Mutex
	latest   map[string]transport.Feedback
	pending  map[string]transport.Command
	scratch  map[string]transport.Command
	dirty    bool
	failures int

	cancelCtx               context.Context
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewBusRegistry returns a registry that opens STS protocol buses with the
// given read timeout.
func NewBusRegistry(timeout time.Duration, logger logging.Logger) *Registry[*sts.Bus] {
	return NewRegistry(func(cfg BusConfig) (*sts.Bus, error) {
		return sts.NewBus(sts.BusConfig{
			Port:     cfg.Port,
			BaudRate: cfg.Baudrate,
			Protocol: sts.ProtocolSTS,
			Timeout:  timeout,
		})
	}, logger)
}

// Open acquires the bus from registry, enables every mapped servo and
// starts polling. cfg must have been validated against m and scheduled.
func Open(ctx context.Context, m *kinematics.Model, cfg Config, registry *Registry[*sts.Bus], logger logging.Logger) (*Adapter, error) {
	if cfg.PollInterval <= 0 {
		return nil, errors.New("poll_interval is not set; schedule the config against the control period")
	}
	if cfg.Port == "" {
		ids := make([]int, 0, len(cfg.Servos))
		for _, id := range cfg.Servos {
			ids = append(ids, id)
		}
		found, err := Discover(ctx, cfg.Baudrate, ids, "", logger)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, errors.New("no feetech servos found on any serial port")
		}
		cfg.Port = found[0].Port
	}

	bus, err := registry.Acquire(BusConfig{Port: cfg.Port, Baudrate: cfg.Baudrate})
	if err != nil {
		return nil, err
	}
	release := func() error { return registry.Release(cfg.Port) }

	cals := map[string]Calibration{}
	if cfg.CalibrationFile != "" {
		if cals, err = LoadCalibrationFile(cfg.CalibrationFile); err != nil {
			return nil, multierr.Combine(err, release())
		}
	}

	drivers := make(map[string]servoDriver, len(cfg.Servos))
	for joint, id := range cfg.Servos {
		drivers[joint] = sts.NewServo(bus, id, &sts.ModelSTS3215)
		if _, ok := cals[joint]; !ok {
			cals[joint] = DefaultCalibration(id)
		}
	}

	a := newAdapter(m, cfg, drivers, cals, release, logger)
	if err := a.enable(ctx); err != nil {
		return nil, err
	}
	a.start()
	logger.Infof("Feetech transport running on %s with %d servos", cfg.Port, len(a.joints))
	return a, nil
}

func newAdapter(
	m *kinematics.Model,
	cfg Config,
	drivers map[string]servoDriver,
	cals map[string]Calibration,
	release func() error,
	logger logging.Logger,
) *Adapter {
	a := &Adapter{
		logger:  logger,
		cfg:     cfg,
		release: release,
		latest:  make(map[string]transport.Feedback, len(drivers)),
		pending: make(map[string]transport.Command, len(drivers)),
		scratch: make(map[string]transport.Command, len(drivers)),
	}
	for _, j := range m.Joints() {
		d, ok := drivers[j.ID]
		if !ok {
			continue
		}
		a.joints = append(a.joints, &servoJoint{
			id:          j.ID,
			driver:      d,
			cal:         cals[j.ID],
			torqueLimit: j.Limits.Torque,
		})
	}
	return a
}

// enable torques every servo. When one fails, the servos already enabled
// are disabled again and the bus is released.
func (a *Adapter) enable(ctx context.Context) error {
	for i, j := range a.joints {
		err := j.driver.Enable(ctx)
		if err == nil {
			continue
		}
		err = errors.Wrapf(err, "failed to enable servo for %s", j.id)
		for _, done := range a.joints[:i] {
			err = multierr.Append(err, errors.Wrapf(done.driver.Disable(ctx), "disabling %s", done.id))
		}
		if a.release != nil {
			err = multierr.Append(err, a.release())
		}
		return err
	}
	return nil
}

func (a *Adapter) start() {
	a.cancelCtx, a.cancel = context.WithCancel(context.Background())
	a.activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer a.activeBackgroundWorkers.Done()
		ticker := time.NewTicker(a.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(a.cancelCtx, a.cfg.Timeout)
				a.poll(ctx)
				cancel()
			case <-a.cancelCtx.Done():
				return
			}
		}
	})
}

// poll reads every servo, then writes the newest pending command if any.
// A servo that fails to answer keeps its previous sample, which the reader
// sees as stale.
func (a *Adapter) poll(ctx context.Context) {
	var failed error
	for _, j := range a.joints {
		raw, err := j.driver.Position(ctx)
		if err != nil {
			failed = multierr.Append(failed, errors.Wrapf(err, "reading %s", j.id))
			continue
		}
		now := time.Now()
		pos := j.cal.Radians(raw)
		fb := transport.Feedback{Position: pos, Stamp: now}
		if !j.lastStamp.IsZero() {
			if dt := now.Sub(j.lastStamp).Seconds(); dt > 0 {
				fb.Velocity = (pos - j.lastPos) / dt
			}
		}
		if load, err := j.driver.Load(ctx); err == nil {
			fb.Torque = float64(load) / fullLoad * j.torqueLimit
		}
		j.lastPos, j.lastStamp = pos, now

		a.mu.Lock()
		a.latest[j.id] = fb
		a.mu.Unlock()
	}

	a.mu.Lock()
	send := a.dirty
	if send {
		for k, v := range a.pending {
			a.scratch[k] = v
		}
		a.dirty = false
	}
	a.mu.Unlock()

	if send {
		for _, j := range a.joints {
			c, ok := a.scratch[j.id]
			if !ok {
				continue
			}
			if err := j.driver.SetPositionWithSpeed(ctx, j.cal.Raw(c.Position), j.cal.Speed(c.Velocity)); err != nil {
				failed = multierr.Append(failed, errors.Wrapf(err, "writing %s", j.id))
			}
		}
	}

	if failed != nil {
		a.failures++
		if a.failures == 1 || a.failures%100 == 0 {
			a.logger.Warnf("feetech bus errors (%d polls failed): %v", a.failures, failed)
		}
	} else {
		a.failures = 0
	}
}

// ReadFeedback implements transport.FeedbackSource.
func (a *Adapter) ReadFeedback(ctx context.Context, dst map[string]transport.Feedback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range a.latest {
		dst[k] = v
	}
	return nil
}

// WriteCommand implements transport.CommandSink.
func (a *Adapter) WriteCommand(ctx context.Context, cmd map[string]transport.Command) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range cmd {
		a.pending[k] = v
	}
	a.dirty = true
	return nil
}

// Close stops polling, disables torque and releases the bus.
func (a *Adapter) Close(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.activeBackgroundWorkers.Wait()
	var err error
	for _, j := range a.joints {
		err = multierr.Append(err, errors.Wrapf(j.driver.Disable(ctx), "disabling %s", j.id))
	}
	if a.release != nil {
		err = multierr.Append(err, a.release())
	}
	return err
}
