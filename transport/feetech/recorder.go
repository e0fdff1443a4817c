package feetech

import (
	"context"
	"math"
	"sort"
	"time"

	sts "github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// RangeRecorder builds calibrations from a homing pose and the raw range
// each joint was moved through.
type RangeRecorder struct {
	ids     map[string]int
	home    map[string]int
	min     map[string]int
	max     map[string]int
	samples int
}

// NewRangeRecorder records the joints in servos, keyed by joint id.
func NewRangeRecorder(servos map[string]int) *RangeRecorder {
	r := &RangeRecorder{
		ids:  servos,
		home: make(map[string]int, len(servos)),
		min:  make(map[string]int, len(servos)),
		max:  make(map[string]int, len(servos)),
	}
	for joint := range servos {
		r.min[joint] = math.MaxInt32
		r.max[joint] = math.MinInt32
	}
	return r
}

// Home sets the raw positions that become each joint's zero.
func (r *RangeRecorder) Home(raw map[string]int) {
	for joint, v := range raw {
		if _, ok := r.ids[joint]; ok {
			r.home[joint] = v
			r.Observe(map[string]int{joint: v})
		}
	}
}

// Observe widens the recorded ranges.
func (r *RangeRecorder) Observe(raw map[string]int) {
	for joint, v := range raw {
		if _, ok := r.ids[joint]; !ok {
			continue
		}
		if v < r.min[joint] {
			r.min[joint] = v
		}
		if v > r.max[joint] {
			r.max[joint] = v
		}
	}
	r.samples++
}

// Finish returns one calibration per joint. Joints without a homing pose or
// that were not moved are errors.
func (r *RangeRecorder) Finish() (map[string]Calibration, error) {
	joints := make([]string, 0, len(r.ids))
	for joint := range r.ids {
		joints = append(joints, joint)
	}
	sort.Strings(joints)

	out := make(map[string]Calibration, len(joints))
	var errs error
	for _, joint := range joints {
		home, ok := r.home[joint]
		if !ok {
			errs = multierr.Append(errs, errors.Errorf("joint %s has no homing position", joint))
			continue
		}
		c := Calibration{ID: r.ids[joint], RangeMin: r.min[joint], RangeMax: r.max[joint]}
		c.HomingOffset = home - (c.RangeMin+c.RangeMax)/2
		if err := c.Validate(); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "joint %s was not moved through its range", joint))
			continue
		}
		out[joint] = c
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}

// RecordCalibration disables torque on the configured servos, takes their
// current positions as home and records ranges until ctx is done, so the
// joints can be moved by hand.
func RecordCalibration(ctx context.Context, cfg Config, registry *Registry[*sts.Bus], logger logging.Logger) (map[string]Calibration, error) {
	bus, err := registry.Acquire(BusConfig{Port: cfg.Port, Baudrate: cfg.Baudrate})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := registry.Release(cfg.Port); err != nil {
			logger.Warnf("releasing %s: %v", cfg.Port, err)
		}
	}()
	drivers := make(map[string]servoDriver, len(cfg.Servos))
	for joint, id := range cfg.Servos {
		drivers[joint] = sts.NewServo(bus, id, &sts.ModelSTS3215)
	}
	return recordRanges(ctx, drivers, cfg.Servos, 10*time.Millisecond, logger)
}

func recordRanges(
	ctx context.Context,
	drivers map[string]servoDriver,
	servos map[string]int,
	interval time.Duration,
	logger logging.Logger,
) (map[string]Calibration, error) {
	// reads must outlive ctx, which only ends the recording
	io := context.WithoutCancel(ctx)
	for joint, d := range drivers {
		if err := d.Disable(io); err != nil {
			return nil, errors.Wrapf(err, "failed to disable torque on %s", joint)
		}
	}

	read := func() (map[string]int, error) {
		raw := make(map[string]int, len(drivers))
		for joint, d := range drivers {
			v, err := d.Position(io)
			if err != nil {
				return nil, errors.Wrapf(err, "reading %s", joint)
			}
			raw[joint] = v
		}
		return raw, nil
	}

	rec := NewRangeRecorder(servos)
	home, err := read()
	if err != nil {
		return nil, err
	}
	rec.Home(home)
	logger.Infof("Homing positions set: %v. Move every joint through its full range.", home)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("Range recording stopped after %d samples", rec.samples)
			return rec.Finish()
		case <-ticker.C:
			raw, err := read()
			if err != nil {
				logger.Errorf("Failed to read positions during recording: %v", err)
				continue
			}
			rec.Observe(raw)
		}
	}
}
