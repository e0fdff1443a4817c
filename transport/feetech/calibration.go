package feetech

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/pkg/errors"
)

// Encoder resolution of the STS series, in ticks per revolution.
const ticksPerRevolution = 4096

// Calibration maps a servo's raw encoder ticks to joint radians. The joint
// zero sits at the middle of [RangeMin, RangeMax] shifted by HomingOffset.
type Calibration struct {
	ID           int `json:"id"`
	DriveMode    int `json:"drive_mode"`
	HomingOffset int `json:"homing_offset"`
	RangeMin     int `json:"range_min"`
	RangeMax     int `json:"range_max"`
}

// DefaultCalibration is used for servos without a calibration entry.
func DefaultCalibration(id int) Calibration {
	return Calibration{ID: id, RangeMin: 500, RangeMax: 3500}
}

func (c Calibration) center() float64 {
	return float64(c.RangeMin+c.RangeMax)/2 + float64(c.HomingOffset)
}

// Radians converts a raw position to joint radians.
func (c Calibration) Radians(raw int) float64 {
	rad := (float64(raw) - c.center()) * 2 * math.Pi / ticksPerRevolution
	if c.DriveMode != 0 {
		rad = -rad
	}
	return rad
}

// Raw converts joint radians to a raw position clamped to the servo range.
func (c Calibration) Raw(rad float64) int {
	if c.DriveMode != 0 {
		rad = -rad
	}
	raw := int(math.Round(rad*ticksPerRevolution/(2*math.Pi) + c.center()))
	if raw < c.RangeMin {
		raw = c.RangeMin
	}
	if raw > c.RangeMax {
		raw = c.RangeMax
	}
	return raw
}

// Speed converts an angular speed to the servo's ticks per second, never
// returning zero since the servo treats zero as unlimited.
func (c Calibration) Speed(radPerSec float64) int {
	ticks := int(math.Ceil(math.Abs(radPerSec) * ticksPerRevolution / (2 * math.Pi)))
	if ticks < 1 {
		ticks = 1
	}
	return ticks
}

// Validate checks that the calibration parameters are usable.
func (c Calibration) Validate() error {
	if c.ID < 0 || c.ID > 253 {
		return fmt.Errorf("invalid servo ID: %d", c.ID)
	}
	if c.RangeMin >= c.RangeMax {
		return fmt.Errorf("invalid range: min (%d) must be less than max (%d)", c.RangeMin, c.RangeMax)
	}
	if c.RangeMin < 0 || c.RangeMax >= ticksPerRevolution {
		return fmt.Errorf("range values must be between 0-%d, got min=%d max=%d", ticksPerRevolution-1, c.RangeMin, c.RangeMax)
	}
	return nil
}

// LoadCalibrationFile reads per-joint calibrations keyed by joint id.
func LoadCalibrationFile(path string) (map[string]Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read calibration file %s", path)
	}
	var cals map[string]Calibration
	if err := json.Unmarshal(data, &cals); err != nil {
		return nil, errors.Wrapf(err, "failed to parse calibration file %s", path)
	}
	for joint, c := range cals {
		if err := c.Validate(); err != nil {
			return nil, errors.Wrapf(err, "calibration for %s", joint)
		}
	}
	return cals, nil
}

// SaveCalibrationFile writes per-joint calibrations keyed by joint id.
func SaveCalibrationFile(path string, cals map[string]Calibration) error {
	data, err := json.MarshalIndent(cals, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode calibration")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "failed to write calibration file %s", path)
}
