package feetech

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func TestRangeRecorder(t *testing.T) {
	rec := NewRangeRecorder(map[string]int{"elbow_flex": 3, "wrist_roll": 5})
	rec.Home(map[string]int{"elbow_flex": 2100, "wrist_roll": 2000, "gripper": 1})
	rec.Observe(map[string]int{"elbow_flex": 900, "wrist_roll": 100})
	rec.Observe(map[string]int{"elbow_flex": 3100, "wrist_roll": 3900})

	cals, err := rec.Finish()
	require.NoError(t, err)
	assert.Equal(t, Calibration{ID: 3, HomingOffset: 100, RangeMin: 900, RangeMax: 3100}, cals["elbow_flex"])
	assert.Equal(t, Calibration{ID: 5, HomingOffset: 0, RangeMin: 100, RangeMax: 3900}, cals["wrist_roll"])
	assert.NotContains(t, cals, "gripper")

	// the homing pose is the joint's zero
	assert.InDelta(t, 0, cals["elbow_flex"].Radians(2100), 1e-12)
}

func TestRangeRecorderRejectsUnmovedJoints(t *testing.T) {
	rec := NewRangeRecorder(map[string]int{"elbow_flex": 3, "wrist_roll": 5})
	rec.Home(map[string]int{"elbow_flex": 2100})
	rec.Observe(map[string]int{"elbow_flex": 2100})

	_, err := rec.Finish()
	assert.ErrorContains(t, err, "elbow_flex was not moved")
	assert.ErrorContains(t, err, "wrist_roll has no homing position")
}

type sweepServo struct {
	fakeServo
	reads atomic.Int32
}

func (s *sweepServo) Position(ctx context.Context) (int, error) {
	n := int(s.reads.Add(1))
	return 2000 + (n%7-3)*100, nil
}

func TestRecordRanges(t *testing.T) {
	servo := &sweepServo{}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	cals, err := recordRanges(ctx, map[string]servoDriver{"shoulder_pan": servo}, map[string]int{"shoulder_pan": 1},
		time.Millisecond, logging.NewTestLogger(t))
	require.NoError(t, err)
	assert.True(t, servo.disabled)
	c := cals["shoulder_pan"]
	assert.Equal(t, 1700, c.RangeMin)
	assert.Equal(t, 2300, c.RangeMax)
}
