package motion

import (
	"math"
	"time"

	"pantilt-remote/internal/head"
)

// Empirical axis speeds (position units per second) used until a
// calibration run has been averaged in.
const (
	DefaultPanMaxVelocity  = 51.5
	DefaultTiltMaxVelocity = 94.0
)

// DefaultCalibrationDuration is how long each full-speed calibration run lasts.
const DefaultCalibrationDuration = 5 * time.Second

// AxisCalibration is the learned maximum speed of one axis.
type AxisCalibration struct {
	MaxVelocity float64 `json:"max_velocity"`
	SampleCount int     `json:"sample_count"`
}

// SeedCalibration returns a calibration that counts the seed as one sample.
func SeedCalibration(maxVelocity float64) AxisCalibration {
	return AxisCalibration{MaxVelocity: maxVelocity, SampleCount: 1}
}

// Update folds a measured speed into the running average.
func (c AxisCalibration) Update(sample float64) AxisCalibration {
	n := float64(c.SampleCount)
	return AxisCalibration{
		MaxVelocity: (c.MaxVelocity*n + sample) / (n + 1),
		SampleCount: c.SampleCount + 1,
	}
}

// MeasureSpeed returns the average speed between two positions of one axis.
func MeasureSpeed(start, end int, d time.Duration) float64 {
	return math.Abs(float64(end-start)) / d.Seconds()
}

// Direction of a calibration run.
type Direction int

const (
	DirectionPositive Direction = iota
	DirectionNegative
)

func (d Direction) String() string {
	if d == DirectionNegative {
		return "negative"
	}
	return "positive"
}

// Velocity is the full-speed velocity for the direction.
func (d Direction) Velocity() head.Velocity {
	if d == DirectionNegative {
		return head.MinVelocity
	}
	return head.MaxVelocity
}

// DirectionForRun alternates direction by run parity so successive
// calibrations walk the head back and forth instead of into one end stop.
func DirectionForRun(run int) Direction {
	if run%2 == 0 {
		return DirectionPositive
	}
	return DirectionNegative
}
