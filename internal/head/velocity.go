package head

import (
	"fmt"
	"math"
)

// Velocity is the head's native control-voltage encoding for one axis.
// 16383 is neutral; lower values drive one way, higher values the other.
type Velocity int

const (
	MinVelocity     Velocity = 0
	NeutralVelocity Velocity = 16383
	MaxVelocity     Velocity = 32767
)

// Velocity scale shown to users. Never sent to the device.
const (
	MinScale = -1000
	MaxScale = 1000
)

// Clamp restricts v to the range the device accepts.
func (v Velocity) Clamp() Velocity {
	return Velocity(clampInt(int(v), int(MinVelocity), int(MaxVelocity)))
}

// Valid reports whether v lies within [MinVelocity, MaxVelocity].
func (v Velocity) Valid() bool {
	return v >= MinVelocity && v <= MaxVelocity
}

// MapRange linearly maps input from [inMin, inMax] onto [outMin, outMax].
// The result is not clamped. A degenerate input range is a programming
// error and panics.
func MapRange(input, inMin, inMax, outMin, outMax float64) float64 {
	if inMin == inMax {
		panic(fmt.Sprintf("head: MapRange with empty input range [%g, %g]", inMin, inMax))
	}
	return outMin + (outMax-outMin)*(input-inMin)/(inMax-inMin)
}

// VelocityFromScale converts a -1000..1000 scale value to a control voltage.
// The mapping is split at zero so that 0 lands exactly on NeutralVelocity.
func VelocityFromScale(scale int) Velocity {
	scale = clampInt(scale, MinScale, MaxScale)

	var v float64
	if scale < 0 {
		v = MapRange(float64(scale), MinScale, 0, float64(MinVelocity), float64(NeutralVelocity))
	} else {
		v = MapRange(float64(scale), 0, MaxScale, float64(NeutralVelocity), float64(MaxVelocity))
	}
	return Velocity(math.Round(v)).Clamp()
}

// ScaleFromVelocity is the inverse of VelocityFromScale, for display.
func ScaleFromVelocity(v Velocity) int {
	v = v.Clamp()

	var s float64
	if v < NeutralVelocity {
		s = MapRange(float64(v), float64(MinVelocity), float64(NeutralVelocity), MinScale, 0)
	} else {
		s = MapRange(float64(v), float64(NeutralVelocity), float64(MaxVelocity), 0, MaxScale)
	}
	return clampInt(int(math.Round(s)), MinScale, MaxScale)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
