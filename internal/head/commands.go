package head

import "strconv"

// Terminator ends every command line sent to the head.
const Terminator = "\r"

// Axis identifies one of the two head axes.
type Axis int

const (
	AxisPan Axis = iota
	AxisTilt
)

func (a Axis) String() string {
	switch a {
	case AxisPan:
		return "pan"
	case AxisTilt:
		return "tilt"
	default:
		return "unknown"
	}
}

// ParseAxis accepts "pan" or "tilt".
func ParseAxis(s string) (Axis, bool) {
	switch s {
	case "pan":
		return AxisPan, true
	case "tilt":
		return AxisTilt, true
	}
	return 0, false
}

// Command format reference:
//   P <v>        pan velocity
//   T <v>        tilt velocity
//   P <v>T <v>   both axes; the device expects no separator before T
//   R            stop all motion
//   L 1          take control of the head (needed once before motion)
//   pt           request "<pan> <tilt>" position reply

// Pan encodes a pan velocity command.
func Pan(v Velocity) string {
	return "P " + strconv.Itoa(int(v.Clamp())) + Terminator
}

// Tilt encodes a tilt velocity command.
func Tilt(v Velocity) string {
	return "T " + strconv.Itoa(int(v.Clamp())) + Terminator
}

// AxisCommand encodes a velocity command for a single axis.
func AxisCommand(a Axis, v Velocity) string {
	if a == AxisTilt {
		return Tilt(v)
	}
	return Pan(v)
}

// Combined sets both axes in one line.
func Combined(pan, tilt Velocity) string {
	return "P " + strconv.Itoa(int(pan.Clamp())) + "T " + strconv.Itoa(int(tilt.Clamp())) + Terminator
}

// Stop halts all motion.
func Stop() string {
	return "R" + Terminator
}

// EnableCamera asserts host control over the head.
func EnableCamera() string {
	return "L 1" + Terminator
}

// QueryPosition asks the head for its current pan and tilt positions.
func QueryPosition() string {
	return "pt" + Terminator
}
