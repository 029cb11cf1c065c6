package motion

import (
	"errors"
	"time"

	"pantilt-remote/internal/head"
)

var (
	ErrNotConnected    = errors.New("head not connected")
	ErrConnect         = errors.New("connect failed")
	ErrInvalidDuration = errors.New("move duration must be positive")
	ErrMoveTooFast     = errors.New("move exceeds calibrated axis speed")
	ErrBusy            = errors.New("head is busy")
	ErrNoPosition      = errors.New("head position not read yet")
)

// Mode names the active MotionState variant.
type Mode int

const (
	ModeIdle Mode = iota
	ModeJogging
	ModeMoving
	ModeCalibrating
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeJogging:
		return "jogging"
	case ModeMoving:
		return "moving"
	case ModeCalibrating:
		return "calibrating"
	default:
		return "unknown"
	}
}

// MotionState is one of Idle, Jogging, Moving or Calibrating.
type MotionState interface {
	Mode() Mode
	isMotionState()
}

// Idle: no motion commanded.
type Idle struct{}

// Jogging: manual velocity control.
type Jogging struct {
	Pan  head.Velocity
	Tilt head.Velocity
}

// Moving: timed constant-velocity segment towards a target.
type Moving struct {
	TargetPan  int
	TargetTilt int
	Duration   time.Duration
	Elapsed    time.Duration
	Pan        head.Velocity
	Tilt       head.Velocity
}

// Calibrating: full-speed run used to measure axis speed.
// Measuring is set once the run has stopped and the end position is pending.
type Calibrating struct {
	Direction Direction
	Run       int
	Elapsed   time.Duration
	Start     head.HeadPosition
	Measuring bool
}

func (Idle) Mode() Mode        { return ModeIdle }
func (Jogging) Mode() Mode     { return ModeJogging }
func (Moving) Mode() Mode      { return ModeMoving }
func (Calibrating) Mode() Mode { return ModeCalibrating }

func (Idle) isMotionState()        {}
func (Jogging) isMotionState()     {}
func (Moving) isMotionState()      {}
func (Calibrating) isMotionState() {}

// Velocities returns the velocities currently in effect for a state.
func Velocities(m MotionState) (pan, tilt head.Velocity) {
	switch s := m.(type) {
	case Jogging:
		return s.Pan, s.Tilt
	case Moving:
		return s.Pan, s.Tilt
	case Calibrating:
		if s.Measuring {
			break
		}
		v := s.Direction.Velocity()
		return v, v
	}
	return head.NeutralVelocity, head.NeutralVelocity
}

// ConnectionStatus of the link to the head.
type ConnectionStatus int

const (
	Disconnected ConnectionStatus = iota
	Connecting
	Connected
	Failed
)

func (s ConnectionStatus) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Connection describes the link state. Reason is set when Failed.
type Connection struct {
	Status  ConnectionStatus
	Address string
	Reason  string
}

// State is the complete controller state. It is treated as a value:
// Transition never mutates its input.
type State struct {
	Motion          MotionState
	Position        head.HeadPosition
	Pan             AxisCalibration
	Tilt            AxisCalibration
	CalibrationRuns int
}

// NewState returns an Idle state with seeded calibrations.
func NewState(pan, tilt AxisCalibration) State {
	return State{
		Motion: Idle{},
		Pan:    pan,
		Tilt:   tilt,
	}
}

// Calibration returns the calibration of one axis.
func (s State) Calibration(a head.Axis) AxisCalibration {
	if a == head.AxisTilt {
		return s.Tilt
	}
	return s.Pan
}
