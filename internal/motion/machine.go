package motion

import (
	"fmt"
	"math"
	"time"

	"pantilt-remote/internal/head"
)

// Input drives a state transition.
type Input interface {
	isInput()
}

// Tick advances time by DT.
type Tick struct {
	DT time.Duration
}

// Jog sets manual velocities. Only axes flagged with SetPan/SetTilt change.
type Jog struct {
	Pan     head.Velocity
	Tilt    head.Velocity
	SetPan  bool
	SetTilt bool
}

// Move requests a timed move to an absolute position.
type Move struct {
	TargetPan  int
	TargetTilt int
	Duration   time.Duration
}

// Calibrate starts a calibration run from the current position.
type Calibrate struct{}

// Stop halts all motion.
type Stop struct{}

// PositionReport carries a validated position reading.
type PositionReport struct {
	Position head.HeadPosition
}

// PositionLost reports a missed or malformed reading.
type PositionLost struct {
	Err error
}

func (Tick) isInput()           {}
func (Jog) isInput()            {}
func (Move) isInput()           {}
func (Calibrate) isInput()      {}
func (Stop) isInput()           {}
func (PositionReport) isInput() {}
func (PositionLost) isInput()   {}

// Command is one outbound protocol line. Flush asks the transport to drop
// queued bytes first.
type Command struct {
	Line  string
	Flush bool
}

// Output is everything a transition asks of its caller.
type Output struct {
	// Command to transmit, if any. Never more than one.
	Command *Command

	// Query asks the caller to read the head position and feed the result
	// back as PositionReport or PositionLost.
	Query bool

	Events []Event

	// Err is set when the input was rejected; the returned state is then
	// the unchanged input state.
	Err error
}

// Machine holds the fixed parameters of the state machine.
type Machine struct {
	CalibrationDuration time.Duration
}

// Transition computes the next state for an input. It is pure.
func (m Machine) Transition(s State, in Input) (State, Output) {
	switch in := in.(type) {
	case Stop:
		return m.stop(s)
	case Jog:
		return m.jog(s, in)
	case Move:
		return m.move(s, in)
	case Calibrate:
		return m.calibrate(s)
	case Tick:
		return m.tick(s, in.DT)
	case PositionReport:
		return m.positionReport(s, in.Position)
	case PositionLost:
		return m.positionLost(s, in.Err)
	default:
		panic(fmt.Sprintf("motion: unknown input %T", in))
	}
}

func send(line string, flush bool) *Command {
	return &Command{Line: line, Flush: flush}
}

func rejected(s State, err error) (State, Output) {
	return s, Output{Err: err}
}

func (m Machine) stop(s State) (State, Output) {
	s.Motion = Idle{}
	return s, Output{
		Command: send(head.Stop(), true),
		Events:  []Event{{Kind: EventMotionStopped, Position: s.Position}},
	}
}

func (m Machine) jog(s State, in Jog) (State, Output) {
	var pan, tilt head.Velocity
	switch cur := s.Motion.(type) {
	case Idle:
		pan, tilt = head.NeutralVelocity, head.NeutralVelocity
	case Jogging:
		pan, tilt = cur.Pan, cur.Tilt
	default:
		return rejected(s, fmt.Errorf("%w: cannot jog while %s", ErrBusy, s.Motion.Mode()))
	}

	panChanged := in.SetPan && in.Pan.Clamp() != pan
	tiltChanged := in.SetTilt && in.Tilt.Clamp() != tilt
	if panChanged {
		pan = in.Pan.Clamp()
	}
	if tiltChanged {
		tilt = in.Tilt.Clamp()
	}

	var out Output
	switch {
	case panChanged && tiltChanged:
		out.Command = send(head.Combined(pan, tilt), false)
	case panChanged:
		out.Command = send(head.Pan(pan), false)
	case tiltChanged:
		out.Command = send(head.Tilt(tilt), false)
	default:
		return s, out
	}

	if pan == head.NeutralVelocity && tilt == head.NeutralVelocity {
		s.Motion = Idle{}
	} else {
		s.Motion = Jogging{Pan: pan, Tilt: tilt}
	}
	return s, out
}

func (m Machine) move(s State, in Move) (State, Output) {
	if !idleOrJogging(s.Motion) {
		return rejected(s, fmt.Errorf("%w: cannot move while %s", ErrBusy, s.Motion.Mode()))
	}
	if in.Duration <= 0 {
		return rejected(s, fmt.Errorf("%w: got %v", ErrInvalidDuration, in.Duration))
	}

	pan, err := MoveVelocity(in.TargetPan, s.Position.Pan, in.Duration, s.Pan.MaxVelocity)
	if err != nil {
		return rejected(s, fmt.Errorf("pan: %w", err))
	}
	tilt, err := MoveVelocity(in.TargetTilt, s.Position.Tilt, in.Duration, s.Tilt.MaxVelocity)
	if err != nil {
		return rejected(s, fmt.Errorf("tilt: %w", err))
	}

	s.Motion = Moving{
		TargetPan:  in.TargetPan,
		TargetTilt: in.TargetTilt,
		Duration:   in.Duration,
		Pan:        pan,
		Tilt:       tilt,
	}
	return s, Output{Command: send(head.Combined(pan, tilt), false)}
}

// MoveVelocity computes the constant velocity that carries one axis from
// current to target in d, given the axis' calibrated top speed.
func MoveVelocity(target, current int, d time.Duration, axisMax float64) (head.Velocity, error) {
	delta := float64(target-current) / d.Seconds()

	var v float64
	switch {
	case delta < 0:
		v = head.MapRange(-delta, 0, axisMax, float64(head.NeutralVelocity), float64(head.MinVelocity))
	case delta > 0:
		v = head.MapRange(delta, 0, axisMax, float64(head.NeutralVelocity), float64(head.MaxVelocity))
	default:
		return head.NeutralVelocity, nil
	}

	if v < float64(head.MinVelocity) || v > float64(head.MaxVelocity) {
		return 0, fmt.Errorf("%w: needs %.1f units/s, calibrated max %.1f", ErrMoveTooFast, math.Abs(delta), axisMax)
	}
	return head.Velocity(math.Round(v)), nil
}

func (m Machine) calibrate(s State) (State, Output) {
	if !idleOrJogging(s.Motion) {
		return rejected(s, fmt.Errorf("%w: cannot calibrate while %s", ErrBusy, s.Motion.Mode()))
	}

	dir := DirectionForRun(s.CalibrationRuns)
	s.Motion = Calibrating{
		Direction: dir,
		Run:       s.CalibrationRuns,
		Start:     s.Position,
	}
	s.CalibrationRuns++

	v := dir.Velocity()
	return s, Output{Command: send(head.Combined(v, v), false)}
}

func (m Machine) tick(s State, dt time.Duration) (State, Output) {
	switch cur := s.Motion.(type) {
	case Moving:
		cur.Elapsed += dt
		if cur.Elapsed < cur.Duration {
			s.Motion = cur
			return s, Output{}
		}
		s.Motion = Idle{}
		return s, Output{
			Command: send(head.Stop(), true),
			Events:  []Event{{Kind: EventMotionStopped, Position: s.Position}},
		}

	case Calibrating:
		if cur.Measuring {
			return s, Output{}
		}
		cur.Elapsed += dt
		if cur.Elapsed < m.CalibrationDuration {
			s.Motion = cur
			return s, Output{}
		}
		cur.Measuring = true
		s.Motion = cur
		return s, Output{Command: send(head.Stop(), true), Query: true}
	}
	return s, Output{}
}

func (m Machine) positionReport(s State, pos head.HeadPosition) (State, Output) {
	s.Position = pos
	out := Output{Events: []Event{{Kind: EventPositionUpdated, Position: pos}}}

	cal, ok := s.Motion.(Calibrating)
	if !ok || !cal.Measuring {
		return s, out
	}

	s.Pan = s.Pan.Update(MeasureSpeed(cal.Start.Pan, pos.Pan, m.CalibrationDuration))
	s.Tilt = s.Tilt.Update(MeasureSpeed(cal.Start.Tilt, pos.Tilt, m.CalibrationDuration))
	s.Motion = Idle{}
	out.Events = append(out.Events, Event{
		Kind:     EventCalibrationComplete,
		Position: pos,
		Pan:      s.Pan,
		Tilt:     s.Tilt,
	})
	return s, out
}

func (m Machine) positionLost(s State, err error) (State, Output) {
	out := Output{Events: []Event{{Kind: EventInvalidResponse, Position: s.Position, Err: err}}}

	if cal, ok := s.Motion.(Calibrating); ok && cal.Measuring {
		s.Motion = Idle{}
		out.Events = append(out.Events, Event{Kind: EventCalibrationFailed, Position: s.Position, Err: err})
	}
	return s, out
}

func idleOrJogging(m MotionState) bool {
	switch m.(type) {
	case Idle, Jogging:
		return true
	}
	return false
}
