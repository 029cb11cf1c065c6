package motion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantilt-remote/internal/head"
)

func testMachine() Machine {
	return Machine{CalibrationDuration: 5 * time.Second}
}

func TestMoveVelocity(t *testing.T) {
	cases := []struct {
		name            string
		target, current int
		d               time.Duration
		axisMax         float64
		want            head.Velocity
	}{
		{"full positive", 500, 0, 2 * time.Second, 250, head.MaxVelocity},
		{"full negative", 0, 250, time.Second, 250, head.MinVelocity},
		{"half negative", 0, 125, time.Second, 250, 8192},
		{"half positive", 125, 0, time.Second, 250, 24575},
		{"no motion", 40, 40, time.Second, 250, head.NeutralVelocity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := MoveVelocity(tc.target, tc.current, tc.d, tc.axisMax)
			require.NoError(t, err)
			assert.Equal(t, tc.want, v)
		})
	}
}

func TestMoveVelocity_TooFast(t *testing.T) {
	_, err := MoveVelocity(500, 0, time.Second, 100)
	assert.ErrorIs(t, err, ErrMoveTooFast)

	_, err = MoveVelocity(0, 500, time.Second, 100)
	assert.ErrorIs(t, err, ErrMoveTooFast)
}

func TestTransition_MoveInvalidDuration(t *testing.T) {
	s := NewState(SeedCalibration(100), SeedCalibration(100))
	for _, d := range []time.Duration{0, -time.Second} {
		next, out := testMachine().Transition(s, Move{TargetPan: 10, Duration: d})
		assert.ErrorIs(t, out.Err, ErrInvalidDuration)
		assert.Nil(t, out.Command)
		assert.Equal(t, s, next)
	}
}

func TestTransition_MoveTooFastLeavesStateUnchanged(t *testing.T) {
	s := NewState(SeedCalibration(100), SeedCalibration(100))
	next, out := testMachine().Transition(s, Move{TargetPan: 500, TargetTilt: 0, Duration: time.Second})
	assert.ErrorIs(t, out.Err, ErrMoveTooFast)
	assert.Nil(t, out.Command)
	assert.Equal(t, ModeIdle, next.Motion.Mode())
}

func TestTransition_TiltTooFastSendsNothing(t *testing.T) {
	s := NewState(SeedCalibration(1000), SeedCalibration(10))
	_, out := testMachine().Transition(s, Move{TargetPan: 10, TargetTilt: 500, Duration: time.Second})
	assert.ErrorIs(t, out.Err, ErrMoveTooFast)
	assert.Nil(t, out.Command)
}

func TestTransition_MoveFromJogging(t *testing.T) {
	s := NewState(SeedCalibration(250), SeedCalibration(250))
	s.Motion = Jogging{Pan: 20000, Tilt: head.NeutralVelocity}

	next, out := testMachine().Transition(s, Move{TargetPan: 500, TargetTilt: 500, Duration: 2 * time.Second})
	require.NoError(t, out.Err)
	require.NotNil(t, out.Command)
	assert.Equal(t, "P 32767T 32767\r", out.Command.Line)
	assert.False(t, out.Command.Flush)

	mv, ok := next.Motion.(Moving)
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), mv.Elapsed)
	assert.Equal(t, 500, mv.TargetPan)
}

func TestTransition_BusyStatesRejectRequests(t *testing.T) {
	busy := []MotionState{
		Moving{Duration: time.Second},
		Calibrating{},
	}
	inputs := []Input{
		Move{TargetPan: 1, Duration: time.Second},
		Calibrate{},
		Jog{Pan: 20000, SetPan: true},
	}
	for _, m := range busy {
		s := NewState(SeedCalibration(100), SeedCalibration(100))
		s.Motion = m
		for _, in := range inputs {
			next, out := testMachine().Transition(s, in)
			assert.ErrorIs(t, out.Err, ErrBusy, "%T in %s", in, m.Mode())
			assert.Equal(t, s, next)
		}
	}
}

func TestTransition_StopFromAnyState(t *testing.T) {
	states := []MotionState{
		Idle{},
		Jogging{Pan: 1, Tilt: 2},
		Moving{Duration: time.Second, Elapsed: 500 * time.Millisecond},
		Calibrating{Elapsed: time.Second},
	}
	for _, m := range states {
		s := NewState(SeedCalibration(100), SeedCalibration(100))
		s.Motion = m
		next, out := testMachine().Transition(s, Stop{})
		require.NotNil(t, out.Command)
		assert.Equal(t, "R\r", out.Command.Line)
		assert.True(t, out.Command.Flush)
		assert.Equal(t, Idle{}, next.Motion)
		assert.Equal(t, s.Pan, next.Pan, "stop must not touch calibration")
	}
}

func TestTransition_JogChangedAxisOnly(t *testing.T) {
	m := testMachine()
	s := NewState(SeedCalibration(100), SeedCalibration(100))

	s, out := m.Transition(s, Jog{Pan: 30000, SetPan: true})
	require.NotNil(t, out.Command)
	assert.Equal(t, "P 30000\r", out.Command.Line)
	assert.Equal(t, Jogging{Pan: 30000, Tilt: head.NeutralVelocity}, s.Motion)

	s, out = m.Transition(s, Jog{Tilt: 100, SetTilt: true})
	require.NotNil(t, out.Command)
	assert.Equal(t, "T 100\r", out.Command.Line)
	assert.Equal(t, Jogging{Pan: 30000, Tilt: 100}, s.Motion)

	s, out = m.Transition(s, Jog{Pan: 30000, SetPan: true})
	assert.Nil(t, out.Command, "unchanged velocity sends nothing")

	s, out = m.Transition(s, Jog{Pan: 1, Tilt: 2, SetPan: true, SetTilt: true})
	require.NotNil(t, out.Command)
	assert.Equal(t, "P 1T 2\r", out.Command.Line)

	s, out = m.Transition(s, Jog{Pan: head.NeutralVelocity, Tilt: head.NeutralVelocity, SetPan: true, SetTilt: true})
	require.NotNil(t, out.Command)
	assert.Equal(t, Idle{}, s.Motion)
}

func TestTransition_MoveTimesOut(t *testing.T) {
	m := testMachine()
	s := NewState(SeedCalibration(250), SeedCalibration(250))
	s, out := m.Transition(s, Move{TargetPan: 500, TargetTilt: 500, Duration: 2 * time.Second})
	require.NoError(t, out.Err)

	s, out = m.Transition(s, Tick{DT: 1500 * time.Millisecond})
	assert.Nil(t, out.Command)
	assert.Equal(t, ModeMoving, s.Motion.Mode())

	s, out = m.Transition(s, Tick{DT: 500 * time.Millisecond})
	require.NotNil(t, out.Command)
	assert.Equal(t, "R\r", out.Command.Line)
	assert.Equal(t, ModeIdle, s.Motion.Mode())
}

func TestTransition_CalibrationCycle(t *testing.T) {
	m := testMachine()
	s := NewState(SeedCalibration(50), SeedCalibration(50))
	s.Position = head.HeadPosition{Pan: 1000, Tilt: 2000}

	s, out := m.Transition(s, Calibrate{})
	require.NotNil(t, out.Command)
	assert.Equal(t, "P 32767T 32767\r", out.Command.Line)
	cal := s.Motion.(Calibrating)
	assert.Equal(t, head.HeadPosition{Pan: 1000, Tilt: 2000}, cal.Start)
	assert.Equal(t, DirectionPositive, cal.Direction)
	assert.Equal(t, 1, s.CalibrationRuns)

	s, out = m.Transition(s, Tick{DT: 4 * time.Second})
	assert.Nil(t, out.Command)
	assert.False(t, out.Query)

	s, out = m.Transition(s, Tick{DT: time.Second})
	require.NotNil(t, out.Command)
	assert.Equal(t, "R\r", out.Command.Line)
	assert.True(t, out.Query)

	s, out = m.Transition(s, PositionReport{Position: head.HeadPosition{Pan: 1350, Tilt: 1650}})
	assert.Equal(t, Idle{}, s.Motion)
	assert.Equal(t, AxisCalibration{MaxVelocity: 60, SampleCount: 2}, s.Pan)
	assert.Equal(t, AxisCalibration{MaxVelocity: 60, SampleCount: 2}, s.Tilt)
	require.Len(t, out.Events, 2)
	assert.Equal(t, EventCalibrationComplete, out.Events[1].Kind)

	_, out = m.Transition(s, Calibrate{})
	assert.Equal(t, "P 0T 0\r", out.Command.Line, "second run reverses direction")
}

func TestTransition_CalibrationEndReadLost(t *testing.T) {
	m := testMachine()
	s := NewState(SeedCalibration(50), SeedCalibration(50))
	s.Motion = Calibrating{Elapsed: 5 * time.Second, Measuring: true}

	next, out := m.Transition(s, PositionLost{Err: head.ErrInvalidResponse})
	assert.Equal(t, Idle{}, next.Motion)
	assert.Equal(t, s.Pan, next.Pan)
	require.Len(t, out.Events, 2)
	assert.Equal(t, EventInvalidResponse, out.Events[0].Kind)
	assert.Equal(t, EventCalibrationFailed, out.Events[1].Kind)
}

func TestTransition_PositionLostKeepsPositionAndMotion(t *testing.T) {
	s := NewState(SeedCalibration(50), SeedCalibration(50))
	s.Position = head.HeadPosition{Pan: 7, Tilt: 9}
	s.Motion = Moving{Duration: time.Second}

	next, out := testMachine().Transition(s, PositionLost{})
	assert.Equal(t, s, next)
	assert.Nil(t, out.Command)
	require.Len(t, out.Events, 1)
	assert.Equal(t, EventInvalidResponse, out.Events[0].Kind)
}

func TestTransition_DoesNotMutateInput(t *testing.T) {
	s := NewState(SeedCalibration(250), SeedCalibration(250))
	s.Motion = Moving{Duration: 2 * time.Second}
	before := s

	testMachine().Transition(s, Tick{DT: time.Second})
	assert.Equal(t, before, s)
}

func TestAxisCalibration_Update(t *testing.T) {
	c := AxisCalibration{MaxVelocity: 50, SampleCount: 1}
	sample := MeasureSpeed(0, 350, 5*time.Second)
	assert.Equal(t, 70.0, sample)

	got := c.Update(sample)
	assert.Equal(t, AxisCalibration{MaxVelocity: 60, SampleCount: 2}, got)
	assert.Equal(t, AxisCalibration{MaxVelocity: 50, SampleCount: 1}, c)
}

func TestMeasureSpeed_IgnoresDirection(t *testing.T) {
	assert.Equal(t, 70.0, MeasureSpeed(350, 0, 5*time.Second))
}

func TestDirectionForRun(t *testing.T) {
	assert.Equal(t, DirectionPositive, DirectionForRun(0))
	assert.Equal(t, DirectionNegative, DirectionForRun(1))
	assert.Equal(t, DirectionPositive, DirectionForRun(2))
	assert.Equal(t, head.MaxVelocity, DirectionPositive.Velocity())
	assert.Equal(t, head.MinVelocity, DirectionNegative.Velocity())
}

func TestVelocities(t *testing.T) {
	p, tl := Velocities(Idle{})
	assert.Equal(t, head.NeutralVelocity, p)
	assert.Equal(t, head.NeutralVelocity, tl)

	p, tl = Velocities(Calibrating{Direction: DirectionNegative})
	assert.Equal(t, head.MinVelocity, p)
	assert.Equal(t, head.MinVelocity, tl)

	p, _ = Velocities(Calibrating{Direction: DirectionNegative, Measuring: true})
	assert.Equal(t, head.NeutralVelocity, p)

	p, tl = Velocities(Moving{Pan: 5, Tilt: 6})
	assert.Equal(t, head.Velocity(5), p)
	assert.Equal(t, head.Velocity(6), tl)
}
