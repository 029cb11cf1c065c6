package motion

import "pantilt-remote/internal/head"

// EventKind classifies controller diagnostics.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventConnectFailed
	EventInvalidResponse
	EventMoveRejected
	EventCalibrationComplete
	EventCalibrationFailed
	EventPositionUpdated
	EventMotionStopped
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventConnectFailed:
		return "connect_failed"
	case EventInvalidResponse:
		return "invalid_response"
	case EventMoveRejected:
		return "move_rejected"
	case EventCalibrationComplete:
		return "calibration_complete"
	case EventCalibrationFailed:
		return "calibration_failed"
	case EventPositionUpdated:
		return "position_updated"
	case EventMotionStopped:
		return "motion_stopped"
	default:
		return "unknown"
	}
}

// Event is a diagnostic emitted by the controller. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind     EventKind
	Address  string
	Position head.HeadPosition
	Pan      AxisCalibration
	Tilt     AxisCalibration
	Err      error
}

// EventSink receives controller events. Publish is called from the tick
// goroutine and must not block.
type EventSink interface {
	Publish(Event)
}

// SinkFunc adapts a function to an EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

type discardSink struct{}

func (discardSink) Publish(Event) {}
