package ptz

import (
	"time"

	"pantilt-remote/internal/head"
	"pantilt-remote/internal/motion"
)

// Controller defines the interface for pan/tilt head control as used by
// the presentation layer. Calls are safe from any goroutine.
type Controller interface {
	// Jog sets one axis to a manual velocity.
	// scale: -1000 (full negative) to 1000 (full positive), 0 stops the axis
	Jog(axis head.Axis, scale int) error

	// MoveTo moves both axes to an absolute position over duration
	MoveTo(pan, tilt int, duration time.Duration) error

	// Calibrate starts a calibration run
	Calibrate() error

	// Stop stops all head movement immediately
	Stop() error

	// Connect opens the link to the head at address
	Connect(address string) error

	// Disconnect stops the head and closes the link
	Disconnect() error

	// Status returns the current head state
	Status() motion.Snapshot
}
