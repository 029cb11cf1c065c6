package motion

import (
	"fmt"
	"time"

	"pantilt-remote/internal/debug"
	"pantilt-remote/internal/head"
	"pantilt-remote/internal/transport"
)

// maxPending bounds the intent queue between ticks.
const maxPending = 16

// Options configures a Controller.
type Options struct {
	Dialer              transport.Dialer
	PollInterval        time.Duration
	ReadTimeout         time.Duration
	CalibrationDuration time.Duration
	PanMaxVelocity      float64
	TiltMaxVelocity     float64
	Sink                EventSink
}

// DefaultOptions returns options with the documented defaults and no dialer.
func DefaultOptions() Options {
	return Options{
		PollInterval:        DefaultPollInterval,
		ReadTimeout:         DefaultReadTimeout,
		CalibrationDuration: DefaultCalibrationDuration,
		PanMaxVelocity:      DefaultPanMaxVelocity,
		TiltMaxVelocity:     DefaultTiltMaxVelocity,
	}
}

// Snapshot is a read-only view of the controller for presentation.
type Snapshot struct {
	Connection      Connection
	Motion          MotionState
	Position        head.HeadPosition
	Pan             AxisCalibration
	Tilt            AxisCalibration
	PanVelocity     head.Velocity
	TiltVelocity    head.Velocity
	CalibrationRuns int
}

// Controller owns the link to one head and all motion state. It is not
// safe for concurrent use: every method must be called from the goroutine
// that calls Tick.
type Controller struct {
	opts    Options
	machine Machine
	state   State
	conn    Connection
	link    transport.Transport
	poller  Poller
	sink    EventSink

	queue   []Input
	queried bool
	located bool
}

// NewController creates a disconnected controller.
func NewController(opts Options) *Controller {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.CalibrationDuration <= 0 {
		opts.CalibrationDuration = def.CalibrationDuration
	}
	if opts.PanMaxVelocity <= 0 {
		opts.PanMaxVelocity = def.PanMaxVelocity
	}
	if opts.TiltMaxVelocity <= 0 {
		opts.TiltMaxVelocity = def.TiltMaxVelocity
	}
	sink := opts.Sink
	if sink == nil {
		sink = discardSink{}
	}

	return &Controller{
		opts:    opts,
		machine: Machine{CalibrationDuration: opts.CalibrationDuration},
		state:   NewState(SeedCalibration(opts.PanMaxVelocity), SeedCalibration(opts.TiltMaxVelocity)),
		poller:  Poller{Interval: opts.PollInterval, ReadTimeout: opts.ReadTimeout},
		sink:    sink,
	}
}

// Connect opens the link and asserts control of the head. An existing
// connection is closed first. No retry is attempted on failure.
func (c *Controller) Connect(address string) error {
	if c.opts.Dialer == nil {
		return fmt.Errorf("%w: no dialer configured", ErrConnect)
	}
	if c.link != nil {
		c.Disconnect()
	}

	c.conn = Connection{Status: Connecting, Address: address}
	debug.Info("Connecting to head at %s", address)

	link, err := c.opts.Dialer.Open(address)
	if err == nil {
		if err = link.SendWithFlush(head.EnableCamera()); err != nil {
			link.Close()
		}
	}
	if err != nil {
		c.conn = Connection{Status: Failed, Address: address, Reason: err.Error()}
		c.publish(Event{Kind: EventConnectFailed, Address: address, Err: err})
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	c.link = link
	c.conn = Connection{Status: Connected, Address: address}
	c.resetMotion()
	debug.Info("Connected to head at %s", address)
	c.publish(Event{Kind: EventConnected, Address: address})

	if err := c.queryPosition(); err != nil && c.link == nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return nil
}

// Disconnect stops any motion in progress and closes the link.
func (c *Controller) Disconnect() error {
	if c.link == nil {
		c.conn = Connection{Status: Disconnected}
		return nil
	}

	if c.state.Motion.Mode() != ModeIdle {
		if err := c.link.SendWithFlush(head.Stop()); err != nil {
			debug.Warn("stop before disconnect failed: %v", err)
		}
	}
	err := c.link.Close()
	c.dropLink(nil)
	return err
}

// dropLink forgets the link. A non-nil cause marks the connection Failed.
func (c *Controller) dropLink(cause error) {
	conn := Connection{Status: Disconnected, Address: c.conn.Address}
	if cause != nil {
		conn.Status = Failed
		conn.Reason = cause.Error()
	}
	c.link = nil
	c.conn = conn
	c.resetMotion()
	debug.Info("Disconnected from head at %s", conn.Address)
	c.publish(Event{Kind: EventDisconnected, Address: conn.Address, Err: cause})
}

func (c *Controller) resetMotion() {
	c.state.Motion = Idle{}
	c.queue = nil
	c.located = false
	c.poller.Reset()
}

// RequestJog sets one axis to a velocity on the -1000..1000 scale.
func (c *Controller) RequestJog(axis head.Axis, scale int) error {
	v := head.VelocityFromScale(scale)
	in := Jog{}
	if axis == head.AxisTilt {
		in.Tilt, in.SetTilt = v, true
	} else {
		in.Pan, in.SetPan = v, true
	}
	return c.enqueue(in)
}

// RequestMove schedules a timed move to an absolute position.
func (c *Controller) RequestMove(targetPan, targetTilt int, duration time.Duration) error {
	return c.enqueue(Move{TargetPan: targetPan, TargetTilt: targetTilt, Duration: duration})
}

// RequestCalibrate schedules a calibration run.
func (c *Controller) RequestCalibrate() error {
	return c.enqueue(Calibrate{})
}

// RequestStop discards all pending requests and stops the head on the next
// tick.
func (c *Controller) RequestStop() error {
	if c.conn.Status != Connected {
		return ErrNotConnected
	}
	c.queue = append(c.queue[:0], Stop{})
	return nil
}

// enqueue validates in against the current state and queues it for the
// next tick. Consecutive jogs are merged.
func (c *Controller) enqueue(in Input) error {
	if c.conn.Status != Connected {
		return ErrNotConnected
	}
	if !c.located && needsPosition(in) {
		c.reject(ErrNoPosition)
		return ErrNoPosition
	}
	if _, out := c.machine.Transition(c.state, in); out.Err != nil {
		c.reject(out.Err)
		return out.Err
	}

	if jog, ok := in.(Jog); ok && len(c.queue) > 0 {
		if last, ok := c.queue[len(c.queue)-1].(Jog); ok {
			c.queue[len(c.queue)-1] = mergeJog(last, jog)
			return nil
		}
	}
	if len(c.queue) >= maxPending {
		return fmt.Errorf("%w: %d requests pending", ErrBusy, len(c.queue))
	}
	c.queue = append(c.queue, in)
	return nil
}

// needsPosition reports whether in is computed from the head position.
// Invalid durations are left to the state machine to reject.
func needsPosition(in Input) bool {
	switch in := in.(type) {
	case Move:
		return in.Duration > 0
	case Calibrate:
		return true
	}
	return false
}

func mergeJog(a, b Jog) Jog {
	if b.SetPan {
		a.Pan, a.SetPan = b.Pan, true
	}
	if b.SetTilt {
		a.Tilt, a.SetTilt = b.Tilt, true
	}
	return a
}

// Tick advances the controller by dt. At most one motion command is sent
// per tick: a pending request if there is one, otherwise whatever the
// current mode needs as time passes. The position poll runs afterwards
// unless this tick already read the position.
func (c *Controller) Tick(dt time.Duration) {
	if c.conn.Status != Connected {
		return
	}
	c.queried = false

	sent := false
	if len(c.queue) > 0 {
		in := c.queue[0]
		c.queue = c.queue[1:]
		sent = c.applyRequest(in)
	}
	if !sent && c.link != nil {
		c.apply(Tick{DT: dt})
	}

	if c.poller.Advance(dt) && !c.queried && c.link != nil {
		c.queryPosition()
	}
}

// applyRequest runs a queued request. A calibration run only starts from a
// fresh position reading.
func (c *Controller) applyRequest(in Input) bool {
	if _, ok := in.(Calibrate); ok {
		if err := c.queryPosition(); err != nil {
			if c.link != nil {
				debug.Info("calibration not started: %v", err)
				c.publish(Event{Kind: EventCalibrationFailed, Position: c.state.Position, Err: err})
			}
			return false
		}
	}
	return c.apply(in)
}

// apply runs one transition and carries out its output. It reports whether
// a command was transmitted.
func (c *Controller) apply(in Input) bool {
	next, out := c.machine.Transition(c.state, in)
	if out.Err != nil {
		c.reject(out.Err)
		return false
	}
	if prev := c.state.Motion.Mode(); prev != next.Motion.Mode() {
		debug.Verbose("motion: %s -> %s", prev, next.Motion.Mode())
	}
	c.state = next
	if _, ok := in.(Move); ok {
		pan, tilt := Velocities(next.Motion)
		debug.Trace("move velocities pan=%d tilt=%d", pan, tilt)
	}

	sent := false
	if out.Command != nil {
		if err := c.transmit(*out.Command); err != nil {
			return false
		}
		sent = true
	}
	for _, ev := range out.Events {
		if ev.Kind == EventCalibrationComplete {
			debug.Value("pan max velocity", ev.Pan.MaxVelocity)
			debug.Value("tilt max velocity", ev.Tilt.MaxVelocity)
		}
		c.publish(ev)
	}
	if out.Query {
		c.queryPosition()
	}
	return sent
}

// transmit sends one line. Any send failure drops the link.
func (c *Controller) transmit(cmd Command) error {
	debug.Live("send %q", cmd.Line)
	var err error
	if cmd.Flush {
		err = c.link.SendWithFlush(cmd.Line)
	} else {
		err = c.link.Send(cmd.Line)
	}
	if err != nil {
		c.failLink(err)
	}
	return err
}

func (c *Controller) failLink(err error) {
	debug.Error(fmt.Errorf("link failure: %w", err))
	c.link.Close()
	c.dropLink(err)
}

// queryPosition reads the head position and feeds the result to the state
// machine. The returned error is nil only for a fresh, valid reading.
func (c *Controller) queryPosition() error {
	c.queried = true
	if err := c.link.DiscardInbound(); err != nil {
		c.failLink(err)
		return err
	}
	if err := c.transmit(Command{Line: head.QueryPosition()}); err != nil {
		return err
	}

	pos, err := c.poller.Read(c.link)
	if err != nil {
		debug.Live("stale position reading: %v", err)
		c.apply(PositionLost{Err: err})
		return err
	}
	debug.Live("position %s", pos)
	c.located = true
	c.apply(PositionReport{Position: pos})
	return nil
}

func (c *Controller) reject(err error) {
	debug.Info("request rejected: %v", err)
	c.publish(Event{Kind: EventMoveRejected, Position: c.state.Position, Err: err})
}

func (c *Controller) publish(e Event) {
	c.sink.Publish(e)
}

// Snapshot returns the current state for display.
func (c *Controller) Snapshot() Snapshot {
	pan, tilt := Velocities(c.state.Motion)
	return Snapshot{
		Connection:      c.conn,
		Motion:          c.state.Motion,
		Position:        c.state.Position,
		Pan:             c.state.Pan,
		Tilt:            c.state.Tilt,
		PanVelocity:     pan,
		TiltVelocity:    tilt,
		CalibrationRuns: c.state.CalibrationRuns,
	}
}

// State returns a copy of the full controller state.
func (c *Controller) State() State {
	return c.state
}
