// Package driver runs a motion.Controller against the wall clock and
// serializes requests from other goroutines onto its tick loop.
package driver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"pantilt-remote/internal/debug"
	"pantilt-remote/internal/head"
	"pantilt-remote/internal/motion"
	"pantilt-remote/internal/ptz"
)

// ErrStopped is returned for requests made after Run has returned.
var ErrStopped = errors.New("driver stopped")

// DefaultTickInterval is the controller tick period.
const DefaultTickInterval = 50 * time.Millisecond

// Config for a Driver
type Config struct {
	TickInterval time.Duration

	// OnStatus, if set, is called from the tick goroutine whenever the
	// snapshot changes. It must not block.
	OnStatus func(motion.Snapshot)
}

type request struct {
	fn     func(*motion.Controller) error
	result chan error
}

// Driver owns a Controller and is the only goroutine that touches it.
type Driver struct {
	ctrl *motion.Controller
	cfg  Config

	requests chan request
	done     chan struct{}
	running  atomic.Bool

	mu   sync.RWMutex
	snap motion.Snapshot
}

var _ ptz.Controller = (*Driver)(nil)

// New wraps ctrl. Nothing happens until Run is called.
func New(ctrl *motion.Controller, cfg Config) *Driver {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	return &Driver{
		ctrl:     ctrl,
		cfg:      cfg,
		requests: make(chan request),
		done:     make(chan struct{}),
		snap:     ctrl.Snapshot(),
	}
}

// Run ticks the controller until ctx is cancelled, then stops the head and
// closes the link. It may only be called once.
func (d *Driver) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("driver already running")
	}
	return d.run(ctx)
}

func (d *Driver) run(ctx context.Context) error {
	defer close(d.done)

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	debug.Info("Driver running, tick interval %v", d.cfg.TickInterval)
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			if err := d.ctrl.Disconnect(); err != nil {
				debug.Warn("disconnect on shutdown: %v", err)
			}
			d.refresh()
			return ctx.Err()

		case req := <-d.requests:
			req.result <- req.fn(d.ctrl)
			d.refresh()

		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			d.ctrl.Tick(dt)
			d.refresh()
		}
	}
}

func (d *Driver) refresh() {
	snap := d.ctrl.Snapshot()

	d.mu.Lock()
	changed := snap != d.snap
	d.snap = snap
	d.mu.Unlock()

	if changed && d.cfg.OnStatus != nil {
		d.cfg.OnStatus(snap)
	}
}

// do runs fn on the tick goroutine and waits for its result.
func (d *Driver) do(fn func(*motion.Controller) error) error {
	req := request{fn: fn, result: make(chan error, 1)}
	select {
	case d.requests <- req:
	case <-d.done:
		return ErrStopped
	}
	return <-req.result
}

func (d *Driver) Jog(axis head.Axis, scale int) error {
	return d.do(func(c *motion.Controller) error {
		return c.RequestJog(axis, scale)
	})
}

func (d *Driver) MoveTo(pan, tilt int, duration time.Duration) error {
	return d.do(func(c *motion.Controller) error {
		return c.RequestMove(pan, tilt, duration)
	})
}

func (d *Driver) Calibrate() error {
	return d.do(func(c *motion.Controller) error {
		return c.RequestCalibrate()
	})
}

func (d *Driver) Stop() error {
	return d.do(func(c *motion.Controller) error {
		return c.RequestStop()
	})
}

// Connect blocks the tick loop while dialing; the dial is bounded by the
// transport's own timeout.
func (d *Driver) Connect(address string) error {
	return d.do(func(c *motion.Controller) error {
		return c.Connect(address)
	})
}

func (d *Driver) Disconnect() error {
	return d.do(func(c *motion.Controller) error {
		return c.Disconnect()
	})
}

// Status returns the snapshot taken after the last tick or request.
func (d *Driver) Status() motion.Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap
}

// Done is closed once Run has returned.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}
