// Package sim provides an in-memory pan/tilt head that answers the serial
// line protocol. It stands in for hardware on the bench and in tests.
package sim

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"pantilt-remote/internal/debug"
	"pantilt-remote/internal/head"
	"pantilt-remote/internal/transport"
)

// Config describes the simulated mechanics.
type Config struct {
	// Full-speed axis rates in position units per second.
	PanSpeed  float64
	TiltSpeed float64

	// Positions are clamped to [0, Limit], like mechanical end stops.
	Limit int
	Start head.HeadPosition

	// Now is the clock used to integrate motion. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a head whose speeds match the seeded calibration
// and which starts centred.
func DefaultConfig() Config {
	return Config{
		PanSpeed:  51.5,
		TiltSpeed: 94.0,
		Limit:     10000,
		Start:     head.HeadPosition{Pan: 5000, Tilt: 5000},
	}
}

// Head is a simulated head. It implements transport.Transport and, through
// Open, transport.Dialer, so the controller can connect to it like a port.
type Head struct {
	cfg Config

	mu        sync.Mutex
	pan, tilt float64
	vPan      head.Velocity
	vTilt     head.Velocity
	last      time.Time
	enabled   bool
	open      bool
	replies   []string
	unknown   int
}

// New creates a simulated head at rest.
func New(cfg Config) *Head {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultConfig().Limit
	}
	return &Head{
		cfg:   cfg,
		pan:   float64(cfg.Start.Pan),
		tilt:  float64(cfg.Start.Tilt),
		vPan:  head.NeutralVelocity,
		vTilt: head.NeutralVelocity,
		last:  cfg.Now(),
	}
}

// Open hands out the head as a transport. The address is only logged.
func (h *Head) Open(address string) (transport.Transport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advance()
	h.open = true
	h.replies = nil
	debug.Info("Using SIMULATED head (address %q ignored)", address)
	return h, nil
}

func (h *Head) Send(line string) error {
	return h.receive(line)
}

// SendWithFlush behaves like Send; the simulated link never queues output.
func (h *Head) SendWithFlush(line string) error {
	return h.receive(line)
}

// ReceiveLine returns the oldest pending reply. With none pending it
// reports a timeout immediately rather than waiting it out.
func (h *Head) ReceiveLine(timeout time.Duration) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.open {
		return "", transport.ErrClosed
	}
	if len(h.replies) == 0 {
		return "", transport.ErrTimeout
	}
	line := h.replies[0]
	h.replies = h.replies[1:]
	debug.Wire("sim>", line)
	return line, nil
}

func (h *Head) DiscardInbound() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replies = nil
	return nil
}

// Close stops the head and marks the link closed. It can be reopened.
func (h *Head) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advance()
	h.vPan, h.vTilt = head.NeutralVelocity, head.NeutralVelocity
	h.open = false
	return nil
}

// Position returns the current integrated position.
func (h *Head) Position() head.HeadPosition {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advance()
	return h.position()
}

// Velocities returns the commanded velocities.
func (h *Head) Velocities() (pan, tilt head.Velocity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vPan, h.vTilt
}

// Enabled reports whether the head has received the enable command.
func (h *Head) Enabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

// Unknown counts lines the head could not interpret.
func (h *Head) Unknown() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unknown
}

func (h *Head) position() head.HeadPosition {
	return head.HeadPosition{Pan: int(math.Round(h.pan)), Tilt: int(math.Round(h.tilt))}
}

func (h *Head) receive(line string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.open {
		return transport.ErrClosed
	}
	debug.Wire("sim<", line)

	h.advance()
	if err := h.execute(strings.TrimRight(line, "\r\n")); err != nil {
		h.unknown++
		debug.Warn("sim: %v", err)
	}
	return nil
}

func (h *Head) execute(cmd string) error {
	switch {
	case cmd == "R":
		h.vPan, h.vTilt = head.NeutralVelocity, head.NeutralVelocity
	case cmd == "pt":
		p := h.position()
		h.replies = append(h.replies, fmt.Sprintf("%d %d", p.Pan, p.Tilt))
	case strings.HasPrefix(cmd, "L "):
		h.enabled = strings.TrimSpace(cmd[2:]) == "1"
	case strings.HasPrefix(cmd, "P "):
		rest := cmd[2:]
		if i := strings.Index(rest, "T "); i >= 0 {
			pan, err := parseVelocity(rest[:i])
			if err != nil {
				return err
			}
			tilt, err := parseVelocity(rest[i+2:])
			if err != nil {
				return err
			}
			h.vPan, h.vTilt = pan, tilt
			return nil
		}
		pan, err := parseVelocity(rest)
		if err != nil {
			return err
		}
		h.vPan = pan
	case strings.HasPrefix(cmd, "T "):
		tilt, err := parseVelocity(cmd[2:])
		if err != nil {
			return err
		}
		h.vTilt = tilt
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func parseVelocity(s string) (head.Velocity, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("bad velocity %q: %w", s, err)
	}
	v := head.Velocity(n)
	if !v.Valid() {
		return 0, fmt.Errorf("velocity %d out of range", n)
	}
	return v, nil
}

// advance integrates position up to now. Callers hold mu.
func (h *Head) advance() {
	now := h.cfg.Now()
	dt := now.Sub(h.last).Seconds()
	h.last = now
	if dt <= 0 {
		return
	}
	h.pan = h.step(h.pan, h.vPan, h.cfg.PanSpeed, dt)
	h.tilt = h.step(h.tilt, h.vTilt, h.cfg.TiltSpeed, dt)
}

func (h *Head) step(pos float64, v head.Velocity, speed, dt float64) float64 {
	rate := float64(head.ScaleFromVelocity(v)) / float64(head.MaxScale) * speed
	pos += rate * dt
	return math.Max(0, math.Min(pos, float64(h.cfg.Limit)))
}
