package motion

import (
	"time"

	"pantilt-remote/internal/head"
	"pantilt-remote/internal/transport"
)

// Poller defaults. The interval is a tunable; early firmware hosts polled
// every 50ms.
const (
	DefaultPollInterval = time.Second
	DefaultReadTimeout  = 500 * time.Millisecond
)

// Poller gates position queries to at most one per Interval of
// accumulated tick time.
type Poller struct {
	Interval    time.Duration
	ReadTimeout time.Duration

	elapsed time.Duration
}

// Advance accumulates dt and reports whether a poll is due.
func (p *Poller) Advance(dt time.Duration) bool {
	p.elapsed += dt
	if p.elapsed < p.Interval {
		return false
	}
	p.elapsed %= p.Interval
	return true
}

// Reset restarts the interval.
func (p *Poller) Reset() {
	p.elapsed = 0
}

// Read waits for the reply to a position query and validates it. Timeouts
// surface as transport.ErrTimeout, malformed replies as
// head.ErrInvalidResponse.
func (p *Poller) Read(link transport.Transport) (head.HeadPosition, error) {
	line, err := link.ReceiveLine(p.ReadTimeout)
	if err != nil {
		return head.HeadPosition{}, err
	}
	return head.ParsePosition(line)
}
