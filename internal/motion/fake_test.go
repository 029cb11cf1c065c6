package motion

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pantilt-remote/internal/head"
	"pantilt-remote/internal/transport"
)

// fakeLink records outbound lines and answers position queries from pos.
type fakeLink struct {
	sent     []string
	flushed  []bool
	replies  []string
	pos      *head.HeadPosition
	garbage  bool
	sendErr  error
	queryErr error
	discards int
	closed   bool
}

func (f *fakeLink) Send(line string) error {
	return f.write(line, false)
}

func (f *fakeLink) SendWithFlush(line string) error {
	return f.write(line, true)
}

func (f *fakeLink) write(line string, flush bool) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.queryErr != nil && line == head.QueryPosition() {
		return f.queryErr
	}
	f.sent = append(f.sent, line)
	f.flushed = append(f.flushed, flush)
	if line == head.QueryPosition() {
		switch {
		case f.garbage:
			f.replies = append(f.replies, "12 -4")
		case f.pos != nil:
			f.replies = append(f.replies, fmt.Sprintf("%d %d", f.pos.Pan, f.pos.Tilt))
		}
	}
	return nil
}

func (f *fakeLink) ReceiveLine(timeout time.Duration) (string, error) {
	if len(f.replies) == 0 {
		return "", transport.ErrTimeout
	}
	line := f.replies[0]
	f.replies = f.replies[1:]
	return line, nil
}

func (f *fakeLink) DiscardInbound() error {
	f.discards++
	f.replies = nil
	return nil
}

func (f *fakeLink) Close() error {
	f.closed = true
	return nil
}

// motionLines returns sent lines other than position queries.
func (f *fakeLink) motionLines() []string {
	var out []string
	for _, l := range f.sent {
		if l != head.QueryPosition() {
			out = append(out, l)
		}
	}
	return out
}

func (f *fakeLink) count(line string) int {
	n := 0
	for _, l := range f.sent {
		if l == line {
			n++
		}
	}
	return n
}

type recorder struct {
	events []Event
}

func (r *recorder) Publish(e Event) { r.events = append(r.events, e) }

func (r *recorder) kinds() []EventKind {
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func (r *recorder) find(k EventKind) (Event, bool) {
	for _, e := range r.events {
		if e.Kind == k {
			return e, true
		}
	}
	return Event{}, false
}

// quietOptions disables periodic polling so tests only see the commands
// they trigger.
func quietOptions() Options {
	opts := DefaultOptions()
	opts.PollInterval = time.Hour
	return opts
}

func connect(t *testing.T, opts Options) (*Controller, *fakeLink, *recorder) {
	t.Helper()
	link := &fakeLink{pos: &head.HeadPosition{}}
	rec := &recorder{}
	opts.Sink = rec
	opts.Dialer = transport.DialerFunc(func(address string) (transport.Transport, error) {
		return link, nil
	})
	c := NewController(opts)
	require.NoError(t, c.Connect("/dev/ttyTEST"))
	link.sent, link.flushed = nil, nil
	rec.events = nil
	return c, link, rec
}

var errWire = errors.New("wire cut")
