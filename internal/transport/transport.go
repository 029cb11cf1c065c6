package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTimeout is returned by ReceiveLine when no complete line arrived within
// the requested timeout.
var ErrTimeout = errors.New("transport: read timeout")

// ErrClosed is returned when using a transport after Close.
var ErrClosed = errors.New("transport: closed")

// Transport is a half-duplex, line-oriented link to the head.
type Transport interface {
	// Send writes a line as-is.
	Send(line string) error

	// SendWithFlush discards any pending outbound bytes, then writes line.
	SendWithFlush(line string) error

	// ReceiveLine returns the next line without its delimiter, or
	// ErrTimeout if none arrives within timeout.
	ReceiveLine(timeout time.Duration) (string, error)

	// DiscardInbound drops any unread inbound bytes.
	DiscardInbound() error

	Close() error
}

// Dialer opens a transport for an address.
type Dialer interface {
	Open(address string) (Transport, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(address string) (Transport, error)

func (f DialerFunc) Open(address string) (Transport, error) {
	return f(address)
}

// Config for opening real links
type Config struct {
	// Serial settings (ignored for tcp:// addresses)
	Baud int

	// Timeout for establishing a tcp:// connection
	DialTimeout time.Duration
}

// DefaultConfig matches the head's factory serial settings (9600 8N1).
func DefaultConfig() Config {
	return Config{
		Baud:        9600,
		DialTimeout: 5 * time.Second,
	}
}

// NewDialer returns a Dialer that opens "tcp://host:port" addresses as a
// network bridge and anything else as a local serial device path.
func NewDialer(cfg Config) Dialer {
	return DialerFunc(func(address string) (Transport, error) {
		if address == "" {
			return nil, fmt.Errorf("transport: empty address")
		}
		if hostPort, ok := strings.CutPrefix(address, "tcp://"); ok {
			port, err := OpenNet(hostPort, cfg.DialTimeout)
			if err != nil {
				return nil, err
			}
			return port, nil
		}
		port, err := OpenSerial(address, cfg.Baud)
		if err != nil {
			return nil, err
		}
		return port, nil
	})
}
