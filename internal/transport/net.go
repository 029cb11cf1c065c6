package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"pantilt-remote/internal/debug"
)

// writeTimeout bounds every write so a stalled bridge can't block a tick.
const writeTimeout = 100 * time.Millisecond

// NetPort is a Transport over a TCP serial bridge (ser2net and similar).
type NetPort struct {
	conn   net.Conn
	mu     sync.Mutex
	addr   string
	lines  lineBuffer
	closed bool
}

// OpenNet connects to a serial bridge at hostPort.
func OpenNet(hostPort string, timeout time.Duration) (*NetPort, error) {
	if timeout <= 0 {
		timeout = DefaultConfig().DialTimeout
	}
	conn, err := net.DialTimeout("tcp", hostPort, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to serial bridge %s: %w", hostPort, err)
	}
	debug.Verbose("net: connected to %s", hostPort)
	return NewNetPort(conn), nil
}

// NewNetPort wraps an established connection.
func NewNetPort(conn net.Conn) *NetPort {
	return &NetPort{conn: conn, addr: conn.RemoteAddr().String()}
}

func (n *NetPort) Send(line string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.write(line)
}

// SendWithFlush behaves like Send: bytes handed to the kernel can't be
// recalled, and nothing is queued on our side.
func (n *NetPort) SendWithFlush(line string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.write(line)
}

func (n *NetPort) write(line string) error {
	if n.closed {
		return ErrClosed
	}
	debug.Wire("tx", line)
	n.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := n.conn.Write([]byte(line)); err != nil {
		return fmt.Errorf("bridge %s: write: %w", n.addr, err)
	}
	return nil
}

func (n *NetPort) ReceiveLine(timeout time.Duration) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return "", ErrClosed
	}

	line, err := readLine(&n.lines, timeout, n.readWithin)
	if err == nil {
		debug.Wire("rx", line)
	}
	return line, err
}

func (n *NetPort) readWithin(p []byte, wait time.Duration) (int, error) {
	n.conn.SetReadDeadline(time.Now().Add(wait))
	c, err := n.conn.Read(p)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return c, nil
		}
		return c, fmt.Errorf("bridge %s: read: %w", n.addr, err)
	}
	return c, nil
}

// DiscardInbound drops buffered lines and anything already waiting on the
// socket.
func (n *NetPort) DiscardInbound() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	n.lines.reset()

	buf := make([]byte, 256)
	for {
		c, err := n.readWithin(buf, time.Millisecond)
		if err != nil {
			return err
		}
		if c == 0 {
			return nil
		}
	}
}

func (n *NetPort) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return n.conn.Close()
}
