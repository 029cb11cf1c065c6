package transport

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"pantilt-remote/internal/debug"
)

// SerialPort is a Transport over a local serial device.
type SerialPort struct {
	mu     sync.Mutex
	port   serial.Port
	name   string
	lines  lineBuffer
	closed bool
}

// OpenSerial opens device at baud, 8 data bits, no parity, one stop bit.
func OpenSerial(device string, baud int) (*SerialPort, error) {
	if baud <= 0 {
		baud = DefaultConfig().Baud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}
	debug.Verbose("serial: opened %s at %d baud", device, baud)

	return &SerialPort{port: port, name: device}, nil
}

func (s *SerialPort) Send(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(line)
}

func (s *SerialPort) SendWithFlush(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("serial %s: reset output: %w", s.name, err)
	}
	return s.write(line)
}

func (s *SerialPort) write(line string) error {
	if s.closed {
		return ErrClosed
	}
	debug.Wire("tx", line)
	if _, err := s.port.Write([]byte(line)); err != nil {
		return fmt.Errorf("serial %s: write: %w", s.name, err)
	}
	return nil
}

func (s *SerialPort) ReceiveLine(timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	line, err := readLine(&s.lines, timeout, func(p []byte, wait time.Duration) (int, error) {
		if err := s.port.SetReadTimeout(wait); err != nil {
			return 0, fmt.Errorf("serial %s: set read timeout: %w", s.name, err)
		}
		n, err := s.port.Read(p)
		if err != nil {
			return n, fmt.Errorf("serial %s: read: %w", s.name, err)
		}
		return n, nil
	})
	if err == nil {
		debug.Wire("rx", line)
	}
	return line, err
}

func (s *SerialPort) DiscardInbound() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.lines.reset()
	if err := s.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("serial %s: reset input: %w", s.name, err)
	}
	return nil
}

func (s *SerialPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}
