package transport

import (
	"bytes"
	"time"
)

// lineBuffer accumulates inbound bytes and splits them on CR or LF.
// Empty lines (from CRLF pairs) are skipped.
type lineBuffer struct {
	buf []byte
}

func (b *lineBuffer) write(p []byte) {
	b.buf = append(b.buf, p...)
}

func (b *lineBuffer) next() (string, bool) {
	for {
		i := bytes.IndexAny(b.buf, "\r\n")
		if i < 0 {
			return "", false
		}
		line := string(b.buf[:i])
		b.buf = b.buf[i+1:]
		if len(b.buf) == 0 {
			b.buf = nil
		}
		if line != "" {
			return line, true
		}
	}
}

func (b *lineBuffer) reset() {
	b.buf = nil
}

// readFunc reads into p, waiting at most wait. A read that times out
// returns (0, nil).
type readFunc func(p []byte, wait time.Duration) (int, error)

func readLine(lb *lineBuffer, timeout time.Duration, read readFunc) (string, error) {
	if line, ok := lb.next(); ok {
		return line, nil
	}

	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 64)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrTimeout
		}
		n, err := read(chunk, remaining)
		if n > 0 {
			lb.write(chunk[:n])
			if line, ok := lb.next(); ok {
				return line, nil
			}
		}
		if err != nil {
			return "", err
		}
	}
}
