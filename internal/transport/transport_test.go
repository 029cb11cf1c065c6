package transport

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineBuffer_SplitsOnCRAndLF(t *testing.T) {
	var lb lineBuffer
	lb.write([]byte("120 340\r\n7 8\rpar"))

	line, ok := lb.next()
	require.True(t, ok)
	assert.Equal(t, "120 340", line)

	line, ok = lb.next()
	require.True(t, ok)
	assert.Equal(t, "7 8", line)

	_, ok = lb.next()
	assert.False(t, ok, "partial line must stay buffered")

	lb.write([]byte("tial\n"))
	line, ok = lb.next()
	require.True(t, ok)
	assert.Equal(t, "partial", line)
}

func TestLineBuffer_Reset(t *testing.T) {
	var lb lineBuffer
	lb.write([]byte("a b\r"))
	lb.reset()
	_, ok := lb.next()
	assert.False(t, ok)
}

func TestReadLine_TimesOut(t *testing.T) {
	var lb lineBuffer
	calls := 0
	_, err := readLine(&lb, 10*time.Millisecond, func(p []byte, wait time.Duration) (int, error) {
		calls++
		time.Sleep(wait)
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, calls, 1)
}

func TestReadLine_PropagatesReadError(t *testing.T) {
	var lb lineBuffer
	_, err := readLine(&lb, time.Second, func(p []byte, wait time.Duration) (int, error) {
		return 0, io.ErrUnexpectedEOF
	})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// bridge starts a TCP listener and returns the client side as a NetPort
// plus the accepted server connection.
func bridge(t *testing.T) (*NetPort, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	tr, err := NewDialer(DefaultConfig()).Open("tcp://" + ln.Addr().String())
	require.NoError(t, err)
	port := tr.(*NetPort)
	t.Cleanup(func() { port.Close() })

	select {
	case srv := <-accepted:
		t.Cleanup(func() { srv.Close() })
		return port, srv
	case <-time.After(time.Second):
		t.Fatal("accept timeout")
	}
	return nil, nil
}

func TestNetPort_SendWritesExactBytes(t *testing.T) {
	port, srv := bridge(t)

	require.NoError(t, port.Send("P 0T 32767\r"))
	require.NoError(t, port.SendWithFlush("R\r"))

	want := "P 0T 32767\rR\r"
	buf := make([]byte, len(want))
	srv.SetReadDeadline(time.Now().Add(time.Second))
	_, err := io.ReadFull(srv, buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf))
}

func TestNetPort_ReceiveLine(t *testing.T) {
	port, srv := bridge(t)

	_, err := srv.Write([]byte("120 340\r\n"))
	require.NoError(t, err)

	line, err := port.ReceiveLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "120 340", line)

	_, err = port.ReceiveLine(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestNetPort_PartialLineCompletesLater(t *testing.T) {
	port, srv := bridge(t)

	_, err := srv.Write([]byte("12"))
	require.NoError(t, err)
	_, err = port.ReceiveLine(30 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	_, err = srv.Write([]byte("0 5\r"))
	require.NoError(t, err)
	line, err := port.ReceiveLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "120 5", line)
}

func TestNetPort_DiscardInbound(t *testing.T) {
	port, srv := bridge(t)

	_, err := srv.Write([]byte("1 1\r2 2\r"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, port.DiscardInbound())

	_, err = srv.Write([]byte("3 3\r"))
	require.NoError(t, err)
	line, err := port.ReceiveLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "3 3", line)
}

func TestNetPort_Closed(t *testing.T) {
	port, _ := bridge(t)
	require.NoError(t, port.Close())
	require.NoError(t, port.Close())

	assert.ErrorIs(t, port.Send("R\r"), ErrClosed)
	_, err := port.ReceiveLine(time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, port.DiscardInbound(), ErrClosed)
}

func TestDialer_EmptyAddress(t *testing.T) {
	_, err := NewDialer(DefaultConfig()).Open("")
	assert.Error(t, err)
}

func TestDialer_UnreachableBridge(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewDialer(Config{DialTimeout: 200 * time.Millisecond}).Open("tcp://" + addr)
	assert.Error(t, err)
}

func TestDialerFunc(t *testing.T) {
	called := ""
	d := DialerFunc(func(address string) (Transport, error) {
		called = address
		return nil, io.EOF
	})
	_, err := d.Open("/dev/null")
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "/dev/null", called)
}
