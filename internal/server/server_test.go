package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantilt-remote/internal/driver"
	"pantilt-remote/internal/events"
	"pantilt-remote/internal/head"
	"pantilt-remote/internal/motion"
	"pantilt-remote/internal/protocol"
)

type fakeController struct {
	mu    sync.Mutex
	calls []string
	err   error
	snap  motion.Snapshot
}

func (f *fakeController) record(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.err
}

func (f *fakeController) Jog(axis head.Axis, scale int) error {
	return f.record("jog %s %d", axis, scale)
}

func (f *fakeController) MoveTo(pan, tilt int, d time.Duration) error {
	return f.record("move %d %d %v", pan, tilt, d)
}

func (f *fakeController) Calibrate() error { return f.record("calibrate") }
func (f *fakeController) Stop() error      { return f.record("stop") }

func (f *fakeController) Connect(address string) error {
	return f.record("connect %s", address)
}

func (f *fakeController) Disconnect() error { return f.record("disconnect") }

func (f *fakeController) Status() motion.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type harness struct {
	srv  *Server
	ctrl *fakeController
	hub  *events.Hub
	ts   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctrl := &fakeController{snap: motion.Snapshot{
		Connection: motion.Connection{Status: motion.Connected, Address: "/dev/ttyUSB0"},
		Motion:     motion.Idle{},
		Position:   head.HeadPosition{Pan: 100, Tilt: 200},
	}}
	hub := events.NewHub()
	static := fstest.MapFS{"web/index.html": {Data: []byte("<html>pantilt</html>")}}

	srv, err := New(Config{HeadAddress: "/dev/ttyUSB0"}, ctrl, hub, static)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
		ts.Close()
	})
	return &harness{srv: srv, ctrl: ctrl, hub: hub, ts: ts}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msg := readType(t, conn, protocol.TypeStatus)
	var status protocol.StatusPayload
	require.NoError(t, msg.ParsePayload(&status))
	require.Equal(t, "connected", status.Connection)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	msg, err := protocol.NewMessage(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

func readType(t *testing.T, conn *websocket.Conn, msgType string) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg protocol.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

// roundTrip waits until every earlier message on conn has been handled.
func roundTrip(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, protocol.TypePing, protocol.PingPayload{Timestamp: 42})
	msg := readType(t, conn, protocol.TypePong)
	var pong protocol.PongPayload
	require.NoError(t, msg.ParsePayload(&pong))
	require.Equal(t, int64(42), pong.ClientTimestamp)
}

func TestServer_ServesStatic(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "pantilt")
}

func TestServer_CommandsReachController(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, protocol.TypeJog, protocol.JogPayload{Axis: "tilt", Scale: -250})
	send(t, conn, protocol.TypeMove, protocol.MovePayload{Pan: 500, Tilt: 600, DurationMS: 2000})
	send(t, conn, protocol.TypeCalibrate, nil)
	send(t, conn, protocol.TypeStop, nil)
	send(t, conn, protocol.TypeConnect, nil)
	send(t, conn, protocol.TypeConnect, protocol.ConnectPayload{Address: "tcp://10.0.0.5:4001"})
	send(t, conn, protocol.TypeDisconnect, nil)
	roundTrip(t, conn)

	assert.Equal(t, []string{
		"jog tilt -250",
		"move 500 600 2s",
		"calibrate",
		"stop",
		"connect /dev/ttyUSB0",
		"connect tcp://10.0.0.5:4001",
		"disconnect",
	}, h.ctrl.Calls())
}

func TestServer_InvalidMessages(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readType(t, conn, protocol.TypeError)
	var e protocol.ErrorPayload
	require.NoError(t, msg.ParsePayload(&e))
	assert.Equal(t, protocol.ErrInvalidMessage, e.Code)

	send(t, conn, protocol.TypeJog, protocol.JogPayload{Axis: "zoom", Scale: 10})
	msg = readType(t, conn, protocol.TypeError)
	require.NoError(t, msg.ParsePayload(&e))
	assert.Equal(t, protocol.ErrInvalidMessage, e.Code)
	assert.Equal(t, protocol.TypeJog, e.Request)

	send(t, conn, "teleport", nil)
	msg = readType(t, conn, protocol.TypeError)
	require.NoError(t, msg.ParsePayload(&e))
	assert.Equal(t, "teleport", e.Request)

	assert.Empty(t, h.ctrl.Calls())
}

func TestServer_ControllerErrors(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("pan: %w", motion.ErrMoveTooFast), protocol.ErrRejected},
		{motion.ErrInvalidDuration, protocol.ErrRejected},
		{motion.ErrBusy, protocol.ErrRejected},
		{motion.ErrNoPosition, protocol.ErrRejected},
		{motion.ErrNotConnected, protocol.ErrHeadDisconnected},
		{fmt.Errorf("%w: no such device", motion.ErrConnect), protocol.ErrConnectFailed},
		{driver.ErrStopped, protocol.ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.code+"/"+tc.err.Error(), func(t *testing.T) {
			h := newHarness(t)
			h.ctrl.setErr(tc.err)
			conn := h.dial(t)

			send(t, conn, protocol.TypeMove, protocol.MovePayload{Pan: 1, Tilt: 1, DurationMS: 1000})
			msg := readType(t, conn, protocol.TypeError)
			var e protocol.ErrorPayload
			require.NoError(t, msg.ParsePayload(&e))
			assert.Equal(t, tc.code, e.Code)
			assert.Equal(t, protocol.TypeMove, e.Request)
			assert.Equal(t, tc.err.Error(), e.Message)
		})
	}
}

func TestServer_StatusRequest(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, protocol.TypeStatus, nil)
	msg := readType(t, conn, protocol.TypeStatus)
	var status protocol.StatusPayload
	require.NoError(t, msg.ParsePayload(&status))
	assert.Equal(t, head.HeadPosition{Pan: 100, Tilt: 200}, status.Position)
	assert.Equal(t, "idle", status.Mode)
	assert.Empty(t, status.PreviewURL)
}

func TestServer_ForwardsEvents(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	h.hub.Publish(motion.Event{Kind: motion.EventCalibrationComplete, Pan: motion.AxisCalibration{MaxVelocity: 60, SampleCount: 2}})

	msg := readType(t, conn, protocol.TypeEvent)
	var ev protocol.EventPayload
	require.NoError(t, msg.ParsePayload(&ev))
	assert.Equal(t, "calibration_complete", ev.Kind)
	require.NotNil(t, ev.Pan)
	assert.Equal(t, 60.0, ev.Pan.MaxVelocity)
}

func TestServer_BroadcastStatus(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t)
	b := h.dial(t)

	h.srv.BroadcastStatus(motion.Snapshot{
		Connection:  motion.Connection{Status: motion.Connected},
		Motion:      motion.Jogging{Pan: head.MaxVelocity, Tilt: head.NeutralVelocity},
		PanVelocity: head.MaxVelocity, TiltVelocity: head.NeutralVelocity,
	})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readType(t, conn, protocol.TypeStatus)
		var status protocol.StatusPayload
		require.NoError(t, msg.ParsePayload(&status))
		assert.Equal(t, "jogging", status.Mode)
		assert.Equal(t, 1000, status.PanScale)
	}
}
