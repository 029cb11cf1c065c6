package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	pwebrtc "github.com/pion/webrtc/v3"
	"go.uber.org/multierr"

	"pantilt-remote/internal/debug"
	"pantilt-remote/internal/driver"
	"pantilt-remote/internal/events"
	"pantilt-remote/internal/head"
	"pantilt-remote/internal/motion"
	"pantilt-remote/internal/protocol"
	"pantilt-remote/internal/ptz"
	"pantilt-remote/internal/rtsp"
	"pantilt-remote/internal/webrtc"
)

// Config for the server
type Config struct {
	ListenAddr string

	// Head address used when a connect request names none
	HeadAddress string

	// Camera preview; disabled when RTSPURL is empty
	RTSPURL    string
	ICEServers []string
}

// Server is the websocket control surface for the head
type Server struct {
	cfg        Config
	ctrl       ptz.Controller
	hub        *events.Hub
	clients    map[*Client]bool
	clientsMu  sync.RWMutex
	rtspClient *rtsp.Client
	upgrader   websocket.Upgrader
	staticFS   fs.FS
	httpServer *http.Server
	unsub      func()
}

// Client represents a connected WebSocket client
type Client struct {
	id      string
	conn    *websocket.Conn
	server  *Server
	webrtc  *webrtc.Session
	send    chan []byte
	rtpChan chan []byte
	stopRTP chan struct{}
	mu      sync.Mutex
	closed  bool
}

// New creates a new server instance. staticFS must contain a web/
// directory. Events published on hub are forwarded to every client.
func New(cfg Config, ctrl ptz.Controller, hub *events.Hub, staticFS fs.FS) (*Server, error) {
	webFS, err := fs.Sub(staticFS, "web")
	if err != nil {
		return nil, fmt.Errorf("failed to access embedded web files: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		ctrl:     ctrl,
		hub:      hub,
		clients:  make(map[*Client]bool),
		staticFS: webFS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local control surface
			},
		},
	}

	if hub != nil {
		ch, unsub := hub.Subscribe()
		s.unsub = unsub
		go s.forwardEvents(ch)
	}
	return s, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/", http.FileServer(http.FS(s.staticFS)))
	return mux
}

// Start connects the preview source, if any, and serves HTTP until Stop.
func (s *Server) Start() error {
	if s.cfg.RTSPURL != "" {
		s.startPreview()
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	debug.Info("Server starting on %s", s.cfg.ListenAddr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) startPreview() {
	client, err := rtsp.NewClient(rtsp.DefaultConfig(s.cfg.RTSPURL))
	if err != nil {
		debug.Warn("Failed to create RTSP client: %v", err)
		return
	}
	if err := client.Connect(); err != nil {
		debug.Warn("Failed to connect to RTSP: %v", err)
		client.Close()
		return
	}

	s.clientsMu.Lock()
	s.rtspClient = client
	s.clientsMu.Unlock()
	debug.Info("Connected to RTSP: %s", s.cfg.RTSPURL)
	go s.broadcastRTP(client)
}

// broadcastRTP copies preview packets to every client
func (s *Server) broadcastRTP(src *rtsp.Client) {
	for {
		select {
		case <-src.Done():
			return
		case packet := <-src.Packets():
			s.clientsMu.RLock()
			for client := range s.clients {
				select {
				case client.rtpChan <- packet:
				default:
				}
			}
			s.clientsMu.RUnlock()
		}
	}
}

func (s *Server) forwardEvents(ch <-chan motion.Event) {
	for e := range ch {
		s.broadcast(protocol.TypeEvent, protocol.NewEventPayload(e, time.Now()))
	}
}

// BroadcastStatus pushes a snapshot to every client. It never blocks.
func (s *Server) BroadcastStatus(snap motion.Snapshot) {
	s.broadcast(protocol.TypeStatus, s.statusPayload(snap))
}

func (s *Server) statusPayload(snap motion.Snapshot) protocol.StatusPayload {
	p := protocol.NewStatusPayload(snap)
	s.clientsMu.RLock()
	if s.rtspClient != nil {
		p.PreviewURL = s.rtspClient.URL()
		p.VideoProtocol = "webrtc"
	}
	s.clientsMu.RUnlock()
	return p
}

func (s *Server) broadcast(msgType string, payload any) {
	data, err := encode(msgType, payload)
	if err != nil {
		debug.Error(err)
		return
	}
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		client.enqueue(data)
	}
}

// Stop closes every client, the preview source and the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsub != nil {
		s.unsub()
	}

	s.clientsMu.Lock()
	for client := range s.clients {
		client.Close()
	}
	src := s.rtspClient
	s.clientsMu.Unlock()

	var err error
	if src != nil {
		err = multierr.Append(err, src.Close())
	}
	if s.httpServer != nil {
		err = multierr.Append(err, s.httpServer.Shutdown(ctx))
	}
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Warn("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		id:      uuid.NewString(),
		conn:    conn,
		server:  s,
		send:    make(chan []byte, 256),
		rtpChan: make(chan []byte, 500),
		stopRTP: make(chan struct{}),
	}

	s.clientsMu.Lock()
	s.clients[client] = true
	preview := s.rtspClient != nil
	s.clientsMu.Unlock()
	debug.Info("Client %s connected from %s", client.id, r.RemoteAddr)

	go client.writePump()
	go client.readPump()

	client.sendMessage(protocol.TypeStatus, s.statusPayload(s.ctrl.Status()))

	if preview {
		if err := client.initWebRTC(); err != nil {
			debug.Warn("Client %s: failed to initialize WebRTC: %v", client.id, err)
		}
	}
}

func (c *Client) initWebRTC() error {
	cfg := webrtc.DefaultConfig()
	if c.server.cfg.ICEServers != nil {
		cfg.ICEServers = c.server.cfg.ICEServers
	}
	session, err := webrtc.NewSession(cfg, func(candidate *pwebrtc.ICECandidate) {
		cand := candidate.ToJSON()
		payload := protocol.ICECandidatePayload{Candidate: cand.Candidate}
		if cand.SDPMid != nil {
			payload.SDPMid = *cand.SDPMid
		}
		if cand.SDPMLineIndex != nil {
			payload.SDPMLineIndex = *cand.SDPMLineIndex
		}
		c.sendMessage(protocol.TypeICECandidate, payload)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return session.Close()
	}
	c.webrtc = session
	c.mu.Unlock()

	if err := session.AddH264Track(); err != nil {
		return err
	}
	offer, err := session.CreateOffer()
	if err != nil {
		return err
	}
	c.sendMessage(protocol.TypeOffer, protocol.SDPPayload{SDP: offer})

	go c.forwardRTP(session)
	return nil
}

func (c *Client) forwardRTP(session *webrtc.Session) {
	for {
		select {
		case <-c.stopRTP:
			return
		case packet := <-c.rtpChan:
			if err := session.WriteRTP(packet); err != nil {
				return
			}
		}
	}
}

func (c *Client) session() *webrtc.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webrtc
}

func encode(msgType string, payload any) ([]byte, error) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s message: %w", msgType, err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msgType, err)
	}
	return data, nil
}

func (c *Client) sendMessage(msgType string, payload any) {
	data, err := encode(msgType, payload)
	if err != nil {
		debug.Error(err)
		return
	}
	c.enqueue(data)
}

func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		debug.Warn("Client %s send buffer full, dropping message", c.id)
	}
}

func (c *Client) sendError(code, request string, err error) {
	c.sendMessage(protocol.TypeError, protocol.ErrorPayload{
		Code:    code,
		Message: err.Error(),
		Request: request,
	})
}

// errorCode maps controller errors onto protocol error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, motion.ErrNotConnected):
		return protocol.ErrHeadDisconnected
	case errors.Is(err, motion.ErrConnect):
		return protocol.ErrConnectFailed
	case errors.Is(err, motion.ErrBusy),
		errors.Is(err, motion.ErrInvalidDuration),
		errors.Is(err, motion.ErrNoPosition),
		errors.Is(err, motion.ErrMoveTooFast):
		return protocol.ErrRejected
	case errors.Is(err, driver.ErrStopped):
		return protocol.ErrUnavailable
	default:
		return protocol.ErrInternal
	}
}

func (c *Client) readPump() {
	defer func() {
		c.server.clientsMu.Lock()
		delete(c.server.clients, c)
		c.server.clientsMu.Unlock()
		c.Close()
		debug.Info("Client %s disconnected", c.id)
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				debug.Warn("WebSocket error: %v", err)
			}
			return
		}

		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(protocol.ErrInvalidMessage, "", errors.New("failed to parse message"))
		return
	}
	debug.Verbose("Client %s: %s", c.id, msg.Type)

	ctrl := c.server.ctrl
	var err error
	switch msg.Type {
	case protocol.TypePing:
		var payload protocol.PingPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(protocol.ErrInvalidMessage, msg.Type, err)
			return
		}
		c.sendMessage(protocol.TypePong, protocol.PongPayload{
			ClientTimestamp: payload.Timestamp,
			ServerTimestamp: time.Now().UnixMilli(),
		})
		return

	case protocol.TypeStatus:
		c.sendMessage(protocol.TypeStatus, c.server.statusPayload(ctrl.Status()))
		return

	case protocol.TypeJog:
		var payload protocol.JogPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(protocol.ErrInvalidMessage, msg.Type, err)
			return
		}
		axis, ok := head.ParseAxis(payload.Axis)
		if !ok {
			c.sendError(protocol.ErrInvalidMessage, msg.Type, fmt.Errorf("unknown axis %q", payload.Axis))
			return
		}
		err = ctrl.Jog(axis, payload.Scale)

	case protocol.TypeMove:
		var payload protocol.MovePayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(protocol.ErrInvalidMessage, msg.Type, err)
			return
		}
		err = ctrl.MoveTo(payload.Pan, payload.Tilt, payload.Duration())

	case protocol.TypeCalibrate:
		err = ctrl.Calibrate()

	case protocol.TypeStop:
		err = ctrl.Stop()

	case protocol.TypeConnect:
		var payload protocol.ConnectPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(protocol.ErrInvalidMessage, msg.Type, err)
			return
		}
		address := payload.Address
		if address == "" {
			address = c.server.cfg.HeadAddress
		}
		if address == "" {
			c.sendError(protocol.ErrInvalidMessage, msg.Type, errors.New("no head address given or configured"))
			return
		}
		err = ctrl.Connect(address)

	case protocol.TypeDisconnect:
		err = ctrl.Disconnect()

	case protocol.TypeAnswer:
		var payload protocol.SDPPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		if session := c.session(); session != nil {
			if err := session.SetAnswer(payload.SDP); err != nil {
				debug.Warn("Failed to set answer: %v", err)
			}
		}
		return

	case protocol.TypeICECandidate:
		var payload protocol.ICECandidatePayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		if session := c.session(); session != nil {
			if err := session.AddICECandidate(payload.Candidate, payload.SDPMid, payload.SDPMLineIndex); err != nil {
				debug.Warn("Failed to add ICE candidate: %v", err)
			}
		}
		return

	default:
		c.sendError(protocol.ErrInvalidMessage, msg.Type, fmt.Errorf("unknown message type %q", msg.Type))
		return
	}

	if err != nil {
		debug.Info("Client %s: %s failed: %v", c.id, msg.Type, err)
		c.sendError(errorCode(err), msg.Type, err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	close(c.stopRTP)

	if c.webrtc != nil {
		c.webrtc.Close()
		c.webrtc = nil
	}

	close(c.send)
}
