package webrtc

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/pion/webrtc/v3"

	"pantilt-remote/internal/debug"
)

// ErrClosed is returned when using a session after Close.
var ErrClosed = errors.New("webrtc: session closed")

// Config for WebRTC session
type Config struct {
	// STUN/TURN server URLs. TURN credentials may be given inline as
	// turn:user:pass@host:port.
	ICEServers []string
}

// DefaultConfig returns a default WebRTC configuration
func DefaultConfig() Config {
	return Config{
		ICEServers: []string{
			"stun:stun.l.google.com:19302",
		},
	}
}

// ParseICEServer converts a configured URL into a pion ICE server.
func ParseICEServer(raw string) (webrtc.ICEServer, error) {
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok || rest == "" {
		return webrtc.ICEServer{}, fmt.Errorf("webrtc: bad ICE server %q", raw)
	}
	switch scheme {
	case "stun", "stuns":
		return webrtc.ICEServer{URLs: []string{raw}}, nil
	case "turn", "turns":
	default:
		return webrtc.ICEServer{}, fmt.Errorf("webrtc: unsupported ICE scheme %q", scheme)
	}

	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return webrtc.ICEServer{URLs: []string{raw}}, nil
	}
	user, pass, _ := strings.Cut(creds, ":")
	if u, err := url.PathUnescape(user); err == nil {
		user = u
	}
	if p, err := url.PathUnescape(pass); err == nil {
		pass = p
	}
	return webrtc.ICEServer{
		URLs:           []string{scheme + ":" + host},
		Username:       user,
		Credential:     pass,
		CredentialType: webrtc.ICECredentialTypePassword,
	}, nil
}

// Session is a one-way preview stream to a single browser.
type Session struct {
	pc         *webrtc.PeerConnection
	videoTrack *webrtc.TrackLocalStaticRTP
	onICE      func(candidate *webrtc.ICECandidate)
	mu         sync.Mutex
	closed     bool
}

// NewSession creates a peer connection. onICE receives local candidates
// as they are gathered.
func NewSession(cfg Config, onICE func(*webrtc.ICECandidate)) (*Session, error) {
	config := webrtc.Configuration{}
	for _, raw := range cfg.ICEServers {
		server, err := ParseICEServer(raw)
		if err != nil {
			return nil, err
		}
		config.ICEServers = append(config.ICEServers, server)
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	session := &Session{
		pc:    pc,
		onICE: onICE,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && session.onICE != nil {
			session.onICE(c)
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		debug.Verbose("WebRTC connection state: %s", s)
	})

	return session, nil
}

// AddH264Track adds the send-only preview track.
func (s *Session) AddH264Track() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"video",
		"pantilt-preview",
	)
	if err != nil {
		return fmt.Errorf("failed to create video track: %w", err)
	}

	if _, err := s.pc.AddTrack(videoTrack); err != nil {
		return fmt.Errorf("failed to add video track: %w", err)
	}

	s.videoTrack = videoTrack
	return nil
}

// CreateOffer creates an SDP offer and waits for ICE gathering, so the
// returned SDP already carries the local candidates.
func (s *Session) CreateOffer() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	return s.pc.LocalDescription().SDP, nil
}

// SetAnswer sets the remote SDP answer
func (s *Session) SetAnswer(sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	answer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// AddICECandidate adds a remote ICE candidate
func (s *Session) AddICECandidate(candidate string, sdpMid string, sdpMLineIndex uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	ice := webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        &sdpMid,
		SDPMLineIndex: &sdpMLineIndex,
	}
	if err := s.pc.AddICECandidate(ice); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// WriteRTP forwards one marshalled RTP packet to the preview track.
func (s *Session) WriteRTP(packet []byte) error {
	s.mu.Lock()
	track, closed := s.videoTrack, s.closed
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if track == nil {
		return fmt.Errorf("webrtc: no video track")
	}
	_, err := track.Write(packet)
	return err
}

// Close closes the WebRTC session
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.pc.Close()
}
