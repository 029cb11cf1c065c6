package protocol

import (
	"encoding/json"
	"time"

	"pantilt-remote/internal/head"
	"pantilt-remote/internal/motion"
)

// Message types
const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeStatus       = "status"
	TypeEvent        = "event"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"
	TypeJog          = "jog"
	TypeMove         = "move"
	TypeCalibrate    = "calibrate"
	TypeStop         = "stop"
	TypeConnect      = "connect"
	TypeDisconnect   = "disconnect"
	TypeError        = "error"
)

// Error codes
const (
	ErrHeadDisconnected = "HEAD_DISCONNECTED"
	ErrConnectFailed    = "CONNECT_FAILED"
	ErrRejected         = "REJECTED"
	ErrInvalidMessage   = "INVALID_MESSAGE"
	ErrUnavailable      = "UNAVAILABLE"
	ErrInternal         = "INTERNAL"
)

// Message is the base envelope for all WebSocket messages
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PingPayload for ping messages
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload for pong messages
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// JogPayload sets one axis to a velocity on the -1000..1000 scale.
type JogPayload struct {
	Axis  string `json:"axis"`
	Scale int    `json:"scale"`
}

// MovePayload requests a timed move to an absolute position.
type MovePayload struct {
	Pan        int   `json:"pan"`
	Tilt       int   `json:"tilt"`
	DurationMS int64 `json:"duration_ms"`
}

// Duration returns the requested move duration.
func (p MovePayload) Duration() time.Duration {
	return time.Duration(p.DurationMS) * time.Millisecond
}

// ConnectPayload selects the head address. Empty means the configured one.
type ConnectPayload struct {
	Address string `json:"address,omitempty"`
}

// TargetPayload describes a move in progress.
type TargetPayload struct {
	Pan        int   `json:"pan"`
	Tilt       int   `json:"tilt"`
	DurationMS int64 `json:"duration_ms"`
	ElapsedMS  int64 `json:"elapsed_ms"`
}

// StatusPayload is a full snapshot of the head.
type StatusPayload struct {
	Connection      string                 `json:"connection"`
	Address         string                 `json:"address,omitempty"`
	Reason          string                 `json:"reason,omitempty"`
	Mode            string                 `json:"mode"`
	Position        head.HeadPosition      `json:"position"`
	PanVelocity     int                    `json:"pan_velocity"`
	TiltVelocity    int                    `json:"tilt_velocity"`
	PanScale        int                    `json:"pan_scale"`
	TiltScale       int                    `json:"tilt_scale"`
	PanCalibration  motion.AxisCalibration `json:"pan_calibration"`
	TiltCalibration motion.AxisCalibration `json:"tilt_calibration"`
	CalibrationRuns int                    `json:"calibration_runs"`
	Target          *TargetPayload         `json:"target,omitempty"`
	PreviewURL      string                 `json:"preview_url,omitempty"`
	ControlProtocol string                 `json:"control_protocol"`
	VideoProtocol   string                 `json:"video_protocol,omitempty"`
}

// NewStatusPayload renders a controller snapshot.
func NewStatusPayload(s motion.Snapshot) StatusPayload {
	p := StatusPayload{
		Connection:      s.Connection.Status.String(),
		Address:         s.Connection.Address,
		Reason:          s.Connection.Reason,
		Mode:            s.Motion.Mode().String(),
		Position:        s.Position,
		PanVelocity:     int(s.PanVelocity),
		TiltVelocity:    int(s.TiltVelocity),
		PanScale:        head.ScaleFromVelocity(s.PanVelocity),
		TiltScale:       head.ScaleFromVelocity(s.TiltVelocity),
		PanCalibration:  s.Pan,
		TiltCalibration: s.Tilt,
		CalibrationRuns: s.CalibrationRuns,
		ControlProtocol: "serial",
	}
	if mv, ok := s.Motion.(motion.Moving); ok {
		p.Target = &TargetPayload{
			Pan:        mv.TargetPan,
			Tilt:       mv.TargetTilt,
			DurationMS: mv.Duration.Milliseconds(),
			ElapsedMS:  mv.Elapsed.Milliseconds(),
		}
	}
	return p
}

// EventPayload is a controller event as published to clients and MQTT.
type EventPayload struct {
	Kind     string                  `json:"kind"`
	Time     string                  `json:"time"`
	Address  string                  `json:"address,omitempty"`
	Position head.HeadPosition       `json:"position"`
	Pan      *motion.AxisCalibration `json:"pan,omitempty"`
	Tilt     *motion.AxisCalibration `json:"tilt,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// NewEventPayload renders e. Calibrations are only included for
// completed calibration runs.
func NewEventPayload(e motion.Event, at time.Time) EventPayload {
	p := EventPayload{
		Kind:     e.Kind.String(),
		Time:     at.UTC().Format(time.RFC3339Nano),
		Address:  e.Address,
		Position: e.Position,
	}
	if e.Kind == motion.EventCalibrationComplete {
		pan, tilt := e.Pan, e.Tilt
		p.Pan, p.Tilt = &pan, &tilt
	}
	if e.Err != nil {
		p.Error = e.Err.Error()
	}
	return p
}

// SDPPayload for offer/answer messages
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// ICECandidatePayload for ICE candidate messages
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid"`
	SDPMLineIndex uint16 `json:"sdp_mline_index"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Request string `json:"request,omitempty"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType string, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given struct
func (m *Message) ParsePayload(v any) error {
	if len(m.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(m.Payload, v)
}
