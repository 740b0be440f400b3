// Package wire defines the JSON frame protocol spoken between the voice
// client, the edge bridge, and the backend realtime endpoint.
//
// Every message on the realtime connection is a single JSON object with a
// "type" field. Audio payloads are base64-encoded 16-bit little-endian PCM,
// mono, 24 kHz. Control frames (commit, interrupt, end_session) carry no
// payload. Ping/pong frames carry millisecond timestamps used for round-trip
// latency measurement.
package wire

import (
	"encoding/json"
	"fmt"
)

// FrameType identifies the kind of message carried by a [Frame].
type FrameType string

const (
	// FrameAudio carries a base64 PCM16 chunk. Flows in both directions.
	FrameAudio FrameType = "audio"

	// FrameCommit tells the backend to flush buffered input audio and start
	// turn-taking. Client to server only, no payload.
	FrameCommit FrameType = "commit"

	// FrameInterrupt signals barge-in: the backend must abandon the in-flight
	// response. Client to server only, no payload.
	FrameInterrupt FrameType = "interrupt"

	// FrameEndSession is the terminal client-to-server signal.
	FrameEndSession FrameType = "end_session"

	// FrameTranscript carries a finalised transcript line from the backend.
	FrameTranscript FrameType = "transcript"

	// FramePing and FramePong carry latency-measurement timestamps.
	FramePing FrameType = "ping"
	FramePong FrameType = "pong"

	// FrameError carries a server-side error description. The payload may be
	// a bare string or an object with a "message" field; [ErrorPayload]
	// accepts both.
	FrameError FrameType = "error"
)

// IsValid reports whether t is a recognised frame type.
func (t FrameType) IsValid() bool {
	switch t {
	case FrameAudio, FrameCommit, FrameInterrupt, FrameEndSession,
		FrameTranscript, FramePing, FramePong, FrameError:
		return true
	}
	return false
}

// Frame is the wire representation of a single realtime message. Unused
// fields are omitted from the JSON encoding.
type Frame struct {
	Type FrameType `json:"type"`

	// Audio is base64 PCM16 mono at 24 kHz. Set for FrameAudio.
	Audio string `json:"audio,omitempty"`

	// Speaker and Text are set for FrameTranscript.
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text,omitempty"`

	// ClientSentAt and ServerReceivedAt are Unix-millisecond timestamps set
	// on FramePing/FramePong. The server echoes ClientSentAt back unchanged
	// so the client can compute the round trip from its own clock.
	ClientSentAt     int64 `json:"client_sent_at,omitempty"`
	ServerReceivedAt int64 `json:"server_received_at,omitempty"`

	// Error is set for FrameError.
	Error *ErrorPayload `json:"error,omitempty"`
}

// ErrorPayload is the body of a FrameError. The backend emits either a bare
// JSON string or an object {"message": "..."}; both decode into Message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// UnmarshalJSON accepts both the string and the object form.
func (e *ErrorPayload) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Message = s
		return nil
	}

	type payload ErrorPayload
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("wire: error payload: %w", err)
	}
	*e = ErrorPayload(p)
	return nil
}

// MarshalJSON always emits the object form.
func (e ErrorPayload) MarshalJSON() ([]byte, error) {
	type payload ErrorPayload
	return json.Marshal(payload(e))
}

// Encode marshals f for transmission.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// Decode parses a received message. It returns an error for invalid JSON or
// an unrecognised frame type; callers are expected to log and drop such
// frames rather than fail the session.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("wire: decode frame: %w", err)
	}
	if !f.Type.IsValid() {
		return Frame{}, fmt.Errorf("wire: unknown frame type %q", f.Type)
	}
	return f, nil
}
