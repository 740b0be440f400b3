package session

import (
	"context"
	"time"

	"github.com/voxdesk/voxdesk/pkg/wire"
)

// TranscriptEntry is one line of the session transcript. The transcript is
// append-only for the session's lifetime and cleared only when a new session
// starts.
type TranscriptEntry struct {
	ID      int
	Speaker string
	Text    string
}

// Diagnostics holds the counters and gauges surfaced to the console UI.
// All fields reset when a new session starts, except ReconnectAttempts which
// accumulates across retries of the same logical call.
type Diagnostics struct {
	// LatencyMs is the most recent ping/pong round trip.
	LatencyMs int64

	// LastHeartbeatAt is when the most recent pong arrived.
	LastHeartbeatAt time.Time

	// ReconnectAttempts counts explicit restarts after an error.
	ReconnectAttempts int

	// LastErrorAt is when the most recent session-affecting error occurred.
	LastErrorAt time.Time

	// Interruptions counts barge-in events.
	Interruptions int
}

// Source delivers fixed-size blocks of mono float32 samples from a capture
// device. The processing callback runs on the capture cadence and must not
// block.
type Source interface {
	// Start begins capture, invoking onBlock for every sample block.
	Start(onBlock func(block []float32)) error

	// Stop ends capture and releases the device. Idempotent.
	Stop() error
}

// Acquirer obtains a fresh capture source. It stands in for microphone
// acquisition, which can fail (permission denied, device busy) and is
// awaited before the session advances past connecting.
type Acquirer func(ctx context.Context) (Source, error)

// Transport is the duplex realtime connection used by a session.
// [transport.Client] satisfies it; tests substitute fakes.
type Transport interface {
	Send(f wire.Frame) error
	Frames() <-chan wire.Frame
	Err() error
	Close() error
}

// Dialer opens a Transport to a derived realtime address.
type Dialer func(ctx context.Context, url string) (Transport, error)

// Record is the snapshot handed to an [Archiver] when a session ends.
type Record struct {
	SessionID   string
	StartedAt   time.Time
	EndedAt     time.Time
	Transcript  []TranscriptEntry
	Diagnostics Diagnostics
}

// Archiver persists finished sessions. A nil Archiver disables archiving.
type Archiver interface {
	Archive(ctx context.Context, rec Record) error
}
