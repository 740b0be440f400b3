// Package session implements the realtime voice session: capture, voice
// activity detection, commit scheduling, playback, barge-in, and the
// lifecycle state machine that ties them to the transport.
//
// One Session is live per call. It exclusively owns its capture source,
// playback scheduler, and transport; all three are destroyed, never reused,
// when the session ends, and a restart acquires fresh resources.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxdesk/voxdesk/internal/observe"
	"github.com/voxdesk/voxdesk/internal/transport"
	"github.com/voxdesk/voxdesk/pkg/audio"
	"github.com/voxdesk/voxdesk/pkg/audio/playback"
	"github.com/voxdesk/voxdesk/pkg/wire"
)

// DefaultHeartbeatInterval is the ping cadence while a session is live.
const DefaultHeartbeatInterval = 5 * time.Second

// archiveTimeout bounds the call-log write after a session ends.
const archiveTimeout = 10 * time.Second

// Config configures a [Session]. BackendBase, Acquire, and Player are
// required; everything else has a sensible default.
type Config struct {
	// BackendBase is the backend base URL; the realtime address is derived
	// from it per [wire.DeriveURL].
	BackendBase string

	// SampleRate of the capture and playback pipeline. Default 24 kHz.
	SampleRate int

	// VADEnabled and VADThreshold seed the detector; both are adjustable at
	// runtime via [Session.SetVADEnabled] and [Session.SetVADThreshold].
	VADEnabled   bool
	VADThreshold float64

	// CommitDelay and SilenceCommitDelay are the debounce windows for
	// flushing outbound audio. Defaults 300 ms / 120 ms.
	CommitDelay        time.Duration
	SilenceCommitDelay time.Duration

	// HeartbeatInterval is the ping cadence. Default 5 s.
	HeartbeatInterval time.Duration

	// Acquire obtains the capture source on start.
	Acquire Acquirer

	// Clock and Player drive the playback scheduler. Clock defaults to a
	// wall clock.
	Clock  audio.Clock
	Player audio.Player

	// Dial opens the realtime transport. Defaults to [transport.Dial].
	Dial Dialer

	// Archive persists finished sessions. Nil disables archiving.
	Archive Archiver

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Session is the state machine owning one live voice call. All exported
// methods are safe for concurrent use.
type Session struct {
	cfg     Config
	dial    Dialer
	metrics *observe.Metrics

	mu        sync.Mutex
	status    Status
	gen       uint64 // incremented per Start; stale callbacks check it
	sessionID string
	startedAt time.Time
	ending    bool
	counted   bool // true while this session holds an active-sessions slot

	source    Source
	trans     Transport
	playback  *playback.Scheduler
	vad       *audio.Detector
	commit    *commitScheduler
	done      chan struct{} // closed once per session generation by teardown

	transcript  []TranscriptEntry
	nextEntryID int
	diag        Diagnostics
}

// New validates cfg and returns an idle session.
func New(cfg Config) (*Session, error) {
	if cfg.BackendBase == "" {
		return nil, fmt.Errorf("session: backend base URL is required")
	}
	if cfg.Acquire == nil {
		return nil, fmt.Errorf("session: capture acquirer is required")
	}
	if cfg.Player == nil {
		return nil, fmt.Errorf("session: audio player is required")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.VADThreshold <= 0 {
		cfg.VADThreshold = audio.DefaultVADThreshold
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = audio.NewWallClock()
	}

	dial := cfg.Dial
	if dial == nil {
		dial = func(ctx context.Context, url string) (Transport, error) {
			return transport.Dial(ctx, url)
		}
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}

	return &Session{cfg: cfg, dial: dial, metrics: m, status: StatusIdle}, nil
}

// Start brings the session from idle (or error, after full cleanup) to
// listening: it acquires the microphone, dials the realtime transport,
// starts the heartbeat, and wires the capture chain. Calling Start while
// the session is connecting, connected, or listening is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusIdle && s.status != StatusError {
		s.mu.Unlock()
		return nil
	}
	retry := s.status == StatusError
	s.teardownLocked() // clears any leftovers from the error path

	s.gen++
	gen := s.gen
	s.status = StatusConnecting
	s.sessionID = uuid.NewString()
	s.startedAt = time.Now()
	s.ending = false
	s.transcript = nil
	s.nextEntryID = 0
	reconnects := s.diag.ReconnectAttempts
	if retry {
		reconnects++
	}
	s.diag = Diagnostics{ReconnectAttempts: reconnects}
	id := s.sessionID
	s.mu.Unlock()

	slog.Info("session starting", "session_id", id, "retry", retry)

	src, err := s.cfg.Acquire(ctx)
	if err != nil {
		err = fmt.Errorf("session: acquire capture: %w", err)
		s.fail(gen, err)
		return err
	}

	url, err := wire.DeriveURL(s.cfg.BackendBase, id)
	if err != nil {
		_ = src.Stop()
		s.fail(gen, err)
		return err
	}

	tr, err := s.dial(ctx, url)
	if err != nil {
		_ = src.Stop()
		err = fmt.Errorf("session: connect: %w", err)
		s.fail(gen, err)
		return err
	}

	s.mu.Lock()
	if s.gen != gen || s.ending {
		// Ended or restarted while we were dialling; release the freshly
		// acquired resources and bail instead of resurrecting the session.
		s.mu.Unlock()
		_ = src.Stop()
		_ = tr.Close()
		return fmt.Errorf("session: cancelled during start")
	}
	s.source = src
	s.trans = tr
	s.playback = playback.NewScheduler(s.cfg.Clock, s.cfg.Player, s.cfg.SampleRate)
	s.vad = audio.NewDetector(s.cfg.VADThreshold, s.cfg.VADEnabled)
	s.commit = newCommitScheduler(s.cfg.CommitDelay, s.cfg.SilenceCommitDelay,
		func() { s.sendCommit(gen) })
	s.done = make(chan struct{})
	s.status = StatusConnected
	s.counted = true
	s.mu.Unlock()

	s.metrics.AddActiveSessions(ctx, 1)

	go s.dispatchLoop(gen, tr)
	go s.heartbeatLoop(gen, tr)

	if err := src.Start(func(block []float32) { s.onBlock(gen, block) }); err != nil {
		err = fmt.Errorf("session: start capture: %w", err)
		s.fail(gen, err)
		return err
	}

	s.mu.Lock()
	if s.gen == gen && s.status == StatusConnected {
		s.status = StatusListening
	}
	s.mu.Unlock()
	return nil
}

// End terminates the session. If the transport is still open it forces a
// final commit (flushing trailing speech) and sends an end_session frame
// before closing. Cleanup runs regardless of transport state; End on an idle
// session is a no-op.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusIdle {
		s.mu.Unlock()
		return nil
	}
	s.ending = true
	gen := s.gen
	tr := s.trans
	commit := s.commit
	s.mu.Unlock()

	if tr != nil {
		if commit != nil {
			commit.Flush(true)
		}
		if err := tr.Send(wire.Frame{Type: wire.FrameEndSession}); err != nil {
			slog.Debug("session: end_session send failed", "err", err)
		}
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	rec := Record{
		SessionID:   s.sessionID,
		StartedAt:   s.startedAt,
		EndedAt:     time.Now(),
		Transcript:  append([]TranscriptEntry(nil), s.transcript...),
		Diagnostics: s.diag,
	}
	s.teardownLocked()
	s.status = StatusIdle
	s.mu.Unlock()

	slog.Info("session ended", "session_id", rec.SessionID,
		"entries", len(rec.Transcript), "interruptions", rec.Diagnostics.Interruptions)

	if s.cfg.Archive != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()
		if err := s.cfg.Archive.Archive(actx, rec); err != nil {
			slog.Warn("session: archive failed", "session_id", rec.SessionID, "err", err)
		}
	}
	return nil
}

// ── capture path ──────────────────────────────────────────────────────────────

// onBlock is the capture callback: classify, barge in if needed, transmit,
// and (re)arm the commit debounce.
func (s *Session) onBlock(gen uint64, block []float32) {
	s.mu.Lock()
	if s.gen != gen || !s.status.live() {
		s.mu.Unlock()
		return
	}
	tr := s.trans
	pb := s.playback
	vad := s.vad
	commit := s.commit
	s.mu.Unlock()

	event := vad.Process(block)

	// Barge-in: the user speaks while the assistant is still sounding.
	if vad.Enabled() && event.IsSpeech() && pb.Speaking() {
		s.interrupt(gen, tr, pb)
	}

	f := wire.Frame{Type: wire.FrameAudio, Audio: audio.EncodePCM16(block)}
	if err := tr.Send(f); err != nil {
		// Not retried: the receive loop surfaces the transport failure.
		slog.Debug("session: audio send failed", "err", err)
		return
	}

	commit.MarkAudioSent()
	commit.Schedule(event == audio.VADSpeechEnd)
}

// interrupt implements barge-in: stop playback, re-anchor the clock, tell
// the backend to abandon the in-flight response, and count the event.
func (s *Session) interrupt(gen uint64, tr Transport, pb *playback.Scheduler) {
	stopped := pb.StopAll()
	if stopped == 0 {
		return
	}

	if err := tr.Send(wire.Frame{Type: wire.FrameInterrupt}); err != nil {
		slog.Debug("session: interrupt send failed", "err", err)
	}

	s.mu.Lock()
	if s.gen == gen {
		s.diag.Interruptions++
	}
	id := s.sessionID
	s.mu.Unlock()

	s.metrics.RecordInterruption(context.Background())
	slog.Info("barge-in: stopped assistant playback",
		"session_id", id, "buffers", stopped)
}

// sendCommit is the commit scheduler's callback.
func (s *Session) sendCommit(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.trans == nil {
		s.mu.Unlock()
		return
	}
	tr := s.trans
	s.mu.Unlock()

	if err := tr.Send(wire.Frame{Type: wire.FrameCommit}); err != nil {
		slog.Debug("session: commit send failed", "err", err)
		return
	}
	s.metrics.RecordCommit(context.Background())
}

// ── receive path ──────────────────────────────────────────────────────────────

// dispatchLoop consumes inbound frames until the transport ends, then
// resolves the closure into a state transition: clean close goes to idle,
// failure goes to error. Both are suppressed while a user-initiated End is
// already tearing down.
func (s *Session) dispatchLoop(gen uint64, tr Transport) {
	for f := range tr.Frames() {
		s.handleFrame(gen, f)
	}

	s.mu.Lock()
	stale := s.gen != gen || s.ending
	s.mu.Unlock()
	if stale {
		return
	}

	if err := tr.Err(); err != nil {
		s.fail(gen, fmt.Errorf("session: transport: %w", err))
		return
	}

	// Clean close from the far side: full cleanup, back to idle. A session
	// already in the error state keeps it until the user retries.
	s.mu.Lock()
	if s.gen == gen && s.status != StatusIdle && s.status != StatusError {
		s.teardownLocked()
		s.status = StatusIdle
	}
	s.mu.Unlock()
	slog.Info("session closed by server")
}

// handleFrame dispatches one inbound frame by type.
func (s *Session) handleFrame(gen uint64, f wire.Frame) {
	switch f.Type {
	case wire.FrameAudio:
		samples, err := audio.DecodePCM16(f.Audio)
		if err != nil {
			slog.Warn("session: dropping undecodable audio frame", "err", err)
			return
		}
		s.mu.Lock()
		pb := s.playback
		live := s.gen == gen && s.status.live()
		s.mu.Unlock()
		if live {
			pb.Schedule(samples)
		}

	case wire.FrameTranscript:
		s.mu.Lock()
		if s.gen == gen {
			s.appendTranscriptLocked(f.Speaker, f.Text)
		}
		s.mu.Unlock()

	case wire.FramePong:
		now := time.Now()
		rtt := now.UnixMilli() - f.ClientSentAt
		s.mu.Lock()
		if s.gen == gen {
			s.diag.LatencyMs = rtt
			s.diag.LastHeartbeatAt = now
		}
		s.mu.Unlock()
		s.metrics.RecordHeartbeatRTT(context.Background(), time.Duration(rtt)*time.Millisecond)

	case wire.FramePing:
		s.mu.Lock()
		tr := s.trans
		s.mu.Unlock()
		if tr != nil {
			_ = tr.Send(wire.Frame{
				Type:             wire.FramePong,
				ClientSentAt:     f.ClientSentAt,
				ServerReceivedAt: time.Now().UnixMilli(),
			})
		}

	case wire.FrameError:
		msg := "backend error"
		if f.Error != nil && f.Error.Message != "" {
			msg = f.Error.Message
		}
		s.mu.Lock()
		if s.gen == gen {
			s.diag.LastErrorAt = time.Now()
			s.appendTranscriptLocked("system", msg)
		}
		s.mu.Unlock()
		// A server error frame does not terminate the session.
		slog.Warn("session: backend reported error", "message", msg)

	default:
		slog.Debug("session: dropping unexpected frame", "type", f.Type)
	}
}

// heartbeatLoop sends a ping on a fixed interval until teardown.
func (s *Session) heartbeatLoop(gen uint64, tr Transport) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return
	}

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			f := wire.Frame{Type: wire.FramePing, ClientSentAt: time.Now().UnixMilli()}
			if err := tr.Send(f); err != nil {
				// The receive loop observes the broken transport and
				// drives the state transition.
				return
			}
		}
	}
}

// ── failure and teardown ──────────────────────────────────────────────────────

// fail moves the session to error, records diagnostics, appends a system
// transcript line, and releases all resources. Later Start calls perform
// cleanup-then-retry.
func (s *Session) fail(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen || s.status == StatusIdle || s.status == StatusError {
		s.mu.Unlock()
		return
	}
	s.diag.LastErrorAt = time.Now()
	s.appendTranscriptLocked("system", "session error: "+err.Error())
	s.teardownLocked()
	s.status = StatusError
	id := s.sessionID
	s.mu.Unlock()

	s.metrics.RecordSessionError(context.Background())
	slog.Error("session failed", "session_id", id, "err", err)
}

// teardownLocked releases every session-scoped resource. Invoked from every
// exit path; repeated calls are safe no-ops. Must be called with s.mu held.
func (s *Session) teardownLocked() {
	if s.commit != nil {
		s.commit.Stop()
		s.commit = nil
	}
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.source != nil {
		_ = s.source.Stop()
		s.source = nil
	}
	if s.playback != nil {
		s.playback.StopAll()
		s.playback = nil
	}
	if s.trans != nil {
		_ = s.trans.Close()
		s.trans = nil
	}
	if s.counted {
		s.counted = false
		s.metrics.AddActiveSessions(context.Background(), -1)
	}
}

// appendTranscriptLocked appends one transcript line. Must hold s.mu.
func (s *Session) appendTranscriptLocked(speaker, text string) {
	s.nextEntryID++
	s.transcript = append(s.transcript, TranscriptEntry{
		ID:      s.nextEntryID,
		Speaker: speaker,
		Text:    text,
	})
}

// ── accessors ─────────────────────────────────────────────────────────────────

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ID returns the client-generated session identifier, empty before the
// first Start.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Transcript returns a copy of the transcript so far.
func (s *Session) Transcript() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TranscriptEntry(nil), s.transcript...)
}

// Diagnostics returns a snapshot of the session counters.
func (s *Session) Diagnostics() Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diag
}

// SetVADEnabled toggles voice activity detection at runtime.
func (s *Session) SetVADEnabled(enabled bool) {
	s.mu.Lock()
	s.cfg.VADEnabled = enabled
	vad := s.vad
	s.mu.Unlock()
	if vad != nil {
		vad.SetEnabled(enabled)
	}
}

// SetVADThreshold adjusts the RMS speech threshold at runtime.
func (s *Session) SetVADThreshold(threshold float64) {
	s.mu.Lock()
	if threshold > 0 {
		s.cfg.VADThreshold = threshold
	}
	vad := s.vad
	s.mu.Unlock()
	if vad != nil {
		vad.SetThreshold(threshold)
	}
}
