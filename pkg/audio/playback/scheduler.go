// Package playback schedules synthesised speech buffers back-to-back on a
// shared audio clock.
//
// Chunks arrive as discrete network messages at unpredictable intervals; the
// scheduler anchors each one no earlier than the end of the previous one, so
// consecutive chunks concatenate gaplessly and never overlap. The set of
// in-flight buffers doubles as the "assistant is speaking" signal used for
// barge-in decisions.
package playback

import (
	"sync"
	"time"

	"github.com/voxdesk/voxdesk/pkg/audio"
)

// Scheduler owns the playback cursor for one voice session. All methods are
// safe for concurrent use.
type Scheduler struct {
	clock      audio.Clock
	player     audio.Player
	sampleRate int

	mu     sync.Mutex
	next   time.Duration // clock position where the next buffer may start
	seq    uint64
	active map[uint64]audio.Handle
}

// NewScheduler creates a scheduler over the given clock and player. A
// non-positive sampleRate falls back to [audio.DefaultSampleRate].
func NewScheduler(clock audio.Clock, player audio.Player, sampleRate int) *Scheduler {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &Scheduler{
		clock:      clock,
		player:     player,
		sampleRate: sampleRate,
		active:     make(map[uint64]audio.Handle),
	}
}

// Schedule queues one decoded chunk for playback and returns its start
// position on the clock.
//
// The start is max(cursor, now): back-to-back chunks land exactly at the end
// of their predecessor, while a chunk arriving after a long gap re-anchors to
// the current clock instead of "catching up" with an inaudible burst.
func (s *Scheduler) Schedule(samples []float32) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.next
	if now := s.clock.Now(); start < now {
		start = now
	}
	s.next = start + audio.Duration(len(samples), s.sampleRate)

	s.seq++
	id := s.seq
	s.active[id] = s.player.PlayAt(samples, start, func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
	})
	return start
}

// Speaking reports whether any buffer is still in flight.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) > 0
}

// ActiveCount returns the number of in-flight buffers.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// StopAll stops every in-flight buffer, clears the active set, and re-anchors
// the cursor to the current clock position. It returns the number of buffers
// stopped. Buffers that already completed naturally are skipped by their own
// idempotent Stop.
func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	stopped := make([]audio.Handle, 0, len(s.active))
	for id, h := range s.active {
		stopped = append(stopped, h)
		delete(s.active, id)
	}
	s.next = s.clock.Now()
	s.mu.Unlock()

	for _, h := range stopped {
		h.Stop()
	}
	return len(stopped)
}
