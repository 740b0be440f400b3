// Package mock provides in-memory mock implementations of the [audio.Clock],
// [audio.Player], and [audio.Handle] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. The Player records every scheduled
// buffer so tests can assert on start times and payloads, and each [Buffer]
// lets the test drive natural completion explicitly.
//
// Typical usage:
//
//	clock := &mock.Clock{}
//	player := &mock.Player{}
//	sched := playback.NewScheduler(clock, player, 24000)
//	sched.Schedule(samples)
//	player.Scheduled()[0].Complete()
package mock

import (
	"sync"
	"time"

	"github.com/voxdesk/voxdesk/pkg/audio"
)

// Compile-time interface assertions.
var _ audio.Clock = (*Clock)(nil)
var _ audio.Player = (*Player)(nil)
var _ audio.Handle = (*Buffer)(nil)

// ─── Clock ────────────────────────────────────────────────────────────────────

// Clock is a manually advanced [audio.Clock]. The zero value starts at zero.
type Clock struct {
	mu  sync.Mutex
	now time.Duration
}

// Now returns the current fake clock position.
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

// Set positions the clock at an absolute offset.
func (c *Clock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = d
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player records every scheduled buffer and lets tests drive completion.
type Player struct {
	mu        sync.Mutex
	scheduled []*Buffer
}

// PlayAt implements [audio.Player].
func (p *Player) PlayAt(samples []float32, at time.Duration, onDone func()) audio.Handle {
	b := &Buffer{Samples: samples, At: at, onDone: onDone}
	p.mu.Lock()
	p.scheduled = append(p.scheduled, b)
	p.mu.Unlock()
	return b
}

// Scheduled returns all buffers handed to the player, in schedule order.
func (p *Player) Scheduled() []*Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Buffer, len(p.scheduled))
	copy(out, p.scheduled)
	return out
}

// ─── Buffer ───────────────────────────────────────────────────────────────────

// Buffer is one scheduled playback buffer.
type Buffer struct {
	// Samples is the payload passed to PlayAt.
	Samples []float32

	// At is the scheduled start position on the clock.
	At time.Duration

	mu      sync.Mutex
	stopped bool
	done    bool
	onDone  func()
}

// Stop implements [audio.Handle]. Idempotent, including after completion.
func (b *Buffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
}

// Complete simulates natural completion: it fires the completion callback
// exactly once, unless the buffer was stopped first.
func (b *Buffer) Complete() {
	b.mu.Lock()
	if b.stopped || b.done {
		b.mu.Unlock()
		return
	}
	b.done = true
	cb := b.onDone
	b.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Stopped reports whether Stop has been called.
func (b *Buffer) Stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}
