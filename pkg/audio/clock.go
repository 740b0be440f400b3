package audio

import (
	"sync"
	"time"
)

// Clock exposes the audio output clock as a monotonically increasing offset
// from an arbitrary epoch. The playback scheduler anchors every buffer
// against this clock, so injecting a fake Clock makes the gapless
// concatenation logic testable without an audio device.
type Clock interface {
	// Now returns the current clock position.
	Now() time.Duration
}

// Handle refers to one in-flight playback buffer. Stop is idempotent:
// stopping a buffer that already finished naturally is a safe no-op.
type Handle interface {
	Stop()
}

// Player schedules sample buffers for output at absolute clock times.
// Implementations must invoke onDone exactly once when the buffer completes
// naturally, and must suppress onDone for buffers that were stopped.
type Player interface {
	// PlayAt schedules samples to begin sounding at the given clock position.
	PlayAt(samples []float32, at time.Duration, onDone func()) Handle
}

// WallClock is a [Clock] driven by the process monotonic clock, anchored at
// construction time. It stands in for a hardware audio clock when the output
// device does not expose one.
type WallClock struct {
	start time.Time
}

// NewWallClock returns a WallClock anchored at the current instant.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

// Now returns the elapsed time since construction.
func (c *WallClock) Now() time.Duration {
	return time.Since(c.start)
}

// TimerPlayer is a [Player] that realises scheduling with [time.AfterFunc]
// against a [WallClock] and hands finished buffers to an output callback.
// It is suitable for driving a byte-stream output (a speaker subprocess, a
// file) where the device itself keeps no schedule.
type TimerPlayer struct {
	clock      Clock
	sampleRate int
	output     func(samples []float32)

	mu sync.Mutex
}

// NewTimerPlayer creates a TimerPlayer that emits each scheduled buffer to
// output when its start time arrives. output is called from timer goroutines
// and must be safe for concurrent use.
func NewTimerPlayer(clock Clock, sampleRate int, output func(samples []float32)) *TimerPlayer {
	return &TimerPlayer{clock: clock, sampleRate: sampleRate, output: output}
}

// PlayAt implements [Player]. The buffer is emitted when the clock reaches
// at; onDone fires after the buffer's nominal duration has elapsed.
func (p *TimerPlayer) PlayAt(samples []float32, at time.Duration, onDone func()) Handle {
	h := &timerHandle{}

	delay := at - p.clock.Now()
	if delay < 0 {
		delay = 0
	}
	dur := Duration(len(samples), p.sampleRate)

	h.startTimer = time.AfterFunc(delay, func() {
		h.mu.Lock()
		if h.stopped {
			h.mu.Unlock()
			return
		}
		h.mu.Unlock()

		p.mu.Lock()
		p.output(samples)
		p.mu.Unlock()

		h.mu.Lock()
		if h.stopped {
			// Stopped while the buffer was being emitted; no completion.
			h.mu.Unlock()
			return
		}
		h.doneTimer = time.AfterFunc(dur, func() {
			h.mu.Lock()
			stopped := h.stopped
			h.mu.Unlock()
			if !stopped && onDone != nil {
				onDone()
			}
		})
		h.mu.Unlock()
	})
	return h
}

// timerHandle implements [Handle] for TimerPlayer buffers.
type timerHandle struct {
	mu         sync.Mutex
	stopped    bool
	startTimer *time.Timer
	doneTimer  *time.Timer
}

// Stop cancels the buffer. Safe to call after natural completion.
func (h *timerHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return
	}
	h.stopped = true
	if h.startTimer != nil {
		h.startTimer.Stop()
	}
	if h.doneTimer != nil {
		h.doneTimer.Stop()
	}
}
