package session

import (
	"sync"
	"time"
)

// Default commit debounce delays. The normal delay batches frames during
// continuous speech; the fast delay reacts to an end-of-utterance edge so
// the backend's turn-taking sees the flush with low latency.
const (
	DefaultCommitDelay        = 300 * time.Millisecond
	DefaultSilenceCommitDelay = 120 * time.Millisecond
)

// commitScheduler debounces the flush of uncommitted outbound audio.
//
// At most one timer is outstanding: each Schedule call cancels and replaces
// the previous one (debounce, not queue). The commit callback fires only when
// uncommitted audio is pending, except for a forced flush which fires
// unconditionally to push trailing speech out on session end.
type commitScheduler struct {
	normal time.Duration
	fast   time.Duration
	commit func()

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	stopped bool
}

func newCommitScheduler(normal, fast time.Duration, commit func()) *commitScheduler {
	if normal <= 0 {
		normal = DefaultCommitDelay
	}
	if fast <= 0 {
		fast = DefaultSilenceCommitDelay
	}
	return &commitScheduler{normal: normal, fast: fast, commit: commit}
}

// MarkAudioSent records that a frame went upstream since the last commit.
func (c *commitScheduler) MarkAudioSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = true
}

// Schedule arms the debounce timer, replacing any outstanding one. A
// speech-to-silence edge selects the fast delay; anything else the normal
// delay.
func (c *commitScheduler) Schedule(silenceEdge bool) {
	delay := c.normal
	if silenceEdge {
		delay = c.fast
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, c.fire)
}

// fire runs when the debounce timer elapses.
func (c *commitScheduler) fire() {
	c.mu.Lock()
	if c.stopped || !c.pending {
		c.mu.Unlock()
		return
	}
	c.pending = false
	c.mu.Unlock()

	c.commit()
}

// Flush commits immediately, cancelling any outstanding timer. Without
// pending audio it is a no-op unless force is set.
func (c *commitScheduler) Flush(force bool) {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	fire := c.pending || force
	c.pending = false
	stopped := c.stopped
	c.mu.Unlock()

	if fire && !stopped {
		c.commit()
	}
}

// Stop cancels any outstanding timer and prevents further commits.
// Idempotent.
func (c *commitScheduler) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.stopped = true
}
