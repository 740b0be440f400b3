package audio

import (
	"math"
	"sync"
)

// DefaultVADThreshold is the default RMS energy above which a block is
// classified as speech. Lower values increase sensitivity (more false
// positives from background noise); higher values miss quiet speech.
const DefaultVADThreshold = 0.005

// VADEvent is the classification of a single captured block, including the
// transition edges a consumer needs for turn-taking decisions.
type VADEvent int

const (
	// VADSilence indicates no speech in this block and none in the previous.
	VADSilence VADEvent = iota

	// VADSpeechStart indicates speech began with this block.
	VADSpeechStart

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue

	// VADSpeechEnd indicates the previous block was speech and this one is not.
	VADSpeechEnd
)

// IsSpeech reports whether the event classifies the current block as speech.
func (e VADEvent) IsSpeech() bool {
	return e == VADSpeechStart || e == VADSpeechContinue
}

// RMS computes the root-mean-square energy of a sample block. An empty block
// has zero energy.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// IsSpeech classifies an energy value against a threshold.
func IsSpeech(rms, threshold float64) bool {
	return rms >= threshold
}

// Detector is a stateful per-stream voice activity detector. It classifies
// each block by RMS energy and tracks speech/silence transitions.
//
// When disabled, every block is classified as speech (continuing, never
// ending), which switches off all silence-driven behaviour downstream.
//
// All methods are safe for concurrent use; threshold and enabled are
// adjustable while a session is live.
type Detector struct {
	mu        sync.Mutex
	threshold float64
	enabled   bool
	speaking  bool
}

// NewDetector creates a detector with the given threshold. A non-positive
// threshold falls back to [DefaultVADThreshold].
func NewDetector(threshold float64, enabled bool) *Detector {
	if threshold <= 0 {
		threshold = DefaultVADThreshold
	}
	return &Detector{threshold: threshold, enabled: enabled}
}

// Process classifies one captured block and advances the transition state.
func (d *Detector) Process(block []float32) VADEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	speech := true
	if d.enabled {
		speech = IsSpeech(RMS(block), d.threshold)
	}

	was := d.speaking
	d.speaking = speech

	switch {
	case speech && !was:
		return VADSpeechStart
	case speech && was:
		return VADSpeechContinue
	case !speech && was:
		return VADSpeechEnd
	default:
		return VADSilence
	}
}

// Reset clears the transition state without changing configuration. Call
// when the capture stream restarts so a stale speaking flag from the
// previous stream cannot produce a phantom speech-end edge.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speaking = false
}

// SetThreshold updates the RMS speech threshold at runtime. Non-positive
// values are ignored.
func (d *Detector) SetThreshold(t float64) {
	if t <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threshold = t
}

// SetEnabled switches detection on or off at runtime.
func (d *Detector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Threshold returns the current RMS speech threshold.
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// Enabled reports whether detection is active.
func (d *Detector) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}
