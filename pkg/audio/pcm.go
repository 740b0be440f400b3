// Package audio provides the sample-level building blocks of the voice
// pipeline: the PCM16/base64 wire codec, RMS-based voice activity detection,
// and the clock abstraction the playback scheduler runs against.
//
// The pipeline works on blocks of mono float32 samples in [-1, 1]. The wire
// representation is base64-encoded 16-bit little-endian PCM at
// [DefaultSampleRate].
package audio

import (
	"encoding/base64"
	"fmt"
	"time"
)

// DefaultSampleRate is the negotiated sample rate of the realtime wire
// protocol, in Hz.
const DefaultSampleRate = 24000

// bytesPerSample is the width of one PCM16 sample on the wire.
const bytesPerSample = 2

// EncodePCM16 converts float samples to base64 16-bit little-endian PCM.
// Samples outside [-1, 1] are clamped before quantisation so that overdriven
// input distorts instead of wrapping around.
func EncodePCM16(samples []float32) string {
	pcm := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodePCM16 converts base64 16-bit little-endian PCM back to float samples.
// It returns an error for malformed base64 or an odd byte count rather than
// silently producing garbage audio.
func DecodePCM16(encoded string) ([]float32, error) {
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("audio: decode pcm16: %w", err)
	}
	if len(pcm)%bytesPerSample != 0 {
		return nil, fmt.Errorf("audio: decode pcm16: odd byte count %d", len(pcm))
	}

	samples := make([]float32, len(pcm)/bytesPerSample)
	for i := range samples {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		samples[i] = float32(v) / 32768
	}
	return samples, nil
}

// Duration returns the playback duration of n mono samples at the given
// sample rate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
