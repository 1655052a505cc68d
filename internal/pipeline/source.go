package pipeline

import (
	"math"
	"time"
)

// AudioSource generates synthetic stereo PCM audio: a 440 Hz tone on the
// left (loopback) channel and an 880 Hz tone on the right (microphone)
// channel, both 16-bit signed little-endian at the configured sample
// rate. It stands in for the real device-capture driver, which is out of
// scope (§1 Non-goals / Out of scope).
type AudioSource struct {
	SampleRate int
	leftPhase  float64
	rightPhase float64
}

// NewAudioSource builds a source at the given sample rate.
func NewAudioSource(sampleRate int) *AudioSource {
	return &AudioSource{SampleRate: sampleRate}
}

// FrameDuration is the nominal audio frame size the synthetic capture
// callback must not exceed blocking for (§5: "must never block longer
// than one audio frame (<= 10ms)").
const FrameDuration = 10 * time.Millisecond

// NextFrame fills dst with one frame's worth of 16-bit PCM samples for the
// given channel ("left" or "right"), returning the number of bytes
// written.
func (s *AudioSource) NextFrame(channel string, dst []byte) int {
	samples := s.SampleRate * int(FrameDuration/time.Millisecond) / 1000
	if samples*2 > len(dst) {
		samples = len(dst) / 2
	}

	freq := 440.0
	phase := &s.leftPhase
	if channel == "right" {
		freq = 880.0
		phase = &s.rightPhase
	}

	step := 2 * math.Pi * freq / float64(s.SampleRate)
	for i := 0; i < samples; i++ {
		v := int16(math.Sin(*phase) * 0.8 * math.MaxInt16)
		dst[2*i] = byte(uint16(v))
		dst[2*i+1] = byte(uint16(v) >> 8)
		*phase += step
	}
	return samples * 2
}
