// Package media owns the local audio capture: a PCM source, the Opus
// encode step and the outgoing track every peer connection shares.
package media

import "math"

// Audio format used end to end: 48 kHz mono, 20 ms frames.
const (
	SampleRate    = 48000
	Channels      = 1
	FrameMillis   = 20
	FrameSamples  = SampleRate * FrameMillis / 1000
	toneFrequency = 440.0
	toneAmplitude = 12000
)

// Source produces the local participant's PCM audio one frame at a time.
type Source interface {
	// ReadFrame fills dst (FrameSamples mono samples) with the next frame.
	ReadFrame(dst []int16) error

	Close() error
}

// ToneSource generates a steady sine tone. It stands in for microphone
// capture on machines without an audio input and in tests.
type ToneSource struct {
	phase float64
}

func NewToneSource() *ToneSource {
	return &ToneSource{}
}

func (s *ToneSource) ReadFrame(dst []int16) error {
	step := 2 * math.Pi * toneFrequency / SampleRate
	for i := range dst {
		dst[i] = int16(toneAmplitude * math.Sin(s.phase))
		s.phase += step
	}
	if s.phase > 2*math.Pi {
		s.phase -= 2 * math.Pi * math.Floor(s.phase/(2*math.Pi))
	}
	return nil
}

func (s *ToneSource) Close() error {
	return nil
}
