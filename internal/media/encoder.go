package media

import (
	"gopkg.in/hraban/opus.v2"
)

// Encoder converts one PCM frame into an Opus packet.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// OpusEncoder wraps the libopus encoder configured for voice.
type OpusEncoder struct {
	enc *opus.Encoder
	buf []byte
}

func NewOpusEncoder() (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	if err := enc.SetBitrate(32000); err != nil {
		return nil, err
	}
	return &OpusEncoder{enc: enc, buf: make([]byte, 1024)}, nil
}

func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}
