package media

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// sampleWriter is the sink the pump writes encoded frames to; satisfied by
// *webrtc.TrackLocalStaticSample.
type sampleWriter interface {
	WriteSample(media.Sample) error
}

// Controller owns the local audio capture for one room session: exactly
// one source, one encoder and one outgoing track, shared read-only by
// every peer connection. Sessions start muted; muting keeps the track
// attached and substitutes silence, so no renegotiation ever happens.
type Controller struct {
	source Source

	mu       sync.Mutex
	started  bool
	enabled  bool
	track    *webrtc.TrackLocalStaticSample
	writer   sampleWriter
	encoder  Encoder
	stop     chan struct{}
	stopOnce sync.Once
}

func NewController(source Source) *Controller {
	return &Controller{
		source: source,
		stop:   make(chan struct{}),
	}
}

// Start acquires the encoder and outgoing track and begins pumping
// frames. The controller starts muted regardless of the source. On error
// the session proceeds without local audio.
func (c *Controller) Start() error {
	encoder, err := NewOpusEncoder()
	if err != nil {
		return err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: SampleRate,
			Channels:  Channels,
		},
		"audio",
		"lingo-connect",
	)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.encoder = encoder
	c.track = track
	c.writer = track
	c.started = true
	c.mu.Unlock()

	go c.pump()
	return nil
}

// startWithPipeline is the test seam: inject encoder and sink directly.
func (c *Controller) startWithPipeline(encoder Encoder, writer sampleWriter) {
	c.mu.Lock()
	c.encoder = encoder
	c.writer = writer
	c.started = true
	c.mu.Unlock()

	go c.pump()
}

// pump reads, encodes and writes one frame per tick. Muted sessions write
// encoded silence to keep timestamps flowing.
func (c *Controller) pump() {
	ticker := time.NewTicker(FrameMillis * time.Millisecond)
	defer ticker.Stop()

	frame := make([]int16, FrameSamples)
	silence := make([]int16, FrameSamples)

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		pcm := silence
		if c.Unmuted() {
			if err := c.source.ReadFrame(frame); err != nil {
				slog.Warn("audio source read failed", "err", err)
				continue
			}
			pcm = frame
		}

		c.mu.Lock()
		encoder, writer := c.encoder, c.writer
		c.mu.Unlock()

		data, err := encoder.Encode(pcm)
		if err != nil {
			slog.Warn("opus encode failed", "err", err)
			continue
		}
		if err := writer.WriteSample(media.Sample{
			Data:     data,
			Duration: FrameMillis * time.Millisecond,
		}); err != nil {
			slog.Debug("sample write failed", "err", err)
		}
	}
}

// Track returns the shared outgoing track, or nil when capture never
// started.
func (c *Controller) Track() webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track == nil {
		return nil
	}
	return c.track
}

// ToggleMute flips the enabled flag in place. No-op when capture never
// started or was stopped; reports whether the session is now muted.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return true
	}
	c.enabled = !c.enabled
	return !c.enabled
}

// Muted reports whether outgoing audio is currently silenced.
func (c *Controller) Muted() bool {
	return !c.Unmuted()
}

// Unmuted reports whether audible frames are flowing.
func (c *Controller) Unmuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && c.enabled
}

// Stop halts the pump and releases the source. Part of the unconditional
// session cleanup batch; safe to call more than once.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)

		c.mu.Lock()
		c.started = false
		c.enabled = false
		c.mu.Unlock()

		if err := c.source.Close(); err != nil {
			slog.Warn("audio source close failed", "err", err)
		}
	})
}
