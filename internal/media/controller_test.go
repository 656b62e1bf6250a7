package media

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flagEncoder marks each frame with a single byte: 1 when any sample is
// audible, 0 for silence.
type flagEncoder struct{}

func (flagEncoder) Encode(pcm []int16) ([]byte, error) {
	for _, s := range pcm {
		if s != 0 {
			return []byte{1}, nil
		}
	}
	return []byte{0}, nil
}

type recordingWriter struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (w *recordingWriter) WriteSample(s media.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, s)
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

func (w *recordingWriter) take() []media.Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.samples
	w.samples = nil
	return out
}

type closableSource struct {
	mu     sync.Mutex
	closed int
}

func (s *closableSource) ReadFrame(dst []int16) error {
	for i := range dst {
		dst[i] = 1
	}
	return nil
}

func (s *closableSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *closableSource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestControllerStartsMuted(t *testing.T) {
	c := NewController(&closableSource{})
	w := &recordingWriter{}
	c.startWithPipeline(flagEncoder{}, w)
	defer c.Stop()

	assert.True(t, c.Muted())

	require.Eventually(t, func() bool { return w.count() >= 3 },
		2*time.Second, 10*time.Millisecond, "pump should keep frames flowing while muted")
	for _, s := range w.take() {
		require.Equal(t, []byte{0}, s.Data, "muted frames must encode silence")
		assert.Equal(t, FrameMillis*time.Millisecond, s.Duration)
	}
}

func TestToggleMuteSwitchesToAudible(t *testing.T) {
	c := NewController(&closableSource{})
	w := &recordingWriter{}
	c.startWithPipeline(flagEncoder{}, w)
	defer c.Stop()

	nowMuted := c.ToggleMute()
	assert.False(t, nowMuted)

	require.Eventually(t, func() bool {
		for _, s := range w.take() {
			if len(s.Data) == 1 && s.Data[0] == 1 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "unmuted frames should carry source audio")

	nowMuted = c.ToggleMute()
	assert.True(t, nowMuted)
	assert.True(t, c.Muted())
}

func TestToggleMuteBeforeStartIsNoop(t *testing.T) {
	c := NewController(&closableSource{})

	assert.True(t, c.ToggleMute(), "toggling without capture stays muted")
	assert.True(t, c.Muted())
	assert.Nil(t, c.Track())
}

func TestStopHaltsPumpAndClosesSource(t *testing.T) {
	source := &closableSource{}
	c := NewController(source)
	w := &recordingWriter{}
	c.startWithPipeline(flagEncoder{}, w)

	require.Eventually(t, func() bool { return w.count() >= 1 },
		2*time.Second, 10*time.Millisecond)

	c.Stop()
	c.Stop() // idempotent
	assert.Equal(t, 1, source.closeCount())

	// Allow one in-flight frame, then expect the flow to stop.
	time.Sleep(2 * FrameMillis * time.Millisecond)
	settled := w.count()
	time.Sleep(4 * FrameMillis * time.Millisecond)
	assert.Equal(t, settled, w.count())
	assert.True(t, c.Muted())
}

func TestToneSourceFillsFrames(t *testing.T) {
	src := NewToneSource()
	defer src.Close()

	frame := make([]int16, FrameSamples)
	require.NoError(t, src.ReadFrame(frame))

	audible := false
	for _, s := range frame {
		if s != 0 {
			audible = true
			break
		}
	}
	assert.True(t, audible)
}
