package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"

	"github.com/cbegin/notefall-go/internal/clock"
)

// SampleSource renders interleaved stereo float32 frames into dst.
type SampleSource interface {
	Process(dst []float32)
}

// StreamReader adapts a SampleSource to the little-endian float32 PCM stream
// ebiten's audio player reads.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
	frames int64
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i, v := range r.buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	r.frames += int64(frames)
	return frames * 8, nil
}

// Frames returns the number of stereo frames handed to the player so far.
func (r *StreamReader) Frames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *StreamReader) Close() error { return nil }

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// Output plays a SampleSource on the shared ebiten audio context. Its playback
// position is the hardware audio clock: the time of the sample the listener
// is hearing, counted from the start of the stream.
type Output struct {
	player *ebitaudio.Player
	reader *StreamReader
	closed bool
}

type OutputOption func(*ebitaudio.Player)

// WithBufferSize sets the player's buffer, trading latency for robustness.
func WithBufferSize(d time.Duration) OutputOption {
	return func(p *ebitaudio.Player) {
		if d > 0 {
			p.SetBufferSize(d)
		}
	}
}

func NewOutput(sampleRate int, source SampleSource, opts ...OutputOption) (*Output, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, fmt.Errorf("audio player: %w", err)
	}
	for _, opt := range opts {
		opt(pl)
	}
	return &Output{player: pl, reader: reader}, nil
}

// CurrentTime returns the audible position in seconds.
func (o *Output) CurrentTime() float64 {
	return o.player.Position().Seconds()
}

// Resume starts or continues the stream. The stream is never paused by the
// session; song pauses are handled by the playback clock.
func (o *Output) Resume() error {
	if o.closed {
		return fmt.Errorf("audio output closed")
	}
	o.player.Play()
	return nil
}

func (o *Output) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("audio player close: %w", err)
	}
	return o.reader.Close()
}

// Factory returns a clock.Factory that opens an Output for source on first
// use.
func Factory(sampleRate int, source SampleSource, opts ...OutputOption) clock.Factory {
	return func() (clock.HardwareClock, error) {
		out, err := NewOutput(sampleRate, source, opts...)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}
