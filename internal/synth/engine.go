package synth

import (
	"bytes"
	"container/heap"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/cbegin/notefall-go/internal/scheduler"
)

var (
	ErrNotReady   = errors.New("synth: no soundfont loaded")
	ErrPitchRange = errors.New("synth: pitch out of range")
)

// Synthesizer is the subset of *meltysynth.Synthesizer the engine drives.
type Synthesizer interface {
	NoteOn(channel, key, velocity int32)
	NoteOff(channel, key int32)
	NoteOffAll(immediate bool)
	Render(left, right []float32)
}

// Channels used for triggered notes, skipping the GM percussion channel.
// Rotating keeps an early note-off from releasing a later note on the same
// key.
var melodicChannels = [...]int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 10, 11, 12, 13, 14, 15}

type Option func(*Engine)

func WithSynthesizer(s Synthesizer) Option {
	return func(e *Engine) {
		e.synth = s
	}
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine is a sample engine that plays scheduled notes through a SoundFont
// synthesizer. Its clock is the number of frames rendered: a note triggered
// at t seconds starts exactly at frame t*sampleRate of the output. Process
// is called from the audio goroutine; every other method may be called from
// any goroutine.
type Engine struct {
	mu         sync.Mutex
	sampleRate int
	synth      Synthesizer
	logger     *log.Logger

	pos     int64 // frames rendered
	queue   eventQueue
	seq     uint64
	nextID  uint64
	voices  map[uint64]voice
	channel int

	volume   float32
	gain     float64
	target   float64
	gainStep float64

	left, right []float32
}

type voice struct {
	channel, key int32
}

func New(sampleRate int, opts ...Option) *Engine {
	e := &Engine{
		sampleRate: sampleRate,
		logger:     log.New(io.Discard),
		voices:     make(map[uint64]voice),
		volume:     1,
		gain:       1,
		target:     1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadSoundFont parses an SF2 stream and replaces the synthesizer. Pending
// and sounding notes are dropped.
func (e *Engine) LoadSoundFont(r io.Reader) error {
	sf, err := meltysynth.NewSoundFont(r)
	if err != nil {
		return fmt.Errorf("soundfont: %w", err)
	}
	settings := meltysynth.NewSynthesizerSettings(int32(e.sampleRate))
	s, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return fmt.Errorf("synthesizer: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.synth = s
	e.queue = e.queue[:0]
	clear(e.voices)
	e.logger.Debug("soundfont loaded", "sample_rate", e.sampleRate)
	return nil
}

func (e *Engine) LoadSoundFontFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read soundfont: %w", err)
	}
	return e.LoadSoundFont(bytes.NewReader(data))
}

func (e *Engine) SampleRate() int { return e.sampleRate }

// Ready reports whether a synthesizer is loaded.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.synth != nil
}

// CurrentTime returns the engine time in seconds: frames rendered divided by
// the sample rate.
func (e *Engine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return float64(e.pos) / float64(e.sampleRate)
}

// Trigger queues a note at engine time at, held for duration seconds. Notes in
// the past start at the next rendered frame.
func (e *Engine) Trigger(pitch, velocity int, at, duration float64) (scheduler.StopHandle, error) {
	if pitch < 0 || pitch > 127 {
		return nil, fmt.Errorf("%w: %d", ErrPitchRange, pitch)
	}
	velocity = min(max(velocity, 1), 127)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.synth == nil {
		return nil, ErrNotReady
	}
	on := max(e.toFrame(at), e.pos)
	off := on + max(e.toFrame(duration), 1)

	e.nextID++
	id := e.nextID
	ch := melodicChannels[e.channel%len(melodicChannels)]
	e.channel++
	e.push(event{frame: on, id: id, on: true, channel: ch, key: int32(pitch), velocity: int32(velocity)})
	e.push(event{frame: off, id: id, channel: ch, key: int32(pitch)})
	return &handle{engine: e, id: id}, nil
}

// StopAll drops every queued note and releases every sounding voice.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = e.queue[:0]
	clear(e.voices)
	if e.synth != nil {
		e.synth.NoteOffAll(false)
	}
}

// RampGain moves the output gain linearly to target over seconds.
func (e *Engine) RampGain(target, seconds float64) {
	target = math.Max(0, math.Min(1, target))
	e.mu.Lock()
	defer e.mu.Unlock()
	e.target = target
	frames := seconds * float64(e.sampleRate)
	if frames < 1 {
		e.gain = target
		e.gainStep = 0
		return
	}
	e.gainStep = (target - e.gain) / frames
}

func (e *Engine) Gain() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gain
}

// SetVolume sets the master volume, clamped to [0,1].
func (e *Engine) SetVolume(v float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = min(max(v, 0), 1)
}

func (e *Engine) Volume() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Pending returns the number of queued note-on and note-off events.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Process renders interleaved stereo frames into dst, splitting the block at
// every queued event so each note starts on its exact frame.
func (e *Engine) Process(dst []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	frames := len(dst) / 2
	if e.synth == nil {
		clear(dst)
		e.pos += int64(frames)
		return
	}
	if cap(e.left) < frames {
		e.left = make([]float32, frames)
		e.right = make([]float32, frames)
	}
	done := 0
	for done < frames {
		e.dispatchDue()
		chunk := frames - done
		if len(e.queue) > 0 {
			if until := int(e.queue[0].frame - e.pos); until < chunk {
				chunk = until
			}
		}
		left, right := e.left[:chunk], e.right[:chunk]
		e.synth.Render(left, right)
		out := dst[done*2:]
		for i := 0; i < chunk; i++ {
			g := float32(e.gain) * e.volume
			out[i*2] = left[i] * g
			out[i*2+1] = right[i] * g
			e.stepGain()
		}
		done += chunk
		e.pos += int64(chunk)
	}
}

func (e *Engine) dispatchDue() {
	for len(e.queue) > 0 && e.queue[0].frame <= e.pos {
		ev := heap.Pop(&e.queue).(event)
		if ev.on {
			e.synth.NoteOn(ev.channel, ev.key, ev.velocity)
			e.voices[ev.id] = voice{channel: ev.channel, key: ev.key}
			continue
		}
		if _, ok := e.voices[ev.id]; ok {
			e.synth.NoteOff(ev.channel, ev.key)
			delete(e.voices, ev.id)
		}
	}
}

func (e *Engine) stepGain() {
	if e.gainStep == 0 {
		return
	}
	e.gain += e.gainStep
	if (e.gainStep > 0 && e.gain >= e.target) || (e.gainStep < 0 && e.gain <= e.target) {
		e.gain = e.target
		e.gainStep = 0
	}
}

func (e *Engine) stop(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.queue[:0]
	for _, ev := range e.queue {
		if ev.id != id {
			kept = append(kept, ev)
		}
	}
	e.queue = kept
	heap.Init(&e.queue)
	if v, ok := e.voices[id]; ok {
		e.synth.NoteOff(v.channel, v.key)
		delete(e.voices, id)
	}
}

func (e *Engine) toFrame(seconds float64) int64 {
	return int64(math.Round(seconds * float64(e.sampleRate)))
}

func (e *Engine) push(ev event) {
	e.seq++
	ev.seq = e.seq
	heap.Push(&e.queue, ev)
}

type handle struct {
	engine *Engine
	id     uint64
}

// Stop cancels the note if it has not started yet, or releases it.
func (h *handle) Stop() { h.engine.stop(h.id) }

type event struct {
	frame    int64
	seq      uint64
	id       uint64
	on       bool
	channel  int32
	key      int32
	velocity int32
}

type eventQueue []event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].frame != q[j].frame {
		return q[i].frame < q[j].frame
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x any)   { *q = append(*q, x.(event)) }
func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	*q = old[:n-1]
	return ev
}
