package scheduler

import (
	"io"

	"github.com/charmbracelet/log"

	"github.com/cbegin/notefall-go/internal/timeline"
)

// StopHandle releases one triggered note.
type StopHandle interface {
	Stop()
}

// Engine is the opaque sample engine. Times are on the engine's own clock,
// in seconds.
type Engine interface {
	Trigger(pitch, velocity int, at, duration float64) (StopHandle, error)
	StopAll()
	Ready() bool
}

// GainRamper is implemented by engines with a master gain. Silence ramps it
// to zero; the next scheduling pass restores it.
type GainRamper interface {
	RampGain(target, seconds float64)
}

type Params struct {
	// Lookahead is how far past the engine's current time notes are queued.
	Lookahead float64
	// StaleTolerance is how late a note may still be triggered.
	StaleTolerance float64
	// SilenceRamp is the fade-out used by Silence and StopAll.
	SilenceRamp float64
}

func DefaultParams() Params {
	return Params{
		Lookahead:      4.0,
		StaleTolerance: 0.030,
		SilenceRamp:    0.020,
	}
}

type Option func(*Scheduler)

func WithParams(p Params) Option {
	return func(s *Scheduler) {
		s.params = p
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

type sounding struct {
	handle StopHandle
	id     string
	track  int
	end    float64 // engine time
}

// Scheduler queues upcoming notes on an Engine in lookahead batches. Each
// note id is triggered at most once until StopAll or Reset clears the
// dedup set.
type Scheduler struct {
	engine Engine
	params Params
	logger *log.Logger

	scheduled map[string]struct{}
	sounding  []sounding
	silenced  bool
	failures  int
}

func New(engine Engine, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:    engine,
		params:    DefaultParams(),
		logger:    log.New(io.Discard),
		scheduled: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleNotes triggers every note starting within the lookahead window
// that has not been triggered before, and returns how many it triggered.
// notes must be sorted by start time; songOffset is the song position that
// corresponds to engineNow.
func (s *Scheduler) ScheduleNotes(notes []timeline.NoteEvent, engineNow, songOffset, rate float64, muted map[int]bool) int {
	if !s.engine.Ready() || !(rate > 0) {
		return 0
	}
	s.prune(engineNow)
	horizon := engineNow + s.params.Lookahead
	minTime := engineNow - s.params.StaleTolerance

	count := 0
	for i := timeline.FirstStartAtOrAfter(notes, songOffset); i < len(notes); i++ {
		n := &notes[i]
		at := engineNow + (n.Start-songOffset)/rate
		if at > horizon {
			break
		}
		if muted[n.TrackID] || n.End <= songOffset {
			continue
		}
		if _, done := s.scheduled[n.ID]; done {
			continue
		}
		if at < minTime {
			continue
		}
		if at < engineNow {
			at = engineNow
		}
		if s.silenced {
			s.restoreGain()
		}
		dur := n.Duration / rate
		h, err := s.engine.Trigger(n.Pitch, n.Velocity, at, dur)
		if err != nil {
			s.failures++
			s.logger.Debug("trigger failed", "id", n.ID, "pitch", n.Pitch, "err", err)
			continue
		}
		s.scheduled[n.ID] = struct{}{}
		if h != nil {
			s.sounding = append(s.sounding, sounding{handle: h, id: n.ID, track: n.TrackID, end: at + dur})
		}
		count++
	}
	return count
}

// Silence fades out and releases everything that is sounding or queued but
// keeps the dedup set, so resuming does not retrigger earlier notes.
func (s *Scheduler) Silence() {
	if gr, ok := s.engine.(GainRamper); ok {
		gr.RampGain(0, s.params.SilenceRamp)
		s.silenced = true
	}
	for _, snd := range s.sounding {
		snd.handle.Stop()
	}
	s.sounding = s.sounding[:0]
	s.engine.StopAll()
}

// StopTrack releases the sounding and queued notes of one track and forgets
// them, so they can be scheduled again once the track is unmuted. Other
// tracks keep playing.
func (s *Scheduler) StopTrack(track int) int {
	stopped := 0
	kept := s.sounding[:0]
	for _, snd := range s.sounding {
		if snd.track != track {
			kept = append(kept, snd)
			continue
		}
		snd.handle.Stop()
		delete(s.scheduled, snd.id)
		stopped++
	}
	clear(s.sounding[len(kept):])
	s.sounding = kept
	return stopped
}

// StopAll is Silence plus clearing the dedup set, for stop and seek.
func (s *Scheduler) StopAll() {
	s.Silence()
	s.Reset()
}

// Reset clears the dedup set without touching the engine.
func (s *Scheduler) Reset() {
	clear(s.scheduled)
}

// Scheduled reports whether the note id has been triggered.
func (s *Scheduler) Scheduled(id string) bool {
	_, ok := s.scheduled[id]
	return ok
}

// Pending returns the number of triggered notes that have not ended yet as of
// the last scheduling pass.
func (s *Scheduler) Pending() int { return len(s.sounding) }

// Failures counts triggers rejected by the engine.
func (s *Scheduler) Failures() int { return s.failures }

func (s *Scheduler) restoreGain() {
	if gr, ok := s.engine.(GainRamper); ok {
		gr.RampGain(1, s.params.SilenceRamp)
	}
	s.silenced = false
}

func (s *Scheduler) prune(engineNow float64) {
	kept := s.sounding[:0]
	for _, snd := range s.sounding {
		if snd.end >= engineNow {
			kept = append(kept, snd)
		}
	}
	s.sounding = kept
}
