// Package notefall drives a falling-note score visualizer: one Session ties
// the playback clock, the render loop and the audio scheduler together.
package notefall

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/charmbracelet/log"

	"github.com/cbegin/notefall-go/internal/clock"
	"github.com/cbegin/notefall-go/internal/config"
	"github.com/cbegin/notefall-go/internal/keyboard"
	"github.com/cbegin/notefall-go/internal/render"
	"github.com/cbegin/notefall-go/internal/scheduler"
	"github.com/cbegin/notefall-go/internal/ticker"
	"github.com/cbegin/notefall-go/internal/timeline"
)

var ErrClosed = errors.New("notefall: session closed")

type Option func(*sessionConfig)

type sessionConfig struct {
	clockParams     clock.Params
	renderParams    render.Params
	schedParams     scheduler.Params
	interval        time.Duration
	resizeDebounce  time.Duration
	lowKey, highKey int
	rate            float64
	muted           []int
	logger          *log.Logger
	wall            func() time.Time
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		clockParams:    clock.DefaultParams(),
		renderParams:   render.DefaultParams(),
		schedParams:    scheduler.DefaultParams(),
		interval:       1500 * time.Millisecond,
		resizeDebounce: 100 * time.Millisecond,
		lowKey:         keyboard.PianoLow,
		highKey:        keyboard.PianoHigh,
		rate:           1,
		logger:         log.New(io.Discard),
	}
}

// WithConfig applies every tunable of a loaded configuration file.
func WithConfig(c config.Config) Option {
	return func(cfg *sessionConfig) {
		cfg.clockParams = c.ClockParams()
		cfg.renderParams = c.RenderParams()
		cfg.schedParams = c.SchedulerParams()
		cfg.interval = c.ScheduleInterval()
		cfg.resizeDebounce = c.ResizeDebounce()
		cfg.lowKey, cfg.highKey = c.Render.LowKey, c.Render.HighKey
		cfg.rate = c.PlaybackRate
		cfg.muted = append([]int(nil), c.MutedTracks...)
	}
}

func WithClockParams(p clock.Params) Option {
	return func(cfg *sessionConfig) { cfg.clockParams = p }
}

func WithRenderParams(p render.Params) Option {
	return func(cfg *sessionConfig) { cfg.renderParams = p }
}

func WithSchedulerParams(p scheduler.Params) Option {
	return func(cfg *sessionConfig) { cfg.schedParams = p }
}

// WithScheduleInterval sets how often the scheduler runs while playing.
func WithScheduleInterval(d time.Duration) Option {
	return func(cfg *sessionConfig) { cfg.interval = d }
}

// WithResizeDebounce sets how long Resize waits for the bounds to settle.
// Zero applies every resize immediately.
func WithResizeDebounce(d time.Duration) Option {
	return func(cfg *sessionConfig) { cfg.resizeDebounce = d }
}

func WithKeyRange(low, high int) Option {
	return func(cfg *sessionConfig) { cfg.lowKey, cfg.highKey = low, high }
}

func WithLogger(l *log.Logger) Option {
	return func(cfg *sessionConfig) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithWallClock replaces time.Now for the smoothed clock.
func WithWallClock(now func() time.Time) Option {
	return func(cfg *sessionConfig) { cfg.wall = now }
}

// Session owns the playback clock, render loop and audio scheduler of one
// visualizer instance. All methods are safe for concurrent use. Event
// callbacks run after the session lock is released, so they may call back
// into the session.
type Session struct {
	mu      sync.Mutex
	cfg     sessionConfig
	logger  *log.Logger
	clock   *clock.Clock
	loop    *render.Loop
	sched   *scheduler.Scheduler
	metrics *keyboard.Metrics

	timeline *timeline.ParsedTimeline
	muted    map[int]bool
	pending  []clock.Event

	debounced      func(f func())
	cancelFrame    func()
	cancelInterval func()
	closed         bool

	listenersMu sync.Mutex
	listeners   []sessionListener
	nextID      int
	eventCh     chan clock.Event
}

type sessionListener struct {
	id int
	fn func(clock.Event)
}

func New(engine scheduler.Engine, factory clock.Factory, keys render.KeyActivator, surfaces render.SurfaceProvider, opts ...Option) (*Session, error) {
	if engine == nil {
		return nil, errors.New("notefall: engine is required")
	}
	if surfaces == nil {
		return nil, errors.New("notefall: surface provider is required")
	}
	if keys == nil {
		keys = nopKeys{}
	}
	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		cfg:     cfg,
		logger:  cfg.logger,
		metrics: keyboard.New(cfg.lowKey, cfg.highKey),
		muted:   make(map[int]bool),
	}
	clockOpts := []clock.Option{clock.WithParams(cfg.clockParams), clock.WithLogger(cfg.logger)}
	if cfg.wall != nil {
		clockOpts = append(clockOpts, clock.WithWallClock(cfg.wall))
	}
	s.clock = clock.New(factory, clockOpts...)
	if err := s.clock.SetPlaybackRate(cfg.rate); err != nil {
		return nil, err
	}
	s.loop = render.New(surfaces, keys, s.metrics,
		render.WithParams(cfg.renderParams),
		render.WithTimeSource(s.clock),
		render.WithLogger(cfg.logger))
	s.sched = scheduler.New(engine,
		scheduler.WithParams(cfg.schedParams),
		scheduler.WithLogger(cfg.logger))
	for _, tr := range cfg.muted {
		s.muted[tr] = true
		s.loop.SetMuted(tr, true)
	}
	if cfg.resizeDebounce > 0 {
		s.debounced = debounce.New(cfg.resizeDebounce)
	}
	s.clock.Subscribe(s.onClockEvent)
	return s, nil
}

// onClockEvent runs with s.mu held; every clock call happens under the lock.
func (s *Session) onClockEvent(ev clock.Event) {
	if ev.Ended {
		s.sched.StopAll()
		s.logger.Debug("song ended", "time", ev.Time)
	}
	s.pending = append(s.pending, ev)
}

func (s *Session) lock() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	return true
}

// unlock releases the session and then delivers clock events raised while
// it was held.
func (s *Session) unlock() {
	evs := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, ev := range evs {
		s.dispatch(ev)
	}
}

func (s *Session) dispatch(ev clock.Event) {
	s.listenersMu.Lock()
	ls := s.listeners
	ch := s.eventCh
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Watcher is behind; drop.
		}
	}
	s.listenersMu.Unlock()
	for _, l := range ls {
		l.fn(ev)
	}
}

// Load swaps in a new timeline. Playback stops and the scheduler forgets every
// note it triggered for the previous song.
func (s *Session) Load(tl *timeline.ParsedTimeline) {
	if !s.lock() {
		return
	}
	defer s.unlock()
	s.clock.Stop()
	s.sched.StopAll()
	s.timeline = tl
	duration := 0.0
	if tl != nil {
		duration = tl.Duration
	}
	s.clock.SetDuration(duration)
	s.loop.SetTimeline(tl)
	for tr, m := range s.muted {
		s.loop.SetMuted(tr, m)
	}
	if tl != nil {
		s.logger.Info("timeline loaded", "id", tl.ID, "name", tl.Name, "notes", tl.Len(), "tracks", tl.TrackCount, "duration", tl.Duration)
	}
}

// Timeline returns the loaded timeline, nil before the first Load.
func (s *Session) Timeline() *timeline.ParsedTimeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline
}

// Play starts or resumes playback and schedules the first batch of notes
// right away.
func (s *Session) Play() error {
	if !s.lock() {
		return ErrClosed
	}
	defer s.unlock()
	if err := s.clock.Play(); err != nil {
		s.logger.Error("play failed", "err", err)
		return err
	}
	s.scheduleLocked()
	return nil
}

// Pause holds the position and silences the engine. Already triggered notes
// are not triggered again on resume.
func (s *Session) Pause() {
	if !s.lock() {
		return
	}
	defer s.unlock()
	if !s.clock.IsPlaying() {
		return
	}
	s.clock.Pause()
	s.sched.Silence()
}

// Toggle pauses when playing and plays otherwise.
func (s *Session) Toggle() error {
	s.mu.Lock()
	playing := s.clock.IsPlaying()
	s.mu.Unlock()
	if playing {
		s.Pause()
		return nil
	}
	return s.Play()
}

func (s *Session) Stop() {
	if !s.lock() {
		return
	}
	defer s.unlock()
	s.clock.Stop()
	s.sched.StopAll()
}

func (s *Session) Seek(t float64) {
	if !s.lock() {
		return
	}
	defer s.unlock()
	s.clock.Seek(t)
	s.rearmLocked()
}

// SeekBy moves the position by delta seconds.
func (s *Session) SeekBy(delta float64) {
	if !s.lock() {
		return
	}
	defer s.unlock()
	s.clock.Seek(s.clock.AuthoritativeTime() + delta)
	s.rearmLocked()
}

func (s *Session) SetPlaybackRate(r float64) error {
	if !s.lock() {
		return ErrClosed
	}
	defer s.unlock()
	if err := s.clock.SetPlaybackRate(r); err != nil {
		return err
	}
	s.rearmLocked()
	return nil
}

func (s *Session) PlaybackRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.PlaybackRate()
}

// SetTrackMuted hides a track and keeps it from sounding. Notes on other
// tracks keep playing; unmuting schedules the track's upcoming notes again.
func (s *Session) SetTrackMuted(track int, muted bool) {
	if track < 0 || !s.lock() {
		return
	}
	defer s.unlock()
	if s.muted[track] == muted {
		return
	}
	if muted {
		s.muted[track] = true
	} else {
		delete(s.muted, track)
	}
	s.loop.SetMuted(track, muted)
	if muted {
		s.sched.StopTrack(track)
	}
	s.scheduleLocked()
}

func (s *Session) TrackMuted(track int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted[track]
}

func (s *Session) SetPixelsPerSecond(pps float64) {
	if !s.lock() {
		return
	}
	defer s.unlock()
	s.loop.SetPixelsPerSecond(pps)
}

func (s *Session) PixelsPerSecond() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop.PixelsPerSecond()
}

// Resize reports new canvas bounds. The first bounds apply immediately; later
// changes apply once they have settled for the debounce period.
func (s *Session) Resize(w, h float64) {
	if !s.lock() {
		return
	}
	cw, ch := s.loop.Viewport()
	if cw == w && ch == h {
		s.unlock()
		return
	}
	if s.debounced == nil || cw == 0 || ch == 0 {
		s.loop.SetViewport(w, h)
		s.unlock()
		return
	}
	s.unlock()
	s.debounced(func() {
		if !s.lock() {
			return
		}
		defer s.unlock()
		s.loop.SetViewport(w, h)
	})
}

// Frame renders one frame at the smoothed time. It is the frame-port
// callback.
func (s *Session) Frame() {
	if !s.lock() {
		return
	}
	defer s.unlock()
	s.loop.Tick()
}

// ScheduleTick runs one scheduling pass if playing. It is the interval-port
// callback.
func (s *Session) ScheduleTick() {
	if !s.lock() {
		return
	}
	defer s.unlock()
	s.scheduleLocked()
}

// Attach registers Frame and ScheduleTick with the given ports, replacing any
// earlier registration. Either port may be nil.
func (s *Session) Attach(frames ticker.FramePort, intervals ticker.IntervalPort) {
	if !s.lock() {
		return
	}
	s.detachLocked()
	s.mu.Unlock()

	// Registering outside the lock: a port may call back immediately.
	var cancelFrame, cancelInterval func()
	if frames != nil {
		cancelFrame = frames.OnFrame(s.Frame)
	}
	if intervals != nil {
		cancelInterval = intervals.Every(s.cfg.interval, s.ScheduleTick)
	}

	s.mu.Lock()
	s.cancelFrame, s.cancelInterval = cancelFrame, cancelInterval
	s.mu.Unlock()
}

// Subscribe registers fn for playback events and returns its unsubscribe
// handle.
func (s *Session) Subscribe(fn func(clock.Event)) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, sessionListener{id: id, fn: fn})
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		next := make([]sessionListener, 0, len(s.listeners))
		for _, l := range s.listeners {
			if l.id != id {
				next = append(next, l)
			}
		}
		s.listeners = next
	}
}

// Watch returns a channel that receives playback events. The channel is
// buffered (cap 8) and events are dropped when it is full. Only the most
// recent Watch channel receives events; it is closed by Close.
func (s *Session) Watch() <-chan clock.Event {
	ch := make(chan clock.Event, 8)
	s.listenersMu.Lock()
	s.eventCh = ch
	s.listenersMu.Unlock()
	return ch
}

// State is a point-in-time summary of the session.
type State struct {
	Clock     clock.State
	Time      float64
	Smoothed  float64
	Drift     float64 // authoritative minus smoothed
	Duration  float64
	Rate      float64
	Visible   int
	Exhausted int
	Pending   int
	Failures  int
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.unlock()
	t := s.clock.AuthoritativeTime()
	return State{
		Time:      t,
		Clock:     s.clock.State(),
		Smoothed:  s.clock.LastSmoothed(),
		Drift:     s.clock.Drift(),
		Duration:  s.clock.Duration(),
		Rate:      s.clock.PlaybackRate(),
		Visible:   len(s.loop.Visible()),
		Exhausted: s.loop.Exhausted(),
		Pending:   s.sched.Pending(),
		Failures:  s.sched.Failures(),
	}
}

// View runs fn with the render loop and keyboard metrics while holding the
// session lock, so a presentation can draw a consistent frame.
func (s *Session) View(fn func(loop *render.Loop, keys *keyboard.Metrics)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.loop, s.metrics)
}

// Close detaches from the ports, silences the engine, releases every lit key
// and closes the hardware clock.
func (s *Session) Close() error {
	if !s.lock() {
		return nil
	}
	s.closed = true
	s.detachLocked()
	s.sched.StopAll()
	s.loop.Destroy()
	err := s.clock.Close()
	s.unlock()

	s.listenersMu.Lock()
	if s.eventCh != nil {
		close(s.eventCh)
		s.eventCh = nil
	}
	s.listeners = nil
	s.listenersMu.Unlock()
	return err
}

func (s *Session) detachLocked() {
	if s.cancelFrame != nil {
		s.cancelFrame()
		s.cancelFrame = nil
	}
	if s.cancelInterval != nil {
		s.cancelInterval()
		s.cancelInterval = nil
	}
}

// rearmLocked drops everything queued on the engine and, when playing,
// schedules again from the current position.
func (s *Session) rearmLocked() {
	s.sched.StopAll()
	s.scheduleLocked()
}

func (s *Session) scheduleLocked() int {
	if s.timeline == nil || !s.clock.IsPlaying() || !s.clock.HardwareReady() {
		return 0
	}
	offset := s.clock.AuthoritativeTime()
	if !s.clock.IsPlaying() {
		return 0
	}
	n := s.sched.ScheduleNotes(s.timeline.Notes, s.clock.HardwareTime(), offset, s.clock.PlaybackRate(), s.muted)
	if n > 0 {
		s.logger.Debug("scheduled notes", "count", n, "offset", offset)
	}
	return n
}

type nopKeys struct{}

func (nopKeys) Activate(int)   {}
func (nopKeys) Deactivate(int) {}
