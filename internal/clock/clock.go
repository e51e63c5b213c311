package clock

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/charmbracelet/log"
)

// ErrInvalidRate is returned for a playback rate that is not > 0.
var ErrInvalidRate = errors.New("playback rate must be positive")

type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// HardwareClock is the monotonic audio-device clock, in seconds.
type HardwareClock interface {
	CurrentTime() float64
	Resume() error
	Close() error
}

// Factory creates the hardware clock. It is called lazily on the first Play,
// since audio devices are typically only available after a user gesture.
type Factory func() (HardwareClock, error)

// Event is delivered to subscribers on every state-affecting call.
// Ended is set exactly once when playback runs into the duration.
type Event struct {
	Time    float64
	Playing bool
	Ended   bool
}

type Params struct {
	// SnapThreshold is the drift, in seconds, beyond which the smoothed time
	// jumps straight to the authoritative time.
	SnapThreshold float64
	// Convergence is the fraction of the drift removed on each poll.
	Convergence float64
}

func DefaultParams() Params {
	return Params{
		SnapThreshold: 0.050,
		Convergence:   0.01,
	}
}

type Option func(*Clock)

func WithParams(p Params) Option {
	return func(c *Clock) {
		c.params = p
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Clock) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithWallClock replaces time.Now as the source for smoothed-time deltas.
func WithWallClock(now func() time.Time) Option {
	return func(c *Clock) {
		if now != nil {
			c.now = now
		}
	}
}

type listener struct {
	id int
	fn func(Event)
}

// Clock is the playback position of one session. It combines the
// authoritative position derived from the hardware clock with a smoothed
// estimate suitable for per-frame interpolation.
//
// Clock is not safe for concurrent use; the owning session serializes calls.
type Clock struct {
	factory Factory
	hw      HardwareClock
	params  Params
	now     func() time.Time
	logger  *log.Logger

	state    State
	position float64 // authoritative baseline
	refTick  float64 // hardware time at the last anchor
	rate     float64
	duration float64

	smoothed float64
	lastWall time.Time

	listeners []listener
	nextID    int
}

func New(factory Factory, opts ...Option) *Clock {
	c := &Clock{
		factory: factory,
		params:  DefaultParams(),
		now:     time.Now,
		logger:  log.New(io.Discard),
		rate:    1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Clock) State() State          { return c.state }
func (c *Clock) IsPlaying() bool       { return c.state == Playing }
func (c *Clock) PlaybackRate() float64 { return c.rate }
func (c *Clock) Duration() float64     { return c.duration }

// HardwareReady reports whether the hardware clock has been created.
func (c *Clock) HardwareReady() bool { return c.hw != nil }

// HardwareTime returns the hardware clock's time, or 0 before it exists.
func (c *Clock) HardwareTime() float64 {
	if c.hw == nil {
		return 0
	}
	return c.hw.CurrentTime()
}

// SetDuration sets the ceiling for the playback position. It is called on
// every song load.
func (c *Clock) SetDuration(d float64) {
	if d < 0 || math.IsNaN(d) {
		d = 0
	}
	c.duration = d
	if c.position > d {
		c.position = d
	}
	if c.smoothed > d {
		c.smoothed = d
	}
}

func (c *Clock) Play() error {
	if c.state == Playing {
		return nil
	}
	if c.hw == nil {
		if c.factory == nil {
			return errors.New("clock: no hardware clock factory")
		}
		hw, err := c.factory()
		if err != nil {
			return fmt.Errorf("clock: create hardware clock: %w", err)
		}
		c.hw = hw
		c.logger.Debug("hardware clock created")
	}
	if err := c.hw.Resume(); err != nil {
		return fmt.Errorf("clock: resume hardware clock: %w", err)
	}
	if c.state == Stopped && c.position >= c.duration {
		c.position = 0
	}
	c.refTick = c.hw.CurrentTime()
	c.smoothed = c.position
	c.lastWall = c.now()
	c.state = Playing
	c.notify(Event{Time: c.position, Playing: true})
	return nil
}

func (c *Clock) Pause() {
	if c.state != Playing {
		return
	}
	t := c.AuthoritativeTime()
	if c.state != Playing {
		// Ran into the end while reading; already stopped and notified.
		return
	}
	c.position = t
	c.smoothed = t
	c.state = Paused
	c.notify(Event{Time: t})
}

func (c *Clock) Stop() {
	c.position = 0
	c.smoothed = 0
	c.state = Stopped
	c.notify(Event{})
}

// Seek moves the position to t clamped to [0, duration].
func (c *Clock) Seek(t float64) {
	if math.IsNaN(t) {
		t = 0
	}
	t = clamp(t, 0, c.duration)
	c.position = t
	c.smoothed = t
	c.lastWall = c.now()
	if c.state == Playing {
		c.refTick = c.hw.CurrentTime()
	}
	c.notify(Event{Time: t, Playing: c.state == Playing})
}

// SetPlaybackRate changes the rate without a jump in position.
func (c *Clock) SetPlaybackRate(r float64) error {
	if !(r > 0) || math.IsInf(r, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidRate, r)
	}
	if c.state == Playing {
		t := c.AuthoritativeTime()
		if c.state == Playing {
			c.position = t
			c.refTick = c.hw.CurrentTime()
			c.smoothed = t
			c.lastWall = c.now()
		}
	}
	c.rate = r
	c.notify(Event{Time: c.position, Playing: c.state == Playing})
	return nil
}

// AuthoritativeTime returns the position derived from the hardware clock.
// Reaching the duration while playing stops the clock and notifies once.
func (c *Clock) AuthoritativeTime() float64 {
	if c.state != Playing || c.hw == nil {
		return c.position
	}
	t := c.position + (c.hw.CurrentTime()-c.refTick)*c.rate
	if t < 0 || c.duration <= 0 {
		// Nothing loaded: hold at zero without ending.
		return 0
	}
	if t >= c.duration {
		c.position = c.duration
		c.smoothed = c.duration
		c.state = Stopped
		c.logger.Debug("playback reached end", "duration", c.duration)
		c.notify(Event{Time: c.duration, Ended: true})
		return c.duration
	}
	return t
}

// SmoothedTime advances the visual estimate by wall-clock time and pulls it
// toward the authoritative time.
func (c *Clock) SmoothedTime() float64 {
	auth := c.AuthoritativeTime()
	now := c.now()
	if c.state != Playing {
		c.smoothed = auth
		c.lastWall = now
		return auth
	}
	dt := now.Sub(c.lastWall).Seconds()
	c.lastWall = now
	if dt < 0 {
		dt = 0
	}
	c.smoothed += dt * c.rate
	drift := auth - c.smoothed
	if math.Abs(drift) > c.params.SnapThreshold {
		c.smoothed = auth
	} else {
		c.smoothed += drift * c.params.Convergence
	}
	c.smoothed = clamp(c.smoothed, 0, c.duration)
	return c.smoothed
}

// LastSmoothed returns the smoothed time of the last SmoothedTime poll
// without advancing it.
func (c *Clock) LastSmoothed() float64 { return c.smoothed }

// Drift returns the authoritative time minus the last smoothed time. Like
// AuthoritativeTime it stops the clock when playback has reached the end.
func (c *Clock) Drift() float64 {
	return c.AuthoritativeTime() - c.smoothed
}

// Subscribe registers fn for clock events and returns its unsubscribe handle.
func (c *Clock) Subscribe(fn func(Event)) func() {
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	return func() {
		c.unsubscribe(id)
	}
}

func (c *Clock) unsubscribe(id int) {
	// Copy so a notify in progress keeps ranging over the old slice.
	next := make([]listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		if l.id != id {
			next = append(next, l)
		}
	}
	c.listeners = next
}

func (c *Clock) notify(ev Event) {
	for _, l := range c.listeners {
		l.fn(ev)
	}
}

// Close releases the hardware clock and drops all subscribers.
func (c *Clock) Close() error {
	c.listeners = nil
	c.state = Stopped
	if c.hw == nil {
		return nil
	}
	err := c.hw.Close()
	c.hw = nil
	if err != nil {
		return fmt.Errorf("clock: close hardware clock: %w", err)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
