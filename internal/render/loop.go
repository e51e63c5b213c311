package render

import (
	"image/color"
	"io"
	"math"
	"math/bits"

	"github.com/charmbracelet/log"

	"github.com/cbegin/notefall-go/internal/keyboard"
	"github.com/cbegin/notefall-go/internal/timeline"
)

// KeyActivator is told when a pitch starts or stops sounding. It is only
// called on transitions.
type KeyActivator interface {
	Activate(pitch int)
	Deactivate(pitch int)
}

// TimeSource supplies the visual time for Tick.
type TimeSource interface {
	SmoothedTime() float64
}

type Params struct {
	PixelsPerSecond float64
	// LookBehind keeps notes visible for this long after they end; a note
	// ending exactly LookBehind ago is gone.
	LookBehind float64
	// MaxLookback is how far before the window start the binary search
	// begins, so long-held notes are still found. It is extended to the
	// longest note of the loaded timeline.
	MaxLookback float64
	// MinNoteHeight floors the drawn height of very short notes, in pixels.
	MinNoteHeight float64
	// KeyboardHeight is the space below the strike line, in pixels.
	KeyboardHeight float64
	InactiveAlpha  float32
	ActiveAlpha    float32
}

func DefaultParams() Params {
	return Params{
		PixelsPerSecond: 150,
		LookBehind:      0.5,
		MaxLookback:     10,
		MinNoteHeight:   2,
		KeyboardHeight:  100,
		InactiveAlpha:   0.85,
		ActiveAlpha:     1,
	}
}

type Option func(*Loop)

func WithParams(p Params) Option {
	return func(l *Loop) {
		l.params = p
	}
}

func WithTimeSource(src TimeSource) Option {
	return func(l *Loop) {
		l.source = src
	}
}

func WithLogger(lg *log.Logger) Option {
	return func(l *Loop) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// TrackPalette colours notes by track id, modulo its length.
var TrackPalette = [...]color.RGBA{
	{86, 156, 214, 255},
	{106, 190, 48, 255},
	{230, 145, 56, 255},
	{197, 90, 196, 255},
	{229, 192, 60, 255},
	{78, 201, 176, 255},
	{214, 84, 84, 255},
	{150, 150, 220, 255},
}

// Loop is the per-frame note renderer. Frame performs no heap allocation;
// everything it touches is sized in New, SetTimeline or SetViewport.
type Loop struct {
	surfaces SurfaceProvider
	keys     KeyActivator
	metrics  *keyboard.Metrics
	source   TimeSource
	params   Params
	logger   *log.Logger

	notes    []timeline.NoteEvent
	lookback float64
	muted    []bool

	viewW, viewH float64
	resizing     bool

	active [2]pitchSet
	cur    int

	visible   []int // indices into notes drawn this frame
	exhausted int   // frames cut short by pool exhaustion

	destroyed bool
}

func New(surfaces SurfaceProvider, keys KeyActivator, metrics *keyboard.Metrics, opts ...Option) *Loop {
	l := &Loop{
		surfaces: surfaces,
		keys:     keys,
		metrics:  metrics,
		params:   DefaultParams(),
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.visible = make([]int, 0, surfaces.Capacity())
	l.lookback = l.params.MaxLookback
	return l
}

// SetTimeline swaps in a newly loaded song. Keys lit by the previous song
// are released.
func (l *Loop) SetTimeline(tl *timeline.ParsedTimeline) {
	l.releaseKeys()
	l.surfaces.ReleaseAll()
	l.visible = l.visible[:0]
	if tl == nil {
		l.notes = nil
		l.lookback = l.params.MaxLookback
		return
	}
	l.notes = tl.Notes
	longest := 0.0
	for i := range tl.Notes {
		if d := tl.Notes[i].Duration; d > longest {
			longest = d
		}
	}
	l.lookback = math.Max(l.params.MaxLookback, longest)
	if len(l.muted) < tl.TrackCount {
		grown := make([]bool, tl.TrackCount)
		copy(grown, l.muted)
		l.muted = grown
	}
}

// SetMuted hides or shows the notes of a track.
func (l *Loop) SetMuted(track int, muted bool) {
	if track < 0 {
		return
	}
	if track >= len(l.muted) {
		if !muted {
			return
		}
		grown := make([]bool, track+1)
		copy(grown, l.muted)
		l.muted = grown
	}
	l.muted[track] = muted
}

func (l *Loop) isMuted(track int) bool {
	return track >= 0 && track < len(l.muted) && l.muted[track]
}

// SetViewport applies new canvas bounds. It does nothing unless the bounds
// actually changed, and ignores calls made while a resize is being applied.
func (l *Loop) SetViewport(w, h float64) bool {
	if l.resizing || (w == l.viewW && h == l.viewH) || w <= 0 || h <= 0 {
		return false
	}
	l.resizing = true
	defer func() { l.resizing = false }()
	l.viewW, l.viewH = w, h
	l.metrics.Layout(w)
	l.logger.Debug("viewport changed", "width", w, "height", h)
	return true
}

func (l *Loop) Viewport() (float64, float64) { return l.viewW, l.viewH }

func (l *Loop) SetPixelsPerSecond(pps float64) {
	if pps > 0 {
		l.params.PixelsPerSecond = pps
	}
}

func (l *Loop) PixelsPerSecond() float64 { return l.params.PixelsPerSecond }

// StrikeY is the y coordinate of the line where notes meet the keyboard.
func (l *Loop) StrikeY() float64 { return l.viewH - l.params.KeyboardHeight }

// Lookahead is how far ahead of the current time notes become visible.
func (l *Loop) Lookahead() float64 { return l.StrikeY() / l.params.PixelsPerSecond }

// Tick renders one frame at the time reported by the configured source.
func (l *Loop) Tick() {
	if l.destroyed || l.source == nil {
		return
	}
	l.Frame(l.source.SmoothedTime())
}

// Frame renders the notes visible at time t and signals key transitions.
func (l *Loop) Frame(t float64) {
	if l.destroyed {
		return
	}
	l.surfaces.ReleaseAll()
	l.visible = l.visible[:0]

	l.cur ^= 1
	cur := &l.active[l.cur]
	prev := &l.active[l.cur^1]
	cur.clear()

	pps := l.params.PixelsPerSecond
	strikeY := l.StrikeY()
	winStart := t - l.params.LookBehind
	winEnd := t + l.Lookahead()
	notes := l.notes

	for i := timeline.FirstStartAtOrAfter(notes, winStart-l.lookback); i < len(notes); i++ {
		n := &notes[i]
		if n.Start > winEnd {
			break
		}
		if n.End <= winStart || l.isMuted(n.TrackID) || !l.metrics.InRange(n.Pitch) {
			continue
		}
		s, ok := l.surfaces.Acquire()
		if !ok {
			l.exhausted++
			break
		}
		h := n.Duration * pps
		top := strikeY - (n.Start-t)*pps - h
		if h < l.params.MinNoteHeight {
			h = l.params.MinNoteHeight
		}
		s.SetRect(l.metrics.X(n.Pitch), top, l.metrics.KeyWidth(n.Pitch), h)

		tint := TrackPalette[n.TrackID%len(TrackPalette)]
		if keyboard.IsBlack(n.Pitch) {
			tint = shade(tint, 0.75)
		}
		if n.Sounding(t) {
			cur.set(n.Pitch)
			s.SetTint(shade(tint, 1.3))
			s.SetAlpha(l.params.ActiveAlpha)
		} else {
			s.SetTint(tint)
			s.SetAlpha(l.params.InactiveAlpha)
		}
		l.visible = append(l.visible, i)
	}

	for w := range cur {
		changed := cur[w] ^ prev[w]
		for changed != 0 {
			p := w<<6 | bits.TrailingZeros64(changed)
			changed &= changed - 1
			if cur.has(p) {
				l.keys.Activate(p)
			} else {
				l.keys.Deactivate(p)
			}
		}
	}
}

// Active reports whether pitch was lit in the last frame.
func (l *Loop) Active(pitch int) bool {
	if pitch < 0 || pitch >= numPitches {
		return false
	}
	return l.active[l.cur].has(pitch)
}

// Visible returns the note indices drawn in the last frame, in start order.
// The slice is reused by the next frame.
func (l *Loop) Visible() []int { return l.visible }

// Exhausted counts frames that ran out of pooled surfaces.
func (l *Loop) Exhausted() int { return l.exhausted }

// Destroy detaches the loop, releases every lit key and returns all surfaces.
func (l *Loop) Destroy() {
	if l.destroyed {
		return
	}
	l.destroyed = true
	l.releaseKeys()
	l.surfaces.ReleaseAll()
	l.visible = l.visible[:0]
}

func (l *Loop) releaseKeys() {
	cur := &l.active[l.cur]
	for p := 0; p < numPitches; p++ {
		if cur.has(p) {
			l.keys.Deactivate(p)
		}
	}
	l.active[0].clear()
	l.active[1].clear()
}

func shade(c color.RGBA, f float64) color.RGBA {
	scale := func(v uint8) uint8 {
		return uint8(math.Min(255, float64(v)*f))
	}
	return color.RGBA{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: c.A}
}
