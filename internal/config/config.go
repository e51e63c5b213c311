// Package config holds the tunable parameters of a session, their defaults
// and an optional YAML overlay.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cbegin/notefall-go/internal/clock"
	"github.com/cbegin/notefall-go/internal/keyboard"
	"github.com/cbegin/notefall-go/internal/render"
	"github.com/cbegin/notefall-go/internal/scheduler"
)

var ErrInvalid = errors.New("invalid config")

// Times are in seconds unless noted.
type Config struct {
	SampleRate   int     `yaml:"sample_rate"`
	SoundFont    string  `yaml:"soundfont"`
	PlaybackRate float64 `yaml:"playback_rate"`
	MutedTracks  []int   `yaml:"muted_tracks"`
	// Volume is the master output volume, 0..1.
	Volume float32 `yaml:"volume"`

	Render    Render    `yaml:"render"`
	Clock     Clock     `yaml:"clock"`
	Scheduler Scheduler `yaml:"scheduler"`
	Window    Window    `yaml:"window"`
}

type Render struct {
	PixelsPerSecond float64 `yaml:"pixels_per_second"`
	PoolCapacity    int     `yaml:"pool_capacity"`
	LookBehind      float64 `yaml:"look_behind"`
	MaxLookback     float64 `yaml:"max_lookback"`
	MinNoteHeight   float64 `yaml:"min_note_height"`
	KeyboardHeight  float64 `yaml:"keyboard_height"`
	LowKey          int     `yaml:"low_key"`
	HighKey         int     `yaml:"high_key"`
}

type Clock struct {
	SnapThreshold float64 `yaml:"snap_threshold"`
	Convergence   float64 `yaml:"convergence"`
}

type Scheduler struct {
	Lookahead      float64 `yaml:"lookahead"`
	StaleTolerance float64 `yaml:"stale_tolerance"`
	SilenceRamp    float64 `yaml:"silence_ramp"`
	Interval       float64 `yaml:"interval"`
}

type Window struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	// ResizeDebounce is in milliseconds.
	ResizeDebounce int `yaml:"resize_debounce_ms"`
}

func Default() Config {
	rp := render.DefaultParams()
	cp := clock.DefaultParams()
	sp := scheduler.DefaultParams()
	return Config{
		SampleRate:   48000,
		PlaybackRate: 1,
		Volume:       1,
		Render: Render{
			PixelsPerSecond: rp.PixelsPerSecond,
			PoolCapacity:    1500,
			LookBehind:      rp.LookBehind,
			MaxLookback:     rp.MaxLookback,
			MinNoteHeight:   rp.MinNoteHeight,
			KeyboardHeight:  rp.KeyboardHeight,
			LowKey:          keyboard.PianoLow,
			HighKey:         keyboard.PianoHigh,
		},
		Clock: Clock{
			SnapThreshold: cp.SnapThreshold,
			Convergence:   cp.Convergence,
		},
		Scheduler: Scheduler{
			Lookahead:      sp.Lookahead,
			StaleTolerance: sp.StaleTolerance,
			SilenceRamp:    sp.SilenceRamp,
			Interval:       1.5,
		},
		Window: Window{
			Width:          1280,
			Height:         720,
			ResizeDebounce: 100,
		},
	}
}

// Load overlays the YAML file at path on the defaults and validates the
// result. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}
	check(c.SampleRate > 0, "sample_rate %d must be positive", c.SampleRate)
	check(c.PlaybackRate > 0, "playback_rate %v must be positive", c.PlaybackRate)
	check(c.Volume >= 0 && c.Volume <= 1, "volume %v must be within 0..1", c.Volume)
	check(c.Render.PixelsPerSecond > 0, "render.pixels_per_second %v must be positive", c.Render.PixelsPerSecond)
	check(c.Render.PoolCapacity > 0, "render.pool_capacity %d must be positive", c.Render.PoolCapacity)
	check(c.Render.LookBehind >= 0, "render.look_behind %v must not be negative", c.Render.LookBehind)
	check(c.Render.MaxLookback >= 0, "render.max_lookback %v must not be negative", c.Render.MaxLookback)
	check(c.Render.MinNoteHeight >= 0, "render.min_note_height %v must not be negative", c.Render.MinNoteHeight)
	check(c.Render.LowKey >= 0 && c.Render.HighKey <= 127 && c.Render.LowKey <= c.Render.HighKey,
		"render key range %d..%d must lie within 0..127", c.Render.LowKey, c.Render.HighKey)
	check(c.Clock.SnapThreshold > 0, "clock.snap_threshold %v must be positive", c.Clock.SnapThreshold)
	check(c.Clock.Convergence > 0 && c.Clock.Convergence <= 1, "clock.convergence %v must be within (0,1]", c.Clock.Convergence)
	check(c.Scheduler.Lookahead > 0, "scheduler.lookahead %v must be positive", c.Scheduler.Lookahead)
	check(c.Scheduler.StaleTolerance >= 0, "scheduler.stale_tolerance %v must not be negative", c.Scheduler.StaleTolerance)
	check(c.Scheduler.SilenceRamp >= 0, "scheduler.silence_ramp %v must not be negative", c.Scheduler.SilenceRamp)
	check(c.Scheduler.Interval > 0, "scheduler.interval %v must be positive", c.Scheduler.Interval)
	check(c.Scheduler.Interval < c.Scheduler.Lookahead, "scheduler.interval %v must be shorter than the lookahead %v", c.Scheduler.Interval, c.Scheduler.Lookahead)
	for _, tr := range c.MutedTracks {
		check(tr >= 0, "muted track %d must not be negative", tr)
	}
	return errors.Join(errs...)
}

func (c Config) ClockParams() clock.Params {
	return clock.Params{
		SnapThreshold: c.Clock.SnapThreshold,
		Convergence:   c.Clock.Convergence,
	}
}

func (c Config) RenderParams() render.Params {
	p := render.DefaultParams()
	p.PixelsPerSecond = c.Render.PixelsPerSecond
	p.LookBehind = c.Render.LookBehind
	p.MaxLookback = c.Render.MaxLookback
	p.MinNoteHeight = c.Render.MinNoteHeight
	p.KeyboardHeight = c.Render.KeyboardHeight
	return p
}

func (c Config) SchedulerParams() scheduler.Params {
	return scheduler.Params{
		Lookahead:      c.Scheduler.Lookahead,
		StaleTolerance: c.Scheduler.StaleTolerance,
		SilenceRamp:    c.Scheduler.SilenceRamp,
	}
}

func (c Config) ScheduleInterval() time.Duration {
	return time.Duration(c.Scheduler.Interval * float64(time.Second))
}

func (c Config) ResizeDebounce() time.Duration {
	return time.Duration(c.Window.ResizeDebounce) * time.Millisecond
}
