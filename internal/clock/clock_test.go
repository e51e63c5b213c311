package clock

import (
	"errors"
	"math"
	"testing"
	"time"
)

type fakeHardware struct {
	now     float64
	resumes int
	closed  bool
}

func (h *fakeHardware) CurrentTime() float64 { return h.now }
func (h *fakeHardware) Resume() error        { h.resumes++; return nil }
func (h *fakeHardware) Close() error         { h.closed = true; return nil }

type fakeWall struct{ t time.Time }

func (w *fakeWall) now() time.Time { return w.t }
func (w *fakeWall) advance(sec float64) {
	w.t = w.t.Add(time.Duration(sec * float64(time.Second)))
}

func newTestClock(t *testing.T, duration float64) (*Clock, *fakeHardware, *fakeWall) {
	t.Helper()
	hw := &fakeHardware{now: 100}
	wall := &fakeWall{t: time.Unix(1000, 0)}
	c := New(func() (HardwareClock, error) { return hw, nil }, WithWallClock(wall.now))
	c.SetDuration(duration)
	return c, hw, wall
}

const eps = 1e-9

func TestSeekClampsToDuration(t *testing.T) {
	c, _, _ := newTestClock(t, 10)
	cases := []struct{ in, want float64 }{
		{-5, 0}, {0, 0}, {3.25, 3.25}, {10, 10}, {12, 10},
	}
	for _, tc := range cases {
		c.Seek(tc.in)
		if got := c.AuthoritativeTime(); math.Abs(got-tc.want) > eps {
			t.Fatalf("seek(%v) -> %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestQueriesBeforeHardwareClockReturnSongPosition(t *testing.T) {
	c, _, _ := newTestClock(t, 10)
	c.Seek(2)
	if c.HardwareReady() {
		t.Fatalf("hardware clock should not exist before Play")
	}
	if got := c.AuthoritativeTime(); got != 2 {
		t.Fatalf("authoritative = %v, want 2", got)
	}
	if got := c.SmoothedTime(); got != 2 {
		t.Fatalf("smoothed = %v, want 2", got)
	}
}

func TestPlayIsIdempotent(t *testing.T) {
	c, hw, _ := newTestClock(t, 10)
	events := 0
	c.Subscribe(func(Event) { events++ })
	if err := c.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	hw.now += 1
	if err := c.Play(); err != nil {
		t.Fatalf("second play: %v", err)
	}
	if hw.resumes != 1 {
		t.Fatalf("resume called %d times, want 1", hw.resumes)
	}
	if events != 1 {
		t.Fatalf("got %d notifications, want 1", events)
	}
	if got := c.AuthoritativeTime(); math.Abs(got-1) > eps {
		t.Fatalf("second play re-anchored: time = %v, want 1", got)
	}
}

func TestPlaybackReachesEndAndStops(t *testing.T) {
	c, hw, _ := newTestClock(t, 2)
	var ended int
	c.Subscribe(func(ev Event) {
		if ev.Ended {
			ended++
		}
	})
	if err := c.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	prev := -1.0
	for i := 0; i < 40; i++ {
		hw.now += 0.1
		got := c.AuthoritativeTime()
		if got < prev {
			t.Fatalf("time went backwards: %v after %v", got, prev)
		}
		prev = got
	}
	if c.State() != Stopped {
		t.Fatalf("state = %v, want stopped", c.State())
	}
	if prev != 2 {
		t.Fatalf("time should hold at duration, got %v", prev)
	}
	hw.now += 5
	if got := c.AuthoritativeTime(); got != 2 {
		t.Fatalf("time after end = %v, want 2", got)
	}
	if ended != 1 {
		t.Fatalf("ended notifications = %d, want 1", ended)
	}
}

func TestPauseCapturesPosition(t *testing.T) {
	c, hw, _ := newTestClock(t, 10)
	_ = c.Play()
	hw.now += 1.5
	c.Pause()
	if c.State() != Paused {
		t.Fatalf("state = %v, want paused", c.State())
	}
	hw.now += 3
	if got := c.AuthoritativeTime(); math.Abs(got-1.5) > eps {
		t.Fatalf("paused time = %v, want 1.5", got)
	}
	_ = c.Play()
	hw.now += 0.5
	if got := c.AuthoritativeTime(); math.Abs(got-2.0) > eps {
		t.Fatalf("resumed time = %v, want 2.0", got)
	}
	c.Stop()
	if got := c.AuthoritativeTime(); got != 0 || c.State() != Stopped {
		t.Fatalf("after stop: time %v state %v", got, c.State())
	}
}

func TestSeekWhilePlayingReanchors(t *testing.T) {
	c, hw, _ := newTestClock(t, 10)
	_ = c.Play()
	hw.now += 2
	c.Seek(5)
	hw.now += 1
	if got := c.AuthoritativeTime(); math.Abs(got-6) > eps {
		t.Fatalf("time = %v, want 6", got)
	}
}

func TestRateChangeIsContinuous(t *testing.T) {
	c, hw, _ := newTestClock(t, 100)
	_ = c.Play()
	hw.now += 2
	before := c.AuthoritativeTime()
	if err := c.SetPlaybackRate(2); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	after := c.AuthoritativeTime()
	if math.Abs(after-before) > eps {
		t.Fatalf("rate change jumped from %v to %v", before, after)
	}
	hw.now += 1
	if got := c.AuthoritativeTime(); math.Abs(got-4) > eps {
		t.Fatalf("time = %v, want 4", got)
	}
}

func TestRateRejectsNonPositive(t *testing.T) {
	c, _, _ := newTestClock(t, 10)
	for _, r := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := c.SetPlaybackRate(r); !errors.Is(err, ErrInvalidRate) {
			t.Fatalf("rate %v: err = %v, want ErrInvalidRate", r, err)
		}
	}
	if c.PlaybackRate() != 1 {
		t.Fatalf("rate should be unchanged, got %v", c.PlaybackRate())
	}
}

func TestSmoothedTimeSnapsOnLargeDrift(t *testing.T) {
	c, hw, wall := newTestClock(t, 100)
	_ = c.Play()
	// Hardware jumps ahead while the wall clock barely moves (backgrounded tab).
	hw.now += 3
	wall.advance(0.016)
	if got := c.SmoothedTime(); math.Abs(got-3) > eps {
		t.Fatalf("smoothed = %v, want snap to 3", got)
	}
}

func TestSmoothedTimeConvergesOnSmallDrift(t *testing.T) {
	c, hw, wall := newTestClock(t, 100)
	_ = c.Play()
	// Hardware reports in coarse quanta; wall clock advances smoothly.
	hw.now += 0.02
	wall.advance(0.016)
	s1 := c.SmoothedTime()
	drift := 0.02 - 0.016
	want := 0.016 + drift*DefaultParams().Convergence
	if math.Abs(s1-want) > eps {
		t.Fatalf("smoothed = %v, want %v", s1, want)
	}
	prev := s1
	for i := 0; i < 100; i++ {
		hw.now += 0.016
		wall.advance(0.016)
		s := c.SmoothedTime()
		if s < prev {
			t.Fatalf("smoothed went backwards")
		}
		prev = s
	}
	if d := math.Abs(c.AuthoritativeTime() - prev); d >= drift {
		t.Fatalf("drift did not shrink: %v", d)
	}
}

func TestLastSmoothedAndDriftDoNotAdvance(t *testing.T) {
	c, hw, wall := newTestClock(t, 100)
	_ = c.Play()
	hw.now += 0.02
	wall.advance(0.016)
	s1 := c.SmoothedTime()
	wall.advance(0.5)
	for i := 0; i < 3; i++ {
		if got := c.LastSmoothed(); got != s1 {
			t.Fatalf("last smoothed = %v, want %v", got, s1)
		}
		if d := c.Drift(); math.Abs(d-(0.02-s1)) > eps {
			t.Fatalf("drift = %v, want %v", d, 0.02-s1)
		}
	}
}

func TestUnsubscribeAndClose(t *testing.T) {
	c, hw, _ := newTestClock(t, 10)
	calls := 0
	unsub := c.Subscribe(func(Event) { calls++ })
	c.Seek(1)
	unsub()
	c.Seek(2)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	_ = c.Play()
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !hw.closed {
		t.Fatalf("hardware clock not closed")
	}
}

func TestPlayPropagatesFactoryError(t *testing.T) {
	boom := errors.New("no device")
	c := New(func() (HardwareClock, error) { return nil, boom })
	c.SetDuration(5)
	if err := c.Play(); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if c.State() != Stopped {
		t.Fatalf("state = %v, want stopped", c.State())
	}
}

func TestEmptyDurationNeverEnds(t *testing.T) {
	c, hw, _ := newTestClock(t, 0)
	ended := false
	c.Subscribe(func(ev Event) { ended = ended || ev.Ended })
	if err := c.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	hw.now += 3
	if got := c.AuthoritativeTime(); got != 0 || ended || !c.IsPlaying() {
		t.Fatalf("empty clock: time=%v ended=%v playing=%v", got, ended, c.IsPlaying())
	}
}
