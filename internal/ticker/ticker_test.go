package ticker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPumpFramesAndIntervals(t *testing.T) {
	p := NewPump()
	frames, ticks := 0, 0
	p.OnFrame(func() { frames++ })
	p.Every(100*time.Millisecond, func() { ticks++ })

	for i := 0; i < 10; i++ {
		p.Step(16 * time.Millisecond)
	}
	if frames != 10 {
		t.Fatalf("frames = %d, want 10", frames)
	}
	// 160ms elapsed: one interval.
	if ticks != 1 {
		t.Fatalf("ticks = %d, want 1", ticks)
	}
	p.Step(50 * time.Millisecond)
	if ticks != 2 {
		t.Fatalf("ticks after 210ms = %d, want 2", ticks)
	}
}

func TestPumpIntervalFiresOncePerStep(t *testing.T) {
	p := NewPump()
	ticks := 0
	p.Every(10*time.Millisecond, func() { ticks++ })
	p.Step(time.Second)
	if ticks != 1 {
		t.Fatalf("ticks = %d, want 1", ticks)
	}
}

func TestPumpCancel(t *testing.T) {
	p := NewPump()
	a, b := 0, 0
	cancelA := p.OnFrame(func() { a++ })
	p.OnFrame(func() { b++ })
	cancelTick := p.Every(time.Millisecond, func() { a += 100 })
	p.Step(time.Millisecond)
	cancelA()
	cancelTick()
	cancelA()
	p.Step(time.Millisecond)
	if a != 101 || b != 2 {
		t.Fatalf("a=%d b=%d, want 101/2", a, b)
	}
}

func TestPumpCallbackMayCancelItself(t *testing.T) {
	p := NewPump()
	n := 0
	var cancel func()
	cancel = p.OnFrame(func() {
		n++
		cancel()
	})
	p.Step(0)
	p.Step(0)
	if n != 1 {
		t.Fatalf("self-cancelling callback ran %d times", n)
	}
}

func TestTickerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tk := NewTicker(ctx)
	var n atomic.Int32
	fired := make(chan struct{}, 1)
	tk.Every(time.Millisecond, func() {
		n.Add(1)
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("ticker never fired")
	}
	cancel()
	tk.Wait()
	after := n.Load()
	time.Sleep(10 * time.Millisecond)
	if n.Load() != after {
		t.Fatalf("ticker kept firing after cancel")
	}
}

func TestTickerIgnoresNonPositiveInterval(t *testing.T) {
	tk := NewTicker(context.Background())
	stop := tk.Every(0, func() { t.Fatalf("zero interval fired") })
	stop()
	tk.Wait()
}
