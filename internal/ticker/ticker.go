// Package ticker provides the two periodic-callback ports a session is driven
// by: one fired every display frame and one fired on a fixed interval.
package ticker

import (
	"context"
	"sync"
	"time"
)

// FramePort calls fn once per displayed frame until cancel is called.
type FramePort interface {
	OnFrame(fn func()) (cancel func())
}

// IntervalPort calls fn every d until cancel is called.
type IntervalPort interface {
	Every(d time.Duration, fn func()) (cancel func())
}

type frameSub struct {
	id int
	fn func()
}

type intervalSub struct {
	id      int
	every   time.Duration
	elapsed time.Duration
	fn      func()
}

// Pump is a host-driven FramePort and IntervalPort. The host calls Step once
// per frame with the time elapsed since the previous frame; callbacks run on
// the caller's goroutine.
type Pump struct {
	mu        sync.Mutex
	nextID    int
	frames    []frameSub
	intervals []intervalSub
}

func NewPump() *Pump {
	return &Pump{}
}

func (p *Pump) OnFrame(fn func()) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.frames = append(p.frames, frameSub{id: id, fn: fn})
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, s := range p.frames {
			if s.id == id {
				p.frames = append(p.frames[:i:i], p.frames[i+1:]...)
				return
			}
		}
	}
}

func (p *Pump) Every(d time.Duration, fn func()) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.intervals = append(p.intervals, intervalSub{id: id, every: d, fn: fn})
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, s := range p.intervals {
			if s.id == id {
				p.intervals = append(p.intervals[:i:i], p.intervals[i+1:]...)
				return
			}
		}
	}
}

// Step runs every frame callback once, then every interval callback whose
// period has elapsed. An interval fires at most once per Step.
func (p *Pump) Step(elapsed time.Duration) {
	p.mu.Lock()
	frames := p.frames
	var due []func()
	for i := range p.intervals {
		s := &p.intervals[i]
		if s.every <= 0 {
			continue
		}
		s.elapsed += elapsed
		if s.elapsed >= s.every {
			s.elapsed %= s.every
			due = append(due, s.fn)
		}
	}
	p.mu.Unlock()

	for _, s := range frames {
		s.fn()
	}
	for _, fn := range due {
		fn()
	}
}

// Ticker is an IntervalPort backed by time.Ticker goroutines. Every callback
// stops when the context is cancelled.
type Ticker struct {
	ctx context.Context
	wg  sync.WaitGroup
}

func NewTicker(ctx context.Context) *Ticker {
	return &Ticker{ctx: ctx}
}

func (t *Ticker) Every(d time.Duration, fn func()) (cancel func()) {
	ctx, stop := context.WithCancel(t.ctx)
	if d <= 0 {
		stop()
		return func() {}
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		tk := time.NewTicker(d)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				fn()
			}
		}
	}()
	return stop
}

// Wait blocks until every callback goroutine has returned.
func (t *Ticker) Wait() {
	t.wg.Wait()
}
