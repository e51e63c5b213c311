package render

import (
	"image/color"
	"testing"
)

func TestPoolNeverExceedsCapacity(t *testing.T) {
	p := NewRectPool(3)
	for i := 0; i < 3; i++ {
		if _, ok := p.Acquire(); !ok {
			t.Fatalf("acquire %d failed below capacity", i)
		}
	}
	if _, ok := p.Acquire(); ok {
		t.Fatalf("acquire past capacity succeeded")
	}
	if p.Active() != 3 {
		t.Fatalf("active = %d, want 3", p.Active())
	}
}

func TestPoolReusesSlotsAfterReleaseAll(t *testing.T) {
	p := NewRectPool(2)
	a, _ := p.Acquire()
	b, _ := p.Acquire()
	p.ReleaseAll()
	if p.Active() != 0 {
		t.Fatalf("active after release = %d", p.Active())
	}
	a2, _ := p.Acquire()
	b2, _ := p.Acquire()
	if a2 != a || b2 != b {
		t.Fatalf("release did not reuse the same surfaces")
	}
	if p.Capacity() != 2 {
		t.Fatalf("capacity changed to %d", p.Capacity())
	}
}

func TestZeroCapacityPool(t *testing.T) {
	p := NewRectPool(-1)
	if _, ok := p.Acquire(); ok || p.Capacity() != 0 {
		t.Fatalf("empty pool handed out a surface")
	}
}

func TestRectColorAppliesAlpha(t *testing.T) {
	r := &Rect{}
	r.SetTint(color.RGBA{200, 100, 50, 255})
	r.SetAlpha(0.5)
	got := r.Color()
	want := color.RGBA{100, 50, 25, 127}
	if got != want {
		t.Fatalf("color = %#v, want %#v", got, want)
	}
}
