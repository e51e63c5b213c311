package render

import "image/color"

// Surface is one reusable visual object. Backends implement the setters;
// the render loop never creates or destroys surfaces after init.
type Surface interface {
	SetRect(x, y, w, h float64)
	SetTint(c color.RGBA)
	SetAlpha(a float32)
}

// SurfaceProvider hands out pooled surfaces for one frame.
type SurfaceProvider interface {
	// Acquire returns the next free surface, or false when the pool is
	// exhausted.
	Acquire() (Surface, bool)
	// ReleaseAll returns every surface handed out since the last call.
	ReleaseAll()
	Capacity() int
}

// Pool is a fixed-capacity SurfaceProvider. All surfaces are created by New
// and the backing array is never resized.
type Pool struct {
	items  []Surface
	active int
}

func NewPool(capacity int, newSurface func(i int) Surface) *Pool {
	if capacity < 0 {
		capacity = 0
	}
	p := &Pool{items: make([]Surface, capacity)}
	for i := range p.items {
		p.items[i] = newSurface(i)
	}
	return p
}

// NewRectPool returns a pool backed by plain Rect values.
func NewRectPool(capacity int) *Pool {
	return NewPool(capacity, func(int) Surface { return &Rect{} })
}

func (p *Pool) Acquire() (Surface, bool) {
	if p.active >= len(p.items) {
		return nil, false
	}
	s := p.items[p.active]
	p.active++
	return s, true
}

func (p *Pool) ReleaseAll()   { p.active = 0 }
func (p *Pool) Capacity() int { return len(p.items) }

// Active returns the number of surfaces handed out this frame.
func (p *Pool) Active() int { return p.active }

// At returns the i-th surface in acquisition order; i < Active().
func (p *Pool) At(i int) Surface { return p.items[i] }

// Rect is a Surface that only records its geometry and colour. Drawing
// backends read it back when presenting a frame.
type Rect struct {
	X, Y, W, H float64
	Tint       color.RGBA
	Alpha      float32
}

func (r *Rect) SetRect(x, y, w, h float64) {
	r.X, r.Y, r.W, r.H = x, y, w, h
}

func (r *Rect) SetTint(c color.RGBA) { r.Tint = c }
func (r *Rect) SetAlpha(a float32)   { r.Alpha = a }

// Color returns the tint with Alpha applied as premultiplied RGBA.
func (r *Rect) Color() color.RGBA {
	a := r.Alpha
	if a < 0 {
		a = 0
	}
	if a > 1 {
		a = 1
	}
	return color.RGBA{
		R: uint8(float32(r.Tint.R) * a),
		G: uint8(float32(r.Tint.G) * a),
		B: uint8(float32(r.Tint.B) * a),
		A: uint8(float32(r.Tint.A) * a),
	}
}
