package keyboard

const (
	PianoLow  = 21  // A0
	PianoHigh = 108 // C8

	numPitches = 128
	blackRatio = 0.6
)

var blackInOctave = [12]bool{false, true, false, true, false, false, true, false, true, false, true, false}

// Metrics maps pitches to horizontal screen geometry for a piano keyboard.
// Tables are sized once; Layout only rewrites them.
type Metrics struct {
	low, high int
	width     float64
	whiteW    float64
	x         [numPitches]float64
	w         [numPitches]float64
}

// New returns metrics for the inclusive pitch range low..high, clamped to
// valid MIDI pitches.
func New(low, high int) *Metrics {
	low = min(max(low, 0), numPitches-1)
	high = min(max(high, 0), numPitches-1)
	if high < low {
		high = low
	}
	// A range must not start or end on a black key.
	for low > 0 && IsBlack(low) {
		low--
	}
	for high < numPitches-1 && IsBlack(high) {
		high++
	}
	return &Metrics{low: low, high: high}
}

func IsBlack(pitch int) bool {
	if pitch < 0 {
		return false
	}
	return blackInOctave[pitch%12]
}

// Layout recomputes key positions for a keyboard spanning width pixels.
// It reports whether anything changed.
func (m *Metrics) Layout(width float64) bool {
	if width <= 0 || width == m.width {
		return false
	}
	m.width = width
	m.whiteW = width / float64(m.WhiteKeys())
	blackW := m.whiteW * blackRatio
	white := 0
	for p := m.low; p <= m.high; p++ {
		if IsBlack(p) {
			m.x[p] = float64(white)*m.whiteW - blackW/2
			m.w[p] = blackW
			continue
		}
		m.x[p] = float64(white) * m.whiteW
		m.w[p] = m.whiteW
		white++
	}
	return true
}

// WhiteKeys counts the white keys in range.
func (m *Metrics) WhiteKeys() int {
	n := 0
	for p := m.low; p <= m.high; p++ {
		if !IsBlack(p) {
			n++
		}
	}
	return n
}

func (m *Metrics) InRange(pitch int) bool { return pitch >= m.low && pitch <= m.high }
func (m *Metrics) Low() int               { return m.low }
func (m *Metrics) High() int              { return m.high }
func (m *Metrics) Width() float64         { return m.width }
func (m *Metrics) WhiteKeyWidth() float64 { return m.whiteW }

// X returns the left edge of pitch; callers check InRange first.
func (m *Metrics) X(pitch int) float64 { return m.x[pitch] }

// KeyWidth returns the key width of pitch; callers check InRange first.
func (m *Metrics) KeyWidth(pitch int) float64 { return m.w[pitch] }
