package timeline

import "github.com/google/uuid"

const (
	MinPitch    = 0
	MaxPitch    = 127
	MinVelocity = 0
	MaxVelocity = 127
)

// NoteEvent is one note of a loaded song, in absolute seconds.
type NoteEvent struct {
	ID       string
	Pitch    int
	Start    float64
	End      float64
	Duration float64
	Velocity int
	TrackID  int
}

// Sounding reports whether t falls inside [Start, End].
func (n NoteEvent) Sounding(t float64) bool {
	return t >= n.Start && t <= n.End
}

// TempoChange is informational; decoded note times already include it.
type TempoChange struct {
	Time float64
	BPM  float64
}

// ParsedTimeline is the immutable, start-sorted note list of one loaded song.
// A reload replaces the whole value; Notes is never mutated after Normalize.
type ParsedTimeline struct {
	ID         uuid.UUID
	Name       string
	Duration   float64
	Notes      []NoteEvent
	TrackCount int
	TrackNames []string
	Tempos     []TempoChange
}

// Len returns the number of notes, 0 for a nil timeline.
func (tl *ParsedTimeline) Len() int {
	if tl == nil {
		return 0
	}
	return len(tl.Notes)
}

// DecodedNote is a note as handed over by a file decoder. Velocity is a
// 0..1 fraction, or a MIDI velocity when above 1.
type DecodedNote struct {
	Pitch    int
	Start    float64
	End      float64
	Velocity float64
}

// Decoded is multi-track decoder output already converted to seconds.
// TrackNames is optional and parallel to Tracks.
type Decoded struct {
	Name       string
	Tracks     [][]DecodedNote
	TrackNames []string
	Tempos     []TempoChange
}

// FirstStartAtOrAfter returns the index of the first note with Start >= t,
// or len(notes) if there is none. notes must be sorted by Start.
func FirstStartAtOrAfter(notes []NoteEvent, t float64) int {
	lo, hi := 0, len(notes)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if notes[mid].Start < t {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
