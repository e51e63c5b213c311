package timeline

import (
	"math"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

// Normalize flattens decoded tracks into one start-sorted note list with
// sequential ids. Notes with a pitch outside MinPitch..MaxPitch or a
// non-finite time are dropped; an end before the start is pulled up to it.
func Normalize(d Decoded) *ParsedTimeline {
	total := 0
	for _, tr := range d.Tracks {
		total += len(tr)
	}
	notes := make([]NoteEvent, 0, total)
	for trackID, tr := range d.Tracks {
		for _, dn := range tr {
			if dn.Pitch < MinPitch || dn.Pitch > MaxPitch {
				continue
			}
			if !finite(dn.Start) || !finite(dn.End) {
				continue
			}
			start := math.Max(0, dn.Start)
			end := math.Max(start, dn.End)
			notes = append(notes, NoteEvent{
				Pitch:    dn.Pitch,
				Start:    start,
				End:      end,
				Duration: end - start,
				Velocity: normalizeVelocity(dn.Velocity),
				TrackID:  trackID,
			})
		}
	}
	// Everything downstream binary-searches on Start.
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].Start != notes[j].Start {
			return notes[i].Start < notes[j].Start
		}
		return notes[i].Pitch < notes[j].Pitch
	})

	duration := 0.0
	for i := range notes {
		notes[i].ID = "n" + strconv.Itoa(i)
		if notes[i].End > duration {
			duration = notes[i].End
		}
	}

	tempos := make([]TempoChange, len(d.Tempos))
	copy(tempos, d.Tempos)
	names := make([]string, len(d.Tracks))
	copy(names, d.TrackNames)

	return &ParsedTimeline{
		ID:         uuid.New(),
		Name:       d.Name,
		Duration:   duration,
		Notes:      notes,
		TrackCount: len(d.Tracks),
		TrackNames: names,
		Tempos:     tempos,
	}
}

func normalizeVelocity(v float64) int {
	if !finite(v) {
		return MinVelocity
	}
	// Values above 1 are already on the MIDI scale.
	if v <= 1 {
		v *= MaxVelocity
	}
	iv := int(math.Round(v))
	if iv < MinVelocity {
		return MinVelocity
	}
	if iv > MaxVelocity {
		return MaxVelocity
	}
	return iv
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
