package timeline

import (
	"math"
	"testing"
)

func TestNormalizeFlattensAndSorts(t *testing.T) {
	tl := Normalize(Decoded{
		Name: "two tracks",
		Tracks: [][]DecodedNote{
			{{Pitch: 64, Start: 1.0, End: 1.5, Velocity: 0.5}, {Pitch: 60, Start: 0.0, End: 0.5, Velocity: 1}},
			{{Pitch: 48, Start: 0.5, End: 3.0, Velocity: 0.25}},
		},
		Tempos: []TempoChange{{Time: 0, BPM: 120}},
	})
	if tl.Len() != 3 {
		t.Fatalf("expected 3 notes, got %d", tl.Len())
	}
	wantPitches := []int{60, 48, 64}
	for i, n := range tl.Notes {
		if n.Pitch != wantPitches[i] {
			t.Fatalf("note %d pitch = %d, want %d", i, n.Pitch, wantPitches[i])
		}
		if n.ID != "n"+string(rune('0'+i)) {
			t.Fatalf("note %d id = %q", i, n.ID)
		}
		if n.Duration != n.End-n.Start {
			t.Fatalf("note %d duration mismatch: %+v", i, n)
		}
	}
	if tl.Notes[1].TrackID != 1 {
		t.Fatalf("expected track id 1 for second note, got %d", tl.Notes[1].TrackID)
	}
	if tl.Duration != 3.0 {
		t.Fatalf("duration = %v, want 3", tl.Duration)
	}
	if tl.TrackCount != 2 {
		t.Fatalf("track count = %d, want 2", tl.TrackCount)
	}
	if len(tl.Tempos) != 1 || tl.Tempos[0].BPM != 120 {
		t.Fatalf("tempos not carried: %#v", tl.Tempos)
	}
}

func TestNormalizeVelocityRange(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{0, 0},
		{0.5, 64},
		{1, 127},
		{2, 2},
		{100, 100},
		{100.4, 100},
		{200, 127},
		{-1, 0},
		{math.NaN(), 0},
	}
	for _, tc := range cases {
		if got := normalizeVelocity(tc.in); got != tc.want {
			t.Fatalf("normalizeVelocity(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeKeepsMIDIScaleVelocity(t *testing.T) {
	tl := Normalize(Decoded{Tracks: [][]DecodedNote{{{Pitch: 60, Start: 0, End: 1, Velocity: 100}}}})
	if got := tl.Notes[0].Velocity; got != 100 {
		t.Fatalf("velocity 100 normalized to %d", got)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	tl := Normalize(Decoded{})
	if tl.Duration != 0 || tl.Len() != 0 {
		t.Fatalf("expected empty timeline, got %+v", tl)
	}
	var nilTL *ParsedTimeline
	if nilTL.Len() != 0 {
		t.Fatalf("nil timeline should have zero length")
	}
}

func TestNormalizeRepairsAndDrops(t *testing.T) {
	tl := Normalize(Decoded{Tracks: [][]DecodedNote{{
		{Pitch: 200, Start: 0, End: 1},
		{Pitch: 60, Start: math.Inf(1), End: 1},
		{Pitch: 62, Start: 2, End: 1, Velocity: 1},
	}}})
	if tl.Len() != 1 {
		t.Fatalf("expected 1 surviving note, got %d", tl.Len())
	}
	n := tl.Notes[0]
	if n.End != n.Start || n.Duration != 0 {
		t.Fatalf("expected end repaired to start, got %+v", n)
	}
}

func TestFirstStartAtOrAfter(t *testing.T) {
	notes := []NoteEvent{{Start: 0}, {Start: 1}, {Start: 1}, {Start: 2.5}}
	cases := []struct {
		t    float64
		want int
	}{
		{-1, 0}, {0, 0}, {0.5, 1}, {1, 1}, {1.1, 3}, {2.5, 3}, {3, 4},
	}
	for _, tc := range cases {
		if got := FirstStartAtOrAfter(notes, tc.t); got != tc.want {
			t.Fatalf("FirstStartAtOrAfter(%v) = %d, want %d", tc.t, got, tc.want)
		}
	}
	if got := FirstStartAtOrAfter(nil, 1); got != 0 {
		t.Fatalf("empty list should return 0, got %d", got)
	}
}
