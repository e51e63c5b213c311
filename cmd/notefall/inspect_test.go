package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cbegin/notefall-go/internal/timeline"
)

func TestPrintSummary(t *testing.T) {
	tl := timeline.Normalize(timeline.Decoded{
		Name:       "etude",
		TrackNames: []string{"right hand", "left hand"},
		Tracks: [][]timeline.DecodedNote{
			{{Pitch: 72, Start: 0, End: 1, Velocity: 0.5}, {Pitch: 74, Start: 1, End: 2, Velocity: 0.5}},
			{{Pitch: 48, Start: 0, End: 2, Velocity: 0.5}},
		},
		Tempos: []timeline.TempoChange{{Time: 0, BPM: 120}},
	})
	var buf bytes.Buffer
	printSummary(&buf, tl, 2)
	out := buf.String()
	for _, want := range []string{"name:     etude", "notes:    3", "right hand", "left hand", "120.00 bpm", "first notes:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "id:       "+tl.ID.String()) {
		t.Fatalf("summary does not identify the load:\n%s", out)
	}
	if got := strings.Count(out, "pitch"); got != 2 {
		t.Fatalf("listed %d notes, want 2", got)
	}
}

func TestMutedSet(t *testing.T) {
	m := mutedSet([]int{1, 3})
	if !m[1] || !m[3] || m[0] || len(m) != 2 {
		t.Fatalf("mutedSet = %v", m)
	}
}
