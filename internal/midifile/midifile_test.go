package midifile

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

func encode(t *testing.T, tracks ...smf.Track) []byte {
	t.Helper()
	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(480)
	for _, tr := range tracks {
		if err := sm.Add(tr); err != nil {
			t.Fatalf("add track: %v", err)
		}
	}
	var buf bytes.Buffer
	if _, err := sm.WriteTo(&buf); err != nil {
		t.Fatalf("write smf: %v", err)
	}
	return buf.Bytes()
}

func tempoTrack(bpm float64) smf.Track {
	var tr smf.Track
	tr.Add(0, smf.MetaTempo(bpm))
	tr.Close(0)
	return tr
}

func TestDecodeNotesInSeconds(t *testing.T) {
	var melody smf.Track
	melody.Add(0, midi.NoteOn(0, 60, 127))
	melody.Add(480, midi.NoteOff(0, 60))
	melody.Add(480, midi.NoteOn(0, 64, 64))
	// Note-on with zero velocity ends a note.
	melody.Add(240, midi.NoteOn(0, 64, 0))
	melody.Close(0)

	d, err := Decode(bytes.NewReader(encode(t, tempoTrack(120), melody)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(d.Tracks) != 1 {
		t.Fatalf("tracks = %d, want 1 (tempo track dropped)", len(d.Tracks))
	}
	notes := d.Tracks[0]
	if len(notes) != 2 {
		t.Fatalf("notes = %#v", notes)
	}
	if n := notes[0]; n.Pitch != 60 || n.Start != 0 || n.End != 0.5 || n.Velocity != 1 {
		t.Fatalf("first note = %#v", n)
	}
	if n := notes[1]; n.Pitch != 64 || n.Start != 1 || n.End != 1.25 {
		t.Fatalf("second note = %#v", n)
	}
	if len(d.Tempos) == 0 || d.Tempos[0].BPM != 120 || d.Tempos[0].Time != 0 {
		t.Fatalf("tempos = %#v", d.Tempos)
	}
}

func TestDecodeTempoMap(t *testing.T) {
	var melody smf.Track
	melody.Add(0, midi.NoteOn(0, 60, 100))
	melody.Add(960, midi.NoteOff(0, 60))
	melody.Close(0)

	d, err := Decode(bytes.NewReader(encode(t, tempoTrack(60), melody)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Two beats at 60 bpm.
	if got := d.Tracks[0][0].End; got != 2 {
		t.Fatalf("end = %v, want 2", got)
	}
}

func TestDecodeClosesHeldNotesAtTrackEnd(t *testing.T) {
	var melody smf.Track
	melody.Add(0, midi.NoteOn(1, 50, 90))
	melody.Close(480)

	d, err := Decode(bytes.NewReader(encode(t, tempoTrack(120), melody)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n := d.Tracks[0][0]; n.End != 0.5 {
		t.Fatalf("held note end = %v, want 0.5", n.End)
	}
}

func TestDecodeOverlappingSameKey(t *testing.T) {
	var melody smf.Track
	melody.Add(0, midi.NoteOn(0, 60, 100))
	melody.Add(240, midi.NoteOn(0, 60, 100))
	melody.Add(240, midi.NoteOff(0, 60))
	melody.Add(240, midi.NoteOff(0, 60))
	melody.Close(0)

	d, err := Decode(bytes.NewReader(encode(t, tempoTrack(120), melody)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	notes := d.Tracks[0]
	if len(notes) != 2 || notes[0].Start != 0 || notes[0].End != 0.5 || notes[1].Start != 0.25 || notes[1].End != 0.75 {
		t.Fatalf("overlapping notes = %#v", notes)
	}
}

func TestDecodeNoNotes(t *testing.T) {
	_, err := Decode(bytes.NewReader(encode(t, tempoTrack(100))))
	if !errors.Is(err, ErrNoNotes) {
		t.Fatalf("err = %v, want ErrNoNotes", err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte("MThd garbage"))); err == nil {
		t.Fatalf("garbage decoded")
	}
}

func TestLoadNamesTimelineAfterFile(t *testing.T) {
	var melody smf.Track
	melody.Add(0, midi.NoteOn(0, 60, 100))
	melody.Add(480, midi.NoteOff(0, 60))
	melody.Close(0)

	path := filepath.Join(t.TempDir(), "etude.mid")
	if err := os.WriteFile(path, encode(t, tempoTrack(120), melody), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tl, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tl.Name != "etude" || tl.Len() != 1 || tl.Duration != 0.5 {
		t.Fatalf("timeline = %q, %d notes, %vs", tl.Name, tl.Len(), tl.Duration)
	}
}
