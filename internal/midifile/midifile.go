// Package midifile decodes Standard MIDI Files into timeline input.
package midifile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/notefall-go/internal/timeline"
)

var ErrNoNotes = errors.New("midifile: no notes")

type noteKey struct {
	channel, key uint8
}

type openNote struct {
	start    float64
	velocity uint8
}

// ReadFile decodes the SMF at path. The file name without extension becomes
// the timeline name unless the file carries a sequence name.
func ReadFile(path string) (timeline.Decoded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return timeline.Decoded{}, fmt.Errorf("read midi file: %w", err)
	}
	d, err := Decode(bytes.NewReader(data))
	if err != nil {
		return d, err
	}
	if d.Name == "" {
		d.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return d, nil
}

// Decode reads an SMF and converts every track containing notes into
// absolute-second notes using the file's tempo map. Tracks without notes
// (tempo and conductor tracks) are left out. Notes still held at the end of
// a track are closed there.
func Decode(r io.Reader) (d timeline.Decoded, err error) {
	// gomidi can panic on malformed input.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("parse midi file: %v", rec)
		}
	}()

	s, err := smf.ReadFrom(r)
	if err != nil {
		return timeline.Decoded{}, fmt.Errorf("parse midi file: %w", err)
	}

	seconds := func(absTicks int64) float64 {
		return float64(s.TimeAt(absTicks)) / 1e6
	}

	for i, track := range s.Tracks {
		var (
			absTicks int64
			name     string
			notes    []timeline.DecodedNote
			open     = make(map[noteKey][]openNote)
		)
		for _, ev := range track {
			absTicks += int64(ev.Delta)
			var ch, key, vel uint8
			var text string
			switch {
			case ev.Message.GetNoteOn(&ch, &key, &vel) && vel > 0:
				k := noteKey{ch, key}
				open[k] = append(open[k], openNote{start: seconds(absTicks), velocity: vel})
			case ev.Message.GetNoteOn(&ch, &key, &vel), ev.Message.GetNoteOff(&ch, &key, &vel):
				k := noteKey{ch, key}
				held := open[k]
				if len(held) == 0 {
					continue
				}
				on := held[0]
				open[k] = held[1:]
				notes = append(notes, timeline.DecodedNote{
					Pitch:    int(key),
					Start:    on.start,
					End:      seconds(absTicks),
					Velocity: float64(on.velocity) / 127,
				})
			case ev.Message.GetMetaTrackName(&text):
				name = text
			}
		}
		end := seconds(absTicks)
		for k, held := range open {
			for _, on := range held {
				notes = append(notes, timeline.DecodedNote{
					Pitch:    int(k.key),
					Start:    on.start,
					End:      end,
					Velocity: float64(on.velocity) / 127,
				})
			}
		}
		if len(notes) == 0 {
			if i == 0 && name != "" {
				d.Name = name
			}
			continue
		}
		d.Tracks = append(d.Tracks, notes)
		d.TrackNames = append(d.TrackNames, name)
	}

	for _, tc := range s.TempoChanges() {
		d.Tempos = append(d.Tempos, timeline.TempoChange{Time: seconds(tc.AbsTicks), BPM: tc.BPM})
	}

	if len(d.Tracks) == 0 {
		return d, ErrNoNotes
	}
	return d, nil
}

// Load decodes and normalizes the SMF at path.
func Load(path string) (*timeline.ParsedTimeline, error) {
	d, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return timeline.Normalize(d), nil
}
