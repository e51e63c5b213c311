package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cbegin/notefall-go/internal/midifile"
	"github.com/cbegin/notefall-go/internal/timeline"
)

var inspectNotes int

func init() {
	inspectCmd.Flags().IntVarP(&inspectNotes, "notes", "n", 10, "number of leading notes to list")
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.mid>",
	Short: "Summarizes a MIDI file as a note timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tl, err := midifile.Load(args[0])
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), tl, inspectNotes)
		return nil
	},
}

func printSummary(w io.Writer, tl *timeline.ParsedTimeline, notes int) {
	fmt.Fprintf(w, "name:     %s\n", tl.Name)
	fmt.Fprintf(w, "id:       %s\n", tl.ID)
	fmt.Fprintf(w, "duration: %.3fs\n", tl.Duration)
	fmt.Fprintf(w, "notes:    %d\n", tl.Len())
	fmt.Fprintf(w, "tracks:   %d\n", tl.TrackCount)

	counts := make([]int, tl.TrackCount)
	for _, n := range tl.Notes {
		counts[n.TrackID]++
	}
	for i, c := range counts {
		name := ""
		if i < len(tl.TrackNames) {
			name = tl.TrackNames[i]
		}
		fmt.Fprintf(w, "  [%d] %-24s %d notes\n", i, name, c)
	}
	if len(tl.Tempos) > 0 {
		fmt.Fprintln(w, "tempos:")
		for _, t := range tl.Tempos {
			fmt.Fprintf(w, "  %8.3fs  %.2f bpm\n", t.Time, t.BPM)
		}
	}
	if notes > tl.Len() {
		notes = tl.Len()
	}
	if notes > 0 {
		fmt.Fprintln(w, "first notes:")
	}
	for _, n := range tl.Notes[:max(notes, 0)] {
		fmt.Fprintf(w, "  %8.3fs  +%.3fs  pitch %3d  vel %3d  track %d\n", n.Start, n.Duration, n.Pitch, n.Velocity, n.TrackID)
	}
}
