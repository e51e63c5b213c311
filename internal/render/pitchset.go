package render

const numPitches = 128

// pitchSet is a 128-bit set of MIDI pitches.
type pitchSet [numPitches / 64]uint64

func (s *pitchSet) set(p int)      { s[p>>6] |= 1 << uint(p&63) }
func (s *pitchSet) has(p int) bool { return s[p>>6]&(1<<uint(p&63)) != 0 }
func (s *pitchSet) clear()         { *s = pitchSet{} }
