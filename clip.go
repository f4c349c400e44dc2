package tracklane

import "math"

// PlayedNote is a note of a MIDI clip as it sounds: in timeline beats,
// transposed, with the velocity offset applied and quantized.
type PlayedNote struct {
	Pitch     byte
	Velocity  byte
	StartBeat float64
	EndBeat   float64
}

// minNoteBeats keeps quantized notes from collapsing to nothing.
const minNoteBeats = 1e-6

// ContentLength returns the length of the repeating note content in beats.
func (c *MIDIClip) ContentLength() float64 {
	if c.ContentBeats > 0 {
		return c.ContentBeats
	}
	return c.LengthBeats
}

// EachPlayed calls f for every note of the clip that sounds at some point in
// [from, to], in no particular order. A note wrapping around the end of the
// content is played as two notes. f must not keep the clip.
func (c *MIDIClip) EachPlayed(from, to float64, f func(PlayedNote)) {
	end := c.EndBeat()
	content := c.ContentLength()
	if c.Muted || !(content > 0) || to <= c.StartBeat || from >= end {
		return
	}
	repeats := 1
	if c.Loop {
		repeats = max(int(math.Ceil(c.LengthBeats/content)), 1)
	}
	slack := 0.0
	if c.Quantize.Grid > 0 {
		slack = c.Quantize.Grid
	}
	offset := mod(c.ContentOffset, content)
	for k := range repeats {
		repStart := c.StartBeat + float64(k)*content
		repEnd := min(repStart+content, end)
		if repEnd+slack < from || repStart-slack >= to {
			continue
		}
		for _, n := range c.Notes {
			if n.StartBeat < 0 || n.StartBeat >= content || !(n.LengthBeats > 0) {
				continue
			}
			s := mod(n.StartBeat+offset, content)
			e := s + min(n.LengthBeats, content-n.StartBeat)
			c.playSegment(n, repStart, repEnd, s, min(e, content), from, to, f)
			if e > content {
				c.playSegment(n, repStart, repEnd, 0, e-content, from, to, f)
			}
		}
	}
}

func (c *MIDIClip) playSegment(n Note, repStart, repEnd, s, e, from, to float64, f func(PlayedNote)) {
	start := repStart + s
	end := min(repStart+e, repEnd)
	if end <= start {
		return
	}
	p := PlayedNote{
		Pitch:     byte(Clamp(int(n.Pitch)+c.Transpose, 0, 127)),
		Velocity:  byte(Clamp(int(n.Velocity)+c.VelocityOffset, 1, 127)),
		StartBeat: c.Quantize.Beat(start),
	}
	p.EndBeat = max(c.Quantize.Beat(end), p.StartBeat+minNoteBeats)
	if p.EndBeat < from || p.StartBeat >= to {
		return
	}
	f(p)
}

// Beat returns the quantized position of beat.
func (q Quantize) Beat(beat float64) float64 {
	if !(q.Grid > 0) || q.Strength <= 0 {
		return beat
	}
	step := math.Round(beat / q.Grid)
	target := step * q.Grid
	if q.Swing != 0 && int64(step)%2 != 0 {
		target += float64(q.Swing) * 0.5 * q.Grid
	}
	return beat + (target-beat)*float64(Clamp(q.Strength, 0, 1))
}

func mod(x, m float64) float64 {
	r := math.Mod(x, m)
	if r < 0 {
		r += m
	}
	return r
}

// Split cuts the clip at a timeline beat strictly inside it. The first part
// keeps the id and plays exactly what the clip played up to the cut; the
// second part plays the rest and has a new id. Notes sounding across the cut
// are played again from the start of the second part.
func (c *MIDIClip) Split(beat float64) (first, second MIDIClip, ok bool) {
	off := beat - c.StartBeat
	if !(off > 0) || off >= c.LengthBeats {
		return MIDIClip{}, MIDIClip{}, false
	}
	content := c.ContentLength()
	first = c.Copy()
	first.LengthBeats = off
	first.ContentBeats = content
	second = c.Copy()
	second.ID = NewID()
	second.StartBeat = beat
	second.LengthBeats = c.LengthBeats - off
	if c.Loop {
		second.ContentOffset = mod(c.ContentOffset-off, content)
		for i := range second.Notes {
			second.Notes[i].ID = NewID()
		}
		return first, second, true
	}
	// the content plays once, so the second part gets what is left of it
	second.Notes = nil
	second.ContentOffset = 0
	second.ContentBeats = 0
	if rest := content - off; rest > 0 {
		second.ContentBeats = rest
		offset := mod(c.ContentOffset, content)
		for _, n := range c.Notes {
			if n.StartBeat < 0 || n.StartBeat >= content || !(n.LengthBeats > 0) {
				continue
			}
			s := mod(n.StartBeat+offset, content)
			e := s + min(n.LengthBeats, content-n.StartBeat)
			second.keepSegment(n, s, min(e, content), off, rest)
			if e > content {
				second.keepSegment(n, 0, e-content, off, rest)
			}
		}
	}
	return first, second, true
}

// keepSegment adds the part of a note played over content positions [s, e)
// that falls after the cut at off.
func (c *MIDIClip) keepSegment(n Note, s, e, off, rest float64) {
	s, e = max(s, off)-off, min(e-off, rest)
	if e <= s {
		return
	}
	n.ID = NewID()
	n.StartBeat, n.LengthBeats = s, e-s
	c.Notes = append(c.Notes, n)
}

// Duplicate returns a copy of the clip with new ids for the clip and its
// notes, placed right after the clip.
func (c *MIDIClip) Duplicate() MIDIClip {
	ret := c.Copy()
	ret.ID = NewID()
	ret.StartBeat = c.EndBeat()
	for i := range ret.Notes {
		ret.Notes[i].ID = NewID()
	}
	return ret
}

// Split cuts the clip at a timeline beat strictly inside it. The second
// part has a new id and starts further into the same sample data. The fade
// in stays with the first part and the fade out with the second.
func (c *AudioClip) Split(beat float64) (first, second AudioClip, ok bool) {
	off := beat - c.StartBeat
	if !(off > 0) || off >= c.LengthBeats {
		return AudioClip{}, AudioClip{}, false
	}
	first, second = *c, *c
	first.LengthBeats = off
	first.FadeOut = 0
	second.ID = NewID()
	if c.Name != "" {
		second.Name = c.Name + " (2)"
	}
	second.StartBeat = beat
	second.LengthBeats = c.LengthBeats - off
	second.OffsetBeats = c.OffsetBeats + off
	second.FadeIn = 0
	return first, second, true
}

// Duplicate returns a copy of the clip with a new id, placed right after
// the clip. The sample data is shared.
func (c *AudioClip) Duplicate() AudioClip {
	ret := *c
	ret.ID = NewID()
	ret.StartBeat = c.EndBeat()
	return ret
}
