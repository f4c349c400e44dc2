package tracklane_test

import (
	"math"
	"reflect"
	"testing"

	"github.com/vsariola/tracklane"
)

func played(c *tracklane.MIDIClip, from, to float64) []tracklane.PlayedNote {
	var ret []tracklane.PlayedNote
	c.EachPlayed(from, to, func(p tracklane.PlayedNote) { ret = append(ret, p) })
	return ret
}

func starts(notes []tracklane.PlayedNote) []float64 {
	var ret []float64
	for _, n := range notes {
		ret = append(ret, n.StartBeat)
	}
	return ret
}

func TestQuantizeBeat(t *testing.T) {
	tests := []struct {
		name string
		q    tracklane.Quantize
		beat float64
		want float64
	}{
		{"disabled", tracklane.Quantize{Strength: 1}, 1.3, 1.3},
		{"no strength", tracklane.Quantize{Grid: 0.25}, 0.3, 0.3},
		{"full strength", tracklane.Quantize{Grid: 0.25, Strength: 1}, 0.3, 0.25},
		{"half strength", tracklane.Quantize{Grid: 0.25, Strength: 0.5}, 0.3, 0.275},
		{"swing on odd step", tracklane.Quantize{Grid: 0.5, Strength: 1, Swing: 0.5}, 0.5, 0.625},
		{"no swing on even step", tracklane.Quantize{Grid: 0.5, Strength: 1, Swing: 0.5}, 1.1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Beat(tt.beat); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("Beat(%v) = %v, want %v", tt.beat, got, tt.want)
			}
		})
	}
}

func TestEachPlayedLoops(t *testing.T) {
	c := tracklane.MIDIClip{StartBeat: 4, LengthBeats: 4, ContentBeats: 1, Loop: true, Notes: []tracklane.Note{
		{Pitch: 60, Velocity: 100, StartBeat: 0, LengthBeats: 0.5},
	}}
	if got, want := starts(played(&c, 0, 10)), []float64{4, 5, 6, 7}; !reflect.DeepEqual(got, want) {
		t.Fatalf("starts = %v, want %v", got, want)
	}
	if got, want := starts(played(&c, 5.6, 6.5)), []float64{6}; !reflect.DeepEqual(got, want) {
		t.Fatalf("starts in window = %v, want %v", got, want)
	}
	c.Loop = false
	if got, want := starts(played(&c, 0, 10)), []float64{4}; !reflect.DeepEqual(got, want) {
		t.Fatalf("starts without loop = %v, want %v", got, want)
	}
	c.Muted = true
	if got := played(&c, 0, 10); len(got) != 0 {
		t.Fatalf("muted clip played %v", got)
	}
}

func TestEachPlayedWrapsAroundContent(t *testing.T) {
	c := tracklane.MIDIClip{LengthBeats: 2, ContentOffset: 0.5, Notes: []tracklane.Note{
		{Pitch: 60, Velocity: 100, StartBeat: 1, LengthBeats: 1},
	}}
	want := []tracklane.PlayedNote{
		{Pitch: 60, Velocity: 100, StartBeat: 1.5, EndBeat: 2},
		{Pitch: 60, Velocity: 100, StartBeat: 0, EndBeat: 0.5},
	}
	if got := played(&c, 0, 2); !reflect.DeepEqual(got, want) {
		t.Fatalf("played %v, want %v", got, want)
	}
}

func TestEachPlayedClampsPitchAndVelocity(t *testing.T) {
	tests := []struct {
		name                string
		transpose, velocity int
		note                tracklane.Note
		pitch, vel          byte
	}{
		{"up", 10, -200, tracklane.Note{Pitch: 125, Velocity: 50}, 127, 1},
		{"down", -100, 100, tracklane.Note{Pitch: 60, Velocity: 100}, 0, 127},
		{"unchanged", 0, 0, tracklane.Note{Pitch: 64, Velocity: 80}, 64, 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.note.LengthBeats = 1
			c := tracklane.MIDIClip{LengthBeats: 1, Transpose: tt.transpose, VelocityOffset: tt.velocity, Notes: []tracklane.Note{tt.note}}
			got := played(&c, 0, 1)
			if len(got) != 1 || got[0].Pitch != tt.pitch || got[0].Velocity != tt.vel {
				t.Fatalf("played %v, want pitch %d velocity %d", got, tt.pitch, tt.vel)
			}
		})
	}
}

func TestEachPlayedSkipsNotesOutsideContent(t *testing.T) {
	c := tracklane.MIDIClip{LengthBeats: 4, ContentBeats: 1, Loop: true, Notes: []tracklane.Note{
		{Pitch: 60, Velocity: 100, StartBeat: 1.5, LengthBeats: 0.5},
		{Pitch: 61, Velocity: 100, StartBeat: -0.5, LengthBeats: 1},
		{Pitch: 62, Velocity: 100, StartBeat: 0.5, LengthBeats: 0},
	}}
	if got := played(&c, 0, 4); len(got) != 0 {
		t.Fatalf("played %v", got)
	}
}

func TestEachPlayedQuantizes(t *testing.T) {
	c := tracklane.MIDIClip{LengthBeats: 1, Quantize: tracklane.Quantize{Grid: 0.5, Strength: 1}, Notes: []tracklane.Note{
		{Pitch: 60, Velocity: 100, StartBeat: 0.2, LengthBeats: 0.1},
	}}
	got := played(&c, 0, 1)
	if len(got) != 1 || got[0].StartBeat != 0 || got[0].EndBeat != 0.5 {
		t.Fatalf("played %v, want a note from 0 to 0.5", got)
	}
}

func TestSplitLoopedMIDIClip(t *testing.T) {
	c := tracklane.MIDIClip{ID: "c", LengthBeats: 4, ContentBeats: 1, Loop: true, Notes: []tracklane.Note{
		{ID: "n", Pitch: 60, Velocity: 100, StartBeat: 0, LengthBeats: 0.5},
	}}
	first, second, ok := c.Split(1.5)
	if !ok {
		t.Fatalf("Split(1.5) failed")
	}
	if first.ID != "c" || second.ID == "c" || second.ID == "" || second.Notes[0].ID == "n" {
		t.Fatalf("ids %q, %q, note %q", first.ID, second.ID, second.Notes[0].ID)
	}
	if first.EndBeat() != 1.5 || second.StartBeat != 1.5 || second.EndBeat() != 4 {
		t.Fatalf("parts %v..%v and %v..%v", first.StartBeat, first.EndBeat(), second.StartBeat, second.EndBeat())
	}
	got := append(starts(played(&first, 0, 4)), starts(played(&second, 0, 4))...)
	if want := starts(played(&c, 0, 4)); !reflect.DeepEqual(got, want) {
		t.Fatalf("split clips play %v, want %v", got, want)
	}
}

func TestSplitMIDIClip(t *testing.T) {
	c := tracklane.MIDIClip{ID: "c", LengthBeats: 4, Notes: []tracklane.Note{
		{Pitch: 60, Velocity: 100, StartBeat: 0, LengthBeats: 1},
		{Pitch: 62, Velocity: 100, StartBeat: 1.5, LengthBeats: 1},
		{Pitch: 64, Velocity: 100, StartBeat: 3, LengthBeats: 0.5},
	}}
	for _, beat := range []float64{0, 4, -1, 5} {
		if _, _, ok := c.Split(beat); ok {
			t.Fatalf("Split(%v) succeeded", beat)
		}
	}
	first, second, ok := c.Split(2)
	if !ok {
		t.Fatalf("Split(2) failed")
	}
	wantFirst := []tracklane.PlayedNote{
		{Pitch: 60, Velocity: 100, StartBeat: 0, EndBeat: 1},
		{Pitch: 62, Velocity: 100, StartBeat: 1.5, EndBeat: 2},
	}
	if got := played(&first, 0, 4); !reflect.DeepEqual(got, wantFirst) {
		t.Fatalf("first part played %v, want %v", got, wantFirst)
	}
	wantSecond := []tracklane.PlayedNote{
		{Pitch: 62, Velocity: 100, StartBeat: 2, EndBeat: 2.5},
		{Pitch: 64, Velocity: 100, StartBeat: 3, EndBeat: 3.5},
	}
	if got := played(&second, 0, 4); !reflect.DeepEqual(got, wantSecond) {
		t.Fatalf("second part played %v, want %v", got, wantSecond)
	}
	if len(c.Notes) != 3 || c.LengthBeats != 4 {
		t.Fatalf("original clip changed: %+v", c)
	}
}

func TestSplitAudioClip(t *testing.T) {
	c := tracklane.AudioClip{ID: "a", Name: "kick", StartBeat: 2, LengthBeats: 4, OffsetBeats: 1, Gain: 1, FadeIn: 0.5, FadeOut: 1}
	if _, _, ok := c.Split(2); ok {
		t.Fatalf("split at the clip start")
	}
	first, second, ok := c.Split(3)
	if !ok {
		t.Fatalf("Split(3) failed")
	}
	wantFirst := tracklane.AudioClip{ID: "a", Name: "kick", StartBeat: 2, LengthBeats: 1, OffsetBeats: 1, Gain: 1, FadeIn: 0.5}
	if !reflect.DeepEqual(first, wantFirst) {
		t.Fatalf("first = %+v, want %+v", first, wantFirst)
	}
	wantSecond := tracklane.AudioClip{ID: second.ID, Name: "kick (2)", StartBeat: 3, LengthBeats: 3, OffsetBeats: 2, Gain: 1, FadeOut: 1}
	if second.ID == "a" || !reflect.DeepEqual(second, wantSecond) {
		t.Fatalf("second = %+v, want %+v", second, wantSecond)
	}
}

func TestDuplicateClips(t *testing.T) {
	m := tracklane.MIDIClip{ID: "m", StartBeat: 1, LengthBeats: 2, Notes: []tracklane.Note{{ID: "n", Pitch: 60, Velocity: 1, LengthBeats: 1}}}
	d := m.Duplicate()
	if d.ID == "m" || d.StartBeat != 3 || d.LengthBeats != 2 || d.Notes[0].ID == "n" || d.Notes[0].Pitch != 60 {
		t.Fatalf("duplicate = %+v", d)
	}
	d.Notes[0].Pitch = 10
	if m.Notes[0].Pitch != 60 {
		t.Fatalf("duplicate shares notes with the original")
	}
	a := tracklane.AudioClip{ID: "a", StartBeat: 4, LengthBeats: 0.5, Gain: 1}
	if da := a.Duplicate(); da.ID == "a" || da.StartBeat != 4.5 || da.LengthBeats != 0.5 {
		t.Fatalf("duplicate = %+v", da)
	}
}
