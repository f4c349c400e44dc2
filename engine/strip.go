package engine

import (
	"math"

	"github.com/vsariola/tracklane"
	"golang.org/x/exp/slices"
)

type (
	// strip is the engine side state of one track: its render buffer, the
	// events of the current block, the notes its clips have left sounding
	// and the fallback voices used when a MIDI track has no instrument.
	strip struct {
		buf        tracklane.AudioBuffer
		events     []tracklane.MIDIEvent
		sounding   [128]bool
		voices     [fallbackVoices]sineVoice
		peak       [2]float32
		automation *TrackAutomation
	}

	sineVoice struct {
		pitch     byte
		on        bool
		phase     float64
		step      float64
		amp       float32
		env       float32
		releasing bool
		age       int
	}
)

const (
	maxTrackEvents = 1024
	fallbackVoices = 16
	fallbackGain   = 0.25
	attackTime     = 0.005 // seconds
	releaseTime    = 0.05  // seconds
	silenceLevel   = 1e-4
)

func newStrip(maxBlock int) *strip {
	return &strip{
		buf:    make(tracklane.AudioBuffer, maxBlock),
		events: make([]tracklane.MIDIEvent, 0, maxTrackEvents),
	}
}

func (s *strip) addEvent(ev tracklane.MIDIEvent) {
	if len(s.events) < cap(s.events) {
		s.events = append(s.events, ev)
	}
}

// releaseSounding adds note offs at frame 0 for every note the clips left
// sounding.
func (s *strip) releaseSounding() {
	for p, on := range s.sounding {
		if on {
			s.addEvent(tracklane.MIDIEvent{Status: tracklane.MIDINoteOff, Data1: byte(p)})
			s.sounding[p] = false
		}
	}
}

// addPanic adds all notes off and all sound off on every channel.
func (s *strip) addPanic() {
	s.releaseSounding()
	for ch := byte(0); ch < 16; ch++ {
		s.addEvent(tracklane.MIDIEvent{Status: tracklane.MIDIControlChange | ch, Data1: tracklane.MIDIAllNotesOff})
		s.addEvent(tracklane.MIDIEvent{Status: tracklane.MIDIControlChange | ch, Data1: tracklane.MIDIAllSoundOff})
	}
}

// addClipEvents adds the note ons and offs of the MIDI clips that fall in
// the block starting at pos (in samples) with n frames. After a jump of the
// play head, notes that started before the block and are still held are
// started again at frame 0.
func (s *strip) addClipEvents(clips []tracklane.MIDIClip, pos float64, n int, conv tracklane.TimeConverter, jump bool) {
	beat0 := conv.SamplesToBeats(pos)
	beat1 := conv.SamplesToBeats(pos + float64(n))
	frame := func(beat float64) int {
		f := int(math.Floor(conv.BeatsToSamples(beat) - pos))
		return tracklane.Clamp(f, 0, n-1)
	}
	for i := range clips {
		clips[i].EachPlayed(beat0, beat1, func(note tracklane.PlayedNote) {
			on := tracklane.MIDIEvent{Status: tracklane.MIDINoteOn, Data1: note.Pitch, Data2: note.Velocity}
			switch {
			case note.StartBeat >= beat0 && note.StartBeat < beat1:
				on.Frame = frame(note.StartBeat)
				s.addEvent(on)
			case jump && note.StartBeat < beat0 && note.EndBeat > beat0:
				s.addEvent(on)
			}
			if note.EndBeat >= beat0 && note.EndBeat < beat1 {
				s.addEvent(tracklane.MIDIEvent{Frame: frame(note.EndBeat), Status: tracklane.MIDINoteOff, Data1: note.Pitch})
			}
		})
	}
}

// trackSounding updates the notes left sounding from the sorted events of
// the block.
func (s *strip) trackSounding() {
	for _, ev := range s.events {
		switch {
		case ev.NoteOn():
			s.sounding[ev.Data1&0x7F] = true
		case ev.NoteOff():
			s.sounding[ev.Data1&0x7F] = false
		}
	}
}

// sortEvents orders the events by frame; on the same frame, note offs come
// before note ons so a retriggered note is not cut short.
func (s *strip) sortEvents() {
	slices.SortStableFunc(s.events, func(a, b tracklane.MIDIEvent) int {
		if a.Frame != b.Frame {
			return a.Frame - b.Frame
		}
		return eventOrder(a) - eventOrder(b)
	})
}

func eventOrder(e tracklane.MIDIEvent) int {
	switch {
	case e.NoteOff():
		return 0
	case e.NoteOn():
		return 2
	}
	return 1
}

// renderAudioClips mixes the audio clips overlapping the block into buf.
// Clip sample data is resampled with linear interpolation when its rate
// differs from the engine rate.
func renderAudioClips(buf tracklane.AudioBuffer, clips []tracklane.AudioClip, pos float64, conv tracklane.TimeConverter) {
	n := len(buf)
	for i := range clips {
		c := &clips[i]
		if len(c.Samples) == 0 {
			continue
		}
		start := conv.BeatsToSamples(c.StartBeat)
		end := conv.BeatsToSamples(c.EndBeat())
		if end <= pos || start >= pos+float64(n) {
			continue
		}
		ratio := 1.0
		if c.SampleRate > 0 && conv.SampleRate > 0 {
			ratio = float64(c.SampleRate) / conv.SampleRate
		}
		offset := conv.BeatsToSamples(c.OffsetBeats)
		fadeIn := conv.BeatsToSamples(c.FadeIn)
		fadeOut := conv.BeatsToSamples(c.FadeOut)
		i0 := max(0, int(math.Ceil(start-pos)))
		i1 := min(n, int(math.Ceil(end-pos)))
		for j := i0; j < i1; j++ {
			t := pos + float64(j) - start // frames into the clip
			src := (t + offset) * ratio
			idx := int(src)
			if idx < 0 || idx >= len(c.Samples) {
				continue
			}
			v := c.Samples[idx]
			if idx+1 < len(c.Samples) {
				frac := float32(src - float64(idx))
				w := c.Samples[idx+1]
				v[0] += (w[0] - v[0]) * frac
				v[1] += (w[1] - v[1]) * frac
			}
			g := c.Gain
			if fadeIn > 0 && t < fadeIn {
				g *= float32(t / fadeIn)
			}
			if remaining := end - pos - float64(j); fadeOut > 0 && remaining < fadeOut {
				g *= float32(remaining / fadeOut)
			}
			buf[j][0] += v[0] * g
			buf[j][1] += v[1] * g
		}
	}
}

// renderVoices plays the events with simple sine voices. It is the
// instrument of MIDI tracks that have none.
func (s *strip) renderVoices(buf tracklane.AudioBuffer, events []tracklane.MIDIEvent, sampleRate float64) {
	attack := float32(1 / (attackTime * sampleRate))
	release := float32(math.Exp(-1 / (releaseTime * sampleRate)))
	e := 0
	for i := range buf {
		for e < len(events) && events[e].Frame <= i {
			s.handleVoiceEvent(events[e], sampleRate)
			e++
		}
		var sum float32
		for v := range s.voices {
			voice := &s.voices[v]
			if !voice.on {
				continue
			}
			if voice.releasing {
				voice.env *= release
				if voice.env < silenceLevel {
					voice.on = false
					continue
				}
			} else if voice.env < 1 {
				voice.env = min(voice.env+attack, 1)
			}
			sum += float32(math.Sin(voice.phase)) * voice.amp * voice.env
			voice.phase += voice.step
			if voice.phase > 2*math.Pi {
				voice.phase -= 2 * math.Pi
			}
		}
		buf[i][0] += sum
		buf[i][1] += sum
	}
	for e < len(events) {
		s.handleVoiceEvent(events[e], sampleRate)
		e++
	}
}

func (s *strip) handleVoiceEvent(ev tracklane.MIDIEvent, sampleRate float64) {
	switch {
	case ev.NoteOn():
		v := s.freeVoice(ev.Data1)
		*v = sineVoice{
			pitch: ev.Data1,
			on:    true,
			step:  2 * math.Pi * tracklane.NoteFrequency(ev.Data1) / sampleRate,
			amp:   fallbackGain * float32(ev.Data2) / 127,
		}
		for i := range s.voices {
			s.voices[i].age++
		}
	case ev.NoteOff():
		for i := range s.voices {
			if s.voices[i].on && s.voices[i].pitch == ev.Data1 {
				s.voices[i].releasing = true
			}
		}
	case ev.Status&0xF0 == tracklane.MIDIControlChange && (ev.Data1 == tracklane.MIDIAllNotesOff || ev.Data1 == tracklane.MIDIAllSoundOff):
		for i := range s.voices {
			if ev.Data1 == tracklane.MIDIAllSoundOff {
				s.voices[i].on = false
			}
			s.voices[i].releasing = true
		}
	}
}

// freeVoice returns the voice to use for a new note: one already playing
// the pitch, a silent one, or the oldest one.
func (s *strip) freeVoice(pitch byte) *sineVoice {
	oldest := 0
	for i := range s.voices {
		v := &s.voices[i]
		if v.on && v.pitch == pitch {
			return v
		}
		if !v.on {
			return v
		}
		if v.age > s.voices[oldest].age {
			oldest = i
		}
	}
	return &s.voices[oldest]
}

// mixInto adds buf to out with the given gains.
func mixInto(out, buf tracklane.AudioBuffer, left, right float32) {
	for i := range out {
		out[i][0] += buf[i][0] * left
		out[i][1] += buf[i][1] * right
	}
}

// mixAutomated adds buf to out with the volume and pan evaluated at every
// frame, for blocks in which an automation point changes them.
func mixAutomated(out, buf tracklane.AudioBuffer, a *TrackAutomation, volume, pan float32, pos float64, conv tracklane.TimeConverter) {
	for i := range out {
		v, p := a.mix(conv.SamplesToBeats(pos+float64(i)), volume, pan)
		left, right := tracklane.PanGains(v, p)
		out[i][0] += buf[i][0] * left
		out[i][1] += buf[i][1] * right
	}
}

// mix returns the automated volume and pan at beat. Values without a lane
// stay as given.
func (a *TrackAutomation) mix(beat float64, volume, pan float32) (float32, float32) {
	if v, ok := tracklane.PointsValueAt(a.Volume, beat); ok {
		volume = max(v, 0)
	}
	if v, ok := tracklane.PointsValueAt(a.Pan, beat); ok {
		pan = tracklane.PanFromLane(v)
	}
	return volume, pan
}

// changesWithin reports whether a volume or pan point lies in [from, to).
func (a *TrackAutomation) changesWithin(from, to float64) bool {
	for _, points := range [2][]tracklane.AutomationPoint{a.Volume, a.Pan} {
		for _, p := range points {
			if p.Beat >= from && p.Beat < to {
				return true
			}
		}
	}
	return false
}
