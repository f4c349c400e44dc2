package builtin

import (
	"math"

	"github.com/vsariola/tracklane"
)

type (
	// sine is a polyphonic sine synth with a linear attack and an
	// exponential release. Voices are stolen oldest first.
	sine struct {
		sampleRate float64
		level      float32
		attack     float64 // gain increment per sample
		release    float64 // gain multiplier per sample
		voices     [sineVoices]voice
		age        uint64
	}

	voice struct {
		note      byte
		channel   byte
		held      bool
		releasing bool
		gain      float64
		target    float64
		phase     float64
		step      float64
		started   uint64
	}

	// thru passes events from its event input to its event output,
	// transposing notes.
	thru struct{ transpose int }
)

const (
	sineVoices = 16
	silence    = 1e-4
)

func newSine(sampleRate float64, _ int) (kernel, error) {
	return &sine{sampleRate: sampleRate}, nil
}

func (s *sine) set(index int, v float64) error {
	switch index {
	case 0:
		s.level = float32(v)
	case 1:
		samples := v / 1000 * s.sampleRate
		s.attack = 1 / max(samples, 1)
	case 2:
		// reach -80 dB after the release time
		samples := max(v/1000*s.sampleRate, 1)
		s.release = math.Pow(silence, 1/samples)
	}
	return nil
}

func (s *sine) process(ctx tracklane.ProcessContext, bufs *tracklane.ProcessBuffers) {
	out := bufs.Out[0][:ctx.Frames]
	clear(out)
	events := bufs.Events
	from := 0
	for from < len(out) {
		to := len(out)
		for len(events) > 0 && events[0].Frame <= from {
			s.handle(events[0])
			events = events[1:]
		}
		if len(events) > 0 && events[0].Frame < to {
			to = events[0].Frame
		}
		s.render(out[from:to])
		from = to
	}
	for _, ev := range events {
		s.handle(ev)
	}
}

func (s *sine) render(out []float32) {
	for i := range s.voices {
		v := &s.voices[i]
		if v.gain == 0 && !v.held {
			continue
		}
		for j := range out {
			switch {
			case v.releasing:
				v.gain *= s.release
				if v.gain < silence {
					v.gain = 0
				}
			case v.gain < v.target:
				v.gain = min(v.gain+s.attack*v.target, v.target)
			}
			out[j] += float32(math.Sin(v.phase) * v.gain)
			v.phase += v.step
			if v.phase >= 2*math.Pi {
				v.phase -= 2 * math.Pi
			}
		}
		if v.gain == 0 {
			v.held, v.releasing = false, false
		}
	}
}

func (s *sine) handle(ev tracklane.MIDIEvent) {
	switch {
	case ev.NoteOn():
		s.noteOn(ev.Channel(), ev.Data1, ev.Data2)
	case ev.NoteOff():
		for i := range s.voices {
			v := &s.voices[i]
			if v.held && !v.releasing && v.note == ev.Data1 && v.channel == ev.Channel() {
				v.releasing = true
			}
		}
	case ev.Status&0xF0 == tracklane.MIDIControlChange && ev.Data1 == tracklane.MIDIAllSoundOff:
		s.reset()
	case ev.Status&0xF0 == tracklane.MIDIControlChange && ev.Data1 == tracklane.MIDIAllNotesOff:
		for i := range s.voices {
			if s.voices[i].held {
				s.voices[i].releasing = true
			}
		}
	}
}

func (s *sine) noteOn(channel, note, velocity byte) {
	slot := 0
	for i := range s.voices {
		v := &s.voices[i]
		if !v.held {
			slot = i
			break
		}
		if v.started < s.voices[slot].started {
			slot = i
		}
	}
	s.age++
	s.voices[slot] = voice{
		note:    note,
		channel: channel,
		held:    true,
		target:  float64(s.level) * float64(velocity) / 127,
		step:    2 * math.Pi * tracklane.NoteFrequency(note) / s.sampleRate,
		started: s.age,
	}
}

func (s *sine) reset() {
	for i := range s.voices {
		s.voices[i] = voice{}
	}
}

func newThru(float64, int) (kernel, error) { return &thru{}, nil }

func (t *thru) set(_ int, v float64) error {
	t.transpose = int(v)
	return nil
}

func (t *thru) process(_ tracklane.ProcessContext, bufs *tracklane.ProcessBuffers) {
	for _, ev := range bufs.Events {
		if len(bufs.OutEvents) == cap(bufs.OutEvents) {
			return
		}
		if s := ev.Status & 0xF0; s == tracklane.MIDINoteOn || s == tracklane.MIDINoteOff {
			n := int(ev.Data1) + t.transpose
			if n < 0 || n > 127 {
				continue
			}
			ev.Data1 = byte(n)
		}
		bufs.OutEvents = append(bufs.OutEvents, ev)
	}
}

func (t *thru) reset() {}
