package tracklane_test

import (
	"testing"

	"github.com/vsariola/tracklane"
	"gitlab.com/gomidi/midi/v2"
)

func TestMIDIEventNotes(t *testing.T) {
	tests := []struct {
		name    string
		msg     midi.Message
		on, off bool
	}{
		{"note on", midi.NoteOn(3, 60, 100), true, false},
		{"velocity zero", midi.NoteOn(0, 60, 0), false, true},
		{"note off", midi.NoteOff(15, 60), false, true},
		{"note off with velocity", midi.NoteOffVelocity(1, 60, 64), false, true},
		{"control change", midi.ControlChange(0, 64, 127), false, false},
		{"program change", midi.ProgramChange(0, 5), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := tracklane.EventFromMessage(7, tt.msg)
			if !ok {
				t.Fatalf("EventFromMessage(%v) failed", tt.msg)
			}
			if ev.NoteOn() != tt.on || ev.NoteOff() != tt.off {
				t.Fatalf("%v: NoteOn = %v, NoteOff = %v, want %v, %v", ev, ev.NoteOn(), ev.NoteOff(), tt.on, tt.off)
			}
			if ev.Frame != 7 {
				t.Fatalf("frame = %d, want 7", ev.Frame)
			}
		})
	}
}

func TestEventFromMessageRejectsSystem(t *testing.T) {
	if _, ok := tracklane.EventFromMessage(0, midi.Message{0xF8}); ok {
		t.Fatalf("clock message accepted")
	}
}
