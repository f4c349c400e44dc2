package gomidi_test

import (
	"testing"

	"github.com/vsariola/tracklane"
	"github.com/vsariola/tracklane/gomidi"
	"gitlab.com/gomidi/midi/v2"
)

func drain(q *gomidi.Queue, frames int) []tracklane.MIDIEvent {
	var ret []tracklane.MIDIEvent
	for {
		ev, ok := q.NextEvent(frames)
		if !ok {
			break
		}
		ret = append(ret, ev)
	}
	q.FinishBlock(frames)
	return ret
}

func TestQueueTiming(t *testing.T) {
	q := gomidi.NewQueue(1000) // one frame per millisecond
	q.HandleMessage(midi.NoteOn(0, 60, 100), 500)
	q.HandleMessage(midi.NoteOff(0, 60), 550)
	q.HandleMessage(midi.NoteOn(1, 62, 90), 700)
	got := drain(q, 100)
	want := []tracklane.MIDIEvent{
		{Frame: 0, Status: tracklane.MIDINoteOn, Data1: 60, Data2: 100},
		{Frame: 50, Status: tracklane.MIDINoteOff, Data1: 60},
	}
	if len(got) != len(want) {
		t.Fatalf("first block got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %v, want %v", i, got[i], want[i])
		}
	}
	if got := drain(q, 100); len(got) != 0 {
		t.Fatalf("second block got %v, want nothing", got)
	}
	got = drain(q, 100)
	if len(got) != 1 || got[0].Frame != 0 || got[0].Channel() != 1 || got[0].Data1 != 62 {
		t.Fatalf("third block got %v", got)
	}
}

func TestQueueSkipsNonChannelMessages(t *testing.T) {
	q := gomidi.NewQueue(44100)
	q.HandleMessage(midi.Message{0xF8}, 0) // clock
	q.HandleMessage(midi.ControlChange(2, 7, 100), 0)
	got := drain(q, 512)
	if len(got) != 1 || got[0].Status != tracklane.MIDIControlChange|2 {
		t.Fatalf("got %v, want the control change only", got)
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := gomidi.NewQueue(44100)
	for i := 0; i < 5000; i++ {
		q.HandleMessage(midi.NoteOn(0, 60, 1), 0)
	}
	if n := len(drain(q, 512)); n != 1024 {
		t.Fatalf("got %d events, want the 1024 that fit", n)
	}
}
