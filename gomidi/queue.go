// Package gomidi feeds live MIDI input into the engine. Queue does the
// timing and works without cgo; Context opens hardware ports through
// rtmididrv and needs cgo.
package gomidi

import (
	"github.com/vsariola/tracklane"
	"gitlab.com/gomidi/midi/v2"
)

type (
	// Queue turns timestamped MIDI messages into block relative events. The
	// first message received plays at the start of the next block; after
	// that, the message clock is kept in step with the audio clock by
	// nudging it a fifth of the observed drift at a time.
	Queue struct {
		sampleRate    int
		events        chan timestampedMsg
		pending       []timestampedMsg
		index         int
		startFrame    int
		startFrameSet bool
	}

	timestampedMsg struct {
		frame int
		msg   midi.Message
	}
)

const queueSize = 1024

func NewQueue(sampleRate int) *Queue {
	return &Queue{
		sampleRate: sampleRate,
		events:     make(chan timestampedMsg, queueSize),
		pending:    make([]timestampedMsg, 0, queueSize),
	}
}

// HandleMessage queues a message received timestampms milliseconds after
// the port was opened. It is safe to call from the driver goroutine. If the
// queue is full, the message is dropped.
func (q *Queue) HandleMessage(msg midi.Message, timestampms int32) {
	select {
	case q.events <- timestampedMsg{frame: int(int64(timestampms) * int64(q.sampleRate) / 1000), msg: msg}:
	default:
	}
}

// NextEvent returns the next channel message that falls before frames in
// the current block. Messages that are due later stay queued.
func (q *Queue) NextEvent(frames int) (event tracklane.MIDIEvent, ok bool) {
F:
	for len(q.pending) < cap(q.pending) {
		select {
		case m := <-q.events:
			q.pending = append(q.pending, m)
			if !q.startFrameSet {
				q.startFrame = m.frame
				q.startFrameSet = true
			}
		default:
			break F
		}
	}
	for q.index < len(q.pending) {
		m := q.pending[q.index]
		f := m.frame - q.startFrame
		if f >= frames {
			return tracklane.MIDIEvent{}, false
		}
		q.index++
		if f < 0 {
			// consumed late: pull the clock towards the message
			q.startFrame += f / 5
			f = 0
		}
		if ev, ok := tracklane.EventFromMessage(f, m.msg); ok {
			return ev, true
		}
	}
	return tracklane.MIDIEvent{}, false
}

// FinishBlock drops the consumed messages and advances the clock.
func (q *Queue) FinishBlock(frames int) {
	q.startFrame += frames
	n := copy(q.pending, q.pending[q.index:])
	q.pending = q.pending[:n]
	q.index = 0
	if n > 0 {
		// pending messages are early: push the clock towards them
		if delta := q.pending[0].frame - q.startFrame; delta > frames {
			q.startFrame += (delta - frames) / 5
		}
	}
}
