package engine

import (
	"sync"
	"time"

	"github.com/vsariola/tracklane"
	"github.com/vsariola/tracklane/command"
)

type (
	// Broker is the centralized message broker of the engine. It connects
	// the command processor, the audio engine and the UI. Every connection
	// is one-directional and, seen from the audio engine, non-blocking:
	//
	//	UI -> Processor                 Commands (unbounded queue)
	//	Processor -> Engine             ToEngine (realtime commands, FIFO)
	//	Processor -> Engine             Snapshots (latest wins)
	//	Engine -> Processor             ToProcessor (recordings, disposed plugins)
	//	Engine, Processor -> UI         ToUI (lossy telemetry and alerts)
	//
	// Additionally, the broker has a sync.Pool for *tracklane.AudioBuffers,
	// from which the engine can get buffers to hand recorded audio to the
	// processor without allocating every time.
	Broker struct {
		Commands    *CommandQueue
		ToEngine    chan RealtimeCommand
		Snapshots   *SnapshotSlot
		ToProcessor chan MsgToProcessor
		ToUI        chan MsgToUI

		bufferPool sync.Pool
	}

	// MsgToProcessor is sent by the audio engine to the command processor.
	// Data is one of:
	//
	//	*tracklane.AudioBuffer  recorded input, starting at Position
	//	*MIDIRecording          recording stopped; the recorded MIDI events
	//	*PluginBinding          a torn down plugin instance to be closed
	MsgToProcessor struct {
		Data     any
		Position float64
	}

	// MsgToUI is sent to the UI. The frequently sent data (position, levels
	// and performance) is not boxed to avoid allocations in the audio
	// callback; infrequent messages (alerts, export progress, recordings) go
	// into Data.
	MsgToUI struct {
		HasPosition bool
		Position    float64 // in samples
		Beat        float64
		Playing     bool
		Recording   bool

		HasLevels   bool
		Version     uint64 // snapshot version the track levels refer to
		Master      Level
		NumTracks   int
		TrackPeaks  [MaxMeteredTracks][2]float32
		Performance Performance

		Data any
	}
)

const (
	RealtimeQueueSize  = 256
	UIQueueSize        = 256
	ProcessorQueueSize = 256
	MaxMeteredTracks   = 64
)

func NewBroker() *Broker {
	return &Broker{
		Commands:    NewCommandQueue(),
		ToEngine:    make(chan RealtimeCommand, RealtimeQueueSize),
		Snapshots:   NewSnapshotSlot(),
		ToProcessor: make(chan MsgToProcessor, ProcessorQueueSize),
		ToUI:        make(chan MsgToUI, UIQueueSize),
		bufferPool:  sync.Pool{New: func() interface{} { return &tracklane.AudioBuffer{} }},
	}
}

// GetAudioBuffer returns an audio buffer from the buffer pool. The buffer is
// guaranteed to be empty. After using the buffer, it should be returned to
// the pool with PutAudioBuffer.
func (b *Broker) GetAudioBuffer() *tracklane.AudioBuffer {
	return b.bufferPool.Get().(*tracklane.AudioBuffer)
}

// PutAudioBuffer returns an audio buffer to the buffer pool. If the buffer
// is not empty, its length is reset (but capacity kept) before returning it
// to the pool.
func (b *Broker) PutAudioBuffer(buf *tracklane.AudioBuffer) {
	if len(*buf) > 0 {
		*buf = (*buf)[:0]
	}
	b.bufferPool.Put(buf)
}

// Alert sends an alert to the UI without blocking.
func (b *Broker) Alert(name, message string, priority AlertPriority) {
	TrySend(b.ToUI, MsgToUI{Data: Alert{Name: name, Message: message, Priority: priority, Duration: defaultAlertDuration}})
}

// TrySend is a helper function to send a value to a channel if it is not
// full. It is guaranteed to be non-blocking. Return true if the value was
// sent, false otherwise.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive is a helper function to block until a value is received
// from a channel, or timing out after t. ok will be false if the timeout
// occurred or if the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}

// SnapshotSlot hands graph snapshots from the processor to the engine. It
// holds at most one snapshot; sending overwrites a snapshot the engine has
// not picked up yet, so the engine always gets the most recent one and may
// skip intermediate ones. There must be only one sender.
type SnapshotSlot struct {
	c chan *GraphSnapshot
}

func NewSnapshotSlot() *SnapshotSlot {
	return &SnapshotSlot{c: make(chan *GraphSnapshot, 1)}
}

// Send stores the snapshot, dropping any unread one. Never blocks.
func (s *SnapshotSlot) Send(snap *GraphSnapshot) {
	for {
		select {
		case s.c <- snap:
			return
		default:
		}
		select {
		case <-s.c:
		default:
		}
	}
}

// TryReceive takes the pending snapshot, if any. Never blocks.
func (s *SnapshotSlot) TryReceive() (*GraphSnapshot, bool) {
	select {
	case snap := <-s.c:
		return snap, true
	default:
		return nil, false
	}
}

// CommandQueue is the unbounded FIFO of control commands consumed by the
// processor. Push never blocks, so the UI never waits on the processor.
type CommandQueue struct {
	mu     sync.Mutex
	items  []command.Command
	notify chan struct{}
}

func NewCommandQueue() *CommandQueue {
	return &CommandQueue{notify: make(chan struct{}, 1)}
}

func (q *CommandQueue) Push(cmd command.Command) {
	q.mu.Lock()
	q.items = append(q.items, cmd)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Ready is signaled whenever commands may be waiting; call Drain after
// receiving from it.
func (q *CommandQueue) Ready() <-chan struct{} {
	return q.notify
}

// Drain removes and returns every queued command in FIFO order.
func (q *CommandQueue) Drain() []command.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
