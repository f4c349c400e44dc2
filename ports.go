package tracklane

import (
	"errors"
	"fmt"
)

type (
	// PortConfig is the port configuration a plugin declares: the number of
	// audio input and output channels and whether it has an event (MIDI)
	// input and output.
	PortConfig struct {
		AudioIn  int
		AudioOut int
		EventIn  bool `yaml:",omitempty"`
		EventOut bool `yaml:",omitempty"`
	}

	// PortRouter connects a plugin with a given port configuration to a
	// stereo track buffer. It owns the planar scratch buffers for one
	// plugin instance so that Process never allocates.
	PortRouter struct {
		config   PortConfig
		inMode   inputMode
		outMode  outputMode
		maxBlock int

		scratchIn  [2][]float32
		scratchOut [2][]float32
		in         [][]float32
		out        [][]float32

		noEvents  []MIDIEvent
		outEvents []MIDIEvent
		bufs      ProcessBuffers
	}

	inputMode  int
	outputMode int
)

const (
	inputNone   inputMode = iota
	inputMono             // left and right averaged into one channel
	inputStereo           // left and right as is
)

const (
	outputNone   outputMode = iota // the track signal passes through unchanged
	outputMono                     // the single channel is mirrored to both sides
	outputStereo                   // left and right as is
)

// MaxOutEvents is the capacity of the event output buffer of each plugin.
const MaxOutEvents = 512

var ErrUnsupportedPorts = errors.New("unsupported port configuration")

// NewPortRouter chooses the call shape for the port configuration. Every
// combination of 0, 1 or 2 audio inputs, 0, 1 or 2 audio outputs, with or
// without an event input and with or without an event output is supported;
// anything else is an ErrUnsupportedPorts error.
func NewPortRouter(config PortConfig, maxBlock int) (*PortRouter, error) {
	if maxBlock <= 0 {
		return nil, fmt.Errorf("port router: max block must be > 0, got %d", maxBlock)
	}
	r := &PortRouter{config: config, maxBlock: maxBlock}
	switch config.AudioIn {
	case 0:
		r.inMode = inputNone
	case 1:
		r.inMode = inputMono
	case 2:
		r.inMode = inputStereo
	default:
		return nil, fmt.Errorf("%w: %d audio inputs", ErrUnsupportedPorts, config.AudioIn)
	}
	switch config.AudioOut {
	case 0:
		r.outMode = outputNone
	case 1:
		r.outMode = outputMono
	case 2:
		r.outMode = outputStereo
	default:
		return nil, fmt.Errorf("%w: %d audio outputs", ErrUnsupportedPorts, config.AudioOut)
	}
	for i := 0; i < config.AudioIn; i++ {
		r.scratchIn[i] = make([]float32, maxBlock)
	}
	for i := 0; i < config.AudioOut; i++ {
		r.scratchOut[i] = make([]float32, maxBlock)
	}
	r.in = make([][]float32, config.AudioIn)
	r.out = make([][]float32, config.AudioOut)
	if config.EventIn {
		r.noEvents = make([]MIDIEvent, 0)
	}
	if config.EventOut {
		r.outEvents = make([]MIDIEvent, 0, MaxOutEvents)
	}
	return r, nil
}

func (r *PortRouter) Config() PortConfig { return r.config }

// Process runs the instance over buf in place. events are the events for
// this block; they are handed over only if the plugin has an event input,
// and an explicit empty slice is handed over when there are none. The
// returned events are what the plugin emitted on its event output, or the
// incoming events unchanged if it has no event output, so that chains of
// MIDI effects keep working. The returned slice is only valid until the
// next call.
func (r *PortRouter) Process(inst Instance, ctx ProcessContext, buf AudioBuffer, events []MIDIEvent) ([]MIDIEvent, error) {
	n := len(buf)
	if n > r.maxBlock {
		return events, ErrBufferTooLarge
	}
	ctx.Frames = n
	switch r.inMode {
	case inputNone:
	case inputMono:
		l := r.scratchIn[0][:n]
		for i, f := range buf {
			l[i] = (f[0] + f[1]) * 0.5
		}
		r.in[0] = l
	case inputStereo:
		l, rt := r.scratchIn[0][:n], r.scratchIn[1][:n]
		for i, f := range buf {
			l[i], rt[i] = f[0], f[1]
		}
		r.in[0], r.in[1] = l, rt
	}
	for i := range r.out {
		o := r.scratchOut[i][:n]
		clear(o)
		r.out[i] = o
	}
	r.bufs.In = r.in
	r.bufs.Out = r.out
	r.bufs.Events = nil
	if r.config.EventIn {
		if events == nil {
			events = r.noEvents
		}
		r.bufs.Events = events
	}
	r.bufs.OutEvents = nil
	if r.config.EventOut {
		r.bufs.OutEvents = r.outEvents[:0]
	}
	if err := inst.Process(ctx, &r.bufs); err != nil {
		return events, err
	}
	switch r.outMode {
	case outputNone:
	case outputMono:
		o := r.out[0]
		for i := range buf {
			buf[i] = [2]float32{o[i], o[i]}
		}
	case outputStereo:
		l, rt := r.out[0], r.out[1]
		for i := range buf {
			buf[i] = [2]float32{l[i], rt[i]}
		}
	}
	if r.config.EventOut {
		return r.bufs.OutEvents, nil
	}
	return events, nil
}
