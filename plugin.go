package tracklane

import (
	"errors"
	"fmt"

	"gitlab.com/gomidi/midi/v2"
)

type (
	// BackendKind names a plugin backend, i.e. one plugin ABI family or the
	// registry of plugins compiled into the program.
	BackendKind string

	// Addressing tells how a backend's URIs look: bundle backends load
	// plugins from files and use file://<path>#<id>, registry backends use
	// bare identifiers.
	Addressing int

	// HostConfig is given to every backend before it is used.
	HostConfig struct {
		SampleRate float64
		MaxBlock   int
		ScanPaths  []string
	}

	// Backend is one plugin ABI family. Scan lists what the backend can
	// instantiate; Instantiate loads one plugin by URI. Both are called from
	// the control plane, never from the audio callback.
	Backend interface {
		Kind() BackendKind
		Addressing() Addressing
		Init(cfg HostConfig) error
		Scan() ([]PluginInfo, error)
		Instantiate(uri string) (Instance, error)
	}

	// Instance is a live plugin. Process is called from the audio callback
	// and must not allocate, lock or block. SetParam and Param can be called
	// from the audio callback too.
	Instance interface {
		Info() PluginInfo
		Params() []ParamInfo
		Process(ctx ProcessContext, bufs *ProcessBuffers) error
		SetParam(key ParamKey, value float32)
		Param(key ParamKey) (float32, bool)
		Close() error
	}

	// StateSaver is implemented by instances that can save and restore their
	// complete internal state.
	StateSaver interface {
		SaveState() ([]byte, error)
		LoadState(data []byte) error
	}

	PluginInfo struct {
		Backend      BackendKind
		URI          string
		Name         string
		IsInstrument bool
		Ports        PortConfig
	}

	// ParamKey addresses a parameter in a backend specific way: index
	// addressed backends use Index, symbol addressed backends use Symbol.
	ParamKey struct {
		Index  uint32
		Symbol string
	}

	ParamInfo struct {
		Key     ParamKey
		Name    string
		Min     float32
		Max     float32
		Default float32
		Stepped bool `yaml:",omitempty"`
	}

	// ProcessContext describes the block being processed.
	ProcessContext struct {
		Frames      int
		SampleRate  float64
		BPM         float64
		TimeSamples float64 // transport position at the first frame
		Playing     bool
		LoopActive  bool
	}

	// MIDIEvent is a three byte channel message; Frame is relative to the
	// start of the block being processed.
	MIDIEvent struct {
		Frame  int
		Status byte
		Data1  byte
		Data2  byte
	}

	// ProcessBuffers carries the planar audio and the events of one block.
	// In and Out have as many channels as the plugin declared. Events is
	// non-nil whenever the plugin declared an event input, even if there
	// are no events in this block. OutEvents is non-nil only for plugins
	// declaring an event output; plugins append to it without growing it
	// past its capacity.
	ProcessBuffers struct {
		In        [][]float32
		Out       [][]float32
		Events    []MIDIEvent
		OutEvents []MIDIEvent
	}
)

const (
	AddressRegistry Addressing = iota
	AddressBundle
)

const (
	MIDINoteOff       byte = 0x80
	MIDINoteOn        byte = 0x90
	MIDIControlChange byte = 0xB0

	MIDIAllSoundOff byte = 120
	MIDIAllNotesOff byte = 123
)

var (
	ErrBackendNotAvailable = errors.New("plugin backend not available")
	ErrPluginNotFound      = errors.New("plugin not found")
	ErrInvalidURI          = errors.New("invalid plugin uri")
)

// ParamByName finds the key of the parameter with the given name.
func ParamByName(inst Instance, name string) (ParamKey, bool) {
	for _, p := range inst.Params() {
		if p.Name == name || (p.Key.Symbol != "" && p.Key.Symbol == name) {
			return p.Key, true
		}
	}
	return ParamKey{}, false
}

// ApplyParams sets every named value that the instance knows. Unknown
// names are returned so the caller can report them.
func ApplyParams(inst Instance, values map[string]float32) (unknown []string) {
	for name, v := range values {
		key, ok := ParamByName(inst, name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		inst.SetParam(key, v)
	}
	return
}

func (k ParamKey) String() string {
	if k.Symbol != "" {
		return k.Symbol
	}
	return fmt.Sprintf("#%d", k.Index)
}

// EventFromMessage converts a three byte gomidi channel message into a
// MIDIEvent at the given frame.
func EventFromMessage(frame int, msg midi.Message) (MIDIEvent, bool) {
	if len(msg) < 2 || msg[0] < 0x80 || msg[0] >= 0xF0 {
		return MIDIEvent{}, false
	}
	ev := MIDIEvent{Frame: frame, Status: msg[0], Data1: msg[1]}
	if len(msg) > 2 {
		ev.Data2 = msg[2]
	}
	return ev, true
}

// Message returns the event as a gomidi message.
func (e MIDIEvent) Message() midi.Message {
	switch e.Status & 0xF0 {
	case 0xC0, 0xD0:
		return midi.Message{e.Status, e.Data1}
	}
	return midi.Message{e.Status, e.Data1, e.Data2}
}

func (e MIDIEvent) String() string {
	return fmt.Sprintf("@%d %v", e.Frame, e.Message())
}

// NoteOn reports if the event starts a note, treating velocity 0 as a note
// off like the MIDI specification does.
func (e MIDIEvent) NoteOn() bool {
	b := [3]byte{e.Status, e.Data1, e.Data2}
	return midi.Message(b[:]).GetNoteStart(nil, nil, nil)
}

func (e MIDIEvent) NoteOff() bool {
	b := [3]byte{e.Status, e.Data1, e.Data2}
	return midi.Message(b[:]).GetNoteEnd(nil, nil)
}

func (e MIDIEvent) Channel() byte { return e.Status & 0x0F }
