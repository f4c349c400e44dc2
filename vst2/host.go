//go:build vst2 && cgo

package vst2

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unsafe"

	"github.com/vsariola/tracklane"
	"gopkg.in/yaml.v3"
	"pipelined.dev/audio/vst2"
	"pipelined.dev/signal"
)

type (
	instance struct {
		lib    *vst2.VST
		plugin *vst2.Plugin
		info   tracklane.PluginInfo
		params []tracklane.ParamInfo
		in     vst2.FloatBuffer
		out    vst2.FloatBuffer
		time   *vst2.TimeInfo
		// events points into storage so a block can be handed to the
		// plugin without allocating Go memory
		storage []vst2.MIDIEvent
		events  []vst2.Event
	}

	// effectHeader mirrors the start of the AEffect struct a *vst2.Plugin
	// points to. The library exposes the parameter count but not the
	// channel counts.
	effectHeader struct {
		magic        int32
		dispatcher   uintptr
		process      uintptr
		setParameter uintptr
		getParameter uintptr
		numPrograms  int32
		numParams    int32
		numInputs    int32
		numOutputs   int32
	}
)

var errEmptyChunk = errors.New("empty program chunk")

func (b *Backend) Init(cfg tracklane.HostConfig) error {
	b.cfg = cfg
	return nil
}

// Scan loads every bundle once to read its name and ports. Bundles that
// fail to load are logged and skipped.
func (b *Backend) Scan() ([]tracklane.PluginInfo, error) {
	var ret []tracklane.PluginInfo
	for _, path := range FindBundles(b.searchPaths()) {
		inst, err := b.open(path)
		if err != nil {
			b.log.WithError(err).WithField("path", path).Warn("could not load bundle")
			continue
		}
		ret = append(ret, inst.info)
		inst.Close()
	}
	return ret, nil
}

func (b *Backend) Instantiate(uri string) (tracklane.Instance, error) {
	path, id, err := tracklane.ParseBundleURI(uri)
	if err != nil {
		return nil, err
	}
	if id != "" && id != "0" {
		return nil, fmt.Errorf("%w: %v has a single plugin, no #%v", tracklane.ErrPluginNotFound, path, id)
	}
	return b.open(filepath.FromSlash(path))
}

func (b *Backend) open(path string) (*instance, error) {
	lib, err := vst2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", tracklane.ErrPluginNotFound, path, err)
	}
	inst := &instance{
		lib:  lib,
		time: &vst2.TimeInfo{SampleRate: b.cfg.SampleRate, TimeSigNumerator: 4, TimeSigDenominator: 4},
	}
	inst.plugin = lib.Plugin(inst.callback)
	if inst.plugin == nil {
		lib.Close()
		return nil, fmt.Errorf("%w: %v did not create an instance", tracklane.ErrPluginNotFound, path)
	}
	inst.plugin.Start()
	inst.plugin.SetSampleRate(signal.Frequency(b.cfg.SampleRate))
	inst.plugin.SetBufferSize(b.cfg.MaxBlock)
	inst.plugin.Resume()

	header := *(**effectHeader)(unsafe.Pointer(inst.plugin))
	numIn, numOut := int(header.numInputs), int(header.numOutputs)
	instrument := inst.plugin.Flags()&vst2.PluginIsSynth != 0
	ports := tracklane.PortConfig{
		AudioIn:  min(max(numIn, 0), 2),
		AudioOut: min(max(numOut, 0), 2),
		EventIn:  instrument || canDo(inst.plugin, "receiveVstMidiEvent"),
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	inst.info = tracklane.PluginInfo{
		Backend:      Kind,
		URI:          tracklane.BundleURI(filepath.ToSlash(path), "0"),
		Name:         name,
		IsInstrument: instrument,
		Ports:        ports,
	}
	for i := 0; i < inst.plugin.NumParams(); i++ {
		inst.params = append(inst.params, tracklane.ParamInfo{
			Key:     tracklane.ParamKey{Index: uint32(i)},
			Name:    inst.plugin.ParamName(i),
			Max:     1,
			Default: inst.plugin.ParamValue(i),
		})
	}
	// the plugin reads every channel it declared, and the library needs
	// at least one to pass a buffer at all
	inst.in = vst2.NewFloatBuffer(max(numIn, 1), b.cfg.MaxBlock)
	inst.out = vst2.NewFloatBuffer(max(numOut, 1), b.cfg.MaxBlock)
	inst.storage = make([]vst2.MIDIEvent, tracklane.MaxOutEvents)
	inst.events = make([]vst2.Event, tracklane.MaxOutEvents)
	for j := range inst.storage {
		inst.events[j] = &inst.storage[j]
	}
	return inst, nil
}

func canDo(p *vst2.Plugin, what string) bool {
	s := append([]byte(what), 0)
	return int64(p.Dispatch(vst2.PlugCanDo, 0, 0, unsafe.Pointer(&s[0]), 0)) > 0
}

func (i *instance) callback(op vst2.HostOpcode, index int32, value int64, ptr unsafe.Pointer, opt float32) int64 {
	switch op {
	case vst2.HostGetVendorVersion:
		return 1
	case vst2.HostGetSampleRate:
		return int64(i.time.SampleRate)
	case vst2.HostGetTime:
		return int64(uintptr(unsafe.Pointer(i.time)))
	}
	return 0
}

func (i *instance) Info() tracklane.PluginInfo { return i.info }

func (i *instance) Params() []tracklane.ParamInfo { return i.params }

func (i *instance) Process(ctx tracklane.ProcessContext, bufs *tracklane.ProcessBuffers) error {
	i.time.SampleRate = ctx.SampleRate
	i.time.SamplePos = ctx.TimeSamples
	i.time.Tempo = ctx.BPM
	i.time.Flags = vst2.TempoValid | vst2.TimeSigValid
	if ctx.SampleRate > 0 {
		i.time.PpqPos = ctx.TimeSamples / ctx.SampleRate * ctx.BPM / 60
		i.time.Flags |= vst2.PpqPosValid
	}
	if ctx.Playing {
		i.time.Flags |= vst2.TransportPlaying
	}
	if ctx.LoopActive {
		i.time.Flags |= vst2.TransportCycleActive
	}
	var events *vst2.EventsPtr
	if i.info.Ports.EventIn {
		// sent every block, even empty, so the plugin sees an up to date
		// event list
		n := min(len(bufs.Events), len(i.storage))
		for j, ev := range bufs.Events[:n] {
			i.storage[j] = vst2.MIDIEvent{
				DeltaFrames: int32(ev.Frame),
				Data:        [3]byte{ev.Status, ev.Data1, ev.Data2},
			}
		}
		events = vst2.Events(i.events[:n]...)
		i.plugin.Dispatch(vst2.PlugProcessEvents, 0, 0, unsafe.Pointer(events), 0)
	}
	in, out := i.in, i.out
	in.Frames, out.Frames = ctx.Frames, ctx.Frames
	for c, ch := range bufs.In {
		copy(in.Channel(c), ch)
	}
	i.plugin.ProcessFloat(in, out)
	for c, ch := range bufs.Out {
		copy(ch, out.Channel(c))
	}
	// events must stay valid until the process call returns
	if events != nil {
		events.Free()
	}
	return nil
}

func (i *instance) SetParam(key tracklane.ParamKey, value float32) {
	if int(key.Index) < len(i.params) {
		i.plugin.SetParamValue(int(key.Index), tracklane.Clamp(value, 0, 1))
	}
}

func (i *instance) Param(key tracklane.ParamKey) (float32, bool) {
	if int(key.Index) >= len(i.params) {
		return 0, false
	}
	return i.plugin.ParamValue(int(key.Index)), true
}

// SaveState returns the program chunk of plugins that support chunks, and
// the parameter values of the rest.
func (i *instance) SaveState() ([]byte, error) {
	if i.plugin.Flags()&vst2.PluginProgramChunks != 0 {
		return i.plugin.GetProgramData(), nil
	}
	values := make([]float32, len(i.params))
	for j := range values {
		values[j] = i.plugin.ParamValue(j)
	}
	return yaml.Marshal(values)
}

func (i *instance) LoadState(data []byte) error {
	if i.plugin.Flags()&vst2.PluginProgramChunks != 0 {
		if len(data) == 0 {
			return fmt.Errorf("%v: %w", i.info.URI, errEmptyChunk)
		}
		i.plugin.SetProgramData(data)
		return nil
	}
	var values []float32
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("%v: %w", i.info.URI, err)
	}
	for j, v := range values {
		if j < len(i.params) {
			i.plugin.SetParamValue(j, tracklane.Clamp(v, 0, 1))
		}
	}
	return nil
}

func (i *instance) Close() error {
	i.plugin.Suspend()
	i.plugin.Close()
	i.in.Free()
	i.out.Free()
	return i.lib.Close()
}
