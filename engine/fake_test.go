package engine

import (
	"errors"
	"sync/atomic"

	"github.com/vsariola/tracklane"
)

type (
	// fakeInstance multiplies its input by the "gain" parameter and writes
	// "level" to every output channel without an input. It counts the note
	// ons it sees and can be made to fail or panic.
	fakeInstance struct {
		info    tracklane.PluginInfo
		params  []float32
		noteOns int
		fail    bool
		panics  bool
		closed  *atomic.Int32
	}

	fakeBackend struct {
		closed atomic.Int32
	}
)

const fakeBackendKind tracklane.BackendKind = "fake"

var fakeParams = []tracklane.ParamInfo{
	{Key: tracklane.ParamKey{Index: 0, Symbol: "gain"}, Name: "gain", Max: 2, Default: 1},
	{Key: tracklane.ParamKey{Index: 1, Symbol: "level"}, Name: "level", Max: 1, Default: 0.25},
}

var fakePorts = map[string]tracklane.PortConfig{
	"gain":     {AudioIn: 2, AudioOut: 2},
	"monogain": {AudioIn: 1, AudioOut: 1},
	"synth":    {AudioOut: 1, EventIn: true},
	"thru":     {EventIn: true, EventOut: true},
	"broken":   {AudioIn: 2, AudioOut: 2},
	"panicky":  {AudioIn: 2, AudioOut: 2},
	"wide":     {AudioIn: 3, AudioOut: 2},
}

func newFakeInstance(uri string, ports tracklane.PortConfig) *fakeInstance {
	inst := &fakeInstance{
		info: tracklane.PluginInfo{
			Backend:      fakeBackendKind,
			URI:          uri,
			Name:         "Fake " + uri,
			IsInstrument: ports.AudioIn == 0 && ports.AudioOut > 0,
			Ports:        ports,
		},
		params: []float32{1, 0.25},
		closed: &atomic.Int32{},
	}
	return inst
}

func (f *fakeInstance) Info() tracklane.PluginInfo { return f.info }

func (f *fakeInstance) Params() []tracklane.ParamInfo { return fakeParams }

func (f *fakeInstance) Process(ctx tracklane.ProcessContext, bufs *tracklane.ProcessBuffers) error {
	if f.panics {
		panic("boom")
	}
	if f.fail {
		return errors.New("fake failure")
	}
	for _, ev := range bufs.Events {
		if ev.NoteOn() {
			f.noteOns++
		}
	}
	for c, out := range bufs.Out {
		for i := range out {
			if c < len(bufs.In) {
				out[i] = bufs.In[c][i] * f.params[0]
			} else if len(bufs.In) > 0 {
				out[i] = bufs.In[0][i] * f.params[0]
			} else {
				out[i] = f.params[1]
			}
		}
	}
	if bufs.OutEvents != nil {
		bufs.OutEvents = append(bufs.OutEvents, bufs.Events...)
	}
	return nil
}

func (f *fakeInstance) SetParam(key tracklane.ParamKey, value float32) {
	if int(key.Index) < len(f.params) {
		f.params[key.Index] = value
	}
}

func (f *fakeInstance) Param(key tracklane.ParamKey) (float32, bool) {
	if int(key.Index) < len(f.params) {
		return f.params[key.Index], true
	}
	return 0, false
}

func (f *fakeInstance) Close() error {
	f.closed.Add(1)
	return nil
}

func (b *fakeBackend) Kind() tracklane.BackendKind { return fakeBackendKind }

func (b *fakeBackend) Addressing() tracklane.Addressing { return tracklane.AddressRegistry }

func (b *fakeBackend) Init(cfg tracklane.HostConfig) error { return nil }

func (b *fakeBackend) Scan() ([]tracklane.PluginInfo, error) {
	var ret []tracklane.PluginInfo
	for uri, ports := range fakePorts {
		ret = append(ret, newFakeInstance(uri, ports).info)
	}
	return ret, nil
}

func (b *fakeBackend) Instantiate(uri string) (tracklane.Instance, error) {
	ports, ok := fakePorts[uri]
	if !ok {
		return nil, tracklane.ErrPluginNotFound
	}
	inst := newFakeInstance(uri, ports)
	inst.closed = &b.closed
	inst.fail = uri == "broken"
	inst.panics = uri == "panicky"
	return inst, nil
}

func newFakeFacade() (*tracklane.Facade, *fakeBackend) {
	b := &fakeBackend{}
	return tracklane.NewFacade(tracklane.HostConfig{SampleRate: 44100, MaxBlock: testMaxBlock}, b), b
}
