package engine

import (
	"fmt"
	"math"

	"github.com/vsariola/tracklane"
)

// PluginBinding is a live plugin instance as the engine sees it: the
// instance, the port router matching its port configuration and the
// parameter keys resolved against its parameter store. A binding is used
// only by the engine while attached; it comes back to the owner of the
// broker for closing when it is torn down.
type PluginBinding struct {
	inst    tracklane.Instance
	router  *tracklane.PortRouter
	info    tracklane.PluginInfo
	keys    []tracklane.ParamKey
	known   []bool
	applied []float32
	failing bool // the last block failed; cleared after a successful block
}

// NewPluginBinding resolves the parameters of store against the instance
// and creates the port router. An unsupported port configuration is an
// error.
func NewPluginBinding(inst tracklane.Instance, store *ParamStore, maxBlock int) (*PluginBinding, error) {
	info := inst.Info()
	router, err := tracklane.NewPortRouter(info.Ports, maxBlock)
	if err != nil {
		return nil, fmt.Errorf("plugin %q: %w", info.URI, err)
	}
	b := &PluginBinding{
		inst:    inst,
		router:  router,
		info:    info,
		keys:    make([]tracklane.ParamKey, store.Len()),
		known:   make([]bool, store.Len()),
		applied: make([]float32, store.Len()),
	}
	for i := range b.keys {
		b.keys[i], b.known[i] = tracklane.ParamByName(inst, store.Name(i))
		b.applied[i] = float32(math.NaN())
	}
	return b, nil
}

func (b *PluginBinding) Instance() tracklane.Instance { return b.inst }

func (b *PluginBinding) Info() tracklane.PluginInfo { return b.info }

// Close closes the instance. It must not be called from the audio callback.
func (b *PluginBinding) Close() error {
	return b.inst.Close()
}

// setParam forwards a value to the instance if it differs from what was
// last sent.
func (b *PluginBinding) setParam(i int, v float32) {
	if i >= len(b.keys) || !b.known[i] || b.applied[i] == v {
		return
	}
	b.inst.SetParam(b.keys[i], v)
	b.applied[i] = v
}

// process runs the instance in place over buf. A panicking plugin is
// turned into an error so that the callback survives it.
func (b *PluginBinding) process(ctx tracklane.ProcessContext, buf tracklane.AudioBuffer, events []tracklane.MIDIEvent) (out []tracklane.MIDIEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = events, fmt.Errorf("plugin panicked: %v", r)
		}
	}()
	return b.router.Process(b.inst, ctx, buf, events)
}
