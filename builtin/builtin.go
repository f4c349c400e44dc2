// Package builtin is the plugin backend of the effects and instruments
// compiled into the program. Its plugins are addressed with bare
// identifiers, e.g. "delay" or "sine", and their parameters by symbol.
package builtin

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/vsariola/tracklane"
	"golang.org/x/exp/slices"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

type (
	// Backend is the registry of builtin plugins.
	Backend struct {
		sampleRate float64
		maxBlock   int
	}

	// kernel is the signal processing of one plugin. set is called with
	// values already clamped to the declared range; it must not allocate
	// since it runs in the audio callback.
	kernel interface {
		set(index int, value float64) error
		process(ctx tracklane.ProcessContext, bufs *tracklane.ProcessBuffers)
		reset()
	}

	definition struct {
		uri        string
		name       string
		instrument bool
		ports      tracklane.PortConfig
		params     []param
		new        func(sampleRate float64, maxBlock int) (kernel, error)
	}

	// param bounds are float64 so that they match the ranges the effects
	// accept exactly.
	param struct {
		symbol   string
		min, max float64
		def      float64
		stepped  bool
	}

	instance struct {
		info   tracklane.PluginInfo
		defs   []param
		params []tracklane.ParamInfo
		values []float32
		kernel kernel
		err    error // first rejected parameter, reported by Process
	}
)

const Kind tracklane.BackendKind = "builtin"

var definitions = []definition{
	{uri: "gain", name: "gain", ports: stereo, params: []param{
		{symbol: "gain", min: -60, max: 24},
	}, new: newGain},
	{uri: "utility", name: "utility", ports: tracklane.PortConfig{AudioIn: 1, AudioOut: 2}, params: []param{
		{symbol: "gain", min: -60, max: 24},
		{symbol: "pan", min: -1, max: 1},
	}, new: newUtility},
	{uri: "delay", name: "feedback delay", ports: stereo, params: []param{
		{symbol: "time", min: 0.001, max: 2, def: 0.25},
		{symbol: "feedback", min: 0, max: 0.99, def: 0.35},
		{symbol: "mix", min: 0, max: 1, def: 0.25},
	}, new: newDelay},
	{uri: "distortion", name: "distortion", ports: stereo, params: []param{
		{symbol: "drive", min: 0.01, max: 20, def: 1},
		{symbol: "mix", min: 0, max: 1, def: 1},
		{symbol: "output", min: 0, max: 4, def: 1},
	}, new: newDistortion},
	{uri: "tremolo", name: "tremolo", ports: stereo, params: []param{
		{symbol: "rate", min: 0.1, max: 20, def: 4},
		{symbol: "depth", min: 0, max: 1, def: 0.6},
		{symbol: "mix", min: 0, max: 1, def: 1},
	}, new: newTremolo},
	{uri: "compressor", name: "compressor", ports: stereo, params: []param{
		{symbol: "threshold", min: -60, max: 0, def: -20},
		{symbol: "ratio", min: 1, max: 100, def: 4},
		{symbol: "attack", min: 0.1, max: 1000, def: 10},
		{symbol: "release", min: 1, max: 5000, def: 100},
		{symbol: "makeup", min: 0, max: 24},
	}, new: newCompressor},
	{uri: "limiter", name: "lookahead limiter", ports: stereo, params: []param{
		{symbol: "threshold", min: -24, max: 0, def: -0.1},
		{symbol: "release", min: 1, max: 5000, def: 100},
	}, new: newLimiter},
	{uri: "sine", name: "sine synth", instrument: true, ports: tracklane.PortConfig{AudioOut: 1, EventIn: true}, params: []param{
		{symbol: "level", min: 0, max: 1, def: 0.25},
		{symbol: "attack", min: 0, max: 1000, def: 5},
		{symbol: "release", min: 1, max: 5000, def: 200},
	}, new: newSine},
	{uri: "thru", name: "midi thru", ports: tracklane.PortConfig{EventIn: true, EventOut: true}, params: []param{
		{symbol: "transpose", min: -24, max: 24, stepped: true},
	}, new: newThru},
}

var stereo = tracklane.PortConfig{AudioIn: 2, AudioOut: 2}

func New() *Backend { return &Backend{sampleRate: tracklane.DefaultSampleRate, maxBlock: 8192} }

func (b *Backend) Kind() tracklane.BackendKind { return Kind }

func (b *Backend) Addressing() tracklane.Addressing { return tracklane.AddressRegistry }

func (b *Backend) Init(cfg tracklane.HostConfig) error {
	if cfg.SampleRate > 0 {
		b.sampleRate = cfg.SampleRate
	}
	if cfg.MaxBlock > 0 {
		b.maxBlock = cfg.MaxBlock
	}
	return nil
}

func (b *Backend) Scan() ([]tracklane.PluginInfo, error) {
	ret := make([]tracklane.PluginInfo, 0, len(definitions))
	for i := range definitions {
		ret = append(ret, definitions[i].info())
	}
	slices.SortFunc(ret, func(a, b tracklane.PluginInfo) int {
		return strings.Compare(a.URI, b.URI)
	})
	return ret, nil
}

func (b *Backend) Instantiate(uri string) (tracklane.Instance, error) {
	i := slices.IndexFunc(definitions, func(d definition) bool { return d.uri == uri })
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", tracklane.ErrPluginNotFound, uri)
	}
	d := &definitions[i]
	k, err := d.new(b.sampleRate, b.maxBlock)
	if err != nil {
		return nil, fmt.Errorf("could not create %v: %w", uri, err)
	}
	inst := &instance{
		info:   d.info(),
		defs:   d.params,
		params: d.paramInfos(),
		values: make([]float32, len(d.params)),
		kernel: k,
	}
	for i, p := range d.params {
		if err := inst.setIndex(i, float32(p.def)); err != nil {
			return nil, fmt.Errorf("could not create %v: %w", uri, err)
		}
	}
	return inst, nil
}

func (d *definition) info() tracklane.PluginInfo {
	return tracklane.PluginInfo{
		Backend:      Kind,
		URI:          d.uri,
		Name:         cases.Title(language.English).String(d.name),
		IsInstrument: d.instrument,
		Ports:        d.ports,
	}
}

func (d *definition) paramInfos() []tracklane.ParamInfo {
	caser := cases.Title(language.English)
	ret := make([]tracklane.ParamInfo, len(d.params))
	for i, p := range d.params {
		ret[i] = tracklane.ParamInfo{
			Key:     tracklane.ParamKey{Index: uint32(i), Symbol: p.symbol},
			Name:    caser.String(p.symbol),
			Min:     float32(p.min),
			Max:     float32(p.max),
			Default: float32(p.def),
			Stepped: p.stepped,
		}
	}
	return ret
}

func (i *instance) Info() tracklane.PluginInfo { return i.info }

func (i *instance) Params() []tracklane.ParamInfo { return i.params }

func (i *instance) Process(ctx tracklane.ProcessContext, bufs *tracklane.ProcessBuffers) error {
	if err := i.err; err != nil {
		i.err = nil
		return fmt.Errorf("%v: %w", i.info.URI, err)
	}
	i.kernel.process(ctx, bufs)
	return nil
}

// SetParam sets a parameter. A value the effect rejects leaves the previous
// one in place; the error is returned by the next Process.
func (i *instance) SetParam(key tracklane.ParamKey, value float32) {
	idx, ok := i.index(key)
	if !ok {
		return
	}
	if err := i.setIndex(idx, value); err != nil && i.err == nil {
		i.err = err
	}
}

func (i *instance) Param(key tracklane.ParamKey) (float32, bool) {
	idx, ok := i.index(key)
	if !ok {
		return 0, false
	}
	return i.values[idx], true
}

func (i *instance) Close() error {
	i.kernel.reset()
	return nil
}

// SaveState saves the parameter values by symbol.
func (i *instance) SaveState() ([]byte, error) {
	state := make(map[string]float32, len(i.params))
	for idx, p := range i.params {
		state[p.Key.Symbol] = i.values[idx]
	}
	return yaml.Marshal(state)
}

func (i *instance) LoadState(data []byte) error {
	var state map[string]float32
	if err := yaml.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("could not load %v state: %w", i.info.URI, err)
	}
	var errs []error
	for name, v := range state {
		if idx, ok := i.index(tracklane.ParamKey{Symbol: name}); ok {
			errs = append(errs, i.setIndex(idx, v))
		}
	}
	i.kernel.reset()
	return errors.Join(errs...)
}

func (i *instance) index(key tracklane.ParamKey) (int, bool) {
	if key.Symbol != "" {
		for idx, p := range i.params {
			if p.Key.Symbol == key.Symbol {
				return idx, true
			}
		}
		return 0, false
	}
	if int(key.Index) < len(i.params) {
		return int(key.Index), true
	}
	return 0, false
}

func (i *instance) setIndex(idx int, value float32) error {
	p := i.defs[idx]
	v := float64(value)
	if math.IsNaN(v) {
		v = p.def
	}
	v = tracklane.Clamp(v, p.min, p.max)
	if p.stepped {
		v = math.Round(v)
	}
	if err := i.kernel.set(idx, v); err != nil {
		return fmt.Errorf("%v: %w", p.symbol, err)
	}
	i.values[idx] = float32(v)
	return nil
}
