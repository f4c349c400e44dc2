package engine

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/vsariola/tracklane"
	"golang.org/x/exp/slices"
)

type (
	// GraphSnapshot is an immutable description of everything the engine
	// renders: the tracks with their clips, plugin chains and automation.
	// Once handed to the engine, it is never modified. Values that change
	// without a rebuild (volume, pan, mute, solo, bypass, plugin parameters)
	// are not in the snapshot itself but in the Controls it points to, which
	// are shared by every snapshot of the same track or plugin and written
	// only by the engine when it applies realtime commands.
	//
	// When Restore is set, the engine also stores the values of Mix and
	// PluginSnapshot.Values into the controls, except where a realtime
	// command stamped after Version has already set them. This brings the
	// engine up to date with commands that were dropped because the realtime
	// queue was full.
	GraphSnapshot struct {
		Version uint64
		Restore bool
		Tracks  []TrackSnapshot
	}

	TrackSnapshot struct {
		ID         string
		Name       string
		Kind       tracklane.TrackKind
		Controls   *TrackControls
		Mix        TrackMix
		MIDIClips  []tracklane.MIDIClip // notes sorted by start
		AudioClips []tracklane.AudioClip
		Plugins    []PluginSnapshot
		Automation *TrackAutomation
	}

	PluginSnapshot struct {
		Descriptor tracklane.PluginDescriptor
		Controls   *PluginControls
		Values     []float32 // by index in Controls.Params; NaN if not set
	}

	TrackMix struct {
		Volume, Pan                 float32
		Muted, Solo, Armed, Monitor bool
	}

	// TrackAutomation is the automation of one track, resolved for the
	// engine: lanes that target something that does not exist are dropped.
	// It can be replaced on its own with a SetTrackAutomation command;
	// Version tells the engine which of two automations is newer.
	TrackAutomation struct {
		Version uint64
		Volume  []tracklane.AutomationPoint
		Pan     []tracklane.AutomationPoint
		Params  []ParamLane
	}

	ParamLane struct {
		Plugin *PluginControls
		Index  int // index of the parameter in Plugin.Params
		Points []tracklane.AutomationPoint
	}

	// TrackControls are the live mixer settings of a track. They are shared
	// by all snapshots containing the track. The strip is engine owned
	// scratch space, allocated here so the engine never has to.
	TrackControls struct {
		ID      string
		Volume  tracklane.AtomicFloat32
		Pan     tracklane.AtomicFloat32
		Muted   atomic.Bool
		Solo    atomic.Bool
		Armed   atomic.Bool
		Monitor atomic.Bool

		strip *strip
		seq   [numTrackControls]uint64 // engine owned
	}

	// PluginControls are the live settings of one plugin of a chain, shared
	// by all snapshots containing the plugin.
	PluginControls struct {
		ID     string
		Bypass atomic.Bool
		Params *ParamStore

		// engine owned
		binding   *PluginBinding
		attempted bool // instantiation was tried; do not retry lazily
		mark      uint64
		bypassSeq uint64
		paramSeq  []uint64
	}

	// ParamStore holds the parameter values of one plugin. The set of names
	// is fixed when the store is created; the values are atomics, so one
	// writer and any number of readers can use it without locks.
	ParamStore struct {
		names  []string
		index  map[string]int
		values []tracklane.AtomicFloat32
	}

	// Controls keeps the TrackControls and PluginControls by id across
	// snapshots. It is owned by whoever builds the snapshots, i.e. the
	// command processor or the offline renderer.
	Controls struct {
		tracks   map[string]*TrackControls
		plugins  map[string]*PluginControls
		maxBlock int
	}
)

// indices of TrackControls.seq
const (
	seqVolume = iota
	seqPan
	seqMute
	seqSolo
	seqArmed
	seqMonitor
	numTrackControls
)

// NewParamStore creates a store with one entry per parameter the plugin
// declares. Initial values come from values, by name, falling back to the
// declared defaults. Names in values the plugin does not declare are
// ignored.
func NewParamStore(params []tracklane.ParamInfo, values map[string]float32) *ParamStore {
	s := &ParamStore{
		names:  make([]string, len(params)),
		index:  make(map[string]int, len(params)),
		values: make([]tracklane.AtomicFloat32, len(params)),
	}
	for i, p := range params {
		s.names[i] = p.Name
		s.index[p.Name] = i
		if p.Key.Symbol != "" && p.Key.Symbol != p.Name {
			s.index[p.Key.Symbol] = i
		}
		v := p.Default
		if x, ok := values[p.Name]; ok {
			v = x
		} else if x, ok := values[p.Key.Symbol]; ok {
			v = x
		}
		s.values[i].Store(v)
	}
	return s
}

// NewParamStoreFromValues creates a store for a plugin whose parameter list
// is not known, e.g. because it could not be instantiated.
func NewParamStoreFromValues(values map[string]float32) *ParamStore {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	params := make([]tracklane.ParamInfo, len(names))
	for i, name := range names {
		params[i] = tracklane.ParamInfo{Name: name, Default: values[name]}
	}
	return NewParamStore(params, nil)
}

func (s *ParamStore) Len() int { return len(s.names) }

func (s *ParamStore) Name(i int) string { return s.names[i] }

// Index returns the index of the named parameter, or -1.
func (s *ParamStore) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

func (s *ParamStore) Load(i int) float32 { return s.values[i].Load() }

func (s *ParamStore) Store(i int, v float32) { s.values[i].Store(v) }

// Get returns the value of the named parameter.
func (s *ParamStore) Get(name string) (float32, bool) {
	i := s.Index(name)
	if i < 0 {
		return 0, false
	}
	return s.values[i].Load(), true
}

// Set stores the value of the named parameter and reports if the name is
// known.
func (s *ParamStore) Set(name string, v float32) bool {
	i := s.Index(name)
	if i < 0 {
		return false
	}
	s.values[i].Store(v)
	return true
}

// Values returns a copy of all values by name.
func (s *ParamStore) Values() map[string]float32 {
	ret := make(map[string]float32, len(s.names))
	for i, name := range s.names {
		ret[name] = s.values[i].Load()
	}
	return ret
}

func NewControls(maxBlock int) *Controls {
	return &Controls{
		tracks:   map[string]*TrackControls{},
		plugins:  map[string]*PluginControls{},
		maxBlock: maxBlock,
	}
}

// Track returns the controls of the track, creating them from the track's
// settings if they do not exist yet.
func (c *Controls) Track(t *tracklane.Track) *TrackControls {
	if tc, ok := c.tracks[t.ID]; ok {
		return tc
	}
	tc := &TrackControls{ID: t.ID, strip: newStrip(c.maxBlock)}
	tc.Volume.Store(t.Volume)
	tc.Pan.Store(t.Pan)
	tc.Muted.Store(t.Muted)
	tc.Solo.Store(t.Solo)
	tc.Armed.Store(t.Armed)
	tc.Monitor.Store(t.Monitor)
	c.tracks[t.ID] = tc
	return tc
}

// LookupTrack returns existing controls only.
func (c *Controls) LookupTrack(id string) (*TrackControls, bool) {
	tc, ok := c.tracks[id]
	return tc, ok
}

// Plugin returns the controls of the plugin, creating them if they do not
// exist yet. New controls get a parameter store built from the descriptor
// values; use SetPlugin to register controls whose store was built from a
// live instance.
func (c *Controls) Plugin(d *tracklane.PluginDescriptor) *PluginControls {
	if pc, ok := c.plugins[d.ID]; ok {
		return pc
	}
	pc := newPluginControls(d, NewParamStoreFromValues(d.Params))
	c.plugins[d.ID] = pc
	return pc
}

func newPluginControls(d *tracklane.PluginDescriptor, params *ParamStore) *PluginControls {
	pc := &PluginControls{ID: d.ID, Params: params, paramSeq: make([]uint64, params.Len())}
	pc.Bypass.Store(d.Bypass)
	return pc
}

func (c *Controls) SetPlugin(pc *PluginControls) {
	c.plugins[pc.ID] = pc
}

func (c *Controls) LookupPlugin(id string) (*PluginControls, bool) {
	pc, ok := c.plugins[id]
	return pc, ok
}

// Prune forgets the controls of tracks and plugins not in the project.
func (c *Controls) Prune(p *tracklane.Project) {
	tracks := make(map[string]bool, len(p.Tracks))
	plugins := map[string]bool{}
	for i := range p.Tracks {
		tracks[p.Tracks[i].ID] = true
		for _, d := range p.Tracks[i].Plugins {
			plugins[d.ID] = true
		}
	}
	for id := range c.tracks {
		if !tracks[id] {
			delete(c.tracks, id)
		}
	}
	for id := range c.plugins {
		if !plugins[id] {
			delete(c.plugins, id)
		}
	}
}

// NewPluginControls creates controls for a plugin that has been
// instantiated, with a parameter store covering every parameter the
// instance declares, and the binding the engine needs to run the instance.
// The binding is attached with an AddPluginInstance command.
func NewPluginControls(d *tracklane.PluginDescriptor, inst tracklane.Instance, maxBlock int) (*PluginControls, *PluginBinding, error) {
	pc := newPluginControls(d, NewParamStore(inst.Params(), d.Params))
	pc.attempted = true
	b, err := NewPluginBinding(inst, pc.Params, maxBlock)
	if err != nil {
		return nil, nil, err
	}
	return pc, b, nil
}

// BuildSnapshot deep copies the project into a new snapshot. Clip notes and
// automation points are sorted; audio sample data is shared.
func BuildSnapshot(p *tracklane.Project, controls *Controls, version uint64) *GraphSnapshot {
	snap := &GraphSnapshot{Version: version, Tracks: make([]TrackSnapshot, len(p.Tracks))}
	for i := range p.Tracks {
		t := &p.Tracks[i]
		ts := TrackSnapshot{
			ID:         t.ID,
			Name:       t.Name,
			Kind:       t.Kind,
			Controls:   controls.Track(t),
			Mix:        TrackMix{Volume: t.Volume, Pan: t.Pan, Muted: t.Muted, Solo: t.Solo, Armed: t.Armed, Monitor: t.Monitor},
			MIDIClips:  make([]tracklane.MIDIClip, len(t.MIDIClips)),
			AudioClips: append([]tracklane.AudioClip(nil), t.AudioClips...),
			Plugins:    make([]PluginSnapshot, len(t.Plugins)),
		}
		for j := range t.MIDIClips {
			c := t.MIDIClips[j].Copy()
			sort.SliceStable(c.Notes, func(a, b int) bool { return c.Notes[a].StartBeat < c.Notes[b].StartBeat })
			ts.MIDIClips[j] = c
		}
		for j := range t.Plugins {
			pc := controls.Plugin(&t.Plugins[j])
			ts.Plugins[j] = PluginSnapshot{Descriptor: t.Plugins[j].Copy(), Controls: pc, Values: paramValues(&t.Plugins[j], pc.Params)}
		}
		ts.Automation = BuildAutomation(t, controls, version)
		snap.Tracks[i] = ts
	}
	return snap
}

func paramValues(d *tracklane.PluginDescriptor, params *ParamStore) []float32 {
	ret := make([]float32, params.Len())
	for i := range ret {
		ret[i] = float32(math.NaN())
	}
	for name, v := range d.Params {
		if i := params.Index(name); i >= 0 {
			ret[i] = v
		}
	}
	return ret
}

// BuildAutomation resolves the automation lanes of a track. Lanes without
// points, and parameter lanes whose plugin or parameter does not exist, are
// left out.
func BuildAutomation(t *tracklane.Track, controls *Controls, version uint64) *TrackAutomation {
	ret := &TrackAutomation{Version: version}
	for i := range t.Automation {
		lane := t.Automation[i].Copy()
		if len(lane.Points) == 0 {
			continue
		}
		lane.Sort()
		switch lane.Target.Kind {
		case tracklane.AutomateVolume:
			ret.Volume = lane.Points
		case tracklane.AutomatePan:
			ret.Pan = lane.Points
		case tracklane.AutomatePluginParam:
			d := t.Plugin(lane.Target.PluginID)
			if d == nil {
				continue
			}
			pc := controls.Plugin(d)
			idx := pc.Params.Index(lane.Target.Param)
			if idx < 0 {
				continue
			}
			ret.Params = append(ret.Params, ParamLane{Plugin: pc, Index: idx, Points: lane.Points})
		}
	}
	return ret
}

// Track returns the track snapshot with the given id.
func (s *GraphSnapshot) Track(id string) (*TrackSnapshot, bool) {
	i := slices.IndexFunc(s.Tracks, func(t TrackSnapshot) bool { return t.ID == id })
	if i < 0 {
		return nil, false
	}
	return &s.Tracks[i], true
}

func (s *GraphSnapshot) String() string {
	return fmt.Sprintf("snapshot v%d (%d tracks)", s.Version, len(s.Tracks))
}
