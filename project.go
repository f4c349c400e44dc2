package tracklane

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"math"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type (
	// Project is the control plane description of everything that can be
	// heard: the tempo, the loop region and the tracks with their clips,
	// plugin chains and automation. It is owned by the command processor;
	// the audio engine only ever sees snapshots built from it.
	Project struct {
		BPM          float64
		SampleRate   int
		MasterVolume float32
		Loop         LoopRegion `yaml:",omitempty"`
		Tracks       []Track
	}

	LoopRegion struct {
		Enabled   bool
		StartBeat float64
		EndBeat   float64
	}

	// Track is one channel strip of the mixer. MIDI tracks render their MIDI
	// clips through the plugin chain (the first instrument plugin turns the
	// notes into audio); audio tracks render their audio clips.
	Track struct {
		ID         string
		Name       string
		Kind       TrackKind
		Volume     float32
		Pan        float32 // -1 = left, 0 = center, 1 = right
		Muted      bool               `yaml:",omitempty"`
		Solo       bool               `yaml:",omitempty"`
		Armed      bool               `yaml:",omitempty"`
		Monitor    bool               `yaml:",omitempty"`
		MIDIClips  []MIDIClip         `yaml:",omitempty"`
		AudioClips []AudioClip        `yaml:",omitempty"`
		Plugins    []PluginDescriptor `yaml:",omitempty"`
		Automation []AutomationLane   `yaml:",omitempty"`
	}

	TrackKind string

	// MIDIClip is a list of notes placed on the timeline. Note positions are
	// relative to the start of the clip, all times are in beats.
	//
	// The notes form the content of the clip, ContentBeats long (LengthBeats
	// if zero); notes starting outside of it are not played and notes
	// reaching past its end are cut. ContentOffset rotates the content.
	// Without Loop the content plays once from the start of the clip, with
	// Loop it repeats until the end of the clip.
	MIDIClip struct {
		ID             string
		Name           string   `yaml:",omitempty"`
		StartBeat      float64
		LengthBeats    float64
		ContentBeats   float64  `yaml:",omitempty"`
		ContentOffset  float64  `yaml:",omitempty"`
		Loop           bool     `yaml:",omitempty"`
		Muted          bool     `yaml:",omitempty"`
		Transpose      int      `yaml:",omitempty"` // semitones
		VelocityOffset int      `yaml:",omitempty"`
		Quantize       Quantize `yaml:",omitempty"`
		Notes          []Note   `yaml:",flow"`
	}

	// Quantize pulls note starts and ends towards a grid while playing; the
	// notes themselves are not changed. Swing delays every other grid line
	// by Swing times half a grid step.
	Quantize struct {
		Grid     float64 `yaml:",omitempty"` // in beats, 0 disables
		Strength float32 `yaml:",omitempty"` // 0..1
		Swing    float32 `yaml:",omitempty"`
	}

	Note struct {
		ID          string `yaml:",omitempty"`
		Pitch       byte
		Velocity    byte
		StartBeat   float64
		LengthBeats float64
	}

	// AudioClip is a region of sample data placed on the timeline. Samples
	// are loaded from File and resampled on the fly if SampleRate differs
	// from the engine rate. OffsetBeats skips the beginning of the sample
	// data. Fades are linear and given in beats.
	AudioClip struct {
		ID          string
		Name        string `yaml:",omitempty"`
		File        string `yaml:",omitempty"`
		StartBeat   float64
		LengthBeats float64
		OffsetBeats float64 `yaml:",omitempty"`
		Gain        float32
		FadeIn      float64     `yaml:",omitempty"`
		FadeOut     float64     `yaml:",omitempty"`
		SampleRate  int         `yaml:",omitempty"`
		Samples     AudioBuffer `yaml:"-"`
	}

	// PluginDescriptor identifies one plugin in a track's chain: which
	// backend hosts it, the URI the backend resolves, and the parameter
	// values by parameter name.
	PluginDescriptor struct {
		ID      string
		Backend BackendKind `yaml:",omitempty"`
		URI     string
		Name    string             `yaml:",omitempty"`
		Bypass  bool               `yaml:",omitempty"`
		Params  map[string]float32 `yaml:",omitempty"`
	}
)

const (
	AudioTrack TrackKind = "audio"
	MIDITrack  TrackKind = "midi"
)

var (
	ErrInvalidBPM        = errors.New("BPM should be > 0")
	ErrInvalidSampleRate = errors.New("sample rate should be > 0")
	ErrDuplicateID       = errors.New("duplicate id")
	ErrInvalidClip       = errors.New("clip should have a non-negative start and a positive length")
	ErrInvalidTrackKind  = errors.New("track kind should be audio or midi")
)

// NewID returns a new random identifier for tracks, clips, notes, plugins
// and automation lanes and points.
func NewID() string {
	return uuid.NewString()
}

// NewProject returns an empty project with the default tempo, sample rate
// and master volume.
func NewProject() Project {
	return Project{BPM: DefaultBPM, SampleRate: DefaultSampleRate, MasterVolume: DefaultMasterVolume}
}

// NewTrack returns a track with unity volume, centered pan and a fresh id.
func NewTrack(name string, kind TrackKind) Track {
	return Track{ID: NewID(), Name: name, Kind: kind, Volume: 1}
}

// ReadProject decodes a project from YAML. Missing ids are filled in with
// fresh ones and missing tempo/rate/volume fields get their defaults.
func ReadProject(r io.Reader) (Project, error) {
	p := NewProject()
	if err := yaml.NewDecoder(r).Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Project{}, fmt.Errorf("could not decode project: %w", err)
	}
	p.fillDefaults()
	if err := p.Validate(); err != nil {
		return Project{}, err
	}
	return p, nil
}

// Write encodes the project as YAML.
func (p *Project) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("could not encode project: %w", err)
	}
	return enc.Close()
}

// UnmarshalYAML gives a decoded track unity volume unless the document says
// otherwise.
func (t *Track) UnmarshalYAML(value *yaml.Node) error {
	type plain Track
	ret := plain{Volume: 1}
	if err := value.Decode(&ret); err != nil {
		return err
	}
	*t = Track(ret)
	return nil
}

// UnmarshalYAML gives a decoded audio clip unity gain unless the document
// says otherwise.
func (c *AudioClip) UnmarshalYAML(value *yaml.Node) error {
	type plain AudioClip
	ret := plain{Gain: 1}
	if err := value.Decode(&ret); err != nil {
		return err
	}
	*c = AudioClip(ret)
	return nil
}

func (p *Project) fillDefaults() {
	for i := range p.Tracks {
		t := &p.Tracks[i]
		if t.ID == "" {
			t.ID = NewID()
		}
		if t.Kind == "" {
			t.Kind = AudioTrack
			if len(t.MIDIClips) > 0 {
				t.Kind = MIDITrack
			}
		}
		for j := range t.MIDIClips {
			if t.MIDIClips[j].ID == "" {
				t.MIDIClips[j].ID = NewID()
			}
			for k := range t.MIDIClips[j].Notes {
				if t.MIDIClips[j].Notes[k].ID == "" {
					t.MIDIClips[j].Notes[k].ID = NewID()
				}
			}
		}
		for j := range t.AudioClips {
			if t.AudioClips[j].ID == "" {
				t.AudioClips[j].ID = NewID()
			}
		}
		for j := range t.Plugins {
			if t.Plugins[j].ID == "" {
				t.Plugins[j].ID = NewID()
			}
		}
		for j := range t.Automation {
			if t.Automation[j].ID == "" {
				t.Automation[j].ID = NewID()
			}
			for k := range t.Automation[j].Points {
				if t.Automation[j].Points[k].ID == "" {
					t.Automation[j].Points[k].ID = NewID()
				}
			}
		}
	}
}

// Copy makes a deep copy of the project. Audio clip sample data is shared,
// as it is never modified after loading.
func (p *Project) Copy() Project {
	ret := *p
	ret.Tracks = make([]Track, len(p.Tracks))
	for i := range p.Tracks {
		ret.Tracks[i] = p.Tracks[i].Copy()
	}
	return ret
}

func (t *Track) Copy() Track {
	ret := *t
	ret.MIDIClips = make([]MIDIClip, len(t.MIDIClips))
	for i := range t.MIDIClips {
		ret.MIDIClips[i] = t.MIDIClips[i].Copy()
	}
	ret.AudioClips = append([]AudioClip(nil), t.AudioClips...)
	ret.Plugins = make([]PluginDescriptor, len(t.Plugins))
	for i := range t.Plugins {
		ret.Plugins[i] = t.Plugins[i].Copy()
	}
	ret.Automation = make([]AutomationLane, len(t.Automation))
	for i := range t.Automation {
		ret.Automation[i] = t.Automation[i].Copy()
	}
	return ret
}

func (c *MIDIClip) Copy() MIDIClip {
	ret := *c
	ret.Notes = append([]Note(nil), c.Notes...)
	return ret
}

func (d *PluginDescriptor) Copy() PluginDescriptor {
	ret := *d
	if d.Params != nil {
		ret.Params = maps.Clone(d.Params)
	}
	return ret
}

func (c *MIDIClip) EndBeat() float64  { return c.StartBeat + c.LengthBeats }
func (c *AudioClip) EndBeat() float64 { return c.StartBeat + c.LengthBeats }

// Validate checks that the project can be played: positive tempo and sample
// rate, unique track ids, known track kinds and clips with positive length.
func (p *Project) Validate() error {
	if !(p.BPM > 0) || math.IsInf(p.BPM, 0) {
		return ErrInvalidBPM
	}
	if p.SampleRate <= 0 {
		return ErrInvalidSampleRate
	}
	ids := make(map[string]bool, len(p.Tracks))
	for i := range p.Tracks {
		t := &p.Tracks[i]
		if ids[t.ID] {
			return fmt.Errorf("track %q: %w", t.ID, ErrDuplicateID)
		}
		ids[t.ID] = true
		if t.Kind != AudioTrack && t.Kind != MIDITrack {
			return fmt.Errorf("track %q: %w", t.ID, ErrInvalidTrackKind)
		}
		for _, c := range t.MIDIClips {
			if c.StartBeat < 0 || !(c.LengthBeats > 0) || c.ContentBeats < 0 || c.Quantize.Grid < 0 {
				return fmt.Errorf("track %q, clip %q: %w", t.ID, c.ID, ErrInvalidClip)
			}
		}
		for _, c := range t.AudioClips {
			if c.StartBeat < 0 || !(c.LengthBeats > 0) {
				return fmt.Errorf("track %q, clip %q: %w", t.ID, c.ID, ErrInvalidClip)
			}
		}
	}
	return nil
}

// LengthBeats returns the end of the last clip of any track, in beats.
func (p *Project) LengthBeats() (length float64) {
	for i := range p.Tracks {
		for j := range p.Tracks[i].MIDIClips {
			length = max(length, p.Tracks[i].MIDIClips[j].EndBeat())
		}
		for j := range p.Tracks[i].AudioClips {
			length = max(length, p.Tracks[i].AudioClips[j].EndBeat())
		}
	}
	return
}

// Track returns the track with the given id, or nil if there is none.
func (p *Project) Track(id string) *Track {
	for i := range p.Tracks {
		if p.Tracks[i].ID == id {
			return &p.Tracks[i]
		}
	}
	return nil
}

func (p *Project) TrackIndex(id string) int {
	for i := range p.Tracks {
		if p.Tracks[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Track) Plugin(id string) *PluginDescriptor {
	for i := range t.Plugins {
		if t.Plugins[i].ID == id {
			return &t.Plugins[i]
		}
	}
	return nil
}

func (t *Track) MIDIClip(id string) *MIDIClip {
	for i := range t.MIDIClips {
		if t.MIDIClips[i].ID == id {
			return &t.MIDIClips[i]
		}
	}
	return nil
}

func (t *Track) AudioClip(id string) *AudioClip {
	for i := range t.AudioClips {
		if t.AudioClips[i].ID == id {
			return &t.AudioClips[i]
		}
	}
	return nil
}

// Lane returns the automation lane driving target, or nil.
func (t *Track) Lane(target AutomationTarget) *AutomationLane {
	for i := range t.Automation {
		if t.Automation[i].Target == target {
			return &t.Automation[i]
		}
	}
	return nil
}
