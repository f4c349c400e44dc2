package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/tracklane"
	"github.com/vsariola/tracklane/command"
	"golang.org/x/exp/slices"
)

type (
	// Processor owns the project. It is the only goroutine that reads or
	// changes it: every change arrives as a command on the broker, and every
	// effect leaves as a realtime command or a snapshot for the engine, or an
	// update for the UI.
	Processor struct {
		project   tracklane.Project
		baseDir   string
		broker    *Broker
		transport *tracklane.Transport
		facade    *tracklane.Facade
		controls  *Controls
		maxBlock  int
		version   uint64
		export    tracklane.ExportConfig
		presets   tracklane.PresetStore

		recorded    tracklane.AudioBuffer
		recordStart float64

		// commands the realtime queue had no room for
		retry   []RealtimeCommand
		restore bool

		ctx     context.Context
		exports sync.WaitGroup
		log     *logrus.Entry
	}
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidSplit   = errors.New("cannot split clip")
)

const retryInterval = 50 * time.Millisecond

// NewProcessor creates a processor for an empty project. maxBlock must match
// the engine's.
func NewProcessor(broker *Broker, transport *tracklane.Transport, facade *tracklane.Facade, maxBlock int) *Processor {
	defaults := tracklane.DefaultConfig()
	return &Processor{
		project:   tracklane.NewProject(),
		broker:    broker,
		transport: transport,
		facade:    facade,
		controls:  NewControls(maxBlock),
		maxBlock:  maxBlock,
		export:    defaults.Export,
		presets:   defaults.PresetStore(),
		ctx:       context.Background(),
		log:       logrus.WithField("component", "processor"),
	}
}

// SetExportConfig sets the block size and the defaults used by Export
// commands.
func (p *Processor) SetExportConfig(c tracklane.ExportConfig) { p.export = c }

// SetPresetStore sets where plugin presets are saved and loaded.
func (p *Processor) SetPresetStore(s tracklane.PresetStore) { p.presets = s }

// Run handles commands and engine messages until ctx is done. Exports still
// running are waited for before returning.
func (p *Processor) Run(ctx context.Context) error {
	p.ctx = ctx
	p.publish()
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.exports.Wait()
			p.drainEngineMessages()
			return ctx.Err()
		case <-ticker.C:
			p.resend()
		case <-p.broker.Commands.Ready():
			for _, cmd := range p.broker.Commands.Drain() {
				p.Handle(cmd)
			}
		case msg := <-p.broker.ToProcessor:
			p.HandleEngineMessage(msg)
		}
	}
}

// Handle applies one command. Errors are also reported to the UI; commands
// referring to things that do not exist are ignored and return nil.
func (p *Processor) Handle(cmd command.Command) error {
	p.resend()
	err := p.handle(cmd)
	if p.restore {
		p.publish()
	}
	if err != nil && !errors.Is(err, ErrUnknownCommand) {
		p.log.WithError(err).WithField("command", fmt.Sprintf("%T", cmd)).Warn("command failed")
		p.broker.Alert(fmt.Sprintf("%T", cmd), err.Error(), Error)
	}
	return err
}

func (p *Processor) handle(cmd command.Command) error {
	switch c := cmd.(type) {
	// transport
	case command.Play:
		p.send(Play{})
	case command.Stop:
		p.send(Stop{})
	case command.Pause:
		p.send(Pause{})
	case command.Record:
		p.recorded = p.recorded[:0]
		p.send(Record{})
	case command.Seek:
		p.send(Seek{Position: p.transport.Converter().BeatsToSamples(max(c.Beat, 0))})
	case command.SetBPM:
		if !(c.BPM > 0) || math.IsInf(c.BPM, 0) {
			return fmt.Errorf("%w: %v", tracklane.ErrInvalidBPM, c.BPM)
		}
		p.project.BPM = c.BPM
		p.transport.SetBPM(float32(c.BPM))
		p.sendLoop()
	case command.SetMasterVolume:
		p.project.MasterVolume = max(c.Volume, 0)
		p.transport.SetMasterVolume(p.project.MasterVolume)
	case command.SetLoopEnabled:
		p.project.Loop.Enabled = c.Enabled
		p.sendLoop()
	case command.SetLoopRegion:
		p.project.Loop.StartBeat = max(c.StartBeat, 0)
		p.project.Loop.EndBeat = max(c.EndBeat, 0)
		p.sendLoop()
	case command.MIDIPanic:
		p.send(MIDIPanic{})
	// tracks
	case command.AddTrack:
		return p.addTrack(c)
	case command.RemoveTrack:
		if i := p.project.TrackIndex(c.TrackID); i >= 0 {
			for _, d := range p.project.Tracks[i].Plugins {
				if pc, ok := p.controls.LookupPlugin(d.ID); ok {
					p.send(RemovePluginInstance{Plugin: pc})
				}
			}
			p.project.Tracks = slices.Delete(p.project.Tracks, i, i+1)
			p.publish()
		} else {
			p.ignored(cmd)
		}
	case command.RenameTrack:
		if t := p.track(c.TrackID, cmd); t != nil {
			t.Name = c.Name
			p.publish()
		}
	case command.SetTrackVolume:
		if t := p.track(c.TrackID, cmd); t != nil {
			t.Volume = max(c.Volume, 0)
			p.send(SetTrackVolume{Track: p.controls.Track(t), Volume: t.Volume, Seq: p.stamp()})
		}
	case command.SetTrackPan:
		if t := p.track(c.TrackID, cmd); t != nil {
			t.Pan = tracklane.Clamp(c.Pan, -1, 1)
			p.send(SetTrackPan{Track: p.controls.Track(t), Pan: t.Pan, Seq: p.stamp()})
		}
	case command.SetTrackMute:
		if t := p.track(c.TrackID, cmd); t != nil {
			t.Muted = c.Muted
			p.send(SetTrackMute{Track: p.controls.Track(t), Muted: c.Muted, Seq: p.stamp()})
		}
	case command.SetTrackSolo:
		if t := p.track(c.TrackID, cmd); t != nil {
			t.Solo = c.Solo
			p.send(SetTrackSolo{Track: p.controls.Track(t), Solo: c.Solo, Seq: p.stamp()})
		}
	case command.SetTrackArmed:
		if t := p.track(c.TrackID, cmd); t != nil {
			t.Armed = c.Armed
			p.send(SetTrackArmed{Track: p.controls.Track(t), Armed: c.Armed, Seq: p.stamp()})
		}
	case command.SetTrackMonitor:
		if t := p.track(c.TrackID, cmd); t != nil {
			t.Monitor = c.Monitor
			p.send(SetTrackMonitor{Track: p.controls.Track(t), Monitor: c.Monitor, Seq: p.stamp()})
		}
	// plugins
	case command.AddPlugin:
		return p.addPlugin(c)
	case command.RemovePlugin:
		p.removePlugin(c)
	case command.SetPluginBypass:
		if _, d := p.plugin(c.TrackID, c.PluginID, cmd); d != nil {
			d.Bypass = c.Bypass
			p.send(SetPluginBypass{Plugin: p.controls.Plugin(d), Bypass: c.Bypass, Seq: p.stamp()})
		}
	case command.SetPluginParam:
		if _, d := p.plugin(c.TrackID, c.PluginID, cmd); d != nil {
			pc := p.controls.Plugin(d)
			i := pc.Params.Index(c.Name)
			if i < 0 {
				p.log.WithFields(logrus.Fields{"plugin": d.URI, "param": c.Name}).Debug("ignoring unknown parameter")
				return nil
			}
			if d.Params == nil {
				d.Params = map[string]float32{}
			}
			d.Params[pc.Params.Name(i)] = c.Value
			p.send(SetPluginParam{Plugin: pc, Index: i, Value: c.Value, Seq: p.stamp()})
		}
	case command.MovePlugin:
		if t, d := p.plugin(c.TrackID, c.PluginID, cmd); d != nil {
			moved := *d
			t.Plugins = slices.DeleteFunc(t.Plugins, func(x tracklane.PluginDescriptor) bool { return x.ID == c.PluginID })
			if c.Index >= 0 && c.Index < len(t.Plugins) {
				t.Plugins = slices.Insert(t.Plugins, c.Index, moved)
			} else {
				t.Plugins = append(t.Plugins, moved)
			}
			p.publish()
		}
	case command.SavePluginPreset:
		err := p.savePreset(c)
		if c.Done != nil {
			select {
			case c.Done <- err:
			default:
			}
		}
		return err
	case command.LoadPluginPreset:
		return p.loadPreset(c)
	// clips
	case command.AddMIDIClip:
		return p.addMIDIClip(c)
	case command.AddAudioClip:
		return p.addAudioClip(c)
	case command.RemoveClip:
		if t := p.track(c.TrackID, cmd); t != nil {
			if i := slices.IndexFunc(t.MIDIClips, func(m tracklane.MIDIClip) bool { return m.ID == c.ClipID }); i >= 0 {
				t.MIDIClips = slices.Delete(t.MIDIClips, i, i+1)
			} else if i := slices.IndexFunc(t.AudioClips, func(a tracklane.AudioClip) bool { return a.ID == c.ClipID }); i >= 0 {
				t.AudioClips = slices.Delete(t.AudioClips, i, i+1)
			} else {
				p.ignored(cmd)
				return nil
			}
			p.publish()
		}
	case command.MoveClip:
		return p.moveClip(c)
	case command.ResizeClip:
		if !(c.LengthBeats > 0) {
			return tracklane.ErrInvalidClip
		}
		if t := p.track(c.TrackID, cmd); t != nil {
			if m := t.MIDIClip(c.ClipID); m != nil {
				m.LengthBeats = c.LengthBeats
			} else if a := t.AudioClip(c.ClipID); a != nil {
				a.LengthBeats = c.LengthBeats
			} else {
				p.ignored(cmd)
				return nil
			}
			p.publish()
		}
	case command.SetClipGain:
		if a := p.audioClip(c.TrackID, c.ClipID, cmd); a != nil {
			a.Gain = max(c.Gain, 0)
			p.publish()
		}
	case command.SetClipFades:
		if a := p.audioClip(c.TrackID, c.ClipID, cmd); a != nil {
			a.FadeIn, a.FadeOut = max(c.FadeIn, 0), max(c.FadeOut, 0)
			p.publish()
		}
	case command.SplitClip:
		return p.splitClip(c)
	case command.DuplicateClip:
		return p.duplicateClip(c)
	// notes
	case command.AddNote:
		if m := p.midiClip(c.TrackID, c.ClipID, cmd); m != nil {
			n := c.Note
			if n.ID == "" {
				n.ID = tracklane.NewID()
			}
			m.Notes = append(m.Notes, n)
			p.publish()
		}
	case command.RemoveNote:
		if m := p.midiClip(c.TrackID, c.ClipID, cmd); m != nil {
			i := slices.IndexFunc(m.Notes, func(n tracklane.Note) bool { return n.ID == c.NoteID })
			if i < 0 {
				p.ignored(cmd)
				return nil
			}
			m.Notes = slices.Delete(m.Notes, i, i+1)
			p.publish()
		}
	case command.UpdateNote:
		if m := p.midiClip(c.TrackID, c.ClipID, cmd); m != nil {
			i := slices.IndexFunc(m.Notes, func(n tracklane.Note) bool { return n.ID == c.Note.ID })
			if i < 0 {
				p.ignored(cmd)
				return nil
			}
			m.Notes[i] = c.Note
			p.publish()
		}
	// automation
	case command.AddAutomationPoint:
		return p.addAutomationPoint(c)
	case command.RemoveAutomationPoint:
		if t := p.track(c.TrackID, cmd); t != nil {
			if l := laneByID(t, c.LaneID); l != nil && l.Remove(c.PointID) {
				p.sendAutomation(t)
			} else {
				p.ignored(cmd)
			}
		}
	case command.UpdateAutomationPoint:
		if t := p.track(c.TrackID, cmd); t != nil {
			if l := laneByID(t, c.LaneID); l != nil && l.Remove(c.Point.ID) {
				l.Insert(c.Point)
				p.sendAutomation(t)
			} else {
				p.ignored(cmd)
			}
		}
	case command.ClearAutomation:
		if t := p.track(c.TrackID, cmd); t != nil {
			i := slices.IndexFunc(t.Automation, func(l tracklane.AutomationLane) bool { return l.Target == c.Target })
			if i < 0 {
				p.ignored(cmd)
				return nil
			}
			t.Automation = slices.Delete(t.Automation, i, i+1)
			p.sendAutomation(t)
		}
	// preview
	case command.PreviewNote:
		p.send(PreviewNote{Pitch: c.Pitch, Velocity: c.Velocity})
	case command.StopPreviewNote:
		p.send(StopPreviewNote{})
	// project
	case command.LoadProject:
		return p.loadProject(c.Path)
	case command.ReplaceProject:
		return p.replaceProject(c.Project.Copy(), p.baseDir)
	case command.SaveProject:
		err := p.saveProject(c.Path)
		if c.Done != nil {
			select {
			case c.Done <- err:
			default:
			}
		}
		return err
	case command.GetProject:
		select {
		case c.Reply <- p.project.Copy():
		default:
		}
	case command.Export:
		return p.startExport(c)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
	return nil
}

// Project returns a copy of the project. It must only be called from the
// goroutine running the processor, e.g. in tests; other goroutines send a
// GetProject command.
func (p *Processor) Project() tracklane.Project { return p.project.Copy() }

// Controls returns the controls of the current snapshot. Same caveat as
// Project.
func (p *Processor) Controls() *Controls { return p.controls }

// send hands a realtime command to the engine. The queue is large enough
// that it only fills up if the engine is not keeping up. Then the command
// is not lost: control values are restored by the next snapshot, transport
// changes go to the transport directly and the rest is sent again later.
func (p *Processor) send(cmd RealtimeCommand) {
	if len(p.retry) == 0 && TrySend(p.broker.ToEngine, cmd) {
		return
	}
	p.log.WithField("command", fmt.Sprintf("%T", cmd)).Debug("realtime queue full")
	switch c := cmd.(type) {
	case SetTrackVolume, SetTrackPan, SetTrackMute, SetTrackSolo, SetTrackArmed, SetTrackMonitor,
		SetPluginBypass, SetPluginParam, SetTrackAutomation:
		p.restore = true
	case AddPluginInstance:
		// the engine instantiates the plugin itself from the next snapshot,
		// if it can
		c.Binding.Close()
		c.Plugin.attempted = false
		p.restore = true
	case ReplaceTracks:
		p.broker.Snapshots.Send(c.Snapshot)
	case SetLoopRegion:
		p.transport.SetLoop(c.Start, c.End)
		p.transport.SetLoopEnabled(c.Enabled)
	case Play:
		p.transport.SetPlaying(true)
	case Record:
		p.transport.SetRecording(true)
		p.transport.SetPlaying(true)
	case Pause, Stop:
		p.transport.SetPlaying(false)
		p.transport.SetRecording(false)
		if _, ok := c.(Stop); ok {
			p.transport.Seek(0)
		}
		p.retry = append(p.retry, MIDIPanic{})
	case Seek:
		p.transport.Seek(c.Position)
		p.retry = append(p.retry, MIDIPanic{})
	case PreviewNote, StopPreviewNote:
		// a late preview is worse than none
	default:
		p.retry = append(p.retry, cmd)
	}
}

// resend sends the commands waiting for room in the realtime queue, in
// order.
func (p *Processor) resend() {
	for len(p.retry) > 0 {
		if !TrySend(p.broker.ToEngine, p.retry[0]) {
			return
		}
		p.retry = p.retry[1:]
	}
	p.retry = nil
}

// stamp returns the sequence number of a command setting a control value.
func (p *Processor) stamp() uint64 {
	p.version++
	return p.version
}

// publish builds a snapshot of the project and offers it to the engine,
// replacing any snapshot the engine has not picked up yet.
func (p *Processor) publish() {
	p.version++
	snap := BuildSnapshot(&p.project, p.controls, p.version)
	snap.Restore = true
	p.restore = false
	p.controls.Prune(&p.project)
	p.broker.Snapshots.Send(snap)
	p.log.WithField("snapshot", snap.Version).Debug("snapshot published")
}

// sendAutomation sends the automation of one track without rebuilding the
// whole snapshot.
func (p *Processor) sendAutomation(t *tracklane.Track) {
	p.version++
	p.send(SetTrackAutomation{Track: p.controls.Track(t), Automation: BuildAutomation(t, p.controls, p.version)})
}

func (p *Processor) sendLoop() {
	conv := tracklane.TimeConverter{SampleRate: float64(p.transport.SampleRate()), BPM: p.project.BPM}
	p.send(SetLoopRegion{
		Enabled: p.project.Loop.Enabled,
		Start:   conv.BeatsToSamples(p.project.Loop.StartBeat),
		End:     conv.BeatsToSamples(p.project.Loop.EndBeat),
	})
}

func (p *Processor) ignored(cmd command.Command) {
	p.log.WithField("command", fmt.Sprintf("%+v", cmd)).Debug("ignoring command referring to nothing")
}

func (p *Processor) track(id string, cmd command.Command) *tracklane.Track {
	t := p.project.Track(id)
	if t == nil {
		p.ignored(cmd)
	}
	return t
}

func (p *Processor) plugin(trackID, pluginID string, cmd command.Command) (*tracklane.Track, *tracklane.PluginDescriptor) {
	t := p.track(trackID, cmd)
	if t == nil {
		return nil, nil
	}
	d := t.Plugin(pluginID)
	if d == nil {
		p.ignored(cmd)
	}
	return t, d
}

func (p *Processor) midiClip(trackID, clipID string, cmd command.Command) *tracklane.MIDIClip {
	t := p.track(trackID, cmd)
	if t == nil {
		return nil
	}
	c := t.MIDIClip(clipID)
	if c == nil {
		p.ignored(cmd)
	}
	return c
}

func (p *Processor) audioClip(trackID, clipID string, cmd command.Command) *tracklane.AudioClip {
	t := p.track(trackID, cmd)
	if t == nil {
		return nil
	}
	c := t.AudioClip(clipID)
	if c == nil {
		p.ignored(cmd)
	}
	return c
}

func laneByID(t *tracklane.Track, id string) *tracklane.AutomationLane {
	for i := range t.Automation {
		if t.Automation[i].ID == id {
			return &t.Automation[i]
		}
	}
	return nil
}

func (p *Processor) addTrack(c command.AddTrack) error {
	kind := c.Kind
	if kind == "" {
		kind = tracklane.AudioTrack
	}
	if kind != tracklane.AudioTrack && kind != tracklane.MIDITrack {
		return fmt.Errorf("%w: %q", tracklane.ErrInvalidTrackKind, kind)
	}
	t := tracklane.NewTrack(c.Name, kind)
	if c.ID != "" {
		if p.project.Track(c.ID) != nil {
			p.ignored(c)
			return nil
		}
		t.ID = c.ID
	}
	p.project.Tracks = append(p.project.Tracks, t)
	p.publish()
	return nil
}

// instantiate creates the live instance of a descriptor and sends it to the
// engine. The descriptor gets the instance's name and backend if it has
// none.
func (p *Processor) instantiate(d *tracklane.PluginDescriptor) error {
	if p.facade == nil {
		return fmt.Errorf("%w: no plugin host", tracklane.ErrBackendNotAvailable)
	}
	inst, err := p.facade.InstantiateDescriptor(*d)
	if err != nil {
		return fmt.Errorf("could not instantiate %q: %w", d.URI, err)
	}
	pc, b, err := NewPluginControls(d, inst, p.maxBlock)
	if err != nil {
		inst.Close()
		return err
	}
	info := inst.Info()
	if d.Name == "" {
		d.Name = info.Name
	}
	if d.Backend == "" {
		d.Backend = info.Backend
	}
	p.controls.SetPlugin(pc)
	p.send(AddPluginInstance{Plugin: pc, Binding: b})
	return nil
}

func (p *Processor) addPlugin(c command.AddPlugin) error {
	t := p.track(c.TrackID, c)
	if t == nil {
		return nil
	}
	d := tracklane.PluginDescriptor{ID: c.ID, Backend: c.Backend, URI: c.URI}
	if d.ID == "" {
		d.ID = tracklane.NewID()
	} else if t.Plugin(d.ID) != nil {
		p.ignored(c)
		return nil
	}
	if err := p.instantiate(&d); err != nil {
		return err
	}
	if c.Index >= 0 && c.Index < len(t.Plugins) {
		t.Plugins = slices.Insert(t.Plugins, c.Index, d)
	} else {
		t.Plugins = append(t.Plugins, d)
	}
	p.publish()
	return nil
}

func (p *Processor) removePlugin(c command.RemovePlugin) {
	t, d := p.plugin(c.TrackID, c.PluginID, c)
	if d == nil {
		return
	}
	if pc, ok := p.controls.LookupPlugin(d.ID); ok {
		p.send(RemovePluginInstance{Plugin: pc})
	}
	i := slices.IndexFunc(t.Plugins, func(x tracklane.PluginDescriptor) bool { return x.ID == c.PluginID })
	t.Plugins = slices.Delete(t.Plugins, i, i+1)
	t.Automation = slices.DeleteFunc(t.Automation, func(l tracklane.AutomationLane) bool {
		return l.Target.Kind == tracklane.AutomatePluginParam && l.Target.PluginID == c.PluginID
	})
	p.publish()
}

func (p *Processor) addMIDIClip(c command.AddMIDIClip) error {
	t := p.track(c.TrackID, c)
	if t == nil {
		return nil
	}
	if t.Kind != tracklane.MIDITrack {
		return fmt.Errorf("track %q is not a MIDI track", t.Name)
	}
	clip := c.Clip.Copy()
	if clip.StartBeat < 0 || !(clip.LengthBeats > 0) {
		return tracklane.ErrInvalidClip
	}
	if clip.ID == "" {
		clip.ID = tracklane.NewID()
	} else if t.MIDIClip(clip.ID) != nil {
		p.ignored(c)
		return nil
	}
	for i := range clip.Notes {
		if clip.Notes[i].ID == "" {
			clip.Notes[i].ID = tracklane.NewID()
		}
	}
	t.MIDIClips = append(t.MIDIClips, clip)
	p.publish()
	return nil
}

func (p *Processor) addAudioClip(c command.AddAudioClip) error {
	t := p.track(c.TrackID, c)
	if t == nil {
		return nil
	}
	if t.Kind != tracklane.AudioTrack {
		return fmt.Errorf("track %q is not an audio track", t.Name)
	}
	clip := c.Clip
	if clip.StartBeat < 0 || !(clip.LengthBeats > 0) {
		return tracklane.ErrInvalidClip
	}
	if clip.ID == "" {
		clip.ID = tracklane.NewID()
	} else if t.AudioClip(clip.ID) != nil {
		p.ignored(c)
		return nil
	}
	if err := clip.Load(p.baseDir); err != nil {
		return err
	}
	t.AudioClips = append(t.AudioClips, clip)
	p.publish()
	return nil
}

func (p *Processor) moveClip(c command.MoveClip) error {
	t := p.track(c.TrackID, c)
	if t == nil {
		return nil
	}
	to := t
	if c.ToTrackID != "" && c.ToTrackID != c.TrackID {
		if to = p.track(c.ToTrackID, c); to == nil {
			return nil
		}
		if to.Kind != t.Kind {
			return fmt.Errorf("cannot move a clip from a %s track to a %s track", t.Kind, to.Kind)
		}
	}
	start := max(c.StartBeat, 0)
	if i := slices.IndexFunc(t.MIDIClips, func(m tracklane.MIDIClip) bool { return m.ID == c.ClipID }); i >= 0 {
		clip := t.MIDIClips[i]
		clip.StartBeat = start
		t.MIDIClips = slices.Delete(t.MIDIClips, i, i+1)
		to.MIDIClips = append(to.MIDIClips, clip)
	} else if i := slices.IndexFunc(t.AudioClips, func(a tracklane.AudioClip) bool { return a.ID == c.ClipID }); i >= 0 {
		clip := t.AudioClips[i]
		clip.StartBeat = start
		t.AudioClips = slices.Delete(t.AudioClips, i, i+1)
		to.AudioClips = append(to.AudioClips, clip)
	} else {
		p.ignored(c)
		return nil
	}
	p.publish()
	return nil
}

func (p *Processor) splitClip(c command.SplitClip) error {
	t := p.track(c.TrackID, c)
	if t == nil {
		return nil
	}
	id := c.NewID
	if id != "" && (t.MIDIClip(id) != nil || t.AudioClip(id) != nil) {
		return fmt.Errorf("clip %q: %w", id, tracklane.ErrDuplicateID)
	}
	if i := slices.IndexFunc(t.MIDIClips, func(m tracklane.MIDIClip) bool { return m.ID == c.ClipID }); i >= 0 {
		first, second, ok := t.MIDIClips[i].Split(c.Beat)
		if !ok {
			return fmt.Errorf("%w: beat %v is not inside the clip", ErrInvalidSplit, c.Beat)
		}
		if id != "" {
			second.ID = id
		}
		t.MIDIClips[i] = first
		t.MIDIClips = slices.Insert(t.MIDIClips, i+1, second)
	} else if i := slices.IndexFunc(t.AudioClips, func(a tracklane.AudioClip) bool { return a.ID == c.ClipID }); i >= 0 {
		first, second, ok := t.AudioClips[i].Split(c.Beat)
		if !ok {
			return fmt.Errorf("%w: beat %v is not inside the clip", ErrInvalidSplit, c.Beat)
		}
		if id != "" {
			second.ID = id
		}
		t.AudioClips[i] = first
		t.AudioClips = slices.Insert(t.AudioClips, i+1, second)
	} else {
		p.ignored(c)
		return nil
	}
	p.publish()
	return nil
}

func (p *Processor) duplicateClip(c command.DuplicateClip) error {
	t := p.track(c.TrackID, c)
	if t == nil {
		return nil
	}
	id := c.NewID
	if id != "" && (t.MIDIClip(id) != nil || t.AudioClip(id) != nil) {
		return fmt.Errorf("clip %q: %w", id, tracklane.ErrDuplicateID)
	}
	if m := t.MIDIClip(c.ClipID); m != nil {
		dup := m.Duplicate()
		if id != "" {
			dup.ID = id
		}
		t.MIDIClips = append(t.MIDIClips, dup)
	} else if a := t.AudioClip(c.ClipID); a != nil {
		dup := a.Duplicate()
		if id != "" {
			dup.ID = id
		}
		t.AudioClips = append(t.AudioClips, dup)
	} else {
		p.ignored(c)
		return nil
	}
	p.publish()
	return nil
}

func (p *Processor) savePreset(c command.SavePluginPreset) error {
	_, d := p.plugin(c.TrackID, c.PluginID, c)
	if d == nil {
		return nil
	}
	if err := p.presets.Save(tracklane.PresetFromDescriptor(d, c.Name)); err != nil {
		return err
	}
	p.log.WithFields(logrus.Fields{"plugin": d.URI, "preset": c.Name}).Info("preset saved")
	return nil
}

// loadPreset sets the parameters the preset and the plugin have in common.
func (p *Processor) loadPreset(c command.LoadPluginPreset) error {
	_, d := p.plugin(c.TrackID, c.PluginID, c)
	if d == nil {
		return nil
	}
	preset, err := p.presets.Load(d.URI, c.Name)
	if err != nil {
		return err
	}
	pc := p.controls.Plugin(d)
	for name, v := range preset.Params {
		i := pc.Params.Index(name)
		if i < 0 {
			p.log.WithFields(logrus.Fields{"plugin": d.URI, "param": name}).Debug("preset has an unknown parameter")
			continue
		}
		if d.Params == nil {
			d.Params = map[string]float32{}
		}
		d.Params[pc.Params.Name(i)] = v
		p.send(SetPluginParam{Plugin: pc, Index: i, Value: v, Seq: p.stamp()})
	}
	return nil
}

func (p *Processor) addAutomationPoint(c command.AddAutomationPoint) error {
	t := p.track(c.TrackID, c)
	if t == nil {
		return nil
	}
	switch c.Target.Kind {
	case tracklane.AutomateVolume, tracklane.AutomatePan:
	case tracklane.AutomatePluginParam:
		if t.Plugin(c.Target.PluginID) == nil {
			p.ignored(c)
			return nil
		}
	default:
		return fmt.Errorf("unknown automation target %q", c.Target.Kind)
	}
	pt := c.Point
	if pt.ID == "" {
		pt.ID = tracklane.NewID()
	}
	l := t.Lane(c.Target)
	if l == nil {
		t.Automation = append(t.Automation, tracklane.AutomationLane{ID: tracklane.NewID(), Target: c.Target, Visible: true})
		l = &t.Automation[len(t.Automation)-1]
	}
	l.Insert(pt)
	p.sendAutomation(t)
	return nil
}

func (p *Processor) loadProject(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not open project: %w", err)
	}
	defer f.Close()
	proj, err := tracklane.ReadProject(f)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := proj.LoadSamples(dir); err != nil {
		return err
	}
	return p.replaceProject(proj, dir)
}

// replaceProject swaps in a whole new project. Every plugin is instantiated
// before the engine sees the new tracks; plugins that fail stay in the
// project, silent, and are reported.
func (p *Processor) replaceProject(proj tracklane.Project, baseDir string) error {
	if err := proj.Validate(); err != nil {
		return err
	}
	p.send(Stop{})
	p.project = proj
	p.baseDir = baseDir
	p.controls = NewControls(p.maxBlock)
	p.transport.SetBPM(float32(proj.BPM))
	p.transport.SetMasterVolume(proj.MasterVolume)
	var errs []error
	for i := range p.project.Tracks {
		t := &p.project.Tracks[i]
		for j := range t.Plugins {
			d := &t.Plugins[j]
			if err := p.instantiate(d); err != nil {
				errs = append(errs, err)
				p.controls.Plugin(d).attempted = true
			}
		}
	}
	p.version++
	snap := BuildSnapshot(&p.project, p.controls, p.version)
	snap.Restore = true
	p.send(ReplaceTracks{Snapshot: snap})
	p.sendLoop()
	p.log.WithFields(logrus.Fields{"tracks": len(proj.Tracks), "snapshot": snap.Version}).Info("project replaced")
	return errors.Join(errs...)
}

func (p *Processor) saveProject(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not save project: %w", err)
	}
	if err := p.project.Write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("could not save project: %w", err)
	}
	p.log.WithField("path", path).Info("project saved")
	return nil
}

func (p *Processor) startExport(c command.Export) error {
	opts := ExportOptionsFromConfig(p.export)
	opts.StartBeat, opts.EndBeat = c.StartBeat, c.EndBeat
	if c.BitDepth != 0 {
		opts.BitDepth = c.BitDepth
	}
	opts.Dither = opts.Dither || c.Dither
	opts.Normalize = opts.Normalize || c.Normalize
	proj := p.project.Copy()
	if opts.EndBeat == 0 {
		opts.EndBeat = proj.LengthBeats()
	}
	if ExportFrames(opts.StartBeat, opts.EndBeat, proj.BPM, proj.SampleRate) <= 0 {
		return fmt.Errorf("%w: beats %v to %v", ErrEmptyRange, opts.StartBeat, opts.EndBeat)
	}
	p.exports.Add(1)
	go func() {
		defer p.exports.Done()
		Export(p.ctx, proj, p.facade, c.Path, opts, p.broker.ToUI)
	}()
	return nil
}

// HandleEngineMessage takes what the engine hands back: recorded input,
// finished recordings and torn down plugin instances.
func (p *Processor) HandleEngineMessage(msg MsgToProcessor) {
	defer p.resend()
	switch d := msg.Data.(type) {
	case *PluginBinding:
		if err := d.Close(); err != nil {
			p.log.WithError(err).WithField("plugin", d.Info().URI).Warn("closing plugin failed")
		}
	case *tracklane.AudioBuffer:
		if len(p.recorded) == 0 {
			p.recordStart = msg.Position
		}
		p.recorded = append(p.recorded, *d...)
		p.broker.PutAudioBuffer(d)
	case *MIDIRecording:
		p.finishRecording(d)
		p.send(ReturnRecording{Recording: d})
	}
}

func (p *Processor) drainEngineMessages() {
	for {
		select {
		case msg := <-p.broker.ToProcessor:
			p.HandleEngineMessage(msg)
		default:
			return
		}
	}
}

// finishRecording turns the recorded input into a clip on every armed audio
// track and the recorded notes into a clip on the armed MIDI tracks they
// were played on.
func (p *Processor) finishRecording(rec *MIDIRecording) {
	conv := tracklane.TimeConverter{SampleRate: float64(p.transport.SampleRate()), BPM: p.project.BPM}
	finished := RecordingFinished{Frames: len(p.recorded)}
	if len(p.recorded) > 0 {
		samples := p.recorded.Copy()
		for i := range p.project.Tracks {
			t := &p.project.Tracks[i]
			if t.Kind != tracklane.AudioTrack || !t.Armed {
				continue
			}
			t.AudioClips = append(t.AudioClips, tracklane.AudioClip{
				ID:          tracklane.NewID(),
				Name:        "Recording",
				StartBeat:   conv.SamplesToBeats(p.recordStart),
				LengthBeats: conv.SamplesToBeats(float64(len(samples))),
				Gain:        1,
				SampleRate:  int(conv.SampleRate),
				Samples:     samples,
			})
			finished.TrackIDs = append(finished.TrackIDs, t.ID)
		}
	}
	for id, clip := range notesToClips(rec.Events, conv) {
		t := p.project.Track(id)
		if t == nil || t.Kind != tracklane.MIDITrack {
			continue
		}
		t.MIDIClips = append(t.MIDIClips, clip)
		finished.TrackIDs = append(finished.TrackIDs, id)
		finished.Notes += len(clip.Notes)
	}
	p.recorded = p.recorded[:0]
	if len(finished.TrackIDs) == 0 {
		return
	}
	p.publish()
	TrySend(p.broker.ToUI, MsgToUI{Data: finished})
	p.log.WithFields(logrus.Fields{"tracks": len(finished.TrackIDs), "notes": finished.Notes, "frames": finished.Frames}).Info("recording added")
}

// notesToClips pairs recorded note ons and offs into one clip per track.
// Clips start and end on whole beats; notes still held when recording
// stopped end at the last recorded event.
func notesToClips(events []RecordedEvent, conv tracklane.TimeConverter) map[string]tracklane.MIDIClip {
	type held struct {
		start    float64
		velocity byte
	}
	notes := map[string][]tracklane.Note{}
	open := map[string]map[byte]held{}
	last := 0.0
	for _, e := range events {
		beat := conv.SamplesToBeats(e.Position)
		last = max(last, beat)
		if open[e.TrackID] == nil {
			open[e.TrackID] = map[byte]held{}
		}
		pitch := e.Event.Data1
		if h, ok := open[e.TrackID][pitch]; ok && (e.Event.NoteOff() || e.Event.NoteOn()) {
			notes[e.TrackID] = append(notes[e.TrackID], tracklane.Note{ID: tracklane.NewID(), Pitch: pitch, Velocity: h.velocity, StartBeat: h.start, LengthBeats: beat - h.start})
			delete(open[e.TrackID], pitch)
		}
		if e.Event.NoteOn() {
			open[e.TrackID][pitch] = held{start: beat, velocity: e.Event.Data2}
		}
	}
	for id, hs := range open {
		for pitch, h := range hs {
			notes[id] = append(notes[id], tracklane.Note{ID: tracklane.NewID(), Pitch: pitch, Velocity: h.velocity, StartBeat: h.start, LengthBeats: last - h.start})
		}
	}
	ret := map[string]tracklane.MIDIClip{}
	for id, ns := range notes {
		ns = slices.DeleteFunc(ns, func(n tracklane.Note) bool { return !(n.LengthBeats > 0) })
		if len(ns) == 0 {
			continue
		}
		start, end := math.Inf(1), 0.0
		for _, n := range ns {
			start = min(start, n.StartBeat)
			end = max(end, n.StartBeat+n.LengthBeats)
		}
		start = math.Floor(start)
		end = max(math.Ceil(end), start+1)
		for i := range ns {
			ns[i].StartBeat -= start
		}
		slices.SortFunc(ns, func(a, b tracklane.Note) int {
			switch {
			case a.StartBeat < b.StartBeat:
				return -1
			case a.StartBeat > b.StartBeat:
				return 1
			}
			return 0
		})
		ret[id] = tracklane.MIDIClip{ID: tracklane.NewID(), Name: "Recording", StartBeat: start, LengthBeats: end - start, Notes: ns}
	}
	return ret
}
