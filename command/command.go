// Package command defines the control commands: the only way the UI (or a
// remote client) changes the project. Commands are consumed in order by the
// command processor. The set is closed; only this package can add to it.
package command

import (
	"github.com/vsariola/tracklane"
)

type (
	Command interface {
		command()
	}

	// Transport

	Play  struct{}
	Stop  struct{}
	Pause struct{}
	// Record starts playback and records the armed tracks until Stop or
	// Pause.
	Record struct{}

	Seek struct {
		Beat float64
	}

	SetBPM struct {
		BPM float64
	}

	SetMasterVolume struct {
		Volume float32
	}

	SetLoopEnabled struct {
		Enabled bool
	}

	SetLoopRegion struct {
		StartBeat float64
		EndBeat   float64
	}

	MIDIPanic struct{}

	// Tracks

	// AddTrack appends a track. ID may be left empty to get a fresh one.
	AddTrack struct {
		ID   string
		Name string
		Kind tracklane.TrackKind
	}

	RemoveTrack struct {
		TrackID string
	}

	RenameTrack struct {
		TrackID string
		Name    string
	}

	SetTrackVolume struct {
		TrackID string
		Volume  float32
	}

	SetTrackPan struct {
		TrackID string
		Pan     float32
	}

	SetTrackMute struct {
		TrackID string
		Muted   bool
	}

	SetTrackSolo struct {
		TrackID string
		Solo    bool
	}

	SetTrackArmed struct {
		TrackID string
		Armed   bool
	}

	SetTrackMonitor struct {
		TrackID string
		Monitor bool
	}

	// Plugins

	// AddPlugin instantiates a plugin and inserts it into the chain of the
	// track at Index, or appends it if Index is out of range. Backend may be
	// empty to let the URI decide.
	AddPlugin struct {
		TrackID string
		ID      string
		Backend tracklane.BackendKind
		URI     string
		Index   int
	}

	RemovePlugin struct {
		TrackID  string
		PluginID string
	}

	SetPluginBypass struct {
		TrackID  string
		PluginID string
		Bypass   bool
	}

	SetPluginParam struct {
		TrackID  string
		PluginID string
		Name     string
		Value    float32
	}

	// MovePlugin moves a plugin to Index in the chain of its track, or to
	// the end if Index is out of range.
	MovePlugin struct {
		TrackID  string
		PluginID string
		Index    int
	}

	// SavePluginPreset stores the parameter values of a plugin under Name.
	// The result is sent to Done, if not nil.
	SavePluginPreset struct {
		TrackID  string
		PluginID string
		Name     string
		Done     chan<- error
	}

	// LoadPluginPreset sets the parameters of a plugin from a preset saved
	// for the same URI.
	LoadPluginPreset struct {
		TrackID  string
		PluginID string
		Name     string
	}

	// Clips

	AddMIDIClip struct {
		TrackID string
		Clip    tracklane.MIDIClip
	}

	// AddAudioClip adds a clip. If the clip has no sample data but a file,
	// the file is loaded.
	AddAudioClip struct {
		TrackID string
		Clip    tracklane.AudioClip
	}

	RemoveClip struct {
		TrackID string
		ClipID  string
	}

	// MoveClip moves a clip in time and, if ToTrackID is set, to another
	// track of the same kind.
	MoveClip struct {
		TrackID   string
		ClipID    string
		StartBeat float64
		ToTrackID string
	}

	ResizeClip struct {
		TrackID     string
		ClipID      string
		LengthBeats float64
	}

	SetClipGain struct {
		TrackID string
		ClipID  string
		Gain    float32
	}

	SetClipFades struct {
		TrackID string
		ClipID  string
		FadeIn  float64
		FadeOut float64
	}

	// SplitClip cuts a clip in two at Beat on the timeline. The second
	// part gets NewID, or a fresh id if empty.
	SplitClip struct {
		TrackID string
		ClipID  string
		Beat    float64
		NewID   string
	}

	// DuplicateClip places a copy of a clip right after it. The copy gets
	// NewID, or a fresh id if empty.
	DuplicateClip struct {
		TrackID string
		ClipID  string
		NewID   string
	}

	// Notes

	AddNote struct {
		TrackID string
		ClipID  string
		Note    tracklane.Note
	}

	RemoveNote struct {
		TrackID string
		ClipID  string
		NoteID  string
	}

	// UpdateNote replaces the note with the same ID.
	UpdateNote struct {
		TrackID string
		ClipID  string
		Note    tracklane.Note
	}

	// Automation

	// AddAutomationPoint adds a point to the lane of the target, creating
	// the lane if there is none.
	AddAutomationPoint struct {
		TrackID string
		Target  tracklane.AutomationTarget
		Point   tracklane.AutomationPoint
	}

	RemoveAutomationPoint struct {
		TrackID string
		LaneID  string
		PointID string
	}

	// UpdateAutomationPoint replaces the point with the same ID.
	UpdateAutomationPoint struct {
		TrackID string
		LaneID  string
		Point   tracklane.AutomationPoint
	}

	ClearAutomation struct {
		TrackID string
		Target  tracklane.AutomationTarget
	}

	// Preview

	PreviewNote struct {
		Pitch    byte
		Velocity byte
	}

	StopPreviewNote struct{}

	// Project

	// LoadProject reads a project file and replaces the current project.
	LoadProject struct {
		Path string
	}

	ReplaceProject struct {
		Project tracklane.Project
	}

	// SaveProject writes the project to Path. The result is sent to Done,
	// if not nil.
	SaveProject struct {
		Path string
		Done chan<- error
	}

	// GetProject sends a copy of the project to Reply.
	GetProject struct {
		Reply chan<- tracklane.Project
	}

	// Export renders the project offline into a WAV file. The export runs
	// in its own goroutine and reports its progress to the UI.
	Export struct {
		Path      string
		StartBeat float64
		EndBeat   float64 // 0 means the end of the last clip
		BitDepth  tracklane.BitDepth
		Dither    bool
		Normalize bool
	}
)

func (Play) command()                  {}
func (Stop) command()                  {}
func (Pause) command()                 {}
func (Record) command()                {}
func (Seek) command()                  {}
func (SetBPM) command()                {}
func (SetMasterVolume) command()       {}
func (SetLoopEnabled) command()        {}
func (SetLoopRegion) command()         {}
func (MIDIPanic) command()             {}
func (AddTrack) command()              {}
func (RemoveTrack) command()           {}
func (RenameTrack) command()           {}
func (SetTrackVolume) command()        {}
func (SetTrackPan) command()           {}
func (SetTrackMute) command()          {}
func (SetTrackSolo) command()          {}
func (SetTrackArmed) command()         {}
func (SetTrackMonitor) command()       {}
func (AddPlugin) command()             {}
func (RemovePlugin) command()          {}
func (SetPluginBypass) command()       {}
func (SetPluginParam) command()        {}
func (MovePlugin) command()            {}
func (SavePluginPreset) command()      {}
func (LoadPluginPreset) command()      {}
func (AddMIDIClip) command()           {}
func (AddAudioClip) command()          {}
func (RemoveClip) command()            {}
func (MoveClip) command()              {}
func (ResizeClip) command()            {}
func (SetClipGain) command()           {}
func (SetClipFades) command()          {}
func (SplitClip) command()             {}
func (DuplicateClip) command()         {}
func (AddNote) command()               {}
func (RemoveNote) command()            {}
func (UpdateNote) command()            {}
func (AddAutomationPoint) command()    {}
func (RemoveAutomationPoint) command() {}
func (UpdateAutomationPoint) command() {}
func (ClearAutomation) command()       {}
func (PreviewNote) command()           {}
func (StopPreviewNote) command()       {}
func (LoadProject) command()           {}
func (ReplaceProject) command()        {}
func (SaveProject) command()           {}
func (GetProject) command()            {}
func (Export) command()                {}

// All returns one zero value of every command type, e.g. for registering
// them with an encoder.
func All() []Command {
	return []Command{
		Play{}, Stop{}, Pause{}, Record{}, Seek{}, SetBPM{}, SetMasterVolume{},
		SetLoopEnabled{}, SetLoopRegion{}, MIDIPanic{},
		AddTrack{}, RemoveTrack{}, RenameTrack{}, SetTrackVolume{}, SetTrackPan{},
		SetTrackMute{}, SetTrackSolo{}, SetTrackArmed{}, SetTrackMonitor{},
		AddPlugin{}, RemovePlugin{}, SetPluginBypass{}, SetPluginParam{},
		MovePlugin{}, SavePluginPreset{}, LoadPluginPreset{},
		AddMIDIClip{}, AddAudioClip{}, RemoveClip{}, MoveClip{}, ResizeClip{},
		SetClipGain{}, SetClipFades{}, SplitClip{}, DuplicateClip{},
		AddNote{}, RemoveNote{}, UpdateNote{},
		AddAutomationPoint{}, RemoveAutomationPoint{}, UpdateAutomationPoint{}, ClearAutomation{},
		PreviewNote{}, StopPreviewNote{},
		LoadProject{}, ReplaceProject{}, SaveProject{}, GetProject{}, Export{},
	}
}
