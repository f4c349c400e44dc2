package engine

type (
	// RealtimeCommand is a small instruction applied by the audio engine at
	// the start of the next block, in the order sent, exactly once. The set
	// of commands is closed: only the types in this package implement it.
	RealtimeCommand interface {
		realtimeCommand()
	}

	// SetTrackVolume and the other commands setting a single control carry
	// the sequence number the processor stamped them with. A snapshot
	// restoring the controls leaves alone values set by a command with a
	// higher number than its version.
	SetTrackVolume struct {
		Track  *TrackControls
		Volume float32
		Seq    uint64
	}

	SetTrackPan struct {
		Track *TrackControls
		Pan   float32
		Seq   uint64
	}

	SetTrackMute struct {
		Track *TrackControls
		Muted bool
		Seq   uint64
	}

	SetTrackSolo struct {
		Track *TrackControls
		Solo  bool
		Seq   uint64
	}

	SetTrackArmed struct {
		Track *TrackControls
		Armed bool
		Seq   uint64
	}

	SetTrackMonitor struct {
		Track   *TrackControls
		Monitor bool
		Seq     uint64
	}

	// SetTrackAutomation replaces the automation of a track, unless the
	// engine already has a newer one.
	SetTrackAutomation struct {
		Track      *TrackControls
		Automation *TrackAutomation
	}

	SetPluginBypass struct {
		Plugin *PluginControls
		Bypass bool
		Seq    uint64
	}

	SetPluginParam struct {
		Plugin *PluginControls
		Index  int
		Value  float32
		Seq    uint64
	}

	// AddPluginInstance attaches a live instance to a plugin. Any instance
	// attached before is torn down.
	AddPluginInstance struct {
		Plugin  *PluginControls
		Binding *PluginBinding
	}

	// RemovePluginInstance tears down the live instance of a plugin.
	RemovePluginInstance struct {
		Plugin *PluginControls
	}

	// SetLoopRegion sets the loop in samples.
	SetLoopRegion struct {
		Enabled    bool
		Start, End float64
	}

	// PreviewNote plays a short sine tone on the master bus, e.g. when a
	// note is clicked in an editor. It replaces a preview still sounding.
	PreviewNote struct {
		Pitch    byte
		Velocity byte
	}

	StopPreviewNote struct{}

	// ReplaceTracks swaps the whole track list right away, in order with
	// the other commands.
	ReplaceTracks struct {
		Snapshot *GraphSnapshot
	}

	Play struct{}

	// Stop stops playback and recording, rewinds to the beginning and
	// silences every instrument.
	Stop struct{}

	// Pause stops playback and recording but keeps the position.
	Pause struct{}

	// Record starts playback with recording. Recording with no armed
	// track plays without recording anything.
	Record struct{}

	Seek struct {
		Position float64 // in samples
	}

	MIDIPanic struct{}

	// ReturnRecording hands a recording back to the engine for reuse after
	// its contents have been copied.
	ReturnRecording struct {
		Recording *MIDIRecording
	}
)

func (SetTrackVolume) realtimeCommand()       {}
func (SetTrackPan) realtimeCommand()          {}
func (SetTrackMute) realtimeCommand()         {}
func (SetTrackSolo) realtimeCommand()         {}
func (SetTrackArmed) realtimeCommand()        {}
func (SetTrackMonitor) realtimeCommand()      {}
func (SetTrackAutomation) realtimeCommand()   {}
func (SetPluginBypass) realtimeCommand()      {}
func (SetPluginParam) realtimeCommand()       {}
func (AddPluginInstance) realtimeCommand()    {}
func (RemovePluginInstance) realtimeCommand() {}
func (SetLoopRegion) realtimeCommand()        {}
func (PreviewNote) realtimeCommand()          {}
func (StopPreviewNote) realtimeCommand()      {}
func (ReplaceTracks) realtimeCommand()        {}
func (Play) realtimeCommand()                 {}
func (Stop) realtimeCommand()                 {}
func (Pause) realtimeCommand()                {}
func (Record) realtimeCommand()               {}
func (Seek) realtimeCommand()                 {}
func (MIDIPanic) realtimeCommand()            {}
func (ReturnRecording) realtimeCommand()      {}
