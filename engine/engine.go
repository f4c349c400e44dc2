package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/vsariola/tracklane"
)

type (
	// Engine renders the active graph snapshot, one buffer per call to
	// Process. It runs on the audio goroutine: it is controlled only by
	// realtime commands, snapshots and the transport atomics, and it talks
	// back only through non-blocking sends on the broker. Process does not
	// allocate, lock or block once the engine has warmed up.
	Engine struct {
		broker    *Broker
		transport *tracklane.Transport
		facade    *tracklane.Facade // for lazy instantiation; may be nil
		input     MIDIInput
		maxBlock  int
		telemetry bool

		snapshot *GraphSnapshot
		mark     uint64
		live     []tracklane.MIDIEvent
		preview  previewVoice
		meter    meter
		level    Level
		perf     Performance

		recording    *MIDIRecording
		spare        *MIDIRecording
		stopPending  bool // a finished recording still has to be handed over
		wasRecording bool

		graveyard  []*PluginBinding
		flushNotes bool
		panic      bool
	}

	// MIDIInput supplies live MIDI events, e.g. from a hardware keyboard.
	// NextEvent returns the events for the current block one by one, with
	// Frame relative to the start of the block; FinishBlock tells the input
	// that a block of frame frames has been rendered.
	MIDIInput interface {
		NextEvent(frame int) (event tracklane.MIDIEvent, ok bool)
		FinishBlock(frame int)
	}

	NullMIDIInput struct{}

	// MIDIRecording collects the live MIDI events received while recording.
	// Position is the transport position of the event in samples.
	MIDIRecording struct {
		Events []RecordedEvent
	}

	RecordedEvent struct {
		TrackID  string
		Position float64
		Event    tracklane.MIDIEvent
	}

	previewVoice struct {
		on        bool
		phase     float64
		step      float64
		amp       float32
		decay     float32
		remaining int
	}
)

const (
	maxLiveEvents     = 256
	maxRecordedEvents = 8192
	graveyardSize     = 64
	previewTime       = 0.5 // seconds
	previewGain       = 0.3
)

func (NullMIDIInput) NextEvent(frame int) (tracklane.MIDIEvent, bool) {
	return tracklane.MIDIEvent{}, false
}

func (NullMIDIInput) FinishBlock(frame int) {}

func newMIDIRecording() *MIDIRecording {
	return &MIDIRecording{Events: make([]RecordedEvent, 0, maxRecordedEvents)}
}

// NewEngine creates an engine rendering at most maxBlock frames at a time;
// longer buffers are rendered in several passes. The snapshots given to the
// engine must have been built with Controls of the same maxBlock.
func NewEngine(broker *Broker, transport *tracklane.Transport, maxBlock int) *Engine {
	return &Engine{
		broker:    broker,
		transport: transport,
		input:     NullMIDIInput{},
		maxBlock:  maxBlock,
		telemetry: true,
		snapshot:  &GraphSnapshot{},
		live:      make([]tracklane.MIDIEvent, 0, maxLiveEvents),
		meter:     newMeter(maxBlock),
		recording: newMIDIRecording(),
		spare:     newMIDIRecording(),
		graveyard: make([]*PluginBinding, 0, graveyardSize),
	}
}

// SetFacade enables lazy instantiation of plugins that come in a snapshot
// without a live instance. Instantiating in the audio callback may take
// long, so in realtime use the processor instantiates plugins beforehand
// and this is only a fallback.
func (e *Engine) SetFacade(f *tracklane.Facade) { e.facade = f }

func (e *Engine) SetMIDIInput(in MIDIInput) {
	if in == nil {
		in = NullMIDIInput{}
	}
	e.input = in
}

// SetTelemetry turns the position, level and performance updates on or off.
func (e *Engine) SetTelemetry(on bool) { e.telemetry = on }

// Snapshot returns the active snapshot. It must be called from the goroutine
// calling Process.
func (e *Engine) Snapshot() *GraphSnapshot { return e.snapshot }

// Process renders one buffer into out. in holds the input frames (e.g.
// from a microphone) for monitoring and recording, or nil.
func (e *Engine) Process(out, in tracklane.AudioBuffer) {
	start := time.Now()
	e.processMessages()
	e.buryDisposed()
	total := len(out)
	e.level = Level{}
	for len(out) > 0 {
		n := min(len(out), e.maxBlock)
		var inBlock tracklane.AudioBuffer
		if len(in) > 0 {
			inBlock = in[:min(n, len(in))]
			in = in[len(inBlock):]
		}
		e.render(out[:n], inBlock)
		out = out[n:]
	}
	if e.telemetry {
		e.sendTelemetry(time.Since(start), total)
	}
}

// ProcessSource returns an AudioSource rendering through the engine, with
// no input.
func (e *Engine) ProcessSource() tracklane.AudioSource {
	return func(buf tracklane.AudioBuffer) error {
		e.Process(buf, nil)
		return nil
	}
}

func (e *Engine) processMessages() {
loop:
	for {
		select {
		case cmd := <-e.broker.ToEngine:
			e.apply(cmd)
		default:
			break loop
		}
	}
	if snap, ok := e.broker.Snapshots.TryReceive(); ok {
		e.swap(snap)
	}
}

func (e *Engine) apply(cmd RealtimeCommand) {
	switch c := cmd.(type) {
	case SetTrackVolume:
		c.Track.Volume.Store(max(c.Volume, 0))
		c.Track.seq[seqVolume] = c.Seq
	case SetTrackPan:
		c.Track.Pan.Store(tracklane.Clamp(c.Pan, -1, 1))
		c.Track.seq[seqPan] = c.Seq
	case SetTrackMute:
		c.Track.Muted.Store(c.Muted)
		c.Track.seq[seqMute] = c.Seq
	case SetTrackSolo:
		c.Track.Solo.Store(c.Solo)
		c.Track.seq[seqSolo] = c.Seq
	case SetTrackArmed:
		c.Track.Armed.Store(c.Armed)
		c.Track.seq[seqArmed] = c.Seq
	case SetTrackMonitor:
		c.Track.Monitor.Store(c.Monitor)
		c.Track.seq[seqMonitor] = c.Seq
	case SetTrackAutomation:
		if a := c.Track.strip.automation; a == nil || c.Automation.Version >= a.Version {
			c.Track.strip.automation = c.Automation
		}
	case SetPluginBypass:
		c.Plugin.Bypass.Store(c.Bypass)
		c.Plugin.bypassSeq = c.Seq
	case SetPluginParam:
		if c.Index >= 0 && c.Index < c.Plugin.Params.Len() {
			c.Plugin.Params.Store(c.Index, c.Value)
			c.Plugin.paramSeq[c.Index] = c.Seq
		}
	case AddPluginInstance:
		if c.Plugin.binding != c.Binding {
			e.dispose(c.Plugin.binding)
		}
		c.Plugin.binding = c.Binding
		c.Plugin.attempted = true
	case RemovePluginInstance:
		e.dispose(c.Plugin.binding)
		c.Plugin.binding = nil
	case SetLoopRegion:
		e.transport.SetLoop(c.Start, c.End)
		e.transport.SetLoopEnabled(c.Enabled)
	case PreviewNote:
		e.preview.start(c.Pitch, c.Velocity, float64(e.transport.SampleRate()))
	case StopPreviewNote:
		e.preview.on = false
	case ReplaceTracks:
		if c.Snapshot != nil {
			e.swap(c.Snapshot)
		}
	case Play:
		e.transport.SetPlaying(true)
		e.flushNotes = true
	case Record:
		e.transport.SetRecording(true)
		e.transport.SetPlaying(true)
		e.flushNotes = true
	case Pause:
		e.transport.SetPlaying(false)
		e.transport.SetRecording(false)
		e.flushNotes = true
	case Stop:
		e.transport.SetPlaying(false)
		e.transport.SetRecording(false)
		e.transport.Seek(0)
		e.panic = true
	case Seek:
		e.transport.Seek(c.Position)
		e.flushNotes = true
	case MIDIPanic:
		e.panic = true
	case ReturnRecording:
		if c.Recording != nil {
			c.Recording.Events = c.Recording.Events[:0]
			e.spare = c.Recording
		}
	}
}

// swap makes snap the active snapshot and reconciles the live plugin
// instances: instances of plugins that were in the old snapshot but are not
// in the new one are torn down, plugins without an instance are
// instantiated if lazy instantiation is enabled. Automation travels with
// the snapshot unless the track already has a newer one. Snapshots older
// than the active one are ignored.
func (e *Engine) swap(snap *GraphSnapshot) {
	old := e.snapshot
	if old != nil && snap.Version < old.Version {
		return
	}
	e.mark++
	if snap.Restore {
		restore(snap)
	}
	for i := range snap.Tracks {
		t := &snap.Tracks[i]
		if a := t.Controls.strip.automation; a == nil || (t.Automation != nil && t.Automation.Version >= a.Version) {
			t.Controls.strip.automation = t.Automation
		}
		for j := range t.Plugins {
			pc := t.Plugins[j].Controls
			pc.mark = e.mark
			if pc.binding == nil && !pc.attempted {
				e.instantiate(&t.Plugins[j])
			}
		}
	}
	for i := range old.Tracks {
		for j := range old.Tracks[i].Plugins {
			pc := old.Tracks[i].Plugins[j].Controls
			if pc.mark != e.mark && pc.binding != nil {
				e.dispose(pc.binding)
				pc.binding = nil
			}
		}
	}
	e.snapshot = snap
}

// restore stores the control values of the snapshot, except those set by a
// command stamped after the snapshot was built.
func restore(snap *GraphSnapshot) {
	v := snap.Version
	for i := range snap.Tracks {
		t := &snap.Tracks[i]
		c := t.Controls
		if c.seq[seqVolume] < v {
			c.Volume.Store(max(t.Mix.Volume, 0))
		}
		if c.seq[seqPan] < v {
			c.Pan.Store(tracklane.Clamp(t.Mix.Pan, -1, 1))
		}
		if c.seq[seqMute] < v {
			c.Muted.Store(t.Mix.Muted)
		}
		if c.seq[seqSolo] < v {
			c.Solo.Store(t.Mix.Solo)
		}
		if c.seq[seqArmed] < v {
			c.Armed.Store(t.Mix.Armed)
		}
		if c.seq[seqMonitor] < v {
			c.Monitor.Store(t.Mix.Monitor)
		}
		for j := range t.Plugins {
			p := &t.Plugins[j]
			pc := p.Controls
			if pc.bypassSeq < v {
				pc.Bypass.Store(p.Descriptor.Bypass)
			}
			for k, x := range p.Values {
				if k < len(pc.paramSeq) && pc.paramSeq[k] < v && !math.IsNaN(float64(x)) {
					pc.Params.Store(k, x)
				}
			}
		}
	}
}

func (e *Engine) instantiate(p *PluginSnapshot) {
	pc := p.Controls
	pc.attempted = true
	if e.facade == nil {
		return
	}
	inst, err := e.facade.InstantiateDescriptor(p.Descriptor)
	if err != nil {
		e.broker.Alert("PluginInstantiate", fmt.Sprintf("%s: %v", p.Descriptor.URI, err), Error)
		return
	}
	b, err := NewPluginBinding(inst, pc.Params, e.maxBlock)
	if err != nil {
		inst.Close()
		e.broker.Alert("PluginInstantiate", err.Error(), Error)
		return
	}
	pc.binding = b
}

// dispose hands a torn down binding to the processor, which closes it. If
// the processor cannot take it right now, it is kept until it can.
func (e *Engine) dispose(b *PluginBinding) {
	if b == nil {
		return
	}
	if TrySend(e.broker.ToProcessor, MsgToProcessor{Data: b}) {
		return
	}
	if len(e.graveyard) < cap(e.graveyard) {
		e.graveyard = append(e.graveyard, b)
		return
	}
	b.Close()
}

func (e *Engine) buryDisposed() {
	for len(e.graveyard) > 0 {
		b := e.graveyard[len(e.graveyard)-1]
		if !TrySend(e.broker.ToProcessor, MsgToProcessor{Data: b}) {
			return
		}
		e.graveyard = e.graveyard[:len(e.graveyard)-1]
	}
}

// Close closes every live plugin instance of the active snapshot and every
// instance still waiting to be disposed. It must not be called while
// Process is running.
func (e *Engine) Close() {
	for i := range e.snapshot.Tracks {
		for j := range e.snapshot.Tracks[i].Plugins {
			pc := e.snapshot.Tracks[i].Plugins[j].Controls
			if pc.binding != nil {
				pc.binding.Close()
				pc.binding = nil
			}
		}
	}
	for _, b := range e.graveyard {
		b.Close()
	}
	e.graveyard = e.graveyard[:0]
}

// render renders one block of at most maxBlock frames. When playing, the
// block is split at the loop end so the position wraps exactly there. A
// play head at or past the loop end jumps to the loop start first.
func (e *Engine) render(out, in tracklane.AudioBuffer) {
	out.Clear()
	n := len(out)
	e.collectLiveEvents(n)
	tr := e.transport
	conv := tr.Converter()
	playing := tr.Playing()
	recording := playing && tr.Recording()
	pos := tr.Position()
	for offset := 0; offset < n; {
		frames := n - offset
		wraps := false
		if playing && tr.LoopActive() {
			end := tr.LoopEnd()
			if pos >= end {
				pos = tr.LoopStart()
				e.flushNotes = true
			}
			if toEnd := int(math.Ceil(end - pos)); toEnd <= frames {
				frames, wraps = toEnd, true
			}
		}
		var inSub tracklane.AudioBuffer
		if offset < len(in) {
			inSub = in[offset:min(offset+frames, len(in))]
		}
		e.renderTracks(out[offset:offset+frames], inSub, offset, pos, conv, playing)
		if recording {
			e.recordAudio(inSub, pos)
			e.recordMIDI(offset, frames, pos)
		}
		offset += frames
		if playing {
			pos += float64(frames)
			if wraps {
				pos = tr.LoopStart()
				e.flushNotes = true
			}
		}
	}
	if playing {
		tr.Seek(pos)
	}
	if e.wasRecording && !recording {
		e.stopPending = true
	}
	e.wasRecording = recording
	if e.stopPending {
		e.finishRecording()
	}
	e.preview.render(out)
	scaleBuffer(out, tr.MasterVolume())
	flat := flatten(out)
	for i, v := range flat {
		flat[i] = tracklane.SoftClip(v)
	}
	l := e.meter.level(out)
	for c := range 2 {
		e.level.Peak[c] = max(e.level.Peak[c], l.Peak[c])
		e.level.RMS[c] = max(e.level.RMS[c], l.RMS[c])
	}
	e.input.FinishBlock(n)
}

// renderTracks renders every track into its strip and mixes the audible
// ones into out. Tracks that are not audible still run their plugin chain
// so that instruments see every note on and off.
func (e *Engine) renderTracks(out, in tracklane.AudioBuffer, offset int, pos float64, conv tracklane.TimeConverter, playing bool) {
	n := len(out)
	snap := e.snapshot
	anySolo := false
	for i := range snap.Tracks {
		if snap.Tracks[i].Controls.Solo.Load() {
			anySolo = true
			break
		}
	}
	ctx := tracklane.ProcessContext{
		Frames:      n,
		SampleRate:  conv.SampleRate,
		BPM:         conv.BPM,
		TimeSamples: pos,
		Playing:     playing,
		LoopActive:  e.transport.LoopActive(),
	}
	beat := conv.SamplesToBeats(pos)
	beatEnd := conv.SamplesToBeats(pos + float64(n))
	jump := e.flushNotes || e.panic
	for i := range snap.Tracks {
		t := &snap.Tracks[i]
		c := t.Controls
		s := c.strip
		buf := s.buf[:n]
		buf.Clear()
		s.events = s.events[:0]
		if e.panic {
			s.addPanic()
		} else if e.flushNotes {
			s.releaseSounding()
		}
		if playing {
			switch t.Kind {
			case tracklane.MIDITrack:
				s.addClipEvents(t.MIDIClips, pos, n, conv, jump)
			case tracklane.AudioTrack:
				renderAudioClips(buf, t.AudioClips, pos, conv)
			}
		}
		if c.Armed.Load() || c.Monitor.Load() {
			switch t.Kind {
			case tracklane.MIDITrack:
				for _, ev := range e.live {
					if ev.Frame >= offset && ev.Frame < offset+n {
						ev.Frame -= offset
						s.addEvent(ev)
					}
				}
			case tracklane.AudioTrack:
				if c.Monitor.Load() {
					buf.Add(in)
				}
			}
		}
		s.sortEvents()
		s.trackSounding()
		baseVolume, basePan := c.Volume.Load(), c.Pan.Load()
		volume, pan := baseVolume, basePan
		ramp := false
		if a := s.automation; a != nil {
			volume, pan = a.mix(beat, volume, pan)
			ramp = a.changesWithin(beat, beatEnd)
		}
		instrument := e.runChain(t, buf, s.events, ctx, beat)
		if t.Kind == tracklane.MIDITrack && !instrument {
			s.renderVoices(buf, s.events, conv.SampleRate)
		}
		if !c.Muted.Load() && (!anySolo || c.Solo.Load()) {
			left, right := tracklane.PanGains(volume, pan)
			if ramp {
				mixAutomated(out, buf, s.automation, baseVolume, basePan, pos, conv)
			} else {
				mixInto(out, buf, left, right)
			}
			p := e.meter.peak(buf)
			s.peak[0] = max(s.peak[0], p[0]*left)
			s.peak[1] = max(s.peak[1], p[1]*right)
		}
	}
	e.flushNotes = false
	e.panic = false
}

// runChain runs the plugin chain of the track over buf in order, skipping
// bypassed plugins and plugins without a live instance. A plugin that fails
// is silent for the block; the first failure after a successful block is
// reported. It reports if
// the chain contains an instrument.
func (e *Engine) runChain(t *TrackSnapshot, buf tracklane.AudioBuffer, events []tracklane.MIDIEvent, ctx tracklane.ProcessContext, beat float64) (instrument bool) {
	for j := range t.Plugins {
		pc := t.Plugins[j].Controls
		b := pc.binding
		if b == nil || pc.Bypass.Load() {
			continue
		}
		e.syncParams(t, pc, b, beat)
		if b.info.IsInstrument {
			instrument = true
		}
		out, err := b.process(ctx, buf, events)
		if err != nil {
			buf.Clear()
			if !b.failing {
				b.failing = true
				e.broker.Alert("PluginProcess", fmt.Sprintf("%s: %v", b.info.Name, err), Warning)
			}
			continue
		}
		b.failing = false
		events = out
	}
	return
}

// syncParams sends the current parameter values to the instance: the
// automated value where a lane covers the parameter, the stored value
// otherwise.
func (e *Engine) syncParams(t *TrackSnapshot, pc *PluginControls, b *PluginBinding, beat float64) {
	n := pc.Params.Len()
	for i := 0; i < n; i++ {
		b.setParam(i, pc.Params.Load(i))
	}
	a := t.Controls.strip.automation
	if a == nil {
		return
	}
	for _, lane := range a.Params {
		if lane.Plugin != pc {
			continue
		}
		if v, ok := tracklane.PointsValueAt(lane.Points, beat); ok {
			b.setParam(lane.Index, v)
		}
	}
}

func (e *Engine) collectLiveEvents(n int) {
	e.live = e.live[:0]
	for {
		ev, ok := e.input.NextEvent(n)
		if !ok {
			break
		}
		ev.Frame = tracklane.Clamp(ev.Frame, 0, n-1)
		if len(e.live) < cap(e.live) {
			e.live = append(e.live, ev)
		}
	}
}

// recordAudio hands the input of the block to the processor. The processor
// decides which tracks it belongs to.
func (e *Engine) recordAudio(in tracklane.AudioBuffer, pos float64) {
	if len(in) == 0 {
		return
	}
	buf := e.broker.GetAudioBuffer()
	*buf = append(*buf, in...)
	if !TrySend(e.broker.ToProcessor, MsgToProcessor{Data: buf, Position: pos}) {
		e.broker.PutAudioBuffer(buf)
	}
}

func (e *Engine) recordMIDI(offset, frames int, pos float64) {
	if e.recording == nil {
		return
	}
	snap := e.snapshot
	for _, ev := range e.live {
		if ev.Frame < offset || ev.Frame >= offset+frames {
			continue
		}
		if !ev.NoteOn() && !ev.NoteOff() {
			continue
		}
		for i := range snap.Tracks {
			t := &snap.Tracks[i]
			if t.Kind != tracklane.MIDITrack || !t.Controls.Armed.Load() {
				continue
			}
			if len(e.recording.Events) < cap(e.recording.Events) {
				e.recording.Events = append(e.recording.Events, RecordedEvent{
					TrackID:  t.ID,
					Position: pos + float64(ev.Frame-offset),
					Event:    ev,
				})
			}
		}
	}
}

// finishRecording hands the MIDI recording to the processor, which takes it
// as the sign that recording stopped. The spare recording, returned by the
// processor after the previous stop, takes its place.
func (e *Engine) finishRecording() {
	if e.recording == nil {
		e.recording, e.spare = e.spare, nil
		if e.recording == nil {
			return
		}
	}
	if !TrySend(e.broker.ToProcessor, MsgToProcessor{Data: e.recording}) {
		return
	}
	e.recording, e.spare = e.spare, nil
	e.stopPending = false
}

func (e *Engine) sendTelemetry(elapsed time.Duration, frames int) {
	sr := float64(e.transport.SampleRate())
	if frames > 0 && sr > 0 {
		budget := float64(frames) / sr
		e.perf.Load = float32(elapsed.Seconds() / budget)
		e.perf.Peak = max(e.perf.Peak, e.perf.Load)
		if e.perf.Load > 1 {
			e.perf.XRuns++
		}
	}
	pos := e.transport.Position()
	msg := MsgToUI{
		HasPosition: true,
		Position:    pos,
		Beat:        e.transport.Converter().SamplesToBeats(pos),
		Playing:     e.transport.Playing(),
		Recording:   e.transport.Recording(),
		HasLevels:   true,
		Version:     e.snapshot.Version,
		Master:      e.level,
		Performance: e.perf,
	}
	for i := range e.snapshot.Tracks {
		s := e.snapshot.Tracks[i].Controls.strip
		if i < MaxMeteredTracks {
			msg.TrackPeaks[i] = s.peak
			msg.NumTracks = i + 1
		}
		s.peak = [2]float32{}
	}
	TrySend(e.broker.ToUI, msg)
}

func (p *previewVoice) start(pitch, velocity byte, sampleRate float64) {
	if sampleRate <= 0 {
		return
	}
	samples := previewTime * sampleRate
	*p = previewVoice{
		on:        true,
		step:      2 * math.Pi * tracklane.NoteFrequency(pitch) / sampleRate,
		amp:       previewGain * float32(velocity) / 127,
		decay:     float32(math.Exp(-5 / samples)),
		remaining: int(samples),
	}
}

func (p *previewVoice) render(buf tracklane.AudioBuffer) {
	for i := range buf {
		if !p.on {
			return
		}
		v := float32(math.Sin(p.phase)) * p.amp
		buf[i][0] += v
		buf[i][1] += v
		p.phase += p.step
		p.amp *= p.decay
		p.remaining--
		if p.remaining <= 0 {
			p.on = false
		}
	}
}
