package engine

import (
	"math"
	"sync"
	"testing"

	"github.com/vsariola/tracklane"
)

const (
	testMaxBlock   = 256
	testSampleRate = 44100
	samplesPerBeat = 22050 // at 120 bpm
	tolerance      = 1e-6
)

var centerGain = float32(math.Cos(math.Pi / 4))

func newTestEngine() (*Broker, *tracklane.Transport, *Engine) {
	b := NewBroker()
	tr := tracklane.NewTransport()
	tr.SetSampleRate(testSampleRate)
	tr.SetBPM(120)
	tr.SetMasterVolume(1)
	e := NewEngine(b, tr, testMaxBlock)
	e.SetTelemetry(false)
	return b, tr, e
}

func dcClip(value float32, startBeat, lengthBeats float64) tracklane.AudioClip {
	samples := make(tracklane.AudioBuffer, int(lengthBeats*samplesPerBeat))
	for i := range samples {
		samples[i] = [2]float32{value, value}
	}
	return tracklane.AudioClip{ID: tracklane.NewID(), StartBeat: startBeat, LengthBeats: lengthBeats, Gain: 1, SampleRate: testSampleRate, Samples: samples}
}

func audioTrack(id string, clips ...tracklane.AudioClip) tracklane.Track {
	t := tracklane.NewTrack(id, tracklane.AudioTrack)
	t.ID = id
	t.AudioClips = clips
	return t
}

func testProject(tracks ...tracklane.Track) tracklane.Project {
	p := tracklane.NewProject()
	p.Tracks = tracks
	return p
}

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) <= tolerance
}

func TestRealtimeCommandsApplyInOrder(t *testing.T) {
	b, tr, e := newTestEngine()
	proj := testProject(audioTrack("a", dcClip(0.1, 0, 4)))
	controls := NewControls(testMaxBlock)
	b.Snapshots.Send(BuildSnapshot(&proj, controls, 1))
	tc := controls.Track(&proj.Tracks[0])
	b.ToEngine <- SetTrackVolume{Track: tc, Volume: 0.5}
	b.ToEngine <- SetTrackVolume{Track: tc, Volume: 0.8}
	tr.SetPlaying(true)
	out := make(tracklane.AudioBuffer, 64)
	e.Process(out, nil)
	if v := tc.Volume.Load(); v != 0.8 {
		t.Fatalf("volume after two commands = %v, want 0.8", v)
	}
	want := 0.1 * 0.8 * centerGain
	if !almostEqual(out[10][0], want) || !almostEqual(out[10][1], want) {
		t.Fatalf("output = %v, want %v on both channels", out[10], want)
	}
}

func TestSnapshotSwapUnderConcurrentPublishing(t *testing.T) {
	b, tr, e := newTestEngine()
	tr.SetPlaying(true)
	const snapshots = 100
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		controls := NewControls(testMaxBlock)
		proj := testProject()
		for v := uint64(1); v <= snapshots; v++ {
			proj.Tracks = append(proj.Tracks, audioTrack(tracklane.NewID(), dcClip(0.001, 0, 1)))
			b.Snapshots.Send(BuildSnapshot(&proj, controls, v))
		}
	}()
	out := make(tracklane.AudioBuffer, 128)
	last := uint64(0)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		default:
		}
		e.Process(out, nil)
		v := e.Snapshot().Version
		if v < last {
			t.Fatalf("snapshot version went back from %d to %d", last, v)
		}
		if n := len(e.Snapshot().Tracks); uint64(n) != v {
			t.Fatalf("snapshot %d has %d tracks, want %d", v, n, v)
		}
		last = v
	}
	e.Process(out, nil)
	if v := e.Snapshot().Version; v != snapshots {
		t.Fatalf("final snapshot version = %d, want %d", v, snapshots)
	}
}

func TestStaleSnapshotIsIgnored(t *testing.T) {
	b, _, e := newTestEngine()
	proj := testProject(audioTrack("a"))
	controls := NewControls(testMaxBlock)
	b.ToEngine <- ReplaceTracks{Snapshot: BuildSnapshot(&proj, controls, 5)}
	b.Snapshots.Send(BuildSnapshot(&proj, controls, 4))
	e.Process(make(tracklane.AudioBuffer, 16), nil)
	if v := e.Snapshot().Version; v != 5 {
		t.Fatalf("snapshot version = %d, want 5", v)
	}
}

func TestPositionAdvancesExactly(t *testing.T) {
	for _, sizes := range [][]int{{512}, {1, 2, 3}, {1000, 300, 17}, {256, 256, 256, 256}} {
		_, tr, e := newTestEngine()
		tr.SetPlaying(true)
		total := 0
		for _, n := range sizes {
			e.Process(make(tracklane.AudioBuffer, n), nil)
			total += n
		}
		if pos := tr.Position(); pos != float64(total) {
			t.Fatalf("blocks %v: position = %v, want %d", sizes, pos, total)
		}
	}
}

func TestStoppedTransportDoesNotAdvance(t *testing.T) {
	_, tr, e := newTestEngine()
	tr.Seek(1234)
	e.Process(make(tracklane.AudioBuffer, 300), nil)
	if pos := tr.Position(); pos != 1234 {
		t.Fatalf("position = %v, want 1234", pos)
	}
}

func TestLoopWrapsInsideBlock(t *testing.T) {
	b, tr, e := newTestEngine()
	clip := dcClip(0, 0, 1)
	for i := range clip.Samples {
		v := float32(i) / 100000
		clip.Samples[i] = [2]float32{v, v}
	}
	proj := testProject(audioTrack("a", clip))
	b.Snapshots.Send(BuildSnapshot(&proj, NewControls(testMaxBlock), 1))
	tr.SetLoop(0, 1000)
	tr.SetLoopEnabled(true)
	tr.Seek(900)
	tr.SetPlaying(true)
	out := make(tracklane.AudioBuffer, 200)
	e.Process(out, nil)
	if pos := tr.Position(); pos != 100 {
		t.Fatalf("position after wrap = %v, want 100", pos)
	}
	for j, frame := range out {
		src := 900 + j
		if j >= 100 {
			src = j - 100
		}
		want := float32(src) / 100000 * centerGain
		if !almostEqual(frame[0], want) {
			t.Fatalf("frame %d = %v, want %v (sample %d)", j, frame[0], want, src)
		}
	}
}

func TestLoopWithEmptyRegionDoesNotWrap(t *testing.T) {
	_, tr, e := newTestEngine()
	tr.SetLoop(1000, 1000)
	tr.SetLoopEnabled(true)
	tr.Seek(900)
	tr.SetPlaying(true)
	e.Process(make(tracklane.AudioBuffer, 200), nil)
	if pos := tr.Position(); pos != 1100 {
		t.Fatalf("position = %v, want 1100", pos)
	}
}

func TestSoloAndMute(t *testing.T) {
	tests := []struct {
		name  string
		solo  []string
		muted []string
		want  float32
	}{
		{"all", nil, nil, 0.7},
		{"solo b", []string{"b"}, nil, 0.2},
		{"solo a and c", []string{"a", "c"}, nil, 0.5},
		{"mute a", nil, []string{"a"}, 0.6},
		{"solo b muted", []string{"b"}, []string{"b"}, 0},
		{"solo c mute a", []string{"c"}, []string{"a"}, 0.4},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b, tr, e := newTestEngine()
			proj := testProject(audioTrack("a", dcClip(0.1, 0, 1)), audioTrack("b", dcClip(0.2, 0, 1)), audioTrack("c", dcClip(0.4, 0, 1)))
			controls := NewControls(testMaxBlock)
			b.Snapshots.Send(BuildSnapshot(&proj, controls, 1))
			for _, id := range test.solo {
				b.ToEngine <- SetTrackSolo{Track: controls.Track(proj.Track(id)), Solo: true}
			}
			for _, id := range test.muted {
				b.ToEngine <- SetTrackMute{Track: controls.Track(proj.Track(id)), Muted: true}
			}
			tr.SetPlaying(true)
			out := make(tracklane.AudioBuffer, 32)
			e.Process(out, nil)
			want := test.want * centerGain
			if !almostEqual(out[5][0], want) {
				t.Fatalf("output = %v, want %v", out[5][0], want)
			}
		})
	}
}

func TestPanLawOnOutput(t *testing.T) {
	b, tr, e := newTestEngine()
	proj := testProject(audioTrack("a", dcClip(0.4, 0, 1)))
	controls := NewControls(testMaxBlock)
	b.Snapshots.Send(BuildSnapshot(&proj, controls, 1))
	b.ToEngine <- SetTrackPan{Track: controls.Track(&proj.Tracks[0]), Pan: -1}
	tr.SetPlaying(true)
	out := make(tracklane.AudioBuffer, 8)
	e.Process(out, nil)
	if !almostEqual(out[0][0], 0.4) || !almostEqual(out[0][1], 0) {
		t.Fatalf("hard left pan = %v, want [0.4 0]", out[0])
	}
}

func TestMasterVolumeAndSoftClip(t *testing.T) {
	b, tr, e := newTestEngine()
	proj := testProject(audioTrack("a", dcClip(2, 0, 1)))
	b.Snapshots.Send(BuildSnapshot(&proj, NewControls(testMaxBlock), 1))
	tr.SetPlaying(true)
	out := make(tracklane.AudioBuffer, 8)
	e.Process(out, nil)
	if v := out[0][0]; v <= 0.5 || v >= 1 {
		t.Fatalf("clipped output = %v, want in (0.5, 1)", v)
	}
	tr.SetMasterVolume(0)
	e.Process(out, nil)
	if out[0] != [2]float32{} {
		t.Fatalf("output at master volume 0 = %v, want silence", out[0])
	}
}

func TestPluginChainAndParams(t *testing.T) {
	b, tr, e := newTestEngine()
	facade, _ := newFakeFacade()
	track := audioTrack("a", dcClip(0.2, 0, 1))
	track.Plugins = []tracklane.PluginDescriptor{{ID: "p", Backend: fakeBackendKind, URI: "gain"}}
	proj := testProject(track)
	controls := NewControls(testMaxBlock)
	inst, err := facade.InstantiateDescriptor(proj.Tracks[0].Plugins[0])
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	pc, binding, err := NewPluginControls(&proj.Tracks[0].Plugins[0], inst, testMaxBlock)
	if err != nil {
		t.Fatalf("NewPluginControls: %v", err)
	}
	controls.SetPlugin(pc)
	b.ToEngine <- AddPluginInstance{Plugin: pc, Binding: binding}
	b.Snapshots.Send(BuildSnapshot(&proj, controls, 1))
	b.ToEngine <- SetPluginParam{Plugin: pc, Index: pc.Params.Index("gain"), Value: 0.5}
	tr.SetPlaying(true)
	out := make(tracklane.AudioBuffer, 16)
	e.Process(out, nil)
	if want := 0.2 * 0.5 * centerGain; !almostEqual(out[0][0], want) {
		t.Fatalf("output with gain 0.5 = %v, want %v", out[0][0], want)
	}
	b.ToEngine <- SetPluginBypass{Plugin: pc, Bypass: true}
	e.Process(out, nil)
	if want := 0.2 * centerGain; !almostEqual(out[0][0], want) {
		t.Fatalf("bypassed output = %v, want %v", out[0][0], want)
	}
	b.ToEngine <- SetPluginBypass{Plugin: pc, Bypass: false}
	b.ToEngine <- SetTrackAutomation{Track: controls.Track(&proj.Tracks[0]), Automation: &TrackAutomation{
		Version: 2,
		Params:  []ParamLane{{Plugin: pc, Index: 0, Points: []tracklane.AutomationPoint{{Beat: 0, Value: 2}}}},
	}}
	e.Process(out, nil)
	if want := 0.2 * 2 * centerGain; !almostEqual(out[0][0], want) {
		t.Fatalf("automated output = %v, want %v", out[0][0], want)
	}
}

func TestOlderAutomationIsIgnored(t *testing.T) {
	b, _, e := newTestEngine()
	proj := testProject(audioTrack("a"))
	controls := NewControls(testMaxBlock)
	tc := controls.Track(&proj.Tracks[0])
	newer := &TrackAutomation{Version: 3}
	b.ToEngine <- SetTrackAutomation{Track: tc, Automation: newer}
	b.ToEngine <- SetTrackAutomation{Track: tc, Automation: &TrackAutomation{Version: 2}}
	b.Snapshots.Send(BuildSnapshot(&proj, controls, 1))
	e.Process(make(tracklane.AudioBuffer, 8), nil)
	if tc.strip.automation != newer {
		t.Fatalf("automation version = %d, want 3", tc.strip.automation.Version)
	}
}

func TestFailingPluginIsSilencedAndReportedOnce(t *testing.T) {
	for _, uri := range []string{"broken", "panicky"} {
		t.Run(uri, func(t *testing.T) {
			b, tr, e := newTestEngine()
			facade, _ := newFakeFacade()
			e.SetFacade(facade)
			track := audioTrack("a", dcClip(0.2, 0, 1))
			track.Plugins = []tracklane.PluginDescriptor{{ID: "p", URI: uri}}
			proj := testProject(track, audioTrack("b", dcClip(0.1, 0, 1)))
			b.Snapshots.Send(BuildSnapshot(&proj, NewControls(testMaxBlock), 1))
			tr.SetPlaying(true)
			out := make(tracklane.AudioBuffer, 16)
			for i := 0; i < 3; i++ {
				e.Process(out, nil)
			}
			if want := 0.1 * centerGain; !almostEqual(out[0][0], want) {
				t.Fatalf("output = %v, want only the healthy track (%v)", out[0][0], want)
			}
			alerts := 0
			for len(b.ToUI) > 0 {
				if _, ok := (<-b.ToUI).Data.(Alert); ok {
					alerts++
				}
			}
			if alerts != 1 {
				t.Fatalf("got %d alerts, want 1", alerts)
			}
		})
	}
}

func TestLazyInstantiationAndTeardown(t *testing.T) {
	b, tr, e := newTestEngine()
	facade, backend := newFakeFacade()
	e.SetFacade(facade)
	track := audioTrack("a", dcClip(0.2, 0, 1))
	track.Plugins = []tracklane.PluginDescriptor{{ID: "p", URI: "gain", Params: map[string]float32{"gain": 0.5}}}
	proj := testProject(track)
	controls := NewControls(testMaxBlock)
	b.Snapshots.Send(BuildSnapshot(&proj, controls, 1))
	tr.SetPlaying(true)
	out := make(tracklane.AudioBuffer, 16)
	e.Process(out, nil)
	if want := 0.2 * 0.5 * centerGain; !almostEqual(out[0][0], want) {
		t.Fatalf("output = %v, want %v", out[0][0], want)
	}
	proj.Tracks[0].Plugins = nil
	b.Snapshots.Send(BuildSnapshot(&proj, controls, 2))
	e.Process(out, nil)
	var msg MsgToProcessor
	select {
	case msg = <-b.ToProcessor:
	default:
		t.Fatalf("removed plugin was not handed back")
	}
	binding, ok := msg.Data.(*PluginBinding)
	if !ok {
		t.Fatalf("engine sent %T, want a torn down *PluginBinding", msg.Data)
	}
	binding.Close()
	if n := backend.closed.Load(); n != 1 {
		t.Fatalf("closed %d instances, want 1", n)
	}
}

func TestUnsupportedPortsFailInstantiation(t *testing.T) {
	b, _, e := newTestEngine()
	facade, backend := newFakeFacade()
	e.SetFacade(facade)
	track := audioTrack("a")
	track.Plugins = []tracklane.PluginDescriptor{{ID: "p", URI: "wide"}}
	proj := testProject(track)
	b.Snapshots.Send(BuildSnapshot(&proj, NewControls(testMaxBlock), 1))
	e.Process(make(tracklane.AudioBuffer, 8), nil)
	if n := backend.closed.Load(); n != 1 {
		t.Fatalf("closed %d instances, want the rejected one closed", n)
	}
	if msg := <-b.ToUI; msg.Data == nil {
		t.Fatalf("want an alert for the rejected plugin")
	}
}

func TestBindingPortCombinations(t *testing.T) {
	events := []tracklane.MIDIEvent{{Frame: 3, Status: tracklane.MIDINoteOn, Data1: 60, Data2: 100}}
	for in := 0; in <= 2; in++ {
		for out := 0; out <= 2; out++ {
			for _, evIn := range []bool{false, true} {
				for _, evOut := range []bool{false, true} {
					ports := tracklane.PortConfig{AudioIn: in, AudioOut: out, EventIn: evIn, EventOut: evOut}
					b, err := NewPluginBinding(newFakeInstance("x", ports), NewParamStore(fakeParams, nil), 64)
					if err != nil {
						t.Fatalf("%+v: %v", ports, err)
					}
					buf := make(tracklane.AudioBuffer, 32)
					for i := range buf {
						buf[i] = [2]float32{0.5, 0.5}
					}
					got, err := b.process(tracklane.ProcessContext{SampleRate: testSampleRate}, buf, events)
					if err != nil {
						t.Fatalf("%+v: process: %v", ports, err)
					}
					want := float32(0.5)
					if in == 0 && out > 0 {
						want = 0.25
					}
					if buf[7] != [2]float32{want, want} {
						t.Fatalf("%+v: output %v, want %v", ports, buf[7], want)
					}
					wantEvents := 1
					if evOut && !evIn {
						wantEvents = 0
					}
					if len(got) != wantEvents {
						t.Fatalf("%+v: %d events out, want %d", ports, len(got), wantEvents)
					}
				}
			}
		}
	}
}

func TestFallbackVoicesPlayMIDIClips(t *testing.T) {
	b, tr, e := newTestEngine()
	track := tracklane.NewTrack("m", tracklane.MIDITrack)
	track.MIDIClips = []tracklane.MIDIClip{{ID: "c", LengthBeats: 4, Notes: []tracklane.Note{{Pitch: 69, Velocity: 127, LengthBeats: 1}}}}
	proj := testProject(track)
	b.Snapshots.Send(BuildSnapshot(&proj, NewControls(testMaxBlock), 1))
	tr.SetPlaying(true)
	out := make(tracklane.AudioBuffer, 1024)
	e.Process(out, nil)
	if p := out.Peak(); p[0] == 0 {
		t.Fatalf("MIDI track without instrument is silent")
	}
}

func TestPreviewNote(t *testing.T) {
	b, _, e := newTestEngine()
	b.ToEngine <- PreviewNote{Pitch: 60, Velocity: 100}
	out := make(tracklane.AudioBuffer, 256)
	e.Process(out, nil)
	if p := out.Peak(); p[0] == 0 || p[0] != p[1] {
		t.Fatalf("preview peak = %v, want a centered non-silent voice", p)
	}
	b.ToEngine <- StopPreviewNote{}
	e.Process(out, nil)
	if p := out.Peak(); p != [2]float32{} {
		t.Fatalf("preview after stop = %v, want silence", p)
	}
}

func TestTelemetry(t *testing.T) {
	b, tr, e := newTestEngine()
	e.SetTelemetry(true)
	proj := testProject(audioTrack("a", dcClip(0.2, 0, 1)))
	b.Snapshots.Send(BuildSnapshot(&proj, NewControls(testMaxBlock), 7))
	tr.SetPlaying(true)
	e.Process(make(tracklane.AudioBuffer, 100), nil)
	msg := <-b.ToUI
	if !msg.HasPosition || msg.Position != 100 || !msg.Playing {
		t.Fatalf("position update = %+v", msg)
	}
	if msg.Version != 7 || msg.NumTracks != 1 || !almostEqual(msg.TrackPeaks[0][0], 0.2*centerGain) {
		t.Fatalf("level update: version %d, %d tracks, peak %v", msg.Version, msg.NumTracks, msg.TrackPeaks[0])
	}
}

func TestStopRewindsAndPauseKeepsPosition(t *testing.T) {
	b, tr, e := newTestEngine()
	b.ToEngine <- Play{}
	e.Process(make(tracklane.AudioBuffer, 100), nil)
	b.ToEngine <- Pause{}
	e.Process(make(tracklane.AudioBuffer, 100), nil)
	if tr.Playing() || tr.Position() != 100 {
		t.Fatalf("after pause: playing %v, position %v", tr.Playing(), tr.Position())
	}
	b.ToEngine <- Seek{Position: 500}
	b.ToEngine <- Play{}
	e.Process(make(tracklane.AudioBuffer, 10), nil)
	if tr.Position() != 510 {
		t.Fatalf("position after seek = %v, want 510", tr.Position())
	}
	b.ToEngine <- Stop{}
	e.Process(make(tracklane.AudioBuffer, 10), nil)
	if tr.Playing() || tr.Position() != 0 {
		t.Fatalf("after stop: playing %v, position %v", tr.Playing(), tr.Position())
	}
}

// heldNoteTrack returns a MIDI track whose instrument counts note ons, with
// one note held from beat 0 to beat 4.
func heldNoteTrack(t *testing.T, controls *Controls) (tracklane.Project, *fakeInstance) {
	t.Helper()
	track := tracklane.NewTrack("m", tracklane.MIDITrack)
	track.ID = "m"
	track.MIDIClips = []tracklane.MIDIClip{{ID: "c", LengthBeats: 4, Notes: []tracklane.Note{{Pitch: 60, Velocity: 100, LengthBeats: 4}}}}
	track.Plugins = []tracklane.PluginDescriptor{{ID: "s", Backend: fakeBackendKind, URI: "synth"}}
	proj := testProject(track)
	inst := newFakeInstance("synth", fakePorts["synth"])
	pc, binding, err := NewPluginControls(&proj.Tracks[0].Plugins[0], inst, testMaxBlock)
	if err != nil {
		t.Fatalf("NewPluginControls: %v", err)
	}
	controls.SetPlugin(pc)
	pc.binding = binding
	return proj, inst
}

func TestHeldNoteRestartsAfterLoopWrap(t *testing.T) {
	b, tr, e := newTestEngine()
	controls := NewControls(testMaxBlock)
	proj, inst := heldNoteTrack(t, controls)
	b.Snapshots.Send(BuildSnapshot(&proj, controls, 1))
	tr.SetLoop(samplesPerBeat, 2*samplesPerBeat)
	tr.SetLoopEnabled(true)
	tr.SetPlaying(true)
	e.Process(make(tracklane.AudioBuffer, 2*samplesPerBeat-100), nil)
	if inst.noteOns != 1 {
		t.Fatalf("note ons before the wrap = %d, want 1", inst.noteOns)
	}
	e.Process(make(tracklane.AudioBuffer, 200), nil)
	if inst.noteOns != 2 {
		t.Fatalf("note ons after the wrap = %d, want the held note started again", inst.noteOns)
	}
	if !controls.tracks["m"].strip.sounding[60] {
		t.Fatalf("held note is not sounding after the wrap")
	}
}

func TestHeldNoteRestartsAfterSeek(t *testing.T) {
	b, tr, e := newTestEngine()
	controls := NewControls(testMaxBlock)
	proj, inst := heldNoteTrack(t, controls)
	b.Snapshots.Send(BuildSnapshot(&proj, controls, 1))
	tr.SetPlaying(true)
	e.Process(make(tracklane.AudioBuffer, 1000), nil)
	b.ToEngine <- Seek{Position: 2 * samplesPerBeat}
	e.Process(make(tracklane.AudioBuffer, 100), nil)
	if inst.noteOns != 2 {
		t.Fatalf("note ons after the seek = %d, want 2", inst.noteOns)
	}
	b.ToEngine <- Seek{Position: 5 * samplesPerBeat}
	e.Process(make(tracklane.AudioBuffer, 100), nil)
	if inst.noteOns != 2 || controls.tracks["m"].strip.sounding[60] {
		t.Fatalf("seeking past the note: %d note ons, sounding %v", inst.noteOns, controls.tracks["m"].strip.sounding[60])
	}
}

func TestPlayheadPastLoopEndJumpsToLoopStart(t *testing.T) {
	b, tr, e := newTestEngine()
	clip := dcClip(0, 0, 1)
	for i := range clip.Samples {
		v := float32(i) / 100000
		clip.Samples[i] = [2]float32{v, v}
	}
	proj := testProject(audioTrack("a", clip))
	b.Snapshots.Send(BuildSnapshot(&proj, NewControls(testMaxBlock), 1))
	tr.SetLoop(0, 1000)
	tr.SetLoopEnabled(true)
	tr.Seek(5000)
	tr.SetPlaying(true)
	out := make(tracklane.AudioBuffer, 100)
	e.Process(out, nil)
	if pos := tr.Position(); pos != 100 {
		t.Fatalf("position = %v, want 100", pos)
	}
	if want := float32(50) / 100000 * centerGain; !almostEqual(out[50][0], want) {
		t.Fatalf("frame 50 = %v, want %v from the loop start", out[50][0], want)
	}
}

func TestPluginFailureIsReportedAgainAfterRecovery(t *testing.T) {
	b, tr, e := newTestEngine()
	track := audioTrack("a", dcClip(0.2, 0, 1))
	track.Plugins = []tracklane.PluginDescriptor{{ID: "p", Backend: fakeBackendKind, URI: "gain"}}
	proj := testProject(track)
	controls := NewControls(testMaxBlock)
	inst := newFakeInstance("gain", fakePorts["gain"])
	pc, binding, err := NewPluginControls(&proj.Tracks[0].Plugins[0], inst, testMaxBlock)
	if err != nil {
		t.Fatalf("NewPluginControls: %v", err)
	}
	controls.SetPlugin(pc)
	b.ToEngine <- AddPluginInstance{Plugin: pc, Binding: binding}
	b.Snapshots.Send(BuildSnapshot(&proj, controls, 1))
	tr.SetPlaying(true)
	out := make(tracklane.AudioBuffer, 16)
	for _, fail := range []bool{true, true, false, true} {
		inst.fail = fail
		e.Process(out, nil)
		if !fail && !almostEqual(out[0][0], 0.2*centerGain) {
			t.Fatalf("recovered plugin output = %v, want %v", out[0][0], 0.2*centerGain)
		}
	}
	alerts := 0
	for len(b.ToUI) > 0 {
		if _, ok := (<-b.ToUI).Data.(Alert); ok {
			alerts++
		}
	}
	if alerts != 2 {
		t.Fatalf("got %d alerts, want one per failure after success", alerts)
	}
}

func TestSnapshotRestoreKeepsNewerCommands(t *testing.T) {
	b, _, e := newTestEngine()
	proj := testProject(audioTrack("a"))
	controls := NewControls(testMaxBlock)
	tc := controls.Track(&proj.Tracks[0])
	proj.Tracks[0].Volume, proj.Tracks[0].Pan, proj.Tracks[0].Muted = 0.5, -1, true
	snap := BuildSnapshot(&proj, controls, 3)
	snap.Restore = true
	b.ToEngine <- SetTrackVolume{Track: tc, Volume: 0.9, Seq: 4}
	b.ToEngine <- SetTrackPan{Track: tc, Pan: 1, Seq: 2}
	b.Snapshots.Send(snap)
	e.Process(make(tracklane.AudioBuffer, 8), nil)
	if v := tc.Volume.Load(); v != 0.9 {
		t.Fatalf("volume = %v, want 0.9 from the newer command", v)
	}
	if p := tc.Pan.Load(); p != -1 {
		t.Fatalf("pan = %v, want -1 from the snapshot", p)
	}
	if !tc.Muted.Load() {
		t.Fatalf("mute was not restored")
	}
}

func TestVolumeAutomationRampsWithinBlock(t *testing.T) {
	b, tr, e := newTestEngine()
	track := audioTrack("a", dcClip(0.5, 0, 1))
	track.Automation = []tracklane.AutomationLane{{
		ID:     "v",
		Target: tracklane.AutomationTarget{Kind: tracklane.AutomateVolume},
		Points: []tracklane.AutomationPoint{{Beat: 0, Value: 0}, {Beat: 1, Value: 1}},
	}}
	proj := testProject(track)
	b.Snapshots.Send(BuildSnapshot(&proj, NewControls(testMaxBlock), 1))
	tr.SetPlaying(true)
	out := make(tracklane.AudioBuffer, testMaxBlock)
	e.Process(out, nil)
	if out[0][0] != 0 {
		t.Fatalf("frame 0 = %v, want silence at volume 0", out[0][0])
	}
	if !(out[100][0] > 0 && out[200][0] > out[100][0]) {
		t.Fatalf("volume does not ramp within the block: %v, %v", out[100][0], out[200][0])
	}
	want := 0.5 * float32(200) / samplesPerBeat * centerGain
	if math.Abs(float64(out[200][0]-want)) > 1e-5 {
		t.Fatalf("frame 200 = %v, want %v", out[200][0], want)
	}
}
