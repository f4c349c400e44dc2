package tracklane_test

import (
	"math"
	"sync"
	"testing"

	"github.com/vsariola/tracklane"
)

func TestTransportDefaults(t *testing.T) {
	tr := tracklane.NewTransport()
	if tr.Playing() || tr.Recording() || tr.Position() != 0 {
		t.Fatalf("new transport is not stopped at 0")
	}
	if tr.BPM() != tracklane.DefaultBPM || tr.SampleRate() != tracklane.DefaultSampleRate || tr.MasterVolume() != tracklane.DefaultMasterVolume {
		t.Fatalf("bpm %v, rate %v, volume %v", tr.BPM(), tr.SampleRate(), tr.MasterVolume())
	}
	if tr.LoopActive() {
		t.Fatalf("loop active by default")
	}
}

func TestTransportIgnoresInvalidValues(t *testing.T) {
	tr := tracklane.NewTransport()
	tr.SetBPM(0)
	tr.SetBPM(-120)
	tr.SetBPM(float32(math.Inf(1)))
	tr.SetSampleRate(0)
	tr.SetMasterVolume(-1)
	tr.Seek(-100)
	if tr.BPM() != tracklane.DefaultBPM || tr.SampleRate() != tracklane.DefaultSampleRate {
		t.Fatalf("invalid values accepted: bpm %v, rate %v", tr.BPM(), tr.SampleRate())
	}
	if tr.MasterVolume() != 0 || tr.Position() != 0 {
		t.Fatalf("volume %v and position %v, want both clamped to 0", tr.MasterVolume(), tr.Position())
	}
}

func TestTransportLoop(t *testing.T) {
	tests := []struct {
		enabled    bool
		start, end float64
		want       bool
	}{
		{true, 0, 1000, true},
		{false, 0, 1000, false},
		{true, 1000, 1000, false},
		{true, 2000, 1000, false},
		{true, -50, 10, true},
	}
	for _, test := range tests {
		tr := tracklane.NewTransport()
		tr.SetLoop(test.start, test.end)
		tr.SetLoopEnabled(test.enabled)
		if got := tr.LoopActive(); got != test.want {
			t.Fatalf("loop %v..%v enabled %v: active %v, want %v", test.start, test.end, test.enabled, got, test.want)
		}
	}
}

func TestTransportConcurrentAdvance(t *testing.T) {
	tr := tracklane.NewTransport()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tr.Advance(3)
			}
		}()
	}
	wg.Wait()
	if pos := tr.Position(); pos != 24000 {
		t.Fatalf("position = %v, want 24000", pos)
	}
}

func TestTimeConverter(t *testing.T) {
	c := tracklane.TimeConverter{SampleRate: 44100, BPM: 120}
	if s := c.BeatsToSamples(1); s != 22050 {
		t.Fatalf("1 beat = %v samples, want 22050", s)
	}
	if b := c.SamplesToBeats(88200); b != 4 {
		t.Fatalf("88200 samples = %v beats, want 4", b)
	}
	for _, beats := range []float64{0, 0.1, 3.75, 1000.5} {
		if got := c.SamplesToBeats(c.BeatsToSamples(beats)); math.Abs(got-beats) > 1e-9 {
			t.Fatalf("round trip of %v beats gave %v", beats, got)
		}
	}
	if (tracklane.TimeConverter{}).SamplesToBeats(100) != 0 || (tracklane.TimeConverter{}).BeatsToSamples(1) != 0 {
		t.Fatalf("zero converter does not convert to 0")
	}
}

func TestAtomicFloats(t *testing.T) {
	a := tracklane.NewAtomicFloat32(0.25)
	if a.Load() != 0.25 {
		t.Fatalf("Load = %v", a.Load())
	}
	a.Store(float32(math.Inf(-1)))
	if !math.IsInf(float64(a.Load()), -1) {
		t.Fatalf("Load = %v, want -Inf", a.Load())
	}
	var b tracklane.AtomicFloat64
	if b.Add(1.5) != 1.5 || b.Add(-0.5) != 1 {
		t.Fatalf("Add is wrong, value %v", b.Load())
	}
}
