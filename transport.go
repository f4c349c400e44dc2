package tracklane

import (
	"math"
	"sync/atomic"
)

const (
	DefaultBPM          = 120
	DefaultSampleRate   = 44100
	DefaultMasterVolume = 0.8
)

type (
	// Transport holds the playback state shared by every goroutine: the
	// command processor, the audio callback, the offline renderer and the UI.
	// Every field is an independent atomic; there is no cross-field
	// consistency, so readers must tolerate seeing a bpm change before the
	// matching position change. No method blocks or allocates.
	Transport struct {
		playing      atomic.Bool
		recording    atomic.Bool
		position     AtomicFloat64 // in samples
		bpm          AtomicFloat32
		sampleRate   AtomicFloat32
		masterVolume AtomicFloat32
		loopEnabled  atomic.Bool
		loopStart    AtomicFloat64 // in samples
		loopEnd      AtomicFloat64 // in samples
	}

	// TimeConverter converts between samples and beats for a fixed tempo and
	// sample rate. The engine captures one per block so that a bpm change in
	// the middle of a block does not tear the conversion.
	TimeConverter struct {
		SampleRate float64
		BPM        float64
	}
)

func NewTransport() *Transport {
	t := &Transport{}
	t.bpm.Store(DefaultBPM)
	t.sampleRate.Store(DefaultSampleRate)
	t.masterVolume.Store(DefaultMasterVolume)
	return t
}

func (t *Transport) Playing() bool { return t.playing.Load() }
func (t *Transport) SetPlaying(v bool) { t.playing.Store(v) }
func (t *Transport) Recording() bool { return t.recording.Load() }
func (t *Transport) SetRecording(v bool) { t.recording.Store(v) }
func (t *Transport) Position() float64 { return t.position.Load() }
func (t *Transport) BPM() float32 { return t.bpm.Load() }
func (t *Transport) SampleRate() float32 { return t.sampleRate.Load() }
func (t *Transport) MasterVolume() float32 { return t.masterVolume.Load() }
func (t *Transport) SetMasterVolume(v float32) { t.masterVolume.Store(max(v, 0)) }
func (t *Transport) LoopEnabled() bool { return t.loopEnabled.Load() }
func (t *Transport) SetLoopEnabled(v bool) { t.loopEnabled.Store(v) }
func (t *Transport) LoopStart() float64 { return t.loopStart.Load() }
func (t *Transport) LoopEnd() float64 { return t.loopEnd.Load() }

// Seek moves the play head to the given position in samples. Negative
// positions are clamped to zero.
func (t *Transport) Seek(samples float64) {
	t.position.Store(math.Max(samples, 0))
}

// SetBPM ignores non-positive and non-finite tempos.
func (t *Transport) SetBPM(bpm float32) {
	if bpm > 0 && !math.IsInf(float64(bpm), 0) {
		t.bpm.Store(bpm)
	}
}

func (t *Transport) SetSampleRate(sr float32) {
	if sr > 0 {
		t.sampleRate.Store(sr)
	}
}

// SetLoop sets the loop region in samples. A region where end <= start is
// stored as is but never wraps; see LoopActive.
func (t *Transport) SetLoop(start, end float64) {
	t.loopStart.Store(math.Max(start, 0))
	t.loopEnd.Store(math.Max(end, 0))
}

// LoopActive reports whether the loop is enabled and has a positive length.
func (t *Transport) LoopActive() bool {
	return t.loopEnabled.Load() && t.loopEnd.Load() > t.loopStart.Load()
}

// Advance moves the position forward by frames samples. It does not wrap;
// the engine splits buffers at the loop end and calls Seek itself.
func (t *Transport) Advance(frames int) {
	t.position.Add(float64(frames))
}

// Converter returns a TimeConverter for the current bpm and sample rate.
func (t *Transport) Converter() TimeConverter {
	return TimeConverter{SampleRate: float64(t.sampleRate.Load()), BPM: float64(t.bpm.Load())}
}

func (c TimeConverter) SamplesToBeats(samples float64) float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return samples / c.SampleRate * c.BPM / 60
}

func (c TimeConverter) BeatsToSamples(beats float64) float64 {
	if c.BPM <= 0 {
		return 0
	}
	return beats * 60 / c.BPM * c.SampleRate
}

func (c TimeConverter) SecondsToSamples(seconds float64) float64 {
	return seconds * c.SampleRate
}
