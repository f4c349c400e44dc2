package builtin

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/effects"
	"github.com/cwbudde/algo-dsp/dsp/effects/dynamics"
	"github.com/cwbudde/algo-dsp/dsp/effects/modulation"
	"github.com/viterin/vek/vek32"
	"github.com/vsariola/tracklane"
)

type (
	gain struct{ gain float32 }

	utility struct {
		gain, pan float32
		l, r      float32
	}

	// sampleEffect is the algo-dsp processor interface shared by the delay,
	// distortion, tremolo, compressor and limiter.
	sampleEffect interface {
		ProcessSample(float64) float64
		Reset()
	}

	// stereoEffect runs one sampleEffect per channel; setter applies a
	// parameter to one channel's effect.
	stereoEffect[T sampleEffect] struct {
		ch     [2]T
		setter func(fx T, index int, value float64) error
	}
)

func dbToGain(db float64) float32 {
	return float32(math.Pow(10, db/20))
}

func newGain(float64, int) (kernel, error) { return &gain{gain: 1}, nil }

func (g *gain) set(_ int, v float64) error {
	g.gain = dbToGain(v)
	return nil
}

func (g *gain) process(ctx tracklane.ProcessContext, bufs *tracklane.ProcessBuffers) {
	for c := range bufs.Out {
		vek32.MulNumber_Into(bufs.Out[c], bufs.In[c][:ctx.Frames], g.gain)
	}
}

func (g *gain) reset() {}

func newUtility(float64, int) (kernel, error) {
	u := &utility{gain: 1}
	u.update()
	return u, nil
}

func (u *utility) set(index int, v float64) error {
	switch index {
	case 0:
		u.gain = dbToGain(v)
	case 1:
		u.pan = float32(v)
	}
	u.update()
	return nil
}

func (u *utility) update() { u.l, u.r = tracklane.PanGains(u.gain, u.pan) }

func (u *utility) process(ctx tracklane.ProcessContext, bufs *tracklane.ProcessBuffers) {
	in := bufs.In[0][:ctx.Frames]
	vek32.MulNumber_Into(bufs.Out[0], in, u.l)
	vek32.MulNumber_Into(bufs.Out[1], in, u.r)
}

func (u *utility) reset() {}

func newStereo[T sampleEffect](sampleRate float64, ctor func(float64) (T, error), setter func(T, int, float64) error) (*stereoEffect[T], error) {
	ret := &stereoEffect[T]{setter: setter}
	for c := range ret.ch {
		fx, err := ctor(sampleRate)
		if err != nil {
			return nil, err
		}
		ret.ch[c] = fx
	}
	return ret, nil
}

func (s *stereoEffect[T]) set(index int, v float64) error {
	for _, fx := range s.ch {
		if err := s.setter(fx, index, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *stereoEffect[T]) process(ctx tracklane.ProcessContext, bufs *tracklane.ProcessBuffers) {
	for c, out := range bufs.Out {
		fx := s.ch[c]
		for i, v := range bufs.In[c][:ctx.Frames] {
			out[i] = float32(fx.ProcessSample(float64(v)))
		}
	}
}

func (s *stereoEffect[T]) reset() {
	for _, fx := range s.ch {
		fx.Reset()
	}
}

func newDelay(sampleRate float64, _ int) (kernel, error) {
	return newStereo(sampleRate, effects.NewDelay, func(d *effects.Delay, index int, v float64) error {
		switch index {
		case 0:
			return d.SetTime(v)
		case 1:
			return d.SetFeedback(v)
		case 2:
			return d.SetMix(v)
		}
		return nil
	})
}

func newDistortion(sampleRate float64, _ int) (kernel, error) {
	ctor := func(sr float64) (*effects.Distortion, error) {
		return effects.NewDistortion(sr, effects.WithDistortionMode(effects.DistortionModeTanh))
	}
	return newStereo(sampleRate, ctor, func(d *effects.Distortion, index int, v float64) error {
		switch index {
		case 0:
			return d.SetDrive(v)
		case 1:
			return d.SetMix(v)
		case 2:
			return d.SetOutputLevel(v)
		}
		return nil
	})
}

func newTremolo(sampleRate float64, _ int) (kernel, error) {
	ctor := func(sr float64) (*modulation.Tremolo, error) { return modulation.NewTremolo(sr) }
	return newStereo(sampleRate, ctor, func(t *modulation.Tremolo, index int, v float64) error {
		switch index {
		case 0:
			return t.SetRateHz(v)
		case 1:
			return t.SetDepth(v)
		case 2:
			return t.SetMix(v)
		}
		return nil
	})
}

func newCompressor(sampleRate float64, _ int) (kernel, error) {
	return newStereo(sampleRate, dynamics.NewCompressor, func(c *dynamics.Compressor, index int, v float64) error {
		switch index {
		case 0:
			return c.SetThreshold(v)
		case 1:
			return c.SetRatio(v)
		case 2:
			return c.SetAttack(v)
		case 3:
			return c.SetRelease(v)
		case 4:
			return c.SetMakeupGain(v)
		}
		return nil
	})
}

func newLimiter(sampleRate float64, _ int) (kernel, error) {
	return newStereo(sampleRate, dynamics.NewLookaheadLimiter, func(l *dynamics.LookaheadLimiter, index int, v float64) error {
		switch index {
		case 0:
			return l.SetThreshold(v)
		case 1:
			return l.SetRelease(v)
		}
		return nil
	})
}
