package engine

import (
	"math"
	"unsafe"

	"github.com/viterin/vek/vek32"
	"github.com/vsariola/tracklane"
)

type (
	// meter measures the levels of stereo buffers. It deinterleaves into its
	// own scratch space, so it never allocates after creation.
	meter struct {
		tmp  []float32
		tmp2 []float32
	}

	// Level is the measurement of one block: the absolute peak and the RMS
	// of both channels.
	Level struct {
		Peak [2]float32
		RMS  [2]float32
	}

	Decibel float32
)

func newMeter(maxBlock int) meter {
	return meter{tmp: make([]float32, maxBlock), tmp2: make([]float32, maxBlock)}
}

// peak returns the absolute peak of both channels.
func (m *meter) peak(buf tracklane.AudioBuffer) (ret [2]float32) {
	if len(buf) == 0 {
		return
	}
	for chn := range 2 {
		x := m.deinterleave(buf, chn)
		vek32.Abs_Inplace(x)
		ret[chn] = vek32.Max(x)
	}
	return
}

// level returns the peak and the RMS of both channels.
func (m *meter) level(buf tracklane.AudioBuffer) (ret Level) {
	if len(buf) == 0 {
		return
	}
	for chn := range 2 {
		x := m.deinterleave(buf, chn)
		sq := vek32.Mul_Into(m.tmp2[:len(x)], x, x)
		ret.RMS[chn] = float32(math.Sqrt(float64(vek32.Mean(sq))))
		vek32.Abs_Inplace(x)
		ret.Peak[chn] = vek32.Max(x)
	}
	return
}

func (m *meter) deinterleave(buf tracklane.AudioBuffer, chn int) []float32 {
	if len(m.tmp) < len(buf) {
		m.tmp = append(m.tmp, make([]float32, len(buf)-len(m.tmp))...)
		m.tmp2 = append(m.tmp2, make([]float32, len(buf)-len(m.tmp2))...)
	}
	x := m.tmp[:len(buf)]
	for i := range buf {
		x[i] = buf[i][chn]
	}
	return x
}

// scaleBuffer multiplies every sample of buf by gain.
func scaleBuffer(buf tracklane.AudioBuffer, gain float32) {
	if len(buf) == 0 || gain == 1 {
		return
	}
	vek32.MulNumber_Inplace(flatten(buf), gain)
}

// flatten views a stereo buffer as interleaved samples without copying.
func flatten(buf tracklane.AudioBuffer) []float32 {
	if len(buf) == 0 {
		return nil
	}
	return unsafe.Slice(&buf[0][0], 2*len(buf))
}

// ToDecibel converts an amplitude to decibels; silence is -Inf.
func ToDecibel(amplitude float32) Decibel {
	return Decibel(20 * math.Log10(float64(amplitude)))
}
