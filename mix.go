package tracklane

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Clamp limits value to the range [lo, hi].
func Clamp[T constraints.Ordered](value, lo, hi T) T {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// PanGains returns the left and right gains for a track using the
// equal-power pan law: theta = (pan+1)/2 * pi/2, left = volume*cos(theta),
// right = volume*sin(theta). left^2 + right^2 equals volume^2 for every pan.
func PanGains(volume, pan float32) (left, right float32) {
	pan = Clamp(pan, -1, 1)
	theta := float64(pan+1) / 2 * math.Pi / 2
	sin, cos := math.Sincos(theta)
	return volume * float32(cos), volume * float32(sin)
}

// SoftClip saturates samples above 0.5 in magnitude with a tanh curve, so
// that the output approaches 1 but never exceeds it. Samples with magnitude
// at most 0.5 pass through unchanged.
func SoftClip(x float32) float32 {
	a := abs32(x)
	if a <= 0.5 {
		return x
	}
	y := float32(0.5 + math.Tanh(float64(a)-0.5)*0.5)
	if x < 0 {
		return -y
	}
	return y
}

// NoteFrequency returns the frequency in Hz of a MIDI note number, A4 = 69
// = 440 Hz.
func NoteFrequency(pitch byte) float64 {
	return 440 * math.Pow(2, (float64(pitch)-69)/12)
}
