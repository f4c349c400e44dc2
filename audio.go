package tracklane

import "errors"

type (
	// AudioBuffer is a buffer of stereo audio samples of variable length; each
	// frame is a [2]float32 holding the left and right sample.
	AudioBuffer [][2]float32

	// AudioSource is called by an AudioContext whenever the hardware needs
	// more audio. It must fill buf completely; it runs on the realtime audio
	// goroutine, so it should not allocate, lock or block.
	AudioSource func(buf AudioBuffer) error

	// AudioContext is the hardware output. Play starts pulling audio from the
	// source until the returned CloserWaiter is closed.
	AudioContext interface {
		Play(source AudioSource) CloserWaiter
		Close() error
	}

	CloserWaiter interface {
		Close() error
		Wait()
	}
)

var ErrBufferTooLarge = errors.New("audio buffer exceeds the maximum block size")

// Clear zeroes every frame of the buffer.
func (b AudioBuffer) Clear() {
	clear(b)
}

// Add mixes other into b, frame by frame. Extra frames in other are ignored.
func (b AudioBuffer) Add(other AudioBuffer) {
	n := min(len(b), len(other))
	for i := 0; i < n; i++ {
		b[i][0] += other[i][0]
		b[i][1] += other[i][1]
	}
}

// Scale multiplies the left and right channel with the given gains.
func (b AudioBuffer) Scale(left, right float32) {
	for i := range b {
		b[i][0] *= left
		b[i][1] *= right
	}
}

// Peak returns the absolute peak value of the left and right channel.
func (b AudioBuffer) Peak() (peak [2]float32) {
	for _, f := range b {
		peak[0] = max(peak[0], abs32(f[0]))
		peak[1] = max(peak[1], abs32(f[1]))
	}
	return
}

// Copy returns a deep copy of the buffer.
func (b AudioBuffer) Copy() AudioBuffer {
	if b == nil {
		return nil
	}
	ret := make(AudioBuffer, len(b))
	copy(ret, b)
	return ret
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
