package tracklane

import (
	"math"
	"sync/atomic"
)

type (
	// AtomicFloat32 is a float32 that can be loaded and stored from any
	// goroutine without locking. The value is kept as its IEEE 754 bit
	// pattern in an atomic.Uint32. The zero value holds 0.
	AtomicFloat32 struct {
		bits atomic.Uint32
	}

	// AtomicFloat64 is the float64 counterpart of AtomicFloat32.
	AtomicFloat64 struct {
		bits atomic.Uint64
	}
)

func NewAtomicFloat32(v float32) *AtomicFloat32 {
	a := &AtomicFloat32{}
	a.Store(v)
	return a
}

func (a *AtomicFloat32) Load() float32 {
	return math.Float32frombits(a.bits.Load())
}

func (a *AtomicFloat32) Store(v float32) {
	a.bits.Store(math.Float32bits(v))
}

func (a *AtomicFloat64) Load() float64 {
	return math.Float64frombits(a.bits.Load())
}

func (a *AtomicFloat64) Store(v float64) {
	a.bits.Store(math.Float64bits(v))
}

// Add adds delta to the value and returns the new value. It retries with
// compare-and-swap, so concurrent adders never lose an update.
func (a *AtomicFloat64) Add(delta float64) float64 {
	for {
		old := a.bits.Load()
		n := math.Float64frombits(old) + delta
		if a.bits.CompareAndSwap(old, math.Float64bits(n)) {
			return n
		}
	}
}
