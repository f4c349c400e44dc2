package oto

import (
	"encoding/binary"
	"math"

	"github.com/vsariola/tracklane"
)

// EncodeFloat32LE appends buf to dst as interleaved float32 little endian
// samples. dst is not reallocated if it has the capacity.
func EncodeFloat32LE(dst []byte, buf tracklane.AudioBuffer) []byte {
	for _, f := range buf {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f[0]))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f[1]))
	}
	return dst
}
