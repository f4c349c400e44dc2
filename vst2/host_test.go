//go:build vst2 && cgo

package vst2

import (
	"testing"
	"unsafe"
)

func TestEffectHeaderLayout(t *testing.T) {
	// int32 magic padded to pointer alignment, four function pointers,
	// then numPrograms and numParams
	ptr := unsafe.Sizeof(uintptr(0))
	var h effectHeader
	if got, want := unsafe.Offsetof(h.numInputs), 5*ptr+8; got != want {
		t.Fatalf("numInputs at offset %d, want %d", got, want)
	}
	if got, want := unsafe.Offsetof(h.numOutputs), 5*ptr+12; got != want {
		t.Fatalf("numOutputs at offset %d, want %d", got, want)
	}
}
