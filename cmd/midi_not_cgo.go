//go:build !cgo

package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/vsariola/tracklane"
	"github.com/vsariola/tracklane/engine"
)

// NewMIDIInput returns a null input: without cgo there are no MIDI drivers.
func NewMIDIInput(cfg tracklane.Config) (engine.MIDIInput, func()) {
	if cfg.MIDI.Input != "" {
		logrus.Warn("built without cgo, MIDI input disabled")
	}
	return engine.NullMIDIInput{}, func() {}
}
