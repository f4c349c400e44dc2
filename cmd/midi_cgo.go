//go:build cgo

package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/vsariola/tracklane"
	"github.com/vsariola/tracklane/engine"
	"github.com/vsariola/tracklane/gomidi"
)

// NewMIDIInput opens the configured MIDI input. The returned func closes
// it. Without a configured or working input, the engine gets no live MIDI.
func NewMIDIInput(cfg tracklane.Config) (engine.MIDIInput, func()) {
	if cfg.MIDI.Input == "" {
		return engine.NullMIDIInput{}, func() {}
	}
	c, err := gomidi.NewContext(cfg.Audio.SampleRate)
	if err != nil {
		logrus.WithError(err).Warn("MIDI input disabled")
		return engine.NullMIDIInput{}, func() {}
	}
	if err := c.Open(cfg.MIDI.Input); err != nil {
		logrus.WithError(err).Warn("MIDI input disabled")
		c.Close()
		return engine.NullMIDIInput{}, func() {}
	}
	return c, c.Close
}
