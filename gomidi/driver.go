//go:build cgo

package gomidi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// Context is a Queue listening to one hardware input port at a time.
type Context struct {
	*Queue
	driver *rtmididrv.Driver
	in     drivers.In
	stop   func()
	log    *logrus.Entry
}

var ErrNoDriver = errors.New("no MIDI driver available")

func NewContext(sampleRate int) (*Context, error) {
	driver, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDriver, err)
	}
	return &Context{Queue: NewQueue(sampleRate), driver: driver, log: logrus.WithField("component", "midi")}, nil
}

// Inputs lists the names of the input ports.
func (c *Context) Inputs() ([]string, error) {
	ins, err := c.driver.Ins()
	if err != nil {
		return nil, fmt.Errorf("could not list MIDI inputs: %w", err)
	}
	ret := make([]string, len(ins))
	for i, in := range ins {
		ret[i] = in.String()
	}
	return ret, nil
}

// Open starts listening to the first input whose name starts with
// namePrefix, closing the port open before.
func (c *Context) Open(namePrefix string) error {
	ins, err := c.driver.Ins()
	if err != nil {
		return fmt.Errorf("could not list MIDI inputs: %w", err)
	}
	for _, in := range ins {
		if !strings.HasPrefix(in.String(), namePrefix) {
			continue
		}
		c.closeInput()
		if err := in.Open(); err != nil {
			return fmt.Errorf("opening MIDI input %q failed: %w", in.String(), err)
		}
		stop, err := midi.ListenTo(in, c.HandleMessage)
		if err != nil {
			in.Close()
			return fmt.Errorf("listening to MIDI input %q failed: %w", in.String(), err)
		}
		c.in, c.stop = in, stop
		c.log.WithField("input", in.String()).Info("MIDI input opened")
		return nil
	}
	return fmt.Errorf("no MIDI input starting with %q", namePrefix)
}

func (c *Context) closeInput() {
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	if c.in != nil && c.in.IsOpen() {
		c.in.Close()
	}
	c.in = nil
}

func (c *Context) Close() {
	c.closeInput()
	c.driver.Close()
}
