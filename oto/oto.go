// Package oto plays audio through the sound card with oto v3. Audio is
// pulled: oto asks for bytes and the source renders exactly that many
// frames.
package oto

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/vsariola/tracklane"
)

type (
	// Context is the hardware output. oto allows only one context per
	// process.
	Context struct {
		ctx        *oto.Context
		sampleRate int
		bufferSize int // frames
	}

	playback struct {
		player *oto.Player
		reader *reader
		once   sync.Once
		done   chan struct{}
	}

	reader struct {
		source tracklane.AudioSource
		buf    tracklane.AudioBuffer
		closed atomic.Bool
		err    atomic.Pointer[error]
	}
)

const bytesPerFrame = 8 // two float32 channels

var ErrClosed = errors.New("playback closed")

// NewContext opens the default output device. bufferSize is the hardware
// buffer in frames; 0 lets oto choose.
func NewContext(sampleRate, bufferSize int) (*Context, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
	}
	if bufferSize > 0 {
		op.BufferSize = time.Duration(bufferSize) * time.Second / time.Duration(sampleRate)
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &Context{ctx: ctx, sampleRate: sampleRate, bufferSize: bufferSize}, nil
}

// Play starts pulling audio from source until the returned CloserWaiter is
// closed or source returns an error.
func (c *Context) Play(source tracklane.AudioSource) tracklane.CloserWaiter {
	r := &reader{source: source, buf: make(tracklane.AudioBuffer, max(c.bufferSize, 1024))}
	p := &playback{player: c.ctx.NewPlayer(r), reader: r, done: make(chan struct{})}
	if c.bufferSize > 0 {
		p.player.SetBufferSize(c.bufferSize * bytesPerFrame)
	}
	p.player.Play()
	go p.watch()
	return p
}

// Close suspends the device; oto contexts cannot be destroyed.
func (c *Context) Close() error {
	if err := c.ctx.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	return nil
}

func (p *playback) watch() {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-t.C:
			if !p.player.IsPlaying() {
				p.Close()
				return
			}
		}
	}
}

func (p *playback) Close() (err error) {
	p.once.Do(func() {
		p.reader.closed.Store(true)
		err = p.player.Close()
		close(p.done)
	})
	return err
}

func (p *playback) Wait() { <-p.done }

// Err returns the error that stopped the source, if any.
func (p *playback) Err() error {
	if err := p.reader.err.Load(); err != nil {
		return *err
	}
	return nil
}

// Read renders len(p)/8 frames and encodes them as interleaved float32
// little endian.
func (r *reader) Read(p []byte) (int, error) {
	if r.closed.Load() {
		return 0, io.EOF
	}
	frames := len(p) / bytesPerFrame
	if frames > len(r.buf) {
		r.buf = make(tracklane.AudioBuffer, frames)
	}
	buf := r.buf[:frames]
	if err := r.source(buf); err != nil {
		r.err.Store(&err)
		r.closed.Store(true)
		return 0, io.EOF
	}
	return len(EncodeFloat32LE(p[:0], buf)), nil
}
