package tracklane

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/dither"
	"github.com/go-audio/audio"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
)

type (
	// BitDepth is the sample format of an exported file: 16 or 24 bit signed
	// integer PCM, or 32 bit IEEE float.
	BitDepth int

	// WavWriter streams stereo audio into a WAV file block by block. The
	// underlying writer must be seekable so the header can be patched with
	// the final size on Close.
	WavWriter struct {
		enc     *wav.Encoder
		depth   BitDepth
		intBuf  audio.IntBuffer
		dither  [2]*dither.Quantizer
		frames  int
		written bool
	}
)

const (
	Int16   BitDepth = 16
	Int24   BitDepth = 24
	Float32 BitDepth = 32
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

var (
	ErrUnsupportedBitDepth = errors.New("bit depth should be 16, 24 or 32")
	ErrUnsupportedWav      = errors.New("unsupported wav file")
)

func (d BitDepth) Valid() bool {
	return d == Int16 || d == Int24 || d == Float32
}

// MaxValue returns the full scale integer value of an integer bit depth, and
// 1 for float.
func (d BitDepth) MaxValue() int {
	switch d {
	case Int16:
		return math.MaxInt16
	case Int24:
		return 1<<23 - 1
	}
	return 1
}

// NewWavWriter creates a stereo WAV writer. With useDither, integer depths
// are quantized with triangular dither and noise shaping instead of plain
// rounding.
func NewWavWriter(w io.WriteSeeker, sampleRate int, depth BitDepth, useDither bool) (*WavWriter, error) {
	if !depth.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, depth)
	}
	if sampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	format := wavFormatPCM
	if depth == Float32 {
		format = wavFormatFloat
	}
	ret := &WavWriter{
		enc:   wav.NewEncoder(w, sampleRate, int(depth), 2, format),
		depth: depth,
		intBuf: audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 2, SampleRate: sampleRate},
			SourceBitDepth: int(depth),
		},
	}
	if useDither && depth != Float32 {
		for i := range ret.dither {
			q, err := dither.NewQuantizer(float64(sampleRate),
				dither.WithBitDepth(int(depth)),
				dither.WithDitherType(dither.DitherTriangular))
			if err != nil {
				return nil, fmt.Errorf("could not create dither quantizer: %w", err)
			}
			ret.dither[i] = q
		}
	}
	return ret, nil
}

// Write appends the frames of buf to the file.
func (w *WavWriter) Write(buf AudioBuffer) error {
	if len(buf) == 0 {
		return nil
	}
	w.written = true
	if w.depth == Float32 {
		for _, f := range buf {
			if err := w.enc.WriteFrame(f); err != nil {
				return fmt.Errorf("could not write wav frame: %w", err)
			}
		}
		w.frames += len(buf)
		return nil
	}
	data := w.intBuf.Data[:0]
	for _, f := range buf {
		for c := 0; c < 2; c++ {
			data = append(data, w.quantize(c, f[c]))
		}
	}
	w.intBuf.Data = data
	if err := w.enc.Write(&w.intBuf); err != nil {
		return fmt.Errorf("could not write wav data: %w", err)
	}
	w.frames += len(buf)
	return nil
}

func (w *WavWriter) quantize(channel int, v float32) int {
	if q := w.dither[channel]; q != nil {
		return q.ProcessInteger(float64(Clamp(v, -1, 1)))
	}
	return QuantizeSample(v, w.depth)
}

// Frames returns the number of frames written so far.
func (w *WavWriter) Frames() int { return w.frames }

// Close finalizes the header. It does not close the underlying writer. A
// file with no frames still gets a valid header and an empty data chunk.
func (w *WavWriter) Close() error {
	if !w.written {
		w.intBuf.Data = w.intBuf.Data[:0]
		if err := w.enc.Write(&w.intBuf); err != nil {
			return fmt.Errorf("could not write wav header: %w", err)
		}
	}
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("could not finalize wav file: %w", err)
	}
	return nil
}

// QuantizeSample converts a float sample to an integer sample of the given
// depth: the sample is clamped to [-1, 1], scaled by the full scale value
// and rounded.
func QuantizeSample(v float32, depth BitDepth) int {
	return int(math.Round(float64(Clamp(v, -1, 1)) * float64(depth.MaxValue())))
}

// ReadWav decodes an integer PCM or 32 bit float WAV file, including
// WAVE_FORMAT_EXTENSIBLE ones, into a stereo buffer. Mono files are
// duplicated to both channels; files with more channels keep the first two.
func ReadWav(r io.ReadSeeker) (buf AudioBuffer, sampleRate int, err error) {
	format, err := wavFormat(r)
	if err != nil {
		return nil, 0, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, 0, err
	}
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: not a wav file", ErrUnsupportedWav)
	}
	switch {
	case format == wavFormatPCM:
	case format == wavFormatFloat && d.BitDepth == 32:
	default:
		return nil, 0, fmt.Errorf("%w: format %d with %d bits", ErrUnsupportedWav, format, d.BitDepth)
	}
	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("could not decode wav data: %w", err)
	}
	channels := pcm.Format.NumChannels
	if channels <= 0 {
		return nil, 0, fmt.Errorf("%w: no channels", ErrUnsupportedWav)
	}
	var data []float32
	if format == wavFormatFloat {
		// the decoder returns the raw 32 bit words
		data = make([]float32, len(pcm.Data))
		for i, v := range pcm.Data {
			data[i] = math.Float32frombits(uint32(v))
		}
	} else {
		data = pcm.AsFloat32Buffer().Data
	}
	frames := len(data) / channels
	buf = make(AudioBuffer, frames)
	for i := range buf {
		l := data[i*channels]
		r := l
		if channels > 1 {
			r = data[i*channels+1]
		}
		buf[i] = [2]float32{l, r}
	}
	return buf, pcm.Format.SampleRate, nil
}

// wavFormat returns the format tag of the fmt chunk, or for an extensible
// file, the tag in the first two bytes of its sub format GUID.
func wavFormat(r io.Reader) (uint16, error) {
	p := riff.New(r)
	id, _, err := p.IDnSize()
	if err != nil || id != riff.RiffID {
		return 0, fmt.Errorf("%w: not a riff file", ErrUnsupportedWav)
	}
	var form [4]byte
	if _, err := io.ReadFull(r, form[:]); err != nil || form != riff.WavFormatID {
		return 0, fmt.Errorf("%w: not a wav file", ErrUnsupportedWav)
	}
	for {
		ch, err := p.NextChunk()
		if err != nil {
			return 0, fmt.Errorf("%w: no fmt chunk", ErrUnsupportedWav)
		}
		if ch.ID != riff.FmtID {
			ch.Drain()
			continue
		}
		var header struct {
			Format     uint16
			Channels   uint16
			Rate       uint32
			ByteRate   uint32
			BlockAlign uint16
			Bits       uint16
		}
		if err := ch.ReadLE(&header); err != nil {
			return 0, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedWav)
		}
		if header.Format != wavFormatExtensible {
			return header.Format, nil
		}
		var ext struct {
			Size      uint16
			ValidBits uint16
			Mask      uint32
			SubFormat uint16
		}
		if err := ch.ReadLE(&ext); err != nil {
			return 0, fmt.Errorf("%w: short extensible fmt chunk", ErrUnsupportedWav)
		}
		return ext.SubFormat, nil
	}
}
