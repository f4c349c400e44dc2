package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/tracklane"
)

type (
	// ExportOptions control an offline render. A zero EndBeat means the end
	// of the last clip; zero SampleRate means the project sample rate.
	ExportOptions struct {
		StartBeat  float64
		EndBeat    float64
		SampleRate int
		BitDepth   tracklane.BitDepth
		Dither     bool
		Normalize  bool
		BlockSize  int
	}

	// ProgressFunc is called while rendering with the current stage and the
	// fraction of the export done, 0..1.
	ProgressFunc func(stage ExportStage, progress float32)
)

const (
	DefaultExportBlockSize = 1024
	normalizeTarget        = 0.99
	progressStep           = 0.01
)

var ErrEmptyRange = errors.New("export range is empty")

// ExportOptionsFromConfig returns the options for exporting the whole
// project with the configured format.
func ExportOptionsFromConfig(c tracklane.ExportConfig) ExportOptions {
	return ExportOptions{
		BitDepth:  tracklane.BitDepth(c.BitDepth),
		Dither:    c.Dither,
		Normalize: c.Normalize,
		BlockSize: c.BlockSize,
	}
}

// ExportFrames returns the number of frames an export of the beat range
// produces: round((end-start) * 60/bpm * sampleRate).
func ExportFrames(startBeat, endBeat, bpm float64, sampleRate int) int {
	if bpm <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(math.Round((endBeat - startBeat) * 60 / bpm * float64(sampleRate)))
}

// Export renders the project into a WAV file at path. The file is written
// to a temporary file next to path and renamed when complete, so path never
// holds a partial export. Canceling ctx aborts the export between blocks and
// removes the temporary file. Progress is sent to updates without blocking;
// updates may be nil.
func Export(ctx context.Context, project tracklane.Project, facade *tracklane.Facade, path string, opts ExportOptions, updates chan<- MsgToUI) (err error) {
	log := logrus.WithFields(logrus.Fields{"component": "export", "path": path})
	send := func(p ExportProgress) {
		if updates != nil {
			p.Path = path
			TrySend(updates, MsgToUI{Data: p})
		}
	}
	defer func() {
		if err != nil {
			log.WithError(err).Error("export failed")
			send(ExportProgress{Stage: ExportFailed, Err: err})
		}
	}()
	f, err := os.CreateTemp(filepath.Dir(path), ".tracklane-export-*.wav")
	if err != nil {
		return fmt.Errorf("could not create export file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()
	log.Info("export started")
	frames, err := Render(ctx, project, facade, f, opts, func(stage ExportStage, progress float32) {
		send(ExportProgress{Stage: stage, Progress: progress})
	})
	if err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("could not close export file: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("could not move export file in place: %w", err)
	}
	log.WithField("frames", frames).Info("export complete")
	send(ExportProgress{Stage: ExportComplete, Progress: 1})
	return nil
}

// Render renders the project offline into w as a WAV file and returns the
// number of frames written. It builds one snapshot up front and drives an
// engine with it in a plain loop, so the result does not depend on the
// block size.
func Render(ctx context.Context, project tracklane.Project, facade *tracklane.Facade, w io.WriteSeeker, opts ExportOptions, progress ProgressFunc) (int, error) {
	if progress == nil {
		progress = func(ExportStage, float32) {}
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = project.SampleRate
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultExportBlockSize
	}
	if opts.BitDepth == 0 {
		opts.BitDepth = tracklane.Int24
	}
	if opts.EndBeat == 0 {
		opts.EndBeat = project.LengthBeats()
	}
	if err := project.Validate(); err != nil {
		return 0, err
	}
	total := ExportFrames(opts.StartBeat, opts.EndBeat, project.BPM, opts.SampleRate)
	if total <= 0 {
		return 0, fmt.Errorf("%w: beats %v to %v", ErrEmptyRange, opts.StartBeat, opts.EndBeat)
	}
	wav, err := tracklane.NewWavWriter(w, opts.SampleRate, opts.BitDepth, opts.Dither)
	if err != nil {
		return 0, err
	}

	broker := NewBroker()
	transport := tracklane.NewTransport()
	transport.SetSampleRate(float32(opts.SampleRate))
	transport.SetBPM(float32(project.BPM))
	transport.SetMasterVolume(project.MasterVolume)
	transport.Seek(transport.Converter().BeatsToSamples(opts.StartBeat))
	transport.SetPlaying(true)
	eng := NewEngine(broker, transport, opts.BlockSize)
	eng.SetFacade(facade)
	eng.SetTelemetry(false)
	defer func() {
		eng.Close()
		closeDisposed(broker)
	}()
	broker.Snapshots.Send(BuildSnapshot(&project, NewControls(opts.BlockSize), 1))

	var all tracklane.AudioBuffer
	if opts.Normalize {
		all = make(tracklane.AudioBuffer, 0, total)
	}
	block := make(tracklane.AudioBuffer, opts.BlockSize)
	reported := float32(-1)
	for rendered := 0; rendered < total; {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n := min(opts.BlockSize, total-rendered)
		buf := block[:n]
		eng.Process(buf, nil)
		if opts.Normalize {
			all = append(all, buf...)
		} else if err := wav.Write(buf); err != nil {
			return 0, err
		}
		rendered += n
		logAlerts(broker)
		if p := float32(rendered) / float32(total); p-reported >= progressStep || rendered == total {
			progress(ExportRendering, p)
			reported = p
		}
	}
	if opts.Normalize {
		progress(ExportNormalizing, 1)
		Normalize(all, normalizeTarget)
		for i := 0; i < len(all); i += opts.BlockSize {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			if err := wav.Write(all[i:min(i+opts.BlockSize, len(all))]); err != nil {
				return 0, err
			}
		}
	}
	progress(ExportFinalizing, 1)
	if err := wav.Close(); err != nil {
		return 0, err
	}
	return wav.Frames(), nil
}

// Normalize scales buf so that its absolute peak is target. Silent buffers
// are left alone.
func Normalize(buf tracklane.AudioBuffer, target float32) {
	peak := buf.Peak()
	p := max(peak[0], peak[1])
	if p <= 0 {
		return
	}
	scaleBuffer(buf, target/p)
}

// closeDisposed closes the plugin instances the engine tore down.
func closeDisposed(b *Broker) {
	for {
		select {
		case msg := <-b.ToProcessor:
			if binding, ok := msg.Data.(*PluginBinding); ok {
				binding.Close()
			}
		default:
			return
		}
	}
}

// logAlerts logs the alerts the engine raised while rendering.
func logAlerts(b *Broker) {
	for {
		select {
		case msg := <-b.ToUI:
			if a, ok := msg.Data.(Alert); ok {
				logrus.WithField("component", "export").Warn(a.String())
			}
		default:
			return
		}
	}
}
