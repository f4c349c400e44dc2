package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/tracklane"
	"github.com/vsariola/tracklane/cmd"
	"github.com/vsariola/tracklane/command"
	"github.com/vsariola/tracklane/engine"
	"github.com/vsariola/tracklane/oto"
	"github.com/vsariola/tracklane/rpc"
)

func main() {
	start := flag.Float64("start", 0, "Start playing at beat.")
	loop := flag.Bool("loop", false, "Loop from the start beat to the end of the project until interrupted.")
	listen := flag.String("rpc", "", "Listen for remote commands at address, e.g. localhost:7070. Overrides the config.")
	midiIn := flag.String("midi", "", "Open the MIDI input whose name starts with this. Overrides the config.")
	cfg := cmd.Setup(printUsage)
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	if *listen != "" {
		cfg.RPC.Listen = *listen
	}
	if *midiIn != "" {
		cfg.MIDI.Input = *midiIn
	}
	if err := play(cfg, flag.Arg(0), *start, *loop); err != nil {
		logrus.WithError(err).Fatal("playback failed")
	}
}

func play(cfg tracklane.Config, path string, start float64, loop bool) error {
	broker := engine.NewBroker()
	transport := tracklane.NewTransport()
	transport.SetSampleRate(float32(cfg.Audio.SampleRate))
	facade := cmd.NewFacade(cfg)
	processor := engine.NewProcessor(broker, transport, facade, cfg.Audio.MaxBlock)
	processor.SetExportConfig(cfg.Export)
	processor.SetPresetStore(cfg.PresetStore())
	eng := engine.NewEngine(broker, transport, cfg.Audio.MaxBlock)
	eng.SetFacade(facade)
	defer eng.Close()
	input, closeInput := cmd.NewMIDIInput(cfg)
	defer closeInput()
	eng.SetMIDIInput(input)

	// the processor is not running yet, so the project can be set up
	// directly
	if err := processor.Handle(command.LoadProject{Path: path}); err != nil {
		return err
	}
	project := processor.Project()
	end := project.LengthBeats()
	setup := []command.Command{command.Seek{Beat: start}}
	if loop && end > start {
		setup = append(setup, command.SetLoopRegion{StartBeat: start, EndBeat: end}, command.SetLoopEnabled{Enabled: true})
	}
	setup = append(setup, command.Play{})
	for _, c := range setup {
		if err := processor.Handle(c); err != nil {
			return fmt.Errorf("%T: %w", c, err)
		}
	}
	logrus.WithFields(logrus.Fields{
		"project": path,
		"tracks":  len(project.Tracks),
		"bpm":     project.BPM,
		"beats":   end,
	}).Info("playing")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- processor.Run(ctx) }()

	if cfg.RPC.Listen != "" {
		srv, err := rpc.Listen(cfg.RPC.Listen, broker.Commands)
		if err != nil {
			return err
		}
		defer srv.Close()
		logrus.WithField("addr", srv.Addr()).Info("listening for remote commands")
	}

	audio, err := oto.NewContext(cfg.Audio.SampleRate, cfg.Audio.BufferSize)
	if err != nil {
		return err
	}
	defer audio.Close()
	playback := audio.Play(eng.ProcessSource())
	defer playback.Close()
	stopped := make(chan struct{})
	go func() {
		playback.Wait()
		close(stopped)
	}()

	// without looping or remote control, playback ends with the last clip
	stopAt := end
	if loop || cfg.RPC.Listen != "" || end <= start {
		stopAt = -1
	}
	for {
		select {
		case <-ctx.Done():
			return wait(done)
		case <-stopped:
			cancel()
			if err := wait(done); err != nil {
				return err
			}
			if e, ok := playback.(interface{ Err() error }); ok {
				return e.Err()
			}
			return nil
		case msg := <-broker.ToUI:
			if monitor(msg, stopAt) {
				cancel()
				return wait(done)
			}
		}
	}
}

// monitor logs the messages of the engine and the processor. It reports
// whether the playhead has passed stopAt.
func monitor(msg engine.MsgToUI, stopAt float64) bool {
	switch d := msg.Data.(type) {
	case engine.Alert:
		entry := logrus.WithField("source", d.Name)
		switch d.Priority {
		case engine.Error:
			entry.Error(d.Message)
		case engine.Warning:
			entry.Warn(d.Message)
		default:
			entry.Info(d.Message)
		}
	case engine.ExportProgress:
		logrus.WithFields(logrus.Fields{"path": d.Path, "stage": d.Stage}).Info("export")
	case engine.RecordingFinished:
		logrus.WithFields(logrus.Fields{"tracks": d.TrackIDs, "notes": d.Notes, "frames": d.Frames}).Info("recording finished")
	}
	return msg.HasPosition && stopAt >= 0 && msg.Playing && msg.Beat >= stopAt
}

func wait(done <-chan error) error {
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Plays a tracklane project through the default audio device.\nUsage: %s [flags] project.yml\n", os.Args[0])
	flag.PrintDefaults()
}
