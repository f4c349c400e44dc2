package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/tracklane"
	"github.com/vsariola/tracklane/cmd"
	"github.com/vsariola/tracklane/engine"
)

func main() {
	output := flag.String("o", "", "Output WAV file. Defaults to the project file name with a .wav extension.")
	start := flag.Float64("start", 0, "Start rendering at beat.")
	end := flag.Float64("end", 0, "Stop rendering at beat. 0 renders until the end of the last clip.")
	bits := flag.Int("bits", 0, "Bit depth: 16 or 24. Overrides the config.")
	rate := flag.Int("rate", 0, "Sample rate. Defaults to the sample rate of the project.")
	normalize := flag.Bool("normalize", false, "Normalize the peak to just below full scale.")
	dither := flag.Bool("dither", false, "Dither when reducing the bit depth.")
	cfg := cmd.Setup(printUsage)
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	path := flag.Arg(0)
	if *output == "" {
		*output = strings.TrimSuffix(path, filepath.Ext(path)) + ".wav"
	}
	opts := engine.ExportOptionsFromConfig(cfg.Export)
	opts.StartBeat, opts.EndBeat, opts.SampleRate = *start, *end, *rate
	if *bits != 0 {
		opts.BitDepth = tracklane.BitDepth(*bits)
	}
	opts.Normalize = opts.Normalize || *normalize
	opts.Dither = opts.Dither || *dither
	if err := render(cfg, path, *output, opts); err != nil {
		logrus.WithError(err).Fatal("render failed")
	}
}

func render(cfg tracklane.Config, path, output string, opts engine.ExportOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not open project: %w", err)
	}
	project, err := tracklane.ReadProject(f)
	f.Close()
	if err != nil {
		return err
	}
	if err := project.LoadSamples(filepath.Dir(path)); err != nil {
		return err
	}
	if opts.EndBeat == 0 {
		opts.EndBeat = project.LengthBeats()
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	updates := make(chan engine.MsgToUI, engine.UIQueueSize)
	logged := make(chan struct{})
	go func() {
		defer close(logged)
		last := float32(-1)
		for msg := range updates {
			switch d := msg.Data.(type) {
			case engine.ExportProgress:
				if d.Stage == engine.ExportRendering && d.Progress-last < 0.1 {
					continue
				}
				last = d.Progress
				logrus.WithFields(logrus.Fields{"stage": d.Stage, "progress": fmt.Sprintf("%.0f%%", d.Progress*100)}).Info("export")
			case engine.Alert:
				logrus.WithField("source", d.Name).Warn(d.Message)
			}
		}
	}()
	err = engine.Export(ctx, project, cmd.NewFacade(cfg), output, opts, updates)
	close(updates)
	<-logged
	if err != nil {
		return err
	}
	logrus.WithField("path", output).Info("rendered")
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Renders a tracklane project into a WAV file.\nUsage: %s [flags] project.yml\n", os.Args[0])
	flag.PrintDefaults()
}
