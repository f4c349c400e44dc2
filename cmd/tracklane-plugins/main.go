package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/tracklane"
	"github.com/vsariola/tracklane/cmd"
)

func main() {
	params := flag.Bool("p", false, "List the parameters of every plugin.")
	presets := flag.Bool("presets", false, "List the saved presets of every plugin.")
	cfg := cmd.Setup(printUsage)
	store := cfg.PresetStore()
	facade := cmd.NewFacade(cfg)
	infos, err := facade.Scan()
	if err != nil {
		logrus.WithError(err).Warn("some backends could not be scanned")
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tURI\tNAME\tPORTS")
	for _, info := range infos {
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\n", info.Backend, info.URI, info.Name, ports(info))
		if *params {
			listParams(w, facade, info)
		}
		if *presets {
			listPresets(w, store, info)
		}
	}
	w.Flush()
}

func listParams(w *tabwriter.Writer, facade *tracklane.Facade, info tracklane.PluginInfo) {
	inst, err := facade.Instantiate(info.Backend, info.URI)
	if err != nil {
		logrus.WithError(err).WithField("plugin", info.URI).Warn("could not instantiate")
		return
	}
	defer inst.Close()
	for _, p := range inst.Params() {
		fmt.Fprintf(w, "\t  %v\t%v\t%v..%v (%v)\n", p.Key, p.Name, p.Min, p.Max, p.Default)
	}
}

func listPresets(w *tabwriter.Writer, store tracklane.PresetStore, info tracklane.PluginInfo) {
	names, err := store.List(info.URI)
	if err != nil {
		logrus.WithError(err).WithField("plugin", info.URI).Warn("could not list presets")
		return
	}
	for _, name := range names {
		fmt.Fprintf(w, "\t  preset %v\n", name)
	}
}

func ports(info tracklane.PluginInfo) string {
	p := info.Ports
	ret := fmt.Sprintf("%d in, %d out", p.AudioIn, p.AudioOut)
	if p.EventIn {
		ret += ", events in"
	}
	if p.EventOut {
		ret += ", events out"
	}
	if info.IsInstrument {
		ret += ", instrument"
	}
	return ret
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Lists the plugins of every available backend.\nUsage: %s [flags]\n", os.Args[0])
	flag.PrintDefaults()
}
