// Package cmd holds the setup shared by the command line programs.
package cmd

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/tracklane"
	"github.com/vsariola/tracklane/builtin"
	"github.com/vsariola/tracklane/version"
	"github.com/vsariola/tracklane/vst2"
)

var (
	configPath  = flag.String("config", "", "Config file. Defaults to <user config dir>/tracklane/config.yml.")
	logLevel    = flag.String("log", "", "Log level: debug, info, warning or error. Overrides the config.")
	versionFlag = flag.Bool("v", false, "Print version.")
)

// Setup parses the flags, prints the version if asked, loads the config and
// configures logging. It exits the program on errors.
func Setup(usage func()) tracklane.Config {
	flag.Usage = usage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.String())
		os.Exit(0)
	}
	path := *configPath
	if path == "" {
		var err error
		if path, err = tracklane.ConfigPath(); err != nil {
			logrus.WithError(err).Warn("no user config directory, using defaults")
		}
	}
	cfg, err := tracklane.LoadConfig(path)
	if err != nil {
		logrus.WithError(err).Fatal("could not load config")
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	cfg.SetupLogging()
	logrus.WithFields(logrus.Fields{"version": version.String(), "config": path}).Debug("starting")
	return cfg
}

// NewFacade registers every plugin backend the program was built with.
// Backends that fail to initialize are left out.
func NewFacade(cfg tracklane.Config) *tracklane.Facade {
	return tracklane.NewFacade(cfg.HostConfig(), builtin.New(), vst2.New())
}
