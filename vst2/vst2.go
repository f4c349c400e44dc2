// Package vst2 is the plugin backend of VST 2.x bundles, addressed with
// file://<path>#<n> URIs. Loading plugins needs cgo and the vst2 build tag;
// without them the backend only finds bundles and refuses to initialize.
package vst2

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/tracklane"
	"golang.org/x/exp/slices"
)

// Backend hosts VST 2.x plugins.
type Backend struct {
	cfg tracklane.HostConfig
	log *logrus.Entry
}

const Kind tracklane.BackendKind = "vst2"

func New() *Backend {
	return &Backend{log: logrus.WithField("backend", Kind)}
}

func (b *Backend) Kind() tracklane.BackendKind { return Kind }

func (b *Backend) Addressing() tracklane.Addressing { return tracklane.AddressBundle }

// DefaultPaths returns the conventional VST 2 directories of the platform.
func DefaultPaths() []string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		return []string{`C:\Program Files\VSTPlugins`, `C:\Program Files\Steinberg\VSTPlugins`, `C:\Program Files\Common Files\VST2`}
	case "darwin":
		return []string{"/Library/Audio/Plug-Ins/VST", filepath.Join(home, "Library/Audio/Plug-Ins/VST")}
	}
	return []string{filepath.Join(home, ".vst"), "/usr/lib/vst", "/usr/local/lib/vst"}
}

// IsBundle reports if the path has the extension of a VST 2 bundle.
func IsBundle(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".so", ".dll", ".vst":
		return true
	}
	return false
}

// FindBundles walks the directories and returns every bundle under them,
// sorted and without duplicates. Missing or unreadable directories are
// skipped. A .vst directory is a macOS bundle and is not descended into.
func FindBundles(dirs []string) []string {
	var ret []string
	for _, dir := range dirs {
		filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if d != nil && d.IsDir() && path != dir {
					return fs.SkipDir
				}
				return nil
			}
			if !IsBundle(path) {
				return nil
			}
			ret = append(ret, path)
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		})
	}
	slices.Sort(ret)
	return slices.Compact(ret)
}

func (b *Backend) searchPaths() []string {
	return append(DefaultPaths(), b.cfg.ScanPaths...)
}
