//go:build !vst2 || !cgo

package vst2

import (
	"fmt"

	"github.com/vsariola/tracklane"
)

// Init always fails: the program was built without the vst2 tag.
func (b *Backend) Init(cfg tracklane.HostConfig) error {
	b.cfg = cfg
	if n := len(FindBundles(b.searchPaths())); n > 0 {
		b.log.Infof("found %d vst2 bundles, rebuild with -tags vst2 to load them", n)
	}
	return fmt.Errorf("%w: built without vst2 support", tracklane.ErrBackendNotAvailable)
}

func (b *Backend) Scan() ([]tracklane.PluginInfo, error) {
	return nil, tracklane.ErrBackendNotAvailable
}

func (b *Backend) Instantiate(uri string) (tracklane.Instance, error) {
	return nil, tracklane.ErrBackendNotAvailable
}
