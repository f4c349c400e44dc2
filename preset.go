package tracklane

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

type (
	// PluginPreset is a named set of parameter values for one plugin.
	PluginPreset struct {
		URI     string
		Backend BackendKind `yaml:",omitempty"`
		Name    string
		Params  map[string]float32 `yaml:",omitempty"`
	}

	// PresetStore keeps presets as YAML files under Dir, one directory per
	// plugin URI.
	PresetStore struct {
		Dir string
	}
)

const presetExt = ".yml"

var ErrPresetNotFound = errors.New("preset not found")

// PresetFromDescriptor takes the parameter values of a plugin in a chain.
func PresetFromDescriptor(d *PluginDescriptor, name string) PluginPreset {
	c := d.Copy()
	return PluginPreset{URI: c.URI, Backend: c.Backend, Name: name, Params: c.Params}
}

func (s PresetStore) Save(p PluginPreset) error {
	if p.Name == "" {
		return errors.New("preset has no name")
	}
	dir := s.dir(p.URI)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create preset directory: %w", err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("could not encode preset: %w", err)
	}
	if err := os.WriteFile(s.path(p.URI, p.Name), data, 0644); err != nil {
		return fmt.Errorf("could not write preset: %w", err)
	}
	return nil
}

func (s PresetStore) Load(uri, name string) (PluginPreset, error) {
	data, err := os.ReadFile(s.path(uri, name))
	if errors.Is(err, fs.ErrNotExist) {
		return PluginPreset{}, fmt.Errorf("%w: %q for %v", ErrPresetNotFound, name, uri)
	}
	if err != nil {
		return PluginPreset{}, fmt.Errorf("could not read preset: %w", err)
	}
	var p PluginPreset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return PluginPreset{}, fmt.Errorf("could not decode preset %q: %w", name, err)
	}
	return p, nil
}

// List returns the file names of the presets of a plugin, without the
// extension, sorted. A plugin without presets has none.
func (s PresetStore) List(uri string) ([]string, error) {
	entries, err := os.ReadDir(s.dir(uri))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ret []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), presetExt); ok && !e.IsDir() {
			ret = append(ret, name)
		}
	}
	slices.Sort(ret)
	return ret, nil
}

func (s PresetStore) dir(uri string) string {
	return filepath.Join(s.Dir, sanitize(uri))
}

func (s PresetStore) path(uri, name string) string {
	return filepath.Join(s.dir(uri), sanitize(name)+presetExt)
}

// sanitize replaces everything but ASCII letters and digits with '_'.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 128 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, s)
}
