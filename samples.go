package tracklane

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoadSamples reads the sample data of every audio clip that refers to a
// file. Relative paths are resolved against baseDir. Files shared by many
// clips are decoded only once.
func (p *Project) LoadSamples(baseDir string) error {
	cache := map[string]AudioBuffer{}
	rates := map[string]int{}
	for i := range p.Tracks {
		for j := range p.Tracks[i].AudioClips {
			c := &p.Tracks[i].AudioClips[j]
			if c.File == "" || c.Samples != nil {
				continue
			}
			path := c.File
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			buf, ok := cache[path]
			if !ok {
				var err error
				buf, rates[path], err = readWavFile(path)
				if err != nil {
					return fmt.Errorf("clip %q: %w", c.ID, err)
				}
				cache[path] = buf
			}
			c.Samples = buf
			if c.SampleRate == 0 {
				c.SampleRate = rates[path]
			}
		}
	}
	return nil
}

func readWavFile(path string) (AudioBuffer, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("could not open %v: %w", path, err)
	}
	defer f.Close()
	buf, rate, err := ReadWav(f)
	if err != nil {
		return nil, 0, fmt.Errorf("could not read %v: %w", path, err)
	}
	return buf, rate, nil
}

// Load reads the sample data of a single clip from its file. Relative paths
// are resolved against baseDir. A clip that already has sample data or has
// no file is left alone.
func (c *AudioClip) Load(baseDir string) error {
	if c.File == "" || c.Samples != nil {
		return nil
	}
	path := c.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	buf, rate, err := readWavFile(path)
	if err != nil {
		return fmt.Errorf("clip %q: %w", c.ID, err)
	}
	c.Samples = buf
	if c.SampleRate == 0 {
		c.SampleRate = rate
	}
	return nil
}
