package tracklane

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

type (
	// Config holds the user settings. The defaults are embedded in the
	// binary and overridden by <UserConfigDir>/tracklane/config.yml.
	Config struct {
		Audio   AudioConfig
		Plugins PluginConfig
		Export  ExportConfig
		MIDI    MIDIConfig `yaml:"midi"`
		Log     LogConfig
		RPC     RPCConfig `yaml:"rpc"`
	}

	AudioConfig struct {
		SampleRate int
		BufferSize int // frames per hardware callback
		MaxBlock   int // largest buffer the engine accepts
	}

	PluginConfig struct {
		ScanPaths  []string // searched in addition to the platform paths
		PresetsDir string   // empty means <UserConfigDir>/tracklane/presets
	}

	ExportConfig struct {
		BitDepth  int
		Dither    bool
		Normalize bool
		BlockSize int
	}

	MIDIConfig struct {
		Input string // device name prefix; empty means no MIDI input
	}

	LogConfig struct {
		Level string
	}

	RPCConfig struct {
		Listen string // address for remote commands; empty disables
	}
)

//go:embed config.yml
var defaultConfigYaml []byte

var ErrInvalidConfig = errors.New("invalid config")

func DefaultConfig() Config {
	var c Config
	if err := yaml.UnmarshalStrict(defaultConfigYaml, &c); err != nil {
		panic(fmt.Errorf("failed to unmarshal default config: %w", err))
	}
	return c
}

// ConfigPath returns the path of the user config file.
func ConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "tracklane", "config.yml"), nil
}

// LoadConfig returns the default config overridden by the user config file
// at path. A missing file is not an error; a malformed one is.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("could not read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return DefaultConfig(), fmt.Errorf("could not parse config %v: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return DefaultConfig(), err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("%w: audio.samplerate %d", ErrInvalidConfig, c.Audio.SampleRate)
	}
	if c.Audio.BufferSize <= 0 || c.Audio.MaxBlock < c.Audio.BufferSize {
		return fmt.Errorf("%w: audio.buffersize %d, audio.maxblock %d", ErrInvalidConfig, c.Audio.BufferSize, c.Audio.MaxBlock)
	}
	if !BitDepth(c.Export.BitDepth).Valid() {
		return fmt.Errorf("%w: export.bitdepth %d", ErrInvalidConfig, c.Export.BitDepth)
	}
	if c.Export.BlockSize <= 0 {
		return fmt.Errorf("%w: export.blocksize %d", ErrInvalidConfig, c.Export.BlockSize)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	return nil
}

// PresetStore returns the store of plugin presets in the configured
// directory.
func (c *Config) PresetStore() PresetStore {
	if dir := c.Plugins.PresetsDir; dir != "" {
		return PresetStore{Dir: dir}
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return PresetStore{Dir: filepath.Join(dir, "tracklane", "presets")}
}

// HostConfig returns the plugin host settings derived from the config.
func (c *Config) HostConfig() HostConfig {
	return HostConfig{
		SampleRate: float64(c.Audio.SampleRate),
		MaxBlock:   c.Audio.MaxBlock,
		ScanPaths:  c.Plugins.ScanPaths,
	}
}

// SetupLogging applies the configured log level to the standard logrus
// logger.
func (c *Config) SetupLogging() {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
