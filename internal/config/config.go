// Package config loads the application settings from a TOML file, creating
// the file with defaults on first run.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

// PathEnv overrides the config file location when set.
const PathEnv = "HUNT_STATS_CFG"

const defaultFileName = "hunt-stats.toml"

// Values holds every user-tunable setting.
type Values struct {
	// DatabasePath is where the match database lives. Relative paths are
	// resolved against the working directory.
	DatabasePath string `toml:"database_path"`

	// AttributesPath pins the attributes file location, skipping Steam
	// library discovery entirely.
	AttributesPath string `toml:"attributes_path,omitempty"`

	// ListenAddr is the address of the websocket feed server. Empty
	// disables the server.
	ListenAddr string `toml:"listen_addr"`

	Sounds   Sounds   `toml:"sounds"`
	Tracking Tracking `toml:"tracking,omitempty"`

	DebugLogging bool `toml:"debug_logging"`
}

// Sounds controls the audio cues.
type Sounds struct {
	Enabled bool `toml:"enabled"`
}

// Tracking tunes the detection loops. Zero values mean the engine defaults.
type Tracking struct {
	// Isolated runs each tracking session detached from the process
	// lifecycle so the watchdog can abandon a wedged one.
	Isolated bool `toml:"isolated"`

	PollIntervalSeconds int `toml:"poll_interval_seconds,omitempty"`
	TailIntervalSeconds int `toml:"tail_interval_seconds,omitempty"`
}

// PollInterval returns the configured poll cadence, or zero for the default.
func (t Tracking) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalSeconds) * time.Second
}

// TailInterval returns the configured tail cadence, or zero for the default.
func (t Tracking) TailInterval() time.Duration {
	return time.Duration(t.TailIntervalSeconds) * time.Second
}

// Defaults are the settings written on first run.
var Defaults = Values{
	DatabasePath: "hunt-stats.db",
	ListenAddr:   "127.0.0.1:7485",
	Sounds:       Sounds{Enabled: true},
	Tracking:     Tracking{Isolated: true},
}

// Path returns the config file location: $HUNT_STATS_CFG when set, otherwise
// hunt-stats.toml next to the working directory.
func Path() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return defaultFileName
}

// Load reads the config file at path. A missing file is not an error: the
// defaults are written there and returned.
func Load(path string) (Values, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info().Str("path", path).Msg("no config file, writing defaults")
		if err := writeDefaults(path); err != nil {
			return Values{}, err
		}
		return Defaults, nil
	}
	if err != nil {
		return Values{}, fmt.Errorf("failed to read config: %w", err)
	}

	vals := Defaults
	if err := toml.Unmarshal(data, &vals); err != nil {
		return Values{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return vals, nil
}

func writeDefaults(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}

	data, err := toml.Marshal(Defaults)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
