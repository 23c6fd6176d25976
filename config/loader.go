package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// appDirName names the per-user config subdirectory (§6: "TOML under
// user config dir").
const appDirName = "ttrpg-llm-core"

// DefaultPath resolves the config file path under the OS's XDG/platform
// config directory, mirroring original_source's dirs::config_dir()
// resolution (falls back to "config.toml" in the working directory if
// the OS config dir cannot be determined).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(dir, appDirName, "config.toml")
}

// Loader loads and overlays configuration onto the defaults, mirroring
// the teacher's builder-style priority chain (defaults -> file),
// adapted from YAML+env to TOML-only per spec §6 (no env-var overlay is
// named there).
type Loader struct {
	path string
}

// NewLoader builds a Loader targeting path. An empty path resolves via
// DefaultPath.
func NewLoader(path string) *Loader {
	if path == "" {
		path = DefaultPath()
	}
	return &Loader{path: path}
}

// Load reads and decodes the TOML file over Default(), returning
// Default() unmodified if the file does not exist (§6: "Missing file
// ⇒ defaults").
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", l.path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", l.path, err)
	}
	return cfg, nil
}

// MustLoad loads from path (or DefaultPath if empty), panicking on a
// malformed file.
func MustLoad(path string) *Config {
	cfg, err := NewLoader(path).Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
