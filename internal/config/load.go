package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// EnvConfig names a config file when no -config flag is given.
const EnvConfig = "LEVELC_CONFIG"

// configNames are tried in the working directory, in order.
var configNames = []string{"levelc.yaml", ".levelc.yaml"}

// Load builds the config from defaults, then the first config file found,
// then flags. Source records the file that was read, if any.
func Load() (*Config, error) {
	cfg := Default()

	path := ConfigPath()
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
		cfg.Source = path
	}

	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns $LEVELC_CONFIG when set, otherwise the first
// existing file among the working directory names and the user config.
// A path from the environment is returned even if missing so that Load
// reports it.
func findConfigFile() string {
	if env := os.Getenv(EnvConfig); env != "" {
		return env
	}

	candidates := make([]string, 0, len(configNames)+1)
	candidates = append(candidates, configNames...)
	candidates = append(candidates, UserConfigPath())

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "levelc")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "levelc")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "levelc")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "levelc")
	}
}

// UserConfigPath is where Save writes.
func UserConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// loadFromFile merges a YAML file over cfg. Unknown keys are errors so a
// misspelled setting does not silently fall back to its default. An empty
// file leaves cfg unchanged.
func loadFromFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
