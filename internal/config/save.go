package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by WriteNew when the target is already there.
var ErrConfigExists = errors.New("config file already exists")

// Save writes the config to UserConfigPath.
func (c *Config) Save() error {
	return c.SaveTo(UserConfigPath())
}

// SaveTo writes the config as YAML, creating parent directories.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// WriteNew saves c to path unless a file is already there and force is off.
// An empty path means UserConfigPath. It returns the path written.
func (c *Config) WriteNew(path string, force bool) (string, error) {
	if path == "" {
		path = UserConfigPath()
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("%w: %s", ErrConfigExists, path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	if path == UserConfigPath() {
		return path, c.Save()
	}
	return path, c.SaveTo(path)
}
