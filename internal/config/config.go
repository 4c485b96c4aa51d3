// Package config handles compiler configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/Faultbox/levelc/pkg/formats"
	"github.com/Faultbox/levelc/pkg/kdtree"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all compiler settings.
type Config struct {
	Build   BuildConfig   `yaml:"build"`
	Output  OutputConfig  `yaml:"output"`
	Logging LoggingConfig `yaml:"logging"`

	Source string `yaml:"-"` // File the config was loaded from, if any
}

// BuildConfig holds tree construction settings.
type BuildConfig struct {
	LeafCapacity int     `yaml:"leaf_capacity"`
	Epsilon      float32 `yaml:"epsilon"`
	ForceLeaves  bool    `yaml:"force_leaves"` // Turn unsplittable soups into oversized leaves
}

// OutputConfig holds where and how compiled levels are written.
type OutputConfig struct {
	Dir       string `yaml:"dir"`       // Empty writes next to the source
	Extension string `yaml:"extension"` // Replaces the source extension
	Workers   int    `yaml:"workers"`   // Concurrent compiles in batch mode
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Build: BuildConfig{
			LeafCapacity: kdtree.DefaultLeafCapacity,
			Epsilon:      kdtree.DefaultEpsilon,
			ForceLeaves:  false,
		},
		Output: OutputConfig{
			Dir:       "",
			Extension: ".kdb",
			Workers:   runtime.NumCPU(),
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Options converts the build settings for kdtree.Build.
func (b BuildConfig) Options() kdtree.Options {
	return kdtree.Options{
		LeafCapacity: b.LeafCapacity,
		Epsilon:      b.Epsilon,
		ForceLeaves:  b.ForceLeaves,
	}
}

// Validate checks that the settings can produce a loadable level.
func (c *Config) Validate() error {
	if c.Build.LeafCapacity < 1 || c.Build.LeafCapacity > formats.MaxLeafTriangles {
		return fmt.Errorf("%w: leaf_capacity %d outside 1..%d", ErrInvalidConfig, c.Build.LeafCapacity, formats.MaxLeafTriangles)
	}
	if c.Build.Epsilon <= 0 {
		return fmt.Errorf("%w: epsilon must be positive, got %v", ErrInvalidConfig, c.Build.Epsilon)
	}
	if c.Output.Extension == "" {
		return fmt.Errorf("%w: empty output extension", ErrInvalidConfig)
	}
	if c.Output.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidConfig, c.Output.Workers)
	}
	return nil
}
