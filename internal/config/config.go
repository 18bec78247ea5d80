// Package config loads the hzr configuration file.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v2"

	"github.com/happyhackingspace/hzr/features"
	"github.com/happyhackingspace/hzr/lstm"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "hzr.yaml"

// Config holds recognizer and CLI settings.
type Config struct {
	Model        string  `yaml:"model"`
	TopK         int     `yaml:"top_k"`
	MaxTimesteps int     `yaml:"max_timesteps"`
	MaxTopK      int     `yaml:"max_top_k"`
	Scale        float64 `yaml:"scale"`
	Tolerance    float64 `yaml:"tolerance"`
	Timing       bool    `yaml:"timing"`
	Workers      int     `yaml:"workers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model:        "model.hzmodel",
		TopK:         10,
		MaxTimesteps: lstm.DefaultMaxTimesteps,
		MaxTopK:      lstm.DefaultMaxTopK,
		Scale:        features.DefaultScale,
		Tolerance:    features.DefaultTolerance,
		Timing:       true,
		Workers:      runtime.NumCPU(),
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.TopK < 1:
		return fmt.Errorf("top_k must be positive, got %d", c.TopK)
	case c.MaxTopK < c.TopK:
		return fmt.Errorf("max_top_k %d is below top_k %d", c.MaxTopK, c.TopK)
	case c.MaxTimesteps < 1:
		return fmt.Errorf("max_timesteps must be positive, got %d", c.MaxTimesteps)
	case c.Scale <= 0:
		return fmt.Errorf("scale must be positive, got %v", c.Scale)
	case c.Tolerance <= 0:
		return fmt.Errorf("tolerance must be positive, got %v", c.Tolerance)
	case c.Workers < 1:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

// Features returns the preprocessing options.
func (c *Config) Features() features.Options {
	return features.Options{
		Scale:     c.Scale,
		Tolerance: c.Tolerance,
		Timing:    c.Timing,
	}
}

// Save writes c to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
