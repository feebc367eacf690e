package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy defines how a selected variant is placed into the output tree
type Strategy string

const (
	StrategyLink Strategy = "link"
	StrategyCopy Strategy = "copy"
	StrategyAuto Strategy = "auto"
)

// GitPreserve is the top-level pattern preserved by --gitkeep
const GitPreserve = ".git*"

// Config represents the complete b2restore configuration
type Config struct {
	Archive ArchiveConfig `yaml:"archive"`
	Output  OutputConfig  `yaml:"output"`
	Time    TimeConfig    `yaml:"time"`
}

// ArchiveConfig configures how the versioned archive is read
type ArchiveConfig struct {
	Path string `yaml:"path"`
}

// OutputConfig configures how the output tree is reconciled
type OutputConfig struct {
	Strategy Strategy `yaml:"strategy"`
	Preserve []string `yaml:"preserve"`
}

// TimeConfig configures how user-supplied times are interpreted
type TimeConfig struct {
	Location string `yaml:"location"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadOptional behaves like Load but returns the defaults when the file does
// not exist
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Archive.Path = os.ExpandEnv(c.Archive.Path)
	c.Time.Location = os.ExpandEnv(c.Time.Location)
	for i, p := range c.Output.Preserve {
		c.Output.Preserve[i] = os.ExpandEnv(p)
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Output.Strategy == "" {
		c.Output.Strategy = StrategyLink
	}
	if c.Time.Location == "" {
		c.Time.Location = "Local"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch c.Output.Strategy {
	case StrategyLink, StrategyCopy, StrategyAuto:
		// valid
	default:
		return fmt.Errorf("invalid output.strategy: %s (must be link, copy, or auto)", c.Output.Strategy)
	}

	for _, p := range c.Output.Preserve {
		if p == "" {
			return fmt.Errorf("output.preserve must not contain empty patterns")
		}
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("invalid output.preserve pattern %q: %w", p, err)
		}
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	return nil
}

// Location returns the time zone used to interpret --time
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Time.Location)
	if err != nil {
		return nil, fmt.Errorf("invalid time.location %q: %w", c.Time.Location, err)
	}
	return loc, nil
}

// AddPreserve appends a preserve pattern unless it is already present
func (c *Config) AddPreserve(pattern string) {
	for _, p := range c.Output.Preserve {
		if p == pattern {
			return
		}
	}
	c.Output.Preserve = append(c.Output.Preserve, pattern)
}
