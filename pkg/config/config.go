// Package config handles sc-memory configuration via YAML files and
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (SCMEM_*)
//  2. Config file (scmem.yaml)
//  3. Built-in defaults
//
// Environment variables:
//   - SCMEM_REPO_PATH="./repo"
//   - SCMEM_MAX_LOADED_SEGMENTS=1024
//   - SCMEM_MAX_THREADS=32
//   - SCMEM_MAX_EVENTS_THREADS=4
//   - SCMEM_CLEAR=false
//   - SCMEM_SAVE_PERIOD=300s
//   - SCMEM_UPDATE_PERIOD=30s
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime parameter of the sc-memory.
type Config struct {
	// RepoPath is where the persistence collaborator keeps the segmented
	// image and the link-content store.
	RepoPath string `yaml:"repo_path"`

	// MaxLoadedSegments caps resident segments; the memory ceiling.
	MaxLoadedSegments uint32 `yaml:"max_loaded_segments"`

	// MaxThreads sizes collaborator pools that scale with client
	// parallelism.
	MaxThreads int `yaml:"max_threads"`

	// MaxEventsAndAgentsThreads sizes the event bus worker pool.
	MaxEventsAndAgentsThreads int `yaml:"max_events_threads"`

	// Clear starts from an empty image instead of loading from disk.
	Clear bool `yaml:"clear"`

	// SavePeriod is the interval between background whole-image saves.
	// Zero disables the timer.
	SavePeriod time.Duration `yaml:"save_period"`

	// UpdatePeriod is the interval between background maintenance passes of
	// the persistence layer. Zero disables the timer.
	UpdatePeriod time.Duration `yaml:"update_period"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		RepoPath:                  "./repo",
		MaxLoadedSegments:         1024,
		MaxThreads:                32,
		MaxEventsAndAgentsThreads: 4,
		SavePeriod:                5 * time.Minute,
		UpdatePeriod:              30 * time.Second,
	}
}

// LoadFromFile reads a YAML config, then applies environment overrides. A
// missing file is not an error; defaults plus environment apply.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv returns defaults with environment overrides applied.
func LoadFromEnv() (*Config, error) {
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SCMEM_REPO_PATH"); v != "" {
		c.RepoPath = v
	}
	if v := os.Getenv("SCMEM_MAX_LOADED_SEGMENTS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.MaxLoadedSegments = uint32(n)
		}
	}
	if v := os.Getenv("SCMEM_MAX_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxThreads = n
		}
	}
	if v := os.Getenv("SCMEM_MAX_EVENTS_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxEventsAndAgentsThreads = n
		}
	}
	if v := os.Getenv("SCMEM_CLEAR"); v != "" {
		c.Clear = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("SCMEM_SAVE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SavePeriod = d
		}
	}
	if v := os.Getenv("SCMEM_UPDATE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.UpdatePeriod = d
		}
	}
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	if c.RepoPath == "" {
		return fmt.Errorf("config: repo_path must not be empty")
	}
	if c.MaxLoadedSegments == 0 {
		return fmt.Errorf("config: max_loaded_segments must be positive")
	}
	if c.MaxEventsAndAgentsThreads <= 0 {
		return fmt.Errorf("config: max_events_threads must be positive")
	}
	if c.SavePeriod < 0 || c.UpdatePeriod < 0 {
		return fmt.Errorf("config: periods must not be negative")
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf("repo=%s segments<=%d events_threads=%d save=%s update=%s clear=%v",
		c.RepoPath, c.MaxLoadedSegments, c.MaxEventsAndAgentsThreads, c.SavePeriod, c.UpdatePeriod, c.Clear)
}
