// Package config loads cgfs settings from an optional YAML file, layered
// under environment variables and CLI flags (file < env < flag).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultBaseURL = "https://codegra.de/api/v1"

type Config struct {
	BaseURL string      `yaml:"base_url"`
	Cache   CacheConfig `yaml:"cache"`
	Mount   MountConfig `yaml:"mount"`
	Log     LogConfig   `yaml:"log"`
}

// CacheConfig controls the freshness window for cached-editable synthetic
// files (grade, feedback, settings, rubric). Spec'd at 60s; exposed here so
// deployments with slower review cadences can widen it.
type CacheConfig struct {
	Freshness time.Duration `yaml:"freshness"`
}

type MountConfig struct {
	DefaultPath string `yaml:"default_path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func DefaultConfig() *Config {
	return &Config{
		BaseURL: DefaultBaseURL,
		Cache: CacheConfig{
			Freshness: 60 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment lookup
// function, so tests can supply isolated environment values.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPathWithEnv(getenv)
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if baseURL := getenv("CGAPI_BASE_URL"); baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return cfg, nil
}

func getConfigPath() string {
	return getConfigPathWithEnv(os.Getenv)
}

func getConfigPathWithEnv(getenv func(string) string) string {
	if xdgConfig := getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cgfs", "config.yaml")
	}

	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cgfs", "config.yaml")
}
