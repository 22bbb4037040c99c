// Package config loads recorder defaults from a YAML file. Flags
// always override config values; config values override the built-in
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the configurable recorder defaults.
type Config struct {
	// Format is the default output format: "json" or "graphml".
	Format string `yaml:"format"`
	// IncludeModules lists qualified-name patterns to expand. Empty
	// means everything.
	IncludeModules []string `yaml:"include_modules"`
	// ExcludeModules lists qualified-name patterns never expanded.
	ExcludeModules []string `yaml:"exclude_modules"`
	// MaxDepth bounds tracked call nesting. 0 means the built-in
	// default.
	MaxDepth int `yaml:"max_depth"`
	// HistoryPath is the run-history database location.
	HistoryPath string `yaml:"history_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Format:      "json",
		HistoryPath: defaultHistoryPath(),
	}
}

// Load reads the config at path. An empty path falls back to
// ~/.flowtrace/config.yaml; a missing fallback file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(home, ".flowtrace", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Format != "json" && cfg.Format != "graphml" {
		return nil, fmt.Errorf("config: %s: unknown format %q", path, cfg.Format)
	}
	if cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("config: %s: negative max_depth", path)
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = defaultHistoryPath()
	}
	return cfg, nil
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "flowtrace-history.db"
	}
	return filepath.Join(home, ".flowtrace", "history.db")
}
