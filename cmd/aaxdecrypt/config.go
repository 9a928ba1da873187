package main

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

type config struct {
	ActivationBytes string `yaml:"activation_bytes"`
	FastStart       bool   `yaml:"fast_start"`
	LogLevel        string `yaml:"log_level"`
	TempDir         string `yaml:"temp_dir"`
}

func defaultConfig() *config {
	return &config{
		FastStart: true,
		LogLevel:  "info",
	}
}

// loadConfig reads the YAML file at path on top of the defaults. An empty path yields the defaults.
func loadConfig(path string) (*config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err = yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// parseLevel accepts the slog level names. Anything else is info.
func parseLevel(level string) slog.Level {
	var lv slog.LevelVar
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lv.Level()
}
