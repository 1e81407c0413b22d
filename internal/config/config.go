// Package config holds the conversion settings, loadable from a YAML file
// with environment-supplied credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full settings surface. Zero values are filled from
// Default() on load.
type Config struct {
	// Model is the oracle model name.
	Model string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the oracle key.
	APIKeyEnv string `yaml:"api_key_env"`
	// Interpreter is the Python used to run generated builders.
	Interpreter string `yaml:"interpreter"`
	// MaxRetries bounds execution attempts per session.
	MaxRetries int `yaml:"max_retries"`
	// ExecTimeoutSeconds bounds one candidate execution.
	ExecTimeoutSeconds int `yaml:"exec_timeout_seconds"`
	// ViewportWidth/Height set the snapshot viewport.
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Model:              "gemini-2.5-pro",
		APIKeyEnv:          "GEMINI_API_KEY",
		Interpreter:        "python3",
		MaxRetries:         5,
		ExecTimeoutSeconds: 300,
		ViewportWidth:      1920,
		ViewportHeight:     1080,
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the loop cannot run with.
func (c Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.ExecTimeoutSeconds < 1 {
		return fmt.Errorf("exec_timeout_seconds must be at least 1, got %d", c.ExecTimeoutSeconds)
	}
	if c.ViewportWidth < 1 || c.ViewportHeight < 1 {
		return fmt.Errorf("viewport must be positive, got %dx%d", c.ViewportWidth, c.ViewportHeight)
	}
	return nil
}

// ExecTimeout returns the execution budget as a duration.
func (c Config) ExecTimeout() time.Duration {
	return time.Duration(c.ExecTimeoutSeconds) * time.Second
}

// APIKey resolves the oracle credential from the environment.
func (c Config) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}
