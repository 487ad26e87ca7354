// Package config loads and validates the pipeline configuration from a
// YAML file, with environment overrides for credentials.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"rail_delays/internal/events"
	"rail_delays/internal/normalize"
	"rail_delays/internal/storage"
)

// SourceConfig points at the timetable API. Credentials may be set here
// or via the RTT_USERNAME / RTT_PASSWORD environment variables, which
// take precedence.
type SourceConfig struct {
	BaseURL  string `yaml:"base_url" validate:"required,url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Config is the full pipeline configuration.
type Config struct {
	Station string `yaml:"station" validate:"required"`
	Days    int    `yaml:"days" validate:"min=1"`

	Source SourceConfig `yaml:"source"`

	// RolloverMode selects midnight-rollover handling:
	// "heuristic" (default) or "prefer_flag".
	RolloverMode string `yaml:"rollover_mode" validate:"omitempty,oneof=heuristic prefer_flag"`

	GazetteerPath  string            `yaml:"gazetteer_path" validate:"required"`
	Corrections    map[string]string `yaml:"corrections"`
	FuzzyThreshold float64           `yaml:"fuzzy_threshold"`

	FetchConcurrency int `yaml:"fetch_concurrency"`

	Storage storage.Config `yaml:"storage"`
	Events  *events.Config `yaml:"events,omitempty"`
}

// Load reads, defaults and validates configuration from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		Days:             7,
		FetchConcurrency: 3,
		Storage:          storage.DefaultConfig(),
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Credentials from the environment win over the file so the file can
	// be committed without secrets.
	if v := os.Getenv("RTT_USERNAME"); v != "" {
		cfg.Source.Username = v
	}
	if v := os.Getenv("RTT_PASSWORD"); v != "" {
		cfg.Source.Password = v
	}

	if cfg.Days <= 0 {
		cfg.Days = 7
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 3
	}
	if cfg.Source.TimeoutSeconds <= 0 {
		cfg.Source.TimeoutSeconds = 30
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := v.Struct(cfg.Storage.Postgres); err != nil {
		return nil, fmt.Errorf("validate postgres config: %w", err)
	}

	return cfg, nil
}

// Rollover maps the configured mode string onto the reconciler mode.
func (c *Config) Rollover() normalize.RolloverMode {
	if c.RolloverMode == "prefer_flag" {
		return normalize.RolloverPreferFlag
	}
	return normalize.RolloverHeuristic
}
