package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, LoadSecrets(), nil
}

// ApplyDefaults sets default values for optional configuration fields
func ApplyDefaults(cfg *Config) {
	if cfg.Pipeline.MaxContextArchives == 0 {
		cfg.Pipeline.MaxContextArchives = 3
	}

	if cfg.Budget.WindowSize == 0 {
		cfg.Budget.WindowSize = 200_000
	}
	if cfg.Budget.HandoverThreshold == 0 {
		cfg.Budget.HandoverThreshold = 0.70
	}

	if cfg.HumanInput.TimeoutHours == 0 {
		cfg.HumanInput.TimeoutHours = 48
	}
	if cfg.HumanInput.ReminderFraction == 0 {
		cfg.HumanInput.ReminderFraction = 0.5
	}

	if cfg.Model.Temperature == 0 {
		cfg.Model.Temperature = 0.7
	}
	if cfg.Model.TopP == 0 {
		cfg.Model.TopP = 1.0
	}
	if cfg.Model.MaxOutputTokens == 0 {
		cfg.Model.MaxOutputTokens = 4096
	}
	if cfg.Model.ContextSize == 0 {
		cfg.Model.ContextSize = 200_000
	}
	if cfg.Model.RateLimitPerMinute == 0 {
		cfg.Model.RateLimitPerMinute = 60
	}
	if cfg.Model.MaxRetries == 0 {
		cfg.Model.MaxRetries = 3
	}
	if cfg.Model.HTTPTimeoutSeconds == 0 {
		cfg.Model.HTTPTimeoutSeconds = 120
	}
	if cfg.Model.CallTimeoutSeconds == 0 {
		cfg.Model.CallTimeoutSeconds = 180
	}

	// Sessions must survive pauses across process restarts, so persistence
	// defaults on. An explicit ":memory:" opts out.
	if cfg.Store.Path == "" {
		cfg.Store.Path = "intelforge.db"
	}
}
