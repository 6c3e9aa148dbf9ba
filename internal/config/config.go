// Package config loads gateway settings from an optional YAML file with
// environment overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full gateway configuration.
type Config struct {
	// Port the HTTP front listens on.
	Port int `yaml:"port"`

	Backend struct {
		// BaseURL of the OpenAI-compatible metered backend.
		BaseURL string `yaml:"base_url"`
	} `yaml:"backend"`

	Anthropic struct {
		Endpoint      string `yaml:"endpoint"`
		QuotaEndpoint string `yaml:"quota_endpoint"`
	} `yaml:"anthropic"`

	Codex struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"codex"`

	Credentials struct {
		ClaudePath string `yaml:"claude_path"`
		CodexPath  string `yaml:"codex_path"`
	} `yaml:"credentials"`

	// BreakerCooldown overrides the default direct-path cooldown.
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`

	// ProfitMargin is applied when converting provider cost to credits.
	ProfitMargin float64 `yaml:"profit_margin"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{Port: 8080}
	cfg.Backend.BaseURL = "https://openrouter.ai/api"
	return cfg
}

// Load reads the config file at path, falling back to defaults when path is
// empty or the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("BACKEND_BASE_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("PROFIT_MARGIN"); v != "" {
		if margin, err := strconv.ParseFloat(v, 64); err == nil {
			c.ProfitMargin = margin
		}
	}
	if v := os.Getenv("BREAKER_COOLDOWN"); v != "" {
		if cooldown, err := time.ParseDuration(v); err == nil {
			c.BreakerCooldown = cooldown
		}
	}
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base_url is required")
	}
	if c.ProfitMargin < 0 {
		return fmt.Errorf("profit_margin must not be negative")
	}
	return nil
}
