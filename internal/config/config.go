package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"leadpilot/internal/domain"
)

// Config models leadpilot.yml, the per-tenant pipeline tunables. It is
// persisted as a JSON row in tenant_configs and can be imported from YAML.
type Config struct {
	Tenant struct {
		ID string `yaml:"id" json:"id"`
	} `yaml:"tenant" json:"tenant"`
	Autonomy struct {
		// Defaults overrides the static tier table per action type.
		Defaults map[string]string `yaml:"defaults" json:"defaults,omitempty"`
	} `yaml:"autonomy" json:"autonomy"`
	Proactive struct {
		CooldownMinutes int `yaml:"cooldown_minutes" json:"cooldown_minutes"`
		MaxProposals    int `yaml:"max_proposals" json:"max_proposals"`
	} `yaml:"proactive" json:"proactive"`
	Suppression struct {
		MinSamples  int     `yaml:"min_samples" json:"min_samples"`
		DismissRate float64 `yaml:"dismiss_rate" json:"dismiss_rate"`
	} `yaml:"suppression" json:"suppression"`
	Batch struct {
		PacingSeconds     int `yaml:"pacing_seconds" json:"pacing_seconds"`
		RetentionMinutes  int `yaml:"retention_minutes" json:"retention_minutes"`
		SweepMinutes      int `yaml:"sweep_minutes" json:"sweep_minutes"`
		MaxAttempts       int `yaml:"max_attempts" json:"max_attempts"`
		MaxBackoffSeconds int `yaml:"max_backoff_seconds" json:"max_backoff_seconds"`
	} `yaml:"batch" json:"batch"`
	Discovery struct {
		CacheTTLHours    int `yaml:"cache_ttl_hours" json:"cache_ttl_hours"`
		MinStoredMatches int `yaml:"min_stored_matches" json:"min_stored_matches"`
	} `yaml:"discovery" json:"discovery"`
	Oracle struct {
		Model string `yaml:"model" json:"model"`
	} `yaml:"oracle" json:"oracle"`
}

// Default returns the config used when a tenant has no stored row.
func Default(tenantID string) *Config {
	c := &Config{}
	c.Tenant.ID = tenantID
	c.Proactive.CooldownMinutes = 30
	c.Proactive.MaxProposals = 5
	c.Suppression.MinSamples = 5
	c.Suppression.DismissRate = 0.7
	c.Batch.PacingSeconds = 6
	c.Batch.RetentionMinutes = 60
	c.Batch.SweepMinutes = 10
	c.Batch.MaxAttempts = 3
	c.Batch.MaxBackoffSeconds = 15
	c.Discovery.CacheTTLHours = 24
	c.Discovery.MinStoredMatches = 3
	c.Oracle.Model = "gpt-4o-mini"
	return c
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Tenant.ID == "" {
		return fmt.Errorf("config.tenant.id is required")
	}
	for actionType, tier := range c.Autonomy.Defaults {
		if !domain.ActionType(actionType).Valid() {
			return fmt.Errorf("autonomy default for unknown action type %s", actionType)
		}
		if !domain.Tier(tier).Valid() {
			return fmt.Errorf("autonomy default %s has unknown tier %s", actionType, tier)
		}
	}
	if c.Proactive.CooldownMinutes <= 0 {
		return fmt.Errorf("config.proactive.cooldown_minutes must be positive")
	}
	if c.Proactive.MaxProposals <= 0 {
		return fmt.Errorf("config.proactive.max_proposals must be positive")
	}
	if c.Suppression.MinSamples <= 0 {
		return fmt.Errorf("config.suppression.min_samples must be positive")
	}
	if c.Suppression.DismissRate <= 0 || c.Suppression.DismissRate >= 1 {
		return fmt.Errorf("config.suppression.dismiss_rate must be in (0,1)")
	}
	if c.Batch.PacingSeconds < 0 || c.Batch.RetentionMinutes <= 0 || c.Batch.SweepMinutes <= 0 {
		return fmt.Errorf("config.batch timings must be positive")
	}
	if c.Batch.MaxAttempts <= 0 || c.Batch.MaxBackoffSeconds <= 0 {
		return fmt.Errorf("config.batch retry bounds must be positive")
	}
	if c.Discovery.CacheTTLHours <= 0 {
		return fmt.Errorf("config.discovery.cache_ttl_hours must be positive")
	}
	return nil
}

func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Proactive.CooldownMinutes) * time.Minute
}

func (c *Config) BatchPacing() time.Duration {
	return time.Duration(c.Batch.PacingSeconds) * time.Second
}

func (c *Config) BatchRetention() time.Duration {
	return time.Duration(c.Batch.RetentionMinutes) * time.Minute
}

func (c *Config) BatchSweepInterval() time.Duration {
	return time.Duration(c.Batch.SweepMinutes) * time.Minute
}

func (c *Config) BatchMaxBackoff() time.Duration {
	return time.Duration(c.Batch.MaxBackoffSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Discovery.CacheTTLHours) * time.Hour
}

// FromYAML parses and validates a YAML config document.
func FromYAML(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var c Config
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile reads and validates a YAML config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
