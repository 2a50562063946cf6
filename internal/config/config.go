// ABOUTME: Configuration loading and parsing for fabricd.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete fabricd configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Agents     AgentsConfig     `yaml:"agents"`
	Capability CapabilityConfig `yaml:"capability"`
	Hub        HubConfig        `yaml:"hub"`
	Rate       RateConfig       `yaml:"rate"`
	Packs      PacksConfig      `yaml:"packs"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds the admin/control API's listen address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the SQLite persistence path. Empty disables
// persistence entirely — the Registry and audit sink both run in-memory.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds the admin API's JWT and WebAuthn settings.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	RPDisplayName string `yaml:"rp_display_name"`
	RPID         string `yaml:"rp_id"`
	RPOrigin     string `yaml:"rp_origin"`
}

// AgentsConfig holds agent liveness and inbox sizing.
type AgentsConfig struct {
	LivenessTimeout    time.Duration `yaml:"-"`
	LivenessTimeoutRaw string        `yaml:"liveness_timeout"`
	InboxCapacity      int           `yaml:"inbox_capacity"`
}

// CapabilityConfig holds capability-search tuning.
type CapabilityConfig struct {
	MinScore float64 `yaml:"min_score"`
}

// HubConfig holds hub-level timing.
type HubConfig struct {
	LateResultRetention    time.Duration `yaml:"-"`
	LateResultRetentionRaw string        `yaml:"late_result_retention"`
	DedupeTTL              time.Duration `yaml:"-"`
	DedupeTTLRaw           string        `yaml:"dedupe_ttl"`
	// TimeoutPartnerCooldown is how long a SendAndWait timeout against a
	// given target keeps that target out of the requester's subsequent
	// capability-description discovery results.
	TimeoutPartnerCooldown    time.Duration `yaml:"-"`
	TimeoutPartnerCooldownRaw string        `yaml:"timeout_partner_cooldown"`
}

// RateConfig holds the interaction controller's limits — every agent gets
// the same budget; there is no per-agent override.
type RateConfig struct {
	PerMinute       int           `yaml:"per_minute"`
	PerHour         int           `yaml:"per_hour"`
	MaxTurns        int           `yaml:"max_turns"`
	CooldownBackoff time.Duration `yaml:"-"`
	CooldownBackoffRaw string     `yaml:"cooldown_backoff"`
}

// PacksConfig holds the directory capability packs are loaded from at boot.
type PacksConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from path, expanding ${VAR_NAME}
// environment references and parsing duration strings into time.Duration
// fields before validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	Defaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Defaults fills in the resolved open-question defaults for any field the
// caller left at its zero value.
func Defaults(cfg *Config) {
	if cfg.Capability.MinScore == 0 {
		cfg.Capability.MinScore = 0.35
	}
	if cfg.Agents.LivenessTimeoutRaw == "" {
		cfg.Agents.LivenessTimeoutRaw = "90s"
	}
	if cfg.Agents.InboxCapacity == 0 {
		cfg.Agents.InboxCapacity = 128
	}
	if cfg.Hub.LateResultRetentionRaw == "" {
		cfg.Hub.LateResultRetentionRaw = "15m"
	}
	if cfg.Hub.DedupeTTLRaw == "" {
		cfg.Hub.DedupeTTLRaw = "5m"
	}
	if cfg.Hub.TimeoutPartnerCooldownRaw == "" {
		cfg.Hub.TimeoutPartnerCooldownRaw = "5m"
	}
	if cfg.Rate.PerMinute == 0 {
		cfg.Rate.PerMinute = 60
	}
	if cfg.Rate.PerHour == 0 {
		cfg.Rate.PerHour = 1000
	}
	if cfg.Rate.MaxTurns == 0 {
		cfg.Rate.MaxTurns = 50
	}
	if cfg.Rate.CooldownBackoffRaw == "" {
		cfg.Rate.CooldownBackoffRaw = "30s"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values, or an empty string if unset.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Capability.MinScore < 0 || c.Capability.MinScore > 1 {
		return fmt.Errorf("capability.min_score must be in [0,1], got %v", c.Capability.MinScore)
	}
	return nil
}

// parseDurations converts every raw duration string into its
// time.Duration field.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agents.LivenessTimeoutRaw != "" {
		if cfg.Agents.LivenessTimeout, err = time.ParseDuration(cfg.Agents.LivenessTimeoutRaw); err != nil {
			return fmt.Errorf("parsing agents.liveness_timeout %q: %w", cfg.Agents.LivenessTimeoutRaw, err)
		}
	}
	if cfg.Hub.LateResultRetentionRaw != "" {
		if cfg.Hub.LateResultRetention, err = time.ParseDuration(cfg.Hub.LateResultRetentionRaw); err != nil {
			return fmt.Errorf("parsing hub.late_result_retention %q: %w", cfg.Hub.LateResultRetentionRaw, err)
		}
	}
	if cfg.Hub.DedupeTTLRaw != "" {
		if cfg.Hub.DedupeTTL, err = time.ParseDuration(cfg.Hub.DedupeTTLRaw); err != nil {
			return fmt.Errorf("parsing hub.dedupe_ttl %q: %w", cfg.Hub.DedupeTTLRaw, err)
		}
	}
	if cfg.Hub.TimeoutPartnerCooldownRaw != "" {
		if cfg.Hub.TimeoutPartnerCooldown, err = time.ParseDuration(cfg.Hub.TimeoutPartnerCooldownRaw); err != nil {
			return fmt.Errorf("parsing hub.timeout_partner_cooldown %q: %w", cfg.Hub.TimeoutPartnerCooldownRaw, err)
		}
	}
	if cfg.Rate.CooldownBackoffRaw != "" {
		if cfg.Rate.CooldownBackoff, err = time.ParseDuration(cfg.Rate.CooldownBackoffRaw); err != nil {
			return fmt.Errorf("parsing rate.cooldown_backoff %q: %w", cfg.Rate.CooldownBackoffRaw, err)
		}
	}
	return nil
}
