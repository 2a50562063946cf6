// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "test-secret"

agents:
  liveness_timeout: "45s"
  inbox_capacity: 256

capability:
  min_score: 0.5

hub:
  late_result_retention: "10m"
  dedupe_ttl: "2m"
  timeout_partner_cooldown: "3m"

rate:
  per_minute: 30
  per_hour: 500
  max_turns: 20
  cooldown_backoff: "15s"

packs:
  dir: "./packs"

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Agents.LivenessTimeout != 45*time.Second {
		t.Errorf("Agents.LivenessTimeout = %v, want %v", cfg.Agents.LivenessTimeout, 45*time.Second)
	}
	if cfg.Agents.InboxCapacity != 256 {
		t.Errorf("Agents.InboxCapacity = %d, want 256", cfg.Agents.InboxCapacity)
	}
	if cfg.Capability.MinScore != 0.5 {
		t.Errorf("Capability.MinScore = %v, want 0.5", cfg.Capability.MinScore)
	}
	if cfg.Hub.LateResultRetention != 10*time.Minute {
		t.Errorf("Hub.LateResultRetention = %v, want %v", cfg.Hub.LateResultRetention, 10*time.Minute)
	}
	if cfg.Hub.DedupeTTL != 2*time.Minute {
		t.Errorf("Hub.DedupeTTL = %v, want %v", cfg.Hub.DedupeTTL, 2*time.Minute)
	}
	if cfg.Hub.TimeoutPartnerCooldown != 3*time.Minute {
		t.Errorf("Hub.TimeoutPartnerCooldown = %v, want %v", cfg.Hub.TimeoutPartnerCooldown, 3*time.Minute)
	}
	if cfg.Rate.PerMinute != 30 || cfg.Rate.PerHour != 500 || cfg.Rate.MaxTurns != 20 {
		t.Errorf("Rate = %+v, want per_minute=30 per_hour=500 max_turns=20", cfg.Rate)
	}
	if cfg.Rate.CooldownBackoff != 15*time.Second {
		t.Errorf("Rate.CooldownBackoff = %v, want %v", cfg.Rate.CooldownBackoff, 15*time.Second)
	}
	if cfg.Packs.Dir != "./packs" {
		t.Errorf("Packs.Dir = %q, want %q", cfg.Packs.Dir, "./packs")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want level=debug format=text", cfg.Logging)
	}
}

func TestLoad_DefaultsFillUnsetFields(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
auth:
  jwt_secret: "test-secret"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Capability.MinScore != 0.35 {
		t.Errorf("Capability.MinScore default = %v, want 0.35", cfg.Capability.MinScore)
	}
	if cfg.Agents.LivenessTimeout != 90*time.Second {
		t.Errorf("Agents.LivenessTimeout default = %v, want 90s", cfg.Agents.LivenessTimeout)
	}
	if cfg.Agents.InboxCapacity != 128 {
		t.Errorf("Agents.InboxCapacity default = %d, want 128", cfg.Agents.InboxCapacity)
	}
	if cfg.Hub.LateResultRetention != 15*time.Minute {
		t.Errorf("Hub.LateResultRetention default = %v, want 15m", cfg.Hub.LateResultRetention)
	}
	if cfg.Hub.TimeoutPartnerCooldown != 5*time.Minute {
		t.Errorf("Hub.TimeoutPartnerCooldown default = %v, want 5m", cfg.Hub.TimeoutPartnerCooldown)
	}
	if cfg.Rate.PerMinute != 60 || cfg.Rate.PerHour != 1000 || cfg.Rate.MaxTurns != 50 {
		t.Errorf("Rate defaults = %+v, want per_minute=60 per_hour=1000 max_turns=50", cfg.Rate)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging defaults = %+v, want level=info format=json", cfg.Logging)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "secret-from-env")

	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "secret-from-env" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "secret-from-env")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr "missing colon"
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
auth:
  jwt_secret: "test-secret"
agents:
  liveness_timeout: "not-a-duration"
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing http_addr",
			configContent: `
auth:
  jwt_secret: "test-secret"
`,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "missing jwt secret",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
`,
			wantErrSubstr: "auth.jwt_secret is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.configContent)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single env var", "${FOO}", "bar"},
		{"env var with surrounding text", "prefix-${FOO}-suffix", "prefix-bar-suffix"},
		{"multiple env vars", "${FOO}/${BAZ}", "bar/qux"},
		{"no env vars", "no-vars-here", "no-vars-here"},
		{"unset env var", "${UNSET_VAR}", ""},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandEnvVars(tt.input); got != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidate_MinScoreRange(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{HTTPAddr: "0.0.0.0:8080"},
		Auth:   AuthConfig{JWTSecret: "x"},
		Capability: CapabilityConfig{MinScore: 1.5},
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "capability.min_score") {
		t.Errorf("Validate() error = %v, want capability.min_score range error", err)
	}
}
