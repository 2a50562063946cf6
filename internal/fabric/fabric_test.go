// ABOUTME: Exercises Fabric construction with and without persistence, and its shutdown path.

package fabric

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/2389/agentfabric/internal/config"
)

func minimalConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Auth:   config.AuthConfig{JWTSecret: "test-secret"},
	}
	config.Defaults(cfg)
	cfg.Agents.LivenessTimeout = 90_000_000_000
	cfg.Hub.LateResultRetention = 900_000_000_000
	cfg.Hub.DedupeTTL = 300_000_000_000
	cfg.Rate.CooldownBackoff = 30_000_000_000
	return cfg
}

func TestNew_WithoutPersistence(t *testing.T) {
	cfg := minimalConfig(t)

	f, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if f.Store != nil {
		t.Error("Store should be nil when database.path is empty")
	}
	if f.Registry == nil || f.Hub == nil || f.Control == nil || f.Packs == nil {
		t.Fatalf("Fabric = %+v, want all core collaborators wired", f)
	}

	if err := f.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestNew_WithPersistence(t *testing.T) {
	cfg := minimalConfig(t)
	cfg.Database.Path = filepath.Join(t.TempDir(), "fabric.db")

	f, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if f.Store == nil {
		t.Fatal("Store should be non-nil when database.path is set")
	}

	if err := f.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestNew_LoadsCapabilityPacksDir(t *testing.T) {
	cfg := minimalConfig(t)
	dir := t.TempDir()
	cfg.Packs.Dir = dir

	f, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer f.Shutdown(context.Background())

	if len(f.Packs.Loaded()) != 0 {
		t.Fatalf("Loaded() = %v, want none for an empty pack directory", f.Packs.Loaded())
	}
}
