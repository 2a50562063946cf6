// ABOUTME: Fabric is the top-level object wiring Registry+Hub+InteractionControl+Store+Packs.
// ABOUTME: Constructed once by cmd/fabricd, exactly the way gateway.Gateway is constructed once by its teacher counterpart.

package fabric

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/agentfabric/internal/config"
	"github.com/2389/agentfabric/internal/hub"
	"github.com/2389/agentfabric/internal/interaction"
	"github.com/2389/agentfabric/internal/packs"
	"github.com/2389/agentfabric/internal/registry"
	"github.com/2389/agentfabric/internal/store"
)

// Fabric holds every shared collaborator a fabricd process needs,
// constructed once at startup instead of living as package-level mutable
// state. Admin API handlers, CLI-facing RPCs, and agent runtimes all hold
// a reference to (parts of) the same Fabric.
type Fabric struct {
	Config *config.Config
	Logger *slog.Logger

	Store    store.Store // nil when persistence is disabled
	Registry *registry.Registry
	Hub      *hub.Hub
	Control  *interaction.Controller
	Packs    *packs.Registry

	auditSink *hub.AuditSink
}

// New constructs a Fabric from cfg. When cfg.Database.Path is non-empty,
// a SQLite store is opened, the Registry is wired to write through to it,
// an AuditSink is attached to the Hub, and any previously persisted
// agents are restored before the fabric is returned ready to serve.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Fabric, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f := &Fabric{Config: cfg, Logger: logger}

	if cfg.Database.Path != "" {
		st, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("fabric: opening store: %w", err)
		}
		f.Store = st
	}

	f.Registry = registry.New(registry.Config{
		LivenessTimeout: cfg.Agents.LivenessTimeout,
		Logger:          logger,
		Store:           f.Store,
	})

	if f.Store != nil {
		if err := f.Registry.Restore(ctx); err != nil {
			return nil, fmt.Errorf("fabric: restoring registry: %w", err)
		}
	}

	var sink hub.Sink = hub.NoopSink{}
	if f.Store != nil {
		f.auditSink = hub.NewAuditSink(f.Store, logger, 1024)
		sink = f.auditSink
	}

	f.Hub = hub.New(f.Registry, hub.Config{
		InboxCapacity:          cfg.Agents.InboxCapacity,
		LateResultRetain:       cfg.Hub.LateResultRetention,
		DedupeTTL:              cfg.Hub.DedupeTTL,
		TimeoutPartnerCooldown: cfg.Hub.TimeoutPartnerCooldown,
		Sink:                   sink,
		Logger:                 logger,
	})

	f.Control = interaction.New(interaction.Config{
		PerMinute:       cfg.Rate.PerMinute,
		PerHour:         cfg.Rate.PerHour,
		MaxTurns:        cfg.Rate.MaxTurns,
		CooldownBackoff: cfg.Rate.CooldownBackoff,
	})

	f.Packs = packs.NewRegistry(logger)
	if cfg.Packs.Dir != "" {
		if _, err := f.Packs.LoadDir(ctx, cfg.Packs.Dir, f.Registry); err != nil {
			return nil, fmt.Errorf("fabric: loading capability packs: %w", err)
		}
	}

	return f, nil
}

// Shutdown stops the hub's background janitor and interceptor dispatch,
// drains the audit sink, and closes the store. Safe to call once.
func (f *Fabric) Shutdown(ctx context.Context) error {
	f.Hub.Stop()
	if f.auditSink != nil {
		f.auditSink.Close()
	}
	if f.Store != nil {
		return f.Store.Close()
	}
	return nil
}
