// ABOUTME: Collision-checked pack bookkeeping and directory loading.
// ABOUTME: Registers each pack's declared capabilities under a synthetic per-pack agent.

package packs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/2389/agentfabric/internal/identity"
	"github.com/2389/agentfabric/internal/registry"
)

// ErrPackAlreadyRegistered indicates a pack with the same id was already loaded.
var ErrPackAlreadyRegistered = errors.New("packs: pack already registered")

// ErrCapabilityCollision indicates two packs declare the same capability name.
var ErrCapabilityCollision = errors.New("packs: capability name collision")

// Registry tracks which pack owns which capability name, across the whole
// fabric, so two packs can never silently shadow each other.
type Registry struct {
	mu      sync.Mutex
	loaded  map[string]Manifest // packId -> manifest
	ownerOf map[string]string   // capability name -> packId
	logger  *slog.Logger
}

// NewRegistry builds an empty pack registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		loaded:  make(map[string]Manifest),
		ownerOf: make(map[string]string),
		logger:  logger.With("component", "packs"),
	}
}

// LoadDir parses every *.toml file directly under dir and registers it.
// It returns the manifests it loaded; a failure partway through still
// returns the manifests successfully loaded so far alongside the error.
func (r *Registry) LoadDir(ctx context.Context, dir string, into *registry.Registry) ([]Manifest, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.toml"))
	if err != nil {
		return nil, fmt.Errorf("packs: globbing %s: %w", dir, err)
	}

	var loaded []Manifest
	for _, path := range matches {
		m, err := LoadFile(path)
		if err != nil {
			return loaded, err
		}
		if err := r.Register(ctx, m, into); err != nil {
			return loaded, fmt.Errorf("packs: registering %s: %w", path, err)
		}
		loaded = append(loaded, m)
	}
	return loaded, nil
}

// Register validates manifest against every previously loaded pack for
// capability-name collisions, then registers it as a synthetic PACK agent
// in into (if non-nil).
func (r *Registry) Register(ctx context.Context, m Manifest, into *registry.Registry) error {
	r.mu.Lock()
	if _, exists := r.loaded[m.PackID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPackAlreadyRegistered, m.PackID)
	}
	for _, c := range m.Capabilities {
		if owner, exists := r.ownerOf[c.Name]; exists {
			r.mu.Unlock()
			return fmt.Errorf("%w: capability %q already owned by pack %q", ErrCapabilityCollision, c.Name, owner)
		}
	}
	r.loaded[m.PackID] = m
	for _, c := range m.Capabilities {
		r.ownerOf[c.Name] = m.PackID
	}
	r.mu.Unlock()

	if into == nil {
		return nil
	}

	id, err := identity.CreateKeyBased()
	if err != nil {
		return fmt.Errorf("packs: minting pack identity: %w", err)
	}

	return into.Register(ctx, registry.AgentRegistration{
		AgentMetadata: registry.AgentMetadata{
			AgentID:      "pack:" + m.PackID,
			AgentType:    registry.AgentTypePack,
			Capabilities: m.Capabilities,
			Custom:       map[string]any{"packVersion": m.Version},
		},
		Identity:     id,
		RegisteredAt: time.Now().UTC(),
	})
}

// Loaded returns every pack id currently registered.
func (r *Registry) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.loaded))
	for id := range r.loaded {
		out = append(out, id)
	}
	return out
}
