// ABOUTME: Registry implementation wrapping the capability index with lifecycle and liveness tracking.
// ABOUTME: Write operations (register/unregister) serialize under a single lock; reads run concurrently.

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/agentfabric/internal/capindex"
	"github.com/2389/agentfabric/internal/identity"
	"github.com/2389/agentfabric/internal/store"
)

// Sentinel errors surfaced by Register/Unregister/Get.
var (
	ErrAlreadyRegistered = errors.New("registry: agent already registered")
	ErrNotVerified       = errors.New("registry: identity not verified")
	ErrNotFound          = errors.New("registry: agent not found")
)

// EventKind enumerates the lifecycle events a Registry emits to its
// optional observer.
type EventKind string

const (
	EventRegistered   EventKind = "REGISTERED"
	EventUnregistered EventKind = "UNREGISTERED"
)

// Event is one lifecycle notification, delivered synchronously inside the
// write critical section (observers must not block significantly).
type Event struct {
	Kind    EventKind
	AgentID string
}

// Observer receives registry lifecycle events. Implementations must not
// call back into the Registry from within OnEvent — the write lock is
// still held.
type Observer interface {
	OnEvent(Event)
}

// liveness tracks the last time an agent's presence was confirmed, for
// IsActive's last-message-timestamp heuristic.
type liveness struct {
	lastSeen time.Time
}

// Registry is the directory of live agents and their capabilities (C4).
// It wraps a capindex.Index for exact/semantic capability lookup and
// keeps its own metadata map behind the same write lock so registration
// and capability indexing stay atomic with each other.
type Registry struct {
	mu sync.RWMutex

	agents map[string]*AgentRegistration
	byOrg  map[string][]string // orgID -> agentIDs, registration order

	capIndex *capindex.Index
	liveness map[string]*liveness

	livenessTimeout time.Duration
	logger          *slog.Logger
	observer        Observer
	store           store.Store
}

// Config controls Registry construction.
type Config struct {
	Embedding       capindex.EmbeddingIndex
	LivenessTimeout time.Duration // default 90s
	Logger          *slog.Logger
	Observer        Observer

	// Store is optional. When set, Register/Unregister write through to
	// it inside the same write-critical-section as the in-memory update,
	// and Restore can replay its rows back into a fresh Registry at boot.
	Store store.Store
}

// New builds an empty Registry.
func New(cfg Config) *Registry {
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 90 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		agents:          make(map[string]*AgentRegistration),
		byOrg:           make(map[string][]string),
		capIndex:        capindex.New(cfg.Embedding, cfg.Logger),
		liveness:        make(map[string]*liveness),
		livenessTimeout: cfg.LivenessTimeout,
		logger:          cfg.Logger.With("component", "registry"),
		observer:        cfg.Observer,
		store:           cfg.Store,
	}
}

// Register stores reg, indexing its capabilities. Fails if the agent id is
// already registered or the identity is not verified.
func (r *Registry) Register(ctx context.Context, reg AgentRegistration) error {
	if reg.Identity == nil || !reg.Identity.Verified {
		return ErrNotVerified
	}
	if reg.AgentID == "" {
		return fmt.Errorf("registry: agentId is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[reg.AgentID]; exists {
		return ErrAlreadyRegistered
	}

	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now().UTC()
	}
	cp := reg
	r.agents[cp.AgentID] = &cp

	for _, cap := range cp.Capabilities {
		if err := r.capIndex.Register(ctx, cp.AgentID, cap); err != nil {
			delete(r.agents, cp.AgentID)
			return fmt.Errorf("registry: indexing capability %q: %w", cap.Name, err)
		}
	}

	if cp.OrganizationID != "" {
		r.byOrg[cp.OrganizationID] = append(r.byOrg[cp.OrganizationID], cp.AgentID)
	}

	r.liveness[cp.AgentID] = &liveness{lastSeen: time.Now()}

	if r.store != nil {
		if err := r.store.SaveRegistration(ctx, toAgentRecord(cp), toCapabilityRecords(cp)); err != nil {
			r.logger.Error("persisting registration failed", "agent_id", cp.AgentID, "error", err)
		}
	}

	r.logger.Info("agent registered", "agent_id", cp.AgentID, "org", cp.OrganizationID)
	r.notify(Event{Kind: EventRegistered, AgentID: cp.AgentID})
	return nil
}

// Unregister removes an agent's metadata and capability entries. Idempotent:
// unregistering an unknown id is a no-op.
func (r *Registry) Unregister(ctx context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.agents[agentID]
	if !ok {
		return nil
	}

	for _, cap := range reg.Capabilities {
		if err := r.capIndex.Unregister(ctx, agentID, cap.Name); err != nil {
			return fmt.Errorf("registry: removing capability %q: %w", cap.Name, err)
		}
	}

	delete(r.agents, agentID)
	delete(r.liveness, agentID)

	if r.store != nil {
		if err := r.store.DeleteRegistration(ctx, agentID); err != nil {
			r.logger.Error("deleting persisted registration failed", "agent_id", agentID, "error", err)
		}
	}

	if reg.OrganizationID != "" {
		ids := r.byOrg[reg.OrganizationID]
		for i, id := range ids {
			if id == agentID {
				ids = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(ids) == 0 {
			delete(r.byOrg, reg.OrganizationID)
		} else {
			r.byOrg[reg.OrganizationID] = ids
		}
	}

	r.logger.Info("agent unregistered", "agent_id", agentID)
	r.notify(Event{Kind: EventUnregistered, AgentID: agentID})
	return nil
}

func (r *Registry) notify(ev Event) {
	if r.observer != nil {
		r.observer.OnEvent(ev)
	}
}

// Get returns the registration for agentID, or ErrNotFound.
func (r *Registry) Get(agentID string) (AgentRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.agents[agentID]
	if !ok {
		return AgentRegistration{}, ErrNotFound
	}
	return *reg, nil
}

// GetIdentity returns the verified identity backing agentID, used by the
// hub to verify inbound signatures without exposing the whole registration.
func (r *Registry) GetIdentity(agentID string) (*identity.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.agents[agentID]
	if !ok {
		return nil, false
	}
	return reg.Identity, true
}

// GetByCapability returns the registrations advertising the exact
// capability name, in registration order.
func (r *Registry) GetByCapability(name string) []AgentRegistration {
	ids := r.capIndex.FindByCapabilityName(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentRegistration, 0, len(ids))
	for _, id := range ids {
		if reg, ok := r.agents[id]; ok {
			out = append(out, *reg)
		}
	}
	return out
}

// GetByCapabilityDescription performs semantic capability search and
// applies the discovery filters: exclude the requester, exclude
// inactive agents, and exclude agents in cooldown with the requester.
func (r *Registry) GetByCapabilityDescription(ctx context.Context, query string, opts DiscoveryOptions) ([]ScoredRegistration, error) {
	limit := opts.Limit
	overfetch := limit
	if overfetch <= 0 {
		overfetch = 50
	} else {
		overfetch *= 3
	}

	hits, err := r.capIndex.FindByCapabilityDescription(ctx, query, overfetch, opts.MinScore)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ScoredRegistration, 0, len(hits))
	for _, hit := range hits {
		if hit.AgentID == opts.ExcludeAgentID {
			continue
		}
		reg, ok := r.agents[hit.AgentID]
		if !ok {
			continue
		}
		if opts.ExcludeInactive && !r.isActiveLocked(hit.AgentID) {
			continue
		}
		if opts.ExcludeInCooldownWith != nil && opts.ExcludeInCooldownWith(hit.AgentID) {
			continue
		}
		out = append(out, ScoredRegistration{Registration: *reg, Score: hit.Score})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetByOrganization returns every registration sharing orgID, in
// registration order.
func (r *Registry) GetByOrganization(orgID string) []AgentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byOrg[orgID]
	out := make([]AgentRegistration, 0, len(ids))
	for _, id := range ids {
		if reg, ok := r.agents[id]; ok {
			out = append(out, *reg)
		}
	}
	return out
}

// List returns every current registration, in no particular order.
func (r *Registry) List() []AgentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentRegistration, 0, len(r.agents))
	for _, reg := range r.agents {
		out = append(out, *reg)
	}
	return out
}

// Touch refreshes an agent's liveness timestamp. The hub calls this on
// every routed message to/from the agent and on PING traffic — a
// last-message-timestamp threshold rather than a dedicated heartbeat
// message type.
func (r *Registry) Touch(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lv, ok := r.liveness[agentID]; ok {
		lv.lastSeen = time.Now()
	}
}

// IsActive reports whether agentID was seen within the configured
// liveness timeout.
func (r *Registry) IsActive(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isActiveLocked(agentID)
}

func (r *Registry) isActiveLocked(agentID string) bool {
	lv, ok := r.liveness[agentID]
	if !ok {
		return false
	}
	return time.Since(lv.lastSeen) <= r.livenessTimeout
}

// SaveIndex persists the capability index's embedding backend to path, if
// one is configured. A no-op (not an error) with no backend wired.
func (r *Registry) SaveIndex(path string) error {
	return r.capIndex.Persist(path)
}

// LoadIndex restores the capability index's embedding backend from path.
func (r *Registry) LoadIndex(path string) error {
	return r.capIndex.Restore(path)
}
