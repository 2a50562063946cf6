// ABOUTME: Agent metadata and registration types for the registry.
// ABOUTME: AgentRegistration pairs a verified identity with discoverable metadata.

package registry

import (
	"time"

	"github.com/2389/agentfabric/internal/capindex"
	"github.com/2389/agentfabric/internal/identity"
)

// AgentType distinguishes a human operator's agent from a fully
// autonomous one; both speak the same protocol.
type AgentType string

const (
	AgentTypeHuman AgentType = "HUMAN"
	AgentTypeAI    AgentType = "AI"
	// AgentTypePack identifies the synthetic agent a capability pack (C11)
	// registers itself as — a static bundle of capabilities with no
	// runtime loop or inbox behind it.
	AgentTypePack AgentType = "PACK"
)

// InteractionMode lists who an agent is willing to exchange messages
// with.
type InteractionMode string

const (
	InteractionHumanToAgent InteractionMode = "HUMAN_TO_AGENT"
	InteractionAgentToAgent InteractionMode = "AGENT_TO_AGENT"
)

// AgentMetadata is the discoverable information an agent advertises.
// PaymentAddress is opaque to the fabric — stored and surfaced verbatim,
// never interpreted.
type AgentMetadata struct {
	AgentID          string                 `json:"agentId"`
	AgentType        AgentType              `json:"agentType"`
	InteractionModes []InteractionMode      `json:"interactionModes"`
	Capabilities     []capindex.Capability  `json:"capabilities"`
	OrganizationID   string                 `json:"organizationId,omitempty"`
	PaymentAddress   string                 `json:"paymentAddress,omitempty"`
	Custom           map[string]any         `json:"custom,omitempty"`
}

// AgentRegistration is the full record the registry stores: metadata plus
// the verified identity backing it. Invariant (enforced by Register):
// Identity.Verified must be true at insert time.
type AgentRegistration struct {
	AgentMetadata
	Identity     *identity.Identity `json:"-"`
	OwnerID      string             `json:"ownerId,omitempty"`
	RegisteredAt time.Time          `json:"registeredAt"`
}

// ScoredRegistration pairs a registration with its semantic match score.
type ScoredRegistration struct {
	Registration AgentRegistration
	Score        float64
}

// DiscoveryOptions filters a semantic capability search: exclude the
// requester, exclude inactive agents, exclude agents in cooldown with
// the requester.
type DiscoveryOptions struct {
	Limit                 int
	MinScore              float64
	ExcludeAgentID        string
	ExcludeInactive       bool
	ExcludeInCooldownWith func(candidateAgentID string) bool
}
