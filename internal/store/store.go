// ABOUTME: Store interface and data types for fabric persistence (C8).
// ABOUTME: Serves registry durability, the routing audit log, and operator accounts with their passkey credentials.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// AgentRecord is the durable projection of an AgentRegistration: enough to
// rebuild a Registry entry on restart, minus anything that cannot survive a
// process boundary (the private signer). PublicKeyWire is the SSH
// wire-format encoding of the agent's public key, the same bytes
// identity.DidFromPublicKey hashes.
type AgentRecord struct {
	AgentID          string
	DID              string
	PublicKeyWire    []byte
	AgentType        string
	InteractionModes []string
	OrganizationID   string
	PaymentAddress   string
	OwnerID          string
	CustomJSON       []byte
	RegisteredAt     time.Time
}

// CapabilityRecord is one capability advertised by an agent, persisted
// alongside its owning AgentRecord.
type CapabilityRecord struct {
	AgentID      string
	Name         string
	Description  string
	InputSchema  []byte
	OutputSchema []byte
	MetadataJSON []byte
}

// AuditEvent is a routing-event record written by the hub's Observability
// sink. It never carries message content — only what happened, to whom,
// and when.
type AuditEvent struct {
	ID     string
	TS     time.Time
	Actor  string
	Action string
	Target string
	Detail string
}

// OperatorRecord is a human console user who can bootstrap a passkey and
// sign in to the admin API. Distinct from AgentRecord: operators are the
// WebAuthn/JWT principals of the control plane, never participants in the
// message fabric itself.
type OperatorRecord struct {
	ID           string
	Username     string
	DisplayName  string
	CreatedAt    time.Time
}

// WebAuthnCredentialRecord is one registered passkey belonging to an
// OperatorRecord.
type WebAuthnCredentialRecord struct {
	ID              string
	OperatorID      string
	CredentialID    []byte
	PublicKey       []byte
	AttestationType string
	Transports      string
	SignCount       uint32
	CreatedAt       time.Time
}

// Store is the persistence contract the Registry and the hub's sink
// implementation depend on. A nil Store is a valid, supported
// configuration — every core package that accepts one treats it as
// optional.
type Store interface {
	SaveRegistration(ctx context.Context, rec AgentRecord, caps []CapabilityRecord) error
	DeleteRegistration(ctx context.Context, agentID string) error
	ListRegistrations(ctx context.Context) ([]AgentRecord, error)
	ListCapabilities(ctx context.Context, agentID string) ([]CapabilityRecord, error)

	AppendAudit(ctx context.Context, ev AuditEvent) error
	ListAudit(ctx context.Context, since time.Time, limit int) ([]AuditEvent, error)

	SaveOperator(ctx context.Context, op OperatorRecord) error
	GetOperatorByUsername(ctx context.Context, username string) (OperatorRecord, error)
	GetOperator(ctx context.Context, id string) (OperatorRecord, error)

	SaveWebAuthnCredential(ctx context.Context, cred WebAuthnCredentialRecord) error
	ListWebAuthnCredentialsByOperator(ctx context.Context, operatorID string) ([]WebAuthnCredentialRecord, error)
	GetWebAuthnCredentialByCredentialID(ctx context.Context, credentialID []byte) (WebAuthnCredentialRecord, error)
	UpdateWebAuthnCredentialSignCount(ctx context.Context, id string, signCount uint32) error

	Close() error
}
