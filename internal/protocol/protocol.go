// ABOUTME: Protocol state machines that format and validate envelopes for a given conversation kind.
// ABOUTME: SimplePeerProtocol validates any message; CollaborationProtocol layers request/response rules on top.

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/agentfabric/internal/identity"
)

// Sentinel validation errors returned by the Protocol validators. The hub
// does not call Validate; it checks signatures itself and replies with its
// own ERROR reasons.
var (
	ErrMissingField       = errors.New("protocol: missing required field")
	ErrUnknownMessageType = errors.New("protocol: unknown message type")
	ErrBadProtocolVersion = errors.New("protocol: unsupported protocol version")
	ErrSignatureInvalid   = errors.New("protocol: signature verification failed")
	ErrMissingRequestID   = errors.New("protocol: collaboration message missing requestId")
	ErrMissingCapability  = errors.New("protocol: collaboration request missing target capability")
)

// Protocol formats a Message for the wire and validates an inbound one.
// Validate receives the sender's identity so it can verify the signature;
// it does not have access to the hub's collaboration-chain bookkeeping —
// that remains the hub's sole responsibility.
type Protocol interface {
	Format(m *Message) ([]byte, error)
	Validate(m *Message, senderIdentity *identity.Identity) error
}

// SimplePeerProtocol validates the envelope shape and signature of an
// arbitrary message, with no constraints on message type.
type SimplePeerProtocol struct{}

// Format encodes the full envelope of m, id and signature included, as wire
// JSON. This is not the Canonical signing form.
func (SimplePeerProtocol) Format(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: formatting message: %w", err)
	}
	return b, nil
}

// Validate checks required fields, a known message type, the supported
// protocol version, and the sender's signature.
func (p SimplePeerProtocol) Validate(m *Message, senderIdentity *identity.Identity) error {
	if err := validateEnvelope(m); err != nil {
		return err
	}
	if !VerifySignature(m, senderIdentity) {
		return ErrSignatureInvalid
	}
	return nil
}

func validateEnvelope(m *Message) error {
	if m == nil {
		return fmt.Errorf("%w: message", ErrMissingField)
	}
	if m.ID == "" {
		return fmt.Errorf("%w: id", ErrMissingField)
	}
	if m.SenderID == "" {
		return fmt.Errorf("%w: senderId", ErrMissingField)
	}
	if m.ReceiverID == "" {
		return fmt.Errorf("%w: receiverId", ErrMissingField)
	}
	if !ValidMessageTypes[m.Type] {
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, m.Type)
	}
	if m.ProtocolVersion != ProtocolVersion {
		return fmt.Errorf("%w: %q", ErrBadProtocolVersion, m.ProtocolVersion)
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp", ErrMissingField)
	}
	return nil
}

// CollaborationProtocol additionally enforces that REQUEST_COLLABORATION
// carries a requestId and a target capability name, and that
// RESPONSE_COLLABORATION echoes a requestId. Loop prevention itself lives
// in the hub, which is the sole owner of collaborationChain mutation.
type CollaborationProtocol struct {
	SimplePeerProtocol
}

// Validate runs the base envelope/signature checks and, for the two
// collaboration message types, their additional field requirements.
func (p CollaborationProtocol) Validate(m *Message, senderIdentity *identity.Identity) error {
	if err := p.SimplePeerProtocol.Validate(m, senderIdentity); err != nil {
		return err
	}

	switch m.Type {
	case TypeRequestCollaboration:
		if m.Metadata.RequestID == "" {
			return ErrMissingRequestID
		}
		if cap, ok := m.Metadata.Custom["capability"].(string); !ok || cap == "" {
			return ErrMissingCapability
		}
	case TypeResponseCollaboration:
		if m.Metadata.RequestID == "" {
			return ErrMissingRequestID
		}
	}
	return nil
}
