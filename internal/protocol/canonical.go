// ABOUTME: Canonical serialization and sign/verify wrappers for the message envelope.
// ABOUTME: The signed payload excludes id and signature — signing covers only the content fields.

package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/2389/agentfabric/internal/identity"
)

// Canonical returns the deterministic, key-sorted byte serialization that
// gets signed. encoding/json sorts map keys (including nested maps), so
// building the signed fields as a map — rather than marshaling the struct
// directly — is what makes this deterministic without hand-rolled sorting.
func Canonical(m *Message) ([]byte, error) {
	fields := map[string]any{
		"senderId":        m.SenderID,
		"receiverId":      m.ReceiverID,
		"content":         m.Content,
		"messageType":     string(m.Type),
		"protocolVersion": m.ProtocolVersion,
		"timestamp":       m.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
		"metadata":        m.Metadata.ToMap(),
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("protocol: canonicalizing message: %w", err)
	}
	return b, nil
}

// Sign computes the canonical form of m and signs it with id, storing the
// base64-encoded signature on a copy of m. The original is left untouched.
func Sign(m *Message, id *identity.Identity) (*Message, error) {
	payload, err := Canonical(m)
	if err != nil {
		return nil, err
	}
	sig, err := identity.Sign(id, payload)
	if err != nil {
		return nil, err
	}
	cp := *m
	cp.Signature = base64.StdEncoding.EncodeToString(sig)
	return &cp, nil
}

// VerifySignature checks m.Signature against m's canonical form using the
// sender's public identity. A missing or malformed signature is a failed
// verification, never an error, matching the identity.Verify contract.
func VerifySignature(m *Message, senderIdentity *identity.Identity) bool {
	if m.Signature == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil {
		return false
	}
	payload, err := Canonical(m)
	if err != nil {
		return false
	}
	return identity.Verify(senderIdentity, payload, sig)
}
