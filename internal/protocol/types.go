// ABOUTME: Wire-level message envelope types shared by every protocol in this package.
// ABOUTME: Metadata keeps known fields (requestId, collaborationChain) typed while staying extensible.

package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType enumerates the tagged variants a Message can carry, replacing
// the loosely-typed string dispatch of the source system with a closed set
// the compiler and the hub's switch statements can reason about.
type MessageType string

const (
	TypeText                   MessageType = "TEXT"
	TypeCommand                MessageType = "COMMAND"
	TypeResponse                MessageType = "RESPONSE"
	TypeError                   MessageType = "ERROR"
	TypeStop                    MessageType = "STOP"
	TypeSystem                  MessageType = "SYSTEM"
	TypePing                    MessageType = "PING"
	TypeCooldown                MessageType = "COOLDOWN"
	TypeRequestCollaboration    MessageType = "REQUEST_COLLABORATION"
	TypeResponseCollaboration   MessageType = "RESPONSE_COLLABORATION"
	TypeCapabilityRequest       MessageType = "CAPABILITY_REQUEST"
	TypeCapabilityResponse      MessageType = "CAPABILITY_RESPONSE"
)

// ValidMessageTypes lists every tagged variant accepted by Validate.
var ValidMessageTypes = map[MessageType]bool{
	TypeText: true, TypeCommand: true, TypeResponse: true, TypeError: true,
	TypeStop: true, TypeSystem: true, TypePing: true, TypeCooldown: true,
	TypeRequestCollaboration: true, TypeResponseCollaboration: true,
	TypeCapabilityRequest: true, TypeCapabilityResponse: true,
}

// ProtocolVersion is the only envelope version this fabric speaks.
const ProtocolVersion = "1.0"

// Metadata is the typed optional-fields record on a Message. RequestID and
// CollaborationChain are the two fields the hub itself reasons about;
// everything else callers attach rides along in Custom untouched.
type Metadata struct {
	RequestID         string         `json:"-"`
	CollaborationChain []string      `json:"-"`
	Custom            map[string]any `json:"-"`
}

// IsEmpty reports whether the metadata carries no information at all.
func (m Metadata) IsEmpty() bool {
	return m.RequestID == "" && len(m.CollaborationChain) == 0 && len(m.Custom) == 0
}

// ToMap flattens the typed fields and the custom bag into a single map,
// which is what canonical signing and wire encoding both operate on.
func (m Metadata) ToMap() map[string]any {
	out := make(map[string]any, len(m.Custom)+2)
	for k, v := range m.Custom {
		out[k] = v
	}
	if m.RequestID != "" {
		out["requestId"] = m.RequestID
	}
	if len(m.CollaborationChain) > 0 {
		out["collaborationChain"] = m.CollaborationChain
	}
	return out
}

// MarshalJSON renders Metadata as a flat JSON object merging known and
// custom fields into the envelope's wire format.
func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.ToMap())
}

// UnmarshalJSON splits a flat JSON object back into known fields plus a
// Custom bag holding anything it doesn't recognize.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Custom = make(map[string]any)
	for k, v := range raw {
		switch k {
		case "requestId":
			if s, ok := v.(string); ok {
				m.RequestID = s
			}
		case "collaborationChain":
			if arr, ok := v.([]any); ok {
				chain := make([]string, 0, len(arr))
				for _, e := range arr {
					if s, ok := e.(string); ok {
						chain = append(chain, s)
					}
				}
				m.CollaborationChain = chain
			}
		default:
			m.Custom[k] = v
		}
	}
	return nil
}

// Message is the canonical envelope exchanged between agents and the hub.
// It is created once by its sender, signed, routed, and never mutated in
// place afterward — append-only collaboration chain updates build a new
// Message value rather than editing this one.
type Message struct {
	ID              string      `json:"id"`
	SenderID        string      `json:"senderId"`
	ReceiverID      string      `json:"receiverId"`
	Content         string      `json:"content"`
	Type            MessageType `json:"messageType"`
	ProtocolVersion string      `json:"protocolVersion"`
	Timestamp       time.Time   `json:"timestamp"`
	Metadata        Metadata    `json:"metadata"`
	Signature       string      `json:"signature,omitempty"`
}

// New builds an unsigned Message with a fresh id, the current protocol
// version, and a second-precision UTC timestamp (matching the RFC3339
// wire granularity so that canonical(sign(canonical(m))) round trips
// exactly after a JSON marshal/unmarshal cycle).
func New(senderID, receiverID, content string, typ MessageType) *Message {
	return &Message{
		ID:              uuid.New().String(),
		SenderID:        senderID,
		ReceiverID:      receiverID,
		Content:         content,
		Type:            typ,
		ProtocolVersion: ProtocolVersion,
		Timestamp:       time.Now().UTC().Truncate(time.Second),
		Metadata:        Metadata{Custom: map[string]any{}},
	}
}

// WithCollaborationChain returns a copy of m with chain set. Only the hub
// itself should call this — agents must never mutate their own chain.
func (m Message) WithCollaborationChain(chain []string) *Message {
	cp := m
	cp.Metadata.CollaborationChain = append([]string(nil), chain...)
	return &cp
}
