// ABOUTME: ReasoningEngine dependency-injection contract — the only point where
// ABOUTME: LLM reasoning plugs into the fabric; the core never implements one itself.

package runtime

import (
	"context"

	"github.com/2389/agentfabric/internal/protocol"
)

// ReasoningEngine handles one inbound message and optionally produces a
// reply. Implementations must be stateless with respect to the hub —
// internal state (conversation memory, tool state, etc.) is the engine's
// own concern. Handle must be cancellable: it may block arbitrarily, and
// the runtime cancels ctx on agent stop.
type ReasoningEngine interface {
	Handle(ctx context.Context, msg *protocol.Message) (*protocol.Message, error)
	LastTokenUsage() int
	Shutdown(ctx context.Context) error
}
