// ABOUTME: Observability sink contract — optional, no-op by default, never on the routing critical path.

package hub

import (
	"time"

	"github.com/2389/agentfabric/internal/protocol"
)

// Sink receives best-effort notifications about hub activity. The hub
// never blocks routing on a Sink call; implementations that need to do
// I/O (e.g. an audit log) must do it asynchronously themselves.
type Sink interface {
	OnRouted(msg *protocol.Message)
	OnInterceptorError(err error)
	OnCooldown(agentID string, until time.Time)
	OnLateResponse(requestID string)
}

// NoopSink discards every notification. It is the Hub's default Sink.
type NoopSink struct{}

func (NoopSink) OnRouted(*protocol.Message)             {}
func (NoopSink) OnInterceptorError(error)                {}
func (NoopSink) OnCooldown(string, time.Time)            {}
func (NoopSink) OnLateResponse(string)                   {}
