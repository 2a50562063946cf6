// ABOUTME: SendAndWait/CheckLateResult — directed request/response correlation with timeout and late-delivery recovery.
// ABOUTME: Discovery passthrough to the wrapped Registry (ListAgents/FindByCapability/FindByOrganization).

package hub

import (
	"context"
	"time"

	"github.com/2389/agentfabric/internal/protocol"
	"github.com/2389/agentfabric/internal/registry"
)

// SendResult is the outcome of SendAndWait.
type SendResult struct {
	RequestID string
	Status    Status
	Response  *protocol.Message
}

// SendAndWait creates a PendingRequest, routes req, and blocks until a
// matching response arrives, the deadline elapses, or ctx is canceled.
// On timeout the request's slot is retained for CheckLateResult within
// the hub's configured retention window.
func (h *Hub) SendAndWait(ctx context.Context, req *protocol.Message, timeout time.Duration) (SendResult, error) {
	reqID := req.Metadata.RequestID
	if reqID == "" {
		reqID = req.ID
		req.Metadata.RequestID = reqID
	}

	deadline := time.Now().Add(timeout)
	p := h.pending.create(reqID, req.SenderID, req.ReceiverID, deadline)

	if err := h.Route(req); err != nil {
		p.cancel()
		return SendResult{RequestID: reqID, Status: StatusFailed}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		snap := p.snapshot()
		return SendResult{RequestID: reqID, Status: snap.Status, Response: snap.Response}, nil
	case <-timer.C:
		status := p.timeout()
		if status == StatusTimedOut {
			h.timeoutPartners.record(req.SenderID, req.ReceiverID)
		}
		return SendResult{RequestID: reqID, Status: status}, nil
	case <-ctx.Done():
		status := p.cancel()
		return SendResult{RequestID: reqID, Status: status}, ctx.Err()
	}
}

// CheckLateResult polls the status of a previously issued request within
// the retention window. The boolean return is false once the slot has
// been evicted by the janitor.
func (h *Hub) CheckLateResult(requestID string) (SendResult, bool) {
	p, ok := h.pending.get(requestID)
	if !ok {
		return SendResult{}, false
	}
	snap := p.snapshot()
	return SendResult{RequestID: requestID, Status: snap.Status, Response: snap.Response}, true
}

// ListAgents forwards agent discovery to the wrapped Registry.
func (h *Hub) ListAgents() []registry.AgentRegistration {
	return h.registry.List()
}

// FindByCapability forwards exact capability lookup to the Registry.
func (h *Hub) FindByCapability(name string) []registry.AgentRegistration {
	return h.registry.GetByCapability(name)
}

// FindByCapabilityDescription forwards semantic capability search to the
// Registry.
func (h *Hub) FindByCapabilityDescription(ctx context.Context, query string, opts registry.DiscoveryOptions) ([]registry.ScoredRegistration, error) {
	return h.registry.GetByCapabilityDescription(ctx, query, opts)
}

// FindByOrganization forwards organization grouping lookup to the Registry.
func (h *Hub) FindByOrganization(orgID string) []registry.AgentRegistration {
	return h.registry.GetByOrganization(orgID)
}
