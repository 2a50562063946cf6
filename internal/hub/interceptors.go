// ABOUTME: Global and per-agent message interceptors — read-only observers invoked off the routing critical path.
// ABOUTME: Invocation order relative to inbox enqueue is unspecified; interceptors are advisory only.

package hub

import "github.com/2389/agentfabric/internal/protocol"

// InterceptorHandle identifies a registered interceptor for later removal.
type InterceptorHandle int

// AddGlobalInterceptor registers fn to observe every routed message.
func (h *Hub) AddGlobalInterceptor(fn InterceptorFunc) InterceptorHandle {
	h.interceptMu.Lock()
	defer h.interceptMu.Unlock()
	id := h.nextInterceptorID
	h.nextInterceptorID++
	h.globalInterceptors[id] = fn
	return InterceptorHandle(id)
}

// RemoveGlobalInterceptor unregisters a previously added global interceptor.
func (h *Hub) RemoveGlobalInterceptor(handle InterceptorHandle) {
	h.interceptMu.Lock()
	defer h.interceptMu.Unlock()
	delete(h.globalInterceptors, int(handle))
}

// AddAgentInterceptor registers fn to observe messages routed to agentID.
func (h *Hub) AddAgentInterceptor(agentID string, fn InterceptorFunc) InterceptorHandle {
	h.interceptMu.Lock()
	defer h.interceptMu.Unlock()
	id := h.nextInterceptorID
	h.nextInterceptorID++
	if h.agentInterceptors[agentID] == nil {
		h.agentInterceptors[agentID] = make(map[int]InterceptorFunc)
	}
	h.agentInterceptors[agentID][id] = fn
	return InterceptorHandle(id)
}

// RemoveAgentInterceptor unregisters a previously added per-agent interceptor.
func (h *Hub) RemoveAgentInterceptor(agentID string, handle InterceptorHandle) {
	h.interceptMu.Lock()
	defer h.interceptMu.Unlock()
	if m, ok := h.agentInterceptors[agentID]; ok {
		delete(m, int(handle))
	}
}

// dispatchInterceptors runs every applicable interceptor on a separate
// worker so it never blocks the routing critical path.
// Errors are logged and handed to the Sink, never propagated to the
// router's caller.
func (h *Hub) dispatchInterceptors(msg *protocol.Message) {
	h.interceptMu.RLock()
	fns := make([]InterceptorFunc, 0, len(h.globalInterceptors))
	for _, fn := range h.globalInterceptors {
		fns = append(fns, fn)
	}
	for _, fn := range h.agentInterceptors[msg.ReceiverID] {
		fns = append(fns, fn)
	}
	h.interceptMu.RUnlock()

	if len(fns) == 0 {
		return
	}

	h.interceptWG.Add(1)
	go func() {
		defer h.interceptWG.Done()
		for _, fn := range fns {
			if err := fn(msg); err != nil {
				h.logger.Warn("interceptor failed", "receiver", msg.ReceiverID, "message_id", msg.ID, "error", err)
				h.sink.OnInterceptorError(err)
			}
		}
	}()
}
