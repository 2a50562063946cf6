// ABOUTME: POST /v1/messages (fire-and-route) and POST /v1/requests (SendAndWait streamed as SSE) plus late-result polling.

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/agentfabric/internal/hub"
	"github.com/2389/agentfabric/internal/protocol"
)

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var msg protocol.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message body")
		return
	}

	if err := s.fabric.Hub.Route(&msg); err != nil {
		writeError(w, statusForRouteError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": msg.ID})
}

// sendAndWaitRequest is the JSON body for POST /v1/requests.
type sendAndWaitRequest struct {
	Message   protocol.Message `json:"message"`
	TimeoutMs int              `json:"timeoutMs"`
}

// handleSendAndWait streams a single terminal SSE event once SendAndWait
// resolves: "response" on a reply, "timeout" if the deadline elapses
// first, "error" if Route itself failed before the wait even began.
func (s *Server) handleSendAndWait(w http.ResponseWriter, r *http.Request) {
	var req sendAndWaitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	result, err := s.fabric.Hub.SendAndWait(r.Context(), &req.Message, timeout)
	if err != nil {
		writeSSE(w, flusher, "error", map[string]string{"error": err.Error()})
		return
	}

	switch result.Status {
	case hub.StatusCompleted:
		writeSSE(w, flusher, "response", result.Response)
	case hub.StatusTimedOut:
		writeSSE(w, flusher, "timeout", map[string]string{"requestId": result.RequestID, "status": "timeout"})
	default:
		writeSSE(w, flusher, "error", map[string]string{"requestId": result.RequestID, "status": string(result.Status)})
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte(`{"error":"failed to encode event"}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}

func (s *Server) handleCheckLateResult(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("id")
	result, found := s.fabric.Hub.CheckLateResult(requestID)
	if !found {
		writeError(w, http.StatusNotFound, "no pending or recently completed request with that id")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
