// ABOUTME: Maps the hub/registry error taxonomy onto HTTP status codes.

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/agentfabric/internal/hub"
	"github.com/2389/agentfabric/internal/registry"
)

// statusForRouteError implements the taxonomy mapping: UnknownReceiver ->
// 404, Backpressure -> 429, CollaborationLoop -> 409, AuthenticationFailure
// -> 403, InboxClosed -> 410, anything else -> 500.
func statusForRouteError(err error) int {
	switch {
	case errors.Is(err, hub.ErrUnknownReceiver):
		return http.StatusNotFound
	case errors.Is(err, hub.ErrCollaborationLoop):
		return http.StatusConflict
	case errors.Is(err, hub.ErrAuthenticationFailed):
		return http.StatusForbidden
	case errors.Is(err, hub.ErrInboxClosed):
		return http.StatusGone
	case errors.Is(err, hub.ErrBackpressure):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func statusForRegisterError(err error) int {
	switch {
	case errors.Is(err, registry.ErrAlreadyRegistered):
		return http.StatusConflict
	case errors.Is(err, registry.ErrNotVerified):
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
