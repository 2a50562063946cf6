// ABOUTME: Admin/Control API (C9): stdlib net/http + ServeMux exposing registration, routing, and discovery over JSON+SSE.
// ABOUTME: Every route except health checks and passkey login sits behind auth.RequireBearerAuth; agents never use this surface, only operators.

package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/2389/agentfabric/internal/auth"
	"github.com/2389/agentfabric/internal/fabric"
)

// Server wires a Fabric's collaborators to the HTTP surface described in
// the admin API. It holds no state of its own beyond routing.
type Server struct {
	fabric    *fabric.Fabric
	logger    *slog.Logger
	bootstrap *auth.Bootstrap // nil when WebAuthn passkey bootstrap is not configured
	mux       *http.ServeMux
}

// New builds a Server. tokens authenticates every route except the health
// checks and the passkey login begin/finish endpoints; bootstrap may be nil,
// in which case the passkey endpoints are omitted.
func New(f *fabric.Fabric, tokens auth.TokenVerifier, bootstrap *auth.Bootstrap, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{fabric: f, logger: logger.With("component", "httpapi"), bootstrap: bootstrap}

	operators := operatorLookup{store: f.Store}
	authMW := auth.RequireBearerAuth(operators, tokens)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	mux.Handle("POST /v1/agents", authMW(http.HandlerFunc(s.handleRegisterAgent)))
	mux.Handle("DELETE /v1/agents/{id}", authMW(http.HandlerFunc(s.handleUnregisterAgent)))
	mux.Handle("GET /v1/agents", authMW(http.HandlerFunc(s.handleListAgents)))
	mux.Handle("POST /v1/messages", authMW(http.HandlerFunc(s.handleSendMessage)))
	mux.Handle("POST /v1/requests", authMW(http.HandlerFunc(s.handleSendAndWait)))
	mux.Handle("GET /v1/requests/{id}", authMW(http.HandlerFunc(s.handleCheckLateResult)))

	if bootstrap != nil {
		mux.HandleFunc("POST /v1/auth/login/begin", bootstrap.LoginBeginHandler())
		mux.HandleFunc("POST /v1/auth/login/finish", bootstrap.LoginFinishHandler())
		mux.Handle("POST /v1/auth/register/begin", authMW(bootstrap.RegisterBeginHandler()))
		mux.Handle("POST /v1/auth/register/finish", authMW(bootstrap.RegisterFinishHandler()))
	}

	s.mux = mux
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz reports ready once the registry and hub exist, which they
// always do by the time a Server is constructed — kept distinct from
// healthz because a future readiness gate (e.g. "packs finished loading")
// has somewhere to attach without renaming the liveness route.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
