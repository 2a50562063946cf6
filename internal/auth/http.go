// ABOUTME: HTTP middleware for JWT authentication on the admin API
// ABOUTME: Extracts the bearer token from the Authorization header and attaches the operator to context

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/2389/agentfabric/internal/store"
)

// OperatorLookup resolves an operator id to its record. Satisfied by
// store.Store; kept as its own narrow interface so middleware tests don't
// need a full Store.
type OperatorLookup interface {
	GetOperator(ctx context.Context, id string) (store.OperatorRecord, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequireBearerAuth creates HTTP middleware that extracts and validates a
// bearer JWT, resolves the operator it names, and attaches an AuthContext
// to the request. Every non-health admin API route is wrapped in this.
func RequireBearerAuth(operators OperatorLookup, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeAuthError(w, http.StatusUnauthorized, errMsg)
				return
			}

			operatorID, err := verifier.Verify(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			op, err := operators.GetOperator(r.Context(), operatorID)
			if err != nil {
				writeAuthError(w, http.StatusForbidden, "unknown operator")
				return
			}

			authCtx := &AuthContext{OperatorID: op.ID, Username: op.Username}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
