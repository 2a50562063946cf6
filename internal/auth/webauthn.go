// ABOUTME: WebAuthn/passkey bootstrap for the admin console, issuing the same JWTs the bearer middleware accepts
// ABOUTME: Backs registration and login challenges onto the operator/credential store

package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/2389/agentfabric/internal/store"
)

// webAuthnUser adapts a store.OperatorRecord and its credentials to the
// webauthn.User interface.
type webAuthnUser struct {
	op    store.OperatorRecord
	creds []store.WebAuthnCredentialRecord
}

func (u *webAuthnUser) WebAuthnID() []byte       { return []byte(u.op.ID) }
func (u *webAuthnUser) WebAuthnName() string     { return u.op.Username }
func (u *webAuthnUser) WebAuthnDisplayName() string {
	if u.op.DisplayName != "" {
		return u.op.DisplayName
	}
	return u.op.Username
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, len(u.creds))
	for i, c := range u.creds {
		out[i] = webauthn.Credential{
			ID:        c.CredentialID,
			PublicKey: c.PublicKey,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		}
		if c.Transports != "" {
			var transports []protocol.AuthenticatorTransport
			_ = json.Unmarshal([]byte(c.Transports), &transports)
			out[i].Transport = transports
		}
	}
	return out
}

// sessionStore holds in-flight WebAuthn registration/login challenges,
// keyed by a one-time token. An entry is removed when it is taken, and an
// expired entry is rejected at that point; entries never taken stay in the map.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]sessionEntry
}

type sessionEntry struct {
	data      *webauthn.SessionData
	expiresAt time.Time
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]sessionEntry)}
}

func (s *sessionStore) put(token string, data *webauthn.SessionData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = sessionEntry{data: data, expiresAt: time.Now().Add(5 * time.Minute)}
}

func (s *sessionStore) take(token string) (*webauthn.SessionData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[token]
	delete(s.sessions, token)
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.data, true
}

// Bootstrap issues and verifies passkey-based operator logins, and mints
// the JWTs the admin API's bearer middleware later accepts. One Bootstrap
// is constructed per fabricd process when auth.rp_id/rp_origin are set and
// a store is configured.
type Bootstrap struct {
	webauthn *webauthn.WebAuthn
	store    store.Store
	tokens   *JWTVerifier
	tokenTTL time.Duration
	sessions *sessionStore
}

// NewBootstrap constructs a passkey bootstrap bound to the given store and
// token issuer. rpID/rpOrigin follow the WebAuthn relying-party conventions
// (rpID is a bare hostname, rpOrigin a full origin URL).
func NewBootstrap(st store.Store, tokens *JWTVerifier, displayName, rpID, rpOrigin string) (*Bootstrap, error) {
	origins := []string{rpOrigin}
	if u, err := url.Parse(rpOrigin); err == nil && u.Host != "" {
		if u.Scheme == "https" {
			origins = append(origins, "http://"+u.Host)
		} else {
			origins = append(origins, "https://"+u.Host)
		}
	}

	w, err := webauthn.New(&webauthn.Config{
		RPDisplayName: displayName,
		RPID:          rpID,
		RPOrigins:     origins,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: initializing webauthn: %w", err)
	}

	return &Bootstrap{
		webauthn: w,
		store:    st,
		tokens:   tokens,
		tokenTTL: 24 * time.Hour,
		sessions: newSessionStore(),
	}, nil
}

// EnsureOperator creates the named operator account if it doesn't already
// exist, for the one-time console bootstrap flow. Idempotent.
func (b *Bootstrap) EnsureOperator(ctx context.Context, username, displayName string) (store.OperatorRecord, error) {
	existing, err := b.store.GetOperatorByUsername(ctx, username)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.OperatorRecord{}, err
	}

	op := store.OperatorRecord{ID: uuid.New().String(), Username: username, DisplayName: displayName, CreatedAt: time.Now().UTC()}
	if err := b.store.SaveOperator(ctx, op); err != nil {
		return store.OperatorRecord{}, err
	}
	return op, nil
}

// BeginRegistration starts passkey registration for an existing operator.
func (b *Bootstrap) BeginRegistration(ctx context.Context, operatorID string) (*protocol.CredentialCreation, string, error) {
	op, err := b.store.GetOperator(ctx, operatorID)
	if err != nil {
		return nil, "", err
	}
	creds, err := b.store.ListWebAuthnCredentialsByOperator(ctx, operatorID)
	if err != nil {
		return nil, "", err
	}

	options, session, err := b.webauthn.BeginRegistration(&webAuthnUser{op: op, creds: creds})
	if err != nil {
		return nil, "", fmt.Errorf("auth: begin registration: %w", err)
	}

	token := generateSessionToken()
	b.sessions.put(token, session)
	return options, token, nil
}

// FinishRegistration completes passkey registration, persisting the new credential.
func (b *Bootstrap) FinishRegistration(ctx context.Context, operatorID, sessionToken string, response []byte) error {
	op, err := b.store.GetOperator(ctx, operatorID)
	if err != nil {
		return err
	}
	session, ok := b.sessions.take(sessionToken)
	if !ok {
		return errors.New("auth: registration session expired or unknown")
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return fmt.Errorf("auth: parsing registration response: %w", err)
	}

	creds, err := b.store.ListWebAuthnCredentialsByOperator(ctx, operatorID)
	if err != nil {
		return err
	}

	credential, err := b.webauthn.CreateCredential(&webAuthnUser{op: op, creds: creds}, *session, parsed)
	if err != nil {
		return fmt.Errorf("auth: verifying credential: %w", err)
	}

	transportsJSON, _ := json.Marshal(credential.Transport)
	return b.store.SaveWebAuthnCredential(ctx, store.WebAuthnCredentialRecord{
		ID:              uuid.New().String(),
		OperatorID:      operatorID,
		CredentialID:    credential.ID,
		PublicKey:       credential.PublicKey,
		AttestationType: credential.AttestationType,
		Transports:      string(transportsJSON),
		SignCount:       credential.Authenticator.SignCount,
	})
}

// BeginLogin starts a discoverable-credential passkey login.
func (b *Bootstrap) BeginLogin(ctx context.Context) (*protocol.CredentialAssertion, string, error) {
	options, session, err := b.webauthn.BeginDiscoverableLogin()
	if err != nil {
		return nil, "", fmt.Errorf("auth: begin login: %w", err)
	}
	token := generateSessionToken()
	b.sessions.put(token, session)
	return options, token, nil
}

// FinishLogin validates the passkey assertion and issues a bearer JWT for
// the matched operator.
func (b *Bootstrap) FinishLogin(ctx context.Context, sessionToken string, response []byte) (string, error) {
	session, ok := b.sessions.take(sessionToken)
	if !ok {
		return "", errors.New("auth: login session expired or unknown")
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return "", fmt.Errorf("auth: parsing login response: %w", err)
	}

	storedCred, err := b.store.GetWebAuthnCredentialByCredentialID(ctx, parsed.RawID)
	if err != nil {
		return "", err
	}
	op, err := b.store.GetOperator(ctx, storedCred.OperatorID)
	if err != nil {
		return "", err
	}
	allCreds, err := b.store.ListWebAuthnCredentialsByOperator(ctx, op.ID)
	if err != nil {
		return "", err
	}
	waUser := &webAuthnUser{op: op, creds: allCreds}

	finder := func(rawID, userHandle []byte) (webauthn.User, error) {
		if len(userHandle) > 0 && string(userHandle) != op.ID {
			return nil, errors.New("auth: user handle mismatch")
		}
		return waUser, nil
	}

	credential, err := b.webauthn.ValidateDiscoverableLogin(finder, *session, parsed)
	if err != nil {
		return "", fmt.Errorf("auth: validating login: %w", err)
	}

	if err := b.store.UpdateWebAuthnCredentialSignCount(ctx, storedCred.ID, credential.Authenticator.SignCount); err != nil {
		return "", err
	}

	return b.tokens.Generate(op.ID, b.tokenTTL)
}

func generateSessionToken() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return uuid.New().String()
	}
	return fmt.Sprintf("%x", buf)
}

// The handlers below exist to wire Bootstrap into an http.ServeMux without
// duplicating its session bookkeeping at the httpapi layer.

// RegisterBeginHandler returns an http.HandlerFunc wrapping BeginRegistration
// for the already-authenticated operator in ctx.
func (b *Bootstrap) RegisterBeginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := FromContext(r.Context())
		if auth == nil {
			http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
			return
		}
		options, token, err := b.BeginRegistration(r.Context(), auth.OperatorID)
		if err != nil {
			http.Error(w, `{"error":"failed to start registration"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"options": options, "sessionToken": token})
	}
}

// RegisterFinishHandler returns an http.HandlerFunc wrapping FinishRegistration.
func (b *Bootstrap) RegisterFinishHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := FromContext(r.Context())
		if auth == nil {
			http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
			return
		}
		var body struct {
			SessionToken string          `json:"sessionToken"`
			Response     json.RawMessage `json:"response"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
			return
		}
		if err := b.FinishRegistration(r.Context(), auth.OperatorID, body.SessionToken, body.Response); err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

// LoginBeginHandler returns an http.HandlerFunc wrapping BeginLogin. No auth required — this is how a session starts.
func (b *Bootstrap) LoginBeginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		options, token, err := b.BeginLogin(r.Context())
		if err != nil {
			http.Error(w, `{"error":"failed to start login"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"options": options, "sessionToken": token})
	}
}

// LoginFinishHandler returns an http.HandlerFunc wrapping FinishLogin, responding with the issued bearer token.
func (b *Bootstrap) LoginFinishHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SessionToken string          `json:"sessionToken"`
			Response     json.RawMessage `json:"response"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
			return
		}
		token, err := b.FinishLogin(r.Context(), body.SessionToken, body.Response)
		if err != nil {
			http.Error(w, `{"error":"authentication failed"}`, http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]string{"token": token})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
