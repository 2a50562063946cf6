package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/2389/agentfabric/internal/auth"
	"github.com/2389/agentfabric/internal/config"
	"github.com/2389/agentfabric/internal/fabric"
	"github.com/2389/agentfabric/internal/store"
)

func newTestServer(t *testing.T) (*Server, *client, string) {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Auth:   config.AuthConfig{JWTSecret: "test-secret"},
	}
	config.Defaults(cfg)
	cfg.Agents.LivenessTimeout = 90 * time.Second
	cfg.Hub.LateResultRetention = 15 * time.Minute
	cfg.Hub.DedupeTTL = 5 * time.Minute
	cfg.Rate.CooldownBackoff = 30 * time.Second
	cfg.Database.Path = filepath.Join(t.TempDir(), "fabric.db")

	f, err := fabric.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("fabric.New() error = %v", err)
	}
	t.Cleanup(func() { f.Shutdown(context.Background()) })

	tokens := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	op := store.OperatorRecord{ID: "op-1", Username: "root", CreatedAt: time.Now()}
	if err := f.Store.SaveOperator(context.Background(), op); err != nil {
		t.Fatalf("SaveOperator() error = %v", err)
	}
	token, err := tokens.Generate(op.ID, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	s := New(f, tokens, nil, nil)
	return s, &client{}, token
}

// client is a minimal request helper for exercising the Server handler
// directly via httptest, without a listening socket.
type client struct{}

func (c *client) do(t *testing.T, s *Server, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec.Result()
}

func generateSSHIdentity(t *testing.T) (ssh.Signer, []byte) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("wrapping signer: %v", err)
	}
	return signer, signer.PublicKey().Marshal()
}

func TestHandleRegisterAgent_ValidProof(t *testing.T) {
	s, c, token := newTestServer(t)

	signer, pubBytes := generateSSHIdentity(t)
	sum := sha256.Sum256(pubBytes)
	did := "did:fabric:" + hex.EncodeToString(sum[:])
	sig, err := signer.Sign(rand.Reader, []byte(did))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	proof := ssh.Marshal(sig)

	req := registerAgentRequest{
		AgentID:   "agent-a",
		PublicKey: base64.StdEncoding.EncodeToString(pubBytes),
		Proof:     base64.StdEncoding.EncodeToString(proof),
		AgentType: "tool",
	}

	resp := c.do(t, s, http.MethodPost, "/v1/agents", token, req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
}

func TestHandleRegisterAgent_BadProofRejected(t *testing.T) {
	s, c, token := newTestServer(t)

	_, pubBytes := generateSSHIdentity(t)
	req := registerAgentRequest{
		AgentID:   "agent-b",
		PublicKey: base64.StdEncoding.EncodeToString(pubBytes),
		Proof:     base64.StdEncoding.EncodeToString([]byte("not-a-real-signature")),
		AgentType: "tool",
	}

	resp := c.do(t, s, http.MethodPost, "/v1/agents", token, req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHandleRegisterAgent_NoBearerToken(t *testing.T) {
	s, c, _ := newTestServer(t)

	resp := c.do(t, s, http.MethodPost, "/v1/agents", "", registerAgentRequest{AgentID: "x"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHandleListAgents_EmptyRegistry(t *testing.T) {
	s, c, token := newTestServer(t)

	resp := c.do(t, s, http.MethodGet, "/v1/agents", token, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out []agentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("agents = %v, want empty", out)
	}
}

func TestHandleUnregisterAgent_Unknown(t *testing.T) {
	s, c, token := newTestServer(t)

	resp := c.do(t, s, http.MethodDelete, "/v1/agents/does-not-exist", token, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204 (unregister is idempotent)", resp.StatusCode)
	}
}
