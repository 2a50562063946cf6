// ABOUTME: Tests for the registry's registration lifecycle, exact/semantic lookup, and liveness.

package registry

import (
	"context"
	"testing"
	"time"

	"github.com/2389/agentfabric/internal/capindex"
	"github.com/2389/agentfabric/internal/identity"
)

func mustIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.CreateKeyBased()
	if err != nil {
		t.Fatalf("CreateKeyBased() error = %v", err)
	}
	return id
}

func reg(t *testing.T, agentID string, caps ...capindex.Capability) AgentRegistration {
	t.Helper()
	return AgentRegistration{
		AgentMetadata: AgentMetadata{
			AgentID:      agentID,
			AgentType:    AgentTypeAI,
			Capabilities: caps,
		},
		Identity:     mustIdentity(t),
		RegisteredAt: time.Now(),
	}
}

func TestRegister_DuplicateRejected(t *testing.T) {
	r := New(Config{})
	ctx := context.Background()
	a := reg(t, "agent-a")

	if err := r.Register(ctx, a); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := r.Register(ctx, a); err != ErrAlreadyRegistered {
		t.Fatalf("second Register() error = %v, want ErrAlreadyRegistered", err)
	}
}

func TestRegister_UnverifiedRejected(t *testing.T) {
	r := New(Config{})
	a := reg(t, "agent-a")
	a.Identity.Verified = false

	if err := r.Register(context.Background(), a); err != ErrNotVerified {
		t.Fatalf("Register() error = %v, want ErrNotVerified", err)
	}
}

func TestRegisterUnregisterRegister_Idempotent(t *testing.T) {
	r := New(Config{})
	ctx := context.Background()
	a := reg(t, "agent-a", capindex.Capability{Name: "summarize", Description: "shorten text"})

	if err := r.Register(ctx, a); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Unregister(ctx, "agent-a"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if err := r.Unregister(ctx, "agent-a"); err != nil {
		t.Fatalf("second Unregister() error = %v, want nil (idempotent)", err)
	}
	if err := r.Register(ctx, a); err != nil {
		t.Fatalf("re-Register() error = %v", err)
	}

	got := r.GetByCapability("summarize")
	if len(got) != 1 || got[0].AgentID != "agent-a" {
		t.Fatalf("GetByCapability() = %v, want exactly agent-a", got)
	}
}

func TestGetByCapability_ExactMatch(t *testing.T) {
	r := New(Config{})
	ctx := context.Background()

	must(t, r.Register(ctx, reg(t, "r1", capindex.Capability{Name: "summarize", Description: "shorten text"})))
	must(t, r.Register(ctx, reg(t, "r2", capindex.Capability{Name: "translate", Description: "translate text"})))

	got := r.GetByCapability("summarize")
	if len(got) != 1 || got[0].AgentID != "r1" {
		t.Fatalf("GetByCapability(summarize) = %v, want [r1]", got)
	}
	if got := r.GetByCapability("nope"); len(got) != 0 {
		t.Fatalf("GetByCapability(nope) = %v, want empty", got)
	}
}

func TestGetByCapabilityDescription_DegradedMode(t *testing.T) {
	r := New(Config{})
	ctx := context.Background()

	must(t, r.Register(ctx, reg(t, "r1", capindex.Capability{
		Name:        "summarize",
		Description: "produce concise summaries of long text",
	})))
	must(t, r.Register(ctx, reg(t, "r2", capindex.Capability{
		Name:        "translate",
		Description: "translate between English and Spanish",
	})))

	results, err := r.GetByCapabilityDescription(ctx, "shorten a document", DiscoveryOptions{Limit: 2})
	if err != nil {
		t.Fatalf("GetByCapabilityDescription() error = %v", err)
	}
	if len(results) == 0 || results[0].Registration.AgentID != "r1" {
		t.Fatalf("results = %v, want r1 first", results)
	}
	if len(results) == 2 && results[0].Score <= results[1].Score {
		t.Fatalf("expected r1's score to exceed r2's: %v", results)
	}
}

func TestGetByCapabilityDescription_ExcludesRequester(t *testing.T) {
	r := New(Config{})
	ctx := context.Background()
	must(t, r.Register(ctx, reg(t, "r1", capindex.Capability{Name: "summarize", Description: "summarize text"})))

	results, err := r.GetByCapabilityDescription(ctx, "summarize text", DiscoveryOptions{
		Limit:          5,
		ExcludeAgentID: "r1",
	})
	if err != nil {
		t.Fatalf("GetByCapabilityDescription() error = %v", err)
	}
	for _, res := range results {
		if res.Registration.AgentID == "r1" {
			t.Fatalf("result set included excluded requester: %v", results)
		}
	}
}

func TestGetByOrganization(t *testing.T) {
	r := New(Config{})
	ctx := context.Background()

	a := reg(t, "a")
	a.OrganizationID = "org1"
	b := reg(t, "b")
	b.OrganizationID = "org1"
	c := reg(t, "c")
	c.OrganizationID = "org2"

	must(t, r.Register(ctx, a))
	must(t, r.Register(ctx, b))
	must(t, r.Register(ctx, c))

	got := r.GetByOrganization("org1")
	if len(got) != 2 {
		t.Fatalf("GetByOrganization(org1) = %v, want 2 entries", got)
	}
}

func TestIsActive_LivenessTimeout(t *testing.T) {
	r := New(Config{LivenessTimeout: 10 * time.Millisecond})
	ctx := context.Background()
	must(t, r.Register(ctx, reg(t, "a")))

	if !r.IsActive("a") {
		t.Fatal("expected freshly registered agent to be active")
	}
	time.Sleep(20 * time.Millisecond)
	if r.IsActive("a") {
		t.Fatal("expected agent to go inactive after liveness timeout")
	}

	r.Touch("a")
	if !r.IsActive("a") {
		t.Fatal("expected Touch to restore active status")
	}
}

func TestGet_NotFound(t *testing.T) {
	r := New(Config{})
	if _, err := r.Get("ghost"); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
