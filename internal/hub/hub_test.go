// ABOUTME: End-to-end hub tests covering timeout/late-delivery,
// ABOUTME: collaboration loop rejection, and inbox backpressure with FIFO preservation.

package hub

import (
	"context"
	"testing"
	"time"

	"github.com/2389/agentfabric/internal/identity"
	"github.com/2389/agentfabric/internal/protocol"
	"github.com/2389/agentfabric/internal/registry"
)

type testAgent struct {
	id  string
	ide *identity.Identity
}

func newTestAgent(t *testing.T, id string) testAgent {
	t.Helper()
	ide, err := identity.CreateKeyBased()
	if err != nil {
		t.Fatalf("CreateKeyBased() error = %v", err)
	}
	return testAgent{id: id, ide: ide}
}

func newHubWithAgents(t *testing.T, capacity int, ids ...string) (*Hub, map[string]testAgent) {
	t.Helper()
	reg := registry.New(registry.Config{})
	h := New(reg, Config{InboxCapacity: capacity})
	t.Cleanup(h.Stop)

	agents := make(map[string]testAgent)
	for _, id := range ids {
		a := newTestAgent(t, id)
		err := h.RegisterAgent(context.Background(), registry.AgentRegistration{
			AgentMetadata: registry.AgentMetadata{AgentID: id, AgentType: registry.AgentTypeAI},
			Identity:      a.ide,
			RegisteredAt:  time.Now(),
		})
		if err != nil {
			t.Fatalf("RegisterAgent(%s) error = %v", id, err)
		}
		agents[id] = a
	}
	return h, agents
}

func signedMsg(t *testing.T, a testAgent, to, content string, typ protocol.MessageType) *protocol.Message {
	t.Helper()
	m := protocol.New(a.id, to, content, typ)
	signed, err := protocol.Sign(m, a.ide)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return signed
}

func TestRoute_UnknownReceiver(t *testing.T) {
	h, agents := newHubWithAgents(t, 8, "a")
	msg := signedMsg(t, agents["a"], "ghost", "hi", protocol.TypeText)

	err := h.Route(msg)
	if err == nil {
		t.Fatal("expected error for unknown receiver")
	}

	inbox, _ := h.Inbox("a")
	got, rerr := inbox.Receive(context.Background())
	if rerr != nil {
		t.Fatalf("Receive() error = %v", rerr)
	}
	if got.Type != protocol.TypeError {
		t.Fatalf("expected ERROR reply to sender, got %v", got.Type)
	}
}

func TestRoute_SignatureFailureDropsAndNotifies(t *testing.T) {
	h, agents := newHubWithAgents(t, 8, "a", "b")
	msg := signedMsg(t, agents["a"], "b", "hi", protocol.TypeText)
	msg.Content = "tampered" // invalidates the signature without re-signing

	if err := h.Route(msg); err == nil {
		t.Fatal("expected authentication failure error")
	}

	inbox, _ := h.Inbox("a")
	got, _ := inbox.Receive(context.Background())
	if got.Type != protocol.TypeError {
		t.Fatalf("expected ERROR reply to sender, got %v", got.Type)
	}

	bInbox, _ := h.Inbox("b")
	if bInbox.Len() != 0 {
		t.Fatal("tampered message must never reach the receiver's inbox")
	}
}

func TestRoute_ValidMessageDelivered(t *testing.T) {
	h, agents := newHubWithAgents(t, 8, "a", "b")
	msg := signedMsg(t, agents["a"], "b", "hello", protocol.TypeText)

	if err := h.Route(msg); err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	inbox, _ := h.Inbox("b")
	got, err := inbox.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if got.Content != "hello" {
		t.Fatalf("Content = %q, want %q", got.Content, "hello")
	}
}

func TestSendAndWait_TimeoutThenLateDelivery(t *testing.T) {
	h, agents := newHubWithAgents(t, 8, "a", "b")

	req := protocol.New("a", "b", "do it", protocol.TypeRequestCollaboration)
	req.Metadata.RequestID = "req-1"
	req.Metadata.Custom["capability"] = "summarize"
	signedReq, err := protocol.Sign(req, agents["a"].ide)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	result, err := h.SendAndWait(context.Background(), signedReq, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("SendAndWait() error = %v", err)
	}
	if result.Status != StatusTimedOut {
		t.Fatalf("status = %v, want TIMED_OUT", result.Status)
	}

	// B "replies" after the deadline already passed.
	resp := protocol.New("b", "a", "done", protocol.TypeResponseCollaboration)
	resp.Metadata.RequestID = "req-1"
	signedResp, err := protocol.Sign(resp, agents["b"].ide)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if err := h.Route(signedResp); err != nil {
		t.Fatalf("Route(late response) error = %v", err)
	}

	late, ok := h.CheckLateResult("req-1")
	if !ok {
		t.Fatal("CheckLateResult() = not found, want present")
	}
	if late.Status != StatusLateReceived {
		t.Fatalf("late.Status = %v, want LATE_RECEIVED", late.Status)
	}
	if late.Response == nil || late.Response.Content != "done" {
		t.Fatalf("late.Response = %v, want content %q", late.Response, "done")
	}
}

func TestCollaborationLoop_Rejected(t *testing.T) {
	h, agents := newHubWithAgents(t, 8, "a", "b", "c")

	// A -> B: hub appends A to the chain.
	ab := protocol.New("a", "b", "go", protocol.TypeRequestCollaboration)
	ab.Metadata.RequestID = "r1"
	ab.Metadata.Custom["capability"] = "x"
	signedAB, _ := protocol.Sign(ab, agents["a"].ide)
	if err := h.Route(signedAB); err != nil {
		t.Fatalf("Route(A->B) error = %v", err)
	}
	bInbox, _ := h.Inbox("b")
	delivered, _ := bInbox.Receive(context.Background())
	if len(delivered.Metadata.CollaborationChain) != 1 || delivered.Metadata.CollaborationChain[0] != "a" {
		t.Fatalf("chain at B = %v, want [a]", delivered.Metadata.CollaborationChain)
	}

	// B -> C, carrying the chain forward: hub appends B.
	bc := protocol.New("b", "c", "go", protocol.TypeRequestCollaboration).WithCollaborationChain(delivered.Metadata.CollaborationChain)
	bc.Metadata.RequestID = "r2"
	bc.Metadata.Custom["capability"] = "x"
	signedBC, _ := protocol.Sign(bc, agents["b"].ide)
	if err := h.Route(signedBC); err != nil {
		t.Fatalf("Route(B->C) error = %v", err)
	}
	cInbox, _ := h.Inbox("c")
	delivered2, _ := cInbox.Receive(context.Background())
	if len(delivered2.Metadata.CollaborationChain) != 2 {
		t.Fatalf("chain at C = %v, want length 2", delivered2.Metadata.CollaborationChain)
	}

	// C -> A, with A already in the chain: must be rejected.
	ca := protocol.New("c", "a", "go", protocol.TypeRequestCollaboration).WithCollaborationChain(delivered2.Metadata.CollaborationChain)
	ca.Metadata.RequestID = "r3"
	ca.Metadata.Custom["capability"] = "x"
	signedCA, _ := protocol.Sign(ca, agents["c"].ide)
	if err := h.Route(signedCA); err == nil {
		t.Fatal("expected CollaborationLoop rejection")
	}

	aInbox, _ := h.Inbox("a")
	if aInbox.Len() != 0 {
		t.Fatal("A must never receive the looped collaboration request")
	}
}

func TestBackpressure_FullInboxThenRecovers(t *testing.T) {
	h, agents := newHubWithAgents(t, 2, "a", "b")

	send := func(content string) error {
		return h.Route(signedMsg(t, agents["a"], "b", content, protocol.TypeText))
	}

	if err := send("1"); err != nil {
		t.Fatalf("send(1) error = %v", err)
	}
	if err := send("2"); err != nil {
		t.Fatalf("send(2) error = %v", err)
	}
	if err := send("3"); err != ErrBackpressure {
		t.Fatalf("send(3) error = %v, want ErrBackpressure", err)
	}

	bInbox, _ := h.Inbox("b")
	first, _ := bInbox.Receive(context.Background())
	if first.Content != "1" {
		t.Fatalf("first.Content = %q, want %q", first.Content, "1")
	}

	if err := send("4"); err != nil {
		t.Fatalf("send(4) after drain error = %v", err)
	}

	second, _ := bInbox.Receive(context.Background())
	third, _ := bInbox.Receive(context.Background())
	if second.Content != "2" || third.Content != "4" {
		t.Fatalf("FIFO order violated: got %q, %q", second.Content, third.Content)
	}
}

func TestUnregisterAgent_DrainsInboxWithShutdownError(t *testing.T) {
	h, agents := newHubWithAgents(t, 8, "a", "b")

	if err := h.Route(signedMsg(t, agents["a"], "b", "hi", protocol.TypeText)); err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	if err := h.UnregisterAgent(context.Background(), "b"); err != nil {
		t.Fatalf("UnregisterAgent() error = %v", err)
	}

	aInbox, _ := h.Inbox("a")
	notice, err := aInbox.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if notice.Type != protocol.TypeError {
		t.Fatalf("expected shutdown ERROR notice, got %v", notice.Type)
	}
}
