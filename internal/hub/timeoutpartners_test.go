// ABOUTME: Unit tests for the per-requester timeout-partner cooldown table.

package hub

import (
	"context"
	"testing"
	"time"

	"github.com/2389/agentfabric/internal/protocol"
)

func TestTimeoutPartnerTable_RecordAndInCooldown(t *testing.T) {
	tbl := newTimeoutPartnerTable(time.Minute)

	if tbl.inCooldown("a", "b") {
		t.Fatal("inCooldown() = true before any record, want false")
	}

	tbl.record("a", "b")
	if !tbl.inCooldown("a", "b") {
		t.Fatal("inCooldown() = false after record, want true")
	}

	// Cooldown is per-requester: c never timed out against b.
	if tbl.inCooldown("c", "b") {
		t.Fatal("inCooldown(c, b) = true, want false — c never recorded a timeout against b")
	}
}

func TestTimeoutPartnerTable_ExpiresAfterTTL(t *testing.T) {
	tbl := newTimeoutPartnerTable(10 * time.Millisecond)
	tbl.record("a", "b")

	time.Sleep(30 * time.Millisecond)

	if tbl.inCooldown("a", "b") {
		t.Fatal("inCooldown() = true after TTL elapsed, want false")
	}
}

func TestHub_InCooldownWith_AfterSendAndWaitTimeout(t *testing.T) {
	h, agents := newHubWithAgents(t, 8, "a", "b")

	req := protocol.New("a", "b", "do it", protocol.TypeRequestCollaboration)
	req.Metadata.RequestID = "req-cooldown"
	req.Metadata.Custom["capability"] = "summarize"
	signedReq, err := protocol.Sign(req, agents["a"].ide)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	result, err := h.SendAndWait(context.Background(), signedReq, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("SendAndWait() error = %v", err)
	}
	if result.Status != StatusTimedOut {
		t.Fatalf("status = %v, want TIMED_OUT", result.Status)
	}

	if !h.InCooldownWith("a", "b") {
		t.Fatal("InCooldownWith(a, b) = false after a's SendAndWait timed out on b, want true")
	}
	if h.InCooldownWith("b", "a") {
		t.Fatal("InCooldownWith(b, a) = true, want false — b never sent a request that timed out")
	}
}
