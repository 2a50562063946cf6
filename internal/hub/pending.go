// ABOUTME: Striped map of in-flight directed requests, with a janitor evicting late-retention-expired entries.
// ABOUTME: Uses the same TTL-map-plus-background-ticker shape as internal/dedupe.Cache.

package hub

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/2389/agentfabric/internal/protocol"
)

// Status is the terminal (or pending) state of a PendingRequest.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusCompleted    Status = "COMPLETED"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusFailed       Status = "FAILED"
	StatusLateReceived Status = "LATE_RECEIVED"
)

// PendingRequest is the hub-side record tracking a directed request
// awaiting a matching response.
type PendingRequest struct {
	RequestID  string
	RequesterID string
	TargetID   string
	Deadline   time.Time
	CreatedAt  time.Time

	mu       sync.Mutex
	status   Status
	response *protocol.Message
	done     chan struct{} // closed exactly once, on the first terminal transition
}

func newPendingRequest(requestID, requesterID, targetID string, deadline time.Time) *PendingRequest {
	return &PendingRequest{
		RequestID:   requestID,
		RequesterID: requesterID,
		TargetID:    targetID,
		Deadline:    deadline,
		CreatedAt:   time.Now(),
		status:      StatusPending,
		done:        make(chan struct{}),
	}
}

// Snapshot is a point-in-time, lock-free view of a PendingRequest.
type Snapshot struct {
	Status   Status
	Response *protocol.Message
}

func (p *PendingRequest) snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{Status: p.status, Response: p.response}
}

// complete transitions a PENDING request to COMPLETED with resp, or — if
// it already timed out — to LATE_RECEIVED while still recording resp for
// the retention window. Returns the status observed so the caller can
// decide whether to wake a waiter.
func (p *PendingRequest) complete(resp *protocol.Message) Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case StatusPending:
		p.status = StatusCompleted
		p.response = resp
		close(p.done)
		return StatusCompleted
	case StatusTimedOut:
		p.status = StatusLateReceived
		p.response = resp
		return StatusLateReceived
	default:
		return p.status
	}
}

// timeout transitions a PENDING request to TIMED_OUT. No-op once already
// terminal (a response may have beaten the timeout to the lock).
func (p *PendingRequest) timeout() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusPending {
		return p.status
	}
	p.status = StatusTimedOut
	close(p.done)
	return StatusTimedOut
}

// cancel transitions a PENDING request to FAILED (used for hub shutdown
// and target unregistration).
func (p *PendingRequest) cancel() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusPending {
		return p.status
	}
	p.status = StatusFailed
	close(p.done)
	return StatusFailed
}

const stripeCount = 32

// pendingTable is a striped map of PendingRequests, sharded by a hash of
// requestID, so hub-wide contention doesn't serialize every in-flight
// request.
type pendingTable struct {
	shards    [stripeCount]*pendingShard
	retention time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

type pendingShard struct {
	mu      sync.Mutex
	entries map[string]*PendingRequest
}

func newPendingTable(retention time.Duration) *pendingTable {
	if retention <= 0 {
		retention = 15 * time.Minute
	}
	t := &pendingTable{retention: retention, stop: make(chan struct{})}
	for i := range t.shards {
		t.shards[i] = &pendingShard{entries: make(map[string]*PendingRequest)}
	}
	t.wg.Add(1)
	go t.janitor()
	return t
}

func (t *pendingTable) shardFor(requestID string) *pendingShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(requestID))
	return t.shards[h.Sum32()%stripeCount]
}

func (t *pendingTable) create(requestID, requesterID, targetID string, deadline time.Time) *PendingRequest {
	shard := t.shardFor(requestID)
	p := newPendingRequest(requestID, requesterID, targetID, deadline)
	shard.mu.Lock()
	shard.entries[requestID] = p
	shard.mu.Unlock()
	return p
}

func (t *pendingTable) get(requestID string) (*PendingRequest, bool) {
	shard := t.shardFor(requestID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	p, ok := shard.entries[requestID]
	return p, ok
}

// cancelFor transitions to FAILED every pending request matching pred,
// used when an agent unregisters.
func (t *pendingTable) cancelFor(pred func(*PendingRequest) bool) {
	for _, shard := range t.shards {
		shard.mu.Lock()
		for _, p := range shard.entries {
			if pred(p) {
				p.cancel()
			}
		}
		shard.mu.Unlock()
	}
}

func (t *pendingTable) janitor() {
	defer t.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.evictExpired()
		case <-t.stop:
			return
		}
	}
}

func (t *pendingTable) evictExpired() {
	now := time.Now()
	for _, shard := range t.shards {
		shard.mu.Lock()
		for id, p := range shard.entries {
			snap := p.snapshot()
			terminal := snap.Status == StatusCompleted || snap.Status == StatusTimedOut ||
				snap.Status == StatusFailed || snap.Status == StatusLateReceived
			if terminal && now.Sub(p.Deadline) > t.retention {
				delete(shard.entries, id)
			}
		}
		shard.mu.Unlock()
	}
}

func (t *pendingTable) close() {
	close(t.stop)
	t.wg.Wait()
}
