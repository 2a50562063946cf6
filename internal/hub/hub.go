// ABOUTME: Communication hub (C5): routing, interceptors, request/response correlation, collaboration-chain tracking.
// ABOUTME: The hub is the sole authority for appending to a message's collaboration chain.

package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/agentfabric/internal/dedupe"
	"github.com/2389/agentfabric/internal/identity"
	"github.com/2389/agentfabric/internal/protocol"
	"github.com/2389/agentfabric/internal/registry"
)

// Sentinel errors from the routing algorithm.
var (
	ErrUnknownReceiver      = errors.New("hub: unknown receiver")
	ErrAuthenticationFailed = errors.New("hub: authentication failure")
	ErrCollaborationLoop    = errors.New("hub: collaboration loop detected")
	ErrHubShutdown          = errors.New("hub: shutdown in progress")
)

// InterceptorFunc observes a routed message. It must not mutate msg and
// errors are logged, never propagated to the routing critical path.
type InterceptorFunc func(msg *protocol.Message) error

// Config controls Hub construction.
type Config struct {
	InboxCapacity          int           // default 128
	LateResultRetain       time.Duration // default 15m
	DedupeTTL              time.Duration // default 5m
	DedupeMaxEntries       int           // default 100_000
	TimeoutPartnerCooldown time.Duration // default 5m
	Sink                   Sink
	Logger                 *slog.Logger
}

// Hub is the single point through which all inter-agent messages flow
// (C5). It authenticates, routes, correlates, and logs — it never
// synthesizes message content.
type Hub struct {
	registry *registry.Registry
	sink     Sink
	logger   *slog.Logger

	inboxCapacity int

	mu      sync.RWMutex
	inboxes map[string]*Inbox
	stopped bool

	interceptMu       sync.RWMutex
	globalInterceptors map[int]InterceptorFunc
	agentInterceptors  map[string]map[int]InterceptorFunc
	nextInterceptorID  int

	pending         *pendingTable
	seen            *dedupe.Cache
	timeoutPartners *timeoutPartnerTable

	interceptWG sync.WaitGroup
}

// New builds a Hub wrapping reg.
func New(reg *registry.Registry, cfg Config) *Hub {
	if cfg.InboxCapacity <= 0 {
		cfg.InboxCapacity = 128
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 5 * time.Minute
	}
	if cfg.DedupeMaxEntries <= 0 {
		cfg.DedupeMaxEntries = 100_000
	}
	if cfg.Sink == nil {
		cfg.Sink = NoopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Hub{
		registry:           reg,
		sink:               cfg.Sink,
		logger:             cfg.Logger.With("component", "hub"),
		inboxCapacity:      cfg.InboxCapacity,
		inboxes:            make(map[string]*Inbox),
		globalInterceptors: make(map[int]InterceptorFunc),
		agentInterceptors:  make(map[string]map[int]InterceptorFunc),
		pending:            newPendingTable(cfg.LateResultRetain),
		seen:               dedupe.New(cfg.DedupeTTL, cfg.DedupeMaxEntries),
		timeoutPartners:    newTimeoutPartnerTable(cfg.TimeoutPartnerCooldown),
	}
}

// InCooldownWith reports whether targetID timed out on a SendAndWait
// requesterID issued against it recently enough to still be excluded from
// requesterID's capability-description discovery results.
func (h *Hub) InCooldownWith(requesterID, targetID string) bool {
	return h.timeoutPartners.inCooldown(requesterID, targetID)
}

// RegisterAgent wraps Registry.Register and wires an inbox channel for
// the newly registered agent.
func (h *Hub) RegisterAgent(ctx context.Context, reg registry.AgentRegistration) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return ErrHubShutdown
	}
	h.mu.Unlock()

	if err := h.registry.Register(ctx, reg); err != nil {
		return err
	}

	h.mu.Lock()
	h.inboxes[reg.AgentID] = NewInbox(h.inboxCapacity)
	h.mu.Unlock()
	return nil
}

// UnregisterAgent drains the agent's inbox (notifying each pending sender
// with an ERROR AgentShuttingDown), cancels its in-flight pending
// requests, and removes it from the Registry.
func (h *Hub) UnregisterAgent(ctx context.Context, agentID string) error {
	h.mu.Lock()
	ib, ok := h.inboxes[agentID]
	delete(h.inboxes, agentID)
	h.mu.Unlock()

	if ok {
		for _, queued := range ib.Drain() {
			h.notifySenderError(queued.SenderID, queued.ID, "AgentShuttingDown")
		}
	}

	h.pending.cancelFor(func(p *PendingRequest) bool {
		return p.RequesterID == agentID || p.TargetID == agentID
	})

	h.interceptMu.Lock()
	delete(h.agentInterceptors, agentID)
	h.interceptMu.Unlock()

	return h.registry.Unregister(ctx, agentID)
}

// Route is the synchronous entry point: verify signature, look up the
// receiver, enqueue into its inbox, fan out to interceptors, and resolve
// any matching PendingRequest. It returns as soon as enqueue succeeds or
// fails — downstream processing is asynchronous.
func (h *Hub) Route(msg *protocol.Message) error {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return ErrHubShutdown
	}

	if h.seen.CheckAndMark("msg:" + msg.ID) {
		return nil // already routed once; defensive idempotency against retried sends
	}

	receiverInbox, knownReceiver := h.lookupInbox(msg.ReceiverID)
	if !knownReceiver {
		h.notifySenderError(msg.SenderID, msg.ID, "UnknownReceiver")
		return fmt.Errorf("%w: %s", ErrUnknownReceiver, msg.ReceiverID)
	}

	senderIdentity, ok := h.registry.GetIdentity(msg.SenderID)
	if !ok || !protocol.VerifySignature(msg, senderIdentity) {
		h.notifySenderError(msg.SenderID, msg.ID, "AuthenticationFailure")
		return fmt.Errorf("%w: sender %s", ErrAuthenticationFailed, msg.SenderID)
	}

	toRoute := msg
	if msg.Type == protocol.TypeRequestCollaboration {
		for _, id := range msg.Metadata.CollaborationChain {
			if id == msg.ReceiverID {
				h.notifySenderError(msg.SenderID, msg.ID, "CollaborationLoop")
				return fmt.Errorf("%w: %s", ErrCollaborationLoop, msg.ReceiverID)
			}
		}
		chain := append(append([]string(nil), msg.Metadata.CollaborationChain...), msg.SenderID)
		toRoute = msg.WithCollaborationChain(chain)
	}

	if err := receiverInbox.Enqueue(toRoute); err != nil {
		h.logger.Warn("backpressure dropped message", "receiver", msg.ReceiverID, "message_id", msg.ID)
		return err
	}

	h.registry.Touch(msg.SenderID)
	h.registry.Touch(msg.ReceiverID)

	h.dispatchInterceptors(toRoute)
	h.sink.OnRouted(toRoute)

	h.resolvePending(toRoute)
	return nil
}

// resolvePending closes out a PendingRequest if msg is a RESPONSE-family
// message carrying a matching requestId.
func (h *Hub) resolvePending(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeResponse, protocol.TypeResponseCollaboration, protocol.TypeError:
	default:
		return
	}
	reqID := msg.Metadata.RequestID
	if reqID == "" {
		return
	}
	p, ok := h.pending.get(reqID)
	if !ok {
		return
	}
	status := p.complete(msg)
	if status == StatusLateReceived {
		h.sink.OnLateResponse(reqID)
	}
}

// lookupInbox returns the receiver's inbox, if registered.
func (h *Hub) lookupInbox(agentID string) (*Inbox, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ib, ok := h.inboxes[agentID]
	return ib, ok
}

// notifySenderError routes a best-effort ERROR reply back to sender. It
// does not itself go through Route (avoiding recursive auth/loop checks)
// — it is a direct enqueue into the sender's inbox, unsigned since it
// originates from the hub itself rather than a peer agent.
func (h *Hub) notifySenderError(senderID, inReplyTo, reason string) {
	ib, ok := h.lookupInbox(senderID)
	if !ok {
		return
	}
	errMsg := protocol.New("hub", senderID, reason, protocol.TypeError)
	errMsg.Metadata.Custom["inReplyTo"] = inReplyTo
	errMsg.Metadata.Custom["reason"] = reason
	_ = ib.Enqueue(errMsg)
}

// Inbox returns the agent's inbox, for the runtime loop to Receive from.
func (h *Hub) Inbox(agentID string) (*Inbox, bool) {
	return h.lookupInbox(agentID)
}

// SignAndRoute is a convenience helper: signs msg with id, then routes it.
func (h *Hub) SignAndRoute(msg *protocol.Message, id *identity.Identity) error {
	signed, err := protocol.Sign(msg, id)
	if err != nil {
		return err
	}
	return h.Route(signed)
}

// Stop halts new Register/Route calls, cancels every pending wait, and
// stops the janitor. It does not itself stop agent runtimes — that is
// the Fabric's responsibility, composing Hub.Stop with runtime shutdown.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	h.pending.cancelFor(func(*PendingRequest) bool { return true })
	h.pending.close()
	h.seen.Close()
	h.interceptWG.Wait()
}
