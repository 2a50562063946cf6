// ABOUTME: Per-agent cooperative processing loop (C7): pulls from the inbox, rate-limits, reasons, replies.
// ABOUTME: Agents depend only on the HubClient/Receiver interfaces, breaking the hub<->agent cyclic reference.

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/agentfabric/internal/capindex"
	"github.com/2389/agentfabric/internal/identity"
	"github.com/2389/agentfabric/internal/interaction"
	"github.com/2389/agentfabric/internal/protocol"
)

// Receiver is the inbound half of an agent's inbox. hub.Inbox satisfies
// this; tests can substitute a fake.
type Receiver interface {
	Receive(ctx context.Context) (*protocol.Message, error)
}

// HubClient is the outbound half an agent runtime needs from the hub:
// just enough to route a reply, never a full Hub reference.
type HubClient interface {
	Route(msg *protocol.Message) error
}

// ConversationState is one (peerID, conversationID) pair's position in
// the per-conversation state machine.
type ConversationState string

const (
	StateIdle       ConversationState = "IDLE"
	StateProcessing ConversationState = "PROCESSING"
	StateCooldown   ConversationState = "COOLDOWN"
	StateClosed     ConversationState = "CLOSED"
)

// Config configures a Runtime.
type Config struct {
	AgentID      string
	Identity     *identity.Identity
	Capabilities []capindex.Capability

	Inbox   Receiver
	Hub     HubClient
	Control *interaction.Controller
	Engine  ReasoningEngine

	Logger *slog.Logger
}

// Runtime drives one agent's cooperative processing loop.
type Runtime struct {
	cfg Config

	mu            sync.Mutex
	conversations map[string]ConversationState

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}

	logger *slog.Logger
}

// New builds a Runtime. Call Run to start its loop.
func New(cfg Config) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		cfg:           cfg,
		conversations: make(map[string]ConversationState),
		done:          make(chan struct{}),
		logger:        logger.With("component", "runtime", "agent_id", cfg.AgentID),
	}
}

// conversationKey keys the state machine by (peerID, conversationID),
// where conversationID defaults to the peer's agent id absent an
// explicit metadata field.
func conversationKey(msg *protocol.Message, selfID string) string {
	peer := msg.SenderID
	if peer == selfID {
		peer = msg.ReceiverID
	}
	convID, _ := msg.Metadata.Custom["conversationId"].(string)
	if convID == "" {
		convID = peer
	}
	return peer + "|" + convID
}

func (rt *Runtime) setState(key string, s ConversationState) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.conversations[key] = s
}

// State returns the current conversation state for (peerID, conversationID).
func (rt *Runtime) State(peerID, conversationID string) ConversationState {
	if conversationID == "" {
		conversationID = peerID
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, ok := rt.conversations[peerID+"|"+conversationID]
	if !ok {
		return StateIdle
	}
	return s
}

// Run executes the cooperative loop until ctx is canceled or Stop is
// called. It returns when the loop has fully exited.
func (rt *Runtime) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel
	defer close(rt.done)
	defer cancel()

	for {
		msg, err := rt.cfg.Inbox.Receive(ctx)
		if err != nil {
			rt.logger.Info("runtime loop exiting", "reason", err)
			return
		}

		if msg.Type == protocol.TypeStop {
			key := conversationKey(msg, rt.cfg.AgentID)
			rt.closeConversation(key)
			continue
		}

		if reply, handled := rt.handleBypass(msg); handled {
			if reply != nil {
				rt.route(reply)
			}
			continue
		}

		rt.processTurn(ctx, msg)
	}
}

// handleBypass answers PING and CAPABILITY_REQUEST directly, without
// invoking the ReasoningEngine.
func (rt *Runtime) handleBypass(msg *protocol.Message) (*protocol.Message, bool) {
	switch msg.Type {
	case protocol.TypePing:
		reply := protocol.New(rt.cfg.AgentID, msg.SenderID, "", protocol.TypePing)
		return rt.sign(reply), true
	case protocol.TypeCapabilityRequest:
		reply := protocol.New(rt.cfg.AgentID, msg.SenderID, "", protocol.TypeCapabilityResponse)
		reply.Metadata.Custom["capabilities"] = rt.cfg.Capabilities
		if msg.Metadata.RequestID != "" {
			reply.Metadata.RequestID = msg.Metadata.RequestID
		}
		return rt.sign(reply), true
	default:
		return nil, false
	}
}

// processTurn runs the PreCheck/Handle/Account sequence for one
// ordinary message.
func (rt *Runtime) processTurn(ctx context.Context, msg *protocol.Message) {
	key := conversationKey(msg, rt.cfg.AgentID)

	verdict := rt.cfg.Control.PreCheck(rt.cfg.AgentID)
	if verdict == interaction.Wait {
		rt.setState(key, StateCooldown)
		until := rt.cfg.Control.CooldownUntil(rt.cfg.AgentID)
		rt.sleepUntil(ctx, until)
		rt.setState(key, StateProcessing)
	}

	rt.setState(key, StateProcessing)

	reply, err := rt.cfg.Engine.Handle(ctx, msg)
	if err != nil {
		rt.logger.Error("reasoning engine failure", "error", err)
		rt.route(rt.sign(protocol.New(rt.cfg.AgentID, msg.SenderID, err.Error(), protocol.TypeError)))
		rt.setState(key, StateIdle)
		return
	}

	tokens := rt.cfg.Engine.LastTokenUsage()
	_, convID := splitKey(key)
	switch rt.cfg.Control.Account(rt.cfg.AgentID, convID, tokens) {
	case interaction.Stop:
		rt.route(rt.sign(protocol.New(rt.cfg.AgentID, msg.SenderID, "turn limit reached", protocol.TypeStop)))
		rt.closeConversation(key)
		return
	case interaction.Wait:
		rt.setState(key, StateCooldown)
	default:
		rt.setState(key, StateIdle)
	}

	if reply != nil {
		rt.route(reply)
	}
}

func splitKey(key string) (peer, conv string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, key
}

func (rt *Runtime) closeConversation(key string) {
	peer, conv := splitKey(key)
	rt.cfg.Control.ResetConversation(rt.cfg.AgentID, conv)
	rt.setState(key, StateClosed)
	rt.logger.Info("conversation closed", "peer", peer, "conversation", conv)
}

func (rt *Runtime) sleepUntil(ctx context.Context, until time.Time) {
	d := time.Until(until)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (rt *Runtime) sign(msg *protocol.Message) *protocol.Message {
	signed, err := protocol.Sign(msg, rt.cfg.Identity)
	if err != nil {
		rt.logger.Error("failed to sign outbound message", "error", err)
		return msg
	}
	return signed
}

func (rt *Runtime) route(msg *protocol.Message) {
	if err := rt.cfg.Hub.Route(msg); err != nil {
		rt.logger.Warn("routing reply failed", "error", err)
	}
}

// ErrNoSigningCapability is re-exported from the identity package. New does
// not check for it; when Identity cannot sign, the runtime logs the failure
// and routes its replies unsigned.
var ErrNoSigningCapability = identity.ErrNoSigningCapability

// Stop requests the loop exit and blocks until it has, or ctx is
// canceled first. Safe to call multiple times.
func (rt *Runtime) Stop(ctx context.Context) error {
	rt.stopOnce.Do(func() {
		if rt.cancel != nil {
			rt.cancel()
		}
	})
	select {
	case <-rt.done:
		return rt.cfg.Engine.Shutdown(ctx)
	case <-ctx.Done():
		return fmt.Errorf("runtime: stop timed out: %w", ctx.Err())
	}
}

// ErrNotRunning names the case of a Runtime whose Run was never called.
// Stop does not return it: on such a Runtime, Stop blocks until ctx is done.
var ErrNotRunning = errors.New("runtime: not running")
