// ABOUTME: AuditSink persists routing events to a store.Store, fire-and-forget.
// ABOUTME: It never blocks Route — every write runs on its own goroutine against a buffered queue.

package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/agentfabric/internal/protocol"
	"github.com/2389/agentfabric/internal/store"
)

// AuditSink writes OnRouted/OnCooldown/OnLateResponse/OnInterceptorError
// notifications into a store.AuditEvent log. Message content never reaches
// this sink's inputs — only routing metadata.
type AuditSink struct {
	store  store.Store
	logger *slog.Logger
	events chan store.AuditEvent
	done   chan struct{}
}

// NewAuditSink starts a background writer draining into st. queueSize
// bounds how many pending events can build up before AppendAudit calls
// start being dropped (logged, never blocking the caller).
func NewAuditSink(st store.Store, logger *slog.Logger, queueSize int) *AuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	s := &AuditSink{
		store:  st,
		logger: logger.With("component", "audit_sink"),
		events: make(chan store.AuditEvent, queueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AuditSink) run() {
	defer close(s.done)
	for ev := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.AppendAudit(ctx, ev); err != nil {
			s.logger.Warn("appending audit event failed", "action", ev.Action, "error", err)
		}
		cancel()
	}
}

func (s *AuditSink) enqueue(ev store.AuditEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("audit queue full, dropping event", "action", ev.Action, "target", ev.Target)
	}
}

func (s *AuditSink) OnRouted(msg *protocol.Message) {
	s.enqueue(store.AuditEvent{Actor: msg.SenderID, Action: "ROUTED", Target: msg.ReceiverID, Detail: string(msg.Type)})
}

func (s *AuditSink) OnInterceptorError(err error) {
	s.enqueue(store.AuditEvent{Actor: "hub", Action: "INTERCEPTOR_ERROR", Target: "", Detail: err.Error()})
}

func (s *AuditSink) OnCooldown(agentID string, until time.Time) {
	s.enqueue(store.AuditEvent{Actor: "hub", Action: "COOLDOWN", Target: agentID, Detail: until.Format(time.RFC3339)})
}

func (s *AuditSink) OnLateResponse(requestID string) {
	s.enqueue(store.AuditEvent{Actor: "hub", Action: "LATE_RESPONSE", Target: requestID})
}

// Close stops accepting new events and waits for the queue to drain.
func (s *AuditSink) Close() {
	close(s.events)
	<-s.done
}
