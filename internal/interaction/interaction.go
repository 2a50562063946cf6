// ABOUTME: Token-bucket rate limiting, cooldown, and per-conversation turn accounting.
// ABOUTME: Built on golang.org/x/time/rate rather than a hand-rolled counter.

package interaction

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Verdict is the result of accounting for an agent turn, replacing
// exception-based control flow with a closed result type.
type Verdict string

const (
	Continue Verdict = "CONTINUE"
	Wait     Verdict = "WAIT"
	Stop     Verdict = "STOP"
)

// CooldownListener is invoked whenever an agent enters cooldown, so
// observability sinks can record it without sitting on the hot path.
type CooldownListener func(agentID string, until time.Time)

// Config controls the limits applied to every agent's bucket pair.
type Config struct {
	PerMinute        int           // token budget replenished every minute
	PerHour          int           // token budget replenished every hour
	MaxTurns         int           // per-conversation turn cap before STOP
	CooldownBackoff  time.Duration // how long WAIT lasts once triggered
	OnCooldownStart  CooldownListener
}

// DefaultConfig returns conservative defaults: 60 tokens/minute, 1000/hour,
// 50 turns per conversation, 30s cooldown.
func DefaultConfig() Config {
	return Config{
		PerMinute:       60,
		PerHour:         1000,
		MaxTurns:        50,
		CooldownBackoff: 30 * time.Second,
	}
}

type bucketPair struct {
	mu           sync.Mutex
	minute       *rate.Limiter
	hour         *rate.Limiter
	cooldownTill time.Time
	turns        map[string]int // conversationID -> turn count
}

// Controller is the per-Fabric interaction controller: one bucketPair per
// agent, created lazily on first use.
type Controller struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*bucketPair
}

// New builds a Controller from cfg, filling in defaults for any zero
// field left unset by the caller.
func New(cfg Config) *Controller {
	d := DefaultConfig()
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = d.PerMinute
	}
	if cfg.PerHour <= 0 {
		cfg.PerHour = d.PerHour
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = d.MaxTurns
	}
	if cfg.CooldownBackoff <= 0 {
		cfg.CooldownBackoff = d.CooldownBackoff
	}
	return &Controller{cfg: cfg, buckets: make(map[string]*bucketPair)}
}

func (c *Controller) bucketFor(agentID string) *bucketPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[agentID]
	if !ok {
		b = &bucketPair{
			minute: rate.NewLimiter(rate.Limit(float64(c.cfg.PerMinute)/60), c.cfg.PerMinute),
			hour:   rate.NewLimiter(rate.Limit(float64(c.cfg.PerHour)/3600), c.cfg.PerHour),
			turns:  make(map[string]int),
		}
		c.buckets[agentID] = b
	}
	return b
}

// PreCheck is the runtime's pre-handle gate: it reports WAIT if agentID is
// currently in cooldown, without consuming any token budget. The runtime
// loop calls this before invoking the ReasoningEngine.
func (c *Controller) PreCheck(agentID string) Verdict {
	b := c.bucketFor(agentID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if time.Now().Before(b.cooldownTill) {
		return Wait
	}
	return Continue
}

// Account records tokens spent by agentID in conversationID, advancing
// both the rate buckets and the turn counter, and returns the verdict the
// runtime should act on. A cooldown takes precedence over a turn-cap stop:
// the caller should wait out WAIT before a STOP can even be evaluated
// again.
func (c *Controller) Account(agentID, conversationID string, tokens int) Verdict {
	b := c.bucketFor(agentID)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Before(b.cooldownTill) {
		return Wait
	}

	if tokens <= 0 {
		tokens = 1
	}
	overMinute := !b.minute.AllowN(now, tokens)
	overHour := !b.hour.AllowN(now, tokens)
	if overMinute || overHour {
		b.cooldownTill = now.Add(c.cfg.CooldownBackoff)
		if c.cfg.OnCooldownStart != nil {
			c.cfg.OnCooldownStart(agentID, b.cooldownTill)
		}
		return Wait
	}

	b.turns[conversationID]++
	if b.turns[conversationID] > c.cfg.MaxTurns {
		return Stop
	}
	return Continue
}

// CooldownUntil reports the time at which agentID's cooldown (if any)
// expires. Zero time means no active cooldown.
func (c *Controller) CooldownUntil(agentID string) time.Time {
	b := c.bucketFor(agentID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cooldownTill
}

// TurnCount reports how many turns have been accounted for agentID in
// conversationID so far.
func (c *Controller) TurnCount(agentID, conversationID string) int {
	b := c.bucketFor(agentID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.turns[conversationID]
}

// ResetConversation clears the turn counter for conversationID, called
// when a STOP closes out that conversation.
func (c *Controller) ResetConversation(agentID, conversationID string) {
	b := c.bucketFor(agentID)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.turns, conversationID)
}
