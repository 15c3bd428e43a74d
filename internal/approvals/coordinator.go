// Package approvals coordinates exec-approval requests: an agent asks
// whether a command may run, an operator (or allowlist policy forwarded
// over chat) decides, and the original request either blocks on that
// decision or returns immediately in two-phase mode while a separate
// waitDecision call blocks instead.
package approvals

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decision is the resolved outcome of an approval request.
type Decision string

const (
	DecisionAllowOnce   Decision = "allow-once"
	DecisionAllowAlways Decision = "allow-always"
	DecisionDeny        Decision = "deny"
)

func validDecision(d string) bool {
	switch Decision(d) {
	case DecisionAllowOnce, DecisionAllowAlways, DecisionDeny:
		return true
	}
	return false
}

// Request is the command an agent wants to run.
type Request struct {
	Command      string `json:"command"`
	Cwd          string `json:"cwd,omitempty"`
	Host         string `json:"host,omitempty"`
	Security     string `json:"security,omitempty"`
	Ask          string `json:"ask,omitempty"`
	AgentID      string `json:"agentId,omitempty"`
	ResolvedPath string `json:"resolvedPath,omitempty"`
	SessionKey   string `json:"sessionKey,omitempty"`
}

// Record is one pending or resolved approval.
type Record struct {
	ID            string   `json:"id"`
	Request       Request  `json:"request"`
	CreatedAtMs   int64    `json:"createdAtMs"`
	ExpiresAtMs   int64    `json:"expiresAtMs"`
	Decision      Decision `json:"decision,omitempty"`
	Status        string   `json:"status"` // "pending", "resolved", "expired"
	RequestedBy   string   `json:"requestedBy,omitempty"`
	ResolvedAtMs  int64    `json:"resolvedAtMs,omitempty"`
	ResolvedBy    string   `json:"resolvedBy,omitempty"`
}

// RequestedEvent is broadcast on exec.approval.requested.
type RequestedEvent struct {
	ID          string  `json:"id"`
	Request     Request `json:"request"`
	CreatedAtMs int64   `json:"createdAtMs"`
	ExpiresAtMs int64   `json:"expiresAtMs"`
}

// ResolvedEvent is broadcast on exec.approval.resolved.
type ResolvedEvent struct {
	ID         string   `json:"id"`
	Decision   Decision `json:"decision"`
	ResolvedBy string   `json:"resolvedBy,omitempty"`
	TsMs       int64    `json:"ts"`
}

// EventSink pushes lifecycle events out to WS clients/forwarders.
type EventSink interface {
	Requested(RequestedEvent)
	Resolved(ResolvedEvent)
}

// Coordinator tracks pending approvals and the one-shot futures blocking
// on them. Safe for concurrent use.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]*Record
	waiters map[string][]chan Decision // one channel per blocked waiter (request + waitDecision can both block)
	sink    EventSink
	now     func() time.Time
}

// New builds a Coordinator. sink may be nil if no event forwarding is
// configured.
func New(sink EventSink) *Coordinator {
	return &Coordinator{
		pending: make(map[string]*Record),
		waiters: make(map[string][]chan Decision),
		sink:    sink,
		now:     time.Now,
	}
}

// Request registers a new approval request. If id is empty a fresh one
// is generated. Returns an error if id is already pending and
// unresolved.
func (c *Coordinator) Request(id string, req Request, timeout time.Duration, requestedBy string) (*Record, error) {
	if req.Command == "" {
		return nil, fmt.Errorf("approvals: command is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if id == "" {
		id = "apr_" + uuid.NewString()[:12]
	}

	c.mu.Lock()
	if existing, ok := c.pending[id]; ok && existing.Decision == "" {
		c.mu.Unlock()
		return nil, fmt.Errorf("approvals: id %q already pending", id)
	}

	now := c.now()
	rec := &Record{
		ID:          id,
		Request:     req,
		CreatedAtMs: now.UnixMilli(),
		ExpiresAtMs: now.Add(timeout).UnixMilli(),
		Status:      "pending",
		RequestedBy: requestedBy,
	}
	c.pending[id] = rec
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.Requested(RequestedEvent{ID: id, Request: req, CreatedAtMs: rec.CreatedAtMs, ExpiresAtMs: rec.ExpiresAtMs})
	}
	return rec, nil
}

// Wait blocks until the request is resolved or ctx/timeout expires,
// returning the decision (empty if it expired unresolved). Multiple
// concurrent waiters on the same id (request in blocking mode plus a
// separate waitDecision call) are all woken on resolution.
func (c *Coordinator) Wait(ctx context.Context, id string) (Decision, error) {
	c.mu.Lock()
	rec, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return "", fmt.Errorf("approvals: unknown or expired id %q", id)
	}
	if rec.Decision != "" {
		d := rec.Decision
		c.mu.Unlock()
		return d, nil
	}
	ch := make(chan Decision, 1)
	c.waiters[id] = append(c.waiters[id], ch)
	deadline := time.UnixMilli(rec.ExpiresAtMs)
	c.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case d := <-ch:
		return d, nil
	case <-timer.C:
		c.expire(id)
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolve records a decision and wakes every waiter blocked on id.
func (c *Coordinator) Resolve(id, decisionStr, resolvedBy string) (*ResolvedEvent, error) {
	decisionStr = strings.ToLower(strings.TrimSpace(decisionStr))
	if id == "" || !validDecision(decisionStr) {
		return nil, fmt.Errorf("approvals: id and a valid decision are required")
	}

	c.mu.Lock()
	rec, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("approvals: unknown approval id %q", id)
	}
	decision := Decision(decisionStr)
	rec.Decision = decision
	rec.Status = "resolved"
	now := c.now()
	rec.ResolvedAtMs = now.UnixMilli()
	rec.ResolvedBy = resolvedBy

	waiters := c.waiters[id]
	delete(c.waiters, id)
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- decision
	}

	ev := ResolvedEvent{ID: id, Decision: decision, ResolvedBy: resolvedBy, TsMs: rec.ResolvedAtMs}
	if c.sink != nil {
		c.sink.Resolved(ev)
	}
	return &ev, nil
}

func (c *Coordinator) expire(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.pending[id]; ok && rec.Decision == "" {
		rec.Status = "expired"
	}
	delete(c.waiters, id)
}

// Pending lists unresolved, unexpired requests for exec.approvals.pending.
func (c *Coordinator) Pending() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UnixMilli()
	out := make([]Record, 0, len(c.pending))
	for _, rec := range c.pending {
		if rec.Decision != "" || rec.Status == "resolved" {
			continue
		}
		if rec.ExpiresAtMs < now {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// CleanupExpired marks any request past its expiry with no decision as
// expired, dropping its waiters. Call this at the top of every exec
// approval RPC, matching the original's lazy-sweeper convention.
func (c *Coordinator) CleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UnixMilli()
	for id, rec := range c.pending {
		if rec.Decision == "" && rec.ExpiresAtMs < now {
			rec.Status = "expired"
			delete(c.waiters, id)
		}
	}
}

// Get returns the record for id, if any.
func (c *Coordinator) Get(id string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.pending[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}
