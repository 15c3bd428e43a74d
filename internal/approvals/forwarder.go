package approvals

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Target is a single chat destination an approval notification was (or
// will be) sent to.
type Target struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chatId"`
}

// ForwardMode selects where resolved targets come from.
type ForwardMode string

const (
	ForwardModeSession ForwardMode = "session" // parse from request.sessionKey
	ForwardModeTargets ForwardMode = "targets" // fixed configured list
	ForwardModeBoth    ForwardMode = "both"
)

// ForwarderConfig gates and scopes approval forwarding to chat. It mirrors
// the tools.execApproval.forward block of the config file.
type ForwarderConfig struct {
	Enabled      bool
	Mode         ForwardMode
	Targets      []Target
	AgentFilter  string // regex against request.AgentID, empty = match all
	SessionRegex string // regex against request.SessionKey, empty = match all
}

// Sender delivers a rendered approval notification to a chat target.
type Sender interface {
	Send(target Target, text string) error
}

// Forwarder relays exec-approval lifecycle notifications to chat channels
// and remembers which targets a "requested" notice went to, so the
// matching "resolved"/"expired" notice reaches the same places.
type Forwarder struct {
	mu      sync.Mutex
	cfg     ForwarderConfig
	sender  Sender
	pending map[string][]Target // requestId -> targets notified on request
}

// NewForwarder builds a Forwarder. sender may be nil, in which case
// forwarding is a no-op regardless of cfg.Enabled.
func NewForwarder(cfg ForwarderConfig, sender Sender) *Forwarder {
	return &Forwarder{
		cfg:     cfg,
		sender:  sender,
		pending: make(map[string][]Target),
	}
}

// ShouldForward reports whether req should be relayed to chat, applying
// the agent/session regex gates.
func (f *Forwarder) ShouldForward(req Request) bool {
	if !f.cfg.Enabled || f.sender == nil {
		return false
	}
	if f.cfg.AgentFilter != "" {
		re, err := regexp.Compile(f.cfg.AgentFilter)
		if err != nil || !re.MatchString(req.AgentID) {
			return false
		}
	}
	if f.cfg.SessionRegex != "" {
		re, err := regexp.Compile(f.cfg.SessionRegex)
		if err != nil || !re.MatchString(req.SessionKey) {
			return false
		}
	}
	return true
}

// ResolveTargets computes the chat destinations a notification for req
// should go to, per the configured mode.
func (f *Forwarder) ResolveTargets(req Request) []Target {
	var out []Target
	mode := f.cfg.Mode
	if mode == "" {
		mode = ForwardModeSession
	}

	if mode == ForwardModeSession || mode == ForwardModeBoth {
		if t, ok := targetFromSessionKey(req.SessionKey); ok {
			out = append(out, t)
		}
	}
	if mode == ForwardModeTargets || mode == ForwardModeBoth {
		out = append(out, f.cfg.Targets...)
	}
	return dedupTargets(out)
}

// targetFromSessionKey parses a "channel:chatId" or "channel:chatId:..."
// session key into a chat Target.
func targetFromSessionKey(sessionKey string) (Target, bool) {
	parts := strings.SplitN(sessionKey, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Target{}, false
	}
	return Target{Channel: parts[0], ChatID: parts[1]}, true
}

func dedupTargets(in []Target) []Target {
	seen := make(map[Target]struct{}, len(in))
	out := make([]Target, 0, len(in))
	for _, t := range in {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// NotifyRequested forwards a newly-created approval request to chat and
// records which targets it went to, keyed by request id.
func (f *Forwarder) NotifyRequested(id string, req Request, expiresAtMs int64) {
	if !f.ShouldForward(req) {
		return
	}
	targets := f.ResolveTargets(req)
	if len(targets) == 0 {
		return
	}

	f.mu.Lock()
	f.pending[id] = targets
	f.mu.Unlock()

	text := buildRequestMessage(id, req, expiresAtMs)
	f.sendAll(targets, text)
}

// NotifyResolved forwards a decision back to whichever targets the
// original request notice went to.
func (f *Forwarder) NotifyResolved(id string, decision Decision, resolvedBy string) {
	targets := f.takePending(id)
	if len(targets) == 0 {
		return
	}
	f.sendAll(targets, buildResolvedMessage(id, decision, resolvedBy))
}

// NotifyExpired forwards an expiry back to whichever targets the
// original request notice went to.
func (f *Forwarder) NotifyExpired(id string, req Request) {
	targets := f.takePending(id)
	if len(targets) == 0 {
		return
	}
	f.sendAll(targets, buildExpiredMessage(id, req))
}

func (f *Forwarder) takePending(id string) []Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	targets := f.pending[id]
	delete(f.pending, id)
	return targets
}

func (f *Forwarder) sendAll(targets []Target, text string) {
	for _, t := range targets {
		_ = f.sender.Send(t, text) // best-effort: a failed chat notify must not block approval flow
	}
}

func buildRequestMessage(id string, req Request, expiresAtMs int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Exec approval requested (%s)\n", id)
	fmt.Fprintf(&b, "command: %s\n", req.Command)
	if req.Cwd != "" {
		fmt.Fprintf(&b, "cwd: %s\n", req.Cwd)
	}
	if req.Security != "" {
		fmt.Fprintf(&b, "security: %s\n", req.Security)
	}
	fmt.Fprintf(&b, "reply with allow-once / allow-always / deny")
	return b.String()
}

func buildResolvedMessage(id string, decision Decision, resolvedBy string) string {
	by := resolvedBy
	if by == "" {
		by = "unknown"
	}
	return fmt.Sprintf("Exec approval %s resolved: %s (by %s)", id, decision, by)
}

func buildExpiredMessage(id string, req Request) string {
	return fmt.Sprintf("Exec approval %s expired unresolved: %s", id, req.Command)
}
