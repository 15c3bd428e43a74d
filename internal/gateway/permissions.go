package gateway

import "strings"

// adminOnlyMethods require operator.admin outright, regardless of any
// other scope the connection holds — irreversible or security-sensitive
// mutations (revoking trust, replacing the whole config document, wiping
// scheduled work).
var adminOnlyMethods = map[string]bool{
	"config.apply":        true,
	"config.patch":        true,
	"device.pair.revoke":  true,
	"device.token.revoke": true,
	"device.token.rotate": true,
	"node.pair.reject":    true,
	"cron.delete":         true,
	"cron.remove":         true,
}

// writeMethods are mutations gated by operator.write; everything else
// (not admin-only, not a pairing/approval method) falls back to
// operator.read. Listed by method family rather than exhaustively by
// constant, matching the dispatch pipeline's own family grouping.
var writeMethods = map[string]bool{
	"agents.create":       true,
	"agents.update":       true,
	"agents.delete":       true,
	"agents.files.set":    true,
	"sessions.patch":      true,
	"sessions.delete":     true,
	"sessions.reset":      true,
	"chat.send":           true,
	"chat.inject":         true,
	"chat.abort":          true,
	"agent":               true,
	"cron.create":         true,
	"cron.add":             true,
	"cron.update":         true,
	"cron.toggle":         true,
	"cron.run":            true,
	"skills.update":       true,
	"channels.toggle":     true,
	"tts.enable":          true,
	"tts.disable":         true,
	"tts.setProvider":     true,
	"tts.convert":         true,
	"node.rename":         true,
	"node.invoke":         true,
	"browser.request":     true,
	"browser.act":         true,
	"actions.validate":    true,
	"actions.validate.batch": true,
	"plugins.http.dispatch":  true,
	"plugins.cli.invoke":     true,
}

// requiredScope maps a method name onto the scope a connection must hold
// to invoke it. "" means no scope is required beyond being an
// authenticated operator (read-only/always-available methods).
func requiredScope(method string) string {
	switch method {
	case "connect", "health", "status":
		return ""
	}
	if adminOnlyMethods[method] {
		return "operator.admin"
	}
	switch {
	case strings.HasPrefix(method, "exec.approval"):
		return "operator.approvals"
	case strings.HasPrefix(method, "device.pair"), strings.HasPrefix(method, "device.token"), strings.HasPrefix(method, "node.pair"):
		return "operator.pairing"
	}
	if writeMethods[method] {
		return "operator.write"
	}
	return "operator.read"
}

// eventRequiredScope maps a broadcast event name onto the scope a
// connection must hold to receive it, per the broadcast filter table.
// "" means every connected role may receive it.
func eventRequiredScope(name string) string {
	switch {
	case strings.HasPrefix(name, "exec.approval"):
		return "operator.approvals"
	case strings.HasPrefix(name, "device.pair"), strings.HasPrefix(name, "device.token"), strings.HasPrefix(name, "node.pair"):
		return "operator.pairing"
	default:
		return ""
	}
}

// canaryAllowed reports whether method may dispatch under the configured
// canary rollout allowlist. An empty list disables the restriction
// entirely; connect/health/status are always allowed so a canary client
// can still handshake and poll liveness.
func (s *Server) canaryAllowed(method string) bool {
	canary := s.cfg.Gateway.CanaryMethods
	if len(canary) == 0 {
		return true
	}
	switch method {
	case "connect", "health", "status":
		return true
	}
	for _, m := range canary {
		if m == method {
			return true
		}
	}
	return false
}
