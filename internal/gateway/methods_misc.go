package gateway

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/goclaw/internal/alerts"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

const alertsLifecycleSlot = "rpc.alerts_lifecycle"

// handleMiscFamily covers models.list, auth.profiles.status,
// actions.catalog/validate(.batch), alerts.lifecycle, system-presence,
// logs.tail, update.run, and doctor.memory.status: a grab-bag of
// low-ceremony read/diagnostic methods that don't warrant their own
// pipeline stage.
func (s *Server) handleMiscFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case "models.list":
		return true, s.listModels(), nil

	case "auth.profiles.status":
		return true, map[string]interface{}{"profiles": []interface{}{}}, nil

	case "actions.catalog":
		return true, map[string]interface{}{"actions": actionCatalog()}, nil

	case "actions.validate":
		return s.validateAction(req)

	case "actions.validate.batch", "actions.validate.batch.lifecycle":
		return s.validateActionBatch(req)

	case "alerts.lifecycle":
		return s.alertsLifecycle(ctx, req)

	case "system-presence":
		if s.presence == nil {
			return true, map[string]interface{}{"entries": []interface{}{}}, nil
		}
		return true, map[string]interface{}{"entries": s.presence.List()}, nil

	case protocol.MethodLogsTail:
		return true, map[string]interface{}{"lines": []string{}}, nil

	case "last-heartbeat", protocol.MethodHeartbeat:
		return true, map[string]interface{}{"tsMs": nowMs()}, nil

	case "update.run":
		return true, map[string]interface{}{"status": "not_supported"}, nil

	case "doctor.memory.status":
		return true, map[string]interface{}{"status": "ok"}, nil

	case "push.test":
		return true, map[string]interface{}{"ok": true}, nil

	default:
		return false, nil, nil
	}
}

func (s *Server) listModels() map[string]interface{} {
	s.cfg.RLock()
	defer s.cfg.RUnlock()
	return map[string]interface{}{
		"defaultProvider": s.cfg.Agents.Defaults.Provider,
		"defaultModel":    s.cfg.Agents.Defaults.Model,
	}
}

// actionRule describes what a single alert action schema permits, used by
// actions.validate to reject anything the client didn't already know was
// safe to surface as "executable".
type actionRule struct {
	Kind            string   // "exact", "prefix_command", "none"
	AllowedCommands []string // for prefix_command
	AllowedFlags    []string // for prefix_command
}

// actionCatalog is deliberately small: it lists the action kinds the
// gateway recognizes, not a full per-code rule table (that rule table is
// product-specific and lives in the operational alerts source, out of
// scope here).
func actionCatalog() []string {
	return []string{"navigate", "open_url", "run_command", "none"}
}

type actionValidateParams struct {
	Code   string                 `json:"code"`
	Action map[string]interface{} `json:"action"`
}

func (s *Server) validateAction(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p actionValidateParams
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	valid := validateOneAction(p.Action)
	return true, map[string]interface{}{"valid": valid}, nil
}

func (s *Server) validateActionBatch(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p struct {
		Actions []actionValidateParams `json:"actions"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	results := make([]map[string]interface{}, 0, len(p.Actions))
	for _, a := range p.Actions {
		results = append(results, map[string]interface{}{
			"code":  a.Code,
			"valid": validateOneAction(a.Action),
		})
	}
	return true, map[string]interface{}{"results": results}, nil
}

// validateOneAction is server-side only: unvalidated actions must never
// be presented to an operator as clickable.
func validateOneAction(action map[string]interface{}) bool {
	kind, _ := action["kind"].(string)
	switch kind {
	case "navigate", "open_url":
		_, hasURL := action["url"]
		return hasURL
	case "run_command":
		cmd, _ := action["command"].(string)
		return strings.TrimSpace(cmd) != ""
	case "none":
		return true
	default:
		return false
	}
}

type rawAlertsParams struct {
	Alerts []alerts.Alert `json:"alerts"`
}

func (s *Server) alertsLifecycle(ctx context.Context, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p rawAlertsParams
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if s.slots == nil {
		return true, nil, protocol.NewRPCError(protocol.ErrUnavailable, "no slot store configured", nil)
	}

	view := alerts.Apply(ctx, s.slots, p.Alerts, nowMs())
	summary := alerts.BuildSummary(p.Alerts)
	return true, map[string]interface{}{
		"alerts":        alerts.Dedupe(p.Alerts),
		"summary":       summary,
		"lifecycle":     view,
		"actionsCatalog": actionCatalog(),
	}, nil
}
