package gateway

import (
	"context"

	"github.com/nextlevelbuilder/goclaw/internal/shadow"
	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// handleSessionsUsageFamily implements sessions.* and usage.*. Most
// session mutation operations map directly onto store.SessionStore;
// usage reporting reads the accumulated token counters the store already
// tracks per session rather than a separate ledger.
func (s *Server) handleSessionsUsageFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case protocol.MethodSessionsList:
		return s.sessionsList(req)

	case "sessions.resolve", protocol.MethodSessionsPreview:
		return s.sessionsPreview(req)

	case protocol.MethodSessionsPatch:
		return s.sessionsPatch(req)

	case protocol.MethodSessionsReset:
		return s.sessionsMutate(req, func(key string) { s.sessions.Reset(key) })

	case protocol.MethodSessionsDelete:
		return s.sessionsDelete(req)

	case "sessions.compact":
		return s.sessionsMutate(req, func(key string) { s.sessions.IncrementCompaction(key) })

	case "sessions.usage", protocol.MethodUsageGet:
		return s.sessionUsage(req)

	case "sessions.usage.timeseries", "sessions.usage.logs", protocol.MethodUsageSummary, "usage.cost", "usage.status":
		return true, map[string]interface{}{"entries": []interface{}{}}, nil

	default:
		return false, nil, nil
	}
}

func (s *Server) requireSessions() *protocol.RPCError {
	if s.sessions == nil {
		return protocol.NewRPCError(protocol.ErrUnavailable, "no session store configured", nil)
	}
	return nil
}

type sessionsListParams struct {
	AgentID string `json:"agentId"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
}

func (s *Server) sessionsList(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireSessions(); err != nil {
		return true, nil, err
	}
	var p sessionsListParams
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	result, _ := shadow.Compare(s.cfg.Gateway.ShadowMode, req.Method,
		func() (interface{}, error) { return s.sessionsListPaged(p), nil },
		func() (interface{}, error) { return s.sessionsListNaive(p), nil },
	)
	return true, result, nil
}

// sessionsListPaged is the primary path: unpaged requests (limit<=0) go
// straight to List; paged ones use the store's own ListPaged.
func (s *Server) sessionsListPaged(p sessionsListParams) interface{} {
	if p.Limit <= 0 {
		res := s.sessions.List(p.AgentID)
		return map[string]interface{}{"sessions": res, "total": len(res)}
	}
	return s.sessions.ListPaged(store.SessionListOpts{AgentID: p.AgentID, Limit: p.Limit, Offset: p.Offset})
}

// sessionsListNaive is the shadow comparator's legacy path: it always
// fetches the full unpaged list and slices it in-process, independent of
// the store's own ListPaged implementation — a divergence here means
// ListPaged disagrees with a plain offset/limit slice of List.
func (s *Server) sessionsListNaive(p sessionsListParams) interface{} {
	all := s.sessions.List(p.AgentID)
	if p.Limit <= 0 {
		return map[string]interface{}{"sessions": all, "total": len(all)}
	}
	start := p.Offset
	if start > len(all) {
		start = len(all)
	}
	end := start + p.Limit
	if end > len(all) {
		end = len(all)
	}
	return map[string]interface{}{"sessions": all[start:end], "total": len(all)}
}

func (s *Server) sessionsPreview(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireSessions(); err != nil {
		return true, nil, err
	}
	var p struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	history := s.sessions.GetHistory(p.SessionKey)
	summary := s.sessions.GetSummary(p.SessionKey)
	return true, map[string]interface{}{
		"sessionKey":   p.SessionKey,
		"messageCount": len(history),
		"summary":      summary,
	}, nil
}

func (s *Server) sessionsPatch(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireSessions(); err != nil {
		return true, nil, err
	}
	var p struct {
		SessionKey string `json:"sessionKey"`
		Label      string `json:"label,omitempty"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if p.Label != "" {
		s.sessions.SetLabel(p.SessionKey, p.Label)
	}
	return true, map[string]interface{}{"ok": true}, nil
}

func (s *Server) sessionsDelete(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireSessions(); err != nil {
		return true, nil, err
	}
	var p struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if err := s.sessions.Delete(p.SessionKey); err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrInternal, "delete failed: "+err.Error(), nil)
	}
	return true, map[string]interface{}{"ok": true}, nil
}

func (s *Server) sessionsMutate(req protocol.RequestFrame, fn func(key string)) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireSessions(); err != nil {
		return true, nil, err
	}
	var p struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	fn(p.SessionKey)
	return true, map[string]interface{}{"ok": true}, nil
}

func (s *Server) sessionUsage(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireSessions(); err != nil {
		return true, nil, err
	}
	var p struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	data := s.sessions.GetOrCreate(p.SessionKey)
	return true, map[string]interface{}{
		"sessionKey":   p.SessionKey,
		"inputTokens":  data.InputTokens,
		"outputTokens": data.OutputTokens,
		"model":        data.Model,
		"provider":     data.Provider,
	}, nil
}
