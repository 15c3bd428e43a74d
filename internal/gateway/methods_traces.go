package gateway

import (
	"context"

	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// handleTracesFamily answers traces.list and traces.get against the
// shared trace recorder. With no recorder configured, traces.list returns
// an empty list rather than erroring, and traces.get answers NOT_FOUND.
func (s *Server) handleTracesFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case "traces.list":
		var p struct {
			SessionKey string `json:"sessionKey"`
			Limit      int    `json:"limit"`
		}
		if err := decodeParams(req, &p); err != nil {
			return true, nil, err
		}
		if s.tracer == nil {
			return true, map[string]interface{}{"runs": []interface{}{}}, nil
		}
		runs, err := s.tracer.ListRuns(ctx, p.SessionKey, p.Limit)
		if err != nil {
			return true, nil, protocol.NewRPCError(protocol.ErrInternal, "list runs failed: "+err.Error(), nil)
		}
		return true, map[string]interface{}{"runs": runs}, nil

	case "traces.get":
		var p struct {
			RunID string `json:"runId"`
		}
		if err := decodeParams(req, &p); err != nil {
			return true, nil, err
		}
		if s.tracer == nil {
			return true, nil, protocol.NewRPCError(protocol.ErrNotFound, "run not found: "+p.RunID, nil)
		}
		run, ok, err := s.tracer.GetRun(ctx, p.RunID)
		if err != nil {
			return true, nil, protocol.NewRPCError(protocol.ErrInternal, "get run failed: "+err.Error(), nil)
		}
		if !ok {
			return true, nil, protocol.NewRPCError(protocol.ErrNotFound, "run not found: "+p.RunID, nil)
		}
		return true, run, nil

	default:
		return false, nil, nil
	}
}
