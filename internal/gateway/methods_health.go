package gateway

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// handleHealthFamily answers health and status without requiring any
// further authorization beyond a successful connect, matching the
// original's "always allowed" carve-out for these two methods.
func (s *Server) handleHealthFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case protocol.MethodHealth:
		return true, map[string]interface{}{
			"status":          "ok",
			"protocolVersion": protocol.ProtocolVersion,
			"uptimeSeconds":   int64(time.Since(s.startedAt).Seconds()),
		}, nil

	case protocol.MethodStatus:
		_, summary := s.lanes.ListAll(nowMs())
		result := map[string]interface{}{
			"status":        "ok",
			"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
			"connections":   s.connectionCount(),
			"lanes":         summary,
		}
		if s.nodeReg != nil {
			result["nodesConnected"] = len(s.nodeReg.ListConnected())
		}
		return true, result, nil

	default:
		return false, nil, nil
	}
}

func (s *Server) connectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
