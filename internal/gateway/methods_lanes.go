package gateway

import (
	"context"

	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// handleLanesFamily answers lanes.status (single session) and lanes.list
// (every session with a running or queued lane, plus a global summary).
func (s *Server) handleLanesFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case "lanes.status":
		var p struct {
			SessionKey string `json:"sessionKey"`
		}
		if err := decodeParams(req, &p); err != nil {
			return true, nil, err
		}
		return true, s.lanes.Status(p.SessionKey, nowMs()), nil

	case "lanes.list":
		statuses, summary := s.lanes.ListAll(nowMs())
		return true, map[string]interface{}{"lanes": statuses, "summary": summary}, nil

	default:
		return false, nil, nil
	}
}
