package gateway

import (
	"context"

	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// handleSandboxFamily answers sandbox.config/status, the read side of
// the isolation policy the agent process consults before launching a
// sandboxed run. The gateway never starts or stops a container itself.
func (s *Server) handleSandboxFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case "sandbox.config":
		if s.sandboxPol == nil {
			return true, nil, protocol.NewRPCError(protocol.ErrUnavailable, "no sandbox policy configured", nil)
		}
		return true, s.sandboxPol.Config(), nil

	case "sandbox.status":
		if s.sandboxPol == nil {
			return true, nil, protocol.NewRPCError(protocol.ErrUnavailable, "no sandbox policy configured", nil)
		}
		return true, s.sandboxPol.Status(), nil

	default:
		return false, nil, nil
	}
}
