package gateway

import (
	"context"

	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// handlePluginGatewayFamily is the final pipeline stage: a passthrough
// onto whatever tools the configured MCP servers expose, for callers
// that want to invoke a hosted plugin's tool directly rather than
// through an agent run.
func (s *Server) handlePluginGatewayFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case "plugins.gateway.methods":
		return s.pluginGatewayMethods()

	case "plugins.http.dispatch", "plugins.cli.invoke":
		return s.pluginGatewayInvoke(ctx, req)

	case "plugins.cli.list":
		return s.pluginGatewayMethods()

	default:
		return false, nil, nil
	}
}

func (s *Server) requirePlugins() *protocol.RPCError {
	if s.plugins == nil {
		return protocol.NewRPCError(protocol.ErrUnavailable, "no MCP plugin gateway configured", nil)
	}
	return nil
}

func (s *Server) pluginGatewayMethods() (bool, interface{}, *protocol.RPCError) {
	if err := s.requirePlugins(); err != nil {
		return true, nil, err
	}
	return true, map[string]interface{}{
		"servers": s.plugins.ServerStatuses(),
		"tools":   s.plugins.ListTools(),
	}, nil
}

func (s *Server) pluginGatewayInvoke(ctx context.Context, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requirePlugins(); err != nil {
		return true, nil, err
	}
	var p struct {
		Server string                 `json:"server"`
		Tool   string                 `json:"tool"`
		Args   map[string]interface{} `json:"args,omitempty"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if p.Server == "" || p.Tool == "" {
		return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, "server and tool are required", nil)
	}
	result, err := s.plugins.CallTool(ctx, p.Server, p.Tool, p.Args)
	if err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrInternal, err.Error(), nil)
	}
	return true, result, nil
}
