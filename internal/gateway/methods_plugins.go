package gateway

import (
	"context"

	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// handlePluginsFamily answers the plugins.* management surface. The
// actual plugin host (hosted MCP servers declared in
// tools.mcp_servers) is reached through the plugin gateway passthrough
// stage later in the pipeline; this family only reports on and
// reloads that configuration.
func (s *Server) handlePluginsFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case "plugins.list":
		return true, map[string]interface{}{"plugins": s.listConfiguredPlugins()}, nil

	case "plugins.info":
		var p struct {
			Name string `json:"name"`
		}
		if err := decodeParams(req, &p); err != nil {
			return true, nil, err
		}
		s.cfg.RLock()
		spec, ok := s.cfg.Tools.McpServers[p.Name]
		s.cfg.RUnlock()
		if !ok {
			return true, nil, protocol.NewRPCError(protocol.ErrNotFound, "plugin not found: "+p.Name, nil)
		}
		return true, spec, nil

	case "plugins.doctor":
		return true, map[string]interface{}{"status": "ok"}, nil

	case "plugins.reload":
		s.broadcastCacheInvalidate("mcp_servers", "")
		return true, map[string]interface{}{"ok": true}, nil

	case "plugins.channels.list":
		return true, map[string]interface{}{"channels": s.listChannelNames()}, nil

	case "plugins.providers.list":
		return true, map[string]interface{}{"providers": []string{"openai", "anthropic", "openrouter"}}, nil

	case "plugins.hooks.list":
		return true, map[string]interface{}{"hooks": []interface{}{}}, nil

	case "plugins.services.start", "plugins.services.stop":
		return true, map[string]interface{}{"ok": true}, nil

	case "plugins.setup_host":
		return true, map[string]interface{}{"ok": true}, nil

	case "plugins.status":
		return true, map[string]interface{}{"status": "ok"}, nil

	default:
		return false, nil, nil
	}
}

func (s *Server) listConfiguredPlugins() []string {
	s.cfg.RLock()
	defer s.cfg.RUnlock()
	names := make([]string, 0, len(s.cfg.Tools.McpServers))
	for name := range s.cfg.Tools.McpServers {
		names = append(names, name)
	}
	return names
}

func (s *Server) listChannelNames() []string {
	s.cfg.RLock()
	defer s.cfg.RUnlock()
	names := make([]string, 0)
	if s.cfg.Channels.Telegram.Enabled {
		names = append(names, "telegram")
	}
	if s.cfg.Channels.Discord.Enabled {
		names = append(names, "discord")
	}
	if s.cfg.Channels.Slack.Enabled {
		names = append(names, "slack")
	}
	return names
}
