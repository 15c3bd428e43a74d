// Package plugingateway connects to the hosted MCP servers declared in
// tools.mcp_servers and exposes their tool catalogs and invocations
// through the RPC surface directly — there is no LLM tool-execution
// layer in this process to hand tools to, so the plugin gateway
// passthrough stage of the dispatch pipeline is itself the consumer.
package plugingateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/goclaw/internal/config"
)

const (
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
)

// ServerStatus reports one configured MCP server's live connection state.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"toolCount"`
	Error     string `json:"error,omitempty"`
}

// ToolInfo describes one discovered tool, namespaced by its server.
type ToolInfo struct {
	Server      string `json:"server"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type serverState struct {
	name       string
	transport  string
	client     *mcpclient.Client
	connected  atomic.Bool
	tools      []mcpgo.Tool
	timeoutSec int
	cancel     context.CancelFunc

	mu             sync.Mutex
	reconnAttempts int
	lastErr        string
}

// Manager owns the set of live MCP server connections, keyed by the name
// they're declared under in tools.mcp_servers.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*serverState
}

// NewManager builds an empty Manager; call Start to connect configured
// servers.
func NewManager() *Manager {
	return &Manager{servers: make(map[string]*serverState)}
}

// Start connects to every enabled server in cfgs. Non-fatal per server:
// a failed connection is logged and skipped rather than aborting the rest.
func (m *Manager) Start(ctx context.Context, cfgs map[string]*config.MCPServerConfig) error {
	var errs []string
	for name, cfg := range cfgs {
		if !cfg.IsEnabled() {
			slog.Info("plugingateway.server.disabled", "server", name)
			continue
		}
		if err := m.connectServer(ctx, name, cfg); err != nil {
			slog.Warn("plugingateway.server.connect_failed", "server", name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("some MCP servers failed to connect: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (m *Manager) connectServer(ctx context.Context, name string, cfg *config.MCPServerConfig) error {
	client, err := createClient(cfg.Transport, cfg.Command, cfg.Args, cfg.Env, cfg.URL, cfg.Headers)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	if cfg.Transport != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "goclaw-gateway", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	toolsResult, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	timeoutSec := cfg.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = 60
	}

	ss := &serverState{name: name, transport: cfg.Transport, client: client, tools: toolsResult.Tools, timeoutSec: timeoutSec}
	ss.connected.Store(true)

	hctx, hcancel := context.WithCancel(context.Background())
	ss.cancel = hcancel
	go m.healthLoop(hctx, ss)

	m.mu.Lock()
	m.servers[name] = ss
	m.mu.Unlock()

	slog.Info("plugingateway.server.connected", "server", name, "transport", cfg.Transport, "tools", len(toolsResult.Tools))
	return nil
}

func createClient(transportType, command string, args []string, env map[string]string, url string, headers map[string]string) (*mcpclient.Client, error) {
	switch transportType {
	case "stdio":
		return mcpclient.NewStdioMCPClient(command, mapToEnvSlice(env), args...)
	case "sse":
		var opts []transport.ClientOption
		if len(headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(headers))
		}
		return mcpclient.NewSSEMCPClient(url, opts...)
	case "streamable-http":
		var opts []transport.StreamableHTTPCOption
		if len(headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(headers))
		}
		return mcpclient.NewStreamableHttpClient(url, opts...)
	default:
		return nil, fmt.Errorf("unsupported transport: %q", transportType)
	}
}

func mapToEnvSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// Stop closes every live connection.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if ss.client != nil {
			if err := ss.client.Close(); err != nil {
				slog.Debug("plugingateway.server.close_error", "server", name, "error", err)
			}
		}
	}
	m.servers = make(map[string]*serverState)
}

// ServerStatuses reports the live state of every server that connected in
// Start; disabled servers and servers whose first connection failed are
// not listed.
func (m *Manager) ServerStatuses() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		ss.mu.Lock()
		lastErr := ss.lastErr
		ss.mu.Unlock()
		out = append(out, ServerStatus{Name: ss.name, Transport: ss.transport, Connected: ss.connected.Load(), ToolCount: len(ss.tools), Error: lastErr})
	}
	return out
}

// ListTools returns every discovered tool across every connected server.
func (m *Manager) ListTools() []ToolInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ToolInfo
	for _, ss := range m.servers {
		for _, t := range ss.tools {
			out = append(out, ToolInfo{Server: ss.name, Name: t.Name, Description: t.Description})
		}
	}
	return out
}

// CallTool invokes a named tool on a named server and returns its raw
// content blocks as the passthrough result.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]interface{}) (*mcpgo.CallToolResult, error) {
	m.mu.RLock()
	ss, ok := m.servers[server]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugingateway: server %q not connected", server)
	}
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(ss.timeoutSec)*time.Second)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args
	return ss.client.CallTool(callCtx, req)
}

func (m *Manager) healthLoop(ctx context.Context, ss *serverState) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ss.client.Ping(ctx); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "method not found") {
					ss.connected.Store(true)
					continue
				}
				ss.connected.Store(false)
				ss.mu.Lock()
				ss.lastErr = err.Error()
				ss.mu.Unlock()
				slog.Warn("plugingateway.server.health_failed", "server", ss.name, "error", err)
				m.tryReconnect(ctx, ss)
			} else {
				ss.connected.Store(true)
				ss.mu.Lock()
				ss.reconnAttempts = 0
				ss.lastErr = ""
				ss.mu.Unlock()
			}
		}
	}
}

func (m *Manager) tryReconnect(ctx context.Context, ss *serverState) {
	ss.mu.Lock()
	if ss.reconnAttempts >= maxReconnectAttempts {
		ss.lastErr = fmt.Sprintf("max reconnect attempts (%d) reached", maxReconnectAttempts)
		ss.mu.Unlock()
		slog.Error("plugingateway.server.reconnect_exhausted", "server", ss.name)
		return
	}
	ss.reconnAttempts++
	attempt := ss.reconnAttempts
	ss.mu.Unlock()

	backoff := initialBackoff * time.Duration(1<<(attempt-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}
	if err := ss.client.Ping(ctx); err == nil {
		ss.connected.Store(true)
		ss.mu.Lock()
		ss.reconnAttempts = 0
		ss.lastErr = ""
		ss.mu.Unlock()
		slog.Info("plugingateway.server.reconnected", "server", ss.name)
	}
}
