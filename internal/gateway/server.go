// Package gateway implements the duplex WebSocket RPC surface: connection
// lifecycle, the fixed dispatch pipeline, and every rpc.* method family
// wired against the component packages (lanes, approvals, nodes, alerts,
// cron, sandbox, tracing, presence, rate limiting).
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/goclaw/internal/approvals"
	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/cron"
	"github.com/nextlevelbuilder/goclaw/internal/lanes"
	"github.com/nextlevelbuilder/goclaw/internal/nodes"
	"github.com/nextlevelbuilder/goclaw/internal/plugingateway"
	"github.com/nextlevelbuilder/goclaw/internal/presence"
	"github.com/nextlevelbuilder/goclaw/internal/sandbox"
	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/internal/tracing"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// AgentLoop is the external agent process's entrypoint, the only
// LLM-calling contract the gateway depends on. Everything upstream of it
// (prompt construction, tool execution, model calls) lives outside this
// process.
type AgentLoop interface {
	ProcessDirect(ctx context.Context, message, sessionKey string) (string, error)
}

// BrowserController performs local browser automation as the fallback
// path for browser.request when no capable node is connected.
type BrowserController interface {
	Act(ctx context.Context, params json.RawMessage) (interface{}, error)
	Snapshot(ctx context.Context) (interface{}, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Server is the gateway's WebSocket/HTTP surface: one process, one set of
// shared components, many concurrent Client connections.
type Server struct {
	cfg        *config.Config
	configPath string
	eventPub   bus.EventPublisher
	sessions store.SessionStore
	slots    store.SlotStore
	agent    AgentLoop
	browser  BrowserController

	router      *MethodRouter
	rateLimiter *RateLimiter
	presence    *presence.Store
	lanes       *lanes.Queue
	approvals   *approvals.Coordinator
	forwarder   *approvals.Forwarder
	nodeReg     *nodes.Registry
	cronSched   *cron.Scheduler
	tracer      *tracing.Recorder
	sandboxPol  *sandbox.Policy
	jobs        *jobRegistry
	plugins     *plugingateway.Manager

	upgrader websocket.Upgrader
	clients  map[string]*Client
	mu       sync.RWMutex

	startedAt  time.Time
	httpServer *http.Server
	mux        *http.ServeMux
}

// Deps bundles the component instances NewServer wires together. Any
// nil-able field degrades its RPC family to best-effort stubs rather than
// panicking, matching the storage-slot convention used everywhere else.
type Deps struct {
	ConfigPath string
	Sessions  store.SessionStore
	Slots     store.SlotStore
	Agent     AgentLoop
	Browser   BrowserController
	Presence  *presence.Store
	Lanes     *lanes.Queue
	Approvals *approvals.Coordinator
	Forwarder *approvals.Forwarder
	Nodes     *nodes.Registry
	Cron      *cron.Scheduler
	Tracer    *tracing.Recorder
	Sandbox   *sandbox.Policy
	Plugins   *plugingateway.Manager
}

// NewServer creates a gateway server with its component dependencies
// wired in.
func NewServer(cfg *config.Config, eventPub bus.EventPublisher, deps Deps) *Server {
	s := &Server{
		cfg:        cfg,
		configPath: deps.ConfigPath,
		eventPub:   eventPub,
		sessions:   deps.Sessions,
		slots:      deps.Slots,
		agent:      deps.Agent,
		browser:    deps.Browser,
		presence:   deps.Presence,
		lanes:      deps.Lanes,
		approvals:  deps.Approvals,
		forwarder:  deps.Forwarder,
		nodeReg:    deps.Nodes,
		cronSched:  deps.Cron,
		tracer:     deps.Tracer,
		sandboxPol: deps.Sandbox,
		jobs:       newJobRegistry(),
		plugins:    deps.Plugins,
		clients:    make(map[string]*Client),
		startedAt:  time.Now(),
	}
	if s.presence == nil {
		s.presence = presence.New()
	}
	if s.lanes == nil {
		s.lanes = lanes.New()
	}
	if s.nodeReg == nil {
		s.nodeReg = nodes.New(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	// rate_limit_rpm > 0  → enabled at that RPM
	// rate_limit_rpm <= 0 → disabled
	s.rateLimiter = NewRateLimiter(cfg.Gateway.RateLimitRPM, 5)

	s.router = NewMethodRouter(s)
	return s
}

// RateLimiter returns the server's rate limiter for use by method handlers.
func (s *Server) RateLimiter() *RateLimiter { return s.rateLimiter }

// Router returns the method router for registering additional handlers.
func (s *Server) Router() *MethodRouter { return s.router }

// checkOrigin validates WebSocket connection origin against the allowed
// origins whitelist. No configured origins means allow all (dev mode);
// an empty Origin header (non-browser clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.mux = mux
	return mux
}

// Start begins listening for WebSocket and HTTP connections.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)

	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

// BroadcastEvent fans an event out to connected clients, filtered per
// §4.7: an optional caller-provided role set, the event's required scope
// (operator.admin satisfies any requirement), and dead connections
// (send errors) culled in-line rather than left to the next write.
func (s *Server) BroadcastEvent(event protocol.EventFrame, roles ...string) {
	required := eventRequiredScope(event.Name)

	s.mu.RLock()
	targets := make([]*Client, 0, len(s.clients))
	for _, client := range s.clients {
		if len(roles) > 0 && !containsStr(roles, client.role) {
			continue
		}
		if required != "" && !client.hasScope(required) {
			continue
		}
		targets = append(targets, client)
	}
	s.mu.RUnlock()

	var dead []string
	for _, client := range targets {
		if err := client.trySendEvent(event); err != nil {
			dead = append(dead, client.id)
		}
	}
	if len(dead) == 0 {
		return
	}
	s.mu.Lock()
	for _, id := range dead {
		delete(s.clients, id)
	}
	s.mu.Unlock()
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (s *Server) registerClient(c *Client) {
	c.connectNonce = randomNonce()

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		if strings.HasPrefix(event.Name, "cache.") {
			return
		}
		if required := eventRequiredScope(event.Name); required != "" && !c.hasScope(required) {
			return
		}
		c.SendEvent(*protocol.NewEvent(event.Name, event.Payload))
	})

	c.SendEvent(*protocol.NewEvent(protocol.EventConnectChallenge, map[string]interface{}{"nonce": c.connectNonce}))

	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.eventPub.Unsubscribe(c.id)
	if s.nodeReg != nil {
		s.nodeReg.Disconnect(c.id)
	}
	if s.presence != nil {
		s.presence.RemoveByConnection(c.id)
	}
	slog.Info("client disconnected", "id", c.id)
}

// clientByID looks up a connected client, used to target node.invoke
// dispatches at a specific connection.
func (s *Server) clientByID(id string) (*Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	return c, ok
}

// clientByNodeID finds the connection whose bound node id matches, since
// a node's id is its deviceId (if paired) rather than its connection id.
func (s *Server) clientByNodeID(nodeID string) (*Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.nodeID == nodeID {
			return c, true
		}
	}
	return nil, false
}

// DispatchInvoke implements nodes.Dispatcher by pushing an invoke
// request frame to the node's live connection.
func (s *Server) DispatchInvoke(nodeID, invokeID, command string, params interface{}) error {
	c, ok := s.clientByNodeID(nodeID)
	if !ok {
		return fmt.Errorf("gateway: node %q not connected", nodeID)
	}
	c.SendEvent(*protocol.NewEvent("node.invoke", map[string]interface{}{
		"invokeId": invokeID,
		"command":  command,
		"params":   params,
	}))
	return nil
}

// StartTestServer creates a listener on :0 and returns the actual
// address and a start function, for integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}

	return addr, start
}

// nowMs is the single clock source method handlers use, matching the
// original implementation's now_ms() convention.
func nowMs() int64 { return time.Now().UnixMilli() }
