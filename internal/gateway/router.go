package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// FamilyHandler examines a request and either handles it (handled=true,
// with result or err set) or declines (handled=false), letting the
// pipeline try the next family. A handler that panics is recovered at
// the Dispatch boundary and mapped to INTERNAL_ERROR.
type FamilyHandler func(ctx context.Context, c *Client, req protocol.RequestFrame) (handled bool, result interface{}, err *protocol.RPCError)

// MethodRouter runs a fixed, ordered chain of family handlers per
// request. Ordering is load-bearing: later handlers may depend on state
// changes earlier ones made within the same dispatch (e.g. connect
// binding the client's session before the chat runtime family runs).
type MethodRouter struct {
	chain []FamilyHandler
}

// NewMethodRouter builds the router with the standard 19-stage pipeline,
// wiring each family handler against the server's components.
func NewMethodRouter(s *Server) *MethodRouter {
	r := &MethodRouter{}
	r.chain = []FamilyHandler{
		s.handleConnectFamily,          // 1. connect
		s.handleHealthFamily,           // 2. health/status
		s.handleAgentsFamily,           // 3. agents.*
		s.handleMiscFamily,             // 4. misc
		s.handleChatRuntimeFamily,      // 5. chat runtime
		s.handleLanesFamily,            // 6. lanes.*
		s.handleTracesFamily,           // 7. traces.*
		s.handleSessionsUsageFamily,    // 8. sessions.* / usage.*
		s.handleConfigFamily,           // 9. config.*
		s.handlePluginsFamily,          // 10. plugins.*
		s.handleControlStateFamily,     // 11. control-state
		s.handleWebLoginFamily,         // 12. web-login
		s.handlePairingFamily,          // 13. pairing
		s.handleNodeRuntimeFamily,      // 14. node runtime
		s.handleBrowserRequestFamily,   // 15. browser.request
		s.handleExecApprovalFamily,     // 16. exec.approval.* / exec.approvals.*
		s.handleSandboxFamily,          // 17. sandbox.*
		s.handleCronFamily,             // 18. cron.*
		s.handlePluginGatewayFamily,    // 19. plugin gateway passthrough
	}
	return r
}

// Dispatch runs req through the pipeline and builds the response frame.
// A nil return means the request was a fire-and-forget notification with
// no response expected (none currently defined, but kept for symmetry
// with the original's handler contract).
func (r *MethodRouter) Dispatch(ctx context.Context, c *Client, req protocol.RequestFrame) (resp *protocol.ResponseFrame) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("dispatch panic", "method", req.Method, "panic", rec)
			resp = protocol.NewErrorResponse(req.ID, protocol.NewRPCError(protocol.ErrInternal, "internal error", nil))
		}
	}()

	for _, handler := range r.chain {
		handled, result, rpcErr := handler(ctx, c, req)
		if !handled {
			continue
		}
		if rpcErr != nil {
			return protocol.NewErrorResponse(req.ID, rpcErr)
		}
		return protocol.NewResponse(req.ID, result)
	}

	return protocol.NewErrorResponse(req.ID, protocol.NewRPCError(
		protocol.ErrInvalidRequest,
		fmt.Sprintf("unknown method: %s", req.Method),
		nil,
	))
}
