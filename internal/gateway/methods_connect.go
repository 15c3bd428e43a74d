package gateway

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/nextlevelbuilder/goclaw/internal/nodes"
	"github.com/nextlevelbuilder/goclaw/internal/presence"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// Role is the authenticated identity bound to a connection after connect
// succeeds.
const (
	RoleUnknown  = "unknown"
	RoleOperator = "operator"
	RoleNode     = "node"
)

// nodeRoleMethods are the only methods a node-role connection may invoke,
// mirroring the original's NODE_ROLE_METHODS allowlist.
var nodeRoleMethods = map[string]bool{
	protocol.MethodConnect:        true,
	"node.event":                  true,
	"node.invoke.result":          true,
	"exec.approval.request":       true,
	"exec.approval.waitDecision":  true,
}

var defaultOperatorScopes = []string{"operator.read", "operator.write", "operator.approvals", "operator.pairing"}

// ConnectParams is the payload of a connect request.
type ConnectParams struct {
	Role     string   `json:"role"`
	Scopes   []string `json:"scopes,omitempty"`
	ClientID string   `json:"clientId"`
	Token    string   `json:"token,omitempty"`
	Password string   `json:"password,omitempty"`
	DeviceID string   `json:"deviceId,omitempty"`
	Platform string   `json:"platform,omitempty"`
	Version  string   `json:"version,omitempty"`
	Caps     []string `json:"caps,omitempty"`
	Commands []string `json:"commands,omitempty"`
	Nonce    string   `json:"nonce,omitempty"`
}

// handleConnectFamily authenticates the connect request and binds role +
// scopes onto the client for every subsequent dispatch on this connection.
// It also doubles as the universal per-request authorization gate: every
// other stage in the pipeline runs only after this one has let the
// request through, so the connected/role/scope/canary checks all live
// here rather than being duplicated per family.
func (s *Server) handleConnectFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if req.Method != protocol.MethodConnect {
		if !c.authenticated {
			return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, "connect required before any other method", nil)
		}
		if c.role == RoleNode && !nodeRoleMethods[req.Method] {
			return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, "method not permitted for node role", nil)
		}
		if !s.canaryAllowed(req.Method) {
			return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, "method not enabled under the current canary rollout", nil)
		}
		if c.role != RoleNode {
			if scope := requiredScope(req.Method); scope != "" && !c.hasScope(scope) {
				return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, "missing scope: "+scope, nil)
			}
		}
		return false, nil, nil
	}

	var p ConnectParams
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}

	if p.Nonce == "" || p.Nonce != c.connectNonce {
		return true, nil, protocol.NewRPCError(protocol.ErrUnauthorized, "missing or mismatched connect nonce", nil)
	}

	ip := clientIP(c)
	if s.rateLimiter.Enabled() && !s.rateLimiter.Allow(ip) {
		return true, nil, protocol.NewRPCError(protocol.ErrRateLimited, "too many connect attempts, try again later", nil)
	}

	if !s.authenticate(ctx, p) {
		return true, nil, protocol.NewRPCError(protocol.ErrUnauthorized, "authentication failed", nil)
	}

	role := p.Role
	if role != RoleOperator && role != RoleNode {
		role = RoleOperator
	}

	if role == RoleNode {
		deviceID := firstNonEmptyStr(p.DeviceID, c.id)
		if !s.isPairedNode(ctx, deviceID) {
			return true, nil, protocol.NewRPCError(protocol.ErrUnauthorized, "device is not a paired node: "+deviceID, nil)
		}
		if s.nodeReg != nil {
			s.nodeReg.Connect(nodes.Session{
				NodeID:        deviceID,
				Platform:      p.Platform,
				Version:       p.Version,
				RemoteIP:      ip,
				Caps:          p.Caps,
				Commands:      p.Commands,
				ConnectedAtMs: nowMs(),
			})
		}
		c.nodeID = deviceID
	}

	c.authenticated = true
	c.ownerID = p.ClientID
	c.role = role
	c.scopes = s.resolveScopes(ctx, p)
	c.connectNonce = "" // one-shot; a reconnect gets a freshly issued nonce

	if s.presence != nil {
		s.presence.Upsert(c.id, presence.Upsert{
			Reason:        "connect",
			Mode:          role,
			Host:          p.Platform,
			Version:       p.Version,
			IP:            ip,
			ConnectionKey: c.id,
		})
	}

	return true, s.buildConnectSnapshot(c), nil
}

// authenticate implements acceptance rule 3: a shared-secret token or
// password match, a device token whose hash matches a paired-device
// record, or the process running with allow_insecure_auth (dev only).
func (s *Server) authenticate(ctx context.Context, p ConnectParams) bool {
	if s.cfg.Gateway.Token != "" {
		if p.Token != "" && constantTimeEqual(p.Token, s.cfg.Gateway.Token) {
			return true
		}
		if p.Password != "" && constantTimeEqual(p.Password, s.cfg.Gateway.Token) {
			return true
		}
	}
	if p.DeviceID != "" && p.Token != "" && s.slots != nil {
		role := p.Role
		if role == "" {
			role = RoleNode
		}
		if nodes.CheckToken(ctx, s.slots, p.DeviceID, role, p.Token) {
			return true
		}
	}
	return s.cfg.Gateway.AllowInsecureAuth
}

// isPairedNode implements acceptance rule 4: a node-role connect is only
// accepted for a device already present in the pairing table under the
// node role.
func (s *Server) isPairedNode(ctx context.Context, deviceID string) bool {
	if s.slots == nil {
		return false
	}
	for _, paired := range nodes.LoadPaired(ctx, s.slots) {
		if paired.DeviceID != deviceID {
			continue
		}
		if paired.Role == RoleNode {
			return true
		}
		for _, r := range paired.Roles {
			if r == RoleNode {
				return true
			}
		}
	}
	return false
}

func constantTimeEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

// resolveScopes implements acceptance rule 5: the granted set is the
// intersection of what the client requested and what the device is
// actually allowed, falling back to the configured default only when the
// client requested nothing at all. A deviceId with no paired record (or
// no deviceId at all — typical operator-UI connect over the shared
// secret) is granted the default set, since the shared-secret/password
// check already gated entry for that case.
func (s *Server) resolveScopes(ctx context.Context, p ConnectParams) map[string]bool {
	granted := defaultOperatorScopes
	if p.DeviceID != "" && s.slots != nil {
		for _, paired := range nodes.LoadPaired(ctx, s.slots) {
			if paired.DeviceID == p.DeviceID && len(paired.Permissions) > 0 {
				granted = paired.Permissions
				break
			}
		}
	}
	if len(p.Scopes) == 0 {
		return toScopeSet(granted)
	}
	grantedSet := toScopeSet(granted)
	out := make(map[string]bool, len(p.Scopes))
	for _, sc := range p.Scopes {
		if grantedSet[sc] {
			out[sc] = true
		}
	}
	return out
}

func toScopeSet(scopes []string) map[string]bool {
	out := make(map[string]bool, len(scopes))
	for _, sc := range scopes {
		out[sc] = true
	}
	return out
}

func firstNonEmptyStr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// randomNonce generates the per-connection connect.challenge nonce.
func randomNonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// buildConnectSnapshot assembles the post-connect overview payload: role,
// presence roster, and current lane summary, so the client doesn't need a
// round trip per section immediately after connecting.
func (s *Server) buildConnectSnapshot(c *Client) map[string]interface{} {
	snap := map[string]interface{}{
		"protocolVersion": protocol.ProtocolVersion,
		"role":            c.role,
		"clientId":        c.ownerID,
		"connectionKey":   c.id,
		"connectedAtMs":   nowMs(),
	}
	if s.presence != nil {
		snap["presence"] = s.presence.List()
	}
	if s.lanes != nil {
		_, summary := s.lanes.ListAll(nowMs())
		snap["lanes"] = summary
	}
	return snap
}
