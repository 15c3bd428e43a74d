package gateway

import (
	"context"

	"github.com/nextlevelbuilder/goclaw/internal/nodes"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// handlePairingFamily implements device.pair.* and device.token.*. Node
// pairing (node.pair.*) is handled by the node runtime family since it
// shares that stage's registry access, per the pipeline's fixed order
// (node runtime runs after pairing, so a just-approved node can
// immediately reconnect and register).
func (s *Server) handlePairingFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case protocol.MethodPairingRequest:
		return s.pairingRequest(ctx, req)

	case protocol.MethodPairingApprove:
		return s.pairingApprove(ctx, c, req)

	case protocol.MethodPairingList:
		return s.pairingList(ctx)

	case protocol.MethodPairingRevoke:
		return s.pairingRevoke(ctx, c, req)

	case "device.pair.reject":
		return s.pairingReject(ctx, c, req)

	case "device.token.rotate":
		return s.tokenRotate(ctx, c, req)

	case "device.token.revoke":
		return s.tokenRevoke(ctx, c, req)

	default:
		return false, nil, nil
	}
}

func (s *Server) requireSlots() *protocol.RPCError {
	if s.slots == nil {
		return protocol.NewRPCError(protocol.ErrUnavailable, "no slot store configured", nil)
	}
	return nil
}

type pairRequestParams struct {
	DeviceID    string   `json:"deviceId"`
	DisplayName string   `json:"displayName,omitempty"`
	Platform    string   `json:"platform,omitempty"`
	Role        string   `json:"role,omitempty"`
	Caps        []string `json:"caps,omitempty"`
}

func (s *Server) pairingRequest(ctx context.Context, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireSlots(); err != nil {
		return true, nil, err
	}
	var p pairRequestParams
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if p.Role == "" {
		p.Role = "node"
	}
	pending := nodes.RequestPair(ctx, s.slots, p.DeviceID, p.DisplayName, p.Platform, p.Role, p.Caps)
	s.BroadcastEvent(*protocol.NewEvent("device.pair.requested", pending))
	return true, pending, nil
}

func (s *Server) pairingApprove(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if !c.hasScope("operator.pairing") {
		return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, "missing scope: operator.pairing", nil)
	}
	if err := s.requireSlots(); err != nil {
		return true, nil, err
	}
	var p struct {
		RequestID string `json:"requestId"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	paired, token, ok := nodes.ApprovePair(ctx, s.slots, p.RequestID)
	if !ok {
		return true, nil, protocol.NewRPCError(protocol.ErrNotFound, "pair request not found: "+p.RequestID, nil)
	}
	s.BroadcastEvent(*protocol.NewEvent("device.pair.resolved", map[string]interface{}{"deviceId": paired.DeviceID, "status": "approved"}))
	return true, map[string]interface{}{"paired": paired, "token": token}, nil
}

func (s *Server) pairingReject(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if !c.hasScope("operator.pairing") {
		return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, "missing scope: operator.pairing", nil)
	}
	if err := s.requireSlots(); err != nil {
		return true, nil, err
	}
	var p struct {
		RequestID string `json:"requestId"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	ok := nodes.RejectPair(ctx, s.slots, p.RequestID)
	if !ok {
		return true, nil, protocol.NewRPCError(protocol.ErrNotFound, "pair request not found: "+p.RequestID, nil)
	}
	s.BroadcastEvent(*protocol.NewEvent("device.pair.resolved", map[string]interface{}{"requestId": p.RequestID, "status": "rejected"}))
	return true, map[string]interface{}{"ok": true}, nil
}

func (s *Server) pairingList(ctx context.Context) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireSlots(); err != nil {
		return true, nil, err
	}
	return true, map[string]interface{}{
		"pending": nodes.LoadPending(ctx, s.slots),
		"paired":  nodes.LoadPaired(ctx, s.slots),
	}, nil
}

func (s *Server) pairingRevoke(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if !c.hasScope("operator.admin") {
		return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, "missing scope: operator.admin", nil)
	}
	if err := s.requireSlots(); err != nil {
		return true, nil, err
	}
	var p struct {
		DeviceID string `json:"deviceId"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	ok := nodes.RevokePair(ctx, s.slots, p.DeviceID)
	if !ok {
		return true, nil, protocol.NewRPCError(protocol.ErrNotFound, "device not paired: "+p.DeviceID, nil)
	}
	return true, map[string]interface{}{"ok": true}, nil
}

func (s *Server) tokenRotate(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if !c.hasScope("operator.admin") {
		return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, "missing scope: operator.admin", nil)
	}
	if err := s.requireSlots(); err != nil {
		return true, nil, err
	}
	var p struct {
		DeviceID string `json:"deviceId"`
		Role     string `json:"role"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	token := nodes.RotateToken(ctx, s.slots, p.DeviceID, p.Role)
	return true, map[string]interface{}{"token": token}, nil
}

func (s *Server) tokenRevoke(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if !c.hasScope("operator.admin") {
		return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, "missing scope: operator.admin", nil)
	}
	if err := s.requireSlots(); err != nil {
		return true, nil, err
	}
	var p struct {
		DeviceID string `json:"deviceId"`
		Role     string `json:"role"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	ok := nodes.RevokeToken(ctx, s.slots, p.DeviceID, p.Role)
	return true, map[string]interface{}{"ok": ok}, nil
}
