package gateway

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/nodes"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

const defaultInvokeTimeout = 30 * time.Second

// handleNodeRuntimeFamily implements node.list/describe/rename/invoke,
// node.invoke.result (a node answering a prior invoke), node.event (a
// node pushing a voice transcript, chat subscription, or exec lifecycle
// notice), and node.pair.* — kept here rather than in the pairing
// family since it shares this stage's registry access.
func (s *Server) handleNodeRuntimeFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case "node.list":
		return true, map[string]interface{}{"nodes": s.nodeList(ctx)}, nil

	case "node.describe":
		return s.nodeDescribe(ctx, req)

	case "node.rename":
		return s.nodeRename(ctx, req)

	case "node.invoke":
		return s.nodeInvoke(ctx, req)

	case "node.invoke.result":
		return s.nodeInvokeResult(req)

	case "node.event":
		return s.nodeEvent(c, req)

	case "node.pair.request":
		return s.pairingRequest(ctx, req)

	case "node.pair.list":
		return s.pairingList(ctx)

	case "node.pair.approve":
		return s.pairingApprove(ctx, c, req)

	case "node.pair.reject":
		return s.pairingReject(ctx, c, req)

	case "node.pair.verify":
		return s.nodePairVerify(ctx, req)

	default:
		return false, nil, nil
	}
}

func (s *Server) nodeList(ctx context.Context) []nodes.NodeView {
	var paired []nodes.Paired
	if s.slots != nil {
		paired = nodes.LoadPaired(ctx, s.slots)
	}
	var live []nodes.Session
	if s.nodeReg != nil {
		live = s.nodeReg.ListConnected()
	}
	return nodes.MergeView(paired, live)
}

func (s *Server) nodeDescribe(ctx context.Context, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p struct {
		NodeID string `json:"nodeId"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	for _, v := range s.nodeList(ctx) {
		if v.NodeID == p.NodeID {
			return true, v, nil
		}
	}
	return true, nil, protocol.NewRPCError(protocol.ErrNotFound, "node not found: "+p.NodeID, nil)
}

func (s *Server) nodeRename(ctx context.Context, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p struct {
		NodeID      string `json:"nodeId"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if err := s.requireSlots(); err != nil {
		return true, nil, err
	}
	if !nodes.SaveRename(ctx, s.slots, p.NodeID, p.DisplayName) {
		return true, nil, protocol.NewRPCError(protocol.ErrNotFound, "node not paired: "+p.NodeID, nil)
	}
	s.broadcastCacheInvalidate("node", p.NodeID)
	return true, map[string]interface{}{"ok": true}, nil
}

type nodeInvokeParams struct {
	NodeID         string      `json:"nodeId"`
	Command        string      `json:"command"`
	Params         interface{} `json:"params,omitempty"`
	TimeoutMs      int64       `json:"timeoutMs,omitempty"`
	IdempotencyKey string      `json:"idempotencyKey,omitempty"`
}

func (s *Server) nodeInvoke(ctx context.Context, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if s.nodeReg == nil {
		return true, nil, protocol.NewRPCError(protocol.ErrUnavailable, "no node registry configured", nil)
	}
	var p nodeInvokeParams
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if p.NodeID == "" || p.Command == "" {
		return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, "nodeId and command are required", nil)
	}
	timeout := defaultInvokeTimeout
	if p.TimeoutMs > 0 {
		timeout = time.Duration(p.TimeoutMs) * time.Millisecond
	}
	res, err := s.nodeReg.Invoke(ctx, p.NodeID, p.Command, p.Params, timeout, p.IdempotencyKey)
	if err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrUnavailable, err.Error(), nil)
	}
	return true, res, nil
}

func (s *Server) nodeInvokeResult(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if s.nodeReg == nil {
		return true, map[string]interface{}{"accepted": false}, nil
	}
	var p struct {
		InvokeID    string             `json:"invokeId"`
		NodeID      string             `json:"nodeId"`
		OK          bool               `json:"ok"`
		Payload     interface{}        `json:"payload,omitempty"`
		PayloadJSON string             `json:"payloadJson,omitempty"`
		Error       *nodes.InvokeError `json:"error,omitempty"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	accepted := s.nodeReg.HandleInvokeResult(p.InvokeID, p.NodeID, p.OK, p.Payload, p.PayloadJSON, p.Error)
	return true, map[string]interface{}{"accepted": accepted}, nil
}

// nodeEvent fans a node-originated push out by its Kind field: voice
// transcripts and exec lifecycle notices are rebroadcast to operators as
// events; agent.request and chat.subscribe/unsubscribe are acknowledged
// with no further action. Every kind gets an {"ok": true} reply.
func (s *Server) nodeEvent(c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p struct {
		Kind    string      `json:"kind"`
		Payload interface{} `json:"payload,omitempty"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	switch p.Kind {
	case "voice.transcript":
		s.BroadcastEvent(*protocol.NewEvent("voice.transcript", p.Payload))
	case "exec.started", "exec.finished", "exec.denied":
		s.BroadcastEvent(*protocol.NewEvent(p.Kind, p.Payload))
	case "agent.request", "chat.subscribe", "chat.unsubscribe":
		// acknowledged only; nothing acts on these kinds.
	}
	return true, map[string]interface{}{"ok": true}, nil
}

func (s *Server) nodePairVerify(ctx context.Context, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireSlots(); err != nil {
		return true, nil, err
	}
	var p struct {
		DeviceID string `json:"deviceId"`
		Role     string `json:"role"`
		Token    string `json:"token"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if p.Role == "" {
		p.Role = "node"
	}
	ok := nodes.CheckToken(ctx, s.slots, p.DeviceID, p.Role, p.Token)
	return true, map[string]interface{}{"valid": ok}, nil
}
