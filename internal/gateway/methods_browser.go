package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/nodes"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

const browserCapability = "browser"
const defaultBrowserTimeout = 20 * time.Second

// handleBrowserRequestFamily implements browser.request/act/snapshot/
// screenshot/pairing.status. A connected node advertising the "browser"
// capability is always preferred (real device browser, logged into the
// user's accounts); s.browser is the local headless fallback used only
// when no such node is connected.
func (s *Server) handleBrowserRequestFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case "browser.request":
		return s.browserRequest(ctx, req)

	case protocol.MethodBrowserAct:
		return s.browserAct(ctx, req)

	case protocol.MethodBrowserSnapshot:
		return s.browserSnapshot(ctx, req)

	case protocol.MethodBrowserScreenshot:
		return s.browserScreenshot(ctx, req)

	case protocol.MethodBrowserPairingStatus:
		return s.browserPairingStatus(ctx)

	default:
		return false, nil, nil
	}
}

// selectBrowserNode returns the live node id to target: nodeId if given
// and connected, else the sole connected node advertising "browser".
// Ambiguity (more than one candidate, none named) falls through to the
// local controller rather than guessing.
func (s *Server) selectBrowserNode(nodeID string) (string, bool) {
	if s.nodeReg == nil {
		return "", false
	}
	if nodeID != "" {
		if _, ok := s.nodeReg.Get(nodeID); ok {
			return nodeID, true
		}
		return "", false
	}
	var candidate string
	count := 0
	for _, sess := range s.nodeReg.ListConnected() {
		for _, capability := range sess.Caps {
			if capability == browserCapability {
				candidate = sess.NodeID
				count++
				break
			}
		}
	}
	if count == 1 {
		return candidate, true
	}
	return "", false
}

type browserRequestParams struct {
	NodeID    string      `json:"nodeId,omitempty"`
	Action    string      `json:"action"`
	Params    interface{} `json:"params,omitempty"`
	TimeoutMs int64       `json:"timeoutMs,omitempty"`
}

func (s *Server) browserRequest(ctx context.Context, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p browserRequestParams
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}

	if nodeID, ok := s.selectBrowserNode(p.NodeID); ok {
		timeout := defaultBrowserTimeout
		if p.TimeoutMs > 0 {
			timeout = time.Duration(p.TimeoutMs) * time.Millisecond
		}
		res, err := s.nodeReg.Invoke(ctx, nodeID, "browser."+p.Action, p.Params, timeout, "")
		if err != nil {
			return true, nil, protocol.NewRPCError(protocol.ErrUnavailable, err.Error(), nil)
		}
		return true, rewriteBrowserMedia(res), nil
	}

	if s.browser == nil {
		return true, nil, protocol.NewRPCError(protocol.ErrUnavailable, "no browser-capable node or local controller available", nil)
	}
	raw, _ := json.Marshal(p.Params)
	result, err := s.browser.Act(ctx, raw)
	if err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrInternal, err.Error(), nil)
	}
	return true, result, nil
}

func (s *Server) browserAct(ctx context.Context, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if s.browser == nil {
		return true, nil, protocol.NewRPCError(protocol.ErrUnavailable, "no local browser controller configured", nil)
	}
	result, err := s.browser.Act(ctx, req.Params)
	if err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrInternal, err.Error(), nil)
	}
	return true, result, nil
}

func (s *Server) browserSnapshot(ctx context.Context, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if s.browser == nil {
		return true, nil, protocol.NewRPCError(protocol.ErrUnavailable, "no local browser controller configured", nil)
	}
	result, err := s.browser.Snapshot(ctx)
	if err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrInternal, err.Error(), nil)
	}
	return true, result, nil
}

func (s *Server) browserScreenshot(ctx context.Context, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if s.browser == nil {
		return true, nil, protocol.NewRPCError(protocol.ErrUnavailable, "no local browser controller configured", nil)
	}
	b, err := s.browser.Screenshot(ctx)
	if err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrInternal, err.Error(), nil)
	}
	return true, map[string]interface{}{"imageBase64": base64.StdEncoding.EncodeToString(b)}, nil
}

func (s *Server) browserPairingStatus(ctx context.Context) (bool, interface{}, *protocol.RPCError) {
	_, nodeAvailable := s.selectBrowserNode("")
	return true, map[string]interface{}{
		"nodeAvailable":  nodeAvailable,
		"localAvailable": s.browser != nil,
	}, nil
}

// rewriteBrowserMedia is a placeholder hook for turning a node's
// base64-embedded screenshot payload into a locally servable HTTP URL;
// the gateway currently just passes the invoke result through unchanged.
func rewriteBrowserMedia(res nodes.InvokeResult) nodes.InvokeResult {
	return res
}
