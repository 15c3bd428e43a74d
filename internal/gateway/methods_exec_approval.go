package gateway

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/approvals"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

const defaultApprovalTimeout = 5 * time.Minute

// handleExecApprovalFamily implements exec.approval.request/waitDecision
// and exec.approvals.pending/get/resolve, wiring the approvals
// Coordinator's one-shot-future semantics directly onto the RPC surface.
// Forwarding to chat targets is the Forwarder's job: it is notified when a
// request is created and again when it is resolved.
func (s *Server) handleExecApprovalFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if s.approvals != nil {
		s.approvals.CleanupExpired()
	}
	switch req.Method {
	case "exec.approval.request":
		return s.execApprovalRequest(ctx, req)

	case "exec.approval.waitDecision":
		return s.execApprovalWait(ctx, req)

	case "exec.approval.resolve", protocol.MethodApprovalsApprove, protocol.MethodApprovalsDeny:
		return s.execApprovalResolve(req)

	case protocol.MethodApprovalsList, "exec.approvals.pending":
		return s.execApprovalsPending()

	case "exec.approvals.get":
		return s.execApprovalGet(req)

	default:
		return false, nil, nil
	}
}

func (s *Server) requireApprovals() *protocol.RPCError {
	if s.approvals == nil {
		return protocol.NewRPCError(protocol.ErrUnavailable, "no approval coordinator configured", nil)
	}
	return nil
}

type execApprovalParams struct {
	ID          string `json:"id,omitempty"`
	Command     string `json:"command"`
	Cwd         string `json:"cwd,omitempty"`
	Host        string `json:"host,omitempty"`
	Security    string `json:"security,omitempty"`
	Ask         string `json:"ask,omitempty"`
	AgentID     string `json:"agentId,omitempty"`
	SessionKey  string `json:"sessionKey,omitempty"`
	TimeoutMs   int64  `json:"timeoutMs,omitempty"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

// execApprovalRequest registers the approval and blocks for a decision
// within the same call (one-phase mode); a caller that wants to
// disconnect and poll separately should use waitDecision instead.
func (s *Server) execApprovalRequest(ctx context.Context, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireApprovals(); err != nil {
		return true, nil, err
	}
	var p execApprovalParams
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	timeout := defaultApprovalTimeout
	if p.TimeoutMs > 0 {
		timeout = time.Duration(p.TimeoutMs) * time.Millisecond
	}
	rec, err := s.approvals.Request(p.ID, approvals.Request{
		Command:    p.Command,
		Cwd:        p.Cwd,
		Host:       p.Host,
		Security:   p.Security,
		Ask:        p.Ask,
		AgentID:    p.AgentID,
		SessionKey: p.SessionKey,
	}, timeout, p.RequestedBy)
	if err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, err.Error(), nil)
	}
	if s.forwarder != nil {
		s.forwarder.NotifyRequested(rec.ID, rec.Request, rec.ExpiresAtMs)
	}
	s.BroadcastEvent(*protocol.NewEvent("exec.approval.requested", rec))

	decision, waitErr := s.approvals.Wait(ctx, rec.ID)
	if waitErr != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrTimeout, waitErr.Error(), nil)
	}
	return true, map[string]interface{}{"id": rec.ID, "decision": decision}, nil
}

func (s *Server) execApprovalWait(ctx context.Context, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireApprovals(); err != nil {
		return true, nil, err
	}
	var p struct {
		ID string `json:"id"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	decision, err := s.approvals.Wait(ctx, p.ID)
	if err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrTimeout, err.Error(), nil)
	}
	return true, map[string]interface{}{"id": p.ID, "decision": decision}, nil
}

func (s *Server) execApprovalResolve(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireApprovals(); err != nil {
		return true, nil, err
	}
	var p struct {
		ID         string `json:"id"`
		Decision   string `json:"decision"`
		ResolvedBy string `json:"resolvedBy,omitempty"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if req.Method == protocol.MethodApprovalsApprove && p.Decision == "" {
		p.Decision = string(approvals.DecisionAllowOnce)
	}
	if req.Method == protocol.MethodApprovalsDeny {
		p.Decision = string(approvals.DecisionDeny)
	}
	ev, err := s.approvals.Resolve(p.ID, p.Decision, p.ResolvedBy)
	if err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, err.Error(), nil)
	}
	if s.forwarder != nil {
		s.forwarder.NotifyResolved(ev.ID, ev.Decision, ev.ResolvedBy)
	}
	s.BroadcastEvent(*protocol.NewEvent("exec.approval.resolved", ev))
	return true, ev, nil
}

func (s *Server) execApprovalsPending() (bool, interface{}, *protocol.RPCError) {
	if err := s.requireApprovals(); err != nil {
		return true, nil, err
	}
	return true, map[string]interface{}{"pending": s.approvals.Pending()}, nil
}

func (s *Server) execApprovalGet(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireApprovals(); err != nil {
		return true, nil, err
	}
	var p struct {
		ID string `json:"id"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	rec, ok := s.approvals.Get(p.ID)
	if !ok {
		return true, nil, protocol.NewRPCError(protocol.ErrNotFound, "approval not found: "+p.ID, nil)
	}
	return true, rec, nil
}
