package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nextlevelbuilder/goclaw/internal/tracing"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// runState tracks one in-flight or completed agent job, the gateway's
// AgentJob record. abortRequested is a flag the agent loop would poll in
// a real deployment; here it only gates whether a late agent.wait still
// reports "aborted" instead of the run's actual result.
type runState struct {
	mu             sync.Mutex
	runID          string
	sessionKey     string
	status         string // running, ok, error, aborted
	startedAtMs    int64
	endedAtMs      int64
	result         string
	errText        string
	abortRequested bool
	done           chan struct{}
}

// jobRegistry is the Agent Job Registry (C7): runId -> job. The
// sessionKey -> runId single-flight index lives in the lane queue.
type jobRegistry struct {
	mu      sync.Mutex
	byRun   map[string]*runState
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{byRun: make(map[string]*runState)}
}

func (j *jobRegistry) start(runID, sessionKey string) *runState {
	rs := &runState{
		runID:       runID,
		sessionKey:  sessionKey,
		status:      "running",
		startedAtMs: nowMs(),
		done:        make(chan struct{}),
	}
	j.mu.Lock()
	j.byRun[runID] = rs
	j.mu.Unlock()
	return rs
}

func (j *jobRegistry) get(runID string) (*runState, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rs, ok := j.byRun[runID]
	return rs, ok
}

func (rs *runState) finish(status, result, errText string) {
	rs.mu.Lock()
	if rs.status != "running" {
		rs.mu.Unlock()
		return
	}
	rs.status = status
	rs.result = result
	rs.errText = errText
	rs.endedAtMs = nowMs()
	rs.mu.Unlock()
	close(rs.done)
}

func (rs *runState) snapshot() (status, result, errText string, startedAtMs, endedAtMs int64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.status, rs.result, rs.errText, rs.startedAtMs, rs.endedAtMs
}

// handleChatRuntimeFamily admits chat.send/agent requests into the lane
// queue (at most one run per sessionKey), tracks completion through the
// job registry, and answers chat.history/chat.abort/agent.wait.
func (s *Server) handleChatRuntimeFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case protocol.MethodChatSend, protocol.MethodAgent:
		return s.admitRun(ctx, c, req)

	case protocol.MethodChatInject:
		return s.admitRun(ctx, c, req)

	case protocol.MethodChatHistory:
		return s.chatHistory(req)

	case protocol.MethodChatAbort:
		return s.chatAbort(req)

	case protocol.MethodAgentWait:
		return s.agentWait(ctx, req)

	default:
		return false, nil, nil
	}
}

type sendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	ExpectFinal    bool   `json:"expectFinal,omitempty"`
	TimeoutMs      int64  `json:"timeoutMs,omitempty"`
}

func (s *Server) admitRun(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p sendParams
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if p.SessionKey == "" {
		return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, "sessionKey is required", nil)
	}

	runID := p.IdempotencyKey
	if runID == "" {
		runID = "run_" + uuid.NewString()
	}

	if !s.lanes.CanRun(p.SessionKey) {
		enq := s.lanes.Enqueue(p.SessionKey, runID, req.Params, nowMs())
		if enq.Status == "rejected" {
			return true, nil, protocol.NewRPCError("QUEUE_FULL", "session lane is full", nil)
		}
		s.BroadcastEvent(*protocol.NewEvent("lanes.enqueued", map[string]interface{}{
			"sessionKey": p.SessionKey, "runId": runID, "position": enq.Position,
		}))
		return true, map[string]interface{}{"status": "queued", "runId": runID, "position": enq.Position, "queueDepth": enq.QueueDepth}, nil
	}

	s.lanes.MarkRunning(p.SessionKey, runID)
	rs := s.runs().start(runID, p.SessionKey)

	traceID := ""
	if s.tracer != nil {
		traceID = s.tracer.StartRun(runID, p.SessionKey)
	}

	go s.runAgent(p.SessionKey, runID, p.Message, rs, traceID)

	if p.ExpectFinal {
		timeout := time.Duration(p.TimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		select {
		case <-rs.done:
			status, result, errText, started, ended := rs.snapshot()
			return true, map[string]interface{}{
				"status": status, "runId": runID, "result": result, "error": errText,
				"startedAtMs": started, "endedAtMs": ended,
			}, nil
		case <-time.After(timeout):
			return true, map[string]interface{}{"status": "timeout", "runId": runID}, nil
		case <-ctx.Done():
			return true, map[string]interface{}{"status": "timeout", "runId": runID}, nil
		}
	}

	status := "started"
	if req.Method == protocol.MethodAgent {
		status = "accepted"
	}
	return true, map[string]interface{}{"status": status, "runId": runID}, nil
}

// runAgent executes the agent loop in the background and, on completion,
// advances the session's lane: ends the current run, dequeues the next
// pending item (preserving FIFO order), and broadcasts the chat event.
func (s *Server) runAgent(sessionKey, runID, message string, rs *runState, traceID string) {
	status, result, errText := "ok", "", ""

	if s.agent == nil {
		status, errText = "error", "no agent loop configured"
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		resp, err := s.agent.ProcessDirect(ctx, message, sessionKey)
		if err != nil {
			status, errText = "error", err.Error()
		} else {
			result = resp
		}
	}

	rs.mu.Lock()
	aborted := rs.abortRequested
	rs.mu.Unlock()
	if aborted {
		status = "aborted"
	}

	rs.finish(status, result, errText)

	if s.tracer != nil && traceID != "" {
		s.tracer.Record(traceID, tracing.Event{TsMs: nowMs(), Kind: "run", Name: "complete", Error: errText})
		s.tracer.EndRun(context.Background(), traceID, status, errText)
	}

	s.lanes.MarkIdle(sessionKey)
	s.BroadcastEvent(*protocol.NewEvent("chat", map[string]interface{}{
		"sessionKey": sessionKey, "runId": runID, "state": status, "result": result, "error": errText,
	}))

	if item, ok := s.lanes.Dequeue(sessionKey); ok {
		s.lanes.MarkRunning(sessionKey, item.RunID)
		next := s.runs().start(item.RunID, sessionKey)
		var nextTraceID string
		if s.tracer != nil {
			nextTraceID = s.tracer.StartRun(item.RunID, sessionKey)
		}
		var np sendParams
		_ = json.Unmarshal(item.Params, &np) // already decoded once by admitRun
		go s.runAgent(sessionKey, item.RunID, np.Message, next, nextTraceID)
	}
}

// runs returns the server's job registry, kept process-wide (not
// per-connection) so a run outlives the connection that submitted it and
// remains reachable from a later agent.wait on any connection.
func (s *Server) runs() *jobRegistry { return s.jobs }

func (s *Server) chatHistory(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if s.sessions == nil {
		return true, map[string]interface{}{"messages": []interface{}{}}, nil
	}
	return true, map[string]interface{}{"messages": s.sessions.GetHistory(p.SessionKey)}, nil
}

func (s *Server) chatAbort(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p struct {
		RunID string `json:"runId"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	rs, ok := s.runs().get(p.RunID)
	if !ok {
		return true, nil, protocol.NewRPCError(protocol.ErrNotFound, "run not found: "+p.RunID, nil)
	}
	rs.mu.Lock()
	rs.abortRequested = true
	rs.mu.Unlock()

	s.BroadcastEvent(*protocol.NewEvent("chat", map[string]interface{}{"runId": p.RunID, "state": "aborted"}))
	return true, map[string]interface{}{"ok": true}, nil
}

func (s *Server) agentWait(ctx context.Context, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p struct {
		RunID     string `json:"runId"`
		TimeoutMs int64  `json:"timeoutMs"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	rs, ok := s.runs().get(p.RunID)
	if !ok {
		return true, nil, protocol.NewRPCError(protocol.ErrNotFound, "run not found: "+p.RunID, nil)
	}

	timeout := time.Duration(p.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case <-rs.done:
		status, result, errText, started, ended := rs.snapshot()
		return true, map[string]interface{}{
			"status": status, "runId": p.RunID, "result": result, "error": errText,
			"startedAtMs": started, "endedAtMs": ended,
		}, nil
	case <-time.After(timeout):
		return true, map[string]interface{}{"status": "timeout", "runId": p.RunID}, nil
	case <-ctx.Done():
		return true, map[string]interface{}{"status": "timeout", "runId": p.RunID}, nil
	}
}
