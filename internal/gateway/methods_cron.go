package gateway

import (
	"context"

	"github.com/nextlevelbuilder/goclaw/internal/cron"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// handleCronFamily implements cron.list/status/add(create)/update/
// remove(delete)/toggle/run/runs, a thin RPC skin over cron.Scheduler.
// Method names accept both the add/remove spelling and the
// create/delete constants already declared in pkg/protocol, since both
// show up across the method catalog's phases.
func (s *Server) handleCronFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case protocol.MethodCronList:
		return s.cronList(req)

	case protocol.MethodCronStatus:
		return s.cronStatus()

	case protocol.MethodCronCreate, "cron.add":
		return s.cronAdd(req)

	case protocol.MethodCronUpdate:
		return s.cronUpdate(req)

	case protocol.MethodCronDelete, "cron.remove":
		return s.cronRemove(req)

	case protocol.MethodCronToggle:
		return s.cronToggle(req)

	case protocol.MethodCronRun:
		return s.cronRun(ctx, req)

	case protocol.MethodCronRuns:
		return s.cronRuns(req)

	default:
		return false, nil, nil
	}
}

func (s *Server) requireCron() *protocol.RPCError {
	if s.cronSched == nil {
		return protocol.NewRPCError(protocol.ErrUnavailable, "no cron scheduler configured", nil)
	}
	return nil
}

func (s *Server) cronList(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireCron(); err != nil {
		return true, nil, err
	}
	var p struct {
		IncludeDisabled bool `json:"includeDisabled,omitempty"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	return true, map[string]interface{}{"jobs": s.cronSched.List(p.IncludeDisabled)}, nil
}

func (s *Server) cronStatus() (bool, interface{}, *protocol.RPCError) {
	if err := s.requireCron(); err != nil {
		return true, nil, err
	}
	return true, s.cronSched.Status(), nil
}

func (s *Server) cronAdd(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireCron(); err != nil {
		return true, nil, err
	}
	var job cron.Job
	if err := decodeParams(req, &job); err != nil {
		return true, nil, err
	}
	created, err := s.cronSched.Add(job)
	if err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, err.Error(), nil)
	}
	return true, created, nil
}

func (s *Server) cronUpdate(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireCron(); err != nil {
		return true, nil, err
	}
	var p struct {
		ID      string `json:"id"`
		Enabled *bool  `json:"enabled,omitempty"`
		Name    *string `json:"name,omitempty"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	job, err := s.cronSched.Patch(p.ID, cron.JobPatch{Enabled: p.Enabled, Name: p.Name})
	if err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrNotFound, err.Error(), nil)
	}
	return true, job, nil
}

func (s *Server) cronRemove(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireCron(); err != nil {
		return true, nil, err
	}
	var p struct {
		ID string `json:"id"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if err := s.cronSched.Remove(p.ID); err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrNotFound, err.Error(), nil)
	}
	return true, map[string]interface{}{"ok": true}, nil
}

func (s *Server) cronToggle(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireCron(); err != nil {
		return true, nil, err
	}
	var p struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	job, err := s.cronSched.Patch(p.ID, cron.JobPatch{Enabled: &p.Enabled})
	if err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrNotFound, err.Error(), nil)
	}
	return true, job, nil
}

func (s *Server) cronRun(ctx context.Context, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireCron(); err != nil {
		return true, nil, err
	}
	var p struct {
		ID    string `json:"id"`
		Force bool   `json:"force,omitempty"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if err := s.cronSched.Run(ctx, p.ID, p.Force); err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, err.Error(), nil)
	}
	return true, map[string]interface{}{"ok": true}, nil
}

func (s *Server) cronRuns(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	if err := s.requireCron(); err != nil {
		return true, nil, err
	}
	var p struct {
		JobID string `json:"jobId"`
		Limit int    `json:"limit,omitempty"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	return true, map[string]interface{}{"runs": s.cronSched.Runs(p.JobID, p.Limit)}, nil
}
