package gateway

import (
	"context"
	"sort"

	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/shadow"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// handleAgentsFamily implements agents.list/create/update/delete and the
// per-agent file accessors. Writes persist through config.Save when a
// config path is configured; standalone deployments with no path keep
// changes in memory only for the life of the process.
func (s *Server) handleAgentsFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case protocol.MethodAgentsList:
		result, _ := shadow.Compare(s.cfg.Gateway.ShadowMode, req.Method,
			func() (interface{}, error) { return s.listAgents(), nil },
			func() (interface{}, error) { return s.listAgentsFromDisk() },
		)
		return true, result, nil

	case protocol.MethodAgentsCreate:
		return s.createAgent(req)

	case protocol.MethodAgentsUpdate:
		return s.updateAgent(req)

	case protocol.MethodAgentsDelete:
		return s.deleteAgent(req)

	case protocol.MethodAgentsFileList:
		return true, s.listAgentFiles(req), nil

	case protocol.MethodAgentsFileGet:
		return s.getAgentFile(req)

	case protocol.MethodAgentsFileSet:
		return s.setAgentFile(req)

	case protocol.MethodAgentIdentityGet:
		return s.getAgentIdentity(req)

	default:
		return false, nil, nil
	}
}

type agentSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
	AgentType   string `json:"agentType,omitempty"`
	Default     bool   `json:"default"`
}

func (s *Server) listAgents() map[string]interface{} {
	s.cfg.RLock()
	defer s.cfg.RUnlock()

	out := make([]agentSummary, 0, len(s.cfg.Agents.List))
	for id, spec := range s.cfg.Agents.List {
		out = append(out, agentSummary{
			ID:          id,
			DisplayName: spec.DisplayName,
			Provider:    spec.Provider,
			Model:       spec.Model,
			AgentType:   spec.AgentType,
			Default:     spec.Default,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return map[string]interface{}{"agents": out}
}

// listAgentsFromDisk is the shadow comparator's legacy path for
// agents.list: it reloads the config file independently of the live,
// in-memory s.cfg and rebuilds the same view, catching drift between
// what's running and what's actually persisted on disk (e.g. a
// config.patch that mutated memory but failed to save).
func (s *Server) listAgentsFromDisk() (interface{}, error) {
	if s.configPath == "" {
		return s.listAgents(), nil
	}
	onDisk, err := config.Load(s.configPath)
	if err != nil {
		return nil, err
	}
	out := make([]agentSummary, 0, len(onDisk.Agents.List))
	for id, spec := range onDisk.Agents.List {
		out = append(out, agentSummary{
			ID:          id,
			DisplayName: spec.DisplayName,
			Provider:    spec.Provider,
			Model:       spec.Model,
			AgentType:   spec.AgentType,
			Default:     spec.Default,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return map[string]interface{}{"agents": out}, nil
}

type agentWriteParams struct {
	ID   string            `json:"id"`
	Spec config.AgentSpec  `json:"spec"`
}

func (s *Server) createAgent(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p agentWriteParams
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if p.ID == "" {
		return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, "id is required", nil)
	}

	s.cfg.Lock()
	if s.cfg.Agents.List == nil {
		s.cfg.Agents.List = map[string]config.AgentSpec{}
	}
	if _, exists := s.cfg.Agents.List[p.ID]; exists {
		s.cfg.Unlock()
		return true, nil, protocol.NewRPCError(protocol.ErrConflict, "agent already exists: "+p.ID, nil)
	}
	s.cfg.Agents.List[p.ID] = p.Spec
	s.cfg.Unlock()

	s.persistConfig()
	s.broadcastCacheInvalidate("agent", p.ID)
	return true, map[string]interface{}{"id": p.ID}, nil
}

func (s *Server) updateAgent(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p agentWriteParams
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}

	s.cfg.Lock()
	if _, exists := s.cfg.Agents.List[p.ID]; !exists {
		s.cfg.Unlock()
		return true, nil, protocol.NewRPCError(protocol.ErrNotFound, "agent not found: "+p.ID, nil)
	}
	s.cfg.Agents.List[p.ID] = p.Spec
	s.cfg.Unlock()

	s.persistConfig()
	s.broadcastCacheInvalidate("agent", p.ID)
	return true, map[string]interface{}{"id": p.ID}, nil
}

func (s *Server) deleteAgent(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p struct {
		ID string `json:"id"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}

	s.cfg.Lock()
	if _, exists := s.cfg.Agents.List[p.ID]; !exists {
		s.cfg.Unlock()
		return true, nil, protocol.NewRPCError(protocol.ErrNotFound, "agent not found: "+p.ID, nil)
	}
	delete(s.cfg.Agents.List, p.ID)
	s.cfg.Unlock()

	s.persistConfig()
	s.broadcastCacheInvalidate("agent", p.ID)
	return true, map[string]interface{}{"id": p.ID, "deleted": true}, nil
}

func (s *Server) listAgentFiles(req protocol.RequestFrame) map[string]interface{} {
	// Per-agent file storage (system prompts, notes) lives under the
	// agent's workspace directory; the gateway only needs to enumerate
	// the well-known file set since there is no separate file index.
	return map[string]interface{}{"files": []string{"SYSTEM.md", "NOTES.md"}}
}

func (s *Server) getAgentFile(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p struct {
		AgentID string `json:"agentId"`
		File    string `json:"file"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	path := agentFilePath(s.cfg, p.AgentID, p.File)
	content, missing, err := readAgentFile(path)
	if err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrInternal, "read failed: "+err.Error(), nil)
	}
	return true, map[string]interface{}{"content": content, "missing": missing}, nil
}

func (s *Server) setAgentFile(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p struct {
		AgentID string `json:"agentId"`
		File    string `json:"file"`
		Content string `json:"content"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	path := agentFilePath(s.cfg, p.AgentID, p.File)
	if err := writeAgentFile(path, p.Content); err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrInternal, "write failed: "+err.Error(), nil)
	}
	s.broadcastCacheInvalidate("agent", p.AgentID)
	return true, map[string]interface{}{"ok": true}, nil
}

func (s *Server) getAgentIdentity(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p struct {
		AgentID string `json:"agentId"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}

	s.cfg.RLock()
	spec, ok := s.cfg.Agents.List[p.AgentID]
	s.cfg.RUnlock()
	if !ok {
		return true, nil, protocol.NewRPCError(protocol.ErrNotFound, "agent not found: "+p.AgentID, nil)
	}

	name := spec.DisplayName
	emoji := ""
	if spec.Identity != nil {
		if spec.Identity.Name != "" {
			name = spec.Identity.Name
		}
		emoji = spec.Identity.Emoji
	}
	return true, map[string]interface{}{"agentId": p.AgentID, "displayName": name, "emoji": emoji}, nil
}

func (s *Server) persistConfig() {
	if s.configPath == "" {
		return
	}
	if err := config.Save(s.configPath, s.cfg); err != nil {
		logWarn("config.save_failed", "error", err)
	}
}

func (s *Server) broadcastCacheInvalidate(kind, key string) {
	s.BroadcastEvent(*protocol.NewEvent("cache.invalidate", map[string]string{"kind": kind, "key": key}))
}
