package gateway

import (
	"context"
	"encoding/json"

	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/shadow"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// handleConfigFamily answers config.get/apply/patch/schema. apply/patch
// both replace the live config and persist it; apply expects the full
// document, patch a partial one merged over the current document.
func (s *Server) handleConfigFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case protocol.MethodConfigGet:
		result, _ := shadow.Compare(s.cfg.Gateway.ShadowMode, req.Method,
			func() (interface{}, error) { return s.configSnapshot(), nil },
			func() (interface{}, error) { return s.configSnapshotFromDisk() },
		)
		return true, result, nil

	case protocol.MethodConfigSchema:
		return true, map[string]interface{}{"schema": configSchemaStub()}, nil

	case protocol.MethodConfigApply:
		return s.configApply(req)

	case protocol.MethodConfigPatch:
		return s.configPatch(req)

	default:
		return false, nil, nil
	}
}

func (s *Server) configSnapshot() map[string]interface{} {
	s.cfg.RLock()
	defer s.cfg.RUnlock()
	raw, _ := json.Marshal(s.cfg)
	return map[string]interface{}{"config": json.RawMessage(raw), "hash": s.cfg.Hash()}
}

// configSnapshotFromDisk is config.get's shadow comparator legacy path:
// an independent reload of the config file, compared against the live
// in-memory document to catch apply/patch persistence drift.
func (s *Server) configSnapshotFromDisk() (interface{}, error) {
	if s.configPath == "" {
		return s.configSnapshot(), nil
	}
	onDisk, err := config.Load(s.configPath)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(onDisk)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"config": json.RawMessage(raw), "hash": onDisk.Hash()}, nil
}

func configSchemaStub() map[string]interface{} {
	return map[string]interface{}{"type": "object", "title": "goclaw gateway config"}
}

func (s *Server) configApply(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p struct {
		Config   json.RawMessage `json:"config"`
		ExpectedHash string      `json:"expectedHash,omitempty"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if p.ExpectedHash != "" && p.ExpectedHash != s.cfg.Hash() {
		return true, nil, protocol.NewRPCError(protocol.ErrConflict, "config changed since read, reload before applying", nil)
	}

	s.cfg.Lock()
	err := json.Unmarshal(p.Config, s.cfg)
	s.cfg.Unlock()
	if err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, "invalid config document: "+err.Error(), nil)
	}

	s.persistConfig()
	s.broadcastCacheInvalidate("config", "")
	return true, map[string]interface{}{"hash": s.cfg.Hash()}, nil
}

func (s *Server) configPatch(req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	var p struct {
		Patch json.RawMessage `json:"patch"`
	}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	// A patch is applied as a partial JSON merge onto the live struct:
	// unmarshal-over-existing leaves untouched fields alone, matching
	// encoding/json's merge-on-decode behavior for struct targets.
	s.cfg.Lock()
	err := json.Unmarshal(p.Patch, s.cfg)
	s.cfg.Unlock()
	if err != nil {
		return true, nil, protocol.NewRPCError(protocol.ErrInvalidRequest, "invalid patch: "+err.Error(), nil)
	}

	s.persistConfig()
	s.broadcastCacheInvalidate("config", "")
	return true, map[string]interface{}{"hash": s.cfg.Hash()}, nil
}
