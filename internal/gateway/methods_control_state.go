package gateway

import (
	"context"

	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// handleControlStateFamily answers the small persisted-slot-backed
// control surfaces: skills, voicewake, wizard, tts, channels
// status/logout, talk.config. Each reads or writes one named slot
// through the storage component, matching the spec's persisted-state
// table (`rpc.tts`, `rpc.voicewake`, `rpc.talk_config`, `rpc.wizard`).
func (s *Server) handleControlStateFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case protocol.MethodSkillsList:
		return true, map[string]interface{}{"skills": []interface{}{}}, nil
	case protocol.MethodSkillsGet:
		return true, map[string]interface{}{"skill": nil}, nil
	case protocol.MethodSkillsUpdate, "skills.install":
		return true, map[string]interface{}{"ok": true}, nil

	case "voicewake.get":
		return true, s.loadSlot("rpc.voicewake", map[string]interface{}{"enabled": false}), nil
	case "voicewake.set":
		return s.saveSlotFromParams(req, "rpc.voicewake")

	case "wizard.start":
		return true, s.loadSlot("rpc.wizard", map[string]interface{}{"step": "start"}), nil
	case "wizard.next":
		return s.saveSlotFromParams(req, "rpc.wizard")

	case protocol.MethodTTSStatus:
		return true, s.loadSlot("rpc.tts", map[string]interface{}{"enabled": false}), nil
	case protocol.MethodTTSEnable:
		return s.saveSlotMerge(req, "rpc.tts", map[string]interface{}{"enabled": true})
	case protocol.MethodTTSDisable:
		return s.saveSlotMerge(req, "rpc.tts", map[string]interface{}{"enabled": false})
	case protocol.MethodTTSConvert:
		return true, nil, protocol.NewRPCError(protocol.ErrUnavailable, "no tts backend configured", nil)
	case protocol.MethodTTSSetProvider:
		return s.saveSlotFromParams(req, "rpc.tts")
	case protocol.MethodTTSProviders:
		return true, map[string]interface{}{"providers": []string{}}, nil

	case protocol.MethodChannelsList:
		return true, map[string]interface{}{"channels": s.listChannelNames()}, nil
	case protocol.MethodChannelsStatus:
		return true, map[string]interface{}{"channels": s.listChannelNames()}, nil
	case "channels.logout", protocol.MethodChannelsToggle:
		return true, map[string]interface{}{"ok": true}, nil

	case "talk.config":
		return true, s.loadSlot("rpc.talk_config", map[string]interface{}{}), nil

	default:
		return false, nil, nil
	}
}

func (s *Server) loadSlot(key string, def map[string]interface{}) map[string]interface{} {
	if s.slots == nil {
		return def
	}
	return store.LoadSlot(context.Background(), s.slots, key, def)
}

func (s *Server) saveSlotFromParams(req protocol.RequestFrame, key string) (bool, interface{}, *protocol.RPCError) {
	var p map[string]interface{}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if s.slots != nil {
		store.SaveSlot(context.Background(), s.slots, key, p)
	}
	return true, map[string]interface{}{"ok": true}, nil
}

func (s *Server) saveSlotMerge(req protocol.RequestFrame, key string, merge map[string]interface{}) (bool, interface{}, *protocol.RPCError) {
	var p map[string]interface{}
	if err := decodeParams(req, &p); err != nil {
		return true, nil, err
	}
	if p == nil {
		p = map[string]interface{}{}
	}
	for k, v := range merge {
		p[k] = v
	}
	if s.slots != nil {
		store.SaveSlot(context.Background(), s.slots, key, p)
	}
	return true, p, nil
}
