package gateway

import (
	"context"

	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

const whatsappLoginSlot = "rpc.whatsapp_login"

// handleWebLoginFamily implements web.login.start/wait, the QR-style
// handshake channel adapters (currently WhatsApp) use to pair a browser
// session. The gateway only persists and reports the handshake state;
// the adapter itself drives the actual login flow and writes into the
// same slot.
func (s *Server) handleWebLoginFamily(ctx context.Context, c *Client, req protocol.RequestFrame) (bool, interface{}, *protocol.RPCError) {
	switch req.Method {
	case "web.login.start":
		if s.slots != nil {
			store.SaveSlot(ctx, s.slots, whatsappLoginSlot, map[string]interface{}{"status": "pending", "startedAtMs": nowMs()})
		}
		return true, map[string]interface{}{"status": "pending"}, nil

	case "web.login.wait":
		state := map[string]interface{}{"status": "pending"}
		if s.slots != nil {
			state = store.LoadSlot(ctx, s.slots, whatsappLoginSlot, state)
		}
		return true, state, nil

	case protocol.MethodZaloPersonalQRStart:
		return true, map[string]interface{}{"status": "not_supported"}, nil

	default:
		return false, nil, nil
	}
}
