package gateway

import (
	"encoding/json"

	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// decodeParams unmarshals a request's params into dst, mapping a bad
// shape to INVALID_REQUEST instead of letting json.Unmarshal's error
// leak verbatim to the client.
func decodeParams(req protocol.RequestFrame, dst interface{}) *protocol.RPCError {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, dst); err != nil {
		return protocol.NewRPCError(protocol.ErrInvalidRequest, "bad params: "+err.Error(), nil)
	}
	return nil
}

// clientIP extracts the remote address bound to a client for rate
// limiting and presence purposes, falling back to the connection id when
// nothing better is available (e.g. in unit tests with fake conns).
func clientIP(c *Client) string {
	if c.conn == nil {
		return c.id
	}
	addr := c.conn.RemoteAddr()
	if addr == nil {
		return c.id
	}
	return addr.String()
}
