package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	outboundBuffer = 64
)

// Client owns one WebSocket connection: a single writer goroutine so
// concurrent handlers never race on conn.WriteJSON, plus a monotonic
// sequence number stamped onto every frame sent to this client.
type Client struct {
	id        string
	conn      *websocket.Conn
	server    *Server
	outbound  chan frameOut
	seq       uint64
	connected int64 // unix ms, set on Run start

	// Authenticated/session-bound state, set once connect succeeds.
	authenticated bool
	ownerID       string
	sessionKey    string
	role          string
	scopes        map[string]bool
	nodeID        string

	// connectNonce is issued right after the socket is accepted and must
	// be echoed back on the first connect request; it is cleared once
	// consumed so it cannot be replayed.
	connectNonce string

	closed int32 // atomic; set once in Close so late sends don't panic
}

// hasScope reports whether the client's granted scopes satisfy required,
// with operator.admin acting as a superset of every other scope.
func (c *Client) hasScope(required string) bool {
	if required == "" {
		return true
	}
	return c.scopes["operator.admin"] || c.scopes[required]
}

type frameOut struct {
	payload interface{}
}

// NewClient wraps a WebSocket connection for one gateway session.
func NewClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{
		id:       "conn_" + uuid.NewString()[:12],
		conn:     conn,
		server:   s,
		outbound: make(chan frameOut, outboundBuffer),
	}
}

// nextSeq returns the next monotonically increasing sequence number for
// frames sent to this client.
func (c *Client) nextSeq() uint64 { return atomic.AddUint64(&c.seq, 1) }

// Run starts the client's read and write loops, blocking until the
// connection closes or ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	c.connected = time.Now().UnixMilli()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writeLoop(ctx)
	c.readLoop(ctx, cancel)
}

func (c *Client) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var req protocol.RequestFrame
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("client read error", "id", c.id, "error", err)
			}
			return
		}

		go c.handleRequest(ctx, req)
	}
}

func (c *Client) handleRequest(ctx context.Context, req protocol.RequestFrame) {
	resp := c.server.router.Dispatch(ctx, c, req)
	if resp == nil {
		return
	}
	resp.Seq = c.nextSeq()
	c.send(resp)
}

func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-c.outbound:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(out.payload); err != nil {
				slog.Warn("client write error", "id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// send enqueues a frame for the write loop; drops it with a warning if
// the outbound buffer is full rather than blocking the caller.
func (c *Client) send(payload interface{}) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return
	}
	select {
	case c.outbound <- frameOut{payload: payload}:
	default:
		slog.Warn("client outbound buffer full, dropping frame", "id", c.id)
	}
}

// SendEvent pushes an unsolicited event frame to this client.
func (c *Client) SendEvent(ev protocol.EventFrame) {
	ev.Seq = c.nextSeq()
	c.send(ev)
}

// trySendEvent is SendEvent's error-reporting twin, used by the
// broadcaster so it can cull connections that are no longer accepting
// frames instead of silently dropping into their full/closed buffer.
func (c *Client) trySendEvent(ev protocol.EventFrame) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return fmt.Errorf("client %s closed", c.id)
	}
	ev.Seq = c.nextSeq()
	select {
	case c.outbound <- frameOut{payload: ev}:
		return nil
	default:
		return fmt.Errorf("client %s outbound buffer full", c.id)
	}
}

// SendRaw enqueues an arbitrary JSON-marshalable payload, used by
// component dispatchers (e.g. node.invoke) that need to push a request
// frame to a specific client rather than respond to one.
func (c *Client) SendRaw(v interface{}) {
	c.send(v)
}

// Close terminates the connection.
func (c *Client) Close() {
	atomic.StoreInt32(&c.closed, 1)
	close(c.outbound)
	c.conn.Close()
}

// MarshalDebug renders the client's identity for logging.
func (c *Client) MarshalDebug() json.RawMessage {
	b, _ := json.Marshal(map[string]any{"id": c.id, "ownerId": c.ownerID, "sessionKey": c.sessionKey})
	return b
}
