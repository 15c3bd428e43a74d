package protocol

import "encoding/json"

// ProtocolVersion is the wire protocol version advertised in connect/health
// responses. Bump it whenever a frame shape or method contract changes in
// a way a client needs to detect.
const ProtocolVersion = 3

// Frame types distinguish the three directions a message can flow in the
// duplex JSON-framed connection.
const (
	FrameRequest  = "request"
	FrameResponse = "response"
	FrameEvent    = "event"
)

// RequestFrame is sent client → server to invoke an RPC method.
type RequestFrame struct {
	Type         string          `json:"type"`
	ID           string          `json:"id"`
	Seq          uint64          `json:"seq"`
	Method       string          `json:"method"`
	Params       json.RawMessage `json:"params,omitempty"`
	StateVersion int64           `json:"stateVersion,omitempty"`
}

// ResponseFrame answers a RequestFrame by ID; exactly one of Result or
// Error is set.
type ResponseFrame struct {
	Type   string      `json:"type"`
	ID     string      `json:"id"`
	Seq    uint64      `json:"seq"`
	Result interface{} `json:"result,omitempty"`
	Error  *RPCError   `json:"error,omitempty"`
}

// EventFrame is an unsolicited server → client push.
type EventFrame struct {
	Type    string      `json:"type"`
	Seq     uint64      `json:"seq"`
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// RPCError is the error shape carried in a ResponseFrame, mirroring the
// original rpc_error(code, message, data) helper.
type RPCError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Code + ": " + e.Message }

// NewRPCError builds an RPCError; data may be nil.
func NewRPCError(code, message string, data interface{}) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data}
}

// Well-known error codes, matching the original implementation's
// rpc_error taxonomy.
const (
	ErrInvalidRequest  = "INVALID_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrForbidden       = "FORBIDDEN"
	ErrNotFound        = "NOT_FOUND"
	ErrRateLimited     = "RATE_LIMITED"
	ErrConflict        = "CONFLICT"
	ErrTimeout         = "TIMEOUT"
	ErrInternal        = "INTERNAL_ERROR"
	ErrMethodNotFound  = "METHOD_NOT_FOUND"
	ErrUnavailable     = "UNAVAILABLE"
)

// NewEvent builds an EventFrame with Seq left for the connection's writer
// goroutine to assign.
func NewEvent(name string, payload interface{}) *EventFrame {
	return &EventFrame{Type: FrameEvent, Name: name, Payload: payload}
}

// NewResponse builds a successful ResponseFrame.
func NewResponse(id string, result interface{}) *ResponseFrame {
	return &ResponseFrame{Type: FrameResponse, ID: id, Result: result}
}

// NewErrorResponse builds a failed ResponseFrame.
func NewErrorResponse(id string, err *RPCError) *ResponseFrame {
	return &ResponseFrame{Type: FrameResponse, ID: id, Error: err}
}
