// Package providers defines the wire shape of chat history exchanged with
// the agent loop. The gateway never calls a model itself (that contract
// lives entirely in the external agent process); it only needs a stable
// representation of a conversation turn to persist and replay through
// sessions and the lane queue.
package providers

// Message is one turn of conversation history.
type Message struct {
	Role       string         `json:"role"` // "user", "assistant", "system", "tool"
	Content    string         `json:"content,omitempty"`
	Images     []ImageContent `json:"images,omitempty"`
	Name       string         `json:"name,omitempty"`       // tool name, for role="tool"
	ToolCallID string         `json:"toolCallId,omitempty"` // correlates a tool result to its call
	CreatedAt  int64          `json:"createdAt,omitempty"`  // unix millis
}

// ImageContent is an inline or referenced image attached to a message.
type ImageContent struct {
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"` // base64, when inlined
	MimeType string `json:"mimeType,omitempty"`
}
