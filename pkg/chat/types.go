// Package chat defines the wire types shared by the Zubi server and client:
// the conversation history sent to POST /api/chat and the event stream that
// comes back.
package chat

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation. The history is append-only within
// a session and is replayed verbatim to the upstream model on every request,
// so insertion order is semantically significant.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewMessage creates a message with a fresh ID.
func NewMessage(role Role, content string) Message {
	return Message{ID: uuid.NewString(), Role: role, Content: content}
}

// Event types carried on the /api/chat SSE stream.
const (
	EventText  = "text"
	EventTool  = "tool"
	EventDone  = "done"
	EventError = "error"
)

// StreamEvent is one frame of the event stream. Exactly one done or error
// event terminates a request's sequence. Text deltas for one assistant turn
// concatenate in arrival order to the full utterance.
type StreamEvent struct {
	Type    string          `json:"type"`
	Delta   string          `json:"delta,omitempty"`
	Action  string          `json:"action,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Request is the body of POST /api/chat. Messages may be empty: the greeting
// turn is requested with an empty history so the model opens the conversation.
type Request struct {
	Messages []Message `json:"messages"`
}
