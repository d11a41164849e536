package chatclient

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one conversational turn held by a session. Content grows
// append-only while the turn is streaming and is immutable once a
// terminal frame for its stream has been processed.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// IsError reports whether the message is an error stand-in for a
// failed assistant turn.
func (m Message) IsError() bool {
	v, ok := m.Metadata["error"].(bool)
	return ok && v
}

func errorMessage(text string) Message {
	return Message{
		Role:      RoleAssistant,
		Content:   text,
		Timestamp: time.Now(),
		Metadata:  map[string]any{"error": true},
	}
}

// wireMessage is the {role, content} shape the relay accepts.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
