// Package model defines data structures for the chat relay.
package model

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

// ChatMessage is one conversational turn as it crosses the wire.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/v1/chat. Clients may attach
// additional side-channel fields; the relay ignores any it does not
// recognize.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	Provider string        `json:"provider,omitempty"`
	Model    string        `json:"model,omitempty"`
}

// ModelOrDefault returns the requested model, falling back to the
// provider's first listed model.
func (r *ChatRequest) ModelOrDefault(available []string) string {
	if r.Model != "" {
		return r.Model
	}
	if len(available) > 0 {
		return available[0]
	}
	return ""
}

// ErrorResponse is the JSON body of every non-2xx relay response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RequestContext is per-request ephemeral state, created at request
// start and discarded at request end. It is never persisted; its counts
// feed the single lifecycle telemetry record.
type RequestContext struct {
	RequestID string
	StartedAt time.Time
	Fragments int
	Errors    int
}

// ProviderInfo describes one configured provider for GET /api/v1/providers.
type ProviderInfo struct {
	Name    string   `json:"name"`
	Default bool     `json:"default"`
	Models  []string `json:"models"`
}

// ListProvidersResponse is the response for listing providers.
type ListProvidersResponse struct {
	Providers []ProviderInfo `json:"providers"`
}
