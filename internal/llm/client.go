// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"fmt"
)

// StreamCallback is called for each token during streaming. Returning
// an error aborts the stream; the client closes the upstream connection
// before returning.
type StreamCallback func(token string, index int) error

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers. A client produces a lazy,
// finite, non-restartable token sequence per request: CompleteStream
// blocks on upstream I/O between callbacks, stops when the callback or
// the context errors, and surfaces any provider failure as a single
// terminal error.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// CompleteStream sends a streaming completion request.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the canonical identity of an LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ParseProvider converts a provider name into its canonical identity.
// Unrecognized names are an error, never a silent default.
func ParseProvider(name string) (Provider, error) {
	switch Provider(name) {
	case ProviderAnthropic:
		return ProviderAnthropic, nil
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	default:
		return "", fmt.Errorf("unknown provider %q", name)
	}
}

// Resolve picks the provider for one request: an explicit selector
// overrides the process-wide default. Both must name a known provider.
func Resolve(explicit, defaultProvider string) (Provider, error) {
	if explicit != "" {
		return ParseProvider(explicit)
	}
	return ParseProvider(defaultProvider)
}
