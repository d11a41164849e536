// Package chatclient consumes the relay's streaming wire protocol: it
// reconstructs the assistant turn incrementally, tracks connection
// status, and manages conversation and retry state.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Client dispatches chat requests to a relay endpoint.
type Client struct {
	// Endpoint is the full URL of the relay chat endpoint.
	Endpoint string

	// HTTPClient is used for dispatch; http.DefaultClient when nil.
	// Streaming responses need a client without an overall timeout.
	HTTPClient *http.Client

	// Header holds extra headers sent with every request: identity
	// headers, a bearer token, an Origin.
	Header http.Header
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// dispatch POSTs the conversation plus side-channel payload and returns
// the open response. The caller owns resp.Body.
func (c *Client) dispatch(ctx context.Context, messages []wireMessage, payload map[string]any) (*http.Response, error) {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["messages"] = messages

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}
