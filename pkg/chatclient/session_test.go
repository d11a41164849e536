package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamrelay/chat-relay/pkg/frame"
)

func writeFrame(t *testing.T, w http.ResponseWriter, f frame.Frame) {
	t.Helper()
	record, err := frame.Encode(f)
	require.NoError(t, err)
	_, err = w.Write(record)
	require.NoError(t, err)
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
}

// relayStub runs an httptest server whose handler decodes the request
// body and emits a scripted stream.
func relayStub(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{Endpoint: srv.URL}
}

func decodeBody(t *testing.T, r *http.Request) []wireMessage {
	t.Helper()
	var body struct {
		Messages []wireMessage `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body.Messages
}

// eventLog collects session callbacks safely across goroutines.
type eventLog struct {
	mu       sync.Mutex
	statuses []Status
	content  []string
	done     []string
	errored  []string
}

func (e *eventLog) options() Options {
	return Options{Events: Events{
		OnStatus: func(s Status) {
			e.mu.Lock()
			e.statuses = append(e.statuses, s)
			e.mu.Unlock()
		},
		OnContent: func(_, text string) {
			e.mu.Lock()
			e.content = append(e.content, text)
			e.mu.Unlock()
		},
		OnDone: func(id string) {
			e.mu.Lock()
			e.done = append(e.done, id)
			e.mu.Unlock()
		},
		OnError: func(_, message string) {
			e.mu.Lock()
			e.errored = append(e.errored, message)
			e.mu.Unlock()
		},
	}}
}

func (e *eventLog) snapshot() ([]Status, []string, []string, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Status(nil), e.statuses...),
		append([]string(nil), e.content...),
		append([]string(nil), e.done...),
		append([]string(nil), e.errored...)
}

func TestSessionSendMessage(t *testing.T) {
	client := relayStub(t, func(w http.ResponseWriter, r *http.Request) {
		msgs := decodeBody(t, r)
		require.Len(t, msgs, 1)
		assert.Equal(t, wireMessage{Role: "user", Content: "hello"}, msgs[0])

		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(t, w, frame.NewMetadata(frame.Metadata{RequestID: "req-1", Timestamp: time.Now()}))
		writeFrame(t, w, frame.NewContent("req-1-0", "Hi "))
		writeFrame(t, w, frame.NewContent("req-1-1", "there"))
		writeFrame(t, w, frame.NewDone("req-1"))
	})

	log := &eventLog{}
	s := NewSession(client, log.options())

	require.NoError(t, s.SendMessage(context.Background(), "hello", nil))
	s.Wait()

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi there", msgs[1].Content)
	assert.False(t, msgs[1].IsError())

	assert.Equal(t, StatusDisconnected, s.Status())
	assert.Empty(t, s.LastError())
	assert.Zero(t, s.RetryCount())

	statuses, content, done, errored := log.snapshot()
	assert.Contains(t, statuses, StatusConnected)
	assert.Equal(t, StatusDisconnected, statuses[len(statuses)-1])
	assert.Equal(t, []string{"Hi ", "there"}, content)
	assert.Equal(t, []string{"req-1"}, done)
	assert.Empty(t, errored)
}

func TestSessionRejectsBlankMessage(t *testing.T) {
	s := NewSession(&Client{Endpoint: "http://unused"}, Options{})
	assert.ErrorIs(t, s.SendMessage(context.Background(), "  \n ", nil), ErrBlankMessage)
	assert.Empty(t, s.Messages())
}

func TestSessionRejectsConcurrentSend(t *testing.T) {
	release := make(chan struct{})
	client := relayStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(t, w, frame.NewMetadata(frame.Metadata{RequestID: "req-1"}))
		<-release
		writeFrame(t, w, frame.NewDone("req-1"))
	})

	s := NewSession(client, Options{})
	require.NoError(t, s.SendMessage(context.Background(), "first", nil))

	// Wait until the stream is actually open before probing.
	require.Eventually(t, func() bool {
		return s.Status() == StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, s.SendMessage(context.Background(), "second", nil), ErrRequestInFlight)
	assert.ErrorIs(t, s.Retry(context.Background()), ErrRequestInFlight)
	assert.ErrorIs(t, s.Clear(), ErrRequestInFlight)

	close(release)
	s.Wait()

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
}

func TestSessionHTTPErrorProducesStandIn(t *testing.T) {
	client := relayStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": "provider unavailable"})
	})

	log := &eventLog{}
	s := NewSession(client, log.options())

	require.NoError(t, s.SendMessage(context.Background(), "hello", nil))
	s.Wait()

	assert.Equal(t, StatusError, s.Status())
	assert.Equal(t, "provider unavailable", s.LastError())

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.True(t, msgs[1].IsError())
	assert.Equal(t, "provider unavailable", msgs[1].Content)
}

func TestSessionErrorFrameKeepsPartialContent(t *testing.T) {
	client := relayStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(t, w, frame.NewMetadata(frame.Metadata{RequestID: "req-1"}))
		writeFrame(t, w, frame.NewContent("req-1-0", "par"))
		writeFrame(t, w, frame.NewContent("req-1-1", "tial"))
		writeFrame(t, w, frame.NewError("req-1", "upstream connection reset"))
	})

	s := NewSession(client, Options{})
	require.NoError(t, s.SendMessage(context.Background(), "hello", nil))
	s.Wait()

	assert.Equal(t, StatusError, s.Status())
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial", msgs[1].Content)
	assert.True(t, msgs[1].IsError())
}

func TestSessionRetryDoesNotDuplicateUserTurn(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	var bodies [][]wireMessage

	client := relayStub(t, func(w http.ResponseWriter, r *http.Request) {
		msgs := decodeBody(t, r)
		mu.Lock()
		attempts++
		n := attempts
		bodies = append(bodies, msgs)
		mu.Unlock()

		if n == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(map[string]string{"error": "provider unavailable"})
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(t, w, frame.NewMetadata(frame.Metadata{RequestID: "req-2"}))
		writeFrame(t, w, frame.NewContent("req-2-0", "recovered"))
		writeFrame(t, w, frame.NewDone("req-2"))
	})

	s := NewSession(client, Options{})
	require.NoError(t, s.SendMessage(context.Background(), "hello", map[string]any{"provider": "openai"}))
	s.Wait()
	require.Equal(t, StatusError, s.Status())

	require.NoError(t, s.Retry(context.Background()))
	s.Wait()

	assert.Equal(t, StatusDisconnected, s.Status())
	assert.Zero(t, s.RetryCount(), "retry budget resets on success")

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "recovered", msgs[1].Content)
	assert.False(t, msgs[1].IsError())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	// Both attempts carry exactly one user turn; the error stand-in
	// never reaches the wire.
	for i, body := range bodies {
		require.Len(t, body, 1, "attempt %d", i+1)
		assert.Equal(t, "hello", body[0].Content)
	}
}

func TestSessionRetriesExhausted(t *testing.T) {
	client := relayStub(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"still down"}`, http.StatusBadGateway)
	})

	s := NewSession(client, Options{MaxRetries: 2})
	require.NoError(t, s.SendMessage(context.Background(), "hello", nil))
	s.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Retry(context.Background()))
		s.Wait()
	}
	assert.Equal(t, 2, s.RetryCount())
	assert.ErrorIs(t, s.Retry(context.Background()), ErrRetriesExhausted)

	// A fresh user turn resets the budget.
	require.NoError(t, s.SendMessage(context.Background(), "again", nil))
	s.Wait()
	assert.Zero(t, s.RetryCount())
}

func TestSessionRetryWithNothingToRetry(t *testing.T) {
	s := NewSession(&Client{Endpoint: "http://unused"}, Options{})
	assert.ErrorIs(t, s.Retry(context.Background()), ErrNothingToRetry)
}

func TestSessionClear(t *testing.T) {
	client := relayStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(t, w, frame.NewMetadata(frame.Metadata{RequestID: "req-1"}))
		writeFrame(t, w, frame.NewContent("req-1-0", "hi"))
		writeFrame(t, w, frame.NewDone("req-1"))
	})

	s := NewSession(client, Options{})
	require.NoError(t, s.SendMessage(context.Background(), "hello", nil))
	s.Wait()
	require.Len(t, s.Messages(), 2)

	require.NoError(t, s.Clear())
	assert.Empty(t, s.Messages())
	assert.Empty(t, s.LastError())
	assert.Zero(t, s.RetryCount())
}

func TestSessionStreamWithoutTerminalFrame(t *testing.T) {
	client := relayStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(t, w, frame.NewMetadata(frame.Metadata{RequestID: "req-1"}))
		writeFrame(t, w, frame.NewContent("req-1-0", "cut off"))
	})

	s := NewSession(client, Options{})
	require.NoError(t, s.SendMessage(context.Background(), "hello", nil))
	s.Wait()

	assert.Equal(t, StatusError, s.Status())
	assert.Equal(t, "stream ended without a terminal frame", s.LastError())

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "cut off", msgs[1].Content)
	assert.True(t, msgs[1].IsError())
}

func TestSessionDropsStaleFrames(t *testing.T) {
	s := NewSession(&Client{Endpoint: "http://unused"}, Options{})

	s.handleFrame(frame.NewMetadata(frame.Metadata{RequestID: "req-live"}))
	s.handleFrame(frame.NewContent("req-live-0", "keep "))

	// Frames from a superseded request must not touch the live turn.
	s.handleFrame(frame.NewContent("req-stale-0", "drop"))
	terminal := s.handleFrame(frame.NewDone("req-stale"))
	assert.False(t, terminal)

	s.handleFrame(frame.NewContent("req-live-1", "this"))
	terminal = s.handleFrame(frame.NewDone("req-live"))
	assert.True(t, terminal)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "keep this", msgs[0].Content)
}
