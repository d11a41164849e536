package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/streamrelay/chat-relay/pkg/frame"
	"github.com/streamrelay/chat-relay/pkg/logger"
)

var (
	// ErrBlankMessage is returned by SendMessage for blank input.
	ErrBlankMessage = errors.New("chatclient: message is blank")
	// ErrRequestInFlight is returned while a request is streaming.
	ErrRequestInFlight = errors.New("chatclient: request already in flight")
	// ErrRetriesExhausted is returned by Retry once the configured
	// maximum has been reached.
	ErrRetriesExhausted = errors.New("chatclient: retries exhausted")
	// ErrNothingToRetry is returned by Retry when no user turn exists.
	ErrNothingToRetry = errors.New("chatclient: nothing to retry")
)

// Events are the session's observer hooks. All fields are optional.
// Callbacks run on the stream goroutine, after the session state they
// describe has been applied.
type Events struct {
	OnStatus   func(status Status)
	OnMetadata func(meta frame.Metadata)
	OnContent  func(requestID, text string)
	OnDone     func(requestID string)
	OnError    func(requestID, message string)
}

// Options configure a session.
type Options struct {
	// MaxRetries bounds Retry calls per turn; 3 when zero.
	MaxRetries int
	Events     Events
	Logger     *logger.Logger
}

const defaultMaxRetries = 3

// streamTarget points at the message currently receiving fragments:
// the one open streaming sink a session can have. It is invalidated on
// completion or error, and carries the request id used to discard
// stale frames from superseded requests.
type streamTarget struct {
	index     int
	requestID string
}

// Session is the client-side conversation store. It holds the ordered
// message list and drives at most one in-flight request at a time.
type Session struct {
	client     *Client
	events     Events
	maxRetries int
	log        *logger.Logger

	mu          sync.Mutex
	messages    []Message
	status      Status
	lastError   string
	retryCount  int
	lastPayload map[string]any
	inFlight    bool
	active      *streamTarget
	done        chan struct{}
}

// NewSession creates a session bound to a relay client.
func NewSession(client *Client, opts Options) *Session {
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Session{
		client:     client,
		events:     opts.Events,
		maxRetries: maxRetries,
		log:        log,
		status:     StatusDisconnected,
	}
}

// Messages returns a copy of the conversation so far.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the most recent session-visible error message.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// RetryCount returns the retries consumed for the current turn.
func (s *Session) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

// Wait blocks until the in-flight request, if any, has finished.
func (s *Session) Wait() {
	s.mu.Lock()
	d := s.done
	s.mu.Unlock()
	if d != nil {
		<-d
	}
}

// SendMessage appends a user turn and dispatches it with the full
// conversation history plus the side-channel payload. Blank input and
// an in-flight request are rejected without changing any state. The
// payload is cached for Retry.
func (s *Session) SendMessage(ctx context.Context, text string, payload map[string]any) error {
	if strings.TrimSpace(text) == "" {
		return ErrBlankMessage
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return ErrRequestInFlight
	}

	s.messages = append(s.messages, Message{
		Role:      RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	})
	s.lastPayload = payload
	s.retryCount = 0
	fire := s.beginLocked(ctx)
	s.mu.Unlock()
	fire()
	return nil
}

// Retry redispatches the last user turn with the cached payload. The
// turn is never duplicated: a trailing assistant error stand-in is
// dropped when present and the existing history is sent as-is. Once
// the configured maximum is reached the call fails with
// ErrRetriesExhausted instead of dispatching.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return ErrRequestInFlight
	}
	if s.retryCount >= s.maxRetries {
		s.mu.Unlock()
		return ErrRetriesExhausted
	}

	// A pre-stream failure leaves no assistant stand-in; only drop one
	// that is actually there.
	if n := len(s.messages); n > 0 && s.messages[n-1].IsError() {
		s.messages = s.messages[:n-1]
	}

	lastUser := -1
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == RoleUser {
			lastUser = i
			break
		}
	}
	if lastUser == -1 {
		s.mu.Unlock()
		return ErrNothingToRetry
	}

	s.retryCount++
	fire := s.beginLocked(ctx)
	s.mu.Unlock()
	fire()
	return nil
}

// Clear resets messages, error, and retry state. It is rejected while
// a request is in flight: clearing under an active stream would leave
// the stream writing into a discarded conversation.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrRequestInFlight
	}
	s.messages = nil
	s.lastError = ""
	s.retryCount = 0
	s.active = nil
	return nil
}

// beginLocked starts the request goroutine for the current history.
// Caller holds the lock; the returned func fires status callbacks and
// must run after unlock.
func (s *Session) beginLocked(ctx context.Context) func() {
	history := s.wireHistoryLocked()
	payload := s.lastPayload
	s.inFlight = true
	s.lastError = ""
	d := make(chan struct{})
	s.done = d
	fire := s.setStatusLocked(StatusConnecting)

	go s.run(ctx, history, payload, d)
	return fire
}

// wireHistoryLocked maps the conversation to wire shape, excluding
// error stand-ins: failed turns are session artifacts, not context for
// the model.
func (s *Session) wireHistoryLocked() []wireMessage {
	out := make([]wireMessage, 0, len(s.messages))
	for _, m := range s.messages {
		if m.IsError() {
			continue
		}
		out = append(out, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (s *Session) run(ctx context.Context, history []wireMessage, payload map[string]any, done chan struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	resp, err := s.client.dispatch(ctx, history, payload)
	if err != nil {
		s.fail("request failed: " + err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.fail(readErrorBody(resp))
		return
	}

	s.transition(StatusConnected)

	reader := NewReader(resp.Body)
	reader.Malformed = func(record string, err error) {
		s.log.Warn("skipping malformed frame",
			zap.String("record", record),
			zap.Error(err),
		)
	}

	terminal := false
	for {
		f, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.fail("stream read failed: " + err.Error())
			return
		}
		if s.handleFrame(f) {
			terminal = true
		}
	}

	if !terminal {
		s.fail("stream ended without a terminal frame")
	}
}

// handleFrame applies one frame to the session. Returns true for a
// terminal frame.
func (s *Session) handleFrame(f frame.Frame) bool {
	switch f.Type {
	case frame.TypeMetadata:
		s.mu.Lock()
		if s.active != nil {
			// A stream is already targeted; a second metadata frame is
			// a protocol violation from a superseded stream.
			s.mu.Unlock()
			s.log.Warn("dropping unexpected metadata frame", zap.String("request_id", f.Meta.RequestID))
			return false
		}
		s.messages = append(s.messages, Message{
			Role:      RoleAssistant,
			Timestamp: time.Now(),
		})
		s.active = &streamTarget{
			index:     len(s.messages) - 1,
			requestID: f.Meta.RequestID,
		}
		meta := *f.Meta
		cb := s.events.OnMetadata
		s.mu.Unlock()
		if cb != nil {
			cb(meta)
		}
		return false

	case frame.TypeContent:
		s.mu.Lock()
		if s.active == nil || f.RequestID() != s.active.requestID {
			s.mu.Unlock()
			s.log.Debug("dropping stale content frame", zap.String("id", f.ID))
			return false
		}
		s.messages[s.active.index].Content += f.Text
		requestID := s.active.requestID
		cb := s.events.OnContent
		s.mu.Unlock()
		if cb != nil {
			cb(requestID, f.Text)
		}
		return false

	case frame.TypeDone:
		s.mu.Lock()
		if s.active == nil || f.RequestID() != s.active.requestID {
			s.mu.Unlock()
			s.log.Debug("dropping stale done frame", zap.String("id", f.ID))
			return false
		}
		requestID := s.active.requestID
		s.active = nil
		s.retryCount = 0
		fire := s.setStatusLocked(StatusDisconnected)
		cb := s.events.OnDone
		s.mu.Unlock()
		fire()
		if cb != nil {
			cb(requestID)
		}
		return true

	case frame.TypeError:
		s.mu.Lock()
		if s.active != nil && f.RequestID() != s.active.requestID {
			s.mu.Unlock()
			s.log.Debug("dropping stale error frame", zap.String("id", f.ID))
			return false
		}
		requestID := f.RequestID()
		fire := s.failLocked(f.Text)
		cb := s.events.OnError
		s.mu.Unlock()
		fire()
		if cb != nil {
			cb(requestID, f.Text)
		}
		return true
	}

	return false
}

// fail records a session-visible failure outside of frame handling:
// transport errors, non-2xx responses, truncated streams.
func (s *Session) fail(message string) {
	s.mu.Lock()
	fire := s.failLocked(message)
	cb := s.events.OnError
	s.mu.Unlock()
	fire()
	if cb != nil {
		cb("", message)
	}
}

// failLocked flags the in-progress assistant message when one exists
// (its partial content is kept), otherwise appends a synthetic error
// stand-in — overwriting a previous stand-in rather than stacking
// them. The conversation never loses the user's turn.
func (s *Session) failLocked(message string) func() {
	s.lastError = message

	if s.active != nil {
		msg := &s.messages[s.active.index]
		if msg.Metadata == nil {
			msg.Metadata = map[string]any{}
		}
		msg.Metadata["error"] = true
		s.active = nil
	} else if n := len(s.messages); n > 0 && s.messages[n-1].IsError() {
		s.messages[n-1] = errorMessage(message)
	} else {
		s.messages = append(s.messages, errorMessage(message))
	}

	return s.setStatusLocked(StatusError)
}

func (s *Session) transition(status Status) {
	s.mu.Lock()
	fire := s.setStatusLocked(status)
	s.mu.Unlock()
	fire()
}

// setStatusLocked changes connectionStatus and returns the callback to
// fire after unlock. Status never changes outside this method.
func (s *Session) setStatusLocked(status Status) func() {
	if s.status == status {
		return func() {}
	}
	s.status = status
	if cb := s.events.OnStatus; cb != nil {
		return func() { cb(status) }
	}
	return func() {}
}

// readErrorBody extracts the relay's {error} body from a non-2xx
// response, falling back to raw text.
func readErrorBody(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil || len(data) == 0 {
		return resp.Status
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
