// Package handler implements the HTTP surface of the chat relay.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/streamrelay/chat-relay/internal/config"
	"github.com/streamrelay/chat-relay/internal/llm"
	"github.com/streamrelay/chat-relay/internal/middleware"
	"github.com/streamrelay/chat-relay/internal/model"
	"github.com/streamrelay/chat-relay/internal/prompt"
	"github.com/streamrelay/chat-relay/pkg/frame"
	"github.com/streamrelay/chat-relay/pkg/logger"
	"github.com/streamrelay/chat-relay/pkg/metrics"
)

// TelemetrySink receives the single lifecycle record emitted per
// request. Optional; a nil sink disables publishing.
type TelemetrySink interface {
	Publish(ctx context.Context, record *model.TelemetryRecord) error
}

// ChatHandler is the per-request relay controller: admission,
// validation, prompt assembly, provider resolution, stream drive,
// lifecycle telemetry.
type ChatHandler struct {
	cfg       *config.Config
	cache     *llm.Cache
	telemetry TelemetrySink
	logger    *logger.Logger
	tracer    trace.Tracer
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(cfg *config.Config, cache *llm.Cache, telemetry TelemetrySink, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		cfg:       cfg,
		cache:     cache,
		telemetry: telemetry,
		logger:    log,
		tracer:    otel.Tracer("chat-relay"),
	}
}

// Chat handles POST /api/v1/chat: it opens an upstream token stream and
// relays it to the client as a framed event stream. Origin and identity
// admission run in middleware before this handler; everything from
// input validation on happens here.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "relay.chat")
	defer span.End()

	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.AdmissionRejectsTotal.WithLabelValues("bad_body").Inc()
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateChatRequest(&req); err != nil {
		metrics.AdmissionRejectsTotal.WithLabelValues("validation").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	provider, err := llm.Resolve(req.Provider, h.cfg.DefaultProvider)
	if err != nil {
		metrics.AdmissionRejectsTotal.WithLabelValues("provider").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	client, err := h.cache.Lookup(provider)
	if err != nil {
		// Credential or construction failure: no stream was opened,
		// so this surfaces as a plain HTTP error.
		h.logger.Error("provider unavailable",
			zap.String("provider", string(provider)),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "provider unavailable")
		return
	}

	modelName := req.ModelOrDefault(client.Models())
	span.SetAttributes(
		attribute.String("relay.provider", string(provider)),
		attribute.String("relay.model", modelName),
	)

	rc := &model.RequestContext{
		RequestID: uuid.Must(uuid.NewV7()).String(),
		StartedAt: time.Now(),
	}

	last := req.Messages[len(req.Messages)-1]
	messages := prompt.Build(last.Content, req.Messages[:len(req.Messages)-1], h.cfg.SystemPrompt)

	sw, err := frame.NewWriter(w, rc.RequestID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementStreams()
	defer metrics.DecrementStreams()

	h.relay(ctx, sw, rc, provider, modelName, client, messages)
}

// relay drives one upstream stream to its terminal frame and emits the
// lifecycle record. By the time it runs, the response is committed to
// the event-stream protocol: every failure from here on must end the
// stream with a well-formed error frame, never a bare disconnect.
func (h *ChatHandler) relay(
	ctx context.Context,
	sw *frame.Writer,
	rc *model.RequestContext,
	provider llm.Provider,
	modelName string,
	client llm.Client,
	messages []llm.ChatMessage,
) {
	if err := sw.Metadata(frame.Metadata{
		RequestID: rc.RequestID,
		Timestamp: rc.StartedAt,
		Model:     modelName,
		Provider:  string(provider),
	}); err != nil {
		// Transport already gone; nothing to terminate.
		h.finish(ctx, sw, rc, provider, modelName, err)
		return
	}

	// The watchdog guards against a hung upstream holding the
	// connection forever: it cancels the upstream context unless a
	// fragment arrives within the idle window.
	streamCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var watchdog *time.Timer
	idle := h.cfg.StreamIdleTimeout
	if idle > 0 {
		watchdog = time.AfterFunc(idle, func() {
			cancel(errIdleTimeout)
		})
		defer watchdog.Stop()
	}

	_, err := client.CompleteStream(streamCtx, &llm.CompletionRequest{
		Model:       modelName,
		Messages:    messages,
		MaxTokens:   h.cfg.MaxTokens,
		Temperature: h.cfg.Temperature,
	}, func(token string, index int) error {
		if err := streamCtx.Err(); err != nil {
			return err
		}
		if watchdog != nil {
			watchdog.Reset(idle)
		}
		rc.Fragments++
		return sw.Content(token)
	})

	if err != nil {
		rc.Errors++
		switch {
		case errors.Is(context.Cause(streamCtx), errIdleTimeout):
			err = errIdleTimeout
		case ctx.Err() != nil:
			// Client went away; the transport half-close is the
			// cancellation signal and there is no one left to frame
			// an error for.
		}
		if ctx.Err() == nil && !sw.Closed() {
			if werr := sw.Error(upstreamMessage(err)); werr != nil {
				h.logger.Warn("failed to write error frame", zap.Error(werr))
			}
		}
		h.finish(ctx, sw, rc, provider, modelName, err)
		return
	}

	if werr := sw.Done(); werr != nil {
		h.logger.Warn("failed to write done frame", zap.Error(werr))
	}
	h.finish(ctx, sw, rc, provider, modelName, nil)
}

var errIdleTimeout = errors.New("stream idle timeout")

// upstreamMessage converts an upstream failure into the human-readable
// error frame payload.
func upstreamMessage(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "upstream stream aborted"
	}
	return err.Error()
}

// finish emits the one structured lifecycle record for the request:
// log line, metrics, and the optional telemetry sink.
func (h *ChatHandler) finish(ctx context.Context, sw *frame.Writer, rc *model.RequestContext, provider llm.Provider, modelName string, streamErr error) {
	duration := time.Since(rc.StartedAt)
	status := "success"
	errMessage := ""
	if streamErr != nil {
		status = "error"
		errMessage = streamErr.Error()
	}

	h.logger.Info("relay request completed",
		zap.String("request_id", rc.RequestID),
		zap.String("provider", string(provider)),
		zap.String("model", modelName),
		zap.Duration("duration", duration),
		zap.Int("fragments", rc.Fragments),
		zap.Int("errors", rc.Errors),
		zap.String("error", errMessage),
	)

	metrics.RecordStream(string(provider), modelName, status, duration.Seconds(), rc.Fragments)
	if streamErr != nil {
		phase := "stream"
		if rc.Fragments == 0 {
			phase = "open"
		}
		metrics.StreamErrorsTotal.WithLabelValues(string(provider), phase).Inc()
	}

	if h.telemetry != nil {
		record := &model.TelemetryRecord{
			RequestID:  rc.RequestID,
			TenantID:   middleware.GetTenantID(ctx),
			Provider:   string(provider),
			Model:      modelName,
			Duration:   duration,
			Fragments:  rc.Fragments,
			Errors:     rc.Errors,
			ErrMessage: errMessage,
			StartedAt:  rc.StartedAt,
		}
		// The request context may already be cancelled; publishing
		// gets its own deadline.
		pubCtx, pubCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer pubCancel()
		if err := h.telemetry.Publish(pubCtx, record); err != nil {
			h.logger.Warn("failed to publish telemetry record", zap.Error(err))
		}
	}
}
