package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/streamrelay/chat-relay/internal/model"
)

const (
	// StreamName is the name of the telemetry stream.
	StreamName = "RELAY_TELEMETRY"

	// SubjectPrefix is the prefix for all telemetry subjects.
	SubjectPrefix = "relay.telemetry"
)

// TelemetrySink publishes request-lifecycle records to JetStream.
type TelemetrySink struct {
	client *Client
}

// NewTelemetrySink creates a telemetry sink on an established client.
func NewTelemetrySink(client *Client) *TelemetrySink {
	return &TelemetrySink{client: client}
}

// EnsureStream ensures the telemetry stream exists with proper
// configuration.
func (s *TelemetrySink) EnsureStream(ctx context.Context) error {
	js := s.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Relay request lifecycle telemetry",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// Subject returns the subject for one record, partitioned by tenant.
func Subject(tenantID string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, tenantID)
}

// Publish publishes a telemetry record.
func (s *TelemetrySink) Publish(ctx context.Context, record *model.TelemetryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry record: %w", err)
	}

	if _, err := s.client.JetStream().Publish(ctx, Subject(record.TenantID), data); err != nil {
		return fmt.Errorf("failed to publish telemetry record: %w", err)
	}

	return nil
}

// Connected reports whether the underlying connection is up.
func (s *TelemetrySink) Connected() bool {
	return s.client.IsConnected()
}
