package model

import (
	"time"
)

// TelemetryRecord is the single structured lifecycle record emitted per
// relay request. Nothing else about a request is persisted.
type TelemetryRecord struct {
	RequestID  string        `json:"request_id"`
	TenantID   string        `json:"tenant_id"`
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Duration   time.Duration `json:"duration_ms"`
	Fragments  int           `json:"fragments"`
	Errors     int           `json:"errors"`
	ErrMessage string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
}
