// Package alert mirrors appended violations to external sinks. Delivery
// is best-effort and asynchronous: the authoritative record is the ledger
// write, which happens synchronously on the request path before any alert
// is enqueued.
package alert

import (
	"context"
	"encoding/json"
	"time"

	"github.com/invigil-ai/invigil/internal/redact"
)

// Event is the canonical violation alert payload.
type Event struct {
	Version     string    `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"session_id"`
	ViolationID string    `json:"violation_id"`
	Type        string    `json:"type"`
	Severity    int       `json:"severity"`
	Details     string    `json:"details,omitempty"`
	StudentName string    `json:"student_name,omitempty"`
	ExamName    string    `json:"exam_name,omitempty"`
}

// Sink consumes alert events (file, webhook, stdout).
type Sink interface {
	Name() string
	Deliver(context.Context, *Event) error
	Close(context.Context) error
}

// StdoutSink prints alerts as redacted JSON log lines.
type StdoutSink struct{}

func (StdoutSink) Name() string { return "stdout" }

func (StdoutSink) Deliver(_ context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	redact.Logf("alert: %s", string(data))
	return nil
}

func (StdoutSink) Close(context.Context) error { return nil }
