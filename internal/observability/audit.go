package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Event types
const (
	EventTool        = "tool"
	EventMaintenance = "maintenance"
)

// AuditEvent is one line of the audit trail. Only state-changing actions are
// recorded: writes, deletions and maintenance runs.
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"` // user id or "scheduler"
	Action    string                 `json:"action"`
	Status    string                 `json:"status"` // "success" or "failure"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger appends audit events as JSON lines. A nil *AuditLogger and one
// built from an empty path both discard events.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   io.Closer
	now    func() time.Time
}

// NewAuditLogger opens (or creates) the audit file at path. An empty path or
// "-" returns a logger that records nothing.
func NewAuditLogger(path string) (*AuditLogger, error) {
	if path == "" || path == "-" {
		return &AuditLogger{logger: zerolog.Nop(), now: time.Now}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &AuditLogger{
		logger: zerolog.New(file),
		file:   file,
		now:    time.Now,
	}, nil
}

// NewAuditLoggerWriter records events to w. Used by tests.
func NewAuditLoggerWriter(w io.Writer) *AuditLogger {
	return &AuditLogger{logger: zerolog.New(w), now: time.Now}
}

// Record emits an audit event, and attaches it to the active span if any.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent("audit."+event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.Timestamp.UTC()).
		Str("event_type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.TraceID != "" {
		entry = entry.Str("trace_id", event.TraceID)
	}
	if len(event.Metadata) > 0 {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// RecordTool records one state-changing tool call.
func (a *AuditLogger) RecordTool(ctx context.Context, tool, actor string, err error, metadata map[string]interface{}) {
	a.Record(ctx, AuditEvent{
		Type:     EventTool,
		Actor:    actor,
		Action:   tool,
		Status:   statusOf(err),
		Metadata: withError(metadata, err),
	})
}

// ObserveJob records a maintenance run. It satisfies the scheduler's job
// observer so scheduled runs land in the trail next to tool calls.
func (a *AuditLogger) ObserveJob(job string, err error) {
	a.Record(context.Background(), AuditEvent{
		Type:     EventMaintenance,
		Actor:    "scheduler",
		Action:   job,
		Status:   statusOf(err),
		Metadata: withError(nil, err),
	})
}

// Close closes the audit file.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		a.logger = zerolog.Nop()
		return err
	}
	return nil
}

func statusOf(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func withError(metadata map[string]interface{}, err error) map[string]interface{} {
	if err == nil {
		return metadata
	}
	out := make(map[string]interface{}, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}
