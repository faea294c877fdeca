package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RequestIDKey is the context key for the id of an inbound tool request
	RequestIDKey ContextKey = "request_id"
	// UserIDKey is the context key for the memory partition being served
	UserIDKey ContextKey = "user_id"
	// JobKey is the context key for the running maintenance job
	JobKey ContextKey = "job"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	RequestID string
	UserID    string
	Job       string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds a user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithJob adds a maintenance job name to the context
func WithJob(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, JobKey, job)
}

func getString(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return getString(ctx, TraceIDKey) }

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string { return getString(ctx, RequestIDKey) }

// GetUserID retrieves the user ID from the context
func GetUserID(ctx context.Context) string { return getString(ctx, UserIDKey) }

// GetJob retrieves the maintenance job name from the context
func GetJob(ctx context.Context) string { return getString(ctx, JobKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		RequestID: GetRequestID(ctx),
		UserID:    GetUserID(ctx),
		Job:       GetJob(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	if tc.UserID != "" {
		ctx = WithUserID(ctx, tc.UserID)
	}
	if tc.Job != "" {
		ctx = WithJob(ctx, tc.Job)
	}
	return ctx
}

// NewRequestContext creates a new context for a request with a new trace ID.
// An empty requestID is replaced by the trace ID.
func NewRequestContext(ctx context.Context, requestID string) context.Context {
	traceID := NewTraceID()
	if requestID == "" {
		requestID = traceID
	}
	ctx = WithTraceID(ctx, traceID)
	return WithRequestID(ctx, requestID)
}

// NewJobContext creates a new context for one maintenance iteration
func NewJobContext(ctx context.Context, job string) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	return WithJob(ctx, job)
}
