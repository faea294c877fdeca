package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToLogger(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithRequestID(ctx, "req-456")
	ctx = WithUserID(ctx, "user-789")
	ctx = WithJob(ctx, "dedup_sweep")

	var buf bytes.Buffer
	logger := PropagateToLogger(ctx, zerolog.New(&buf))
	logger.Info().Msg("test message")

	output := buf.String()
	for _, want := range []string{"trace-123", "req-456", "user-789", "dedup_sweep"} {
		if !strings.Contains(output, want) {
			t.Errorf("%s not in log output: %s", want, output)
		}
	}
}

func TestLoggerFromContextSkipsDuplicateRequestID(t *testing.T) {
	ctx := NewRequestContext(context.Background(), "")

	var buf bytes.Buffer
	logger := LoggerFromContext(ctx, zerolog.New(&buf))
	logger.Info().Msg("test")

	output := buf.String()
	if !strings.Contains(output, GetTraceID(ctx)) {
		t.Error("Trace ID not in log output")
	}
	if strings.Contains(output, "request_id") {
		t.Error("Request ID equal to trace ID should not be logged twice")
	}
}

func TestLoggerFromEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggerFromContext(context.Background(), zerolog.New(&buf))
	logger.Info().Msg("plain")

	if strings.Contains(buf.String(), "trace_id") {
		t.Error("Unexpected trace_id in log output")
	}
}
