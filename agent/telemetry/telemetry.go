// Package telemetry defines the ambient logging, metrics, and tracing
// seams the loop scheduler logs and records through, instead of calling
// fmt.Println or the standard log package directly.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the structured logging interface used throughout the loop.
type Logger interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
}

// Metrics records counters, timers, and gauges for run-level telemetry
// (the loop records turn, cache-hit and tool-call counts and tool-call
// durations).
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, d time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer starts spans around provider calls and tool dispatch.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Span is the narrow span interface the loop depends on.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, kv ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}
