// Package telemetry defines the logging, metrics, and tracing surface used
// throughout the orchestration core. Components depend on the interfaces
// here rather than on a concrete backend so that production builds can wire
// in OpenTelemetry/clue while tests and local tooling use the no-op
// implementations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
)

type (
	// Logger emits structured, leveled log records. All methods take a
	// context first so implementations can extract request-scoped fields
	// (trace id, execution id, ...) before emitting.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges. Tags are flat key/value
	// pairs appended as dimension labels.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer creates and retrieves spans for the active context.
	Tracer interface {
		Start(ctx context.Context, name string) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is a single unit of tracing work.
	Span interface {
		End()
		AddEvent(name string, keyvals ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error)
	}

	// Bundle groups the three observability surfaces so components can take
	// a single dependency instead of three.
	Bundle struct {
		Logger  Logger
		Metrics Metrics
		Tracer  Tracer
	}
)

// NoopBundle returns a Bundle backed entirely by no-op implementations,
// suitable for tests and local tooling that does not care about
// observability output.
func NoopBundle() Bundle {
	return Bundle{Logger: NoopLogger{}, Metrics: NoopMetrics{}, Tracer: NoopTracer{}}
}
