package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hugoboss23-5/swarm/task"
)

// tracerName is the instrumentation scope name for swarm tracing.
const tracerName = "github.com/hugoboss23-5/swarm"

// Tracing returns middleware that wraps task execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through with zero
// overhead.
//
// Span attributes include: swarm.task.id, swarm.task.name,
// swarm.resource.class, swarm.retry_count, swarm.node.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		ctx, span := tracer.Start(ctx, "swarm.task.execute",
			trace.WithAttributes(
				attribute.String("swarm.task.id", t.ID.String()),
				attribute.String("swarm.task.name", t.Name),
				attribute.String("swarm.resource.class", t.Resource.Class),
				attribute.Int("swarm.retry_count", t.RetryCount),
				attribute.String("swarm.node", t.AssignedNode.String()),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
