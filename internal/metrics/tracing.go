package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies spans emitted by the broker/controller under a
// single instrumentation scope.
const tracerName = "github.com/xuandao/noslated"

// StartDispatchSpan starts a "broker.Invoke" span tagged with the function
// name, for exporters like otlptracehttp to pick up, mirroring the otelhttp
// instrumentation the teacher's worker module pulls in transitively for its
// own outbound calls. WorkerBroker.Invoke does not call it; a caller that
// wants a span per invocation starts and ends it around Invoke.
func StartDispatchSpan(ctx context.Context, functionName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "broker.Invoke",
		trace.WithAttributes(functionAttr(functionName)))
}
