// Package metrics implements broker.Metrics with OpenTelemetry
// instruments, promoting go.opentelemetry.io/otel/metric from an indirect
// dependency (pulled in transitively through the teacher's worker module)
// to the core's own telemetry sink (spec §6's queuedRequestAdd /
// queuedRequestDuration).
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Queue implements broker.Metrics against a meter's counter/histogram
// pair.
type Queue struct {
	queuedRequests       metric.Int64Counter
	queuedRequestSeconds metric.Float64Histogram
}

// New constructs a Queue from meter, registering the two instruments the
// broker reports against.
func New(meter metric.Meter) (*Queue, error) {
	counter, err := meter.Int64Counter(
		"noslated.broker.queued_requests",
		metric.WithDescription("requests admitted into a broker's pending queue"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	histogram, err := meter.Float64Histogram(
		"noslated.broker.queued_request_duration",
		metric.WithDescription("time a request spent in a broker's pending queue before resolution"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Queue{queuedRequests: counter, queuedRequestSeconds: histogram}, nil
}

// QueuedRequestAdd implements broker.Metrics.
func (q *Queue) QueuedRequestAdd(functionName string) {
	q.queuedRequests.Add(context.Background(), 1, metric.WithAttributes(functionAttr(functionName)))
}

// QueuedRequestDuration implements broker.Metrics.
func (q *Queue) QueuedRequestDuration(functionName string, d time.Duration) {
	q.queuedRequestSeconds.Record(context.Background(), d.Seconds(), metric.WithAttributes(functionAttr(functionName)))
}
