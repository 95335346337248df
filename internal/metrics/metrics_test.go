package metrics

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestQueueRecordsCounterAndHistogram(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	q, err := New(provider.Meter("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	q.QueuedRequestAdd("fn")
	q.QueuedRequestDuration("fn", 50*time.Millisecond)

	var data metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &data); err != nil {
		t.Fatalf("collect: %v", err)
	}

	var sawCounter, sawHistogram bool
	for _, sm := range data.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "noslated.broker.queued_requests":
				sawCounter = true
			case "noslated.broker.queued_request_duration":
				sawHistogram = true
			}
		}
	}
	if !sawCounter {
		t.Fatal("expected queued_requests counter to be recorded")
	}
	if !sawHistogram {
		t.Fatal("expected queued_request_duration histogram to be recorded")
	}
}
