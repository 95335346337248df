package broker

import "time"

// Metrics is the narrow surface WorkerBroker needs from the metrics stack
// (spec §6: queuedRequestCounter, queuedRequestDurationHistogram). The
// concrete otel-backed implementation lives in internal/metrics. A nil
// Metrics is valid and simply drops samples, which keeps unit tests free of
// instrumentation setup.
type Metrics interface {
	QueuedRequestAdd(functionName string)
	QueuedRequestDuration(functionName string, d time.Duration)
}
