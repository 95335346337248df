package broker

// QueueingEvent mirrors the source's broadcastRequestQueueing notification:
// a broker had no free worker and either enqueued the request or (queueing
// disabled) rejected it outright.
type QueueingEvent struct {
	Broker    string
	RequestID string
	Inspect   bool
}

// ContainerEvent mirrors broadcastContainerStatusReport.
type ContainerEvent struct {
	Broker     string
	WorkerName string
	Inspect    bool
	Event      ContainerEventKind
}

// ContainerEventKind enumerates the two container lifecycle reports the
// broker emits.
type ContainerEventKind string

const (
	ContainerInstalled ContainerEventKind = "ContainerInstalled"
	RequestDrained     ContainerEventKind = "RequestDrained"
)

// EventSink decouples WorkerBroker from the control-plane's event bus
// (internal/controlplane), which aggregates these notifications into
// controller-visible subscriptions. A broker with a nil EventSink simply
// drops events, which is convenient for unit tests that don't care about
// notification fan-out.
type EventSink interface {
	RequestQueueing(QueueingEvent)
	ContainerStatusReport(ContainerEvent)
}
