package controlplane

import "github.com/xuandao/noslated/internal/broker"

// RequestQueueingEvent is the controller-facing notification built from a
// broker's raw QueueingEvent plus the control-plane's current stats
// snapshot (spec §4.4.1's RequestQueueing(name, isInspect, requestId,
// stats)).
type RequestQueueingEvent struct {
	FunctionName string
	IsInspect    bool
	RequestID    string
	Stats        []BrokerView
}

// WorkerTrafficStatsEvent carries a periodic stats report that triggers
// autoScale (spec §4.4.2).
type WorkerTrafficStatsEvent struct {
	Stats []BrokerView
}

// Bridge subscribes to raw broker.EventSink notifications and republishes
// them as controller-facing events, enriched with the current stats
// snapshot. One Bridge serves every broker in the process (brokers hold a
// narrow EventSink reference to it).
type Bridge struct {
	state *StateManager

	QueueingBus  *Bus[RequestQueueingEvent]
	ContainerBus *Bus[broker.ContainerEvent]
	TrafficBus   *Bus[WorkerTrafficStatsEvent]
}

// NewBridge constructs a Bridge wired to the given StateManager.
func NewBridge(state *StateManager) *Bridge {
	return &Bridge{
		state:        state,
		QueueingBus:  NewBus[RequestQueueingEvent](),
		ContainerBus: NewBus[broker.ContainerEvent](),
		TrafficBus:   NewBus[WorkerTrafficStatsEvent](),
	}
}

// RequestQueueing implements broker.EventSink.
func (br *Bridge) RequestQueueing(e broker.QueueingEvent) {
	br.QueueingBus.NotifyObservers(RequestQueueingEvent{
		FunctionName: e.Broker,
		IsInspect:    e.Inspect,
		RequestID:    e.RequestID,
		Stats:        br.state.Snapshot(),
	})
}

// ContainerStatusReport implements broker.EventSink.
func (br *Bridge) ContainerStatusReport(e broker.ContainerEvent) {
	br.ContainerBus.NotifyObservers(e)
}

// PublishTrafficStats is called periodically (by whatever polls the data
// plane) to drive autoScale.
func (br *Bridge) PublishTrafficStats() {
	br.TrafficBus.NotifyObservers(WorkerTrafficStatsEvent{Stats: br.state.Snapshot()})
}
