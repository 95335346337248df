// Package broker implements the per-function request dispatcher: admission
// control, worker selection, the bounded pending-request queue, and worker
// lifecycle (register -> bind -> serve -> drain). Grounded throughout on
// control/internal/worker/connection_store.go and
// control/internal/registry/worker_registry.go's map-plus-mutex,
// mutation-closure, and observer-notification shapes.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/xuandao/noslated/internal/delegate"
	"github.com/xuandao/noslated/internal/ratelimit"
)

// QueueStatus is the broker's admission mode.
type QueueStatus int

const (
	PassThrough QueueStatus = iota
	Queueing
)

type workerState int

const (
	statePending workerState = iota
	stateBound
	stateDraining
	stateStopped
)

type workerItem struct {
	status workerState
	name   string
	worker *Worker
}

// FastFailRequest is the payload startWorkerFastFail echoes back to the
// broker (spec §6).
type FastFailRequest struct {
	Fatal   bool
	Message string
}

// WorkerBroker is the per-function dispatcher: a worker set, a pending
// queue, and an optional rate limiter.
type WorkerBroker struct {
	Name     string
	Profile  Profile
	Delegate delegate.Delegate

	events  EventSink
	metrics Metrics
	bucket  *ratelimit.TokenBucket

	readyCh   chan struct{}
	readyOnce sync.Once

	mu          sync.Mutex
	queue       []*PendingRequest
	queueStatus QueueStatus
	workers     map[string]*workerItem
}

// Option configures optional WorkerBroker collaborators.
type Option func(*WorkerBroker)

// WithEventSink wires the broadcaster for RequestQueueing/ContainerStatus
// notifications.
func WithEventSink(s EventSink) Option { return func(b *WorkerBroker) { b.events = s } }

// WithMetrics wires the queuedRequest counter/histogram.
func WithMetrics(m Metrics) Option { return func(b *WorkerBroker) { b.metrics = m } }

// New constructs a WorkerBroker. If profile.RateLimitEnabled is false the
// broker skips the token-bucket stage entirely (acquire is never called).
func New(name string, profile Profile, d delegate.Delegate, opts ...Option) *WorkerBroker {
	b := &WorkerBroker{
		Name:     name,
		Profile:  profile,
		Delegate: d,
		workers:  make(map[string]*workerItem),
		readyCh:  make(chan struct{}),
	}
	if profile.RateLimitEnabled {
		b.bucket = ratelimit.New(ratelimit.Config{
			TokensPerFill: profile.TokensPerFill,
			FillInterval:  profile.FillInterval,
			MaxTokens:     profile.MaxTokens,
		})
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start marks the broker ready (starts the token bucket's refill loop, if
// any) and unblocks any Invoke calls waiting on readiness. Safe to call
// once; a broker never un-readies.
func (b *WorkerBroker) Start() {
	if b.bucket != nil {
		b.bucket.Start()
	}
	b.readyOnce.Do(func() { close(b.readyCh) })
}

// Close stops the token bucket's background refill task.
func (b *WorkerBroker) Close() {
	if b.bucket != nil {
		b.bucket.Close()
	}
}

func (b *WorkerBroker) waitReady(ctx context.Context) error {
	select {
	case <-b.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *WorkerBroker) maxActivateRequests() int {
	if b.Profile.Disposable {
		return 1
	}
	return b.Profile.MaxActivateRequests
}

// RegisterCredential inserts a {Pending, name, nil} entry. A credential
// that already appears in the worker index (regardless of state) is an
// error — spec invariant "a credential appears at most once".
func (b *WorkerBroker) RegisterCredential(name, credential string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.workers[credential]; exists {
		return fmt.Errorf("broker %s: credential %s already registered", b.Name, credential)
	}
	b.workers[credential] = &workerItem{status: statePending, name: name}
	return nil
}

// BindWorker initializes the worker process behind credential and, on
// success, makes it eligible for dispatch. On Init failure the entry stays
// Pending; callers are expected to follow up with RemoveWorker (spec
// §4.3.5).
func (b *WorkerBroker) BindWorker(ctx context.Context, credential string) (*Worker, error) {
	b.mu.Lock()
	item, exists := b.workers[credential]
	if !exists || item.status != statePending {
		b.mu.Unlock()
		return nil, fmt.Errorf("broker %s: credential %s is not pending", b.Name, credential)
	}
	name := item.name
	b.mu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, b.Profile.InitializationTimeout)
	defer cancel()

	if err := b.Delegate.Init(initCtx, credential); err != nil {
		_ = b.Delegate.ResetPeer(context.Background(), credential)
		return nil, err
	}

	w := newWorker(name, credential, b.Profile.Disposable, "", b.maxActivateRequests(), b.Delegate, b.tryConsumeQueue)

	b.mu.Lock()
	item.status = stateBound
	item.worker = w
	b.mu.Unlock()

	if b.events != nil {
		b.events.ContainerStatusReport(ContainerEvent{Broker: b.Name, WorkerName: name, Event: ContainerInstalled})
	}

	b.tryConsumeQueue(w)
	return w, nil
}

// RemoveWorker drops credential from the index. Unconditional: it does not
// await or cancel an in-flight Pipe call on that worker (spec §9 open
// question, resolved unconditional per the source's behavior).
func (b *WorkerBroker) RemoveWorker(credential string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.workers, credential)
}

// getAvailableWorker selects the bound, non-drained worker with the
// minimum activeRequestCount, treating trafficOff workers as unavailable.
// Returns nil if every candidate is already at capacity. Caller must hold
// b.mu.
func (b *WorkerBroker) getAvailableWorker() *Worker {
	var best *Worker
	bestCount := -1
	for _, item := range b.workers {
		if item.status != stateBound || item.worker == nil {
			continue
		}
		w := item.worker
		if w.TrafficOff() {
			continue
		}
		count := w.ActiveRequestCount()
		if count >= b.maxActivateRequests() {
			continue
		}
		if best == nil || count < bestCount || (count == bestCount && w.Name < best.Name) {
			best = w
			bestCount = count
		}
	}
	return best
}

// Invoke is the single entry point for a client call.
func (b *WorkerBroker) Invoke(ctx context.Context, input []byte, meta Metadata) (*delegate.Response, error) {
	if err := b.waitReady(ctx); err != nil {
		return nil, err
	}

	if b.bucket != nil && !b.bucket.Acquire() {
		return nil, status.Error(codes.ResourceExhausted, "broker "+b.Name+": rate limit exceeded")
	}

	b.mu.Lock()
	if b.queueStatus == Queueing {
		pr, err := b.enqueueLocked(meta, input)
		b.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return pr.Wait(ctx)
	}

	w := b.getAvailableWorker()
	if w == nil {
		pr, err := b.enqueueLocked(meta, input)
		if err == nil {
			b.queueStatus = Queueing
		}
		b.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return pr.Wait(ctx)
	}
	b.mu.Unlock()

	resp, err := w.Pipe(ctx, input, meta, time.Time{})
	if w.Disposable {
		go func() { <-w.CloseTraffic() }()
	}
	return resp, err
}

// enqueueLocked appends a new PendingRequest to the queue, or — if queueing
// is disabled for this profile — broadcasts RequestQueueing once and fails
// immediately without enqueuing (spec §4.3.2, §7). Caller must hold b.mu.
func (b *WorkerBroker) enqueueLocked(meta Metadata, input []byte) (*PendingRequest, error) {
	if !b.Profile.QueueEnabled {
		if b.events != nil {
			b.events.RequestQueueing(QueueingEvent{Broker: b.Name, RequestID: meta.RequestID, Inspect: meta.Inspect})
		}
		return nil, errors.New("broker " + b.Name + ": no available worker")
	}

	pr := newPendingRequest(input, meta)
	b.queue = append(b.queue, pr)

	if b.metrics != nil {
		b.metrics.QueuedRequestAdd(b.Name)
	}
	if b.events != nil {
		b.events.RequestQueueing(QueueingEvent{Broker: b.Name, RequestID: meta.RequestID, Inspect: meta.Inspect})
	}

	pr.armTimer(time.Until(meta.Deadline), func() { b.onQueueTimeout(pr) })
	return pr, nil
}

func (b *WorkerBroker) removeFromQueueLocked(pr *PendingRequest) bool {
	for i, e := range b.queue {
		if e == pr {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (b *WorkerBroker) onQueueTimeout(pr *PendingRequest) {
	pr.markUnavailable()

	b.mu.Lock()
	b.removeFromQueueLocked(pr)
	if len(b.queue) == 0 {
		b.queueStatus = PassThrough
	}
	b.mu.Unlock()

	wait := pr.waitDuration()
	pr.reject(status.Error(codes.DeadlineExceeded, "broker "+b.Name+": queue wait deadline exceeded"))
	if b.metrics != nil {
		b.metrics.QueuedRequestDuration(b.Name, wait)
	}
}

// tryConsumeQueue drains the pending queue into w while it remains free.
// Called whenever a worker transitions to free: bind completion or a
// pipe's post-decrement.
func (b *WorkerBroker) tryConsumeQueue(w *Worker) {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.queueStatus = PassThrough
			b.mu.Unlock()
			return
		}
		if !w.IsWorkerFree() {
			b.mu.Unlock()
			return
		}
		pr := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		if !pr.isAvailable() {
			// Timed out (or fast-failed) between enqueue and pop; its own
			// timer/fast-fail path already rejected it. Skip in place and
			// keep draining with the same worker.
			continue
		}

		pr.cancelTimer()
		resp, err := w.Pipe(context.Background(), pr.Input, pr.Metadata, pr.ArrivalTime)
		wait := pr.waitDuration()
		if err != nil {
			pr.reject(err)
		} else {
			pr.resolve(resp)
		}
		if b.metrics != nil {
			b.metrics.QueuedRequestDuration(b.Name, wait)
		}

		if b.Profile.Disposable {
			// Disposable workers drain after attempting exactly one entry,
			// regardless of whether that attempt resolved or rejected.
			<-w.CloseTraffic()
			return
		}
	}
}

// FastFailAllPendingsDueToStartError implements
// fastFailAllPendingsDueToStartError: a no-op unless req.Fatal or the
// profile opts into fastFailRequestsOnStarting.
func (b *WorkerBroker) FastFailAllPendingsDueToStartError(req FastFailRequest) {
	if !req.Fatal && !b.Profile.FastFailRequestsOnStarting {
		return
	}

	b.mu.Lock()
	entries := b.queue
	b.queue = nil
	b.queueStatus = PassThrough
	b.mu.Unlock()

	for _, pr := range entries {
		pr.markUnavailable()
		pr.cancelTimer()
		wait := pr.waitDuration()
		pr.reject(errors.New(req.Message))
		if b.metrics != nil {
			b.metrics.QueuedRequestDuration(b.Name, wait)
		}
	}
}

// QueueLength returns the current pending queue length (read-only helper
// used by tests and by BrokerStats).
func (b *WorkerBroker) QueueLength() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Status returns the current queue status.
func (b *WorkerBroker) Status() QueueStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queueStatus
}

// Snapshot lists every bound worker, for BrokerStats and for the
// control-plane's periodic stats sync.
func (b *WorkerBroker) Snapshot() []WorkerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]WorkerSnapshot, 0, len(b.workers))
	for _, item := range b.workers {
		if item.status != stateBound || item.worker == nil {
			continue
		}
		out = append(out, WorkerSnapshot{
			Name:               item.worker.Name,
			Credential:         item.worker.Credential,
			ActiveRequestCount: item.worker.ActiveRequestCount(),
			TrafficOff:         item.worker.TrafficOff(),
			RegisterTime:       item.worker.RegisterTime,
		})
	}
	return out
}

// WorkerSnapshot is a read-only view of one bound worker's live state.
type WorkerSnapshot struct {
	Name               string
	Credential         string
	ActiveRequestCount int
	TrafficOff         bool
	RegisterTime       time.Time
}
