package broker

import (
	"context"
	"sync"
	"time"

	"github.com/xuandao/noslated/internal/delegate"
)

// PipeError wraps a delegate failure with the two fields the spec requires
// on every pipe error path: measured queueing wait and the serving worker's
// name. The underlying delegate error is otherwise propagated unchanged.
type PipeError struct {
	Err        error
	QueueingMs int64
	WorkerName string
}

func (e *PipeError) Error() string { return e.Err.Error() }
func (e *PipeError) Unwrap() error { return e.Err }

// Worker is a handle onto one running worker process. Grounded on the
// teacher's Connection (control/internal/worker/types.go): a stable
// identity, a mutable live-state block guarded by its own lock, and a
// non-owning callback back into the owning broker instead of a pointer
// cycle (design note: weak back-reference).
type Worker struct {
	Name         string
	Credential   string
	Disposable   bool
	DebuggerTag  string
	RegisterTime time.Time

	maxActivateRequests int
	delegate            delegate.Delegate
	onFree              func(*Worker) // broker.tryConsumeQueue, set at bind time

	mu                  sync.Mutex
	activeRequestCount  int
	trafficOff          bool
	zeroWaiters         []chan struct{}
}

func newWorker(name, credential string, disposable bool, debuggerTag string, maxActivateRequests int, d delegate.Delegate, onFree func(*Worker)) *Worker {
	return &Worker{
		Name:                name,
		Credential:          credential,
		Disposable:          disposable,
		DebuggerTag:         debuggerTag,
		RegisterTime:        time.Now(),
		maxActivateRequests: maxActivateRequests,
		delegate:            d,
		onFree:              onFree,
	}
}

// ActiveRequestCount returns the current in-flight count.
func (w *Worker) ActiveRequestCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeRequestCount
}

// TrafficOff reports whether the worker has stopped accepting new work.
func (w *Worker) TrafficOff() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.trafficOff
}

// IsWorkerFree reports whether the worker may accept one more request.
func (w *Worker) IsWorkerFree() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.trafficOff && w.activeRequestCount < w.maxActivateRequests
}

// CloseTraffic stops new traffic and returns a channel that closes once the
// worker has drained (immediately, if already idle).
func (w *Worker) CloseTraffic() <-chan struct{} {
	w.mu.Lock()
	w.trafficOff = true
	if w.activeRequestCount == 0 {
		w.mu.Unlock()
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch := make(chan struct{})
	w.zeroWaiters = append(w.zeroWaiters, ch)
	w.mu.Unlock()
	return ch
}

// Pipe forwards one request to the worker process via the delegate.
// startEpoch, when non-zero, is the arrival time used to measure queueing
// wait (zero for pass-through dispatch, which never queued).
func (w *Worker) Pipe(ctx context.Context, input []byte, meta Metadata, startEpoch time.Time) (*delegate.Response, error) {
	w.mu.Lock()
	w.activeRequestCount++
	w.mu.Unlock()

	var queueingMs int64
	if !startEpoch.IsZero() {
		queueingMs = time.Since(startEpoch).Milliseconds()
	}

	if w.Disposable && meta.DebuggerTag != "" {
		if err := w.delegate.InspectorStart(ctx, w.Credential); err != nil {
			w.decrement()
			return nil, &PipeError{Err: err, QueueingMs: queueingMs, WorkerName: w.Name}
		}
	}

	resp, err := w.delegate.Trigger(ctx, w.Credential, input, meta.toDelegate())
	if err != nil {
		w.decrement()
		return nil, &PipeError{Err: err, QueueingMs: queueingMs, WorkerName: w.Name}
	}

	resp.QueueingMs = queueingMs
	resp.WorkerName = w.Name
	go w.awaitFinishAndDecrement(resp)
	return resp, nil
}

func (w *Worker) awaitFinishAndDecrement(resp *delegate.Response) {
	<-resp.Finish()
	w.decrement()
}

func (w *Worker) decrement() {
	w.mu.Lock()
	if w.activeRequestCount > 0 {
		w.activeRequestCount--
	}
	zero := w.activeRequestCount == 0
	var waiters []chan struct{}
	if zero {
		waiters = w.zeroWaiters
		w.zeroWaiters = nil
	}
	w.mu.Unlock()

	if zero {
		for _, ch := range waiters {
			close(ch)
		}
	}
	if w.onFree != nil {
		w.onFree(w)
	}
}
