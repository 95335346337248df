package broker

import (
	"context"
	"sync"
	"time"

	"github.com/xuandao/noslated/internal/delegate"
)

// Metadata carries per-invocation routing information supplied by a caller
// to WorkerBroker.Invoke.
type Metadata struct {
	RequestID   string
	Deadline    time.Time
	Inspect     bool
	DebuggerTag string
}

func (m Metadata) toDelegate() delegate.Metadata {
	return delegate.Metadata{
		RequestID:   m.RequestID,
		Deadline:    m.Deadline,
		Inspect:     m.Inspect,
		DebuggerTag: m.DebuggerTag,
	}
}

type result struct {
	response *delegate.Response
	err      error
}

// PendingRequest is one queued invocation: its payload, deadline timer, and
// single-shot completion promise. Exactly one of resolve/reject ever fires
// (spec invariant); the deadline timer is cancelled on any terminal
// transition. Grounded on the teacher's per-connection send-channel +
// cancel-func pairing in control/internal/worker/connection_store.go,
// adapted from "one channel per worker" to "one channel per request".
type PendingRequest struct {
	Input       []byte
	Metadata    Metadata
	ArrivalTime time.Time

	mu        sync.Mutex
	available bool
	terminal  bool
	timer     *time.Timer
	resultCh  chan result
}

func newPendingRequest(input []byte, meta Metadata) *PendingRequest {
	return &PendingRequest{
		Input:       input,
		Metadata:    meta,
		ArrivalTime: time.Now(),
		available:   true,
		resultCh:    make(chan result, 1),
	}
}

// armTimer starts the deadline timer. onExpire runs at most once and is
// responsible for removing the entry from its queue and rejecting it.
func (p *PendingRequest) armTimer(d time.Duration, onExpire func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminal {
		return
	}
	if d <= 0 {
		d = time.Millisecond
	}
	p.timer = time.AfterFunc(d, onExpire)
}

func (p *PendingRequest) cancelTimer() {
	p.mu.Lock()
	t := p.timer
	p.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// isAvailable reports whether this entry is still eligible for dispatch
// (false once timed out or fast-failed).
func (p *PendingRequest) isAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

func (p *PendingRequest) markUnavailable() {
	p.mu.Lock()
	p.available = false
	p.mu.Unlock()
}

// waitDuration is the elapsed time since arrival, used for the queue wait
// histogram regardless of which terminal path fired.
func (p *PendingRequest) waitDuration() time.Duration {
	return time.Since(p.ArrivalTime)
}

// resolve fires the success path exactly once.
func (p *PendingRequest) resolve(resp *delegate.Response) bool {
	p.mu.Lock()
	if p.terminal {
		p.mu.Unlock()
		return false
	}
	p.terminal = true
	p.available = false
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()
	p.resultCh <- result{response: resp}
	return true
}

// reject fires the failure path exactly once.
func (p *PendingRequest) reject(err error) bool {
	p.mu.Lock()
	if p.terminal {
		p.mu.Unlock()
		return false
	}
	p.terminal = true
	p.available = false
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()
	p.resultCh <- result{err: err}
	return true
}

// Wait blocks until the request is resolved, rejected, or ctx is done.
func (p *PendingRequest) Wait(ctx context.Context) (*delegate.Response, error) {
	select {
	case r := <-p.resultCh:
		return r.response, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
