// Package delegate defines the IPC facade between the data plane and a
// worker process. The core dispatcher only requires this interface; the
// concrete transport (however a real worker process is reached) is an
// external collaborator per the spec.
package delegate

import (
	"context"
	"sync"
	"time"
)

// Metadata carries per-invocation routing information supplied by the
// caller and passed through to Trigger by Worker.Pipe.
type Metadata struct {
	RequestID   string
	Deadline    time.Time
	Inspect     bool
	DebuggerTag string
}

// Response is the result of a Trigger call. Body is the raw payload the
// worker returned; Finish reports when the caller has fully consumed it.
// QueueingMs and WorkerName are set by the broker, not the delegate.
type Response struct {
	Body       []byte
	QueueingMs int64
	WorkerName string

	once sync.Once
	done chan struct{}
}

// NewResponse wraps a body in a Response with an unfired finish signal.
func NewResponse(body []byte) *Response {
	return &Response{Body: body, done: make(chan struct{})}
}

// Finish returns a channel that closes once the response body has been
// fully drained by whoever is streaming it out.
func (r *Response) Finish() <-chan struct{} {
	return r.done
}

// MarkFinished signals that the body has been fully consumed. Safe to call
// more than once; only the first call has an effect.
func (r *Response) MarkFinished() {
	r.once.Do(func() { close(r.done) })
}

// Delegate is the IPC facade to one worker process, addressed by its
// credential.
type Delegate interface {
	// Init initializes the worker runtime for credential. ctx carries the
	// profile's initializationTimeout as a deadline.
	Init(ctx context.Context, credential string) error

	// Trigger forwards one invocation to credential and returns its
	// response. QueueingMs/WorkerName on the returned Response are zero;
	// Worker.Pipe fills them in.
	Trigger(ctx context.Context, credential string, input []byte, meta Metadata) (*Response, error)

	// InspectorStart attaches a debugger to credential (disposable +
	// debuggerTag path only).
	InspectorStart(ctx context.Context, credential string) error

	// ResetPeer tears down a peer after an Init failure.
	ResetPeer(ctx context.Context, credential string) error
}
