package broker

import (
	"context"
	"testing"
	"time"

	"github.com/xuandao/noslated/internal/delegate"
)

func testProfile() Profile {
	return Profile{
		Name:                  "fn",
		MaxActivateRequests:   10,
		QueueEnabled:          true,
		InitializationTimeout: time.Second,
	}
}

func bindTestWorker(t *testing.T, b *WorkerBroker, d *delegate.Fake, credential string) *Worker {
	t.Helper()
	if err := b.RegisterCredential("worker-"+credential, credential); err != nil {
		t.Fatalf("register: %v", err)
	}
	w, err := b.BindWorker(context.Background(), credential)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	return w
}

// S1 — pass-through dispatch.
func TestInvokePassThroughDispatch(t *testing.T) {
	d := delegate.NewFake()
	b := New("fn", testProfile(), d)
	b.Start()
	defer b.Close()

	w := bindTestWorker(t, b, d, "c1")

	resp, err := b.Invoke(context.Background(), []byte("in"), Metadata{RequestID: "r1", Deadline: time.Now().Add(time.Second)})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp.QueueingMs != 0 {
		t.Fatalf("expected zero queueing, got %d", resp.QueueingMs)
	}
	if resp.WorkerName != w.Name {
		t.Fatalf("expected workerName %s, got %s", w.Name, resp.WorkerName)
	}
	if d.TriggerCount("c1") != 1 {
		t.Fatalf("expected exactly one trigger call")
	}

	// The fake auto-finishes; give the decrement goroutine a moment.
	time.Sleep(10 * time.Millisecond)
	if w.ActiveRequestCount() != 0 {
		t.Fatalf("expected activeRequestCount back to 0, got %d", w.ActiveRequestCount())
	}
}

// S2 — queue then drain.
func TestInvokeQueuesThenDrainsOnBind(t *testing.T) {
	d := delegate.NewFake()
	b := New("fn", testProfile(), d)
	b.Start()
	defer b.Close()

	var gotEvent QueueingEvent
	b.events = eventSinkFunc{onQueueing: func(e QueueingEvent) { gotEvent = e }}

	resultCh := make(chan result, 1)
	go func() {
		resp, err := b.Invoke(context.Background(), []byte("in"), Metadata{RequestID: "r1", Deadline: time.Now().Add(500 * time.Millisecond)})
		resultCh <- result{response: resp, err: err}
	}()

	time.Sleep(20 * time.Millisecond)
	if b.QueueLength() != 1 {
		t.Fatalf("expected queue length 1, got %d", b.QueueLength())
	}
	if gotEvent.RequestID != "r1" {
		t.Fatalf("expected RequestQueueing broadcast, got %+v", gotEvent)
	}

	bindTestWorker(t, b, d, "c1")

	select {
	case r := <-resultCh:
		if r.err != nil {
			t.Fatalf("invoke: %v", r.err)
		}
		if r.response.QueueingMs <= 0 {
			t.Fatalf("expected positive measured queueing wait, got %d", r.response.QueueingMs)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued invoke to resolve")
	}
	if b.QueueLength() != 0 {
		t.Fatalf("expected queue drained, got length %d", b.QueueLength())
	}
	if b.Status() != PassThrough {
		t.Fatal("expected queueStatus back to PASS_THROUGH")
	}
}

// S3 — queue timeout.
func TestInvokeQueueTimeout(t *testing.T) {
	d := delegate.NewFake()
	b := New("fn", testProfile(), d)
	b.Start()
	defer b.Close()

	start := time.Now()
	_, err := b.Invoke(context.Background(), []byte("in"), Metadata{RequestID: "r1", Deadline: time.Now().Add(50 * time.Millisecond)})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected deadline exceeded error")
	}
	if elapsed < 40*time.Millisecond {
		t.Fatalf("rejected too early: %v", elapsed)
	}
	if b.QueueLength() != 0 {
		t.Fatalf("expected queue emptied after timeout, got %d", b.QueueLength())
	}
}

// S6 — fast-fail propagation.
func TestFastFailAllPendingsRejectsEveryEntry(t *testing.T) {
	d := delegate.NewFake()
	b := New("fn", testProfile(), d)
	b.Start()
	defer b.Close()

	const n = 10
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := b.Invoke(context.Background(), []byte("in"), Metadata{RequestID: "r", Deadline: time.Now().Add(10 * time.Second)})
			results <- err
		}()
	}

	deadline := time.Now().Add(time.Second)
	for b.QueueLength() != n && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if b.QueueLength() != n {
		t.Fatalf("expected %d queued, got %d", n, b.QueueLength())
	}

	b.FastFailAllPendingsDueToStartError(FastFailRequest{Fatal: true, Message: "boom"})

	for i := 0; i < n; i++ {
		select {
		case err := <-results:
			if err == nil || err.Error() != "boom" {
				t.Fatalf("expected fast-fail message, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fast-fail rejection")
		}
	}
	if b.QueueLength() != 0 {
		t.Fatalf("expected empty queue after fast-fail, got %d", b.QueueLength())
	}
}

// Disposable workers serve at most one request before draining.
func TestDisposableWorkerDrainsAfterOneRequest(t *testing.T) {
	d := delegate.NewFake()
	profile := testProfile()
	profile.Disposable = true
	b := New("fn", profile, d)
	b.Start()
	defer b.Close()

	w := bindTestWorker(t, b, d, "c1")

	_, err := b.Invoke(context.Background(), []byte("in"), Metadata{RequestID: "r1", Deadline: time.Now().Add(time.Second)})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	// Invoke closes traffic asynchronously; observe it before calling
	// CloseTraffic here, which would set trafficOff itself.
	deadline := time.Now().Add(time.Second)
	for !w.TrafficOff() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !w.TrafficOff() {
		t.Fatal("expected trafficOff after disposable dispatch")
	}

	select {
	case <-w.CloseTraffic():
	case <-time.After(time.Second):
		t.Fatal("expected disposable worker to have drained")
	}
}

// Rate limiting fails fast with RESOURCE_EXHAUSTED.
func TestInvokeRateLimited(t *testing.T) {
	d := delegate.NewFake()
	profile := testProfile()
	profile.RateLimitEnabled = true
	profile.MaxTokens = 0
	profile.TokensPerFill = 0
	profile.FillInterval = time.Hour
	b := New("fn", profile, d)
	b.Start()
	defer b.Close()

	_, err := b.Invoke(context.Background(), []byte("in"), Metadata{RequestID: "r1", Deadline: time.Now().Add(time.Second)})
	if err == nil {
		t.Fatal("expected rate limit rejection")
	}
}

// eventSinkFunc adapts closures to the EventSink interface for tests.
type eventSinkFunc struct {
	onQueueing func(QueueingEvent)
	onReport   func(ContainerEvent)
}

func (f eventSinkFunc) RequestQueueing(e QueueingEvent) {
	if f.onQueueing != nil {
		f.onQueueing(e)
	}
}

func (f eventSinkFunc) ContainerStatusReport(e ContainerEvent) {
	if f.onReport != nil {
		f.onReport(e)
	}
}
