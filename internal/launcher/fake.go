package launcher

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory WorkerLauncher for tests, mirroring the style of
// internal/delegate's Fake.
type Fake struct {
	LaunchErr error

	mu       sync.Mutex
	next     int
	launches []WorkerMetadata
	stopped  []string
}

// NewFake constructs an empty Fake.
func NewFake() *Fake { return &Fake{} }

func (f *Fake) TryLaunch(ctx context.Context, reason LaunchReason, metadata WorkerMetadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LaunchErr != nil {
		return "", f.LaunchErr
	}
	f.next++
	f.launches = append(f.launches, metadata)
	return fmt.Sprintf("fake-credential-%d", f.next), nil
}

func (f *Fake) StopWorker(ctx context.Context, credential string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, credential)
	return nil
}

// Launches returns every metadata passed to TryLaunch so far.
func (f *Fake) Launches() []WorkerMetadata {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WorkerMetadata, len(f.launches))
	copy(out, f.launches)
	return out
}

// Stopped returns every credential passed to StopWorker so far.
func (f *Fake) Stopped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.stopped))
	copy(out, f.stopped)
	return out
}
