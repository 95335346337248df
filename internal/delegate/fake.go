package delegate

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-process Delegate used by broker tests and by cmd/brokerd's
// demo wiring when no real worker-process transport is configured. Mirrors
// the small dependency-injected interface shape of the teacher's
// worker/internal/client.DockerService (a handful of methods, easy to stub).
type Fake struct {
	mu sync.Mutex

	// InitErr, when set, is returned by Init for every credential.
	InitErr error
	// TriggerErr, when set, is returned by Trigger for every credential.
	TriggerErr error
	// AutoFinish finishes every Response immediately after Trigger returns
	// it (the common case for tests that don't care about streaming).
	AutoFinish bool

	initialized map[string]bool
	inspected   map[string]bool
	reset       map[string]bool
	triggered   []string
}

// NewFake constructs a ready-to-use Fake delegate.
func NewFake() *Fake {
	return &Fake{
		initialized: make(map[string]bool),
		inspected:   make(map[string]bool),
		reset:       make(map[string]bool),
		AutoFinish:  true,
	}
}

func (f *Fake) Init(_ context.Context, credential string) error {
	if f.InitErr != nil {
		return f.InitErr
	}
	f.mu.Lock()
	f.initialized[credential] = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) Trigger(_ context.Context, credential string, input []byte, _ Metadata) (*Response, error) {
	f.mu.Lock()
	if !f.initialized[credential] {
		f.mu.Unlock()
		return nil, fmt.Errorf("delegate: credential %s not initialized", credential)
	}
	f.triggered = append(f.triggered, credential)
	f.mu.Unlock()

	if f.TriggerErr != nil {
		return nil, f.TriggerErr
	}

	resp := NewResponse(input)
	if f.AutoFinish {
		resp.MarkFinished()
	}
	return resp, nil
}

func (f *Fake) InspectorStart(_ context.Context, credential string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inspected[credential] = true
	return nil
}

func (f *Fake) ResetPeer(_ context.Context, credential string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset[credential] = true
	return nil
}

// TriggerCount returns how many times Trigger was called for credential.
func (f *Fake) TriggerCount(credential string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.triggered {
		if c == credential {
			n++
		}
	}
	return n
}

// WasReset reports whether ResetPeer was called for credential.
func (f *Fake) WasReset(credential string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reset[credential]
}
