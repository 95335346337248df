package profilestore

import (
	"testing"
	"time"
)

func TestProfileDurationConversions(t *testing.T) {
	p := Profile{FillIntervalMs: 1500, InitializationTimeoutMs: 5000}
	if p.FillInterval() != 1500*time.Millisecond {
		t.Fatalf("expected 1500ms fill interval, got %v", p.FillInterval())
	}
	if p.InitializationTimeout() != 5*time.Second {
		t.Fatalf("expected 5s initialization timeout, got %v", p.InitializationTimeout())
	}
}
