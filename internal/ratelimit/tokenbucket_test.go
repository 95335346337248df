package ratelimit

import (
	"testing"
	"time"
)

func TestAcquireDrainsCapacity(t *testing.T) {
	b := New(Config{TokensPerFill: 1, FillInterval: time.Hour, MaxTokens: 3})

	for i := 0; i < 3; i++ {
		if !b.Acquire() {
			t.Fatalf("acquire %d: expected success", i)
		}
	}
	if b.Acquire() {
		t.Fatal("expected acquire to fail once capacity is drained")
	}
}

func TestRefillRestoresTokensUpToMax(t *testing.T) {
	b := New(Config{TokensPerFill: 2, FillInterval: 10 * time.Millisecond, MaxTokens: 2})
	b.Start()
	defer b.Close()

	if !b.Acquire() || !b.Acquire() {
		t.Fatal("expected two initial tokens")
	}
	if b.Acquire() {
		t.Fatal("expected bucket to be empty")
	}

	time.Sleep(30 * time.Millisecond)

	if !b.Acquire() {
		t.Fatal("expected refill to restore a token")
	}
}

func TestZeroConfigBucketHasNoTokens(t *testing.T) {
	// A broker without a configured bucket skips this stage entirely
	// (acquire is never called); a bucket built from a zero Config is not
	// itself special-cased as unlimited and starts empty.
	b := New(Config{})
	if b.Acquire() {
		t.Fatal("expected a zero-config bucket to reject acquire")
	}
}
