package main

import (
	"testing"

	"github.com/xuandao/noslated/internal/broker"
	"github.com/xuandao/noslated/internal/delegate"
)

func TestBrokerRegistryLookup(t *testing.T) {
	r := newBrokerRegistry()
	b := broker.New("fn", broker.Profile{MaxActivateRequests: 1}, delegate.NewFake())
	r.add(b)

	got, err := r.lookup("fn")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != b {
		t.Fatalf("expected the registered broker back")
	}

	if _, err := r.lookup("ghost"); err == nil {
		t.Fatal("expected an error for an unregistered broker")
	}

	if len(r.all()) != 1 {
		t.Fatalf("expected 1 broker from all(), got %d", len(r.all()))
	}
}
