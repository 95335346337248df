package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/xuandao/noslated/internal/controlplane"
	"github.com/xuandao/noslated/internal/launcher"
)

func TestDefaultReservationExpanderLaunchesPerDeltaCount(t *testing.T) {
	launch := launcher.NewFake()
	e := NewDefaultReservationExpander(launch, fakeProfiles{profiles: map[string]FunctionProfile{
		"fn": {ReservationCount: 3},
	}})

	if err := e.Expand(context.Background(), []controlplane.Delta{{Broker: "fn", Count: 2}}); err != nil {
		t.Fatalf("expand: %v", err)
	}

	if len(launch.Launches()) != 2 {
		t.Fatalf("expected 2 launches, got %d", len(launch.Launches()))
	}
	for _, m := range launch.Launches() {
		if !m.ToReserve {
			t.Fatalf("expected ToReserve=true on reservation launches, got %+v", m)
		}
	}
}

func TestDefaultReservationExpanderSkipsUnknownProfile(t *testing.T) {
	launch := launcher.NewFake()
	e := NewDefaultReservationExpander(launch, fakeProfiles{profiles: map[string]FunctionProfile{}})

	if err := e.Expand(context.Background(), []controlplane.Delta{{Broker: "ghost", Count: 5}}); err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(launch.Launches()) != 0 {
		t.Fatalf("expected no launches for unknown profile, got %d", len(launch.Launches()))
	}
}

func TestDefaultReservationExpanderReturnsFirstLaunchError(t *testing.T) {
	launch := launcher.NewFake()
	launch.LaunchErr = errors.New("boom")
	e := NewDefaultReservationExpander(launch, fakeProfiles{profiles: map[string]FunctionProfile{
		"fn": {},
	}})

	err := e.Expand(context.Background(), []controlplane.Delta{{Broker: "fn", Count: 1}})
	if err == nil {
		t.Fatal("expected an error")
	}
}
