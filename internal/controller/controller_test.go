package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xuandao/noslated/internal/broker"
	"github.com/xuandao/noslated/internal/capacity"
	"github.com/xuandao/noslated/internal/controlplane"
	"github.com/xuandao/noslated/internal/launcher"
	"github.com/xuandao/noslated/internal/rpc"
	"github.com/xuandao/noslated/internal/shrink"
)

type fakeProfiles struct {
	profiles map[string]FunctionProfile
}

func (f fakeProfiles) Lookup(name string) (FunctionProfile, bool) {
	p, ok := f.profiles[name]
	return p, ok
}

type fakeDataPlane struct {
	mu       sync.Mutex
	reduced  []rpc.ReduceCapacityRequest
	fastFail []rpc.FastFailRequest
	// drain maps a broker name to the credentials to report drained; a
	// broker absent from drain reports every requested credential drained.
	drain map[string][]string
}

func (f *fakeDataPlane) ReduceCapacity(ctx context.Context, req rpc.ReduceCapacityRequest) (rpc.ReduceCapacityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reduced = append(f.reduced, req)

	resp := rpc.ReduceCapacityResponse{Brokers: make([]rpc.BrokerCapacityResponse, 0, len(req.Brokers))}
	for _, br := range req.Brokers {
		drained := br.Credentials
		if d, ok := f.drain[br.FunctionName]; ok {
			drained = d
		}
		resp.Brokers = append(resp.Brokers, rpc.BrokerCapacityResponse{FunctionName: br.FunctionName, Drained: drained})
	}
	return resp, nil
}

func (f *fakeDataPlane) StartWorkerFastFail(ctx context.Context, req rpc.FastFailRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fastFail = append(f.fastFail, req)
	return nil
}

func (f *fakeDataPlane) BroadcastContainerStatusReport(ctx context.Context, event broker.ContainerEvent) error {
	return nil
}

func TestRequestQueueingLaunchesWorker(t *testing.T) {
	launch := launcher.NewFake()
	state := controlplane.NewStateManager()
	c := New(Config{
		Capacity: mustCapacity(t),
		Profiles: fakeProfiles{profiles: map[string]FunctionProfile{"fn": {}}},
		Launcher: launch,
		State:    state,
	})

	c.onRequestQueueing(controlplane.RequestQueueingEvent{FunctionName: "fn", RequestID: "r1"})

	if len(launch.Launches()) != 1 {
		t.Fatalf("expected one launch, got %d", len(launch.Launches()))
	}
}

func TestRequestQueueingMissingProfileDoesNotLaunch(t *testing.T) {
	launch := launcher.NewFake()
	c := New(Config{
		Capacity: mustCapacity(t),
		Profiles: fakeProfiles{profiles: map[string]FunctionProfile{}},
		Launcher: launch,
	})

	c.onRequestQueueing(controlplane.RequestQueueingEvent{FunctionName: "unknown", RequestID: "r1"})

	if len(launch.Launches()) != 0 {
		t.Fatalf("expected no launch for unregistered function, got %d", len(launch.Launches()))
	}
}

func TestShrinkSkipsInspectorAndDisposableBrokers(t *testing.T) {
	state := controlplane.NewStateManager()
	state.SyncWorkerData([]controlplane.BrokerStatsReport{
		{FunctionName: "inspected", Inspector: true, Workers: []controlplane.WorkerStatsReport{{Credential: "c1", Running: true}}},
		{FunctionName: "throwaway", Disposable: true, Workers: []controlplane.WorkerStatsReport{{Credential: "d1", Running: true}}},
	})

	dp := &fakeDataPlaneNoop{}
	c := New(Config{
		Capacity: mustCapacity(t),
		Profiles: fakeProfiles{profiles: map[string]FunctionProfile{
			"inspected": {IsInspector: true},
			"throwaway": {Disposable: true},
		}},
		State: state,
	})
	c.cfg.DataPlane = dp

	err := c.shrink(context.Background(), []controlplane.Delta{
		{Broker: "inspected", Count: -1},
		{Broker: "throwaway", Count: -1},
	})
	if err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if dp.calls != 0 {
		t.Fatalf("expected inspector and disposable brokers to be skipped, got %d reduceCapacity calls", dp.calls)
	}
}

func TestShrinkStopsWorkersDrainedByDataPlane(t *testing.T) {
	state := controlplane.NewStateManager()
	state.SyncWorkerData([]controlplane.BrokerStatsReport{
		{FunctionName: "fn", Workers: []controlplane.WorkerStatsReport{
			{Credential: "c1", Running: true},
			{Credential: "c2", Running: true},
		}},
	})

	dp := &fakeDataPlane{drain: map[string][]string{"fn": {"c1"}}}
	launch := launcher.NewFake()
	c := New(Config{
		Capacity:  mustCapacity(t),
		Profiles:  fakeProfiles{profiles: map[string]FunctionProfile{"fn": {}}},
		DataPlane: dp,
		Launcher:  launch,
		State:     state,
	})

	if err := c.shrink(context.Background(), []controlplane.Delta{{Broker: "fn", Count: -1}}); err != nil {
		t.Fatalf("shrink: %v", err)
	}

	if len(dp.reduced) != 1 || len(dp.reduced[0].Brokers) != 1 || len(dp.reduced[0].Brokers[0].Credentials) != 1 {
		t.Fatalf("expected one batched reduceCapacity call with one victim, got %+v", dp.reduced)
	}
	if stopped := launch.Stopped(); len(stopped) != 1 || stopped[0] != "c1" {
		t.Fatalf("expected stopWorker(c1), got %+v", stopped)
	}
}

// TestShrinkSurvivesRemovedProfile exercises spec §8 scenario S5: every
// function's profile has been cleared, but autoScale still issues a
// single batched reduceCapacity spanning both brokers' full worker lists
// and stops every worker the data plane reports drained. The
// inspector/disposable gate must read off the stats mirror, not the
// (now-empty) profile registry.
func TestShrinkSurvivesRemovedProfile(t *testing.T) {
	state := controlplane.NewStateManager()
	state.SyncWorkerData([]controlplane.BrokerStatsReport{
		{FunctionName: "fnA", Workers: []controlplane.WorkerStatsReport{
			{Credential: "a1", Running: true},
			{Credential: "a2", Running: true},
			{Credential: "a3", Running: true},
		}},
		{FunctionName: "fnB", Workers: []controlplane.WorkerStatsReport{
			{Credential: "b1", Running: true},
			{Credential: "b2", Running: true},
		}},
	})

	dp := &fakeDataPlane{}
	launch := launcher.NewFake()
	c := New(Config{
		Capacity:  mustCapacity(t),
		Profiles:  fakeProfiles{profiles: map[string]FunctionProfile{}},
		DataPlane: dp,
		Launcher:  launch,
		State:     state,
	})

	err := c.shrink(context.Background(), []controlplane.Delta{
		{Broker: "fnA", Count: -3},
		{Broker: "fnB", Count: -2},
	})
	if err != nil {
		t.Fatalf("shrink: %v", err)
	}

	if len(dp.reduced) != 1 {
		t.Fatalf("expected exactly one batched reduceCapacity call, got %d", len(dp.reduced))
	}
	if len(dp.reduced[0].Brokers) != 2 {
		t.Fatalf("expected both brokers in the single call, got %+v", dp.reduced[0].Brokers)
	}
	if stopped := launch.Stopped(); len(stopped) != 5 {
		t.Fatalf("expected exactly five stopWorker calls, got %d: %+v", len(stopped), stopped)
	}
}

func TestShrinkReentrancyGuardDropsConcurrentCall(t *testing.T) {
	c := New(Config{Capacity: mustCapacity(t), Profiles: fakeProfiles{profiles: map[string]FunctionProfile{}}})
	c.shrinking.Store(true)

	err := c.shrink(context.Background(), []controlplane.Delta{{Broker: "fn", Count: -1}})
	if err != nil {
		t.Fatalf("expected dropped shrink call to return nil, got %v", err)
	}
}

func TestShrinkDrawUsesConfiguredStrategy(t *testing.T) {
	state := controlplane.NewStateManager()
	now := time.Now()
	state.SyncWorkerData([]controlplane.BrokerStatsReport{
		{FunctionName: "fn", Workers: []controlplane.WorkerStatsReport{
			{Credential: "old", RegisterTime: now, Running: true},
			{Credential: "new", RegisterTime: now.Add(time.Minute), Running: true},
		}},
	})

	c := New(Config{Capacity: mustCapacity(t), Profiles: fakeProfiles{}, State: state})
	victims := c.shrinkDraw("fn", FunctionProfile{ShrinkStrategy: shrink.FIFO}, 1)
	if len(victims) != 1 || victims[0].Credential != "old" {
		t.Fatalf("expected FIFO to pick the oldest worker, got %+v", victims)
	}
}

func mustCapacity(t *testing.T) capacity.Manager {
	t.Helper()
	m, err := capacity.New(capacity.Config{PoolSizeMB: 1000})
	if err != nil {
		t.Fatalf("capacity.New: %v", err)
	}
	return m
}

type fakeDataPlaneNoop struct {
	calls int
}

func (f *fakeDataPlaneNoop) ReduceCapacity(ctx context.Context, req rpc.ReduceCapacityRequest) (rpc.ReduceCapacityResponse, error) {
	f.calls++
	return rpc.ReduceCapacityResponse{}, nil
}

func (f *fakeDataPlaneNoop) StartWorkerFastFail(ctx context.Context, req rpc.FastFailRequest) error {
	return nil
}

func (f *fakeDataPlaneNoop) BroadcastContainerStatusReport(ctx context.Context, event broker.ContainerEvent) error {
	return nil
}
