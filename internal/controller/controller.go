// Package controller implements DefaultController (spec §4.4): the
// autoscaling brain that subscribes to RequestQueueing and
// WorkerTrafficStats, and drives the launcher/rpc/shrink/capacity
// collaborators in response. Grounded on the teacher's workerRegistryImpl
// observer-subscription wiring (control/internal/registry/worker_registry.go)
// generalized from ping-driven health to stats-driven autoscale.
package controller

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"github.com/xuandao/noslated/internal/capacity"
	"github.com/xuandao/noslated/internal/controlplane"
	"github.com/xuandao/noslated/internal/launcher"
	"github.com/xuandao/noslated/internal/rpc"
	"github.com/xuandao/noslated/internal/shrink"
)

// ErrNoFunction is logged by onRequestQueueing when no profile is
// registered for the named function (spec §4.4.1 step 2, kNoFunction);
// the handler then returns without launching a worker.
var ErrNoFunction = errors.New("controller: no function profile registered")

// FunctionProfile is the subset of a function's profile the controller
// needs to launch and shrink workers for it.
type FunctionProfile struct {
	Disposable       bool
	IsInspector      bool
	ShrinkStrategy   shrink.Strategy
	ReservationCount int
}

// ProfileRegistry resolves a function's profile. Profile/config loading
// is out of scope for the core (spec §1); the controller depends only on
// this lookup.
type ProfileRegistry interface {
	Lookup(functionName string) (FunctionProfile, bool)
}

// ReservationExpander is the separate collaborator that handles expanding
// brokers below their reservation floor (spec §4.4.2 step 4:
// "concurrently run expand(regularDeltas) and
// reservationController.expand(reservationDeltas)").
type ReservationExpander interface {
	Expand(ctx context.Context, deltas []controlplane.Delta) error
}

// Config wires every collaborator DefaultController needs.
type Config struct {
	Capacity    capacity.Manager
	Profiles    ProfileRegistry
	Launcher    launcher.WorkerLauncher
	DataPlane   rpc.DataPlaneClientManager
	State       *controlplane.StateManager
	Reservation ReservationExpander

	DefaultShrinkStrategy shrink.Strategy
}

// DefaultController is the concrete Manager (spec §4.4): subscribes to a
// Bridge's two event buses and reacts.
type DefaultController struct {
	cfg Config

	// shrinking guards autoScale's shrink phase against reentrancy
	// (spec §4.4.3: "single-flight shrinking flag; concurrent entries
	// return immediately").
	shrinking atomic.Bool
}

// New constructs a DefaultController. Callers subscribe it to a Bridge via
// Attach.
func New(cfg Config) *DefaultController {
	if cfg.DefaultShrinkStrategy == "" {
		cfg.DefaultShrinkStrategy = shrink.LCC
	}
	return &DefaultController{cfg: cfg}
}

// Attach subscribes the controller to br's two event streams.
func (c *DefaultController) Attach(br *controlplane.Bridge) {
	br.QueueingBus.Subscribe(controlplane.ObserverFunc[controlplane.RequestQueueingEvent](c.onRequestQueueing))
	br.TrafficBus.Subscribe(controlplane.ObserverFunc[controlplane.WorkerTrafficStatsEvent](c.onWorkerTrafficStats))
}

// onRequestQueueing implements spec §4.4.1.
func (c *DefaultController) onRequestQueueing(e controlplane.RequestQueueingEvent) {
	ctx := context.Background()

	if !c.cfg.Capacity.AllowExpandingOnRequestQueueing(capacity.Event{FunctionName: e.FunctionName}) {
		return
	}

	profile, ok := c.cfg.Profiles.Lookup(e.FunctionName)
	if !ok {
		log.Printf("controller: %v for %q (request %s)", ErrNoFunction, e.FunctionName, e.RequestID)
		return
	}

	metadata := launcher.WorkerMetadata{
		FunctionName: e.FunctionName,
		Inspect:      launcher.Inspect{Enabled: false},
		Disposable:   profile.Disposable,
		ToReserve:    false,
	}

	if _, err := c.cfg.Launcher.TryLaunch(ctx, launcher.RequestQueueExpand, metadata); err != nil {
		log.Printf("controller: tryLaunch failed for %q: %v", e.FunctionName, err)
		if c.cfg.DataPlane != nil {
			if ffErr := c.cfg.DataPlane.StartWorkerFastFail(ctx, rpc.FastFailRequest{
				Broker:  e.FunctionName,
				Fatal:   true,
				Message: err.Error(),
			}); ffErr != nil {
				log.Printf("controller: startWorkerFastFail also failed for %q: %v", e.FunctionName, ffErr)
			}
		}
		return
	}

	if c.cfg.State != nil {
		c.cfg.State.SyncWorkerData(toReports(e.Stats))
	}
}

// onWorkerTrafficStats implements autoScale (spec §4.4.2).
func (c *DefaultController) onWorkerTrafficStats(e controlplane.WorkerTrafficStatsEvent) {
	deltas := c.cfg.Capacity.EvaluateScaleDeltas(e.Stats)

	var regular, reservation []controlplane.Delta
	for _, d := range deltas.Expand {
		profile, ok := c.cfg.Profiles.Lookup(d.Broker)
		if ok && profile.ReservationCount > 0 {
			if view, ok := c.stateView(d.Broker); ok && view.WorkerCount < profile.ReservationCount {
				reservation = append(reservation, d)
				continue
			}
		}
		regular = append(regular, d)
	}

	errCh := make(chan error, 3)

	go func() { errCh <- c.shrink(context.Background(), deltas.Shrink) }()
	go func() { errCh <- c.expand(context.Background(), regular) }()
	go func() {
		if c.cfg.Reservation == nil || len(reservation) == 0 {
			errCh <- nil
			return
		}
		errCh <- c.cfg.Reservation.Expand(context.Background(), reservation)
	}()

	var first error
	for i := 0; i < 3; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		log.Printf("controller: autoScale completed with error: %v", first)
	}
}

func (c *DefaultController) stateView(name string) (controlplane.BrokerView, bool) {
	if c.cfg.State == nil {
		return controlplane.BrokerView{}, false
	}
	return c.cfg.State.View(name)
}

// expand issues tryLaunch for every regular (non-reservation) delta.
func (c *DefaultController) expand(ctx context.Context, deltas []controlplane.Delta) error {
	var first error
	for _, d := range deltas {
		profile, ok := c.cfg.Profiles.Lookup(d.Broker)
		if !ok {
			continue
		}
		for i := 0; i < d.Count; i++ {
			metadata := launcher.WorkerMetadata{FunctionName: d.Broker, Disposable: profile.Disposable}
			if _, err := c.cfg.Launcher.TryLaunch(ctx, launcher.AutoScaleExpand, metadata); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// shrink implements spec §4.4.3, single-flight guarded. The
// inspector/disposable gate reads off the stats mirror (BrokerView),
// which is populated independently of any function profile, so a broker
// whose profile has since been removed is still a shrink candidate (spec
// §8 scenario S5: profiles gone, workers still drain).
func (c *DefaultController) shrink(ctx context.Context, deltas []controlplane.Delta) error {
	if !c.shrinking.CompareAndSwap(false, true) {
		return nil
	}
	defer c.shrinking.Store(false)

	var brokerReqs []rpc.BrokerCapacityRequest
	for _, d := range deltas {
		if d.Count >= 0 {
			continue
		}
		view, ok := c.stateView(d.Broker)
		if !ok || view.IsInspector || view.Disposable {
			continue
		}

		profile, _ := c.cfg.Profiles.Lookup(d.Broker)
		victims := c.shrinkDraw(d.Broker, profile, -d.Count)
		if len(victims) == 0 {
			continue
		}

		credentials := make([]string, len(victims))
		for i, v := range victims {
			credentials[i] = v.Credential
		}
		brokerReqs = append(brokerReqs, rpc.BrokerCapacityRequest{
			FunctionName: d.Broker,
			Inspector:    view.IsInspector,
			Credentials:  credentials,
		})
	}

	if len(brokerReqs) == 0 {
		return nil
	}

	// Batch every broker with a shrink delta this tick into one
	// reduceCapacity call (spec §4.4.3), rather than one call per broker.
	resp, err := c.cfg.DataPlane.ReduceCapacity(ctx, rpc.ReduceCapacityRequest{Brokers: brokerReqs})
	if err != nil {
		return err
	}

	var allDrained []string
	for _, b := range resp.Brokers {
		allDrained = append(allDrained, b.Drained...)
		if c.cfg.State != nil {
			for range b.Drained {
				c.cfg.State.RecordShrink(b.FunctionName, 0)
			}
		}
	}

	var first error
	stopErrCh := make(chan error, len(allDrained))
	for _, credential := range allDrained {
		go func(credential string) {
			stopErrCh <- c.cfg.Launcher.StopWorker(ctx, credential)
		}(credential)
	}
	for i := 0; i < len(allDrained); i++ {
		if err := <-stopErrCh; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// shrinkDraw implements spec §4.4.4, drawing candidates from the last
// stats sync reported into StateManager for brokerName.
func (c *DefaultController) shrinkDraw(brokerName string, profile FunctionProfile, n int) []shrink.Candidate {
	strategy := profile.ShrinkStrategy
	if strategy == "" {
		strategy = c.cfg.DefaultShrinkStrategy
	}

	view, ok := c.stateView(brokerName)
	if !ok {
		return nil
	}

	candidates := make([]shrink.Candidate, len(view.Workers))
	for i, w := range view.Workers {
		candidates[i] = shrink.Candidate{
			Credential:         w.Credential,
			RegisterTime:       w.RegisterTime,
			ActiveRequestCount: w.ActiveRequestCount,
			Running:            w.Running,
		}
	}
	return shrink.Draw(strategy, candidates, n)
}

func toReports(views []controlplane.BrokerView) []controlplane.BrokerStatsReport {
	out := make([]controlplane.BrokerStatsReport, 0, len(views))
	for _, v := range views {
		out = append(out, controlplane.BrokerStatsReport{
			FunctionName: v.Name,
			Inspector:    v.IsInspector,
			Disposable:   v.Disposable,
			Workers:      v.Workers,
		})
	}
	return out
}
