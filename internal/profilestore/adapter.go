package profilestore

import (
	"github.com/xuandao/noslated/internal/broker"
	"github.com/xuandao/noslated/internal/controller"
	"github.com/xuandao/noslated/internal/shrink"
)

// ToBrokerProfile converts a persisted row into the broker.Profile shape
// WorkerBroker.New expects.
func (p Profile) ToBrokerProfile() broker.Profile {
	return broker.Profile{
		Name:                       p.Name,
		MaxActivateRequests:        p.MaxActivateRequests,
		Disposable:                 p.Disposable,
		RateLimitEnabled:           p.RateLimitEnabled,
		TokensPerFill:              float64(p.TokensPerFill),
		FillInterval:               p.FillInterval(),
		MaxTokens:                  float64(p.MaxTokens),
		QueueEnabled:               p.QueueEnabled,
		InitializationTimeout:      p.InitializationTimeout(),
		FastFailRequestsOnStarting: p.FastFailRequestsOnStarting,
		ShrinkStrategy:             broker.ShrinkStrategy(p.ShrinkStrategy),
		ReservationCount:           p.ReservationCount,
	}
}

// ToFunctionProfile converts a persisted row into the subset
// DefaultController needs.
func (p Profile) ToFunctionProfile() controller.FunctionProfile {
	return controller.FunctionProfile{
		Disposable:       p.Disposable,
		ShrinkStrategy:   shrink.Strategy(p.ShrinkStrategy),
		ReservationCount: p.ReservationCount,
	}
}

// registryAdapter implements controller.ProfileRegistry directly against a
// Store (ImageLookup below does the same for launcher.FunctionImage), so
// cmd/brokerd doesn't need to keep its own copy of loaded profiles in
// sync.
type registryAdapter struct {
	store Store
}

// NewProfileRegistry adapts store into a controller.ProfileRegistry.
func NewProfileRegistry(store Store) controller.ProfileRegistry {
	return &registryAdapter{store: store}
}

func (r *registryAdapter) Lookup(name string) (controller.FunctionProfile, bool) {
	p, err := r.store.GetProfile(name)
	if err != nil {
		return controller.FunctionProfile{}, false
	}
	return p.ToFunctionProfile(), true
}

// ImageLookup adapts store into a launcher.FunctionImage.
func ImageLookup(store Store) func(name string) (image string, cpuCores float64, memoryMB int64, ok bool) {
	return func(name string) (string, float64, int64, bool) {
		p, err := store.GetProfile(name)
		if err != nil {
			return "", 0, 0, false
		}
		return p.Image, p.CPUCores, p.MemoryMB, true
	}
}
