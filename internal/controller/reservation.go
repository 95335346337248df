package controller

import (
	"context"
	"log"

	"github.com/xuandao/noslated/internal/controlplane"
	"github.com/xuandao/noslated/internal/launcher"
)

// DefaultReservationExpander is the ReservationExpander autoScale runs
// concurrently with the regular expand phase (spec §4.4.2 step 4). It
// issues tryLaunch the same way expand does, tagged ReservationExpand so a
// launcher can prioritize reservation-floor workers over best-effort scale
// out if it chooses to.
type DefaultReservationExpander struct {
	Launcher launcher.WorkerLauncher
	Profiles ProfileRegistry
}

// NewDefaultReservationExpander constructs a DefaultReservationExpander.
func NewDefaultReservationExpander(l launcher.WorkerLauncher, profiles ProfileRegistry) *DefaultReservationExpander {
	return &DefaultReservationExpander{Launcher: l, Profiles: profiles}
}

// Expand implements ReservationExpander.
func (e *DefaultReservationExpander) Expand(ctx context.Context, deltas []controlplane.Delta) error {
	var first error
	for _, d := range deltas {
		profile, ok := e.Profiles.Lookup(d.Broker)
		if !ok {
			continue
		}
		for i := 0; i < d.Count; i++ {
			metadata := launcher.WorkerMetadata{FunctionName: d.Broker, Disposable: profile.Disposable, ToReserve: true}
			if _, err := e.Launcher.TryLaunch(ctx, launcher.ReservationExpand, metadata); err != nil {
				log.Printf("controller: reservation tryLaunch failed for %q: %v", d.Broker, err)
				if first == nil {
					first = err
				}
			}
		}
	}
	return first
}
