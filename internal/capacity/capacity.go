// Package capacity implements the CapacityManager the controller consults
// before expanding a broker and when computing autoscale deltas (spec
// §4.5). The default implementation bounds total worker memory against a
// single virtual-memory pool, auto-sized off host memory the way the
// worker's ResourceBudget does.
package capacity

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/xuandao/noslated/internal/controlplane"
)

// Event is the subset of a RequestQueueing notification the capacity
// manager needs to decide whether expansion is still affordable.
type Event struct {
	FunctionName string
	MemoryCostMB int64
}

// Manager decides whether a broker may expand and computes per-broker
// scale deltas. Interface-only per spec §4.5 so alternate policies (e.g.
// a no-op manager for tests) can stand in.
type Manager interface {
	AllowExpandingOnRequestQueueing(event Event) bool
	EvaluateScaleDeltas(brokers []controlplane.BrokerView) Deltas
}

// Deltas separates expand from shrink; a broker appears in at most one.
type Deltas struct {
	Expand []controlplane.Delta
	Shrink []controlplane.Delta
}

// ProfileLookup resolves a broker's configured memory cost per worker and
// target concurrency, used to translate queue depth into a worker count.
type ProfileLookup func(name string) (memoryCostMB int64, maxActivateRequests int, reservationCount int, ok bool)

// RedundantCyclesBeforeShrink is the number of consecutive idle autoScale
// ticks (BrokerView.RedundantTimes) a broker must accumulate before it
// becomes a shrink candidate. Mirrors the worker's 80%-reservation
// heuristic in spirit: don't thrash a broker down the moment it goes
// quiet.
const RedundantCyclesBeforeShrink = 3

// VirtualMemoryBudget is the default Manager: a single pool of memory
// shared across every broker's workers, auto-detected from host memory
// the same way worker.ResourceBudget does (reserve a fraction of total
// RAM, track usage against it).
type VirtualMemoryBudget struct {
	poolSizeMB int64
	usedMB     int64
	profiles   ProfileLookup
}

// Config controls how the pool is sized.
type Config struct {
	// PoolSizeMB pins the pool explicitly. If zero, AutoDetect must be true.
	PoolSizeMB int64
	// AutoDetect reserves ReserveFraction of host memory when PoolSizeMB is 0.
	AutoDetect bool
	// ReserveFraction defaults to 0.8 (matches the worker's ResourceBudget).
	ReserveFraction float64
	Profiles        ProfileLookup
}

// New constructs a VirtualMemoryBudget per cfg.
func New(cfg Config) (*VirtualMemoryBudget, error) {
	size := cfg.PoolSizeMB
	if size == 0 {
		if !cfg.AutoDetect {
			return nil, fmt.Errorf("capacity: PoolSizeMB is 0 and AutoDetect is false")
		}
		fraction := cfg.ReserveFraction
		if fraction == 0 {
			fraction = 0.8
		}
		vmStat, err := mem.VirtualMemory()
		if err != nil {
			return nil, fmt.Errorf("capacity: detect host memory: %w", err)
		}
		totalMB := int64(vmStat.Total / (1024 * 1024))
		size = int64(float64(totalMB) * fraction)
	}
	if size <= 0 {
		return nil, fmt.Errorf("capacity: invalid pool size %d", size)
	}
	return &VirtualMemoryBudget{poolSizeMB: size, profiles: cfg.Profiles}, nil
}

// AllowExpandingOnRequestQueueing implements Manager.
func (m *VirtualMemoryBudget) AllowExpandingOnRequestQueueing(event Event) bool {
	cost := event.MemoryCostMB
	if cost == 0 {
		if m.profiles != nil {
			if c, _, _, ok := m.profiles(event.FunctionName); ok {
				cost = c
			}
		}
	}
	return m.usedMB+cost <= m.poolSizeMB
}

// ReserveMemory accounts cost against the pool, e.g. after a tryLaunch
// succeeds. Callers release it via ReleaseMemory on stop.
func (m *VirtualMemoryBudget) ReserveMemory(costMB int64) {
	m.usedMB += costMB
}

// ReleaseMemory returns cost to the pool after a worker stops.
func (m *VirtualMemoryBudget) ReleaseMemory(costMB int64) {
	m.usedMB -= costMB
	if m.usedMB < 0 {
		m.usedMB = 0
	}
}

// EvaluateScaleDeltas implements Manager. For each broker: shrink one
// worker per RedundantCyclesBeforeShrink consecutive idle cycles down to
// its reservation floor; expand one worker when active requests saturate
// every bound worker and there's still pool headroom. Brokers below their
// reservation floor always get an expand delta regardless of load, so the
// controller's reservation partition (spec §4.4.2 step 3) has something
// to route to reservationController.expand.
func (m *VirtualMemoryBudget) EvaluateScaleDeltas(brokers []controlplane.BrokerView) Deltas {
	var out Deltas
	for _, b := range brokers {
		if b.WorkerCount < b.ReservationCount {
			out.Expand = append(out.Expand, controlplane.Delta{Broker: b.Name, Count: b.ReservationCount - b.WorkerCount})
			continue
		}

		if b.RedundantTimes > 0 && b.RedundantTimes%RedundantCyclesBeforeShrink == 0 && b.WorkerCount > b.ReservationCount {
			out.Shrink = append(out.Shrink, controlplane.Delta{Broker: b.Name, Count: -1})
			continue
		}

		if b.WorkerCount > 0 && b.ActiveRequestCount >= b.TotalMaxActivateRequests && b.TotalMaxActivateRequests > 0 {
			var cost int64
			if m.profiles != nil {
				if c, _, _, ok := m.profiles(b.Name); ok {
					cost = c
				}
			}
			if m.usedMB+cost <= m.poolSizeMB {
				out.Expand = append(out.Expand, controlplane.Delta{Broker: b.Name, Count: 1})
			}
		}
	}
	return out
}
