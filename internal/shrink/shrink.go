// Package shrink implements victim selection for autoscale shrink
// (spec §4.4.4). Grounded on the teacher's linear-scan "best candidate"
// selection style (control/internal/broker's getAvailableWorker /
// athulya-anil-axon-scheduler's findLeastLoadedWorker) generalized from
// "pick one" to "pick up to n, sorted by strategy".
package shrink

import (
	"log"
	"sort"
	"time"
)

// Strategy names a victim-selection policy (spec §4.4.4).
type Strategy string

const (
	FIFO Strategy = "FIFO"
	FILO Strategy = "FILO"
	LCC  Strategy = "LCC"
)

// Candidate is a worker eligible for shrink consideration. Only workers
// with Running == true are ever returned.
type Candidate struct {
	Credential         string
	RegisterTime       time.Time
	ActiveRequestCount int
	Running            bool
}

// Draw selects up to n victims from candidates per strategy. Unknown
// strategies log a warning and fall back to LCC (spec §4.4.4). Ties are
// broken lexicographically on Credential.
func Draw(strategy Strategy, candidates []Candidate, n int) []Candidate {
	running := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Running {
			running = append(running, c)
		}
	}

	less := lessFor(strategy)
	sort.SliceStable(running, func(i, j int) bool {
		if eq := less(running[i], running[j]); eq != 0 {
			return eq < 0
		}
		return running[i].Credential < running[j].Credential
	})

	if n > len(running) {
		n = len(running)
	}
	return running[:n]
}

// lessFor returns a three-way comparator (negative: a before b, 0: tied,
// positive: b before a) implementing the given strategy's victim
// ordering.
func lessFor(strategy Strategy) func(a, b Candidate) int {
	switch strategy {
	case FIFO:
		return func(a, b Candidate) int { return compareTime(a.RegisterTime, b.RegisterTime) }
	case FILO:
		return func(a, b Candidate) int { return compareTime(b.RegisterTime, a.RegisterTime) }
	case LCC:
		return func(a, b Candidate) int { return a.ActiveRequestCount - b.ActiveRequestCount }
	default:
		log.Printf("shrink: unknown strategy %q, falling back to LCC", strategy)
		return func(a, b Candidate) int { return a.ActiveRequestCount - b.ActiveRequestCount }
	}
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}
