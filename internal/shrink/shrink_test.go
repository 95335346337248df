package shrink

import (
	"testing"
	"time"
)

func TestDrawFIFOPicksOldestFirst(t *testing.T) {
	base := time.Now()
	candidates := []Candidate{
		{Credential: "c2", RegisterTime: base.Add(2 * time.Second), Running: true},
		{Credential: "c1", RegisterTime: base.Add(1 * time.Second), Running: true},
		{Credential: "c3", RegisterTime: base.Add(3 * time.Second), Running: true},
	}
	got := Draw(FIFO, candidates, 2)
	if len(got) != 2 || got[0].Credential != "c1" || got[1].Credential != "c2" {
		t.Fatalf("unexpected FIFO order: %+v", got)
	}
}

func TestDrawFILOPicksNewestFirst(t *testing.T) {
	base := time.Now()
	candidates := []Candidate{
		{Credential: "c1", RegisterTime: base.Add(1 * time.Second), Running: true},
		{Credential: "c2", RegisterTime: base.Add(2 * time.Second), Running: true},
	}
	got := Draw(FILO, candidates, 1)
	if len(got) != 1 || got[0].Credential != "c2" {
		t.Fatalf("unexpected FILO order: %+v", got)
	}
}

func TestDrawLCCPicksLeastActiveFirst(t *testing.T) {
	candidates := []Candidate{
		{Credential: "busy", ActiveRequestCount: 5, Running: true},
		{Credential: "idle", ActiveRequestCount: 0, Running: true},
	}
	got := Draw(LCC, candidates, 1)
	if len(got) != 1 || got[0].Credential != "idle" {
		t.Fatalf("unexpected LCC order: %+v", got)
	}
}

func TestDrawTiesBreakLexicographicallyOnCredential(t *testing.T) {
	candidates := []Candidate{
		{Credential: "b", ActiveRequestCount: 0, Running: true},
		{Credential: "a", ActiveRequestCount: 0, Running: true},
	}
	got := Draw(LCC, candidates, 2)
	if got[0].Credential != "a" || got[1].Credential != "b" {
		t.Fatalf("expected lexicographic tie-break, got %+v", got)
	}
}

func TestDrawUnknownStrategyFallsBackToLCC(t *testing.T) {
	candidates := []Candidate{
		{Credential: "busy", ActiveRequestCount: 5, Running: true},
		{Credential: "idle", ActiveRequestCount: 0, Running: true},
	}
	got := Draw(Strategy("bogus"), candidates, 1)
	if len(got) != 1 || got[0].Credential != "idle" {
		t.Fatalf("expected LCC fallback, got %+v", got)
	}
}

func TestDrawExcludesNonRunningAndCapsAtAvailable(t *testing.T) {
	candidates := []Candidate{
		{Credential: "stopped", Running: false},
		{Credential: "running", Running: true},
	}
	got := Draw(LCC, candidates, 5)
	if len(got) != 1 || got[0].Credential != "running" {
		t.Fatalf("expected only the running candidate, got %+v", got)
	}
}
