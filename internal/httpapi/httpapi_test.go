package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xuandao/noslated/internal/controlplane"
)

func TestGetBrokerStatsReturnsKnownBroker(t *testing.T) {
	state := controlplane.NewStateManager()
	state.SyncWorkerData([]controlplane.BrokerStatsReport{
		{FunctionName: "fn", Disposable: true, Workers: []controlplane.WorkerStatsReport{
			{Credential: "c1", ActiveRequestCount: 2},
		}},
	})

	srv := NewServer(Config{Port: 0, Handler: NewStatsHandler(state)})

	req := httptest.NewRequest(http.MethodGet, "/brokers/fn/stats", nil)
	resp, err := srv.app.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body BrokerStatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.FunctionName != "fn" || body.ActiveRequestCount != 2 || !body.Disposable {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestGetBrokerStatsUnknownBrokerReturns404(t *testing.T) {
	state := controlplane.NewStateManager()
	srv := NewServer(Config{Port: 0, Handler: NewStatsHandler(state)})

	req := httptest.NewRequest(http.MethodGet, "/brokers/missing/stats", nil)
	resp, err := srv.app.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
