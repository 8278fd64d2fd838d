package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/surveil/smartmoney/internal/alertstore"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	alerts := alertstore.New(alertstore.Config{MaxAlerts: 10})
	s := New("", Stats{
		MonitoredMarkets: func() int { return 3 },
		TotalTrades:      func() int { return 42 },
		AlertsThisHour:   func() int { return 1 },
	}, alerts)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/alerts", s.handleAlerts)
	ts := httptest.NewServer(withCORS(mux))
	t.Cleanup(ts.Close)
	return s, ts
}

func TestHandleHealth_ReturnsStatusAndCounts(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
	if body["markets"].(float64) != 3 {
		t.Errorf("expected markets=3, got %v", body["markets"])
	}
	if body["alertsThisHour"].(float64) != 1 {
		t.Errorf("expected alertsThisHour=1, got %v", body["alertsThisHour"])
	}
}

func TestHandleHealth_SetsPermissiveCORS(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected permissive CORS header, got %q", got)
	}
}

func TestHandleAlerts_ReturnsEmptyListWhenNoAlerts(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var body []any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body) != 0 {
		t.Errorf("expected empty alerts list, got %d entries", len(body))
	}
}
