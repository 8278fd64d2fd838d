package leadermonitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/surveil/smartmoney/internal/config"
	"github.com/surveil/smartmoney/internal/exchange"
	"github.com/surveil/smartmoney/internal/models"
	"github.com/surveil/smartmoney/internal/opportunity"
)

type fakeStatus struct {
	closed, resolved bool
	outcome          string
	yesPrice         float64
}

func newTestState(t *testing.T) *opportunity.State {
	t.Helper()
	s, err := opportunity.Load(opportunity.Config{StatePath: t.TempDir() + "/state.json", MarketRetentionDays: 30})
	if err != nil {
		t.Fatalf("failed to load opportunity state: %v", err)
	}
	return s
}

func testConfig() config.MonitorConfig {
	return config.MonitorConfig{
		ResolutionCheckInterval: time.Minute,
		NearCertaintyThreshold:  0.9,
		PerMarketDelay:          time.Millisecond,
	}
}

func statusServer(t *testing.T, statuses map[string]fakeStatus) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/markets/")
		status, ok := statuses[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		tokens := []map[string]string{}
		if status.yesPrice > 0 {
			tokens = append(tokens, map[string]string{"outcome": "Yes", "price": fmt.Sprintf("%g", status.yesPrice)})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": id, "closed": status.closed, "resolved": status.resolved,
			"outcome": status.outcome, "tokens": tokens,
		})
	}))
}

func registerOpportunity(t *testing.T, state *opportunity.State, leaderID, followerID, seriesID string, leaderEndTime time.Time) models.Opportunity {
	t.Helper()
	opp, created := state.AddOpportunity(models.MarketRelation{
		LeaderID: leaderID, FollowerID: followerID, LeaderEndTime: leaderEndTime,
		Relationship: models.RelationSameOutcome, Confidence: 0.8, SeriesID: seriesID,
	})
	if !created {
		t.Fatalf("expected opportunity %s/%s to be newly created", leaderID, followerID)
	}
	return opp
}

func TestCheckOne_ResolvedYesMarksLeaderResolved(t *testing.T) {
	state := newTestState(t)
	opp := registerOpportunity(t, state, "leader", "follower", "", time.Now())

	server := statusServer(t, map[string]fakeStatus{
		"leader": {closed: true, resolved: true, outcome: "YES"},
	})
	defer server.Close()

	var events []Event
	cli := exchange.NewLeaderStatusClient(server.URL, 5*time.Second, 3, time.Millisecond, 0)
	m := New(testConfig(), cli, state, func(e Event) { events = append(events, e) })

	if err := m.checkOne(context.Background(), opp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	opps := state.GetUnresolvedOpportunities()
	for _, o := range opps {
		if o.PairID == opp.PairID {
			t.Fatal("expected opportunity to no longer be unresolved")
		}
	}
	if len(events) != 1 || events[0].Kind != "LEADER_RESOLVED" || events[0].Outcome != models.DirectionYes {
		t.Errorf("expected one LEADER_RESOLVED YES event, got %+v", events)
	}
}

func TestCheckOne_AmbiguousOutcomeLeavesUnresolved(t *testing.T) {
	state := newTestState(t)
	opp := registerOpportunity(t, state, "leader", "follower", "", time.Now())

	server := statusServer(t, map[string]fakeStatus{
		"leader": {closed: true, resolved: true, outcome: "maybe"},
	})
	defer server.Close()

	cli := exchange.NewLeaderStatusClient(server.URL, 5*time.Second, 3, time.Millisecond, 0)
	var events []Event
	m := New(testConfig(), cli, state, func(e Event) { events = append(events, e) })

	if err := m.checkOne(context.Background(), opp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events for ambiguous outcome, got %+v", events)
	}
	found := false
	for _, o := range state.GetUnresolvedOpportunities() {
		if o.PairID == opp.PairID {
			found = true
		}
	}
	if !found {
		t.Error("expected opportunity to remain unresolved after ambiguous outcome")
	}
}

func TestCheckOne_NearCertaintyMarksThresholdTriggered(t *testing.T) {
	state := newTestState(t)
	opp := registerOpportunity(t, state, "leader", "follower", "", time.Now())

	server := statusServer(t, map[string]fakeStatus{
		"leader": {closed: false, resolved: false, yesPrice: 0.95},
	})
	defer server.Close()

	cli := exchange.NewLeaderStatusClient(server.URL, 5*time.Second, 3, time.Millisecond, 0)
	var events []Event
	m := New(testConfig(), cli, state, func(e Event) { events = append(events, e) })

	if err := m.checkOne(context.Background(), opp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != "NEAR_CERTAINTY" {
		t.Errorf("expected one NEAR_CERTAINTY event, got %+v", events)
	}
}

func TestCheckOne_BelowThresholdDoesNothing(t *testing.T) {
	state := newTestState(t)
	opp := registerOpportunity(t, state, "leader", "follower", "", time.Now())

	server := statusServer(t, map[string]fakeStatus{
		"leader": {closed: false, resolved: false, yesPrice: 0.5},
	})
	defer server.Close()

	cli := exchange.NewLeaderStatusClient(server.URL, 5*time.Second, 3, time.Millisecond, 0)
	var events []Event
	m := New(testConfig(), cli, state, func(e Event) { events = append(events, e) })

	if err := m.checkOne(context.Background(), opp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events below threshold, got %+v", events)
	}
}

func TestCascade_TriggersLaterSeriesSiblingsOnly(t *testing.T) {
	state := newTestState(t)
	now := time.Now()
	earlyOpp := registerOpportunity(t, state, "leader-early", "follower-a", "series-1", now)
	lateOpp := registerOpportunity(t, state, "leader-late", "follower-b", "series-1", now.Add(48*time.Hour))
	earlierOpp := registerOpportunity(t, state, "leader-earlier", "follower-c", "series-1", now.Add(-48*time.Hour))

	m := New(testConfig(), nil, state, func(Event) {})
	m.cascade(earlyOpp, 0.93)

	updatedLate, ok := findOpportunity(state, lateOpp.PairID)
	if !ok || updatedLate.Status != models.OpportunityThresholdTriggered {
		t.Errorf("expected later sibling to be threshold_triggered, got %+v ok=%v", updatedLate, ok)
	}
	updatedEarlier, ok := findOpportunity(state, earlierOpp.PairID)
	if !ok || updatedEarlier.Status != models.OpportunityActive {
		t.Errorf("expected earlier sibling to remain active, got %+v ok=%v", updatedEarlier, ok)
	}
}

func findOpportunity(state *opportunity.State, pairID string) (models.Opportunity, bool) {
	for _, o := range state.GetActiveOpportunities() {
		if o.PairID == pairID {
			return o, true
		}
	}
	for _, o := range state.GetUnresolvedOpportunities() {
		if o.PairID == pairID {
			return o, true
		}
	}
	return models.Opportunity{}, false
}

func TestParseOutcome_AcceptsKnownVariants(t *testing.T) {
	cases := map[string]models.Direction{
		"yes": models.DirectionYes, "YES": models.DirectionYes, "1": models.DirectionYes, "true": models.DirectionYes,
		"no": models.DirectionNo, "0": models.DirectionNo, "false": models.DirectionNo,
	}
	for raw, want := range cases {
		got, ok := parseOutcome(raw)
		if !ok || got != want {
			t.Errorf("parseOutcome(%q) = %v, %v; want %v, true", raw, got, ok, want)
		}
	}
	if _, ok := parseOutcome("ambiguous"); ok {
		t.Error("expected ambiguous outcome to report ok=false")
	}
}

func TestTradeAction_DifferentOutcomeInvertsDirection(t *testing.T) {
	if got := tradeAction(models.RelationSameOutcome, models.DirectionYes); got != "BUY YES" {
		t.Errorf("expected same-outcome to keep direction, got %s", got)
	}
	if got := tradeAction(models.RelationDifferentOutcome, models.DirectionYes); got != "BUY NO" {
		t.Errorf("expected different-outcome to invert direction, got %s", got)
	}
}
