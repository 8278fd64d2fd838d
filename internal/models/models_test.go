package models

import (
	"testing"
	"time"
)

func TestMarketValidate(t *testing.T) {
	tests := []struct {
		name    string
		market  Market
		wantErr bool
	}{
		{
			name: "valid market",
			market: Market{
				ID:         "mkt-1",
				Question:   "Will X happen?",
				YesTokenID: "yes-1",
				NoTokenID:  "no-1",
				YesPrice:   0.6,
				Volume24hr: 1000,
			},
			wantErr: false,
		},
		{
			name:    "empty id",
			market:  Market{Question: "Will X happen?", YesTokenID: "y", NoTokenID: "n"},
			wantErr: true,
		},
		{
			name:    "empty question",
			market:  Market{ID: "mkt-1", YesTokenID: "y", NoTokenID: "n"},
			wantErr: true,
		},
		{
			name:    "missing token ids",
			market:  Market{ID: "mkt-1", Question: "Will X happen?"},
			wantErr: true,
		},
		{
			name:    "yes price out of range",
			market:  Market{ID: "mkt-1", Question: "Will X happen?", YesTokenID: "y", NoTokenID: "n", YesPrice: 1.5},
			wantErr: true,
		},
		{
			name:    "negative volume",
			market:  Market{ID: "mkt-1", Question: "Will X happen?", YesTokenID: "y", NoTokenID: "n", Volume24hr: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.market.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewTrade_ComputesUSDNotional(t *testing.T) {
	tr := NewTrade("mkt-1", "tok-1", 1000, 1, 0.5, 200, SideBuy)
	if tr.USDNotional != 100 {
		t.Errorf("expected usd notional 100, got %v", tr.USDNotional)
	}
	if tr.Side != SideBuy {
		t.Errorf("expected side BUY, got %v", tr.Side)
	}
}

func TestMarketBaseline_Ready(t *testing.T) {
	tests := []struct {
		name       string
		baseline   *MarketBaseline
		minSamples int
		want       bool
	}{
		{name: "nil baseline", baseline: nil, minSamples: 10, want: false},
		{name: "below threshold", baseline: &MarketBaseline{SampleCount: 5}, minSamples: 10, want: false},
		{name: "at threshold", baseline: &MarketBaseline{SampleCount: 10}, minSamples: 10, want: true},
		{name: "above threshold", baseline: &MarketBaseline{SampleCount: 50}, minSamples: 10, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.baseline.Ready(tt.minSamples); got != tt.want {
				t.Errorf("Ready() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMeetsMinSeverity(t *testing.T) {
	tests := []struct {
		a, min Severity
		want   bool
	}{
		{SeverityCritical, SeverityHigh, true},
		{SeverityHigh, SeverityCritical, false},
		{SeverityMedium, SeverityMedium, true},
		{SeverityNone, SeverityLow, false},
	}

	for _, tt := range tests {
		if got := MeetsMinSeverity(tt.a, tt.min); got != tt.want {
			t.Errorf("MeetsMinSeverity(%v, %v) = %v, want %v", tt.a, tt.min, got, tt.want)
		}
	}
}

func TestAlertID_IsStableAndDeterministic(t *testing.T) {
	id1 := AlertID("mkt-1", AnomalyLargeTrade, 1000)
	id2 := AlertID("mkt-1", AnomalyLargeTrade, 1000)
	if id1 != id2 {
		t.Errorf("expected deterministic id, got %q and %q", id1, id2)
	}
	if id1 != "mkt-1:LARGE_TRADE:1000" {
		t.Errorf("unexpected id format: %q", id1)
	}
}

func TestPairID_IsOrderIndependent(t *testing.T) {
	if PairID("a", "b") != PairID("b", "a") {
		t.Errorf("expected PairID to be order independent")
	}
	if PairID("a", "b") != "a-b" {
		t.Errorf("expected lexicographically sorted id, got %q", PairID("a", "b"))
	}
}

func TestMarketRelation_LeaderEndTimeSurvivesRoundtrip(t *testing.T) {
	end := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	rel := MarketRelation{LeaderID: "l", FollowerID: "f", LeaderEndTime: end}
	if !rel.LeaderEndTime.Equal(end) {
		t.Errorf("expected leader end time %v, got %v", end, rel.LeaderEndTime)
	}
}
