package tradestore

import (
	"testing"
	"time"

	"github.com/surveil/smartmoney/internal/models"
)

func trade(marketID string, ts int64, price, size float64, side models.Side) models.Trade {
	return models.NewTrade(marketID, "tok", ts, uint64(ts), price, size, side)
}

func TestAddAndRecentTrades(t *testing.T) {
	s := New(time.Hour, 50)
	now := int64(1_000_000)
	simTS := now
	s.SetSimulatedTime(&simTS)

	s.Add(trade("m1", now-1000, 0.5, 10, models.SideBuy))
	s.Add(trade("m1", now-500, 0.51, 5, models.SideSell))

	recent := s.RecentTrades("m1", 2000)
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent trades, got %d", len(recent))
	}

	recent = s.RecentTrades("m1", 600)
	if len(recent) != 1 {
		t.Fatalf("expected 1 recent trade within 600ms, got %d", len(recent))
	}
}

func TestRecentTrades_UnknownMarketIsNoOp(t *testing.T) {
	s := New(time.Hour, 50)
	if got := s.RecentTrades("nope", 1000); got != nil {
		t.Errorf("expected nil for unknown market, got %v", got)
	}
}

func TestEvictionRespectsWindow(t *testing.T) {
	s := New(100*time.Millisecond, 1) // cleanup every add
	simTS := int64(0)
	s.SetSimulatedTime(&simTS)

	s.Add(trade("m1", 0, 0.5, 1, models.SideBuy))
	simTS = 50
	s.Add(trade("m1", 50, 0.5, 1, models.SideBuy))
	simTS = 250 // now 250 - windowSize 100 = cutoff 150; both trades (t=0,50) are stale
	s.Add(trade("m1", 250, 0.5, 1, models.SideBuy))

	all := s.AllTrades("m1")
	if len(all) != 1 {
		t.Fatalf("expected 1 trade retained after eviction, got %d", len(all))
	}
	if all[0].Timestamp != 250 {
		t.Errorf("expected surviving trade at ts=250, got %d", all[0].Timestamp)
	}
}

func TestPriceChangeInWindow_NilWhenFewerThanTwoPoints(t *testing.T) {
	s := New(time.Hour, 50)
	simTS := int64(1000)
	s.SetSimulatedTime(&simTS)
	s.Add(trade("m1", 1000, 0.4, 10, models.SideBuy))
	if pc := s.PriceChangeInWindow("m1", 5000); pc != nil {
		t.Errorf("expected nil price change with 1 point, got %+v", pc)
	}
}

func TestPriceChangeInWindow(t *testing.T) {
	s := New(time.Hour, 50)
	simTS := int64(1000)
	s.SetSimulatedTime(&simTS)
	s.Add(trade("m1", 0, 0.40, 10, models.SideBuy))
	s.Add(trade("m1", 500, 0.48, 10, models.SideBuy))

	pc := s.PriceChangeInWindow("m1", 5000)
	if pc == nil {
		t.Fatal("expected non-nil price change")
	}
	if pc.Delta < 0.079 || pc.Delta > 0.081 {
		t.Errorf("expected delta ~0.08, got %v", pc.Delta)
	}
	wantPct := 0.08 / 0.40
	if pc.DeltaPercent < wantPct-0.001 || pc.DeltaPercent > wantPct+0.001 {
		t.Errorf("expected deltaPercent ~%.4f, got %v", wantPct, pc.DeltaPercent)
	}
}

func TestBulkAddSortsByTimestamp(t *testing.T) {
	s := New(time.Hour, 1000)
	simTS := int64(10000)
	s.SetSimulatedTime(&simTS)

	trades := []models.Trade{
		trade("m1", 500, 0.3, 1, models.SideBuy),
		trade("m1", 100, 0.2, 1, models.SideBuy),
		trade("m1", 300, 0.25, 1, models.SideBuy),
	}
	s.BulkAdd("m1", trades)

	all := s.AllTrades("m1")
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp < all[i-1].Timestamp {
			t.Fatalf("expected sorted timestamps, got %v", all)
		}
	}
}
