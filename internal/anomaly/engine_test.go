package anomaly

import (
	"testing"
	"time"

	"github.com/surveil/smartmoney/internal/baseline"
	"github.com/surveil/smartmoney/internal/config"
	"github.com/surveil/smartmoney/internal/models"
	"github.com/surveil/smartmoney/internal/percentile"
	"github.com/surveil/smartmoney/internal/tradestore"
)

func testCfg() config.AnomalyConfig {
	return config.AnomalyConfig{
		LargeTradeMin:       5000,
		LargeTradeHigh:      10000,
		LargeTradeCritical:  25000,
		VolumeSpikeWindowMs: 300000,
		VolumeSpikeLow:      5,
		VolumeSpikeHigh:     10,
		VolumeSpikeCritical: 20,
		PriceWindowMs:       300000,
		PriceChangeLow:      0.05,
		PriceChangeHigh:     0.10,
		PriceChangeCritical: 0.20,
		ZScoreLow:           2,
		ZScoreHigh:          3,
		ZScoreCritical:      4,
		MinSeverity:         "LOW",
	}
}

func newEngine(t *testing.T) (*Engine, *tradestore.Store, *baseline.Calculator, *percentile.Manager) {
	t.Helper()
	store := tradestore.New(24*time.Hour, 50)
	bc := baseline.New(86_400_000, 5)
	pt := percentile.NewManager(percentile.Config{
		LowPriceThreshold: 0.25, P90: 0.90, P95: 0.95, P99: 0.99, MaxSamples: 10000, MinSamples: 50,
	})
	return New(testCfg(), store, bc, pt), store, bc, pt
}

func TestScenarioS2_LargeTradeLadder(t *testing.T) {
	e, store, _, _ := newEngine(t)
	simTS := int64(1_000_000)
	store.SetSimulatedTime(&simTS)

	tr := models.NewTrade("m1", "tok", simTS, 1, 0.5, 50002, models.SideBuy) // $25001
	store.Add(tr)
	anomalies := e.Detect(tr, "q")
	if !containsType(anomalies, models.AnomalyLargeTrade, models.SeverityCritical) {
		t.Fatalf("expected LARGE_TRADE CRITICAL, got %+v", anomalies)
	}

	// $9999 sits between largeTradeMin ($5000) and largeTradeHigh ($10000): a
	// LARGE_TRADE still fires, at MEDIUM (no baseline yet => no z-score boost).
	simTS += 10 * 60 * 1000
	tr2 := models.NewTrade("m1", "tok", simTS, 2, 0.5, 19998, models.SideBuy) // $9999
	store.Add(tr2)
	anomalies2 := e.Detect(tr2, "q")
	if !containsType(anomalies2, models.AnomalyLargeTrade, models.SeverityMedium) {
		t.Fatalf("expected LARGE_TRADE MEDIUM for $9999, got %+v", anomalies2)
	}

	simTS += 10 * 60 * 1000
	tr3 := models.NewTrade("m1", "tok", simTS, 3, 0.5, 20000, models.SideBuy) // $10000
	store.Add(tr3)
	anomalies3 := e.Detect(tr3, "q")
	if !containsType(anomalies3, models.AnomalyLargeTrade, models.SeverityHigh) {
		t.Fatalf("expected LARGE_TRADE HIGH, got %+v", anomalies3)
	}
}

func TestScenarioS3_VolumeSpike(t *testing.T) {
	e, store, bc, _ := newEngine(t)
	simTS := int64(100_000_000)
	store.SetSimulatedTime(&simTS)

	// Warm baseline: 48 hourly buckets of $12,000 volume (24,000 shares at $0.50)
	// => avgHourlyVolume=12000, so expected 5-min volume = 12000/12 = $1,000.
	var warmTrades []models.Trade
	for h := 0; h < 48; h++ {
		ts := int64(h) * 3_600_000
		warmTrades = append(warmTrades,
			models.NewTrade("m1", "tok", ts, uint64(h*2), 0.5, 24000, models.SideBuy))
	}
	bc.UpdateBaseline("m1", warmTrades)

	// Inject $11,000 across 5 minutes: 10 trades of $1,100 alternating BUY/SELL 2:1 buy-skew.
	base := simTS
	var last models.Trade
	for i := 0; i < 10; i++ {
		side := models.SideBuy
		if i%3 == 2 { // 1 sell per 3 => ~2:1 buy skew
			side = models.SideSell
		}
		tr := models.NewTrade("m1", "tok", base+int64(i)*1000, uint64(100+i), 0.5, 2200, side)
		store.Add(tr)
		last = tr
	}

	anomalies := e.Detect(last, "q")
	found := false
	for _, a := range anomalies {
		if a.Type == models.AnomalyVolumeSpike {
			found = true
			if a.VolumeMultiple < 10 {
				t.Errorf("expected volume multiple >= 10, got %v", a.VolumeMultiple)
			}
			if a.Severity != models.SeverityHigh && a.Severity != models.SeverityCritical {
				t.Errorf("expected HIGH or CRITICAL severity, got %v", a.Severity)
			}
			if a.ImpliedDirection != models.DirectionYes {
				t.Errorf("expected YES direction on buy-skew, got %v", a.ImpliedDirection)
			}
		}
	}
	if !found {
		t.Fatalf("expected VOLUME_SPIKE anomaly, got %+v", anomalies)
	}
}

func TestScenarioS4_RapidPriceMove(t *testing.T) {
	e, store, _, _ := newEngine(t)
	simTS := int64(1_000_000)
	store.SetSimulatedTime(&simTS)

	store.Add(models.NewTrade("m1", "tok", simTS-4*60*1000, 1, 0.40, 10, models.SideBuy))
	store.Add(models.NewTrade("m1", "tok", simTS-2*60*1000, 2, 0.41, 10, models.SideBuy))
	store.Add(models.NewTrade("m1", "tok", simTS-1*60*1000, 3, 0.42, 10, models.SideBuy))

	tr := models.NewTrade("m1", "tok", simTS, 4, 0.48, 10, models.SideBuy)
	store.Add(tr)

	anomalies := e.Detect(tr, "q")
	found := false
	for _, a := range anomalies {
		if a.Type == models.AnomalyRapidPriceMove {
			found = true
			if a.Severity != models.SeverityCritical {
				t.Errorf("expected CRITICAL severity, got %v", a.Severity)
			}
			if a.ImpliedDirection != models.DirectionYes {
				t.Errorf("expected YES direction on upward move, got %v", a.ImpliedDirection)
			}
		}
	}
	if !found {
		t.Fatalf("expected RAPID_PRICE_MOVE anomaly, got %+v", anomalies)
	}
}

func TestDetect_FixedOrder(t *testing.T) {
	e, store, bc, pt := newEngine(t)
	simTS := int64(1_000_000)
	store.SetSimulatedTime(&simTS)

	for i := 0; i < 200; i++ {
		pt.AddTrade("m1", 5, 0.05, models.SideBuy)
	}
	var warm []models.Trade
	for h := 0; h < 10; h++ {
		warm = append(warm, models.NewTrade("m1", "tok", int64(h)*3_600_000, uint64(h), 0.4, 1000, models.SideBuy))
	}
	bc.UpdateBaseline("m1", warm)

	store.Add(models.NewTrade("m1", "tok", simTS-4*60*1000, 90, 0.40, 10, models.SideBuy))
	store.Add(models.NewTrade("m1", "tok", simTS-2*60*1000, 91, 0.60, 10, models.SideBuy))

	tr := models.NewTrade("m1", "tok", simTS, 92, 0.06, 50000, models.SideBuy)
	store.Add(tr)

	anomalies := e.Detect(tr, "q")
	if len(anomalies) < 2 {
		t.Fatalf("expected multiple anomalies to fire, got %+v", anomalies)
	}
	order := []models.AnomalyType{
		models.AnomalyUnusualLowPriceBuy, models.AnomalyLargeTrade,
		models.AnomalyVolumeSpike, models.AnomalyRapidPriceMove,
	}
	last := -1
	for _, a := range anomalies {
		idx := indexOf(order, a.Type)
		if idx < last {
			t.Fatalf("anomalies out of fixed order: %+v", anomalies)
		}
		last = idx
	}
}

func indexOf(order []models.AnomalyType, t models.AnomalyType) int {
	for i, o := range order {
		if o == t {
			return i
		}
	}
	return -1
}

func containsType(anomalies []models.Anomaly, typ models.AnomalyType, sev models.Severity) bool {
	for _, a := range anomalies {
		if a.Type == typ && a.Severity == sev {
			return true
		}
	}
	return false
}

func containsAnyType(anomalies []models.Anomaly, typ models.AnomalyType) bool {
	for _, a := range anomalies {
		if a.Type == typ {
			return true
		}
	}
	return false
}
