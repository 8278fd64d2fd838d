package baseline

import (
	"testing"

	"github.com/surveil/smartmoney/internal/models"
)

func mkTrades(n int, startTS int64, stepMs int64, price float64, sizeUSD float64) []models.Trade {
	trades := make([]models.Trade, n)
	for i := 0; i < n; i++ {
		ts := startTS + int64(i)*stepMs
		trades[i] = models.NewTrade("m1", "tok", ts, uint64(i), price, sizeUSD/price, models.SideBuy)
	}
	return trades
}

func TestGet_NullBeforeMinSamples(t *testing.T) {
	c := New(86_400_000, 100)
	c.UpdateBaseline("m1", mkTrades(10, 0, 1000, 0.5, 100))
	if c.Get("m1") != nil {
		t.Error("expected nil baseline before minSamples reached")
	}
}

func TestGet_ReadyAfterMinSamples(t *testing.T) {
	c := New(86_400_000, 10)
	c.UpdateBaseline("m1", mkTrades(20, 0, 1000, 0.5, 100))
	b := c.Get("m1")
	if b == nil {
		t.Fatal("expected non-nil baseline after minSamples reached")
	}
	if b.AvgTradeSize < 99 || b.AvgTradeSize > 101 {
		t.Errorf("expected avg trade size ~100, got %v", b.AvgTradeSize)
	}
}

func TestTradeSizeZ(t *testing.T) {
	c := New(86_400_000, 5)
	trades := []models.Trade{
		models.NewTrade("m1", "tok", 0, 0, 0.5, 200, models.SideBuy),    // 100
		models.NewTrade("m1", "tok", 1000, 1, 0.5, 200, models.SideBuy), // 100
		models.NewTrade("m1", "tok", 2000, 2, 0.5, 220, models.SideBuy), // 110
		models.NewTrade("m1", "tok", 3000, 3, 0.5, 180, models.SideBuy), // 90
		models.NewTrade("m1", "tok", 4000, 4, 0.5, 200, models.SideBuy), // 100
	}
	c.UpdateBaseline("m1", trades)
	z := c.TradeSizeZ("m1", 500)
	if z == nil {
		t.Fatal("expected non-nil z-score")
	}
	if *z <= 0 {
		t.Errorf("expected positive z-score for outsized trade, got %v", *z)
	}
}

func TestVolumeZ_NilWhenUnready(t *testing.T) {
	c := New(86_400_000, 1000)
	c.UpdateBaseline("m1", mkTrades(10, 0, 1000, 0.5, 100))
	if z := c.VolumeZ("m1", 5000, 300000); z != nil {
		t.Error("expected nil VolumeZ before minSamples reached")
	}
}

func TestPriceChangeInDifferentHourBuckets(t *testing.T) {
	c := New(86_400_000, 2)
	trades := []models.Trade{
		models.NewTrade("m1", "tok", 0, 0, 0.40, 100, models.SideBuy),
		models.NewTrade("m1", "tok", 3_600_000, 1, 0.45, 100, models.SideBuy),
	}
	c.UpdateBaseline("m1", trades)
	b := c.Get("m1")
	if b == nil {
		t.Fatal("expected ready baseline")
	}
	if b.SampleCount != 2 {
		t.Errorf("expected 2 samples, got %d", b.SampleCount)
	}
}
