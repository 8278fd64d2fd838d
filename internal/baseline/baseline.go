// Package baseline implements the Baseline Calculator (spec §4.3): per-market
// rolling statistics over trade size, hourly volume, and hourly absolute
// price change, recomputed from the retention window on each non-anomalous
// trade.
package baseline

import (
	"math"
	"sort"
	"sync"

	"github.com/surveil/smartmoney/internal/models"
)

// Calculator maintains one MarketBaseline per market.
type Calculator struct {
	mu         sync.RWMutex
	baselines  map[string]*models.MarketBaseline
	windowMs   int64
	minSamples int
}

// New constructs a Baseline Calculator with the retention window (ms) and
// minimum sample count required before queries answer non-null.
func New(windowMs int64, minSamples int) *Calculator {
	return &Calculator{
		baselines:  make(map[string]*models.MarketBaseline),
		windowMs:   windowMs,
		minSamples: minSamples,
	}
}

// UpdateBaseline recomputes a market's baseline from the trades intersecting
// the retention window (§4.3 steps 1-5). Trades outside [now-windowMs, now]
// relative to the latest trade's timestamp are dropped first.
func (c *Calculator) UpdateBaseline(marketID string, trades []models.Trade) {
	if len(trades) == 0 {
		return
	}

	// Step 1: intersect with the retention window, anchored at the latest trade.
	var latest int64
	for _, t := range trades {
		if t.Timestamp > latest {
			latest = t.Timestamp
		}
	}
	cutoff := latest - c.windowMs
	windowed := make([]models.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Timestamp >= cutoff {
			windowed = append(windowed, t)
		}
	}
	if len(windowed) == 0 {
		return
	}

	sizes := make([]float64, 0, len(windowed))
	for _, t := range windowed {
		sizes = append(sizes, t.USDNotional)
	}
	avgSize, stddevSize := meanStddev(sizes)
	medianSize := median(sizes)

	hourBuckets := make(map[int64][]models.Trade)
	for _, t := range windowed {
		hour := t.Timestamp / 3_600_000
		hourBuckets[hour] = append(hourBuckets[hour], t)
	}

	volumes := make([]float64, 0, len(hourBuckets))
	absPriceChanges := make([]float64, 0, len(hourBuckets))
	for _, bucket := range hourBuckets {
		var vol float64
		for _, t := range bucket {
			vol += t.USDNotional
		}
		volumes = append(volumes, vol)

		sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].Timestamp < bucket[j].Timestamp })
		if len(bucket) > 0 {
			delta := bucket[len(bucket)-1].Price - bucket[0].Price
			absPriceChanges = append(absPriceChanges, math.Abs(delta))
		}
	}
	avgVolume, stddevVolume := meanStddev(volumes)
	avgAbsPriceChange, stddevAbsPriceChange := meanStddev(absPriceChanges)

	windowHours := float64(c.windowMs) / 3_600_000
	tradesPerHour := 0.0
	if windowHours > 0 {
		tradesPerHour = float64(len(windowed)) / windowHours
	}

	b := &models.MarketBaseline{
		MarketID:                   marketID,
		AvgTradeSize:               avgSize,
		StddevTradeSize:            stddevSize,
		MedianTradeSize:            medianSize,
		AvgHourlyVolume:            avgVolume,
		StddevHourlyVolume:         stddevVolume,
		AvgHourlyAbsPriceChange:    avgAbsPriceChange,
		StddevHourlyAbsPriceChange: stddevAbsPriceChange,
		TradesPerHour:              tradesPerHour,
		FirstTradeTS:               windowed[0].Timestamp,
		LastTradeTS:                windowed[len(windowed)-1].Timestamp,
		SampleCount:                len(windowed),
	}

	c.mu.Lock()
	c.baselines[marketID] = b
	c.mu.Unlock()
}

// meanStddev computes the population mean and stddev of a slice (§4.3 numerics note).
func meanStddev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	var sqSum float64
	for _, x := range xs {
		d := x - mean
		sqSum += d * d
	}
	stddev = math.Sqrt(sqSum / float64(len(xs)))
	return mean, stddev
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64{}, xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// MarketIDs returns every market currently holding a baseline, for
// checkpoint snapshotting.
func (c *Calculator) MarketIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.baselines))
	for id := range c.baselines {
		ids = append(ids, id)
	}
	return ids
}

// RawSnapshot returns a copy of a market's baseline regardless of readiness,
// for checkpoint persistence (ready-gating is a query-time concern, not a
// storage concern).
func (c *Calculator) RawSnapshot(marketID string) (models.MarketBaseline, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.baselines[marketID]
	if !ok {
		return models.MarketBaseline{}, false
	}
	return *b, true
}

// Restore seeds a market's baseline from a checkpointed snapshot, used on
// warm restart before any trade has been observed this run.
func (c *Calculator) Restore(marketID string, b models.MarketBaseline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := b
	c.baselines[marketID] = &snapshot
}

// Get returns the current baseline for a market, or nil if unready.
func (c *Calculator) Get(marketID string) *models.MarketBaseline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.baselines[marketID]
	if !ok || !b.Ready(c.minSamples) {
		return nil
	}
	return b
}

// TradeSizeZ returns (sizeUsd-avg)/stddev, or nil while unready or stddev==0.
func (c *Calculator) TradeSizeZ(marketID string, sizeUSD float64) *float64 {
	b := c.Get(marketID)
	if b == nil || b.StddevTradeSize == 0 {
		return nil
	}
	z := (sizeUSD - b.AvgTradeSize) / b.StddevTradeSize
	return &z
}

// VolumeZ scales the expected volume and stddev by windowMs/1h before
// computing the z-score of an observed windowed volume (§4.3).
func (c *Calculator) VolumeZ(marketID string, observed float64, windowMs int64) *float64 {
	b := c.Get(marketID)
	if b == nil || b.StddevHourlyVolume == 0 {
		return nil
	}
	scale := float64(windowMs) / 3_600_000
	expected := b.AvgHourlyVolume * scale
	stddev := b.StddevHourlyVolume * scale
	if stddev == 0 {
		return nil
	}
	z := (observed - expected) / stddev
	return &z
}

// PriceChangeZ returns (|delta|-avgAbs)/stddevAbs, or nil while unready.
func (c *Calculator) PriceChangeZ(marketID string, delta float64) *float64 {
	b := c.Get(marketID)
	if b == nil || b.StddevHourlyAbsPriceChange == 0 {
		return nil
	}
	z := (math.Abs(delta) - b.AvgHourlyAbsPriceChange) / b.StddevHourlyAbsPriceChange
	return &z
}

// ExpectedVolume returns the baseline's expected volume scaled to windowMs, or nil while unready.
func (c *Calculator) ExpectedVolume(marketID string, windowMs int64) *float64 {
	b := c.Get(marketID)
	if b == nil {
		return nil
	}
	scale := float64(windowMs) / 3_600_000
	v := b.AvgHourlyVolume * scale
	return &v
}

// VolumeMultiple returns observed/expected, or nil while unready or expected==0.
func (c *Calculator) VolumeMultiple(marketID string, observed float64, windowMs int64) *float64 {
	expected := c.ExpectedVolume(marketID, windowMs)
	if expected == nil || *expected == 0 {
		return nil
	}
	m := observed / *expected
	return &m
}
