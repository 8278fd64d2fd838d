// Package tradestore implements a bounded per-market sliding window of
// trades and a parallel price-history sequence (spec §4.2).
package tradestore

import (
	"sort"
	"sync"
	"time"

	"github.com/surveil/smartmoney/internal/models"
)

// PriceChange summarizes price movement across a window.
type PriceChange struct {
	Start        float64
	End          float64
	Delta        float64
	DeltaPercent float64
}

type marketWindow struct {
	trades      []models.Trade
	prices      []float64
	timestamps  []int64
	addsSinceGC int
}

// Store is a single-writer, multi-reader collection of per-market sliding
// windows of trades. All exported methods are safe for concurrent use; the
// spec's ordering guarantee (I1) is enforced by callers serializing Add per
// market via a single receive loop.
type Store struct {
	mu           sync.RWMutex
	windows      map[string]*marketWindow
	windowSize   time.Duration
	cleanupEvery int
	simulatedTS  *int64
}

// New constructs a Trade Store with the given retention window and cleanup cadence.
func New(windowSize time.Duration, cleanupEvery int) *Store {
	if cleanupEvery <= 0 {
		cleanupEvery = 50
	}
	return &Store{
		windows:      make(map[string]*marketWindow),
		windowSize:   windowSize,
		cleanupEvery: cleanupEvery,
	}
}

// SetSimulatedTime pins "now" to ts (ms) for replay/backtest use; pass nil to
// revert to wall-clock time.
func (s *Store) SetSimulatedTime(ts *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.simulatedTS = ts
}

func (s *Store) now() int64 {
	if s.simulatedTS != nil {
		return *s.simulatedTS
	}
	return time.Now().UnixMilli()
}

func (s *Store) getOrCreate(marketID string) *marketWindow {
	w, ok := s.windows[marketID]
	if !ok {
		w = &marketWindow{}
		s.windows[marketID] = w
	}
	return w
}

// Add appends a trade to market's window, evicting stale entries every
// cleanupEvery additions (§4.2 add).
func (s *Store) Add(trade models.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.getOrCreate(trade.MarketID)
	w.trades = append(w.trades, trade)
	w.prices = append(w.prices, trade.Price)
	w.timestamps = append(w.timestamps, trade.Timestamp)
	w.addsSinceGC++
	if w.addsSinceGC >= s.cleanupEvery {
		s.evict(w)
		w.addsSinceGC = 0
	}
}

// BulkAdd appends many trades to a market then stable-sorts by timestamp and
// runs one cleanup pass (§4.2 bulkAdd). Unknown markets are created.
func (s *Store) BulkAdd(marketID string, trades []models.Trade) {
	if len(trades) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.getOrCreate(marketID)
	w.trades = append(w.trades, trades...)
	sort.SliceStable(w.trades, func(i, j int) bool {
		return w.trades[i].Timestamp < w.trades[j].Timestamp
	})
	w.prices = w.prices[:0]
	w.timestamps = w.timestamps[:0]
	for _, t := range w.trades {
		w.prices = append(w.prices, t.Price)
		w.timestamps = append(w.timestamps, t.Timestamp)
	}
	s.evict(w)
}

// evict drops entries older than windowSize relative to current time.
// Caller must hold s.mu.
func (s *Store) evict(w *marketWindow) {
	cutoff := s.now() - s.windowSize.Milliseconds()
	idx := 0
	for idx < len(w.timestamps) && w.timestamps[idx] < cutoff {
		idx++
	}
	if idx == 0 {
		return
	}
	w.trades = append([]models.Trade{}, w.trades[idx:]...)
	w.prices = append([]float64{}, w.prices[idx:]...)
	w.timestamps = append([]int64{}, w.timestamps[idx:]...)
}

// RecentTrades returns the suffix of a market's window with timestamp >=
// now-durationMs. Silent no-op (empty slice) on unknown markets.
func (s *Store) RecentTrades(marketID string, durationMs int64) []models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[marketID]
	if !ok {
		return nil
	}
	cutoff := s.now() - durationMs
	idx := sort.Search(len(w.timestamps), func(i int) bool { return w.timestamps[i] >= cutoff })
	out := make([]models.Trade, len(w.trades)-idx)
	copy(out, w.trades[idx:])
	return out
}

// VolumeInWindow sums USD notional for trades within durationMs.
func (s *Store) VolumeInWindow(marketID string, durationMs int64) float64 {
	var total float64
	for _, t := range s.RecentTrades(marketID, durationMs) {
		total += t.USDNotional
	}
	return total
}

// TradeCountInWindow counts trades within durationMs.
func (s *Store) TradeCountInWindow(marketID string, durationMs int64) int {
	return len(s.RecentTrades(marketID, durationMs))
}

// PriceChangeInWindow returns the price delta across durationMs, or nil if
// fewer than two prices exist in the window.
func (s *Store) PriceChangeInWindow(marketID string, durationMs int64) *PriceChange {
	trades := s.RecentTrades(marketID, durationMs)
	if len(trades) < 2 {
		return nil
	}
	start := trades[0].Price
	end := trades[len(trades)-1].Price
	delta := end - start
	var deltaPct float64
	if start != 0 {
		deltaPct = delta / start
	}
	return &PriceChange{Start: start, End: end, Delta: delta, DeltaPercent: deltaPct}
}

// LatestPrice returns the most recent price recorded for a market, and
// whether any price exists.
func (s *Store) LatestPrice(marketID string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[marketID]
	if !ok || len(w.prices) == 0 {
		return 0, false
	}
	return w.prices[len(w.prices)-1], true
}

// PriceRangeInWindow returns (min, max) price within durationMs, ok=false if empty.
func (s *Store) PriceRangeInWindow(marketID string, durationMs int64) (min, max float64, ok bool) {
	trades := s.RecentTrades(marketID, durationMs)
	if len(trades) == 0 {
		return 0, 0, false
	}
	min, max = trades[0].Price, trades[0].Price
	for _, t := range trades[1:] {
		if t.Price < min {
			min = t.Price
		}
		if t.Price > max {
			max = t.Price
		}
	}
	return min, max, true
}

// AllTrades returns a copy of the full retained window for a market, used by
// the Baseline Calculator's updateBaseline (§4.3 step 1) and by warm-restart.
func (s *Store) AllTrades(marketID string) []models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[marketID]
	if !ok {
		return nil
	}
	out := make([]models.Trade, len(w.trades))
	copy(out, w.trades)
	return out
}

// Cleanup runs eviction across every tracked market against current time;
// invoked by the orchestrator's hourly ticker (§4.8 step 5).
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.windows {
		s.evict(w)
	}
}

// MarketIDs returns all markets currently tracked (for stats/health reporting).
func (s *Store) MarketIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.windows))
	for id := range s.windows {
		ids = append(ids, id)
	}
	return ids
}

// TotalTrades returns the sum of trade counts across all markets.
func (s *Store) TotalTrades() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, w := range s.windows {
		total += len(w.trades)
	}
	return total
}
