// Package percentile implements the Market Stats / Percentile Tracker
// (spec §4.4): a per-market sorted multiset of low-price BUY trade sizes
// with binary-search insertion and removal (O(log n) search, O(n) shift) and
// O(log n) percentile-rank queries, backed by a bounded FIFO of recent raw
// trades.
package percentile

import (
	"sort"
	"sync"

	"github.com/surveil/smartmoney/internal/models"
)

// Config holds percentile tracker thresholds (mirrors config.PercentileConfig
// to avoid an import cycle; constructed by the caller from the loaded config).
type Config struct {
	LowPriceThreshold float64
	P90, P95, P99     float64
	MaxSamples        int
	MinSamples        int
}

type recentEntry struct {
	size      float64
	price     float64
	side      models.Side
	tracked   bool // true iff this entry's size lives in the sorted multiset
}

// Tracker holds one market's sorted multiset and recent-trade ring.
type Tracker struct {
	mu      sync.Mutex
	sorted  []float64 // ascending
	ring    []recentEntry
	head    int
	cfg     Config
}

// Manager owns one Tracker per market.
type Manager struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	cfg      Config
}

// NewManager constructs a Percentile Tracker manager.
func NewManager(cfg Config) *Manager {
	return &Manager{trackers: make(map[string]*Tracker), cfg: cfg}
}

func (m *Manager) get(marketID string) *Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[marketID]
	if !ok {
		t = &Tracker{cfg: m.cfg}
		m.trackers[marketID] = t
	}
	return t
}

// AddTrade records one trade into the market's tracker (§4.4 addTrade).
func (m *Manager) AddTrade(marketID string, size, price float64, side models.Side) {
	m.get(marketID).addTrade(size, price, side)
}

func (t *Tracker) addTrade(size, price float64, side models.Side) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracked := side == models.SideBuy && price < t.cfg.LowPriceThreshold
	entry := recentEntry{size: size, price: price, side: side, tracked: tracked}

	if tracked {
		t.insert(size)
	}

	if len(t.ring) < t.cfg.MaxSamples {
		t.ring = append(t.ring, entry)
	} else {
		popped := t.ring[t.head]
		t.ring[t.head] = entry
		t.head = (t.head + 1) % t.cfg.MaxSamples
		if popped.tracked {
			t.remove(popped.size)
		}
	}
}

// insert performs a binary-search insertion, keeping t.sorted ascending. O(log n) search, O(n) shift.
func (t *Tracker) insert(v float64) {
	i := sort.SearchFloat64s(t.sorted, v)
	t.sorted = append(t.sorted, 0)
	copy(t.sorted[i+1:], t.sorted[i:])
	t.sorted[i] = v
}

// remove deletes the first occurrence of v, if present.
func (t *Tracker) remove(v float64) {
	i := sort.SearchFloat64s(t.sorted, v)
	if i >= len(t.sorted) || t.sorted[i] != v {
		return
	}
	t.sorted = append(t.sorted[:i], t.sorted[i+1:]...)
}

// Snapshot is a market tracker's persistable state, for checkpoint warm
// restart (sorted multiset plus the raw recent-trade ring it was built
// from).
type Snapshot struct {
	Sorted []float64
	Ring   []RingEntry
	Head   int
}

// RingEntry mirrors recentEntry with exported fields for (de)serialization.
type RingEntry struct {
	Size    float64
	Price   float64
	Side    models.Side
	Tracked bool
}

// MarketIDs returns every market currently holding a tracker, for
// checkpoint snapshotting.
func (m *Manager) MarketIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.trackers))
	for id := range m.trackers {
		ids = append(ids, id)
	}
	return ids
}

// SnapshotMarket returns a market tracker's current state.
func (m *Manager) SnapshotMarket(marketID string) Snapshot {
	t := m.get(marketID)
	t.mu.Lock()
	defer t.mu.Unlock()

	ring := make([]RingEntry, len(t.ring))
	for i, e := range t.ring {
		ring[i] = RingEntry{Size: e.size, Price: e.price, Side: e.side, Tracked: e.tracked}
	}
	return Snapshot{
		Sorted: append([]float64(nil), t.sorted...),
		Ring:   ring,
		Head:   t.head,
	}
}

// RestoreMarket seeds a market tracker from a checkpointed snapshot, used on
// warm restart before any trade has been observed this run.
func (m *Manager) RestoreMarket(marketID string, snap Snapshot) {
	t := m.get(marketID)
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sorted = append([]float64(nil), snap.Sorted...)
	t.ring = make([]recentEntry, len(snap.Ring))
	for i, e := range snap.Ring {
		t.ring[i] = recentEntry{size: e.Size, price: e.Price, side: e.Side, tracked: e.Tracked}
	}
	t.head = snap.Head
}

// Result is a percentile query outcome (§4.4).
type Result struct {
	Percentile float64
	Rank       int
	Total      int
	Severity   models.Severity
	MedianSize float64
}

// Percentile computes the percentile rank for size against the tracked
// multiset. Only meaningful once |S| >= minSamples; returns zero severity
// with the current (possibly small) sample otherwise.
func (m *Manager) Percentile(marketID string, size float64) Result {
	return m.get(marketID).percentile(size)
}

func (t *Tracker) percentile(size float64) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.sorted)
	if n < t.cfg.MinSamples {
		return Result{Total: n, Severity: models.SeverityNone}
	}

	smaller := sort.SearchFloat64s(t.sorted, size)
	pct := float64(smaller) / float64(n)
	rank := n - smaller

	sev := models.SeverityNone
	switch {
	case pct >= t.cfg.P99:
		sev = models.SeverityCritical
	case pct >= t.cfg.P95:
		sev = models.SeverityHigh
	case pct >= t.cfg.P90:
		sev = models.SeverityMedium
	}

	return Result{
		Percentile: pct,
		Rank:       rank,
		Total:      n,
		Severity:   sev,
		MedianSize: t.medianLocked(),
	}
}

func (t *Tracker) medianLocked() float64 {
	n := len(t.sorted)
	if n == 0 {
		return 0
	}
	mid := n / 2
	if n%2 == 0 {
		return (t.sorted[mid-1] + t.sorted[mid]) / 2
	}
	return t.sorted[mid]
}

// Threshold returns the element at floor(|S|*q) for reporting p90/p95/p99 (§4.4).
func (m *Manager) Threshold(marketID string, q float64) (float64, bool) {
	t := m.get(marketID)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.sorted)
	if n == 0 {
		return 0, false
	}
	idx := int(float64(n) * q)
	if idx >= n {
		idx = n - 1
	}
	return t.sorted[idx], true
}

// ShouldAlertResult is returned by ShouldAlert; Alert is false unless every
// precondition of §4.4 shouldAlert holds.
type ShouldAlertResult struct {
	Alert  bool
	Result Result
}

// ShouldAlert updates the tracker then evaluates whether this trade merits
// an UNUSUAL_LOW_PRICE_BUY alert (§4.4 shouldAlert / §4.5 detector 1). It
// always updates state, even when it does not alert, so later trades build
// history.
func (m *Manager) ShouldAlert(marketID string, size, price float64, side models.Side) ShouldAlertResult {
	t := m.get(marketID)
	t.addTrade(size, price, side)

	if side != models.SideBuy || price >= t.cfg.LowPriceThreshold {
		return ShouldAlertResult{Alert: false}
	}
	res := t.percentile(size)
	return ShouldAlertResult{Alert: res.Severity != models.SeverityNone, Result: res}
}
