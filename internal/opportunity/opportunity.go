// Package opportunity implements the Opportunity & Cache State (spec §4.10):
// a single load-or-create JSON document holding discovered leader-follower
// opportunities, analyzed-pair results, seen-market digests, and cached
// embeddings. Grounded on the teacher's storage.go persistence role, adapted
// from SQLite tables to an atomically-written JSON document since spec.md
// prescribes a durable JSON document rather than a database.
package opportunity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/surveil/smartmoney/internal/logger"
	"github.com/surveil/smartmoney/internal/models"
)

// Config holds Opportunity & Cache State tunables.
type Config struct {
	StatePath           string
	MarketRetentionDays int
}

// document is the in-memory representation: maps keyed by pair/market id for
// O(1) lookup, which is what every State method needs. It is never
// marshaled directly — wireDocument below is the on-disk shape (spec §6).
type document struct {
	Opportunities map[string]models.Opportunity
	PairCache     map[string]models.AnalyzedPair
	SeenMarkets   map[string]models.SeenMarket
	Embeddings    map[string][]float64
}

func newDocument() document {
	return document{
		Opportunities: make(map[string]models.Opportunity),
		PairCache:     make(map[string]models.AnalyzedPair),
		SeenMarkets:   make(map[string]models.SeenMarket),
		Embeddings:    make(map[string][]float64),
	}
}

// wireDocument is the persisted JSON document layout (spec §6):
// { opportunities: [...], lastChecked: ..., cache: { seenMarkets, analyzedPairs, embeddings } }.
type wireDocument struct {
	Opportunities []models.Opportunity `json:"opportunities"`
	LastChecked   time.Time            `json:"lastChecked"`
	Cache         wireCache            `json:"cache"`
}

type wireCache struct {
	SeenMarkets   map[string]models.SeenMarket   `json:"seenMarkets"`
	AnalyzedPairs map[string]models.AnalyzedPair `json:"analyzedPairs"`
	Embeddings    map[string][]float64           `json:"embeddings"`
}

func toWire(doc document, lastChecked time.Time) wireDocument {
	opps := make([]models.Opportunity, 0, len(doc.Opportunities))
	for _, opp := range doc.Opportunities {
		opps = append(opps, opp)
	}
	return wireDocument{
		Opportunities: opps,
		LastChecked:   lastChecked,
		Cache: wireCache{
			SeenMarkets:   doc.SeenMarkets,
			AnalyzedPairs: doc.PairCache,
			Embeddings:    doc.Embeddings,
		},
	}
}

func fromWire(w wireDocument) document {
	doc := newDocument()
	for _, opp := range w.Opportunities {
		doc.Opportunities[opp.PairID] = opp
	}
	if w.Cache.SeenMarkets != nil {
		doc.SeenMarkets = w.Cache.SeenMarkets
	}
	if w.Cache.AnalyzedPairs != nil {
		doc.PairCache = w.Cache.AnalyzedPairs
	}
	if w.Cache.Embeddings != nil {
		doc.Embeddings = w.Cache.Embeddings
	}
	return doc
}

// State owns the single Opportunity & Cache State document.
type State struct {
	mu  sync.RWMutex
	cfg Config
	doc document
	now func() time.Time
}

// Load reads the state document at cfg.StatePath, creating an empty one if
// the file does not exist yet.
func Load(cfg Config) (*State, error) {
	s := &State{cfg: cfg, doc: newDocument(), now: time.Now}

	data, err := os.ReadFile(cfg.StatePath)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read opportunity state: %w", err)
	}
	var wire wireDocument
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode opportunity state: %w", err)
	}
	s.doc = fromWire(wire)
	return s, nil
}

// SetClock overrides the wall clock used for FirstSeen/AnalyzedAt stamps and
// retention cutoffs; test seam only.
func (s *State) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// HasOpportunity reports whether the pair id already has an Opportunity.
func (s *State) HasOpportunity(pairID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.doc.Opportunities[pairID]
	return ok
}

// AddOpportunity inserts a new Opportunity for relation if its pair id is not
// already present (idempotent insert, spec §4.10) and persists the document.
// Returns the Opportunity (existing or newly created) and whether it was new.
func (s *State) AddOpportunity(relation models.MarketRelation) (models.Opportunity, bool) {
	pairID := models.PairID(relation.LeaderID, relation.FollowerID)

	s.mu.Lock()
	if existing, ok := s.doc.Opportunities[pairID]; ok {
		s.mu.Unlock()
		return existing, false
	}
	opp := models.Opportunity{
		PairID:    pairID,
		Relation:  relation,
		Status:    models.OpportunityActive,
		CreatedAt: s.now(),
	}
	s.doc.Opportunities[pairID] = opp
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		logger.Warn("opportunity: failed to persist after add: %v", err)
	}
	return opp, true
}

// GetUnresolvedOpportunities returns every Opportunity not yet resolved.
func (s *State) GetUnresolvedOpportunities() []models.Opportunity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Opportunity
	for _, opp := range s.doc.Opportunities {
		if opp.Status != models.OpportunityResolved {
			out = append(out, opp)
		}
	}
	return out
}

// GetActiveOpportunities returns Opportunities that are neither resolved nor
// threshold-triggered.
func (s *State) GetActiveOpportunities() []models.Opportunity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Opportunity
	for _, opp := range s.doc.Opportunities {
		if opp.Status == models.OpportunityActive {
			out = append(out, opp)
		}
	}
	return out
}

// GetOpportunitiesInSeries returns Opportunities whose leader relation
// carries seriesID, used to drive leader-monitor cascades (spec §4.11 step 4).
func (s *State) GetOpportunitiesInSeries(seriesID string) []models.Opportunity {
	if seriesID == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Opportunity
	for _, opp := range s.doc.Opportunities {
		if opp.Relation.SeriesID == seriesID {
			out = append(out, opp)
		}
	}
	return out
}

// MarkThresholdTriggered advances an active Opportunity to threshold_triggered
// (monotonic lifecycle, spec I8) and persists. No-op if already past active.
func (s *State) MarkThresholdTriggered(pairID string, price float64) error {
	s.mu.Lock()
	opp, ok := s.doc.Opportunities[pairID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("opportunity %s not found", pairID)
	}
	if opp.Status != models.OpportunityActive {
		s.mu.Unlock()
		return nil
	}
	now := s.now()
	opp.Status = models.OpportunityThresholdTriggered
	opp.ThresholdPrice = &price
	opp.ThresholdAt = &now
	s.doc.Opportunities[pairID] = opp
	s.mu.Unlock()

	return s.persist()
}

// MarkLeaderResolved advances an Opportunity to resolved with the leader's
// outcome (monotonic lifecycle, spec I8) and persists.
func (s *State) MarkLeaderResolved(pairID string, outcome models.Direction) error {
	s.mu.Lock()
	opp, ok := s.doc.Opportunities[pairID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("opportunity %s not found", pairID)
	}
	if opp.Status == models.OpportunityResolved {
		s.mu.Unlock()
		return nil
	}
	now := s.now()
	opp.Status = models.OpportunityResolved
	opp.LeaderOutcome = &outcome
	opp.ResolvedAt = &now
	s.doc.Opportunities[pairID] = opp
	s.mu.Unlock()

	return s.persist()
}

// IsPairAnalyzed reports whether the canonical pair id has a cached result.
func (s *State) IsPairAnalyzed(marketA, marketB string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.doc.PairCache[models.PairID(marketA, marketB)]
	return ok
}

// GetPairResult returns the cached analysis for a pair, if present.
func (s *State) GetPairResult(marketA, marketB string) (models.AnalyzedPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.doc.PairCache[models.PairID(marketA, marketB)]
	return r, ok
}

// SavePairResult caches a pairwise evaluation result (including UNRELATED,
// per spec §4.9 step 5) and persists.
func (s *State) SavePairResult(marketA, marketB string, result models.RelationType, confidence float64) error {
	s.mu.Lock()
	s.doc.PairCache[models.PairID(marketA, marketB)] = models.AnalyzedPair{
		Result:     result,
		Confidence: confidence,
		AnalyzedAt: s.now(),
	}
	s.mu.Unlock()
	return s.persist()
}

// MarkMarketSeen records the first-seen digest for a market if not already
// present; re-seeing an existing market is a no-op.
func (s *State) MarkMarketSeen(marketID, question string, endTime time.Time) error {
	s.mu.Lock()
	if _, ok := s.doc.SeenMarkets[marketID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.doc.SeenMarkets[marketID] = models.SeenMarket{
		Question:  question,
		EndTime:   endTime,
		FirstSeen: s.now(),
	}
	s.mu.Unlock()
	return s.persist()
}

// IsMarketNew reports whether marketID has not yet been seen.
func (s *State) IsMarketNew(marketID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.doc.SeenMarkets[marketID]
	return !ok
}

// GetEmbedding returns the cached embedding vector for a market, if present.
func (s *State) GetEmbedding(marketID string) ([]float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.doc.Embeddings[marketID]
	return v, ok
}

// SaveEmbedding caches an embedding vector for a market and persists.
func (s *State) SaveEmbedding(marketID string, vector []float64) error {
	s.mu.Lock()
	s.doc.Embeddings[marketID] = vector
	s.mu.Unlock()
	return s.persist()
}

// CleanupEndedMarkets purges SeenMarket and Embedding entries whose end time
// is older than the retention window, and drops AnalyzedPair entries that
// reference any purged market (spec §4.9 step 8).
func (s *State) CleanupEndedMarkets() error {
	s.mu.Lock()
	cutoff := s.now().AddDate(0, 0, -s.cfg.MarketRetentionDays)

	purged := make(map[string]bool)
	for marketID, sm := range s.doc.SeenMarkets {
		if sm.EndTime.Before(cutoff) {
			purged[marketID] = true
			delete(s.doc.SeenMarkets, marketID)
			delete(s.doc.Embeddings, marketID)
		}
	}

	for pairID := range s.doc.PairCache {
		a, b := splitPairID(pairID)
		if purged[a] || purged[b] {
			delete(s.doc.PairCache, pairID)
		}
	}
	s.mu.Unlock()

	if len(purged) > 0 {
		logger.Info("opportunity: purged %d ended markets from cache", len(purged))
	}
	return s.persist()
}

// splitPairID reverses models.PairID's "-"-joined canonical form. Market ids
// containing "-" make this lossy for cache cleanup purposes only; a false
// non-match just means the stale pair entry survives one extra cleanup pass.
func splitPairID(pairID string) (string, string) {
	for i := 0; i < len(pairID); i++ {
		if pairID[i] == '-' {
			return pairID[:i], pairID[i+1:]
		}
	}
	return pairID, ""
}

// NewRunID generates a discovery scan run identifier.
func NewRunID() string {
	return uuid.New().String()
}

func (s *State) persist() error {
	s.mu.RLock()
	wire := toWire(s.doc, s.now())
	s.mu.RUnlock()
	return writeAtomic(s.cfg.StatePath, wire)
}

func writeAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal opportunity state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "opportunity-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}
	return nil
}
