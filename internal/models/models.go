// Package models defines the core domain entities shared across the
// surveillance engine: markets, trades, baselines, anomalies, alerts, and
// discovered market relations.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Side is the direction of an executed trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Direction is the implied directional read of an anomaly.
type Direction string

const (
	DirectionYes     Direction = "YES"
	DirectionNo      Direction = "NO"
	DirectionUnknown Direction = "UNKNOWN"
)

// Severity is the anomaly/alert severity ladder, ordered low to high.
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// severityOrder ranks severities for minSeverity comparisons (I3, meetsMinSeverity).
var severityOrder = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// MeetsMinSeverity reports whether a is at least as severe as min.
func MeetsMinSeverity(a, min Severity) bool {
	return severityOrder[a] >= severityOrder[min]
}

// Market is a binary-outcome prediction-market contract.
type Market struct {
	ID          string    `json:"id"`
	ConditionID string    `json:"condition_id"`
	Slug        string    `json:"slug,omitempty"`
	Question    string    `json:"question"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	EndTime     time.Time `json:"end_time"`
	YesTokenID  string    `json:"yes_token_id"`
	NoTokenID   string    `json:"no_token_id"`
	YesPrice    float64   `json:"yes_price"`
	NoPrice     float64   `json:"no_price"`
	Volume24hr  float64   `json:"volume_24hr"`
	Closed      bool      `json:"closed"`
	SeriesID    string    `json:"series_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks field-level invariants on a Market.
func (m *Market) Validate() error {
	if m.ID == "" {
		return errors.New("market id must not be empty")
	}
	if m.Question == "" {
		return errors.New("market question must not be empty")
	}
	if m.YesTokenID == "" || m.NoTokenID == "" {
		return errors.New("market must carry both yes and no token ids")
	}
	if m.YesPrice < 0 || m.YesPrice > 1 {
		return errors.New("yes price must be within [0,1]")
	}
	if m.Volume24hr < 0 {
		return errors.New("volume24hr must not be negative")
	}
	return nil
}

// Trade is a single executed fill on a market's token.
type Trade struct {
	MarketID    string    `json:"market_id"`
	TokenID     string    `json:"token_id"`
	Timestamp   int64     `json:"timestamp_ms"`
	Sequence    uint64    `json:"sequence"`
	Price       float64   `json:"price"`
	Size        float64   `json:"size"`
	USDNotional float64   `json:"usd_notional"`
	Side        Side      `json:"side"`
	MakerAddr   string    `json:"maker_address,omitempty"`
	TakerAddr   string    `json:"taker_address,omitempty"`
}

// NewTrade constructs a Trade computing the USD notional from price*size.
func NewTrade(marketID, tokenID string, ts int64, seq uint64, price, size float64, side Side) Trade {
	return Trade{
		MarketID:    marketID,
		TokenID:     tokenID,
		Timestamp:   ts,
		Sequence:    seq,
		Price:       price,
		Size:        size,
		USDNotional: price * size,
		Side:        side,
	}
}

// MarketBaseline holds rolling statistics for one market (Baseline Calculator, §4.3).
type MarketBaseline struct {
	MarketID string

	AvgTradeSize    float64
	StddevTradeSize float64
	MedianTradeSize float64

	AvgHourlyVolume    float64
	StddevHourlyVolume float64

	AvgHourlyAbsPriceChange    float64
	StddevHourlyAbsPriceChange float64

	TradesPerHour float64

	FirstTradeTS int64
	LastTradeTS  int64
	SampleCount  int
}

// Ready reports whether enough samples exist to answer queries (boundary behavior §8).
func (b *MarketBaseline) Ready(minSamples int) bool {
	return b != nil && b.SampleCount >= minSamples
}

// AnomalyType enumerates the four detector variants (§3, §4.5).
type AnomalyType string

const (
	AnomalyLargeTrade          AnomalyType = "LARGE_TRADE"
	AnomalyVolumeSpike         AnomalyType = "VOLUME_SPIKE"
	AnomalyRapidPriceMove      AnomalyType = "RAPID_PRICE_MOVE"
	AnomalyUnusualLowPriceBuy  AnomalyType = "UNUSUAL_LOW_PRICE_BUY"
)

// AnomalyDebug carries the raw inputs behind a severity decision, surfaced to
// operators in the health endpoint's /alerts output; the Telegram message
// shows only the LARGE_TRADE z-score (supplemental, §5
// SPEC_FULL "score-breakdown" enrichment). Never consulted by detector logic.
type AnomalyDebug struct {
	ZScore          *float64 `json:"z_score,omitempty"`
	WindowVolume    *float64 `json:"window_volume,omitempty"`
	ExpectedVolume  *float64 `json:"expected_volume,omitempty"`
	PriceChangePct  *float64 `json:"price_change_pct,omitempty"`
}

// Anomaly is a typed detection emitted by the Anomaly Engine for one trade.
type Anomaly struct {
	Type             AnomalyType `json:"type"`
	MarketID         string      `json:"market_id"`
	Question         string      `json:"question"`
	Severity         Severity    `json:"severity"`
	Timestamp        int64       `json:"timestamp_ms"`
	CurrentPrice     float64     `json:"current_price"`
	ImpliedDirection Direction   `json:"implied_direction"`
	Trade            *Trade      `json:"trade,omitempty"`
	Debug            AnomalyDebug `json:"debug,omitempty"`

	// Variant-specific details; zero-valued fields are omitted by the formatter.
	TradeSizeUSD   float64 `json:"trade_size_usd,omitempty"`
	Percentile     float64 `json:"percentile,omitempty"`
	Rank           int     `json:"rank,omitempty"`
	TotalTrades    int     `json:"total_trades,omitempty"`
	MedianSize     float64 `json:"median_size,omitempty"`
	WindowVolume   float64 `json:"window_volume,omitempty"`
	VolumeMultiple float64 `json:"volume_multiple,omitempty"`
	PriceDelta     float64 `json:"price_delta,omitempty"`
	PriceDeltaPct  float64 `json:"price_delta_pct,omitempty"`
}

// Alert is a persisted Anomaly header with a stable id (§3).
type Alert struct {
	ID               string      `json:"id"`
	MarketID         string      `json:"market_id"`
	Question         string      `json:"question"`
	Type             AnomalyType `json:"type"`
	Severity         Severity    `json:"severity"`
	Timestamp        int64       `json:"timestamp_ms"`
	CurrentPrice     float64     `json:"current_price"`
	ImpliedDirection Direction   `json:"implied_direction"`
	Details          Anomaly     `json:"details"`
	Outcome          *string     `json:"outcome,omitempty"`
}

// AlertID builds the stable id `{market}:{type}:{timestamp}` (§3).
func AlertID(marketID string, t AnomalyType, ts int64) string {
	return fmt.Sprintf("%s:%s:%d", marketID, t, ts)
}

// RelationType enumerates the discovery pipeline's pairwise verdicts (§4.9 step 5-6).
type RelationType string

const (
	RelationSameOutcome      RelationType = "SAME_OUTCOME"
	RelationDifferentOutcome RelationType = "DIFFERENT_OUTCOME"
	RelationUnrelated        RelationType = "UNRELATED"
	RelationSameEventReject  RelationType = "SAME_EVENT_REJECT"
)

// MarketRelation is a directed-by-time link between two markets (§3).
type MarketRelation struct {
	LeaderID         string       `json:"leader_id"`
	FollowerID       string       `json:"follower_id"`
	LeaderEndTime    time.Time    `json:"leader_end_time"`
	Relationship     RelationType `json:"relationship"`
	Confidence       float64      `json:"confidence"`
	TradingRationale string       `json:"trading_rationale"`
	ExpectedEdge     float64      `json:"expected_edge"`
	TimeGapDays      float64      `json:"time_gap_days"`
	SeriesID         string       `json:"series_id,omitempty"`
}

// OpportunityStatus is the monotonic lifecycle of an Opportunity (I8).
type OpportunityStatus string

const (
	OpportunityActive             OpportunityStatus = "active"
	OpportunityThresholdTriggered OpportunityStatus = "threshold_triggered"
	OpportunityResolved           OpportunityStatus = "resolved"
)

// Opportunity wraps one actionable MarketRelation with lifecycle state (§3).
type Opportunity struct {
	PairID            string            `json:"pair_id"`
	Relation          MarketRelation    `json:"relation"`
	Status            OpportunityStatus `json:"status"`
	LeaderOutcome     *Direction        `json:"leader_outcome,omitempty"`
	ThresholdPrice    *float64          `json:"threshold_price,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	ThresholdAt       *time.Time        `json:"threshold_at,omitempty"`
	ResolvedAt        *time.Time        `json:"resolved_at,omitempty"`
}

// PairID returns the canonical id for an unordered pair of market ids:
// the lexicographically-sorted concatenation, so lookups are
// order-independent (I: isPairAnalyzed(a,b) == isPairAnalyzed(b,a)).
func PairID(a, b string) string {
	if a <= b {
		return a + "-" + b
	}
	return b + "-" + a
}

// SeenMarket is a cache entry recording when a market was first observed (§3, cache).
type SeenMarket struct {
	Question  string    `json:"question"`
	EndTime   time.Time `json:"end_time"`
	FirstSeen time.Time `json:"first_seen"`
}

// AnalyzedPair is a cached LLM pairwise-evaluation result (§3, cache).
type AnalyzedPair struct {
	Result     RelationType `json:"result"`
	Confidence float64      `json:"confidence"`
	AnalyzedAt time.Time    `json:"analyzed_at"`
}

// LeaderStatus is the external leader-status snapshot (§6).
type LeaderStatus struct {
	ID       string  `json:"id"`
	Question string  `json:"question"`
	Closed   bool    `json:"closed"`
	Resolved bool    `json:"resolved"`
	Outcome  string  `json:"outcome,omitempty"`
	YesPrice float64 `json:"yes_price"`
}
