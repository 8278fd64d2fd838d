// Package leadermonitor implements the Leader Monitor (spec §4.11): a
// periodic task that polls each in-scope Opportunity's leader market for
// resolution or near-certainty, and cascades a threshold trigger to sibling
// Opportunities in the same series. Grounded on the teacher's polling-ticker
// idiom (cmd/polyoracle/main.go) and its FetchEvents-style status client.
package leadermonitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/surveil/smartmoney/internal/config"
	"github.com/surveil/smartmoney/internal/exchange"
	"github.com/surveil/smartmoney/internal/logger"
	"github.com/surveil/smartmoney/internal/models"
	"github.com/surveil/smartmoney/internal/opportunity"
)

// Event is one leader-monitor emission, passed to the caller-supplied sink
// for downstream alerting (spec §4.11: LEADER_RESOLVED, NEAR_CERTAINTY,
// CASCADE).
type Event struct {
	Kind       string // LEADER_RESOLVED | NEAR_CERTAINTY | CASCADE
	PairID     string
	LeaderID   string
	FollowerID string
	Outcome    models.Direction
	TradeAction string
	Price      float64
}

// Sink receives leader-monitor events for downstream alerting.
type Sink func(Event)

// Monitor polls leader status and advances Opportunity lifecycles.
type Monitor struct {
	cfg    config.MonitorConfig
	status *exchange.LeaderStatusClient
	state  *opportunity.State
	sink   Sink
}

// New constructs a Leader Monitor.
func New(cfg config.MonitorConfig, status *exchange.LeaderStatusClient, state *opportunity.State, sink Sink) *Monitor {
	return &Monitor{cfg: cfg, status: status, state: state, sink: sink}
}

// RunOnce polls every unresolved Opportunity's leader exactly once, with a
// small per-market delay between fetches (spec §4.11 step 5).
func (m *Monitor) RunOnce(ctx context.Context) {
	opportunities := m.state.GetUnresolvedOpportunities()
	for _, opp := range opportunities {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.checkOne(ctx, opp); err != nil {
			logger.Warn("leadermonitor: check failed for %s: %v", opp.PairID, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.PerMarketDelay):
		}
	}
}

// checkOne implements spec §4.11 steps 1-4 for a single Opportunity.
func (m *Monitor) checkOne(ctx context.Context, opp models.Opportunity) error {
	status, err := m.status.FetchStatus(ctx, opp.Relation.LeaderID)
	if err != nil {
		return fmt.Errorf("failed to fetch leader status: %w", err)
	}

	if status.Resolved || status.Closed {
		return m.handleResolution(opp, status)
	}
	return m.handleNearCertainty(opp, status.YesPrice)
}

// handleResolution implements spec §4.11 step 2.
func (m *Monitor) handleResolution(opp models.Opportunity, status *models.LeaderStatus) error {
	outcome, ok := parseOutcome(status.Outcome)
	if !ok {
		logger.Warn("leadermonitor: ambiguous outcome %q for leader %s, leaving opportunity unresolved", status.Outcome, opp.Relation.LeaderID)
		return nil
	}

	if err := m.state.MarkLeaderResolved(opp.PairID, outcome); err != nil {
		return err
	}

	m.sink(Event{
		Kind: "LEADER_RESOLVED", PairID: opp.PairID,
		LeaderID: opp.Relation.LeaderID, FollowerID: opp.Relation.FollowerID,
		Outcome: outcome, TradeAction: tradeAction(opp.Relation.Relationship, outcome),
	})
	return nil
}

// handleNearCertainty implements spec §4.11 step 3.
func (m *Monitor) handleNearCertainty(opp models.Opportunity, yesPrice float64) error {
	if opp.Status != models.OpportunityActive {
		return nil
	}
	if yesPrice < m.cfg.NearCertaintyThreshold {
		return nil
	}

	if err := m.state.MarkThresholdTriggered(opp.PairID, yesPrice); err != nil {
		return err
	}
	m.sink(Event{
		Kind: "NEAR_CERTAINTY", PairID: opp.PairID,
		LeaderID: opp.Relation.LeaderID, FollowerID: opp.Relation.FollowerID,
		Price: yesPrice,
	})

	m.cascade(opp, yesPrice)
	return nil
}

// cascade implements spec §4.11 step 4: sibling Opportunities in the same
// series with a later leader end-time that are still active get marked
// threshold_triggered at the same price and each emits a CASCADE event.
func (m *Monitor) cascade(opp models.Opportunity, price float64) {
	if opp.Relation.SeriesID == "" {
		return
	}
	siblings := m.state.GetOpportunitiesInSeries(opp.Relation.SeriesID)
	for _, sib := range siblings {
		if sib.PairID == opp.PairID {
			continue
		}
		if sib.Status != models.OpportunityActive {
			continue
		}
		if !sib.Relation.LeaderEndTime.After(opp.Relation.LeaderEndTime) {
			continue
		}
		if err := m.state.MarkThresholdTriggered(sib.PairID, price); err != nil {
			logger.Warn("leadermonitor: cascade mark failed for %s: %v", sib.PairID, err)
			continue
		}
		m.sink(Event{
			Kind: "CASCADE", PairID: sib.PairID,
			LeaderID: sib.Relation.LeaderID, FollowerID: sib.Relation.FollowerID,
			Price: price,
		})
	}
}

// tradeAction implements spec §4.11 step 2's derived trade action: for
// SAME_OUTCOME buy the follower in the same direction, for
// DIFFERENT_OUTCOME buy the opposite.
func tradeAction(rel models.RelationType, leaderOutcome models.Direction) string {
	followerDirection := leaderOutcome
	if rel == models.RelationDifferentOutcome {
		followerDirection = opposite(leaderOutcome)
	}
	return fmt.Sprintf("BUY %s", followerDirection)
}

func opposite(d models.Direction) models.Direction {
	switch d {
	case models.DirectionYes:
		return models.DirectionNo
	case models.DirectionNo:
		return models.DirectionYes
	default:
		return models.DirectionUnknown
	}
}

// parseOutcome accepts "yes"/"1"/"true" and "no"/"0"/"false" (case
// insensitive), per spec §4.11 step 2.
func parseOutcome(raw string) (models.Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "1", "true":
		return models.DirectionYes, true
	case "no", "0", "false":
		return models.DirectionNo, true
	default:
		return models.DirectionUnknown, false
	}
}
