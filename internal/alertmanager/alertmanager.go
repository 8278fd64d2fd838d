// Package alertmanager implements the Alert Manager (spec §4.6): dedup,
// cooldown suppression, hourly rate limiting, message formatting, and
// delivery to a Notifier, persisting only successfully delivered alerts.
package alertmanager

import (
	"fmt"
	"sync"
	"time"

	"github.com/surveil/smartmoney/internal/alertstore"
	"github.com/surveil/smartmoney/internal/config"
	"github.com/surveil/smartmoney/internal/logger"
	"github.com/surveil/smartmoney/internal/models"
	"github.com/surveil/smartmoney/internal/notifier"
)

type dedupRecord struct {
	sentAt time.Time
}

// Manager dedups, rate-limits, formats, and delivers anomalies.
type Manager struct {
	mu sync.Mutex

	cfg      config.AlertManagerConfig
	notifier notifier.Notifier
	store    *alertstore.Store

	lastSent       map[string]dedupRecord // key: marketId:type
	hourlyCount    int
	hourlyResetAt  time.Time
	now            func() time.Time
}

// New constructs an Alert Manager bound to a Notifier and the Alert Store.
func New(cfg config.AlertManagerConfig, n notifier.Notifier, store *alertstore.Store) *Manager {
	return &Manager{
		cfg:           cfg,
		notifier:      n,
		store:         store,
		lastSent:      make(map[string]dedupRecord),
		hourlyResetAt: time.Now(),
		now:           time.Now,
	}
}

// SetClock overrides the time source for deterministic tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	m.hourlyResetAt = now()
}

func (m *Manager) dedupKey(a models.Anomaly) string {
	return fmt.Sprintf("%s:%s", a.MarketID, a.Type)
}

// Process applies dedup/cooldown/rate-limit gating, formats and delivers the
// anomaly, and appends to the Alert Store only on successful delivery. It
// returns whether the alert was actually sent.
func (m *Manager) Process(a models.Anomaly) (bool, error) {
	m.mu.Lock()

	now := m.now()
	if now.Sub(m.hourlyResetAt) > time.Hour {
		m.hourlyCount = 0
		m.hourlyResetAt = now
	}

	key := m.dedupKey(a)
	if rec, ok := m.lastSent[key]; ok {
		cooldownElapsed := now.Sub(rec.sentAt) >= time.Duration(m.cfg.CooldownMs)*time.Millisecond
		if !cooldownElapsed {
			m.mu.Unlock()
			return false, nil
		}
	}

	if m.hourlyCount >= m.cfg.MaxAlertsPerHour {
		m.mu.Unlock()
		logger.Warn("alertmanager: hourly rate limit reached (%d), dropping %s", m.cfg.MaxAlertsPerHour, key)
		return false, nil
	}
	m.mu.Unlock()

	text := FormatMessage(a)
	if err := m.notifier.Send(text); err != nil {
		return false, fmt.Errorf("failed to deliver alert: %w", err)
	}

	m.mu.Lock()
	m.lastSent[key] = dedupRecord{sentAt: now}
	m.hourlyCount++
	m.mu.Unlock()

	alert := models.Alert{
		ID:               models.AlertID(a.MarketID, a.Type, a.Timestamp),
		MarketID:         a.MarketID,
		Question:         a.Question,
		Type:             a.Type,
		Severity:         a.Severity,
		Timestamp:        a.Timestamp,
		CurrentPrice:     a.CurrentPrice,
		ImpliedDirection: a.ImpliedDirection,
		Details:          a,
	}
	m.store.Append(alert)

	return true, nil
}

// AlertsThisHour reports how many alerts have been delivered in the current
// hourly window, for the health/readout endpoint.
func (m *Manager) AlertsThisHour() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.now().Sub(m.hourlyResetAt) > time.Hour {
		return 0
	}
	return m.hourlyCount
}

// FormatMessage renders the fixed per-variant template (spec §4.6, §6).
func FormatMessage(a models.Anomaly) string {
	switch a.Type {
	case models.AnomalyUnusualLowPriceBuy:
		return fmt.Sprintf("[%s] UNUSUAL_LOW_PRICE_BUY %s @ $%.3f size=$%.0f percentile=%.3f rank=%d/%d median=$%.2f",
			a.Severity, a.MarketID, a.CurrentPrice, a.TradeSizeUSD, a.Percentile, a.Rank, a.TotalTrades, a.MedianSize)
	case models.AnomalyLargeTrade:
		return fmt.Sprintf("[%s] LARGE_TRADE %s @ $%.3f size=$%.0f direction=%s",
			a.Severity, a.MarketID, a.CurrentPrice, a.TradeSizeUSD, a.ImpliedDirection)
	case models.AnomalyVolumeSpike:
		return fmt.Sprintf("[%s] VOLUME_SPIKE %s window_volume=$%.0f multiple=%.1fx direction=%s",
			a.Severity, a.MarketID, a.WindowVolume, a.VolumeMultiple, a.ImpliedDirection)
	case models.AnomalyRapidPriceMove:
		return fmt.Sprintf("[%s] RAPID_PRICE_MOVE %s delta=%.3f (%.1f%%) direction=%s",
			a.Severity, a.MarketID, a.PriceDelta, a.PriceDeltaPct*100, a.ImpliedDirection)
	default:
		return fmt.Sprintf("[%s] %s %s", a.Severity, a.Type, a.MarketID)
	}
}
