// Package alertstore implements the Alert Store (spec §4.7): a bounded
// in-memory log of emitted alerts with an on-disk JSON snapshot and
// recomputed summary statistics, grounded on the teacher's SQLite alerts
// table (github.com/rewired-gh/polyoracle/internal/storage) but adapted to
// an in-memory list plus atomic snapshot per the spec's persistence model.
package alertstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/surveil/smartmoney/internal/logger"
	"github.com/surveil/smartmoney/internal/models"
)

// Config holds Alert Store tunables.
type Config struct {
	MaxAlerts    int
	SnapshotPath string
}

// Stats holds recomputed summary statistics over the stored alerts.
type Stats struct {
	ByType     map[models.AnomalyType]int `json:"by_type"`
	BySeverity map[models.Severity]int    `json:"by_severity"`
	Last24h    int                        `json:"last_24h"`
	Last7d     int                        `json:"last_7d"`
}

// snapshot is the on-disk JSON document layout (spec §6).
type snapshot struct {
	LastUpdated time.Time      `json:"lastUpdated"`
	TotalAlerts int            `json:"totalAlerts"`
	Alerts      []models.Alert `json:"alerts"`
	Stats       Stats          `json:"stats"`
}

// Store is a single-writer, multi-reader bounded alert log.
type Store struct {
	mu     sync.RWMutex
	cfg    Config
	alerts []models.Alert // newest first
	stats  Stats
	now    func() time.Time
}

// New constructs an empty Alert Store. Call Load to hydrate from disk.
func New(cfg Config) *Store {
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = 1000
	}
	return &Store{
		cfg: cfg,
		stats: Stats{
			ByType:     make(map[models.AnomalyType]int),
			BySeverity: make(map[models.Severity]int),
		},
		now: time.Now,
	}
}

// SetClock overrides the time source used for last-24h/7d windows in tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Load hydrates the store from an existing snapshot file, if present. A
// missing file is not an error; the store starts empty.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.cfg.SnapshotPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read alert snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse alert snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = snap.Alerts
	s.recomputeStats()
	return nil
}

// Append prepends a new alert, truncates at MaxAlerts, recomputes stats, and
// persists the snapshot before returning (spec §4.7: "the store only
// guarantees the local snapshot is durable after add returns").
func (s *Store) Append(a models.Alert) {
	s.mu.Lock()
	s.alerts = append([]models.Alert{a}, s.alerts...)
	if len(s.alerts) > s.cfg.MaxAlerts {
		s.alerts = s.alerts[:s.cfg.MaxAlerts]
	}
	s.recomputeStats()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.cfg.SnapshotPath != "" {
		if err := writeAtomic(s.cfg.SnapshotPath, snap); err != nil {
			logger.Warn("alertstore: failed to persist snapshot: %v", err)
		}
	}
}

func (s *Store) recomputeStats() {
	byType := make(map[models.AnomalyType]int)
	bySeverity := make(map[models.Severity]int)
	now := s.now()
	var last24h, last7d int
	for _, a := range s.alerts {
		byType[a.Type]++
		bySeverity[a.Severity]++
		age := now.Sub(time.UnixMilli(a.Timestamp))
		if age <= 24*time.Hour {
			last24h++
		}
		if age <= 7*24*time.Hour {
			last7d++
		}
	}
	s.stats = Stats{ByType: byType, BySeverity: bySeverity, Last24h: last24h, Last7d: last7d}
}

// Recent returns up to n most-recently-appended alerts.
func (s *Store) Recent(n int) []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.alerts) {
		n = len(s.alerts)
	}
	out := make([]models.Alert, n)
	copy(out, s.alerts[:n])
	return out
}

// StatsSnapshot returns a copy of the current summary statistics.
func (s *Store) StatsSnapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byType := make(map[models.AnomalyType]int, len(s.stats.ByType))
	for k, v := range s.stats.ByType {
		byType[k] = v
	}
	bySeverity := make(map[models.Severity]int, len(s.stats.BySeverity))
	for k, v := range s.stats.BySeverity {
		bySeverity[k] = v
	}
	return Stats{ByType: byType, BySeverity: bySeverity, Last24h: s.stats.Last24h, Last7d: s.stats.Last7d}
}

// Publish recomputes summary statistics against the current clock and
// persists the snapshot, independent of any new Append (spec §4.8 step 5:
// the periodic publish keeps last24h/last7d accurate as alerts age out of
// those windows even when no new alert has arrived to trigger a write).
func (s *Store) Publish() error {
	s.mu.Lock()
	s.recomputeStats()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.cfg.SnapshotPath == "" {
		return nil
	}
	if err := writeAtomic(s.cfg.SnapshotPath, snap); err != nil {
		return fmt.Errorf("failed to publish alert snapshot: %w", err)
	}
	return nil
}

// Total returns the number of alerts currently retained.
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

func (s *Store) snapshotLocked() snapshot {
	alertsCopy := make([]models.Alert, len(s.alerts))
	copy(alertsCopy, s.alerts)
	return snapshot{
		LastUpdated: s.now(),
		TotalAlerts: len(alertsCopy),
		Alerts:      alertsCopy,
		Stats:       s.stats,
	}
}

// writeAtomic writes to a temp file in the same directory then renames over
// the target, avoiding half-written snapshots (spec §5 file I/O discipline).
func writeAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".alertstore-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp snapshot file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to fsync temp snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp snapshot file: %w", err)
	}
	return nil
}
