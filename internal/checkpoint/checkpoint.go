// Package checkpoint implements an optional warm-restart store for the
// Baseline Calculator and Percentile Tracker, so a restarted process does
// not relearn statistics from zero. Grounded directly on the teacher's
// internal/storage package: same modernc.org/sqlite driver, same
// single-writer WAL pragma setup, same insert-or-replace-by-market-id
// table shape, adapted from MarketState's Welford/TC fields to
// MarketBaseline's rolling stats and the percentile tracker's sorted
// multiset.
package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/surveil/smartmoney/internal/baseline"
	"github.com/surveil/smartmoney/internal/logger"
	"github.com/surveil/smartmoney/internal/models"
	"github.com/surveil/smartmoney/internal/percentile"
)

// Store persists per-market baseline and percentile-tracker state to a
// local SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the checkpoint database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS market_checkpoint (
			market_id          TEXT PRIMARY KEY,
			baseline_json       TEXT NOT NULL DEFAULT '{}',
			percentile_json     TEXT NOT NULL DEFAULT '{}',
			updated_at          INTEGER NOT NULL
		)`)
	return err
}

// SaveBaseline upserts a market's baseline snapshot.
func (s *Store) SaveBaseline(marketID string, b models.MarketBaseline) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO market_checkpoint (market_id, baseline_json, percentile_json, updated_at)
		VALUES (?, ?, '{}', ?)
		ON CONFLICT(market_id) DO UPDATE SET baseline_json = excluded.baseline_json, updated_at = excluded.updated_at`,
		marketID, string(data), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save baseline checkpoint: %w", err)
	}
	return nil
}

// SavePercentile upserts a market's percentile-tracker snapshot.
func (s *Store) SavePercentile(marketID string, snap percentile.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal percentile snapshot: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO market_checkpoint (market_id, baseline_json, percentile_json, updated_at)
		VALUES (?, '{}', ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET percentile_json = excluded.percentile_json, updated_at = excluded.updated_at`,
		marketID, string(data), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save percentile checkpoint: %w", err)
	}
	return nil
}

// LoadAll restores every checkpointed market into the given Baseline
// Calculator and Percentile Tracker, skipping rows whose JSON fails to
// decode (a corrupted single row must not block the rest of the fleet from
// warm-restarting).
func (s *Store) LoadAll(bc *baseline.Calculator, pt *percentile.Manager) error {
	rows, err := s.db.Query(`SELECT market_id, baseline_json, percentile_json FROM market_checkpoint`)
	if err != nil {
		return fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	restored := 0
	for rows.Next() {
		var marketID, baselineJSON, percentileJSON string
		if err := rows.Scan(&marketID, &baselineJSON, &percentileJSON); err != nil {
			return fmt.Errorf("failed to scan checkpoint row: %w", err)
		}

		if baselineJSON != "{}" {
			var b models.MarketBaseline
			if err := json.Unmarshal([]byte(baselineJSON), &b); err != nil {
				logger.Warn("checkpoint: corrupted baseline row for %s, skipping: %v", marketID, err)
			} else {
				bc.Restore(marketID, b)
			}
		}
		if percentileJSON != "{}" {
			var snap percentile.Snapshot
			if err := json.Unmarshal([]byte(percentileJSON), &snap); err != nil {
				logger.Warn("checkpoint: corrupted percentile row for %s, skipping: %v", marketID, err)
			} else {
				pt.RestoreMarket(marketID, snap)
			}
		}
		restored++
	}
	logger.Info("checkpoint: restored %d market checkpoints", restored)
	return rows.Err()
}

// SaveAll snapshots every market currently tracked by bc and pt. Intended to
// run on a periodic ticker and on graceful shutdown.
func (s *Store) SaveAll(bc *baseline.Calculator, pt *percentile.Manager) error {
	for _, id := range bc.MarketIDs() {
		if b, ok := bc.RawSnapshot(id); ok {
			if err := s.SaveBaseline(id, b); err != nil {
				return err
			}
		}
	}
	for _, id := range pt.MarketIDs() {
		if err := s.SavePercentile(id, pt.SnapshotMarket(id)); err != nil {
			return err
		}
	}
	return nil
}
