// internal/database/boltstore_history.go - action run and health history, retention and stats
package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

// historyKey orders entries chronologically; the id suffix keeps keys unique.
func historyKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d:%s", ts.UnixNano(), id))
}

func cutoffKey(ts time.Time) []byte {
	return []byte(fmt.Sprintf("%020d:", ts.UnixNano()))
}

func (s *BoltStore) SaveActionRun(ctx context.Context, run *ActionRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(RunsBucket), historyKey(run.FinishedAt, run.ID), run)
	})
}

// ListActionRuns returns matching runs newest first.
func (s *BoltStore) ListActionRuns(ctx context.Context, filters RunFilters) ([]ActionRun, error) {
	var runs []ActionRun

	err := s.db.View(func(tx *bbolt.Tx) error {
		return scanNewestFirst(tx.Bucket(RunsBucket), filters.Since, func(v []byte) bool {
			var run ActionRun
			if err := json.Unmarshal(v, &run); err != nil {
				return true // Skip malformed entries
			}

			if filters.HostID != 0 && run.HostID != filters.HostID {
				return true
			}
			if filters.RuleID != 0 && run.RuleID != filters.RuleID {
				return true
			}
			if filters.Status != "" && run.Status != filters.Status {
				return true
			}

			runs = append(runs, run)
			return filters.Limit <= 0 || len(runs) < filters.Limit
		})
	})

	return runs, err
}

func (s *BoltStore) AppendHealthRecord(ctx context.Context, rec *HealthRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(HealthBucket), historyKey(rec.CheckedAt, rec.ID), rec)
	})
}

// ListHealthRecords returns matching records newest first.
func (s *BoltStore) ListHealthRecords(ctx context.Context, filters HealthFilters) ([]HealthRecord, error) {
	var records []HealthRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		return scanNewestFirst(tx.Bucket(HealthBucket), filters.Since, func(v []byte) bool {
			var rec HealthRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return true
			}

			if filters.HostID != 0 && rec.HostID != filters.HostID {
				return true
			}
			if filters.Status != "" && rec.Status != filters.Status {
				return true
			}

			records = append(records, rec)
			return filters.Limit <= 0 || len(records) < filters.Limit
		})
	})

	return records, err
}

// scanNewestFirst walks b backwards until fn returns false or keys fall before since.
func scanNewestFirst(b *bbolt.Bucket, since time.Time, fn func(v []byte) bool) error {
	var floor []byte
	if !since.IsZero() {
		floor = cutoffKey(since)
	}

	c := b.Cursor()
	for k, v := c.Last(); k != nil; k, v = c.Prev() {
		if floor != nil && bytes.Compare(k, floor) < 0 {
			return nil
		}
		if !fn(v) {
			return nil
		}
	}
	return nil
}

// DeleteHistoryBefore removes action runs and health records older than cutoff
func (s *BoltStore) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deletedCount := 0
	limit := cutoffKey(cutoff)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{RunsBucket, HealthBucket} {
			b := tx.Bucket(name)

			var keysToDelete [][]byte
			c := b.Cursor()
			for k, _ := c.First(); k != nil && bytes.Compare(k, limit) < 0; k, _ = c.Next() {
				keysToDelete = append(keysToDelete, copyBytes(k))
			}

			for _, key := range keysToDelete {
				if err := b.Delete(key); err != nil {
					return fmt.Errorf("failed to delete %s entry: %w", name, err)
				}
				deletedCount++
			}
		}
		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("failed to delete old history: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"deleted_count": deletedCount,
		"cutoff_time":   cutoff,
	}).Info("Deleted old history entries")

	return deletedCount, nil
}

// GetDatabaseStats returns information about database size and health
func (s *BoltStore) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		stats.TotalHosts = tx.Bucket(HostsBucket).Stats().KeyN
		stats.TotalRules = tx.Bucket(RulesBucket).Stats().KeyN
		stats.TotalActionRuns = tx.Bucket(RunsBucket).Stats().KeyN

		health := tx.Bucket(HealthBucket)
		stats.TotalHealthRows = health.Stats().KeyN

		cursor := health.Cursor()
		if k, v := cursor.First(); k != nil {
			var rec HealthRecord
			if err := json.Unmarshal(v, &rec); err == nil {
				stats.OldestEntry = rec.CheckedAt
			}
		}
		if k, v := cursor.Last(); k != nil {
			var rec HealthRecord
			if err := json.Unmarshal(v, &rec); err == nil {
				stats.NewestEntry = rec.CheckedAt
			}
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}

	// Get file size
	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = fileInfo.Size()
	}

	return stats, nil
}
