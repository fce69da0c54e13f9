// internal/database/settings.go - runtime-editable settings stored as JSON documents
package database

import (
	"context"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	severityKey = []byte("severity_thresholds")
	summaryKey  = []byte("daily_summary_schedule")
)

func (s *BoltStore) GetSeverityThresholds(ctx context.Context) (SeverityThresholds, error) {
	t := DefaultSeverityThresholds()
	if err := s.getSetting(severityKey, &t); err != nil {
		return DefaultSeverityThresholds(), err
	}
	return t, nil
}

func (s *BoltStore) SetSeverityThresholds(ctx context.Context, t SeverityThresholds) error {
	return s.putSetting(severityKey, t)
}

func (s *BoltStore) GetDailySummarySchedule(ctx context.Context) (DailySummarySchedule, error) {
	sched := DefaultDailySummarySchedule()
	if err := s.getSetting(summaryKey, &sched); err != nil {
		return DefaultDailySummarySchedule(), err
	}
	return sched, nil
}

func (s *BoltStore) SetDailySummarySchedule(ctx context.Context, sched DailySummarySchedule) error {
	return s.putSetting(summaryKey, sched)
}

// getSetting leaves out untouched when the key was never written.
func (s *BoltStore) getSetting(key []byte, out interface{}) error {
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(SettingsBucket), key, out)
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return nil
}

func (s *BoltStore) putSetting(key []byte, in interface{}) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(SettingsBucket), key, in)
	})
}
