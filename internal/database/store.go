// internal/database/store.go
package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is wrapped by every lookup that misses.
var ErrNotFound = errors.New("not found")

// Store defines the interface for database operations
type Store interface {
	// Host operations
	ListHosts(ctx context.Context) ([]Host, error)
	GetHost(ctx context.Context, id int64) (*Host, error)
	CreateHost(ctx context.Context, host *Host) error
	UpdateHost(ctx context.Context, host *Host) error
	DeleteHost(ctx context.Context, id int64) ([]int64, error)
	UpdateHostCache(ctx context.Context, hostID int64, status HostStatus, latencyMs *float64, checkedAt time.Time) error

	// Rule operations
	ListRules(ctx context.Context) ([]AutomationRule, error)
	ListEnabledRules(ctx context.Context) ([]AutomationRule, error)
	GetRule(ctx context.Context, id int64) (*AutomationRule, error)
	CreateRule(ctx context.Context, rule *AutomationRule) error
	UpdateRule(ctx context.Context, rule *AutomationRule) error
	DeleteRule(ctx context.Context, id int64) error

	// History operations
	SaveActionRun(ctx context.Context, run *ActionRun) error
	ListActionRuns(ctx context.Context, filters RunFilters) ([]ActionRun, error)
	AppendHealthRecord(ctx context.Context, rec *HealthRecord) error
	ListHealthRecords(ctx context.Context, filters HealthFilters) ([]HealthRecord, error)
	DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Settings
	GetSeverityThresholds(ctx context.Context) (SeverityThresholds, error)
	SetSeverityThresholds(ctx context.Context, t SeverityThresholds) error
	GetDailySummarySchedule(ctx context.Context) (DailySummarySchedule, error)
	SetDailySummarySchedule(ctx context.Context, s DailySummarySchedule) error

	GetDatabaseStats(ctx context.Context) (*DatabaseStats, error)

	// Close the database connection
	Close() error
}
