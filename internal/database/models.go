// internal/database/models.go
package database

import (
	"time"
)

type HostStatus string

const (
	StatusUnknown HostStatus = "unknown"
	StatusOnline  HostStatus = "online"
	StatusOffline HostStatus = "offline"
)

type Host struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	IP            string     `json:"ip"`
	Port          int        `json:"port"`
	Username      string     `json:"username"`
	Password      string     `json:"password,omitempty"`
	RouterType    string     `json:"router_type"`
	Enabled       bool       `json:"enabled"`
	NotifyEnabled bool       `json:"notify_enabled"`
	LastStatus    HostStatus `json:"last_status"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	LastLatencyMs *float64   `json:"last_latency_ms,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type AutomationRule struct {
	ID                int64                  `json:"id"`
	HostID            int64                  `json:"host_id"`
	ActionKey         string                 `json:"action_key"`
	Schedule          string                 `json:"schedule"`
	Enabled           bool                   `json:"enabled"`
	RetryEnabled      bool                   `json:"retry_enabled"`
	MaxAttempts       int                    `json:"max_attempts"`
	RetryDelayMinutes int                    `json:"retry_delay_minutes"`
	TelegramEnabled   bool                   `json:"telegram_enabled"`
	Params            map[string]interface{} `json:"params,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Attempts is the number of tries one scheduled invocation gets.
func (r *AutomationRule) Attempts() int {
	if !r.RetryEnabled || r.MaxAttempts < 1 {
		return 1
	}
	return r.MaxAttempts
}

// RetryDelay returns the pause between failed attempts, falling back to def.
func (r *AutomationRule) RetryDelay(def time.Duration) time.Duration {
	if r.RetryDelayMinutes <= 0 {
		return def
	}
	return time.Duration(r.RetryDelayMinutes) * time.Minute
}

type RunStatus string

const (
	RunSuccess RunStatus = "SUCCESS"
	RunFail    RunStatus = "FAIL"
)

// ActionRun is written once per invocation and never updated.
type ActionRun struct {
	ID          string                 `json:"id"`
	HostID      int64                  `json:"host_id"`
	RuleID      int64                  `json:"rule_id,omitempty"`
	ActionKey   string                 `json:"action_key"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	DurationMs  int64                  `json:"duration_ms"`
	Status      RunStatus              `json:"status"`
	Parsed      map[string]interface{} `json:"parsed,omitempty"`
	Raw         string                 `json:"raw,omitempty"`
	Truncated   bool                   `json:"truncated,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Attempt     int                    `json:"attempt"`
	MaxAttempts int                    `json:"max_attempts"`
}

type HealthRecord struct {
	ID        string     `json:"id"`
	HostID    int64      `json:"host_id"`
	Status    HostStatus `json:"status"`
	LatencyMs *float64   `json:"latency_ms,omitempty"`
	Error     string     `json:"error,omitempty"`
	CheckedAt time.Time  `json:"checked_at"`
}

// Band is one severity tier. A band with both floors at zero is disabled.
type Band struct {
	MinDaysValid       int     `json:"min_days_valid" validate:"gte=0"`
	MinDataRemainingMb float64 `json:"min_data_remaining_mb" validate:"gte=0"`
}

type SeverityThresholds struct {
	Critical Band `json:"critical"`
	High     Band `json:"high"`
	Medium   Band `json:"medium"`
}

func DefaultSeverityThresholds() SeverityThresholds {
	return SeverityThresholds{
		Critical: Band{MinDaysValid: 1, MinDataRemainingMb: 300},
		High:     Band{MinDaysValid: 3, MinDataRemainingMb: 1024},
		Medium:   Band{MinDaysValid: 7, MinDataRemainingMb: 2048},
	}
}

type DailySummarySchedule struct {
	Enabled  bool   `json:"enabled"`
	Hour     int    `json:"hour" validate:"gte=0,lte=23"`
	Minute   int    `json:"minute" validate:"gte=0,lte=59"`
	Timezone string `json:"timezone" validate:"required"`
}

func DefaultDailySummarySchedule() DailySummarySchedule {
	return DailySummarySchedule{Enabled: true, Hour: 9, Minute: 0, Timezone: "UTC"}
}

type RunFilters struct {
	HostID int64
	RuleID int64
	Status RunStatus
	Since  time.Time
	Limit  int
}

type HealthFilters struct {
	HostID int64
	Status HostStatus
	Since  time.Time
	Limit  int
}

// DatabaseStats provides information about database size and history range
type DatabaseStats struct {
	TotalHosts      int       `json:"total_hosts"`
	TotalRules      int       `json:"total_rules"`
	TotalActionRuns int       `json:"total_action_runs"`
	TotalHealthRows int       `json:"total_health_records"`
	DatabaseSize    int64     `json:"database_size_bytes"`
	OldestEntry     time.Time `json:"oldest_entry"`
	NewestEntry     time.Time `json:"newest_entry"`
}
