package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHostLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	host := &Host{Name: "edge-1", IP: "10.0.0.1", RouterType: "MIKROTIK_ROUTEROS_REST", Enabled: true}
	require.NoError(t, store.CreateHost(ctx, host))
	assert.Equal(t, int64(1), host.ID)
	assert.Equal(t, StatusUnknown, host.LastStatus)

	second := &Host{Name: "edge-2"}
	require.NoError(t, store.CreateHost(ctx, second))
	assert.Equal(t, int64(2), second.ID)

	latency := 12.5
	checked := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.UpdateHostCache(ctx, host.ID, StatusOnline, &latency, checked))

	// Operator edits keep the cached health projection.
	host.Name = "edge-1-renamed"
	host.LastStatus = StatusOffline
	require.NoError(t, store.UpdateHost(ctx, host))

	got, err := store.GetHost(ctx, host.ID)
	require.NoError(t, err)
	assert.Equal(t, "edge-1-renamed", got.Name)
	assert.Equal(t, StatusOnline, got.LastStatus)
	require.NotNil(t, got.LastLatencyMs)
	assert.Equal(t, 12.5, *got.LastLatencyMs)
	assert.True(t, checked.Equal(*got.LastCheckedAt))

	hosts, err := store.ListHosts(ctx)
	require.NoError(t, err)
	assert.Len(t, hosts, 2)

	_, err = store.GetHost(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.UpdateHostCache(ctx, 99, StatusOnline, nil, checked), ErrNotFound)
}

func TestDeleteHostCascadesRules(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := &Host{Name: "a"}
	b := &Host{Name: "b"}
	require.NoError(t, store.CreateHost(ctx, a))
	require.NoError(t, store.CreateHost(ctx, b))

	r1 := &AutomationRule{HostID: a.ID, ActionKey: "QUERY_BALANCE", Schedule: "0 * * * *", Enabled: true}
	r2 := &AutomationRule{HostID: a.ID, ActionKey: "TOPUP_BALANCE", Schedule: "0 6 * * *"}
	r3 := &AutomationRule{HostID: b.ID, ActionKey: "QUERY_BALANCE", Schedule: "0 * * * *", Enabled: true}
	for _, r := range []*AutomationRule{r1, r2, r3} {
		require.NoError(t, store.CreateRule(ctx, r))
	}

	removed, err := store.DeleteHost(ctx, a.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{r1.ID, r2.ID}, removed)

	rules, err := store.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, r3.ID, rules[0].ID)

	_, err = store.DeleteHost(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRuleLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	host := &Host{Name: "edge"}
	require.NoError(t, store.CreateHost(ctx, host))

	assert.ErrorIs(t, store.CreateRule(ctx, &AutomationRule{HostID: 42}), ErrNotFound)

	rule := &AutomationRule{HostID: host.ID, ActionKey: "QUERY_BALANCE", Schedule: "*/5 * * * *", Enabled: true}
	require.NoError(t, store.CreateRule(ctx, rule))
	disabled := &AutomationRule{HostID: host.ID, ActionKey: "READ_USSD_LOGS", Schedule: "0 0 * * *"}
	require.NoError(t, store.CreateRule(ctx, disabled))

	enabled, err := store.ListEnabledRules(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, rule.ID, enabled[0].ID)

	rule.Enabled = false
	require.NoError(t, store.UpdateRule(ctx, rule))
	enabled, err = store.ListEnabledRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	require.NoError(t, store.DeleteRule(ctx, rule.ID))
	_, err = store.GetRule(ctx, rule.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteRule(ctx, rule.ID), ErrNotFound)
}

func TestRuleAttempts(t *testing.T) {
	r := AutomationRule{MaxAttempts: 3}
	assert.Equal(t, 1, r.Attempts())

	r.RetryEnabled = true
	assert.Equal(t, 3, r.Attempts())

	r.MaxAttempts = 0
	assert.Equal(t, 1, r.Attempts())

	assert.Equal(t, 10*time.Minute, r.RetryDelay(10*time.Minute))
	r.RetryDelayMinutes = 2
	assert.Equal(t, 2*time.Minute, r.RetryDelay(10*time.Minute))
}

func TestHistoryQueriesAndPurge(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		status := RunSuccess
		if i%2 == 1 {
			status = RunFail
		}
		run := &ActionRun{
			HostID:     int64(i%2 + 1),
			ActionKey:  "QUERY_BALANCE",
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Second),
			Status:     status,
		}
		require.NoError(t, store.SaveActionRun(ctx, run))
		assert.NotEmpty(t, run.ID)

		rec := &HealthRecord{HostID: 1, Status: StatusOffline, CheckedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, store.AppendHealthRecord(ctx, rec))
	}

	t.Run("newest first with limit", func(t *testing.T) {
		runs, err := store.ListActionRuns(ctx, RunFilters{Limit: 2})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.True(t, runs[0].FinishedAt.After(runs[1].FinishedAt))
	})

	t.Run("filters", func(t *testing.T) {
		runs, err := store.ListActionRuns(ctx, RunFilters{Status: RunFail})
		require.NoError(t, err)
		assert.Len(t, runs, 2)

		runs, err = store.ListActionRuns(ctx, RunFilters{HostID: 1, Since: base.Add(2 * time.Hour)})
		require.NoError(t, err)
		assert.Len(t, runs, 2)

		recs, err := store.ListHealthRecords(ctx, HealthFilters{HostID: 1, Since: base.Add(3 * time.Hour)})
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("purge", func(t *testing.T) {
		deleted, err := store.DeleteHistoryBefore(ctx, base.Add(2*time.Hour))
		require.NoError(t, err)
		// Runs at 0h and 1h, health records at 0h and 1h.
		assert.Equal(t, 4, deleted)

		stats, err := store.GetDatabaseStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.TotalActionRuns)
		assert.Equal(t, 3, stats.TotalHealthRows)
		assert.True(t, stats.OldestEntry.Equal(base.Add(2*time.Hour)))
		assert.True(t, stats.NewestEntry.Equal(base.Add(4*time.Hour)))
		assert.Greater(t, stats.DatabaseSize, int64(0))
	})
}

func TestSettingsDefaultsAndOverrides(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	thresholds, err := store.GetSeverityThresholds(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultSeverityThresholds(), thresholds)

	sched, err := store.GetDailySummarySchedule(ctx)
	require.NoError(t, err)
	assert.Equal(t, DailySummarySchedule{Enabled: true, Hour: 9, Timezone: "UTC"}, sched)

	custom := SeverityThresholds{Critical: Band{MinDaysValid: 2}, High: Band{MinDataRemainingMb: 500}}
	require.NoError(t, store.SetSeverityThresholds(ctx, custom))
	thresholds, err = store.GetSeverityThresholds(ctx)
	require.NoError(t, err)
	assert.Equal(t, custom, thresholds)

	next := DailySummarySchedule{Enabled: false, Hour: 21, Minute: 30, Timezone: "America/Havana"}
	require.NoError(t, store.SetDailySummarySchedule(ctx, next))
	sched, err = store.GetDailySummarySchedule(ctx)
	require.NoError(t, err)
	assert.Equal(t, next, sched)
}
