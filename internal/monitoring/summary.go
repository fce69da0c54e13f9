// internal/monitoring/summary.go - daily fleet digest
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"monite/internal/database"
	"monite/internal/notifications"
)

const (
	summaryWindow   = 24 * time.Hour
	summaryTopHosts = 5
	// runs inspected per host when looking for the latest telemetry
	summaryRunDepth = 20
)

// BuildSummary derives the digest from stored history alone.
func BuildSummary(ctx context.Context, store database.Store, now time.Time) (*notifications.SummaryReport, error) {
	since := now.Add(-summaryWindow)

	hosts, err := store.ListHosts(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list hosts", Err: err}
	}

	offlineChecks, err := store.ListHealthRecords(ctx, database.HealthFilters{
		Status: database.StatusOffline,
		Since:  since,
	})
	if err != nil {
		return nil, &PersistenceError{Op: "list health records", Err: err}
	}

	failedRuns, err := store.ListActionRuns(ctx, database.RunFilters{
		Status: database.RunFail,
		Since:  since,
	})
	if err != nil {
		return nil, &PersistenceError{Op: "list action runs", Err: err}
	}

	thresholds, err := store.GetSeverityThresholds(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "get severity thresholds", Err: err}
	}

	report := &notifications.SummaryReport{
		GeneratedAt:      now,
		TotalHosts:       len(hosts),
		OfflineEvents24h: len(offlineChecks),
		FailedRuns24h:    len(failedRuns),
	}

	names := make(map[int64]string, len(hosts))
	for _, host := range hosts {
		names[host.ID] = host.Name
		if host.LastStatus == database.StatusOffline {
			report.OfflineNow = append(report.OfflineNow, host.Name)
		}
	}

	perHost := make(map[int64]int)
	for _, rec := range offlineChecks {
		perHost[rec.HostID]++
	}
	for id, count := range perHost {
		name, ok := names[id]
		if !ok {
			continue
		}
		report.Unstable = append(report.Unstable, notifications.HostCount{Name: name, Count: count})
	}
	sort.Slice(report.Unstable, func(i, j int) bool {
		if report.Unstable[i].Count != report.Unstable[j].Count {
			return report.Unstable[i].Count > report.Unstable[j].Count
		}
		return report.Unstable[i].Name < report.Unstable[j].Name
	})
	if len(report.Unstable) > summaryTopHosts {
		report.Unstable = report.Unstable[:summaryTopHosts]
	}

	for _, host := range hosts {
		runs, err := store.ListActionRuns(ctx, database.RunFilters{
			HostID: host.ID,
			Status: database.RunSuccess,
			Limit:  summaryRunDepth,
		})
		if err != nil {
			return nil, &PersistenceError{Op: "list action runs", Err: err}
		}

		for _, run := range runs {
			telemetry := ExtractTelemetry(run.Parsed)
			if !telemetry.HasSeverityFields() {
				continue
			}
			if tier, ok := Classify(telemetry.DataRemainingMb, telemetry.DaysValid, thresholds); ok {
				report.Severity = append(report.Severity, notifications.HostSeverity{
					Name:            host.Name,
					Tier:            string(tier),
					DataRemainingMb: telemetry.DataRemainingMb,
					DaysValid:       telemetry.DaysValid,
				})
			}
			break
		}
	}

	return report, nil
}

// SendDailySummary builds the digest and dispatches it fleet-wide.
func SendDailySummary(ctx context.Context, store database.Store, dispatcher *notifications.Dispatcher, now time.Time) error {
	report, err := BuildSummary(ctx, store, now)
	if err != nil {
		return err
	}

	outcome := dispatcher.Send(ctx, notifications.ScopeFleet, notifications.KindDailySummary, notifications.SummaryMessage(*report))
	logrus.WithFields(logrus.Fields{
		"hosts":   report.TotalHosts,
		"offline": len(report.OfflineNow),
		"outcome": outcome,
	}).Info("Daily summary processed")
	return nil
}
