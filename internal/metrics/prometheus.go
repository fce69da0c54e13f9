// internal/metrics/prometheus.go
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"monite/internal/database"
)

// Prometheus metrics
var (
	HealthCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monite_health_check_duration_seconds",
			Help:    "Time spent validating host reachability",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"router_type", "status"},
	)

	HealthCheckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monite_health_checks_total",
			Help: "Total number of health checks executed",
		},
		[]string{"router_type", "status"},
	)

	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monite_action_duration_seconds",
			Help:    "Time spent executing device actions",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"action", "status"},
	)

	ActionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monite_action_runs_total",
			Help: "Total number of recorded action runs",
		},
		[]string{"action", "status"},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monite_alerts_total",
			Help: "Alert dispatch attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monite_job_runs_total",
			Help: "Scheduled job executions by job class and outcome",
		},
		[]string{"job", "outcome"},
	)

	HostsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monite_hosts_total",
			Help: "Number of enabled hosts",
		},
	)

	OfflineHosts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monite_hosts_offline",
			Help: "Number of enabled hosts whose last check was offline",
		},
	)

	EnabledRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monite_rules_enabled",
			Help: "Number of enabled automation rules",
		},
	)

	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monite_database_operations_total",
			Help: "Total database operations performed",
		},
		[]string{"operation", "status"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monite_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

type Collector struct {
	store database.Store
}

func NewCollector(store database.Store) *Collector {
	return &Collector{store: store}
}

func (c *Collector) RecordHealthCheck(routerType string, status database.HostStatus, duration time.Duration) {
	HealthCheckDuration.WithLabelValues(routerType, string(status)).Observe(duration.Seconds())
	HealthCheckTotal.WithLabelValues(routerType, string(status)).Inc()
}

func (c *Collector) RecordActionRun(action string, status database.RunStatus, duration time.Duration) {
	ActionDuration.WithLabelValues(action, string(status)).Observe(duration.Seconds())
	ActionRunsTotal.WithLabelValues(action, string(status)).Inc()
}

func (c *Collector) RecordAlert(kind, outcome string) {
	AlertsTotal.WithLabelValues(alertKindLabel(kind), outcome).Inc()
}

func (c *Collector) RecordJobRun(job, outcome string) {
	JobRunsTotal.WithLabelValues(job, outcome).Inc()
}

func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	hosts, err := c.store.ListHosts(ctx)
	if err != nil {
		DatabaseOperations.WithLabelValues("list_hosts", "error").Inc()
		return err
	}
	DatabaseOperations.WithLabelValues("list_hosts", "success").Inc()

	enabledHosts, offline := 0, 0
	for _, host := range hosts {
		if !host.Enabled {
			continue
		}
		enabledHosts++
		if host.LastStatus == database.StatusOffline {
			offline++
		}
	}
	HostsTotal.Set(float64(enabledHosts))
	OfflineHosts.Set(float64(offline))

	rules, err := c.store.ListEnabledRules(ctx)
	if err != nil {
		DatabaseOperations.WithLabelValues("list_rules", "error").Inc()
		return err
	}
	DatabaseOperations.WithLabelValues("list_rules", "success").Inc()
	EnabledRules.Set(float64(len(rules)))

	return nil
}

func (c *Collector) RecordWebSocketConnection(delta int) {
	WebSocketConnections.Add(float64(delta))
}

// alertKindLabel folds per-rule kinds so label cardinality stays bounded.
func alertKindLabel(kind string) string {
	if len(kind) > 5 && kind[:5] == "rule_" {
		if len(kind) > 8 && kind[len(kind)-8:] == "_success" {
			return "rule_success"
		}
		return "rule_fail"
	}
	return kind
}
