// internal/monitoring/engine.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"monite/internal/config"
	"monite/internal/database"
	"monite/internal/drivers"
	"monite/internal/metrics"
	"monite/internal/notifications"
)

const systemMetricsInterval = 30 * time.Second

// ErrHostDisabled is returned when an operator targets a disabled host.
var ErrHostDisabled = errors.New("host is disabled")

type Engine struct {
	config      *config.Config
	store       database.Store
	registry    *drivers.Registry
	metrics     *metrics.Collector
	notifier    notifications.Notifier
	dispatcher  *notifications.Dispatcher
	pipeline    *Pipeline
	monitor     *HealthMonitor
	retention   *Retention
	scheduler   *Scheduler
	ruleResults atomic.Bool

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
}

func NewEngine(cfg *config.Config, store database.Store, registry *drivers.Registry, notifier notifications.Notifier, events EventPublisher) (*Engine, error) {
	collector := metrics.NewCollector(store)
	dispatcher := notifications.NewDispatcher(notifier, cfg.Notifications.Cooldown,
		notifications.WithObserver(func(kind string, outcome notifications.Outcome) {
			collector.RecordAlert(kind, string(outcome))
		}))

	engine := &Engine{
		config:     cfg,
		store:      store,
		registry:   registry,
		metrics:    collector,
		notifier:   notifier,
		dispatcher: dispatcher,
	}
	engine.ruleResults.Store(cfg.Notifications.RuleResults)

	engine.pipeline = NewPipeline(store, registry, engine.dispatcher, collector, events, cfg.Monitoring)
	engine.monitor = NewHealthMonitor(store, registry, engine.dispatcher, collector, events, cfg.Monitoring)
	engine.retention = NewRetention(store, engine.dispatcher, cfg.Database.HistoryRetention)

	scheduler, err := NewScheduler(engine)
	if err != nil {
		return nil, err
	}
	engine.scheduler = scheduler

	logrus.WithField("drivers", registry.Types()).Info("Monitoring engine initialized")
	return engine, nil
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	logrus.Info("Starting monitoring engine")

	if err := e.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go e.runSystemMetrics(ctx)
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	logrus.Info("Stopping monitoring engine")
	e.scheduler.Stop()
	e.cancel()
	e.running = false
}

// ApplyConfig picks up the settings that can change without a restart.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	e.dispatcher.SetCooldown(cfg.Notifications.Cooldown)
	e.ruleResults.Store(cfg.Notifications.RuleResults)

	logrus.WithFields(logrus.Fields{
		"cooldown":     cfg.Notifications.Cooldown,
		"rule_results": cfg.Notifications.RuleResults,
	}).Info("Applied configuration changes")
}

func (e *Engine) AlertCooldown() time.Duration {
	return e.dispatcher.Cooldown()
}

func (e *Engine) RuleResultsEnabled() bool {
	return e.ruleResults.Load()
}

func (e *Engine) Scheduler() *Scheduler {
	return e.scheduler
}

func (e *Engine) Registry() *drivers.Registry {
	return e.registry
}

func (e *Engine) Metrics() *metrics.Collector {
	return e.metrics
}

// RunAction executes an operator-triggered action once, without retry.
func (e *Engine) RunAction(ctx context.Context, hostID int64, actionKey string, params map[string]interface{}) (*database.ActionRun, error) {
	host, err := e.store.GetHost(ctx, hostID)
	if err != nil {
		return nil, err
	}
	if !host.Enabled {
		return nil, ErrHostDisabled
	}

	return e.pipeline.Run(ctx, RunRequest{
		Host:        host,
		ActionKey:   actionKey,
		Params:      params,
		Attempt:     1,
		MaxAttempts: 1,
		Notify:      host.NotifyEnabled,
	})
}

// CheckHost runs an immediate health check outside the schedule.
func (e *Engine) CheckHost(ctx context.Context, hostID int64) (*database.HealthRecord, error) {
	host, err := e.store.GetHost(ctx, hostID)
	if err != nil {
		return nil, err
	}
	return e.monitor.CheckHost(ctx, host)
}

// ForgetHost drops in-memory state kept for a deleted host and its rules.
func (e *Engine) ForgetHost(hostID int64, ruleIDs []int64) {
	for _, id := range ruleIDs {
		e.scheduler.RemoveRuleJob(id)
	}
	e.monitor.Forget(hostID)
}

// SendTestNotification posts straight to the notifier, bypassing cooldowns.
func (e *Engine) SendTestNotification(ctx context.Context) error {
	return e.notifier.Post(ctx, fmt.Sprintf("🔔 MoniTe test notification\nTime: %s", time.Now().UTC().Format("2006-01-02 15:04 MST")))
}

func (e *Engine) PurgeHistory(ctx context.Context) (int, error) {
	return e.retention.Purge(ctx)
}

func (e *Engine) runSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		if err := e.metrics.UpdateSystemMetrics(ctx); err != nil {
			logrus.WithError(err).Warn("Failed to update system metrics")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
