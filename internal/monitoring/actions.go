// internal/monitoring/actions.go - device action execution pipeline
package monitoring

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"monite/internal/config"
	"monite/internal/database"
	"monite/internal/drivers"
	"monite/internal/metrics"
	"monite/internal/notifications"
)

// RunRequest describes one attempt of a device action.
type RunRequest struct {
	Host        *database.Host
	RuleID      int64
	ActionKey   string
	Params      map[string]interface{}
	Attempt     int
	MaxAttempts int
	Notify      bool
}

// Pipeline executes device actions, records them and raises the alerts
// that follow from their results.
type Pipeline struct {
	store      database.Store
	registry   *drivers.Registry
	dispatcher *notifications.Dispatcher
	metrics    *metrics.Collector
	events     EventPublisher
	timeout    time.Duration
	rawLimit   int
	now        func() time.Time
}

func NewPipeline(store database.Store, registry *drivers.Registry, dispatcher *notifications.Dispatcher,
	collector *metrics.Collector, events EventPublisher, cfg config.MonitoringConfig) *Pipeline {
	if events == nil {
		events = noopPublisher{}
	}
	return &Pipeline{
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		metrics:    collector,
		events:     events,
		timeout:    cfg.ActionTimeout,
		rawLimit:   cfg.RawOutputLimit,
		now:        time.Now,
	}
}

// Run executes one attempt and records it. The only error returned is a
// PersistenceError; driver failures are reported through the run's status.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (*database.ActionRun, error) {
	run := p.Execute(ctx, req)
	if err := p.Record(ctx, run, req.Host, req.Notify); err != nil {
		return run, err
	}
	return run, nil
}

// Execute performs the driver call without persisting anything. Callers
// that retry use it for every attempt and Record only the last one.
func (p *Pipeline) Execute(ctx context.Context, req RunRequest) *database.ActionRun {
	attempt, maxAttempts := req.Attempt, req.MaxAttempts
	if attempt < 1 {
		attempt = 1
	}
	if maxAttempts < attempt {
		maxAttempts = attempt
	}

	run := &database.ActionRun{
		HostID:      req.Host.ID,
		RuleID:      req.RuleID,
		ActionKey:   drivers.NormalizeAction(req.ActionKey),
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		StartedAt:   p.now(),
	}

	result, err := p.execute(ctx, req.Host, run.ActionKey, req.Params)

	run.FinishedAt = p.now()
	run.DurationMs = run.FinishedAt.Sub(run.StartedAt).Milliseconds()

	logger := logrus.WithFields(logrus.Fields{
		"host_id":  req.Host.ID,
		"rule_id":  req.RuleID,
		"action":   run.ActionKey,
		"attempt":  attempt,
		"duration": run.DurationMs,
	})

	if err != nil {
		run.Status = database.RunFail
		run.Error = err.Error()
		logger.WithError(err).WithField("error_kind", drivers.KindOf(err)).Warn("Action failed")
		return run
	}

	run.Status = database.RunSuccess
	run.Parsed = result.Parsed
	run.Raw, run.Truncated = truncate(result.Raw, p.rawLimit)
	logger.Debug("Action succeeded")
	return run
}

func (p *Pipeline) execute(ctx context.Context, host *database.Host, actionKey string, params map[string]interface{}) (*drivers.Result, error) {
	driver, err := p.registry.ForHost(host)
	if err != nil {
		return nil, err
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	return driver.ExecuteAction(ctx, host, actionKey, params)
}

// Record persists run and, when notify is set, dispatches the alerts its
// outcome calls for. Nothing is dispatched if the run could not be stored.
func (p *Pipeline) Record(ctx context.Context, run *database.ActionRun, host *database.Host, notify bool) error {
	if err := p.store.SaveActionRun(ctx, run); err != nil {
		return &PersistenceError{Op: "save action run", Err: err}
	}

	p.metrics.RecordActionRun(run.ActionKey, run.Status, time.Duration(run.DurationMs)*time.Millisecond)
	p.events.Publish(EventActionRun, run)

	if notify {
		p.alert(ctx, run, host)
	}
	return nil
}

func (p *Pipeline) alert(ctx context.Context, run *database.ActionRun, host *database.Host) {
	event := notifications.ActionEvent{
		Host:        host,
		RuleID:      run.RuleID,
		ActionKey:   run.ActionKey,
		Attempt:     run.Attempt,
		MaxAttempts: run.MaxAttempts,
		Error:       run.Error,
		At:          run.FinishedAt,
	}

	if run.Status == database.RunFail {
		if run.Attempt >= run.MaxAttempts {
			p.dispatcher.Send(ctx, host.ID, notifications.KindNoResponse, notifications.NoResponseMessage(event))
		}
		return
	}

	telemetry := ExtractTelemetry(run.Parsed)
	event.DataRemainingMb = telemetry.DataRemainingMb
	event.DaysValid = telemetry.DaysValid
	event.AccountBalance = telemetry.AccountBalance

	if telemetry.HasSeverityFields() {
		thresholds, err := p.store.GetSeverityThresholds(ctx)
		if err != nil {
			logrus.WithError(err).Warn("Failed to load severity thresholds, using defaults")
			thresholds = database.DefaultSeverityThresholds()
		}
		if tier, ok := Classify(telemetry.DataRemainingMb, telemetry.DaysValid, thresholds); ok {
			event.Tier = string(tier)
			p.dispatcher.Send(ctx, host.ID, notifications.SeverityKind(event.Tier), notifications.SeverityMessage(event))
		}
	}

	if telemetry.InsufficientBalance {
		p.dispatcher.Send(ctx, host.ID, notifications.KindInsufficientBalance, notifications.InsufficientBalanceMessage(event))
	}
}

// truncate caps raw at limit bytes without splitting a UTF-8 sequence.
func truncate(raw string, limit int) (string, bool) {
	if limit <= 0 || len(raw) <= limit {
		return raw, false
	}
	for limit > 0 && !utf8.RuneStart(raw[limit]) {
		limit--
	}
	return raw[:limit], true
}
