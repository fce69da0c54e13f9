// internal/monitoring/scheduler.go - cron-driven health, automation and digest jobs
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"monite/internal/database"
	"monite/internal/notifications"
)

// Fixed job ids. Rule jobs use RuleJobID.
const (
	JobHealthCheck  = "health_check"
	JobDailySummary = "daily_summary"
	JobHistoryPurge = "history_purge"

	jobClassRule = "rule"
)

func RuleJobID(ruleID int64) string {
	return fmt.Sprintf("rule-%d", ruleID)
}

// JobInfo describes a registered job.
type JobInfo struct {
	ID      string    `json:"id"`
	Spec    string    `json:"spec"`
	NextRun time.Time `json:"next_run"`
	PrevRun time.Time `json:"prev_run,omitempty"`
}

// scheduledJob adapts a job function to cron. A removed job never runs
// again, even if its trigger already fired.
type scheduledJob struct {
	s        *Scheduler
	id       string
	class    string
	spec     string
	schedule cron.Schedule
	grace    time.Duration
	run      func(ctx context.Context) error
	entryID  cron.EntryID
	removed  atomic.Bool
	running  atomic.Bool

	mu       sync.Mutex
	expected time.Time
}

func (j *scheduledJob) Run() {
	if j.removed.Load() {
		return
	}

	logger := logrus.WithField("job", j.id)
	now := j.s.now().In(j.s.loc)

	j.mu.Lock()
	late := now.Sub(j.expected)
	j.expected = j.schedule.Next(now)
	j.mu.Unlock()

	if !j.running.CompareAndSwap(false, true) {
		logger.Debug("Previous run still in progress, skipping")
		j.s.engine.metrics.RecordJobRun(j.class, "skipped")
		return
	}
	defer j.running.Store(false)

	if j.grace > 0 && late > j.grace {
		logger.WithField("late", late).Warn("Job missed its grace window, skipping")
		j.s.engine.metrics.RecordJobRun(j.class, "missed")
		return
	}

	err := j.run(j.s.ctx)
	switch {
	case err == nil:
		j.s.engine.metrics.RecordJobRun(j.class, "success")
	case IsPersistenceError(err):
		logger.WithError(err).WithField("operational", true).Error("Job could not record its result")
		j.s.engine.metrics.RecordJobRun(j.class, "persistence_error")
	default:
		logger.WithError(err).Error("Job failed")
		j.s.engine.metrics.RecordJobRun(j.class, "error")
	}
}

// Scheduler owns every timed job. Each job id runs at most one instance
// at a time; distinct jobs run concurrently.
type Scheduler struct {
	engine *Engine
	cron   *cron.Cron
	parser cron.Parser
	loc    *time.Location
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	running bool
}

func NewScheduler(engine *Engine) (*Scheduler, error) {
	loc, err := time.LoadLocation(engine.config.Monitoring.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduler timezone: %w", err)
	}

	logger := cron.PrintfLogger(logrus.WithField("component", "cron"))
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		engine: engine,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    loc,
		now:    time.Now,
		sleep:  sleepContext,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*scheduledJob),
	}, nil
}

// ValidateSchedule checks a rule's cron expression without registering it.
func (s *Scheduler) ValidateSchedule(spec string) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return &ScheduleSpecError{Spec: spec, Err: err}
	}
	return nil
}

// Start registers the fixed jobs and every enabled rule, then starts
// firing triggers. Rules with a bad schedule are logged and skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	cfg := s.engine.config
	logrus.WithField("timezone", s.loc.String()).Info("Starting scheduler")

	rules, err := s.engine.store.ListEnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load enabled rules: %w", err)
	}
	for _, rule := range rules {
		rule := rule
		if err := s.registerRule(&rule); err != nil {
			logrus.WithError(err).WithField("rule_id", rule.ID).Error("Skipping rule with invalid schedule")
		}
	}

	healthSpec := fmt.Sprintf("@every %s", cfg.Monitoring.HealthInterval)
	if err := s.register(JobHealthCheck, JobHealthCheck, healthSpec, cfg.Monitoring.HealthGrace, s.runHealthCheck); err != nil {
		return err
	}

	if cfg.Database.PurgeSchedule != "" {
		if err := s.register(JobHistoryPurge, JobHistoryPurge, cfg.Database.PurgeSchedule, 0, s.runPurge); err != nil {
			logrus.WithError(err).Error("History purge job not scheduled")
		}
	}

	if err := s.RescheduleDailySummary(ctx); err != nil {
		logrus.WithError(err).Error("Daily summary job not scheduled")
	}

	s.cron.Start()
	logrus.WithField("jobs", len(s.Jobs())).Info("Scheduler started")
	return nil
}

// Stop removes every job, cancels in-flight retry waits and blocks until
// running jobs return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for id := range s.jobs {
		s.removeLocked(id)
	}
	s.mu.Unlock()

	logrus.Info("Stopping scheduler")
	s.cancel()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) register(id, class, spec string, grace time.Duration, run func(ctx context.Context) error) error {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return &ScheduleSpecError{JobID: id, Spec: spec, Err: err}
	}

	job := &scheduledJob{
		s:        s,
		id:       id,
		class:    class,
		spec:     spec,
		schedule: schedule,
		grace:    grace,
		run:      run,
		expected: schedule.Next(s.now().In(s.loc)),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(id)
	job.entryID = s.cron.Schedule(schedule, job)
	s.jobs[id] = job

	logrus.WithFields(logrus.Fields{
		"job":  id,
		"spec": spec,
	}).Debug("Job registered")
	return nil
}

func (s *Scheduler) removeLocked(id string) bool {
	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	job.removed.Store(true)
	s.cron.Remove(job.entryID)
	delete(s.jobs, id)
	logrus.WithField("job", id).Debug("Job removed")
	return true
}

func (s *Scheduler) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Scheduler) registerRule(rule *database.AutomationRule) error {
	ruleID := rule.ID
	return s.register(RuleJobID(ruleID), jobClassRule, rule.Schedule, 0, func(ctx context.Context) error {
		return s.runRule(ctx, ruleID)
	})
}

// AddOrUpdateRuleJob re-reads the rule and replaces its job. A disabled
// or missing rule ends up with no job.
func (s *Scheduler) AddOrUpdateRuleJob(ctx context.Context, ruleID int64) error {
	rule, err := s.engine.store.GetRule(ctx, ruleID)
	if errors.Is(err, database.ErrNotFound) {
		s.remove(RuleJobID(ruleID))
		return nil
	}
	if err != nil {
		return &PersistenceError{Op: "get rule", Err: err}
	}

	if !rule.Enabled {
		s.remove(RuleJobID(ruleID))
		return nil
	}
	if err := s.registerRule(rule); err != nil {
		s.remove(RuleJobID(ruleID))
		return err
	}
	return nil
}

func (s *Scheduler) RemoveRuleJob(ruleID int64) bool {
	return s.remove(RuleJobID(ruleID))
}

// RescheduleDailySummary tears down the digest job and registers it again
// from the stored schedule.
func (s *Scheduler) RescheduleDailySummary(ctx context.Context) error {
	schedule, err := s.engine.store.GetDailySummarySchedule(ctx)
	if err != nil {
		return &PersistenceError{Op: "get daily summary schedule", Err: err}
	}

	s.remove(JobDailySummary)
	if !schedule.Enabled {
		logrus.Info("Daily summary disabled")
		return nil
	}

	spec := fmt.Sprintf("CRON_TZ=%s %d %d * * *", schedule.Timezone, schedule.Minute, schedule.Hour)
	return s.register(JobDailySummary, JobDailySummary, spec, s.engine.config.Monitoring.SummaryGrace, s.runDailySummary)
}

// Jobs lists registered jobs ordered by id.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]JobInfo, 0, len(s.jobs))
	for id, job := range s.jobs {
		entry := s.cron.Entry(job.entryID)
		jobs = append(jobs, JobInfo{
			ID:      id,
			Spec:    job.spec,
			NextRun: entry.Next,
			PrevRun: entry.Prev,
		})
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	return jobs
}

func (s *Scheduler) runHealthCheck(ctx context.Context) error {
	_, err := s.engine.monitor.CheckAllHosts(ctx)
	return err
}

func (s *Scheduler) runDailySummary(ctx context.Context) error {
	return SendDailySummary(ctx, s.engine.store, s.engine.dispatcher, s.now().In(s.loc))
}

func (s *Scheduler) runPurge(ctx context.Context) error {
	_, err := s.engine.retention.Purge(ctx)
	return err
}

// runRule executes one scheduled invocation of a rule, retrying failed
// attempts. Only the final attempt is recorded.
func (s *Scheduler) runRule(ctx context.Context, ruleID int64) error {
	store := s.engine.store
	logger := logrus.WithField("rule_id", ruleID)

	rule, err := store.GetRule(ctx, ruleID)
	if errors.Is(err, database.ErrNotFound) {
		logger.Debug("Rule no longer exists, skipping")
		return nil
	}
	if err != nil {
		return &PersistenceError{Op: "get rule", Err: err}
	}
	if !rule.Enabled {
		logger.Debug("Rule disabled, skipping")
		return nil
	}

	host, err := store.GetHost(ctx, rule.HostID)
	if errors.Is(err, database.ErrNotFound) {
		logger.WithField("host_id", rule.HostID).Warn("Rule host no longer exists, skipping")
		return nil
	}
	if err != nil {
		return &PersistenceError{Op: "get host", Err: err}
	}
	if !host.Enabled {
		logger.WithField("host_id", host.ID).Debug("Host disabled, skipping rule")
		return nil
	}

	maxAttempts := rule.Attempts()
	delay := rule.RetryDelay(s.engine.config.Monitoring.DefaultRetryDelay)

	var run *database.ActionRun
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		run = s.engine.pipeline.Execute(ctx, RunRequest{
			Host:        host,
			RuleID:      rule.ID,
			ActionKey:   rule.ActionKey,
			Params:      rule.Params,
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
			Notify:      host.NotifyEnabled,
		})
		if run.Status == database.RunSuccess || attempt == maxAttempts {
			break
		}

		logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Debug("Attempt failed, retrying after delay")

		if err := s.sleep(ctx, delay); err != nil {
			logger.Info("Retry sequence interrupted")
			break
		}
	}

	if err := s.engine.pipeline.Record(ctx, run, host, host.NotifyEnabled); err != nil {
		return err
	}

	if s.engine.RuleResultsEnabled() && rule.TelegramEnabled {
		success := run.Status == database.RunSuccess
		event := notifications.ActionEvent{
			Host:        host,
			RuleID:      rule.ID,
			ActionKey:   run.ActionKey,
			Attempt:     run.Attempt,
			MaxAttempts: run.MaxAttempts,
			Error:       run.Error,
			At:          run.FinishedAt,
		}
		s.engine.dispatcher.Send(ctx, host.ID, notifications.RuleResultKind(rule.ID, success), notifications.RuleResultMessage(event))
	}

	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
