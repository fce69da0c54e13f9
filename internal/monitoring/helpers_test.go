package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"monite/internal/config"
	"monite/internal/database"
	"monite/internal/drivers"
	"monite/internal/metrics"
	"monite/internal/notifications"
)

const fakeType = "FAKE_ROUTER"

var errUnreachable = errors.New("host unreachable")

// fakeDriver replays scripted outcomes; once a script runs out the last
// entry repeats.
type fakeDriver struct {
	mu            sync.Mutex
	results       []fakeOutcome
	validateErrs  []error
	executeCalls  int
	validateCalls int
}

type fakeOutcome struct {
	result *drivers.Result
	err    error
}

func (d *fakeDriver) ExecuteAction(ctx context.Context, host *database.Host, actionKey string, params map[string]interface{}) (*drivers.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executeCalls++
	if len(d.results) == 0 {
		return &drivers.Result{Raw: "ok"}, nil
	}
	out := d.results[0]
	if len(d.results) > 1 {
		d.results = d.results[1:]
	}
	return out.result, out.err
}

func (d *fakeDriver) Validate(ctx context.Context, host *database.Host) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.validateCalls++
	if len(d.validateErrs) == 0 {
		return nil
	}
	err := d.validateErrs[0]
	if len(d.validateErrs) > 1 {
		d.validateErrs = d.validateErrs[1:]
	}
	return err
}

func (d *fakeDriver) SupportedActions() []string {
	return []string{drivers.ActionQueryBalance}
}

func (d *fakeDriver) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.executeCalls
}

func (d *fakeDriver) script(outcomes ...fakeOutcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = outcomes
}

func (d *fakeDriver) scriptValidate(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.validateErrs = errs
}

// nopNotifier accepts every message.
type nopNotifier struct{}

func (nopNotifier) Post(ctx context.Context, text string) error { return nil }

// alertLog records every dispatched kind that reached the notifier.
type alertLog struct {
	mu   sync.Mutex
	sent []string
}

func (a *alertLog) observe(kind string, outcome notifications.Outcome) {
	if outcome != notifications.OutcomeSent {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, kind)
}

func (a *alertLog) count(kind string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, k := range a.sent {
		if k == kind {
			n++
		}
	}
	return n
}

func (a *alertLog) total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

// failingStore injects write failures into a real store.
type failingStore struct {
	database.Store
	saveRunErr      error
	appendHealthErr error
}

func (f *failingStore) SaveActionRun(ctx context.Context, run *database.ActionRun) error {
	if f.saveRunErr != nil {
		return f.saveRunErr
	}
	return f.Store.SaveActionRun(ctx, run)
}

func (f *failingStore) AppendHealthRecord(ctx context.Context, rec *database.HealthRecord) error {
	if f.appendHealthErr != nil {
		return f.appendHealthErr
	}
	return f.Store.AppendHealthRecord(ctx, rec)
}

type testEnv struct {
	cfg      *config.Config
	store    *database.BoltStore
	driver   *fakeDriver
	registry *drivers.Registry
	alerts   *alertLog
	engine   *Engine
	sleeps   []time.Duration
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "monite.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.Notifications.Cooldown = 0

	driver := &fakeDriver{}
	registry := drivers.NewRegistry()
	registry.Register(fakeType, func() drivers.Driver { return driver })

	engine, err := NewEngine(cfg, store, registry, nopNotifier{}, nil)
	require.NoError(t, err)

	env := &testEnv{
		cfg:      cfg,
		store:    store,
		driver:   driver,
		registry: registry,
		alerts:   &alertLog{},
		engine:   engine,
	}
	env.useStore(store)

	engine.scheduler.sleep = func(ctx context.Context, d time.Duration) error {
		env.sleeps = append(env.sleeps, d)
		return nil
	}
	return env
}

// useStore rebuilds the engine's components on top of store, keeping the
// recording dispatcher.
func (env *testEnv) useStore(store database.Store) {
	e := env.engine
	e.store = store
	e.dispatcher = notifications.NewDispatcher(nopNotifier{}, env.cfg.Notifications.Cooldown,
		notifications.WithObserver(env.alerts.observe))
	collector := metrics.NewCollector(store)
	e.metrics = collector
	e.pipeline = NewPipeline(store, env.registry, e.dispatcher, collector, nil, env.cfg.Monitoring)
	e.monitor = NewHealthMonitor(store, env.registry, e.dispatcher, collector, nil, env.cfg.Monitoring)
	e.retention = NewRetention(store, e.dispatcher, env.cfg.Database.HistoryRetention)
}

func (env *testEnv) addHost(t *testing.T, notify bool) *database.Host {
	t.Helper()
	host := &database.Host{
		Name:          "edge",
		IP:            "10.0.0.1",
		RouterType:    fakeType,
		Enabled:       true,
		NotifyEnabled: notify,
	}
	require.NoError(t, env.store.CreateHost(context.Background(), host))
	return host
}

func (env *testEnv) addRule(t *testing.T, hostID int64, mutate func(*database.AutomationRule)) *database.AutomationRule {
	t.Helper()
	rule := &database.AutomationRule{
		HostID:    hostID,
		ActionKey: drivers.ActionQueryBalance,
		Schedule:  "0 8 * * *",
		Enabled:   true,
	}
	if mutate != nil {
		mutate(rule)
	}
	require.NoError(t, env.store.CreateRule(context.Background(), rule))
	return rule
}

func (env *testEnv) runs(t *testing.T) []database.ActionRun {
	t.Helper()
	runs, err := env.store.ListActionRuns(context.Background(), database.RunFilters{})
	require.NoError(t, err)
	return runs
}

func failure() fakeOutcome {
	return fakeOutcome{err: errUnreachable}
}

func success(parsed map[string]interface{}) fakeOutcome {
	return fakeOutcome{result: &drivers.Result{Raw: "USSD reply", Parsed: parsed}}
}
