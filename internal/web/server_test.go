package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monite/internal/config"
	"monite/internal/database"
	"monite/internal/drivers"
	"monite/internal/monitoring"
)

const fakeType = "FAKE_ROUTER"

type fakeDriver struct{}

func (fakeDriver) ExecuteAction(ctx context.Context, host *database.Host, actionKey string, params map[string]interface{}) (*drivers.Result, error) {
	return &drivers.Result{
		Raw:    "Saldo: 120.00 CUP. Datos: 512 MB validos 2 dias",
		Parsed: map[string]interface{}{drivers.KeyDataRemainingMb: 512.0, drivers.KeyDaysValid: 2},
	}, nil
}

func (fakeDriver) Validate(ctx context.Context, host *database.Host) error { return nil }

func (fakeDriver) SupportedActions() []string {
	return []string{drivers.ActionQueryBalance}
}

type nopNotifier struct{}

func (nopNotifier) Post(ctx context.Context, text string) error { return nil }

type testServer struct {
	store  *database.BoltStore
	engine *monitoring.Engine
	hub    *Hub
	server *Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "monite.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.Prometheus.Enabled = false

	registry := drivers.NewRegistry()
	registry.Register(fakeType, func() drivers.Driver { return fakeDriver{} })

	hub := NewHub()
	engine, err := monitoring.NewEngine(cfg, store, registry, nopNotifier{}, hub)
	require.NoError(t, err)

	return &testServer{
		store:  store,
		engine: engine,
		hub:    hub,
		server: NewServer(cfg, store, engine, hub),
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, v))
}

func (ts *testServer) createHost(t *testing.T, enabled bool) database.Host {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/hosts", HostRequest{
		Name:          "branch-01",
		IP:            "10.0.0.1",
		Username:      "admin",
		Password:      "secret",
		RouterType:    "fake-router",
		Enabled:       enabled,
		NotifyEnabled: true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var host database.Host
	decode(t, w, &host)
	return host
}

func (ts *testServer) jobIDs(t *testing.T) []string {
	t.Helper()
	ids := []string{}
	for _, job := range ts.engine.Scheduler().Jobs() {
		ids = append(ids, job.ID)
	}
	return ids
}

func TestHostCRUD(t *testing.T) {
	ts := newTestServer(t)

	host := ts.createHost(t, true)
	assert.Equal(t, fakeType, host.RouterType)
	assert.Empty(t, host.Password)

	stored, err := ts.store.GetHost(context.Background(), host.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret", stored.Password)

	w := ts.do(t, http.MethodPut, fmt.Sprintf("/api/hosts/%d", host.ID), HostRequest{
		Name:       "branch-01b",
		IP:         "10.0.0.2",
		RouterType: fakeType,
		Enabled:    true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored, err = ts.store.GetHost(context.Background(), host.ID)
	require.NoError(t, err)
	assert.Equal(t, "branch-01b", stored.Name)
	assert.Equal(t, "secret", stored.Password, "empty password keeps the stored one")

	w = ts.do(t, http.MethodGet, "/api/hosts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hosts []database.Host
	decode(t, w, &hosts)
	require.Len(t, hosts, 1)
	assert.Empty(t, hosts[0].Password)

	w = ts.do(t, http.MethodGet, "/api/hosts/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/hosts/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateHostRejectsUnknownRouterType(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/hosts", HostRequest{
		Name:       "branch-02",
		IP:         "10.0.0.3",
		RouterType: "cisco",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRuleLifecycleKeepsJobsInSync(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createHost(t, true)

	rule := RuleRequest{
		HostID:    host.ID,
		ActionKey: "query-balance",
		Schedule:  "0 8 * * *",
		Enabled:   true,
	}
	w := ts.do(t, http.MethodPost, "/api/rules", rule)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created database.AutomationRule
	decode(t, w, &created)
	assert.Equal(t, drivers.ActionQueryBalance, created.ActionKey)
	assert.Contains(t, ts.jobIDs(t), monitoring.RuleJobID(created.ID))

	rule.Enabled = false
	w = ts.do(t, http.MethodPut, fmt.Sprintf("/api/rules/%d", created.ID), rule)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, ts.jobIDs(t), monitoring.RuleJobID(created.ID))

	rule.Enabled = true
	w = ts.do(t, http.MethodPut, fmt.Sprintf("/api/rules/%d", created.ID), rule)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, ts.jobIDs(t), monitoring.RuleJobID(created.ID))

	w = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/rules/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, ts.jobIDs(t), monitoring.RuleJobID(created.ID))
}

func TestCreateRuleValidation(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createHost(t, true)

	tests := []struct {
		name string
		req  RuleRequest
	}{
		{"invalid schedule", RuleRequest{HostID: host.ID, ActionKey: drivers.ActionQueryBalance, Schedule: "every morning"}},
		{"missing host", RuleRequest{HostID: 404, ActionKey: drivers.ActionQueryBalance, Schedule: "0 8 * * *"}},
		{"unsupported action", RuleRequest{HostID: host.ID, ActionKey: "REBOOT", Schedule: "0 8 * * *"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/rules", tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	rules, err := ts.store.ListRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestDeleteHostRemovesRuleJobs(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createHost(t, true)

	for _, schedule := range []string{"0 8 * * *", "30 20 * * 1-5"} {
		w := ts.do(t, http.MethodPost, "/api/rules", RuleRequest{
			HostID:    host.ID,
			ActionKey: drivers.ActionQueryBalance,
			Schedule:  schedule,
			Enabled:   true,
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	require.Len(t, ts.jobIDs(t), 2)

	w := ts.do(t, http.MethodDelete, fmt.Sprintf("/api/hosts/%d", host.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Empty(t, ts.jobIDs(t))
	rules, err := ts.store.ListRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestRunHostAction(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createHost(t, true)

	w := ts.do(t, http.MethodPost, fmt.Sprintf("/api/hosts/%d/actions/query_balance", host.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var run database.ActionRun
	decode(t, w, &run)
	assert.Equal(t, database.RunSuccess, run.Status)
	assert.Equal(t, 1, run.Attempt)
	assert.Equal(t, 1, run.MaxAttempts)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/history/runs?host_id=%d&status=SUCCESS", host.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var runs []database.ActionRun
	decode(t, w, &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestRunHostActionOnDisabledHost(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createHost(t, false)

	w := ts.do(t, http.MethodPost, fmt.Sprintf("/api/hosts/%d/actions/query_balance", host.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCheckHostHealth(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createHost(t, true)

	w := ts.do(t, http.MethodPost, fmt.Sprintf("/api/hosts/%d/health", host.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rec database.HealthRecord
	decode(t, w, &rec)
	assert.Equal(t, database.StatusOnline, rec.Status)

	w = ts.do(t, http.MethodGet, "/api/history/health?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var records []database.HealthRecord
	decode(t, w, &records)
	assert.Len(t, records, 1)

	w = ts.do(t, http.MethodGet, "/api/history/health?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSeverityThresholdSettings(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/settings/severity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var current database.SeverityThresholds
	decode(t, w, &current)
	assert.Equal(t, database.DefaultSeverityThresholds(), current)

	updated := current
	updated.Critical.MinDataRemainingMb = 500
	w = ts.do(t, http.MethodPut, "/api/settings/severity", updated)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored, err := ts.store.GetSeverityThresholds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 500.0, stored.Critical.MinDataRemainingMb)

	updated.High.MinDaysValid = -1
	w = ts.do(t, http.MethodPut, "/api/settings/severity", updated)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSummaryScheduleSettings(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPut, "/api/settings/summary-schedule", database.DailySummarySchedule{
		Enabled:  true,
		Hour:     7,
		Minute:   30,
		Timezone: "America/Havana",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	jobs := ts.engine.Scheduler().Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, monitoring.JobDailySummary, jobs[0].ID)
	assert.Equal(t, "CRON_TZ=America/Havana 30 7 * * *", jobs[0].Spec)

	w = ts.do(t, http.MethodPut, "/api/settings/summary-schedule", database.DailySummarySchedule{
		Enabled:  true,
		Hour:     7,
		Timezone: "Mars/Olympus",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPut, "/api/settings/summary-schedule", database.DailySummarySchedule{
		Enabled:  true,
		Hour:     24,
		Timezone: "UTC",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	stored, err := ts.store.GetDailySummarySchedule(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "America/Havana", stored.Timezone)
}

func TestNotificationSettingsMaskSecrets(t *testing.T) {
	ts := newTestServer(t)
	ts.server.config.Notifications.Telegram.Token = "123456789:ABCDEFGHIJ"

	w := ts.do(t, http.MethodGet, "/api/settings/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var settings NotificationSettings
	decode(t, w, &settings)
	assert.Equal(t, "1234************GHIJ", settings.Telegram.Token)
	assert.Equal(t, ts.engine.AlertCooldown().Minutes(), settings.CooldownMinutes)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", maskToken(""))
	assert.Equal(t, "***", maskToken("short"))
	assert.Equal(t, "abcd**wxyz", maskToken("abcd12wxyz"))
}

func TestPurgeHistory(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createHost(t, true)

	old := &database.ActionRun{
		HostID:    host.ID,
		ActionKey: drivers.ActionQueryBalance,
		StartedAt: time.Now().Add(-90 * 24 * time.Hour),
		Status:    database.RunSuccess,
	}
	old.FinishedAt = old.StartedAt
	require.NoError(t, ts.store.SaveActionRun(context.Background(), old))

	w := ts.do(t, http.MethodPost, "/api/history/purge", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Deleted int `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Deleted)
}

func TestDriversAndJobsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/drivers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result map[string][]string
	decode(t, w, &result)
	assert.Equal(t, []string{drivers.ActionQueryBalance}, result[fakeType])

	w = ts.do(t, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "healthy"))
}

func TestWebSocketReceivesEvents(t *testing.T) {
	ts := newTestServer(t)
	host := ts.createHost(t, true)

	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return ts.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = ts.engine.CheckHost(context.Background(), host.ID)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, monitoring.EventHealthCheck, msg.Type)
}
