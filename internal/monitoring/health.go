// internal/monitoring/health.go - host reachability checks with flap suppression
package monitoring

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"monite/internal/config"
	"monite/internal/database"
	"monite/internal/drivers"
	"monite/internal/metrics"
	"monite/internal/notifications"
)

// OfflineThreshold is how many consecutive offline checks confirm an outage.
const OfflineThreshold = 5

// flapWindow holds the most recent check statuses of one host.
type flapWindow struct {
	statuses [OfflineThreshold]database.HostStatus
	next     int
	size     int
}

// push records status and returns the status that fell out of the window,
// if the window was already full.
func (w *flapWindow) push(status database.HostStatus) (database.HostStatus, bool) {
	evicted, full := w.statuses[w.next], w.size == len(w.statuses)
	w.statuses[w.next] = status
	w.next = (w.next + 1) % len(w.statuses)
	if !full {
		w.size++
	}
	return evicted, full
}

func (w *flapWindow) allOffline() bool {
	if w.size < len(w.statuses) {
		return false
	}
	for _, s := range w.statuses {
		if s != database.StatusOffline {
			return false
		}
	}
	return true
}

// HealthMonitor validates host reachability, records the result and
// raises online/offline alerts.
type HealthMonitor struct {
	store       database.Store
	registry    *drivers.Registry
	dispatcher  *notifications.Dispatcher
	metrics     *metrics.Collector
	events      EventPublisher
	timeout     time.Duration
	concurrency int
	now         func() time.Time

	mu      sync.Mutex
	windows map[int64]*flapWindow
	locks   map[int64]*sync.Mutex
}

func NewHealthMonitor(store database.Store, registry *drivers.Registry, dispatcher *notifications.Dispatcher,
	collector *metrics.Collector, events EventPublisher, cfg config.MonitoringConfig) *HealthMonitor {
	if events == nil {
		events = noopPublisher{}
	}
	concurrency := cfg.HealthConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &HealthMonitor{
		store:       store,
		registry:    registry,
		dispatcher:  dispatcher,
		metrics:     collector,
		events:      events,
		timeout:     cfg.HealthTimeout,
		concurrency: concurrency,
		now:         time.Now,
		windows:     make(map[int64]*flapWindow),
		locks:       make(map[int64]*sync.Mutex),
	}
}

func (m *HealthMonitor) hostLock(hostID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[hostID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[hostID] = l
	}
	return l
}

// observe pushes status into the host's window and reports whether this
// check is the first one of a confirmed outage.
func (m *HealthMonitor) observe(hostID int64, status database.HostStatus) (confirmed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[hostID]
	if !ok {
		w = &flapWindow{}
		m.windows[hostID] = w
	}
	evicted, hadEvicted := w.push(status)
	return w.allOffline() && (!hadEvicted || evicted != database.StatusOffline)
}

// Forget drops the in-memory window of a deleted host.
func (m *HealthMonitor) Forget(hostID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, hostID)
	delete(m.locks, hostID)
}

// CheckHost validates one host. Unreachable hosts are not an error; only
// a failure to record the result is returned, as a PersistenceError.
// The host is re-read under its lock, so the previous status is the one
// left by the last completed check, not the caller's snapshot. A host
// deleted in the meantime yields database.ErrNotFound.
func (m *HealthMonitor) CheckHost(ctx context.Context, snapshot *database.Host) (*database.HealthRecord, error) {
	lock := m.hostLock(snapshot.ID)
	lock.Lock()
	defer lock.Unlock()

	host, err := m.store.GetHost(ctx, snapshot.ID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get host", Err: err}
	}

	logger := logrus.WithFields(logrus.Fields{
		"host_id": host.ID,
		"host":    host.Name,
	})

	start := time.Now()
	err = m.validate(ctx, host)
	elapsed := time.Since(start)

	rec := &database.HealthRecord{
		HostID:    host.ID,
		CheckedAt: m.now(),
	}
	if err != nil {
		rec.Status = database.StatusOffline
		rec.Error = err.Error()
		logger.WithError(err).Debug("Health check failed")
	} else {
		rec.Status = database.StatusOnline
		latency := float64(elapsed.Microseconds()) / 1000.0
		rec.LatencyMs = &latency
	}

	m.metrics.RecordHealthCheck(drivers.NormalizeType(host.RouterType), rec.Status, elapsed)

	if err := m.store.AppendHealthRecord(ctx, rec); err != nil {
		return rec, &PersistenceError{Op: "append health record", Err: err}
	}
	if err := m.store.UpdateHostCache(ctx, host.ID, rec.Status, rec.LatencyMs, rec.CheckedAt); err != nil {
		return rec, &PersistenceError{Op: "update host cache", Err: err}
	}

	previous := host.LastStatus
	confirmed := m.observe(host.ID, rec.Status)
	m.events.Publish(EventHealthCheck, rec)

	if !host.NotifyEnabled {
		return rec, nil
	}

	event := notifications.HostEvent{
		Host:      host,
		Error:     rec.Error,
		Window:    OfflineThreshold,
		LatencyMs: rec.LatencyMs,
		At:        rec.CheckedAt,
	}

	switch {
	case rec.Status == database.StatusOnline && previous == database.StatusOffline:
		m.dispatcher.Send(ctx, host.ID, notifications.KindHostOnline, notifications.HostOnlineMessage(event))
	case rec.Status == database.StatusOffline && confirmed:
		logger.Warn("Host offline confirmed")
		m.dispatcher.Send(ctx, host.ID, notifications.KindHostOffline, notifications.HostOfflineMessage(event))
	}

	return rec, nil
}

func (m *HealthMonitor) validate(ctx context.Context, host *database.Host) error {
	driver, err := m.registry.ForHost(host)
	if err != nil {
		return err
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	return driver.Validate(ctx, host)
}

// CheckAllHosts checks every enabled host with bounded concurrency. A
// host's failure never stops the others; the first persistence error, if
// any, is returned after the batch completes.
func (m *HealthMonitor) CheckAllHosts(ctx context.Context) ([]database.HealthRecord, error) {
	hosts, err := m.store.ListHosts(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list hosts", Err: err}
	}

	var (
		mu       sync.Mutex
		records  []database.HealthRecord
		firstErr error
	)

	var g errgroup.Group
	g.SetLimit(m.concurrency)

	for i := range hosts {
		host := hosts[i]
		if !host.Enabled {
			continue
		}
		g.Go(func() error {
			rec, err := m.CheckHost(ctx, &host)
			if errors.Is(err, database.ErrNotFound) {
				logrus.WithField("host_id", host.ID).Debug("Host deleted during health batch")
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			if rec != nil {
				records = append(records, *rec)
			}
			if err != nil {
				logrus.WithError(err).WithField("host_id", host.ID).Error("Failed to record health check")
				if firstErr == nil {
					firstErr = err
				}
			}
			return nil
		})
	}
	g.Wait()

	logrus.WithField("checked", len(records)).Debug("Health batch completed")
	return records, firstErr
}
