// internal/notifications/dispatcher.go - cooldown-gated alert dispatch
package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ScopeFleet is the scope id for alerts that are not about a single host.
const ScopeFleet int64 = 0

type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeFailed     Outcome = "failed"
)

type cooldownKey struct {
	scope int64
	kind  string
}

// Dispatcher sends alerts through a Notifier, allowing at most one
// successful send per (scope, kind) within the cooldown window.
type Dispatcher struct {
	notifier Notifier
	now      func() time.Time
	observe  func(kind string, outcome Outcome)

	mu       sync.Mutex
	cooldown time.Duration
	lastSent map[cooldownKey]time.Time
	inflight map[cooldownKey]bool
}

type DispatcherOption func(*Dispatcher)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithObserver registers a callback invoked with every dispatch outcome.
func WithObserver(fn func(kind string, outcome Outcome)) DispatcherOption {
	return func(d *Dispatcher) { d.observe = fn }
}

func NewDispatcher(notifier Notifier, cooldown time.Duration, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifier: notifier,
		now:      time.Now,
		observe:  func(string, Outcome) {},
		cooldown: cooldown,
		lastSent: make(map[cooldownKey]time.Time),
		inflight: make(map[cooldownKey]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetCooldown changes the window for subsequent dispatches.
func (d *Dispatcher) SetCooldown(cooldown time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldown = cooldown
}

func (d *Dispatcher) Cooldown() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cooldown
}

// Send delivers message unless the same (scopeID, kind) was successfully
// sent within the cooldown window or is being sent right now. Delivery
// errors are logged and never returned. Only a successful send starts a
// new cooldown window.
func (d *Dispatcher) Send(ctx context.Context, scopeID int64, kind, message string) Outcome {
	key := cooldownKey{scope: scopeID, kind: kind}
	logger := logrus.WithFields(logrus.Fields{
		"scope_id":   scopeID,
		"alert_kind": kind,
	})

	d.mu.Lock()
	now := d.now()
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.cooldown {
		d.mu.Unlock()
		logger.WithField("last_sent", last).Debug("Alert suppressed by cooldown")
		d.observe(kind, OutcomeSuppressed)
		return OutcomeSuppressed
	}
	if d.inflight[key] {
		d.mu.Unlock()
		logger.Debug("Alert suppressed, identical alert in flight")
		d.observe(kind, OutcomeSuppressed)
		return OutcomeSuppressed
	}
	d.inflight[key] = true
	d.mu.Unlock()

	err := d.notifier.Post(ctx, message)

	d.mu.Lock()
	delete(d.inflight, key)
	if err == nil {
		d.lastSent[key] = now
	}
	d.mu.Unlock()

	if err != nil {
		logger.WithError(err).Error("Failed to send alert")
		d.observe(kind, OutcomeFailed)
		return OutcomeFailed
	}

	logger.Info("Alert sent")
	d.observe(kind, OutcomeSent)
	return OutcomeSent
}

// Prune drops cooldown entries that can no longer suppress anything.
func (d *Dispatcher) Prune() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	pruned := 0
	for key, last := range d.lastSent {
		if now.Sub(last) >= d.cooldown {
			delete(d.lastSent, key)
			pruned++
		}
	}
	return pruned
}
