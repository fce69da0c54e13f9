// internal/monitoring/retention.go - history purge
package monitoring

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"monite/internal/database"
	"monite/internal/notifications"
)

// Retention removes history older than the configured age and drops
// expired cooldown entries.
type Retention struct {
	store      database.Store
	dispatcher *notifications.Dispatcher
	maxAge     time.Duration
	now        func() time.Time
}

func NewRetention(store database.Store, dispatcher *notifications.Dispatcher, maxAge time.Duration) *Retention {
	return &Retention{store: store, dispatcher: dispatcher, maxAge: maxAge, now: time.Now}
}

// Purge returns the number of history entries deleted. A zero max age
// keeps history forever.
func (r *Retention) Purge(ctx context.Context) (int, error) {
	pruned := r.dispatcher.Prune()

	if r.maxAge <= 0 {
		logrus.Debug("History retention disabled, skipping purge")
		return 0, nil
	}

	cutoff := r.now().Add(-r.maxAge)
	deleted, err := r.store.DeleteHistoryBefore(ctx, cutoff)
	if err != nil {
		return 0, &PersistenceError{Op: "delete history", Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"cutoff":           cutoff,
		"deleted":          deleted,
		"cooldowns_pruned": pruned,
	}).Info("History purge completed")
	return deleted, nil
}
