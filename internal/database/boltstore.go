// internal/database/boltstore.go - BoltDB implementation for hosts and rules
package database

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var (
	HostsBucket    = []byte("hosts")
	RulesBucket    = []byte("rules")
	RunsBucket     = []byte("action_runs")
	HealthBucket   = []byte("health")
	SettingsBucket = []byte("settings")
)

type BoltStore struct {
	db   *bbolt.DB
	path string
	now  func() time.Time
}

func NewBoltStore(path string) (*BoltStore, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	store := &BoltStore{db: db, path: path, now: time.Now}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{HostsBucket, RulesBucket, RunsBucket, HealthBucket, SettingsBucket}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) ListHosts(ctx context.Context) ([]Host, error) {
	var hosts []Host

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(HostsBucket).ForEach(func(k, v []byte) error {
			var host Host
			if err := json.Unmarshal(v, &host); err != nil {
				return fmt.Errorf("failed to unmarshal host %d: %w", btoi(k), err)
			}
			hosts = append(hosts, host)
			return nil
		})
	})

	return hosts, err
}

func (s *BoltStore) GetHost(ctx context.Context, id int64) (*Host, error) {
	var host Host

	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(HostsBucket), itob(id), &host)
	})
	if err != nil {
		return nil, fmt.Errorf("host %d: %w", id, err)
	}
	return &host, nil
}

func (s *BoltStore) CreateHost(ctx context.Context, host *Host) error {
	now := s.now()
	host.CreatedAt = now
	host.UpdatedAt = now
	if host.LastStatus == "" {
		host.LastStatus = StatusUnknown
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(HostsBucket)

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate host id: %w", err)
		}
		host.ID = int64(seq)

		return putJSON(b, itob(host.ID), host)
	})
}

// UpdateHost replaces the operator-editable fields; the cached health
// projection is owned by UpdateHostCache and is preserved here.
func (s *BoltStore) UpdateHost(ctx context.Context, host *Host) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(HostsBucket)

		var existing Host
		if err := getJSON(b, itob(host.ID), &existing); err != nil {
			return fmt.Errorf("host %d: %w", host.ID, err)
		}

		host.CreatedAt = existing.CreatedAt
		host.UpdatedAt = s.now()
		host.LastStatus = existing.LastStatus
		host.LastCheckedAt = existing.LastCheckedAt
		host.LastLatencyMs = existing.LastLatencyMs

		return putJSON(b, itob(host.ID), host)
	})
}

// DeleteHost removes the host and its rules, returning the removed rule ids.
func (s *BoltStore) DeleteHost(ctx context.Context, id int64) ([]int64, error) {
	var removed []int64

	err := s.db.Update(func(tx *bbolt.Tx) error {
		hosts := tx.Bucket(HostsBucket)
		if hosts.Get(itob(id)) == nil {
			return fmt.Errorf("host %d: %w", id, ErrNotFound)
		}
		if err := hosts.Delete(itob(id)); err != nil {
			return err
		}

		rules := tx.Bucket(RulesBucket)
		var keysToDelete [][]byte
		err := rules.ForEach(func(k, v []byte) error {
			var rule AutomationRule
			if err := json.Unmarshal(v, &rule); err != nil {
				return nil
			}
			if rule.HostID == id {
				keysToDelete = append(keysToDelete, copyBytes(k))
				removed = append(removed, rule.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range keysToDelete {
			if err := rules.Delete(key); err != nil {
				return fmt.Errorf("failed to delete rule %d: %w", btoi(key), err)
			}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return removed, nil
}

// UpdateHostCache overwrites the latest-health projection inside one write
// transaction, so concurrent checks of the same host never interleave.
func (s *BoltStore) UpdateHostCache(ctx context.Context, hostID int64, status HostStatus, latencyMs *float64, checkedAt time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(HostsBucket)

		var host Host
		if err := getJSON(b, itob(hostID), &host); err != nil {
			return fmt.Errorf("host %d: %w", hostID, err)
		}

		checked := checkedAt
		host.LastStatus = status
		host.LastCheckedAt = &checked
		host.LastLatencyMs = latencyMs

		return putJSON(b, itob(hostID), &host)
	})
}

func (s *BoltStore) ListRules(ctx context.Context) ([]AutomationRule, error) {
	return s.listRules(func(*AutomationRule) bool { return true })
}

func (s *BoltStore) ListEnabledRules(ctx context.Context) ([]AutomationRule, error) {
	return s.listRules(func(r *AutomationRule) bool { return r.Enabled })
}

func (s *BoltStore) listRules(keep func(*AutomationRule) bool) ([]AutomationRule, error) {
	var rules []AutomationRule

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(RulesBucket).ForEach(func(k, v []byte) error {
			var rule AutomationRule
			if err := json.Unmarshal(v, &rule); err != nil {
				return fmt.Errorf("failed to unmarshal rule %d: %w", btoi(k), err)
			}
			if keep(&rule) {
				rules = append(rules, rule)
			}
			return nil
		})
	})

	return rules, err
}

func (s *BoltStore) GetRule(ctx context.Context, id int64) (*AutomationRule, error) {
	var rule AutomationRule

	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(RulesBucket), itob(id), &rule)
	})
	if err != nil {
		return nil, fmt.Errorf("rule %d: %w", id, err)
	}
	return &rule, nil
}

func (s *BoltStore) CreateRule(ctx context.Context, rule *AutomationRule) error {
	now := s.now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(HostsBucket).Get(itob(rule.HostID)) == nil {
			return fmt.Errorf("host %d: %w", rule.HostID, ErrNotFound)
		}

		b := tx.Bucket(RulesBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate rule id: %w", err)
		}
		rule.ID = int64(seq)

		return putJSON(b, itob(rule.ID), rule)
	})
}

func (s *BoltStore) UpdateRule(ctx context.Context, rule *AutomationRule) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(RulesBucket)

		var existing AutomationRule
		if err := getJSON(b, itob(rule.ID), &existing); err != nil {
			return fmt.Errorf("rule %d: %w", rule.ID, err)
		}
		if tx.Bucket(HostsBucket).Get(itob(rule.HostID)) == nil {
			return fmt.Errorf("host %d: %w", rule.HostID, ErrNotFound)
		}

		rule.CreatedAt = existing.CreatedAt
		rule.UpdatedAt = s.now()

		return putJSON(b, itob(rule.ID), rule)
	})
}

func (s *BoltStore) DeleteRule(ctx context.Context, id int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(RulesBucket)
		if b.Get(itob(id)) == nil {
			return fmt.Errorf("rule %d: %w", id, ErrNotFound)
		}
		return b.Delete(itob(id))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func getJSON(b *bbolt.Bucket, key []byte, out interface{}) error {
	v := b.Get(key)
	if v == nil {
		return ErrNotFound
	}
	return json.Unmarshal(v, out)
}

func putJSON(b *bbolt.Bucket, key []byte, in interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	return b.Put(key, data)
}

// itob encodes ids big-endian so cursor order matches numeric order.
func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// copyBytes creates a copy of a byte slice
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	copied := make([]byte, len(b))
	copy(copied, b)
	return copied
}
