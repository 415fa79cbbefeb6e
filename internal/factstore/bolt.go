package factstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	boltBatchFacts = 10000
	metaBucket     = "__metrics"
)

// BoltStore keeps every metric in its own bucket keyed by fact key. Appending
// a fact whose key already exists in the bucket replaces it.
type BoltStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

// OpenBoltStore opens (or creates) a bbolt file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating fact store directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt fact store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing bolt fact store: %w", err)
	}
	return &BoltStore{
		db:     db,
		logger: slog.Default().With("component", "fact-store", "backend", "bolt"),
	}, nil
}

// Append writes facts in transactions of boltBatchFacts.
func (s *BoltStore) Append(ctx context.Context, metric string, facts []Fact) error {
	if metric == "" || metric == metaBucket {
		return fmt.Errorf("invalid metric name %q", metric)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(metaBucket))
		if meta.Get([]byte(metric)) != nil {
			return nil
		}
		seq, err := meta.NextSequence()
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(metric)); err != nil {
			return err
		}
		return meta.Put([]byte(metric), []byte(fmt.Sprintf("%020d", seq)))
	})
	if err != nil {
		return fmt.Errorf("registering metric %s: %w", metric, err)
	}

	for start := 0; start < len(facts); start += boltBatchFacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+boltBatchFacts, len(facts))
		err := s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket([]byte(metric))
			for _, f := range facts[start:end] {
				data, err := json.Marshal(f)
				if err != nil {
					return fmt.Errorf("marshaling fact %s: %w", f.Key, err)
				}
				if err := b.Put([]byte(f.Key), data); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("appending %s facts: %w", metric, err)
		}
	}
	s.logger.Info("layer appended", "metric", metric, "facts", len(facts))
	return nil
}

// Scan iterates a metric bucket in key order.
func (s *BoltStore) Scan(ctx context.Context, metric string, fn func(Fact) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(metric))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var f Fact
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("decoding %s fact: %w", metric, err)
			}
			return fn(f)
		})
	})
}

// Metrics lists stored metrics in first-append order.
func (s *BoltStore) Metrics(ctx context.Context) ([]string, error) {
	type entry struct{ name, seq string }
	var entries []entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(metaBucket)).ForEach(func(k, v []byte) error {
			entries = append(entries, entry{string(k), string(v)})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing metrics: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	ordered := make([]string, len(entries))
	for i, e := range entries {
		ordered[i] = e.name
	}
	return ordered, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
