// Package factstore persists metric layers as append-only fact sets. Each
// persisted layer is one Append call; layers from a run are concatenated
// onto the same store and read back per metric with Scan.
//
// Two backends are provided. The segment backend writes one checksummed
// binary segment per layer into a data directory. The bolt backend keeps all
// layers in a single bbolt file with one bucket per metric.
package factstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/config"
)

// Fact is one persisted metric value. Pair facts carry a predicate in Subject
// and a type in Type; entity and class facts leave Type empty.
type Fact struct {
	Key     string  `json:"k"`
	Subject string  `json:"s"`
	Type    string  `json:"t,omitempty"`
	Metric  string  `json:"m"`
	Value   float64 `json:"v"`
}

// Store is the layer persistence contract.
type Store interface {
	Append(ctx context.Context, metric string, facts []Fact) error
	Scan(ctx context.Context, metric string, fn func(Fact) error) error
	Metrics(ctx context.Context) ([]string, error)
	Close() error
}

// PairKey identifies a (predicate, type) pair.
func PairKey(predicate, typ string) string {
	sum := md5.Sum([]byte(predicate + "-" + typ))
	return hex.EncodeToString(sum[:])
}

// EntityKey identifies a single resource.
func EntityKey(uri string) string {
	sum := md5.Sum([]byte(uri))
	return hex.EncodeToString(sum[:])
}

// Open returns the backend selected by cfg.
func Open(cfg config.FactStoreConfig) (Store, error) {
	switch cfg.Backend {
	case "segment", "":
		return OpenSegmentStore(cfg.DataDir)
	case "bolt":
		return OpenBoltStore(cfg.BoltPath)
	default:
		return nil, fmt.Errorf("unknown fact store backend %q", cfg.Backend)
	}
}

// Collect reads every fact of a metric into memory.
func Collect(ctx context.Context, s Store, metric string) ([]Fact, error) {
	var out []Fact
	err := s.Scan(ctx, metric, func(f Fact) error {
		out = append(out, f)
		return nil
	})
	return out, err
}
