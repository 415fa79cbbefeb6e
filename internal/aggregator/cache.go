package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/factstore"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/importance"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/triples"
	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
)

// metricsSnapshot is the immutable content of one fill.
type metricsSnapshot struct {
	metric string
	// predicate URI → type URI → value, allowed types only
	scores map[string]map[string]float64
	// type URI → predicate URI → value
	byType map[string]map[string]float64
	// predicate URI → Σ over allowed types
	sums map[string]float64
	// predicate URI → value, for facts that carry no type
	untyped    map[string]float64
	types      map[uint64]string
	predicates []string
}

// MetricsCache holds one metric's per-(predicate, type) values for the
// allowed types, loaded once and read by many concurrent builds. A refill
// replaces the content atomically.
type MetricsCache struct {
	mu            sync.RWMutex
	snap          *metricsSnapshot
	fallback      *template.VirtualDocumentTemplate
	idx           triples.Index
	typePredicate string
	typePred      uint64
	logger        *slog.Logger
}

func NewMetricsCache(typePredicate string) *MetricsCache {
	return &MetricsCache{
		typePredicate: typePredicate,
		logger:        slog.Default().With("component", "metrics-cache"),
	}
}

// Fill loads metric from the fact store.
func (c *MetricsCache) Fill(ctx context.Context, idx triples.Index, store factstore.Store, metric string, allowed func(string) bool) error {
	b := newSnapshotBuilder(metric, allowed)
	err := store.Scan(ctx, metric, func(f factstore.Fact) error {
		b.add(f.Subject, f.Type, f.Value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading %s into metrics cache: %w", metric, err)
	}
	c.install(idx, b.build(idx))
	return nil
}

// FillFromLayer loads an in-memory layer produced by the importance engine.
func (c *MetricsCache) FillFromLayer(layer *importance.Layer, idx triples.Index, allowed func(string) bool) {
	b := newSnapshotBuilder(layer.Name, allowed)
	for p, row := range layer.Scores {
		pred := idx.IDToString(p, triples.RolePredicate)
		for t, v := range row {
			b.add(pred, idx.IDToString(t, triples.RoleObject), v)
		}
	}
	c.install(idx, b.build(idx))
}

func (c *MetricsCache) install(idx triples.Index, snap *metricsSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idx = idx
	c.typePred = idx.StringToID(c.typePredicate, triples.RolePredicate)
	c.snap = snap
	c.logger.Info("metrics cache filled",
		"metric", snap.metric,
		"types", len(snap.types),
		"predicates", len(snap.predicates),
	)
}

// SetFallback records the template returned for entities that cannot get a
// scoped one.
func (c *MetricsCache) SetFallback(t *template.VirtualDocumentTemplate) {
	c.mu.Lock()
	c.fallback = t
	c.mu.Unlock()
}

// Fallback returns the template set by SetFallback.
func (c *MetricsCache) Fallback() (*template.VirtualDocumentTemplate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fallback == nil {
		return nil, fmt.Errorf("no fallback template set: %w", apperrors.ErrNotFound)
	}
	return c.fallback, nil
}

func (c *MetricsCache) snapshot() (*metricsSnapshot, triples.Index, uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return nil, nil, 0, apperrors.ErrCacheNotFilled
	}
	return c.snap, c.idx, c.typePred, nil
}

func (c *MetricsCache) Filled() bool {
	_, _, _, err := c.snapshot()
	return err == nil
}

func (c *MetricsCache) Metric() (string, error) {
	s, _, _, err := c.snapshot()
	if err != nil {
		return "", err
	}
	return s.metric, nil
}

// Predicates lists the predicates with at least one allowed-type value.
func (c *MetricsCache) Predicates() ([]string, error) {
	s, _, _, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	return s.predicates, nil
}

// Types returns the allowed types present in the cache, sorted by URI.
func (c *MetricsCache) Types() ([]Scope, error) {
	s, _, _, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]Scope, 0, len(s.types))
	for id, uri := range s.types {
		out = append(out, ForType(id, uri))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

// Value returns the value for (predicate, type), 0 when absent.
func (c *MetricsCache) Value(predicate, typ string) (float64, error) {
	s, _, _, err := c.snapshot()
	if err != nil {
		return 0, err
	}
	return s.scores[predicate][typ], nil
}

// GlobalSums returns predicate → Σ over allowed types. Callers must not
// modify the map.
func (c *MetricsCache) GlobalSums() (map[string]float64, error) {
	s, _, _, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	return s.sums, nil
}

// Untyped returns the values of facts that carry no type, such as
// predicate informativeness.
func (c *MetricsCache) Untyped() (map[string]float64, error) {
	s, _, _, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	return s.untyped, nil
}

// EntityTypes returns the allowed types of an entity, sorted by URI.
func (c *MetricsCache) EntityTypes(entity uint64) ([]string, error) {
	s, idx, typePred, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	if typePred == 0 {
		return nil, nil
	}
	var out []string
	for t := range idx.Search(entity, typePred, triples.Wildcard) {
		if uri, ok := s.types[t.O]; ok {
			out = append(out, uri)
		}
	}
	sort.Strings(out)
	return out, nil
}

// EntityPredicates returns the distinct predicates of an entity, sorted.
func (c *MetricsCache) EntityPredicates(entity uint64) ([]string, error) {
	_, idx, _, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	seen := make(map[uint64]bool)
	var out []string
	for t := range idx.Search(entity, triples.Wildcard, triples.Wildcard) {
		if seen[t.P] {
			continue
		}
		seen[t.P] = true
		out = append(out, idx.IDToString(t.P, triples.RolePredicate))
	}
	sort.Strings(out)
	return out, nil
}

type snapshotBuilder struct {
	snap    *metricsSnapshot
	allowed func(string) bool
	typeOK  map[string]bool
}

func newSnapshotBuilder(metric string, allowed func(string) bool) *snapshotBuilder {
	if allowed == nil {
		allowed = func(string) bool { return true }
	}
	return &snapshotBuilder{
		snap: &metricsSnapshot{
			metric:  metric,
			scores:  make(map[string]map[string]float64),
			byType:  make(map[string]map[string]float64),
			sums:    make(map[string]float64),
			untyped: make(map[string]float64),
			types:   make(map[uint64]string),
		},
		allowed: allowed,
		typeOK:  make(map[string]bool),
	}
}

func (b *snapshotBuilder) add(pred, typ string, v float64) {
	if typ == "" {
		b.snap.untyped[pred] = v
		return
	}
	ok, seen := b.typeOK[typ]
	if !seen {
		ok = b.allowed(typ)
		b.typeOK[typ] = ok
	}
	if !ok {
		return
	}
	row := b.snap.scores[pred]
	if row == nil {
		row = make(map[string]float64)
		b.snap.scores[pred] = row
	}
	col := b.snap.byType[typ]
	if col == nil {
		col = make(map[string]float64)
		b.snap.byType[typ] = col
	}
	// a repeated pair replaces the earlier value
	b.snap.sums[pred] += v - row[typ]
	row[typ] = v
	col[pred] = v
}

func (b *snapshotBuilder) build(idx triples.Index) *metricsSnapshot {
	s := b.snap
	for typ := range s.byType {
		if id := idx.StringToID(typ, triples.RoleObject); id != 0 {
			s.types[id] = typ
		}
	}
	s.predicates = make([]string, 0, len(s.scores))
	for p := range s.scores {
		s.predicates = append(s.predicates, p)
	}
	sort.Strings(s.predicates)
	return s
}

// EntityURI returns the IRI of a subject ID.
func (c *MetricsCache) EntityURI(entity uint64) (string, error) {
	_, idx, _, err := c.snapshot()
	if err != nil {
		return "", err
	}
	uri := idx.IDToString(entity, triples.RoleSubject)
	if uri == "" {
		return "", fmt.Errorf("entity %d: %w", entity, apperrors.ErrNotFound)
	}
	return uri, nil
}
