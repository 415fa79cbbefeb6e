package aggregator

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// ScoreSource yields a scalar score per predicate URI for a scope.
type ScoreSource interface {
	Name() string
	Scores(ctx context.Context, scope Scope) (map[string]float64, error)
}

// scopeTypes resolves the types a scope aggregates over and, for entity
// scopes, the set of predicates the entity actually uses.
func scopeTypes(c *MetricsCache, snap *metricsSnapshot, scope Scope) ([]string, map[string]bool, error) {
	switch scope.Kind {
	case ScopeGlobal:
		types := make([]string, 0, len(snap.byType))
		for typ := range snap.byType {
			types = append(types, typ)
		}
		sort.Strings(types)
		return types, nil, nil
	case ScopeType:
		if _, ok := snap.byType[scope.URI]; !ok {
			return nil, nil, nil
		}
		return []string{scope.URI}, nil, nil
	case ScopeEntity:
		types, err := c.EntityTypes(scope.ID)
		if err != nil {
			return nil, nil, err
		}
		preds, err := c.EntityPredicates(scope.ID)
		if err != nil {
			return nil, nil, err
		}
		only := make(map[string]bool, len(preds))
		for _, p := range preds {
			only[p] = true
		}
		return types, only, nil
	default:
		return nil, nil, fmt.Errorf("unknown scope kind %d", scope.Kind)
	}
}

// sourceKey is Name plus the parameters Name leaves out.
func sourceKey(s ScoreSource) string {
	switch src := s.(type) {
	case LayerSource:
		return fmt.Sprintf("%s^%g", src.Name(), src.Exponent)
	case ProductSource:
		return fmt.Sprintf("%s^%g", src.Name(), src.Exponent)
	default:
		return s.Name()
	}
}

// LayerSource sums value^Exponent over the scope's types.
type LayerSource struct {
	Cache    *MetricsCache
	Exponent float64
}

func (s LayerSource) Name() string {
	m, _ := s.Cache.Metric()
	return m
}

func (s LayerSource) Scores(_ context.Context, scope Scope) (map[string]float64, error) {
	snap, _, _, err := s.Cache.snapshot()
	if err != nil {
		return nil, err
	}
	types, only, err := scopeTypes(s.Cache, snap, scope)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, typ := range types {
		for p, v := range snap.byType[typ] {
			if only != nil && !only[p] {
				continue
			}
			out[p] += power(v, s.Exponent)
		}
	}
	return out, nil
}

// ProductSource multiplies two caches per (predicate, type) before raising
// to Exponent and summing over the scope's types.
type ProductSource struct {
	A, B     *MetricsCache
	Exponent float64
}

func (s ProductSource) Name() string {
	a, _ := s.A.Metric()
	b, _ := s.B.Metric()
	return a + "*" + b
}

func (s ProductSource) Scores(_ context.Context, scope Scope) (map[string]float64, error) {
	a, _, _, err := s.A.snapshot()
	if err != nil {
		return nil, err
	}
	b, _, _, err := s.B.snapshot()
	if err != nil {
		return nil, err
	}
	types, only, err := scopeTypes(s.A, a, scope)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, typ := range types {
		for p, v := range a.byType[typ] {
			if only != nil && !only[p] {
				continue
			}
			out[p] += power(v*b.scores[p][typ], s.Exponent)
		}
	}
	return out, nil
}

// InfoRankSource scores predicates by their relative informativeness. The
// scores do not depend on the scope.
type InfoRankSource struct {
	Cache *MetricsCache
}

func (s InfoRankSource) Name() string { return "ir" }

func (s InfoRankSource) Scores(context.Context, Scope) (map[string]float64, error) {
	ir, err := s.Cache.Untyped()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(ir))
	for p, v := range ir {
		out[p] = v
	}
	return out, nil
}

// EntitySource scores an entity's predicates by summing the values of its
// types, optionally blended with the graph-wide sum as
// imp^w · global^(1-w). Non-entity scopes behave like LayerSource.
type EntitySource struct {
	Cache             *MetricsCache
	CombineWithGlobal bool
	CombinationWeight float64
}

func (s EntitySource) Name() string {
	m, _ := s.Cache.Metric()
	return "entity:" + m
}

func (s EntitySource) Scores(ctx context.Context, scope Scope) (map[string]float64, error) {
	if scope.Kind != ScopeEntity {
		return LayerSource{Cache: s.Cache}.Scores(ctx, scope)
	}
	snap, _, _, err := s.Cache.snapshot()
	if err != nil {
		return nil, err
	}
	types, only, err := scopeTypes(s.Cache, snap, scope)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(only))
	for p := range only {
		row, ok := snap.scores[p]
		if !ok {
			continue
		}
		imp := 0.0
		for _, typ := range types {
			imp += row[typ]
		}
		if s.CombineWithGlobal {
			w := s.CombinationWeight
			imp = finite(math.Pow(imp, w) * math.Pow(snap.sums[p], 1-w))
		}
		out[p] = imp
	}
	return out, nil
}

// StaticSource serves fixed scores regardless of scope.
type StaticSource struct {
	Label  string
	Values map[string]float64
}

func (s StaticSource) Name() string {
	if s.Label == "" {
		return "static"
	}
	return s.Label
}

func (s StaticSource) Scores(context.Context, Scope) (map[string]float64, error) {
	out := make(map[string]float64, len(s.Values))
	for p, v := range s.Values {
		out[p] = v
	}
	return out, nil
}

// Combine keeps the predicates present in both maps, scored a^w · b^(1-w).
func Combine(a, b map[string]float64, w float64) map[string]float64 {
	out := make(map[string]float64)
	for p, va := range a {
		if vb, ok := b[p]; ok {
			out[p] = finite(math.Pow(va, w) * math.Pow(vb, 1-w))
		}
	}
	return out
}

func power(v, exp float64) float64 {
	if exp == 0 || exp == 1 {
		return v
	}
	return finite(math.Pow(v, exp))
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
