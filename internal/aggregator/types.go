package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/importance"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/templatecache"
	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
)

// CombinationStrategy merges the type templates of a multi-typed entity.
type CombinationStrategy string

const (
	// StrategyUnion unions fields position by position; a predicate keeps
	// only its highest-priority regular field.
	StrategyUnion CombinationStrategy = "union"
	// StrategyMostAppearances puts each predicate in the regular field it
	// occupies in most templates, preferring the higher weight on ties.
	StrategyMostAppearances CombinationStrategy = "mostAppearances"
	// StrategyMaximumValues re-clusters predicates scored by their highest
	// field weight.
	StrategyMaximumValues CombinationStrategy = "maximumValues"
	// StrategyGeometricMean re-clusters predicates scored by the geometric
	// mean of their field weights.
	StrategyGeometricMean CombinationStrategy = "geometricMean"
	// StrategyRepetitions puts each predicate in every regular field it
	// occupies, repeated once per template that put it there.
	StrategyRepetitions CombinationStrategy = "repetitions"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (CombinationStrategy, error) {
	switch st := CombinationStrategy(s); st {
	case StrategyUnion, StrategyMostAppearances, StrategyMaximumValues, StrategyGeometricMean, StrategyRepetitions:
		return st, nil
	default:
		return "", fmt.Errorf("unknown type combination %q: %w", s, apperrors.ErrConfigConflict)
	}
}

// excludedPredicates never take part in entity combination.
var excludedPredicates = map[string]bool{
	importance.PageRankPredicate: true,
	importance.InfoRankPredicate: true,
}

// TypeTemplateOptions configures a TypeTemplates set.
type TypeTemplateOptions struct {
	// CombineWith, when set, is blended with the main source at
	// CombineWeight for every type.
	CombineWith   ScoreSource
	CombineWeight float64
	Cache         templatecache.Cache
	Workers       int
}

// BuildStats counts the outcome of BuildAll.
type BuildStats struct {
	Built  int `json:"built"`
	Failed int `json:"failed"`
}

// TypeTemplates builds and holds one template per allowed type.
type TypeTemplates struct {
	builder *Builder
	cache   *MetricsCache
	src     ScoreSource
	opts    TypeTemplateOptions
	logger  *slog.Logger

	mu    sync.RWMutex
	built map[string]*template.VirtualDocumentTemplate
}

func NewTypeTemplates(b *Builder, cache *MetricsCache, src ScoreSource, opts TypeTemplateOptions) *TypeTemplates {
	if opts.Cache == nil {
		opts.Cache = templatecache.NewMemory(b.metrics)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &TypeTemplates{
		builder: b,
		cache:   cache,
		src:     src,
		opts:    opts,
		logger:  slog.Default().With("component", "type-templates"),
		built:   make(map[string]*template.VirtualDocumentTemplate),
	}
}

// cacheKey covers everything a type template depends on apart from the
// metric values themselves, which change only through a metrics run and
// are handled by invalidating the cache.
func (tt *TypeTemplates) cacheKey(scope Scope) string {
	key := fmt.Sprintf("type:%s:%s", tt.builder.Fingerprint(), sourceKey(tt.src))
	if tt.opts.CombineWith != nil {
		key += fmt.Sprintf("+%s@%g", sourceKey(tt.opts.CombineWith), tt.opts.CombineWeight)
	}
	return key + ":" + scope.URI
}

// BuildAll builds a template for every allowed type in the cache. Types
// that do not converge are counted and skipped.
func (tt *TypeTemplates) BuildAll(ctx context.Context) (BuildStats, error) {
	types, err := tt.cache.Types()
	if err != nil {
		return BuildStats{}, err
	}
	var built, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tt.opts.Workers)
	for _, scope := range types {
		g.Go(func() error {
			t, _, err := tt.opts.Cache.GetOrBuild(gctx, tt.cacheKey(scope), func(ctx context.Context) (*template.VirtualDocumentTemplate, error) {
				if tt.opts.CombineWith != nil {
					return tt.builder.BuildCombined(ctx, tt.src, tt.opts.CombineWith, tt.opts.CombineWeight, scope)
				}
				return tt.builder.Build(ctx, tt.src, scope)
			})
			if err != nil {
				if IsConvergence(err) {
					failed.Add(1)
					tt.logger.Debug("type template skipped", "type", scope.URI, "error", err)
					return nil
				}
				return err
			}
			tt.mu.Lock()
			tt.built[scope.URI] = t
			tt.mu.Unlock()
			built.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BuildStats{}, fmt.Errorf("building type templates: %w", err)
	}
	stats := BuildStats{Built: int(built.Load()), Failed: int(failed.Load())}
	tt.logger.Info("type templates built", "built", stats.Built, "failed", stats.Failed)
	return stats, nil
}

// ForType returns the template built for a type.
func (tt *TypeTemplates) ForType(uri string) (*template.VirtualDocumentTemplate, bool) {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	t, ok := tt.built[uri]
	return t, ok
}

// Len returns the number of types with a template.
func (tt *TypeTemplates) Len() int {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return len(tt.built)
}

// ForEntity combines the templates of the entity's types. An entity with no
// typed template, or whose re-clustered combination does not converge,
// gets fallback.
func (tt *TypeTemplates) ForEntity(ctx context.Context, entity uint64, strategy CombinationStrategy, fallback *template.VirtualDocumentTemplate) (*template.VirtualDocumentTemplate, error) {
	types, err := tt.cache.EntityTypes(entity)
	if err != nil {
		return nil, err
	}
	var tmpls []*template.VirtualDocumentTemplate
	for _, typ := range types {
		if t, ok := tt.ForType(typ); ok {
			tmpls = append(tmpls, t)
		}
	}
	if len(tmpls) == 0 {
		return fallback, nil
	}
	all, err := tt.cache.EntityPredicates(entity)
	if err != nil {
		return nil, err
	}
	preds := all[:0:0]
	for _, p := range all {
		if !excludedPredicates[p] {
			preds = append(preds, p)
		}
	}

	switch strategy {
	case StrategyUnion:
		return unionTemplates(tmpls), nil
	case StrategyMostAppearances:
		return mostAppearances(tmpls, preds), nil
	case StrategyRepetitions:
		return repetitions(tmpls, preds), nil
	case StrategyMaximumValues, StrategyGeometricMean:
		scores := weightScores(tmpls, preds, strategy)
		uri, err := tt.cache.EntityURI(entity)
		if err != nil {
			return nil, err
		}
		t, err := tt.builder.BuildFromScores(ctx, scores, ForEntity(entity, uri))
		if IsConvergence(err) {
			return fallback, nil
		}
		return t, err
	default:
		return nil, fmt.Errorf("unknown type combination %q: %w", strategy, apperrors.ErrInvalidInput)
	}
}

func isRegular(f template.Field) bool {
	return f.Name != template.TypesFieldName && !f.IsEntityLinking
}

// unionTemplates merges fields with the same name and then removes from
// each regular field the predicates of higher-priority regular fields.
func unionTemplates(tmpls []*template.VirtualDocumentTemplate) *template.VirtualDocumentTemplate {
	out := tmpls[0].Clone()
	pos := fieldPositions(out)
	for _, t := range tmpls[1:] {
		for _, f := range t.Fields {
			i, ok := pos[f.Name]
			if !ok {
				continue
			}
			for uri := range f.Predicates {
				out.Fields[i].Predicates.Add(uri)
			}
		}
	}
	seen := make(map[string]bool)
	for i := range out.Fields {
		if !isRegular(out.Fields[i]) {
			continue
		}
		for uri := range out.Fields[i].Predicates {
			if seen[uri] {
				delete(out.Fields[i].Predicates, uri)
			}
		}
		for uri := range out.Fields[i].Predicates {
			seen[uri] = true
		}
	}
	return out
}

// skeleton is the union of tmpls with every regular field emptied.
func skeleton(tmpls []*template.VirtualDocumentTemplate) *template.VirtualDocumentTemplate {
	out := unionTemplates(tmpls)
	for i := range out.Fields {
		if isRegular(out.Fields[i]) {
			out.Fields[i].Predicates = make(template.PredicateSet)
		}
	}
	return out
}

// appearances counts, per field position of tmpls[0], how many templates
// hold p in that regular field.
func appearances(tmpls []*template.VirtualDocumentTemplate, pos map[string]int, p string) map[int]uint64 {
	counts := make(map[int]uint64)
	for _, t := range tmpls {
		for _, f := range t.Fields {
			if isRegular(f) && f.Predicates.Contains(p) {
				if i, ok := pos[f.Name]; ok {
					counts[i]++
				}
			}
		}
	}
	return counts
}

func mostAppearances(tmpls []*template.VirtualDocumentTemplate, preds []string) *template.VirtualDocumentTemplate {
	out := skeleton(tmpls)
	pos := fieldPositions(out)
	for _, p := range preds {
		counts := appearances(tmpls, pos, p)
		best, bestCount := -1, uint64(0)
		for i := range out.Fields {
			if c := counts[i]; c > bestCount {
				best, bestCount = i, c
			}
		}
		if best >= 0 {
			out.Fields[best].Predicates.Add(p)
		}
	}
	return out
}

func repetitions(tmpls []*template.VirtualDocumentTemplate, preds []string) *template.VirtualDocumentTemplate {
	out := skeleton(tmpls)
	pos := fieldPositions(out)
	for _, p := range preds {
		for i, c := range appearances(tmpls, pos, p) {
			out.Fields[i].Predicates[p] = c
		}
	}
	return out
}

// weightScores scores each predicate by the weights of the regular fields
// holding it across tmpls.
func weightScores(tmpls []*template.VirtualDocumentTemplate, preds []string, strategy CombinationStrategy) map[string]float64 {
	scores := make(map[string]float64)
	for _, p := range preds {
		var weights []float64
		for _, t := range tmpls {
			for _, f := range t.Fields {
				if isRegular(f) && f.Predicates.Contains(p) {
					weights = append(weights, f.Weight)
				}
			}
		}
		if len(weights) == 0 {
			continue
		}
		if strategy == StrategyMaximumValues {
			m := weights[0]
			for _, w := range weights[1:] {
				m = math.Max(m, w)
			}
			scores[p] = m
			continue
		}
		logSum := 0.0
		for _, w := range weights {
			logSum += math.Log(w)
		}
		scores[p] = finite(math.Exp(logSum / float64(len(weights))))
	}
	return scores
}

func fieldPositions(t *template.VirtualDocumentTemplate) map[string]int {
	pos := make(map[string]int, len(t.Fields))
	for i, f := range t.Fields {
		pos[f.Name] = i
	}
	return pos
}
