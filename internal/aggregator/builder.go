// Package aggregator turns per-predicate importance scores into virtual
// document templates. Scores come from a ScoreSource for a Scope (the whole
// graph, one type or one entity); the Builder clusters them with k-means++
// and maps the ranked clusters onto the configured field weights.
package aggregator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/cluster"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/triples"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/metrics"
)

// Tie-break modes for clusters with equal centroids, see rankClusters.
const (
	// TieBreakDeterministic ranks the larger cluster first, then the one
	// holding the lexically smallest predicate. It is the default.
	TieBreakDeterministic = "deterministic"
	// TieBreakRandom keeps templates compatible with earlier builds: a
	// repeated centroid is swapped for a seeded random value below 0.01.
	TieBreakRandom = "random"
)

// Options carries the Builder's runtime collaborators.
type Options struct {
	Workers int
	Metrics *metrics.Metrics
}

// Builder builds templates. It is safe for concurrent use.
type Builder struct {
	cfg     config.ClusteringConfig
	idx     triples.Index
	workers int
	metrics *metrics.Metrics
	logger  *slog.Logger

	allowedTypes  map[string]bool
	ignoredTypes  map[string]bool
	overrides     []string
	typeOverrides []string
	overrideSet   map[string]bool

	propsMu  sync.Mutex
	datatype map[string]bool
	object   map[string]bool

	fingerprint string
}

// NewBuilder validates cfg. idx may be nil when neither the datatype/object
// split nor relation fields are enabled. Weight lists are copied and sorted
// in descending order, so field 0 always carries the largest weight.
func NewBuilder(idx triples.Index, cfg config.ClusteringConfig, opts Options) (*Builder, error) {
	cfg.FieldWeights = descending(cfg.FieldWeights)
	cfg.DatatypeFieldWeights = descending(cfg.DatatypeFieldWeights)
	cfg.ObjectFieldWeights = descending(cfg.ObjectFieldWeights)
	cfg.RelationsFieldWeights = descending(cfg.RelationsFieldWeights)
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}
	if idx == nil && (cfg.SplitDatatypeObject || cfg.RelationsFields) {
		return nil, fmt.Errorf("property classification needs a triple index: %w", apperrors.ErrInvalidInput)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	b := &Builder{
		cfg:           cfg,
		idx:           idx,
		workers:       opts.Workers,
		metrics:       opts.Metrics,
		logger:        slog.Default().With("component", "template-builder"),
		allowedTypes:  toSet(cfg.AllowedTypes),
		ignoredTypes:  toSet(cfg.TypesToIgnore),
		overrides:     dedupe(cfg.PredicatesOverride),
		typeOverrides: dedupe(cfg.TypePredicatesOverride),
	}
	b.overrideSet = toSet(append(append([]string(nil), b.overrides...), b.typeOverrides...))
	sum := sha256.Sum256(fmt.Appendf(nil, "%#v", cfg))
	b.fingerprint = hex.EncodeToString(sum[:8])
	return b, nil
}

// Fingerprint identifies the clustering configuration. Two builders with
// the same fingerprint produce the same template from the same scores.
func (b *Builder) Fingerprint() string {
	return b.fingerprint
}

func descending(weights []float64) []float64 {
	if weights == nil {
		return nil
	}
	out := append([]float64(nil), weights...)
	sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	return out
}

func checkConfig(cfg config.ClusteringConfig) error {
	if cfg.Buckets < 1 {
		return fmt.Errorf("buckets must be at least 1, got %d: %w", cfg.Buckets, apperrors.ErrConfigConflict)
	}
	switch cfg.TieBreak {
	case TieBreakDeterministic, TieBreakRandom, "":
	default:
		return fmt.Errorf("unknown tie break %q: %w", cfg.TieBreak, apperrors.ErrConfigConflict)
	}
	ignored := toSet(cfg.TypesToIgnore)
	for _, t := range cfg.AllowedTypes {
		if ignored[t] {
			return fmt.Errorf("type %s is both allowed and ignored: %w", t, apperrors.ErrConfigConflict)
		}
	}
	typeOverrides := toSet(cfg.TypePredicatesOverride)
	for _, p := range cfg.PredicatesOverride {
		if typeOverrides[p] {
			return fmt.Errorf("predicate %s is in both override sets: %w", p, apperrors.ErrConfigConflict)
		}
	}
	lists := map[string][]float64{}
	if cfg.SplitDatatypeObject {
		lists["datatypeFieldWeights"] = cfg.DatatypeFieldWeights
		lists["objectFieldWeights"] = cfg.ObjectFieldWeights
	} else {
		lists["fieldWeights"] = cfg.FieldWeights
	}
	if cfg.RelationsFields {
		lists["relationsFieldWeights"] = cfg.RelationsFieldWeights
	}
	for name, weights := range lists {
		if len(weights) < cfg.Buckets {
			return fmt.Errorf("%s has %d weights for %d buckets: %w", name, len(weights), cfg.Buckets, apperrors.ErrConfigConflict)
		}
	}
	return nil
}

// IsTypeAllowed applies, in order: the allow list, the ignore list, then
// the prefix list. A type matches a prefix when it contains it.
func (b *Builder) IsTypeAllowed(uri string) bool {
	if len(b.allowedTypes) > 0 {
		return b.allowedTypes[uri]
	}
	if b.ignoredTypes[uri] {
		return false
	}
	if len(b.cfg.TypePrefixes) == 0 {
		return true
	}
	for _, prefix := range b.cfg.TypePrefixes {
		if strings.Contains(uri, prefix) {
			return true
		}
	}
	return false
}

// Build clusters the source's scores for scope into a template.
func (b *Builder) Build(ctx context.Context, src ScoreSource, scope Scope) (*template.VirtualDocumentTemplate, error) {
	scores, err := src.Scores(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("scoring %s for %s: %w", src.Name(), scope, err)
	}
	return b.finish(b.buildFromScores(ctx, scores, scope))
}

// BuildFromScores builds a template from precomputed predicate scores. The
// scope only labels logs and metrics.
func (b *Builder) BuildFromScores(ctx context.Context, scores map[string]float64, scope Scope) (*template.VirtualDocumentTemplate, error) {
	return b.finish(b.buildFromScores(ctx, scores, scope))
}

// BuildCombined blends two sources as a^w · b^(1-w) over the predicates
// they share and builds from the result.
func (b *Builder) BuildCombined(ctx context.Context, a, other ScoreSource, ownWeight float64, scope Scope) (*template.VirtualDocumentTemplate, error) {
	if ownWeight < 0 || ownWeight > 1 {
		return nil, fmt.Errorf("combination weight %v outside [0,1]: %w", ownWeight, apperrors.ErrInvalidInput)
	}
	sa, err := a.Scores(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("scoring %s for %s: %w", a.Name(), scope, err)
	}
	sb, err := other.Scores(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("scoring %s for %s: %w", other.Name(), scope, err)
	}
	return b.finish(b.buildFromScores(ctx, Combine(sa, sb, ownWeight), scope))
}

func (b *Builder) finish(t *template.VirtualDocumentTemplate, scope Scope, err error) (*template.VirtualDocumentTemplate, error) {
	if err != nil {
		b.metrics.TemplateBuilt(scope.Kind.String(), "error")
		return nil, err
	}
	b.metrics.TemplateBuilt(scope.Kind.String(), "ok")
	return t, nil
}

func (b *Builder) buildFromScores(ctx context.Context, scores map[string]float64, scope Scope) (*template.VirtualDocumentTemplate, Scope, error) {
	rng := cluster.NewRand(uint64(b.cfg.Seed))
	tmpl := template.New()

	if !b.cfg.SplitDatatypeObject {
		fields, err := b.clusterFields(b.filter(scores, nil), b.cfg.FieldWeights, b.regularName(""), b.cfg.Recluster, rng)
		if err != nil {
			return nil, scope, fmt.Errorf("building %s template: %w", scope, err)
		}
		for _, p := range b.overrides {
			fields[0].Predicates.Add(p)
		}
		tmpl.Fields = append(tmpl.Fields, fields...)
	} else {
		datatype, object, err := b.properties(ctx)
		if err != nil {
			return nil, scope, err
		}
		dp, err := b.clusterFields(b.filter(scores, datatype), b.cfg.DatatypeFieldWeights, b.regularName("dp"), b.cfg.Recluster, rng)
		if err != nil {
			return nil, scope, fmt.Errorf("building %s datatype fields: %w", scope, err)
		}
		op, err := b.clusterFields(b.filter(scores, object), b.cfg.ObjectFieldWeights, b.regularName("op"), b.cfg.Recluster, rng)
		if err != nil {
			return nil, scope, fmt.Errorf("building %s object fields: %w", scope, err)
		}
		for i := range op {
			op[i].IsObjectProperty = true
		}
		for _, p := range b.overrides {
			if datatype[p] {
				dp[0].Predicates.Add(p)
			}
			if object[p] {
				op[0].Predicates.Add(p)
			}
		}
		for i := range dp {
			tmpl.Fields = append(tmpl.Fields, dp[i], op[i])
		}
	}

	if len(b.typeOverrides) > 0 {
		tmpl.Fields = append(tmpl.Fields, b.typesField())
	}

	if b.cfg.RelationsFields {
		_, object, err := b.properties(ctx)
		if err != nil {
			return nil, scope, err
		}
		rel, err := b.clusterFields(b.filter(scores, object), b.cfg.RelationsFieldWeights, func(i int) string {
			return fmt.Sprintf("%s%d", template.RelationsFieldName, i)
		}, false, rng)
		if err != nil {
			return nil, scope, fmt.Errorf("building %s relation fields: %w", scope, err)
		}
		for i := range rel {
			rel[i].IsObjectProperty = true
			rel[i].IsEntityLinking = true
		}
		tmpl.Fields = append(tmpl.Fields, rel...)
	}

	tmpl.SortByWeight()
	b.logger.Debug("template built", "scope", scope.String(), "fields", len(tmpl.Fields), "predicates", len(scores))
	return tmpl, scope, nil
}

// EmptyTemplate has every field name and weight a built template would
// have, with no predicates.
func (b *Builder) EmptyTemplate() *template.VirtualDocumentTemplate {
	tmpl := template.New()
	k := b.cfg.Buckets
	if !b.cfg.SplitDatatypeObject {
		name := b.regularName("")
		for i := 0; i < k; i++ {
			tmpl.Fields = append(tmpl.Fields, template.NewField(name(i), b.cfg.FieldWeights[i]))
		}
	} else {
		dp, op := b.regularName("dp"), b.regularName("op")
		for i := 0; i < k; i++ {
			obj := template.NewField(op(i), b.cfg.ObjectFieldWeights[i])
			obj.IsObjectProperty = true
			tmpl.Fields = append(tmpl.Fields, template.NewField(dp(i), b.cfg.DatatypeFieldWeights[i]), obj)
		}
	}
	if len(b.typeOverrides) > 0 {
		f := template.NewField(template.TypesFieldName, b.cfg.TypeFieldWeight)
		f.IsObjectProperty = true
		tmpl.Fields = append(tmpl.Fields, f)
	}
	if b.cfg.RelationsFields {
		for i := 0; i < k; i++ {
			f := template.NewField(fmt.Sprintf("%s%d", template.RelationsFieldName, i), b.cfg.RelationsFieldWeights[i])
			f.IsObjectProperty = true
			f.IsEntityLinking = true
			tmpl.Fields = append(tmpl.Fields, f)
		}
	}
	tmpl.SortByWeight()
	return tmpl
}

func (b *Builder) typesField() template.Field {
	f := template.NewField(template.TypesFieldName, b.cfg.TypeFieldWeight)
	f.IsObjectProperty = true
	for _, p := range b.typeOverrides {
		f.Predicates.Add(p)
	}
	return f
}

func (b *Builder) regularName(suffix string) func(int) string {
	return func(i int) string {
		return fmt.Sprintf("%s%d%s", b.cfg.FieldName, i, suffix)
	}
}

// filter keeps p when allowed is nil or contains p, and p is not an
// override.
func (b *Builder) filter(scores map[string]float64, allowed map[string]bool) map[string]float64 {
	out := make(map[string]float64, len(scores))
	for p, v := range scores {
		if allowed != nil && !allowed[p] {
			continue
		}
		if b.overrideSet[p] {
			continue
		}
		out[p] = v
	}
	return out
}

// clusterFields clusters scores into K fields named by name and weighted by
// weights in descending centroid order.
func (b *Builder) clusterFields(scores map[string]float64, weights []float64, name func(int) string, recluster bool, rng *rand.Rand) ([]template.Field, error) {
	k := b.cfg.Buckets
	if len(scores) < k {
		return nil, fmt.Errorf("%d predicates for %d clusters: %w", len(scores), k, apperrors.ErrConvergence)
	}
	points := toPoints(scores)
	clusters, err := cluster.MultiKMeansPlusPlus(points, b.clusterConfig(rng))
	if err != nil {
		return nil, err
	}
	if recluster {
		clusters = b.recluster(clusters, rng)
	}
	ranked := rankClusters(clusters, b.cfg.TieBreak, rng)

	fields := make([]template.Field, k)
	for i, c := range ranked {
		fields[i] = template.NewField(name(i), weights[i])
		for _, p := range c.Points {
			fields[i].Predicates.Add(p.ID)
		}
	}
	return fields, nil
}

func (b *Builder) clusterConfig(rng *rand.Rand) cluster.Config {
	return cluster.Config{
		K:             b.cfg.Buckets,
		MaxIterations: b.cfg.Iterations,
		Attempts:      b.cfg.Attempts,
		Rand:          rng,
	}
}

// recluster drops the lowest-ranked cluster and clusters the remaining
// points again. With too few points left the first clustering is kept.
func (b *Builder) recluster(clusters []cluster.Cluster, rng *rand.Rand) []cluster.Cluster {
	if len(clusters) < 2 {
		return clusters
	}
	ranked := rankClusters(clusters, TieBreakDeterministic, rng)
	var remaining []cluster.Point
	for _, c := range ranked[:len(ranked)-1] {
		remaining = append(remaining, c.Points...)
	}
	if len(remaining) < b.cfg.Buckets {
		b.logger.Warn("too few predicates to recluster, keeping first clustering",
			"remaining", len(remaining),
			"buckets", b.cfg.Buckets,
		)
		return clusters
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].ID < remaining[j].ID })
	again, err := cluster.MultiKMeansPlusPlus(remaining, b.clusterConfig(rng))
	if err != nil {
		b.logger.Warn("reclustering failed, keeping first clustering", "error", err)
		return clusters
	}
	return again
}

// DatatypeProperties returns the predicates with at least one literal
// object.
func (b *Builder) DatatypeProperties(ctx context.Context) (map[string]bool, error) {
	dp, _, err := b.properties(ctx)
	return dp, err
}

// ObjectProperties returns the predicates with no literal object.
func (b *Builder) ObjectProperties(ctx context.Context) (map[string]bool, error) {
	_, op, err := b.properties(ctx)
	return op, err
}

// properties classifies every predicate once. A failed classification is
// not memoized.
func (b *Builder) properties(ctx context.Context) (map[string]bool, map[string]bool, error) {
	b.propsMu.Lock()
	defer b.propsMu.Unlock()
	if b.datatype != nil {
		return b.datatype, b.object, nil
	}
	if b.idx == nil {
		return nil, nil, fmt.Errorf("classifying properties without an index: %w", apperrors.ErrInvalidInput)
	}
	n := b.idx.NumPredicates()
	hasLiteral := make([]bool, n+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for p := uint64(1); p <= n; p++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for t := range b.idx.Search(triples.Wildcard, p, triples.Wildcard) {
				if triples.IsObjectLiteral(b.idx, t.O) {
					hasLiteral[p] = true
					break
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("classifying properties: %w", err)
	}
	datatype := make(map[string]bool)
	object := make(map[string]bool)
	for p := uint64(1); p <= n; p++ {
		uri := b.idx.IDToString(p, triples.RolePredicate)
		if hasLiteral[p] {
			datatype[uri] = true
		} else {
			object[uri] = true
		}
	}
	b.datatype, b.object = datatype, object
	b.logger.Info("properties classified", "datatype", len(datatype), "object", len(object))
	return datatype, object, nil
}

// IsConvergence reports whether err is a clustering convergence failure.
func IsConvergence(err error) bool {
	return errors.Is(err, apperrors.ErrConvergence)
}

func toPoints(scores map[string]float64) []cluster.Point {
	ids := make([]string, 0, len(scores))
	for p := range scores {
		ids = append(ids, p)
	}
	sort.Strings(ids)
	points := make([]cluster.Point, len(ids))
	for i, p := range ids {
		points[i] = cluster.Point{ID: p, Values: []float64{scores[p]}}
	}
	return points
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}
