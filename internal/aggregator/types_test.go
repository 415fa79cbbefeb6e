package aggregator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/templatecache"
	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
)

func builtTypeTemplates(t *testing.T) (*TypeTemplates, *MetricsCache, func(string) uint64) {
	t.Helper()
	c, idx := filledCache(t, nil)
	b := newBuilder(t, baseConfig())
	tt := NewTypeTemplates(b, c, LayerSource{Cache: c}, TypeTemplateOptions{Workers: 2})
	stats, err := tt.BuildAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, BuildStats{Built: 2, Failed: 0}, stats)
	return tt, c, func(local string) uint64 { return entityID(idx, local) }
}

func TestTypeTemplatesBuildAll(t *testing.T) {
	tt, _, _ := builtTypeTemplates(t)
	assert.Equal(t, 2, tt.Len())

	a, ok := tt.ForType(typeA)
	require.True(t, ok)
	assert.Equal(t, []string{exKnows, exName}, a.Fields[0].Predicates.Sorted())
	assert.Equal(t, []string{rdfType}, a.Fields[1].Predicates.Sorted())

	b, ok := tt.ForType(typeB)
	require.True(t, ok)
	assert.Equal(t, []string{exAge, rdfType}, b.Fields[0].Predicates.Sorted())
	assert.Equal(t, []string{exName}, b.Fields[1].Predicates.Sorted())

	_, ok = tt.ForType("http://ex.org/Nope")
	assert.False(t, ok)
}

func TestTypeTemplatesCountConvergenceFailures(t *testing.T) {
	c, _ := filledCache(t, nil)
	cfg := baseConfig()
	cfg.Buckets = 4
	cfg.FieldWeights = []float64{1, 0.8, 0.5, 0.2}
	tt := NewTypeTemplates(newBuilder(t, cfg), c, LayerSource{Cache: c}, TypeTemplateOptions{})

	stats, err := tt.BuildAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BuildStats{Built: 0, Failed: 2}, stats)
}

func TestTypeTemplatesUseSharedCache(t *testing.T) {
	c, _ := filledCache(t, nil)
	shared := templatecache.NewMemory(nil)
	b := newBuilder(t, baseConfig())

	first := NewTypeTemplates(b, c, LayerSource{Cache: c}, TypeTemplateOptions{Cache: shared})
	_, err := first.BuildAll(context.Background())
	require.NoError(t, err)
	second := NewTypeTemplates(b, c, LayerSource{Cache: c}, TypeTemplateOptions{Cache: shared})
	_, err = second.BuildAll(context.Background())
	require.NoError(t, err)

	hits, misses := shared.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(2), misses)
	a1, _ := first.ForType(typeA)
	a2, _ := second.ForType(typeA)
	assert.Same(t, a1, a2)
}

func TestTypeTemplatesRebuildOnConfigChange(t *testing.T) {
	c, _ := filledCache(t, nil)
	ctx := context.Background()
	shared := templatecache.NewMemory(nil)

	first := NewTypeTemplates(newBuilder(t, baseConfig()), c, LayerSource{Cache: c}, TypeTemplateOptions{Cache: shared})
	_, err := first.BuildAll(ctx)
	require.NoError(t, err)

	heavier := baseConfig()
	heavier.FieldWeights = []float64{7, 3}
	second := NewTypeTemplates(newBuilder(t, heavier), c, LayerSource{Cache: c}, TypeTemplateOptions{Cache: shared})
	_, err = second.BuildAll(ctx)
	require.NoError(t, err)

	hits, misses := shared.Stats()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(4), misses)
	a, ok := second.ForType(typeA)
	require.True(t, ok)
	assert.Equal(t, 7.0, a.Fields[0].Weight)
	assert.Equal(t, 3.0, a.Fields[1].Weight)

	// an equal config in a fresh builder is served from the cache
	same := NewTypeTemplates(newBuilder(t, heavier), c, LayerSource{Cache: c}, TypeTemplateOptions{Cache: shared})
	_, err = same.BuildAll(ctx)
	require.NoError(t, err)
	hits, _ = shared.Stats()
	assert.Equal(t, int64(2), hits)
}

func TestTypeTemplatesCacheKey(t *testing.T) {
	c, _ := filledCache(t, nil)
	b := newBuilder(t, baseConfig())
	scope := Scope{Kind: ScopeType, URI: typeA}
	key := func(src ScoreSource, opts TypeTemplateOptions) string {
		return NewTypeTemplates(b, c, src, opts).cacheKey(scope)
	}

	plain := key(LayerSource{Cache: c}, TypeTemplateOptions{})
	assert.Equal(t, plain, key(LayerSource{Cache: c}, TypeTemplateOptions{Workers: 8}))
	assert.NotEqual(t, plain, key(LayerSource{Cache: c, Exponent: 2}, TypeTemplateOptions{}))

	combined := key(LayerSource{Cache: c}, TypeTemplateOptions{CombineWith: InfoRankSource{}, CombineWeight: 0.5})
	assert.NotEqual(t, plain, combined)
	assert.NotEqual(t, combined, key(LayerSource{Cache: c}, TypeTemplateOptions{CombineWith: InfoRankSource{}, CombineWeight: 0.25}))

	other := baseConfig()
	other.Seed = 7
	assert.NotEqual(t, plain, NewTypeTemplates(newBuilder(t, other), c, LayerSource{Cache: c}, TypeTemplateOptions{}).cacheKey(scope))
	assert.Equal(t, b.Fingerprint(), newBuilder(t, baseConfig()).Fingerprint())
}

func TestTypeTemplatesForEntity(t *testing.T) {
	tt, _, id := builtTypeTemplates(t)
	ctx := context.Background()
	fallback := template.New(template.NewField("field0", 1))

	t.Run("no typed template", func(t *testing.T) {
		got, err := tt.ForEntity(ctx, id("e3"), StrategyUnion, fallback)
		require.NoError(t, err)
		assert.Same(t, fallback, got)
	})

	t.Run("single type", func(t *testing.T) {
		got, err := tt.ForEntity(ctx, id("e1"), StrategyUnion, fallback)
		require.NoError(t, err)
		a, _ := tt.ForType(typeA)
		assert.True(t, a.Equal(got))
	})

	t.Run("union", func(t *testing.T) {
		got, err := tt.ForEntity(ctx, id("e4"), StrategyUnion, fallback)
		require.NoError(t, err)
		assert.Equal(t, []string{exAge, exKnows, exName, rdfType}, got.Fields[0].Predicates.Sorted())
		assert.Empty(t, got.Fields[1].Predicates)
	})

	t.Run("most appearances", func(t *testing.T) {
		got, err := tt.ForEntity(ctx, id("e4"), StrategyMostAppearances, fallback)
		require.NoError(t, err)
		assert.Equal(t, []string{exAge, exKnows, exName, rdfType}, got.Fields[0].Predicates.Sorted())
		assert.Empty(t, got.Fields[1].Predicates)
	})

	t.Run("repetitions", func(t *testing.T) {
		got, err := tt.ForEntity(ctx, id("e4"), StrategyRepetitions, fallback)
		require.NoError(t, err)
		assert.Equal(t, template.PredicateSet{exAge: 1, exKnows: 1, exName: 1, rdfType: 1}, got.Fields[0].Predicates)
		assert.Equal(t, template.PredicateSet{exName: 1, rdfType: 1}, got.Fields[1].Predicates)
	})

	t.Run("geometric mean", func(t *testing.T) {
		got, err := tt.ForEntity(ctx, id("e4"), StrategyGeometricMean, fallback)
		require.NoError(t, err)
		require.Len(t, got.Fields, 2)
		assert.Equal(t, []string{exAge, exKnows}, got.Fields[0].Predicates.Sorted())
		assert.Equal(t, []string{exName, rdfType}, got.Fields[1].Predicates.Sorted())
	})

	t.Run("maximum values", func(t *testing.T) {
		got, err := tt.ForEntity(ctx, id("e4"), StrategyMaximumValues, fallback)
		require.NoError(t, err)
		require.Len(t, got.Fields, 2)
		assert.Len(t, got.Predicates(), 4)
	})

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := tt.ForEntity(ctx, id("e4"), CombinationStrategy("vote"), fallback)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("geometricMean")
	require.NoError(t, err)
	assert.Equal(t, StrategyGeometricMean, s)

	_, err = ParseStrategy("vote")
	assert.ErrorIs(t, err, apperrors.ErrConfigConflict)
}
