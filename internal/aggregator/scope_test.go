package aggregator

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/factstore"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/importance"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/triples"
	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
)

const (
	rdfType = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	exName  = "http://ex.org/name"
	exKnows = "http://ex.org/knows"
	exAge   = "http://ex.org/age"
	typeA   = "http://ex.org/A"
	typeB   = "http://ex.org/B"
)

// testIndex: e1 is an A, e2 a B, e4 both, e3 has no type.
func testIndex() *triples.MemoryIndex {
	b := triples.NewBuilder()
	b.Add("http://ex.org/e1", rdfType, typeA)
	b.Add("http://ex.org/e1", exName, `"n"`)
	b.Add("http://ex.org/e1", exKnows, "http://ex.org/e2")
	b.Add("http://ex.org/e2", rdfType, typeB)
	b.Add("http://ex.org/e2", exName, `"m"`)
	b.Add("http://ex.org/e2", exAge, `"3"`)
	b.Add("http://ex.org/e3", exName, `"z"`)
	b.Add("http://ex.org/e4", rdfType, typeA)
	b.Add("http://ex.org/e4", rdfType, typeB)
	b.Add("http://ex.org/e4", exName, `"q"`)
	b.Add("http://ex.org/e4", exKnows, "http://ex.org/e1")
	b.Add("http://ex.org/e4", exAge, `"5"`)
	return b.Build()
}

// testLayer scores A as {knows 10, name 9, type 1} and B as
// {type 9, age 8, name 1}.
func testLayer(idx triples.Index) *importance.Layer {
	p := func(s string) uint64 { return idx.StringToID(s, triples.RolePredicate) }
	o := func(s string) uint64 { return idx.StringToID(s, triples.RoleObject) }
	a, b := o(typeA), o(typeB)
	return &importance.Layer{
		Name: importance.LayerEntropyEntityTypeImportance,
		Scores: importance.Scores{
			p(exKnows): {a: 10},
			p(exName):  {a: 9, b: 1},
			p(rdfType): {a: 1, b: 9},
			p(exAge):   {b: 8},
		},
	}
}

func filledCache(t *testing.T, allowed func(string) bool) (*MetricsCache, *triples.MemoryIndex) {
	t.Helper()
	idx := testIndex()
	c := NewMetricsCache(rdfType)
	c.FillFromLayer(testLayer(idx), idx, allowed)
	return c, idx
}

func entityID(idx triples.Index, local string) uint64 {
	return idx.StringToID("http://ex.org/"+local, triples.RoleSubject)
}

func TestCacheNotFilled(t *testing.T) {
	c := NewMetricsCache(rdfType)
	assert.False(t, c.Filled())
	_, err := LayerSource{Cache: c}.Scores(context.Background(), Global())
	assert.ErrorIs(t, err, apperrors.ErrCacheNotFilled)
	_, err = c.Types()
	assert.ErrorIs(t, err, apperrors.ErrCacheNotFilled)
	_, err = c.Fallback()
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLayerSourceScopes(t *testing.T) {
	c, idx := filledCache(t, nil)
	ctx := context.Background()
	src := LayerSource{Cache: c}

	global, err := src.Scores(ctx, Global())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{exKnows: 10, exName: 10, rdfType: 10, exAge: 8}, global)

	sums, err := c.GlobalSums()
	require.NoError(t, err)
	assert.Equal(t, global, sums)

	squared, err := LayerSource{Cache: c, Exponent: 2}.Scores(ctx, Global())
	require.NoError(t, err)
	assert.Equal(t, 82.0, squared[exName])

	b := idx.StringToID(typeB, triples.RoleObject)
	perType, err := src.Scores(ctx, ForType(b, typeB))
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{exName: 1, rdfType: 9, exAge: 8}, perType)

	e1 := entityID(idx, "e1")
	perEntity, err := src.Scores(ctx, ForEntity(e1, "http://ex.org/e1"))
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{exKnows: 10, exName: 9, rdfType: 1}, perEntity)
}

func TestCacheTypeFilter(t *testing.T) {
	c, idx := filledCache(t, func(uri string) bool { return uri == typeA })
	types, err := c.Types()
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, typeA, types[0].URI)

	entityTypes, err := c.EntityTypes(entityID(idx, "e4"))
	require.NoError(t, err)
	assert.Equal(t, []string{typeA}, entityTypes)

	preds, err := c.Predicates()
	require.NoError(t, err)
	assert.Equal(t, []string{exKnows, exName, rdfType}, preds)
}

func TestEntitySourceCombinesWithGlobal(t *testing.T) {
	c, idx := filledCache(t, nil)
	e4 := ForEntity(entityID(idx, "e4"), "http://ex.org/e4")

	plain, err := EntitySource{Cache: c}.Scores(context.Background(), e4)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{exKnows: 10, exName: 10, rdfType: 10, exAge: 8}, plain)

	e1 := ForEntity(entityID(idx, "e1"), "http://ex.org/e1")
	mixed, err := EntitySource{Cache: c, CombineWithGlobal: true, CombinationWeight: 0.5}.Scores(context.Background(), e1)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(9*10), mixed[exName], 1e-12)
	assert.InDelta(t, 10, mixed[exKnows], 1e-12)
}

func TestProductSource(t *testing.T) {
	c, _ := filledCache(t, nil)
	got, err := ProductSource{A: c, B: c}.Scores(context.Background(), Global())
	require.NoError(t, err)
	assert.Equal(t, 82.0, got[exName])
	assert.Equal(t, 100.0, got[exKnows])

	rooted, err := ProductSource{A: c, B: c, Exponent: 0.5}.Scores(context.Background(), Global())
	require.NoError(t, err)
	assert.InDelta(t, 10.0, rooted[exName], 1e-12)
}

func TestInfoRankSourceFromStore(t *testing.T) {
	idx := testIndex()
	store, err := factstore.OpenSegmentStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, importance.MetricIR, []factstore.Fact{
		{Key: factstore.EntityKey(exName), Subject: exName, Metric: importance.MetricIR, Value: 1},
		{Key: factstore.EntityKey(exKnows), Subject: exKnows, Metric: importance.MetricIR, Value: 0.25},
	}))

	c := NewMetricsCache(rdfType)
	require.NoError(t, c.Fill(ctx, idx, store, importance.MetricIR, nil))
	got, err := InfoRankSource{Cache: c}.Scores(ctx, Global())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{exName: 1, exKnows: 0.25}, got)
}

func TestBuildForEntity(t *testing.T) {
	c, idx := filledCache(t, nil)
	cfg := baseConfig()
	b := newBuilder(t, cfg)
	ctx := context.Background()
	src := EntitySource{Cache: c}

	_, err := b.BuildForEntity(ctx, c, src, entityID(idx, "e1"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "fallback required")

	fallback := b.EmptyTemplate()
	c.SetFallback(fallback)

	got, err := b.BuildForEntity(ctx, c, src, entityID(idx, "e3"))
	require.NoError(t, err)
	assert.Same(t, fallback, got)

	got, err = b.BuildForEntity(ctx, c, src, entityID(idx, "e1"))
	require.NoError(t, err)
	assert.Equal(t, []string{exKnows, exName}, got.Fields[0].Predicates.Sorted())
	assert.Equal(t, []string{rdfType}, got.Fields[1].Predicates.Sorted())
}

func TestSplitDatatypeObject(t *testing.T) {
	c, idx := filledCache(t, nil)
	cfg := baseConfig()
	cfg.Buckets = 1
	cfg.SplitDatatypeObject = true
	cfg.DatatypeFieldWeights = []float64{1}
	cfg.ObjectFieldWeights = []float64{0.8}
	cfg.RelationsFields = true
	cfg.RelationsFieldWeights = []float64{0.6}
	b, err := NewBuilder(idx, cfg, Options{Workers: 2})
	require.NoError(t, err)
	ctx := context.Background()

	dp, err := b.DatatypeProperties(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{exName: true, exAge: true}, dp)
	op, err := b.ObjectProperties(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{exKnows: true, rdfType: true}, op)

	tmpl, err := b.Build(ctx, LayerSource{Cache: c}, Global())
	require.NoError(t, err)
	require.Len(t, tmpl.Fields, 3)

	assert.Equal(t, "field0dp", tmpl.Fields[0].Name)
	assert.False(t, tmpl.Fields[0].IsObjectProperty)
	assert.Equal(t, []string{exAge, exName}, tmpl.Fields[0].Predicates.Sorted())

	assert.Equal(t, "field0op", tmpl.Fields[1].Name)
	assert.True(t, tmpl.Fields[1].IsObjectProperty)
	assert.Equal(t, []string{exKnows, rdfType}, tmpl.Fields[1].Predicates.Sorted())

	assert.Equal(t, "relations0", tmpl.Fields[2].Name)
	assert.True(t, tmpl.Fields[2].IsObjectProperty)
	assert.True(t, tmpl.Fields[2].IsEntityLinking)
	assert.Equal(t, 0.6, tmpl.Fields[2].Weight)
	assert.Equal(t, []string{exKnows, rdfType}, tmpl.Fields[2].Predicates.Sorted())
	assert.NoError(t, tmpl.Validate())
}

func TestSplitDatatypeObjectTwoBuckets(t *testing.T) {
	c, idx := filledCache(t, nil)
	cfg := baseConfig()
	cfg.SplitDatatypeObject = true
	cfg.DatatypeFieldWeights = []float64{1, 0.5}
	cfg.ObjectFieldWeights = []float64{0.8, 0.4}
	cfg.RelationsFields = true
	cfg.RelationsFieldWeights = []float64{0.6, 0.3}
	b, err := NewBuilder(idx, cfg, Options{Workers: 2})
	require.NoError(t, err)

	tmpl, err := b.Build(context.Background(), LayerSource{Cache: c}, Global())
	require.NoError(t, err)
	require.Len(t, tmpl.Fields, 6)
	require.NoError(t, tmpl.Validate())

	names := make([]string, len(tmpl.Fields))
	for i, f := range tmpl.Fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"field0dp", "field0op", "relations0", "field1dp", "field1op", "relations1"}, names)

	assert.Equal(t, []string{exName}, tmpl.Fields[0].Predicates.Sorted())
	assert.Equal(t, []string{exAge}, tmpl.Fields[3].Predicates.Sorted())

	// knows and type tie at 10; the smaller URI ranks first
	assert.Equal(t, []string{exKnows}, tmpl.Fields[1].Predicates.Sorted())
	assert.Equal(t, []string{rdfType}, tmpl.Fields[4].Predicates.Sorted())

	for _, i := range []int{2, 5} {
		assert.True(t, tmpl.Fields[i].IsObjectProperty, tmpl.Fields[i].Name)
		assert.True(t, tmpl.Fields[i].IsEntityLinking, tmpl.Fields[i].Name)
	}
	assert.Equal(t, 0.6, tmpl.Fields[2].Weight)
	assert.Equal(t, 0.3, tmpl.Fields[5].Weight)
	assert.Equal(t, []string{exKnows}, tmpl.Fields[2].Predicates.Sorted())
	assert.Equal(t, []string{rdfType}, tmpl.Fields[5].Predicates.Sorted())
}

func TestTypeField(t *testing.T) {
	c, _ := filledCache(t, nil)
	cfg := baseConfig()
	cfg.Buckets = 1
	cfg.FieldWeights = []float64{1}
	cfg.TypePredicatesOverride = []string{rdfType}
	cfg.TypeFieldWeight = 0.7
	b := newBuilder(t, cfg)

	tmpl, err := b.Build(context.Background(), LayerSource{Cache: c}, Global())
	require.NoError(t, err)
	require.Len(t, tmpl.Fields, 2)
	assert.False(t, tmpl.Fields[0].Predicates.Contains(rdfType))
	types, ok := tmpl.Field(template.TypesFieldName)
	require.True(t, ok)
	assert.True(t, types.IsObjectProperty)
	assert.Equal(t, 0.7, types.Weight)
	assert.Equal(t, []string{rdfType}, types.Predicates.Sorted())
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "global", Global().String())
	assert.Equal(t, "type:http://ex.org/A", ForType(3, typeA).String())
	assert.Equal(t, "entity:http://ex.org/e1", ForEntity(1, "http://ex.org/e1").String())
}
