package connector

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/triples"
	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
)

func testDocs() []Document {
	return []Document{
		{ID: "d1", Fields: map[string][]string{"field0": {"Alpha"}, "field1": {"gamma"}}},
		{ID: "d2", Fields: map[string][]string{"field0": {"gamma"}, "field1": {"alpha"}}},
		{ID: "d3", Fields: map[string][]string{"field0": {"delta", "delta"}}},
	}
}

func testTemplate(w0, w1 float64) *template.VirtualDocumentTemplate {
	return template.New(template.NewField("field0", w0), template.NewField("field1", w1))
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"barack", "obama", "44th", "président"}, Tokenize("Barack_Obama (44th) Président!"))
	assert.Empty(t, Tokenize(" -- "))
}

func TestBM25FFieldWeights(t *testing.T) {
	ctx := context.Background()
	x := NewBM25F(10, nil)
	require.NoError(t, x.Index(ctx, testDocs()))
	assert.Equal(t, 3, x.Len())

	got, err := x.Search(ctx, "alpha", testTemplate(1, 0.5), 1.2, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"d1", "d2"}, ids(got))

	idf := math.Log((3.0-2)/2.5 + 1)
	assert.InDelta(t, idf, got[0].Score, 1e-4)
	assert.InDelta(t, idf*0.5*2.2/1.7, got[1].Score, 1e-4)

	swapped, err := x.Search(ctx, "alpha", template.New(template.NewField("field1", 2), template.NewField("field0", 1)), 1.2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"d2", "d1"}, ids(swapped))
}

func TestBM25FLengthNormalization(t *testing.T) {
	ctx := context.Background()
	x := NewBM25F(10, nil)
	require.NoError(t, x.Index(ctx, testDocs()))

	// gamma sits in d1's half-weight field and in d2's shorter-than-average
	// full-weight field.
	got, err := x.Search(ctx, "gamma", testTemplate(1, 0.5), 1.2, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"d2", "d1"}, ids(got))
}

func TestBM25FLimitAndErrors(t *testing.T) {
	ctx := context.Background()
	x := NewBM25F(1, nil)
	require.NoError(t, x.Index(ctx, testDocs()))

	got, err := x.Search(ctx, "alpha gamma", testTemplate(1, 0.5), 1.2, 0.75)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	none, err := x.Search(ctx, "zeta", testTemplate(1, 0.5), 1.2, 0.75)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = x.Search(ctx, "alpha", nil, 1.2, 0.75)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	err = x.Index(ctx, []Document{{ID: "d1"}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSearchBulk(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{BackendBM25F, BackendBleve} {
		t.Run(backend, func(t *testing.T) {
			c, err := New(backend, 10, nil)
			require.NoError(t, err)
			defer c.Close()
			require.NoError(t, c.Index(ctx, testDocs()))

			got, err := c.SearchBulk(ctx, map[string]string{"q1": "alpha", "q2": "delta"}, testTemplate(1, 0.5), 1.2, 0.75)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, []string{"d1", "d2"}, ids(got["q1"]))
			assert.Equal(t, []string{"d3"}, ids(got["q2"]))
		})
	}
}

func TestBleveZeroWeightFields(t *testing.T) {
	ctx := context.Background()
	c, err := NewBleve(10, nil)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Index(ctx, testDocs()))
	n, err := c.Len()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	got, err := c.Search(ctx, "alpha", testTemplate(0, 0), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New("solr", 10, nil)
	assert.ErrorIs(t, err, apperrors.ErrConfigConflict)
}

func TestExtractDocument(t *testing.T) {
	b := triples.NewBuilder()
	b.Add("http://ex.org/e1", "http://ex.org/name", `"Alice"@en`)
	b.Add("http://ex.org/e1", "http://ex.org/knows", "http://ex.org/e2")
	b.Add("http://ex.org/e1", "http://www.w3.org/1999/02/22-rdf-syntax-ns#type", "http://ex.org/Person")
	b.Add("http://ex.org/e2", "http://ex.org/name", `"Bob"`)
	idx := b.Build()

	name := template.NewField("field0", 1)
	name.Predicates["http://ex.org/name"] = 2
	name.Predicates.Add("http://ex.org/missing")
	types := template.NewField(template.TypesFieldName, 0.5)
	types.IsObjectProperty = true
	types.Predicates.Add("http://www.w3.org/1999/02/22-rdf-syntax-ns#type")
	rel := template.NewField("relations0", 0.4)
	rel.IsEntityLinking = true
	rel.Predicates.Add("http://ex.org/knows")
	tmpl := template.New(name, types, rel)

	e1 := idx.StringToID("http://ex.org/e1", triples.RoleSubject)
	doc, err := ExtractDocument(idx, e1, tmpl)
	require.NoError(t, err)
	assert.Equal(t, "http://ex.org/e1", doc.ID)
	assert.Equal(t, map[string][]string{
		"field0":                {"Alice", "Alice"},
		template.TypesFieldName: {"Person"},
		"relations0":            {"http://ex.org/e2"},
	}, doc.Fields)

	_, err = ExtractDocument(idx, 999, tmpl)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// BenchmarkBM25FSearch measures a two-term query over 10k documents with
// three weighted fields.
func BenchmarkBM25FSearch(b *testing.B) {
	ctx := context.Background()
	x := NewBM25F(100, nil)
	docs := make([]Document, 10000)
	for i := range docs {
		docs[i] = Document{
			ID: fmt.Sprintf("doc-%d", i),
			Fields: map[string][]string{
				"field0": {fmt.Sprintf("name%d common", i%500)},
				"field1": {fmt.Sprintf("label%d other words", i%50)},
				"field2": {"shared filler text"},
			},
		}
	}
	if err := x.Index(ctx, docs); err != nil {
		b.Fatal(err)
	}
	tmpl := template.New(
		template.NewField("field0", 1),
		template.NewField("field1", 0.5),
		template.NewField("field2", 0.2),
	)
	b.ResetTimer()
	for b.Loop() {
		if _, err := x.Search(ctx, "name42 label7", tmpl, 1.2, 0.75); err != nil {
			b.Fatal(err)
		}
	}
}
