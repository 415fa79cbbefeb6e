package cluster

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
)

func points1D(values map[string]float64) []Point {
	ids := make([]string, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Point, len(ids))
	for i, id := range ids {
		out[i] = Point{ID: id, Values: []float64{values[id]}}
	}
	return out
}

func memberSets(clusters []Cluster) [][]string {
	var out [][]string
	for _, c := range clusters {
		ids := make([]string, 0, len(c.Points))
		for _, p := range c.Points {
			ids = append(ids, p.ID)
		}
		sort.Strings(ids)
		out = append(out, ids)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func TestKMeansSeparatesObviousGroups(t *testing.T) {
	pts := points1D(map[string]float64{"p1": 10, "p2": 9, "p3": 1, "p4": 0.9})
	clusters, err := MultiKMeansPlusPlus(pts, Config{K: 2, Attempts: 5, Rand: NewRand(42)})
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, [][]string{{"p1", "p2"}, {"p3", "p4"}}, memberSets(clusters))
}

func TestKMeansPartitionsInput(t *testing.T) {
	values := make(map[string]float64)
	for i := 0; i < 10; i++ {
		values[fmt.Sprintf("p%d", i)] = float64(i * i)
	}
	clusters, err := MultiKMeansPlusPlus(points1D(values), Config{K: 3, Attempts: 5, Rand: NewRand(7)})
	require.NoError(t, err)
	require.Len(t, clusters, 3)

	seen := make(map[string]int)
	for _, c := range clusters {
		assert.NotEmpty(t, c.Points)
		for _, p := range c.Points {
			seen[p.ID]++
		}
	}
	assert.Len(t, seen, 10)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestKMeansDuplicatePoints(t *testing.T) {
	pts := points1D(map[string]float64{"a": 1, "b": 1, "c": 1, "d": 1})
	clusters, err := KMeansPlusPlus(pts, Config{K: 3, Rand: NewRand(1)})
	require.NoError(t, err)
	require.Len(t, clusters, 3)
	total := 0
	for _, c := range clusters {
		assert.NotEmpty(t, c.Points)
		total += len(c.Points)
	}
	assert.Equal(t, 4, total)
	assert.Zero(t, Distortion(clusters))
}

func TestKMeansReproducible(t *testing.T) {
	values := map[string]float64{"a": 0.1, "b": 0.4, "c": 0.45, "d": 2, "e": 2.2, "f": 7, "g": 6.5}
	run := func() [][]string {
		clusters, err := MultiKMeansPlusPlus(points1D(values), Config{K: 3, Attempts: 5, Rand: NewRand(42)})
		require.NoError(t, err)
		return memberSets(clusters)
	}
	assert.Equal(t, run(), run())
}

func TestKMeansTooFewPoints(t *testing.T) {
	pts := points1D(map[string]float64{"a": 1, "b": 2})
	_, err := MultiKMeansPlusPlus(pts, Config{K: 3, Rand: NewRand(42)})
	assert.ErrorIs(t, err, apperrors.ErrConvergence)

	_, err = KMeansPlusPlus(pts, Config{K: 0})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestClusterSSE(t *testing.T) {
	c := Cluster{Centroid: []float64{2}, Points: []Point{{ID: "a", Values: []float64{1}}, {ID: "b", Values: []float64{3}}}}
	assert.Equal(t, 2.0, c.SSE())
	assert.Equal(t, 4.0, Distortion([]Cluster{c, c}))
}

func TestFillEmptyStealsFarthestPoint(t *testing.T) {
	pts := []Point{
		{ID: "a", Values: []float64{0}},
		{ID: "b", Values: []float64{1}},
		{ID: "c", Values: []float64{10}},
	}
	clusters := []Cluster{
		{Centroid: []float64{11.0 / 3}, Points: append([]Point(nil), pts...)},
		{Centroid: []float64{100}},
	}
	assignment := []int{0, 0, 0}
	require.True(t, fillEmpty(clusters, 1, pts, assignment))
	require.Len(t, clusters[1].Points, 1)
	assert.Equal(t, "c", clusters[1].Points[0].ID)
	assert.Len(t, clusters[0].Points, 2)
	assert.Equal(t, []int{0, 0, 1}, assignment)
}

// BenchmarkMultiKMeans measures clustering of a realistic predicate count.
func BenchmarkMultiKMeans(b *testing.B) {
	rng := NewRand(3)
	pts := make([]Point, 2000)
	for i := range pts {
		pts[i] = Point{ID: fmt.Sprintf("p%d", i), Values: []float64{rng.ExpFloat64()}}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := MultiKMeansPlusPlus(pts, Config{K: 3, Attempts: 5, Rand: NewRand(42)}); err != nil {
			b.Fatal(err)
		}
	}
}
