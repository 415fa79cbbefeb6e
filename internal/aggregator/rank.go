package aggregator

import (
	"math/rand/v2"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/cluster"
)

// rankClusters orders clusters by descending centroid.
//
// With TieBreakDeterministic equal centroids are ordered by size, larger
// first, then by their lexically smallest member. With TieBreakRandom a
// centroid equal to one already seen is replaced by a random key in
// [0, 0.01) before sorting, so a tied cluster usually sinks towards the
// bottom.
func rankClusters(clusters []cluster.Cluster, mode string, rng *rand.Rand) []cluster.Cluster {
	type ranked struct {
		key   float64
		first string
		c     cluster.Cluster
	}
	out := make([]ranked, len(clusters))
	seen := make(map[float64]bool, len(clusters))
	for i, c := range clusters {
		key := centroidValue(c)
		if mode == TieBreakRandom {
			if seen[key] {
				key = rng.Float64() * 0.01
			}
			seen[key] = true
		}
		out[i] = ranked{key: key, first: smallestID(c), c: c}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.key != b.key {
			return a.key > b.key
		}
		if len(a.c.Points) != len(b.c.Points) {
			return len(a.c.Points) > len(b.c.Points)
		}
		return a.first < b.first
	})
	result := make([]cluster.Cluster, len(out))
	for i, r := range out {
		result[i] = r.c
	}
	return result
}

func centroidValue(c cluster.Cluster) float64 {
	if len(c.Centroid) == 0 {
		return 0
	}
	return c.Centroid[0]
}

func smallestID(c cluster.Cluster) string {
	first := ""
	for i, p := range c.Points {
		if i == 0 || p.ID < first {
			first = p.ID
		}
	}
	return first
}
