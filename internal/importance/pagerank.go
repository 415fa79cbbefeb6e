package importance

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/triples"
)

// CentralityRanker scores every subject of an index. Scores are keyed by
// subject ID.
type CentralityRanker interface {
	Rank(ctx context.Context, idx triples.Index) (map[uint64]float64, error)
}

// PageRank is the default CentralityRanker: a fixed number of power
// iterations of PR(v) = (1-d) + d·Σ PR(u)/out(u) over subject→object edges.
type PageRank struct {
	Damping          float64
	StartValue       float64
	Iterations       int
	ConsiderLiterals bool
	Workers          int
}

// DefaultPageRank returns the standard parameters.
func DefaultPageRank() PageRank {
	return PageRank{Damping: 0.85, StartValue: 0.1, Iterations: 40}
}

func (pr PageRank) Rank(ctx context.Context, idx triples.Index) (map[uint64]float64, error) {
	n := idx.NumSubjects()
	shared := idx.NumShared()
	outDeg := make([]float64, n+1)
	err := forEachID(ctx, pr.Workers, n, func(_ context.Context, s uint64) error {
		for t := range idx.Search(s, triples.Wildcard, triples.Wildcard) {
			if pr.ConsiderLiterals || !triples.IsObjectLiteral(idx, t.O) {
				outDeg[s]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	prev := make([]float64, n+1)
	next := make([]float64, n+1)
	for i := range prev {
		prev[i] = pr.StartValue
	}
	for iter := 0; iter < pr.Iterations; iter++ {
		err := forEachID(ctx, pr.Workers, n, func(_ context.Context, v uint64) error {
			sum := 0.0
			// only shared-range subjects ever appear as objects
			if v <= shared {
				for t := range idx.Search(triples.Wildcard, triples.Wildcard, v) {
					if outDeg[t.S] > 0 {
						sum += prev[t.S] / outDeg[t.S]
					}
				}
			}
			next[v] = (1 - pr.Damping) + pr.Damping*sum
			return nil
		})
		if err != nil {
			return nil, err
		}
		prev, next = next, prev
	}

	out := make(map[uint64]float64, n)
	for s := uint64(1); s <= n; s++ {
		out[s] = prev[s]
	}
	return out, nil
}
