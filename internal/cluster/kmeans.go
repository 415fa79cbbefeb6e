// Package cluster implements k-means++ clustering of small score vectors
// with multiple restarts. It is single-threaded per call; reproducibility
// comes from the caller-supplied random source.
package cluster

import (
	"fmt"
	"math"
	"math/rand/v2"

	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
)

const defaultMaxIterations = 1000

// Point is a labelled score vector.
type Point struct {
	ID     string
	Values []float64
}

// Cluster is a centroid and the points assigned to it.
type Cluster struct {
	Centroid []float64
	Points   []Point
}

// SSE returns the sum of squared distances from the points to the centroid.
func (c Cluster) SSE() float64 {
	sum := 0.0
	for _, p := range c.Points {
		sum += squaredDistance(p.Values, c.Centroid)
	}
	return sum
}

// Distortion is the total SSE of a clustering.
func Distortion(clusters []Cluster) float64 {
	sum := 0.0
	for _, c := range clusters {
		sum += c.SSE()
	}
	return sum
}

// Config controls a clustering run.
type Config struct {
	K int
	// MaxIterations caps Lloyd iterations; non-positive means 1000.
	MaxIterations int
	// Attempts is the number of independent restarts for
	// MultiKMeansPlusPlus. Non-positive means 1.
	Attempts int
	Rand     *rand.Rand
}

// NewRand returns a deterministic source for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// MultiKMeansPlusPlus runs KMeansPlusPlus cfg.Attempts times and keeps the
// clustering with the lowest distortion. Earlier attempts win ties.
func MultiKMeansPlusPlus(points []Point, cfg Config) ([]Cluster, error) {
	attempts := max(cfg.Attempts, 1)
	var best []Cluster
	bestSSE := math.Inf(1)
	for i := 0; i < attempts; i++ {
		clusters, err := KMeansPlusPlus(points, cfg)
		if err != nil {
			return nil, err
		}
		if sse := Distortion(clusters); sse < bestSSE {
			best, bestSSE = clusters, sse
		}
	}
	return best, nil
}

// KMeansPlusPlus clusters points into exactly cfg.K clusters using k-means++
// seeding followed by Lloyd iterations. It fails with ErrConvergence when
// there are fewer points than clusters.
func KMeansPlusPlus(points []Point, cfg Config) ([]Cluster, error) {
	if cfg.K < 1 {
		return nil, fmt.Errorf("cluster count %d: %w", cfg.K, apperrors.ErrInvalidInput)
	}
	if len(points) < cfg.K {
		return nil, fmt.Errorf("clustering %d points into %d clusters: %w", len(points), cfg.K, apperrors.ErrConvergence)
	}
	rng := cfg.Rand
	if rng == nil {
		rng = NewRand(0)
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	clusters := seed(points, cfg.K, rng)
	assignment := make([]int, len(points))
	for i := range assignment {
		assignment[i] = -1
	}
	for iter := 0; iter < maxIter; iter++ {
		changed := assign(points, clusters, assignment)
		for i := range clusters {
			if len(clusters[i].Points) == 0 {
				if !fillEmpty(clusters, i, points, assignment) {
					break
				}
				changed = true
			}
		}
		for i := range clusters {
			clusters[i].Centroid = centroid(clusters[i].Points, clusters[i].Centroid)
		}
		if !changed {
			break
		}
	}
	return clusters, nil
}

// seed picks k initial centres: the first uniformly, each next one with
// probability proportional to its squared distance from the nearest centre
// already chosen.
func seed(points []Point, k int, rng *rand.Rand) []Cluster {
	taken := make([]bool, len(points))
	first := rng.IntN(len(points))
	taken[first] = true
	clusters := []Cluster{{Centroid: clone(points[first].Values)}}

	minDist := make([]float64, len(points))
	for i, p := range points {
		minDist[i] = squaredDistance(p.Values, points[first].Values)
	}
	for len(clusters) < k {
		sum := 0.0
		for i, d := range minDist {
			if !taken[i] {
				sum += d
			}
		}
		next := -1
		if sum > 0 {
			r := rng.Float64() * sum
			acc := 0.0
			for i, d := range minDist {
				if taken[i] {
					continue
				}
				acc += d
				if acc >= r && d > 0 {
					next = i
					break
				}
			}
		}
		if next < 0 {
			// every remaining point coincides with a centre
			next = pickUntaken(taken, rng)
		}
		taken[next] = true
		clusters = append(clusters, Cluster{Centroid: clone(points[next].Values)})
		for i, p := range points {
			minDist[i] = min(minDist[i], squaredDistance(p.Values, points[next].Values))
		}
	}
	return clusters
}

func pickUntaken(taken []bool, rng *rand.Rand) int {
	free := make([]int, 0, len(taken))
	for i, t := range taken {
		if !t {
			free = append(free, i)
		}
	}
	return free[rng.IntN(len(free))]
}

// assign moves every point to its nearest centroid and reports whether any
// assignment changed. On ties a point stays where it is, otherwise the
// lowest index wins.
func assign(points []Point, clusters []Cluster, assignment []int) bool {
	for i := range clusters {
		clusters[i].Points = nil
	}
	changed := false
	for i, p := range points {
		best, bestDist := 0, math.Inf(1)
		if cur := assignment[i]; cur >= 0 {
			best, bestDist = cur, squaredDistance(p.Values, clusters[cur].Centroid)
		}
		for c := range clusters {
			if d := squaredDistance(p.Values, clusters[c].Centroid); d < bestDist {
				best, bestDist = c, d
			}
		}
		if assignment[i] != best {
			assignment[i] = best
			changed = true
		}
		clusters[best].Points = append(clusters[best].Points, p)
	}
	return changed
}

// fillEmpty moves into clusters[empty] the point farthest from the centroid
// of the cluster with the largest SSE among those with more than one point.
func fillEmpty(clusters []Cluster, empty int, points []Point, assignment []int) bool {
	donor, donorSSE := -1, -1.0
	for i, c := range clusters {
		if len(c.Points) > 1 {
			if sse := c.SSE(); sse > donorSSE {
				donor, donorSSE = i, sse
			}
		}
	}
	if donor < 0 {
		return false
	}
	src := &clusters[donor]
	far, farDist := 0, -1.0
	for i, p := range src.Points {
		if d := squaredDistance(p.Values, src.Centroid); d > farDist {
			far, farDist = i, d
		}
	}
	moved := src.Points[far]
	src.Points = append(src.Points[:far:far], src.Points[far+1:]...)
	clusters[empty].Points = append(clusters[empty].Points, moved)
	clusters[empty].Centroid = clone(moved.Values)
	for i, p := range points {
		if p.ID == moved.ID && assignment[i] == donor {
			assignment[i] = empty
			break
		}
	}
	return true
}

// centroid is the mean of points, or prev when there are none.
func centroid(points []Point, prev []float64) []float64 {
	if len(points) == 0 {
		return prev
	}
	out := make([]float64, len(points[0].Values))
	for _, p := range points {
		for d, v := range p.Values {
			out[d] += v
		}
	}
	for d := range out {
		out[d] /= float64(len(points))
	}
	return out
}

func squaredDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
