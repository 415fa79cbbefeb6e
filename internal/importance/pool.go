package importance

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

const chunkSize = 512

// forEachID runs fn for every ID in 1..n on a bounded pool and returns once
// every task has finished. IDs are handed out in chunks to keep scheduling
// overhead low on large dictionaries.
func forEachID(ctx context.Context, workers int, n uint64, fn func(ctx context.Context, id uint64) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for start := uint64(1); start <= n; start += chunkSize {
		if gctx.Err() != nil {
			break
		}
		end := min(start+chunkSize-1, n)
		g.Go(func() error {
			for id := start; id <= end; id++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := fn(gctx, id); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// stageMap collects per-predicate rows written by concurrent tasks. Each task
// owns its predicate key, so the lock only guards the outer map.
type stageMap struct {
	mu     sync.Mutex
	scores Scores
}

func newStageMap() *stageMap {
	return &stageMap{scores: make(Scores)}
}

func (m *stageMap) put(p uint64, row map[uint64]float64) {
	if len(row) == 0 {
		return
	}
	m.mu.Lock()
	m.scores[p] = row
	m.mu.Unlock()
}

func (m *stageMap) layer(name string) *Layer {
	return &Layer{Name: name, Scores: m.scores}
}
