package pipeline

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/importance"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/logger"
)

// MetricsReport summarises a metrics run.
type MetricsReport struct {
	RunID    string
	Facts    map[string]int
	Stages   []importance.StageEvent
	Duration time.Duration
}

// RunMetrics computes the importance cascade, and InfoRank when enabled,
// into the fact store, drops every cached template and announces
// completion. Layers persisted before a
// failure stay in the store and no completion event is sent.
func (p *Pipeline) RunMetrics(ctx context.Context) (rep *MetricsReport, err error) {
	ctx, runID, end := p.startRun(ctx, "metrics")
	defer func() { end(err) }()
	start := time.Now()

	var mu sync.Mutex
	rep = &MetricsReport{RunID: runID, Facts: make(map[string]int)}
	opts := importance.Options{
		Workers:       p.cfg.Engine.Workers,
		StageTimeout:  p.cfg.Engine.StageTimeout,
		TypePredicate: p.cfg.Graph.TypePredicate,
		Metrics:       p.deps.Metrics,
		OnStage: func(ev importance.StageEvent) {
			mu.Lock()
			rep.Stages = append(rep.Stages, ev)
			mu.Unlock()
		},
	}

	engine, err := importance.NewEngine(p.idx, p.store, opts)
	if err != nil {
		return nil, err
	}
	res, err := engine.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("running importance cascade: %w", err)
	}
	maps.Copy(rep.Facts, res.Facts)

	if p.cfg.Engine.InfoRank {
		pr := p.cfg.Engine.PageRank
		ranker := importance.PageRank{
			Damping:          pr.Damping,
			StartValue:       pr.StartValue,
			Iterations:       pr.Iterations,
			ConsiderLiterals: pr.ConsiderLiterals,
			Workers:          p.cfg.Engine.Workers,
		}
		ir, err := importance.NewInfoRankEngine(p.idx, p.store, ranker, opts)
		if err != nil {
			return nil, err
		}
		irRes, err := ir.Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("running inforank: %w", err)
		}
		maps.Copy(rep.Facts, irRes.Facts)
	}
	rep.Duration = time.Since(start)

	// templates cached against the previous layers are stale now
	if err := p.deps.Cache.Invalidate(ctx); err != nil {
		logger.FromContext(ctx).Warn("failed to invalidate template cache", "error", err)
	}

	event := MetricsCompleteEvent{
		Type:       EventMetricsComplete,
		RunID:      runID,
		Facts:      rep.Facts,
		Stages:     rep.Stages,
		DurationMs: rep.Duration.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if err := p.deps.Events.MetricsComplete.Publish(ctx, kafka.Event{Key: runID, Value: event}); err != nil {
		// facts are already persisted
		logger.FromContext(ctx).Error("failed to announce metrics", "error", err)
	}
	logger.FromContext(ctx).Info("metrics run completed",
		"layers", len(rep.Facts),
		"duration", rep.Duration,
	)
	return rep, nil
}
