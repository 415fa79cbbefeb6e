package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/aggregator"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/connector"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/triples"
	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/logger"
)

const indexBatchSize = 1000

// Per-entity failure reasons.
const (
	FailureUnknownID    = "unknown_id"
	FailureOversizedIRI = "oversized_iri"
	FailureConvergence  = "convergence"
	FailureTemplate     = "template"
)

// IndexStats counts the outcome of an index run.
type IndexStats struct {
	Processed int            `json:"processed"`
	Indexed   int            `json:"indexed"`
	Failed    int            `json:"failed"`
	Failures  map[string]int `json:"failures"`
}

// RunIndex renders every subject of the graph through its template and
// indexes the documents. Entities that cannot be rendered are logged and
// counted; the run goes on. Progress is reported every progressEvery
// entities.
func (p *Pipeline) RunIndex(ctx context.Context, set *TemplateSet, conn connector.Connector) (stats IndexStats, err error) {
	ctx, runID, end := p.startRun(ctx, "index")
	defer func() { end(err) }()
	log := logger.FromContext(ctx)

	stats.Failures = make(map[string]int)
	total := p.idx.NumSubjects()
	every := max(p.cfg.Templates.ProgressEvery, 1)
	workers := p.cfg.Engine.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	for lo := uint64(1); lo <= total; lo += indexBatchSize {
		hi := min(lo+indexBatchSize-1, total)
		docs := make([]*connector.Document, hi-lo+1)
		reasons := make([]string, hi-lo+1)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for id := lo; id <= hi; id++ {
			g.Go(func() error {
				doc, reason, err := p.document(gctx, set, id)
				if err != nil {
					return err
				}
				docs[id-lo], reasons[id-lo] = doc, reason
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, fmt.Errorf("rendering entities %d-%d: %w", lo, hi, err)
		}

		batch := make([]connector.Document, 0, len(docs))
		for i, doc := range docs {
			if doc != nil {
				batch = append(batch, *doc)
				continue
			}
			stats.Failures[reasons[i]]++
			stats.Failed++
			p.deps.Metrics.EntityIndexed("failed")
		}
		if err := conn.Index(ctx, batch); err != nil {
			return stats, fmt.Errorf("indexing entities %d-%d: %w", lo, hi, err)
		}
		for range batch {
			p.deps.Metrics.EntityIndexed("ok")
		}
		before := stats.Processed
		stats.Indexed += len(batch)
		stats.Processed += len(docs)
		if stats.Processed/every > before/every {
			p.reportProgress(ctx, runID, stats, int(total), false)
		}
	}

	p.reportProgress(ctx, runID, stats, int(total), true)
	log.Info("index run completed",
		"indexed", stats.Indexed,
		"failed", stats.Failed,
	)
	return stats, nil
}

// document renders one entity. A nil document with a reason is a
// per-entity failure; an error aborts the run.
func (p *Pipeline) document(ctx context.Context, set *TemplateSet, id uint64) (*connector.Document, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	log := logger.FromContext(ctx)
	uri := p.idx.IDToString(id, triples.RoleSubject)
	if uri == "" {
		log.Warn("entity skipped", "entity_id", id, "reason", FailureUnknownID)
		return nil, FailureUnknownID, nil
	}
	if len(uri) > p.cfg.Graph.MaxEntityIRILength {
		log.Warn("entity skipped", "entity_id", id, "iri_length", len(uri), "reason", FailureOversizedIRI)
		return nil, FailureOversizedIRI, nil
	}
	tmpl, err := set.ForEntity(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		reason := FailureTemplate
		if aggregator.IsConvergence(err) {
			reason = FailureConvergence
		}
		log.Warn("entity skipped", "entity", uri, "reason", reason, "error", err)
		return nil, reason, nil
	}
	doc, err := connector.ExtractDocument(p.idx, id, tmpl)
	if errors.Is(err, apperrors.ErrNotFound) {
		log.Warn("entity skipped", "entity", uri, "reason", FailureUnknownID)
		return nil, FailureUnknownID, nil
	}
	if err != nil {
		return nil, "", err
	}
	return &doc, "", nil
}

func (p *Pipeline) reportProgress(ctx context.Context, runID string, stats IndexStats, total int, done bool) {
	logger.FromContext(ctx).Info("index progress",
		"processed", stats.Processed,
		"total", total,
		"indexed", stats.Indexed,
		"failed", stats.Failed,
	)
	event := IndexProgressEvent{
		Type:      EventIndexProgress,
		RunID:     runID,
		Processed: stats.Processed,
		Indexed:   stats.Indexed,
		Failed:    stats.Failed,
		Total:     total,
		Done:      done,
		Timestamp: time.Now().UTC(),
	}
	if err := p.deps.Events.IndexProgress.Publish(ctx, kafka.Event{Key: runID, Value: event}); err != nil {
		logger.FromContext(ctx).Error("failed to publish progress", "error", err)
	}
}
