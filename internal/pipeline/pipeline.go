// Package pipeline wires the metric engine, the template builder and the
// search connectors into the three runs the binaries expose: computing
// metrics into the fact store, building templates from them, and indexing
// every entity of the graph through its template.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/factstore"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/templatecache"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/templatestore"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/triples"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/tracing"
)

// Deps are the optional collaborators of a Pipeline.
type Deps struct {
	// Fs receives template files. Defaults to the OS filesystem.
	Fs afero.Fs
	// Templates persists templates in SQL when set.
	Templates *templatestore.Store
	// Cache shares type templates between runs and processes.
	Cache   templatecache.Cache
	Events  Events
	Metrics *metrics.Metrics
}

// Pipeline runs the indexing stages over one graph and fact store.
type Pipeline struct {
	cfg    *config.Config
	idx    triples.Index
	store  factstore.Store
	deps   Deps
	logger *slog.Logger
}

func New(cfg *config.Config, idx triples.Index, store factstore.Store, deps Deps) *Pipeline {
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.Cache == nil {
		deps.Cache = templatecache.NewMemory(deps.Metrics)
	}
	deps.Events.MetricsComplete = orNop(deps.Events.MetricsComplete)
	deps.Events.TemplateBuilt = orNop(deps.Events.TemplateBuilt)
	deps.Events.IndexProgress = orNop(deps.Events.IndexProgress)
	return &Pipeline{
		cfg:    cfg,
		idx:    idx,
		store:  store,
		deps:   deps,
		logger: slog.Default().With("component", "pipeline"),
	}
}

// startRun tags ctx with a fresh run id and a root span. The returned
// function ends the span and logs the span tree.
func (p *Pipeline) startRun(ctx context.Context, name string) (context.Context, string, func(error)) {
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	ctx, span := tracing.StartSpan(ctx, name, runID)
	logger.FromContext(ctx).Info("run started", "run", name)
	return ctx, runID, func(err error) {
		span.EndWithError(err)
		span.Log(logger.FromContext(ctx))
	}
}
