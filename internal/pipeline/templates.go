package pipeline

import (
	"context"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/aggregator"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/importance"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/templatestore"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/triples"
	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/logger"
)

// Template scopes accepted in configuration.
const (
	ScopeGlobal = "global"
	ScopeType   = "type"
	ScopeEntity = "entity"
)

// TemplateSet is what a template run leaves for the index run: the global
// template, which doubles as the fallback, and the scope-specific state
// needed to pick a template per entity.
type TemplateSet struct {
	RunID    string
	Scope    string
	Source   aggregator.ScoreSource
	Global   *template.VirtualDocumentTemplate
	Types    *aggregator.TypeTemplates
	Stats    aggregator.BuildStats
	Strategy aggregator.CombinationStrategy
	Cache    *aggregator.MetricsCache
	Builder  *aggregator.Builder
	entity   aggregator.EntitySource
}

// ForEntity returns the template an entity is indexed with.
func (s *TemplateSet) ForEntity(ctx context.Context, entity uint64) (*template.VirtualDocumentTemplate, error) {
	switch s.Scope {
	case ScopeType:
		return s.Types.ForEntity(ctx, entity, s.Strategy, s.Global)
	case ScopeEntity:
		t, err := s.Builder.BuildForEntity(ctx, s.Cache, s.entity, entity)
		if aggregator.IsConvergence(err) {
			return s.Global, nil
		}
		return t, err
	default:
		return s.Global, nil
	}
}

// RunTemplates builds the global template and, for type scope, one template
// per allowed type. Templates are written under the output directory,
// saved to the template store when one is configured, and announced.
func (p *Pipeline) RunTemplates(ctx context.Context) (set *TemplateSet, err error) {
	ctx, runID, end := p.startRun(ctx, "templates")
	defer func() { end(err) }()
	cfg := p.cfg.Templates

	builder, err := aggregator.NewBuilder(p.idx, p.cfg.Clustering, aggregator.Options{
		Workers: p.cfg.Engine.Workers,
		Metrics: p.deps.Metrics,
	})
	if err != nil {
		return nil, err
	}
	strategy, err := aggregator.ParseStrategy(cfg.TypeCombination)
	if err != nil {
		return nil, err
	}
	src, cache, err := p.source(ctx, cfg.Source, builder.IsTypeAllowed)
	if err != nil {
		return nil, err
	}
	var other aggregator.ScoreSource
	if cfg.CombineWith != "" {
		if other, _, err = p.source(ctx, cfg.CombineWith, builder.IsTypeAllowed); err != nil {
			return nil, err
		}
	}

	var global *template.VirtualDocumentTemplate
	if other != nil {
		global, err = builder.BuildCombined(ctx, src, other, cfg.CombineWeight, aggregator.Global())
	} else {
		global, err = builder.Build(ctx, src, aggregator.Global())
	}
	if err != nil {
		return nil, fmt.Errorf("building global template: %w", err)
	}
	cache.SetFallback(global)

	set = &TemplateSet{
		RunID:    runID,
		Scope:    cfg.Scope,
		Source:   src,
		Global:   global,
		Strategy: strategy,
		Cache:    cache,
		Builder:  builder,
		entity: aggregator.EntitySource{
			Cache:             cache,
			CombineWithGlobal: cfg.EntityCombineWithGlobal,
			CombinationWeight: cfg.EntityCombinationWeight,
		},
	}
	outputs := []output{{scope: aggregator.Global(), tmpl: global}}

	if cfg.Scope == ScopeType {
		set.Types = aggregator.NewTypeTemplates(builder, cache, src, aggregator.TypeTemplateOptions{
			CombineWith:   other,
			CombineWeight: cfg.CombineWeight,
			Cache:         p.deps.Cache,
			Workers:       p.cfg.Engine.Workers,
		})
		if set.Stats, err = set.Types.BuildAll(ctx); err != nil {
			return nil, err
		}
		types, err := cache.Types()
		if err != nil {
			return nil, err
		}
		for _, scope := range types {
			if t, ok := set.Types.ForType(scope.URI); ok {
				outputs = append(outputs, output{scope: scope, tmpl: t})
			}
		}
	}

	if err := p.publishTemplates(ctx, runID, src.Name(), outputs); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("templates built",
		"scope", cfg.Scope,
		"source", src.Name(),
		"templates", len(outputs),
		"failed", set.Stats.Failed,
	)
	return set, nil
}

type output struct {
	scope aggregator.Scope
	tmpl  *template.VirtualDocumentTemplate
}

// publishTemplates writes template files, saves the store records and
// emits one template.built event per template.
func (p *Pipeline) publishTemplates(ctx context.Context, runID, source string, outputs []output) error {
	events := newBatcher(p.deps.Events.TemplateBuilt, 100)
	records := make([]templatestore.Record, 0, len(outputs))
	now := time.Now().UTC()
	for _, o := range outputs {
		path := filepath.Join(p.cfg.Templates.OutputDir, TemplateFileName(o.scope))
		if err := template.Save(p.deps.Fs, path, o.tmpl); err != nil {
			return fmt.Errorf("saving %s template: %w", o.scope, err)
		}
		records = append(records, templatestore.Record{
			Scope: o.scope.String(), RunID: runID, Source: source, BuiltAt: now, Template: o.tmpl,
		})
		events.track(ctx, o.scope.String(), TemplateBuiltEvent{
			Type:      EventTemplateBuilt,
			RunID:     runID,
			Scope:     o.scope.String(),
			Source:    source,
			Fields:    len(o.tmpl.Fields),
			Status:    "ok",
			Timestamp: now,
		})
	}
	if p.deps.Templates != nil {
		if err := p.deps.Templates.Save(ctx, records...); err != nil {
			return err
		}
		if _, err := p.deps.Templates.DeleteRun(ctx, runID); err != nil {
			return err
		}
	}
	events.flush(ctx)
	return nil
}

// TemplateFileName is the file a scope's template is written to.
func TemplateFileName(scope aggregator.Scope) string {
	if scope.Kind == aggregator.ScopeGlobal {
		return "global.json"
	}
	sum := sha256.Sum256([]byte(scope.URI))
	return fmt.Sprintf("%s-%s-%x.json", scope.Kind, safeName(triples.LocalName(scope.URI)), sum[:4])
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// source resolves a configured source name. "ir" is predicate
// informativeness, "a*b" the geometric mean of two layers, and any other
// name a persisted layer. The returned cache is the one types and entities
// are resolved against.
func (p *Pipeline) source(ctx context.Context, name string, allowed func(string) bool) (aggregator.ScoreSource, *aggregator.MetricsCache, error) {
	if a, b, ok := strings.Cut(name, "*"); ok {
		ca, err := p.fill(ctx, a, allowed)
		if err != nil {
			return nil, nil, err
		}
		cb, err := p.fill(ctx, b, allowed)
		if err != nil {
			return nil, nil, err
		}
		return aggregator.ProductSource{A: ca, B: cb, Exponent: 0.5}, ca, nil
	}
	c, err := p.fill(ctx, name, allowed)
	if err != nil {
		return nil, nil, err
	}
	if name == importance.MetricIR {
		return aggregator.InfoRankSource{Cache: c}, c, nil
	}
	return aggregator.LayerSource{Cache: c}, c, nil
}

func (p *Pipeline) fill(ctx context.Context, metric string, allowed func(string) bool) (*aggregator.MetricsCache, error) {
	have, err := p.store.Metrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stored metrics: %w", err)
	}
	if !slices.Contains(have, metric) {
		return nil, fmt.Errorf("metric %q not in fact store: %w", metric, apperrors.ErrNotFound)
	}
	c := aggregator.NewMetricsCache(p.cfg.Graph.TypePredicate)
	if err := c.Fill(ctx, p.idx, p.store, metric, allowed); err != nil {
		return nil, err
	}
	return c, nil
}
