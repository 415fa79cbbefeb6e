package aggregator

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
)

// BuildForEntity builds a template restricted to one entity. An entity
// with no allowed type gets the cache's fallback template itself, not a
// copy.
func (b *Builder) BuildForEntity(ctx context.Context, cache *MetricsCache, src ScoreSource, entity uint64) (*template.VirtualDocumentTemplate, error) {
	fallback, err := cache.Fallback()
	if err != nil {
		return nil, err
	}
	types, err := cache.EntityTypes(entity)
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		b.metrics.TemplateBuilt(ScopeEntity.String(), "fallback")
		return fallback, nil
	}
	uri, err := cache.EntityURI(entity)
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, src, ForEntity(entity, uri))
}
