package connector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/metrics"
)

// Bleve indexes documents into an in-memory bleve index. Each template
// field becomes a document field and a query is the disjunction of one
// match query per field, boosted by the field weight. Bleve applies its
// own scoring model, so k1 and b are not used.
type Bleve struct {
	index   bleve.Index
	limit   int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewBleve(limit int, m *metrics.Metrics) (*Bleve, error) {
	if limit <= 0 {
		limit = 10
	}
	mapping := bleve.NewIndexMapping()
	mapping.DefaultAnalyzer = simple.Name
	index, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("creating bleve index: %w", err)
	}
	return &Bleve{
		index:   index,
		limit:   limit,
		metrics: m,
		logger:  slog.Default().With("component", "bleve-connector"),
	}, nil
}

func (c *Bleve) Index(ctx context.Context, docs []Document) error {
	batch := c.index.NewBatch()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if doc.ID == "" {
			return fmt.Errorf("indexing document without id: %w", apperrors.ErrInvalidInput)
		}
		body := make(map[string]any, len(doc.Fields))
		for name, values := range doc.Fields {
			body[name] = strings.Join(values, " ")
		}
		if err := batch.Index(doc.ID, body); err != nil {
			return fmt.Errorf("batching document %s: %w", doc.ID, err)
		}
	}
	if err := c.index.Batch(batch); err != nil {
		return fmt.Errorf("writing bleve batch: %w", err)
	}
	c.logger.Debug("documents indexed", "count", len(docs))
	return nil
}

func (c *Bleve) Search(ctx context.Context, text string, tmpl *template.VirtualDocumentTemplate, _, _ float64) ([]Result, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("searching without template: %w", apperrors.ErrInvalidInput)
	}
	start := time.Now()
	defer func() { c.metrics.ObserveSearch(BackendBleve, time.Since(start)) }()

	var disjuncts []query.Query
	for _, f := range tmpl.Fields {
		if f.Weight <= 0 {
			continue
		}
		mq := bleve.NewMatchQuery(text)
		mq.SetField(f.Name)
		mq.SetBoost(f.Weight)
		disjuncts = append(disjuncts, mq)
	}
	if len(disjuncts) == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(disjuncts...), c.limit, 0, false)
	res, err := c.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("searching bleve index: %w", err)
	}
	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, Result{ID: hit.ID, Score: round(hit.Score)})
	}
	return out, nil
}

func (c *Bleve) SearchBulk(ctx context.Context, queries map[string]string, tmpl *template.VirtualDocumentTemplate, k1, b float64) (map[string][]Result, error) {
	return searchBulk(ctx, c, queries, tmpl, k1, b)
}

// Len returns the number of indexed documents.
func (c *Bleve) Len() (uint64, error) {
	return c.index.DocCount()
}

func (c *Bleve) Close() error {
	return c.index.Close()
}
