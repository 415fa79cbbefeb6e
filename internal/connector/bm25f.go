package connector

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/metrics"
)

type posting struct {
	doc  int
	freq int
}

// fieldIndex is the inverted index of one document field.
type fieldIndex struct {
	postings map[string][]posting
	lengths  map[int]int
	total    int
}

// BM25F is an in-memory inverted index scored with per-field length
// normalization and template field weights.
type BM25F struct {
	mu     sync.RWMutex
	ids    []string
	byID   map[string]int
	fields map[string]*fieldIndex

	limit   int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewBM25F(limit int, m *metrics.Metrics) *BM25F {
	if limit <= 0 {
		limit = 10
	}
	return &BM25F{
		byID:    make(map[string]int),
		fields:  make(map[string]*fieldIndex),
		limit:   limit,
		metrics: m,
		logger:  slog.Default().With("component", "bm25f"),
	}
}

// Index adds documents. IDs must be unique across calls.
func (x *BM25F) Index(ctx context.Context, docs []Document) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if doc.ID == "" {
			return fmt.Errorf("indexing document without id: %w", apperrors.ErrInvalidInput)
		}
		if _, dup := x.byID[doc.ID]; dup {
			return fmt.Errorf("indexing document %s twice: %w", doc.ID, apperrors.ErrInvalidInput)
		}
		ord := len(x.ids)
		x.ids = append(x.ids, doc.ID)
		x.byID[doc.ID] = ord
		for name, values := range doc.Fields {
			fi := x.fields[name]
			if fi == nil {
				fi = &fieldIndex{postings: make(map[string][]posting), lengths: make(map[int]int)}
				x.fields[name] = fi
			}
			freqs := make(map[string]int)
			n := 0
			for _, v := range values {
				for _, term := range Tokenize(v) {
					freqs[term]++
					n++
				}
			}
			for term, f := range freqs {
				fi.postings[term] = append(fi.postings[term], posting{doc: ord, freq: f})
			}
			fi.lengths[ord] = n
			fi.total += n
		}
	}
	x.logger.Debug("documents indexed", "count", len(docs), "total", len(x.ids))
	return nil
}

// Len returns the number of indexed documents.
func (x *BM25F) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// Search scores every document matching at least one query term. For each
// term the weighted, length-normalized field frequencies are summed into a
// single pseudo-frequency before saturation.
func (x *BM25F) Search(ctx context.Context, query string, tmpl *template.VirtualDocumentTemplate, k1, b float64) ([]Result, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("searching without template: %w", apperrors.ErrInvalidInput)
	}
	start := time.Now()
	defer func() { x.metrics.ObserveSearch(BackendBM25F, time.Since(start)) }()

	x.mu.RLock()
	defer x.mu.RUnlock()

	total := int64(len(x.ids))
	scores := make(map[int]float64)
	for _, term := range uniqueTerms(query) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pseudo := make(map[int]float64)
		for _, f := range tmpl.Fields {
			fi := x.fields[f.Name]
			if fi == nil || f.Weight <= 0 {
				continue
			}
			avg := float64(fi.total) / float64(len(fi.lengths))
			for _, p := range fi.postings[term] {
				pseudo[p.doc] += f.Weight * float64(p.freq) / lengthNorm(float64(fi.lengths[p.doc]), avg, b)
			}
		}
		idf := computeIDF(total, int64(len(pseudo)))
		for doc, tf := range pseudo {
			scores[doc] += idf * tf * (k1 + 1) / (k1 + tf)
		}
	}
	return x.top(scores), nil
}

// SearchBulk runs each query concurrently and keys the results by query id.
func (x *BM25F) SearchBulk(ctx context.Context, queries map[string]string, tmpl *template.VirtualDocumentTemplate, k1, b float64) (map[string][]Result, error) {
	return searchBulk(ctx, x, queries, tmpl, k1, b)
}

func (x *BM25F) Close() error { return nil }

func (x *BM25F) top(scores map[int]float64) []Result {
	h := &resultHeap{}
	for doc, s := range scores {
		heap.Push(h, Result{ID: x.ids[doc], Score: round(s)})
		if h.Len() > x.limit {
			heap.Pop(h)
		}
	}
	out := make([]Result, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Result)
	}
	return out
}

func uniqueTerms(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range Tokenize(query) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq)
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func lengthNorm(length, avg, b float64) float64 {
	if avg == 0 {
		return 1
	}
	return 1 - b + b*length/avg
}

func searchBulk(ctx context.Context, c Connector, queries map[string]string, tmpl *template.VirtualDocumentTemplate, k1, b float64) (map[string][]Result, error) {
	var mu sync.Mutex
	out := make(map[string][]Result, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for id, q := range queries {
		g.Go(func() error {
			res, err := c.Search(gctx, q, tmpl, k1, b)
			if err != nil {
				return fmt.Errorf("searching query %s: %w", id, err)
			}
			mu.Lock()
			out[id] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// resultHeap is a min-heap on score; the lowest-ranked hit is on top.
type resultHeap []Result

func (h resultHeap) Len() int { return len(h) }

func (h resultHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].ID > h[j].ID
}

func (h resultHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x any) {
	*h = append(*h, x.(Result))
}

func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
