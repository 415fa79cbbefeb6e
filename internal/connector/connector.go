// Package connector indexes synthesized entity documents into a retrieval
// backend and answers field-weighted queries against them. Two backends
// are provided: an in-memory BM25F index and a bleve in-memory index.
package connector

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/metrics"
)

// Backend names accepted by New.
const (
	BackendBM25F = "bm25f"
	BackendBleve = "bleve"
)

// Document is an entity rendered into template fields. Each field holds the
// values copied from its predicates.
type Document struct {
	ID     string              `json:"id"`
	Fields map[string][]string `json:"fields"`
}

// Result is one scored hit.
type Result struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Connector is a retrieval backend scored with template field weights.
type Connector interface {
	Index(ctx context.Context, docs []Document) error
	Search(ctx context.Context, query string, tmpl *template.VirtualDocumentTemplate, k1, b float64) ([]Result, error)
	SearchBulk(ctx context.Context, queries map[string]string, tmpl *template.VirtualDocumentTemplate, k1, b float64) (map[string][]Result, error)
	Close() error
}

// New returns the connector for a configured backend.
func New(backend string, limit int, m *metrics.Metrics) (Connector, error) {
	switch backend {
	case BackendBM25F:
		return NewBM25F(limit, m), nil
	case BackendBleve:
		return NewBleve(limit, m)
	default:
		return nil, fmt.Errorf("unknown search backend %q: %w", backend, apperrors.ErrConfigConflict)
	}
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or a digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func round(score float64) float64 {
	return math.Round(score*10000) / 10000
}
