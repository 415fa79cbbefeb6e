package triples

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/knakk/rdf"
)

// LoadNTriples parses an N-Triples stream into a MemoryIndex. IRIs are stored
// bare, blank nodes as _:label and literals in their N-Triples serialization,
// so literal objects keep the leading double quote that IsLiteral checks.
func LoadNTriples(r io.Reader) (*MemoryIndex, error) {
	logger := slog.Default().With("component", "triples-loader")
	dec := rdf.NewTripleDecoder(r, rdf.NTriples)
	b := NewBuilder()
	for {
		t, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding n-triples after %d triples: %w", b.Len(), err)
		}
		b.Add(termString(t.Subj), termString(t.Pred), termString(t.Obj))
		if n := b.Len(); n%1_000_000 == 0 {
			logger.Info("loading triples", "triples", n)
		}
	}
	idx := b.Build()
	logger.Info("graph loaded",
		"triples", idx.NumTriples(),
		"subjects", idx.NumSubjects(),
		"predicates", idx.NumPredicates(),
		"objects", idx.NumObjects(),
		"shared", idx.NumShared(),
	)
	return idx, nil
}

// LoadFile opens path and loads it as N-Triples.
func LoadFile(path string) (*MemoryIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening graph file %s: %w", path, err)
	}
	defer f.Close()
	return LoadNTriples(f)
}

func termString(t rdf.Term) string {
	switch t.Type() {
	case rdf.TermIRI:
		return t.String()
	default:
		return t.Serialize(rdf.NTriples)
	}
}
