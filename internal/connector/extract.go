package connector

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/triples"
	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
)

// ExtractDocument renders an entity into the fields of tmpl. Literal
// objects contribute their lexical form and IRIs their local name, except
// in entity-linking fields where the full IRI is kept. Every value is
// repeated as many times as its predicate's repetitions.
func ExtractDocument(idx triples.Index, entity uint64, tmpl *template.VirtualDocumentTemplate) (Document, error) {
	uri := idx.IDToString(entity, triples.RoleSubject)
	if uri == "" {
		return Document{}, fmt.Errorf("extracting entity %d: %w", entity, apperrors.ErrNotFound)
	}
	doc := Document{ID: uri, Fields: make(map[string][]string, len(tmpl.Fields))}
	for _, f := range tmpl.Fields {
		var values []string
		for _, pred := range f.Predicates.Sorted() {
			p := idx.StringToID(pred, triples.RolePredicate)
			if p == 0 {
				continue
			}
			reps := max(f.Predicates[pred], 1)
			for t := range idx.Search(entity, p, triples.Wildcard) {
				v := objectValue(idx.IDToString(t.O, triples.RoleObject), f.IsEntityLinking)
				for range reps {
					values = append(values, v)
				}
			}
		}
		if len(values) > 0 {
			doc.Fields[f.Name] = values
		}
	}
	return doc, nil
}

func objectValue(term string, linking bool) string {
	switch {
	case triples.IsLiteral(term):
		return triples.LiteralValue(term)
	case linking:
		return term
	default:
		return triples.LocalName(term)
	}
}
