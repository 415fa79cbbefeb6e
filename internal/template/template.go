// Package template defines the virtual document template: an ordered list
// of weighted fields, each holding the predicates whose values are copied
// into that field when an entity document is synthesized.
package template

import (
	"encoding/json"
	"fmt"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
)

// Common field names.
const (
	TypesFieldName     = "typesField"
	RelationsFieldName = "relations"
)

// PredicateSet maps predicate URI to the number of times its values are
// repeated in a synthesized document.
type PredicateSet map[string]uint64

type predicateEntry struct {
	URI         string `json:"uri"`
	Repetitions uint64 `json:"repetitions"`
}

// Add inserts uri with a single repetition unless it is already present.
func (s PredicateSet) Add(uri string) {
	if _, ok := s[uri]; !ok {
		s[uri] = 1
	}
}

func (s PredicateSet) Contains(uri string) bool {
	_, ok := s[uri]
	return ok
}

// Sorted returns the predicate URIs in lexical order.
func (s PredicateSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for uri := range s {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

func (s PredicateSet) MarshalJSON() ([]byte, error) {
	entries := make([]predicateEntry, 0, len(s))
	for _, uri := range s.Sorted() {
		entries = append(entries, predicateEntry{URI: uri, Repetitions: s[uri]})
	}
	return json.Marshal(entries)
}

func (s *PredicateSet) UnmarshalJSON(data []byte) error {
	var entries []predicateEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	out := make(PredicateSet, len(entries))
	for _, e := range entries {
		out[e.URI] = e.Repetitions
	}
	*s = out
	return nil
}

// Field is one weighted field of a template.
type Field struct {
	Name             string       `json:"name"`
	Weight           float64      `json:"weight"`
	Predicates       PredicateSet `json:"predicates"`
	IsObjectProperty bool         `json:"isObjectProperty"`
	IsEntityLinking  bool         `json:"isEntityLinking"`
}

// NewField returns an empty field.
func NewField(name string, weight float64) Field {
	return Field{Name: name, Weight: weight, Predicates: make(PredicateSet)}
}

func (f Field) Clone() Field {
	cp := f
	cp.Predicates = make(PredicateSet, len(f.Predicates))
	for uri, n := range f.Predicates {
		cp.Predicates[uri] = n
	}
	return cp
}

// VirtualDocumentTemplate is an ordered list of fields; index 0 has the
// highest priority.
type VirtualDocumentTemplate struct {
	Fields []Field `json:"fields"`
}

func New(fields ...Field) *VirtualDocumentTemplate {
	return &VirtualDocumentTemplate{Fields: fields}
}

// Clone returns a deep copy.
func (t *VirtualDocumentTemplate) Clone() *VirtualDocumentTemplate {
	if t == nil {
		return nil
	}
	out := &VirtualDocumentTemplate{Fields: make([]Field, len(t.Fields))}
	for i, f := range t.Fields {
		out.Fields[i] = f.Clone()
	}
	return out
}

// Field returns the field called name.
func (t *VirtualDocumentTemplate) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldOf returns the index of the first field containing uri, or -1.
func (t *VirtualDocumentTemplate) FieldOf(uri string) int {
	for i, f := range t.Fields {
		if f.Predicates.Contains(uri) {
			return i
		}
	}
	return -1
}

// Predicates returns every predicate of the template, deduplicated and sorted.
func (t *VirtualDocumentTemplate) Predicates() []string {
	all := make(PredicateSet)
	for _, f := range t.Fields {
		for uri := range f.Predicates {
			all.Add(uri)
		}
	}
	return all.Sorted()
}

// Weights returns field name → weight.
func (t *VirtualDocumentTemplate) Weights() map[string]float64 {
	out := make(map[string]float64, len(t.Fields))
	for _, f := range t.Fields {
		out[f.Name] = f.Weight
	}
	return out
}

// SortByWeight orders fields by descending weight, keeping the relative
// order of equal weights.
func (t *VirtualDocumentTemplate) SortByWeight() {
	sort.SliceStable(t.Fields, func(i, j int) bool {
		return t.Fields[i].Weight > t.Fields[j].Weight
	})
}

// Validate checks that field names are unique and weights are
// non-increasing.
func (t *VirtualDocumentTemplate) Validate() error {
	names := make(map[string]bool, len(t.Fields))
	for i, f := range t.Fields {
		if f.Name == "" {
			return fmt.Errorf("field %d has no name: %w", i, apperrors.ErrInvalidInput)
		}
		if names[f.Name] {
			return fmt.Errorf("duplicate field %q: %w", f.Name, apperrors.ErrInvalidInput)
		}
		names[f.Name] = true
		if i > 0 && f.Weight > t.Fields[i-1].Weight {
			return fmt.Errorf("field %q weight %v exceeds preceding field: %w", f.Name, f.Weight, apperrors.ErrInvalidInput)
		}
	}
	return nil
}

// Equal reports whether two templates have the same fields in the same order.
func (t *VirtualDocumentTemplate) Equal(o *VirtualDocumentTemplate) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.Fields) != len(o.Fields) {
		return false
	}
	for i, f := range t.Fields {
		g := o.Fields[i]
		if f.Name != g.Name || f.Weight != g.Weight ||
			f.IsObjectProperty != g.IsObjectProperty || f.IsEntityLinking != g.IsEntityLinking ||
			len(f.Predicates) != len(g.Predicates) {
			return false
		}
		for uri, n := range f.Predicates {
			if m, ok := g.Predicates[uri]; !ok || m != n {
				return false
			}
		}
	}
	return true
}
