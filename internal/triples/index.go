// Package triples defines the triple-pattern index the metric engine and
// template builder query, together with an in-memory implementation and an
// N-Triples loader.
//
// Terms are identified by role-scoped integers. Terms that occur both as a
// subject and as an object live in a shared range 1..NumShared() and carry
// the same ID in both roles. Subject-only and object-only terms are numbered
// from NumShared()+1 within their role, and predicates have their own range.
// The value 0 is the wildcard in Search and the "absent" result of
// StringToID.
package triples

import (
	"iter"
	"strings"
)

// Role selects the dictionary section an ID belongs to.
type Role int

const (
	RoleSubject Role = iota
	RolePredicate
	RoleObject
)

func (r Role) String() string {
	switch r {
	case RoleSubject:
		return "subject"
	case RolePredicate:
		return "predicate"
	case RoleObject:
		return "object"
	default:
		return "unknown"
	}
}

// Wildcard matches any term in a Search pattern.
const Wildcard uint64 = 0

// Triple is a matched (subject, predicate, object) ID triple.
type Triple struct {
	S uint64
	P uint64
	O uint64
}

// Index answers triple patterns over a read-only graph. Implementations must
// be safe for concurrent use.
type Index interface {
	Search(s, p, o uint64) iter.Seq[Triple]
	StringToID(term string, role Role) uint64
	IDToString(id uint64, role Role) string
	NumSubjects() uint64
	NumPredicates() uint64
	NumObjects() uint64
	NumShared() uint64
}

// IsLiteral reports whether a term's string form is a literal.
func IsLiteral(term string) bool {
	return strings.HasPrefix(term, `"`)
}

// IsObjectLiteral reports whether the object with the given ID is a literal.
// IDs in the shared range are subjects as well and therefore never literals.
func IsObjectLiteral(idx Index, id uint64) bool {
	if id <= idx.NumShared() {
		return false
	}
	return IsLiteral(idx.IDToString(id, RoleObject))
}

// LiteralValue returns the lexical form of a serialized literal, without
// quotes, language tag or datatype. Non-literals are returned unchanged.
func LiteralValue(term string) string {
	if !IsLiteral(term) {
		return term
	}
	end := strings.LastIndex(term, `"`)
	if end <= 0 {
		return term[1:]
	}
	return unescape(term[1:end])
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	r := strings.NewReplacer(`\"`, `"`, `\\`, `\`, `\n`, "\n", `\r`, "\r", `\t`, "\t")
	return r.Replace(s)
}

// LocalName returns the fragment or last path segment of an IRI.
func LocalName(iri string) string {
	if i := strings.LastIndexAny(iri, "#/"); i >= 0 && i < len(iri)-1 {
		return iri[i+1:]
	}
	return iri
}

// Count returns the number of triples matching a pattern.
func Count(idx Index, s, p, o uint64) int {
	n := 0
	for range idx.Search(s, p, o) {
		n++
	}
	return n
}
