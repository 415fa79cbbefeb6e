package triples

import (
	"iter"
	"sort"
)

// Builder accumulates string triples and compiles them into a MemoryIndex.
// Duplicate triples are collapsed. A Builder is not safe for concurrent use.
type Builder struct {
	seen    map[[3]string]struct{}
	triples [][3]string
}

func NewBuilder() *Builder {
	return &Builder{seen: make(map[[3]string]struct{})}
}

// Add records one triple. Literal objects must be in serialized form,
// starting with a double quote.
func (b *Builder) Add(s, p, o string) {
	key := [3]string{s, p, o}
	if _, ok := b.seen[key]; ok {
		return
	}
	b.seen[key] = struct{}{}
	b.triples = append(b.triples, key)
}

// Len returns the number of distinct triples added so far.
func (b *Builder) Len() int {
	return len(b.triples)
}

// Build assigns role-scoped IDs and returns the compiled index.
func (b *Builder) Build() *MemoryIndex {
	subjects := make(map[string]struct{})
	objects := make(map[string]struct{})
	predicates := make(map[string]struct{})
	for _, t := range b.triples {
		subjects[t[0]] = struct{}{}
		predicates[t[1]] = struct{}{}
		objects[t[2]] = struct{}{}
	}

	var shared, subjOnly, objOnly []string
	for s := range subjects {
		if _, ok := objects[s]; ok {
			shared = append(shared, s)
		} else {
			subjOnly = append(subjOnly, s)
		}
	}
	for o := range objects {
		if _, ok := subjects[o]; !ok {
			objOnly = append(objOnly, o)
		}
	}
	sort.Strings(shared)
	sort.Strings(subjOnly)
	sort.Strings(objOnly)

	m := &MemoryIndex{
		nShared:  uint64(len(shared)),
		subjects: newSection(shared, subjOnly),
		objects:  newSection(shared, objOnly),
	}
	preds := make([]string, 0, len(predicates))
	for p := range predicates {
		preds = append(preds, p)
	}
	sort.Strings(preds)
	m.predicates = newSection(preds, nil)

	m.spo = make([]Triple, 0, len(b.triples))
	for _, t := range b.triples {
		m.spo = append(m.spo, Triple{
			S: m.subjects.ids[t[0]],
			P: m.predicates.ids[t[1]],
			O: m.objects.ids[t[2]],
		})
	}
	sort.Slice(m.spo, func(i, j int) bool {
		a, c := m.spo[i], m.spo[j]
		if a.S != c.S {
			return a.S < c.S
		}
		if a.P != c.P {
			return a.P < c.P
		}
		return a.O < c.O
	})
	m.bySubject = make(map[uint64][]int32)
	m.byPredicate = make(map[uint64][]int32)
	m.byObject = make(map[uint64][]int32)
	for i, t := range m.spo {
		m.bySubject[t.S] = append(m.bySubject[t.S], int32(i))
		m.byPredicate[t.P] = append(m.byPredicate[t.P], int32(i))
		m.byObject[t.O] = append(m.byObject[t.O], int32(i))
	}
	return m
}

// section is one role of the dictionary. terms[0] is unused so IDs index
// directly.
type section struct {
	terms []string
	ids   map[string]uint64
}

func newSection(first, rest []string) section {
	s := section{
		terms: make([]string, 1, len(first)+len(rest)+1),
		ids:   make(map[string]uint64, len(first)+len(rest)),
	}
	for _, t := range first {
		s.ids[t] = uint64(len(s.terms))
		s.terms = append(s.terms, t)
	}
	for _, t := range rest {
		s.ids[t] = uint64(len(s.terms))
		s.terms = append(s.terms, t)
	}
	return s
}

func (s section) lookup(id uint64) string {
	if id == 0 || id >= uint64(len(s.terms)) {
		return ""
	}
	return s.terms[id]
}

func (s section) size() uint64 {
	return uint64(len(s.terms) - 1)
}

// MemoryIndex is an immutable in-memory Index. Triples are kept sorted in
// SPO order with per-role position lists for bound patterns.
type MemoryIndex struct {
	nShared     uint64
	subjects    section
	predicates  section
	objects     section
	spo         []Triple
	bySubject   map[uint64][]int32
	byPredicate map[uint64][]int32
	byObject    map[uint64][]int32
}

// Search yields every triple matching the pattern. Results for a bound
// subject come in (P, O) order.
func (m *MemoryIndex) Search(s, p, o uint64) iter.Seq[Triple] {
	return func(yield func(Triple) bool) {
		var positions []int32
		switch {
		case s != Wildcard:
			positions = m.bySubject[s]
			if o != Wildcard && len(m.byObject[o]) < len(positions) {
				positions = m.byObject[o]
			}
		case o != Wildcard:
			positions = m.byObject[o]
			if p != Wildcard && len(m.byPredicate[p]) < len(positions) {
				positions = m.byPredicate[p]
			}
		case p != Wildcard:
			positions = m.byPredicate[p]
		default:
			for _, t := range m.spo {
				if !yield(t) {
					return
				}
			}
			return
		}
		for _, pos := range positions {
			t := m.spo[pos]
			if (s == Wildcard || t.S == s) && (p == Wildcard || t.P == p) && (o == Wildcard || t.O == o) {
				if !yield(t) {
					return
				}
			}
		}
	}
}

func (m *MemoryIndex) StringToID(term string, role Role) uint64 {
	switch role {
	case RoleSubject:
		return m.subjects.ids[term]
	case RolePredicate:
		return m.predicates.ids[term]
	case RoleObject:
		return m.objects.ids[term]
	}
	return 0
}

func (m *MemoryIndex) IDToString(id uint64, role Role) string {
	switch role {
	case RoleSubject:
		return m.subjects.lookup(id)
	case RolePredicate:
		return m.predicates.lookup(id)
	case RoleObject:
		return m.objects.lookup(id)
	}
	return ""
}

func (m *MemoryIndex) NumSubjects() uint64   { return m.subjects.size() }
func (m *MemoryIndex) NumPredicates() uint64 { return m.predicates.size() }
func (m *MemoryIndex) NumObjects() uint64    { return m.objects.size() }
func (m *MemoryIndex) NumShared() uint64     { return m.nShared }

// NumTriples returns the number of distinct triples.
func (m *MemoryIndex) NumTriples() int { return len(m.spo) }
