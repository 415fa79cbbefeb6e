package triples

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGraph = `<http://ex.org/alice> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://ex.org/Person> .
<http://ex.org/alice> <http://ex.org/name> "Alice" .
<http://ex.org/alice> <http://ex.org/knows> <http://ex.org/bob> .
<http://ex.org/bob> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://ex.org/Person> .
<http://ex.org/bob> <http://ex.org/name> "Bob"@en .
<http://ex.org/bob> <http://ex.org/name> "Bob"@en .
`

func loadSample(t *testing.T) *MemoryIndex {
	t.Helper()
	idx, err := LoadNTriples(strings.NewReader(sampleGraph))
	require.NoError(t, err)
	return idx
}

func TestLoadNTriplesDictionary(t *testing.T) {
	idx := loadSample(t)

	assert.Equal(t, 5, idx.NumTriples(), "duplicate triple collapsed")
	assert.Equal(t, uint64(2), idx.NumSubjects())
	assert.Equal(t, uint64(3), idx.NumPredicates())
	assert.Equal(t, uint64(1), idx.NumShared(), "bob is subject and object")

	bobS := idx.StringToID("http://ex.org/bob", RoleSubject)
	bobO := idx.StringToID("http://ex.org/bob", RoleObject)
	require.NotZero(t, bobS)
	assert.Equal(t, bobS, bobO, "shared terms keep one id across roles")
	assert.LessOrEqual(t, bobS, idx.NumShared())

	alice := idx.StringToID("http://ex.org/alice", RoleSubject)
	assert.Greater(t, alice, idx.NumShared())
	assert.Zero(t, idx.StringToID("http://ex.org/alice", RoleObject))
	assert.Equal(t, "http://ex.org/alice", idx.IDToString(alice, RoleSubject))
	assert.Empty(t, idx.IDToString(999, RoleSubject))
}

func TestSearchPatterns(t *testing.T) {
	idx := loadSample(t)
	typ := idx.StringToID("http://www.w3.org/1999/02/22-rdf-syntax-ns#type", RolePredicate)
	person := idx.StringToID("http://ex.org/Person", RoleObject)
	alice := idx.StringToID("http://ex.org/alice", RoleSubject)
	name := idx.StringToID("http://ex.org/name", RolePredicate)

	assert.Equal(t, 5, Count(idx, 0, 0, 0))
	assert.Equal(t, 2, Count(idx, 0, typ, person))
	assert.Equal(t, 3, Count(idx, alice, 0, 0))
	assert.Equal(t, 1, Count(idx, alice, name, 0))
	assert.Equal(t, 2, Count(idx, 0, name, 0))
	assert.Equal(t, 0, Count(idx, alice, typ, 12345))

	var got []Triple
	for tr := range idx.Search(0, typ, 0) {
		got = append(got, tr)
		break
	}
	assert.Len(t, got, 1, "iteration stops when yield returns false")
}

func TestLiterals(t *testing.T) {
	idx := loadSample(t)
	name := idx.StringToID("http://ex.org/name", RolePredicate)
	var literals, others int
	for tr := range idx.Search(0, 0, 0) {
		if IsObjectLiteral(idx, tr.O) {
			literals++
			assert.Equal(t, name, tr.P)
		} else {
			others++
		}
	}
	assert.Equal(t, 2, literals)
	assert.Equal(t, 3, others)

	assert.Equal(t, "Bob", LiteralValue(`"Bob"@en`))
	assert.Equal(t, "42", LiteralValue(`"42"^^<http://www.w3.org/2001/XMLSchema#int>`))
	assert.Equal(t, `say "hi"`, LiteralValue(`"say \"hi\""`))
	assert.Equal(t, "http://ex.org/x", LiteralValue("http://ex.org/x"))
}

func TestLocalName(t *testing.T) {
	assert.Equal(t, "type", LocalName("http://www.w3.org/1999/02/22-rdf-syntax-ns#type"))
	assert.Equal(t, "Person", LocalName("http://ex.org/Person"))
	assert.Equal(t, "urn:x", LocalName("urn:x"))
}

func TestLoadNTriplesRejectsGarbage(t *testing.T) {
	_, err := LoadNTriples(strings.NewReader("this is not n-triples\n"))
	assert.Error(t, err)
}
