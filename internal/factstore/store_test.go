package factstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairFact(metric, pred, typ string, v float64) Fact {
	return Fact{Key: PairKey(pred, typ), Subject: pred, Type: typ, Metric: metric, Value: v}
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	seg, err := Open(config.FactStoreConfig{Backend: "segment", DataDir: filepath.Join(dir, "seg")})
	require.NoError(t, err)
	bs, err := Open(config.FactStoreConfig{Backend: "bolt", BoltPath: filepath.Join(dir, "facts.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		seg.Close()
		bs.Close()
	})
	return map[string]Store{"segment": seg, "bolt": bs}
}

func TestPairKey(t *testing.T) {
	assert.Equal(t, "f68af28af09384609c36139a4ac77cfb", PairKey("p", "t"))
	assert.Len(t, PairKey("http://ex.org/name", "http://ex.org/Person"), 32)
	assert.NotEqual(t, PairKey("a", "b-c"), PairKey("a-b", "d"))
	assert.Equal(t, EntityKey("p-t"), PairKey("p", "t"))
}

func TestAppendAndScan(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ti := []Fact{
				pairFact("typeImportance", "http://ex.org/name", "http://ex.org/Person", 1.5),
				pairFact("typeImportance", "http://ex.org/knows", "http://ex.org/Person", 0.25),
			}
			pet := []Fact{pairFact("predicateEntropyType", "http://ex.org/name", "http://ex.org/Person", 1)}
			require.NoError(t, s.Append(ctx, "typeImportance", ti))
			require.NoError(t, s.Append(ctx, "predicateEntropyType", pet))

			got, err := Collect(ctx, s, "typeImportance")
			require.NoError(t, err)
			assert.ElementsMatch(t, ti, got)

			metrics, err := s.Metrics(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"typeImportance", "predicateEntropyType"}, metrics)

			none, err := Collect(ctx, s, "missing")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestSegmentStoreSpansBlocksAndReopens(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := OpenSegmentStore(dir)
	require.NoError(t, err)

	facts := make([]Fact, BlockFacts+10)
	for i := range facts {
		facts[i] = Fact{Key: EntityKey(string(rune('a' + i%26))), Subject: "s", Metric: "iw", Value: float64(i)}
	}
	require.NoError(t, s.Append(ctx, "iw", facts))

	reopened, err := OpenSegmentStore(dir)
	require.NoError(t, err)
	require.NoError(t, reopened.Append(ctx, "inforank", facts[:1]))

	got, err := Collect(ctx, reopened, "iw")
	require.NoError(t, err)
	assert.Len(t, got, len(facts))
	assert.Equal(t, float64(len(facts)-1), got[len(got)-1].Value)

	metrics, err := reopened.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"iw", "inforank"}, metrics)
}

func TestSegmentDetectsCorruptDictionary(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := OpenSegmentStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, "typeImportance", []Fact{pairFact("typeImportance", "p", "t", 1)}))

	paths, err := filepath.Glob(filepath.Join(dir, "*"+segmentExt))
	require.NoError(t, err)
	require.Len(t, paths, 1)
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	// flip a byte inside the dictionary (just before the footer)
	data[len(data)-FooterSize-2] ^= 0xFF
	require.NoError(t, os.WriteFile(paths[0], data, 0o644))

	_, err = Collect(ctx, s, "typeImportance")
	assert.ErrorContains(t, err, "checksum")
}

func TestInvalidMetricName(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, s.Append(context.Background(), "", nil))
		})
	}
}

func TestExportNTriples(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSegmentStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, "typeImportance", []Fact{pairFact("typeImportance", "http://ex.org/p", "http://ex.org/T", 0.5)}))
	require.NoError(t, s.Append(ctx, "predicateEntropyType", []Fact{pairFact("predicateEntropyType", "http://ex.org/p", "http://ex.org/T", 2)}))
	require.NoError(t, s.Append(ctx, "inforank", []Fact{{Key: EntityKey("http://ex.org/a"), Subject: "http://ex.org/a", Metric: "inforank", Value: 3}}))

	var buf bytes.Buffer
	require.NoError(t, ExportNTriples(ctx, s, &buf))
	out := buf.String()
	subject := "<" + PairSubject(PairKey("http://ex.org/p", "http://ex.org/T")) + ">"

	assert.Equal(t, 1, strings.Count(out, subject+" <"+PairPredicateURI+">"), "pair described once")
	assert.Contains(t, out, subject+" <"+ImportanceNamespace+"typeImportance> \"0.5000000000\"^^<"+XSDFloat+"> .")
	assert.Contains(t, out, "<http://ex.org/a> <http://purl.org/voc/vrank#inforank> \"3.0000000000\"^^<"+XSDFloat+"> .")
	assert.Equal(t, 6, strings.Count(out, "\n"))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, `"0.1234567891"^^<http://www.w3.org/2001/XMLSchema#float>`, FormatValue(0.12345678912))
}
