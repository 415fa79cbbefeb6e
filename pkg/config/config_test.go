package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, RDFType, cfg.Graph.TypePredicate)
	assert.Equal(t, 3, cfg.Clustering.Buckets)
	assert.Equal(t, 5, cfg.Clustering.Attempts)
	assert.Equal(t, 0.85, cfg.Engine.PageRank.Damping)
	assert.Equal(t, 40, cfg.Engine.PageRank.Iterations)
	assert.Equal(t, "deterministic", cfg.Clustering.TieBreak)
}

func TestLoadSortsWeightsDescending(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kg.yaml")
	yaml := `
clustering:
  buckets: 3
  fieldWeights: [0.2, 1.0, 0.5]
  relationsFieldWeights: [0.1, 0.3, 0.2]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0, 0.5, 0.2}, cfg.Clustering.FieldWeights)
	assert.Equal(t, []float64{0.3, 0.2, 0.1}, cfg.Clustering.RelationsFieldWeights)
}

func TestLoadRandomTieBreak(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clustering:\n  tieBreak: random\n  seed: 7\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "random", cfg.Clustering.TieBreak)
	assert.Equal(t, int64(7), cfg.Clustering.Seed)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero buckets", "clustering:\n  buckets: 0\n"},
		{"unknown scope", "templates:\n  scope: galaxy\n"},
		{"combine weight above one", "templates:\n  combineWeight: 1.5\n"},
		{"unknown backend", "factStore:\n  backend: tape\n"},
		{"negative field weight", "clustering:\n  fieldWeights: [1.0, -0.5]\n"},
		{"unknown tie break", "clustering:\n  tieBreak: coinflip\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "kg.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KG_CLUSTERING_BUCKETS", "2")
	t.Setenv("KG_TEMPLATES_SCOPE", "type")
	t.Setenv("KG_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Clustering.Buckets)
	assert.Equal(t, "type", cfg.Templates.Scope)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestDSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Database: "kg", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=kg sslmode=disable", pg.DSN())

	lite := DatabaseConfig{Driver: "sqlite", SQLitePath: "/tmp/t.db"}
	assert.Equal(t, "/tmp/t.db", lite.DSN())
}
