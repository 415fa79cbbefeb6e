package templatestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/database"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "templates.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := New(context.Background(), db)
	require.NoError(t, err)
	return s
}

func sample(weight float64, preds ...string) *template.VirtualDocumentTemplate {
	f := template.NewField("field0", weight)
	for _, p := range preds {
		f.Predicates.Add(p)
	}
	return template.New(f, template.NewField("field1", weight/2))
}

func TestSaveAndLoad(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	built := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, Record{
		Scope: "global", RunID: "run-1", Source: "eeti", BuiltAt: built,
		Template: sample(1, "http://ex.org/name"),
	}))

	got, err := s.Load(ctx, "global")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "eeti", got.Source)
	assert.True(t, built.Equal(got.BuiltAt))
	assert.True(t, sample(1, "http://ex.org/name").Equal(got.Template))

	missing, err := s.Load(ctx, "type:http://ex.org/Nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSaveReplacesScope(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Record{Scope: "global", RunID: "run-1", Source: "eeti", Template: sample(1, "a")}))
	require.NoError(t, s.Save(ctx, Record{Scope: "global", RunID: "run-2", Source: "eeti", Template: sample(1, "b")}))

	got, err := s.Load(ctx, "global")
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID)
	assert.Equal(t, []string{"b"}, got.Template.Fields[0].Predicates.Sorted())

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestListAndPrune(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx,
		Record{Scope: "type:http://ex.org/B", RunID: "old", Source: "eeti", Template: sample(1)},
		Record{Scope: "type:http://ex.org/A", RunID: "new", Source: "eeti", Template: sample(1)},
		Record{Scope: "global", RunID: "new", Source: "eeti", Template: sample(1)},
	))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "global", list[0].Scope)
	assert.Equal(t, "type:http://ex.org/A", list[1].Scope)
	assert.Nil(t, list[0].Template)

	n, err := s.DeleteRun(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	gone, err := s.Load(ctx, "type:http://ex.org/B")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
