package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "metrics-run", "run-42")
	_, ti := StartChildSpan(ctx, "typeImportance")
	ti.SetAttr("predicates", 12)
	ti.End()
	_, pet := StartChildSpan(ctx, "predicateEntropyType")
	pet.EndWithError(errors.New("store unavailable"))
	root.End()

	require.Len(t, root.Children, 2)
	assert.Equal(t, "run-42", root.Children[0].RunID)

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, nil)))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "predicates=12")
	assert.Contains(t, lines[2], "store unavailable")
}

func TestDetachedChild(t *testing.T) {
	_, span := StartChildSpan(context.Background(), "orphan")
	span.End()
	assert.Empty(t, span.RunID)
}
