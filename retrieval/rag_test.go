package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRAGContext_FormatsCitationBlocks(t *testing.T) {
	hits := []SearchResult{
		{ID: "doc1", Content: "goblins fear fire", Score: 0.9, Metadata: map[string]string{"source": "monster-manual", "page": "12"}},
	}
	ctx := BuildRAGContext(hits, 10000)
	require.Len(t, ctx.Citations, 1)
	assert.Equal(t, "monster-manual", ctx.Citations[0].SourceID)
	assert.Equal(t, "12", ctx.Citations[0].Page)
	assert.Contains(t, ctx.Render(), "[1] monster-manual:12 — goblins fear fire")
}

func TestBuildRAGContext_DefaultsSourceAndPageWhenMetadataMissing(t *testing.T) {
	hits := []SearchResult{{ID: "doc7", Content: "orcs raid at night", Score: 0.5}}
	ctx := BuildRAGContext(hits, 10000)
	require.Len(t, ctx.Citations, 1)
	assert.Equal(t, "doc7", ctx.Citations[0].SourceID)
	assert.Equal(t, "?", ctx.Citations[0].Page)
}

func TestBuildRAGContext_StopsAtTokenBudget(t *testing.T) {
	hits := []SearchResult{
		{ID: "doc1", Content: strings.Repeat("a ", 200), Score: 0.9},
		{ID: "doc2", Content: strings.Repeat("b ", 200), Score: 0.8},
		{ID: "doc3", Content: strings.Repeat("c ", 200), Score: 0.7},
	}
	ctx := BuildRAGContext(hits, 150)
	assert.Less(t, len(ctx.Citations), len(hits), "a tight budget must drop lower-ranked citations")
}

func TestBuildRAGContext_EmptyHitsStillHasPreamble(t *testing.T) {
	ctx := BuildRAGContext(nil, 1000)
	assert.Empty(t, ctx.Citations)
	assert.NotEmpty(t, ctx.Preamble)
	assert.Equal(t, ctx.Preamble, ctx.Render())
}

func TestRAGContext_RenderNumbersSequentially(t *testing.T) {
	hits := []SearchResult{
		{ID: "a", Content: "first", Score: 0.9},
		{ID: "b", Content: "second", Score: 0.8},
	}
	rendered := BuildRAGContext(hits, 10000).Render()
	assert.Contains(t, rendered, "[1] a:? — first")
	assert.Contains(t, rendered, "[2] b:? — second")
}
