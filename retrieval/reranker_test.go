package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTermOverlapReranker_ScoresByFractionOfQueryTermsPresent(t *testing.T) {
	results := []SearchResult{
		{ID: "d1", Content: "goblin camp near the mines"},
		{ID: "d2", Content: "goblin ambush at dusk with a dragon"},
		{ID: "d3", Content: "a quiet village inn"},
	}
	out := TermOverlapReranker{}.Rerank("goblin dragon ambush", results)

	assert.Equal(t, "d2", out[0].ID)
	assert.InDelta(t, 1.0, out[0].Score, 1e-9)
	assert.Equal(t, "d1", out[1].ID)
	assert.InDelta(t, 1.0/3.0, out[1].Score, 1e-9)
	assert.Equal(t, "d3", out[2].ID)
	assert.Zero(t, out[2].Score)
}

func TestTermOverlapReranker_TiesBreakByID(t *testing.T) {
	results := []SearchResult{
		{ID: "z", Content: "goblin"},
		{ID: "a", Content: "goblin"},
	}
	out := TermOverlapReranker{}.Rerank("goblin", results)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "z", out[1].ID)
}

func TestTermOverlapReranker_EmptyQueryReturnsInputUnchanged(t *testing.T) {
	results := []SearchResult{{ID: "d1", Content: "goblin"}, {ID: "d2", Content: "dragon"}}
	out := TermOverlapReranker{}.Rerank("", results)
	assert.Equal(t, results, out)
}

func TestTermOverlapReranker_DoesNotMutateInput(t *testing.T) {
	results := []SearchResult{{ID: "d1", Content: "goblin", Score: 9.9}}
	_ = TermOverlapReranker{}.Rerank("goblin", results)
	assert.Equal(t, 9.9, results[0].Score, "reranking must operate on a copy")
}
