package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorIndex_SearchRanksByCosineSimilarityDescending(t *testing.T) {
	docs := []Document{
		{ID: "a", Embedding: []float64{1, 0}},
		{ID: "b", Embedding: []float64{0, 1}},
		{ID: "c", Embedding: []float64{0.9, 0.1}},
	}
	idx := NewVectorIndex(docs)

	results := idx.Search([]float64{1, 0}, 10)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "c", results[1].ID)
	assert.Equal(t, "b", results[2].ID)
}

func TestVectorIndex_SkipsDocumentsWithoutEmbeddings(t *testing.T) {
	docs := []Document{
		{ID: "a", Embedding: []float64{1, 0}},
		{ID: "b"},
	}
	idx := NewVectorIndex(docs)
	results := idx.Search([]float64{1, 0}, 10)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestVectorIndex_RespectsK(t *testing.T) {
	docs := []Document{
		{ID: "a", Embedding: []float64{1, 0}},
		{ID: "b", Embedding: []float64{0, 1}},
	}
	idx := NewVectorIndex(docs)
	results := idx.Search([]float64{1, 0}, 1)
	assert.Len(t, results, 1)
}

func TestCosineSimilarity_ZeroVectorYieldsZero(t *testing.T) {
	assert.Zero(t, cosineSimilarity([]float64{0, 0}, []float64{1, 1}))
}

func TestCosineSimilarity_OrthogonalVectorsYieldZero(t *testing.T) {
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
}
