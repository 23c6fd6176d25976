package retrieval

import (
	"math"
	"sort"
)

// VectorIndex is a brute-force cosine-similarity index over a fixed set
// of embedded documents (§4.8 Vector search).
type VectorIndex struct {
	ids        []string
	embeddings [][]float64
}

// NewVectorIndex builds an index from docs that carry an Embedding.
// Documents with no embedding are skipped.
func NewVectorIndex(docs []Document) *VectorIndex {
	idx := &VectorIndex{}
	for _, d := range docs {
		if len(d.Embedding) == 0 {
			continue
		}
		idx.ids = append(idx.ids, d.ID)
		idx.embeddings = append(idx.embeddings, d.Embedding)
	}
	return idx
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Search returns up to k nearest neighbours to query, ranked by cosine
// similarity descending. Scores fall in [-1, 1]; fusion normalizes them
// into [0, 1] via min-max (§4.8).
func (idx *VectorIndex) Search(query []float64, k int) []SearchResult {
	type scored struct {
		id    string
		score float64
	}
	scoredDocs := make([]scored, 0, len(idx.ids))
	for i, id := range idx.ids {
		scoredDocs = append(scoredDocs, scored{id: id, score: cosineSimilarity(query, idx.embeddings[i])})
	}
	sort.SliceStable(scoredDocs, func(i, j int) bool {
		if scoredDocs[i].score != scoredDocs[j].score {
			return scoredDocs[i].score > scoredDocs[j].score
		}
		return scoredDocs[i].id < scoredDocs[j].id
	})
	if k > 0 && len(scoredDocs) > k {
		scoredDocs = scoredDocs[:k]
	}
	out := make([]SearchResult, len(scoredDocs))
	for i, sd := range scoredDocs {
		out[i] = SearchResult{ID: sd.id, Score: sd.score}
	}
	return out
}
