package retrieval

import "sort"

// Reranker re-scores a shortlist of fused results before truncation to
// top-K. Disabled by default; the teacher's mandatory cross-encoder
// rerank stage is demoted to this optional pluggable pass since no
// cross-encoder dependency is wired into this module (§4.8, DESIGN.md).
type Reranker interface {
	Rerank(query string, results []SearchResult) []SearchResult
}

// TermOverlapReranker re-scores by fraction of query terms present in
// each result's content, the same lexical heuristic the teacher falls
// back to in the absence of a real cross-encoder model.
type TermOverlapReranker struct{}

// Rerank implements Reranker.
func (TermOverlapReranker) Rerank(query string, results []SearchResult) []SearchResult {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return results
	}
	out := make([]SearchResult, len(results))
	copy(out, results)
	for i := range out {
		contentTerms := tokenize(out[i].Content)
		seen := make(map[string]struct{}, len(contentTerms))
		for _, t := range contentTerms {
			seen[t] = struct{}{}
		}
		matches := 0
		for _, qt := range queryTerms {
			if _, ok := seen[qt]; ok {
				matches++
			}
		}
		out[i].Score = float64(matches) / float64(len(queryTerms))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
