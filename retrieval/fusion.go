package retrieval

import "sort"

// FusionWeights controls the contribution of each retrieval channel to
// the fused score (§4.8 Hybrid fusion). Weights need not sum to 1; the
// default is 0.5/0.5.
type FusionWeights struct {
	Vector   float64
	Fulltext float64
}

// DefaultFusionWeights returns the §4.8 default (0.5/0.5).
func DefaultFusionWeights() FusionWeights {
	return FusionWeights{Vector: 0.5, Fulltext: 0.5}
}

// minMaxNormalize rescales scores into [0, 1]. A single-element or
// all-equal list normalizes to 1.0 for every member, since there is no
// spread to rank them by.
func minMaxNormalize(results []SearchResult) map[string]float64 {
	out := make(map[string]float64, len(results))
	if len(results) == 0 {
		return out
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	spread := max - min
	for _, r := range results {
		if spread == 0 {
			out[r.ID] = 1.0
			continue
		}
		out[r.ID] = (r.Score - min) / spread
	}
	return out
}

// Fuse combines vector and full-text result lists into one ranked list,
// min-max normalizing each channel independently before applying
// weights (§4.8, §8 literal scenario: vector [(A,0.9),(B,0.7)] +
// fulltext [(B,12.0),(C,6.0)] with default weights fuses to
// A=0.5, B=0.5, C=0.0). A document missing from one channel contributes
// 0 for that channel rather than being dropped.
func Fuse(vector, fulltext []SearchResult, weights FusionWeights, contentByID map[string]Document) []SearchResult {
	normVector := minMaxNormalize(vector)
	normFulltext := minMaxNormalize(fulltext)

	ids := make(map[string]struct{})
	for id := range normVector {
		ids[id] = struct{}{}
	}
	for id := range normFulltext {
		ids[id] = struct{}{}
	}

	fused := make([]SearchResult, 0, len(ids))
	for id := range ids {
		score := weights.Vector*normVector[id] + weights.Fulltext*normFulltext[id]
		res := SearchResult{ID: id, Score: score}
		if doc, ok := contentByID[id]; ok {
			res.Content = doc.Content
			res.Metadata = doc.Metadata
		}
		fused = append(fused, res)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})
	return fused
}
