package retrieval

import (
	"math"
	"sort"
	"strings"
)

// BM25Config tunes the BM25 formula (§4.8).
type BM25Config struct {
	K1 float64
	B  float64
}

// DefaultBM25Config returns Robertson/Sparck-Jones' usual defaults.
func DefaultBM25Config() BM25Config {
	return BM25Config{K1: 1.5, B: 0.75}
}

// BM25Index is a full-text index over a fixed document set.
type BM25Index struct {
	cfg       BM25Config
	docs      map[string][]string // doc id -> tokens
	docLens   map[string]int
	avgDocLen float64
	idf       map[string]float64
	order     []string
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// NewBM25Index builds an index over docs and precomputes IDF.
func NewBM25Index(cfg BM25Config, docs []Document) *BM25Index {
	idx := &BM25Index{
		cfg:     cfg,
		docs:    make(map[string][]string, len(docs)),
		docLens: make(map[string]int, len(docs)),
		idf:     make(map[string]float64),
	}
	docFreq := map[string]int{}
	var totalLen int
	for _, d := range docs {
		toks := tokenize(d.Content)
		idx.docs[d.ID] = toks
		idx.docLens[d.ID] = len(toks)
		idx.order = append(idx.order, d.ID)
		totalLen += len(toks)
		seen := map[string]struct{}{}
		for _, t := range toks {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			docFreq[t]++
		}
	}
	n := float64(len(docs))
	if n > 0 {
		idx.avgDocLen = float64(totalLen) / n
	}
	for term, df := range docFreq {
		idx.idf[term] = math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1.0)
	}
	return idx
}

// score computes the BM25 score of one document against a list of query
// terms (any member of a term group counts as a match for that
// position, per §4.7's outer-AND/inner-OR expression).
func (idx *BM25Index) score(docID string, termGroups [][]string) float64 {
	toks := idx.docs[docID]
	docLen := idx.docLens[docID]
	freq := map[string]int{}
	for _, t := range toks {
		freq[t]++
	}

	var total float64
	for _, group := range termGroups {
		var best float64
		for _, term := range group {
			f := float64(freq[term])
			if f == 0 {
				continue
			}
			idf := idx.idf[term]
			numerator := f * (idx.cfg.K1 + 1)
			denominator := f + idx.cfg.K1*(1-idx.cfg.B+idx.cfg.B*float64(docLen)/maxFloat(idx.avgDocLen, 1))
			s := idf * numerator / denominator
			if s > best {
				best = s
			}
		}
		if best == 0 {
			return 0
		}
		total += best
	}
	return total
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Search returns up to k hits ranked by BM25 score descending, with
// unbounded positive scores (§4.8 Full-text search).
func (idx *BM25Index) Search(termGroups [][]string, k int) []SearchResult {
	type scored struct {
		id    string
		score float64
	}
	scoredDocs := make([]scored, 0, len(idx.order))
	for _, id := range idx.order {
		s := idx.score(id, termGroups)
		if s > 0 {
			scoredDocs = append(scoredDocs, scored{id: id, score: s})
		}
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
