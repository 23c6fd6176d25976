package retrieval

import (
	"go.uber.org/zap"
)

// Config tunes the hybrid retriever (§4.8).
type Config struct {
	UseBM25    bool
	BM25Config BM25Config

	UseVector bool

	UseReranking bool
	Reranker     Reranker
	RerankTopK   int

	TopK     int
	MinScore float64

	Weights FusionWeights
}

// DefaultConfig returns the §4.8 defaults: both channels on, reranking
// off, top-5, no score floor.
func DefaultConfig() Config {
	return Config{
		UseBM25:      true,
		BM25Config:   DefaultBM25Config(),
		UseVector:    true,
		UseReranking: false,
		RerankTopK:   50,
		TopK:         5,
		MinScore:     0,
		Weights:      DefaultFusionWeights(),
	}
}

// HybridRetriever combines BM25 full-text and cosine-similarity vector
// search through min-max normalized weighted fusion, with an optional
// reranking pass (§4.8).
type HybridRetriever struct {
	cfg    Config
	bm25   *BM25Index
	vector *VectorIndex
	docs   map[string]Document
	logger *zap.Logger
}

// New builds a HybridRetriever over docs, indexing whichever channels
// are enabled.
func New(cfg Config, docs []Document, logger *zap.Logger) *HybridRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &HybridRetriever{cfg: cfg, docs: make(map[string]Document, len(docs)), logger: logger}
	for _, d := range docs {
		r.docs[d.ID] = d
	}
	if cfg.UseBM25 {
		r.bm25 = NewBM25Index(cfg.BM25Config, docs)
	}
	if cfg.UseVector {
		r.vector = NewVectorIndex(docs)
	}
	logger.Info("hybrid retriever indexed", zap.Int("documents", len(docs)))
	return r
}

// Retrieve runs both channels (whichever are enabled), fuses, optionally
// reranks, then truncates to TopK and filters by MinScore. termGroups
// drives BM25 (§4.7's outer-AND/inner-OR expression); queryEmbedding
// drives vector search and may be nil to skip it.
func (r *HybridRetriever) Retrieve(query string, termGroups [][]string, queryEmbedding []float64) []SearchResult {
	var bm25Results, vectorResults []SearchResult
	searchK := r.cfg.RerankTopK
	if searchK <= 0 {
		searchK = r.cfg.TopK
	}

	if r.bm25 != nil && len(termGroups) > 0 {
		bm25Results = r.bm25.Search(termGroups, searchK)
	}
	if r.vector != nil && len(queryEmbedding) > 0 {
		vectorResults = r.vector.Search(queryEmbedding, searchK)
	}

	fused := Fuse(vectorResults, bm25Results, r.cfg.Weights, r.docs)

	if r.cfg.UseReranking && r.cfg.Reranker != nil && len(fused) > 0 {
		rerankN := r.cfg.RerankTopK
		if rerankN <= 0 || rerankN > len(fused) {
			rerankN = len(fused)
		}
		fused = r.cfg.Reranker.Rerank(query, fused[:rerankN])
	}

	if r.cfg.TopK > 0 && len(fused) > r.cfg.TopK {
		fused = fused[:r.cfg.TopK]
	}

	if r.cfg.MinScore > 0 {
		filtered := fused[:0]
		for _, res := range fused {
			if res.Score >= r.cfg.MinScore {
				filtered = append(filtered, res)
			}
		}
		fused = filtered
	}

	return fused
}
