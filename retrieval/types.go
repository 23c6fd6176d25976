// Package retrieval implements hybrid (lexical + vector) search and RAG
// context assembly (§4.8).
package retrieval

// Document is one indexed unit of content.
type Document struct {
	ID        string
	Content   string
	Embedding []float64
	Metadata  map[string]string
}

// SearchResult is a single hit, normalized into [0,1] after hybrid
// fusion (§3 Search result).
type SearchResult struct {
	ID          string
	Content     string
	Score       float64
	ContentType string
	Metadata    map[string]string
	Highlights  []string
}
