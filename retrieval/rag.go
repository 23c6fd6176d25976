package retrieval

import (
	"fmt"
	"strings"
)

// Citation is one numbered source backing a RAG context (§4.8 RAG
// context, citation block format `[n] source:page — content`).
type Citation struct {
	Index       int
	SourceID    string
	Page        string
	Content     string
	Score       float64
}

// RAGContext is the assembled preamble plus its supporting citations,
// ready to prepend to a chat request.
type RAGContext struct {
	Preamble   string
	Citations  []Citation
}

const ragPreamble = `Use the numbered sources below to answer the question. Cite claims ` +
	`by their bracket number, e.g. [1]. If the sources do not contain the ` +
	`answer, say so rather than fabricating one.`

// BuildRAGContext takes hits in the order given (Retrieve returns them
// by descending score) until tokenBudget is met, formatting each as a
// citation block `[n]
// source:page — content` (§4.8). source and page are read from each
// hit's Metadata under the "source" and "page" keys, defaulting to the
// hit ID and "?" when absent. Token accounting uses the tiktoken
// encoding for "gpt-4o".
func BuildRAGContext(hits []SearchResult, tokenBudget int) RAGContext {
	return BuildRAGContextForModel(hits, tokenBudget, "gpt-4o")
}

// BuildRAGContextForModel is BuildRAGContext with token accounting run
// against the named model's tiktoken encoding instead of the default.
func BuildRAGContextForModel(hits []SearchResult, tokenBudget int, model string) RAGContext {
	return buildRAGContext(hits, tokenBudget, tokenizerFor(model))
}

func buildRAGContext(hits []SearchResult, tokenBudget int, tok Tokenizer) RAGContext {
	preambleTokens := tok.CountTokens(ragPreamble)
	budget := tokenBudget - preambleTokens

	citations := make([]Citation, 0, len(hits))
	used := 0
	n := 1
	for _, h := range hits {
		source := h.ID
		page := "?"
		if h.Metadata != nil {
			if s, ok := h.Metadata["source"]; ok && s != "" {
				source = s
			}
			if p, ok := h.Metadata["page"]; ok && p != "" {
				page = p
			}
		}
		block := formatCitationBlock(n, source, page, h.Content)
		blockTokens := tok.CountTokens(block)
		if tokenBudget > 0 && used+blockTokens > budget {
			break
		}
		citations = append(citations, Citation{
			Index:    n,
			SourceID: source,
			Page:     page,
			Content:  h.Content,
			Score:    h.Score,
		})
		used += blockTokens
		n++
	}

	return RAGContext{Preamble: ragPreamble, Citations: citations}
}

func formatCitationBlock(n int, source, page, content string) string {
	return fmt.Sprintf("[%d] %s:%s — %s", n, source, page, content)
}

// Render joins the preamble and every citation block into one string
// suitable for inclusion in a system or user message.
func (c RAGContext) Render() string {
	var b strings.Builder
	b.WriteString(c.Preamble)
	for _, cite := range c.Citations {
		b.WriteString("\n")
		b.WriteString(formatCitationBlock(cite.Index, cite.SourceID, cite.Page, cite.Content))
	}
	return b.String()
}
