package retrieval

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Tokenizer counts tokens in text for RAG token-budget accounting
// (§4.8).
type Tokenizer interface {
	CountTokens(text string) int
}

// modelEncodings maps a model name to its tiktoken encoding. Unknown
// models fall back to cl100k_base.
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// tiktokenTokenizer lazily loads its encoding on first use and falls
// back to a character-ratio estimate if loading fails (e.g. no network
// access to fetch the encoding's merge data).
type tiktokenTokenizer struct {
	encoding string
	logger   *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

func (t *tiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = err
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens returns the tiktoken token count, or the roughly
// 4-characters-per-token estimate if the encoding could not be loaded.
func (t *tiktokenTokenizer) CountTokens(text string) int {
	if err := t.init(); err != nil {
		t.logger.Warn("tiktoken encoding unavailable, falling back to character estimate", zap.Error(err))
		return estimateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// estimateTokens is the character-ratio fallback used when tiktoken's
// encoding data can't be loaded (roughly 4 characters per token for
// English prose).
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

var (
	tokenizerMu    sync.Mutex
	tokenizerCache = map[string]*tiktokenTokenizer{}
)

// tokenizerFor returns the cached tokenizer for model, creating one on
// first request.
func tokenizerFor(model string) *tiktokenTokenizer {
	tokenizerMu.Lock()
	defer tokenizerMu.Unlock()
	if t, ok := tokenizerCache[model]; ok {
		return t
	}
	encoding, ok := modelEncodings[model]
	if !ok {
		encoding = "cl100k_base"
	}
	t := &tiktokenTokenizer{encoding: encoding, logger: zap.NewNop()}
	tokenizerCache[model] = t
	return t
}
