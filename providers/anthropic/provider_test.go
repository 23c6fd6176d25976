package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raudbjorn/ttrpg-llm-core/llm"
)

func TestProvider_CompletionDecodesContentBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.Equal(t, "/v1/messages", r.URL.Path)
		fmt.Fprint(w, `{
			"model": "claude-3-opus",
			"content": [{"type":"text","text":"hello "},{"type":"text","text":"world"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 5, "output_tokens": 3}
		}`)
	}))
	defer srv.Close()

	p := New(Config{APIKey: "test-key", BaseURL: srv.URL, DefaultModel: "claude-3-opus"})
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "hello world", resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 5, resp.Usage.InputTokens)
}

func TestProvider_ConvertMessagesDropsSystemRoleMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"model":"m","content":[],"usage":{}}`)
	}))
	defer srv.Close()

	p := New(Config{APIKey: "k", BaseURL: srv.URL})
	req := &llm.ChatRequest{
		System:   "be terse",
		Messages: []llm.Message{llm.NewSystemMessage("ignored"), llm.NewUserMessage("hi")},
	}
	converted := p.convertMessages(req)
	require.Len(t, converted, 1, "system-role messages must not appear in the messages array")
	assert.Equal(t, "user", converted[0].Role)
}

func TestProvider_CompletionMapsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid key"}}`)
	}))
	defer srv.Close()

	p := New(Config{APIKey: "bad", BaseURL: srv.URL})
	_, err := p.Completion(context.Background(), &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	var lerr *llm.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, llm.ErrAuth, lerr.Code)
	assert.True(t, llm.IsFatal(err))
}

func TestProvider_StreamParsesTypedSSEEventsAndFinalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"type\":\"message_start\",\"message\":{\"model\":\"claude-3-opus\",\"usage\":{}}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":2}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	p := New(Config{APIKey: "k", BaseURL: srv.URL, DefaultModel: "claude-3-opus"})
	ch, err := p.Stream(context.Background(), &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	require.NoError(t, err)

	var chunks []llm.ChatChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 2)
	assert.Equal(t, "hi", chunks[0].Content)
	assert.True(t, chunks[1].IsFinal)
	assert.Equal(t, "end_turn", chunks[1].FinishReason)
}

func TestProvider_ResolveAPIKeyPrefersCredentialOverride(t *testing.T) {
	p := New(Config{APIKey: "configured"})
	ctx := llm.WithCredentialOverride(context.Background(), llm.CredentialOverride{APIKey: "overridden"})
	assert.Equal(t, "overridden", p.resolveAPIKey(ctx))
	assert.Equal(t, "configured", p.resolveAPIKey(context.Background()))
}

func TestProvider_EmbedNotSupported(t *testing.T) {
	p := New(Config{APIKey: "k"})
	_, err := p.Embed(context.Background(), "text")
	var lerr *llm.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, llm.ErrEmbeddingNotSupport, lerr.Code)
}
