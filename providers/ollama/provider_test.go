package ollama

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

func TestBuildBody_PrependsSystemMessage(t *testing.T) {
	p := New(Config{DefaultModel: "llama3"})
	req := &llm.ChatRequest{
		System:   "be terse",
		Messages: []llm.Message{llm.NewUserMessage("hi")},
	}
	body := p.buildBody(req, false)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	assert.Equal(t, "be terse", body.Messages[0].Content)
	assert.Equal(t, "user", body.Messages[1].Role)
}

func TestProvider_CompletionDecodesWireResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		fmt.Fprint(w, `{
			"model": "llama3",
			"message": {"role": "assistant", "content": "hello"},
			"done": true,
			"prompt_eval_count": 12,
			"eval_count": 4
		}`)
	}))
	defer srv.Close()

	p := New(Config{Host: srv.URL, DefaultModel: "llama3"})
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Nil(t, resp.CostUSD, "ollama is local and never priced")
}

func TestProvider_CompletionMapsHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"model not loaded"}`)
	}))
	defer srv.Close()

	p := New(Config{Host: srv.URL})
	_, err := p.Completion(context.Background(), &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	var lerr *llm.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, llm.ErrAPIError, lerr.Code)
	assert.True(t, lerr.Retryable)
}

func TestProvider_StreamEmitsLinesThenDoneCarriesUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, `{"model":"llama3","message":{"role":"assistant","content":"hel"},"done":false}`+"\n")
		flusher.Flush()
		fmt.Fprint(w, `{"model":"llama3","message":{"role":"assistant","content":"lo"},"done":true,"prompt_eval_count":9,"eval_count":2}`+"\n")
		flusher.Flush()
	}))
	defer srv.Close()

	p := New(Config{Host: srv.URL, DefaultModel: "llama3"})
	ch, err := p.Stream(context.Background(), &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	require.NoError(t, err)

	var chunks []llm.ChatChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 2)
	assert.Equal(t, "hel", chunks[0].Content)
	assert.Equal(t, "lo", chunks[1].Content)
	assert.Equal(t, "stop", chunks[1].FinishReason)
	assert.Equal(t, 9, chunks[1].Usage.InputTokens)
	assert.True(t, chunks[1].IsFinal, "the done:true line already carries a finish reason, so FinalizeStream marks it final in place")
}

func TestProvider_EmbedPostsToEmbeddingsEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		fmt.Fprint(w, `{"embedding": [0.1, 0.2, 0.3]}`)
	}))
	defer srv.Close()

	p := New(Config{Host: srv.URL, DefaultModel: "llama3"})
	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestProvider_HealthCheckReflectsStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(Config{Host: srv.URL})
	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}

func TestProvider_PricingIsAlwaysNil(t *testing.T) {
	p := New(Config{Host: "http://unused"})
	assert.Nil(t, p.Pricing())
}
