package gemini

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

func TestProvider_CompletionDecodesCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gk-test", r.Header.Get("x-goog-api-key"))
		assert.Contains(t, r.URL.Path, ":generateContent")
		fmt.Fprint(w, `{
			"candidates": [{"content":{"role":"model","parts":[{"text":"hi there"}]},"finishReason":"STOP"}],
			"usageMetadata": {"promptTokenCount": 6, "candidatesTokenCount": 2}
		}`)
	}))
	defer srv.Close()

	p := New(Config{APIKey: "gk-test", BaseURL: srv.URL, DefaultModel: "gemini-1.5-pro"})
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.Equal(t, 6, resp.Usage.InputTokens)
}

func TestRemapRole_AssistantBecomesModelEverythingElseIsUser(t *testing.T) {
	assert.Equal(t, "model", remapRole(llm.RoleAssistant))
	assert.Equal(t, "user", remapRole(llm.RoleUser))
	assert.Equal(t, "user", remapRole(llm.RoleTool))
}

func TestBuildBody_HoistsSystemMessageAndDropsItFromContents(t *testing.T) {
	p := New(Config{APIKey: "k"})
	req := &llm.ChatRequest{
		System:   "be terse",
		Messages: []llm.Message{llm.NewSystemMessage("ignored"), llm.NewUserMessage("hi")},
	}
	body := p.buildBody(req)
	require.NotNil(t, body.SystemInstruction)
	assert.Equal(t, "be terse", body.SystemInstruction.Parts[0].Text)
	require.Len(t, body.Contents, 1)
	assert.Equal(t, "user", body.Contents[0].Role)
}

func TestProvider_CompletionMapsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
	}))
	defer srv.Close()

	p := New(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Completion(context.Background(), &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	var lerr *llm.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, llm.ErrAPIError, lerr.Code)
	assert.True(t, lerr.Retryable)
}

func TestProvider_StreamParsesSSEAndFinalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"part one\"}]}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"part two\"}]},\"finishReason\":\"STOP\"}]}\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	p := New(Config{APIKey: "k", BaseURL: srv.URL, DefaultModel: "gemini-1.5-pro"})
	ch, err := p.Stream(context.Background(), &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	require.NoError(t, err)

	var chunks []llm.ChatChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 2)
	assert.Equal(t, "part one", chunks[0].Content)
	assert.True(t, chunks[1].IsFinal, "FinalizeStream must mark the finishReason-carrying chunk final")
}
