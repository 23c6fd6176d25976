// Package openaicompat is the shared HTTP transport embedded by every
// adapter that speaks the OpenAI chat-completions wire dialect (OpenAI,
// Groq, Together, DeepSeek, Mistral, OpenRouter, and OAuth variants).
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Raudbjorn/ttrpg-llm-core/internal/tlsutil"
	"github.com/Raudbjorn/ttrpg-llm-core/llm"
	"github.com/Raudbjorn/ttrpg-llm-core/providers"
	"go.uber.org/zap"
)

// Config configures a Provider instance.
type Config struct {
	ProviderName   string
	APIKey         string
	BaseURL        string
	DefaultModel   string
	FallbackModel  string
	Timeout        time.Duration
	EndpointPath   string
	ModelsEndpoint string
	Pricing        *llm.PricingDescriptor
	// BuildHeaders overrides the default Bearer-token header builder.
	BuildHeaders func(apiKey string) http.Header
	Logger       *zap.Logger
}

// Provider is the shared OpenAI-dialect transport. Concrete adapters
// embed it and override only what differs (custom headers, a different
// completion path, response reshaping).
type Provider struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

// New constructs a Provider, filling in dialect defaults.
func New(cfg Config) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Cfg:    cfg,
		Client: tlsutil.SecureHTTPClient(cfg.Timeout),
		Logger: logger,
	}
}

func (p *Provider) ID() string           { return p.Cfg.ProviderName }
func (p *Provider) DisplayName() string  { return p.Cfg.ProviderName }
func (p *Provider) CurrentModel() string { return p.Cfg.DefaultModel }
func (p *Provider) Pricing() *llm.PricingDescriptor { return p.Cfg.Pricing }
func (p *Provider) SupportsStreaming() bool         { return true }

func (p *Provider) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, llm.NewError(llm.ErrEmbeddingNotSupport, "embeddings not supported").WithProvider(p.Cfg.ProviderName)
}

func (p *Provider) endpoint() string {
	return strings.TrimRight(p.Cfg.BaseURL, "/") + p.Cfg.EndpointPath
}

func (p *Provider) modelsEndpoint() string {
	return strings.TrimRight(p.Cfg.BaseURL, "/") + p.Cfg.ModelsEndpoint
}

// resolveAPIKey prefers a per-request credential override over the
// provider's configured key, so OAuth adapters can inject a freshly
// refreshed token without mutating shared provider state.
func (p *Provider) resolveAPIKey(ctx context.Context) string {
	if o, ok := llm.CredentialOverrideFromContext(ctx); ok && o.APIKey != "" {
		return o.APIKey
	}
	return p.Cfg.APIKey
}

func (p *Provider) buildHeaders(ctx context.Context) http.Header {
	key := p.resolveAPIKey(ctx)
	if p.Cfg.BuildHeaders != nil {
		return p.Cfg.BuildHeaders(key)
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+key)
	h.Set("Content-Type", "application/json")
	return h
}

// HealthCheck performs a lightweight GET against the models endpoint.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.modelsEndpoint(), nil)
	if err != nil {
		return nil, llm.NewError(llm.ErrAPIError, "building health check request").WithCause(err).WithProvider(p.Cfg.ProviderName)
	}
	req.Header = p.buildHeaders(ctx)
	resp, err := p.Client.Do(req)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: time.Since(start)}, nil
	}
	defer providers.SafeCloseBody(resp.Body)
	return &llm.HealthStatus{
		Healthy: resp.StatusCode >= 200 && resp.StatusCode < 300,
		Latency: time.Since(start),
	}, nil
}

func (p *Provider) buildBody(req *llm.ChatRequest, stream bool) providers.OpenAICompatRequest {
	model := providers.ChooseModel(req, p.Cfg.DefaultModel, p.Cfg.FallbackModel)
	body := providers.OpenAICompatRequest{
		Model:       model,
		Messages:    providers.ConvertMessagesToOpenAI(req.System, req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxOutputTokens,
		Stream:      stream,
		Tools:       providers.ConvertToolsToOpenAI(req.Tools),
	}
	if req.ToolChoice != "" {
		body.ToolChoice = req.ToolChoice
	}
	return body
}

// Completion performs a non-streaming chat request.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	body := p.buildBody(req, false)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "encoding request").WithCause(err).WithProvider(p.Cfg.ProviderName)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(raw))
	if err != nil {
		return nil, llm.NewError(llm.ErrAPIError, "building request").WithCause(err).WithProvider(p.Cfg.ProviderName)
	}
	httpReq.Header = p.buildHeaders(ctx)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, llm.NewError(llm.ErrTimeout, "request failed").WithCause(err).WithProvider(p.Cfg.ProviderName)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Cfg.ProviderName)
	}

	var wireResp providers.OpenAICompatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, llm.NewError(llm.ErrInvalidResponse, "decoding response").WithCause(err).WithProvider(p.Cfg.ProviderName)
	}
	return providers.ToLLMChatResponse(&wireResp, p.Cfg.ProviderName, p.Cfg.Pricing, time.Since(start)), nil
}

// Stream performs a streaming chat request, returning a channel of
// chunks terminated by exactly one IsFinal=true chunk (FinalizeStream
// synthesizes the terminator this dialect's [DONE] marker omits).
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.ChatChunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body := p.buildBody(req, true)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "encoding request").WithCause(err).WithProvider(p.Cfg.ProviderName)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(raw))
	if err != nil {
		return nil, llm.NewError(llm.ErrAPIError, "building request").WithCause(err).WithProvider(p.Cfg.ProviderName)
	}
	httpReq.Header = p.buildHeaders(ctx)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, llm.NewError(llm.ErrTimeout, "request failed").WithCause(err).WithProvider(p.Cfg.ProviderName)
	}
	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		providers.SafeCloseBody(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Cfg.ProviderName)
	}

	raw2 := p.streamSSE(ctx, resp.Body, uuid.New().String())
	return FinalizeStream(raw2, p.Cfg.ProviderName), nil
}

// streamSSE parses the text/event-stream body into raw chunks. It never
// emits a final chunk itself — that is FinalizeStream's job.
func (p *Provider) streamSSE(ctx context.Context, body io.ReadCloser, streamID string) <-chan llm.ChatChunk {
	out := make(chan llm.ChatChunk)
	go func() {
		defer close(out)
		defer providers.SafeCloseBody(body)
		reader := bufio.NewReader(body)
		index := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var ev providers.OpenAICompatResponse
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			index++
			chunk := llm.ChatChunk{
				StreamID: streamID,
				Provider: p.Cfg.ProviderName,
				Model:    ev.Model,
				Index:    index,
			}
			if len(ev.Choices) > 0 {
				chunk.Content = ev.Choices[0].Delta.Content
				chunk.FinishReason = ev.Choices[0].FinishReason
			}
			if ev.Usage != nil {
				chunk.Usage = &llm.TokenUsage{
					InputTokens:  ev.Usage.PromptTokens,
					OutputTokens: ev.Usage.CompletionTokens,
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// ListModels fetches the provider's model catalog.
func (p *Provider) ListModels(ctx context.Context) ([]llm.Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.modelsEndpoint(), nil)
	if err != nil {
		return nil, llm.NewError(llm.ErrAPIError, "building request").WithCause(err).WithProvider(p.Cfg.ProviderName)
	}
	req.Header = p.buildHeaders(ctx)
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, llm.NewError(llm.ErrTimeout, "request failed").WithCause(err).WithProvider(p.Cfg.ProviderName)
	}
	defer providers.SafeCloseBody(resp.Body)
	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Cfg.ProviderName)
	}
	var decoded struct {
		Data []struct {
			ID      string `json:"id"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, llm.NewError(llm.ErrInvalidResponse, "decoding models list").WithCause(err).WithProvider(p.Cfg.ProviderName)
	}
	out := make([]llm.Model, 0, len(decoded.Data))
	for _, d := range decoded.Data {
		out = append(out, llm.Model{ID: d.ID, OwnedBy: d.OwnedBy})
	}
	return out, nil
}
