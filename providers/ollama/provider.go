// Package ollama adapts a local Ollama HTTP server: POST /api/chat with
// JSON-lines streaming terminated by a line carrying "done": true plus
// prompt_eval_count/eval_count token accounting.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Raudbjorn/ttrpg-llm-core/internal/tlsutil"
	"github.com/Raudbjorn/ttrpg-llm-core/llm"
	"github.com/Raudbjorn/ttrpg-llm-core/providers"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/openaicompat"
	"go.uber.org/zap"
)

const defaultHost = "http://localhost:11434"

// Config configures the Ollama adapter. Ollama has no pricing: it runs
// local models, so Pricing is always nil and responses carry no cost
// (CostUSD stays nil).
type Config struct {
	Host          string
	DefaultModel  string
	FallbackModel string
	Logger        *zap.Logger
}

// Provider is the local Ollama adapter.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New constructs an Ollama provider.
func New(cfg Config) *Provider {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, client: tlsutil.SecureHTTPClient(llm.RequestTimeout), logger: logger}
}

func (p *Provider) ID() string                     { return "ollama" }
func (p *Provider) DisplayName() string            { return "Ollama (local)" }
func (p *Provider) CurrentModel() string           { return p.cfg.DefaultModel }
func (p *Provider) Pricing() *llm.PricingDescriptor { return nil }
func (p *Provider) SupportsStreaming() bool         { return true }

func (p *Provider) Embed(ctx context.Context, text string) ([]float64, error) {
	body, _ := json.Marshal(map[string]string{"model": p.cfg.DefaultModel, "prompt": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, llm.NewError(llm.ErrAPIError, "building request").WithCause(err).WithProvider("ollama")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, llm.NewError(llm.ErrTimeout, "request failed").WithCause(err).WithProvider("ollama")
	}
	defer providers.SafeCloseBody(resp.Body)
	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, "ollama")
	}
	var decoded struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, llm.NewError(llm.ErrInvalidResponse, "decoding embedding").WithCause(err).WithProvider("ollama")
	}
	return decoded.Embedding, nil
}

func (p *Provider) model(req *llm.ChatRequest) string {
	return providers.ChooseModel(req, p.cfg.DefaultModel, p.cfg.FallbackModel)
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature *float32 `json:"temperature,omitempty"`
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func (p *Provider) buildBody(req *llm.ChatRequest, stream bool) ollamaRequest {
	msgs := make([]ollamaMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	body := ollamaRequest{Model: p.model(req), Messages: msgs, Stream: stream}
	if req.Temperature != nil {
		body.Options = &ollamaOptions{Temperature: req.Temperature}
	}
	return body
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Host+"/api/tags", nil)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: time.Since(start)}, nil
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: time.Since(start)}, nil
	}
	defer providers.SafeCloseBody(resp.Body)
	return &llm.HealthStatus{Healthy: resp.StatusCode < 500, Latency: time.Since(start)}, nil
}

// Completion performs a non-streaming chat call.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	body := p.buildBody(req, false)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "encoding request").WithCause(err).WithProvider("ollama")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/api/chat", bytes.NewReader(raw))
	if err != nil {
		return nil, llm.NewError(llm.ErrAPIError, "building request").WithCause(err).WithProvider("ollama")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.NewError(llm.ErrTimeout, "request failed").WithCause(err).WithProvider("ollama")
	}
	defer providers.SafeCloseBody(resp.Body)
	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, "ollama")
	}
	var wire ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, llm.NewError(llm.ErrInvalidResponse, "decoding response").WithCause(err).WithProvider("ollama")
	}
	finish := ""
	if wire.Done {
		finish = "stop"
	}
	return &llm.ChatResponse{
		Content:      wire.Message.Content,
		Model:        wire.Model,
		Provider:     "ollama",
		FinishReason: finish,
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage:        &llm.TokenUsage{InputTokens: wire.PromptEvalCount, OutputTokens: wire.EvalCount},
	}, nil
}

// Stream performs a streaming chat call over newline-delimited JSON.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.ChatChunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body := p.buildBody(req, true)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "encoding request").WithCause(err).WithProvider("ollama")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/api/chat", bytes.NewReader(raw))
	if err != nil {
		return nil, llm.NewError(llm.ErrAPIError, "building request").WithCause(err).WithProvider("ollama")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.NewError(llm.ErrTimeout, "request failed").WithCause(err).WithProvider("ollama")
	}
	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		providers.SafeCloseBody(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, "ollama")
	}

	out := make(chan llm.ChatChunk)
	go func() {
		defer close(out)
		defer providers.SafeCloseBody(resp.Body)
		reader := bufio.NewReader(resp.Body)
		streamID := uuid.New().String()
		index := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line, err := reader.ReadBytes('\n')
			if len(line) == 0 && err != nil {
				return
			}
			var wire ollamaResponse
			if jsonErr := json.Unmarshal(bytes.TrimSpace(line), &wire); jsonErr != nil {
				if err != nil {
					return
				}
				continue
			}
			index++
			chunk := llm.ChatChunk{StreamID: streamID, Provider: "ollama", Model: wire.Model, Index: index, Content: wire.Message.Content}
			if wire.Done {
				chunk.FinishReason = "stop"
				chunk.Usage = &llm.TokenUsage{InputTokens: wire.PromptEvalCount, OutputTokens: wire.EvalCount}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return openaicompat.FinalizeStream(out, "ollama"), nil
}
