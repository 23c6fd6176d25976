// Package anthropic adapts the Anthropic Messages API dialect: system
// prompt hoisted to a top-level field, x-api-key/anthropic-version
// headers, and typed SSE events instead of the OpenAI-family's flat
// delta stream.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Raudbjorn/ttrpg-llm-core/internal/tlsutil"
	"github.com/Raudbjorn/ttrpg-llm-core/llm"
	"github.com/Raudbjorn/ttrpg-llm-core/providers"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/openaicompat"
	"go.uber.org/zap"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// Config configures the Anthropic adapter.
type Config struct {
	APIKey        string
	BaseURL       string
	DefaultModel  string
	FallbackModel string
	Pricing       *llm.PricingDescriptor
	Logger        *zap.Logger
}

// Provider is the Anthropic Messages API adapter.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New constructs an Anthropic provider.
func New(cfg Config) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	cfg.BaseURL = baseURL
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(llm.RequestTimeout),
		logger: logger,
	}
}

func (p *Provider) ID() string                          { return "anthropic" }
func (p *Provider) DisplayName() string                 { return "Anthropic" }
func (p *Provider) CurrentModel() string                { return p.cfg.DefaultModel }
func (p *Provider) Pricing() *llm.PricingDescriptor      { return p.cfg.Pricing }
func (p *Provider) SupportsStreaming() bool              { return true }
func (p *Provider) Embed(ctx context.Context, _ string) ([]float64, error) {
	return nil, llm.NewError(llm.ErrEmbeddingNotSupport, "embeddings not supported").WithProvider("anthropic")
}

func (p *Provider) resolveAPIKey(ctx context.Context) string {
	if o, ok := llm.CredentialOverrideFromContext(ctx); ok && o.APIKey != "" {
		return o.APIKey
	}
	return p.cfg.APIKey
}

func (p *Provider) headers(ctx context.Context) http.Header {
	h := http.Header{}
	h.Set("x-api-key", p.resolveAPIKey(ctx))
	h.Set("anthropic-version", anthropicVersion)
	h.Set("Content-Type", "application/json")
	return h
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	req, err := p.buildRequest(ctx, &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("ping")}, MaxOutputTokens: 1}, false)
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

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	System      string              `json:"system,omitempty"`
	Messages    []anthropicMessage  `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature *float32            `json:"temperature,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

func (p *Provider) convertMessages(req *llm.ChatRequest) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			continue
		}
		out = append(out, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (p *Provider) model(req *llm.ChatRequest) string {
	return providers.ChooseModel(req, p.cfg.DefaultModel, p.cfg.FallbackModel)
}

func (p *Provider) buildRequest(ctx context.Context, req *llm.ChatRequest, stream bool) (*http.Request, error) {
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	body := anthropicRequest{
		Model:       p.model(req),
		System:      req.System,
		Messages:    p.convertMessages(req),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "encoding request").WithCause(err).WithProvider("anthropic")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/messages", bytes.NewReader(raw))
	if err != nil {
		return nil, llm.NewError(llm.ErrAPIError, "building request").WithCause(err).WithProvider("anthropic")
	}
	httpReq.Header = p.headers(ctx)
	return httpReq, nil
}

// Completion performs a non-streaming Messages API call.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	httpReq, err := p.buildRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.NewError(llm.ErrTimeout, "request failed").WithCause(err).WithProvider("anthropic")
	}
	defer providers.SafeCloseBody(resp.Body)
	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, "anthropic")
	}
	var wire anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, llm.NewError(llm.ErrInvalidResponse, "decoding response").WithCause(err).WithProvider("anthropic")
	}
	out := &llm.ChatResponse{
		Model:        wire.Model,
		Provider:     "anthropic",
		FinishReason: wire.StopReason,
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage:        &llm.TokenUsage{InputTokens: wire.Usage.InputTokens, OutputTokens: wire.Usage.OutputTokens},
	}
	for _, c := range wire.Content {
		if c.Type == "text" {
			out.Content += c.Text
		}
	}
	if p.cfg.Pricing != nil {
		cost := p.cfg.Pricing.ComputeCost(out.Usage.InputTokens, out.Usage.OutputTokens)
		out.CostUSD = &cost
	}
	return out, nil
}

// anthropicEvent is the union of fields used across the typed SSE events
// this dialect emits (message_start, content_block_delta, message_delta,
// message_stop).
type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage   *anthropicUsage `json:"usage"`
	Message *struct {
		Model string         `json:"model"`
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
}

// Stream performs a streaming Messages API call. Raw event parsing is
// wrapped by openaicompat.FinalizeStream so this dialect's
// message_stop/message_delta termination gets the same uniform
// exactly-one-final-chunk guarantee as the OpenAI family.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.ChatChunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	httpReq, err := p.buildRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.NewError(llm.ErrTimeout, "request failed").WithCause(err).WithProvider("anthropic")
	}
	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		providers.SafeCloseBody(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, "anthropic")
	}

	raw := make(chan llm.ChatChunk)
	go func() {
		defer close(raw)
		defer providers.SafeCloseBody(resp.Body)
		reader := bufio.NewReader(resp.Body)
		model := p.model(req)
		streamID := uuid.New().String()
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
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			var ev anthropicEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			switch ev.Type {
			case "message_start":
				if ev.Message != nil && ev.Message.Model != "" {
					model = ev.Message.Model
				}
			case "content_block_delta":
				index++
				select {
				case raw <- llm.ChatChunk{StreamID: streamID, Provider: "anthropic", Model: model, Index: index, Content: ev.Delta.Text}:
				case <-ctx.Done():
					return
				}
			case "message_delta":
				index++
				chunk := llm.ChatChunk{StreamID: streamID, Provider: "anthropic", Model: model, Index: index, FinishReason: ev.Delta.StopReason}
				if ev.Usage != nil {
					chunk.Usage = &llm.TokenUsage{OutputTokens: ev.Usage.OutputTokens}
				}
				select {
				case raw <- chunk:
				case <-ctx.Done():
					return
				}
			case "message_stop":
				return
			}
		}
	}()
	return openaicompat.FinalizeStream(raw, "anthropic"), nil
}
