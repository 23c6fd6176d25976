// Package gemini adapts the Google Gemini generateContent API dialect:
// role remap (User->user, Assistant->model), system prompt hoisted to
// systemInstruction, x-goog-api-key header, usage in usageMetadata.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
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

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Config configures the Gemini adapter.
type Config struct {
	APIKey        string
	BaseURL       string
	DefaultModel  string
	FallbackModel string
	Pricing       *llm.PricingDescriptor
	Logger        *zap.Logger
}

// Provider is the Gemini adapter.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New constructs a Gemini provider.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, client: tlsutil.SecureHTTPClient(llm.RequestTimeout), logger: logger}
}

func (p *Provider) ID() string                     { return "gemini" }
func (p *Provider) DisplayName() string            { return "Google Gemini" }
func (p *Provider) CurrentModel() string           { return p.cfg.DefaultModel }
func (p *Provider) Pricing() *llm.PricingDescriptor { return p.cfg.Pricing }
func (p *Provider) SupportsStreaming() bool         { return true }

func (p *Provider) Embed(ctx context.Context, _ string) ([]float64, error) {
	return nil, llm.NewError(llm.ErrEmbeddingNotSupport, "embeddings not supported").WithProvider("gemini")
}

func (p *Provider) resolveAPIKey(ctx context.Context) string {
	if o, ok := llm.CredentialOverrideFromContext(ctx); ok && o.APIKey != "" {
		return o.APIKey
	}
	return p.cfg.APIKey
}

func (p *Provider) model(req *llm.ChatRequest) string {
	return providers.ChooseModel(req, p.cfg.DefaultModel, p.cfg.FallbackModel)
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig  `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

func remapRole(r llm.Role) string {
	switch r {
	case llm.RoleAssistant:
		return "model"
	default:
		return "user"
	}
}

func (p *Provider) buildBody(req *llm.ChatRequest) geminiRequest {
	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			continue
		}
		contents = append(contents, geminiContent{Role: remapRole(m.Role), Parts: []geminiPart{{Text: m.Content}}})
	}
	body := geminiRequest{Contents: contents}
	if req.System != "" {
		body.SystemInstruction = &geminiSystemInstruction{Parts: []geminiPart{{Text: req.System}}}
	}
	if req.Temperature != nil || req.MaxOutputTokens > 0 {
		body.GenerationConfig = &geminiGenerationConfig{Temperature: req.Temperature, MaxOutputTokens: req.MaxOutputTokens}
	}
	return body
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	url := fmt.Sprintf("%s/v1beta/models", p.cfg.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: time.Since(start)}, nil
	}
	req.Header.Set("x-goog-api-key", p.resolveAPIKey(ctx))
	resp, err := p.client.Do(req)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: time.Since(start)}, nil
	}
	defer providers.SafeCloseBody(resp.Body)
	return &llm.HealthStatus{Healthy: resp.StatusCode < 500, Latency: time.Since(start)}, nil
}

// Completion performs a non-streaming generateContent call.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	model := p.model(req)
	body := p.buildBody(req)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "encoding request").WithCause(err).WithProvider("gemini")
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.cfg.BaseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, llm.NewError(llm.ErrAPIError, "building request").WithCause(err).WithProvider("gemini")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.resolveAPIKey(ctx))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.NewError(llm.ErrTimeout, "request failed").WithCause(err).WithProvider("gemini")
	}
	defer providers.SafeCloseBody(resp.Body)
	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, "gemini")
	}
	var wire geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, llm.NewError(llm.ErrInvalidResponse, "decoding response").WithCause(err).WithProvider("gemini")
	}
	out := &llm.ChatResponse{Model: model, Provider: "gemini", LatencyMs: time.Since(start).Milliseconds()}
	if len(wire.Candidates) > 0 {
		c := wire.Candidates[0]
		out.FinishReason = c.FinishReason
		for _, part := range c.Content.Parts {
			out.Content += part.Text
		}
	}
	if wire.UsageMetadata != nil {
		out.Usage = &llm.TokenUsage{
			InputTokens:  wire.UsageMetadata.PromptTokenCount,
			OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
		}
		if p.cfg.Pricing != nil {
			cost := p.cfg.Pricing.ComputeCost(out.Usage.InputTokens, out.Usage.OutputTokens)
			out.CostUSD = &cost
		}
	}
	return out, nil
}

// Stream performs a streamGenerateContent?alt=sse call.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.ChatChunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	model := p.model(req)
	body := p.buildBody(req)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "encoding request").WithCause(err).WithProvider("gemini")
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", p.cfg.BaseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, llm.NewError(llm.ErrAPIError, "building request").WithCause(err).WithProvider("gemini")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.resolveAPIKey(ctx))
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.NewError(llm.ErrTimeout, "request failed").WithCause(err).WithProvider("gemini")
	}
	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		providers.SafeCloseBody(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, "gemini")
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
			var wire geminiResponse
			if err := json.Unmarshal([]byte(data), &wire); err != nil {
				continue
			}
			index++
			chunk := llm.ChatChunk{StreamID: streamID, Provider: "gemini", Model: model, Index: index}
			if len(wire.Candidates) > 0 {
				c := wire.Candidates[0]
				chunk.FinishReason = c.FinishReason
				for _, part := range c.Content.Parts {
					chunk.Content += part.Text
				}
			}
			if wire.UsageMetadata != nil {
				chunk.Usage = &llm.TokenUsage{
					InputTokens:  wire.UsageMetadata.PromptTokenCount,
					OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return openaicompat.FinalizeStream(out, "gemini"), nil
}
