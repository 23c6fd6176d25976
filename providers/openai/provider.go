// Package openai adapts OpenAI's chat-completions API, with optional
// routing through the stateful Responses API for session continuation
// (previous_response_id), the one provider in this module with
// server-side session support.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Raudbjorn/ttrpg-llm-core/llm"
	"github.com/Raudbjorn/ttrpg-llm-core/providers"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/openaicompat"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config configures the OpenAI adapter.
type Config struct {
	APIKey             string
	Organization       string
	BaseURL            string
	DefaultModel       string
	FallbackModel      string
	UseResponsesAPI    bool
	Pricing            *llm.PricingDescriptor
	Logger             *zap.Logger
}

// Provider is the OpenAI adapter. It embeds the shared OpenAI-compat
// transport and overrides Completion to optionally route through the
// Responses API.
type Provider struct {
	*openaicompat.Provider
	useResponsesAPI bool
	baseURL         string
}

// New constructs an OpenAI provider.
func New(cfg Config) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	org := cfg.Organization
	base := openaicompat.New(openaicompat.Config{
		ProviderName:  "openai",
		APIKey:        cfg.APIKey,
		BaseURL:       baseURL,
		DefaultModel:  cfg.DefaultModel,
		FallbackModel: cfg.FallbackModel,
		Pricing:       cfg.Pricing,
		Logger:        cfg.Logger,
		BuildHeaders: func(apiKey string) http.Header {
			h := http.Header{}
			h.Set("Authorization", "Bearer "+apiKey)
			h.Set("Content-Type", "application/json")
			if org != "" {
				h.Set("OpenAI-Organization", org)
			}
			return h
		},
	})
	return &Provider{Provider: base, useResponsesAPI: cfg.UseResponsesAPI, baseURL: baseURL}
}

// previousResponseIDKey carries the server-side session anchor for the
// Responses API path (§4.9: the only wired provider with a server-side
// session id).
type previousResponseIDKey struct{}

// WithPreviousResponseID attaches a Responses-API continuation id to ctx.
func WithPreviousResponseID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, previousResponseIDKey{}, id)
}

// PreviousResponseIDFromContext reads a continuation id from ctx.
func PreviousResponseIDFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(previousResponseIDKey{})
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

type responsesAPIInputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesAPIRequest struct {
	Model              string                     `json:"model"`
	Input              []responsesAPIInputMessage `json:"input"`
	Instructions       string                     `json:"instructions,omitempty"`
	PreviousResponseID string                     `json:"previous_response_id,omitempty"`
	MaxOutputTokens    int                        `json:"max_output_tokens,omitempty"`
	Temperature        *float32                   `json:"temperature,omitempty"`
}

type responsesAPIOutputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesAPIOutput struct {
	Type    string                      `json:"type"`
	Role    string                      `json:"role"`
	Content []responsesAPIOutputContent `json:"content"`
}

type responsesAPIUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type responsesAPIResponse struct {
	ID     string               `json:"id"`
	Model  string               `json:"model"`
	Output []responsesAPIOutput `json:"output"`
	Usage  *responsesAPIUsage   `json:"usage"`
}

// Completion overrides the embedded transport when the Responses API is
// enabled and a previous_response_id is present on the context; it
// otherwise delegates to the standard chat-completions path.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	prevID, hasPrev := PreviousResponseIDFromContext(ctx)
	if !p.useResponsesAPI || !hasPrev {
		return p.Provider.Completion(ctx, req)
	}
	return p.completionWithResponsesAPI(ctx, req, prevID)
}

func (p *Provider) completionWithResponsesAPI(ctx context.Context, req *llm.ChatRequest, prevID string) (*llm.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	model := providers.ChooseModel(req, p.Provider.Cfg.DefaultModel, p.Provider.Cfg.FallbackModel)

	input := make([]responsesAPIInputMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			continue
		}
		input = append(input, responsesAPIInputMessage{Role: string(m.Role), Content: m.Content})
	}

	body := responsesAPIRequest{
		Model:              model,
		Input:              input,
		Instructions:       req.System,
		PreviousResponseID: prevID,
		MaxOutputTokens:    req.MaxOutputTokens,
		Temperature:        req.Temperature,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "encoding responses request").WithCause(err).WithProvider("openai")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/responses", bytes.NewReader(raw))
	if err != nil {
		return nil, llm.NewError(llm.ErrAPIError, "building request").WithCause(err).WithProvider("openai")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+resolveKeyForContext(ctx, p))

	resp, err := p.Provider.Client.Do(httpReq)
	if err != nil {
		return nil, llm.NewError(llm.ErrTimeout, "request failed").WithCause(err).WithProvider("openai")
	}
	defer providers.SafeCloseBody(resp.Body)
	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, "openai")
	}

	var wire responsesAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, llm.NewError(llm.ErrInvalidResponse, "decoding responses payload").WithCause(err).WithProvider("openai")
	}
	return toResponsesAPIChatResponse(&wire, p.Provider.Cfg.Pricing, time.Since(start)), nil
}

func resolveKeyForContext(ctx context.Context, p *Provider) string {
	if o, ok := llm.CredentialOverrideFromContext(ctx); ok && o.APIKey != "" {
		return o.APIKey
	}
	return p.Provider.Cfg.APIKey
}

func toResponsesAPIChatResponse(wire *responsesAPIResponse, pricing *llm.PricingDescriptor, latency time.Duration) *llm.ChatResponse {
	out := &llm.ChatResponse{
		Model:     wire.Model,
		Provider:  "openai",
		LatencyMs: latency.Milliseconds(),
	}
	for _, o := range wire.Output {
		if o.Type != "message" {
			continue
		}
		for _, c := range o.Content {
			out.Content += c.Text
		}
	}
	out.FinishReason = "stop"
	if wire.Usage != nil {
		out.Usage = &llm.TokenUsage{InputTokens: wire.Usage.InputTokens, OutputTokens: wire.Usage.OutputTokens}
		if pricing != nil {
			cost := pricing.ComputeCost(out.Usage.InputTokens, out.Usage.OutputTokens)
			out.CostUSD = &cost
		}
	}
	return out
}
