// Package cohere adapts the Cohere Chat API dialect: the last user turn
// becomes `message`, earlier turns become `chat_history`, the system
// prompt becomes `preamble`, and streaming emits typed events
// text-generation / stream-end.
package cohere

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

const defaultBaseURL = "https://api.cohere.ai"

// Config configures the Cohere adapter.
type Config struct {
	APIKey        string
	BaseURL       string
	DefaultModel  string
	FallbackModel string
	Pricing       *llm.PricingDescriptor
	Logger        *zap.Logger
}

// Provider is the Cohere adapter.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New constructs a Cohere provider.
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

func (p *Provider) ID() string                     { return "cohere" }
func (p *Provider) DisplayName() string            { return "Cohere" }
func (p *Provider) CurrentModel() string           { return p.cfg.DefaultModel }
func (p *Provider) Pricing() *llm.PricingDescriptor { return p.cfg.Pricing }
func (p *Provider) SupportsStreaming() bool         { return true }

func (p *Provider) Embed(ctx context.Context, _ string) ([]float64, error) {
	return nil, llm.NewError(llm.ErrEmbeddingNotSupport, "embeddings not supported").WithProvider("cohere")
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

type cohereChatHistoryEntry struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

type cohereRequest struct {
	Model       string                   `json:"model"`
	Message     string                   `json:"message"`
	ChatHistory []cohereChatHistoryEntry `json:"chat_history,omitempty"`
	Preamble    string                   `json:"preamble,omitempty"`
	Temperature *float32                 `json:"temperature,omitempty"`
	MaxTokens   int                      `json:"max_tokens,omitempty"`
	Stream      bool                     `json:"stream,omitempty"`
}

type cohereUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type cohereMeta struct {
	BilledUnits cohereUsage `json:"billed_units"`
}

type cohereResponse struct {
	Text         string     `json:"text"`
	FinishReason string     `json:"finish_reason"`
	Meta         cohereMeta `json:"meta"`
}

// cohereStreamEvent is the union of fields used across text-generation
// and stream-end events.
type cohereStreamEvent struct {
	EventType    string     `json:"event_type"`
	Text         string     `json:"text"`
	FinishReason string     `json:"finish_reason"`
	Response     struct {
		Meta cohereMeta `json:"meta"`
	} `json:"response"`
}

// cohereRole maps a chat-history role to Cohere's USER/CHATBOT vocabulary.
func cohereRole(r llm.Role) string {
	if r == llm.RoleAssistant {
		return "CHATBOT"
	}
	return "USER"
}

func (p *Provider) buildBody(req *llm.ChatRequest, stream bool) cohereRequest {
	var history []cohereChatHistoryEntry
	var lastUser string
	for i, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			continue
		}
		isLast := i == len(req.Messages)-1
		if isLast && m.Role == llm.RoleUser {
			lastUser = m.Content
			continue
		}
		history = append(history, cohereChatHistoryEntry{Role: cohereRole(m.Role), Message: m.Content})
	}
	return cohereRequest{
		Model:       p.model(req),
		Message:     lastUser,
		ChatHistory: history,
		Preamble:    req.System,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxOutputTokens,
		Stream:      stream,
	}
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: time.Since(start)}, nil
	}
	req.Header.Set("Authorization", "Bearer "+p.resolveAPIKey(ctx))
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
		return nil, llm.NewError(llm.ErrInvalidRequest, "encoding request").WithCause(err).WithProvider("cohere")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/chat", bytes.NewReader(raw))
	if err != nil {
		return nil, llm.NewError(llm.ErrAPIError, "building request").WithCause(err).WithProvider("cohere")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.resolveAPIKey(ctx))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.NewError(llm.ErrTimeout, "request failed").WithCause(err).WithProvider("cohere")
	}
	defer providers.SafeCloseBody(resp.Body)
	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, "cohere")
	}
	var wire cohereResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, llm.NewError(llm.ErrInvalidResponse, "decoding response").WithCause(err).WithProvider("cohere")
	}
	out := &llm.ChatResponse{
		Content:      wire.Text,
		Model:        body.Model,
		Provider:     "cohere",
		FinishReason: wire.FinishReason,
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage:        &llm.TokenUsage{InputTokens: wire.Meta.BilledUnits.InputTokens, OutputTokens: wire.Meta.BilledUnits.OutputTokens},
	}
	if p.cfg.Pricing != nil {
		cost := p.cfg.Pricing.ComputeCost(out.Usage.InputTokens, out.Usage.OutputTokens)
		out.CostUSD = &cost
	}
	return out, nil
}

// Stream performs a streaming chat call.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.ChatChunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	model := p.model(req)
	body := p.buildBody(req, true)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "encoding request").WithCause(err).WithProvider("cohere")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/chat", bytes.NewReader(raw))
	if err != nil {
		return nil, llm.NewError(llm.ErrAPIError, "building request").WithCause(err).WithProvider("cohere")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.resolveAPIKey(ctx))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.NewError(llm.ErrTimeout, "request failed").WithCause(err).WithProvider("cohere")
	}
	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		providers.SafeCloseBody(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, "cohere")
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
			if line == "" {
				continue
			}
			var ev cohereStreamEvent
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				continue
			}
			switch ev.EventType {
			case "text-generation":
				index++
				select {
				case out <- llm.ChatChunk{StreamID: streamID, Provider: "cohere", Model: model, Index: index, Content: ev.Text}:
				case <-ctx.Done():
					return
				}
			case "stream-end":
				index++
				select {
				case out <- llm.ChatChunk{
					StreamID:     streamID,
					Provider:     "cohere",
					Model:        model,
					Index:        index,
					FinishReason: ev.FinishReason,
					Usage: &llm.TokenUsage{
						InputTokens:  ev.Response.Meta.BilledUnits.InputTokens,
						OutputTokens: ev.Response.Meta.BilledUnits.OutputTokens,
					},
				}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return openaicompat.FinalizeStream(out, "cohere"), nil
}
