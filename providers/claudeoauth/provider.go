// Package claudeoauth adapts the Anthropic Messages API dialect for the
// OAuth-PKCE credential family (§4.6): a Bearer access token refreshed
// through oauth.Refresher instead of a static x-api-key.
package claudeoauth

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Raudbjorn/ttrpg-llm-core/credstore"
	"github.com/Raudbjorn/ttrpg-llm-core/internal/tlsutil"
	"github.com/Raudbjorn/ttrpg-llm-core/llm"
	"github.com/Raudbjorn/ttrpg-llm-core/oauth"
	"github.com/Raudbjorn/ttrpg-llm-core/providers"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/openaicompat"
	"go.uber.org/zap"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
	anthropicBeta    = "oauth-2025-04-20"
	providerID       = "claude-oauth"
)

// Config configures the Claude OAuth adapter.
type Config struct {
	BaseURL       string
	DefaultModel  string
	FallbackModel string
	Pricing       *llm.PricingDescriptor
	Logger        *zap.Logger

	// OAuth wires the refresher to Anthropic's token endpoint; Store
	// persists the current token keyed by providerID so a refreshed
	// token survives process restarts.
	OAuth oauth.PKCEConfig
	Store credstore.Store
}

// Provider is the Anthropic Messages API adapter, credentialed by OAuth.
type Provider struct {
	cfg       Config
	client    *http.Client
	logger    *zap.Logger
	refresher *oauth.Refresher
}

// New constructs a Claude OAuth provider.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:       cfg,
		client:    tlsutil.SecureHTTPClient(llm.RequestTimeout),
		logger:    logger,
		refresher: oauth.NewRefresher(cfg.OAuth),
	}
}

func (p *Provider) ID() string                     { return providerID }
func (p *Provider) DisplayName() string            { return "Claude (OAuth)" }
func (p *Provider) CurrentModel() string           { return p.cfg.DefaultModel }
func (p *Provider) Pricing() *llm.PricingDescriptor { return p.cfg.Pricing }
func (p *Provider) SupportsStreaming() bool         { return true }

func (p *Provider) Embed(ctx context.Context, _ string) ([]float64, error) {
	return nil, llm.NewError(llm.ErrEmbeddingNotSupport, "embeddings not supported").WithProvider(providerID)
}

// accessToken loads the persisted credential record, refreshes it via
// the PKCE token endpoint if it has passed its skew window, and persists
// the refreshed token back to the store (§4.6: refreshed tokens are
// written through immediately, not just cached in memory).
func (p *Provider) accessToken(ctx context.Context) (string, error) {
	if o, ok := llm.CredentialOverrideFromContext(ctx); ok && o.APIKey != "" {
		return o.APIKey, nil
	}
	rec, err := p.cfg.Store.Get(providerID)
	if err != nil {
		return "", llm.NewError(llm.ErrAuth, "no claude oauth credential on file").WithCause(err).WithProvider(providerID)
	}
	tok := recordToToken(rec)
	fresh, err := p.refresher.EnsureValid(ctx, providerID, tok)
	if err != nil {
		return "", llm.NewError(llm.ErrAuth, "refreshing claude oauth token").WithCause(err).WithProvider(providerID)
	}
	if fresh.AccessToken != tok.AccessToken {
		if werr := p.cfg.Store.Set(providerID, tokenToRecord(fresh)); werr != nil {
			p.logger.Warn("persisting refreshed claude oauth token failed", zap.Error(werr))
		}
	}
	return fresh.AccessToken, nil
}

func recordToToken(rec credstore.Record) oauth.Token {
	expiresAt, _ := time.Parse(time.RFC3339, rec.ExpiresAt)
	createdAt, _ := time.Parse(time.RFC3339, rec.CreatedAt)
	return oauth.Token{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    expiresAt,
		Scope:        rec.Scope,
		CreatedAt:    createdAt,
	}
}

func tokenToRecord(tok oauth.Token) credstore.Record {
	return credstore.Record{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt.UTC().Format(time.RFC3339),
		Scope:        tok.Scope,
		CreatedAt:    tok.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (p *Provider) headers(ctx context.Context) (http.Header, error) {
	tok, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	h.Set("anthropic-version", anthropicVersion)
	h.Set("anthropic-beta", anthropicBeta)
	h.Set("Content-Type", "application/json")
	return h, nil
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

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float32  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireResponse struct {
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

func (p *Provider) convertMessages(req *llm.ChatRequest) []message {
	out := make([]message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			continue
		}
		out = append(out, message{Role: string(m.Role), Content: m.Content})
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
	body := wireRequest{
		Model:       p.model(req),
		System:      req.System,
		Messages:    p.convertMessages(req),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "encoding request").WithCause(err).WithProvider(providerID)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/messages", bytes.NewReader(raw))
	if err != nil {
		return nil, llm.NewError(llm.ErrAPIError, "building request").WithCause(err).WithProvider(providerID)
	}
	headers, err := p.headers(ctx)
	if err != nil {
		return nil, err
	}
	httpReq.Header = headers
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
		return nil, llm.NewError(llm.ErrTimeout, "request failed").WithCause(err).WithProvider(providerID)
	}
	defer providers.SafeCloseBody(resp.Body)
	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, providerID)
	}
	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, llm.NewError(llm.ErrInvalidResponse, "decoding response").WithCause(err).WithProvider(providerID)
	}
	out := &llm.ChatResponse{
		Model:        wire.Model,
		Provider:     providerID,
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

type event struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage   *usage `json:"usage"`
	Message *struct {
		Model string `json:"model"`
		Usage usage  `json:"usage"`
	} `json:"message"`
}

// Stream performs a streaming Messages API call, same typed-event
// parsing as the API-key variant, finalized through FinalizeStream.
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
		return nil, llm.NewError(llm.ErrTimeout, "request failed").WithCause(err).WithProvider(providerID)
	}
	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		providers.SafeCloseBody(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, providerID)
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
			var ev event
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
				case raw <- llm.ChatChunk{StreamID: streamID, Provider: providerID, Model: model, Index: index, Content: ev.Delta.Text}:
				case <-ctx.Done():
					return
				}
			case "message_delta":
				index++
				chunk := llm.ChatChunk{StreamID: streamID, Provider: providerID, Model: model, Index: index, FinishReason: ev.Delta.StopReason}
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
	return openaicompat.FinalizeStream(raw, providerID), nil
}
