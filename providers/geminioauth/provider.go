// Package geminioauth adapts the Google Gemini generateContent API
// dialect for the OAuth-PKCE credential family (§4.6): an Authorization:
// Bearer access token refreshed through oauth.Refresher instead of a
// static x-goog-api-key.
package geminioauth

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

	"github.com/Raudbjorn/ttrpg-llm-core/credstore"
	"github.com/Raudbjorn/ttrpg-llm-core/internal/tlsutil"
	"github.com/Raudbjorn/ttrpg-llm-core/llm"
	"github.com/Raudbjorn/ttrpg-llm-core/oauth"
	"github.com/Raudbjorn/ttrpg-llm-core/providers"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/openaicompat"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	providerID     = "gemini-oauth"
)

// Config configures the Gemini OAuth adapter.
type Config struct {
	BaseURL       string
	DefaultModel  string
	FallbackModel string
	Pricing       *llm.PricingDescriptor
	Logger        *zap.Logger

	OAuth oauth.PKCEConfig
	Store credstore.Store
}

// Provider is the Gemini adapter, credentialed by OAuth.
type Provider struct {
	cfg       Config
	client    *http.Client
	logger    *zap.Logger
	refresher *oauth.Refresher
}

// New constructs a Gemini OAuth provider.
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
func (p *Provider) DisplayName() string            { return "Google Gemini (OAuth)" }
func (p *Provider) CurrentModel() string           { return p.cfg.DefaultModel }
func (p *Provider) Pricing() *llm.PricingDescriptor { return p.cfg.Pricing }
func (p *Provider) SupportsStreaming() bool         { return true }

func (p *Provider) Embed(ctx context.Context, _ string) ([]float64, error) {
	return nil, llm.NewError(llm.ErrEmbeddingNotSupport, "embeddings not supported").WithProvider(providerID)
}

func (p *Provider) accessToken(ctx context.Context) (string, error) {
	if o, ok := llm.CredentialOverrideFromContext(ctx); ok && o.APIKey != "" {
		return o.APIKey, nil
	}
	rec, err := p.cfg.Store.Get(providerID)
	if err != nil {
		return "", llm.NewError(llm.ErrAuth, "no gemini oauth credential on file").WithCause(err).WithProvider(providerID)
	}
	tok := recordToToken(rec)
	fresh, err := p.refresher.EnsureValid(ctx, providerID, tok)
	if err != nil {
		return "", llm.NewError(llm.ErrAuth, "refreshing gemini oauth token").WithCause(err).WithProvider(providerID)
	}
	if fresh.AccessToken != tok.AccessToken {
		if werr := p.cfg.Store.Set(providerID, tokenToRecord(fresh)); werr != nil {
			p.logger.Warn("persisting refreshed gemini oauth token failed", zap.Error(werr))
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

func (p *Provider) model(req *llm.ChatRequest) string {
	return providers.ChooseModel(req, p.cfg.DefaultModel, p.cfg.FallbackModel)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type wireRequest struct {
	Contents          []content                `json:"contents"`
	SystemInstruction *systemInstruction       `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig        `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type wireResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata"`
}

func remapRole(r llm.Role) string {
	switch r {
	case llm.RoleAssistant:
		return "model"
	default:
		return "user"
	}
}

func (p *Provider) buildBody(req *llm.ChatRequest) wireRequest {
	contents := make([]content, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			continue
		}
		contents = append(contents, content{Role: remapRole(m.Role), Parts: []part{{Text: m.Content}}})
	}
	body := wireRequest{Contents: contents}
	if req.System != "" {
		body.SystemInstruction = &systemInstruction{Parts: []part{{Text: req.System}}}
	}
	if req.Temperature != nil || req.MaxOutputTokens > 0 {
		body.GenerationConfig = &generationConfig{Temperature: req.Temperature, MaxOutputTokens: req.MaxOutputTokens}
	}
	return body
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	tok, err := p.accessToken(ctx)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: time.Since(start)}, nil
	}
	url := fmt.Sprintf("%s/v1beta/models", p.cfg.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: time.Since(start)}, nil
	}
	req.Header.Set("Authorization", "Bearer "+tok)
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
	tok, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	body := p.buildBody(req)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "encoding request").WithCause(err).WithProvider(providerID)
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.cfg.BaseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, llm.NewError(llm.ErrAPIError, "building request").WithCause(err).WithProvider(providerID)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+tok)

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
	out := &llm.ChatResponse{Model: model, Provider: providerID, LatencyMs: time.Since(start).Milliseconds()}
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
	tok, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	body := p.buildBody(req)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrInvalidRequest, "encoding request").WithCause(err).WithProvider(providerID)
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", p.cfg.BaseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, llm.NewError(llm.ErrAPIError, "building request").WithCause(err).WithProvider(providerID)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+tok)
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
			var wire wireResponse
			if err := json.Unmarshal([]byte(data), &wire); err != nil {
				continue
			}
			index++
			chunk := llm.ChatChunk{StreamID: streamID, Provider: providerID, Model: model, Index: index}
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
	return openaicompat.FinalizeStream(out, providerID), nil
}
