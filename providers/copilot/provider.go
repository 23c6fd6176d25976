// Package copilot adapts GitHub Copilot's chat completions API: a
// Device Code-authorized long-lived GitHub token (§4.6) exchanged for a
// short-lived derived API token, which is what actually authorizes each
// chat-completions call. The wire dialect itself is OpenAI-compatible,
// so this adapter embeds providers/openaicompat rather than parsing its
// own response shape.
package copilot

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Raudbjorn/ttrpg-llm-core/credstore"
	"github.com/Raudbjorn/ttrpg-llm-core/internal/tlsutil"
	"github.com/Raudbjorn/ttrpg-llm-core/llm"
	"github.com/Raudbjorn/ttrpg-llm-core/oauth"
	"github.com/Raudbjorn/ttrpg-llm-core/providers"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/openaicompat"
	"go.uber.org/zap"
)

const (
	defaultBaseURL   = "https://api.githubcopilot.com"
	tokenExchangeURL = "https://api.github.com/copilot_internal/v2/token"
	editorVersion    = "ttrpg-llm-core/1.0"
	providerID       = "copilot"
)

// Config configures the Copilot adapter.
type Config struct {
	BaseURL       string
	DefaultModel  string
	FallbackModel string
	Pricing       *llm.PricingDescriptor
	Logger        *zap.Logger

	// DeviceCode is unused by the provider itself (the device-code poll
	// loop runs once during CLI-driven credential setup, via
	// oauth.RunDeviceCodeFlow) but is kept here so callers building a
	// Provider and the setup flow share one config value.
	DeviceCode oauth.DeviceCodeConfig
	Store      credstore.Store
}

// Provider is the Copilot chat-completions adapter.
type Provider struct {
	cfg        Config
	inner      *openaicompat.Provider
	exchangeClient *http.Client
	logger     *zap.Logger
}

// New constructs a Copilot provider.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{cfg: cfg, exchangeClient: tlsutil.SecureHTTPClient(15 * time.Second), logger: logger}
	p.inner = openaicompat.New(openaicompat.Config{
		ProviderName:  providerID,
		BaseURL:       cfg.BaseURL,
		EndpointPath:  "/chat/completions",
		DefaultModel:  cfg.DefaultModel,
		FallbackModel: cfg.FallbackModel,
		Pricing:       cfg.Pricing,
		Logger:        logger,
		BuildHeaders: func(apiKey string) http.Header {
			h := http.Header{}
			h.Set("Authorization", "Bearer "+apiKey)
			h.Set("Content-Type", "application/json")
			h.Set("Copilot-Integration-Id", "vscode-chat")
			h.Set("Editor-Version", editorVersion)
			return h
		},
	})
	return p
}

func (p *Provider) ID() string                     { return providerID }
func (p *Provider) DisplayName() string            { return "GitHub Copilot" }
func (p *Provider) CurrentModel() string           { return p.cfg.DefaultModel }
func (p *Provider) Pricing() *llm.PricingDescriptor { return p.cfg.Pricing }
func (p *Provider) SupportsStreaming() bool         { return true }

func (p *Provider) Embed(ctx context.Context, _ string) ([]float64, error) {
	return nil, llm.NewError(llm.ErrEmbeddingNotSupport, "embeddings not supported").WithProvider(providerID)
}

// derivedToken returns the short-lived Copilot API token, exchanging the
// long-lived device-code-issued GitHub token for a fresh one whenever
// the cached derived token has expired (§4.6 "derived credential").
func (p *Provider) derivedToken(ctx context.Context) (string, error) {
	rec, err := p.cfg.Store.Get(providerID)
	if err != nil {
		return "", llm.NewError(llm.ErrAuth, "no copilot credential on file").WithCause(err).WithProvider(providerID)
	}
	if rec.VendorToken == "" {
		return "", llm.NewError(llm.ErrAuth, "copilot device-code authorization not completed").WithProvider(providerID)
	}
	if rec.DerivedToken != "" && !derivedExpired(rec) {
		return rec.DerivedToken, nil
	}
	derived, expiresAt, err := p.exchangeVendorToken(ctx, rec.VendorToken)
	if err != nil {
		return "", llm.NewError(llm.ErrAuth, "exchanging copilot vendor token").WithCause(err).WithProvider(providerID)
	}
	rec.DerivedToken = derived
	rec.DerivedExpiry = expiresAt.UTC().Format(time.RFC3339)
	if werr := p.cfg.Store.Set(providerID, rec); werr != nil {
		p.logger.Warn("persisting derived copilot token failed", zap.Error(werr))
	}
	return derived, nil
}

func derivedExpired(rec credstore.Record) bool {
	expiry, err := time.Parse(time.RFC3339, rec.DerivedExpiry)
	if err != nil {
		return true
	}
	return time.Now().After(expiry.Add(-oauth.TokenSkew))
}

func (p *Provider) exchangeVendorToken(ctx context.Context, vendorToken string) (string, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenExchangeURL, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Authorization", "token "+vendorToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.exchangeClient.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer providers.SafeCloseBody(resp.Body)
	if resp.StatusCode >= 400 {
		return "", time.Time{}, providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), providerID)
	}

	var decoded struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", time.Time{}, err
	}
	return decoded.Token, time.Unix(decoded.ExpiresAt, 0), nil
}

func withDerived(ctx context.Context, tok string) context.Context {
	return llm.WithCredentialOverride(ctx, llm.CredentialOverride{APIKey: tok})
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	tok, err := p.derivedToken(ctx)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: time.Since(start)}, nil
	}
	return p.inner.HealthCheck(withDerived(ctx, tok))
}

// Completion performs a non-streaming chat-completions call.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	tok, err := p.derivedToken(ctx)
	if err != nil {
		return nil, err
	}
	return p.inner.Completion(withDerived(ctx, tok), req)
}

// Stream performs a streaming chat-completions call.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.ChatChunk, error) {
	tok, err := p.derivedToken(ctx)
	if err != nil {
		return nil, err
	}
	return p.inner.Stream(withDerived(ctx, tok), req)
}
