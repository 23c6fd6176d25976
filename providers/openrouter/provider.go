// Package openrouter adapts the OpenAI-compatible OpenRouter API, which
// aggregates many upstream models behind one endpoint.
package openrouter

import (
	"net/http"

	"github.com/Raudbjorn/ttrpg-llm-core/llm"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/openaicompat"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Config configures the OpenRouter adapter.
type Config struct {
	APIKey        string
	BaseURL       string
	DefaultModel  string
	FallbackModel string
	// Referer and Title are OpenRouter's optional app-attribution headers.
	Referer string
	Title   string
	Pricing *llm.PricingDescriptor
	Logger  *zap.Logger
}

// New constructs an OpenRouter provider over the shared OpenAI-compat
// transport, adding OpenRouter's attribution headers.
func New(cfg Config) *openaicompat.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	oaCfg := openaicompat.Config{
		ProviderName:  "openrouter",
		APIKey:        cfg.APIKey,
		BaseURL:       baseURL,
		DefaultModel:  cfg.DefaultModel,
		FallbackModel: cfg.FallbackModel,
		Pricing:       cfg.Pricing,
		Logger:        cfg.Logger,
	}
	if cfg.Referer != "" || cfg.Title != "" {
		referer, title := cfg.Referer, cfg.Title
		oaCfg.BuildHeaders = func(apiKey string) http.Header {
			h := http.Header{}
			h.Set("Authorization", "Bearer "+apiKey)
			h.Set("Content-Type", "application/json")
			if referer != "" {
				h.Set("HTTP-Referer", referer)
			}
			if title != "" {
				h.Set("X-Title", title)
			}
			return h
		}
	}
	return openaicompat.New(oaCfg)
}
