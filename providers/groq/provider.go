// Package groq adapts the OpenAI-compatible Groq API.
package groq

import (
	"github.com/Raudbjorn/ttrpg-llm-core/llm"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/openaicompat"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.groq.com/openai/v1"

// Config configures the Groq adapter.
type Config struct {
	APIKey        string
	BaseURL       string
	DefaultModel  string
	FallbackModel string
	Pricing       *llm.PricingDescriptor
	Logger        *zap.Logger
}

// New constructs a Groq provider over the shared OpenAI-compat transport.
func New(cfg Config) *openaicompat.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return openaicompat.New(openaicompat.Config{
		ProviderName:  "groq",
		APIKey:        cfg.APIKey,
		BaseURL:       baseURL,
		DefaultModel:  cfg.DefaultModel,
		FallbackModel: cfg.FallbackModel,
		Pricing:       cfg.Pricing,
		Logger:        cfg.Logger,
	})
}
