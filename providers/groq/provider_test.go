package groq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_DefaultsBaseURLAndProviderName(t *testing.T) {
	p := New(Config{APIKey: "k"})
	assert.Equal(t, "groq", p.ID())
	assert.Equal(t, defaultBaseURL, p.Cfg.BaseURL)
}

func TestNew_RespectsConfiguredBaseURL(t *testing.T) {
	p := New(Config{APIKey: "k", BaseURL: "http://custom"})
	assert.Equal(t, "groq", p.ID())
	assert.Equal(t, "http://custom", p.Cfg.BaseURL)
	assert.True(t, p.SupportsStreaming())
}

func TestNew_CarriesDefaultAndFallbackModel(t *testing.T) {
	p := New(Config{APIKey: "k", DefaultModel: "llama-3.3-70b-versatile", FallbackModel: "llama-3.1-8b-instant"})
	assert.Equal(t, "llama-3.3-70b-versatile", p.CurrentModel())
	assert.Equal(t, "llama-3.1-8b-instant", p.Cfg.FallbackModel)
}
