// Package llm defines the provider-agnostic chat types and the Provider
// capability set that every backend adapter implements.
package llm

import (
	"context"
	"time"
)

// RequestTimeout is the hard per-attempt timeout every adapter enforces
// on a single HTTP call, per §4.1.
const RequestTimeout = 300 * time.Second

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	Messages        []Message    `json:"messages"`
	System          string       `json:"system,omitempty"`
	Temperature     *float32     `json:"temperature,omitempty"`
	MaxOutputTokens int          `json:"max_output_tokens,omitempty"`
	ProviderHint    string       `json:"provider_hint,omitempty"`
	Tools           []ToolSchema `json:"tools,omitempty"`
	ToolChoice      string       `json:"tool_choice,omitempty"`
	Stream          bool         `json:"-"`

	// SessionID, when set, asks the router to prepend persisted session
	// history (§4.9) before dispatch.
	SessionID string `json:"session_id,omitempty"`
}

// Validate enforces the ChatRequest invariant: at least one message.
func (r *ChatRequest) Validate() error {
	if r == nil || len(r.Messages) == 0 {
		return NewError(ErrInvalidRequest, "chat request must contain at least one message")
	}
	return nil
}

// TokenUsage is token accounting for a completion.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResponse is a provider-agnostic chat completion response.
type ChatResponse struct {
	Content      string      `json:"content"`
	Model        string      `json:"model"`
	Provider     string      `json:"provider"`
	Usage        *TokenUsage `json:"usage,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	LatencyMs    int64       `json:"latency_ms"`
	CostUSD      *float64    `json:"cost_usd,omitempty"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
}

// ChatChunk is one streamed fragment of a chat completion.
//
// Invariants (§3, §8): Index is strictly increasing per StreamID starting
// at 1; exactly one chunk per stream has IsFinal=true and it is the last;
// non-final chunks carry non-empty Content or non-nil Usage/FinishReason.
type ChatChunk struct {
	StreamID     string      `json:"stream_id"`
	Content      string      `json:"content"`
	Provider     string      `json:"provider"`
	Model        string      `json:"model"`
	Index        int         `json:"index"`
	IsFinal      bool        `json:"is_final"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
	Err          *Error      `json:"error,omitempty"`
}

// HealthStatus is the result of a single lightweight provider probe.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// PricingDescriptor gives per-1M-token USD pricing for a provider+model.
// A nil descriptor means the provider has no known pricing (cost is
// reported as nil on responses).
type PricingDescriptor struct {
	InputPricePerM  float64
	OutputPricePerM float64
}

// ComputeCost implements the cost formula from §3: non-negative, zero at
// zero tokens, monotonic non-decreasing in each token count.
func (p *PricingDescriptor) ComputeCost(inputTokens, outputTokens int) float64 {
	if p == nil {
		return 0
	}
	return float64(inputTokens)*p.InputPricePerM/1e6 + float64(outputTokens)*p.OutputPricePerM/1e6
}

// Model describes a model available from a provider's model-listing
// endpoint.
type Model struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// Provider is the unified capability set every backend adapter implements.
type Provider interface {
	// ID returns the provider's stable identifier (e.g. "openai").
	ID() string

	// DisplayName returns a human-readable name.
	DisplayName() string

	// CurrentModel returns the model this provider instance is configured
	// to use by default.
	CurrentModel() string

	// HealthCheck performs a lightweight reachability probe.
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Pricing returns the provider's pricing descriptor, or nil if cost
	// cannot be computed for this provider.
	Pricing() *PricingDescriptor

	// Completion performs a non-streaming chat request.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream performs a streaming chat request. The returned channel is
	// closed after exactly one IsFinal=true chunk, or immediately on
	// error. Dropping the context cancels the underlying call.
	Stream(ctx context.Context, req *ChatRequest) (<-chan ChatChunk, error)

	// SupportsStreaming reports whether Stream is implemented natively.
	// Callers must degrade to Completion when this is false.
	SupportsStreaming() bool

	// Embed returns a vector embedding for text, or EmbeddingNotSupported.
	Embed(ctx context.Context, text string) ([]float64, error)
}

// credentialOverrideKey is the context key for a per-call credential
// override, used by OAuth/device-code providers to inject a freshly
// refreshed token without mutating shared provider state.
type credentialOverrideKey struct{}

// CredentialOverride carries a per-request credential substitution.
type CredentialOverride struct {
	APIKey string
}

// WithCredentialOverride attaches a credential override to ctx.
func WithCredentialOverride(ctx context.Context, c CredentialOverride) context.Context {
	if c.APIKey == "" {
		return ctx
	}
	return context.WithValue(ctx, credentialOverrideKey{}, c)
}

// CredentialOverrideFromContext reads a credential override from ctx.
func CredentialOverrideFromContext(ctx context.Context) (CredentialOverride, bool) {
	v := ctx.Value(credentialOverrideKey{})
	if v == nil {
		return CredentialOverride{}, false
	}
	c, ok := v.(CredentialOverride)
	return c, ok
}
