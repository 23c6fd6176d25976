// Package providers holds the OpenAI-dialect wire types and helpers
// shared by every provider adapter that speaks the
// /v1/chat/completions family of APIs.
package providers

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/Raudbjorn/ttrpg-llm-core/llm"
)

// MapHTTPError classifies an HTTP status code and response body into the
// unified error taxonomy (§7).
func MapHTTPError(status int, body string, provider string) *llm.Error {
	lower := strings.ToLower(body)
	switch status {
	case 401:
		return llm.NewError(llm.ErrAuth, "unauthorized").WithProvider(provider)
	case 403:
		return llm.NewError(llm.ErrAuth, "forbidden").WithProvider(provider)
	case 429:
		e := llm.NewError(llm.ErrRateLimited, "rate limited").WithProvider(provider)
		e.Retryable = true
		return e
	case 400:
		if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") || strings.Contains(lower, "insufficient") {
			return llm.NewError(llm.ErrBudgetExceeded, "quota exceeded").WithProvider(provider)
		}
		return llm.NewError(llm.ErrInvalidRequest, "invalid request: "+body).WithProvider(provider)
	case 502, 503, 504:
		e := llm.NewError(llm.ErrAPIError, "upstream unavailable").WithProvider(provider)
		e.Retryable = true
		e.HTTPStatus = status
		return e
	case 529:
		e := llm.NewError(llm.ErrAPIError, "model overloaded").WithProvider(provider)
		e.Retryable = true
		e.HTTPStatus = status
		return e
	default:
		e := llm.NewError(llm.ErrAPIError, body).WithProvider(provider)
		e.HTTPStatus = status
		e.Retryable = status >= 500
		return e
	}
}

// ReadErrorMessage reads and truncates an error response body for
// inclusion in an Error's Message.
func ReadErrorMessage(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 8192))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// SafeCloseBody closes a response body, swallowing the error. Used in
// defer positions where a close failure carries no actionable signal.
func SafeCloseBody(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

// OpenAICompatMessage is one message in the OpenAI chat-completions wire
// format.
type OpenAICompatMessage struct {
	Role       string                   `json:"role"`
	Content    string                   `json:"content,omitempty"`
	Name       string                   `json:"name,omitempty"`
	ToolCalls  []OpenAICompatToolCall   `json:"tool_calls,omitempty"`
	ToolCallID string                   `json:"tool_call_id,omitempty"`
}

// OpenAICompatToolCall is a tool call as encoded in the wire format.
type OpenAICompatToolCall struct {
	ID       string                   `json:"id"`
	Type     string                   `json:"type"`
	Function OpenAICompatFunctionCall `json:"function"`
}

// OpenAICompatFunctionCall is the function payload of a tool call.
type OpenAICompatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// OpenAICompatTool is a tool declaration in the wire format.
type OpenAICompatTool struct {
	Type     string                 `json:"type"`
	Function OpenAICompatToolSchema `json:"function"`
}

// OpenAICompatToolSchema is the function schema within a tool declaration.
type OpenAICompatToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// OpenAICompatRequest is the wire request body.
type OpenAICompatRequest struct {
	Model       string                 `json:"model"`
	Messages    []OpenAICompatMessage  `json:"messages"`
	Temperature *float32               `json:"temperature,omitempty"`
	MaxTokens   int                    `json:"max_tokens,omitempty"`
	Stream      bool                   `json:"stream,omitempty"`
	Tools       []OpenAICompatTool     `json:"tools,omitempty"`
	ToolChoice  interface{}            `json:"tool_choice,omitempty"`
}

// OpenAICompatChoice is one choice in a wire response.
type OpenAICompatChoice struct {
	Index        int                  `json:"index"`
	Message      OpenAICompatMessage  `json:"message"`
	Delta        OpenAICompatMessage  `json:"delta"`
	FinishReason string               `json:"finish_reason"`
}

// OpenAICompatUsage is token usage as reported on the wire.
type OpenAICompatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAICompatResponse is the wire response body, used for both the
// non-streaming response and each individual SSE event.
type OpenAICompatResponse struct {
	ID      string                `json:"id"`
	Model   string                `json:"model"`
	Choices []OpenAICompatChoice  `json:"choices"`
	Usage   *OpenAICompatUsage    `json:"usage,omitempty"`
}

// OpenAICompatErrorResp is the wire error envelope.
type OpenAICompatErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// ConvertMessagesToOpenAI converts provider-agnostic messages to the wire
// format, hoisting tool results onto RoleTool entries as the dialect
// expects.
func ConvertMessagesToOpenAI(system string, msgs []llm.Message) []OpenAICompatMessage {
	out := make([]OpenAICompatMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, OpenAICompatMessage{Role: string(llm.RoleSystem), Content: system})
	}
	for _, m := range msgs {
		wm := OpenAICompatMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, OpenAICompatToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: OpenAICompatFunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

// ConvertToolsToOpenAI converts tool schemas to the wire format.
func ConvertToolsToOpenAI(tools []llm.ToolSchema) []OpenAICompatTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]OpenAICompatTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, OpenAICompatTool{
			Type: "function",
			Function: OpenAICompatToolSchema{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// ToLLMChatResponse converts a wire response into the provider-agnostic
// ChatResponse, computing cost from the given pricing descriptor.
func ToLLMChatResponse(resp *OpenAICompatResponse, provider string, pricing *llm.PricingDescriptor, latency time.Duration) *llm.ChatResponse {
	out := &llm.ChatResponse{
		Model:     resp.Model,
		Provider:  provider,
		LatencyMs: latency.Milliseconds(),
	}
	if len(resp.Choices) > 0 {
		c := resp.Choices[0]
		out.Content = c.Message.Content
		out.FinishReason = c.FinishReason
		for _, tc := range c.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
	}
	if resp.Usage != nil {
		out.Usage = &llm.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
		if pricing != nil {
			cost := pricing.ComputeCost(out.Usage.InputTokens, out.Usage.OutputTokens)
			out.CostUSD = &cost
		}
	}
	return out
}

// ChooseModel resolves the model to request: the request's explicit
// override if present, else the provider's default, else its fallback.
func ChooseModel(req *llm.ChatRequest, defaultModel, fallbackModel string) string {
	if req != nil && req.ProviderHint != "" && strings.Contains(req.ProviderHint, "/") {
		parts := strings.SplitN(req.ProviderHint, "/", 2)
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallbackModel
}
