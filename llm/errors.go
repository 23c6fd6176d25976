package llm

import "fmt"

// ErrorCode is the unified error taxonomy for provider and router failures.
type ErrorCode string

const (
	ErrHTTPError            ErrorCode = "HTTP_ERROR"
	ErrTimeout              ErrorCode = "TIMEOUT"
	ErrRateLimited          ErrorCode = "RATE_LIMITED"
	ErrAPIError             ErrorCode = "API_ERROR"
	ErrAuth                 ErrorCode = "AUTH_ERROR"
	ErrInvalidResponse      ErrorCode = "INVALID_RESPONSE"
	ErrNotConfigured        ErrorCode = "NOT_CONFIGURED"
	ErrStreamingNotSupport  ErrorCode = "STREAMING_NOT_SUPPORTED"
	ErrEmbeddingNotSupport  ErrorCode = "EMBEDDING_NOT_SUPPORTED"
	ErrBudgetExceeded       ErrorCode = "BUDGET_EXCEEDED"
	ErrNoProvidersAvailable ErrorCode = "NO_PROVIDERS_AVAILABLE"
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"
)

// Error is the structured error returned by providers and the router.
// Code classifies the failure per the taxonomy in §7; Retryable marks
// whether the router may fail over to the next candidate for it.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	RetryAfter int       `json:"retry_after_secs,omitempty"`
	Cause      error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Provider != "" {
		if e.Cause != nil {
			return fmt.Sprintf("[%s] %s: %s: %v", e.Provider, e.Code, e.Message, e.Cause)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsFatal reports whether an error must never be failed over past: an
// AuthError is fatal for the current provider (the user must
// re-authenticate), and InvalidResponse/NotConfigured are fatal for the
// single call but not for the router's ability to try other providers.
func IsFatal(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Code == ErrAuth
}

// IsRetryable reports whether the router should fail over to the next
// candidate after this error (when fallback is enabled).
func IsRetryable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return true
	}
	return e.Retryable
}
