package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndFormatting(t *testing.T) {
	root := errors.New("dial tcp: timeout")
	err := NewError(ErrAPIError, "upstream failed").
		WithCause(root).
		WithProvider("openai")
	err.HTTPStatus = 502
	err.Retryable = true

	assert.True(t, errors.Is(err, root))
	assert.Contains(t, err.Error(), "openai")
	assert.Contains(t, err.Error(), "upstream failed")
	assert.Contains(t, err.Error(), root.Error())
}

func TestError_FormatsWithoutProviderOrCause(t *testing.T) {
	err := NewError(ErrInvalidRequest, "bad request")
	assert.Equal(t, "[INVALID_REQUEST] bad request", err.Error())
}

func TestIsFatal_OnlyAuthErrors(t *testing.T) {
	assert.True(t, IsFatal(NewError(ErrAuth, "expired")))
	assert.False(t, IsFatal(NewError(ErrRateLimited, "slow down")))
	assert.False(t, IsFatal(errors.New("plain error")))
}

func TestIsRetryable(t *testing.T) {
	retryable := NewError(ErrAPIError, "overloaded")
	retryable.Retryable = true
	assert.True(t, IsRetryable(retryable))

	notRetryable := NewError(ErrInvalidRequest, "bad shape")
	assert.False(t, IsRetryable(notRetryable))

	assert.True(t, IsRetryable(errors.New("unknown error type defaults retryable")))
}

func TestPricingDescriptor_ComputeCost(t *testing.T) {
	var nilPricing *PricingDescriptor
	assert.Zero(t, nilPricing.ComputeCost(1000, 1000))

	p := &PricingDescriptor{InputPricePerM: 3.0, OutputPricePerM: 15.0}
	assert.Zero(t, p.ComputeCost(0, 0))

	cost := p.ComputeCost(1_000_000, 1_000_000)
	assert.InDelta(t, 18.0, cost, 1e-9)

	low := p.ComputeCost(100, 100)
	high := p.ComputeCost(200, 200)
	assert.Less(t, low, high, "cost must be monotonic non-decreasing in token counts")
}

func TestChatRequest_Validate(t *testing.T) {
	var nilReq *ChatRequest
	assert.Error(t, nilReq.Validate())

	empty := &ChatRequest{}
	assert.Error(t, empty.Validate())

	ok := &ChatRequest{Messages: []Message{NewUserMessage("hi")}}
	assert.NoError(t, ok.Validate())
}

func TestCredentialOverride_RoundTrip(t *testing.T) {
	base := context.Background()

	empty := WithCredentialOverride(base, CredentialOverride{})
	_, ok := CredentialOverrideFromContext(empty)
	assert.False(t, ok, "an empty override must not be attached")

	withKey := WithCredentialOverride(base, CredentialOverride{APIKey: "sk-override"})
	got, ok := CredentialOverrideFromContext(withKey)
	assert.True(t, ok)
	assert.Equal(t, "sk-override", got.APIKey)
}
