package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raudbjorn/ttrpg-llm-core/llm"
)

type fakeSummarizer struct {
	summary string
	err     error
	calls   int
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ []llm.Message) (llm.Message, error) {
	f.calls++
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return llm.NewSystemMessage(f.summary), nil
}

func TestStore_CreateAndGetRoundTrip(t *testing.T) {
	s := New(DefaultConfig(), nil)
	created := s.Create("sess1", "openai")
	assert.Equal(t, "sess1", created.ID)

	got, ok := s.Get("sess1")
	require.True(t, ok)
	assert.Equal(t, "openai", got.ProviderID)
}

func TestStore_GetUnknownReturnsFalse(t *testing.T) {
	s := New(DefaultConfig(), nil)
	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestStore_AppendUnknownSessionReturnsErrNotFound(t *testing.T) {
	s := New(DefaultConfig(), nil)
	err := s.Append(context.Background(), "missing", llm.NewUserMessage("hi"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AppendAccumulatesMessages(t *testing.T) {
	s := New(DefaultConfig(), nil)
	s.Create("sess1", "")
	require.NoError(t, s.Append(context.Background(), "sess1", llm.NewUserMessage("hello")))
	require.NoError(t, s.Append(context.Background(), "sess1", llm.NewUserMessage("world")))

	got, ok := s.Get("sess1")
	require.True(t, ok)
	assert.Len(t, got.Messages, 2)
}

func TestStore_CompactsOnMaxMessagesWithoutSummarizer(t *testing.T) {
	cfg := Config{MaxMessages: 4, MaxTokens: 0, TTL: time.Hour}
	s := New(cfg, nil)
	s.Create("sess1", "")
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(context.Background(), "sess1", llm.NewUserMessage("msg")))
	}
	got, _ := s.Get("sess1")
	assert.LessOrEqual(t, len(got.Messages), 5)
	assert.Less(t, len(got.Messages), 5, "compaction must have dropped the oldest half")
}

func TestStore_CompactionReplacesOldWindowWithSummary(t *testing.T) {
	cfg := Config{MaxMessages: 2, MaxTokens: 0, TTL: time.Hour}
	summarizer := &fakeSummarizer{summary: "[summary] earlier discussion"}
	s := New(cfg, summarizer)
	s.Create("sess1", "")
	require.NoError(t, s.Append(context.Background(), "sess1", llm.NewUserMessage("one")))
	require.NoError(t, s.Append(context.Background(), "sess1", llm.NewUserMessage("two")))
	require.NoError(t, s.Append(context.Background(), "sess1", llm.NewUserMessage("three")))

	got, ok := s.Get("sess1")
	require.True(t, ok)
	assert.Equal(t, 1, summarizer.calls)
	assert.Equal(t, llm.RoleSystem, got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "[summary] earlier discussion")
}

func TestStore_SummarizerFailureDegradesToHardDrop(t *testing.T) {
	cfg := Config{MaxMessages: 2, MaxTokens: 0, TTL: time.Hour}
	summarizer := &fakeSummarizer{err: errors.New("boom")}
	s := New(cfg, summarizer)
	s.Create("sess1", "")
	require.NoError(t, s.Append(context.Background(), "sess1", llm.NewUserMessage("one")))
	require.NoError(t, s.Append(context.Background(), "sess1", llm.NewUserMessage("two")))
	err := s.Append(context.Background(), "sess1", llm.NewUserMessage("three"))
	require.NoError(t, err, "a summarizer failure must not surface to the caller")

	got, _ := s.Get("sess1")
	for _, m := range got.Messages {
		assert.NotEqual(t, llm.RoleSystem, m.Role, "a failed summary must not appear as a message")
	}
}

func TestStore_CompactsOnMaxTokens(t *testing.T) {
	cfg := Config{MaxMessages: 0, MaxTokens: 10, TTL: time.Hour}
	s := New(cfg, nil)
	s.Create("sess1", "")
	longMsg := llm.NewUserMessage("this is a fairly long message that exceeds the token budget")
	require.NoError(t, s.Append(context.Background(), "sess1", longMsg))
	require.NoError(t, s.Append(context.Background(), "sess1", longMsg))

	got, _ := s.Get("sess1")
	assert.Less(t, len(got.Messages), 2, "exceeding the token budget must trigger compaction")
}

func TestStore_GetExpiresAfterTTL(t *testing.T) {
	cfg := Config{TTL: time.Millisecond}
	s := New(cfg, nil)
	s.Create("sess1", "")
	time.Sleep(5 * time.Millisecond)
	_, ok := s.Get("sess1")
	assert.False(t, ok, "a session idle past its TTL must be treated as gone")
}

func TestStore_SweepExpiredRemovesStaleSessions(t *testing.T) {
	cfg := Config{TTL: time.Millisecond}
	s := New(cfg, nil)
	s.Create("stale", "")
	time.Sleep(5 * time.Millisecond)
	removed := s.SweepExpired()
	assert.Equal(t, 1, removed)
	_, ok := s.Get("stale")
	assert.False(t, ok)
}

func TestStore_SweepExpiredNoopWhenTTLDisabled(t *testing.T) {
	s := New(Config{TTL: 0}, nil)
	s.Create("sess1", "")
	assert.Equal(t, 0, s.SweepExpired())
}

func TestStore_Delete(t *testing.T) {
	s := New(DefaultConfig(), nil)
	s.Create("sess1", "")
	s.Delete("sess1")
	_, ok := s.Get("sess1")
	assert.False(t, ok)
}

func TestProviderSummarizer_WrapsProviderCompletion(t *testing.T) {
	p := &fakeProvider{response: &llm.ChatResponse{Content: "the party looted the tomb"}}
	summarizer := ProviderSummarizer{Provider: p}
	msg, err := summarizer.Summarize(context.Background(), []llm.Message{llm.NewUserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, llm.RoleSystem, msg.Role)
	assert.Contains(t, msg.Content, "the party looted the tomb")
}

func TestProviderSummarizer_PropagatesProviderError(t *testing.T) {
	p := &fakeProvider{err: errors.New("provider down")}
	summarizer := ProviderSummarizer{Provider: p}
	_, err := summarizer.Summarize(context.Background(), []llm.Message{llm.NewUserMessage("hi")})
	assert.Error(t, err)
}

// fakeProvider is a minimal llm.Provider stub for exercising
// ProviderSummarizer without any real backend.
type fakeProvider struct {
	response *llm.ChatResponse
	err      error
}

func (f *fakeProvider) ID() string            { return "fake" }
func (f *fakeProvider) DisplayName() string   { return "Fake" }
func (f *fakeProvider) CurrentModel() string  { return "fake-model" }
func (f *fakeProvider) Pricing() *llm.PricingDescriptor { return nil }
func (f *fakeProvider) SupportsStreaming() bool { return false }

func (f *fakeProvider) HealthCheck(_ context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (f *fakeProvider) Completion(_ context.Context, _ *llm.ChatRequest) (*llm.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeProvider) Stream(_ context.Context, _ *llm.ChatRequest) (<-chan llm.ChatChunk, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) Embed(_ context.Context, _ string) ([]float64, error) {
	return nil, errors.New("not implemented")
}
