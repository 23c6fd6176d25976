package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Raudbjorn/ttrpg-llm-core/circuitbreaker"
	"github.com/Raudbjorn/ttrpg-llm-core/cost"
	"github.com/Raudbjorn/ttrpg-llm-core/health"
	"github.com/Raudbjorn/ttrpg-llm-core/llm"
)

func drainChunks(ch <-chan llm.ChatChunk) []llm.ChatChunk {
	var out []llm.ChatChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestStream_DeliversAllChunksThenCloses(t *testing.T) {
	r := newTestRouter(t, Config{StreamChunkTimeout: time.Second})
	p := &scriptedProvider{id: "p1", streamChunks: []llm.ChatChunk{
		{StreamID: "s1", Content: "hel", Index: 1},
		{StreamID: "s1", Content: "lo", Index: 2, IsFinal: true},
	}}
	r.Register("p1", p, circuitbreaker.DefaultConfig())

	ch, err := r.Stream(context.Background(), &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	require.NoError(t, err)

	chunks := drainChunks(ch)
	require.Len(t, chunks, 2)
	assert.True(t, chunks[1].IsFinal)
}

func TestStream_FallsBackWhenUpstreamStreamCallFailsImmediately(t *testing.T) {
	r := newTestRouter(t, Config{EnableFallback: true, StreamChunkTimeout: time.Second})
	failing := &scriptedProvider{id: "down", streamErr: llm.NewError(llm.ErrAPIError, "boom")}
	healthy := &scriptedProvider{id: "up", streamChunks: []llm.ChatChunk{
		{StreamID: "s1", Content: "ok", Index: 1, IsFinal: true},
	}}
	r.Register("down", failing, circuitbreaker.DefaultConfig())
	r.Register("up", healthy, circuitbreaker.DefaultConfig())

	ch, err := r.Stream(context.Background(), &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	require.NoError(t, err)
	chunks := drainChunks(ch)
	require.Len(t, chunks, 1)
	assert.Equal(t, "ok", chunks[0].Content)
}

func TestStream_ChunkTimeoutSynthesizesFinalChunk(t *testing.T) {
	r := newTestRouter(t, Config{StreamChunkTimeout: 10 * time.Millisecond})
	p := &scriptedProvider{id: "p1", streamChunks: []llm.ChatChunk{
		{StreamID: "s1", Content: "first", Index: 1},
	}, streamDelay: 50 * time.Millisecond}
	r.Register("p1", p, circuitbreaker.DefaultConfig())

	ch, err := r.Stream(context.Background(), &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	require.NoError(t, err)

	chunks := drainChunks(ch)
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.True(t, last.IsFinal)
	assert.Equal(t, "timeout", last.FinishReason)
}

func TestStream_CancellationSynthesizesFinalChunk(t *testing.T) {
	r := newTestRouter(t, Config{StreamChunkTimeout: time.Second})
	p := &scriptedProvider{id: "p1", streamChunks: []llm.ChatChunk{
		{StreamID: "s1", Content: "first", Index: 1},
		{StreamID: "s1", Content: "second", Index: 2},
	}, streamDelay: 30 * time.Millisecond}
	r.Register("p1", p, circuitbreaker.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.Stream(ctx, &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	require.NoError(t, err)

	time.Sleep(15 * time.Millisecond)
	cancel()

	chunks := drainChunks(ch)
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.True(t, last.IsFinal)
	assert.Equal(t, "cancelled", last.FinishReason)
}

func TestStream_IndexIncreasesMonotonically(t *testing.T) {
	r := newTestRouter(t, Config{StreamChunkTimeout: time.Second})
	p := &scriptedProvider{id: "p1", streamChunks: []llm.ChatChunk{
		{StreamID: "s1", Content: "a", Index: 1},
		{StreamID: "s1", Content: "b", Index: 2},
		{StreamID: "s1", Content: "c", Index: 3, IsFinal: true},
	}}
	r.Register("p1", p, circuitbreaker.DefaultConfig())

	ch, err := r.Stream(context.Background(), &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	require.NoError(t, err)

	chunks := drainChunks(ch)
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].Index, chunks[i-1].Index)
	}
	assert.True(t, chunks[len(chunks)-1].IsFinal)
}

func TestStream_RecordsBreakerSuccessOnCleanFinish(t *testing.T) {
	ht := health.New(zap.NewNop())
	ct := cost.New(cost.BudgetConfig{})
	r := New(Config{StreamChunkTimeout: time.Second, Logger: zap.NewNop()}, ct, ht)
	p := &scriptedProvider{id: "p1", streamChunks: []llm.ChatChunk{
		{StreamID: "s1", Content: "done", Index: 1, IsFinal: true},
	}}
	r.Register("p1", p, circuitbreaker.DefaultConfig())

	ch, err := r.Stream(context.Background(), &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	require.NoError(t, err)
	drainChunks(ch)

	stats, ok := ht.Stats("p1")
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.SuccessfulRequests)
}
