package router

import (
	"context"
	"time"

	"github.com/Raudbjorn/ttrpg-llm-core/llm"
	"go.uber.org/zap"
)

// streamChannelCapacity bounds the outer stream channel; a slow consumer
// applies backpressure to the provider task, which suspends on send
// until the consumer reads or ctx is cancelled; Stream applies no
// request timeout of its own (§5 Backpressure).
const streamChannelCapacity = 100

// Stream runs a streaming chat request through the fallback chain,
// falling back to the next candidate only if the upstream Stream call
// itself fails before any chunk is delivered — once a provider has
// started streaming, its failures are not retried against a different
// provider, since partial output was already returned to the caller.
func (r *Router) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.ChatChunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !r.costTracker.IsWithinBudget() {
		return nil, llm.NewError(llm.ErrBudgetExceeded, "budget exceeded")
	}

	candidates := r.buildCandidates()
	if len(candidates) == 0 {
		return nil, llm.NewError(llm.ErrNoProvidersAvailable, "no healthy providers available")
	}

	var lastErr error
	for _, c := range candidates {
		if !c.breaker.AllowRequest() {
			lastErr = llm.NewError(llm.ErrNoProvidersAvailable, "circuit open").WithProvider(c.id)
			continue
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				lastErr = err
				continue
			}
		}

		upstream, err := c.provider.Stream(ctx, req)
		if err != nil {
			c.breaker.RecordFailure()
			r.healthTracker.RecordFailure(c.id)
			lastErr = err
			if llm.IsFatal(err) || !r.cfg.EnableFallback {
				return nil, err
			}
			continue
		}

		return r.wrapStream(ctx, c, upstream), nil
	}
	return nil, lastErr
}

// wrapStream enforces the stream-chunk timeout between chunks and
// synthesizes a final chunk on timeout or cancellation (§4.2 Streaming,
// §5 Cancellation).
func (r *Router) wrapStream(ctx context.Context, c *candidate, upstream <-chan llm.ChatChunk) <-chan llm.ChatChunk {
	out := make(chan llm.ChatChunk, streamChannelCapacity)
	go func() {
		defer close(out)
		start := time.Now()
		var lastChunk llm.ChatChunk
		var inputTokens, outputTokens int
		success := false

		timer := time.NewTimer(r.cfg.StreamChunkTimeout)
		defer timer.Stop()

		for {
			select {
			case chunk, ok := <-upstream:
				if !ok {
					if success {
						c.breaker.RecordSuccess()
						r.healthTracker.RecordSuccess(c.id, time.Since(start), inputTokens, outputTokens, 0)
					}
					return
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(r.cfg.StreamChunkTimeout)

				lastChunk = chunk
				if chunk.Usage != nil {
					inputTokens, outputTokens = chunk.Usage.InputTokens, chunk.Usage.OutputTokens
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					r.emitTerminal(out, lastChunk, "cancelled")
					c.breaker.RecordFailure()
					r.healthTracker.RecordFailure(c.id)
					return
				}
				if chunk.IsFinal {
					success = true
				}

			case <-timer.C:
				r.logger.Warn("stream chunk timeout, cancelling provider call", zap.String("provider", c.id))
				r.emitTerminal(out, lastChunk, "timeout")
				c.breaker.RecordFailure()
				r.healthTracker.RecordFailure(c.id)
				return

			case <-ctx.Done():
				r.emitTerminal(out, lastChunk, "cancelled")
				c.breaker.RecordFailure()
				r.healthTracker.RecordFailure(c.id)
				return
			}
		}
	}()
	return out
}

// emitTerminal sends a synthetic final chunk, best-effort (the consumer
// may already be gone if this fired from ctx.Done()).
func (r *Router) emitTerminal(out chan<- llm.ChatChunk, last llm.ChatChunk, reason string) {
	chunk := llm.ChatChunk{
		StreamID:     last.StreamID,
		Provider:     last.Provider,
		Model:        last.Model,
		Index:        last.Index + 1,
		IsFinal:      true,
		FinishReason: reason,
	}
	select {
	case out <- chunk:
	default:
	}
}
