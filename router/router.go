// Package router implements the provider-agnostic dispatch layer (§4.2):
// candidate selection, fallback-chain dispatch, the budget gate, and the
// streaming wrapper with per-chunk timeout and cancellation handling.
package router

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Raudbjorn/ttrpg-llm-core/circuitbreaker"
	"github.com/Raudbjorn/ttrpg-llm-core/cost"
	"github.com/Raudbjorn/ttrpg-llm-core/health"
	"github.com/Raudbjorn/ttrpg-llm-core/llm"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Strategy selects among healthy, non-open candidates (§4.2).
type Strategy int

const (
	StrategyPriority Strategy = iota
	StrategyRoundRobin
	StrategyLeastLatency
	StrategyLowestCost
	StrategyRandom
	StrategyPreferred
)

// Config configures a Router.
type Config struct {
	Strategy           Strategy
	PreferredID        string
	RequestTimeout     time.Duration
	StreamChunkTimeout time.Duration
	MaxRetries         int
	EnableFallback     bool
	HealthCheckInterval time.Duration
	Budget             cost.BudgetConfig
	Logger             *zap.Logger
}

// candidate is one registered provider plus its own breaker and
// client-side rate limiter.
type candidate struct {
	id       string
	provider llm.Provider
	breaker  *circuitbreaker.Breaker
	limiter  *rate.Limiter
}

// Router owns an ordered collection of providers and dispatches calls
// against them per the configured strategy and fallback chain.
type Router struct {
	cfg           Config
	mu            sync.RWMutex
	candidates    []*candidate
	roundRobinIdx uint64
	costTracker   *cost.Tracker
	healthTracker *health.Tracker
	logger        *zap.Logger
	rngMu         sync.Mutex
	rng           *rand.Rand
}

// New constructs a Router.
func New(cfg Config, costTracker *cost.Tracker, healthTracker *health.Tracker) *Router {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = llm.RequestTimeout
	}
	if cfg.StreamChunkTimeout <= 0 {
		cfg.StreamChunkTimeout = 30 * time.Second
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:           cfg,
		costTracker:   costTracker,
		healthTracker: healthTracker,
		logger:        logger,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Register adds a provider to the dispatch pool in registration order,
// giving it its own circuit breaker. A client-side limiter is not
// applied; use RegisterWithRateLimit for providers with a known upstream
// rate limit.
func (r *Router) Register(id string, provider llm.Provider, breakerCfg circuitbreaker.Config) {
	r.register(id, provider, breakerCfg, 0, 0)
}

// RegisterWithRateLimit is Register plus a client-side token-bucket
// limiter (rps, burst) that Dispatch and Stream wait on before issuing a
// call, smoothing bursts that would otherwise trip the provider's own
// 429 rate limiting. rps<=0 disables the limiter.
func (r *Router) RegisterWithRateLimit(id string, provider llm.Provider, breakerCfg circuitbreaker.Config, rps float64, burst int) {
	r.register(id, provider, breakerCfg, rps, burst)
}

func (r *Router) register(id string, provider llm.Provider, breakerCfg circuitbreaker.Config, rps float64, burst int) {
	b := circuitbreaker.New(breakerCfg)
	r.healthTracker.Register(id, b)

	var limiter *rate.Limiter
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	r.mu.Lock()
	r.candidates = append(r.candidates, &candidate{id: id, provider: provider, breaker: b, limiter: limiter})
	r.mu.Unlock()
}

// Providers returns every registered provider, for the background probe
// loop.
func (r *Router) Providers() []health.Prober {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]health.Prober, 0, len(r.candidates))
	for _, c := range r.candidates {
		out = append(out, c.provider)
	}
	return out
}

// buildCandidates filters out providers whose health marker is down,
// then orders the rest per strategy (§4.2 selection algorithm). Circuit
// state is checked per-attempt in Dispatch, not here, since Open->
// HalfOpen is itself a stateful transition that must happen exactly
// once per probe window.
func (r *Router) buildCandidates() []*candidate {
	r.mu.RLock()
	all := make([]*candidate, len(r.candidates))
	copy(all, r.candidates)
	r.mu.RUnlock()

	filtered := make([]*candidate, 0, len(all))
	for _, c := range all {
		if r.healthTracker.IsHealthy(c.id) {
			filtered = append(filtered, c)
		}
	}

	switch r.cfg.Strategy {
	case StrategyRoundRobin:
		if len(filtered) == 0 {
			return filtered
		}
		start := int(atomic.AddUint64(&r.roundRobinIdx, 1)-1) % len(filtered)
		return append(append([]*candidate{}, filtered[start:]...), filtered[:start]...)

	case StrategyLeastLatency:
		sort.SliceStable(filtered, func(i, j int) bool {
			return r.avgLatency(filtered[i].id) < r.avgLatency(filtered[j].id)
		})
		return filtered

	case StrategyLowestCost:
		sort.SliceStable(filtered, func(i, j int) bool {
			return r.costPer1K(filtered[i].provider) < r.costPer1K(filtered[j].provider)
		})
		return filtered

	case StrategyRandom:
		r.rngMu.Lock()
		r.rng.Shuffle(len(filtered), func(i, j int) { filtered[i], filtered[j] = filtered[j], filtered[i] })
		r.rngMu.Unlock()
		return filtered

	case StrategyPreferred:
		pinned := make([]*candidate, 0, len(filtered))
		rest := make([]*candidate, 0, len(filtered))
		for _, c := range filtered {
			if c.id == r.cfg.PreferredID {
				pinned = append(pinned, c)
			} else {
				rest = append(rest, c)
			}
		}
		return append(pinned, rest...)

	default: // StrategyPriority
		return filtered
	}
}

func (r *Router) avgLatency(providerID string) float64 {
	stats, ok := r.healthTracker.Stats(providerID)
	if !ok || stats.TotalRequests == 0 {
		return 0
	}
	return float64(stats.TotalLatencyMs) / float64(stats.TotalRequests)
}

func (r *Router) costPer1K(p llm.Provider) float64 {
	pricing := p.Pricing()
	if pricing == nil {
		return 0
	}
	return (pricing.InputPricePerM + pricing.OutputPricePerM) / 2 / 1000
}

// Dispatch runs a non-streaming chat request through the fallback chain
// (§4.2 Dispatch).
func (r *Router) Dispatch(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
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

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
		start := time.Now()
		resp, err := c.provider.Completion(callCtx, req)
		cancel()

		if err == nil {
			c.breaker.RecordSuccess()
			var input, output int
			var costUSD float64
			if resp.Usage != nil {
				input, output = resp.Usage.InputTokens, resp.Usage.OutputTokens
				if resp.CostUSD != nil {
					costUSD = *resp.CostUSD
				}
			}
			r.healthTracker.RecordSuccess(c.id, time.Since(start), input, output, costUSD)
			return resp, nil
		}

		c.breaker.RecordFailure()
		r.healthTracker.RecordFailure(c.id)
		lastErr = err

		if llm.IsFatal(err) {
			r.logger.Warn("fatal provider error, stopping fallback chain", zap.String("provider", c.id), zap.Error(err))
			return nil, err
		}
		if !r.cfg.EnableFallback {
			return nil, err
		}
	}
	return nil, lastErr
}
