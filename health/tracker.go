// Package health implements the in-memory per-provider health tracker
// (§3 Provider health, §4.3): a background probe loop drives is_healthy
// independent of the circuit breaker, which is driven only by real
// request outcomes.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/Raudbjorn/ttrpg-llm-core/circuitbreaker"
	"github.com/Raudbjorn/ttrpg-llm-core/llm"
	"go.uber.org/zap"
)

// Status is the per-provider health record (§3 Provider health).
type Status struct {
	IsHealthy           bool
	ConsecutiveFailures int
	ConsecutiveSuccess  int
	TotalRequests       int64
	SuccessfulRequests  int64
	UptimePercentage    float64
	CircuitState        circuitbreaker.State
	LastFailureTime     time.Time
}

// Stats is the cumulative per-provider counter set (§3 Provider stats).
type Stats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	TotalLatencyMs     int64
	TotalInputTokens   int64
	TotalOutputTokens  int64
	TotalCostUSD       float64
	LastUsed           time.Time
}

type providerEntry struct {
	mu      sync.RWMutex
	status  Status
	stats   Stats
	breaker *circuitbreaker.Breaker
}

// Tracker aggregates health and stats for every registered provider.
// Each provider has one write lock and many readers (§5).
type Tracker struct {
	mu        sync.RWMutex
	providers map[string]*providerEntry
	logger    *zap.Logger
}

// New constructs an empty Tracker.
func New(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{providers: make(map[string]*providerEntry), logger: logger}
}

// Register adds a provider with its own circuit breaker, starting
// healthy and Closed.
func (t *Tracker) Register(providerID string, breaker *circuitbreaker.Breaker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.providers[providerID]; ok {
		return
	}
	t.providers[providerID] = &providerEntry{
		status:  Status{IsHealthy: true, UptimePercentage: 1.0, CircuitState: circuitbreaker.StateClosed},
		breaker: breaker,
	}
}

func (t *Tracker) entry(providerID string) *providerEntry {
	t.mu.RLock()
	e, ok := t.providers[providerID]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	return e
}

// RecordSuccess updates stats and health after a successful call.
func (t *Tracker) RecordSuccess(providerID string, latency time.Duration, inputTokens, outputTokens int, costUSD float64) {
	e := t.entry(providerID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.ConsecutiveFailures = 0
	e.status.ConsecutiveSuccess++
	e.status.TotalRequests++
	e.status.SuccessfulRequests++
	e.recomputeUptime()

	e.stats.TotalRequests++
	e.stats.SuccessfulRequests++
	e.stats.TotalLatencyMs += latency.Milliseconds()
	e.stats.TotalInputTokens += int64(inputTokens)
	e.stats.TotalOutputTokens += int64(outputTokens)
	e.stats.TotalCostUSD += costUSD
	e.stats.LastUsed = time.Now()
}

// RecordFailure updates stats and health after a failed call.
func (t *Tracker) RecordFailure(providerID string) {
	e := t.entry(providerID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.ConsecutiveSuccess = 0
	e.status.ConsecutiveFailures++
	e.status.TotalRequests++
	e.status.LastFailureTime = time.Now()
	e.recomputeUptime()

	e.stats.TotalRequests++
	e.stats.FailedRequests++
	e.stats.LastUsed = time.Now()
}

// recomputeUptime implements the §3 invariant: uptime =
// successful/total when total>0 else 1.0. Caller holds e.mu.
func (e *providerEntry) recomputeUptime() {
	if e.status.TotalRequests == 0 {
		e.status.UptimePercentage = 1.0
		return
	}
	e.status.UptimePercentage = float64(e.status.SuccessfulRequests) / float64(e.status.TotalRequests)
}

// Status returns a snapshot of the provider's health record, with
// CircuitState read live from its breaker.
func (t *Tracker) Status(providerID string) (Status, bool) {
	e := t.entry(providerID)
	if e == nil {
		return Status{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.status
	if e.breaker != nil {
		s.CircuitState = e.breaker.State()
	}
	return s, true
}

// Stats returns a snapshot of the provider's cumulative stats.
func (t *Tracker) Stats(providerID string) (Stats, bool) {
	e := t.entry(providerID)
	if e == nil {
		return Stats{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats, true
}

// IsHealthy reports the live is_healthy marker, driven only by the
// background probe loop (§4.3).
func (t *Tracker) IsHealthy(providerID string) bool {
	e := t.entry(providerID)
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status.IsHealthy
}

func (t *Tracker) setHealthy(providerID string, healthy bool) {
	e := t.entry(providerID)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.status.IsHealthy = healthy
	e.mu.Unlock()
}

// Prober is the minimal capability the background loop needs from a
// provider — satisfied by llm.Provider.
type Prober interface {
	ID() string
	HealthCheck(ctx context.Context) (*llm.HealthStatus, error)
}

// RunProbeLoop polls every provider's HealthCheck at interval until ctx
// is cancelled, updating each provider's is_healthy marker. Circuit
// state is untouched here — only real request outcomes drive it.
func RunProbeLoop(ctx context.Context, t *Tracker, provs []Prober, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range provs {
				probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				status, err := p.HealthCheck(probeCtx)
				cancel()
				healthy := err == nil && status != nil && status.Healthy
				t.setHealthy(p.ID(), healthy)
				if !healthy {
					t.logger.Warn("provider health probe failed", zap.String("provider", p.ID()))
				}
			}
		}
	}
}
