// Package circuitbreaker implements the per-provider circuit breaker
// state machine described in §4.3.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config holds the breaker's thresholds. Zero values are replaced with
// the defaults from §4.3.
type Config struct {
	// FailureThreshold is the number of consecutive failures in Closed
	// that trips the breaker to Open.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in
	// HalfOpen required to close the breaker.
	SuccessThreshold int
	// OpenDuration is how long the breaker stays Open before allowing a
	// single HalfOpen probe.
	OpenDuration time.Duration
	// OnStateChange is an optional callback invoked on every transition.
	OnStateChange func(from, to State)
}

// DefaultConfig returns the §4.3 defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenDuration:     60 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = 60 * time.Second
	}
}

// Breaker is a per-provider circuit breaker. Its state transitions are
// driven only by real request outcomes via RecordSuccess/RecordFailure —
// background health probes never touch it (§4.3).
type Breaker struct {
	cfg Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	consecutiveSuccess  int
	openedAt            time.Time
	halfOpenProbeInUse  bool
}

// New creates a Breaker starting Closed.
func New(cfg Config) *Breaker {
	cfg.applyDefaults()
	return &Breaker{cfg: cfg, state: StateClosed}
}

// AllowRequest reports whether a request may proceed right now, and
// reserves the single HalfOpen probe slot if this call is the probe.
// The caller MUST call RecordSuccess or RecordFailure exactly once for
// every AllowRequest call that returned true.
func (b *Breaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.OpenDuration {
			return false
		}
		b.transition(StateHalfOpen)
		b.consecutiveSuccess = 0
		b.halfOpenProbeInUse = true
		return true

	case StateHalfOpen:
		if b.halfOpenProbeInUse {
			return false
		}
		b.halfOpenProbeInUse = true
		return true

	default:
		return false
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0

	case StateHalfOpen:
		b.consecutiveSuccess++
		b.halfOpenProbeInUse = false
		if b.consecutiveSuccess >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
			b.consecutiveFailures = 0
			b.consecutiveSuccess = 0
		}

	case StateOpen:
		// Should not happen: Open blocks all calls.
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
			b.openedAt = time.Now()
		}

	case StateHalfOpen:
		b.halfOpenProbeInUse = false
		b.transition(StateOpen)
		b.openedAt = time.Now()
		b.consecutiveSuccess = 0

	case StateOpen:
		// Already open.
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to Closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.consecutiveFailures = 0
	b.consecutiveSuccess = 0
	b.halfOpenProbeInUse = false
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if from != to && b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(from, to)
	}
}
