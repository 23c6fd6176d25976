// Package cost implements the cost tracker (§4.4): total/per-provider
// cost, per-day and per-month rolling aggregates keyed by UTC date, and
// the budget gate.
package cost

import (
	"sync"
	"time"

	"github.com/Raudbjorn/ttrpg-llm-core/llm"
)

// dateKey returns the UTC calendar date derived at the moment of
// recording, never from elapsed wall clock, to avoid drift across
// timezone changes (§9 design note).
func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// BudgetConfig configures the advisory pre-dispatch budget gate (§4.2,
// §4.4). Zero means unlimited.
type BudgetConfig struct {
	DailyBudgetUSD   float64
	MonthlyBudgetUSD float64
}

// Tracker aggregates cost across providers. Protected by a single
// writer lock; reads use the same lock in read mode (§4.4, §5).
type Tracker struct {
	mu sync.RWMutex

	totalUSD        float64
	perProviderUSD  map[string]float64
	dailyUSD        map[string]float64
	monthlyUSD      map[string]float64
	budget          BudgetConfig
}

// New constructs an empty Tracker.
func New(budget BudgetConfig) *Tracker {
	return &Tracker{
		perProviderUSD: make(map[string]float64),
		dailyUSD:       make(map[string]float64),
		monthlyUSD:     make(map[string]float64),
		budget:         budget,
	}
}

// Record computes cost from pricing and appends it to every aggregate.
// Returns the computed cost.
func (t *Tracker) Record(providerID string, inputTokens, outputTokens int, pricing *llm.PricingDescriptor) float64 {
	cost := pricing.ComputeCost(inputTokens, outputTokens)
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalUSD += cost
	t.perProviderUSD[providerID] += cost
	t.dailyUSD[dateKey(now)] += cost
	t.monthlyUSD[monthKey(now)] += cost
	return cost
}

// Total returns the all-time total cost.
func (t *Tracker) Total() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalUSD
}

// ProviderTotal returns the all-time cost for one provider.
func (t *Tracker) ProviderTotal(providerID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.perProviderUSD[providerID]
}

// DailyCost returns today's (UTC) cost.
func (t *Tracker) DailyCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dailyUSD[dateKey(time.Now())]
}

// MonthlyCost returns the current UTC month's cost.
func (t *Tracker) MonthlyCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.monthlyUSD[monthKey(time.Now())]
}

// IsWithinBudget reports whether the current period's spend is still
// under any configured daily/monthly budget. It is advisory: it reads
// the aggregates without locking the whole dispatch call (§4.2 Budget
// gate, §9 Open Question 2 — this check happens only pre-dispatch; a
// single request's actual usage can still push spend over budget
// afterward, which is a preserved known limitation, not a bug).
func (t *Tracker) IsWithinBudget() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.budget.DailyBudgetUSD > 0 && t.dailyUSD[dateKey(time.Now())] >= t.budget.DailyBudgetUSD {
		return false
	}
	if t.budget.MonthlyBudgetUSD > 0 && t.monthlyUSD[monthKey(time.Now())] >= t.budget.MonthlyBudgetUSD {
		return false
	}
	return true
}
