package cost

import (
	"testing"

	"github.com/Raudbjorn/ttrpg-llm-core/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_RecordAccumulatesAcrossAggregates(t *testing.T) {
	tr := New(BudgetConfig{})
	pricing := &llm.PricingDescriptor{InputPricePerM: 3.0, OutputPricePerM: 15.0}

	cost := tr.Record("openai", 1_000_000, 1_000_000, pricing)
	require.InDelta(t, 18.0, cost, 1e-9)

	assert.InDelta(t, 18.0, tr.Total(), 1e-9)
	assert.InDelta(t, 18.0, tr.ProviderTotal("openai"), 1e-9)
	assert.InDelta(t, 18.0, tr.DailyCost(), 1e-9)
	assert.InDelta(t, 18.0, tr.MonthlyCost(), 1e-9)
	assert.Zero(t, tr.ProviderTotal("anthropic"))

	tr.Record("anthropic", 500_000, 0, pricing)
	assert.InDelta(t, 19.5, tr.Total(), 1e-9)
	assert.InDelta(t, 1.5, tr.ProviderTotal("anthropic"), 1e-9)
}

func TestTracker_IsWithinBudget(t *testing.T) {
	tr := New(BudgetConfig{DailyBudgetUSD: 10})
	pricing := &llm.PricingDescriptor{InputPricePerM: 1.0, OutputPricePerM: 1.0}

	assert.True(t, tr.IsWithinBudget())
	tr.Record("openai", 5_000_000, 0, pricing) // $5
	assert.True(t, tr.IsWithinBudget())
	tr.Record("openai", 6_000_000, 0, pricing) // +$6 = $11
	assert.False(t, tr.IsWithinBudget())
}

func TestTracker_UnlimitedBudgetAlwaysWithin(t *testing.T) {
	tr := New(BudgetConfig{})
	pricing := &llm.PricingDescriptor{InputPricePerM: 1000, OutputPricePerM: 1000}
	tr.Record("openai", 10_000_000, 10_000_000, pricing)
	assert.True(t, tr.IsWithinBudget())
}

func TestTracker_NilPricingRecordsZeroCost(t *testing.T) {
	tr := New(BudgetConfig{})
	cost := tr.Record("ollama", 1000, 1000, nil)
	assert.Zero(t, cost)
	assert.Zero(t, tr.ProviderTotal("ollama"))
}
