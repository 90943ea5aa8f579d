package equity

import (
	"math"

	"github.com/shopspring/decimal"
)

// SkillMultiplier maps reputation 0..100 linearly onto 0.5..2.0.
func SkillMultiplier(reputation float64) float64 {
	if reputation < 0 {
		reputation = 0
	}
	if reputation > 100 {
		reputation = 100
	}
	return 0.5 + (reputation/100)*1.5
}

// EffortInput is one active participant's contribution.
type EffortInput struct {
	BotID       uint
	HoursWorked float64
	Reputation  float64
	// AvgImpact is the mean impact of the bot's tasks in the venture; 0
	// means the bot has no tasks and is treated as 1.0.
	AvgImpact float64
}

// Effort is hours x skill multiplier x average impact.
func (in EffortInput) Effort() float64 {
	impact := in.AvgImpact
	if impact <= 0 {
		impact = 1.0
	}
	return in.HoursWorked * SkillMultiplier(in.Reputation) * impact
}

// ComputeEquity returns each input's equity percentage. The result sums to
// 100, or is all zero when total effort is zero.
func ComputeEquity(inputs []EffortInput) []float64 {
	out := make([]float64, len(inputs))
	efforts := make([]float64, len(inputs))
	total := 0.0
	for i, in := range inputs {
		efforts[i] = in.Effort()
		total += efforts[i]
	}
	if total <= 0 {
		return out
	}
	for i := range inputs {
		out[i] = 100 * efforts[i] / total
	}
	return out
}

// Bot count tiers keyed to the owner's lifetime revenue earned
var botCapTiers = []struct {
	below decimal.Decimal
	cap   int
}{
	{decimal.NewFromInt(100), 3},
	{decimal.NewFromInt(1000), 10},
	{decimal.NewFromInt(10000), 50},
}

// BotCap returns how many active bots a human with the given lifetime
// revenue may deploy.
func BotCap(lifetimeRevenue decimal.Decimal) int {
	for _, tier := range botCapTiers {
		if lifetimeRevenue.LessThan(tier.below) {
			return tier.cap
		}
	}
	return math.MaxInt32
}
