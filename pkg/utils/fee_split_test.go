package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFeeReconstructsAmount(t *testing.T) {
	amounts := []string{"100", "999.99", "0.01", "1234.57", "33.33"}
	rates := []string{"0.05", "0.15"}

	for _, a := range amounts {
		for _, r := range rates {
			t.Run(a+"@"+r, func(t *testing.T) {
				amount := decimal.RequireFromString(a)
				fee, dist := SplitFee(amount, decimal.RequireFromString(r))
				assert.True(t, fee.Add(dist).Equal(amount), "fee %s + dist %s != %s", fee, dist, amount)
			})
		}
	}
}

func TestSplitFeeValues(t *testing.T) {
	fee, dist := SplitFee(decimal.NewFromInt(1000), decimal.RequireFromString("0.05"))
	assert.Equal(t, "50.00", fee.StringFixed(2))
	assert.Equal(t, "950.00", dist.StringFixed(2))

	fee, dist = SplitFee(decimal.NewFromInt(200), decimal.RequireFromString("0.15"))
	assert.Equal(t, "30.00", fee.StringFixed(2))
	assert.Equal(t, "170.00", dist.StringFixed(2))
}

func TestSplitShare(t *testing.T) {
	cash, reinvest := SplitShare(decimal.RequireFromString("95"), 0.25)
	assert.Equal(t, "71.25", cash.StringFixed(2))
	assert.Equal(t, "23.75", reinvest.StringFixed(2))

	cash, reinvest = SplitShare(decimal.RequireFromString("10"), 1.5)
	assert.True(t, cash.IsZero())
	assert.Equal(t, "10.00", reinvest.StringFixed(2))
}

func TestAllocateSumsExactly(t *testing.T) {
	total := decimal.RequireFromString("100")
	parts, err := Allocate(total, []float64{33.3333, 33.3333, 33.3334})
	require.NoError(t, err)

	sum := decimal.Zero
	for _, p := range parts {
		sum = sum.Add(p)
	}
	assert.True(t, sum.Equal(total))
	assert.Equal(t, "33.34", parts[2].StringFixed(2))
}

func TestAllocateZeroWeights(t *testing.T) {
	parts, err := Allocate(decimal.NewFromInt(10), []float64{0, 1})
	require.NoError(t, err)
	assert.True(t, parts[0].IsZero())
	assert.Equal(t, "10.00", parts[1].StringFixed(2))

	_, err = Allocate(decimal.NewFromInt(10), []float64{0, 0})
	assert.Error(t, err)
}

func TestPercent(t *testing.T) {
	assert.InDelta(t, 73.333, Percent(decimal.NewFromInt(1100), decimal.NewFromInt(1500)), 0.001)
	assert.Equal(t, 0.0, Percent(decimal.NewFromInt(5), decimal.Zero))
}
