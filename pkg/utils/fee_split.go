package utils

import (
	"errors"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the precision, in decimal places, of every credited amount
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// SplitFee splits amount into a platform fee and the distributable remainder.
// fee + distributable == amount exactly.
func SplitFee(amount, rate decimal.Decimal) (fee, distributable decimal.Decimal) {
	fee = amount.Mul(rate).Round(MoneyPlaces)
	distributable = amount.Sub(fee)
	return fee, distributable
}

// SplitShare splits a share into the part kept as cash and the part reinvested.
func SplitShare(share decimal.Decimal, reinvestRate float64) (cashOut, reinvest decimal.Decimal) {
	if reinvestRate < 0 {
		reinvestRate = 0
	}
	if reinvestRate > 1 {
		reinvestRate = 1
	}
	reinvest = share.Mul(decimal.NewFromFloat(reinvestRate)).Round(MoneyPlaces)
	cashOut = share.Sub(reinvest)
	return cashOut, reinvest
}

// Allocate divides total proportionally to weights, truncated to cents.
// The rounding remainder goes to the heaviest weight so that the parts sum
// to total exactly. Returns an error if no weight is positive.
func Allocate(total decimal.Decimal, weights []float64) ([]decimal.Decimal, error) {
	parts := make([]decimal.Decimal, len(weights))
	sum := decimal.Zero
	heaviest := -1
	for i, w := range weights {
		if w < 0 {
			return nil, errors.New("negative allocation weight")
		}
		if w > 0 {
			sum = sum.Add(decimal.NewFromFloat(w))
			if heaviest < 0 || w > weights[heaviest] {
				heaviest = i
			}
		}
	}
	if heaviest < 0 {
		return nil, errors.New("no positive allocation weight")
	}

	allocated := decimal.Zero
	for i, w := range weights {
		if w <= 0 {
			parts[i] = decimal.Zero
			continue
		}
		parts[i] = total.Mul(decimal.NewFromFloat(w)).Div(sum).Truncate(MoneyPlaces)
		allocated = allocated.Add(parts[i])
	}
	parts[heaviest] = parts[heaviest].Add(total.Sub(allocated))
	return parts, nil
}

// Percent returns part/total*100 as a float, or 0 when total is zero.
func Percent(part, total decimal.Decimal) float64 {
	if total.IsZero() {
		return 0
	}
	return part.Mul(hundred).Div(total).InexactFloat64()
}
