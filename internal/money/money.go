// Package money holds integer minor-unit arithmetic shared by the pricing packages.
package money

import "github.com/shopspring/decimal"

// Money represents a monetary value stored in minor units.
type Money = int64

var hundred = decimal.NewFromInt(100)

// FloorPercent returns floor(amount * pct / 100). pct may carry decimals ("2.5").
func FloorPercent(amount Money, pct decimal.Decimal) Money {
	if amount == 0 || pct.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Floor().IntPart()
}

// FloorPercentInt is FloorPercent for whole-number percentages.
func FloorPercentInt(amount Money, pct int64) Money {
	return FloorPercent(amount, decimal.NewFromInt(pct))
}

// RoundPercent returns amount * pct / 100 rounded half away from zero.
func RoundPercent(amount Money, pct decimal.Decimal) Money {
	if amount == 0 || pct.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Round(0).IntPart()
}

// Min returns the smaller amount.
func Min(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger amount.
func Max(a, b Money) Money {
	if a > b {
		return a
	}
	return b
}

// NonNegative clamps negative amounts to zero.
func NonNegative(a Money) Money {
	if a < 0 {
		return 0
	}
	return a
}

// ClampToSubtotal keeps a discount within the magnitude of subtotal without flipping its sign.
func ClampToSubtotal(subtotal, discount Money) Money {
	if subtotal < 0 {
		return Max(subtotal, discount)
	}
	return Min(subtotal, discount)
}

// Sum adds the provided amounts.
func Sum(values ...Money) Money {
	var total Money
	for _, v := range values {
		total += v
	}
	return total
}
