// Package money holds integer-cent arithmetic shared by the pricing engine.
// Amounts never leave this package as floats.
package money

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Cents is an amount of euro cents.
type Cents int64

var hundred = decimal.NewFromInt(100)

// Add returns c + o.
func (c Cents) Add(o Cents) Cents { return c + o }

// Mul returns c multiplied by a quantity.
func (c Cents) Mul(qty int) Cents { return c * Cents(qty) }

// Sub returns c - o, clamped at zero.
func (c Cents) Sub(o Cents) Cents { return ClampNonNegative(c - o) }

// ClampNonNegative returns c, or zero when c is negative.
func ClampNonNegative(c Cents) Cents {
	if c < 0 {
		return 0
	}
	return c
}

// Min returns the smaller of a and b.
func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}

// Sum adds all amounts.
func Sum(amounts ...Cents) Cents {
	var total Cents
	for _, a := range amounts {
		total += a
	}
	return total
}

// NormalizePercent clamps pct into [0, 100].
func NormalizePercent(pct decimal.Decimal) decimal.Decimal {
	switch {
	case pct.IsNegative():
		return decimal.Zero
	case pct.GreaterThan(hundred):
		return hundred
	default:
		return pct
	}
}

// PercentOf returns pct percent of amount, truncated toward zero. The percent
// is normalized first so the result always lies within [0, amount].
func PercentOf(amount Cents, pct decimal.Decimal) Cents {
	if amount <= 0 {
		return 0
	}
	share := decimal.NewFromInt(int64(amount)).Mul(NormalizePercent(pct)).Div(hundred)
	return Cents(share.Truncate(0).IntPart())
}

// Decimal returns the amount in euros, e.g. 3490 -> 34.9.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(c)).Shift(-2)
}

// String renders the plain two-decimal form used by the JSON API, e.g. "34.90".
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// Format renders the amount the way the shop displays it: "69,80 €".
func (c Cents) Format() string {
	s := c.Decimal().StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteString(" ")
		}
		b.WriteRune(r)
	}
	b.WriteByte(',')
	b.WriteString(frac)
	b.WriteString(" €")
	return b.String()
}

// FromDecimal converts a euro amount to cents, rounding half away from zero.
func FromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Shift(2).Round(0).IntPart())
}

// NormalizeWeight maps a weight in grams to a non-negative whole number.
// Negative, NaN and infinite inputs become 0 so a quote can always be made.
func NormalizeWeight(grams float64) int64 {
	if math.IsNaN(grams) || math.IsInf(grams, 0) || grams <= 0 {
		return 0
	}
	if grams >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(math.Round(grams))
}
