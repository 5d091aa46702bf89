// Package amount converts between the accounting unit used on the bilateral
// link and drops, the smallest unit the XRP Ledger settles in.
//
// The accounting unit is 10^-scale XRP, where scale is agreed between the two
// peers at connect time. Drops are 10^-6 XRP. Conversions to drops always
// round up so that repeated conversions can never under-pay the receiving
// side; callers convert cumulative totals, not per-payment increments, so the
// accumulated excess stays below one drop.
package amount

import (
	"fmt"
	"math/big"
)

// DropsPerXRP is the number of drops in one XRP.
const DropsPerXRP = 1_000_000

// DropsScale is the decimal scale of a drop relative to one XRP.
const DropsScale = 6

// DefaultScale is the accounting scale assumed when peers do not declare one.
const DefaultScale = 6

// Converter converts amounts between the accounting unit and drops for a
// fixed scale. The zero value converts at the default scale; use
// NewConverter to convert at an explicit scale of zero (whole XRP).
type Converter struct {
	// Scale is the number of decimal places of the accounting unit relative
	// to one XRP. Zero means DefaultScale unless set via NewConverter.
	Scale int
	set   bool
}

// NewConverter returns a converter at the given scale. Unlike the zero
// value, an explicit scale of zero means whole XRP, not the default.
func NewConverter(scale int) Converter {
	return Converter{Scale: scale, set: true}
}

func (c Converter) scale() int {
	if c.Scale == 0 && !c.set {
		return DefaultScale
	}
	return c.Scale
}

// pow10 returns 10^n for n >= 0.
func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// DropsToBase converts drops to the accounting unit. For scales of six or
// more the conversion is exact. For smaller scales the result is rounded
// down, so an on-ledger balance is never over-counted.
func (c Converter) DropsToBase(drops int64) *big.Int {
	d := big.NewInt(drops)
	s := c.scale()
	if s >= DropsScale {
		return d.Mul(d, pow10(s-DropsScale))
	}
	return d.Quo(d, pow10(DropsScale-s))
}

// BaseToDrops converts an accounting-unit amount to drops, rounding up to the
// next whole drop. Rounding up means the payer absorbs the sub-drop remainder
// rather than the payee losing it. The amount must not be negative.
func (c Converter) BaseToDrops(base *big.Int) (int64, error) {
	if base.Sign() < 0 {
		return 0, fmt.Errorf("converting %s to drops: amount is negative", base)
	}
	s := c.scale()
	if s <= DropsScale {
		d := new(big.Int).Mul(base, pow10(DropsScale-s))
		if !d.IsInt64() {
			return 0, fmt.Errorf("converting %s to drops: result out of range", base)
		}
		return d.Int64(), nil
	}
	div := pow10(s - DropsScale)
	q, r := new(big.Int).QuoRem(base, div, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsInt64() {
		return 0, fmt.Errorf("converting %s to drops: result out of range", base)
	}
	return q.Int64(), nil
}

// XRPString renders drops as a decimal XRP value, e.g. 1500000 -> "1.500000".
// Used for logging only.
func XRPString(drops int64) string {
	sign := ""
	if drops < 0 {
		sign = "-"
		drops = -drops
	}
	return fmt.Sprintf("%s%d.%06d", sign, drops/DropsPerXRP, drops%DropsPerXRP)
}
