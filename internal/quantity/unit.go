package quantity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Unit is the unit a Quantity is expressed in. The zero value is the
// measurement unit.
//
// Factor is the number of measurement units per unit, so a billing unit with
// factor 4 means "4 core-hours per billing unit".
type Unit struct {
	billing bool
	factor  decimal.Decimal
}

// Metric is the raw measurement unit reported by tally.
var Metric = Unit{}

// Billing returns the billing unit for a billing factor. A missing or
// non-positive factor is treated as 1.
func Billing(factor float64) Unit {
	f := decimal.NewFromFloat(factor)
	if !f.IsPositive() {
		f = one
	}
	return Unit{billing: true, factor: f}
}

// Factor reports measurement units per unit.
func (u Unit) Factor() decimal.Decimal {
	if !u.billing || !u.factor.IsPositive() {
		return one
	}
	return u.factor
}

// FactorFloat is Factor as a float64, for wire messages.
func (u Unit) FactorFloat() float64 {
	return u.Factor().InexactFloat64()
}

func (u Unit) IsBilling() bool { return u.billing }

func (u Unit) String() string {
	if !u.billing {
		return "metric"
	}
	return fmt.Sprintf("billing(%s)", u.Factor().String())
}
