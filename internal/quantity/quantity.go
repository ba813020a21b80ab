package quantity

import (
	"github.com/shopspring/decimal"
)

// divisionPrecision bounds the digits kept when converting into a larger
// unit. It is far beyond anything a billing provider accepts, so rounding
// only happens in Ceil.
const divisionPrecision = 24

// Quantity is an immutable amount tagged with its unit.
type Quantity struct {
	value decimal.Decimal
	unit  Unit
}

func Of(value float64, unit Unit) Quantity {
	return Quantity{value: decimal.NewFromFloat(value), unit: unit}
}

func FromDecimal(value decimal.Decimal, unit Unit) Quantity {
	return Quantity{value: value, unit: unit}
}

func Zero(unit Unit) Quantity {
	return Quantity{value: decimal.Zero, unit: unit}
}

func (q Quantity) Value() decimal.Decimal { return q.value }

func (q Quantity) Float64() float64 { return q.value.InexactFloat64() }

func (q Quantity) Unit() Unit { return q.unit }

// To converts q into unit. Converting into a billing unit divides by the
// factor, converting back into the measurement unit multiplies.
func (q Quantity) To(unit Unit) Quantity {
	if q.unit.Factor().Equal(unit.Factor()) {
		return Quantity{value: q.value, unit: unit}
	}
	measured := q.value.Mul(q.unit.Factor())
	return Quantity{
		value: measured.DivRound(unit.Factor(), divisionPrecision),
		unit:  unit,
	}
}

// Subtract returns q - other in q's unit. The result may be negative.
func (q Quantity) Subtract(other Quantity) Quantity {
	return Quantity{value: q.value.Sub(other.To(q.unit).value), unit: q.unit}
}

func (q Quantity) Add(other Quantity) Quantity {
	return Quantity{value: q.value.Add(other.To(q.unit).value), unit: q.unit}
}

// Ceil rounds toward positive infinity to a whole unit.
func (q Quantity) Ceil() Quantity {
	return Quantity{value: q.value.Ceil(), unit: q.unit}
}

// PositiveOrZero clamps negative amounts to zero.
func (q Quantity) PositiveOrZero() Quantity {
	if q.value.IsNegative() {
		return Quantity{value: decimal.Zero, unit: q.unit}
	}
	return q
}

// Max returns the larger of q and other, expressed in q's unit.
func (q Quantity) Max(other Quantity) Quantity {
	o := other.To(q.unit)
	if o.value.GreaterThan(q.value) {
		return o
	}
	return q
}

func (q Quantity) IsPositive() bool { return q.value.IsPositive() }

func (q Quantity) IsZero() bool { return q.value.IsZero() }

func (q Quantity) Equal(other Quantity) bool {
	return q.value.Equal(other.To(q.unit).value)
}

func (q Quantity) String() string {
	return q.value.String() + " " + q.unit.String()
}
