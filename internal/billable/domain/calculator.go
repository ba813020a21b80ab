package domain

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billableusage/internal/quantity"
)

// Calculation is the breakdown of one billable amount.
type Calculation struct {
	BillingUnit     quantity.Unit
	Usage           quantity.Quantity
	ContractAmount  quantity.Quantity
	ApplicableUsage quantity.Quantity
	TotalRemitted   quantity.Quantity
	// Billable is the amount still owed, in whole billing units.
	Billable quantity.Quantity
}

// Calculate computes what is still owed for an accumulation period.
//
// currentTotal and totalRemitted are in measurement units, contractTotal is
// in billing units. Usage inside the contract is never billed and the result
// is never negative.
func Calculate(currentTotal, contractTotal float64, totalRemitted decimal.Decimal, billingFactor float64) Calculation {
	billing := quantity.Billing(billingFactor)

	usage := quantity.Of(currentTotal, quantity.Metric)
	contract := quantity.Of(contractTotal, billing).To(quantity.Metric)
	applicable := usage.Subtract(contract).PositiveOrZero()
	remitted := quantity.FromDecimal(totalRemitted, quantity.Metric)

	billable := applicable.
		Subtract(remitted).
		To(billing).
		Ceil().
		PositiveOrZero()

	return Calculation{
		BillingUnit:     billing,
		Usage:           usage,
		ContractAmount:  contract,
		ApplicableUsage: applicable,
		TotalRemitted:   remitted,
		Billable:        billable,
	}
}

// IsOwed reports whether a remittance must be written.
func (c Calculation) IsOwed() bool { return c.Billable.IsPositive() }

// RemittedValue is Billable in measurement units, the value stored on the
// ledger row.
func (c Calculation) RemittedValue() decimal.Decimal {
	return c.Billable.To(quantity.Metric).Value()
}

// CoveredUsage is the part of a candidate's new usage absorbed by the
// contract, in measurement units. Usage already past the contract before
// this candidate adds nothing.
func CoveredUsage(value, currentTotal, contractTotal, billingFactor float64) float64 {
	if value <= 0 || contractTotal <= 0 {
		return 0
	}
	contract := quantity.Of(contractTotal, quantity.Billing(billingFactor)).To(quantity.Metric)
	previous := quantity.Of(currentTotal-value, quantity.Metric)
	remaining := contract.Subtract(previous)
	if !remaining.IsPositive() {
		return 0
	}
	return math.Min(remaining.Float64(), value)
}
