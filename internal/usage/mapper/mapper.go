package mapper

import (
	"iter"

	usagedomain "github.com/smallbiznis/billableusage/internal/usage/domain"
	"go.uber.org/zap"
)

// EligibilityChecker answers whether a product is billed by usage.
type EligibilityChecker interface {
	IsPaygEligible(productID string) bool
}

// Mapper turns tally summaries into billable usage candidates.
type Mapper struct {
	products EligibilityChecker
	log      *zap.Logger
}

func New(products EligibilityChecker, log *zap.Logger) *Mapper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mapper{products: products, log: log.Named("usage.mapper")}
}

// Candidates yields one candidate per non-aggregate measurement of every
// billable snapshot, in snapshot order.
func (m *Mapper) Candidates(summary usagedomain.TallySummary) iter.Seq[usagedomain.UsageCandidate] {
	return func(yield func(usagedomain.UsageCandidate) bool) {
		for _, snapshot := range summary.Snapshots {
			if !m.IsBillable(snapshot) {
				continue
			}
			for _, measurement := range snapshot.Measurements {
				if measurement.HardwareMeasurementType == usagedomain.HardwareMeasurementTotal {
					continue
				}
				if !yield(toCandidate(summary.OrgID, snapshot, measurement)) {
					return
				}
			}
		}
	}
}

// IsBillable applies the snapshot-level eligibility rules.
func (m *Mapper) IsBillable(snapshot usagedomain.TallySnapshot) bool {
	switch {
	case snapshot.Granularity != usagedomain.GranularityHourly:
		return false
	case !snapshot.SLA.IsConcrete(), !snapshot.Usage.IsConcrete():
		return false
	case !snapshot.BillingProvider.IsConcrete():
		return false
	case !usagedomain.IsConcreteAccount(snapshot.BillingAccountID):
		return false
	}

	if m.products == nil || !m.products.IsPaygEligible(snapshot.ProductID) {
		m.log.Debug("product not payg eligible",
			zap.String("product_id", snapshot.ProductID),
			zap.String("tally_id", snapshot.ID),
		)
		return false
	}
	return true
}

func toCandidate(orgID string, snapshot usagedomain.TallySnapshot, measurement usagedomain.TallyMeasurement) usagedomain.UsageCandidate {
	return usagedomain.UsageCandidate{
		OrgID:                   orgID,
		TallyID:                 snapshot.ID,
		ProductID:               snapshot.ProductID,
		MetricID:                measurement.MetricID,
		SLA:                     snapshot.SLA,
		Usage:                   snapshot.Usage,
		BillingProvider:         snapshot.BillingProvider,
		BillingAccountID:        snapshot.BillingAccountID,
		SnapshotDate:            snapshot.SnapshotDate.UTC(),
		Value:                   measurement.Value,
		CurrentTotal:            measurement.CurrentTotal,
		HardwareMeasurementType: measurement.HardwareMeasurementType,
	}
}
