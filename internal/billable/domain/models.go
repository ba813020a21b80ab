package domain

import (
	"context"
	"time"

	remittancedomain "github.com/smallbiznis/billableusage/internal/remittance/domain"
	usagedomain "github.com/smallbiznis/billableusage/internal/usage/domain"
)

// Header names carried next to billable usage messages.
const (
	HeaderRetryAfter = "retryAfter"
	HeaderKey        = "key"
)

// Message is the billable usage record sent to billing provider adapters.
// Value is in billing units; BillingFactor converts it back to measurement
// units.
type Message struct {
	UUID                    string     `json:"uuid" validate:"required"`
	OrgID                   string     `json:"org_id" validate:"required"`
	TallyID                 string     `json:"tally_id,omitempty"`
	ProductID               string     `json:"product_id" validate:"required"`
	MetricID                string     `json:"metric_id" validate:"required"`
	SLA                     string     `json:"sla" validate:"required"`
	Usage                   string     `json:"usage" validate:"required"`
	BillingProvider         string     `json:"billing_provider" validate:"required"`
	BillingAccountID        string     `json:"billing_account_id" validate:"required"`
	AccumulationPeriod      string     `json:"accumulation_period" validate:"required"`
	SnapshotDate            time.Time  `json:"snapshot_date"`
	Value                   float64    `json:"value"`
	BillingFactor           float64    `json:"billing_factor"`
	CurrentTotal            float64    `json:"current_total,omitempty"`
	HardwareMeasurementType string     `json:"hardware_measurement_type,omitempty"`
	Status                  string     `json:"status"`
	ErrorCode               string     `json:"error_code,omitempty"`
	BilledOn                *time.Time `json:"billed_on,omitempty"`
}

// NewMessage builds the billing message for a ledger row. snapshotDate is
// the send time so billing providers never see a timestamp in the past.
func NewMessage(row remittancedomain.Remittance, value, billingFactor, currentTotal float64, snapshotDate time.Time) Message {
	var errorCode string
	if row.ErrorCode != nil {
		errorCode = string(*row.ErrorCode)
	}
	return Message{
		UUID:                    row.UUID,
		OrgID:                   row.OrgID,
		TallyID:                 row.TallyID,
		ProductID:               row.ProductID,
		MetricID:                row.MetricID,
		SLA:                     row.SLA,
		Usage:                   row.Usage,
		BillingProvider:         row.BillingProvider,
		BillingAccountID:        row.BillingAccountID,
		AccumulationPeriod:      row.AccumulationPeriod,
		SnapshotDate:            snapshotDate.UTC(),
		Value:                   value,
		BillingFactor:           billingFactor,
		CurrentTotal:            currentTotal,
		HardwareMeasurementType: row.HardwareMeasurementType,
		Status:                  string(row.Status),
		ErrorCode:               errorCode,
		BilledOn:                row.BilledOn,
	}
}

func (m Message) Key() remittancedomain.DimensionKey {
	return remittancedomain.DimensionKey{
		OrgID:              m.OrgID,
		BillingAccountID:   m.BillingAccountID,
		BillingProvider:    m.BillingProvider,
		ProductID:          m.ProductID,
		MetricID:           m.MetricID,
		SLA:                m.SLA,
		Usage:              m.Usage,
		AccumulationPeriod: m.AccumulationPeriod,
	}
}

// Service bills tally usage.
type Service interface {
	ProcessSummary(ctx context.Context, summary usagedomain.TallySummary) error
	ProcessCandidate(ctx context.Context, candidate usagedomain.UsageCandidate) (Result, error)
}

// Producer sends billable usage to the billing topic.
type Producer interface {
	Send(ctx context.Context, msg Message) error
}

// Locker serializes writers of one remittance key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// Outcome describes what happened to one candidate.
type Outcome string

const (
	OutcomeRemitted Outcome = "remitted"
	OutcomeGratis   Outcome = "gratis"
	OutcomeNothing  Outcome = "nothing_owed"
	OutcomeSkipped  Outcome = "skipped"
)

// Result is the effect of processing one usage candidate.
type Result struct {
	Outcome    Outcome
	Remittance *remittancedomain.Remittance
	Message    *Message
}
