package domain

import (
	"context"
	"errors"
	"time"

	billabledomain "github.com/smallbiznis/billableusage/internal/billable/domain"
	remittancedomain "github.com/smallbiznis/billableusage/internal/remittance/domain"
)

var (
	// ErrMalformedStatus marks a status update without a usable status. The
	// sender has to fix it, so it is dropped rather than retried.
	ErrMalformedStatus   = errors.New("malformed_status")
	ErrMissingRetryAfter = errors.New("missing_retry_after")
)

// AggregateKey is the dimension key a billing adapter reports back.
type AggregateKey struct {
	OrgID                   string    `json:"org_id" validate:"required"`
	ProductID               string    `json:"product_id" validate:"required"`
	MetricID                string    `json:"metric_id" validate:"required"`
	SLA                     string    `json:"sla" validate:"required"`
	Usage                   string    `json:"usage" validate:"required"`
	BillingProvider         string    `json:"billing_provider" validate:"required"`
	BillingAccountID        string    `json:"billing_account_id" validate:"required"`
	AccumulationPeriod      string    `json:"accumulation_period,omitempty"`
	SnapshotDate            time.Time `json:"snapshot_date"`
	HardwareMeasurementType string    `json:"hardware_measurement_type,omitempty"`
}

// Period falls back to the snapshot month when no period was reported.
func (k AggregateKey) Period() string {
	if k.AccumulationPeriod != "" {
		return k.AccumulationPeriod
	}
	return remittancedomain.AccumulationPeriod(k.SnapshotDate)
}

func (k AggregateKey) DimensionKey() remittancedomain.DimensionKey {
	return remittancedomain.DimensionKey{
		OrgID:              k.OrgID,
		BillingAccountID:   k.BillingAccountID,
		BillingProvider:    k.BillingProvider,
		ProductID:          k.ProductID,
		MetricID:           k.MetricID,
		SLA:                k.SLA,
		Usage:              k.Usage,
		AccumulationPeriod: k.Period(),
	}
}

// StatusUpdate is a billing provider's verdict on a batch of remittances.
type StatusUpdate struct {
	AggregateID     string       `json:"aggregate_id,omitempty"`
	AggregateKey    AggregateKey `json:"aggregate_key"`
	Status          *string      `json:"status"`
	ErrorCode       *string      `json:"error_code,omitempty"`
	BilledOn        *time.Time   `json:"billed_on,omitempty"`
	RemittanceUUIDs []string     `json:"remittance_uuids"`
}

// Service reconciles billing provider verdicts with the ledger.
type Service interface {
	HandleStatus(ctx context.Context, update StatusUpdate) error
	HandleRetry(ctx context.Context, msg billabledomain.Message, retryAfter time.Time) error
	ProcessRetries(ctx context.Context, asOf time.Time) (int, error)
}

// RetryProducer sends billable usage to the delayed retry topic.
type RetryProducer interface {
	SendRetry(ctx context.Context, msg billabledomain.Message, retryAfter time.Time) error
}
