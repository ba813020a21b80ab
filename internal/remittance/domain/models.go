package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a remittance row.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	// StatusGratis rows are covered by a new contract and never sent for billing.
	StatusGratis Status = "GRATIS"
	// StatusRetryable rows failed because the subscription was not yet
	// provisioned and wait for a resend.
	StatusRetryable Status = "RETRYABLE"
)

// IsTerminal reports whether later status updates must leave the row alone.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusGratis:
		return true
	default:
		return false
	}
}

func TerminalStatuses() []Status {
	return []Status{StatusSucceeded, StatusFailed, StatusGratis}
}

func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusPending, StatusSucceeded, StatusFailed, StatusGratis, StatusRetryable:
		return s, nil
	default:
		return "", ErrInvalidStatus
	}
}

// ErrorCode is the billing provider's reason for a failed remittance.
type ErrorCode string

const (
	ErrorCodeInactive                       ErrorCode = "INACTIVE"
	ErrorCodeRedundant                      ErrorCode = "REDUNDANT"
	ErrorCodeSubscriptionNotFound           ErrorCode = "SUBSCRIPTION_NOT_FOUND"
	ErrorCodeSubscriptionRecentlyTerminated ErrorCode = "SUBSCRIPTION_RECENTLY_TERMINATED"
	ErrorCodeSubscriptionTerminated         ErrorCode = "SUBSCRIPTION_TERMINATED"
	ErrorCodeMarketplaceRateLimit           ErrorCode = "MARKETPLACE_RATE_LIMIT"
	ErrorCodeUnsupportedMetric              ErrorCode = "UNSUPPORTED_METRIC"
	ErrorCodeUsageContextLookup             ErrorCode = "USAGE_CONTEXT_LOOKUP"
	ErrorCodeUnknown                        ErrorCode = "UNKNOWN"
)

// DimensionKey identifies the running total a remittance contributes to.
type DimensionKey struct {
	OrgID              string
	BillingAccountID   string
	BillingProvider    string
	ProductID          string
	MetricID           string
	SLA                string
	Usage              string
	AccumulationPeriod string
}

// AccumulationPeriod is the monthly bucket ("2006-01") of t in UTC.
func AccumulationPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func (k DimensionKey) Validate() error {
	for _, v := range []string{
		k.OrgID, k.BillingAccountID, k.BillingProvider, k.ProductID,
		k.MetricID, k.SLA, k.Usage, k.AccumulationPeriod,
	} {
		if strings.TrimSpace(v) == "" {
			return ErrInvalidDimensionKey
		}
	}
	return nil
}

// LockKey is the distributed lock name serializing writers of this key.
func (k DimensionKey) LockKey() string {
	return "billable:remittance:" + strings.Join([]string{
		k.OrgID, k.BillingAccountID, k.BillingProvider, k.ProductID,
		k.MetricID, k.SLA, k.Usage, k.AccumulationPeriod,
	}, "|")
}

// Remittance is one append-only ledger row. Rows sharing a DimensionKey are
// numbered by Sequence; the unique index on key+sequence rejects concurrent
// writers that read the same running total.
type Remittance struct {
	ID                      snowflake.ID    `gorm:"primaryKey"`
	UUID                    string          `gorm:"type:varchar(36);not null;uniqueIndex:ux_billable_usage_remittance_uuid"`
	OrgID                   string          `gorm:"type:varchar(64);not null;index;uniqueIndex:ux_billable_usage_remittance_key_seq,priority:1"`
	BillingAccountID        string          `gorm:"type:varchar(255);not null;uniqueIndex:ux_billable_usage_remittance_key_seq,priority:2"`
	BillingProvider         string          `gorm:"type:varchar(32);not null;uniqueIndex:ux_billable_usage_remittance_key_seq,priority:3"`
	ProductID               string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_billable_usage_remittance_key_seq,priority:4"`
	MetricID                string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_billable_usage_remittance_key_seq,priority:5"`
	SLA                     string          `gorm:"column:sla;type:varchar(32);not null;uniqueIndex:ux_billable_usage_remittance_key_seq,priority:6"`
	Usage                   string          `gorm:"column:usage_type;type:varchar(32);not null;uniqueIndex:ux_billable_usage_remittance_key_seq,priority:7"`
	AccumulationPeriod      string          `gorm:"type:varchar(7);not null;uniqueIndex:ux_billable_usage_remittance_key_seq,priority:8"`
	Sequence                int             `gorm:"not null;uniqueIndex:ux_billable_usage_remittance_key_seq,priority:9"`
	RemittedPendingValue    decimal.Decimal `gorm:"type:numeric(38,10);not null"`
	RemittancePendingDate   time.Time       `gorm:"not null;index"`
	Status                  Status          `gorm:"type:varchar(16);not null;index"`
	ErrorCode               *ErrorCode      `gorm:"type:varchar(64)"`
	BilledOn                *time.Time
	RetryAfter              *time.Time `gorm:"index"`
	HardwareMeasurementType string     `gorm:"type:varchar(32)"`
	TallyID                 string     `gorm:"type:varchar(64);index"`
	CreatedAt               time.Time  `gorm:"not null"`
	UpdatedAt               time.Time  `gorm:"not null"`
}

// TableName sets the database table name.
func (Remittance) TableName() string { return "billable_usage_remittance" }

func (r Remittance) Key() DimensionKey {
	return DimensionKey{
		OrgID:              r.OrgID,
		BillingAccountID:   r.BillingAccountID,
		BillingProvider:    r.BillingProvider,
		ProductID:          r.ProductID,
		MetricID:           r.MetricID,
		SLA:                r.SLA,
		Usage:              r.Usage,
		AccumulationPeriod: r.AccumulationPeriod,
	}
}

// ApplyKey copies the dimension key onto the row.
func (r *Remittance) ApplyKey(k DimensionKey) {
	r.OrgID = k.OrgID
	r.BillingAccountID = k.BillingAccountID
	r.BillingProvider = k.BillingProvider
	r.ProductID = k.ProductID
	r.MetricID = k.MetricID
	r.SLA = k.SLA
	r.Usage = k.Usage
	r.AccumulationPeriod = k.AccumulationPeriod
}

// RunningTotal is what a writer saw of a key before appending to it.
type RunningTotal struct {
	Total        decimal.Decimal
	LastSequence int
}

func (t RunningTotal) NextSequence() int { return t.LastSequence + 1 }

// StatusChange is a bulk status transition reported by a billing provider.
type StatusChange struct {
	Status    Status
	ErrorCode *ErrorCode
	BilledOn  *time.Time
	UpdatedAt time.Time
}

// Filter selects remittances for reporting.
type Filter struct {
	OrgID            string
	ProductID        string
	MetricID         string
	BillingProvider  string
	BillingAccountID string
	Beginning        *time.Time
	Ending           *time.Time
}

// ResetRequest zeroes remitted values for a product inside [Start, End).
// Exactly one of OrgIDs and BillingAccountIDs must be set.
type ResetRequest struct {
	ProductID         string
	Start             time.Time
	End               time.Time
	OrgIDs            []string
	BillingAccountIDs []string
}

// Summary aggregates remittances sharing a key and status.
type Summary struct {
	Key                DimensionKey
	Status             Status
	ErrorCode          *ErrorCode
	RemittedValue      decimal.Decimal
	LastRemittanceDate time.Time
	Rows               int
}
