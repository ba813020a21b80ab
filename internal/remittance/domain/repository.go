package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repository is the durable remittance ledger.
type Repository interface {
	WithTrx(tx *gorm.DB) Repository

	// GetTotalRemitted sums remitted values for key in measurement units.
	// FAILED rows only count while they are scheduled for a resend.
	GetTotalRemitted(ctx context.Context, key DimensionKey) (decimal.Decimal, error)
	// GetRunningTotal is GetTotalRemitted plus the last sequence of the key,
	// read in the same statement.
	GetRunningTotal(ctx context.Context, key DimensionKey) (RunningTotal, error)
	// Create assigns the next sequence for the row's key and inserts it.
	Create(ctx context.Context, r *Remittance) error
	// CreateAfter inserts r as the successor of seen. It fails with
	// ErrConcurrentRemittance when another row was appended since seen was read.
	CreateAfter(ctx context.Context, r *Remittance, seen RunningTotal) error
	// Insert stores r with its sequence as given.
	Insert(ctx context.Context, r *Remittance) error
	UpdateStatusByUUIDs(ctx context.Context, uuids []string, change StatusChange) (int64, error)
	DeleteOlderThan(ctx context.Context, orgID string, cutoff time.Time) (int64, error)

	FindByUUID(ctx context.Context, uuid string) (*Remittance, error)
	FindLatestByKey(ctx context.Context, key DimensionKey) (*Remittance, error)
	SetRetryAfter(ctx context.Context, id snowflake.ID, retryAfter *time.Time, status Status) error
	ListRetryable(ctx context.Context, asOf time.Time, afterID snowflake.ID, limit int) ([]Remittance, error)

	List(ctx context.Context, filter Filter) ([]Remittance, error)
	ListByTallyID(ctx context.Context, tallyID string) ([]Remittance, error)
	ResetRemittedValue(ctx context.Context, req ResetRequest) (int64, error)
	DeleteByOrgID(ctx context.Context, orgID string) (int64, error)
	DistinctOrgIDs(ctx context.Context) ([]string, error)
}

// Service exposes ledger queries and maintenance operations.
type Service interface {
	ListRemittances(ctx context.Context, filter Filter) ([]Summary, error)
	ListByTallyID(ctx context.Context, tallyID string) ([]Remittance, error)
	ResetRemittedValue(ctx context.Context, req ResetRequest) (int64, error)
	DeleteByOrgID(ctx context.Context, orgID string) (int64, error)
}
