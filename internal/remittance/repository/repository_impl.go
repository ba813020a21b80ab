package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billableusage/internal/remittance/domain"
	"github.com/smallbiznis/billableusage/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(conn *gorm.DB) domain.Repository {
	return &repo{db: conn}
}

func (r *repo) WithTrx(tx *gorm.DB) domain.Repository {
	if tx == nil {
		return r
	}
	return &repo{db: tx}
}

func byKey(key domain.DimensionKey) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where(
			"org_id = ? AND billing_account_id = ? AND billing_provider = ? AND product_id = ? AND metric_id = ? AND sla = ? AND usage_type = ? AND accumulation_period = ?",
			key.OrgID, key.BillingAccountID, key.BillingProvider, key.ProductID,
			key.MetricID, key.SLA, key.Usage, key.AccumulationPeriod,
		)
	}
}

// countedCondition keeps everything but failures that will not be resent.
const countedCondition = "(status IS NULL OR status <> ? OR retry_after IS NOT NULL)"

func (r *repo) GetTotalRemitted(ctx context.Context, key domain.DimensionKey) (decimal.Decimal, error) {
	running, err := r.GetRunningTotal(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	return running.Total, nil
}

// GetRunningTotal reads the total and the last sequence in one statement so
// both come from the same snapshot.
func (r *repo) GetRunningTotal(ctx context.Context, key domain.DimensionKey) (domain.RunningTotal, error) {
	if err := key.Validate(); err != nil {
		return domain.RunningTotal{}, err
	}

	var (
		total decimal.NullDecimal
		last  int
	)
	err := r.db.WithContext(ctx).
		Model(&domain.Remittance{}).
		Scopes(byKey(key)).
		Select("SUM(CASE WHEN "+countedCondition+" THEN remitted_pending_value END), COALESCE(MAX(sequence), 0)", domain.StatusFailed).
		Row().
		Scan(&total, &last)
	if err != nil {
		return domain.RunningTotal{}, err
	}

	running := domain.RunningTotal{Total: decimal.Zero, LastSequence: last}
	if total.Valid {
		running.Total = total.Decimal
	}
	return running, nil
}

func (r *repo) Create(ctx context.Context, rem *domain.Remittance) error {
	running, err := r.GetRunningTotal(ctx, rem.Key())
	if err != nil {
		return err
	}
	return r.CreateAfter(ctx, rem, running)
}

func (r *repo) CreateAfter(ctx context.Context, rem *domain.Remittance, seen domain.RunningTotal) error {
	if err := rem.Key().Validate(); err != nil {
		return err
	}
	rem.Sequence = seen.NextSequence()
	return r.Insert(ctx, rem)
}

func (r *repo) Insert(ctx context.Context, rem *domain.Remittance) error {
	if err := r.db.WithContext(ctx).Create(rem).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return fmt.Errorf("%w: %s seq %d", domain.ErrConcurrentRemittance, rem.Key().LockKey(), rem.Sequence)
		}
		return err
	}
	return nil
}

func (r *repo) UpdateStatusByUUIDs(ctx context.Context, uuids []string, change domain.StatusChange) (int64, error) {
	if len(uuids) == 0 {
		return 0, nil
	}
	updatedAt := change.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	updates := map[string]any{
		"status":     change.Status,
		"error_code": change.ErrorCode,
		"updated_at": updatedAt,
	}
	if change.BilledOn != nil {
		updates["billed_on"] = change.BilledOn.UTC()
	}

	result := r.db.WithContext(ctx).
		Model(&domain.Remittance{}).
		Where("uuid IN ?", uuids).
		Where("status NOT IN ?", domain.TerminalStatuses()).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (r *repo) DeleteOlderThan(ctx context.Context, orgID string, cutoff time.Time) (int64, error) {
	if orgID == "" {
		return 0, domain.ErrInvalidOrganization
	}
	result := r.db.WithContext(ctx).
		Where("org_id = ? AND remittance_pending_date < ?", orgID, cutoff.UTC()).
		Delete(&domain.Remittance{})
	return result.RowsAffected, result.Error
}

func (r *repo) FindByUUID(ctx context.Context, uuid string) (*domain.Remittance, error) {
	var rem domain.Remittance
	err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&rem).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rem, nil
}

func (r *repo) FindLatestByKey(ctx context.Context, key domain.DimensionKey) (*domain.Remittance, error) {
	var rem domain.Remittance
	err := r.db.WithContext(ctx).
		Scopes(byKey(key)).
		Order("sequence DESC").
		First(&rem).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rem, nil
}

func (r *repo) SetRetryAfter(ctx context.Context, id snowflake.ID, retryAfter *time.Time, status domain.Status) error {
	updates := map[string]any{
		"retry_after": gorm.Expr("NULL"),
		"updated_at":  time.Now().UTC(),
	}
	if retryAfter != nil {
		updates["retry_after"] = retryAfter.UTC()
	}
	if status != "" {
		updates["status"] = status
	}
	result := r.db.WithContext(ctx).Model(&domain.Remittance{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrRemittanceNotFound
	}
	return nil
}

func (r *repo) ListRetryable(ctx context.Context, asOf time.Time, afterID snowflake.ID, limit int) ([]domain.Remittance, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []domain.Remittance
	err := r.db.WithContext(ctx).
		Where("retry_after IS NOT NULL AND retry_after < ? AND id > ?", asOf.UTC(), afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repo) List(ctx context.Context, filter domain.Filter) ([]domain.Remittance, error) {
	q := r.db.WithContext(ctx).Where("org_id = ?", filter.OrgID)
	if filter.ProductID != "" {
		q = q.Where("product_id = ?", filter.ProductID)
	}
	if filter.MetricID != "" {
		q = q.Where("metric_id = ?", filter.MetricID)
	}
	if filter.BillingProvider != "" {
		q = q.Where("billing_provider = ?", filter.BillingProvider)
	}
	if filter.BillingAccountID != "" {
		q = q.Where("billing_account_id = ?", filter.BillingAccountID)
	}
	if filter.Beginning != nil {
		q = q.Where("remittance_pending_date >= ?", filter.Beginning.UTC())
	}
	if filter.Ending != nil {
		q = q.Where("remittance_pending_date <= ?", filter.Ending.UTC())
	}

	var rows []domain.Remittance
	err := q.Order("remittance_pending_date ASC").Order("id ASC").Find(&rows).Error
	return rows, err
}

func (r *repo) ListByTallyID(ctx context.Context, tallyID string) ([]domain.Remittance, error) {
	var rows []domain.Remittance
	err := r.db.WithContext(ctx).Where("tally_id = ?", tallyID).Order("id ASC").Find(&rows).Error
	return rows, err
}

func (r *repo) ResetRemittedValue(ctx context.Context, req domain.ResetRequest) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&domain.Remittance{}).
		Where("product_id = ? AND remittance_pending_date >= ? AND remittance_pending_date < ?",
			req.ProductID, req.Start.UTC(), req.End.UTC())
	switch {
	case len(req.OrgIDs) > 0:
		q = q.Where("org_id IN ?", req.OrgIDs)
	case len(req.BillingAccountIDs) > 0:
		q = q.Where("billing_account_id IN ?", req.BillingAccountIDs)
	default:
		return 0, domain.ErrInvalidResetTarget
	}

	result := q.Updates(map[string]any{
		"remitted_pending_value": decimal.Zero,
		"updated_at":             time.Now().UTC(),
	})
	return result.RowsAffected, result.Error
}

func (r *repo) DeleteByOrgID(ctx context.Context, orgID string) (int64, error) {
	if orgID == "" {
		return 0, domain.ErrInvalidOrganization
	}
	result := r.db.WithContext(ctx).Where("org_id = ?", orgID).Delete(&domain.Remittance{})
	return result.RowsAffected, result.Error
}

func (r *repo) DistinctOrgIDs(ctx context.Context) ([]string, error) {
	var orgIDs []string
	err := r.db.WithContext(ctx).
		Model(&domain.Remittance{}).
		Distinct("org_id").
		Order("org_id").
		Pluck("org_id", &orgIDs).Error
	return orgIDs, err
}
