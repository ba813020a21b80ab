package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	billabledomain "github.com/smallbiznis/billableusage/internal/billable/domain"
	"github.com/smallbiznis/billableusage/internal/quantity"
	remittancedomain "github.com/smallbiznis/billableusage/internal/remittance/domain"
	"go.uber.org/zap"
)

// ProcessRetries resends every remittance whose retryAfter is before asOf.
// A resent row goes back to PENDING with retryAfter cleared; if the send
// fails the previous state is restored so the next run picks it up again.
func (s *Service) ProcessRetries(ctx context.Context, asOf time.Time) (int, error) {
	var (
		afterID snowflake.ID
		sent    int
		errs    error
	)
	for {
		rows, err := s.repo.ListRetryable(ctx, asOf, afterID, s.batchSize)
		if err != nil {
			return sent, errors.Join(errs, fmt.Errorf("list retryable: %w", err))
		}
		for _, row := range rows {
			afterID = row.ID
			if err := s.resend(ctx, row); err != nil {
				errs = errors.Join(errs, fmt.Errorf("resend %s: %w", row.UUID, err))
				continue
			}
			sent++
		}
		if len(rows) < s.batchSize {
			return sent, errs
		}
		if ctx.Err() != nil {
			return sent, errors.Join(errs, ctx.Err())
		}
	}
}

func (s *Service) resend(ctx context.Context, row remittancedomain.Remittance) error {
	factor := s.registry.BillingFactor(row.ProductID, row.MetricID)
	billing := quantity.Billing(factor)
	value := quantity.FromDecimal(row.RemittedPendingValue, quantity.Metric).To(billing).Ceil()

	if err := s.repo.SetRetryAfter(ctx, row.ID, nil, remittancedomain.StatusPending); err != nil {
		return err
	}

	resent := row
	resent.Status = remittancedomain.StatusPending
	resent.ErrorCode = nil
	msg := billabledomain.NewMessage(resent, value.Float64(), billing.FactorFloat(), 0, s.clock.Now())

	if err := s.producer.Send(ctx, msg); err != nil {
		if restoreErr := s.repo.SetRetryAfter(context.WithoutCancel(ctx), row.ID, row.RetryAfter, row.Status); restoreErr != nil {
			s.log.Error("restore retry state failed",
				zap.String("remittance_uuid", row.UUID),
				zap.Error(restoreErr),
			)
		}
		return err
	}

	s.metrics.RecordRetry(ctx, "resent")
	s.metrics.RecordBillableUsage(ctx, row.ProductID, row.MetricID, row.BillingProvider, string(remittancedomain.StatusPending), row.RemittedPendingValue.InexactFloat64())
	s.log.Info("remittance resent",
		zap.String("org_id", row.OrgID),
		zap.String("remittance_uuid", row.UUID),
		zap.Float64("value", msg.Value),
	)
	return nil
}
