package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	billabledomain "github.com/smallbiznis/billableusage/internal/billable/domain"
	"github.com/smallbiznis/billableusage/internal/clock"
	"github.com/smallbiznis/billableusage/internal/config"
	obsmetrics "github.com/smallbiznis/billableusage/internal/observability/metrics"
	productdomain "github.com/smallbiznis/billableusage/internal/product/domain"
	reconciliationdomain "github.com/smallbiznis/billableusage/internal/reconciliation/domain"
	remittancedomain "github.com/smallbiznis/billableusage/internal/remittance/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Repo          remittancedomain.Repository
	Producer      billabledomain.Producer
	RetryProducer reconciliationdomain.RetryProducer
	Registry      productdomain.Registry
	Clock         clock.Clock
	Config        config.Config
	Log           *zap.Logger
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

// Service applies billing provider status updates to the ledger and drives
// the delayed resend of usage whose subscription was not provisioned yet.
type Service struct {
	repo          remittancedomain.Repository
	producer      billabledomain.Producer
	retryProducer reconciliationdomain.RetryProducer
	registry      productdomain.Registry
	clock         clock.Clock
	retryDelay    time.Duration
	batchSize     int
	log           *zap.Logger
	metrics       *obsmetrics.Metrics
}

func NewService(p Params) reconciliationdomain.Service {
	retryDelay := p.Config.Remittance.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Hour
	}
	batchSize := p.Config.Remittance.RetryBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Service{
		repo:          p.Repo,
		producer:      p.Producer,
		retryProducer: p.RetryProducer,
		registry:      p.Registry,
		clock:         p.Clock,
		retryDelay:    retryDelay,
		batchSize:     batchSize,
		log:           p.Log.Named("reconciliation.service"),
		metrics:       p.Metrics,
	}
}

// HandleStatus transitions the named remittances. A FAILED update for a
// subscription that does not exist yet marks them RETRYABLE and sends each
// one to the retry topic.
func (s *Service) HandleStatus(ctx context.Context, update reconciliationdomain.StatusUpdate) error {
	key := update.AggregateKey
	log := s.log.With(
		zap.String("org_id", key.OrgID),
		zap.String("aggregate_id", update.AggregateID),
		zap.String("product_id", key.ProductID),
		zap.String("metric_id", key.MetricID),
		zap.Int("remittances", len(update.RemittanceUUIDs)),
	)

	if update.Status == nil || strings.TrimSpace(*update.Status) == "" {
		log.Warn("status update without status, dropping")
		return reconciliationdomain.ErrMalformedStatus
	}
	status, err := remittancedomain.ParseStatus(*update.Status)
	if err != nil {
		log.Warn("status update with unknown status, dropping", zap.String("status", *update.Status))
		return fmt.Errorf("%w: %s", reconciliationdomain.ErrMalformedStatus, *update.Status)
	}

	var errorCode *remittancedomain.ErrorCode
	if update.ErrorCode != nil && strings.TrimSpace(*update.ErrorCode) != "" {
		code := remittancedomain.ErrorCode(strings.ToUpper(strings.TrimSpace(*update.ErrorCode)))
		errorCode = &code
	}

	retry := status == remittancedomain.StatusFailed &&
		errorCode != nil && *errorCode == remittancedomain.ErrorCodeSubscriptionNotFound
	if retry {
		status = remittancedomain.StatusRetryable
	}

	now := s.clock.Now()
	rows, err := s.repo.UpdateStatusByUUIDs(ctx, update.RemittanceUUIDs, remittancedomain.StatusChange{
		Status:    status,
		ErrorCode: errorCode,
		BilledOn:  update.BilledOn,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("update remittance status: %w", err)
	}
	s.metrics.RecordStatusUpdate(ctx, string(status), codeString(errorCode), rows)
	log.Info("remittance status updated",
		zap.String("status", string(status)),
		zap.String("error_code", codeString(errorCode)),
		zap.Int64("rows", rows),
	)

	if !retry {
		return nil
	}

	retryAfter := now.Add(s.retryDelay)
	var errs error
	for _, id := range update.RemittanceUUIDs {
		msg := retryMessage(update, id, now)
		if err := s.retryProducer.SendRetry(ctx, msg, retryAfter); err != nil {
			// stamp the row directly; the retry job resends it all the same
			log.Warn("send retry failed, stamping remittance",
				zap.String("remittance_uuid", id),
				zap.Error(err),
			)
			if stampErr := s.stampRetry(ctx, id, retryAfter); stampErr != nil {
				errs = errors.Join(errs, fmt.Errorf("send retry %s: %w", id, errors.Join(err, stampErr)))
			}
			continue
		}
		s.metrics.RecordRetry(ctx, "dead_letter")
	}
	if errs != nil {
		return errs
	}
	log.Info("remittances sent for delayed retry", zap.Time("retry_after", retryAfter))
	return nil
}

// HandleRetry stamps retryAfter on the remittance the message came from.
// The retry job resends it once retryAfter has passed.
func (s *Service) HandleRetry(ctx context.Context, msg billabledomain.Message, retryAfter time.Time) error {
	if retryAfter.IsZero() {
		return reconciliationdomain.ErrMissingRetryAfter
	}
	log := s.log.With(
		zap.String("org_id", msg.OrgID),
		zap.String("remittance_uuid", msg.UUID),
		zap.Time("retry_after", retryAfter),
	)

	row, err := s.findRetryTarget(ctx, msg)
	if err != nil {
		return err
	}
	if row == nil {
		log.Warn("no remittance found for retry message")
		return nil
	}

	if err := s.repo.SetRetryAfter(ctx, row.ID, &retryAfter, ""); err != nil {
		return fmt.Errorf("stamp retry after: %w", err)
	}
	s.metrics.RecordRetry(ctx, "scheduled")
	log.Info("remittance scheduled for resend", zap.String("remittance_id", row.ID.String()))
	return nil
}

func (s *Service) stampRetry(ctx context.Context, uuid string, retryAfter time.Time) error {
	row, err := s.repo.FindByUUID(ctx, uuid)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}
	return s.repo.SetRetryAfter(ctx, row.ID, &retryAfter, "")
}

func (s *Service) findRetryTarget(ctx context.Context, msg billabledomain.Message) (*remittancedomain.Remittance, error) {
	if msg.UUID != "" {
		row, err := s.repo.FindByUUID(ctx, msg.UUID)
		if err != nil || row != nil {
			return row, err
		}
	}
	key := msg.Key()
	if key.Validate() != nil {
		return nil, nil
	}
	return s.repo.FindLatestByKey(ctx, key)
}

func retryMessage(update reconciliationdomain.StatusUpdate, uuid string, now time.Time) billabledomain.Message {
	key := update.AggregateKey
	return billabledomain.Message{
		UUID:                    uuid,
		OrgID:                   key.OrgID,
		ProductID:               key.ProductID,
		MetricID:                key.MetricID,
		SLA:                     key.SLA,
		Usage:                   key.Usage,
		BillingProvider:         key.BillingProvider,
		BillingAccountID:        key.BillingAccountID,
		AccumulationPeriod:      key.Period(),
		SnapshotDate:            now.UTC(),
		HardwareMeasurementType: key.HardwareMeasurementType,
		Status:                  string(remittancedomain.StatusRetryable),
		ErrorCode:               string(remittancedomain.ErrorCodeSubscriptionNotFound),
	}
}

func codeString(code *remittancedomain.ErrorCode) string {
	if code == nil {
		return ""
	}
	return string(*code)
}
