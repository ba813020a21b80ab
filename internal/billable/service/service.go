package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	billabledomain "github.com/smallbiznis/billableusage/internal/billable/domain"
	"github.com/smallbiznis/billableusage/internal/clock"
	"github.com/smallbiznis/billableusage/internal/config"
	contractdomain "github.com/smallbiznis/billableusage/internal/contract/domain"
	obslogger "github.com/smallbiznis/billableusage/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/billableusage/internal/observability/metrics"
	productdomain "github.com/smallbiznis/billableusage/internal/product/domain"
	remittancedomain "github.com/smallbiznis/billableusage/internal/remittance/domain"
	usagedomain "github.com/smallbiznis/billableusage/internal/usage/domain"
	"github.com/smallbiznis/billableusage/internal/usage/mapper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("github.com/smallbiznis/billableusage/internal/billable")

// ErrKeyLocked means another worker holds the lock for the remittance key.
var ErrKeyLocked = errors.New("remittance_key_locked")

type Params struct {
	fx.In

	DB       *gorm.DB
	Repo     remittancedomain.Repository
	Resolver contractdomain.Resolver
	Registry productdomain.Registry
	Producer billabledomain.Producer
	Locker   billabledomain.Locker `optional:"true"`
	Clock    clock.Clock
	GenID    *snowflake.Node
	Config   config.Config
	Log      *zap.Logger
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

// Service turns tally summaries into remittances and billable usage.
type Service struct {
	db       *gorm.DB
	repo     remittancedomain.Repository
	resolver contractdomain.Resolver
	registry productdomain.Registry
	producer billabledomain.Producer
	locker   billabledomain.Locker
	mapper   *mapper.Mapper
	clock    clock.Clock
	genID    *snowflake.Node
	cfg      config.RemittanceConfig
	log      *zap.Logger
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) billabledomain.Service {
	log := p.Log.Named("billable.service")
	locker := p.Locker
	if !p.Config.Remittance.LockEnabled {
		locker = nil
	}
	return &Service{
		db:       p.DB,
		repo:     p.Repo,
		resolver: p.Resolver,
		registry: p.Registry,
		producer: p.Producer,
		locker:   locker,
		mapper:   mapper.New(p.Registry, p.Log),
		clock:    p.Clock,
		genID:    p.GenID,
		cfg:      p.Config.Remittance,
		log:      log,
		metrics:  p.Metrics,
	}
}

// ProcessSummary processes every billable candidate of summary. Candidates
// are independent, so one failure does not stop the rest; the joined error
// is returned so the summary is redelivered.
func (s *Service) ProcessSummary(ctx context.Context, summary usagedomain.TallySummary) error {
	var errs error
	for candidate := range s.mapper.Candidates(summary) {
		if _, err := s.ProcessCandidate(ctx, candidate); err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s/%s/%s: %w", candidate.ProductID, candidate.MetricID, candidate.TallyID, err))
		}
	}
	return errs
}

// ProcessCandidate bills whatever is still owed for the candidate's
// accumulation period.
func (s *Service) ProcessCandidate(ctx context.Context, candidate usagedomain.UsageCandidate) (billabledomain.Result, error) {
	ctx, span := tracer.Start(ctx, "billable.process_candidate")
	defer span.End()
	span.SetAttributes(
		attribute.String("org_id", candidate.OrgID),
		attribute.String("product_id", candidate.ProductID),
		attribute.String("metric_id", candidate.MetricID),
	)

	result, err := s.processCandidate(ctx, candidate)
	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "process candidate failed")
	}
	return result, err
}

func (s *Service) processCandidate(ctx context.Context, candidate usagedomain.UsageCandidate) (billabledomain.Result, error) {
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("org_id", candidate.OrgID),
		zap.String("tally_id", candidate.TallyID),
		zap.String("product_id", candidate.ProductID),
		zap.String("metric_id", candidate.MetricID),
		zap.String("billing_provider", string(candidate.BillingProvider)),
		zap.String("billing_account_id", candidate.BillingAccountID),
	)
	skipped := billabledomain.Result{Outcome: billabledomain.OutcomeSkipped}

	key := keyFor(candidate)
	if err := key.Validate(); err != nil {
		log.Warn("candidate has incomplete key", zap.Error(err))
		return skipped, nil
	}

	resolution := s.resolver.Resolve(ctx, candidate)
	switch resolution.Kind {
	case contractdomain.ResolutionFound:
	case contractdomain.ResolutionMissing:
		s.logMissingContract(log, candidate)
		return skipped, nil
	case contractdomain.ResolutionServiceError:
		log.Error("contract lookup failed, skipping until redelivery", zap.Error(resolution.Err))
		return skipped, nil
	default:
		log.Error("contract configuration error, skipping", zap.Error(resolution.Err))
		return skipped, nil
	}
	coverage := resolution.Coverage
	factor := s.registry.BillingFactor(candidate.ProductID, candidate.MetricID)

	covered := billabledomain.CoveredUsage(candidate.Value, candidate.CurrentTotal, coverage.Total, factor)
	s.metrics.RecordContractUsage(ctx, candidate.ProductID, candidate.MetricID, string(candidate.BillingProvider), covered)

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, key.LockKey(), s.cfg.LockTTL)
		if err != nil {
			return skipped, fmt.Errorf("lock remittance key: %w", err)
		}
		if !ok {
			return skipped, ErrKeyLocked
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), key.LockKey(), token); err != nil {
				log.Warn("release remittance lock failed", zap.Error(err))
			}
		}()
	}

	now := s.clock.Now()

	var (
		calc billabledomain.Calculation
		row  *remittancedomain.Remittance
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		running, err := repo.GetRunningTotal(ctx, key)
		if err != nil {
			return fmt.Errorf("total remitted: %w", err)
		}

		calc = billabledomain.Calculate(candidate.CurrentTotal, coverage.Total, running.Total, factor)
		if !calc.IsOwed() {
			return nil
		}

		status := remittancedomain.StatusPending
		if coverage.Gratis {
			status = remittancedomain.StatusGratis
		}
		row = &remittancedomain.Remittance{
			ID:                      s.genID.Generate(),
			UUID:                    uuid.NewString(),
			RemittedPendingValue:    calc.RemittedValue(),
			RemittancePendingDate:   now,
			Status:                  status,
			HardwareMeasurementType: string(candidate.HardwareMeasurementType),
			TallyID:                 candidate.TallyID,
			CreatedAt:               now,
			UpdatedAt:               now,
		}
		row.ApplyKey(key)
		return repo.CreateAfter(ctx, row, running)
	})
	if err != nil {
		row = nil
		if errors.Is(err, remittancedomain.ErrConcurrentRemittance) {
			log.Warn("concurrent remittance for key, rolled back", zap.Error(err))
		}
		return skipped, err
	}

	if row == nil {
		log.Debug("nothing owed",
			zap.String("applicable_usage", calc.ApplicableUsage.String()),
			zap.String("total_remitted", calc.TotalRemitted.String()),
		)
		return billabledomain.Result{Outcome: billabledomain.OutcomeNothing}, nil
	}

	msg := billabledomain.NewMessage(*row, calc.Billable.Float64(), calc.BillingUnit.FactorFloat(), candidate.CurrentTotal, now)
	s.metrics.RecordRemittance(ctx, candidate.ProductID, string(row.Status))
	s.metrics.RecordBillableUsage(ctx, candidate.ProductID, candidate.MetricID, string(candidate.BillingProvider), string(row.Status), row.RemittedPendingValue.InexactFloat64())

	log = log.With(
		zap.String("remittance_uuid", row.UUID),
		zap.String("billable_value", calc.Billable.String()),
		zap.String("remitted_value", row.RemittedPendingValue.String()),
	)

	if row.Status == remittancedomain.StatusGratis {
		log.Info("usage covered by gratis contract, not sent for billing")
		return billabledomain.Result{Outcome: billabledomain.OutcomeGratis, Remittance: row, Message: &msg}, nil
	}

	if err := s.producer.Send(ctx, msg); err != nil {
		// The row is committed. Stamp it so the retry job resends it.
		if stampErr := s.repo.SetRetryAfter(ctx, row.ID, &now, ""); stampErr != nil {
			log.Error("stamp retry after send failure", zap.Error(stampErr))
		}
		log.Error("send billable usage failed, scheduled for resend", zap.Error(err))
		return billabledomain.Result{Outcome: billabledomain.OutcomeRemitted, Remittance: row, Message: &msg}, fmt.Errorf("send billable usage: %w", err)
	}

	log.Info("billable usage remitted")
	return billabledomain.Result{Outcome: billabledomain.OutcomeRemitted, Remittance: row, Message: &msg}, nil
}

func (s *Service) logMissingContract(log *zap.Logger, candidate usagedomain.UsageCandidate) {
	age := s.clock.Now().Sub(candidate.SnapshotDate)
	fields := []zap.Field{
		zap.Time("snapshot_date", candidate.SnapshotDate),
		zap.Duration("age", age),
	}
	if age <= s.cfg.ContractMissingGrace {
		log.Warn("contract not found yet, skipping", fields...)
		return
	}
	log.Error("contract missing, skipping", fields...)
}

func keyFor(c usagedomain.UsageCandidate) remittancedomain.DimensionKey {
	return remittancedomain.DimensionKey{
		OrgID:              c.OrgID,
		BillingAccountID:   c.BillingAccountID,
		BillingProvider:    string(c.BillingProvider),
		ProductID:          c.ProductID,
		MetricID:           c.MetricID,
		SLA:                string(c.SLA),
		Usage:              string(c.Usage),
		AccumulationPeriod: remittancedomain.AccumulationPeriod(c.SnapshotDate),
	}
}
