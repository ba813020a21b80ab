package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/billableusage/internal/clock"
	"github.com/smallbiznis/billableusage/internal/config"
	contractclient "github.com/smallbiznis/billableusage/internal/contract/client"
	contractdomain "github.com/smallbiznis/billableusage/internal/contract/domain"
	obsmetrics "github.com/smallbiznis/billableusage/internal/observability/metrics"
	productdomain "github.com/smallbiznis/billableusage/internal/product/domain"
	usagedomain "github.com/smallbiznis/billableusage/internal/usage/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/smallbiznis/billableusage/internal/contract")

type Params struct {
	fx.In

	Client   contractdomain.Client
	Registry productdomain.Registry
	Clock    clock.Clock
	Config   config.Config
	Log      *zap.Logger
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Resolver struct {
	client   contractdomain.Client
	registry productdomain.Registry
	clock    clock.Clock
	retry    contractdomain.RetryConfig
	log      *zap.Logger
	metrics  *obsmetrics.Metrics
}

func NewResolver(p Params) contractdomain.Resolver {
	return &Resolver{
		client:   p.Client,
		registry: p.Registry,
		clock:    p.Clock,
		retry: contractdomain.RetryConfig{
			MaxAttempts:     p.Config.Contracts.MaxAttempts,
			InitialInterval: p.Config.Contracts.BackoffInitial,
			MaxInterval:     p.Config.Contracts.BackoffMax,
			Multiplier:      p.Config.Contracts.BackoffMultiple,
		}.WithDefaults(),
		log:     p.Log.Named("contract.resolver"),
		metrics: p.Metrics,
	}
}

// Resolve looks up contract coverage for a candidate. Products that are not
// contract enabled resolve to zero coverage without a lookup.
func (r *Resolver) Resolve(ctx context.Context, candidate usagedomain.UsageCandidate) contractdomain.Resolution {
	if !r.registry.IsContractEnabled(candidate.ProductID) {
		return contractdomain.Found(contractdomain.Coverage{})
	}

	ctx, span := tracer.Start(ctx, "contract.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("product_id", candidate.ProductID),
		attribute.String("metric_id", candidate.MetricID),
		attribute.String("billing_provider", string(candidate.BillingProvider)),
	)

	res := r.resolve(ctx, candidate)
	span.SetAttributes(attribute.String("outcome", res.Kind.String()))
	if res.Err != nil && res.Kind != contractdomain.ResolutionMissing {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Kind.String())
	}
	r.metrics.RecordContractLookup(ctx, string(candidate.BillingProvider), res.Kind.String())
	return res
}

func (r *Resolver) resolve(ctx context.Context, candidate usagedomain.UsageCandidate) contractdomain.Resolution {
	dimension, err := r.registry.DimensionFor(candidate.BillingProvider, candidate.ProductID, candidate.MetricID)
	if err != nil {
		return contractdomain.ConfigError(err)
	}

	query := contractdomain.Query{
		OrgID:             candidate.OrgID,
		ProductID:         candidate.ProductID,
		VendorProductCode: r.registry.VendorProductCode(candidate.ProductID, candidate.BillingProvider),
		BillingProvider:   candidate.BillingProvider,
		BillingAccountID:  candidate.BillingAccountID,
		AsOf:              candidate.SnapshotDate,
	}

	contracts, err := r.fetch(ctx, query)
	if err != nil {
		return contractdomain.ServiceError(err)
	}
	if len(contracts) == 0 {
		return contractdomain.Missing()
	}

	return contractdomain.Found(contractdomain.CoverageFor(
		contracts,
		dimension,
		candidate.SnapshotDate,
		clock.StartOfCurrentMonth(r.clock),
		r.registry.IsMetricGratis(candidate.ProductID, candidate.MetricID),
	))
}

func (r *Resolver) fetch(ctx context.Context, q contractdomain.Query) ([]contractdomain.Contract, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retry.InitialInterval
	policy.MaxInterval = r.retry.MaxInterval
	policy.Multiplier = r.retry.Multiplier
	policy.RandomizationFactor = 0

	attempt := 0
	operation := func() ([]contractdomain.Contract, error) {
		attempt++
		contracts, err := r.client.GetContracts(ctx, q)
		if err == nil {
			return contracts, nil
		}
		if !isRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(r.retry.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.Warn("contracts lookup failed, retrying",
				zap.String("org_id", q.OrgID),
				zap.String("product_id", q.ProductID),
				zap.Int("attempt", attempt),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *contractclient.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}
