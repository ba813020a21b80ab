package service

import (
	"context"
	"errors"
	"testing"
	"time"

	billabledomain "github.com/smallbiznis/billableusage/internal/billable/domain"
	"github.com/smallbiznis/billableusage/internal/clock"
	"github.com/smallbiznis/billableusage/internal/config"
	contractdomain "github.com/smallbiznis/billableusage/internal/contract/domain"
	productdomain "github.com/smallbiznis/billableusage/internal/product/domain"
	productservice "github.com/smallbiznis/billableusage/internal/product/service"
	remittancedomain "github.com/smallbiznis/billableusage/internal/remittance/domain"
	"github.com/smallbiznis/billableusage/internal/remittance/remittancetest"
	remittancerepo "github.com/smallbiznis/billableusage/internal/remittance/repository"
	usagedomain "github.com/smallbiznis/billableusage/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	obsmetrics "github.com/smallbiznis/billableusage/internal/observability/metrics"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type stubResolver struct {
	res   contractdomain.Resolution
	calls int
}

func (s *stubResolver) Resolve(context.Context, usagedomain.UsageCandidate) contractdomain.Resolution {
	s.calls++
	return s.res
}

type stubProducer struct {
	sent []billabledomain.Message
	err  error
}

func (s *stubProducer) Send(_ context.Context, msg billabledomain.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type stubLocker struct {
	held     bool
	released []string
}

func (s *stubLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	if s.held {
		return "", false, nil
	}
	return "token-" + key, true, nil
}

func (s *stubLocker) Release(_ context.Context, key, _ string) error {
	s.released = append(s.released, key)
	return nil
}

type fixture struct {
	db       *gorm.DB
	svc      billabledomain.Service
	repo     remittancedomain.Repository
	resolver *stubResolver
	producer *stubProducer
	locker   *stubLocker
	clock    *clock.FakeClock
}

func newFixture(t *testing.T, opts ...func(*Params)) *fixture {
	t.Helper()

	conn := remittancetest.NewDB(t)
	f := &fixture{
		db:       conn,
		repo:     remittancerepo.Provide(conn),
		resolver: &stubResolver{res: contractdomain.Found(contractdomain.Coverage{})},
		producer: &stubProducer{},
		locker:   &stubLocker{},
		clock:    clock.NewFakeClock(now),
	}
	registry := productservice.NewRegistry(productservice.StaticCatalog{
		Products: []productdomain.Definition{{
			ID:              "rosa",
			PaygEligible:    true,
			ContractEnabled: true,
			Metrics: []productdomain.MetricDefinition{
				{ID: "Cores", BillingFactor: 4, Gratis: true, AWSDimension: "four_vcpu_hour"},
				{ID: "Instance-hours", AWSDimension: "control_plane"},
			},
		}},
	})
	p := Params{
		DB:       conn,
		Repo:     f.repo,
		Resolver: f.resolver,
		Registry: registry,
		Producer: f.producer,
		Locker:   f.locker,
		Clock:    f.clock,
		GenID:    remittancetest.Node(t),
		Config: config.Config{Remittance: config.RemittanceConfig{
			LockEnabled:          true,
			LockTTL:              time.Second,
			ContractMissingGrace: 30 * time.Minute,
		}},
		Log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&p)
	}
	f.svc = NewService(p)
	return f
}

func candidate(metricID string, currentTotal float64) usagedomain.UsageCandidate {
	return usagedomain.UsageCandidate{
		OrgID:                   "org1",
		TallyID:                 "tally-1",
		ProductID:               "rosa",
		MetricID:                metricID,
		SLA:                     usagedomain.SLAPremium,
		Usage:                   usagedomain.UsageProduction,
		BillingProvider:         usagedomain.BillingProviderAWS,
		BillingAccountID:        "123456789012",
		SnapshotDate:            now.Add(-2 * time.Hour),
		Value:                   1,
		CurrentTotal:            currentTotal,
		HardwareMeasurementType: usagedomain.HardwareMeasurementPhysical,
	}
}

func TestProcessCandidateRemitsAndSends(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.ProcessCandidate(context.Background(), candidate("Cores", 10))
	require.NoError(t, err)
	require.Equal(t, billabledomain.OutcomeRemitted, res.Outcome)

	require.Len(t, f.producer.sent, 1)
	msg := f.producer.sent[0]
	assert.Equal(t, 3.0, msg.Value)
	assert.Equal(t, 4.0, msg.BillingFactor)
	assert.Equal(t, "2026-03", msg.AccumulationPeriod)
	assert.Equal(t, now, msg.SnapshotDate)
	assert.Equal(t, string(remittancedomain.StatusPending), msg.Status)
	assert.Equal(t, res.Remittance.UUID, msg.UUID)

	stored, err := f.repo.FindByUUID(context.Background(), msg.UUID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "12", stored.RemittedPendingValue.String())
	assert.Equal(t, 1, stored.Sequence)
	assert.Equal(t, "tally-1", stored.TallyID)
	assert.Len(t, f.locker.released, 1)
}

func TestProcessCandidateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ProcessCandidate(ctx, candidate("Cores", 10))
	require.NoError(t, err)

	res, err := f.svc.ProcessCandidate(ctx, candidate("Cores", 10))
	require.NoError(t, err)
	assert.Equal(t, billabledomain.OutcomeNothing, res.Outcome)
	assert.Len(t, f.producer.sent, 1)

	res, err = f.svc.ProcessCandidate(ctx, candidate("Cores", 13))
	require.NoError(t, err)
	require.Equal(t, billabledomain.OutcomeRemitted, res.Outcome)
	require.Len(t, f.producer.sent, 2)
	assert.Equal(t, 1.0, f.producer.sent[1].Value)
	assert.Equal(t, 2, res.Remittance.Sequence)

	total, err := f.repo.GetTotalRemitted(ctx, res.Remittance.Key())
	require.NoError(t, err)
	assert.Equal(t, "16", total.String())
}

func TestProcessCandidateNeverBillsNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ProcessCandidate(ctx, candidate("Instance-hours", 20))
	require.NoError(t, err)

	res, err := f.svc.ProcessCandidate(ctx, candidate("Instance-hours", 5))
	require.NoError(t, err)
	assert.Equal(t, billabledomain.OutcomeNothing, res.Outcome)
	assert.Len(t, f.producer.sent, 1)
}

func TestProcessCandidateSubtractsContractCoverage(t *testing.T) {
	f := newFixture(t)
	f.resolver.res = contractdomain.Found(contractdomain.Coverage{Dimension: "control_plane", Total: 30})

	res, err := f.svc.ProcessCandidate(context.Background(), candidate("Instance-hours", 100))
	require.NoError(t, err)
	require.Equal(t, billabledomain.OutcomeRemitted, res.Outcome)
	assert.Equal(t, 70.0, f.producer.sent[0].Value)
}

func TestProcessCandidateSkipsUnresolvedContracts(t *testing.T) {
	for _, res := range []contractdomain.Resolution{
		contractdomain.Missing(),
		contractdomain.ServiceError(errors.New("boom")),
		contractdomain.ConfigError(productdomain.ErrNoDimension),
	} {
		t.Run(res.Kind.String(), func(t *testing.T) {
			f := newFixture(t)
			f.resolver.res = res

			got, err := f.svc.ProcessCandidate(context.Background(), candidate("Cores", 10))
			require.NoError(t, err)
			assert.Equal(t, billabledomain.OutcomeSkipped, got.Outcome)
			assert.Empty(t, f.producer.sent)

			rows, err := f.repo.List(context.Background(), remittancedomain.Filter{OrgID: "org1"})
			require.NoError(t, err)
			assert.Empty(t, rows)
		})
	}
}

func TestProcessCandidateGratisIsStoredNotSent(t *testing.T) {
	f := newFixture(t)
	f.resolver.res = contractdomain.Found(contractdomain.Coverage{Dimension: "four_vcpu_hour", Total: 1, Gratis: true})

	res, err := f.svc.ProcessCandidate(context.Background(), candidate("Cores", 10))
	require.NoError(t, err)
	require.Equal(t, billabledomain.OutcomeGratis, res.Outcome)
	assert.Equal(t, remittancedomain.StatusGratis, res.Remittance.Status)
	assert.Empty(t, f.producer.sent)
}

func TestProcessCandidateSendFailureSchedulesResend(t *testing.T) {
	f := newFixture(t)
	f.producer.err = errors.New("redis down")

	res, err := f.svc.ProcessCandidate(context.Background(), candidate("Cores", 10))
	require.Error(t, err)
	require.NotNil(t, res.Remittance)

	stored, err := f.repo.FindByUUID(context.Background(), res.Remittance.UUID)
	require.NoError(t, err)
	require.NotNil(t, stored.RetryAfter)
	assert.Equal(t, remittancedomain.StatusPending, stored.Status)

	again, err := f.svc.ProcessCandidate(context.Background(), candidate("Cores", 10))
	require.NoError(t, err)
	assert.Equal(t, billabledomain.OutcomeNothing, again.Outcome)
}

func TestProcessCandidateLockedKey(t *testing.T) {
	f := newFixture(t)
	f.locker.held = true

	_, err := f.svc.ProcessCandidate(context.Background(), candidate("Cores", 10))
	assert.ErrorIs(t, err, ErrKeyLocked)
	assert.Empty(t, f.producer.sent)
}

func TestProcessSummaryFiltersCandidates(t *testing.T) {
	f := newFixture(t)

	snapshot := usagedomain.TallySnapshot{
		ID:               "tally-9",
		ProductID:        "rosa",
		SnapshotDate:     now.Add(-time.Hour),
		Granularity:      usagedomain.GranularityHourly,
		SLA:              usagedomain.SLAPremium,
		Usage:            usagedomain.UsageProduction,
		BillingProvider:  usagedomain.BillingProviderAWS,
		BillingAccountID: "123456789012",
		Measurements: []usagedomain.TallyMeasurement{
			{HardwareMeasurementType: usagedomain.HardwareMeasurementPhysical, MetricID: "Instance-hours", Value: 5, CurrentTotal: 5},
			{HardwareMeasurementType: usagedomain.HardwareMeasurementTotal, MetricID: "Instance-hours", Value: 5, CurrentTotal: 5},
		},
	}
	daily := snapshot
	daily.Granularity = usagedomain.GranularityDaily

	err := f.svc.ProcessSummary(context.Background(), usagedomain.TallySummary{
		OrgID:     "org1",
		Snapshots: []usagedomain.TallySnapshot{snapshot, daily},
	})
	require.NoError(t, err)
	require.Len(t, f.producer.sent, 1)
	assert.Equal(t, 5.0, f.producer.sent[0].Value)
	assert.Equal(t, "tally-9", f.producer.sent[0].TallyID)
	assert.Equal(t, 1, f.resolver.calls)
}

func TestProcessCandidateMissingContractSeverityByAge(t *testing.T) {
	tests := []struct {
		name  string
		age   time.Duration
		level zapcore.Level
	}{
		{name: "recent", age: 10 * time.Minute, level: zapcore.WarnLevel},
		{name: "stale", age: 2 * time.Hour, level: zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			f := newFixture(t, func(p *Params) { p.Log = zap.New(core) })
			f.resolver.res = contractdomain.Missing()

			c := candidate("Cores", 10)
			c.SnapshotDate = now.Add(-tt.age)
			got, err := f.svc.ProcessCandidate(context.Background(), c)
			require.NoError(t, err)
			assert.Equal(t, billabledomain.OutcomeSkipped, got.Outcome)

			entries := logs.FilterFieldKey("age").All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level)

			rows, err := f.repo.List(context.Background(), remittancedomain.Filter{OrgID: "org1"})
			require.NoError(t, err)
			assert.Empty(t, rows)
			assert.Empty(t, f.producer.sent)
		})
	}
}

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) float64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total float64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[float64])
			require.True(t, ok, "%s is not a float sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestProcessCandidateRecordsCoveredAndRemittedUsage(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := obsmetrics.New(obsmetrics.Config{}, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	f := newFixture(t, func(p *Params) { p.Metrics = m })
	f.resolver.res = contractdomain.Found(contractdomain.Coverage{Dimension: "four_vcpu_hour", Total: 2})
	ctx := context.Background()

	// 2 billing units of contract cover 8 core-hours
	first := candidate("Cores", 6)
	first.Value = 6
	res, err := f.svc.ProcessCandidate(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, billabledomain.OutcomeNothing, res.Outcome)
	assert.Equal(t, 6.0, counterTotal(t, reader, "billable_contract_usage_total"))

	second := candidate("Cores", 12)
	second.Value = 6
	res, err = f.svc.ProcessCandidate(ctx, second)
	require.NoError(t, err)
	require.Equal(t, billabledomain.OutcomeRemitted, res.Outcome)
	assert.Equal(t, 8.0, counterTotal(t, reader, "billable_contract_usage_total"))

	// ceil(4/4) = 1 billing unit, recorded as 4 core-hours
	assert.Equal(t, 1.0, f.producer.sent[0].Value)
	assert.Equal(t, 4.0, counterTotal(t, reader, "billable_usage_total"))

	third := candidate("Cores", 20)
	third.Value = 8
	_, err = f.svc.ProcessCandidate(ctx, third)
	require.NoError(t, err)
	assert.Equal(t, 8.0, counterTotal(t, reader, "billable_contract_usage_total"))
	assert.Equal(t, 12.0, counterTotal(t, reader, "billable_usage_total"))
}
