package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/billableusage/internal/clock"
	obsmetrics "github.com/smallbiznis/billableusage/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubRetries struct {
	calls []time.Time
	sent  int
	err   error
}

func (s *stubRetries) ProcessRetries(_ context.Context, asOf time.Time) (int, error) {
	s.calls = append(s.calls, asOf)
	return s.sent, s.err
}

type stubPurge struct {
	calls int
	err   error
}

func (s *stubPurge) PublishTriggers(context.Context) (int, error) {
	s.calls++
	return 2, s.err
}

func newScheduler(t *testing.T, registry *prometheus.Registry, fc *clock.FakeClock, retries *stubRetries, purge *stubPurge, cfg Config) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	s, err := New(Params{
		Retries: retries,
		Purge:   purge,
		GenID:   node,
		Clock:   fc,
		Log:     zap.NewNop(),
		Config:  cfg,
		Metrics: obsmetrics.NewSchedulerMetricsForTest(registry),
	})
	require.NoError(t, err)
	return s
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnceRunsDueJobs(t *testing.T) {
	start := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(start)
	retries := &stubRetries{sent: 3}
	purge := &stubPurge{}
	registry := prometheus.NewRegistry()
	s := newScheduler(t, registry, fc, retries, purge, Config{
		RetryInterval: 5 * time.Minute,
		PurgeInterval: time.Hour,
	})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, []time.Time{start}, retries.calls)
	assert.Equal(t, 1, purge.calls)

	// nothing is due yet
	fc.Advance(time.Minute)
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Len(t, retries.calls, 1)

	fc.Advance(4 * time.Minute)
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Len(t, retries.calls, 2)
	assert.Equal(t, 1, purge.calls)

	fc.Advance(time.Hour)
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 2, purge.calls)

	labels := map[string]string{"service": "test", "env": "test", "job": JobProcessRetries, "resource": "remittance"}
	assert.Equal(t, 9.0, getCounterValue(t, registry, "billable_scheduler_batch_processed_total", labels))
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	retries := &stubRetries{err: errors.New("ledger unavailable")}
	purge := &stubPurge{err: errors.New("stream unavailable")}
	s := newScheduler(t, prometheus.NewRegistry(), fc, retries, purge, Config{})

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, retries.err)
	assert.ErrorIs(t, err, purge.err)
	assert.Contains(t, err.Error(), JobProcessRetries)
	assert.Contains(t, err.Error(), JobPurgeTriggers)
}

func TestRunOnceHonoursEnabledJobs(t *testing.T) {
	fc := clock.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	retries := &stubRetries{}
	purge := &stubPurge{}
	s := newScheduler(t, prometheus.NewRegistry(), fc, retries, purge, Config{EnabledJobs: []string{"PURGE_TRIGGERS"}})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Empty(t, retries.calls)
	assert.Equal(t, 1, purge.calls)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	s := newScheduler(t, registry, clock.NewFakeClock(time.Time{}), &stubRetries{}, &stubPurge{}, Config{})

	err := s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context, _ *jobRun) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{"service": "test", "env": "test", "job": "timeout_job"}
	assert.Equal(t, 1.0, getCounterValue(t, registry, "billable_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "test",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, 1.0, getCounterValue(t, registry, "billable_scheduler_job_errors_total", errorLabels))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{RetryInterval: 30 * time.Second}.withDefaults()
	assert.Equal(t, 30*time.Second, cfg.RunInterval)
	assert.Equal(t, 24*time.Hour, cfg.PurgeInterval)
	assert.Equal(t, 2*time.Minute, cfg.JobTimeout)
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
