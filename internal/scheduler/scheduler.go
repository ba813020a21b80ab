package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billableusage/internal/clock"
	obsmetrics "github.com/smallbiznis/billableusage/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobProcessRetries = "process_retries"
	JobPurgeTriggers  = "purge_triggers"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// RetryProcessor resends remittances whose retry time has passed.
type RetryProcessor interface {
	ProcessRetries(ctx context.Context, asOf time.Time) (int, error)
}

// PurgeTrigger fans out one purge request per organization.
type PurgeTrigger interface {
	PublishTriggers(ctx context.Context) (int, error)
}

type Params struct {
	fx.In

	Retries RetryProcessor
	Purge   PurgeTrigger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Log     *zap.Logger
	Config  Config                       `optional:"true"`
	Metrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context, run *jobRun) error
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	retries RetryProcessor
	purge   PurgeTrigger
	metrics *obsmetrics.SchedulerMetrics
	jobs    []job

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Retries == nil || p.Purge == nil || p.GenID == nil || p.Clock == nil || p.Log == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	s := &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		retries: p.Retries,
		purge:   p.Purge,
		metrics: metrics,
		lastRun: make(map[string]time.Time),
	}
	s.jobs = []job{
		{name: JobProcessRetries, interval: s.cfg.RetryInterval, run: s.processRetriesJob},
		{name: JobPurgeTriggers, interval: s.cfg.PurgeInterval, run: s.purgeTriggersJob},
	}
	return s, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context, run *jobRun) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	run := s.newJobRun(name)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	err := fn(ctx, run)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if err != nil && !isTimeout && run.errorCount == 0 {
		s.logJobError(ctx, run, err)
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	if isTimeout {
		// the next run picks up where this one stopped
		s.metrics.IncJobTimeout(name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job whose interval has elapsed since its last
// run. The first call runs all of them.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	now := s.clock.Now()
	for _, j := range s.jobs {
		if !s.isJobEnabled(j.name) || !s.due(j, now) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, j.name, s.cfg.JobTimeout, j.run))
		s.markRun(j.name, now)
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)

	for {
		if lag := time.Since(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) due(j job, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[j.name]
	return !ok || !now.Before(last.Add(j.interval))
}

func (s *Scheduler) markRun(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[name] = at
}

func (s *Scheduler) isJobEnabled(name string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}

func (s *Scheduler) processRetriesJob(ctx context.Context, run *jobRun) error {
	sent, err := s.retries.ProcessRetries(ctx, s.clock.Now())
	run.AddProcessed(sent)
	s.metrics.AddBatchProcessed(JobProcessRetries, "remittance", sent)
	return err
}

func (s *Scheduler) purgeTriggersJob(ctx context.Context, run *jobRun) error {
	sent, err := s.purge.PublishTriggers(ctx)
	run.AddProcessed(sent)
	s.metrics.AddBatchProcessed(JobPurgeTriggers, "organization", sent)
	return err
}
