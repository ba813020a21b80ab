package scheduler

import (
	"time"

	"github.com/smallbiznis/billableusage/internal/config"
)

// Config controls how often the scheduler wakes up and how often each job
// is due.
type Config struct {
	RunInterval   time.Duration
	RetryInterval time.Duration
	PurgeInterval time.Duration
	JobTimeout    time.Duration
	// EnabledJobs restricts the scheduler to the named jobs. Empty means all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:   time.Minute,
		RetryInterval: 5 * time.Minute,
		PurgeInterval: 24 * time.Hour,
		JobTimeout:    2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaults.RetryInterval
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = defaults.PurgeInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.RunInterval > c.RetryInterval {
		c.RunInterval = c.RetryInterval
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RetryInterval: cfg.Scheduler.RetryInterval,
		PurgeInterval: cfg.Scheduler.PurgeInterval,
		JobTimeout:    cfg.Scheduler.JobTimeout,
	}.withDefaults()
}
