package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/possync/internal/config"
)

// Config controls the admin background jobs. A zero RunInterval disables them.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 0,
		JobTimeout:  10 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	c.RunInterval = cfg.SchedulerInterval
	for _, job := range strings.Split(cfg.SchedulerJobs, ",") {
		if job = strings.TrimSpace(job); job != "" {
			c.EnabledJobs = append(c.EnabledJobs, job)
		}
	}
	return c
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
