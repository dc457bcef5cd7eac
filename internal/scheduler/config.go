package scheduler

import (
	"time"
)

// Config bounds each job. Intervals and job toggles live in pipeline.yml
// so they can change without a restart.
type Config struct {
	ImportTimeout  time.Duration
	AnomalyTimeout time.Duration
	ExpireTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		ImportTimeout:  3 * time.Hour,
		AnomalyTimeout: 30 * time.Minute,
		ExpireTimeout:  10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ImportTimeout <= 0 {
		c.ImportTimeout = defaults.ImportTimeout
	}
	if c.AnomalyTimeout <= 0 {
		c.AnomalyTimeout = defaults.AnomalyTimeout
	}
	if c.ExpireTimeout <= 0 {
		c.ExpireTimeout = defaults.ExpireTimeout
	}
	return c
}
