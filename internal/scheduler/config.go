package scheduler

import (
	"time"

	"github.com/smallbiznis/seatledger/internal/config"
)

// Config controls the cron specs and batch sizes of the background jobs.
type Config struct {
	Enabled            bool
	OverdueSchedule    string
	SeatRepairSchedule string
	BatchSize          int
	JobTimeout         time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		OverdueSchedule:    "@every 15m",
		SeatRepairSchedule: "@hourly",
		BatchSize:          50,
		JobTimeout:         5 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:            cfg.SchedulerEnabled,
		OverdueSchedule:    cfg.OverdueSweepSchedule,
		SeatRepairSchedule: cfg.SeatRepairSchedule,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.OverdueSchedule == "" {
		c.OverdueSchedule = defaults.OverdueSchedule
	}
	if c.SeatRepairSchedule == "" {
		c.SeatRepairSchedule = defaults.SeatRepairSchedule
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
