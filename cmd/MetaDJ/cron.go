package main

import (
	"context"

	"MetaDJ/internal/biz"
	"MetaDJ/internal/conf"
	pkglog "MetaDJ/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

const defaultSweepSchedule = "@every 1m"

// RateLimitSweeper evicts expired records from the in-process rate limit
// store on a schedule. It runs as a kratos server so the app starts and
// stops it with the HTTP server.
type RateLimitSweeper struct {
	cron     *cron.Cron
	schedule string
	logger   *pkglog.LogHelper
}

// NewRateLimitSweeper registers the sweep job.
func NewRateLimitSweeper(c *conf.Resilience, limiter *biz.RateLimiterUseCase, logger log.Logger) (*RateLimitSweeper, error) {
	schedule := defaultSweepSchedule
	if c != nil && c.RateLimit != nil && c.RateLimit.SweepSchedule != "" {
		schedule = c.RateLimit.SweepSchedule
	}

	s := &RateLimitSweeper{
		cron:     cron.New(cron.WithSeconds()),
		schedule: schedule,
		logger:   pkglog.NewLogHelper(logger),
	}
	if _, err := s.cron.AddFunc(schedule, func() { limiter.Sweep() }); err != nil {
		return nil, err
	}
	return s, nil
}

// Start starts the scheduler. It does not block.
func (s *RateLimitSweeper) Start(context.Context) error {
	s.cron.Start()
	s.logger.Startup("rate limit sweeper started", "schedule", s.schedule)
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *RateLimitSweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
