package eod

import (
	"context"
	"time"

	"banking-ledger/logger"
)

// PreCloseFunc runs before a day is closed, e.g. to post interest due by asOf.
type PreCloseFunc func(ctx context.Context, asOf time.Time) error

// Scheduler closes the previous day for all accounts once per calendar day.
type Scheduler struct {
	agg      *Aggregator
	interval time.Duration
	preClose PreCloseFunc

	lastClosed Day
}

func NewScheduler(agg *Aggregator, interval time.Duration, preClose PreCloseFunc) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{agg: agg, interval: interval, preClose: preClose}
}

// Run checks for a new day immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Log.Info("eod scheduler started", logger.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("eod scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick closes yesterday if it has not been closed by this scheduler yet. It
// reports whether a close ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	yesterday := s.agg.Today().AddDays(-1)
	if !yesterday.After(s.lastClosed.Time) {
		return false
	}

	if s.preClose != nil {
		if err := s.preClose(ctx, yesterday.End(s.agg.Location())); err != nil {
			logger.Log.Error("pre-close hook failed", logger.Stringer("day", yesterday), logger.Error(err))
		}
	}

	if _, err := s.agg.RunDaily(ctx, yesterday); err != nil {
		logger.Log.Error("end of day run failed", logger.Stringer("day", yesterday), logger.Error(err))
		return true
	}
	s.lastClosed = yesterday
	return true
}
