package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Resetter runs the day rollover: shortly after local midnight it resets the
// day that just ended, returning leftover active entries to scheduled and
// clearing the counters. An hourly recheck covers the case where the process
// was down at midnight; the reset is idempotent so double firing is harmless.
type Resetter struct {
	svc    *Service
	loc    *time.Location
	logger zerolog.Logger

	now func() time.Time
}

func NewResetter(svc *Service, loc *time.Location, logger zerolog.Logger) *Resetter {
	if loc == nil {
		loc = time.Local
	}
	return &Resetter{svc: svc, loc: loc, logger: logger, now: time.Now}
}

// Run blocks until ctx is cancelled.
func (r *Resetter) Run(ctx context.Context) {
	recheck := time.NewTicker(time.Hour)
	defer recheck.Stop()

	for {
		midnight := time.NewTimer(r.untilNextMidnight())
		select {
		case <-ctx.Done():
			midnight.Stop()
			return
		case <-midnight.C:
			r.resetPrevious(ctx)
		case <-recheck.C:
			midnight.Stop()
			r.resetPrevious(ctx)
		}
	}
}

func (r *Resetter) untilNextMidnight() time.Duration {
	now := r.now().In(r.loc)
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 5, 0, r.loc)
	return next.Sub(now)
}

// previousDay steps one calendar day back, not 24 hours: a DST clock day is
// 23 or 25 hours long, and subtracting hours just after midnight can land two
// days back.
func (r *Resetter) previousDay() Day {
	now := r.now().In(r.loc)
	noon := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, r.loc)
	return DayOf(noon.AddDate(0, 0, -1), r.loc)
}

// resetPrevious resets yesterday's queue. Entries checked in today are left
// alone.
func (r *Resetter) resetPrevious(ctx context.Context) {
	day := r.previousDay()
	n, err := r.svc.ResetDay(ctx, day)
	if err != nil {
		r.logger.Error().Err(err).Str("day", string(day)).Msg("queue reset failed")
		return
	}
	if n > 0 {
		r.logger.Info().Str("day", string(day)).Int("reset", n).Msg("queue reset")
	}
}
