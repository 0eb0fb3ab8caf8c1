// Package scheduler runs scrubs on the cadence stored in the database.
package scheduler

import (
	"context"
	"time"

	"zfsman/db"
	"zfsman/logger"
)

type PoolScrubber interface {
	Scrub(ctx context.Context, pool, action string) error
}

// minRunGap stops a schedule from firing twice inside the minute its
// hour:minute matches.
const minRunGap = 120 * time.Second

// Due reports whether the schedule should fire at now.
func Due(s db.ScrubSchedule, now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if now.Hour() != s.Hour || now.Minute() != s.Minute {
		return false
	}
	switch s.Frequency {
	case "daily":
	case "weekly":
		if int(now.Weekday()) != s.DayOfWeek {
			return false
		}
	case "monthly":
		if now.Day() != s.DayOfMonth {
			return false
		}
	default:
		return false
	}
	return now.Sub(time.Unix(s.LastRun, 0)) >= minRunGap
}

// Run ticks once a minute until ctx is cancelled.
func Run(ctx context.Context, scrubber PoolScrubber) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			tick(ctx, scrubber, now)
		}
	}
}

func tick(ctx context.Context, scrubber PoolScrubber, now time.Time) {
	schedules, err := db.ListScrubSchedules()
	if err != nil {
		logger.Error("scrub scheduler: list schedules", "err", err.Error())
		return
	}
	for _, s := range schedules {
		if !Due(s, now) {
			continue
		}
		status := "ok"
		if err := scrubber.Scrub(ctx, s.Pool, "start"); err != nil {
			status = err.Error()
			logger.Error("scheduled scrub failed", "pool", s.Pool, "err", err.Error())
		} else {
			logger.Info("scheduled scrub started", "pool", s.Pool)
			_ = db.AuditLog("scheduler", "pool.scrub.start", s.Pool)
		}
		if err := db.UpdateScrubRun(s.ID, now.Unix(), status); err != nil {
			logger.Error("scrub scheduler: update last run", "id", s.ID, "err", err.Error())
		}
	}
}
