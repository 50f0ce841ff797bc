// Package jobs holds the gateway's background jobs. UsageResetJob owns
// counter rollover: currentDay zeroes at local midnight of the configured
// timezone and currentMonth on the first of the month. Admission never
// consults the clock — it trusts the counter values — so a missed reset
// under-admits rather than over-admits, and the job can safely be disabled
// when an external scheduler performs the resets instead.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/ai-guard/ai-guard/internal/db/repositories"
)

// UsageResetJob zeroes project usage counters on schedule.
type UsageResetJob struct {
	projects repositories.ProjectRepository
	location *time.Location
	stopCh   chan struct{}
	// now is a clock hook for tests.
	now func() time.Time
}

// NewUsageResetJob creates the job for the given reset timezone.
func NewUsageResetJob(projects repositories.ProjectRepository, location *time.Location) *UsageResetJob {
	return &UsageResetJob{
		projects: projects,
		location: location,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the scheduler goroutine.
func (j *UsageResetJob) Start() {
	go j.run()
	slog.Info("usage reset job started", "timezone", j.location.String())
}

// Stop terminates the scheduler goroutine.
func (j *UsageResetJob) Stop() {
	close(j.stopCh)
}

func (j *UsageResetJob) run() {
	for {
		next := j.nextMidnight()
		select {
		case <-time.After(time.Until(next)):
			j.runResets(next)
		case <-j.stopCh:
			return
		}
	}
}

// nextMidnight computes the next local midnight in the configured zone.
func (j *UsageResetJob) nextMidnight() time.Time {
	now := j.now().In(j.location)
	year, month, day := now.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, j.location)
	return midnight.AddDate(0, 0, 1)
}

// runResets zeroes the daily bucket, and the monthly bucket when the fire
// time is the first of the month.
func (j *UsageResetJob) runResets(firedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := j.projects.ResetDay(ctx); err != nil {
		slog.Error("daily usage reset failed", "error", err)
	} else {
		slog.Info("daily usage counters reset")
	}

	if firedAt.In(j.location).Day() == 1 {
		if err := j.projects.ResetMonth(ctx); err != nil {
			slog.Error("monthly usage reset failed", "error", err)
		} else {
			slog.Info("monthly usage counters reset")
		}
	}
}
