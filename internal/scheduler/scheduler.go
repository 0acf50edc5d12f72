// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"kirakira/backend/internal/logging"
)

const (
	cleanupJobName = "expired-conversation-cleanup"
	// Cron expressions carry the zone by name, so this must be an IANA zone
	// rather than a fixed offset. Seoul has no DST and matches quota.Location.
	cronZone = "Asia/Seoul"
)

// CleanupFunc deletes expired rows and reports how many were removed.
type CleanupFunc func(ctx context.Context) (int64, error)

type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
}

// Start schedules cleanup on cronExpr, evaluated in UTC+9, and starts the
// scheduler.
func Start(cronExpr string, cleanup CleanupFunc, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	location, err := time.LoadLocation(cronZone)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cronZone, err)
	}
	s, err := gocron.NewScheduler(
		gocron.WithLocation(location),
		gocron.WithLogger(logging.NewGocronLogger(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			deleted, err := cleanup(ctx)
			if err != nil {
				logger.Error("scheduled cleanup failed", zap.Error(err))
				return
			}
			logger.Info("scheduled cleanup finished", zap.Int64("deleted", deleted))
		}),
		gocron.WithName(cleanupJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule job %q: %w", cleanupJobName, err)
	}

	s.Start()
	logger.Info("job scheduled", zap.String("name", cleanupJobName), zap.String("cron", cronExpr))
	return &Scheduler{scheduler: s, logger: logger}, nil
}

// NextRuns returns the next scheduled run of every job.
func (s *Scheduler) NextRuns() ([]time.Time, error) {
	jobs := s.scheduler.Jobs()
	out := make([]time.Time, 0, len(jobs))
	for _, job := range jobs {
		next, err := job.NextRun()
		if err != nil {
			return nil, fmt.Errorf("next run of %q: %w", job.Name(), err)
		}
		out = append(out, next)
	}
	return out, nil
}

// Jobs returns the names of scheduled jobs.
func (s *Scheduler) Jobs() []string {
	jobs := s.scheduler.Jobs()
	out := make([]string, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.Name())
	}
	return out
}

func (s *Scheduler) Stop() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}
