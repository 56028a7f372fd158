// ABOUTME: Cron-driven scheduler that periodically reclaims expired jobs
// ABOUTME: The service never cleans itself up; this is the external trigger

package jobs

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler triggers CleanupExpired on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler wires the service's cleanup into a cron entry. schedule
// accepts standard cron specs and descriptors like "@every 10m".
func NewScheduler(service *Service, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "jobs-scheduler")

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if removed := service.CleanupExpired(); removed > 0 {
			logger.Debug("cleanup pass complete", "removed", removed)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins the schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Debug("cleanup scheduler started")
}

// Stop halts the schedule, waiting for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Debug("cleanup scheduler stopped")
}
