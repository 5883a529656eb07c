package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/purgo/internal/common"
	"github.com/ternarybob/purgo/internal/services/jobs"
	"github.com/ternarybob/purgo/internal/services/sessions"
)

// Service runs the periodic retention sweep: standalone jobs and whole
// sessions are purged once they are finished and older than their TTL.
type Service struct {
	jobs     *jobs.Service
	sessions *sessions.Service
	cfg      common.RetentionConfig
	cron     *cron.Cron
	logger   arbor.ILogger
	running  bool
}

// NewService creates a retention scheduler.
func NewService(jobService *jobs.Service, sessionService *sessions.Service, cfg common.RetentionConfig, logger arbor.ILogger) *Service {
	return &Service{
		jobs:     jobService,
		sessions: sessionService,
		cfg:      cfg,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start schedules the sweep with the configured cron expression. With
// retention disabled this is a no-op and documents stay until deleted
// explicitly.
func (s *Service) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("Retention is disabled, documents are kept until deleted")
		return nil
	}
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	schedule := s.cfg.Schedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().
		Str("schedule", schedule).
		Int("job_ttl_minutes", s.cfg.JobTTLMinutes).
		Int("session_ttl_minutes", s.cfg.SessionTTLMinutes).
		Msg("Retention scheduler started")
	return nil
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
func (s *Service) Stop() {
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Retention scheduler stopped")
}

// Sweep purges everything past its TTL once. The cron trigger calls this;
// the operator CLI reuses it for manual purges with its own TTLs.
func Sweep(ctx context.Context, jobService *jobs.Service, sessionService *sessions.Service, jobTTL, sessionTTL time.Duration) (purgedJobs, purgedSessions []string, err error) {
	purgedJobs, err = jobService.Purge(ctx, jobTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("job purge failed: %w", err)
	}
	purgedSessions, err = sessionService.Purge(ctx, sessionTTL)
	if err != nil {
		return purgedJobs, nil, fmt.Errorf("session purge failed: %w", err)
	}
	return purgedJobs, purgedSessions, nil
}

func (s *Service) sweep() {
	jobTTL := time.Duration(s.cfg.JobTTLMinutes) * time.Minute
	sessionTTL := time.Duration(s.cfg.SessionTTLMinutes) * time.Minute

	purgedJobs, purgedSessions, err := Sweep(context.Background(), s.jobs, s.sessions, jobTTL, sessionTTL)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Retention sweep failed")
		return
	}
	if len(purgedJobs) > 0 || len(purgedSessions) > 0 {
		s.logger.Debug().
			Int("jobs", len(purgedJobs)).
			Int("sessions", len(purgedSessions)).
			Msg("Retention sweep completed")
	}
}
