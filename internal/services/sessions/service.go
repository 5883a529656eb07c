package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/purgo/internal/common"
	"github.com/ternarybob/purgo/internal/interfaces"
	"github.com/ternarybob/purgo/internal/models"
)

// awaitInterval is how often Await re-reads member jobs while any of them
// is still in flight.
const awaitInterval = 100 * time.Millisecond

// nonTerminalStatuses selects jobs that are still moving through the
// pipeline. A session containing any of these can't be purged yet.
var nonTerminalStatuses = []models.JobStatus{
	models.JobStatusCreated,
	models.JobStatusQueued,
	models.JobStatusRunning,
}

// Service manages sessions, the grouping mechanism for bulk uploads. Jobs
// join a session at creation time; the session aggregates their progress.
type Service struct {
	repo   interfaces.Repository
	logger arbor.ILogger
}

// NewService creates a session service.
func NewService(repo interfaces.Repository, logger arbor.ILogger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Create registers a new empty session and returns its id.
func (s *Service) Create(ctx context.Context) (string, error) {
	id, err := common.NewToken()
	if err != nil {
		return "", err
	}
	if err := s.repo.AddSession(ctx, &models.Session{ID: id}); err != nil {
		return "", fmt.Errorf("failed to persist session: %w", err)
	}
	s.logger.Info().Str("session_id", id).Msg("Session created")
	return id, nil
}

// Get returns the session with aggregated member state: total and finished
// job counts plus an abbreviated view of every member.
func (s *Service) Get(ctx context.Context, id string) (models.SessionDetails, error) {
	session, err := s.repo.FindSession(ctx, id)
	if err != nil {
		return models.SessionDetails{}, err
	}
	jobs, err := s.repo.FindJobs(ctx, interfaces.JobFilter{SessionID: id})
	if err != nil {
		return models.SessionDetails{}, fmt.Errorf("failed to list session jobs: %w", err)
	}

	details := models.SessionDetails{
		ID:        session.ID,
		Created:   session.Created,
		Updated:   session.Updated,
		JobsTotal: len(jobs),
		Jobs:      make([]models.JobSummary, 0, len(jobs)),
	}
	for _, job := range jobs {
		if job.Status.IsTerminal() {
			details.JobsFinished++
		}
		details.Jobs = append(details.Jobs, job.Summary())
	}
	return details, nil
}

// Await blocks until every member job has reached a terminal status or the
// context is done, then returns the session details.
func (s *Service) Await(ctx context.Context, id string) (models.SessionDetails, error) {
	for {
		details, err := s.Get(ctx, id)
		if err != nil {
			return models.SessionDetails{}, err
		}
		if details.JobsFinished == details.JobsTotal {
			return details, nil
		}
		select {
		case <-ctx.Done():
			return models.SessionDetails{}, fmt.Errorf("awaiting session %s: %w", id, ctx.Err())
		case <-time.After(awaitInterval):
		}
	}
}

// Delete removes a session and all of its member jobs. Sessions with
// members still in flight are refused; those jobs belong to the dispatcher
// until they settle.
func (s *Service) Delete(ctx context.Context, id string) error {
	unfinished, err := s.repo.FindJobs(ctx, interfaces.JobFilter{
		SessionID: id,
		Status:    nonTerminalStatuses,
	})
	if err != nil {
		return err
	}
	if len(unfinished) > 0 {
		return fmt.Errorf("can't delete session %s with %d unfinished jobs: %w", id, len(unfinished), models.ErrInvalidState)
	}
	if err := s.repo.DeleteSession(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("session_id", id).Msg("Session deleted")
	return nil
}

// Purge deletes sessions that haven't been updated within olderThan and
// whose member jobs have all finished. A single job still in flight keeps
// its session alive. Returns the ids of all deleted sessions.
func (s *Service) Purge(ctx context.Context, olderThan time.Duration) ([]string, error) {
	sessions, err := s.repo.FindSessions(ctx, interfaces.SessionFilter{NotUpdatedFor: olderThan})
	if err != nil {
		return nil, fmt.Errorf("failed to find purgeable sessions: %w", err)
	}

	var purged []string
	for _, session := range sessions {
		unfinished, err := s.repo.FindJobs(ctx, interfaces.JobFilter{
			SessionID: session.ID,
			Status:    nonTerminalStatuses,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to inspect session jobs")
			continue
		}
		if len(unfinished) > 0 {
			continue
		}
		if err := s.repo.DeleteSession(ctx, session.ID); err != nil {
			s.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to purge session")
			continue
		}
		purged = append(purged, session.ID)
	}
	if len(purged) > 0 {
		s.logger.Info().Int("count", len(purged)).Msg("Purged sessions")
	}
	return purged, nil
}
