package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/purgo/internal/common"
	"github.com/ternarybob/purgo/internal/interfaces"
	"github.com/ternarybob/purgo/internal/jobtypes"
	"github.com/ternarybob/purgo/internal/models"
)

// awaitInterval is how often Await re-reads a job while it is in flight.
const awaitInterval = 100 * time.Millisecond

// Service owns the job lifecycle: creation and scheduling of cleaning jobs,
// retrieval of their state and results, and removal of finished ones.
type Service struct {
	repo       interfaces.Repository
	queue      interfaces.JobQueue
	identifier interfaces.FileIdentifier
	registry   *jobtypes.Registry
	logger     arbor.ILogger
}

// NewService creates a job service.
func NewService(repo interfaces.Repository, queue interfaces.JobQueue, identifier interfaces.FileIdentifier, registry *jobtypes.Registry, logger arbor.ILogger) *Service {
	return &Service{
		repo:       repo,
		queue:      queue,
		identifier: identifier,
		registry:   registry,
		logger:     logger,
	}
}

// Create registers and schedules a cleaning job for the given source
// document. The document's MIME type decides which job type processes it;
// a type nobody accepts yields an error wrapping models.ErrUnsupportedType.
// An optional session id attaches the job to that session.
func (s *Service) Create(ctx context.Context, source []byte, name string, params models.JobParams, sessionID string) (string, error) {
	mime, err := s.identifier.Identify(source)
	if err != nil {
		return "", fmt.Errorf("failed to identify document type: %w", err)
	}
	jt, ok := s.registry.FindForMime(mime)
	if !ok {
		return "", fmt.Errorf("no job type accepts %s: %w", mime, models.ErrUnsupportedType)
	}

	id, err := common.NewToken()
	if err != nil {
		return "", err
	}
	job := &models.Job{
		ID:        id,
		Type:      jt.ID,
		Status:    models.JobStatusCreated,
		Name:      name,
		SessionID: sessionID,
		Params:    params,
		Source:    source,
	}
	if err := s.repo.AddJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to persist job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("failed to schedule job %s: %w", id, err)
	}

	s.logger.Info().
		Str("job_id", id).
		Str("job_type", jt.ID).
		Str("mime_type", mime).
		Msg("Job created")
	return id, nil
}

// Get returns the complete job including payloads.
func (s *Service) Get(ctx context.Context, id string) (*models.Job, error) {
	return s.repo.FindJob(ctx, id)
}

// GetDetails returns the API view of a job.
func (s *Service) GetDetails(ctx context.Context, id string) (models.JobDetails, error) {
	job, err := s.repo.FindJob(ctx, id)
	if err != nil {
		return models.JobDetails{}, err
	}
	return job.Details(), nil
}

// GetResult returns the cleaned document and its original name. Only
// successfully finished jobs have a result; any other status yields an
// error wrapping models.ErrInvalidState.
func (s *Service) GetResult(ctx context.Context, id string) ([]byte, string, error) {
	job, err := s.repo.FindJob(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if job.Status != models.JobStatusSuccess {
		return nil, "", fmt.Errorf("job %s didn't complete (yet), current state is %s: %w",
			id, job.Status, models.ErrInvalidState)
	}
	return job.Result, job.Name, nil
}

// GetSrc returns the original uploaded document, mainly for diagnostics.
func (s *Service) GetSrc(ctx context.Context, id string) ([]byte, string, error) {
	job, err := s.repo.FindJob(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return job.Source, job.Name, nil
}

// Await blocks until the job reaches a terminal status or the context is
// done, then returns the job.
func (s *Service) Await(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.repo.FindJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	ticker := time.NewTicker(awaitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("awaiting job %s: %w", id, ctx.Err())
		case <-ticker.C:
			job, err := s.repo.FindJob(ctx, id)
			if err != nil {
				return nil, err
			}
			if job.Status.IsTerminal() {
				return job, nil
			}
		}
	}
}

// List returns job summaries matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter interfaces.JobFilter) ([]*models.Job, error) {
	return s.repo.FindJobs(ctx, filter)
}

// Stats reports the current job population by status plus the total number
// of jobs ever created.
func (s *Service) Stats(ctx context.Context) (models.JobStats, error) {
	jobs, err := s.repo.FindJobs(ctx, interfaces.JobFilter{})
	if err != nil {
		return models.JobStats{}, err
	}
	total, err := s.repo.TotalJobCount(ctx)
	if err != nil {
		return models.JobStats{}, err
	}

	stats := models.JobStats{Current: len(jobs), TotalCreated: total}
	for _, job := range jobs {
		switch job.Status {
		case models.JobStatusCreated:
			stats.Created++
		case models.JobStatusQueued:
			stats.Queued++
		case models.JobStatusRunning:
			stats.Running++
		case models.JobStatusSuccess:
			stats.Success++
		case models.JobStatusError:
			stats.Error++
		}
	}
	return stats, nil
}

// Delete removes a finished job. Jobs that are still in flight can't be
// deleted; the error wraps models.ErrInvalidState.
func (s *Service) Delete(ctx context.Context, id string) error {
	job, err := s.repo.FindJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("can't delete job %s in status %s: %w",
			id, job.Status, models.ErrInvalidState)
	}
	if err := s.repo.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	s.logger.Info().Str("job_id", id).Msg("Job deleted")
	return nil
}

// ForceDelete removes a job regardless of its status. Meant for operator
// intervention when a job is wedged, never for API callers.
func (s *Service) ForceDelete(ctx context.Context, id string) error {
	if err := s.repo.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	s.logger.Warn().Str("job_id", id).Msg("Job force-deleted")
	return nil
}

// Purge deletes finished standalone jobs that haven't been updated within
// olderThan. Jobs belonging to a session are left alone; session retention
// handles those. Returns the ids of all deleted jobs.
func (s *Service) Purge(ctx context.Context, olderThan time.Duration) ([]string, error) {
	jobs, err := s.repo.FindJobs(ctx, interfaces.JobFilter{
		Status:        []models.JobStatus{models.JobStatusSuccess, models.JobStatusError},
		NotUpdatedFor: olderThan,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find purgeable jobs: %w", err)
	}

	var purged []string
	for _, job := range jobs {
		if job.SessionID != "" {
			continue
		}
		if err := s.repo.DeleteJob(ctx, job.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to purge job")
			continue
		}
		purged = append(purged, job.ID)
	}
	if len(purged) > 0 {
		s.logger.Info().Int("count", len(purged)).Msg("Purged standalone jobs")
	}
	return purged, nil
}

// ReadableTypes lists the accepted document types for user-facing errors.
func (s *Service) ReadableTypes() []string {
	return s.registry.ReadableTypes()
}
