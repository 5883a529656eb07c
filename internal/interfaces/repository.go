package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/purgo/internal/models"
)

// JobFilter narrows FindJobs. Zero fields are ignored. NotUpdatedFor keeps
// only jobs whose Updated timestamp is at least that far in the past.
type JobFilter struct {
	SessionID     string
	Status        []models.JobStatus
	NotUpdatedFor time.Duration
}

// SessionFilter narrows FindSessions. Zero fields are ignored.
type SessionFilter struct {
	NotUpdatedFor time.Duration
}

// JobUpdate is a partial job mutation. Nil fields are left untouched.
// Result is applied when non-nil, so an empty non-nil slice clears it.
type JobUpdate struct {
	Status         *models.JobStatus
	Result         []byte
	MetadataSrc    *models.DocumentMetadata
	MetadataResult *models.DocumentMetadata
}

// Repository persists jobs and sessions. Implementations bump the job's
// Updated timestamp on every mutation and, for jobs that belong to a
// session, the owning session's Updated timestamp as well.
type Repository interface {
	// Job operations
	AddJob(ctx context.Context, job *models.Job) error
	// FindJob returns the complete job including source and result payloads.
	FindJob(ctx context.Context, id string) (*models.Job, error)
	// FindJobs returns summaries matching the filter, newest first. Source,
	// Result and both metadata sets are stripped from the returned jobs.
	// Filtering on a session id that does not exist yields an error
	// wrapping models.ErrNotFound rather than an empty list.
	FindJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	UpdateJob(ctx context.Context, id string, update JobUpdate) error
	AddToJobLog(ctx context.Context, id string, entry string) error
	DeleteJob(ctx context.Context, id string) error
	// TotalJobCount reports how many jobs were ever added. The counter is
	// monotonic and unaffected by deletion.
	TotalJobCount(ctx context.Context) (int, error)

	// Session operations
	AddSession(ctx context.Context, session *models.Session) error
	FindSession(ctx context.Context, id string) (*models.Session, error)
	FindSessions(ctx context.Context, filter SessionFilter) ([]*models.Session, error)
	// DeleteSession removes the session and all of its member jobs.
	DeleteSession(ctx context.Context, id string) error

	Close() error
}
