package interfaces

import (
	"context"

	"github.com/ternarybob/purgo/internal/models"
)

// JobQueue accepts persisted jobs for asynchronous execution.
type JobQueue interface {
	// Enqueue transitions the job from CREATED to QUEUED and schedules it.
	// The job must already be persisted; any other status yields an error
	// wrapping models.ErrInvalidState.
	Enqueue(ctx context.Context, job *models.Job) error
	// Shutdown stops intake and waits for running jobs to finish, or until
	// the context is done.
	Shutdown(ctx context.Context) error
}
