package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/purgo/internal/common"
	"github.com/ternarybob/purgo/internal/interfaces"
	"github.com/ternarybob/purgo/internal/models"
	"github.com/ternarybob/purgo/internal/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Repository, *common.DummyClock) {
	t.Helper()
	clock := common.NewDummyClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	repo := memory.NewRepository(clock, arbor.NewLogger())
	return NewService(repo, arbor.NewLogger()), repo, clock
}

func addMember(t *testing.T, repo interfaces.Repository, id, sessionID string, status models.JobStatus) {
	t.Helper()
	require.NoError(t, repo.AddJob(context.Background(), &models.Job{
		ID:        id,
		Type:      "pdf",
		Status:    models.JobStatusCreated,
		SessionID: sessionID,
	}))
	if status != models.JobStatusCreated {
		require.NoError(t, repo.UpdateJob(context.Background(), id, interfaces.JobUpdate{Status: &status}))
	}
}

func TestCreateSession(t *testing.T) {
	svc, repo, _ := newTestService(t)

	id, err := svc.Create(context.Background())
	require.NoError(t, err)
	assert.Len(t, id, 27)

	session, err := repo.FindSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, session.ID)
	assert.False(t, session.Created.IsZero())
}

func TestGetAggregatesMembers(t *testing.T) {
	svc, repo, _ := newTestService(t)

	id, err := svc.Create(context.Background())
	require.NoError(t, err)
	addMember(t, repo, "job-1", id, models.JobStatusSuccess)
	addMember(t, repo, "job-2", id, models.JobStatusError)
	addMember(t, repo, "job-3", id, models.JobStatusRunning)

	details, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, details.JobsTotal)
	assert.Equal(t, 2, details.JobsFinished)
	assert.Len(t, details.Jobs, 3)
	for _, job := range details.Jobs {
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, "pdf", job.Type)
	}
}

func TestGetUnknownSession(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestAwaitBlocksUntilMembersFinish(t *testing.T) {
	svc, repo, _ := newTestService(t)

	id, err := svc.Create(context.Background())
	require.NoError(t, err)
	addMember(t, repo, "job-1", id, models.JobStatusSuccess)
	addMember(t, repo, "job-2", id, models.JobStatusRunning)

	go func() {
		time.Sleep(150 * time.Millisecond)
		status := models.JobStatusError
		_ = repo.UpdateJob(context.Background(), "job-2", interfaces.JobUpdate{Status: &status})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	details, err := svc.Await(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, details.JobsFinished)
}

func TestAwaitHonorsContext(t *testing.T) {
	svc, repo, _ := newTestService(t)

	id, err := svc.Create(context.Background())
	require.NoError(t, err)
	addMember(t, repo, "job-1", id, models.JobStatusRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = svc.Await(ctx, id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDeleteCascades(t *testing.T) {
	svc, repo, _ := newTestService(t)

	id, err := svc.Create(context.Background())
	require.NoError(t, err)
	addMember(t, repo, "job-1", id, models.JobStatusError)
	addMember(t, repo, "job-2", id, models.JobStatusSuccess)
	addMember(t, repo, "standalone", "", models.JobStatusSuccess)

	require.NoError(t, svc.Delete(context.Background(), id))

	_, err = repo.FindSession(context.Background(), id)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	_, err = repo.FindJob(context.Background(), "job-1")
	assert.True(t, errors.Is(err, models.ErrNotFound))
	_, err = repo.FindJob(context.Background(), "job-2")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	// Jobs outside the session are untouched.
	_, err = repo.FindJob(context.Background(), "standalone")
	assert.NoError(t, err)
}

func TestDeleteRefusesUnfinishedMembers(t *testing.T) {
	svc, repo, _ := newTestService(t)

	id, err := svc.Create(context.Background())
	require.NoError(t, err)
	addMember(t, repo, "job-1", id, models.JobStatusSuccess)
	addMember(t, repo, "job-2", id, models.JobStatusRunning)

	err = svc.Delete(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidState))

	// Neither the session nor any member was touched.
	_, err = repo.FindSession(context.Background(), id)
	assert.NoError(t, err)
	_, err = repo.FindJob(context.Background(), "job-1")
	assert.NoError(t, err)
	_, err = repo.FindJob(context.Background(), "job-2")
	assert.NoError(t, err)
}

func TestDeleteUnknownSession(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestPurgeDeletesStaleFinishedSessions(t *testing.T) {
	svc, repo, clock := newTestService(t)

	done, err := svc.Create(context.Background())
	require.NoError(t, err)
	addMember(t, repo, "job-1", done, models.JobStatusSuccess)

	busy, err := svc.Create(context.Background())
	require.NoError(t, err)
	addMember(t, repo, "job-2", busy, models.JobStatusRunning)

	clock.Advance(25 * time.Hour)

	purged, err := svc.Purge(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{done}, purged)

	// The cascade took the member job with the session.
	_, err = repo.FindJob(context.Background(), "job-1")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	// A running member blocks the purge of its session.
	_, err = repo.FindSession(context.Background(), busy)
	assert.NoError(t, err)
	_, err = repo.FindJob(context.Background(), "job-2")
	assert.NoError(t, err)
}

func TestPurgeKeepsFreshSessions(t *testing.T) {
	svc, repo, clock := newTestService(t)

	id, err := svc.Create(context.Background())
	require.NoError(t, err)
	addMember(t, repo, "job-1", id, models.JobStatusSuccess)

	clock.Advance(23 * time.Hour)

	purged, err := svc.Purge(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, purged)

	_, err = repo.FindSession(context.Background(), id)
	assert.NoError(t, err)
}

func TestMemberMutationKeepsSessionAlive(t *testing.T) {
	svc, repo, clock := newTestService(t)

	id, err := svc.Create(context.Background())
	require.NoError(t, err)
	addMember(t, repo, "job-1", id, models.JobStatusSuccess)

	// A late member update resets the session's staleness.
	clock.Advance(23 * time.Hour)
	require.NoError(t, repo.AddToJobLog(context.Background(), "job-1", "late annotation"))
	clock.Advance(2 * time.Hour)

	purged, err := svc.Purge(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, purged)
}
