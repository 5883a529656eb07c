package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/purgo/internal/interfaces"
	"github.com/ternarybob/purgo/internal/models"
)

// Repository keeps all jobs and sessions in process memory. Values are
// copied on the way in and out so callers can't mutate stored state.
type Repository struct {
	mu        sync.RWMutex
	jobs      map[string]*jobEntry
	sessions  map[string]*models.Session
	totalJobs int
	seq       int64
	clock     interfaces.Clock
	logger    arbor.ILogger
}

// jobEntry wraps a stored job with an insertion sequence so listings have a
// stable order when created timestamps collide under a frozen test clock.
type jobEntry struct {
	job *models.Job
	seq int64
}

// NewRepository creates an empty in-memory repository.
func NewRepository(clock interfaces.Clock, logger arbor.ILogger) *Repository {
	return &Repository{
		jobs:     make(map[string]*jobEntry),
		sessions: make(map[string]*models.Session),
		clock:    clock,
		logger:   logger,
	}
}

func (r *Repository) AddJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.SessionID != "" {
		if _, ok := r.sessions[job.SessionID]; !ok {
			return fmt.Errorf("session %s: %w", job.SessionID, models.ErrNotFound)
		}
	}

	stored := cloneJob(job)
	now := r.clock.Now()
	if stored.Created.IsZero() {
		stored.Created = now
	}
	stored.Updated = now

	r.seq++
	r.jobs[job.ID] = &jobEntry{job: stored, seq: r.seq}
	r.totalJobs++
	r.touchSessionLocked(stored.SessionID)
	return nil
}

func (r *Repository) FindJob(ctx context.Context, id string) (*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	return cloneJob(entry.job), nil
}

func (r *Repository) FindJobs(ctx context.Context, filter interfaces.JobFilter) ([]*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if filter.SessionID != "" {
		if _, ok := r.sessions[filter.SessionID]; !ok {
			return nil, fmt.Errorf("session %s: %w", filter.SessionID, models.ErrNotFound)
		}
	}

	var cutoffSet bool
	cutoff := r.clock.Now()
	if filter.NotUpdatedFor > 0 {
		cutoff = cutoff.Add(-filter.NotUpdatedFor)
		cutoffSet = true
	}

	entries := make([]*jobEntry, 0, len(r.jobs))
	for _, entry := range r.jobs {
		job := entry.job
		if filter.SessionID != "" && job.SessionID != filter.SessionID {
			continue
		}
		if len(filter.Status) > 0 && !statusIn(job.Status, filter.Status) {
			continue
		}
		if cutoffSet && !job.Updated.Before(cutoff) {
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].job.Created.Equal(entries[j].job.Created) {
			return entries[i].seq > entries[j].seq
		}
		return entries[i].job.Created.After(entries[j].job.Created)
	})

	jobs := make([]*models.Job, len(entries))
	for i, entry := range entries {
		jobs[i] = summary(entry.job)
	}
	return jobs, nil
}

func (r *Repository) UpdateJob(ctx context.Context, id string, update interfaces.JobUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}

	job := entry.job
	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.Result != nil {
		job.Result = append([]byte(nil), update.Result...)
	}
	if update.MetadataSrc != nil {
		job.MetadataSrc = cloneMetadata(*update.MetadataSrc)
	}
	if update.MetadataResult != nil {
		job.MetadataResult = cloneMetadata(*update.MetadataResult)
	}
	job.Updated = r.clock.Now()
	r.touchSessionLocked(job.SessionID)
	return nil
}

func (r *Repository) AddToJobLog(ctx context.Context, id string, entry string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	stored.job.Log = append(stored.job.Log, entry)
	stored.job.Updated = r.clock.Now()
	r.touchSessionLocked(stored.job.SessionID)
	return nil
}

func (r *Repository) DeleteJob(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteJobLocked(id)
}

func (r *Repository) deleteJobLocked(id string) error {
	entry, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	delete(r.jobs, id)
	r.touchSessionLocked(entry.job.SessionID)
	return nil
}

func (r *Repository) TotalJobCount(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalJobs, nil
}

func (r *Repository) AddSession(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}

	stored := *session
	now := r.clock.Now()
	if stored.Created.IsZero() {
		stored.Created = now
	}
	stored.Updated = now
	r.sessions[session.ID] = &stored
	return nil
}

func (r *Repository) FindSession(ctx context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	copied := *session
	return &copied, nil
}

func (r *Repository) FindSessions(ctx context.Context, filter interfaces.SessionFilter) ([]*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var cutoffSet bool
	cutoff := r.clock.Now()
	if filter.NotUpdatedFor > 0 {
		cutoff = cutoff.Add(-filter.NotUpdatedFor)
		cutoffSet = true
	}

	sessions := make([]*models.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		if cutoffSet && !session.Updated.Before(cutoff) {
			continue
		}
		copied := *session
		sessions = append(sessions, &copied)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Created.After(sessions[j].Created)
	})
	return sessions, nil
}

func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	for jobID, entry := range r.jobs {
		if entry.job.SessionID == id {
			delete(r.jobs, jobID)
		}
	}
	delete(r.sessions, id)
	return nil
}

func (r *Repository) Close() error {
	return nil
}

// touchSessionLocked bumps the session's updated timestamp after a member
// job mutation. Callers hold the write lock.
func (r *Repository) touchSessionLocked(sessionID string) {
	if sessionID == "" {
		return
	}
	if session, ok := r.sessions[sessionID]; ok {
		session.Updated = r.clock.Now()
	}
}

func statusIn(status models.JobStatus, set []models.JobStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

// summary strips payload bytes and metadata for list results.
func summary(job *models.Job) *models.Job {
	copied := cloneJob(job)
	copied.Source = nil
	copied.Result = nil
	copied.MetadataSrc = models.DocumentMetadata{}
	copied.MetadataResult = models.DocumentMetadata{}
	return copied
}

func cloneJob(job *models.Job) *models.Job {
	copied := *job
	copied.Source = append([]byte(nil), job.Source...)
	copied.Result = append([]byte(nil), job.Result...)
	copied.Log = append([]string(nil), job.Log...)
	if job.Params != nil {
		copied.Params = make(models.JobParams, len(job.Params))
		for k, v := range job.Params {
			copied.Params[k] = v
		}
	}
	copied.MetadataSrc = cloneMetadata(job.MetadataSrc)
	copied.MetadataResult = cloneMetadata(job.MetadataResult)
	return &copied
}

func cloneMetadata(m models.DocumentMetadata) models.DocumentMetadata {
	copied := models.DocumentMetadata{Signed: m.Signed}
	if m.Primary != nil {
		copied.Primary = make(map[string]models.MetadataField, len(m.Primary))
		for k, v := range m.Primary {
			copied.Primary[k] = cloneField(v)
		}
	}
	if m.Embeds != nil {
		copied.Embeds = make(map[string]map[string]models.MetadataField, len(m.Embeds))
		for group, fields := range m.Embeds {
			inner := make(map[string]models.MetadataField, len(fields))
			for k, v := range fields {
				inner[k] = cloneField(v)
			}
			copied.Embeds[group] = inner
		}
	}
	return copied
}

func cloneField(f models.MetadataField) models.MetadataField {
	copied := f
	copied.Tags = append([]models.MetadataTag(nil), f.Tags...)
	if f.Value.List != nil {
		copied.Value.List = append([]models.FieldValue(nil), f.Value.List...)
	}
	return copied
}
