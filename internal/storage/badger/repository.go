package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/purgo/internal/common"
	"github.com/ternarybob/purgo/internal/interfaces"
	"github.com/ternarybob/purgo/internal/models"
)

const totalJobsKey = "jobs_total"

// jobRecord is the persisted job shape. Document payloads are kept out of
// the badgerhold record and stored under raw keys so the encoded records
// stay small enough for fast scans.
type jobRecord struct {
	ID             string `badgerhold:"key"`
	Type           string
	Status         models.JobStatus `badgerholdIndex:"Status"`
	Created        time.Time
	Updated        time.Time
	Name           string
	SessionID      string `badgerholdIndex:"SessionID"`
	Params         models.JobParams
	Log            []string
	MetadataSrc    models.DocumentMetadata
	MetadataResult models.DocumentMetadata
}

type sessionRecord struct {
	ID      string `badgerhold:"key"`
	Created time.Time
	Updated time.Time
}

type counterRecord struct {
	Value int
}

// Repository implements interfaces.Repository on BadgerDB.
type Repository struct {
	db     *BadgerDB
	clock  interfaces.Clock
	logger arbor.ILogger
}

// NewRepository opens the badger database at the configured path.
func NewRepository(config *common.BadgerConfig, clock interfaces.Clock, logger arbor.ILogger) (*Repository, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}
	return &Repository{db: db, clock: clock, logger: logger}, nil
}

// NewRepositoryWithDB wraps an already opened connection. Used by tests and
// the CLI, which manage the connection lifecycle themselves.
func NewRepositoryWithDB(db *BadgerDB, clock interfaces.Clock, logger arbor.ILogger) *Repository {
	return &Repository{db: db, clock: clock, logger: logger}
}

func blobKey(jobID, kind string) []byte {
	return []byte("blob:job:" + jobID + ":" + kind)
}

func (r *Repository) AddJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	now := r.clock.Now()
	rec := jobRecord{
		ID:             job.ID,
		Type:           job.Type,
		Status:         job.Status,
		Created:        job.Created,
		Updated:        now,
		Name:           job.Name,
		SessionID:      job.SessionID,
		Params:         job.Params,
		Log:            job.Log,
		MetadataSrc:    job.MetadataSrc,
		MetadataResult: job.MetadataResult,
	}
	if rec.Created.IsZero() {
		rec.Created = now
	}

	return r.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		if job.SessionID != "" {
			var s sessionRecord
			if err := r.db.Store().TxGet(txn, job.SessionID, &s); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					return fmt.Errorf("session %s: %w", job.SessionID, models.ErrNotFound)
				}
				return fmt.Errorf("failed to check session: %w", err)
			}
		}

		if err := r.db.Store().TxInsert(txn, job.ID, rec); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return fmt.Errorf("job %s already exists", job.ID)
			}
			return fmt.Errorf("failed to insert job: %w", err)
		}

		if len(job.Source) > 0 {
			if err := txn.Set(blobKey(job.ID, "source"), job.Source); err != nil {
				return fmt.Errorf("failed to store source: %w", err)
			}
		}

		var counter counterRecord
		if err := r.db.Store().TxGet(txn, totalJobsKey, &counter); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("failed to read job counter: %w", err)
		}
		counter.Value++
		if err := r.db.Store().TxUpsert(txn, totalJobsKey, counter); err != nil {
			return fmt.Errorf("failed to update job counter: %w", err)
		}

		return r.txTouchSession(txn, job.SessionID, now)
	})
}

func (r *Repository) FindJob(ctx context.Context, id string) (*models.Job, error) {
	var job *models.Job
	err := r.db.Store().Badger().View(func(txn *badgerdb.Txn) error {
		var rec jobRecord
		if err := r.db.Store().TxGet(txn, id, &rec); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
			}
			return fmt.Errorf("failed to get job: %w", err)
		}
		job = rec.toJob()
		for kind, dst := range map[string]*[]byte{"source": &job.Source, "result": &job.Result} {
			item, err := txn.Get(blobKey(id, kind))
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to read %s blob: %w", kind, err)
			}
			if *dst, err = item.ValueCopy(nil); err != nil {
				return fmt.Errorf("failed to copy %s blob: %w", kind, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *Repository) FindJobs(ctx context.Context, filter interfaces.JobFilter) ([]*models.Job, error) {
	if filter.SessionID != "" {
		var sess sessionRecord
		if err := r.db.Store().Get(filter.SessionID, &sess); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return nil, fmt.Errorf("session %s: %w", filter.SessionID, models.ErrNotFound)
			}
			return nil, fmt.Errorf("failed to get session: %w", err)
		}
	}

	query := badgerhold.Where("ID").Ne("")
	if filter.SessionID != "" {
		query = query.And("SessionID").Eq(filter.SessionID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]interface{}, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = s
		}
		query = query.And("Status").In(statuses...)
	}
	if filter.NotUpdatedFor > 0 {
		cutoff := r.clock.Now().Add(-filter.NotUpdatedFor)
		query = query.And("Updated").Lt(cutoff)
	}
	query = query.SortBy("Created").Reverse()

	var recs []jobRecord
	if err := r.db.Store().Find(&recs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*models.Job, len(recs))
	for i := range recs {
		job := recs[i].toJob()
		job.MetadataSrc = models.DocumentMetadata{}
		job.MetadataResult = models.DocumentMetadata{}
		jobs[i] = job
	}
	return jobs, nil
}

func (r *Repository) UpdateJob(ctx context.Context, id string, update interfaces.JobUpdate) error {
	now := r.clock.Now()
	return r.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var rec jobRecord
		if err := r.db.Store().TxGet(txn, id, &rec); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
			}
			return fmt.Errorf("failed to get job: %w", err)
		}

		if update.Status != nil {
			rec.Status = *update.Status
		}
		if update.MetadataSrc != nil {
			rec.MetadataSrc = *update.MetadataSrc
		}
		if update.MetadataResult != nil {
			rec.MetadataResult = *update.MetadataResult
		}
		rec.Updated = now

		if err := r.db.Store().TxUpdate(txn, id, rec); err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}
		if update.Result != nil {
			if err := txn.Set(blobKey(id, "result"), update.Result); err != nil {
				return fmt.Errorf("failed to store result: %w", err)
			}
		}
		return r.txTouchSession(txn, rec.SessionID, now)
	})
}

func (r *Repository) AddToJobLog(ctx context.Context, id string, entry string) error {
	now := r.clock.Now()
	return r.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var rec jobRecord
		if err := r.db.Store().TxGet(txn, id, &rec); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
			}
			return fmt.Errorf("failed to get job: %w", err)
		}
		rec.Log = append(rec.Log, entry)
		rec.Updated = now
		if err := r.db.Store().TxUpdate(txn, id, rec); err != nil {
			return fmt.Errorf("failed to update job log: %w", err)
		}
		return r.txTouchSession(txn, rec.SessionID, now)
	})
}

func (r *Repository) DeleteJob(ctx context.Context, id string) error {
	now := r.clock.Now()
	return r.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var rec jobRecord
		if err := r.db.Store().TxGet(txn, id, &rec); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
			}
			return fmt.Errorf("failed to get job: %w", err)
		}
		if err := r.db.Store().TxDelete(txn, id, jobRecord{}); err != nil {
			return fmt.Errorf("failed to delete job: %w", err)
		}
		for _, kind := range []string{"source", "result"} {
			if err := txn.Delete(blobKey(id, kind)); err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
				return fmt.Errorf("failed to delete %s blob: %w", kind, err)
			}
		}
		return r.txTouchSession(txn, rec.SessionID, now)
	})
}

func (r *Repository) TotalJobCount(ctx context.Context) (int, error) {
	var counter counterRecord
	if err := r.db.Store().Get(totalJobsKey, &counter); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read job counter: %w", err)
	}
	return counter.Value, nil
}

func (r *Repository) AddSession(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	now := r.clock.Now()
	rec := sessionRecord{ID: session.ID, Created: session.Created, Updated: now}
	if rec.Created.IsZero() {
		rec.Created = now
	}

	if err := r.db.Store().Insert(session.ID, rec); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("session %s already exists", session.ID)
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *Repository) FindSession(ctx context.Context, id string) (*models.Session, error) {
	var rec sessionRecord
	if err := r.db.Store().Get(id, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &models.Session{ID: rec.ID, Created: rec.Created, Updated: rec.Updated}, nil
}

func (r *Repository) FindSessions(ctx context.Context, filter interfaces.SessionFilter) ([]*models.Session, error) {
	var recs []sessionRecord
	query := badgerhold.Where("ID").Ne("").SortBy("Created").Reverse()
	if filter.NotUpdatedFor > 0 {
		cutoff := r.clock.Now().Add(-filter.NotUpdatedFor)
		query = query.And("Updated").Lt(cutoff)
	}
	if err := r.db.Store().Find(&recs, query); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions := make([]*models.Session, len(recs))
	for i, rec := range recs {
		sessions[i] = &models.Session{ID: rec.ID, Created: rec.Created, Updated: rec.Updated}
	}
	return sessions, nil
}

func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	var rec sessionRecord
	if err := r.db.Store().Get(id, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
		}
		return fmt.Errorf("failed to get session: %w", err)
	}

	// Collect member ids first, then delete one per transaction. A session
	// can hold arbitrarily many jobs with large blobs, which would overflow
	// a single badger transaction.
	var members []jobRecord
	if err := r.db.Store().Find(&members, badgerhold.Where("SessionID").Eq(id)); err != nil {
		return fmt.Errorf("failed to list session jobs: %w", err)
	}
	for _, member := range members {
		err := r.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
			if err := r.db.Store().TxDelete(txn, member.ID, jobRecord{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
				return err
			}
			for _, kind := range []string{"source", "result"} {
				if err := txn.Delete(blobKey(member.ID, kind)); err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to delete session job %s: %w", member.ID, err)
		}
	}

	if err := r.db.Store().Delete(id, sessionRecord{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// txTouchSession bumps the owning session's updated timestamp inside the
// caller's transaction. A missing session is ignored so job deletion keeps
// working while a cascade is in flight.
func (r *Repository) txTouchSession(txn *badgerdb.Txn, sessionID string, now time.Time) error {
	if sessionID == "" {
		return nil
	}
	var rec sessionRecord
	if err := r.db.Store().TxGet(txn, sessionID, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get session: %w", err)
	}
	rec.Updated = now
	if err := r.db.Store().TxUpdate(txn, sessionID, rec); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (rec *jobRecord) toJob() *models.Job {
	return &models.Job{
		ID:             rec.ID,
		Type:           rec.Type,
		Status:         rec.Status,
		Created:        rec.Created,
		Updated:        rec.Updated,
		Name:           rec.Name,
		SessionID:      rec.SessionID,
		Params:         rec.Params,
		Log:            rec.Log,
		MetadataSrc:    rec.MetadataSrc,
		MetadataResult: rec.MetadataResult,
	}
}
