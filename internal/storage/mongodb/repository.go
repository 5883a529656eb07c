package mongodb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ternarybob/purgo/internal/common"
	"github.com/ternarybob/purgo/internal/interfaces"
	"github.com/ternarybob/purgo/internal/models"
)

const totalJobsCounter = "jobs_total"

// jobDoc is the persisted job document. Payloads above the blob threshold
// are moved to a GridFS bucket and flagged, keeping the document itself
// clear of MongoDB's 16 MiB limit.
type jobDoc struct {
	ID             string                  `bson:"_id"`
	Type           string                  `bson:"type"`
	Status         models.JobStatus        `bson:"status"`
	Created        time.Time               `bson:"created"`
	Updated        time.Time               `bson:"updated"`
	Name           string                  `bson:"name,omitempty"`
	SessionID      string                  `bson:"session_id,omitempty"`
	Params         models.JobParams        `bson:"params,omitempty"`
	Log            []string                `bson:"log"`
	MetadataSrc    models.DocumentMetadata `bson:"metadata_src"`
	MetadataResult models.DocumentMetadata `bson:"metadata_result"`
	Source         []byte                  `bson:"source,omitempty"`
	SourceGridFS   bool                    `bson:"source_gridfs,omitempty"`
	Result         []byte                  `bson:"result,omitempty"`
	ResultGridFS   bool                    `bson:"result_gridfs,omitempty"`
}

type sessionDoc struct {
	ID      string    `bson:"_id"`
	Created time.Time `bson:"created"`
	Updated time.Time `bson:"updated"`
}

// Repository implements interfaces.Repository on MongoDB.
type Repository struct {
	client        *mongo.Client
	jobs          *mongo.Collection
	sessions      *mongo.Collection
	counters      *mongo.Collection
	bucket        *gridfs.Bucket
	blobThreshold int
	clock         interfaces.Clock
	logger        arbor.ILogger
}

// NewRepository connects to MongoDB and prepares the collections and the
// GridFS bucket used for oversized payloads.
func NewRepository(ctx context.Context, config *common.MongoDBConfig, blobThreshold int, clock interfaces.Clock, logger arbor.ILogger) (*Repository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(config.Database)
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName("blobs"))
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create gridfs bucket: %w", err)
	}

	logger.Debug().Str("database", config.Database).Msg("MongoDB repository initialized")

	return &Repository{
		client:        client,
		jobs:          db.Collection("jobs"),
		sessions:      db.Collection("sessions"),
		counters:      db.Collection("counters"),
		bucket:        bucket,
		blobThreshold: blobThreshold,
		clock:         clock,
		logger:        logger,
	}, nil
}

func blobID(jobID, kind string) string {
	return jobID + ":" + kind
}

func (r *Repository) AddJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	now := r.clock.Now()
	doc := jobDoc{
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
	if doc.Created.IsZero() {
		doc.Created = now
	}
	if doc.Log == nil {
		doc.Log = []string{}
	}

	if job.SessionID != "" {
		count, err := r.sessions.CountDocuments(ctx, bson.M{"_id": job.SessionID})
		if err != nil {
			return fmt.Errorf("failed to check session: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("session %s: %w", job.SessionID, models.ErrNotFound)
		}
	}

	if len(job.Source) > r.blobThreshold {
		if err := r.putBlob(job.ID, "source", job.Source); err != nil {
			return err
		}
		doc.SourceGridFS = true
	} else {
		doc.Source = job.Source
	}

	if _, err := r.jobs.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}

	_, err := r.counters.UpdateOne(ctx,
		bson.M{"_id": totalJobsCounter},
		bson.M{"$inc": bson.M{"value": 1}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to update job counter: %w", err)
	}

	return r.touchSession(ctx, job.SessionID, now)
}

func (r *Repository) FindJob(ctx context.Context, id string) (*models.Job, error) {
	var doc jobDoc
	if err := r.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job := doc.toJob()
	job.Source, job.Result = doc.Source, doc.Result
	if doc.SourceGridFS {
		data, err := r.downloadBlob(id, "source")
		if err != nil {
			return nil, err
		}
		job.Source = data
	}
	if doc.ResultGridFS {
		data, err := r.downloadBlob(id, "result")
		if err != nil {
			return nil, err
		}
		job.Result = data
	}
	return job, nil
}

func (r *Repository) FindJobs(ctx context.Context, filter interfaces.JobFilter) ([]*models.Job, error) {
	query := bson.M{}
	if filter.SessionID != "" {
		if err := r.sessions.FindOne(ctx, bson.M{"_id": filter.SessionID}).Err(); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, fmt.Errorf("session %s: %w", filter.SessionID, models.ErrNotFound)
			}
			return nil, fmt.Errorf("failed to get session: %w", err)
		}
		query["session_id"] = filter.SessionID
	}
	if len(filter.Status) > 0 {
		query["status"] = bson.M{"$in": filter.Status}
	}
	if filter.NotUpdatedFor > 0 {
		query["updated"] = bson.M{"$lt": r.clock.Now().Add(-filter.NotUpdatedFor)}
	}

	opts := options.Find().
		SetProjection(bson.M{"source": 0, "result": 0, "metadata_src": 0, "metadata_result": 0}).
		SetSort(bson.D{{Key: "created", Value: -1}})

	cursor, err := r.jobs.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var jobs []*models.Job
	for cursor.Next(ctx) {
		var doc jobDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode job: %w", err)
		}
		jobs = append(jobs, doc.toJob())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

func (r *Repository) UpdateJob(ctx context.Context, id string, update interfaces.JobUpdate) error {
	now := r.clock.Now()
	set := bson.M{"updated": now}
	unset := bson.M{}

	if update.Status != nil {
		set["status"] = *update.Status
	}
	if update.MetadataSrc != nil {
		set["metadata_src"] = *update.MetadataSrc
	}
	if update.MetadataResult != nil {
		set["metadata_result"] = *update.MetadataResult
	}
	if update.Result != nil {
		if len(update.Result) > r.blobThreshold {
			if err := r.putBlob(id, "result", update.Result); err != nil {
				return err
			}
			set["result_gridfs"] = true
			unset["result"] = ""
		} else {
			set["result"] = update.Result
			unset["result_gridfs"] = ""
		}
	}

	change := bson.M{"$set": set}
	if len(unset) > 0 {
		change["$unset"] = unset
	}

	sessionID, err := r.findOneAndUpdateSession(ctx, id, change)
	if err != nil {
		return err
	}
	return r.touchSession(ctx, sessionID, now)
}

func (r *Repository) AddToJobLog(ctx context.Context, id string, entry string) error {
	now := r.clock.Now()
	change := bson.M{
		"$push": bson.M{"log": entry},
		"$set":  bson.M{"updated": now},
	}
	sessionID, err := r.findOneAndUpdateSession(ctx, id, change)
	if err != nil {
		return err
	}
	return r.touchSession(ctx, sessionID, now)
}

// findOneAndUpdateSession applies the change and returns the job's session
// id so the caller can bump the owning session.
func (r *Repository) findOneAndUpdateSession(ctx context.Context, id string, change bson.M) (string, error) {
	opts := options.FindOneAndUpdate().SetProjection(bson.M{"session_id": 1})
	var doc struct {
		SessionID string `bson:"session_id"`
	}
	err := r.jobs.FindOneAndUpdate(ctx, bson.M{"_id": id}, change, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", fmt.Errorf("job %s: %w", id, models.ErrNotFound)
		}
		return "", fmt.Errorf("failed to update job: %w", err)
	}
	return doc.SessionID, nil
}

func (r *Repository) DeleteJob(ctx context.Context, id string) error {
	opts := options.FindOneAndDelete().SetProjection(bson.M{
		"session_id": 1, "source_gridfs": 1, "result_gridfs": 1,
	})
	var doc struct {
		SessionID    string `bson:"session_id"`
		SourceGridFS bool   `bson:"source_gridfs"`
		ResultGridFS bool   `bson:"result_gridfs"`
	}
	err := r.jobs.FindOneAndDelete(ctx, bson.M{"_id": id}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}

	if doc.SourceGridFS {
		r.deleteBlob(id, "source")
	}
	if doc.ResultGridFS {
		r.deleteBlob(id, "result")
	}
	return r.touchSession(ctx, doc.SessionID, r.clock.Now())
}

func (r *Repository) TotalJobCount(ctx context.Context) (int, error) {
	var doc struct {
		Value int `bson:"value"`
	}
	err := r.counters.FindOne(ctx, bson.M{"_id": totalJobsCounter}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read job counter: %w", err)
	}
	return doc.Value, nil
}

func (r *Repository) AddSession(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	now := r.clock.Now()
	doc := sessionDoc{ID: session.ID, Created: session.Created, Updated: now}
	if doc.Created.IsZero() {
		doc.Created = now
	}

	if _, err := r.sessions.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("session %s already exists", session.ID)
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *Repository) FindSession(ctx context.Context, id string) (*models.Session, error) {
	var doc sessionDoc
	if err := r.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &models.Session{ID: doc.ID, Created: doc.Created, Updated: doc.Updated}, nil
}

func (r *Repository) FindSessions(ctx context.Context, filter interfaces.SessionFilter) ([]*models.Session, error) {
	query := bson.M{}
	if filter.NotUpdatedFor > 0 {
		query["updated"] = bson.M{"$lt": r.clock.Now().Add(-filter.NotUpdatedFor)}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created", Value: -1}})
	cursor, err := r.sessions.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var sessions []*models.Session
	for cursor.Next(ctx) {
		var doc sessionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		sessions = append(sessions, &models.Session{ID: doc.ID, Created: doc.Created, Updated: doc.Updated})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	count, err := r.sessions.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}

	// Reap GridFS blobs of member jobs before removing the documents.
	opts := options.Find().SetProjection(bson.M{"_id": 1, "source_gridfs": 1, "result_gridfs": 1})
	cursor, err := r.jobs.Find(ctx, bson.M{"session_id": id}, opts)
	if err != nil {
		return fmt.Errorf("failed to list session jobs: %w", err)
	}
	for cursor.Next(ctx) {
		var doc struct {
			ID           string `bson:"_id"`
			SourceGridFS bool   `bson:"source_gridfs"`
			ResultGridFS bool   `bson:"result_gridfs"`
		}
		if err := cursor.Decode(&doc); err != nil {
			cursor.Close(ctx)
			return fmt.Errorf("failed to decode session job: %w", err)
		}
		if doc.SourceGridFS {
			r.deleteBlob(doc.ID, "source")
		}
		if doc.ResultGridFS {
			r.deleteBlob(doc.ID, "result")
		}
	}
	if err := cursor.Err(); err != nil {
		cursor.Close(ctx)
		return fmt.Errorf("failed to iterate session jobs: %w", err)
	}
	cursor.Close(ctx)

	if _, err := r.jobs.DeleteMany(ctx, bson.M{"session_id": id}); err != nil {
		return fmt.Errorf("failed to delete session jobs: %w", err)
	}
	if _, err := r.sessions.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

func (r *Repository) touchSession(ctx context.Context, sessionID string, now time.Time) error {
	if sessionID == "" {
		return nil
	}
	_, err := r.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, bson.M{"$set": bson.M{"updated": now}})
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// putBlob replaces any previous blob content under the deterministic id.
func (r *Repository) putBlob(jobID, kind string, data []byte) error {
	id := blobID(jobID, kind)
	_ = r.bucket.Delete(id) // stale content from a previous write
	if err := r.bucket.UploadFromStreamWithID(id, id, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to upload %s blob: %w", kind, err)
	}
	return nil
}

func (r *Repository) downloadBlob(jobID, kind string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := r.bucket.DownloadToStream(blobID(jobID, kind), &buf); err != nil {
		return nil, fmt.Errorf("failed to download %s blob: %w", kind, err)
	}
	return buf.Bytes(), nil
}

func (r *Repository) deleteBlob(jobID, kind string) {
	if err := r.bucket.Delete(blobID(jobID, kind)); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
		r.logger.Warn().Err(err).Str("job_id", jobID).Str("kind", kind).Msg("Failed to delete blob")
	}
}

func (doc *jobDoc) toJob() *models.Job {
	return &models.Job{
		ID:             doc.ID,
		Type:           doc.Type,
		Status:         doc.Status,
		Created:        doc.Created,
		Updated:        doc.Updated,
		Name:           doc.Name,
		SessionID:      doc.SessionID,
		Params:         doc.Params,
		Log:            doc.Log,
		MetadataSrc:    doc.MetadataSrc,
		MetadataResult: doc.MetadataResult,
	}
}
