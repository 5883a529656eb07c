package queue

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/purgo/internal/interfaces"
	"github.com/ternarybob/purgo/internal/jobtypes"
	"github.com/ternarybob/purgo/internal/models"
)

// Dispatcher drives queued jobs through sandbox execution with a bounded
// number of concurrent workers. Enqueue order is dispatch order; completion
// order depends on how long each sandbox run takes.
type Dispatcher struct {
	repo     interfaces.Repository
	registry *jobtypes.Registry
	logger   arbor.ILogger

	mu      sync.Mutex
	pending []string // FIFO of job ids waiting for a worker slot
	stopped bool

	wake    chan struct{} // signals the coordinator that pending grew
	quit    chan struct{}
	drained chan struct{} // closed when the coordinator exits
	slots   chan struct{} // worker slot semaphore
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher running at most maxConcurrentJobs
// sandboxes in parallel. Zero means one per CPU. Call Start before
// enqueueing work.
func NewDispatcher(repo interfaces.Repository, registry *jobtypes.Registry, maxConcurrentJobs int, logger arbor.ILogger) *Dispatcher {
	if maxConcurrentJobs <= 0 {
		maxConcurrentJobs = runtime.NumCPU()
	}
	return &Dispatcher{
		repo:     repo,
		registry: registry,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		drained:  make(chan struct{}),
		slots:    make(chan struct{}, maxConcurrentJobs),
	}
}

// Start launches the coordinator goroutine.
func (d *Dispatcher) Start() {
	d.logger.Info().
		Int("max_concurrent_jobs", cap(d.slots)).
		Msg("Job dispatcher started")
	go d.run()
}

// Enqueue transitions a freshly created job to QUEUED and hands it to the
// coordinator. The job must already be persisted and still be in CREATED;
// anything else is a caller bug and fails loudly.
func (d *Dispatcher) Enqueue(ctx context.Context, job *models.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("only persisted jobs can be enqueued")
	}
	if job.Status != models.JobStatusCreated {
		return fmt.Errorf("can't enqueue job %s due to its invalid status %s: %w",
			job.ID, job.Status, models.ErrInvalidState)
	}

	queued := models.JobStatusQueued
	if err := d.repo.UpdateJob(ctx, job.ID, interfaces.JobUpdate{Status: &queued}); err != nil {
		return fmt.Errorf("failed to queue job %s: %w", job.ID, err)
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher is shut down: %w", models.ErrInvalidState)
	}
	d.pending = append(d.pending, job.ID)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}

	d.logger.Debug().Str("job_id", job.ID).Msg("Job queued")
	return nil
}

// Shutdown stops the intake of queued jobs and waits for all running
// sandboxes to finish, or until the context expires. Jobs still waiting in
// the queue keep their QUEUED status and are lost with the process.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	waiting := len(d.pending)
	d.mu.Unlock()

	close(d.quit)
	<-d.drained

	if waiting > 0 {
		d.logger.Warn().Int("count", waiting).Msg("Shutting down with jobs still queued")
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info().Msg("Job dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown interrupted: %w", ctx.Err())
	}
}

// run is the coordinator loop: drain the pending queue into worker slots,
// then sleep until new work arrives or shutdown is signalled.
func (d *Dispatcher) run() {
	defer close(d.drained)
	for {
		for {
			id, ok := d.pop()
			if !ok {
				break
			}
			select {
			case d.slots <- struct{}{}:
			case <-d.quit:
				return
			}
			d.wg.Add(1)
			go func(jid string) {
				defer d.wg.Done()
				defer func() { <-d.slots }()
				d.runJob(jid)
			}(id)
		}

		select {
		case <-d.quit:
			return
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) pop() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return "", false
	}
	id := d.pending[0]
	d.pending = d.pending[1:]
	return id, true
}

// runJob shields the worker pool from anything a job blows up with. A
// panicking processor or storage layer fails one job, never the pool.
func (d *Dispatcher) runJob(jid string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("job_id", jid).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Job processing panicked")
			d.failJob(context.Background(), jid, "Internal error during job processing")
		}
	}()
	d.process(context.Background(), jid)
}

// process executes one job in its type's sandbox and persists the outcome.
// The QUEUED check makes concurrent dispatch of the same id impossible:
// whoever moves the job to RUNNING owns all of its subsequent writes.
func (d *Dispatcher) process(ctx context.Context, jid string) {
	log := d.logger.WithCorrelationId(jid)

	job, err := d.repo.FindJob(ctx, jid)
	if err != nil {
		log.Error().Err(err).Msg("Dispatched job is gone from the repository")
		return
	}
	if job.Status != models.JobStatusQueued {
		log.Error().Str("status", job.Status.String()).Msg("Dispatched job is not in QUEUED state")
		return
	}

	running := models.JobStatusRunning
	if err := d.repo.UpdateJob(ctx, jid, interfaces.JobUpdate{Status: &running}); err != nil {
		log.Error().Err(err).Msg("Failed to mark job as running")
		return
	}

	jt, ok := d.registry.ByID(job.Type)
	if !ok {
		log.Error().Str("job_type", job.Type).Msg("Job references an unregistered type")
		d.failJob(ctx, jid, fmt.Sprintf("Job type %s is not registered", job.Type))
		return
	}

	log.Debug().Str("job_type", jt.ID).Msg("Job processing started")
	res := jt.Sandbox.Process(ctx, job.Source, job.Params)

	for _, line := range res.Log {
		if err := d.repo.AddToJobLog(ctx, jid, line); err != nil {
			log.Warn().Err(err).Msg("Failed to append sandbox output to job log")
		}
	}

	if !res.Success {
		log.Info().Msg("Job failed in the sandbox")
		d.failJob(ctx, jid, "")
		return
	}

	metaSrc, perr := safeProcess(jt.Processor, res.MetadataSrc)
	if perr == nil {
		var metaResult models.DocumentMetadata
		metaResult, perr = safeProcess(jt.Processor, res.MetadataResult)
		if perr == nil {
			status := models.JobStatusSuccess
			update := interfaces.JobUpdate{
				Status:         &status,
				Result:         res.Result,
				MetadataSrc:    &metaSrc,
				MetadataResult: &metaResult,
			}
			if update.Result == nil {
				update.Result = []byte{}
			}
			if err := d.repo.UpdateJob(ctx, jid, update); err != nil {
				log.Error().Err(err).Msg("Failed to persist job outcome")
				return
			}
			log.Info().Str("status", status.String()).Msg("Job finished")
			return
		}
	}

	log.Warn().Err(perr).Msg("Metadata post-processing failed")
	if logErr := d.repo.AddToJobLog(ctx, jid, "Error during metadata post-processing"); logErr != nil {
		log.Warn().Err(logErr).Msg("Failed to append post-processing failure to job log")
	}
	d.failJob(ctx, jid, "")
}

// failJob moves a job to ERROR with cleared result and metadata. A non-empty
// diagnostic is appended to the job log first.
func (d *Dispatcher) failJob(ctx context.Context, jid string, diagnostic string) {
	if diagnostic != "" {
		if err := d.repo.AddToJobLog(ctx, jid, diagnostic); err != nil {
			d.logger.Warn().Err(err).Str("job_id", jid).Msg("Failed to append diagnostic to job log")
		}
	}
	status := models.JobStatusError
	empty := models.NewDocumentMetadata()
	update := interfaces.JobUpdate{
		Status:         &status,
		Result:         []byte{},
		MetadataSrc:    &empty,
		MetadataResult: &empty,
	}
	if err := d.repo.UpdateJob(ctx, jid, update); err != nil {
		d.logger.Error().Err(err).Str("job_id", jid).Msg("Failed to mark job as failed")
	}
}

// safeProcess runs a metadata processor and converts panics into errors so
// plugin bugs degrade a single job instead of the dispatcher.
func safeProcess(p jobtypes.Processor, raw models.RawMetadata) (meta models.DocumentMetadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("metadata processor panicked: %v", r)
		}
	}()
	return p(raw)
}
