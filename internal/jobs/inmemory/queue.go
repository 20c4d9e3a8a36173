package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/merchant-insights/internal/jobs"
	"github.com/dvloznov/merchant-insights/internal/logger"
	"github.com/dvloznov/merchant-insights/internal/metrics"
	"github.com/google/uuid"
)

const (
	DefaultWorkers       = 2
	DefaultRetryInterval = time.Second
)

// ErrQueueClosed is returned when publishing to or starting a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// Options configure a Queue.
type Options struct {
	BufferSize int
	Workers    int
	// RetryInterval is multiplied by the retry count before a failed job
	// is re-enqueued.
	RetryInterval time.Duration
	// MaxRetries is applied to jobs published without their own limit.
	// Zero means jobs.DefaultMaxRetries.
	MaxRetries int
}

// Queue is an in-memory job publisher and consumer backed by a channel.
// It is suitable for single-instance deployments and tests.
type Queue struct {
	jobChan   chan *jobs.EnrichDocumentJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool

	workers       int
	retryInterval time.Duration
	maxRetries    int
}

// NewQueue creates a new in-memory job queue. BufferSize determines how many
// jobs can be queued before PublishEnrichDocument blocks.
func NewQueue(opts Options, store jobs.JobStore) *Queue {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = jobs.DefaultMaxRetries
	}
	if opts.BufferSize < 0 {
		opts.BufferSize = 0
	}
	return &Queue{
		jobChan:       make(chan *jobs.EnrichDocumentJob, opts.BufferSize),
		closeChan:     make(chan struct{}),
		store:         store,
		workers:       opts.Workers,
		retryInterval: opts.RetryInterval,
		maxRetries:    opts.MaxRetries,
	}
}

// PublishEnrichDocument enqueues a job for asynchronous processing.
func (q *Queue) PublishEnrichDocument(ctx context.Context, job *jobs.EnrichDocumentJob) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.maxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("PublishEnrichDocument: saving job: %w", err)
		}
	}

	// Workers own the queued copy; the caller's job is not mutated later.
	queued := *job
	select {
	case q.jobChan <- &queued:
		metrics.Get().RecordJob(string(job.Status))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return ErrQueueClosed
	}
}

// Start launches the worker goroutines.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

func (q *Queue) processJob(ctx context.Context, job *jobs.EnrichDocumentJob, handler jobs.JobHandler) {
	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"job_id":       job.JobID,
		"document_ref": job.DocumentRef,
	})
	ctx = logger.WithContext(ctx, log)

	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	q.save(ctx, job)

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		log.Info().Msg("job completed")
	case jobs.IsNonRetryable(err) || job.RetryCount >= job.MaxRetries:
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
		log.Error().Err(err).Int("retry_count", job.RetryCount).Msg("job failed")
	default:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		backoff := time.Duration(job.RetryCount) * q.retryInterval
		log.Warn().Err(err).Int("retry_count", job.RetryCount).Dur("backoff", backoff).Msg("job failed, retrying")

		retry := *job
		time.AfterFunc(backoff, func() {
			retry.Status = jobs.JobStatusPending
			retry.StartedAt = nil
			retry.CompletedAt = nil
			if err := q.PublishEnrichDocument(ctx, &retry); err != nil {
				log.Error().Err(err).Msg("could not re-enqueue job")
			}
		})
	}

	metrics.Get().RecordJob(string(job.Status))
	q.save(ctx, job)
}

func (q *Queue) save(ctx context.Context, job *jobs.EnrichDocumentJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("could not save job state")
	}
}

// Stop closes the queue and waits for in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
