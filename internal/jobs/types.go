package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/merchant-insights/internal/pipeline"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries is applied to jobs published without MaxRetries.
const DefaultMaxRetries = 3

// ErrJobNotFound is returned by stores for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// EnrichDocumentJob asks for a statement document to be extracted and enriched.
type EnrichDocumentJob struct {
	JobID string `json:"job_id"`

	// DocumentRef is a local path or gs:// URI.
	DocumentRef string `json:"document_ref"`

	// NotifyAddress is recorded with the job. Delivery is left to the caller.
	NotifyAddress string `json:"notify_address,omitempty"`

	// RunID links the job to the enrichment run and its recorded model outputs.
	RunID string `json:"run_id,omitempty"`

	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Result holds the batch outcome once the job has completed.
	Result *pipeline.BatchResult `json:"result,omitempty"`

	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// Publisher enqueues jobs.
type Publisher interface {
	PublishEnrichDocument(ctx context.Context, job *EnrichDocumentJob) error
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. It may set job.Result and job.RunID. A returned
// error is retried unless it is marked with NonRetryable.
type JobHandler func(ctx context.Context, job *EnrichDocumentJob) error

// JobStore tracks job state.
type JobStore interface {
	SaveJob(ctx context.Context, job *EnrichDocumentJob) error
	GetJob(ctx context.Context, jobID string) (*EnrichDocumentJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*EnrichDocumentJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	DocumentRef string
	Status      JobStatus

	Limit  int
	Offset int
}

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks err so the queue fails the job without retrying, e.g.
// for a missing document or a statement the model could not read.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var nr *nonRetryableError
	return errors.As(err, &nr)
}
