package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
)

// Run statuses stored in enrichment_runs.status.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

type ModelOutputRow struct {
	OutputID string `bigquery:"output_id"` // REQUIRED
	RunID    string `bigquery:"run_id"`    // REQUIRED, empty for ad-hoc calls

	ModelName     string `bigquery:"model_name"`     // REQUIRED
	PromptVersion string `bigquery:"prompt_version"` // REQUIRED

	RawText   string    `bigquery:"raw_text"`   // REQUIRED
	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

type EnrichmentRunRow struct {
	RunID       string `bigquery:"run_id"`       // REQUIRED
	DocumentRef string `bigquery:"document_ref"` // REQUIRED

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Status       string              `bigquery:"status"`        // REQUIRED
	ErrorMessage bigquery.NullString `bigquery:"error_message"` // NULLABLE

	Requested bigquery.NullInt64 `bigquery:"requested"` // NULLABLE
	Eligible  bigquery.NullInt64 `bigquery:"eligible"`  // NULLABLE
	Attempted bigquery.NullInt64 `bigquery:"attempted"` // NULLABLE
	Enriched  bigquery.NullInt64 `bigquery:"enriched"`  // NULLABLE
}
