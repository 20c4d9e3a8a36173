package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/merchant-insights/internal/logger"
	"github.com/dvloznov/merchant-insights/internal/pipeline"
)

// StartRun inserts a new row into enrichment_runs with status=RUNNING.
func (s *Store) StartRun(ctx context.Context, runID, documentRef string) error {
	sql := `
		INSERT INTO ` + s.tableRef(enrichmentRunsTable) + ` (
			run_id, document_ref, started_ts, status
		)
		VALUES (
			@run_id, @document_ref, @started_ts, @status
		)
	`
	err := s.run(ctx, sql, []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
		{Name: "document_ref", Value: documentRef},
		{Name: "started_ts", Value: time.Now()},
		{Name: "status", Value: RunStatusRunning},
	})
	if err != nil {
		return fmt.Errorf("StartRun: %w", err)
	}
	return nil
}

// MarkRunSucceeded sets status=SUCCESS, finished_ts and the batch counters.
func (s *Store) MarkRunSucceeded(ctx context.Context, runID string, result *pipeline.BatchResult) error {
	params := []bigquery.QueryParameter{
		{Name: "status", Value: RunStatusSuccess},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "run_id", Value: runID},
	}
	params = append(params, counterParams(result)...)

	sql := `
		UPDATE ` + s.tableRef(enrichmentRunsTable) + `
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = NULL,
		    requested = @requested,
		    eligible = @eligible,
		    attempted = @attempted,
		    enriched = @enriched
		WHERE run_id = @run_id
	`
	if err := s.run(ctx, sql, params); err != nil {
		return fmt.Errorf("MarkRunSucceeded: %w", err)
	}
	return nil
}

// MarkRunFailed sets status=FAILED, finished_ts and error_message. Errors are
// logged rather than returned since the run has already failed.
func (s *Store) MarkRunFailed(ctx context.Context, runID string, runErr error) {
	sql := `
		UPDATE ` + s.tableRef(enrichmentRunsTable) + `
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE run_id = @run_id
	`
	err := s.run(ctx, sql, []bigquery.QueryParameter{
		{Name: "status", Value: RunStatusFailed},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: truncateError(runErr)},
		{Name: "run_id", Value: runID},
	})
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkRunFailed: updating run")
	}
}

func counterParams(result *pipeline.BatchResult) []bigquery.QueryParameter {
	var r pipeline.BatchResult
	if result != nil {
		r = *result
	}
	return []bigquery.QueryParameter{
		{Name: "requested", Value: int64(r.Requested)},
		{Name: "eligible", Value: int64(r.Eligible)},
		{Name: "attempted", Value: int64(r.Attempted)},
		{Name: "enriched", Value: int64(r.Enriched)},
	}
}

var _ pipeline.RunTracker = (*Store)(nil)
