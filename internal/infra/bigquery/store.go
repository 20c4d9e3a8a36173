package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
)

const (
	DefaultDataset = "merchant_insights"

	modelOutputsTable   = "model_outputs"
	enrichmentRunsTable = "enrichment_runs"

	maxErrorLen = 2000
)

// Store holds a shared BigQuery client for the audit tables.
type Store struct {
	client  *bigquery.Client
	dataset string
}

// NewStore creates a BigQuery client for projectID. An empty dataset uses
// DefaultDataset.
func NewStore(ctx context.Context, projectID, dataset string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return NewStoreWithClient(client, dataset), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *bigquery.Client, dataset string) *Store {
	if dataset == "" {
		dataset = DefaultDataset
	}
	return &Store{client: client, dataset: dataset}
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// EnsureTables creates the dataset and audit tables when they do not exist.
func (s *Store) EnsureTables(ctx context.Context) error {
	ds := s.client.Dataset(s.dataset)
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{Name: s.dataset}); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("EnsureTables: creating dataset %s: %w", s.dataset, err)
	}

	tables := []struct {
		name string
		row  any
	}{
		{modelOutputsTable, ModelOutputRow{}},
		{enrichmentRunsTable, EnrichmentRunRow{}},
	}
	for _, t := range tables {
		schema, err := bigquery.InferSchema(t.row)
		if err != nil {
			return fmt.Errorf("EnsureTables: inferring schema for %s: %w", t.name, err)
		}
		meta := &bigquery.TableMetadata{
			Schema: schema,
			TimePartitioning: &bigquery.TimePartitioning{
				Type:  bigquery.DayPartitioningType,
				Field: partitionField(t.name),
			},
		}
		if err := ds.Table(t.name).Create(ctx, meta); err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("EnsureTables: creating table %s: %w", t.name, err)
		}
	}
	return nil
}

func partitionField(table string) string {
	if table == enrichmentRunsTable {
		return "started_ts"
	}
	return "created_ts"
}

// tableRef returns the fully qualified, backtick-quoted table name.
func (s *Store) tableRef(table string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.client.Project(), s.dataset, table)
}

// run executes a DML statement and waits for it to finish.
func (s *Store) run(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := s.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}
