package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/merchant-insights/internal/llm"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

// NewModelOutputRow converts a recorded model response into a table row.
func NewModelOutputRow(out llm.Output) *ModelOutputRow {
	return &ModelOutputRow{
		OutputID:      uuid.NewString(),
		RunID:         out.RunID,
		ModelName:     out.Model,
		PromptVersion: out.PromptVersion,
		RawText:       out.Text,
		CreatedTS:     out.CreatedAt,
	}
}

// RecordOutput inserts one model response. It satisfies llm.Recorder.
// Uses DML INSERT to avoid streaming buffer issues.
func (s *Store) RecordOutput(ctx context.Context, out llm.Output) error {
	row := NewModelOutputRow(out)

	sql := `
		INSERT INTO ` + s.tableRef(modelOutputsTable) + ` (
			output_id, run_id, model_name, prompt_version, raw_text, created_ts
		)
		VALUES (
			@output_id, @run_id, @model_name, @prompt_version, @raw_text, @created_ts
		)
	`
	err := s.run(ctx, sql, []bigquery.QueryParameter{
		{Name: "output_id", Value: row.OutputID},
		{Name: "run_id", Value: row.RunID},
		{Name: "model_name", Value: row.ModelName},
		{Name: "prompt_version", Value: row.PromptVersion},
		{Name: "raw_text", Value: row.RawText},
		{Name: "created_ts", Value: row.CreatedTS},
	})
	if err != nil {
		return fmt.Errorf("RecordOutput: %w", err)
	}
	return nil
}

// ListModelOutputs returns the model responses recorded for runID, oldest first.
func (s *Store) ListModelOutputs(ctx context.Context, runID string) ([]*ModelOutputRow, error) {
	q := s.client.Query(`
		SELECT output_id, run_id, model_name, prompt_version, raw_text, created_ts
		FROM ` + s.tableRef(modelOutputsTable) + `
		WHERE run_id = @run_id
		ORDER BY created_ts
	`)
	q.Parameters = []bigquery.QueryParameter{{Name: "run_id", Value: runID}}

	it, err := q.Read(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("ListModelOutputs: table %s.%s not found, run migrate first: %w", s.dataset, modelOutputsTable, err)
		}
		return nil, fmt.Errorf("ListModelOutputs: reading query: %w", err)
	}

	var rows []*ModelOutputRow
	for {
		var row ModelOutputRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListModelOutputs: iterating rows: %w", err)
		}
		rows = append(rows, &row)
	}
	return rows, nil
}

var _ llm.Recorder = (*Store)(nil)
