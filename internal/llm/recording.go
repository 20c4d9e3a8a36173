package llm

import (
	"context"
	"time"

	"github.com/dvloznov/merchant-insights/internal/logger"
)

type runIDKey struct{}

// WithRunID tags ctx with the enrichment run that model calls belong to.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run ID set by WithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Output is one model response kept for auditing.
type Output struct {
	RunID         string
	PromptVersion string
	Model         string
	Text          string
	CreatedAt     time.Time
}

// Recorder persists model outputs.
type Recorder interface {
	RecordOutput(ctx context.Context, out Output) error
}

// RecordingClient passes every successful response to a Recorder.
// Recording failures are logged and never fail the call.
type RecordingClient struct {
	next     Client
	recorder Recorder
}

func NewRecordingClient(next Client, recorder Recorder) *RecordingClient {
	return &RecordingClient{next: next, recorder: recorder}
}

func (c *RecordingClient) Generate(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.next.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	out := Output{
		RunID:         RunIDFromContext(ctx),
		PromptVersion: req.PromptVersion,
		Model:         resp.Model,
		Text:          resp.Text,
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.recorder.RecordOutput(ctx, out); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("prompt_version", req.PromptVersion).Msg("failed to record model output")
	}
	return resp, nil
}

var _ Client = (*RecordingClient)(nil)
