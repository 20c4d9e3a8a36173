package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/merchant-insights/internal/domain"
	"github.com/dvloznov/merchant-insights/internal/llm"
	"github.com/dvloznov/merchant-insights/internal/logger"
	"github.com/google/uuid"
)

// DocumentFetcher loads a document by reference (local path or gs:// URI).
type DocumentFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// TransactionExtractor is satisfied by *extract.Extractor.
type TransactionExtractor interface {
	Extract(ctx context.Context, document []byte) ([]domain.Transaction, error)
}

// BatchRunner is satisfied by *Orchestrator.
type BatchRunner interface {
	Run(ctx context.Context, txs []domain.Transaction) (*BatchResult, error)
}

// RunTracker records the lifecycle of a document enrichment run.
type RunTracker interface {
	StartRun(ctx context.Context, runID, documentRef string) error
	MarkRunSucceeded(ctx context.Context, runID string, result *BatchResult) error
	MarkRunFailed(ctx context.Context, runID string, runErr error)
}

// PipelineStep represents a single step in the document pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	DocumentRef  string
	RunID        string
	Document     []byte
	Transactions []domain.Transaction
	Result       *BatchResult
}

// StartRunStep assigns a run ID and records the run start. Audit failures are
// logged and never fail the document.
type StartRunStep struct {
	Tracker RunTracker
}

func (s *StartRunStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.RunID == "" {
		state.RunID = uuid.NewString()
	}
	if s.Tracker == nil {
		return nil
	}
	if err := s.Tracker.StartRun(ctx, state.RunID, state.DocumentRef); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("run_id", state.RunID).Msg("Failed to record run start")
	}
	return nil
}

// FetchDocumentStep loads the document bytes.
type FetchDocumentStep struct {
	Fetcher DocumentFetcher
}

func (s *FetchDocumentStep) Execute(ctx context.Context, state *PipelineState) error {
	doc, err := s.Fetcher.Fetch(ctx, state.DocumentRef)
	if err != nil {
		return err
	}
	state.Document = doc
	return nil
}

// ExtractTransactionsStep turns the document into transactions.
type ExtractTransactionsStep struct {
	Extractor TransactionExtractor
}

func (s *ExtractTransactionsStep) Execute(ctx context.Context, state *PipelineState) error {
	txs, err := s.Extractor.Extract(ctx, state.Document)
	if err != nil {
		return err
	}
	state.Transactions = txs
	return nil
}

// EnrichTransactionsStep runs the batch orchestrator over the transactions.
// A cancelled batch still leaves its partial result in state.
type EnrichTransactionsStep struct {
	Runner BatchRunner
}

func (s *EnrichTransactionsStep) Execute(ctx context.Context, state *PipelineState) error {
	result, err := s.Runner.Run(ctx, state.Transactions)
	state.Result = result
	return err
}

// MarkSuccessStep marks the run as succeeded. Like StartRunStep it only logs
// audit failures.
type MarkSuccessStep struct {
	Tracker RunTracker
}

func (s *MarkSuccessStep) Execute(ctx context.Context, state *PipelineState) error {
	if s.Tracker == nil {
		return nil
	}
	if err := s.Tracker.MarkRunSucceeded(ctx, state.RunID, state.Result); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("run_id", state.RunID).Msg("Failed to record run success")
	}
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps   []PipelineStep
	tracker RunTracker
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// WithTracker makes Execute mark the run failed when a step fails.
func (p *Pipeline) WithTracker(t RunTracker) *Pipeline {
	p.tracker = t
	return p
}

// Execute runs all steps in the pipeline sequentially. Model calls made by
// the steps are tagged with the run ID.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	tagged := false
	for i, step := range p.steps {
		if !tagged && state.RunID != "" {
			ctx = llm.WithRunID(ctx, state.RunID)
			ctx = logger.WithContext(ctx, logger.WithFields(logger.FromContext(ctx), map[string]interface{}{"run_id": state.RunID}))
			tagged = true
		}
		if err := step.Execute(ctx, state); err != nil {
			if p.tracker != nil && state.RunID != "" {
				p.tracker.MarkRunFailed(ctx, state.RunID, err)
			}
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// NewDocumentEnrichmentPipeline creates the standard pipeline: start run,
// fetch, extract, enrich, mark success. tracker may be nil.
func NewDocumentEnrichmentPipeline(fetcher DocumentFetcher, extractor TransactionExtractor, runner BatchRunner, tracker RunTracker) *Pipeline {
	p := NewPipeline(
		&StartRunStep{Tracker: tracker},
		&FetchDocumentStep{Fetcher: fetcher},
		&ExtractTransactionsStep{Extractor: extractor},
		&EnrichTransactionsStep{Runner: runner},
		&MarkSuccessStep{Tracker: tracker},
	)
	if tracker != nil {
		p.WithTracker(tracker)
	}
	return p
}
