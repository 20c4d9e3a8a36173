package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/merchant-insights/internal/config"
	"github.com/dvloznov/merchant-insights/internal/documents"
	"github.com/dvloznov/merchant-insights/internal/domain"
	"github.com/dvloznov/merchant-insights/internal/enrich"
	"github.com/dvloznov/merchant-insights/internal/extract"
	infraBQ "github.com/dvloznov/merchant-insights/internal/infra/bigquery"
	"github.com/dvloznov/merchant-insights/internal/jobs"
	"github.com/dvloznov/merchant-insights/internal/llm"
	"github.com/dvloznov/merchant-insights/internal/logger"
	"github.com/dvloznov/merchant-insights/internal/notionsync"
	"github.com/dvloznov/merchant-insights/internal/parser"
	"github.com/dvloznov/merchant-insights/internal/pipeline"
	"github.com/dvloznov/merchant-insights/internal/search"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// App wires the extraction and enrichment components from configuration.
type App struct {
	cfg *config.Config

	llm       llm.Client
	extractor *extract.Extractor
	enricher  *pipeline.Enricher
	batch     *pipeline.Orchestrator

	documents *documents.Store
	audit     *infraBQ.Store
	notion    *notionsync.Exporter

	closers []func() error
}

// Deps are the external clients an App is built on. Search, Audit and
// Notion may be nil. Logger receives parser soft failures; when nil a
// logger at cfg.Logger.Level is used.
type Deps struct {
	LLM       llm.Client
	Search    search.Client
	Documents *documents.Store
	Audit     *infraBQ.Store
	Notion    notionsync.NotionService
	Logger    *zerolog.Logger
}

// New builds every external client named by cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("New: invalid config: %w", err)
	}
	log := logger.FromContext(ctx)

	var (
		deps    Deps
		closers []func() error
	)

	base, err := newLLMClient(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	deps.LLM = llm.NewRetryingClient(base, cfg.LLM.MaxRetries, cfg.LLM.RetryBackoff)

	deps.Search, err = newSearchClient(ctx, cfg.Search)
	if err != nil {
		return nil, err
	}

	gcs, err := storage.NewClient(ctx)
	if err != nil {
		// Local documents still work without storage credentials.
		log.Warn().Err(err).Msg("storage client unavailable, gs:// documents disabled")
		deps.Documents = documents.NewStore(nil).WithLocalRoot(cfg.Storage.UploadDir)
	} else {
		deps.Documents = documents.NewStore(gcs).WithLocalRoot(cfg.Storage.UploadDir)
		closers = append(closers, gcs.Close)
	}

	if cfg.BigQuery.Enabled() {
		deps.Audit, err = infraBQ.NewStore(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset)
		if err != nil {
			return nil, err
		}
		deps.LLM = llm.NewRecordingClient(deps.LLM, deps.Audit)
		closers = append(closers, deps.Audit.Close)
	}

	if cfg.Notion.Enabled() {
		deps.Notion = notionsync.NewNotionClient(cfg.Notion.Token)
	}
	deps.Logger = &log

	a, err := NewWithDeps(cfg, deps)
	if err != nil {
		return nil, err
	}
	a.closers = closers
	return a, nil
}

// NewWithDeps builds an App around already constructed clients.
func NewWithDeps(cfg *config.Config, deps Deps) (*App, error) {
	parserLog := logger.NewWithLevel(cfg.Logger.Level)
	if deps.Logger != nil {
		parserLog = *deps.Logger
	}
	p := parser.New(parserLog.With().Str("component", "parser").Logger())

	merchants, err := enrich.NewMerchantResolver(deps.LLM, deps.Search, p, cfg.Enrichment.MerchantPrompt)
	if err != nil {
		return nil, fmt.Errorf("NewWithDeps: %w", err)
	}
	competitors, err := enrich.NewCompetitorResolver(deps.LLM, cfg.Enrichment.CompetitorPrompt)
	if err != nil {
		return nil, fmt.Errorf("NewWithDeps: %w", err)
	}

	var purchases pipeline.PurchaseMatcher
	if cfg.Enrichment.LikelyPurchases {
		m, err := enrich.NewPurchaseMatcher(deps.LLM, p, cfg.Enrichment.PurchasesPrompt)
		if err != nil {
			return nil, fmt.Errorf("NewWithDeps: %w", err)
		}
		purchases = m
	}

	docs := deps.Documents
	if docs == nil {
		docs = documents.NewStore(nil).WithLocalRoot(cfg.Storage.UploadDir)
	}

	var notion *notionsync.Exporter
	if deps.Notion != nil {
		notion = notionsync.NewExporter(deps.Notion, cfg.Notion.DatabaseID)
	}

	enricher := pipeline.NewEnricher(merchants, competitors, purchases)
	return &App{
		cfg:       cfg,
		llm:       deps.LLM,
		extractor: extract.NewExtractor(deps.LLM),
		enricher:  enricher,
		batch: pipeline.NewOrchestrator(enricher, pipeline.Options{
			BatchLimit: cfg.Enrichment.BatchLimit,
			Workers:    cfg.Enrichment.Workers,
		}),
		documents: docs,
		audit:     deps.Audit,
		notion:    notion,
	}, nil
}

func newLLMClient(ctx context.Context, cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.Model,
			BaseURL: cfg.AnthropicBaseURL,
			Timeout: cfg.Timeout,
		})
	case config.ProviderGemini:
		model := cfg.Model
		if model == "" {
			model = llm.DefaultGeminiModel
		}
		return llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, model)
	default:
		return nil, fmt.Errorf("newLLMClient: unknown provider %q", cfg.Provider)
	}
}

func newSearchClient(ctx context.Context, cfg config.SearchConfig) (search.Client, error) {
	switch cfg.Backend {
	case config.SearchBrave:
		return search.NewBraveClient(cfg.BraveAPIKey, cfg.BraveBaseURL)
	case config.SearchGoogle:
		return search.NewGoogleClient(ctx, cfg.GoogleAPIKey, cfg.GoogleCX)
	default:
		return nil, nil
	}
}

// Close releases the external clients.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Documents returns the document store.
func (a *App) Documents() *documents.Store {
	return a.documents
}

// Audit returns the BigQuery audit store, or nil when it is not configured.
func (a *App) Audit() *infraBQ.Store {
	return a.audit
}

// ExtractDocument fetches and extracts a document without enriching it.
func (a *App) ExtractDocument(ctx context.Context, ref string) ([]domain.Transaction, error) {
	doc, err := a.documents.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	return a.extractor.Extract(ctx, doc)
}

// EnrichDocument runs the full document pipeline. The returned state holds
// the run ID and, after a cancelled batch, the partial result.
func (a *App) EnrichDocument(ctx context.Context, ref string) (*pipeline.PipelineState, error) {
	var tracker pipeline.RunTracker
	if a.audit != nil {
		tracker = a.audit
	}

	state := &pipeline.PipelineState{DocumentRef: ref}
	p := pipeline.NewDocumentEnrichmentPipeline(a.documents, a.extractor, a.batch, tracker)
	if err := p.Execute(ctx, state); err != nil {
		return state, err
	}
	return state, nil
}

// EnrichTransactions runs the batch orchestrator over already extracted
// transactions.
func (a *App) EnrichTransactions(ctx context.Context, txs []domain.Transaction) (*pipeline.BatchResult, error) {
	runID := uuid.NewString()
	ctx = llm.WithRunID(ctx, runID)
	ctx = logger.WithContext(ctx, logger.WithFields(logger.FromContext(ctx), map[string]interface{}{"run_id": runID}))
	return a.batch.Run(ctx, txs)
}

// AnalyzeMerchant enriches a single descriptor without batch filtering.
func (a *App) AnalyzeMerchant(ctx context.Context, descriptor string, amount decimal.Decimal) (*domain.MerchantInfo, error) {
	return a.enricher.Enrich(ctx, 0, domain.Transaction{Merchant: descriptor, Amount: amount})
}

// HandleJob processes a queued document job. Input errors are marked so the
// queue does not retry them.
func (a *App) HandleJob(ctx context.Context, job *jobs.EnrichDocumentJob) error {
	state, err := a.EnrichDocument(ctx, job.DocumentRef)
	if state != nil {
		job.RunID = state.RunID
		job.Result = state.Result
	}
	if err != nil {
		if IsInputError(err) {
			return jobs.NonRetryable(err)
		}
		return err
	}

	if a.notion != nil && a.cfg.Notion.AutoSync {
		// The enrichment already succeeded; a failed export must not retry it.
		if _, err := a.ExportToNotion(ctx, state.RunID, state.Result, false); err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Str("run_id", state.RunID).Msg("Notion export failed")
		}
	}
	return nil
}

// ErrNotionDisabled is returned by ExportToNotion when no Notion database is
// configured.
var ErrNotionDisabled = errors.New("notion export is not configured")

// ExportToNotion upserts the results of a run into the configured Notion
// database.
func (a *App) ExportToNotion(ctx context.Context, runID string, result *pipeline.BatchResult, dryRun bool) (notionsync.SyncStats, error) {
	if a.notion == nil {
		return notionsync.SyncStats{}, ErrNotionDisabled
	}
	return a.notion.SyncResults(ctx, runID, result, dryRun)
}

// IsInputError reports whether err is caused by the request itself: a
// missing or unreadable document or a statement the model could not turn
// into transactions. Such errors are never retried.
func IsInputError(err error) bool {
	var extractErr *extract.ExtractionError
	switch {
	case errors.Is(err, os.ErrNotExist),
		errors.Is(err, storage.ErrObjectNotExist),
		errors.Is(err, storage.ErrBucketNotExist),
		errors.Is(err, extract.ErrEmptyDocument),
		errors.Is(err, documents.ErrNoStorageClient),
		errors.Is(err, documents.ErrInvalidURI),
		errors.Is(err, documents.ErrOutsideUploadDir),
		errors.As(err, &extractErr):
		return true
	default:
		return false
	}
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config {
	return a.cfg
}
