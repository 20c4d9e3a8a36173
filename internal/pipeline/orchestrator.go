package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dvloznov/merchant-insights/internal/domain"
	"github.com/dvloznov/merchant-insights/internal/enrich"
	"github.com/dvloznov/merchant-insights/internal/logger"
	"github.com/dvloznov/merchant-insights/internal/metrics"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchLimit = 2
	DefaultWorkers    = 2
)

// Reasons a transaction is not attempted.
const (
	ReasonAutomaticPayment = "automatic_payment"
	ReasonNonPositive      = "non_positive_amount"
	ReasonBatchLimit       = "batch_limit"
	ReasonCancelled        = "cancelled"
)

// Options bound how much of a batch is enriched and how fast.
type Options struct {
	// BatchLimit caps the number of eligible transactions attempted.
	// Zero or negative means no cap.
	BatchLimit int
	// Workers is the number of enrichment pipelines run at once.
	Workers int
}

// DefaultOptions returns the default limits.
func DefaultOptions() Options {
	return Options{BatchLimit: DefaultBatchLimit, Workers: DefaultWorkers}
}

// Skipped records a transaction that was not attempted.
type Skipped struct {
	Index    int    `json:"transaction_index"`
	Merchant string `json:"merchant"`
	Reason   string `json:"reason"`
}

// ItemFailure records an attempted transaction that could not be enriched.
type ItemFailure struct {
	Index        int             `json:"transaction_index"`
	MerchantCode string          `json:"merchant_code"`
	Amount       decimal.Decimal `json:"amount"`
	Stage        string          `json:"stage,omitempty"`
	Error        string          `json:"error"`

	Err error `json:"-"`
}

// BatchResult is the outcome of one Run. Enriched may be lower than
// Attempted; the difference is listed in Failures.
type BatchResult struct {
	Requested int `json:"requested"`
	Eligible  int `json:"eligible"`
	Attempted int `json:"attempted"`
	Enriched  int `json:"enriched"`

	Results  []domain.MerchantInfo `json:"results"`
	Failures []ItemFailure         `json:"failures,omitempty"`
	Skipped  []Skipped             `json:"skipped,omitempty"`
}

// Orchestrator filters a batch of transactions and enriches the eligible ones
// concurrently.
type Orchestrator struct {
	enricher TransactionEnricher
	opts     Options
}

// NewOrchestrator creates an Orchestrator. Workers below 1 fall back to
// DefaultWorkers.
func NewOrchestrator(enricher TransactionEnricher, opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	return &Orchestrator{enricher: enricher, opts: opts}
}

// ExclusionReason reports why tx is never attempted, if it is excluded.
func ExclusionReason(tx domain.Transaction) (string, bool) {
	switch {
	case tx.IsAutomaticPayment():
		return ReasonAutomaticPayment, true
	case !tx.IsPurchase():
		return ReasonNonPositive, true
	default:
		return "", false
	}
}

// Run enriches the eligible transactions in txs. Per-transaction failures are
// recorded in the result and never fail the batch. When ctx is cancelled,
// tasks that have not started are skipped and Run returns the partial result
// together with ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, txs []domain.Transaction) (*BatchResult, error) {
	log := logger.FromContext(ctx)
	m := metrics.Get()

	res := &BatchResult{Requested: len(txs), Results: []domain.MerchantInfo{}}

	var selected []int
	for i, tx := range txs {
		if reason, excluded := ExclusionReason(tx); excluded {
			res.Skipped = append(res.Skipped, Skipped{Index: i, Merchant: tx.Merchant, Reason: reason})
			m.RecordFiltered(reason)
			continue
		}
		res.Eligible++
		if o.opts.BatchLimit > 0 && len(selected) >= o.opts.BatchLimit {
			res.Skipped = append(res.Skipped, Skipped{Index: i, Merchant: tx.Merchant, Reason: ReasonBatchLimit})
			m.RecordFiltered(ReasonBatchLimit)
			continue
		}
		selected = append(selected, i)
	}

	log.Info().
		Int("requested", res.Requested).
		Int("eligible", res.Eligible).
		Int("selected", len(selected)).
		Int("workers", o.opts.Workers).
		Msg("starting enrichment batch")

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(o.opts.Workers)

	for _, idx := range selected {
		tx := txs[idx]
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				res.Skipped = append(res.Skipped, Skipped{Index: idx, Merchant: tx.Merchant, Reason: ReasonCancelled})
				mu.Unlock()
				return nil
			}

			mu.Lock()
			res.Attempted++
			mu.Unlock()

			info, err := o.enricher.Enrich(ctx, idx, tx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failure := ItemFailure{Index: idx, MerchantCode: tx.Merchant, Amount: tx.Amount, Error: err.Error(), Err: err}
				var resErr *enrich.ResolutionError
				if errors.As(err, &resErr) {
					failure.Stage = resErr.Stage
				}
				res.Failures = append(res.Failures, failure)
				m.RecordEnrichment("failed")
				log.Error().Err(err).
					Int("transaction_index", idx).
					Str("merchant_code", tx.Merchant).
					Str("amount", tx.Amount.StringFixed(2)).
					Msg("transaction enrichment failed")
				return nil
			}

			info.TransactionIndex = idx
			res.Results = append(res.Results, *info)
			res.Enriched++
			m.RecordEnrichment("enriched")
			return nil
		})
	}
	// Tasks never return errors; failures are collected above.
	_ = g.Wait()

	sort.Slice(res.Results, func(i, j int) bool { return res.Results[i].TransactionIndex < res.Results[j].TransactionIndex })
	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Index < res.Failures[j].Index })
	sort.Slice(res.Skipped, func(i, j int) bool { return res.Skipped[i].Index < res.Skipped[j].Index })

	log.Info().
		Int("attempted", res.Attempted).
		Int("enriched", res.Enriched).
		Int("failed", len(res.Failures)).
		Msg("enrichment batch complete")

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}
