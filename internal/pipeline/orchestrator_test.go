package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/merchant-insights/internal/domain"
	"github.com/dvloznov/merchant-insights/internal/enrich"
	"github.com/dvloznov/merchant-insights/internal/llm"
	"github.com/dvloznov/merchant-insights/internal/logger"
	"github.com/dvloznov/merchant-insights/internal/parser"
	"github.com/dvloznov/merchant-insights/internal/search"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MockEnricher is a TransactionEnricher whose behaviour is set per test.
type MockEnricher struct {
	EnrichFunc func(ctx context.Context, index int, tx domain.Transaction) (*domain.MerchantInfo, error)

	mu       sync.Mutex
	attempts []int
}

func (m *MockEnricher) Enrich(ctx context.Context, index int, tx domain.Transaction) (*domain.MerchantInfo, error) {
	m.mu.Lock()
	m.attempts = append(m.attempts, index)
	m.mu.Unlock()
	return m.EnrichFunc(ctx, index, tx)
}

func (m *MockEnricher) attempted() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.attempts...)
}

func succeed(ctx context.Context, index int, tx domain.Transaction) (*domain.MerchantInfo, error) {
	return &domain.MerchantInfo{MerchantCode: tx.Merchant, TransactionAmount: tx.Amount}, nil
}

func tx(merchant, amount string) domain.Transaction {
	return domain.Transaction{Date: "2024-03-05", Merchant: merchant, Amount: decimal.RequireFromString(amount)}
}

func quietContext() context.Context {
	return logger.WithContext(context.Background(), zerolog.New(io.Discard))
}

func threeTransactionBatch() []domain.Transaction {
	return []domain.Transaction{
		tx("AUTOMATIC PAYMENT - THANK YOU", "-500.00"),
		tx("SQ *BLUE BOTTLE", "45.00"),
		tx("AMAZON REFUND", "-12.00"),
	}
}

func TestOrchestrator_ThreeTransactionBatch_Success(t *testing.T) {
	enricher := &MockEnricher{EnrichFunc: succeed}
	o := NewOrchestrator(enricher, DefaultOptions())

	res, err := o.Run(quietContext(), threeTransactionBatch())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := enricher.attempted(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("Expected exactly the $45.00 purchase to be attempted, got %v", got)
	}
	if res.Requested != 3 || res.Eligible != 1 || res.Attempted != 1 || res.Enriched != 1 {
		t.Errorf("Unexpected counts: %+v", res)
	}
	if len(res.Results) != 1 || res.Results[0].TransactionIndex != 1 || res.Results[0].MerchantCode != "SQ *BLUE BOTTLE" {
		t.Errorf("Unexpected results: %+v", res.Results)
	}

	reasons := map[int]string{}
	for _, s := range res.Skipped {
		reasons[s.Index] = s.Reason
	}
	if reasons[0] != ReasonAutomaticPayment || reasons[2] != ReasonNonPositive {
		t.Errorf("Unexpected skip reasons: %v", reasons)
	}
}

func TestOrchestrator_ThreeTransactionBatch_Failure(t *testing.T) {
	enricher := &MockEnricher{EnrichFunc: func(ctx context.Context, index int, tx domain.Transaction) (*domain.MerchantInfo, error) {
		return nil, &enrich.ResolutionError{Stage: enrich.StageMerchant, MerchantCode: tx.Merchant, Amount: tx.Amount, Err: errors.New("503")}
	}}

	var logs strings.Builder
	ctx := logger.WithContext(context.Background(), zerolog.New(&logs))
	o := NewOrchestrator(enricher, DefaultOptions())

	res, err := o.Run(ctx, threeTransactionBatch())
	if err != nil {
		t.Fatalf("Item failures must not fail the batch: %v", err)
	}
	if len(res.Results) != 0 || res.Enriched != 0 {
		t.Errorf("Expected no results, got %+v", res.Results)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("Expected 1 failure, got %d", len(res.Failures))
	}
	f := res.Failures[0]
	if f.Index != 1 || f.Stage != enrich.StageMerchant || !f.Amount.Equal(decimal.NewFromInt(45)) {
		t.Errorf("Unexpected failure: %+v", f)
	}
	if strings.Count(logs.String(), "transaction enrichment failed") != 1 {
		t.Errorf("Expected one logged failure, got:\n%s", logs.String())
	}
	if !strings.Contains(logs.String(), `"merchant_code":"SQ *BLUE BOTTLE"`) || !strings.Contains(logs.String(), `"amount":"45.00"`) {
		t.Errorf("Failure log should carry merchant code and amount:\n%s", logs.String())
	}
}

func TestOrchestrator_EndToEndWithResolvers(t *testing.T) {
	llmClient := &stubLLM{byVersion: map[string]string{
		enrich.MerchantV1: "Company name: Blue Bottle Coffee\nWebsite URL: https://bluebottlecoffee.com\nPhone number: Unknown\nProducts or services: Coffee",
		enrich.CompetitorV1: `<json>{"original_transaction": "Coffee and pastries", "competitor_products": [
			{"product_name": "Latte", "company": "Starbucks", "price": "$4.95", "description": "Latte", "website": "https://starbucks.com", "comparison": "Cheaper"}]}</json>`,
	}}
	searchClient := stubSearch{results: []search.Result{{URL: "https://bluebottlecoffee.com", Title: "Blue Bottle", Description: "Coffee"}}}
	p := parser.New(zerolog.New(io.Discard))

	merchants, err := enrich.NewMerchantResolver(llmClient, searchClient, p, enrich.MerchantV1)
	if err != nil {
		t.Fatal(err)
	}
	competitors, err := enrich.NewCompetitorResolver(llmClient, enrich.CompetitorV1)
	if err != nil {
		t.Fatal(err)
	}

	o := NewOrchestrator(NewEnricher(merchants, competitors, nil), DefaultOptions())
	res, err := o.Run(quietContext(), threeTransactionBatch())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Results) != 1 {
		t.Fatalf("Expected 1 result, got %+v", res)
	}

	info := res.Results[0]
	if info.Merchant != "Blue Bottle Coffee" || info.Phone != domain.Unknown || info.MerchantCode != "SQ *BLUE BOTTLE" {
		t.Errorf("Unexpected merchant info: %+v", info)
	}
	if info.OriginalTransactionDescription != "Coffee and pastries" || len(info.CompetitorProducts) != 1 {
		t.Errorf("Unexpected competitor data: %+v", info)
	}
	if info.TransactionIndex != 1 {
		t.Errorf("TransactionIndex = %d, want 1", info.TransactionIndex)
	}
}

func TestOrchestrator_BatchLimit(t *testing.T) {
	txs := []domain.Transaction{
		tx("A", "1"), tx("B", "2"), tx("C", "3"), tx("D", "4"),
	}

	tests := []struct {
		name      string
		limit     int
		attempted int
	}{
		{"default limit", DefaultBatchLimit, 2},
		{"limit above eligible", 10, 4},
		{"unlimited", 0, 4},
		{"negative is unlimited", -1, 4},
		{"single", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enricher := &MockEnricher{EnrichFunc: succeed}
			o := NewOrchestrator(enricher, Options{BatchLimit: tt.limit, Workers: 2})

			res, err := o.Run(quietContext(), txs)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if res.Attempted != tt.attempted || len(enricher.attempted()) != tt.attempted {
				t.Errorf("Attempted = %d, want %d", res.Attempted, tt.attempted)
			}
			if res.Eligible != 4 {
				t.Errorf("Eligible = %d, want 4", res.Eligible)
			}
			// The first eligible transactions in input order are the ones attempted.
			for i, r := range res.Results {
				if r.TransactionIndex != i {
					t.Errorf("Results[%d].TransactionIndex = %d", i, r.TransactionIndex)
				}
			}
		})
	}
}

func TestOrchestrator_FilterProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	merchants := []string{"AUTOMATIC PAYMENT", "automatic payment - thanks", "SQ *COFFEE", "AMAZON", "UBER *TRIP"}

	for round := 0; round < 50; round++ {
		n := rng.Intn(12)
		txs := make([]domain.Transaction, n)
		for i := range txs {
			cents := rng.Intn(20000) - 5000
			txs[i] = domain.Transaction{
				Merchant: merchants[rng.Intn(len(merchants))],
				Amount:   decimal.New(int64(cents), -2),
			}
		}
		limit := rng.Intn(5) - 1

		enricher := &MockEnricher{EnrichFunc: func(ctx context.Context, index int, tx domain.Transaction) (*domain.MerchantInfo, error) {
			if index%3 == 0 {
				return nil, errors.New("flaky")
			}
			return succeed(ctx, index, tx)
		}}
		o := NewOrchestrator(enricher, Options{BatchLimit: limit, Workers: 3})

		res, err := o.Run(quietContext(), txs)
		if err != nil {
			t.Fatalf("round %d: Run failed: %v", round, err)
		}

		eligible := 0
		for _, tx := range txs {
			if _, excluded := ExclusionReason(tx); !excluded {
				eligible++
			}
		}
		for _, idx := range enricher.attempted() {
			if _, excluded := ExclusionReason(txs[idx]); excluded {
				t.Fatalf("round %d: excluded transaction %d (%+v) was attempted", round, idx, txs[idx])
			}
		}

		want := eligible
		if limit > 0 && limit < want {
			want = limit
		}
		if res.Eligible != eligible {
			t.Errorf("round %d: Eligible = %d, want %d", round, res.Eligible, eligible)
		}
		if res.Attempted != want {
			t.Errorf("round %d: Attempted = %d, want %d", round, res.Attempted, want)
		}
		if res.Enriched > want || res.Enriched+len(res.Failures) != res.Attempted {
			t.Errorf("round %d: inconsistent counts %+v", round, res)
		}
	}
}

func TestOrchestrator_ResultsSortedByIndex(t *testing.T) {
	var txs []domain.Transaction
	for i := 0; i < 8; i++ {
		txs = append(txs, tx(fmt.Sprintf("M%d", i), "10"))
	}
	enricher := &MockEnricher{EnrichFunc: func(ctx context.Context, index int, tx domain.Transaction) (*domain.MerchantInfo, error) {
		// Later transactions finish first.
		time.Sleep(time.Duration(8-index) * time.Millisecond)
		return succeed(ctx, index, tx)
	}}

	o := NewOrchestrator(enricher, Options{BatchLimit: 0, Workers: 8})
	res, err := o.Run(quietContext(), txs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for i, r := range res.Results {
		if r.TransactionIndex != i || r.MerchantCode != fmt.Sprintf("M%d", i) {
			t.Errorf("Results[%d] = index %d (%s)", i, r.TransactionIndex, r.MerchantCode)
		}
	}
}

func TestOrchestrator_WorkerBound(t *testing.T) {
	var current, peak atomic.Int32
	enricher := &MockEnricher{EnrichFunc: func(ctx context.Context, index int, tx domain.Transaction) (*domain.MerchantInfo, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return succeed(ctx, index, tx)
	}}

	var txs []domain.Transaction
	for i := 0; i < 10; i++ {
		txs = append(txs, tx("M", "10"))
	}

	o := NewOrchestrator(enricher, Options{BatchLimit: 0, Workers: 2})
	if _, err := o.Run(quietContext(), txs); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("Peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestOrchestrator_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(quietContext())
	defer cancel()

	enricher := &MockEnricher{EnrichFunc: func(ctx context.Context, index int, tx domain.Transaction) (*domain.MerchantInfo, error) {
		if index == 0 {
			cancel()
			return succeed(ctx, index, tx)
		}
		return nil, errors.New("should not run")
	}}

	txs := []domain.Transaction{tx("A", "1"), tx("B", "2"), tx("C", "3")}
	o := NewOrchestrator(enricher, Options{BatchLimit: 0, Workers: 1})

	res, err := o.Run(ctx, txs)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if res == nil {
		t.Fatal("Expected a partial result")
	}
	if res.Attempted != 1 || res.Enriched != 1 || len(res.Results) != 1 {
		t.Errorf("Expected only the first transaction to run, got %+v", res)
	}
	if got := enricher.attempted(); len(got) != 1 {
		t.Errorf("Queued tasks should be skipped after cancel, attempted %v", got)
	}
	cancelled := 0
	for _, s := range res.Skipped {
		if s.Reason == ReasonCancelled {
			cancelled++
		}
	}
	if cancelled != 2 {
		t.Errorf("Expected 2 cancelled skips, got %d", cancelled)
	}
}

func TestExclusionReason(t *testing.T) {
	tests := []struct {
		tx     domain.Transaction
		reason string
	}{
		{tx("AUTOMATIC PAYMENT - THANK YOU", "-100"), ReasonAutomaticPayment},
		{tx("Automatic Payment", "25"), ReasonAutomaticPayment},
		{tx("REFUND", "-12"), ReasonNonPositive},
		{tx("ZERO", "0"), ReasonNonPositive},
		{tx("SQ *COFFEE", "4.50"), ""},
	}
	for _, tt := range tests {
		reason, excluded := ExclusionReason(tt.tx)
		if reason != tt.reason || excluded != (tt.reason != "") {
			t.Errorf("ExclusionReason(%q, %s) = %q, %v", tt.tx.Merchant, tt.tx.Amount, reason, excluded)
		}
	}
}

// stubLLM answers by prompt version.
type stubLLM struct {
	byVersion map[string]string
}

func (s *stubLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	text, ok := s.byVersion[req.PromptVersion]
	if !ok {
		return nil, fmt.Errorf("no stub for %q", req.PromptVersion)
	}
	return &llm.Response{Text: text, Model: "stub"}, nil
}

type stubSearch struct {
	results []search.Result
	err     error
}

func (s stubSearch) Search(ctx context.Context, query string, count int) ([]search.Result, error) {
	return s.results, s.err
}
