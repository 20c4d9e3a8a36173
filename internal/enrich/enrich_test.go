package enrich

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/dvloznov/merchant-insights/internal/domain"
	"github.com/dvloznov/merchant-insights/internal/llm"
	"github.com/dvloznov/merchant-insights/internal/parser"
	"github.com/dvloznov/merchant-insights/internal/search"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MockLLM is a llm.Client whose behaviour is set per test.
type MockLLM struct {
	GenerateFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)
	requests     []llm.Request
}

func (m *MockLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.requests = append(m.requests, req)
	return m.GenerateFunc(ctx, req)
}

// MockSearch is a search.Client whose behaviour is set per test.
type MockSearch struct {
	SearchFunc func(ctx context.Context, query string, count int) ([]search.Result, error)
	queries    []string
}

func (m *MockSearch) Search(ctx context.Context, query string, count int) ([]search.Result, error) {
	m.queries = append(m.queries, query)
	return m.SearchFunc(ctx, query, count)
}

func textLLM(text string) *MockLLM {
	return &MockLLM{GenerateFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: text}, nil
	}}
}

func failingLLM(err error) *MockLLM {
	return &MockLLM{GenerateFunc: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return nil, err
	}}
}

func testParser() *parser.Parser {
	return parser.New(zerolog.New(io.Discard))
}

func TestNormalizeDescriptor(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"SQ *BLUE BOTTLE COFFEE", "blue bottle coffee"},
		{"AMAZON MKTPLACE*AB12CD34", "amazon mktplace"},
		{"TST* JOE'S PIZZA #12", "joes pizza 12"},
		{"PAYPAL *SPOTIFY", "spotify"},
		{"  Starbucks   Store 1234  ", "starbucks store 1234"},
		{"POS TARGET 0123", "target 0123"},
		{"APL PAY APPLE.COM/BILL", "applecombill"},
		{"SQ", "sq"},
		{"SQ *", "sq"},
		{"* BLUE BOTTLE", "blue bottle"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := NormalizeDescriptor(tt.raw); got != tt.want {
				t.Errorf("NormalizeDescriptor(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

const merchantAnswer = `Company name: Blue Bottle Coffee, Inc.
Website URL: https://bluebottlecoffee.com
Phone number: Unknown
Products or services: Specialty coffee and cafes
Price range: $4-$8`

func TestMerchantResolver_Resolve(t *testing.T) {
	searchClient := &MockSearch{SearchFunc: func(ctx context.Context, query string, count int) ([]search.Result, error) {
		if count != SearchCount {
			t.Errorf("count = %d, want %d", count, SearchCount)
		}
		return []search.Result{
			{URL: "https://bluebottlecoffee.com", Title: "Blue Bottle", Description: "Coffee"},
			{URL: "https://blue-bottle.de", Title: "Not kept", Description: "-"},
		}, nil
	}}
	llmClient := textLLM(merchantAnswer)

	r, err := NewMerchantResolver(llmClient, searchClient, testParser(), MerchantV1)
	if err != nil {
		t.Fatalf("NewMerchantResolver failed: %v", err)
	}

	results, fields, err := r.Resolve(context.Background(), "SQ *BLUE BOTTLE")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if len(searchClient.queries) != 1 || searchClient.queries[0] != "blue bottle company business contact information" {
		t.Errorf("Unexpected search queries: %v", searchClient.queries)
	}
	if len(results) != 1 {
		t.Errorf("Expected TLD-filtered results, got %+v", results)
	}
	want := MerchantFields{
		Name:       "Blue Bottle Coffee, Inc.",
		Website:    "https://bluebottlecoffee.com",
		Phone:      domain.Unknown,
		Products:   "Specialty coffee and cafes",
		PriceRange: "$4-$8",
	}
	if fields != want {
		t.Errorf("fields = %+v, want %+v", fields, want)
	}

	req := llmClient.requests[0]
	if req.PromptVersion != MerchantV1 {
		t.Errorf("PromptVersion = %q", req.PromptVersion)
	}
	if !strings.Contains(req.Prompt, "SQ *BLUE BOTTLE") || !strings.Contains(req.Prompt, "URL: https://bluebottlecoffee.com") {
		t.Errorf("Prompt is missing descriptor or search context:\n%s", req.Prompt)
	}
}

func TestMerchantResolver_SearchFailureDegrades(t *testing.T) {
	searchClient := &MockSearch{SearchFunc: func(ctx context.Context, query string, count int) ([]search.Result, error) {
		return nil, errors.New("connection refused")
	}}
	llmClient := textLLM("Company name: Unknown")

	r, _ := NewMerchantResolver(llmClient, searchClient, testParser(), MerchantV1)
	results, fields, err := r.Resolve(context.Background(), "MYSTERY LLC")
	if err != nil {
		t.Fatalf("Search failure must not fail resolution: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results, got %+v", results)
	}
	if fields.Name != domain.Unknown || fields.Website != domain.Unknown {
		t.Errorf("Expected Unknown fields, got %+v", fields)
	}
	if len(llmClient.requests) != 1 {
		t.Fatal("Model should still be called with an empty context")
	}
	if !strings.Contains(llmClient.requests[0].Prompt, "no search results found") {
		t.Error("Prompt should note the empty search context")
	}
}

func TestMerchantResolver_NilSearch(t *testing.T) {
	r, _ := NewMerchantResolver(textLLM(merchantAnswer), nil, testParser(), MerchantV1)
	if _, fields, err := r.Resolve(context.Background(), "BLUE BOTTLE"); err != nil || fields.Name == domain.Unknown {
		t.Errorf("Resolve() = %+v, %v", fields, err)
	}
}

func TestMerchantResolver_LLMError(t *testing.T) {
	cause := errors.New("503 unavailable")
	r, _ := NewMerchantResolver(failingLLM(cause), nil, testParser(), MerchantV1)

	_, _, err := r.Resolve(context.Background(), "ACME")

	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("Expected *ResolutionError, got %v", err)
	}
	if resErr.Stage != StageMerchant || resErr.MerchantCode != "ACME" {
		t.Errorf("Unexpected error fields: %+v", resErr)
	}
	if !errors.Is(err, cause) {
		t.Error("ResolutionError should wrap the transport error")
	}
}

func TestNewResolvers_UnknownVersion(t *testing.T) {
	if _, err := NewMerchantResolver(nil, nil, nil, "merchant/v9"); err == nil {
		t.Error("Expected error for unknown merchant version")
	}
	if _, err := NewCompetitorResolver(nil, "competitor/v9"); err == nil {
		t.Error("Expected error for unknown competitor version")
	}
	if _, err := NewPurchaseMatcher(nil, nil, "purchases/v9"); err == nil {
		t.Error("Expected error for unknown purchases version")
	}
}

func mustCompetitorTemplate(t *testing.T, version string) CompetitorTemplate {
	t.Helper()
	tmpl, err := CompetitorTemplateFor(version)
	if err != nil {
		t.Fatalf("CompetitorTemplateFor(%q): %v", version, err)
	}
	return tmpl
}

func TestParseCompetitorResponse_ExampleRoundTrip(t *testing.T) {
	for _, version := range []string{CompetitorV1, CompetitorV2} {
		t.Run(version, func(t *testing.T) {
			tmpl := mustCompetitorTemplate(t, version)
			text := "Here you go:\n" + jsonOpenTag + "\n" + competitorExample + "\n" + jsonCloseTag

			summary, products, err := ParseCompetitorResponse(zerolog.Nop(), tmpl, text)
			if err != nil {
				t.Fatalf("ParseCompetitorResponse failed: %v", err)
			}
			if summary != "Large latte and pastry from Blue Bottle Coffee" {
				t.Errorf("summary = %q", summary)
			}
			if len(products) != 1 {
				t.Fatalf("Expected 1 product, got %d", len(products))
			}
			want := domain.CompetitorProduct{
				Name:        "Grande Caffe Latte",
				Company:     "Starbucks",
				Price:       "$4.95",
				Description: "16oz espresso and steamed milk",
				Website:     "https://www.starbucks.com",
				Comparison:  "Similar size latte for about a dollar less",
			}
			if products[0] != want {
				t.Errorf("product = %+v, want %+v", products[0], want)
			}
		})
	}
}

func TestParseCompetitorResponse(t *testing.T) {
	tests := []struct {
		name         string
		version      string
		text         string
		wantSummary  string
		wantProducts []domain.CompetitorProduct
		wantContract bool
	}{
		{
			name:        "whole response is JSON",
			version:     CompetitorV1,
			text:        `{"original_transaction": "Gym membership", "competitor_products": [{"product_name": "Basic", "company": "Planet Fitness", "price": 10}]}`,
			wantSummary: "Gym membership",
			wantProducts: []domain.CompetitorProduct{
				{Name: "Basic", Company: "Planet Fitness", Price: "10"},
			},
		},
		{
			name:        "fenced JSON",
			version:     CompetitorV1,
			text:        "```json\n{\"original_transaction\": \"Book\", \"competitor_products\": []}\n```",
			wantSummary: "Book",
		},
		{
			name:    "malformed JSON soft-fails",
			version: CompetitorV1,
			text:    `<json>{"original_transaction": "Book",</json>`,
		},
		{
			name:    "prose soft-fails",
			version: CompetitorV2,
			text:    "I could not find any competitors.",
		},
		{
			name:        "bad entries are skipped",
			version:     CompetitorV1,
			text:        `{"original_transaction": "Shoes", "competitor_products": ["junk", {"product_name": {"nested": true}}, {"product_name": "Runner", "company": "Brooks"}]}`,
			wantSummary: "Shoes",
			wantProducts: []domain.CompetitorProduct{
				{Name: "Runner", Company: "Brooks"},
			},
		},
		{
			name:         "object without expected keys",
			version:      CompetitorV1,
			text:         `{"answer": "nothing"}`,
			wantContract: true,
		},
		{
			name:         "array instead of object",
			version:      CompetitorV1,
			text:         `[{"product_name": "x"}]`,
			wantContract: true,
		},
		{
			name:        "repair trailing commas",
			version:     CompetitorV2,
			text:        `{"original_transaction": "Headphones", "competitor_products": [{"product_name": "Soundcore Q20", "company": "Anker", "price": "$39.99",},],}`,
			wantSummary: "Headphones",
			wantProducts: []domain.CompetitorProduct{
				{Name: "Soundcore Q20", Company: "Anker", Price: "$39.99"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary, products, err := ParseCompetitorResponse(zerolog.Nop(), mustCompetitorTemplate(t, tt.version), tt.text)

			var contractErr *ContractError
			if tt.wantContract {
				if !errors.As(err, &contractErr) {
					t.Fatalf("Expected *ContractError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if summary != tt.wantSummary {
				t.Errorf("summary = %q, want %q", summary, tt.wantSummary)
			}
			if len(products) != len(tt.wantProducts) {
				t.Fatalf("Expected %d products, got %d: %+v", len(tt.wantProducts), len(products), products)
			}
			for i := range products {
				if products[i] != tt.wantProducts[i] {
					t.Errorf("product[%d] = %+v, want %+v", i, products[i], tt.wantProducts[i])
				}
			}
		})
	}
}

func TestParseCompetitorResponse_LogsDecodeFailure(t *testing.T) {
	var buf bytes.Buffer
	_, _, err := ParseCompetitorResponse(zerolog.New(&buf), mustCompetitorTemplate(t, CompetitorV1), "not json")
	if err != nil {
		t.Fatalf("Decode failure should not return an error: %v", err)
	}
	if !strings.Contains(buf.String(), "could not decode competitor JSON") {
		t.Errorf("Expected decode warning, got %q", buf.String())
	}
}

func TestCompetitorResolver_Resolve(t *testing.T) {
	llmClient := textLLM(jsonOpenTag + competitorExample + jsonCloseTag)
	r, err := NewCompetitorResolver(llmClient, CompetitorV1)
	if err != nil {
		t.Fatalf("NewCompetitorResolver failed: %v", err)
	}

	summary, products, err := r.Resolve(context.Background(), "Blue Bottle Coffee", "SQ *BLUE BOTTLE", decimal.RequireFromString("12.50"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if summary == "" || len(products) != 1 {
		t.Errorf("Unexpected result: %q, %+v", summary, products)
	}

	prompt := llmClient.requests[0].Prompt
	if !strings.Contains(prompt, "$12.50") || !strings.Contains(prompt, "Blue Bottle Coffee") {
		t.Errorf("Prompt missing amount or merchant:\n%s", prompt)
	}
}

func TestCompetitorResolver_ContractFailure(t *testing.T) {
	r, _ := NewCompetitorResolver(textLLM(`{"unexpected": 1}`), CompetitorV1)

	_, _, err := r.Resolve(context.Background(), "Acme", "ACME*123", decimal.NewFromInt(20))

	var resErr *ResolutionError
	var contractErr *ContractError
	if !errors.As(err, &resErr) || !errors.As(err, &contractErr) {
		t.Fatalf("Expected ResolutionError wrapping ContractError, got %v", err)
	}
	if resErr.Stage != StageCompetitor {
		t.Errorf("Stage = %q", resErr.Stage)
	}
}

func TestCompetitorResolver_LLMError(t *testing.T) {
	r, _ := NewCompetitorResolver(failingLLM(errors.New("timeout")), CompetitorV2)
	if _, _, err := r.Resolve(context.Background(), "Acme", "ACME", decimal.NewFromInt(5)); err == nil {
		t.Error("Expected error")
	}
}

func TestPriceWindow(t *testing.T) {
	low, high := PriceWindow(decimal.RequireFromString("100.00"))
	if !low.Equal(decimal.NewFromInt(85)) || !high.Equal(decimal.NewFromInt(115)) {
		t.Errorf("PriceWindow(100) = %s, %s", low, high)
	}
}

func TestPurchaseMatcher_Match(t *testing.T) {
	llmClient := textLLM("Product: Large Latte\nPrice: $5.50\nConfidence: 90%\nReason: exact")
	m, err := NewPurchaseMatcher(llmClient, testParser(), PurchasesV1)
	if err != nil {
		t.Fatalf("NewPurchaseMatcher failed: %v", err)
	}

	matches, err := m.Match(context.Background(), "SQ *BLUE BOTTLE", nil, decimal.RequireFromString("5.75"))
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if len(matches) != 1 || matches[0].Name != "Large Latte" || matches[0].ConfidenceScore != 90 {
		t.Errorf("Unexpected matches: %+v", matches)
	}

	prompt := llmClient.requests[0].Prompt
	if !strings.Contains(prompt, "$4.89-$6.61") {
		t.Errorf("Prompt should carry the 15%% window:\n%s", prompt)
	}
}
