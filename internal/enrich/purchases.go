package enrich

import (
	"context"
	"fmt"

	"github.com/dvloznov/merchant-insights/internal/domain"
	"github.com/dvloznov/merchant-insights/internal/llm"
	"github.com/dvloznov/merchant-insights/internal/parser"
	"github.com/dvloznov/merchant-insights/internal/search"
	"github.com/shopspring/decimal"
)

const purchaseMaxTokens = 1024

// PurchaseMatcher guesses which of the merchant's products the charge paid for.
type PurchaseMatcher struct {
	llm      llm.Client
	parser   *parser.Parser
	template PurchaseTemplate
}

// NewPurchaseMatcher creates a matcher for the given prompt version.
func NewPurchaseMatcher(llmClient llm.Client, p *parser.Parser, version string) (*PurchaseMatcher, error) {
	tmpl, err := PurchaseTemplateFor(version)
	if err != nil {
		return nil, fmt.Errorf("NewPurchaseMatcher: %w", err)
	}
	return &PurchaseMatcher{llm: llmClient, parser: p, template: tmpl}, nil
}

// Match returns up to three candidate products priced near amount, reusing
// the search results gathered during merchant resolution.
func (m *PurchaseMatcher) Match(ctx context.Context, descriptor string, results []search.Result, amount decimal.Decimal) ([]domain.ProductMatch, error) {
	resp, err := m.llm.Generate(ctx, llm.Request{
		Prompt:        m.template.Build(descriptor, results, amount),
		MaxTokens:     purchaseMaxTokens,
		PromptVersion: m.template.Version,
	})
	if err != nil {
		return nil, &ResolutionError{Stage: StagePurchases, MerchantCode: descriptor, Amount: amount, Err: err}
	}
	return m.parser.ParseProductMatches(resp.Text), nil
}
