// Package enrich resolves statement descriptors into merchant identities and
// cheaper competing products.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/dvloznov/merchant-insights/internal/llm"
	"github.com/dvloznov/merchant-insights/internal/logger"
	"github.com/dvloznov/merchant-insights/internal/parser"
	"github.com/dvloznov/merchant-insights/internal/search"
)

const (
	// SearchCount is how many results are requested from the search backend.
	SearchCount = 10
	// MaxSearchResults is how many filtered results are sent to the model.
	MaxSearchResults = 5

	merchantMaxTokens = 1024
)

// processorTags are card processor and wallet prefixes that precede the real
// merchant name in statement descriptors.
var processorTags = map[string]bool{
	"sq":      true,
	"tst":     true,
	"pp":      true,
	"paypal":  true,
	"sp":      true,
	"pos":     true,
	"py":      true,
	"ic":      true,
	"dd":      true,
	"gglpay":  true,
	"apl pay": true,
	"fs":      true,
}

// MerchantFields are the identity fields parsed from the model's answer.
// Missing values hold domain.Unknown.
type MerchantFields struct {
	Name       string
	Website    string
	Phone      string
	Products   string
	PriceRange string
}

// MerchantResolver turns a raw descriptor into a company identity using web
// search and the model.
type MerchantResolver struct {
	llm      llm.Client
	search   search.Client
	parser   *parser.Parser
	template MerchantTemplate
}

// NewMerchantResolver creates a resolver for the given prompt version.
// searchClient may be nil, in which case the model gets no search context.
func NewMerchantResolver(llmClient llm.Client, searchClient search.Client, p *parser.Parser, version string) (*MerchantResolver, error) {
	tmpl, err := MerchantTemplateFor(version)
	if err != nil {
		return nil, fmt.Errorf("NewMerchantResolver: %w", err)
	}
	return &MerchantResolver{llm: llmClient, search: searchClient, parser: p, template: tmpl}, nil
}

// Resolve searches for the merchant behind descriptor and asks the model to
// identify it. Search failures degrade to an empty context; model failures
// are returned as *ResolutionError.
func (r *MerchantResolver) Resolve(ctx context.Context, descriptor string) ([]search.Result, MerchantFields, error) {
	log := logger.FromContext(ctx)

	name := NormalizeDescriptor(descriptor)
	results := r.searchMerchant(ctx, name)
	log.Debug().Str("merchant_code", descriptor).Str("normalized", name).Int("results", len(results)).Msg("merchant search complete")

	resp, err := r.llm.Generate(ctx, llm.Request{
		Prompt:        r.template.Build(descriptor, results),
		MaxTokens:     merchantMaxTokens,
		PromptVersion: r.template.Version,
	})
	if err != nil {
		return results, MerchantFields{}, &ResolutionError{Stage: StageMerchant, MerchantCode: descriptor, Err: err}
	}

	return results, r.parseFields(resp.Text), nil
}

func (r *MerchantResolver) searchMerchant(ctx context.Context, name string) []search.Result {
	if r.search == nil || name == "" {
		return nil
	}
	query := name + " company business contact information"
	results, err := r.search.Search(ctx, query, SearchCount)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("query", query).Msg("search failed, continuing without context")
		return nil
	}
	return search.FilterByTLD(results, MaxSearchResults)
}

func (r *MerchantResolver) parseFields(text string) MerchantFields {
	return MerchantFields{
		Name:       r.parser.ExtractField(text, fieldCompanyName),
		Website:    r.parser.ExtractField(text, fieldWebsite),
		Phone:      r.parser.ExtractField(text, fieldPhone),
		Products:   r.parser.ExtractField(text, fieldProducts),
		PriceRange: r.parser.ExtractField(text, fieldPriceRange),
	}
}

// NormalizeDescriptor turns a statement descriptor such as "SQ *BLUE BOTTLE
// #123" into a search-friendly name ("blue bottle 123").
func NormalizeDescriptor(raw string) string {
	s := strings.TrimSpace(raw)

	if head, tail, ok := strings.Cut(s, "*"); ok {
		if (isProcessorTag(head) || strings.TrimSpace(head) == "") && strings.TrimSpace(tail) != "" {
			s = tail
		} else {
			s = head
		}
	}

	s = cleanWords(s)

	for tag := range processorTags {
		if rest, ok := strings.CutPrefix(s, tag+" "); ok && rest != "" {
			s = rest
			break
		}
	}
	return s
}

func isProcessorTag(s string) bool {
	return processorTags[cleanWords(s)]
}

// cleanWords lower-cases s, drops everything but letters, digits and spaces,
// and collapses runs of whitespace.
func cleanWords(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
