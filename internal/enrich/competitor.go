package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/dvloznov/merchant-insights/internal/domain"
	"github.com/dvloznov/merchant-insights/internal/llm"
	"github.com/dvloznov/merchant-insights/internal/logger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	competitorMaxTokens = 2048

	jsonOpenTag  = "<json>"
	jsonCloseTag = "</json>"

	keyOriginalTransaction = "original_transaction"
	keyCompetitorProducts  = "competitor_products"
)

// CompetitorResolver asks the model for cheaper alternatives to a purchase.
type CompetitorResolver struct {
	llm      llm.Client
	template CompetitorTemplate
}

// NewCompetitorResolver creates a resolver for the given prompt version.
func NewCompetitorResolver(llmClient llm.Client, version string) (*CompetitorResolver, error) {
	tmpl, err := CompetitorTemplateFor(version)
	if err != nil {
		return nil, fmt.Errorf("NewCompetitorResolver: %w", err)
	}
	return &CompetitorResolver{llm: llmClient, template: tmpl}, nil
}

// Resolve returns a one-line summary of the original purchase and up to three
// cheaper competing products. An unreadable response yields ("", nil, nil).
func (r *CompetitorResolver) Resolve(ctx context.Context, merchantName, description string, amount decimal.Decimal) (string, []domain.CompetitorProduct, error) {
	resp, err := r.llm.Generate(ctx, llm.Request{
		Prompt:        r.template.Build(merchantName, description, amount),
		MaxTokens:     competitorMaxTokens,
		PromptVersion: r.template.Version,
	})
	if err != nil {
		return "", nil, &ResolutionError{Stage: StageCompetitor, MerchantCode: description, Amount: amount, Err: err}
	}

	summary, products, err := ParseCompetitorResponse(logger.FromContext(ctx), r.template, resp.Text)
	if err != nil {
		return "", nil, &ResolutionError{Stage: StageCompetitor, MerchantCode: description, Amount: amount, Err: err}
	}
	return summary, products, nil
}

// ParseCompetitorResponse decodes a competitor response produced by tmpl.
// Decode failures are logged and yield ("", nil, nil). A decoded value that
// carries neither expected key returns a *ContractError.
func ParseCompetitorResponse(log zerolog.Logger, tmpl CompetitorTemplate, text string) (string, []domain.CompetitorProduct, error) {
	payload := competitorPayload(text)

	if tmpl.Repair {
		// The repairer turns any prose into a JSON string, so only repair
		// text that at least tries to be an object.
		if !strings.Contains(payload, "{") {
			log.Warn().Str("prompt_version", tmpl.Version).Msg("competitor response has no JSON object")
			return "", nil, nil
		}
		repaired, err := jsonrepair.RepairJSON(payload)
		if err != nil {
			log.Warn().Err(err).Str("prompt_version", tmpl.Version).Msg("could not repair competitor JSON")
			return "", nil, nil
		}
		payload = repaired
	}

	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		log.Warn().Err(err).Str("prompt_version", tmpl.Version).Msg("could not decode competitor JSON")
		return "", nil, nil
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return "", nil, &ContractError{Version: tmpl.Version, Reason: fmt.Sprintf("top-level value is %T, not an object", decoded)}
	}
	rawSummary, hasSummary := obj[keyOriginalTransaction]
	rawProducts, hasProducts := obj[keyCompetitorProducts]
	if !hasSummary && !hasProducts {
		return "", nil, &ContractError{Version: tmpl.Version, Reason: "neither original_transaction nor competitor_products present"}
	}

	summary, _ := scalarString(rawSummary)

	entries, ok := rawProducts.([]any)
	if hasProducts && !ok && rawProducts != nil {
		log.Warn().Str("prompt_version", tmpl.Version).Msgf("competitor_products is %T, expected an array", rawProducts)
	}

	products := make([]domain.CompetitorProduct, 0, len(entries))
	for i, entry := range entries {
		p, err := competitorProduct(entry)
		if err != nil {
			log.Warn().Err(err).Int("entry", i).Str("prompt_version", tmpl.Version).Msg("skipping competitor entry")
			continue
		}
		products = append(products, p)
	}
	return summary, products, nil
}

// competitorPayload prefers the text between <json> tags, else the whole
// response with any markdown fence removed.
func competitorPayload(text string) string {
	if start := strings.Index(text, jsonOpenTag); start != -1 {
		rest := text[start+len(jsonOpenTag):]
		if end := strings.Index(rest, jsonCloseTag); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
	}

	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

func competitorProduct(entry any) (domain.CompetitorProduct, error) {
	obj, ok := entry.(map[string]any)
	if !ok {
		return domain.CompetitorProduct{}, fmt.Errorf("entry is %T, not an object", entry)
	}

	var p domain.CompetitorProduct
	fields := map[string]*string{
		"product_name": &p.Name,
		"company":      &p.Company,
		"price":        &p.Price,
		"description":  &p.Description,
		"website":      &p.Website,
		"comparison":   &p.Comparison,
	}

	for key, dst := range fields {
		v, ok := scalarString(obj[key])
		if !ok {
			return domain.CompetitorProduct{}, fmt.Errorf("field %q is %T, not a scalar", key, obj[key])
		}
		*dst = v
	}
	return p, nil
}

// scalarString renders a decoded JSON scalar as text. Missing and null values
// become "". Objects and arrays are rejected.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case bool:
		return fmt.Sprint(t), true
	default:
		return "", false
	}
}
