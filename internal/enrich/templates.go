package enrich

import (
	"fmt"
	"strings"

	"github.com/dvloznov/merchant-insights/internal/search"
	"github.com/shopspring/decimal"
)

// Prompt template versions. Each version is bound to exactly one parser, so a
// prompt change needs a new version rather than an edit in place.
const (
	MerchantV1   = "merchant/v1"
	CompetitorV1 = "competitor/v1"
	CompetitorV2 = "competitor/v2"
	PurchasesV1  = "purchases/v1"
)

// Labels the merchant prompt asks the model to fill in.
const (
	fieldCompanyName = "Company name"
	fieldWebsite     = "Website URL"
	fieldPhone       = "Phone number"
	fieldProducts    = "Products or services"
	fieldPriceRange  = "Price range"
)

// PurchaseWindow is the fraction around the charged amount that the
// likely-purchase prompt searches in, to allow for tax, shipping and fees.
var PurchaseWindow = decimal.NewFromFloat(0.15)

// MerchantTemplate builds the identity prompt and names its parser.
type MerchantTemplate struct {
	Version string
	Build   func(descriptor string, results []search.Result) string
}

// CompetitorTemplate builds the competitor prompt. Repair selects the tolerant
// JSON decoder.
type CompetitorTemplate struct {
	Version string
	Build   func(merchant, description string, amount decimal.Decimal) string
	Repair  bool
}

// PurchaseTemplate builds the likely-purchase prompt.
type PurchaseTemplate struct {
	Version string
	Build   func(descriptor string, results []search.Result, amount decimal.Decimal) string
}

var merchantTemplates = map[string]MerchantTemplate{
	MerchantV1: {Version: MerchantV1, Build: buildMerchantPromptV1},
}

var competitorTemplates = map[string]CompetitorTemplate{
	CompetitorV1: {Version: CompetitorV1, Build: buildCompetitorPromptV1},
	CompetitorV2: {Version: CompetitorV2, Build: buildCompetitorPromptV2, Repair: true},
}

var purchaseTemplates = map[string]PurchaseTemplate{
	PurchasesV1: {Version: PurchasesV1, Build: buildPurchasePromptV1},
}

// MerchantTemplateFor returns the merchant template registered under version.
func MerchantTemplateFor(version string) (MerchantTemplate, error) {
	t, ok := merchantTemplates[version]
	if !ok {
		return MerchantTemplate{}, fmt.Errorf("MerchantTemplateFor: unknown version %q", version)
	}
	return t, nil
}

// CompetitorTemplateFor returns the competitor template registered under version.
func CompetitorTemplateFor(version string) (CompetitorTemplate, error) {
	t, ok := competitorTemplates[version]
	if !ok {
		return CompetitorTemplate{}, fmt.Errorf("CompetitorTemplateFor: unknown version %q", version)
	}
	return t, nil
}

// PurchaseTemplateFor returns the likely-purchase template registered under version.
func PurchaseTemplateFor(version string) (PurchaseTemplate, error) {
	t, ok := purchaseTemplates[version]
	if !ok {
		return PurchaseTemplate{}, fmt.Errorf("PurchaseTemplateFor: unknown version %q", version)
	}
	return t, nil
}

// SearchContext renders search results as the snippet block used in prompts.
func SearchContext(results []search.Result) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "URL: %s\nTitle: %s\nDescription: %s\n", r.URL, r.Title, r.Description)
	}
	return b.String()
}

func buildMerchantPromptV1(descriptor string, results []search.Result) string {
	searchContext := SearchContext(results)
	if searchContext == "" {
		searchContext = "(no search results found)\n"
	}
	return fmt.Sprintf(`Based on these search results about the credit card transaction "%s":

%s
Provide the following information.
Format your response exactly like this, with one piece of information per line:

%s: [official name only]
%s: [url]
%s: [phone]
%s: [brief description]
%s: [range]

If any information is unknown, use 'Unknown' as the value.`,
		descriptor, searchContext,
		fieldCompanyName, fieldWebsite, fieldPhone, fieldProducts, fieldPriceRange)
}

const competitorExample = `{
  "original_transaction": "Large latte and pastry from Blue Bottle Coffee",
  "competitor_products": [
    {
      "product_name": "Grande Caffe Latte",
      "company": "Starbucks",
      "price": "$4.95",
      "description": "16oz espresso and steamed milk",
      "website": "https://www.starbucks.com",
      "comparison": "Similar size latte for about a dollar less"
    }
  ]
}`

func competitorInstructions(merchant, description string, amount decimal.Decimal) string {
	return fmt.Sprintf(`A customer paid $%s to %s.
Transaction description: %s

1. Identify what kind of product or service was most likely purchased.
2. Find 1 to 3 real products or services from competing companies that cost strictly less than $%s.
3. For each, give the product name, the company, the price, a short description, the company website and a one-sentence comparison with the original purchase.
4. Summarise the original transaction in one sentence.`,
		amount.StringFixed(2), merchant, description, amount.StringFixed(2))
}

func buildCompetitorPromptV1(merchant, description string, amount decimal.Decimal) string {
	return competitorInstructions(merchant, description, amount) + `

Return a JSON object with exactly this structure, wrapped in <json></json> tags, and nothing else:

<json>
` + competitorExample + `
</json>`
}

func buildCompetitorPromptV2(merchant, description string, amount decimal.Decimal) string {
	return competitorInstructions(merchant, description, amount) + `

Respond with a single JSON object and no other text. Use this structure:

` + competitorExample + `

Prices may be ranges such as "$10-$15". Use an empty string for unknown values.`
}

// PriceWindow returns the bounds the likely-purchase prompt searches between.
func PriceWindow(amount decimal.Decimal) (low, high decimal.Decimal) {
	buffer := amount.Mul(PurchaseWindow)
	return amount.Sub(buffer), amount.Add(buffer)
}

func buildPurchasePromptV1(descriptor string, results []search.Result, amount decimal.Decimal) string {
	low, high := PriceWindow(amount)
	return fmt.Sprintf(`Based on these search results about %s:

%s
The customer made a purchase for $%s (including possible taxes/fees).
Analyze likely products/services between $%s-$%s.

List up to 3 matches in exactly this format:

Product: [exact product/service name]
Price: [exact price in $XX.XX format, or $XX.XX-$YY.XX for ranges]
Description: [brief description]
Confidence: [number]%%
Reason: [brief explanation]

Consider:
- Base price before tax/shipping
- Common bundles or packages
- Subscription periods (monthly/annual)
- Regional price variations
- Typical discounts`,
		descriptor, SearchContext(results),
		amount.StringFixed(2), low.StringFixed(2), high.StringFixed(2))
}
