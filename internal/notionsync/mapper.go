package notionsync

import (
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/merchant-insights/internal/domain"
	"github.com/jomei/notionapi"
)

// Property names of the enrichment results database.
const (
	PropMerchant     = "Merchant"
	PropEntryID      = "Entry ID"
	PropRunID        = "Run ID"
	PropMerchantCode = "Merchant Code"
	PropAmount       = "Amount"
	PropDate         = "Date"
	PropWebsite      = "Website"
	PropPhone        = "Phone"
	PropProducts     = "Products"
	PropPriceRange   = "Price Range"
	PropPurchase     = "Purchase"
	PropCompetitors  = "Competitors"
)

// richTextLimit is Notion's maximum length of a single text object.
const richTextLimit = 2000

// EntryID identifies one enriched transaction across syncs.
func EntryID(runID string, index int) string {
	return runID + "/" + strconv.Itoa(index)
}

// MerchantInfoToNotionProperties converts one enrichment result to database
// properties. Unknown values are left out so Notion shows them as empty.
func MerchantInfoToNotionProperties(runID string, info domain.MerchantInfo) notionapi.Properties {
	amount, _ := info.TransactionAmount.Float64()

	props := notionapi.Properties{
		PropMerchant: notionapi.TitleProperty{
			Title: richText(displayName(info)),
		},
		PropEntryID:      notionapi.RichTextProperty{RichText: richText(EntryID(runID, info.TransactionIndex))},
		PropRunID:        notionapi.RichTextProperty{RichText: richText(runID)},
		PropMerchantCode: notionapi.RichTextProperty{RichText: richText(info.MerchantCode)},
		PropAmount:       notionapi.NumberProperty{Number: amount},
	}

	if d, err := time.Parse("2006-01-02", info.TransactionDate); err == nil {
		date := notionapi.Date(d)
		props[PropDate] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &date},
		}
	}
	if known(info.Website) {
		props[PropWebsite] = notionapi.URLProperty{URL: info.Website}
	}
	if known(info.Phone) {
		props[PropPhone] = notionapi.RichTextProperty{RichText: richText(info.Phone)}
	}
	if known(info.ProductDescription) {
		props[PropProducts] = notionapi.RichTextProperty{RichText: richText(info.ProductDescription)}
	}
	if known(info.PriceRange) {
		props[PropPriceRange] = notionapi.RichTextProperty{RichText: richText(info.PriceRange)}
	}
	if info.OriginalTransactionDescription != "" {
		props[PropPurchase] = notionapi.RichTextProperty{RichText: richText(info.OriginalTransactionDescription)}
	}
	if len(info.CompetitorProducts) > 0 {
		props[PropCompetitors] = notionapi.RichTextProperty{RichText: richText(formatCompetitors(info.CompetitorProducts))}
	}

	return props
}

func displayName(info domain.MerchantInfo) string {
	if known(info.Merchant) {
		return info.Merchant
	}
	return info.MerchantCode
}

func known(s string) bool {
	return s != "" && s != domain.Unknown
}

// formatCompetitors renders one line per product: "Name (Company) - Price".
func formatCompetitors(products []domain.CompetitorProduct) string {
	lines := make([]string, 0, len(products))
	for _, p := range products {
		line := p.Name
		if p.Company != "" {
			line += " (" + p.Company + ")"
		}
		if p.Price != "" {
			line += " - " + p.Price
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func richText(content string) []notionapi.RichText {
	if len(content) > richTextLimit {
		content = content[:richTextLimit-3] + "..."
	}
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: content},
		},
	}
}

// plainText reads a rich text or title property back from a queried page.
func plainText(page notionapi.Page, name string) string {
	switch prop := page.Properties[name].(type) {
	case *notionapi.RichTextProperty:
		if len(prop.RichText) > 0 {
			return prop.RichText[0].PlainText
		}
	case *notionapi.TitleProperty:
		if len(prop.Title) > 0 {
			return prop.Title[0].PlainText
		}
	}
	return ""
}
