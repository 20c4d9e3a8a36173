// Package search wraps the web search backends used to identify merchants.
package search

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Client runs a web search. Implementations must be safe for concurrent use.
type Client interface {
	Search(ctx context.Context, query string, count int) ([]Result, error)
}

// Result is one web search hit.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CommonTLDs are the URL markers that make a result worth keeping.
var CommonTLDs = []string{".com", ".org", ".net", ".co", ".io", ".us", ".biz"}

// FilterByTLD keeps results whose URL contains one of CommonTLDs and returns
// at most limit of them, in their original order. limit <= 0 means no cap.
func FilterByTLD(results []Result, limit int) []Result {
	var kept []Result
	for _, r := range results {
		if limit > 0 && len(kept) == limit {
			break
		}
		u := strings.ToLower(r.URL)
		for _, tld := range CommonTLDs {
			if strings.Contains(u, tld) {
				kept = append(kept, r)
				break
			}
		}
	}
	return kept
}

// CleanSnippet strips the HTML highlighting search backends put in titles and
// descriptions and collapses whitespace.
func CleanSnippet(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func cleanResult(r Result) Result {
	return Result{
		URL:         strings.TrimSpace(r.URL),
		Title:       CleanSnippet(r.Title),
		Description: CleanSnippet(r.Description),
	}
}
