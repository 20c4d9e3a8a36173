package search

import (
	"context"
	"fmt"

	"github.com/dvloznov/merchant-insights/internal/metrics"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// googleMaxCount is the largest page the Custom Search JSON API returns.
const googleMaxCount = 10

// GoogleClient queries a Google Programmable Search Engine.
type GoogleClient struct {
	svc *customsearch.Service
	cx  string
}

// NewGoogleClient creates a client for the search engine cx. Extra options
// are passed to the API client, e.g. option.WithEndpoint in tests.
func NewGoogleClient(ctx context.Context, apiKey, cx string, opts ...option.ClientOption) (*GoogleClient, error) {
	if apiKey == "" || cx == "" {
		return nil, fmt.Errorf("NewGoogleClient: API key and search engine ID required")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewGoogleClient: create service: %w", err)
	}
	return &GoogleClient{svc: svc, cx: cx}, nil
}

// Search returns up to count results for query.
func (c *GoogleClient) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if count <= 0 || count > googleMaxCount {
		count = googleMaxCount
	}

	res, err := c.svc.Cse.List().Cx(c.cx).Q(query).Num(int64(count)).Context(ctx).Do()
	metrics.Get().RecordSearch("google", err)
	if err != nil {
		return nil, fmt.Errorf("GoogleClient.Search: %w", err)
	}

	results := make([]Result, 0, len(res.Items))
	for _, item := range res.Items {
		results = append(results, cleanResult(Result{URL: item.Link, Title: item.Title, Description: item.Snippet}))
	}
	return results, nil
}

var _ Client = (*GoogleClient)(nil)
