package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/merchant-insights/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	defaultBraveBaseURL = "https://api.search.brave.com"
	braveSearchPath     = "/res/v1/web/search"
	braveMaxCount       = 20

	defaultSearchTimeout = 15 * time.Second
	braveRateLimit       = 1.0 // free tier allows one query per second
)

// BraveClient queries the Brave web search API.
type BraveClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type braveResponse struct {
	Web struct {
		Results []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// NewBraveClient creates a Brave client. baseURL may be empty.
func NewBraveClient(apiKey, baseURL string) (*BraveClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("NewBraveClient: API key required")
	}
	if baseURL == "" {
		baseURL = defaultBraveBaseURL
	}
	return &BraveClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultSearchTimeout},
		limiter:    rate.NewLimiter(rate.Limit(braveRateLimit), 1),
	}, nil
}

// Search returns up to count results for query.
func (c *BraveClient) Search(ctx context.Context, query string, count int) ([]Result, error) {
	results, err := c.search(ctx, query, count)
	metrics.Get().RecordSearch("brave", err)
	if err != nil {
		return nil, fmt.Errorf("BraveClient.Search: %w", err)
	}
	return results, nil
}

func (c *BraveClient) search(ctx context.Context, query string, count int) ([]Result, error) {
	if count <= 0 || count > braveMaxCount {
		count = braveMaxCount
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+braveSearchPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var out braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	results := make([]Result, 0, len(out.Web.Results))
	for _, r := range out.Web.Results {
		results = append(results, cleanResult(Result{URL: r.URL, Title: r.Title, Description: r.Description}))
	}
	return results, nil
}

var _ Client = (*BraveClient)(nil)
