package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/merchant-insights/internal/logger"
)

const (
	DefaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
)

// RetryingClient retries RetryableError failures of the wrapped client with
// exponential backoff. Other errors are returned immediately.
type RetryingClient struct {
	next        Client
	maxRetries  int
	baseBackoff time.Duration
}

// NewRetryingClient wraps next. A negative maxRetries disables retries.
func NewRetryingClient(next Client, maxRetries int, baseBackoff time.Duration) *RetryingClient {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseBackoff <= 0 {
		baseBackoff = defaultBaseBackoff
	}
	return &RetryingClient{next: next, maxRetries: maxRetries, baseBackoff: baseBackoff}
}

// Generate calls the wrapped client up to maxRetries+1 times.
func (c *RetryingClient) Generate(ctx context.Context, req Request) (*Response, error) {
	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			log.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying model call")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.next.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("RetryingClient.Generate: max retries exceeded: %w", lastErr)
}

var _ Client = (*RetryingClient)(nil)
