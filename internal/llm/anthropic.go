package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dvloznov/merchant-insights/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	DefaultAnthropicModel = "claude-3-5-sonnet-20241022"

	defaultMaxTokens = 4096
	defaultTimeout   = 60 * time.Second
	defaultRateLimit = 50.0 / 60.0 // 50 requests per minute
	defaultBurst     = 5
)

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey  string `json:"-"`
	Model   string
	BaseURL string
	Timeout time.Duration
}

// AnthropicClient implements Client against the Anthropic Messages API.
type AnthropicClient struct {
	client  anthropic.Client
	model   string
	limiter *rate.Limiter
}

// NewAnthropicClient creates a rate-limited Anthropic client. SDK retries are
// disabled; wrap the client in a RetryingClient instead.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("NewAnthropicClient: API key required")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if baseURL := strings.TrimRight(cfg.BaseURL, "/"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &AnthropicClient{
		client:  anthropic.NewClient(opts...),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}, nil
}

// Generate performs a single Messages API call.
func (a *AnthropicClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("AnthropicClient.Generate: rate limiter: %w", err)
	}

	start := time.Now()
	msg, err := a.client.Messages.New(ctx, a.buildParams(req))
	if err != nil {
		err = classifyAnthropicError(ctx, err)
	}
	metrics.Get().RecordLLMRequest("anthropic", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("AnthropicClient.Generate: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("AnthropicClient.Generate: empty response from API")
	}

	model := string(msg.Model)
	if model == "" {
		model = a.modelFor(req)
	}
	return &Response{Text: text.String(), Model: model}, nil
}

func (a *AnthropicClient) modelFor(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return a.model
}

func (a *AnthropicClient) buildParams(req Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var blocks []anthropic.ContentBlockParamUnion
	if req.Document != nil {
		blocks = append(blocks, documentBlock(req.Document))
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.modelFor(req)),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

// documentBlock sends PDFs as base64 documents and anything else as plain text.
func documentBlock(doc *Document) anthropic.ContentBlockParamUnion {
	if doc.MIMEType == "application/pdf" {
		return anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{
			Data: base64.StdEncoding.EncodeToString(doc.Data),
		})
	}
	return anthropic.NewDocumentBlock(anthropic.PlainTextSourceParam{
		Data: string(doc.Data),
	})
}

// classifyAnthropicError marks 429, 5xx and transport failures as retryable.
func classifyAnthropicError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.StatusCode) {
			return &RetryableError{Err: err}
		}
		return err
	}
	return &RetryableError{Err: err}
}

var _ Client = (*AnthropicClient)(nil)
