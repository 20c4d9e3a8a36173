package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/merchant-insights/internal/metrics"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when neither the client nor the request names a model.
const DefaultGeminiModel = "gemini-2.5-flash"

// contentGenerator is the subset of *genai.Models used by GeminiClient.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements Client on the Google GenAI SDK.
type GeminiClient struct {
	models contentGenerator
	model  string
}

// NewGeminiClient creates a Gemini-backed client. With an empty apiKey the SDK
// falls back to its environment configuration (GOOGLE_API_KEY or Vertex AI).
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
		cfg.Backend = genai.BackendGeminiAPI
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClient: create genai client: %w", err)
	}
	return newGeminiClient(client.Models, model), nil
}

func newGeminiClient(models contentGenerator, model string) *GeminiClient {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{models: models, model: model}
}

// Generate sends the prompt, and the document if any, as a single user turn.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	parts := []*genai.Part{{Text: req.Prompt}}
	if req.Document != nil {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: req.Document.MIMEType,
				Data:     req.Document.Data,
			},
		})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	start := time.Now()
	resp, err := c.models.GenerateContent(ctx, model, contents, config)
	metrics.Get().RecordLLMRequest("gemini", err, time.Since(start))
	if err != nil {
		if geminiRetryable(err) {
			return nil, &RetryableError{Err: fmt.Errorf("GeminiClient.Generate: %w", err)}
		}
		return nil, fmt.Errorf("GeminiClient.Generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("GeminiClient.Generate: empty response from model")
	}
	return &Response{Text: text, Model: model}, nil
}

func geminiRetryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return retryableStatus(apiErrPtr.Code)
	}
	return false
}

var _ Client = (*GeminiClient)(nil)
