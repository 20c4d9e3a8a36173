// Package llm talks to the hosted language models used for extraction and
// enrichment.
package llm

import (
	"context"
	"errors"
)

// Client generates a text completion for a single request.
// Implementations must be safe for concurrent use.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Document is a binary attachment sent alongside the prompt.
type Document struct {
	MIMEType string
	Data     []byte
}

// Request describes one model call.
type Request struct {
	// Model overrides the client's default model when set.
	Model       string
	System      string
	Prompt      string
	Document    *Document
	Temperature float32
	MaxTokens   int

	// PromptVersion identifies the template that produced Prompt. It is only
	// used for auditing.
	PromptVersion string
}

// Response is the text the model produced.
type Response struct {
	Text  string
	Model string
}

// RetryableError marks a transport failure worth retrying, such as a 429 or 5xx.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err, or anything it wraps, is a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}
