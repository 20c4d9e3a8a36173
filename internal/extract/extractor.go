// Package extract turns statement documents into transaction records using a
// language model.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dvloznov/merchant-insights/internal/domain"
	"github.com/dvloznov/merchant-insights/internal/llm"
	"github.com/dvloznov/merchant-insights/internal/logger"
)

// PromptVersion identifies the extraction prompt in audit records.
const PromptVersion = "extract/v1"

const (
	extractMaxTokens = 4096
	mimePDF          = "application/pdf"
)

const systemPrompt = `You are a helpful assistant that extracts credit card transactions from statements.
Extract all transactions and return them in this JSON format:
[{"date": "YYYY-MM-DD", "merchant": "Merchant Name", "amount": 123.45}, ...]
Charges are positive amounts. Payments and credits are negative amounts.
Copy the merchant descriptor exactly as printed on the statement.
Only include the JSON array in your response, no other text.
Do NOT wrap the response in code fences.`

// ErrEmptyDocument is returned for a missing or zero-length document.
var ErrEmptyDocument = errors.New("document is empty")

// ExtractionError means the model's answer could not be decoded as a
// transaction array. It is not retried.
type ExtractionError struct {
	Err error
	// Raw is the model output that failed to decode.
	Raw string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Extractor sends statements to the model and decodes the transactions.
type Extractor struct {
	llm llm.Client
}

// NewExtractor creates an Extractor backed by client.
func NewExtractor(client llm.Client) *Extractor {
	return &Extractor{llm: client}
}

// Extract returns the transactions found in document. PDFs and other binary
// documents are attached; text documents are sent inline. An empty result is
// valid.
func (e *Extractor) Extract(ctx context.Context, document []byte) ([]domain.Transaction, error) {
	if len(document) == 0 {
		return nil, ErrEmptyDocument
	}
	log := logger.FromContext(ctx)

	req := llm.Request{
		System:        systemPrompt,
		Temperature:   0,
		MaxTokens:     extractMaxTokens,
		PromptVersion: PromptVersion,
	}

	mimeType := http.DetectContentType(document)
	if strings.HasPrefix(mimeType, "text/") {
		req.Prompt = "Extract the transactions from this credit card statement:\n\n" + string(document)
	} else {
		req.Prompt = "Extract the transactions from the attached credit card statement."
		req.Document = &llm.Document{MIMEType: mimeType, Data: document}
	}
	log.Debug().Str("mime_type", mimeType).Int("bytes", len(document)).Msg("sending document for extraction")

	resp, err := e.llm.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Extract: generate: %w", err)
	}

	txs, err := DecodeTransactions(resp.Text)
	if err != nil {
		return nil, err
	}

	for i, tx := range txs {
		if _, err := tx.CalendarDate(); err != nil {
			log.Warn().Err(err).Int("index", i).Str("merchant", tx.Merchant).Msg("transaction date is not ISO formatted")
		}
	}
	log.Info().Int("transactions", len(txs)).Msg("extracted transactions")
	return txs, nil
}

// DecodeTransactions decodes a model answer that must be a JSON array of
// transactions. Markdown fences are tolerated; anything else is an
// *ExtractionError.
func DecodeTransactions(raw string) ([]domain.Transaction, error) {
	clean := cleanModelJSON(raw)

	var txs []domain.Transaction
	if err := json.Unmarshal([]byte(clean), &txs); err != nil {
		return nil, &ExtractionError{Err: fmt.Errorf("decode transactions: %w", err), Raw: raw}
	}
	if txs == nil {
		// "null" decodes without error.
		return nil, &ExtractionError{Err: errors.New("decode transactions: expected a JSON array"), Raw: raw}
	}
	return txs, nil
}

// cleanModelJSON removes a ```json ... ``` wrapper if the model added one.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])

		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
	}

	return strings.TrimSpace(s)
}
