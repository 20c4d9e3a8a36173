package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dvloznov/merchant-insights/internal/domain"
)

// ErrInvalidTransactionsFile is wrapped by every LoadTransactionsFile failure
// caused by the file's content.
var ErrInvalidTransactionsFile = errors.New("invalid transactions file")

// TransactionsFile is the stored form of an extraction result.
type TransactionsFile struct {
	Transactions []domain.Transaction `json:"transactions"`
}

// LoadTransactionsFile reads a {"transactions": [...]} file written by a
// previous extraction.
func LoadTransactionsFile(path string) ([]domain.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadTransactionsFile: %w", err)
	}
	defer f.Close()

	txs, err := ReadTransactionsFile(f)
	if err != nil {
		return nil, fmt.Errorf("LoadTransactionsFile: %s: %w", path, err)
	}
	return txs, nil
}

// ReadTransactionsFile decodes a transactions file from r.
func ReadTransactionsFile(r io.Reader) ([]domain.Transaction, error) {
	var file struct {
		Transactions *[]domain.Transaction `json:"transactions"`
	}
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransactionsFile, err)
	}
	if file.Transactions == nil {
		return nil, fmt.Errorf("%w: missing \"transactions\" array", ErrInvalidTransactionsFile)
	}
	return *file.Transactions, nil
}

// WriteTransactionsFile encodes txs in the stored form.
func WriteTransactionsFile(w io.Writer, txs []domain.Transaction) error {
	if txs == nil {
		txs = []domain.Transaction{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(TransactionsFile{Transactions: txs}); err != nil {
		return fmt.Errorf("WriteTransactionsFile: %w", err)
	}
	return nil
}
