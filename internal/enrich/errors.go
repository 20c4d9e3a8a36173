package enrich

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Resolution stages reported in ResolutionError.
const (
	StageMerchant   = "merchant"
	StageCompetitor = "competitor"
	StagePurchases  = "purchases"
)

// ResolutionError is a per-transaction enrichment failure. It carries enough
// context to replay the transaction.
type ResolutionError struct {
	Stage        string
	MerchantCode string
	Amount       decimal.Decimal
	Err          error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s resolution failed for %q (%s): %v", e.Stage, e.MerchantCode, e.Amount.StringFixed(2), e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// ContractError means a model response decoded but did not have the shape the
// prompt template promised.
type ContractError struct {
	Version string
	Reason  string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("response for %s violates contract: %s", e.Version, e.Reason)
}
