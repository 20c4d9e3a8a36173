package domain

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Unknown is the value used for any field the model did not supply.
// A field equal to Unknown carries no information.
const Unknown = "Unknown"

// AutomaticPaymentMarker identifies card repayments on a statement.
const AutomaticPaymentMarker = "AUTOMATIC PAYMENT"

// Transaction is one line of a card statement as returned by the extractor.
// Amount is positive for charges and zero or negative for payments and credits.
type Transaction struct {
	Date     string          `json:"date"`
	Merchant string          `json:"merchant"`
	Amount   decimal.Decimal `json:"amount"`
}

// CalendarDate parses Date as an ISO "YYYY-MM-DD" date.
func (t Transaction) CalendarDate() (civil.Date, error) {
	d, err := civil.ParseDate(strings.TrimSpace(t.Date))
	if err != nil {
		return civil.Date{}, fmt.Errorf("CalendarDate: %q: %w", t.Date, err)
	}
	return d, nil
}

// IsAutomaticPayment reports whether the descriptor marks a card repayment.
func (t Transaction) IsAutomaticPayment() bool {
	return strings.Contains(strings.ToUpper(t.Merchant), AutomaticPaymentMarker)
}

// IsPurchase reports whether the transaction is a charge (amount > 0).
func (t Transaction) IsPurchase() bool {
	return t.Amount.IsPositive()
}
