package domain

import "github.com/shopspring/decimal"

// ProductMatch is one candidate product parsed from a "Product:/Price:/..." block.
type ProductMatch struct {
	Name            string  `json:"name"`
	Price           float64 `json:"price"`
	Description     string  `json:"description"`
	ConfidenceScore float64 `json:"confidence_score"`
	MatchReason     string  `json:"match_reason"`
}

// CompetitorProduct is a cheaper alternative suggested by the model.
// Price is kept as the model wrote it; it may be a range or a phrase.
type CompetitorProduct struct {
	Name        string `json:"name"`
	Company     string `json:"company"`
	Price       string `json:"price"`
	Description string `json:"description"`
	Website     string `json:"website,omitempty"`
	Comparison  string `json:"comparison"`
}

// MerchantInfo is the enrichment result for one transaction.
type MerchantInfo struct {
	// MerchantCode is the statement descriptor exactly as extracted.
	MerchantCode       string          `json:"merchant_code"`
	Merchant           string          `json:"merchant"`
	Website            string          `json:"website"`
	Phone              string          `json:"phone"`
	ProductDescription string          `json:"product_description"`
	PriceRange         string          `json:"price_range,omitempty"`
	TransactionAmount  decimal.Decimal `json:"transaction_amount"`
	TransactionDate    string          `json:"transaction_date,omitempty"`

	CompetitorProducts             []CompetitorProduct `json:"competitor_products"`
	OriginalTransactionDescription string              `json:"original_transaction_description"`

	// LikelyPurchases is only populated when purchase matching is enabled.
	LikelyPurchases []ProductMatch `json:"likely_purchases,omitempty"`

	// TransactionIndex is the position of the source transaction in the batch.
	TransactionIndex int `json:"transaction_index"`
}
