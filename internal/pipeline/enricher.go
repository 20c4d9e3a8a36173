package pipeline

import (
	"context"
	"errors"

	"github.com/dvloznov/merchant-insights/internal/domain"
	"github.com/dvloznov/merchant-insights/internal/enrich"
	"github.com/dvloznov/merchant-insights/internal/logger"
	"github.com/dvloznov/merchant-insights/internal/search"
	"github.com/shopspring/decimal"
)

// MerchantResolver is satisfied by *enrich.MerchantResolver.
type MerchantResolver interface {
	Resolve(ctx context.Context, descriptor string) ([]search.Result, enrich.MerchantFields, error)
}

// CompetitorResolver is satisfied by *enrich.CompetitorResolver.
type CompetitorResolver interface {
	Resolve(ctx context.Context, merchantName, description string, amount decimal.Decimal) (string, []domain.CompetitorProduct, error)
}

// PurchaseMatcher is satisfied by *enrich.PurchaseMatcher.
type PurchaseMatcher interface {
	Match(ctx context.Context, descriptor string, results []search.Result, amount decimal.Decimal) ([]domain.ProductMatch, error)
}

// TransactionEnricher enriches a single eligible transaction.
type TransactionEnricher interface {
	Enrich(ctx context.Context, index int, tx domain.Transaction) (*domain.MerchantInfo, error)
}

// Enricher runs merchant resolution, then competitor analysis, then the
// optional likely-purchase match, strictly in that order.
type Enricher struct {
	merchants   MerchantResolver
	competitors CompetitorResolver
	purchases   PurchaseMatcher
}

// NewEnricher creates an Enricher. purchases may be nil to skip the
// likely-purchase step.
func NewEnricher(merchants MerchantResolver, competitors CompetitorResolver, purchases PurchaseMatcher) *Enricher {
	return &Enricher{merchants: merchants, competitors: competitors, purchases: purchases}
}

// Enrich resolves tx into a MerchantInfo tagged with index.
func (e *Enricher) Enrich(ctx context.Context, index int, tx domain.Transaction) (*domain.MerchantInfo, error) {
	results, fields, err := e.merchants.Resolve(ctx, tx.Merchant)
	if err != nil {
		return nil, annotate(err, tx)
	}

	merchantName := fields.Name
	if merchantName == domain.Unknown || merchantName == "" {
		merchantName = tx.Merchant
	}

	summary, products, err := e.competitors.Resolve(ctx, merchantName, tx.Merchant, tx.Amount)
	if err != nil {
		return nil, annotate(err, tx)
	}
	if products == nil {
		products = []domain.CompetitorProduct{}
	}

	info := &domain.MerchantInfo{
		MerchantCode:                   tx.Merchant,
		Merchant:                       fields.Name,
		Website:                        fields.Website,
		Phone:                          fields.Phone,
		ProductDescription:             fields.Products,
		PriceRange:                     fields.PriceRange,
		TransactionAmount:              tx.Amount,
		TransactionDate:                tx.Date,
		CompetitorProducts:             products,
		OriginalTransactionDescription: summary,
		TransactionIndex:               index,
	}

	if e.purchases != nil {
		matches, err := e.purchases.Match(ctx, tx.Merchant, results, tx.Amount)
		if err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(annotate(err, tx)).Msg("likely purchase match failed, continuing without it")
		} else {
			info.LikelyPurchases = matches
		}
	}

	return info, nil
}

// annotate fills the transaction context into a resolution error.
func annotate(err error, tx domain.Transaction) error {
	var resErr *enrich.ResolutionError
	if errors.As(err, &resErr) {
		resErr.MerchantCode = tx.Merchant
		resErr.Amount = tx.Amount
	}
	return err
}
