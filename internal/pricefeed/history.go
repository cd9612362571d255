package pricefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceHistory is the stored price history a HistoryProvider reads from.
// store.Store satisfies it.
type PriceHistory interface {
	EthPriceAt(ctx context.Context, ts time.Time, tolerance time.Duration) (decimal.Decimal, error)
}

// HistoryProvider serves prices from recorded history, accepting the
// latest observation no older than Tolerance.
type HistoryProvider struct {
	history   PriceHistory
	tolerance time.Duration
}

// NewHistoryProvider creates a provider over stored price history.
func NewHistoryProvider(h PriceHistory, tolerance time.Duration) *HistoryProvider {
	return &HistoryProvider{history: h, tolerance: tolerance}
}

// Name returns the provider name.
func (p *HistoryProvider) Name() string { return "history" }

// HistoricEthPrice implements Lookup.
func (p *HistoryProvider) HistoricEthPrice(ctx context.Context, ts time.Time) (decimal.Decimal, error) {
	price, err := p.history.EthPriceAt(ctx, ts, p.tolerance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	return price, nil
}
