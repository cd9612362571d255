// Package pricefeed defines the historical ETH price collaborator used by
// the ledger, plus adapters that compose upstream providers: a tiered
// primary/secondary lookup, a read-through cache, an HTTP provider and a
// provider backed by the stored price history.
//
// Acquiring prices is not the engine's job; this package only shapes the
// contract the engine depends on.
package pricefeed

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable is returned when no source can price a timestamp.
var ErrPriceUnavailable = errors.New("pricefeed: price unavailable")

// Lookup returns the best-known ETH/USD spot price at or near ts.
// Implementations must return ErrPriceUnavailable (possibly wrapped)
// rather than a zero price.
type Lookup interface {
	HistoricEthPrice(ctx context.Context, ts time.Time) (decimal.Decimal, error)
}

// Provider is a named upstream source of historical prices.
type Provider interface {
	Lookup
	Name() string
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(ctx context.Context, ts time.Time) (decimal.Decimal, error)

// HistoricEthPrice calls f.
func (f LookupFunc) HistoricEthPrice(ctx context.Context, ts time.Time) (decimal.Decimal, error) {
	return f(ctx, ts)
}

// Static is a Provider over a fixed timestamp → price table, keyed at
// second granularity. Useful for replaying recorded prices.
type Static struct {
	SourceName string
	Prices     map[int64]decimal.Decimal
}

// Name returns the provider name.
func (s Static) Name() string {
	if s.SourceName == "" {
		return "static"
	}
	return s.SourceName
}

// HistoricEthPrice returns the price recorded for ts.
func (s Static) HistoricEthPrice(_ context.Context, ts time.Time) (decimal.Decimal, error) {
	p, ok := s.Prices[ts.Unix()]
	if !ok || !p.IsPositive() {
		return decimal.Zero, ErrPriceUnavailable
	}
	return p, nil
}
