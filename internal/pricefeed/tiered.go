package pricefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/opynfinance/squeeth-monorepo-sub005/internal/metrics"
)

// DefaultMinFreshness is how old a timestamp must be before the primary
// provider is asked for it. The primary source lags real time; anything
// newer goes straight to the secondary.
const DefaultMinFreshness = time.Hour

// Tiered resolves prices from a primary provider and falls back to a
// secondary one, skipping the primary for very recent timestamps.
type Tiered struct {
	primary      Provider
	secondary    Provider
	minFreshness time.Duration
	now          func() time.Time
	log          *zap.Logger
}

// TieredOption configures a Tiered lookup.
type TieredOption func(*Tiered)

// WithMinFreshness overrides DefaultMinFreshness.
func WithMinFreshness(d time.Duration) TieredOption {
	return func(t *Tiered) { t.minFreshness = d }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) TieredOption {
	return func(t *Tiered) { t.now = now }
}

// NewTiered creates a tiered lookup. Either provider may be nil, but not both.
func NewTiered(primary, secondary Provider, log *zap.Logger, opts ...TieredOption) (*Tiered, error) {
	if primary == nil && secondary == nil {
		return nil, fmt.Errorf("pricefeed: tiered lookup needs at least one provider")
	}
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tiered{
		primary:      primary,
		secondary:    secondary,
		minFreshness: DefaultMinFreshness,
		now:          time.Now,
		log:          log,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// HistoricEthPrice implements Lookup.
func (t *Tiered) HistoricEthPrice(ctx context.Context, ts time.Time) (decimal.Decimal, error) {
	var primaryErr error

	if t.primary != nil {
		if t.now().Sub(ts) < t.minFreshness {
			metrics.PriceLookups.WithLabelValues(t.primary.Name(), "skipped").Inc()
		} else {
			p, err := t.primary.HistoricEthPrice(ctx, ts)
			if err == nil && p.IsPositive() {
				metrics.PriceLookups.WithLabelValues(t.primary.Name(), "hit").Inc()
				return p, nil
			}
			metrics.PriceLookups.WithLabelValues(t.primary.Name(), "error").Inc()
			primaryErr = err
			t.log.Debug("primary price source failed",
				zap.String("source", t.primary.Name()),
				zap.Time("ts", ts),
				zap.Error(err),
			)
		}
	}

	if t.secondary != nil {
		p, err := t.secondary.HistoricEthPrice(ctx, ts)
		if err == nil && p.IsPositive() {
			metrics.PriceLookups.WithLabelValues(t.secondary.Name(), "hit").Inc()
			return p, nil
		}
		metrics.PriceLookups.WithLabelValues(t.secondary.Name(), "error").Inc()
		if ctx.Err() != nil {
			return decimal.Zero, fmt.Errorf("%w at %s: %v", ErrPriceUnavailable, ts.UTC().Format(time.RFC3339), ctx.Err())
		}
		return decimal.Zero, fmt.Errorf("%w at %s: primary: %v, secondary: %v",
			ErrPriceUnavailable, ts.UTC().Format(time.RFC3339), primaryErr, err)
	}

	return decimal.Zero, fmt.Errorf("%w at %s: %v", ErrPriceUnavailable, ts.UTC().Format(time.RFC3339), primaryErr)
}
