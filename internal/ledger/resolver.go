package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opynfinance/squeeth-monorepo-sub005/internal/metrics"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/model"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/pricefeed"
)

// DefaultConcurrency bounds in-flight price lookups per computation.
const DefaultConcurrency = 8

// Ledger computes position PnL, resolving historical ETH prices through a
// pricefeed.Lookup before folding. Lookups run concurrently; the fold
// itself is sequential and independent of lookup completion order.
type Ledger struct {
	lookup      pricefeed.Lookup
	log         *zap.Logger
	concurrency int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithConcurrency sets the maximum number of concurrent lookups.
func WithConcurrency(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// New creates a Ledger over the given price lookup.
func New(lookup pricefeed.Lookup, log *zap.Logger, opts ...Option) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Ledger{
		lookup:      lookup,
		log:         log,
		concurrency: DefaultConcurrency,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// ResolvePrices returns a copy of events with every unresolved ETH price
// filled in. Only events that move a leg need a price; timestamps are
// deduplicated at second granularity so each is looked up once. Any failed
// lookup fails the whole batch with ErrMissingPriceData.
func (l *Ledger) ResolvePrices(ctx context.Context, events []model.PositionEvent) ([]model.PositionEvent, error) {
	need := make(map[int64]time.Time)
	for _, e := range events {
		if e.EthPrice.IsZero() && (!e.OSqthAmount.IsZero() || !e.EthAmount.IsZero()) {
			need[e.Timestamp.Unix()] = e.Timestamp
		}
	}

	out := make([]model.PositionEvent, len(events))
	copy(out, events)
	if len(need) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	prices := make(map[int64]decimal.Decimal, len(need))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for sec, ts := range need {
		g.Go(func() error {
			p, err := l.lookup.HistoricEthPrice(gctx, ts)
			if err != nil {
				return fmt.Errorf("%w: ETH price at %s: %v", ErrMissingPriceData, ts.UTC().Format(time.RFC3339), err)
			}
			if !p.IsPositive() {
				return fmt.Errorf("%w: ETH price at %s: non-positive %s", ErrMissingPriceData, ts.UTC().Format(time.RFC3339), p)
			}
			mu.Lock()
			prices[sec] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.log.Warn("price resolution failed",
			zap.Int("events", len(events)),
			zap.Int("timestamps", len(need)),
			zap.Error(err),
		)
		return nil, err
	}

	for i := range out {
		if out[i].EthPrice.IsZero() {
			if p, ok := prices[out[i].Timestamp.Unix()]; ok {
				out[i].EthPrice = p
			}
		}
	}

	l.log.Debug("prices resolved",
		zap.Int("events", len(events)),
		zap.Int("timestamps", len(need)),
	)
	return out, nil
}

// PositionPnL validates events, resolves missing prices and computes PnL.
func (l *Ledger) PositionPnL(ctx context.Context, events []model.PositionEvent, currentOSqthPrice, currentEthPrice decimal.Decimal) (*model.PnLResult, error) {
	start := time.Now()
	defer metrics.ObserveSince("pnl", start)

	res, err := l.positionPnL(ctx, events, currentOSqthPrice, currentEthPrice)
	metrics.Computations.WithLabelValues("pnl", outcome(err)).Inc()
	return res, err
}

func (l *Ledger) positionPnL(ctx context.Context, events []model.PositionEvent, currentOSqthPrice, currentEthPrice decimal.Decimal) (*model.PnLResult, error) {
	if err := Validate(events); err != nil {
		return nil, err
	}
	resolved, err := l.ResolvePrices(ctx, events)
	if err != nil {
		return nil, err
	}
	return ComputePnL(resolved, currentOSqthPrice, currentEthPrice)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrMissingPriceData):
		return "missing_price"
	}
	return "error"
}
