// Package ledger folds a position's chronological event log into running
// cost basis per asset leg and derives realized and unrealized PnL.
//
// Each leg (oSQTH and ETH) keeps a signed open quantity and the signed
// notional paid for it. Increases add notional at the event price;
// decreases realize against the average open price in effect at that
// moment. When a leg's quantity reaches or crosses zero every accumulator
// resets, so a reopened position starts from a fresh basis.
//
// The oSQTH leg is priced in USD as OSqthPriceInEth * EthPrice. Collected
// fees are valued at the current price, not the collection-time price.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opynfinance/squeeth-monorepo-sub005/internal/model"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/numeric"
)

var (
	// ErrInvalidInput is returned for malformed events or marks. Nothing
	// has been accumulated when it is returned.
	ErrInvalidInput = errors.New("ledger: invalid input")

	// ErrMissingPriceData is returned when an event that moves a leg has
	// no usable price. The whole computation fails; a missing price is
	// never treated as zero.
	ErrMissingPriceData = errors.New("ledger: missing price data")
)

// Validate checks an event list before any accumulation: known kinds,
// amount signs that agree with the kind, non-negative prices and
// collected amounts, and non-decreasing timestamps.
func Validate(events []model.PositionEvent) error {
	var prev time.Time
	for i, e := range events {
		if !e.Kind.Valid() {
			return fmt.Errorf("%w: event %d: unknown kind %q", ErrInvalidInput, i, e.Kind)
		}
		if i > 0 && e.Timestamp.Before(prev) {
			return fmt.Errorf("%w: event %d: timestamp %s before previous %s",
				ErrInvalidInput, i, e.Timestamp.UTC().Format(time.RFC3339), prev.UTC().Format(time.RFC3339))
		}
		prev = e.Timestamp

		if want := e.Kind.ExpectedSign(); want != 0 {
			for _, amt := range []decimal.Decimal{e.OSqthAmount, e.EthAmount} {
				if amt.Sign() != 0 && amt.Sign() != want {
					return fmt.Errorf("%w: event %d: %s amount %s has the wrong sign", ErrInvalidInput, i, e.Kind, amt)
				}
			}
		}
		if e.OSqthPriceInEth.IsNegative() || e.EthPrice.IsNegative() {
			return fmt.Errorf("%w: event %d: negative price", ErrInvalidInput, i)
		}
		if e.CollectedOSqth.IsNegative() || e.CollectedEth.IsNegative() {
			return fmt.Errorf("%w: event %d: negative collected amount", ErrInvalidInput, i)
		}
	}
	return nil
}

// Fold validates events and folds them, in order, into a LedgerState.
func Fold(events []model.PositionEvent) (model.LedgerState, error) {
	if err := Validate(events); err != nil {
		return model.LedgerState{}, err
	}

	var st model.LedgerState
	for i, e := range events {
		if err := requirePrices(i, e); err != nil {
			return model.LedgerState{}, err
		}
		st.OSqth = applyLeg(st.OSqth, e.OSqthAmount, e.OSqthUnitPrice())
		st.Eth = applyLeg(st.Eth, e.EthAmount, e.EthPrice)
		st.CollectedOSqth = st.CollectedOSqth.Add(e.CollectedOSqth)
		st.CollectedEth = st.CollectedEth.Add(e.CollectedEth)
	}
	return st, nil
}

// requirePrices fails when a leg moves without a price to value it at.
func requirePrices(i int, e model.PositionEvent) error {
	missing := func(what string) error {
		return fmt.Errorf("%w: event %d (%s at %s): %s unavailable",
			ErrMissingPriceData, i, e.Kind, e.Timestamp.UTC().Format(time.RFC3339), what)
	}
	if !e.OSqthAmount.IsZero() {
		if e.OSqthPriceInEth.IsZero() {
			return missing("oSQTH price")
		}
		if e.EthPrice.IsZero() {
			return missing("ETH price")
		}
	}
	if !e.EthAmount.IsZero() && e.EthPrice.IsZero() {
		return missing("ETH price")
	}
	return nil
}

// applyLeg applies a signed amount traded at price to one leg.
func applyLeg(l model.LegState, amount, price decimal.Decimal) model.LegState {
	if amount.IsZero() {
		return l
	}

	// Opening or adding to the current side.
	if l.OpenAmount.IsZero() || l.OpenAmount.Sign() == amount.Sign() {
		l.OpenAmount = l.OpenAmount.Add(amount)
		l.OpenCost = l.OpenCost.Add(amount.Mul(price))
		return l
	}

	// Reducing: realize the closed quantity against the average open price.
	side := numeric.Sign(l.OpenAmount)
	closed := numeric.MinAbs(amount, l.OpenAmount)
	avg := l.OpenUnitCost()

	l.Realized = l.Realized.Add(price.Sub(avg).Mul(closed).Mul(side))
	l.OpenCost = l.OpenCost.Sub(avg.Mul(closed).Mul(side))
	l.CloseAmount = l.CloseAmount.Add(closed)
	l.CloseProceeds = l.CloseProceeds.Add(closed.Mul(price))
	l.OpenAmount = l.OpenAmount.Add(amount)

	if l.OpenAmount.IsZero() || l.OpenAmount.Sign() == amount.Sign() {
		// Flat or flipped: drop the old basis, then open any residual
		// fresh at this price.
		residual := l.OpenAmount
		l = model.LegState{Realized: l.Realized}
		if !residual.IsZero() {
			l.OpenAmount = residual
			l.OpenCost = residual.Mul(price)
		}
	}
	return l
}

// ComputePnL folds events and marks the result at the current prices.
// currentOSqthPrice is ETH-denominated; currentEthPrice is USD.
func ComputePnL(events []model.PositionEvent, currentOSqthPrice, currentEthPrice decimal.Decimal) (*model.PnLResult, error) {
	if !currentOSqthPrice.IsPositive() || !currentEthPrice.IsPositive() {
		return nil, fmt.Errorf("%w: current prices must be positive (oSQTH %s, ETH %s)",
			ErrInvalidInput, currentOSqthPrice, currentEthPrice)
	}
	st, err := Fold(events)
	if err != nil {
		return nil, err
	}
	return Evaluate(st, currentOSqthPrice, currentEthPrice), nil
}

// Evaluate marks a folded state at the given prices.
func Evaluate(st model.LedgerState, currentOSqthPrice, currentEthPrice decimal.Decimal) *model.PnLResult {
	oSqthUSD := currentOSqthPrice.Mul(currentEthPrice)

	sq := legPnL(st.OSqth, oSqthUSD)
	eth := legPnL(st.Eth, currentEthPrice)
	collected := st.CollectedOSqth.Mul(oSqthUSD).Add(st.CollectedEth.Mul(currentEthPrice))

	return &model.PnLResult{
		RealizedPnL:       sq.RealizedPnL.Add(eth.RealizedPnL).Add(collected),
		UnrealizedPnL:     sq.UnrealizedPnL.Add(eth.UnrealizedPnL),
		OpenOSqthAmount:   st.OSqth.OpenAmount,
		OpenOSqthValueUSD: st.OSqth.OpenAmount.Mul(oSqthUSD),
		OpenEthAmount:     st.Eth.OpenAmount,
		CollectedValueUSD: collected,
		OSqthLeg:          sq,
		EthLeg:            eth,
	}
}

func legPnL(l model.LegState, price decimal.Decimal) model.LegPnL {
	return model.LegPnL{
		OpenAmount:    l.OpenAmount,
		OpenUnitCost:  l.OpenUnitCost(),
		RealizedPnL:   l.Realized,
		UnrealizedPnL: l.OpenAmount.Mul(price).Sub(l.OpenCost),
	}
}
