// Package model defines the domain types shared across the squeeth engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind identifies the on-chain action behind a PositionEvent.
type EventKind string

const (
	KindBuyOSqth           EventKind = "BUY_OSQTH"
	KindSellOSqth          EventKind = "SELL_OSQTH"
	KindMint               EventKind = "MINT"
	KindBurn               EventKind = "BURN"
	KindAddLiquidity       EventKind = "ADD_LIQUIDITY"
	KindRemoveLiquidity    EventKind = "REMOVE_LIQUIDITY"
	KindDepositCollateral  EventKind = "DEPOSIT_COLLATERAL"
	KindWithdrawCollateral EventKind = "WITHDRAW_COLLATERAL"
)

// Valid reports whether k is one of the known event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case KindBuyOSqth, KindSellOSqth, KindMint, KindBurn,
		KindAddLiquidity, KindRemoveLiquidity,
		KindDepositCollateral, KindWithdrawCollateral:
		return true
	}
	return false
}

// ExpectedSign is the sign every non-zero amount of the kind must carry:
// 1 for kinds that only acquire, -1 for kinds that only give up, 0 when
// either is valid. MINT and BURN are unsigned because a vault's debt and
// the minter's wallet see the same mint with opposite signs.
func (k EventKind) ExpectedSign() int {
	switch k {
	case KindBuyOSqth, KindAddLiquidity, KindDepositCollateral:
		return 1
	case KindSellOSqth, KindRemoveLiquidity, KindWithdrawCollateral:
		return -1
	}
	return 0
}

// PositionEvent is one on-chain action affecting a user's exposure.
// Amounts are signed from the valued position's point of view:
// positive = acquired, negative = given up.
type PositionEvent struct {
	ID              string          `json:"id"`
	Kind            EventKind       `json:"kind"`
	OSqthAmount     decimal.Decimal `json:"osqth_amount"`
	EthAmount       decimal.Decimal `json:"eth_amount"`
	OSqthPriceInEth decimal.Decimal `json:"osqth_price_in_eth"` // pool quote
	EthPrice        decimal.Decimal `json:"eth_price"`          // USD; zero = unresolved
	CollectedOSqth  decimal.Decimal `json:"collected_osqth"`
	CollectedEth    decimal.Decimal `json:"collected_eth"`
	Timestamp       time.Time       `json:"timestamp"`
}

// OSqthUnitPrice returns the USD price of one oSQTH at the time of the event.
func (e PositionEvent) OSqthUnitPrice() decimal.Decimal {
	return e.OSqthPriceInEth.Mul(e.EthPrice)
}

// LegState is the running accumulator for one asset leg.
type LegState struct {
	OpenAmount    decimal.Decimal `json:"open_amount"`    // signed net quantity
	OpenCost      decimal.Decimal `json:"open_cost"`      // signed notional of the open quantity
	CloseAmount   decimal.Decimal `json:"close_amount"`   // quantity closed since the last reset
	CloseProceeds decimal.Decimal `json:"close_proceeds"` // notional of CloseAmount
	Realized      decimal.Decimal `json:"realized"`
}

// OpenUnitCost is the average price of the open quantity, zero when flat.
func (l LegState) OpenUnitCost() decimal.Decimal {
	if l.OpenAmount.IsZero() {
		return decimal.Zero
	}
	return l.OpenCost.Div(l.OpenAmount)
}

// CloseUnitCost is the average price at which quantity was closed.
func (l LegState) CloseUnitCost() decimal.Decimal {
	if l.CloseAmount.IsZero() {
		return decimal.Zero
	}
	return l.CloseProceeds.Div(l.CloseAmount)
}

// LedgerState is the result of folding a position's events. It is built
// per query and never persisted.
type LedgerState struct {
	OSqth          LegState        `json:"osqth"`
	Eth            LegState        `json:"eth"`
	CollectedOSqth decimal.Decimal `json:"collected_osqth"`
	CollectedEth   decimal.Decimal `json:"collected_eth"`
}

// LegPnL is the per-leg breakdown of a PnL figure.
type LegPnL struct {
	OpenAmount    decimal.Decimal `json:"open_amount"`
	OpenUnitCost  decimal.Decimal `json:"open_unit_cost"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// PnLResult is the realized/unrealized PnL of a position as of now, in USD.
type PnLResult struct {
	RealizedPnL       decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL     decimal.Decimal `json:"unrealized_pnl"`
	OpenOSqthAmount   decimal.Decimal `json:"open_osqth_amount"`
	OpenOSqthValueUSD decimal.Decimal `json:"open_osqth_value_usd"`
	OpenEthAmount     decimal.Decimal `json:"open_eth_amount"`
	CollectedValueUSD decimal.Decimal `json:"collected_value_usd"`
	OSqthLeg          LegPnL          `json:"osqth_leg"`
	EthLeg            LegPnL          `json:"eth_leg"`
}

// PriceSeriesPoint is one sample of an ascending price series.
type PriceSeriesPoint struct {
	Time  int64           `json:"time"` // unix seconds
	Value decimal.Decimal `json:"value"`
}

// FundingSample is the annualized volatility used for one point.
type FundingSample struct {
	AnnualizedVol float64 `json:"annualized_vol"`
	IsLive        bool    `json:"is_live"`
}

// ReturnSeriesPoint is the cumulative percentage return since the first
// point of a series, for long and short exposure.
type ReturnSeriesPoint struct {
	Time            int64           `json:"time"`
	LongPnLPercent  decimal.Decimal `json:"long_pnl_percent"`
	ShortPnLPercent decimal.Decimal `json:"short_pnl_percent"`
	IsLive          bool            `json:"is_live,omitempty"`
}

// SeriesPoint is a single-valued chart point.
type SeriesPoint struct {
	Time   int64           `json:"time"`
	Value  decimal.Decimal `json:"value"`
	IsLive bool            `json:"is_live,omitempty"`
}

// FundingCurve holds the parallel ETH and squeeth return series.
// FirstLiveIndex is -1 when no point used a live volatility sample.
type FundingCurve struct {
	EthPnLSeries     []ReturnSeriesPoint `json:"eth_pnl_series"`
	SqueethPnLSeries []ReturnSeriesPoint `json:"squeeth_pnl_series"`
	FirstLiveIndex   int                 `json:"first_live_index"`
}

// ProfitabilityBand is the ETH price range inside which a funding-collecting
// position stays profitable over a horizon. Recomputed on every refresh.
type ProfitabilityBand struct {
	LowerBound             decimal.Decimal `json:"lower_bound"`
	UpperBound             decimal.Decimal `json:"upper_bound"`
	ReferencePrice         decimal.Decimal `json:"reference_price"`
	ImpliedFundingRate     decimal.Decimal `json:"implied_funding_rate"`
	PeriodFunding          decimal.Decimal `json:"period_funding"`
	ProfitableMoveFraction decimal.Decimal `json:"profitable_move_fraction"`
}

// IsEmpty reports whether the band carries no range (degenerate funding).
func (b ProfitabilityBand) IsEmpty() bool {
	return b.ProfitableMoveFraction.IsZero()
}

// CurvePoint is one point of the strategy payoff curve.
type CurvePoint struct {
	Move          decimal.Decimal `json:"move"` // fractional ETH move
	EthPrice      decimal.Decimal `json:"eth_price"`
	ReturnPercent decimal.Decimal `json:"return_percent"`
}

// ProfitabilityCurve is the payoff curve around a band. Positive and
// Negative split Points at the zero crossing for styling.
type ProfitabilityCurve struct {
	Points   []CurvePoint `json:"points"`
	Positive []CurvePoint `json:"positive"`
	Negative []CurvePoint `json:"negative"`
}
