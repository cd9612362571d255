package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opynfinance/squeeth-monorepo-sub005/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)

// trade builds an oSQTH-only event at minute offset minute.
func trade(kind model.EventKind, amount, oSqthPriceInEth, ethPrice float64, minute int) model.PositionEvent {
	return model.PositionEvent{
		Kind:            kind,
		OSqthAmount:     d(amount),
		OSqthPriceInEth: d(oSqthPriceInEth),
		EthPrice:        d(ethPrice),
		Timestamp:       t0.Add(time.Duration(minute) * time.Minute),
	}
}

func assertEqual(t *testing.T, name string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("%s: expected %s, got %s", name, want, got)
	}
}

// --- Worked examples ---

func TestComputePnL_OpenLongMarkedUp(t *testing.T) {
	events := []model.PositionEvent{
		trade(model.KindBuyOSqth, 1, 0.2, 3000, 0),
	}

	res, err := ComputePnL(events, d(0.25), d(3100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqual(t, "unrealized", res.UnrealizedPnL, d(175))
	assertEqual(t, "realized", res.RealizedPnL, decimal.Zero)
	assertEqual(t, "open amount", res.OpenOSqthAmount, d(1))
	assertEqual(t, "open value", res.OpenOSqthValueUSD, d(775))
}

func TestComputePnL_PartialSellAtMark(t *testing.T) {
	events := []model.PositionEvent{
		trade(model.KindBuyOSqth, 1, 0.2, 3000, 0),
		trade(model.KindSellOSqth, -0.5, 0.25, 3100, 10),
	}

	res, err := ComputePnL(events, d(0.25), d(3100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqual(t, "realized", res.RealizedPnL, d(87.5))
	assertEqual(t, "unrealized", res.UnrealizedPnL, d(87.5))
	assertEqual(t, "open amount", res.OpenOSqthAmount, d(0.5))
}

func TestComputePnL_LiquidityClosedAtLoss(t *testing.T) {
	events := []model.PositionEvent{
		{
			Kind:            model.KindAddLiquidity,
			OSqthAmount:     d(1),
			EthAmount:       d(1.17),
			OSqthPriceInEth: d(0.25),
			EthPrice:        d(3100),
			Timestamp:       t0,
		},
		{
			Kind:            model.KindRemoveLiquidity,
			OSqthAmount:     d(-1),
			EthAmount:       d(-1.17),
			OSqthPriceInEth: d(0.2),
			EthPrice:        d(2900),
			Timestamp:       t0.Add(24 * time.Hour),
		},
	}

	res, err := ComputePnL(events, d(0.2), d(2900))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqual(t, "realized", res.RealizedPnL, d(-429))
	assertEqual(t, "unrealized", res.UnrealizedPnL, decimal.Zero)
	assertEqual(t, "oSQTH leg realized", res.OSqthLeg.RealizedPnL, d(-195))
	assertEqual(t, "ETH leg realized", res.EthLeg.RealizedPnL, d(-234))
}

// --- Properties ---

func TestComputePnL_RoundTripRealizesProceedsMinusCost(t *testing.T) {
	tests := []struct {
		name   string
		trades [][2]float64 // amount, USD price
	}{
		{"scale in and out", [][2]float64{{2, 100}, {-0.5, 120}, {1, 90}, {-1.5, 110}, {-1, 80}}},
		{"flip through zero", [][2]float64{{1, 100}, {-2, 120}, {1, 110}}},
		{"single round trip", [][2]float64{{3, 50}, {-3, 40}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []model.PositionEvent
			flow := decimal.Zero
			for i, tr := range tt.trades {
				kind := model.KindBuyOSqth
				if tr[0] < 0 {
					kind = model.KindSellOSqth
				}
				// ETH at 1000 so the USD price is oSqthPriceInEth * 1000.
				events = append(events, trade(kind, tr[0], tr[1]/1000, 1000, i))
				flow = flow.Sub(d(tr[0]).Mul(d(tr[1])))
			}

			res, err := ComputePnL(events, d(0.5), d(1000))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			assertEqual(t, "realized", res.RealizedPnL, flow)
			assertEqual(t, "unrealized", res.UnrealizedPnL, decimal.Zero)
			assertEqual(t, "open amount", res.OpenOSqthAmount, decimal.Zero)
		})
	}
}

func TestComputePnL_ReopenStartsFreshBasis(t *testing.T) {
	events := []model.PositionEvent{
		trade(model.KindBuyOSqth, 1, 0.2, 1000, 0),
		trade(model.KindSellOSqth, -1, 0.3, 1000, 1),
		trade(model.KindBuyOSqth, 1, 0.25, 1000, 2),
	}

	res, err := ComputePnL(events, d(0.26), d(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqual(t, "realized", res.RealizedPnL, d(100))
	// Marked against the reopen price only: 260 - 250.
	assertEqual(t, "unrealized", res.UnrealizedPnL, d(10))
	assertEqual(t, "open unit cost", res.OSqthLeg.OpenUnitCost, d(250))
}

func TestFold_ResetClearsAccumulators(t *testing.T) {
	st, err := Fold([]model.PositionEvent{
		trade(model.KindBuyOSqth, 2, 0.1, 1000, 0),
		trade(model.KindSellOSqth, -2, 0.15, 1000, 1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqual(t, "open amount", st.OSqth.OpenAmount, decimal.Zero)
	assertEqual(t, "open cost", st.OSqth.OpenCost, decimal.Zero)
	assertEqual(t, "open unit cost", st.OSqth.OpenUnitCost(), decimal.Zero)
	assertEqual(t, "close unit cost", st.OSqth.CloseUnitCost(), decimal.Zero)
	assertEqual(t, "realized", st.OSqth.Realized, d(100))
}

func TestFold_TracksCloseUnitCostWhileOpen(t *testing.T) {
	st, err := Fold([]model.PositionEvent{
		trade(model.KindBuyOSqth, 4, 0.1, 1000, 0),
		trade(model.KindSellOSqth, -1, 0.12, 1000, 1),
		trade(model.KindSellOSqth, -1, 0.14, 1000, 2),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqual(t, "close amount", st.OSqth.CloseAmount, d(2))
	assertEqual(t, "close unit cost", st.OSqth.CloseUnitCost(), d(130))
	assertEqual(t, "open unit cost", st.OSqth.OpenUnitCost(), d(100))
}

func TestComputePnL_DecreasingOnlyDoesNotFail(t *testing.T) {
	events := []model.PositionEvent{
		trade(model.KindSellOSqth, -1, 0.2, 3000, 0),
	}

	res, err := ComputePnL(events, d(0.25), d(3100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqual(t, "realized", res.RealizedPnL, decimal.Zero)
	assertEqual(t, "open amount", res.OpenOSqthAmount, d(-1))
	// Short 1 opened at 600, marked at 775.
	assertEqual(t, "unrealized", res.UnrealizedPnL, d(-175))
}

func TestComputePnL_CollectedValuedAtCurrentPrice(t *testing.T) {
	events := []model.PositionEvent{
		{
			Kind:            model.KindAddLiquidity,
			OSqthAmount:     d(1),
			OSqthPriceInEth: d(0.25),
			EthPrice:        d(3100),
			Timestamp:       t0,
		},
		{
			Kind:            model.KindRemoveLiquidity,
			OSqthAmount:     d(-1),
			OSqthPriceInEth: d(0.25),
			EthPrice:        d(3100),
			CollectedOSqth:  d(0.1),
			CollectedEth:    d(0.05),
			Timestamp:       t0.Add(time.Hour),
		},
	}

	res, err := ComputePnL(events, d(0.25), d(3000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 0.1 * 0.25 * 3000 + 0.05 * 3000, at today's prices.
	assertEqual(t, "collected", res.CollectedValueUSD, d(225))
	assertEqual(t, "realized", res.RealizedPnL, d(225))
}

func TestComputePnL_CollateralLeg(t *testing.T) {
	events := []model.PositionEvent{
		{Kind: model.KindDepositCollateral, EthAmount: d(10), EthPrice: d(3000), Timestamp: t0},
		{Kind: model.KindWithdrawCollateral, EthAmount: d(-4), EthPrice: d(3300), Timestamp: t0.Add(time.Hour)},
	}

	res, err := ComputePnL(events, d(0.25), d(3100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqual(t, "realized", res.RealizedPnL, d(1200))
	assertEqual(t, "unrealized", res.UnrealizedPnL, d(600))
	assertEqual(t, "open ETH", res.OpenEthAmount, d(6))
}

func TestComputePnL_EmptyEvents(t *testing.T) {
	res, err := ComputePnL(nil, d(0.25), d(3100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.RealizedPnL.IsZero() || !res.UnrealizedPnL.IsZero() {
		t.Errorf("expected zero PnL, got %+v", res)
	}
}

// --- Failures ---

func TestComputePnL_MissingPriceFails(t *testing.T) {
	tests := []struct {
		name  string
		event model.PositionEvent
	}{
		{"no ETH price", trade(model.KindBuyOSqth, 1, 0.2, 0, 0)},
		{"no oSQTH price", trade(model.KindBuyOSqth, 1, 0, 3000, 0)},
		{"ETH leg without price", model.PositionEvent{Kind: model.KindDepositCollateral, EthAmount: d(1), Timestamp: t0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputePnL([]model.PositionEvent{tt.event}, d(0.25), d(3100))
			if !errors.Is(err, ErrMissingPriceData) {
				t.Errorf("expected ErrMissingPriceData, got %v", err)
			}
		})
	}
}

func TestComputePnL_InvalidInput(t *testing.T) {
	outOfOrder := []model.PositionEvent{
		trade(model.KindBuyOSqth, 1, 0.2, 3000, 10),
		trade(model.KindSellOSqth, -1, 0.2, 3000, 5),
	}
	tests := []struct {
		name   string
		events []model.PositionEvent
		oSqth  decimal.Decimal
		eth    decimal.Decimal
	}{
		{"out of order", outOfOrder, d(0.25), d(3100)},
		{"unknown kind", []model.PositionEvent{trade("SWAP", 1, 0.2, 3000, 0)}, d(0.25), d(3100)},
		{"buy with negative amount", []model.PositionEvent{trade(model.KindBuyOSqth, -1, 0.2, 3000, 0)}, d(0.25), d(3100)},
		{"sell with positive amount", []model.PositionEvent{trade(model.KindSellOSqth, 1, 0.2, 3000, 0)}, d(0.25), d(3100)},
		{"negative price", []model.PositionEvent{trade(model.KindBuyOSqth, 1, -0.2, 3000, 0)}, d(0.25), d(3100)},
		{"zero current ETH price", nil, d(0.25), decimal.Zero},
		{"negative current oSQTH price", nil, d(-0.25), d(3100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputePnL(tt.events, tt.oSqth, tt.eth)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestValidate_MintAndBurnAcceptEitherSign(t *testing.T) {
	events := []model.PositionEvent{
		trade(model.KindMint, -1, 0.2, 3000, 0),
		trade(model.KindBurn, 1, 0.2, 3000, 1),
	}
	if err := Validate(events); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
