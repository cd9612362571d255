// Package band derives the ETH price range inside which a short-gamma,
// funding-collecting position (crab) stays profitable, and the payoff
// curve around it.
//
// Over a horizon the position collects periodFunding = days * dailyRate
// and loses move^2 to the ETH move, so it breaks even at
// |move| = sqrt(periodFunding). Funding is scaled linearly over the
// horizon, not compounded.
package band

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/opynfinance/squeeth-monorepo-sub005/internal/metrics"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/model"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/numeric"
)

const (
	// DefaultRangeMultiplier is how many band half-widths the curve spans
	// on each side of the reference price.
	DefaultRangeMultiplier = 4

	// DefaultStepPercent is the curve's move increment in percentage points.
	DefaultStepPercent = 0.1

	// MaxCurveSteps caps the points on each side of the reference price.
	// Wider ranges get a coarser step.
	MaxCurveSteps = 2000

	// rateScale is the decimal precision of rates and move fractions.
	rateScale int32 = 12
)

// ErrInvalidInput is returned for a non-positive reference price, horizon,
// mark or index. A non-positive funding rate is not an error.
var ErrInvalidInput = errors.New("band: invalid input")

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// ComputeBand returns the profitable ETH range for impliedFundingRate
// (daily) held over horizonDays around referencePrice. A rate at or below
// zero yields an empty band and a nil error.
func ComputeBand(impliedFundingRate, referencePrice decimal.Decimal, horizonDays int) (model.ProfitabilityBand, error) {
	b, err := computeBand(impliedFundingRate, referencePrice, horizonDays)
	switch {
	case err != nil:
		metrics.Computations.WithLabelValues("band", "invalid").Inc()
	case b.IsEmpty():
		metrics.Computations.WithLabelValues("band", "degenerate").Inc()
	default:
		metrics.Computations.WithLabelValues("band", "ok").Inc()
	}
	return b, err
}

func computeBand(rate, ref decimal.Decimal, horizonDays int) (model.ProfitabilityBand, error) {
	if !ref.IsPositive() {
		return model.ProfitabilityBand{}, fmt.Errorf("%w: reference price must be positive, got %s", ErrInvalidInput, ref)
	}
	if horizonDays <= 0 {
		return model.ProfitabilityBand{}, fmt.Errorf("%w: horizon must be positive, got %d days", ErrInvalidInput, horizonDays)
	}

	b := model.ProfitabilityBand{ReferencePrice: ref, ImpliedFundingRate: rate}
	if !rate.IsPositive() {
		return b, nil
	}

	b.PeriodFunding = rate.Mul(decimal.NewFromInt(int64(horizonDays)))
	b.ProfitableMoveFraction = numeric.FromFloat(math.Sqrt(b.PeriodFunding.InexactFloat64()), rateScale)
	if b.ProfitableMoveFraction.IsZero() {
		// Rate too small to register at rateScale.
		return model.ProfitabilityBand{ReferencePrice: ref, ImpliedFundingRate: rate}, nil
	}
	b.LowerBound = ref.Mul(one.Sub(b.ProfitableMoveFraction))
	b.UpperBound = ref.Mul(one.Add(b.ProfitableMoveFraction))
	return b, nil
}

// CurveOptions controls the payoff curve's range and resolution. Zero
// values take the defaults.
type CurveOptions struct {
	RangeMultiplier float64 `json:"range_multiplier" yaml:"range_multiplier"`
	StepPercent     float64 `json:"step_percent" yaml:"step_percent"`
}

func (o CurveOptions) withDefaults() CurveOptions {
	if o.RangeMultiplier <= 0 {
		o.RangeMultiplier = DefaultRangeMultiplier
	}
	if o.StepPercent <= 0 {
		o.StepPercent = DefaultStepPercent
	}
	return o
}

// Curve returns the strategy return (periodFunding - move^2) * 100 across
// moves from -K to +K band half-widths, stepped in whole increments of
// StepPercent. Moves that would take the ETH price to zero or below are
// omitted. Points with a non-negative return go to Positive, the rest to
// Negative. An empty band gives an empty curve.
func Curve(b model.ProfitabilityBand, opts CurveOptions) model.ProfitabilityCurve {
	c := model.ProfitabilityCurve{
		Points:   []model.CurvePoint{},
		Positive: []model.CurvePoint{},
		Negative: []model.CurvePoint{},
	}
	if b.IsEmpty() {
		return c
	}
	opts = opts.withDefaults()

	span := b.ProfitableMoveFraction.InexactFloat64() * opts.RangeMultiplier
	step := opts.StepPercent / 100
	n := int(math.Floor(span/step + 1e-9))
	if n > MaxCurveSteps {
		n = MaxCurveSteps
		step = span / MaxCurveSteps
	}
	stepDec := numeric.FromFloat(step, rateScale)

	for i := -n; i <= n; i++ {
		move := stepDec.Mul(decimal.NewFromInt(int64(i)))
		if !one.Add(move).IsPositive() {
			continue
		}
		ret := b.PeriodFunding.Sub(move.Mul(move)).Mul(hundred)
		p := model.CurvePoint{
			Move:          move,
			EthPrice:      b.ReferencePrice.Mul(one.Add(move)).Round(numeric.PriceScale),
			ReturnPercent: ret.Round(numeric.PercentScale),
		}
		c.Points = append(c.Points, p)
		if ret.IsNegative() {
			c.Negative = append(c.Negative, p)
		} else {
			c.Positive = append(c.Positive, p)
		}
	}
	return c
}

// ImpliedFundingRate returns the daily funding rate implied by squeeth's
// mark and index: ln(mark/index) / fundingPeriodDays.
func ImpliedFundingRate(mark, index decimal.Decimal, fundingPeriodDays float64) (decimal.Decimal, error) {
	if !mark.IsPositive() || !index.IsPositive() || fundingPeriodDays <= 0 {
		return decimal.Zero, fmt.Errorf("%w: mark %s, index %s, period %v", ErrInvalidInput, mark, index, fundingPeriodDays)
	}
	r := math.Log(mark.InexactFloat64()/index.InexactFloat64()) / fundingPeriodDays
	return numeric.FromFloat(r, rateScale), nil
}
