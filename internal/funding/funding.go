// Package funding simulates cumulative returns of ETH and squeeth exposure
// over a historical ETH price series, with squeeth funding accrued per
// sampling period from an annualized volatility.
//
// Squeeth's log return per period is 2r + r^2 - f, where r is the ETH log
// return and f the per-period funding: (vol * multiplier)^2 spread over the
// number of sampling periods in a year.
package funding

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/opynfinance/squeeth-monorepo-sub005/internal/metrics"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/model"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/numeric"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/volatility"
)

// Window thresholds selecting the sampling convention of a price series.
// Series longer than LongWindowDays are daily, longer than ShortWindowDays
// hourly, and anything shorter is sampled every five minutes.
const (
	LongWindowDays  = 90
	ShortWindowDays = 1

	DailyPeriodsPerYear      = 365
	HourlyPeriodsPerYear     = 365 * 24
	FiveMinutePeriodsPerYear = 365 * 24 * 12
)

var (
	// ErrInvalidInput is returned for an empty series, a non-positive
	// price, non-increasing timestamps, a non-positive window or a
	// negative multiplier.
	ErrInvalidInput = errors.New("funding: invalid input")

	// ErrNonPositiveGrowth is returned when a crab period's growth factor
	// would drop the cumulative value to zero or below.
	ErrNonPositiveGrowth = errors.New("funding: non-positive crab growth")
)

// FundingPeriodMultiplier returns the number of sampling periods per year
// for a series spanning windowDays.
func FundingPeriodMultiplier(windowDays int) float64 {
	switch {
	case windowDays > LongWindowDays:
		return DailyPeriodsPerYear
	case windowDays > ShortWindowDays:
		return HourlyPeriodsPerYear
	default:
		return FiveMinutePeriodsPerYear
	}
}

// PerPeriodFunding returns (vol * multiplier / sqrt(periodsPerYear))^2.
func PerPeriodFunding(vol, multiplier, periodsPerYear float64) float64 {
	x := vol * multiplier / math.Sqrt(periodsPerYear)
	return x * x
}

// Simulator produces funding curves. It holds no per-call state and is
// safe for concurrent use.
type Simulator struct {
	vols volatility.Source
	log  *zap.Logger
}

// NewSimulator creates a Simulator reading volatility from vols.
func NewSimulator(vols volatility.Source, log *zap.Logger) *Simulator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Simulator{vols: vols, log: log}
}

// Sample returns the volatility to use for a point: the live sample for
// its day when there is one, else the historical default.
func (s *Simulator) Sample(t time.Time, price float64) model.FundingSample {
	if v, ok := s.vols.LiveVol(t); ok {
		return model.FundingSample{AnnualizedVol: v, IsLive: true}
	}
	return model.FundingSample{AnnualizedVol: s.vols.VolForTimestampOrDefault(t, price)}
}

// Simulate returns the cumulative long and short percentage returns of
// ETH and of squeeth for every point of series.
func (s *Simulator) Simulate(series []model.PriceSeriesPoint, volMultiplier decimal.Decimal, windowDays int) (*model.FundingCurve, error) {
	start := time.Now()
	defer metrics.ObserveSince("funding", start)

	curve, err := s.simulate(series, volMultiplier, windowDays)
	metrics.Computations.WithLabelValues("funding", outcome(err)).Inc()
	return curve, err
}

func (s *Simulator) simulate(series []model.PriceSeriesPoint, volMultiplier decimal.Decimal, windowDays int) (*model.FundingCurve, error) {
	prices, err := validate(series, volMultiplier, windowDays)
	if err != nil {
		return nil, err
	}
	mult := volMultiplier.InexactFloat64()
	periods := FundingPeriodMultiplier(windowDays)

	curve := &model.FundingCurve{
		EthPnLSeries:     make([]model.ReturnSeriesPoint, len(series)),
		SqueethPnLSeries: make([]model.ReturnSeriesPoint, len(series)),
		FirstLiveIndex:   -1,
	}

	var cumEth, cumSqth float64
	for i, p := range series {
		sample := s.Sample(time.Unix(p.Time, 0), prices[i])
		if sample.IsLive && curve.FirstLiveIndex < 0 {
			curve.FirstLiveIndex = i
		}

		if i > 0 {
			r, err := numeric.LogReturn(prices[i-1], prices[i])
			if err != nil {
				return nil, fmt.Errorf("%w: point %d: %v", ErrInvalidInput, i, err)
			}
			f := PerPeriodFunding(sample.AnnualizedVol, mult, periods)
			cumEth += r
			cumSqth += 2*r + r*r - f
		}

		curve.EthPnLSeries[i] = model.ReturnSeriesPoint{
			Time:            p.Time,
			LongPnLPercent:  numeric.GrowthPercent(cumEth),
			ShortPnLPercent: numeric.GrowthPercent(-cumEth),
			IsLive:          sample.IsLive,
		}
		curve.SqueethPnLSeries[i] = model.ReturnSeriesPoint{
			Time:            p.Time,
			LongPnLPercent:  numeric.GrowthPercent(cumSqth),
			ShortPnLPercent: numeric.GrowthPercent(-cumSqth),
			IsLive:          sample.IsLive,
		}
	}

	s.log.Debug("funding curve simulated",
		zap.Int("points", len(series)),
		zap.Int("window_days", windowDays),
		zap.Float64("periods_per_year", periods),
		zap.Int("first_live_index", curve.FirstLiveIndex),
	)
	return curve, nil
}

// SimulateCrab returns the cumulative log-percentage return of a
// delta-neutral, funding-collecting position over series. Each period
// multiplies the running value by 1 - R^2 + f, where R is the simple ETH
// return of the period.
func (s *Simulator) SimulateCrab(series []model.PriceSeriesPoint, crabVolMultiplier decimal.Decimal, windowDays int) ([]model.SeriesPoint, error) {
	start := time.Now()
	defer metrics.ObserveSince("crab", start)

	out, err := s.simulateCrab(series, crabVolMultiplier, windowDays)
	metrics.Computations.WithLabelValues("crab", outcome(err)).Inc()
	return out, err
}

func (s *Simulator) simulateCrab(series []model.PriceSeriesPoint, crabVolMultiplier decimal.Decimal, windowDays int) ([]model.SeriesPoint, error) {
	prices, err := validate(series, crabVolMultiplier, windowDays)
	if err != nil {
		return nil, err
	}
	mult := crabVolMultiplier.InexactFloat64()
	periods := FundingPeriodMultiplier(windowDays)

	out := make([]model.SeriesPoint, len(series))
	cum := 1.0
	for i, p := range series {
		sample := s.Sample(time.Unix(p.Time, 0), prices[i])

		if i > 0 {
			r, err := numeric.SimpleReturn(prices[i-1], prices[i])
			if err != nil {
				return nil, fmt.Errorf("%w: point %d: %v", ErrInvalidInput, i, err)
			}
			growth := 1 - r*r + PerPeriodFunding(sample.AnnualizedVol, mult, periods)
			if growth <= 0 {
				s.log.Debug("crab growth collapsed",
					zap.Int("point", i),
					zap.Float64("return", r),
				)
				return nil, fmt.Errorf("%w: point %d: factor %v", ErrNonPositiveGrowth, i, growth)
			}
			cum *= growth
		}

		v, err := numeric.LogPercent(cum)
		if err != nil {
			return nil, fmt.Errorf("%w: point %d", ErrNonPositiveGrowth, i)
		}
		out[i] = model.SeriesPoint{Time: p.Time, Value: v, IsLive: sample.IsLive}
	}
	return out, nil
}

// validate checks series and parameters and returns the prices as floats.
func validate(series []model.PriceSeriesPoint, multiplier decimal.Decimal, windowDays int) ([]float64, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: empty price series", ErrInvalidInput)
	}
	if windowDays <= 0 {
		return nil, fmt.Errorf("%w: window must be positive, got %d days", ErrInvalidInput, windowDays)
	}
	if multiplier.IsNegative() {
		return nil, fmt.Errorf("%w: negative volatility multiplier %s", ErrInvalidInput, multiplier)
	}

	prices := make([]float64, len(series))
	for i, p := range series {
		if !p.Value.IsPositive() {
			return nil, fmt.Errorf("%w: point %d: non-positive price %s", ErrInvalidInput, i, p.Value)
		}
		if i > 0 && p.Time <= series[i-1].Time {
			return nil, fmt.Errorf("%w: point %d: time %d not after %d", ErrInvalidInput, i, p.Time, series[i-1].Time)
		}
		prices[i] = p.Value.InexactFloat64()
	}
	return prices, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrNonPositiveGrowth):
		return "degenerate"
	}
	return "error"
}
