// Package volatility provides the annualized-volatility collaborators used
// by the funding simulator: a live per-day map fed by observed funding, and
// a historical default surface keyed by date and ETH price level.
//
// Both are plain values passed in by the caller. Nothing here is cached at
// package level.
package volatility

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// FundingPeriodDays is the squeeth funding period: the mark/index premium
// is paid out over this many days.
const FundingPeriodDays = 17.5

// DayLayout is the calendar-date key format of DayMap and Surface.
const DayLayout = "2006-01-02"

// ErrInvalidInput is returned for non-positive mark, index or period.
var ErrInvalidInput = errors.New("volatility: invalid input")

// Source answers the volatility to use for a point of a price series.
type Source interface {
	// LiveVol returns the observed volatility for day's calendar date.
	LiveVol(day time.Time) (float64, bool)

	// VolForTimestampOrDefault returns the historical estimate for t at
	// the given ETH price. It always returns a value.
	VolForTimestampOrDefault(t time.Time, price float64) float64
}

// DayKey returns the UTC calendar-date key for t.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// DayMap maps a calendar date (DayLayout, UTC) to annualized volatility.
type DayMap map[string]float64

// Lookup returns the volatility recorded for t's date.
func (m DayMap) Lookup(t time.Time) (float64, bool) {
	v, ok := m[DayKey(t)]
	return v, ok
}

// Point is one price level of a surface day.
type Point struct {
	Price float64 `json:"price" yaml:"price"`
	Vol   float64 `json:"vol" yaml:"vol"`
}

// Surface is a historical default volatility surface. Each date holds
// points sorted by price; lookups interpolate linearly in price and clamp
// outside the covered range. A date with no entry uses the latest earlier
// date, and Default when there is none.
type Surface struct {
	Default float64
	days    []string
	points  map[string][]Point
}

// NewSurface builds a Surface from per-date points. Points are copied and
// sorted; dates with no points are ignored.
func NewSurface(def float64, byDay map[string][]Point) (*Surface, error) {
	s := &Surface{Default: def, points: make(map[string][]Point, len(byDay))}
	for day, pts := range byDay {
		if _, err := time.Parse(DayLayout, day); err != nil {
			return nil, fmt.Errorf("volatility: surface date %q: %w", day, err)
		}
		if len(pts) == 0 {
			continue
		}
		cp := append([]Point(nil), pts...)
		sort.Slice(cp, func(i, j int) bool { return cp[i].Price < cp[j].Price })
		s.points[day] = cp
		s.days = append(s.days, day)
	}
	sort.Strings(s.days)
	return s, nil
}

// At returns the surface volatility for t at price.
func (s *Surface) At(t time.Time, price float64) float64 {
	if s == nil {
		return 0
	}
	key := DayKey(t)
	// Latest date <= key. DayLayout sorts lexically in date order.
	i := sort.SearchStrings(s.days, key)
	if i == len(s.days) || s.days[i] != key {
		i--
	}
	if i < 0 {
		return s.Default
	}
	return interpolate(s.points[s.days[i]], price)
}

func interpolate(pts []Point, price float64) float64 {
	if price <= pts[0].Price {
		return pts[0].Vol
	}
	last := pts[len(pts)-1]
	if price >= last.Price {
		return last.Vol
	}
	j := sort.Search(len(pts), func(k int) bool { return pts[k].Price >= price })
	lo, hi := pts[j-1], pts[j]
	if hi.Price == lo.Price {
		return hi.Vol
	}
	w := (price - lo.Price) / (hi.Price - lo.Price)
	return lo.Vol + w*(hi.Vol-lo.Vol)
}

// Maps combines a live day map with a historical surface.
type Maps struct {
	Live       DayMap
	Historical *Surface
}

// LiveVol implements Source.
func (m Maps) LiveVol(day time.Time) (float64, bool) {
	return m.Live.Lookup(day)
}

// VolForTimestampOrDefault implements Source.
func (m Maps) VolForTimestampOrDefault(t time.Time, price float64) float64 {
	return m.Historical.At(t, price)
}

// Constant is a Source that reports the same historical volatility for
// every point and never a live one.
type Constant float64

// LiveVol implements Source.
func (Constant) LiveVol(time.Time) (float64, bool) { return 0, false }

// VolForTimestampOrDefault implements Source.
func (c Constant) VolForTimestampOrDefault(time.Time, float64) float64 { return float64(c) }

// ImpliedVol returns the annualized volatility implied by squeeth's mark
// and index prices: sqrt(ln(mark/index) * 365 / fundingPeriodDays).
// A mark at or below index implies zero volatility.
func ImpliedVol(mark, index, fundingPeriodDays float64) (float64, error) {
	if mark <= 0 || index <= 0 || fundingPeriodDays <= 0 {
		return 0, fmt.Errorf("%w: mark %v, index %v, period %v", ErrInvalidInput, mark, index, fundingPeriodDays)
	}
	premium := math.Log(mark / index)
	if premium <= 0 {
		return 0, nil
	}
	return math.Sqrt(premium * 365 / fundingPeriodDays), nil
}
