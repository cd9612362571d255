package volatility

import (
	"errors"
	"math"
	"testing"
	"time"
)

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s: expected %v, got %v", name, want, got)
	}
}

func day(s string) time.Time {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		panic(err)
	}
	return t.Add(13 * time.Hour)
}

func TestDayMap_KeysByUTCDate(t *testing.T) {
	m := DayMap{"2022-03-01": 0.9}

	late := time.Date(2022, 3, 1, 23, 30, 0, 0, time.UTC)
	if v, ok := m.Lookup(late); !ok || v != 0.9 {
		t.Errorf("expected 0.9 for %s, got %v (%v)", late, v, ok)
	}

	// 01:00 on March 2nd in UTC+3 is still March 1st in UTC.
	east := time.Date(2022, 3, 2, 1, 0, 0, 0, time.FixedZone("UTC+3", 3*3600))
	if _, ok := m.Lookup(east); !ok {
		t.Error("expected lookup to use the UTC date")
	}

	if _, ok := m.Lookup(day("2022-03-02")); ok {
		t.Error("expected no live vol for an unmapped day")
	}
}

func TestSurface_InterpolatesInPrice(t *testing.T) {
	s, err := NewSurface(1.0, map[string][]Point{
		"2022-03-01": {{Price: 3000, Vol: 0.8}, {Price: 2000, Vol: 1.0}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	at := day("2022-03-01")
	approx(t, "midpoint", s.At(at, 2500), 0.9)
	approx(t, "exact", s.At(at, 3000), 0.8)
	approx(t, "below range", s.At(at, 1000), 1.0)
	approx(t, "above range", s.At(at, 5000), 0.8)
}

func TestSurface_FallsBackToEarlierDate(t *testing.T) {
	s, err := NewSurface(1.5, map[string][]Point{
		"2022-03-01": {{Price: 3000, Vol: 0.8}},
		"2022-03-05": {{Price: 3000, Vol: 0.6}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	approx(t, "between dates", s.At(day("2022-03-03"), 3000), 0.8)
	approx(t, "after last", s.At(day("2022-04-01"), 3000), 0.6)
	approx(t, "before first", s.At(day("2022-02-01"), 3000), 1.5)
}

func TestNewSurface_RejectsBadDate(t *testing.T) {
	if _, err := NewSurface(1, map[string][]Point{"03/01/2022": {{Price: 1, Vol: 1}}}); err == nil {
		t.Error("expected error for malformed date key")
	}
}

func TestMaps_ImplementsSource(t *testing.T) {
	s, _ := NewSurface(0.7, nil)
	var src Source = Maps{Live: DayMap{"2022-03-01": 1.1}, Historical: s}

	if v, ok := src.LiveVol(day("2022-03-01")); !ok || v != 1.1 {
		t.Errorf("expected live 1.1, got %v (%v)", v, ok)
	}
	approx(t, "default", src.VolForTimestampOrDefault(day("2022-03-02"), 3000), 0.7)
}

func TestImpliedVol(t *testing.T) {
	// ln(mark/index) = 0.01 over a 17.5-day period.
	mark := math.Exp(0.01)
	v, err := ImpliedVol(mark, 1, FundingPeriodDays)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	approx(t, "implied vol", v, math.Sqrt(0.01*365/17.5))

	v, err = ImpliedVol(0.99, 1, FundingPeriodDays)
	if err != nil || v != 0 {
		t.Errorf("expected zero vol for mark below index, got %v (%v)", v, err)
	}

	if _, err := ImpliedVol(0, 1, FundingPeriodDays); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
