package numeric

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestSignAndMinAbs(t *testing.T) {
	if got := Sign(d(-3.5)); !got.Equal(d(-1)) {
		t.Errorf("expected -1, got %s", got)
	}
	if got := Sign(decimal.Zero); !got.IsZero() {
		t.Errorf("expected 0, got %s", got)
	}
	if got := MinAbs(d(-2), d(1.5)); !got.Equal(d(1.5)) {
		t.Errorf("expected 1.5, got %s", got)
	}
}

func TestLogReturn_RejectsNonPositive(t *testing.T) {
	cases := [][2]float64{{0, 1}, {1, 0}, {-1, 2}, {2, -3}, {math.NaN(), 1}}
	for _, c := range cases {
		if _, err := LogReturn(c[0], c[1]); err != ErrNonPositive {
			t.Errorf("LogReturn(%v, %v): expected ErrNonPositive, got %v", c[0], c[1], err)
		}
	}
}

func TestLogReturn_Value(t *testing.T) {
	r, err := LogReturn(100, 110)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(r-math.Log(1.1)) > 1e-12 {
		t.Errorf("expected ln(1.1), got %v", r)
	}
}

func TestGrowthPercent(t *testing.T) {
	if got := GrowthPercent(0); !got.IsZero() {
		t.Errorf("expected 0%%, got %s", got)
	}
	if got := GrowthPercent(math.Log(1.25)); !got.Equal(d(25)) {
		t.Errorf("expected 25%%, got %s", got)
	}
}

func TestLogPercent_NonPositiveGrowth(t *testing.T) {
	if _, err := LogPercent(0); err != ErrNonPositive {
		t.Errorf("expected ErrNonPositive, got %v", err)
	}
	got, err := LogPercent(1)
	if err != nil || !got.IsZero() {
		t.Errorf("expected 0, nil; got %s, %v", got, err)
	}
}

func TestFromFloat_NonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if got := FromFloat(f, 2); !got.IsZero() {
			t.Errorf("FromFloat(%v): expected 0, got %s", f, got)
		}
	}
}
