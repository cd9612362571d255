package pricefeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opynfinance/squeeth-monorepo-sub005/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var now = time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)

// countingProvider records calls and answers with a fixed price or error.
type countingProvider struct {
	name  string
	price decimal.Decimal
	err   error
	calls int32
}

func (c *countingProvider) Name() string { return c.name }

func (c *countingProvider) HistoricEthPrice(_ context.Context, _ time.Time) (decimal.Decimal, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.price, c.err
}

func TestTiered_OldTimestampUsesPrimary(t *testing.T) {
	primary := &countingProvider{name: "primary", price: d(3000)}
	secondary := &countingProvider{name: "secondary", price: d(2999)}
	tiered, err := NewTiered(primary, secondary, nil, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := tiered.HistoricEthPrice(context.Background(), now.Add(-2*time.Hour))
	if err != nil || !p.Equal(d(3000)) {
		t.Fatalf("expected primary price 3000, got %s (%v)", p, err)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary should not be called, got %d calls", secondary.calls)
	}
}

func TestTiered_RecentTimestampSkipsPrimary(t *testing.T) {
	primary := &countingProvider{name: "primary", price: d(3000)}
	secondary := &countingProvider{name: "secondary", price: d(3010)}
	tiered, _ := NewTiered(primary, secondary, nil, WithClock(func() time.Time { return now }))

	p, err := tiered.HistoricEthPrice(context.Background(), now.Add(-10*time.Minute))
	if err != nil || !p.Equal(d(3010)) {
		t.Fatalf("expected secondary price 3010, got %s (%v)", p, err)
	}
	if primary.calls != 0 {
		t.Errorf("primary should be skipped within the freshness window, got %d calls", primary.calls)
	}
}

func TestTiered_FallsBackOnPrimaryFailure(t *testing.T) {
	primary := &countingProvider{name: "primary", err: errors.New("boom")}
	secondary := &countingProvider{name: "secondary", price: d(2950)}
	tiered, _ := NewTiered(primary, secondary, nil, WithClock(func() time.Time { return now }))

	p, err := tiered.HistoricEthPrice(context.Background(), now.Add(-48*time.Hour))
	if err != nil || !p.Equal(d(2950)) {
		t.Fatalf("expected fallback price 2950, got %s (%v)", p, err)
	}
}

func TestTiered_BothFail(t *testing.T) {
	primary := &countingProvider{name: "primary", err: errors.New("boom")}
	secondary := &countingProvider{name: "secondary", price: decimal.Zero}
	tiered, _ := NewTiered(primary, secondary, nil, WithClock(func() time.Time { return now }))

	_, err := tiered.HistoricEthPrice(context.Background(), now.Add(-48*time.Hour))
	if !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestNewTiered_NoProviders(t *testing.T) {
	if _, err := NewTiered(nil, nil, nil); err == nil {
		t.Error("expected error with no providers")
	}
}

func TestCached_OnlyCallsSourceOnce(t *testing.T) {
	src := &countingProvider{name: "src", price: d(3100)}
	cached := NewCached(src, NewMemoryCache())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := cached.HistoricEthPrice(ctx, now)
		if err != nil || !p.Equal(d(3100)) {
			t.Fatalf("expected 3100, got %s (%v)", p, err)
		}
	}
	if src.calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", src.calls)
	}
}

func TestCached_DoesNotCacheFailures(t *testing.T) {
	src := &countingProvider{name: "src", err: ErrPriceUnavailable}
	cached := NewCached(src, NewMemoryCache())

	for i := 0; i < 2; i++ {
		if _, err := cached.HistoricEthPrice(context.Background(), now); !errors.Is(err, ErrPriceUnavailable) {
			t.Fatalf("expected ErrPriceUnavailable, got %v", err)
		}
	}
	if src.calls != 2 {
		t.Errorf("failures must not be cached: expected 2 calls, got %d", src.calls)
	}
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("timestamp") {
		case "1654084800":
			w.Write([]byte(`{"price":"3012.55"}`))
		case "1654084801":
			w.Write([]byte(`{"price":0}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider("test", srv.URL, 0, srv.Client())
	ctx := context.Background()

	price, err := p.HistoricEthPrice(ctx, time.Unix(1654084800, 0))
	if err != nil || !price.Equal(d(3012.55)) {
		t.Fatalf("expected 3012.55, got %s (%v)", price, err)
	}
	if _, err := p.HistoricEthPrice(ctx, time.Unix(1654084801, 0)); !errors.Is(err, ErrPriceUnavailable) {
		t.Errorf("zero price should be unavailable, got %v", err)
	}
	if _, err := p.HistoricEthPrice(ctx, time.Unix(1, 0)); !errors.Is(err, ErrPriceUnavailable) {
		t.Errorf("404 should be unavailable, got %v", err)
	}
}

func TestHistoryProvider(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	if err := ms.InsertEthPrice(ctx, now, d(3050)); err != nil {
		t.Fatalf("insert price: %v", err)
	}
	p := NewHistoryProvider(ms, 5*time.Minute)

	price, err := p.HistoricEthPrice(ctx, now.Add(time.Minute))
	if err != nil || !price.Equal(d(3050)) {
		t.Fatalf("expected 3050, got %s (%v)", price, err)
	}
	if _, err := p.HistoricEthPrice(ctx, now.Add(time.Hour)); !errors.Is(err, ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable outside tolerance, got %v", err)
	}
}

func TestStatic(t *testing.T) {
	s := Static{Prices: map[int64]decimal.Decimal{now.Unix(): d(3000)}}
	if p, err := s.HistoricEthPrice(context.Background(), now); err != nil || !p.Equal(d(3000)) {
		t.Errorf("expected 3000, got %s (%v)", p, err)
	}
	if _, err := s.HistoricEthPrice(context.Background(), now.Add(time.Second)); err != ErrPriceUnavailable {
		t.Errorf("expected ErrPriceUnavailable, got %v", err)
	}
}
