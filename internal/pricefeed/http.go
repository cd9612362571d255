package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// HTTPProvider fetches historical prices from a JSON endpoint of the form
//
//	GET {baseURL}?timestamp={unix seconds}  →  {"price": "3012.55"}
//
// Requests are throttled by a token bucket so a large batch of lookups
// cannot exceed the upstream's rate limit.
type HTTPProvider struct {
	name    string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPProvider creates an HTTP-backed provider. rps <= 0 disables
// throttling.
func NewHTTPProvider(name, baseURL string, rps float64, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &HTTPProvider{
		name:    name,
		baseURL: baseURL,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Name returns the provider name.
func (p *HTTPProvider) Name() string { return p.name }

type priceResponse struct {
	Price decimal.Decimal `json:"price"`
}

// HistoricEthPrice implements Lookup.
func (p *HTTPProvider) HistoricEthPrice(ctx context.Context, ts time.Time) (decimal.Decimal, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid base url: %w", p.name, err)
	}
	q := u.Query()
	q.Set("timestamp", strconv.FormatInt(ts.Unix(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return decimal.Zero, fmt.Errorf("%s: %w", p.name, ErrPriceUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%s: unexpected status %d", p.name, resp.StatusCode)
	}

	var body priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%s: decode: %w", p.name, err)
	}
	if !body.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: %w", p.name, ErrPriceUnavailable)
	}
	return body.Price, nil
}
