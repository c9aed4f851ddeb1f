package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/market-alerts/pkg/models"
)

// ErrRateLimited is returned by a Quoter when the provider refuses further
// requests for now. Pollers back off to their fallback interval.
var ErrRateLimited = errors.New("quote provider rate limited")

// Quoter returns the current price of a symbol.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// RandomQuoter produces synthetic prices within ±5 of each symbol's base price.
type RandomQuoter struct {
	rand       Rand
	basePrices map[string]float64
}

// NewRandomQuoter copies basePrices under canonical symbols; config loaders
// may hand over lower-cased keys.
func NewRandomQuoter(rnd Rand, basePrices map[string]float64) *RandomQuoter {
	prices := make(map[string]float64, len(basePrices))
	for s, p := range basePrices {
		prices[models.NormalizeSymbol(s)] = p
	}
	return &RandomQuoter{rand: rnd, basePrices: prices}
}

func (q *RandomQuoter) Quote(_ context.Context, symbol string) (decimal.Decimal, error) {
	base, ok := q.basePrices[models.NormalizeSymbol(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("no base price for %s", symbol)
	}
	fluctuation := (q.rand.Float64() * 10) - 5
	return decimal.NewFromFloat(base + fluctuation).Round(2), nil
}

// HTTPQuoter reads quotes from a REST provider answering
// GET <base>/quote?symbol=<SYM> with {"c": <current price>}.
type HTTPQuoter struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func NewHTTPQuoter(baseURL, apiKey string, timeout time.Duration) *HTTPQuoter {
	return &HTTPQuoter{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
	}
}

type quoteResponse struct {
	Current decimal.Decimal `json:"c"`
}

func (q *HTTPQuoter) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+"/quote?symbol="+url.QueryEscape(symbol), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create request: %w", err)
	}
	if q.apiKey != "" {
		req.Header.Set("X-API-Key", q.apiKey)
	}

	resp, err := q.httpc.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return decimal.Zero, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return decimal.Zero, fmt.Errorf("quote %s: status %d", symbol, resp.StatusCode)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode quote %s: %w", symbol, err)
	}
	if !body.Current.IsPositive() {
		return decimal.Zero, fmt.Errorf("quote %s: no price", symbol)
	}
	return body.Current, nil
}
