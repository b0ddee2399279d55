package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// TickerSource reads the last trade price from a Binance-style public ticker
// endpoint: GET <url>?symbol=BTCUSDT returning {"symbol":"BTCUSDT","price":"65000.12"}.
type TickerSource struct {
	url    string
	client *http.Client
}

// NewTickerSource creates a ticker provider for the given endpoint URL.
func NewTickerSource(endpoint string, timeout time.Duration) *TickerSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TickerSource{
		url: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (t *TickerSource) FetchSpot(ctx context.Context, symbol string) (float64, error) {
	u, err := url.Parse(t.url)
	if err != nil {
		return 0, fmt.Errorf("ticker: parse url: %w", err)
	}
	q := u.Query()
	q.Set("symbol", ExchangeSymbol(symbol))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("ticker: create request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ticker: %w: %v", ErrSpotUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("ticker: %w: status %d", ErrSpotUnavailable, resp.StatusCode)
	}

	var body tickerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return 0, fmt.Errorf("ticker: decode: %w", err)
	}
	price, err := strconv.ParseFloat(body.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("ticker: bad price %q: %w", body.Price, err)
	}
	if !(price > 0) {
		return 0, fmt.Errorf("ticker: %w: non-positive price %v", ErrSpotUnavailable, price)
	}
	return price, nil
}
