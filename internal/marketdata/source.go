// Package marketdata resolves the underlying spot price. A live provider is
// tried first behind a circuit breaker, then the last cached quote, then a
// configured fallback, so pricing always has a usable spot.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrSpotUnavailable is returned when a provider cannot produce a price.
var ErrSpotUnavailable = errors.New("spot unavailable")

// SpotSource fetches the current spot price for a symbol such as "BTC/USDT".
type SpotSource interface {
	FetchSpot(ctx context.Context, symbol string) (float64, error)
}

// StaticSource returns a fixed price for every symbol.
type StaticSource struct {
	Price float64
}

func (s StaticSource) FetchSpot(_ context.Context, symbol string) (float64, error) {
	if !(s.Price > 0) {
		return 0, fmt.Errorf("%w: no static price for %s", ErrSpotUnavailable, symbol)
	}
	return s.Price, nil
}

// SourceFunc adapts a function to SpotSource.
type SourceFunc func(ctx context.Context, symbol string) (float64, error)

func (f SourceFunc) FetchSpot(ctx context.Context, symbol string) (float64, error) {
	return f(ctx, symbol)
}

// ExchangeSymbol converts "BTC/USDT" to the exchange form "BTCUSDT".
func ExchangeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}
