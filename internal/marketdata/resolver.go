package marketdata

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
)

// QuoteCache stores the last good live quote per symbol.
type QuoteCache interface {
	GetSpot(ctx context.Context, symbol string) (model.SpotQuote, error)
	SetSpot(ctx context.Context, q model.SpotQuote) error
}

// ResolverConfig configures a Resolver. Upstream and Cache may be nil.
type ResolverConfig struct {
	Upstream     SpotSource
	Breaker      *Breaker
	Cache        QuoteCache
	FallbackSpot float64
	// FetchTimeout bounds a single upstream call.
	FetchTimeout time.Duration
}

// Resolver picks a spot price: live upstream, then cache, then fallback.
type Resolver struct {
	upstream     SpotSource
	breaker      *Breaker
	cache        QuoteCache
	fallback     float64
	fetchTimeout time.Duration
	now          func() time.Time

	// OnResolve is called with every resolved quote.
	OnResolve func(q model.SpotQuote)
}

// NewResolver creates a Resolver. A nil breaker gets a default one.
func NewResolver(cfg ResolverConfig) *Resolver {
	br := cfg.Breaker
	if br == nil {
		br = NewBreaker(3, 30*time.Second)
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{
		upstream:     cfg.Upstream,
		breaker:      br,
		cache:        cfg.Cache,
		fallback:     cfg.FallbackSpot,
		fetchTimeout: timeout,
		now:          time.Now,
	}
}

// Breaker returns the breaker guarding the upstream.
func (r *Resolver) Breaker() *Breaker { return r.breaker }

// Resolve returns a quote for symbol. It fails only when every tier is
// unavailable and no positive fallback is configured.
func (r *Resolver) Resolve(ctx context.Context, symbol string) (model.SpotQuote, error) {
	if r.upstream != nil {
		price, err := r.fetchLive(ctx, symbol)
		if err == nil {
			q := model.SpotQuote{Symbol: symbol, Price: price, Source: model.SpotLive, At: r.now().UTC()}
			if r.cache != nil {
				if cerr := r.cache.SetSpot(ctx, q); cerr != nil {
					log.Printf("[spot] cache write for %s failed: %v", symbol, cerr)
				}
			}
			return r.emit(q), nil
		}
		log.Printf("[spot] live fetch for %s failed: %v", symbol, err)
	}

	if r.cache != nil {
		q, err := r.cache.GetSpot(ctx, symbol)
		if err == nil && q.Price > 0 {
			q.Symbol = symbol
			q.Source = model.SpotCache
			return r.emit(q), nil
		}
	}

	if r.fallback > 0 {
		q := model.SpotQuote{Symbol: symbol, Price: r.fallback, Source: model.SpotFallback, At: r.now().UTC()}
		return r.emit(q), nil
	}
	return model.SpotQuote{}, fmt.Errorf("resolve %s: %w", symbol, ErrSpotUnavailable)
}

func (r *Resolver) fetchLive(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := r.breaker.Execute(func() error {
		fctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
		defer cancel()
		p, err := r.upstream.FetchSpot(fctx, symbol)
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	return price, err
}

func (r *Resolver) emit(q model.SpotQuote) model.SpotQuote {
	if r.OnResolve != nil {
		r.OnResolve(q)
	}
	return q
}
