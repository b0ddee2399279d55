package marketdata

import (
	"context"
	"log"
	"time"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
)

// Poller resolves the spot for one symbol on a fixed interval.
type Poller struct {
	resolver *Resolver
	symbol   string
	interval time.Duration
}

// NewPoller creates a poller. interval must be positive.
func NewPoller(r *Resolver, symbol string, interval time.Duration) *Poller {
	return &Poller{resolver: r, symbol: symbol, interval: interval}
}

// Run resolves immediately and then on every tick, sending each quote to out.
// A full out channel drops the quote rather than stalling the ticker.
// out is closed when Run returns. Blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, out chan<- model.SpotQuote) {
	defer close(out)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx, out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, out)
		}
	}
}

func (p *Poller) poll(ctx context.Context, out chan<- model.SpotQuote) {
	q, err := p.resolver.Resolve(ctx, p.symbol)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[spot] poll %s: %v", p.symbol, err)
		}
		return
	}
	select {
	case out <- q:
	default:
		log.Printf("[spot] quote channel full, dropping %s @ %v", q.Symbol, q.Price)
	}
}
