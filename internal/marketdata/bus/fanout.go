// Package bus distributes spot quotes from the poller to every consumer
// (risk recompute, dashboard push).
package bus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
)

// FanOut copies each quote from one input channel to every named subscriber.
// A subscriber that falls behind loses its oldest queued quote rather than the
// new one: only the latest spot matters for a recompute, and the poller is
// never blocked.
type FanOut struct {
	mu      sync.RWMutex
	subs    []*subscriber
	bufSize int

	// OnDrop is called with the subscriber name whenever a stale quote is
	// evicted from its queue.
	OnDrop func(name string)
}

type subscriber struct {
	name    string
	ch      chan model.SpotQuote
	dropped atomic.Uint64
}

// New creates a FanOut whose subscriber queues hold bufSize quotes.
func New(bufSize int) *FanOut {
	if bufSize < 1 {
		bufSize = 1
	}
	return &FanOut{bufSize: bufSize}
}

// Subscribe registers a named consumer. Call before Run.
func (f *FanOut) Subscribe(name string) <-chan model.SpotQuote {
	s := &subscriber{name: name, ch: make(chan model.SpotQuote, f.bufSize)}
	f.mu.Lock()
	f.subs = append(f.subs, s)
	f.mu.Unlock()
	return s.ch
}

// Run forwards quotes until ctx is cancelled or input is closed, then closes
// every subscriber channel.
func (f *FanOut) Run(ctx context.Context, input <-chan model.SpotQuote) {
	defer func() {
		f.mu.RLock()
		for _, s := range f.subs {
			close(s.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for _, s := range f.subs {
				f.deliver(s, q)
			}
			f.mu.RUnlock()
		}
	}
}

// deliver queues q for s, evicting the oldest queued quote when s is full.
// Only Run sends, so after one eviction the send cannot block.
func (f *FanOut) deliver(s *subscriber, q model.SpotQuote) {
	select {
	case s.ch <- q:
		return
	default:
	}
	select {
	case stale := <-s.ch:
		s.dropped.Add(1)
		if f.OnDrop != nil {
			f.OnDrop(s.name)
		} else {
			log.Printf("[bus] %s is behind, dropped %s @ %v", s.name, stale.Symbol, stale.Price)
		}
	default:
		// The consumer drained it meanwhile.
	}
	select {
	case s.ch <- q:
	default:
	}
}

// QueueStat is the backlog of one subscriber.
type QueueStat struct {
	Name    string
	Len     int
	Cap     int
	Dropped uint64
}

// Saturation is Len/Cap, 1 meaning the next quote evicts one.
func (s QueueStat) Saturation() float64 {
	if s.Cap == 0 {
		return 0
	}
	return float64(s.Len) / float64(s.Cap)
}

// Stats returns the current backlog of each subscriber in subscription order.
func (f *FanOut) Stats() []QueueStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]QueueStat, len(f.subs))
	for i, s := range f.subs {
		stats[i] = QueueStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch), Dropped: s.dropped.Load()}
	}
	return stats
}

// Sample calls fn with Stats every interval until ctx is cancelled.
func (f *FanOut) Sample(ctx context.Context, interval time.Duration, fn func([]QueueStat)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(f.Stats())
		}
	}
}
