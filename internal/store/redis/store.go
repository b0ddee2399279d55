// Package redis holds the service's shared hot state in Redis: the last good
// spot quote per symbol and the latest risk report, which is also published
// on a Pub/Sub channel and appended to a capped stream.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
)

const (
	defaultSpotTTL   = 30 * time.Second
	defaultReportTTL = 30 * time.Minute
	// Capped report history kept in Redis; the SQLite journal keeps more.
	reportStreamMaxLen = 1000
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("redis: not found")

// Config configures the Redis store.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	SpotTTL  time.Duration
}

// Store reads and writes spot quotes and risk reports.
type Store struct {
	client  *goredis.Client
	spotTTL time.Duration
}

// New creates a Store and pings the server.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.SpotTTL
	if ttl <= 0 {
		ttl = defaultSpotTTL
	}
	log.Printf("[redis] connected to %s (spot ttl %v)", cfg.Addr, ttl)
	return &Store{client: client, spotTTL: ttl}, nil
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SpotKey is the key holding the last live quote for symbol.
func SpotKey(symbol string) string { return "spot:latest:" + symbol }

// ReportKey is the key holding the latest report for symbol.
func ReportKey(symbol string) string { return "risk:latest:" + symbol }

// ReportChannel is the Pub/Sub channel reports are published on.
func ReportChannel(symbol string) string { return "pub:risk:" + symbol }

// ReportStream is the capped stream of recent reports.
func ReportStream(symbol string) string { return "risk:stream:" + symbol }

// SetSpot caches a quote with the configured TTL.
func (s *Store) SetSpot(ctx context.Context, q model.SpotQuote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}
	if err := s.client.Set(ctx, SpotKey(q.Symbol), data, s.spotTTL).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", SpotKey(q.Symbol), err)
	}
	return nil
}

// GetSpot returns the cached quote for symbol or ErrNotFound.
func (s *Store) GetSpot(ctx context.Context, symbol string) (model.SpotQuote, error) {
	data, err := s.client.Get(ctx, SpotKey(symbol)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return model.SpotQuote{}, ErrNotFound
		}
		return model.SpotQuote{}, fmt.Errorf("redis GET %s: %w", SpotKey(symbol), err)
	}
	return decodeQuote(data)
}

func decodeQuote(data []byte) (model.SpotQuote, error) {
	var q model.SpotQuote
	if err := json.Unmarshal(data, &q); err != nil {
		return model.SpotQuote{}, fmt.Errorf("decode quote: %w", err)
	}
	if !(q.Price > 0) {
		return model.SpotQuote{}, fmt.Errorf("decode quote: non-positive price %v", q.Price)
	}
	return q, nil
}

// PublishReport stores r as the latest report, appends it to the capped
// stream and publishes it, in one pipeline.
func (s *Store) PublishReport(ctx context.Context, r model.RiskReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	payload := string(data)

	pipe := s.client.Pipeline()
	pipe.Set(ctx, ReportKey(r.Symbol), payload, defaultReportTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: ReportStream(r.Symbol),
		MaxLen: reportStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	})
	pipe.Publish(ctx, ReportChannel(r.Symbol), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis report pipeline for %s: %w", r.Symbol, err)
	}
	return nil
}

// LatestReport returns the last published report for symbol or ErrNotFound.
func (s *Store) LatestReport(ctx context.Context, symbol string) (model.RiskReport, error) {
	data, err := s.client.Get(ctx, ReportKey(symbol)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return model.RiskReport{}, ErrNotFound
		}
		return model.RiskReport{}, fmt.Errorf("redis GET %s: %w", ReportKey(symbol), err)
	}
	var r model.RiskReport
	if err := json.Unmarshal(data, &r); err != nil {
		return model.RiskReport{}, fmt.Errorf("decode report: %w", err)
	}
	return r, nil
}

// SubscribeReports forwards reports published for symbol to out, dropping
// when out is full. Blocks until ctx is cancelled.
func (s *Store) SubscribeReports(ctx context.Context, symbol string, out chan<- model.RiskReport) error {
	pubsub := s.client.Subscribe(ctx, ReportChannel(symbol))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", ReportChannel(symbol), err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var r model.RiskReport
			if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
				log.Printf("[redis] bad report payload on %s: %v", msg.Channel, err)
				continue
			}
			select {
			case out <- r:
			default:
			}
		}
	}
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
