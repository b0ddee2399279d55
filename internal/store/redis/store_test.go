package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
)

func TestKeys(t *testing.T) {
	if got := SpotKey("BTC/USDT"); got != "spot:latest:BTC/USDT" {
		t.Errorf("spot key: %q", got)
	}
	if got := ReportKey("BTC/USDT"); got != "risk:latest:BTC/USDT" {
		t.Errorf("report key: %q", got)
	}
	if got := ReportChannel("BTC/USDT"); got != "pub:risk:BTC/USDT" {
		t.Errorf("report channel: %q", got)
	}
	if got := ReportStream("BTC/USDT"); got != "risk:stream:BTC/USDT" {
		t.Errorf("report stream: %q", got)
	}
}

func TestDecodeQuote(t *testing.T) {
	q, err := decodeQuote([]byte(`{"symbol":"BTC/USDT","price":64000.5,"source":"live","at":"2026-03-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Price != 64000.5 || q.Source != model.SpotLive {
		t.Errorf("unexpected quote %+v", q)
	}
	if _, err := decodeQuote([]byte(`{"price":0}`)); err == nil {
		t.Error("expected error for zero price")
	}
	if _, err := decodeQuote([]byte(`{`)); err == nil {
		t.Error("expected error for bad json")
	}
}

// newLiveStore connects to REDIS_TEST_ADDR or skips.
func newLiveStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	s, err := New(Config{Addr: addr, SpotTTL: time.Minute})
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SpotRoundTrip(t *testing.T) {
	s := newLiveStore(t)
	ctx := context.Background()
	symbol := "TEST/" + time.Now().Format("150405.000000")

	if _, err := s.GetSpot(ctx, symbol); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	in := model.SpotQuote{Symbol: symbol, Price: 65000, Source: model.SpotLive, At: time.Now().UTC()}
	if err := s.SetSpot(ctx, in); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err := s.GetSpot(ctx, symbol)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Price != in.Price || out.Symbol != symbol {
		t.Errorf("round trip mismatch: %+v", out)
	}
	s.Client().Del(ctx, SpotKey(symbol))
}

func TestStore_PublishAndSubscribe(t *testing.T) {
	s := newLiveStore(t)
	symbol := "TEST/" + time.Now().Format("150405.000000")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := make(chan model.RiskReport, 1)
	go s.SubscribeReports(ctx, symbol, out)
	time.Sleep(100 * time.Millisecond)

	r := model.RiskReport{ID: "r1", Symbol: symbol, Totals: model.PortfolioTotals{Value: 123}}
	if err := s.PublishReport(ctx, r); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-out:
		if got.ID != "r1" || got.Totals.Value != 123 {
			t.Errorf("unexpected report %+v", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for published report")
	}

	latest, err := s.LatestReport(ctx, symbol)
	if err != nil || latest.ID != "r1" {
		t.Errorf("latest: %+v, %v", latest, err)
	}
	s.Client().Del(context.Background(), ReportKey(symbol), ReportStream(symbol))
}
