package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
)

func openTestJournal(t *testing.T, retention int) *Journal {
	t.Helper()
	j, err := Open(Config{DBPath: filepath.Join(t.TempDir(), "risk.db"), Retention: retention})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func testReport(i int, symbol string) model.RiskReport {
	return model.RiskReport{
		ID:         fmt.Sprintf("r-%03d", i),
		Symbol:     symbol,
		At:         time.Date(2026, 3, 1, 0, 0, i, 0, time.UTC),
		SpotSource: model.SpotLive,
		Market:     model.MarketSnapshot{Spot: 65000 + float64(i), Rate: 0.02, Vol: 0.5},
		Totals:     model.PortfolioTotals{Value: 1000 + float64(i), Delta: 1.5, Positions: 3},
		Explain:    model.PnLAttribution{Total: 12},
		Residual:   0.3,
		Breaches:   []model.Breach{{Limit: "delta", Value: 1.5, Threshold: 1}},
	}
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j := openTestJournal(t, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := j.Record(ctx, testReport(i, "BTC/USDT")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if err := j.Record(ctx, testReport(9, "ETH/USDT")); err != nil {
		t.Fatalf("record eth: %v", err)
	}

	got, err := j.Recent(ctx, "BTC/USDT", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(got))
	}
	if got[0].ID != "r-002" || got[2].ID != "r-000" {
		t.Errorf("expected newest first, got %s..%s", got[0].ID, got[2].ID)
	}
	if got[0].Totals.Value != 1002 || len(got[0].Breaches) != 1 {
		t.Errorf("report not restored intact: %+v", got[0])
	}
}

func TestJournal_PrunesToRetention(t *testing.T) {
	j := openTestJournal(t, 5)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if err := j.Record(ctx, testReport(i, "BTC/USDT")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	n, err := j.Count(ctx, "BTC/USDT")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 rows after prune, got %d", n)
	}
	got, _ := j.Recent(ctx, "BTC/USDT", 1)
	if len(got) != 1 || got[0].ID != "r-011" {
		t.Errorf("expected newest report kept, got %+v", got)
	}
}

func TestJournal_RunFlushesOnClose(t *testing.T) {
	j := openTestJournal(t, 100)
	ch := make(chan model.RiskReport, 10)
	for i := 0; i < 4; i++ {
		ch <- testReport(i, "BTC/USDT")
	}
	close(ch)

	j.Run(context.Background(), ch)

	n, err := j.Count(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 rows, got %d", n)
	}
}

func TestJournal_RunDrainsQueueOnCancel(t *testing.T) {
	j := openTestJournal(t, 100)
	ch := make(chan model.RiskReport, 10)
	for i := 0; i < 3; i++ {
		ch <- testReport(i, "BTC/USDT")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		j.Run(ctx, ch)
		close(done)
	}()
	<-done

	n, err := j.Count(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("queued reports lost on shutdown: got %d rows, want 3", n)
	}
}

func TestJournal_RecentDefaultLimit(t *testing.T) {
	j := openTestJournal(t, 100)
	got, err := j.Recent(context.Background(), "BTC/USDT", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d", len(got))
	}
}
