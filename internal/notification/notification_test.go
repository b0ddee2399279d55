package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
)

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "riskd")
	err := n.Send(context.Background(), Alert{Level: AlertWarning, Title: "delta", Message: "too long"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Service != "riskd" || got.Level != "WARNING" || got.Title != "delta" || got.TS == "" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL, "riskd").Send(context.Background(), Alert{}); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestTelegramNotifier_EscapesAndPosts(t *testing.T) {
	var path string
	var msg telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&msg)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL
	if err := n.Send(context.Background(), Alert{Level: AlertCritical, Title: "BTC/USDT", Message: "stress_loss 1.5"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("unexpected path %q", path)
	}
	if msg.ChatID != "42" || msg.ParseMode != "MarkdownV2" {
		t.Errorf("unexpected message %+v", msg)
	}
	if !strings.Contains(msg.Text, `stress\_loss 1\.5`) {
		t.Errorf("message not escaped: %q", msg.Text)
	}
}

type recordingNotifier struct {
	alerts []Alert
	err    error
}

func (r *recordingNotifier) Send(_ context.Context, a Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

func TestMulti_SendsToAllAndJoinsErrors(t *testing.T) {
	errBoom := errors.New("boom")
	a, b := &recordingNotifier{}, &recordingNotifier{err: errBoom}
	err := Multi{a, b}.Send(context.Background(), Alert{Title: "x"})
	if !errors.Is(err, errBoom) {
		t.Errorf("expected joined error, got %v", err)
	}
	if len(a.alerts) != 1 || len(b.alerts) != 1 {
		t.Errorf("expected both notifiers called: %d, %d", len(a.alerts), len(b.alerts))
	}
}

func TestBreachAlert_Levels(t *testing.T) {
	warn := BreachAlert("BTC/USDT", []model.Breach{{Limit: "delta", Value: 3, Threshold: 2}})
	if warn.Level != AlertWarning || !strings.Contains(warn.Message, "delta 3 exceeds 2") {
		t.Errorf("unexpected alert %+v", warn)
	}
	crit := BreachAlert("BTC/USDT", []model.Breach{
		{Limit: "delta", Value: 3, Threshold: 2},
		{Limit: "stress_loss", Value: 9000, Threshold: 5000},
	})
	if crit.Level != AlertCritical || !strings.Contains(crit.Title, "2 risk limit") {
		t.Errorf("unexpected alert %+v", crit)
	}
}
