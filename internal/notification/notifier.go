// Package notification delivers risk alerts (limit breaches, spot provider
// outages) to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BreachAlert builds the alert for a set of limit breaches on symbol.
// A stress-loss breach is critical; any other breach is a warning.
func BreachAlert(symbol string, breaches []model.Breach) Alert {
	level := AlertWarning
	lines := make([]string, 0, len(breaches))
	for _, b := range breaches {
		if b.Limit == "stress_loss" {
			level = AlertCritical
		}
		lines = append(lines, b.String())
	}
	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("%s: %d risk limit(s) breached", symbol, len(breaches)),
		Message: strings.Join(lines, "\n"),
	}
}

// ClearedAlert builds the alert sent when all breaches on symbol resolve.
func ClearedAlert(symbol string) Alert {
	return Alert{
		Level:   AlertInfo,
		Title:   fmt.Sprintf("%s: risk limits back within bounds", symbol),
		Message: "all previously breached limits are clear",
	}
}

// SpotAlert builds the alert sent when pricing falls back from the live feed.
func SpotAlert(q model.SpotQuote) Alert {
	return Alert{
		Level:   AlertWarning,
		Title:   fmt.Sprintf("%s: live spot unavailable", q.Symbol),
		Message: fmt.Sprintf("pricing with %s spot %.2f", q.Source, q.Price),
	}
}
