package model

import (
	"encoding/json"
	"time"
)

// RiskReport is one full recompute of the book against a market snapshot.
type RiskReport struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	At         time.Time       `json:"at"`
	SpotSource SpotSource      `json:"spot_source"`
	Market     MarketSnapshot  `json:"market"`
	Totals     PortfolioTotals `json:"totals"`
	Rows       []PositionRisk  `json:"rows"`
	Stress     StressResult    `json:"stress"`
	Move       MarketMove      `json:"move"`
	Explain    PnLAttribution  `json:"explain"`
	// Repriced is the full-revaluation PnL of Move; Residual is Repriced
	// minus the explained total.
	Repriced float64  `json:"repriced_pnl"`
	Residual float64  `json:"residual"`
	Breaches []Breach `json:"breaches,omitempty"`
	// BookVersion is the book revision the report was computed from.
	BookVersion int64 `json:"book_version"`
}

// JSON encodes the report, ignoring errors (all fields are plain data).
func (r RiskReport) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
