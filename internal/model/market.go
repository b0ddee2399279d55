package model

import (
	"fmt"
	"math"
	"time"
)

// MarketSnapshot is the shared market state for one pricing pass.
type MarketSnapshot struct {
	Spot float64 `json:"spot"`
	Rate float64 `json:"rate"` // annualized, may be zero or negative
	Vol  float64 `json:"vol"`  // annualized implied volatility, fraction
}

// Validate reports ErrInvalidInput for a non-positive spot or volatility,
// or any non-finite field.
func (m MarketSnapshot) Validate() error {
	if !(m.Spot > 0) || math.IsInf(m.Spot, 0) {
		return fmt.Errorf("%w: spot must be positive, got %v", ErrInvalidInput, m.Spot)
	}
	if !(m.Vol > 0) || math.IsInf(m.Vol, 0) {
		return fmt.Errorf("%w: vol must be positive, got %v", ErrInvalidInput, m.Vol)
	}
	if math.IsNaN(m.Rate) || math.IsInf(m.Rate, 0) {
		return fmt.Errorf("%w: rate must be finite, got %v", ErrInvalidInput, m.Rate)
	}
	return nil
}

// WithSpot returns a copy with the spot replaced.
func (m MarketSnapshot) WithSpot(spot float64) MarketSnapshot {
	m.Spot = spot
	return m
}

// WithVol returns a copy with the volatility replaced.
func (m MarketSnapshot) WithVol(vol float64) MarketSnapshot {
	m.Vol = vol
	return m
}

// DefaultDT is the elapsed time applied when a move does not set one. It is
// the dashboard's dt of 1/365 taken in theta units, so the theta term of the
// attribution is theta/365.
const DefaultDT = 1.0 / DaysPerYear

// MarketMove is a hypothetical change in market state.
// DVol is a fraction (0.05 = five vol points). DT is elapsed time in days,
// the unit theta is quoted in: attribution charges theta*DT and a full
// reprice shortens every expiry by DT days.
type MarketMove struct {
	DSpot float64 `json:"d_spot"`
	DVol  float64 `json:"d_vol"`
	DT    float64 `json:"dt"`
}

// Apply returns the snapshot after the move. Volatility is not floored.
func (mv MarketMove) Apply(m MarketSnapshot) MarketSnapshot {
	m.Spot += mv.DSpot
	m.Vol += mv.DVol
	return m
}

// SpotSource tags where a spot price came from.
type SpotSource string

const (
	SpotLive     SpotSource = "live"
	SpotCache    SpotSource = "cache"
	SpotFallback SpotSource = "fallback"
	SpotManual   SpotSource = "manual"
)

// SpotQuote is a resolved spot price for a symbol.
type SpotQuote struct {
	Symbol string     `json:"symbol"`
	Price  float64    `json:"price"`
	Source SpotSource `json:"source"`
	At     time.Time  `json:"at"`
}
