// Package model holds the value types shared by the pricer, the portfolio
// aggregator, the PnL decomposer and the service boundary.
//
// Every type here is a plain value: computed results are rebuilt from
// scratch whenever inputs change and are never mutated in place.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidInput is returned when a pricing input is outside the domain
	// of the closed-form model (non-positive spot, strike or volatility).
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownKind is returned by ParseKind for anything that is not a call or a put.
	ErrUnknownKind = errors.New("unknown option kind")
)

// OptionKind is the exercise right of a European option.
type OptionKind int

const (
	Call OptionKind = iota
	Put
)

func (k OptionKind) String() string {
	switch k {
	case Call:
		return "call"
	case Put:
		return "put"
	default:
		return "unknown"
	}
}

// ParseKind parses an option kind once at the boundary.
// Accepts "call", "c", "put", "p" in any case.
func ParseKind(s string) (OptionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c":
		return Call, nil
	case "put", "p":
		return Put, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// ParseKindLenient selects Call only for a case-insensitive "call"; every
// other value is a put. Used for table imports that follow the dashboard's
// original convention.
func ParseKindLenient(s string) OptionKind {
	if strings.EqualFold(strings.TrimSpace(s), "call") {
		return Call
	}
	return Put
}

func (k OptionKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *OptionKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// MinYearFraction keeps T strictly positive when expiry is today or past.
const MinYearFraction = 1e-4

// DaysPerYear is the calendar-day basis for expiry and theta.
const DaysPerYear = 365.0

// ContractSpec describes one European option contract.
type ContractSpec struct {
	Kind         OptionKind `json:"type"`
	Strike       float64    `json:"strike"`
	DaysToExpiry float64    `json:"expiry_days"`
}

// YearFraction converts the calendar-day expiry to years, clamped at MinYearFraction.
func (c ContractSpec) YearFraction() float64 {
	return math.Max(c.DaysToExpiry/DaysPerYear, MinYearFraction)
}

// Validate reports ErrInvalidInput for a non-positive or non-finite strike
// or a non-finite expiry.
func (c ContractSpec) Validate() error {
	if !(c.Strike > 0) || math.IsInf(c.Strike, 0) {
		return fmt.Errorf("%w: strike must be positive, got %v", ErrInvalidInput, c.Strike)
	}
	if math.IsNaN(c.DaysToExpiry) || math.IsInf(c.DaysToExpiry, 0) {
		return fmt.Errorf("%w: expiry must be finite, got %v", ErrInvalidInput, c.DaysToExpiry)
	}
	if c.Kind != Call && c.Kind != Put {
		return fmt.Errorf("%w: kind %d", ErrUnknownKind, int(c.Kind))
	}
	return nil
}

// Position is a contract plus a signed quantity (negative = short).
// Positions are never netted against each other.
type Position struct {
	ContractSpec
	Qty   float64 `json:"qty"`
	Label string  `json:"label,omitempty"`
}

// Validate checks the contract and requires a finite quantity.
func (p Position) Validate() error {
	if err := p.ContractSpec.Validate(); err != nil {
		return err
	}
	if math.IsNaN(p.Qty) || math.IsInf(p.Qty, 0) {
		return fmt.Errorf("%w: qty must be finite, got %v", ErrInvalidInput, p.Qty)
	}
	return nil
}

// DefaultBook returns the sample three-leg book shown on first load.
func DefaultBook() []Position {
	return []Position{
		{ContractSpec: ContractSpec{Kind: Call, Strike: 65000, DaysToExpiry: 15}, Qty: 1},
		{ContractSpec: ContractSpec{Kind: Put, Strike: 60000, DaysToExpiry: 10}, Qty: -0.5},
		{ContractSpec: ContractSpec{Kind: Call, Strike: 70000, DaysToExpiry: 30}, Qty: 2},
	}
}
