package model

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultExpiryDays is used when an expiry string cannot be parsed.
	DefaultExpiryDays = 30.0

	// minExpiryDays keeps a parsed expiry strictly positive.
	minExpiryDays = 0.001

	expiryLayout = "060102"
)

// DaysFromExpiry converts a "YYMMDD" date into whole days remaining from now,
// floored at 0.001. A malformed string yields fallback instead of an error.
func DaysFromExpiry(expiry string, now time.Time, fallback float64) float64 {
	t, err := time.ParseInLocation(expiryLayout, strings.TrimSpace(expiry), now.Location())
	if err != nil {
		return fallback
	}
	days := math.Floor(t.Sub(now).Hours() / 24)
	return math.Max(days, minExpiryDays)
}

// ParseExpiry accepts either a plain day count ("15", "7.5") or a "YYMMDD" date.
// Six-digit integers are always read as dates.
func ParseExpiry(s string, now time.Time, fallback float64) float64 {
	s = strings.TrimSpace(s)
	if len(s) != len(expiryLayout) {
		if d, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(d) && !math.IsInf(d, 0) {
			return d
		}
	}
	return DaysFromExpiry(s, now, fallback)
}
