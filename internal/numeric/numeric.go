// Package numeric provides helpers for decimal conversions used across services.
package numeric

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseDecimal converts a venue-supplied decimal string into a Decimal.
// On failure or empty input, it returns (zero, false).
func ParseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// ParseDecimalOrZero is ParseDecimal with zero as the failure value, for
// optional fields in venue instrument payloads.
func ParseDecimalOrZero(s string) decimal.Decimal {
	d, ok := ParseDecimal(s)
	if !ok {
		return decimal.Decimal{}
	}
	return d
}

// FormatFixed renders d truncated toward zero at the given scale.
func FormatFixed(d decimal.Decimal, scale int32) string {
	return d.Truncate(scale).StringFixed(scale)
}

// ScaleFromStep derives the effective fractional precision from a decimal "step" string.
func ScaleFromStep(step string) int32 {
	step = strings.TrimSpace(step)
	if step == "" {
		return 0
	}
	idx := strings.IndexByte(step, '.')
	if idx < 0 {
		return 0
	}
	frac := strings.TrimRight(step[idx+1:], "0")
	return int32(len(frac))
}

// StepFromScale renders the canonical step string for a fractional precision,
// the inverse of ScaleFromStep for well-formed inputs.
func StepFromScale(scale int32) string {
	if scale <= 0 {
		return "1"
	}
	return "0." + strings.Repeat("0", int(scale)-1) + "1"
}
