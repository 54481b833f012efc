package schema

import (
	"fmt"
	"strings"
)

// Instrument is a trading pair in canonical BASE/QUOTE form (upper-case,
// slash-separated). The canonical form is the only form used inside the core;
// each venue adapter owns the bijection to and from its wire form.
type Instrument string

// MakeInstrument builds a canonical instrument from base and quote assets.
// It returns the empty instrument when either side is blank.
func MakeInstrument(base, quote string) Instrument {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if base == "" || quote == "" {
		return ""
	}
	return Instrument(base + "/" + quote)
}

// ParseInstrument validates a raw string as a canonical instrument.
func ParseInstrument(raw string) (Instrument, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("instrument %q: want BASE/QUOTE", raw)
	}
	return Instrument(parts[0] + "/" + parts[1]), nil
}

// Base returns the base asset, or the empty string for malformed instruments.
func (i Instrument) Base() string {
	if idx := strings.IndexByte(string(i), '/'); idx > 0 {
		return string(i)[:idx]
	}
	return ""
}

// Quote returns the quote asset, or the empty string for malformed instruments.
func (i Instrument) Quote() string {
	if idx := strings.IndexByte(string(i), '/'); idx >= 0 && idx+1 < len(i) {
		return string(i)[idx+1:]
	}
	return ""
}

// Valid reports whether the instrument is well-formed canonical BASE/QUOTE.
func (i Instrument) Valid() bool {
	return i.Base() != "" && i.Quote() != "" && string(i) == strings.ToUpper(string(i))
}

func (i Instrument) String() string { return string(i) }
