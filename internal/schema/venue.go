// Package schema defines the canonical data model shared by detector components.
package schema

import "strings"

// Venue identifies a market where prices are quoted. Each venue has exactly
// one adapter; the set is closed at build time.
type Venue string

const (
	// VenueBinance is the Binance spot market.
	VenueBinance Venue = "binance"
	// VenueOKX is the OKX spot market.
	VenueOKX Venue = "okx"
	// VenueBybit is the Bybit spot market.
	VenueBybit Venue = "bybit"
	// VenueKraken is the Kraken spot market.
	VenueKraken Venue = "kraken"
	// VenueGate is the Gate.io spot market.
	VenueGate Venue = "gate"
	// VenueSim is the synthetic venue used in development and tests.
	VenueSim Venue = "sim"
)

// KnownVenues lists the production venues in stable order.
func KnownVenues() []Venue {
	return []Venue{VenueBinance, VenueOKX, VenueBybit, VenueKraken, VenueGate}
}

// NormalizeVenue lower-cases and trims a venue identifier.
func NormalizeVenue(raw string) Venue {
	return Venue(strings.ToLower(strings.TrimSpace(raw)))
}

// Valid reports whether the venue belongs to the closed set (sim included).
func (v Venue) Valid() bool {
	switch v {
	case VenueBinance, VenueOKX, VenueBybit, VenueKraken, VenueGate, VenueSim:
		return true
	default:
		return false
	}
}

func (v Venue) String() string { return string(v) }
