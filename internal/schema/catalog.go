package schema

import "github.com/shopspring/decimal"

// CatalogEntry describes one tradable instrument as reported by a venue's
// catalog endpoint. TickSize and MinSize are zero when the venue omits them.
type CatalogEntry struct {
	Instrument Instrument      `json:"instrument"`
	Base       string          `json:"base"`
	Quote      string          `json:"quote"`
	Tradable   bool            `json:"tradable"`
	TickSize   decimal.Decimal `json:"tick_size"`
	MinSize    decimal.Decimal `json:"min_size"`
}

// VenueStatus is the adapter liveness snapshot read by the health monitor and
// exposed to status surfaces.
type VenueStatus struct {
	Venue           Venue        `json:"venue"`
	Connected       bool         `json:"connected"`
	ConnectionCount int          `json:"connection_count"`
	Subscribed      []Instrument `json:"subscribed"`
	LastError       string       `json:"last_error,omitempty"`
}
