package schema

import (
	"fmt"
	"time"
)

// Direction indicates which leg of a venue pair is bought and which is sold.
// A and B always refer to the lexicographically sorted venue pair.
type Direction string

const (
	// DirectionBuyASellB: venue A quotes lower, buy on A and sell on B.
	DirectionBuyASellB Direction = "BUY_A_SELL_B"
	// DirectionBuyBSellA: venue B quotes lower, buy on B and sell on A.
	DirectionBuyBSellA Direction = "BUY_B_SELL_A"
)

// CloseReason records why an opportunity left the active set.
type CloseReason string

const (
	// CloseBelowThreshold: spread fell under the close threshold.
	CloseBelowThreshold CloseReason = "BELOW_THRESHOLD"
	// ClosePriceConverged: spread collapsed under 0.1%, or a fresh price for
	// either venue was unavailable.
	ClosePriceConverged CloseReason = "PRICE_CONVERGED"
	// CloseTimeout: the opportunity exceeded its maximum age.
	CloseTimeout CloseReason = "TIMEOUT"
	// CloseManual: closed by operator or shutdown.
	CloseManual CloseReason = "MANUAL"
)

// SortVenues returns the pair in lexicographic order.
func SortVenues(a, b Venue) (Venue, Venue) {
	if b < a {
		return b, a
	}
	return a, b
}

// OpportunityID derives the identity of a venue-pair spread. The venue set is
// unordered: (i, a, b) and (i, b, a) yield the same id.
func OpportunityID(instrument Instrument, a, b Venue) string {
	lo, hi := SortVenues(a, b)
	return fmt.Sprintf("%s|%s|%s", instrument, lo, hi)
}

// ActiveOpportunity is the state carried between engine scans while a spread
// remains open. It is exclusively owned by the opportunity engine; consumers
// only ever see value copies.
type ActiveOpportunity struct {
	ID         string     `json:"id"`
	Instrument Instrument `json:"instrument"`
	VenueA     Venue      `json:"venue_a"`
	VenueB     Venue      `json:"venue_b"`

	OpenTime     time.Time `json:"open_time"`
	LastSeenTime time.Time `json:"last_seen_time"`

	PriceA        float64   `json:"price_a"`
	PriceB        float64   `json:"price_b"`
	SpreadAbs     float64   `json:"spread_abs"`
	SpreadPct     float64   `json:"spread_pct"`
	ImpliedProfit float64   `json:"implied_profit"`
	Direction     Direction `json:"direction"`

	// Opening snapshot, captured once and carried into the close record.
	OpenPriceA    float64   `json:"open_price_a"`
	OpenPriceB    float64   `json:"open_price_b"`
	OpenSpreadPct float64   `json:"open_spread_pct"`
	OpenProfit    float64   `json:"open_profit"`
	OpenDirection Direction `json:"open_direction"`

	PeakSpreadPct float64   `json:"peak_spread_pct"`
	PeakProfit    float64   `json:"peak_profit"`
	PeakTime      time.Time `json:"peak_time"`

	AlertsSent int `json:"alerts_sent"`
}

// ClosedOpportunity is the immutable record produced when an opportunity
// closes.
type ClosedOpportunity struct {
	ID         string     `json:"id"`
	Instrument Instrument `json:"instrument"`
	VenueA     Venue      `json:"venue_a"`
	VenueB     Venue      `json:"venue_b"`

	OpenTime      time.Time `json:"open_time"`
	OpenPriceA    float64   `json:"open_price_a"`
	OpenPriceB    float64   `json:"open_price_b"`
	OpenSpreadPct float64   `json:"open_spread_pct"`
	OpenProfit    float64   `json:"open_profit"`
	OpenDirection Direction `json:"open_direction"`

	CloseTime      time.Time `json:"close_time"`
	ClosePriceA    float64   `json:"close_price_a"`
	ClosePriceB    float64   `json:"close_price_b"`
	CloseSpreadPct float64   `json:"close_spread_pct"`

	PeakSpreadPct float64   `json:"peak_spread_pct"`
	PeakProfit    float64   `json:"peak_profit"`
	PeakTime      time.Time `json:"peak_time"`

	Duration    time.Duration `json:"duration"`
	CloseReason CloseReason   `json:"close_reason"`
	AlertsSent  int           `json:"alerts_sent"`
}
