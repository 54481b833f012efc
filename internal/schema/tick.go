package schema

import (
	"fmt"
	"math"
	"time"
)

// Tick is one normalized price observation for an (instrument, venue) pair.
// Volume, High, and Low are carried opaquely and are zero when the venue
// omits them.
type Tick struct {
	Instrument Instrument `json:"instrument"`
	Venue      Venue      `json:"venue"`
	Price      float64    `json:"price"`
	IngestTime time.Time  `json:"ingest_time"`
	Volume     float64    `json:"volume,omitempty"`
	High       float64    `json:"high,omitempty"`
	Low        float64    `json:"low,omitempty"`
}

// TickSink consumes normalized ticks as adapters parse them.
type TickSink func(Tick)

// Validate enforces the cross-cutting tick contract: a positive, finite price
// on a well-formed key. Invalid ticks are dropped at the adapter boundary.
func (t Tick) Validate() error {
	if t.Instrument == "" {
		return fmt.Errorf("tick missing instrument")
	}
	if t.Venue == "" {
		return fmt.Errorf("tick missing venue")
	}
	if !validPrice(t.Price) {
		return fmt.Errorf("tick %s@%s: invalid price %v", t.Instrument, t.Venue, t.Price)
	}
	return nil
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

// FinitePositive reports whether v is a usable price component.
func FinitePositive(v float64) bool { return validPrice(v) }

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
