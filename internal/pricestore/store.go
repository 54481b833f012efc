// Package pricestore defines concurrent storage for normalized venue ticks.
package pricestore

import (
	"time"

	"github.com/coachpo/spreadwatch/errs"
	"github.com/coachpo/spreadwatch/internal/schema"
)

// Key identifies the latest-price slot for one instrument on one venue.
type Key struct {
	Instrument schema.Instrument
	Venue      schema.Venue
}

// Validate ensures the key conforms to canonical rules.
func (k Key) Validate() error {
	if !k.Instrument.Valid() {
		return errs.New(string(k.Venue), errs.CodeInvalidTick,
			errs.WithMessage("instrument required"))
	}
	if !k.Venue.Valid() {
		return errs.New(string(k.Venue), errs.CodeInvalidTick,
			errs.WithInstrument(string(k.Instrument)),
			errs.WithMessage("venue required"))
	}
	return nil
}

// Options tunes store capacity and retention.
type Options struct {
	// HistorySize bounds the per-key ring of recent ticks.
	HistorySize int
	// StaleAfter is the age beyond which a latest tick no longer counts as live.
	StaleAfter time.Duration
	// DropAfter is the idle age after which a key is removed entirely.
	DropAfter time.Duration
	// SweepInterval is the cadence of the background removal pass.
	SweepInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.HistorySize <= 0 {
		o.HistorySize = 100
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 60 * time.Second
	}
	if o.DropAfter <= 0 {
		o.DropAfter = 5 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	return o
}

// Store is the contract between tick producers and spread consumers.
type Store interface {
	// Put replaces the latest tick for (instrument, venue) and appends it to
	// the history ring. Invalid ticks are rejected.
	Put(tick schema.Tick) error
	// Get returns the latest tick for the key, reporting presence.
	Get(instrument schema.Instrument, venue schema.Venue) (schema.Tick, bool)
	// PricesFor returns the latest tick per venue that has reported the
	// instrument, sorted by venue. Stale entries are included.
	PricesFor(instrument schema.Instrument) []schema.Tick
	// IsStale reports whether the key is missing or its latest tick is older
	// than StaleAfter at the supplied reference time.
	IsStale(instrument schema.Instrument, venue schema.Venue, now time.Time) bool
	// History returns a copy of the key's ring, oldest first.
	History(instrument schema.Instrument, venue schema.Venue) []schema.Tick
	// Sweep removes keys idle for longer than DropAfter and returns the count.
	Sweep(now time.Time) int
	// Len reports the number of live keys.
	Len() int
}
