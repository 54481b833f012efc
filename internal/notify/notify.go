// Package notify surfaces venue failures out of the detector core, with
// deduplication so repeating faults do not flood the operator channel.
package notify

import (
	"sync"
	"time"

	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/schema"
)

// Kind classifies a venue failure.
type Kind string

const (
	KindCatalogFetchFailed       Kind = "CATALOG_FETCH_FAILED"
	KindStreamOpenFailed         Kind = "STREAM_OPEN_FAILED"
	KindStreamClosedUnexpectedly Kind = "STREAM_CLOSED_UNEXPECTEDLY"
	KindParseFailed              Kind = "PARSE_FAILED"
)

// Notifier receives venue failure reports.
type Notifier interface {
	Notify(venue schema.Venue, kind Kind, message string)
}

// LogNotifier writes failures to the process logger.
type LogNotifier struct{}

func (LogNotifier) Notify(venue schema.Venue, kind Kind, message string) {
	observability.Log().Error("venue failure",
		observability.String("venue", string(venue)),
		observability.String("kind", string(kind)),
		observability.String("message", message))
}

// pruneThreshold bounds the dedup table; entries past cooldown are dropped
// once the table grows beyond it.
const pruneThreshold = 1024

type dedupKey struct {
	venue   schema.Venue
	kind    Kind
	message string
}

// Dedup wraps a Notifier and suppresses repeats of the same
// (venue, kind, message) within a cooldown window.
type Dedup struct {
	mu         sync.Mutex
	next       Notifier
	cooldown   time.Duration
	lastFired  map[dedupKey]time.Time
	forwarded  uint64
	suppressed uint64
	now        func() time.Time
}

// NewDedup wraps next with a 30 minute default cooldown when cooldown <= 0.
func NewDedup(next Notifier, cooldown time.Duration) *Dedup {
	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}
	return &Dedup{
		next:      next,
		cooldown:  cooldown,
		lastFired: make(map[dedupKey]time.Time),
		now:       time.Now,
	}
}

// Notify forwards the failure unless the identical report fired within the
// cooldown window. A report aged exactly one cooldown fires again.
func (d *Dedup) Notify(venue schema.Venue, kind Kind, message string) {
	key := dedupKey{venue: venue, kind: kind, message: message}
	now := d.now()

	d.mu.Lock()
	last, seen := d.lastFired[key]
	if seen && now.Sub(last) < d.cooldown {
		d.suppressed++
		d.mu.Unlock()
		return
	}
	d.lastFired[key] = now
	d.forwarded++
	if len(d.lastFired) > pruneThreshold {
		d.prune(now)
	}
	d.mu.Unlock()

	if d.next != nil {
		d.next.Notify(venue, kind, message)
	}
}

// Stats reports how many notifications were forwarded and suppressed.
func (d *Dedup) Stats() (forwarded, suppressed uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.forwarded, d.suppressed
}

func (d *Dedup) prune(now time.Time) {
	for key, last := range d.lastFired {
		if now.Sub(last) >= d.cooldown {
			delete(d.lastFired, key)
		}
	}
}
