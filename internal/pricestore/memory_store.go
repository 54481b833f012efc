package pricestore

import (
	"sort"
	"sync"
	"time"

	"github.com/coachpo/spreadwatch/errs"
	"github.com/coachpo/spreadwatch/internal/schema"
)

// MemoryStore is the in-memory implementation of Store. Writes to one key are
// serialized through a per-entry mutex; the outer lock only guards the map.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[Key]*entry
	opts      Options
	shutdown  chan struct{}
	closeOnce sync.Once
}

type entry struct {
	mu     sync.Mutex
	latest schema.Tick
	ring   []schema.Tick
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a memory-backed tick store and starts its sweeper.
func NewMemoryStore(opts Options) *MemoryStore {
	store := new(MemoryStore)
	store.opts = opts.withDefaults()
	store.entries = make(map[Key]*entry)
	store.shutdown = make(chan struct{})
	go store.sweepLoop()
	return store
}

// Put replaces the latest tick for the tick's key and appends it to the ring.
func (s *MemoryStore) Put(tick schema.Tick) error {
	if err := tick.Validate(); err != nil {
		return errs.New(string(tick.Venue), errs.CodeInvalidTick,
			errs.WithInstrument(string(tick.Instrument)),
			errs.WithCause(err))
	}
	key := Key{Instrument: tick.Instrument, Venue: tick.Venue}

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = new(entry)
		s.entries[key] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.latest = tick
	e.ring = append(e.ring, tick)
	if excess := len(e.ring) - s.opts.HistorySize; excess > 0 {
		e.ring = append(e.ring[:0], e.ring[excess:]...)
	}
	return nil
}

// Get returns the latest tick for the key, reporting presence.
func (s *MemoryStore) Get(instrument schema.Instrument, venue schema.Venue) (schema.Tick, bool) {
	s.mu.RLock()
	e, ok := s.entries[Key{Instrument: instrument, Venue: venue}]
	s.mu.RUnlock()
	if !ok {
		return schema.Tick{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest, true
}

// PricesFor returns the latest tick per venue for the instrument, sorted by
// venue for deterministic pairing.
func (s *MemoryStore) PricesFor(instrument schema.Instrument) []schema.Tick {
	s.mu.RLock()
	matched := make([]*entry, 0, 8)
	for key, e := range s.entries {
		if key.Instrument == instrument {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	ticks := make([]schema.Tick, 0, len(matched))
	for _, e := range matched {
		e.mu.Lock()
		ticks = append(ticks, e.latest)
		e.mu.Unlock()
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Venue < ticks[j].Venue })
	return ticks
}

// IsStale reports whether the key is missing or older than StaleAfter.
// The comparison is strict: a tick aged exactly StaleAfter is still live.
func (s *MemoryStore) IsStale(instrument schema.Instrument, venue schema.Venue, now time.Time) bool {
	tick, ok := s.Get(instrument, venue)
	if !ok {
		return true
	}
	return now.Sub(tick.IngestTime) > s.opts.StaleAfter
}

// History returns a copy of the key's ring, oldest first.
func (s *MemoryStore) History(instrument schema.Instrument, venue schema.Venue) []schema.Tick {
	s.mu.RLock()
	e, ok := s.entries[Key{Instrument: instrument, Venue: venue}]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schema.Tick, len(e.ring))
	copy(out, e.ring)
	return out
}

// Sweep removes keys whose latest tick is older than DropAfter and returns
// the number removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	s.mu.Lock()
	for key, e := range s.entries {
		e.mu.Lock()
		idle := now.Sub(e.latest.IngestTime)
		e.mu.Unlock()
		if idle > s.opts.DropAfter {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()
	return removed
}

// Len reports the number of live keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops background maintenance routines.
func (s *MemoryStore) Close() {
	s.closeOnce.Do(func() { close(s.shutdown) })
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.Sweep(time.Now())
		}
	}
}
