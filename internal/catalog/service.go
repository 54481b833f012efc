// Package catalog discovers the cross-venue instrument universe. It fetches
// every venue's catalog in parallel, keeps the quote-filtered intersection,
// and publishes the resulting active set to the subscription layer.
package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/coachpo/spreadwatch/errs"
	"github.com/coachpo/spreadwatch/internal/adapters"
	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/schema"
)

const (
	defaultQuoteFilter  = "USDT"
	defaultMinVenues    = 2
	defaultFetchTimeout = 10 * time.Second
	defaultRefreshRate  = rate.Limit(2)
	defaultRefreshBurst = 6

	defaultBreakerTripAfter = 3
	defaultBreakerCooldown  = time.Minute
)

// Config tunes catalog discovery.
type Config struct {
	// QuoteFilter keeps only instruments quoted in this asset.
	QuoteFilter string
	// MinVenues is the number of venues an instrument must trade on to join
	// the active set.
	MinVenues int
	// FetchTimeout bounds each venue's catalog fetch.
	FetchTimeout time.Duration
	// RefreshRate and RefreshBurst gate fetches across all venues so repeated
	// refreshes cannot hammer venue REST endpoints.
	RefreshRate  rate.Limit
	RefreshBurst int
	// Fallback is the static active set used when the venue intersection
	// comes up empty.
	Fallback []schema.Instrument
	// BreakerTripAfter is the consecutive-failure count that opens a venue's
	// circuit breaker; BreakerCooldown is how long it stays open.
	BreakerTripAfter int
	BreakerCooldown  time.Duration

	Metrics *observability.RuntimeMetrics
}

func (c Config) withDefaults() Config {
	if c.QuoteFilter == "" {
		c.QuoteFilter = defaultQuoteFilter
	}
	if c.MinVenues <= 0 {
		c.MinVenues = defaultMinVenues
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.RefreshRate <= 0 {
		c.RefreshRate = defaultRefreshRate
	}
	if c.RefreshBurst <= 0 {
		c.RefreshBurst = defaultRefreshBurst
	}
	if c.BreakerTripAfter <= 0 {
		c.BreakerTripAfter = defaultBreakerTripAfter
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = defaultBreakerCooldown
	}
	return c
}

// Applier receives the recomputed subscription plan after each refresh.
// Implemented by the subscription manager.
type Applier interface {
	Apply(ctx context.Context, active []schema.Instrument, assignments map[schema.Venue][]schema.Instrument) error
}

// Snapshot is a read-only view of the discovered universe for status
// surfaces.
type Snapshot struct {
	ActiveSet    []schema.Instrument              `json:"active_set"`
	PerVenue     map[schema.Venue]int             `json:"per_venue_counts"`
	VenueCounts  map[schema.Instrument]int        `json:"venue_counts"`
	LastRefresh  time.Time                        `json:"last_refresh"`
	UsedFallback bool                             `json:"used_fallback"`
	Breakers     map[schema.Venue]gobreaker.State `json:"-"`
}

// Service owns the refresh cycle. All accessors are safe for concurrent use
// with a running refresh.
type Service struct {
	cfg      Config
	adapters []adapters.Adapter
	limiter  *rate.Limiter
	breakers map[schema.Venue]*gobreaker.CircuitBreaker
	applier  Applier

	mu           sync.RWMutex
	active       []schema.Instrument
	perVenue     map[schema.Venue][]schema.Instrument
	venuesFor    map[schema.Instrument][]schema.Venue
	lastRefresh  time.Time
	usedFallback bool

	now func() time.Time
}

// NewService builds a catalog service over the given adapters. The adapter
// slice is not copied; callers must not mutate it afterwards.
func NewService(adapterList []adapters.Adapter, cfg Config) *Service {
	cfg = cfg.withDefaults()
	svc := &Service{
		cfg:       cfg,
		adapters:  adapterList,
		limiter:   rate.NewLimiter(cfg.RefreshRate, cfg.RefreshBurst),
		breakers:  make(map[schema.Venue]*gobreaker.CircuitBreaker, len(adapterList)),
		perVenue:  make(map[schema.Venue][]schema.Instrument),
		venuesFor: make(map[schema.Instrument][]schema.Venue),
		now:       time.Now,
	}
	for _, a := range adapterList {
		svc.breakers[a.Name()] = newBreaker(string(a.Name()), cfg)
	}
	return svc
}

// SetApplier registers the subscription plan consumer. Must be called before
// the first Refresh.
func (s *Service) SetApplier(applier Applier) {
	s.applier = applier
}

func newBreaker(name string, cfg Config) *gobreaker.CircuitBreaker {
	tripAfter := uint32(cfg.BreakerTripAfter)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: cfg.BreakerCooldown,
		Timeout:  cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.Log().Error("catalog breaker state change",
				observability.String("venue", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()))
		},
	})
}

// Refresh fetches every venue catalog in parallel, recomputes the active set,
// and pushes the new plan to the applier. It reports whether the active set
// changed. Venue failures degrade that venue to an empty set; the aggregate
// error carries every failure without aborting the refresh.
func (s *Service) Refresh(ctx context.Context) (bool, error) {
	if len(s.adapters) == 0 {
		return false, errs.New("catalog", errs.CodeConfig, errs.WithMessage("no adapters registered"))
	}

	var mu sync.Mutex
	results := make(map[schema.Venue][]schema.CatalogEntry, len(s.adapters))
	fetchErrs := make([]error, 0, len(s.adapters))

	p := pool.New().WithMaxGoroutines(len(s.adapters))
	for _, adapter := range s.adapters {
		a := adapter
		p.Go(func() {
			entries, err := s.fetchVenue(ctx, a)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fetchErrs = append(fetchErrs, err)
				results[a.Name()] = nil
				return
			}
			results[a.Name()] = entries
		})
	}
	p.Wait()

	err := observability.AggregateErrors("catalog refresh", fetchErrs)
	changed := s.rebuild(results)

	if s.applier != nil {
		if applyErr := s.applier.Apply(ctx, s.ActiveSet(), s.Assignments()); applyErr != nil {
			err = errors.Join(err, applyErr)
		}
	}
	return changed, err
}

func (s *Service) fetchVenue(ctx context.Context, a adapters.Adapter) ([]schema.CatalogEntry, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errs.New(string(a.Name()), errs.CodeCatalogUnavailable,
			errs.WithMessage("catalog rate limit wait"), errs.WithCause(err))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	result, err := s.breakers[a.Name()].Execute(func() (any, error) {
		return a.FetchCatalog(fetchCtx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// The adapter never ran, so its own failure accounting did not
			// fire; count the skip here.
			s.cfg.Metrics.RecordCatalogFailure(string(a.Name()))
			return nil, errs.New(string(a.Name()), errs.CodeCatalogUnavailable,
				errs.WithMessage("catalog breaker open"), errs.WithCause(err))
		}
		return nil, err
	}
	entries, _ := result.([]schema.CatalogEntry)
	return entries, nil
}

// rebuild recomputes the active set from per-venue catalog results under the
// write lock. Returns true when the active set changed.
func (s *Service) rebuild(results map[schema.Venue][]schema.CatalogEntry) bool {
	perVenue := make(map[schema.Venue][]schema.Instrument, len(results))
	venuesFor := make(map[schema.Instrument][]schema.Venue)

	for venue, entries := range results {
		kept := make([]schema.Instrument, 0, len(entries))
		seen := make(map[schema.Instrument]struct{}, len(entries))
		for _, entry := range entries {
			if !entry.Tradable || !strings.EqualFold(entry.Quote, s.cfg.QuoteFilter) {
				continue
			}
			if !entry.Instrument.Valid() {
				continue
			}
			if _, dup := seen[entry.Instrument]; dup {
				continue
			}
			seen[entry.Instrument] = struct{}{}
			kept = append(kept, entry.Instrument)
			venuesFor[entry.Instrument] = append(venuesFor[entry.Instrument], venue)
		}
		sort.Slice(kept, func(i, j int) bool { return kept[i] < kept[j] })
		perVenue[venue] = kept
	}

	active := make([]schema.Instrument, 0, len(venuesFor))
	for instrument, venues := range venuesFor {
		if len(venues) >= s.cfg.MinVenues {
			active = append(active, instrument)
		}
	}
	// Venue-count descending, then lexicographic for equal counts.
	sort.Slice(active, func(i, j int) bool {
		ci, cj := len(venuesFor[active[i]]), len(venuesFor[active[j]])
		if ci != cj {
			return ci > cj
		}
		return active[i] < active[j]
	})

	usedFallback := false
	if len(active) == 0 && len(s.cfg.Fallback) > 0 {
		active, perVenue, venuesFor = s.fallbackUniverse()
		usedFallback = true
		observability.Log().Error("catalog intersection empty, using fallback set",
			observability.Int("instruments", len(active)))
	}

	for instrument := range venuesFor {
		venues := venuesFor[instrument]
		sort.Slice(venues, func(i, j int) bool { return venues[i] < venues[j] })
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := !instrumentsEqual(s.active, active)
	s.active = active
	s.perVenue = perVenue
	s.venuesFor = venuesFor
	s.lastRefresh = s.now()
	s.usedFallback = usedFallback
	return changed
}

// fallbackUniverse assigns every fallback instrument to every configured
// venue. The fallback list is curated to majors listed everywhere, and a
// subscription for an unlisted pair fails in the adapter without disturbing
// the rest.
func (s *Service) fallbackUniverse() ([]schema.Instrument, map[schema.Venue][]schema.Instrument, map[schema.Instrument][]schema.Venue) {
	active := make([]schema.Instrument, 0, len(s.cfg.Fallback))
	seen := make(map[schema.Instrument]struct{}, len(s.cfg.Fallback))
	for _, instrument := range s.cfg.Fallback {
		if !instrument.Valid() {
			continue
		}
		if _, dup := seen[instrument]; dup {
			continue
		}
		seen[instrument] = struct{}{}
		active = append(active, instrument)
	}
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })

	perVenue := make(map[schema.Venue][]schema.Instrument, len(s.adapters))
	venuesFor := make(map[schema.Instrument][]schema.Venue, len(active))
	for _, a := range s.adapters {
		perVenue[a.Name()] = append([]schema.Instrument(nil), active...)
		for _, instrument := range active {
			venuesFor[instrument] = append(venuesFor[instrument], a.Name())
		}
	}
	return active, perVenue, venuesFor
}

// ActiveSet returns the current active instruments, venue-count descending
// then lexicographic.
func (s *Service) ActiveSet() []schema.Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]schema.Instrument(nil), s.active...)
}

// ExchangesFor lists the venues that catalog the instrument, sorted by name.
func (s *Service) ExchangesFor(instrument schema.Instrument) []schema.Venue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	venues := s.venuesFor[instrument]
	if len(venues) == 0 {
		return nil
	}
	return append([]schema.Venue(nil), venues...)
}

// Assignments maps each venue to the active instruments it lists, the unit
// of work consumed by the subscription manager.
func (s *Service) Assignments() map[schema.Venue][]schema.Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()

	activeSet := make(map[schema.Instrument]struct{}, len(s.active))
	for _, instrument := range s.active {
		activeSet[instrument] = struct{}{}
	}
	assignments := make(map[schema.Venue][]schema.Instrument, len(s.perVenue))
	for venue, instruments := range s.perVenue {
		assigned := make([]schema.Instrument, 0, len(instruments))
		for _, instrument := range instruments {
			if _, ok := activeSet[instrument]; ok {
				assigned = append(assigned, instrument)
			}
		}
		assignments[venue] = assigned
	}
	return assignments
}

// Snapshot returns a read-only view for status surfaces.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[schema.Instrument]int, len(s.venuesFor))
	for instrument, venues := range s.venuesFor {
		counts[instrument] = len(venues)
	}
	perVenue := make(map[schema.Venue]int, len(s.perVenue))
	for venue, instruments := range s.perVenue {
		perVenue[venue] = len(instruments)
	}
	breakers := make(map[schema.Venue]gobreaker.State, len(s.breakers))
	for venue, breaker := range s.breakers {
		breakers[venue] = breaker.State()
	}
	return Snapshot{
		ActiveSet:    append([]schema.Instrument(nil), s.active...),
		PerVenue:     perVenue,
		VenueCounts:  counts,
		LastRefresh:  s.lastRefresh,
		UsedFallback: s.usedFallback,
		Breakers:     breakers,
	}
}

func instrumentsEqual(a, b []schema.Instrument) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
