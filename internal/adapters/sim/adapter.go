// Package sim provides a synthetic venue for development and tests. Prices
// follow a deterministic bounded walk so runs are reproducible without any
// network access.
package sim

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/spreadwatch/errs"
	"github.com/coachpo/spreadwatch/internal/adapters/shared"
	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/schema"
)

const venueName = string(schema.VenueSim)

// DefaultInstruments lists the instruments served when none are configured.
var DefaultInstruments = []schema.Instrument{
	"BTC/USDT",
	"ETH/USDT",
	"SOL/USDT",
}

// Options configure the synthetic venue.
type Options struct {
	// TickerInterval is the gap between emitted ticks per instrument.
	TickerInterval time.Duration
	// Instruments is the catalog served by FetchCatalog. Defaults to
	// DefaultInstruments.
	Instruments []schema.Instrument

	Metrics *observability.RuntimeMetrics
}

func withDefaults(in Options) Options {
	if in.TickerInterval <= 0 {
		in.TickerInterval = time.Second
	}
	if len(in.Instruments) == 0 {
		in.Instruments = DefaultInstruments
	}
	return in
}

// Adapter emits synthetic ticks on a fixed interval per subscription.
type Adapter struct {
	opts    Options
	running atomic.Bool

	mu      sync.Mutex
	parent  context.Context
	subs    map[schema.Instrument]*subscription
	state   map[schema.Instrument]*walkState
	lastErr string

	clock func() time.Time
}

type subscription struct {
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

type walkState struct {
	mu        sync.Mutex
	basePrice float64
	lastPrice float64
	high      float64
	low       float64
	volume    float64
	seq       uint64
}

// New constructs the synthetic adapter.
func New(opts Options) *Adapter {
	adapter := new(Adapter)
	adapter.opts = withDefaults(opts)
	adapter.subs = make(map[schema.Instrument]*subscription)
	adapter.state = make(map[schema.Instrument]*walkState)
	adapter.clock = time.Now
	return adapter
}

// Name identifies the adapter's venue.
func (a *Adapter) Name() schema.Venue { return schema.VenueSim }

// Start marks the adapter ready. It is idempotent; tick generators spawn per
// subscription.
func (a *Adapter) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !a.running.CompareAndSwap(false, true) {
		return nil
	}
	a.mu.Lock()
	a.parent = ctx
	a.mu.Unlock()
	return nil
}

// Stop cancels every generator and waits for them to drain.
func (a *Adapter) Stop() error {
	a.running.Store(false)
	a.mu.Lock()
	subs := a.subs
	a.subs = make(map[schema.Instrument]*subscription)
	a.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		sub.wg.Wait()
	}
	return nil
}

// FetchCatalog lists the configured instruments. The synthetic venue never
// fails.
func (a *Adapter) FetchCatalog(_ context.Context) ([]schema.CatalogEntry, error) {
	return shared.FallbackEntries(a.opts.Instruments), nil
}

// Subscribe spawns a generator emitting walk ticks for the instrument.
func (a *Adapter) Subscribe(instrument schema.Instrument, sink schema.TickSink) error {
	if !a.running.Load() {
		return errs.New(venueName, errs.CodeConflict, errs.WithMessage("adapter not started"))
	}
	if !instrument.Valid() || sink == nil {
		return errs.New(venueName, errs.CodeInvalidTick,
			errs.WithInstrument(string(instrument)),
			errs.WithMessage("subscription requires instrument and sink"))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.subs[instrument]; ok {
		existing.cancel()
		existing.wg.Wait()
	}
	parent := a.parent
	if parent == nil {
		parent = context.Background()
	}
	genCtx, cancel := context.WithCancel(parent)
	sub := &subscription{cancel: cancel}
	sub.wg.Go(func() {
		a.streamTicks(genCtx, instrument, sink)
	})
	a.subs[instrument] = sub
	return nil
}

// Unsubscribe stops the instrument's generator.
func (a *Adapter) Unsubscribe(instrument schema.Instrument) error {
	a.mu.Lock()
	sub, ok := a.subs[instrument]
	delete(a.subs, instrument)
	a.mu.Unlock()

	if ok {
		sub.cancel()
		sub.wg.Wait()
	}
	return nil
}

// Status reports generator liveness. The synthetic venue counts as connected
// whenever it is running.
func (a *Adapter) Status() schema.VenueStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	status := schema.VenueStatus{
		Venue:     schema.VenueSim,
		Connected: a.running.Load(),
		LastError: a.lastErr,
	}
	status.ConnectionCount = len(a.subs)
	status.Subscribed = make([]schema.Instrument, 0, len(a.subs))
	for instrument := range a.subs {
		status.Subscribed = append(status.Subscribed, instrument)
	}
	sort.Slice(status.Subscribed, func(i, j int) bool {
		return status.Subscribed[i] < status.Subscribed[j]
	})
	return status
}

func (a *Adapter) streamTicks(ctx context.Context, instrument schema.Instrument, sink schema.TickSink) {
	ticker := time.NewTicker(a.opts.TickerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.emitTick(instrument, sink)
		}
	}
}

func (a *Adapter) emitTick(instrument schema.Instrument, sink schema.TickSink) {
	state := a.getState(instrument)
	state.mu.Lock()
	price := state.next()
	state.volume += 25 + float64(state.seq%50)
	tick := schema.Tick{
		Instrument: instrument,
		Venue:      schema.VenueSim,
		Price:      price,
		IngestTime: a.clock().UTC(),
		Volume:     state.volume,
		High:       state.high,
		Low:        state.low,
	}
	state.mu.Unlock()

	if !a.running.Load() {
		return
	}
	sink(tick)
	a.opts.Metrics.RecordTick(venueName)
}

func (a *Adapter) getState(instrument schema.Instrument) *walkState {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.state[instrument]
	if !ok {
		base := defaultBasePrice(instrument)
		state = &walkState{basePrice: base, lastPrice: base, high: base, low: base}
		a.state[instrument] = state
	}
	return state
}

// next advances the walk one step. The sine amplitude keeps prices bounded
// around the base.
func (s *walkState) next() float64 {
	s.seq++
	price := s.lastPrice + 0.75*math.Sin(float64(s.seq%13))
	if price <= 0 {
		price = s.basePrice
	}
	s.lastPrice = price
	if price > s.high {
		s.high = price
	}
	if price < s.low {
		s.low = price
	}
	return price
}

func defaultBasePrice(instrument schema.Instrument) float64 {
	switch instrument {
	case "BTC/USDT":
		return 60000
	case "ETH/USDT":
		return 2000
	case "SOL/USDT":
		return 150
	default:
		return 100
	}
}
