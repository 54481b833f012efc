// Package engine detects cross-venue price spreads. A single scan goroutine
// walks the active instrument set on a fixed cadence, opens opportunities
// when spreads clear the open threshold, and closes them on convergence,
// staleness, or age.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/spreadwatch/internal/alert"
	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/pricestore"
	"github.com/coachpo/spreadwatch/internal/schema"
	"github.com/coachpo/spreadwatch/internal/telemetry"
)

// convergedThresholdPct is the spread under which a close counts as price
// convergence. Checked after the close threshold, so with default thresholds
// a sub-converged spread still closes as BELOW_THRESHOLD.
const convergedThresholdPct = 0.1

// Universe supplies the instruments the engine scans. Implemented by the
// catalog service.
type Universe interface {
	ActiveSet() []schema.Instrument
}

// Config tunes the detection thresholds. Zero fields take the defaults noted
// per field.
type Config struct {
	// ScanInterval is the cadence of the scan loop (10s).
	ScanInterval time.Duration
	// OpenThresholdPct opens an opportunity when the spread reaches it,
	// inclusive (0.7).
	OpenThresholdPct float64
	// CloseThresholdPct closes an opportunity when the spread falls under
	// it, exclusive (0.5).
	CloseThresholdPct float64
	// MinProfit is the implied-profit floor for opening (10).
	MinProfit float64
	// NotionalUnits scales spreadAbs into the implied profit (1000).
	NotionalUnits float64
	// AlertCooldown is the minimum gap between OPEN_OR_UPDATE alerts for one
	// opportunity (5m).
	AlertCooldown time.Duration
	// MaxOpportunityAge times out opportunities that never converge (2h).
	MaxOpportunityAge time.Duration
	// MinCloseAlertDuration suppresses CLOSE alerts for short-lived
	// opportunities (2m).
	MinCloseAlertDuration time.Duration
	// DisableCloseAlerts turns off CLOSE alerts entirely.
	DisableCloseAlerts bool
	// ClosedHistorySize bounds the in-memory closed ring (1000).
	ClosedHistorySize int
}

func (c Config) withDefaults() Config {
	if c.ScanInterval <= 0 {
		c.ScanInterval = 10 * time.Second
	}
	if c.OpenThresholdPct <= 0 {
		c.OpenThresholdPct = 0.7
	}
	if c.CloseThresholdPct <= 0 {
		c.CloseThresholdPct = 0.5
	}
	if c.MinProfit <= 0 {
		c.MinProfit = 10
	}
	if c.NotionalUnits <= 0 {
		c.NotionalUnits = 1000
	}
	if c.AlertCooldown <= 0 {
		c.AlertCooldown = 5 * time.Minute
	}
	if c.MaxOpportunityAge <= 0 {
		c.MaxOpportunityAge = 2 * time.Hour
	}
	if c.MinCloseAlertDuration <= 0 {
		c.MinCloseAlertDuration = 2 * time.Minute
	}
	if c.ClosedHistorySize <= 0 {
		c.ClosedHistorySize = 1000
	}
	return c
}

// Engine owns all opportunity state. The scan goroutine mutates it under the
// engine lock; accessors return copies.
type Engine struct {
	cfg      Config
	store    pricestore.Store
	universe Universe
	sink     alert.Sink
	metrics  *observability.RuntimeMetrics

	running atomic.Bool
	cancel  context.CancelFunc
	wg      conc.WaitGroup

	mu       sync.Mutex
	active   map[string]*schema.ActiveOpportunity
	throttle *alertThrottle
	closed   []schema.ClosedOpportunity

	now func() time.Time
}

// New builds an engine over the price store, the catalog universe, and the
// alert sink.
func New(store pricestore.Store, universe Universe, sink alert.Sink, metrics *observability.RuntimeMetrics, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:      cfg,
		store:    store,
		universe: universe,
		sink:     sink,
		metrics:  metrics,
		active:   make(map[string]*schema.ActiveOpportunity),
		throttle: newAlertThrottle(cfg.AlertCooldown),
		closed:   make([]schema.ClosedOpportunity, 0, cfg.ClosedHistorySize),
		now:      time.Now,
	}
}

// Run launches the scan loop until the context is cancelled. Scans never
// overlap; a scan that outlasts its interval coalesces the missed ticks.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("engine requires context")
	}
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Go(func() { e.scanLoop(ctx) })
	return nil
}

// Stop halts the scan loop and waits for an in-flight scan to finish.
func (e *Engine) Stop() {
	if !e.running.Load() {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.running.Store(false)
}

func (e *Engine) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.scan(ctx)
		}
	}
}

// scan shields the loop from a panicking scan; the next tick proceeds on the
// normal schedule.
func (e *Engine) scan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			observability.Log().Error("scan panic",
				observability.Field{Key: "panic", Value: r})
		}
	}()
	start := time.Now()
	e.scanOnce(ctx, e.now())
	observability.Telemetry().ObserveHistogram(telemetry.MetricScanDuration,
		float64(time.Since(start).Microseconds())/1000, nil)
}

// scanOnce runs one atomic scan at the supplied instant: close checks first,
// then open detection.
func (e *Engine) scanOnce(ctx context.Context, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkClosesLocked(ctx, now)
	e.findOpensLocked(ctx, now)
	e.metrics.RecordScan()
}

func (e *Engine) findOpensLocked(ctx context.Context, now time.Time) {
	for _, instrument := range e.universe.ActiveSet() {
		ticks := e.store.PricesFor(instrument)
		fresh := make([]schema.Tick, 0, len(ticks))
		for _, tick := range ticks {
			if e.store.IsStale(instrument, tick.Venue, now) {
				continue
			}
			fresh = append(fresh, tick)
		}
		if len(fresh) < 2 {
			continue
		}
		for i := 0; i < len(fresh); i++ {
			for j := i + 1; j < len(fresh); j++ {
				e.evaluatePairLocked(ctx, now, instrument, fresh[i], fresh[j])
			}
		}
	}
}

func (e *Engine) evaluatePairLocked(ctx context.Context, now time.Time, instrument schema.Instrument, x, y schema.Tick) {
	a, b := x, y
	if b.Venue < a.Venue {
		a, b = b, a
	}
	quote, ok := computeSpread(a.Price, b.Price, e.cfg.NotionalUnits)
	if !ok {
		return
	}
	if quote.SpreadPct < e.cfg.OpenThresholdPct || quote.ImpliedProfit < e.cfg.MinProfit {
		return
	}

	id := schema.OpportunityID(instrument, a.Venue, b.Venue)
	if o, known := e.active[id]; known {
		o.PriceA, o.PriceB = quote.PriceA, quote.PriceB
		o.SpreadAbs, o.SpreadPct = quote.SpreadAbs, quote.SpreadPct
		o.ImpliedProfit, o.Direction = quote.ImpliedProfit, quote.Direction
		o.LastSeenTime = now
		if quote.SpreadPct > o.PeakSpreadPct {
			o.PeakSpreadPct = quote.SpreadPct
			o.PeakProfit = quote.ImpliedProfit
			o.PeakTime = now
		}
		if e.throttle.Allow(id, now) {
			o.AlertsSent++
			e.enqueueLocked(ctx, schema.NewOpenAlert(*o, now))
		} else {
			e.metrics.RecordAlertSuppressed()
		}
		return
	}

	o := &schema.ActiveOpportunity{
		ID:         id,
		Instrument: instrument,
		VenueA:     a.Venue,
		VenueB:     b.Venue,

		OpenTime:     now,
		LastSeenTime: now,

		PriceA:        quote.PriceA,
		PriceB:        quote.PriceB,
		SpreadAbs:     quote.SpreadAbs,
		SpreadPct:     quote.SpreadPct,
		ImpliedProfit: quote.ImpliedProfit,
		Direction:     quote.Direction,

		OpenPriceA:    quote.PriceA,
		OpenPriceB:    quote.PriceB,
		OpenSpreadPct: quote.SpreadPct,
		OpenProfit:    quote.ImpliedProfit,
		OpenDirection: quote.Direction,

		PeakSpreadPct: quote.SpreadPct,
		PeakProfit:    quote.ImpliedProfit,
		PeakTime:      now,

		AlertsSent: 1,
	}
	e.active[id] = o
	e.throttle.Mark(id, now)
	e.metrics.RecordOpen()
	e.enqueueLocked(ctx, schema.NewOpenAlert(*o, now))
	observability.Log().Info("opportunity opened",
		observability.String("id", id),
		observability.Float("spread_pct", quote.SpreadPct),
		observability.Float("implied_profit", quote.ImpliedProfit),
		observability.String("direction", string(quote.Direction)))
}

func (e *Engine) checkClosesLocked(ctx context.Context, now time.Time) {
	for _, o := range e.active {
		tickA, okA := e.store.Get(o.Instrument, o.VenueA)
		tickB, okB := e.store.Get(o.Instrument, o.VenueB)
		if !okA || !okB ||
			e.store.IsStale(o.Instrument, o.VenueA, now) ||
			e.store.IsStale(o.Instrument, o.VenueB, now) {
			// Data loss closes as convergence, preserving the source
			// behavior this detector replicates.
			e.closeLocked(ctx, now, o, o.PriceA, o.PriceB, o.SpreadPct, schema.ClosePriceConverged)
			continue
		}

		quote, ok := computeSpread(tickA.Price, tickB.Price, e.cfg.NotionalUnits)
		if !ok {
			e.closeLocked(ctx, now, o, o.PriceA, o.PriceB, o.SpreadPct, schema.ClosePriceConverged)
			continue
		}

		switch {
		case quote.SpreadPct < e.cfg.CloseThresholdPct:
			e.closeLocked(ctx, now, o, quote.PriceA, quote.PriceB, quote.SpreadPct, schema.CloseBelowThreshold)
		case quote.SpreadPct < convergedThresholdPct:
			e.closeLocked(ctx, now, o, quote.PriceA, quote.PriceB, quote.SpreadPct, schema.ClosePriceConverged)
		case now.Sub(o.OpenTime) > e.cfg.MaxOpportunityAge:
			e.closeLocked(ctx, now, o, quote.PriceA, quote.PriceB, quote.SpreadPct, schema.CloseTimeout)
		default:
			o.PriceA, o.PriceB = quote.PriceA, quote.PriceB
			o.SpreadAbs, o.SpreadPct = quote.SpreadAbs, quote.SpreadPct
			o.ImpliedProfit, o.Direction = quote.ImpliedProfit, quote.Direction
			if quote.SpreadPct > o.PeakSpreadPct {
				o.PeakSpreadPct = quote.SpreadPct
				o.PeakProfit = quote.ImpliedProfit
				o.PeakTime = now
			}
		}
	}
}

func (e *Engine) closeLocked(ctx context.Context, now time.Time, o *schema.ActiveOpportunity, closePriceA, closePriceB, closeSpreadPct float64, reason schema.CloseReason) {
	record := schema.ClosedOpportunity{
		ID:         o.ID,
		Instrument: o.Instrument,
		VenueA:     o.VenueA,
		VenueB:     o.VenueB,

		OpenTime:      o.OpenTime,
		OpenPriceA:    o.OpenPriceA,
		OpenPriceB:    o.OpenPriceB,
		OpenSpreadPct: o.OpenSpreadPct,
		OpenProfit:    o.OpenProfit,
		OpenDirection: o.OpenDirection,

		CloseTime:      now,
		ClosePriceA:    closePriceA,
		ClosePriceB:    closePriceB,
		CloseSpreadPct: closeSpreadPct,

		PeakSpreadPct: o.PeakSpreadPct,
		PeakProfit:    o.PeakProfit,
		PeakTime:      o.PeakTime,

		Duration:    now.Sub(o.OpenTime),
		CloseReason: reason,
		AlertsSent:  o.AlertsSent,
	}
	delete(e.active, o.ID)
	e.throttle.Forget(o.ID)
	e.appendClosedLocked(record)
	e.metrics.RecordClose()

	if !e.cfg.DisableCloseAlerts && record.Duration >= e.cfg.MinCloseAlertDuration {
		e.enqueueLocked(ctx, schema.NewCloseAlert(record, now))
	}
	observability.Log().Info("opportunity closed",
		observability.String("id", record.ID),
		observability.String("reason", string(reason)),
		observability.Float("peak_spread_pct", record.PeakSpreadPct),
		observability.String("duration", record.Duration.String()))
}

// appendClosedLocked keeps the closed ring bounded, evicting the oldest
// record when full.
func (e *Engine) appendClosedLocked(record schema.ClosedOpportunity) {
	if len(e.closed) >= e.cfg.ClosedHistorySize {
		copy(e.closed[0:], e.closed[1:])
		e.closed[len(e.closed)-1] = record
		return
	}
	e.closed = append(e.closed, record)
}

// enqueueLocked hands the event to the sink, retrying up to the default
// budget before dropping. Opportunity state is never rolled back on drop.
func (e *Engine) enqueueLocked(ctx context.Context, event schema.AlertEvent) {
	var err error
	for attempt := 0; attempt < schema.DefaultAlertRetries; attempt++ {
		if err = e.sink.Enqueue(ctx, event); err == nil {
			e.metrics.RecordAlertEnqueued()
			return
		}
	}
	e.metrics.RecordAlertDropped()
	observability.Log().Error("alert enqueue dropped",
		observability.String("event_id", event.EventID),
		observability.String("kind", string(event.Kind)),
		observability.Err(err))
}

// CloseAll force-closes every active opportunity with the given reason and
// returns the count. Used on shutdown (MANUAL) and by operator surfaces.
func (e *Engine) CloseAll(ctx context.Context, reason schema.CloseReason) int {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	closed := 0
	for _, o := range e.active {
		e.closeLocked(ctx, now, o, o.PriceA, o.PriceB, o.SpreadPct, reason)
		closed++
	}
	return closed
}

// ActiveCount reports the number of open opportunities.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// ActiveSnapshot returns copies of the open opportunities, sorted by id.
func (e *Engine) ActiveSnapshot() []schema.ActiveOpportunity {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := make([]schema.ActiveOpportunity, 0, len(e.active))
	for _, o := range e.active {
		snapshot = append(snapshot, *o)
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	return snapshot
}

// ClosedHistory returns a copy of the closed ring, oldest first.
func (e *Engine) ClosedHistory() []schema.ClosedOpportunity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]schema.ClosedOpportunity(nil), e.closed...)
}
