package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/coachpo/spreadwatch/internal/alert"
	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/pricestore"
	"github.com/coachpo/spreadwatch/internal/schema"
)

const testInstrument schema.Instrument = "BTC/USDT"

const (
	venueBinance schema.Venue = "binance"
	venueOKX     schema.Venue = "okx"
	venueBybit   schema.Venue = "bybit"
)

func baseTime() time.Time {
	return time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
}

type stubUniverse struct {
	instruments []schema.Instrument
}

func (u *stubUniverse) ActiveSet() []schema.Instrument {
	return append([]schema.Instrument(nil), u.instruments...)
}

type harness struct {
	engine  *Engine
	store   *pricestore.MemoryStore
	queue   *alert.Queue
	metrics *observability.RuntimeMetrics
}

func newTestEngine(t *testing.T, cfg Config) *harness {
	t.Helper()
	store := pricestore.NewMemoryStore(pricestore.Options{SweepInterval: time.Hour})
	t.Cleanup(store.Close)
	metrics := observability.NewRuntimeMetrics()
	queue := alert.NewQueue(100)
	universe := &stubUniverse{instruments: []schema.Instrument{testInstrument}}
	return &harness{
		engine:  New(store, universe, queue, metrics, cfg),
		store:   store,
		queue:   queue,
		metrics: metrics,
	}
}

func (h *harness) feed(t *testing.T, venue schema.Venue, price float64, at time.Time) {
	t.Helper()
	tick := schema.Tick{Instrument: testInstrument, Venue: venue, Price: price, IngestTime: at}
	if err := h.store.Put(tick); err != nil {
		t.Fatalf("Put(%s) error = %v", venue, err)
	}
}

// openSpread feeds a qualifying two-venue spread at the given instant, scans
// one second later, and drains the resulting open event.
func (h *harness) openSpread(t *testing.T, at time.Time) {
	t.Helper()
	h.feed(t, venueBinance, 100.00, at)
	h.feed(t, venueOKX, 101.00, at)
	h.engine.scanOnce(context.Background(), at.Add(time.Second))
	if got := h.engine.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() after open = %d, want 1", got)
	}
	h.queue.Drain()
}

func TestScanOpensOpportunity(t *testing.T) {
	h := newTestEngine(t, Config{})
	t0 := baseTime()
	h.feed(t, venueBinance, 100.00, t0)
	h.feed(t, venueOKX, 101.00, t0)

	h.engine.scanOnce(context.Background(), t0.Add(time.Second))

	events := h.queue.Drain()
	if len(events) != 1 {
		t.Fatalf("Drain() returned %d events, want 1", len(events))
	}
	event := events[0]
	if event.Kind != schema.AlertOpenOrUpdate {
		t.Fatalf("event kind = %s, want %s", event.Kind, schema.AlertOpenOrUpdate)
	}
	o := event.Opportunity
	if o == nil {
		t.Fatal("open event carries no opportunity")
	}
	wantID := schema.OpportunityID(testInstrument, venueBinance, venueOKX)
	if o.ID != wantID {
		t.Fatalf("opportunity id = %q, want %q", o.ID, wantID)
	}
	if o.Direction != schema.DirectionBuyASellB {
		t.Fatalf("direction = %s, want %s", o.Direction, schema.DirectionBuyASellB)
	}
	if diff := math.Abs(o.SpreadPct - 100*1/100.5); diff > 1e-9 {
		t.Fatalf("spread pct = %v, want about 0.995", o.SpreadPct)
	}
	if o.ImpliedProfit != 1000 {
		t.Fatalf("implied profit = %v, want 1000", o.ImpliedProfit)
	}
	if o.AlertsSent != 1 {
		t.Fatalf("alerts sent = %d, want 1", o.AlertsSent)
	}
	if !o.OpenTime.Equal(t0.Add(time.Second)) {
		t.Fatalf("open time = %v, want %v", o.OpenTime, t0.Add(time.Second))
	}
	if got := h.engine.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", got)
	}

	snapshot := h.metrics.Snapshot()
	if snapshot.ScansCompleted != 1 || snapshot.OpportunityOpens != 1 || snapshot.AlertsEnqueued != 1 {
		t.Fatalf("metrics = scans %d opens %d enqueued %d, want 1 1 1",
			snapshot.ScansCompleted, snapshot.OpportunityOpens, snapshot.AlertsEnqueued)
	}
}

func TestCooldownSuppressesRepeatAlerts(t *testing.T) {
	h := newTestEngine(t, Config{})
	ctx := context.Background()
	t0 := baseTime()
	h.openSpread(t, t0)

	// The spread holds; scans inside the cooldown stay silent.
	for _, offset := range []time.Duration{11 * time.Second, 61 * time.Second, 240 * time.Second} {
		at := t0.Add(offset)
		h.feed(t, venueBinance, 100.00, at)
		h.feed(t, venueOKX, 101.00, at)
		h.engine.scanOnce(ctx, at)
		if got := h.queue.Len(); got != 0 {
			t.Fatalf("scan at +%s enqueued %d events, want 0", offset, got)
		}
	}

	// One full cooldown after the open alert, the next scan re-alerts.
	at := t0.Add(301 * time.Second)
	h.feed(t, venueBinance, 100.00, at)
	h.feed(t, venueOKX, 101.00, at)
	h.engine.scanOnce(ctx, at)

	events := h.queue.Drain()
	if len(events) != 1 {
		t.Fatalf("post-cooldown scan enqueued %d events, want 1", len(events))
	}
	if events[0].Opportunity.AlertsSent != 2 {
		t.Fatalf("alerts sent = %d, want 2", events[0].Opportunity.AlertsSent)
	}
	if suppressed := h.metrics.Snapshot().AlertsSuppressed; suppressed != 3 {
		t.Fatalf("suppressed counter = %d, want 3", suppressed)
	}
}

func TestSwappedVenuesKeepIdentity(t *testing.T) {
	h := newTestEngine(t, Config{})
	ctx := context.Background()
	t0 := baseTime()
	h.openSpread(t, t0)

	// Same magnitude with the venues flipped: the identity is unchanged and
	// only the direction flips.
	at := t0.Add(30 * time.Second)
	h.feed(t, venueBinance, 101.00, at)
	h.feed(t, venueOKX, 100.00, at)
	h.engine.scanOnce(ctx, at)

	if got := h.engine.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", got)
	}
	active := h.engine.ActiveSnapshot()[0]
	if active.Direction != schema.DirectionBuyBSellA {
		t.Fatalf("direction = %s, want %s", active.Direction, schema.DirectionBuyBSellA)
	}
	if active.AlertsSent != 1 {
		t.Fatalf("alerts sent = %d, want 1", active.AlertsSent)
	}
	if !active.LastSeenTime.Equal(at) {
		t.Fatalf("last seen = %v, want %v", active.LastSeenTime, at)
	}
	if got := h.queue.Len(); got != 0 {
		t.Fatalf("venue flip enqueued %d events, want 0", got)
	}
}

func TestStaleFeedClosesAsConverged(t *testing.T) {
	h := newTestEngine(t, Config{})
	ctx := context.Background()
	t0 := baseTime()
	h.openSpread(t, t0)

	// Only one venue keeps publishing; the quiet side ages past the stale
	// cutoff before the next scan.
	h.feed(t, venueOKX, 100.05, t0.Add(120*time.Second))
	h.engine.scanOnce(ctx, t0.Add(121*time.Second))

	if got := h.engine.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", got)
	}
	closed := h.engine.ClosedHistory()
	if len(closed) != 1 {
		t.Fatalf("ClosedHistory() returned %d records, want 1", len(closed))
	}
	record := closed[0]
	if record.CloseReason != schema.ClosePriceConverged {
		t.Fatalf("close reason = %s, want %s", record.CloseReason, schema.ClosePriceConverged)
	}
	if diff := math.Abs(record.PeakSpreadPct - 100*1/100.5); diff > 1e-9 {
		t.Fatalf("peak spread pct = %v, want about 0.995", record.PeakSpreadPct)
	}
	if record.Duration != 120*time.Second {
		t.Fatalf("duration = %s, want 2m0s", record.Duration)
	}

	events := h.queue.Drain()
	if len(events) != 1 {
		t.Fatalf("close scan enqueued %d events, want 1", len(events))
	}
	if events[0].Kind != schema.AlertClose {
		t.Fatalf("event kind = %s, want %s", events[0].Kind, schema.AlertClose)
	}
	if events[0].Closed == nil || events[0].Closed.CloseReason != schema.ClosePriceConverged {
		t.Fatalf("close event payload = %+v, want %s record", events[0].Closed, schema.ClosePriceConverged)
	}
}

func TestBelowThresholdCloses(t *testing.T) {
	h := newTestEngine(t, Config{})
	ctx := context.Background()
	t0 := baseTime()
	h.openSpread(t, t0)

	// Both feeds stay fresh while the spread narrows under the close
	// threshold but above the convergence band.
	at := t0.Add(30 * time.Second)
	h.feed(t, venueBinance, 100.00, at)
	h.feed(t, venueOKX, 100.40, at)
	h.engine.scanOnce(ctx, at)

	closed := h.engine.ClosedHistory()
	if len(closed) != 1 {
		t.Fatalf("ClosedHistory() returned %d records, want 1", len(closed))
	}
	record := closed[0]
	if record.CloseReason != schema.CloseBelowThreshold {
		t.Fatalf("close reason = %s, want %s", record.CloseReason, schema.CloseBelowThreshold)
	}
	if record.CloseSpreadPct >= 0.5 || record.CloseSpreadPct < 0.1 {
		t.Fatalf("close spread pct = %v, want within [0.1, 0.5)", record.CloseSpreadPct)
	}

	// A 29 second lifetime is under the close-alert floor.
	if got := h.queue.Len(); got != 0 {
		t.Fatalf("short-lived close enqueued %d events, want 0", got)
	}
}

func TestStaleCloseThenFreshReopen(t *testing.T) {
	h := newTestEngine(t, Config{})
	ctx := context.Background()
	t0 := baseTime()
	h.openSpread(t, t0)

	// One venue keeps publishing while the other goes quiet past the cutoff.
	at := t0.Add(61 * time.Second)
	h.feed(t, venueBinance, 100.00, at)
	h.engine.scanOnce(ctx, at)
	if got := h.engine.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() after stale side = %d, want 0", got)
	}
	if record := h.engine.ClosedHistory()[0]; record.CloseReason != schema.ClosePriceConverged {
		t.Fatalf("close reason = %s, want %s", record.CloseReason, schema.ClosePriceConverged)
	}
	if got := h.queue.Len(); got != 0 {
		t.Fatalf("60s lifetime enqueued %d close events, want 0", got)
	}

	// Still only one live side: nothing reopens.
	h.engine.scanOnce(ctx, t0.Add(70*time.Second))
	if got := h.engine.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() with one fresh side = %d, want 0", got)
	}

	// The quiet venue resumes with a qualifying spread.
	at = t0.Add(80 * time.Second)
	h.feed(t, venueBinance, 100.00, at)
	h.feed(t, venueOKX, 101.00, at)
	h.engine.scanOnce(ctx, at)

	if got := h.engine.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() after resume = %d, want 1", got)
	}
	events := h.queue.Drain()
	if len(events) != 1 || events[0].Kind != schema.AlertOpenOrUpdate {
		t.Fatalf("resume scan events = %+v, want one open", events)
	}
	if events[0].Opportunity.AlertsSent != 1 {
		t.Fatalf("alerts sent on reopen = %d, want 1", events[0].Opportunity.AlertsSent)
	}
}

func TestThreeVenueFanout(t *testing.T) {
	h := newTestEngine(t, Config{})
	t0 := baseTime()
	h.feed(t, venueBinance, 100.00, t0)
	h.feed(t, venueOKX, 101.00, t0)
	h.feed(t, venueBybit, 102.00, t0)

	h.engine.scanOnce(context.Background(), t0.Add(time.Second))

	if got := h.engine.ActiveCount(); got != 3 {
		t.Fatalf("ActiveCount() = %d, want 3", got)
	}
	events := h.queue.Drain()
	if len(events) != 3 {
		t.Fatalf("Drain() returned %d events, want 3", len(events))
	}
	wantIDs := map[string]bool{
		schema.OpportunityID(testInstrument, venueBinance, venueOKX):   true,
		schema.OpportunityID(testInstrument, venueBinance, venueBybit): true,
		schema.OpportunityID(testInstrument, venueOKX, venueBybit):     true,
	}
	for _, event := range events {
		if event.Opportunity == nil {
			t.Fatalf("event %s carries no opportunity", event.EventID)
		}
		if !wantIDs[event.Opportunity.ID] {
			t.Fatalf("unexpected or duplicate opportunity id %q", event.Opportunity.ID)
		}
		delete(wantIDs, event.Opportunity.ID)
	}
}

func TestOpenAtExactThreshold(t *testing.T) {
	quote, ok := computeSpread(100.00, 101.00, 1000)
	if !ok {
		t.Fatal("computeSpread() rejected valid prices")
	}
	h := newTestEngine(t, Config{OpenThresholdPct: quote.SpreadPct})
	t0 := baseTime()
	h.feed(t, venueBinance, 100.00, t0)
	h.feed(t, venueOKX, 101.00, t0)

	h.engine.scanOnce(context.Background(), t0)

	if got := h.engine.ActiveCount(); got != 1 {
		t.Fatalf("spread equal to the open threshold must open, ActiveCount() = %d", got)
	}
}

func TestSpreadAtCloseThresholdStaysOpen(t *testing.T) {
	quote, ok := computeSpread(100.00, 101.00, 1000)
	if !ok {
		t.Fatal("computeSpread() rejected valid prices")
	}
	h := newTestEngine(t, Config{CloseThresholdPct: quote.SpreadPct})
	ctx := context.Background()
	t0 := baseTime()
	h.openSpread(t, t0)

	at := t0.Add(30 * time.Second)
	h.feed(t, venueBinance, 100.00, at)
	h.feed(t, venueOKX, 101.00, at)
	h.engine.scanOnce(ctx, at)

	if got := h.engine.ActiveCount(); got != 1 {
		t.Fatalf("spread equal to the close threshold must stay open, ActiveCount() = %d", got)
	}
	if got := len(h.engine.ClosedHistory()); got != 0 {
		t.Fatalf("ClosedHistory() returned %d records, want 0", got)
	}
}

func TestFreshConvergenceClosesBelowThreshold(t *testing.T) {
	h := newTestEngine(t, Config{})
	ctx := context.Background()
	t0 := baseTime()
	h.openSpread(t, t0)

	// With default thresholds a near-zero spread trips both close branches;
	// the threshold check runs first and names the reason.
	at := t0.Add(30 * time.Second)
	h.feed(t, venueBinance, 100.00, at)
	h.feed(t, venueOKX, 100.05, at)
	h.engine.scanOnce(ctx, at)

	closed := h.engine.ClosedHistory()
	if len(closed) != 1 {
		t.Fatalf("ClosedHistory() returned %d records, want 1", len(closed))
	}
	if closed[0].CloseReason != schema.CloseBelowThreshold {
		t.Fatalf("close reason = %s, want %s", closed[0].CloseReason, schema.CloseBelowThreshold)
	}
}

func TestConvergenceReasonWithLowCloseThreshold(t *testing.T) {
	h := newTestEngine(t, Config{CloseThresholdPct: 0.01})
	ctx := context.Background()
	t0 := baseTime()
	h.openSpread(t, t0)

	// 0.05% clears the configured close threshold but sits inside the
	// convergence band.
	at := t0.Add(30 * time.Second)
	h.feed(t, venueBinance, 100.00, at)
	h.feed(t, venueOKX, 100.05, at)
	h.engine.scanOnce(ctx, at)

	closed := h.engine.ClosedHistory()
	if len(closed) != 1 {
		t.Fatalf("ClosedHistory() returned %d records, want 1", len(closed))
	}
	if closed[0].CloseReason != schema.ClosePriceConverged {
		t.Fatalf("close reason = %s, want %s", closed[0].CloseReason, schema.ClosePriceConverged)
	}
}

func TestTimeoutClosesAgedOpportunity(t *testing.T) {
	h := newTestEngine(t, Config{})
	ctx := context.Background()
	t0 := baseTime()
	h.openSpread(t, t0)
	openTime := t0.Add(time.Second)

	// At exactly the maximum age the opportunity survives.
	at := openTime.Add(2 * time.Hour)
	h.feed(t, venueBinance, 100.00, at)
	h.feed(t, venueOKX, 101.00, at)
	h.engine.scanOnce(ctx, at)
	if got := h.engine.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() at the age limit = %d, want 1", got)
	}
	h.queue.Drain()

	// One second past it the timeout fires. The spread still qualifies, so
	// open detection starts a fresh opportunity in the same scan.
	at = at.Add(time.Second)
	h.feed(t, venueBinance, 100.00, at)
	h.feed(t, venueOKX, 101.00, at)
	h.engine.scanOnce(ctx, at)

	closed := h.engine.ClosedHistory()
	if len(closed) != 1 {
		t.Fatalf("ClosedHistory() returned %d records, want 1", len(closed))
	}
	if closed[0].CloseReason != schema.CloseTimeout {
		t.Fatalf("close reason = %s, want %s", closed[0].CloseReason, schema.CloseTimeout)
	}

	events := h.queue.Drain()
	if len(events) != 2 {
		t.Fatalf("timeout scan enqueued %d events, want a close and a reopen", len(events))
	}
	if events[0].Kind != schema.AlertClose || events[1].Kind != schema.AlertOpenOrUpdate {
		t.Fatalf("event kinds = %s, %s, want %s then %s",
			events[0].Kind, events[1].Kind, schema.AlertClose, schema.AlertOpenOrUpdate)
	}
	reopened := h.engine.ActiveSnapshot()[0]
	if !reopened.OpenTime.Equal(at) {
		t.Fatalf("reopened open time = %v, want %v", reopened.OpenTime, at)
	}
	if reopened.AlertsSent != 1 {
		t.Fatalf("reopened alerts sent = %d, want 1", reopened.AlertsSent)
	}
}

func TestPeakTracksMaximum(t *testing.T) {
	h := newTestEngine(t, Config{})
	ctx := context.Background()
	t0 := baseTime()
	h.openSpread(t, t0)

	// The spread widens, then falls back; the peak must hold the maximum.
	widenAt := t0.Add(10 * time.Second)
	h.feed(t, venueBinance, 100.00, widenAt)
	h.feed(t, venueOKX, 102.00, widenAt)
	h.engine.scanOnce(ctx, widenAt)

	narrowAt := t0.Add(20 * time.Second)
	h.feed(t, venueBinance, 100.00, narrowAt)
	h.feed(t, venueOKX, 101.00, narrowAt)
	h.engine.scanOnce(ctx, narrowAt)

	active := h.engine.ActiveSnapshot()[0]
	if diff := math.Abs(active.SpreadPct - 100*1/100.5); diff > 1e-9 {
		t.Fatalf("current spread pct = %v, want about 0.995", active.SpreadPct)
	}
	if diff := math.Abs(active.PeakSpreadPct - 100*2/101.0); diff > 1e-9 {
		t.Fatalf("peak spread pct = %v, want about 1.980", active.PeakSpreadPct)
	}
	if active.PeakProfit != 2000 {
		t.Fatalf("peak profit = %v, want 2000", active.PeakProfit)
	}
	if !active.PeakTime.Equal(widenAt) {
		t.Fatalf("peak time = %v, want %v", active.PeakTime, widenAt)
	}
}

func TestCloseAllManual(t *testing.T) {
	h := newTestEngine(t, Config{})
	ctx := context.Background()
	t0 := baseTime()
	h.feed(t, venueBinance, 100.00, t0)
	h.feed(t, venueOKX, 101.00, t0)
	h.feed(t, venueBybit, 102.00, t0)
	h.engine.scanOnce(ctx, t0.Add(time.Second))
	h.queue.Drain()

	h.engine.now = func() time.Time { return t0.Add(10 * time.Minute) }
	if got := h.engine.CloseAll(ctx, schema.CloseManual); got != 3 {
		t.Fatalf("CloseAll() = %d, want 3", got)
	}
	if got := h.engine.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() after CloseAll = %d, want 0", got)
	}

	closed := h.engine.ClosedHistory()
	if len(closed) != 3 {
		t.Fatalf("ClosedHistory() returned %d records, want 3", len(closed))
	}
	for _, record := range closed {
		if record.CloseReason != schema.CloseManual {
			t.Fatalf("close reason = %s, want %s", record.CloseReason, schema.CloseManual)
		}
	}
	events := h.queue.Drain()
	if len(events) != 3 {
		t.Fatalf("CloseAll enqueued %d events, want 3", len(events))
	}
	for _, event := range events {
		if event.Kind != schema.AlertClose {
			t.Fatalf("event kind = %s, want %s", event.Kind, schema.AlertClose)
		}
	}
}

func TestClosedHistoryBounded(t *testing.T) {
	h := newTestEngine(t, Config{ClosedHistorySize: 2, DisableCloseAlerts: true})
	ctx := context.Background()
	t0 := baseTime()

	var closeTimes []time.Time
	for cycle := 0; cycle < 3; cycle++ {
		openAt := t0.Add(time.Duration(cycle) * 10 * time.Minute)
		h.openSpread(t, openAt)

		closeAt := openAt.Add(31 * time.Second)
		h.feed(t, venueBinance, 100.00, closeAt)
		h.feed(t, venueOKX, 100.40, closeAt)
		h.engine.scanOnce(ctx, closeAt)
		closeTimes = append(closeTimes, closeAt)
	}

	closed := h.engine.ClosedHistory()
	if len(closed) != 2 {
		t.Fatalf("ClosedHistory() returned %d records, want 2", len(closed))
	}
	if !closed[0].CloseTime.Equal(closeTimes[1]) || !closed[1].CloseTime.Equal(closeTimes[2]) {
		t.Fatalf("ring kept closes at %v and %v, want the two most recent", closed[0].CloseTime, closed[1].CloseTime)
	}

	// Close alerts are disabled, so the close scans queued nothing.
	if got := h.queue.Len(); got != 0 {
		t.Fatalf("queue holds %d events with close alerts disabled, want 0", got)
	}
}

type failingSink struct {
	calls int
}

func (s *failingSink) Enqueue(ctx context.Context, event schema.AlertEvent) error {
	s.calls++
	return errors.New("sink unavailable")
}

func TestEnqueueFailureKeepsOpportunity(t *testing.T) {
	store := pricestore.NewMemoryStore(pricestore.Options{SweepInterval: time.Hour})
	t.Cleanup(store.Close)
	metrics := observability.NewRuntimeMetrics()
	sink := &failingSink{}
	universe := &stubUniverse{instruments: []schema.Instrument{testInstrument}}
	eng := New(store, universe, sink, metrics, Config{})

	t0 := baseTime()
	tick := schema.Tick{Instrument: testInstrument, Venue: venueBinance, Price: 100.00, IngestTime: t0}
	if err := store.Put(tick); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	tick.Venue, tick.Price = venueOKX, 101.00
	if err := store.Put(tick); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	eng.scanOnce(context.Background(), t0.Add(time.Second))

	if sink.calls != schema.DefaultAlertRetries {
		t.Fatalf("sink attempts = %d, want %d", sink.calls, schema.DefaultAlertRetries)
	}
	if got := eng.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() = %d, want 1 despite the dropped alert", got)
	}
	snapshot := metrics.Snapshot()
	if snapshot.AlertsDropped != 1 || snapshot.AlertsEnqueued != 0 {
		t.Fatalf("metrics = dropped %d enqueued %d, want 1 0", snapshot.AlertsDropped, snapshot.AlertsEnqueued)
	}
}

func TestRunStopLifecycle(t *testing.T) {
	h := newTestEngine(t, Config{ScanInterval: 5 * time.Millisecond})
	ctx := context.Background()
	if err := h.engine.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := h.engine.Run(ctx); err == nil {
		t.Fatal("Run() on a running engine must fail")
	}

	now := time.Now()
	h.feed(t, venueBinance, 100.00, now)
	h.feed(t, venueOKX, 101.00, now)

	deadline := time.Now().Add(2 * time.Second)
	for h.engine.ActiveCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scan loop never opened the spread")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.engine.Stop()
	h.engine.Stop()

	if err := h.engine.Run(ctx); err != nil {
		t.Fatalf("Run() after Stop() error = %v", err)
	}
	h.engine.Stop()
}
