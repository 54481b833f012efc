package alert

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/schema"
)

// DispatcherOptions tunes the drain loop.
type DispatcherOptions struct {
	// DrainInterval is the cadence at which the queue is flushed.
	DrainInterval time.Duration
	// Filter optionally gates events before delivery.
	Filter *ScriptFilter
	// Metrics receives enqueue/drop counters when set.
	Metrics *observability.RuntimeMetrics
}

func (o DispatcherOptions) withDefaults() DispatcherOptions {
	if o.DrainInterval <= 0 {
		o.DrainInterval = time.Second
	}
	return o
}

// Dispatcher drains the queue on a fixed cadence and hands events to the
// deliverer, highest priority first. Failed deliveries consume the event's
// retry budget and requeue; exhausted events are dropped.
type Dispatcher struct {
	queue     *Queue
	deliverer Deliverer
	opts      DispatcherOptions

	started atomic.Bool
	cancel  context.CancelFunc
	wg      conc.WaitGroup
}

// NewDispatcher wires a queue to a deliverer.
func NewDispatcher(queue *Queue, deliverer Deliverer, opts DispatcherOptions) *Dispatcher {
	dispatcher := new(Dispatcher)
	dispatcher.queue = queue
	dispatcher.deliverer = deliverer
	dispatcher.opts = opts.withDefaults()
	return dispatcher
}

// Start launches the drain loop until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("dispatcher requires context")
	}
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("dispatcher already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Go(func() { d.drainLoop(ctx) })
	return nil
}

// Stop cancels the drain loop, flushes remaining events, and waits.
func (d *Dispatcher) Stop() {
	if !d.started.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.drainOnce(context.Background())
	d.started.Store(false)
}

func (d *Dispatcher) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(d.opts.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainOnce(ctx)
		}
	}
}

func (d *Dispatcher) drainOnce(ctx context.Context) {
	events := d.queue.Drain()
	if len(events) == 0 {
		return
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Priority > events[j].Priority })

	for _, event := range events {
		if d.opts.Filter != nil && !d.opts.Filter.Allow(event) {
			continue
		}
		if err := d.deliverer.Deliver(ctx, event); err != nil {
			d.retryOrDrop(ctx, event, err)
		}
	}
}

func (d *Dispatcher) retryOrDrop(ctx context.Context, event schema.AlertEvent, cause error) {
	event.Retries--
	if event.Retries > 0 {
		if err := d.queue.Enqueue(ctx, event); err == nil {
			return
		}
	}
	d.opts.Metrics.RecordAlertDropped()
	observability.Log().Error("alert dropped after retries",
		observability.String("event_id", event.EventID),
		observability.String("kind", string(event.Kind)),
		observability.Err(cause))
}
