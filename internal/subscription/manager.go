// Package subscription reconciles the desired (venue, instrument) plan from
// catalog discovery with the adapters' live ticker streams.
package subscription

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coachpo/spreadwatch/errs"
	"github.com/coachpo/spreadwatch/internal/adapters"
	"github.com/coachpo/spreadwatch/internal/notify"
	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/pricestore"
	"github.com/coachpo/spreadwatch/internal/schema"
)

// Manager applies subscription plans and replays them after venue restarts.
// One manager serves the whole process; all methods are safe for concurrent
// use.
type Manager struct {
	adapters map[schema.Venue]adapters.Adapter
	store    pricestore.Store
	notifier notify.Notifier

	mu      sync.Mutex
	current map[schema.Venue]map[schema.Instrument]struct{}
}

// NewManager builds a manager over the given adapters. Ticks from every
// subscription are forwarded into store.
func NewManager(adapterList []adapters.Adapter, store pricestore.Store, notifier notify.Notifier) *Manager {
	byVenue := make(map[schema.Venue]adapters.Adapter, len(adapterList))
	for _, a := range adapterList {
		byVenue[a.Name()] = a
	}
	return &Manager{
		adapters: byVenue,
		store:    store,
		notifier: notifier,
		current:  make(map[schema.Venue]map[schema.Instrument]struct{}, len(adapterList)),
	}
}

// Apply diffs the desired assignments against the live set: new pairs are
// subscribed, vanished pairs unsubscribed. A failed subscribe is reported and
// left out of the live set so the next Apply retries it; the rest of the diff
// proceeds.
func (m *Manager) Apply(ctx context.Context, active []schema.Instrument, assignments map[schema.Venue][]schema.Instrument) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var failures []error
	added, removed := 0, 0
	for venue, adapter := range m.adapters {
		desired := make(map[schema.Instrument]struct{}, len(assignments[venue]))
		for _, instrument := range assignments[venue] {
			desired[instrument] = struct{}{}
		}
		live := m.current[venue]
		if live == nil {
			live = make(map[schema.Instrument]struct{})
			m.current[venue] = live
		}

		for instrument := range live {
			if _, keep := desired[instrument]; keep {
				continue
			}
			if err := adapter.Unsubscribe(instrument); err != nil {
				observability.Log().Error("unsubscribe failed",
					observability.String("venue", string(venue)),
					observability.String("instrument", string(instrument)),
					observability.Err(err))
			}
			delete(live, instrument)
			removed++
		}

		for instrument := range desired {
			if _, ok := live[instrument]; ok {
				continue
			}
			if err := m.subscribeLocked(adapter, instrument); err != nil {
				failures = append(failures, err)
				continue
			}
			live[instrument] = struct{}{}
			added++
		}
	}

	if added > 0 || removed > 0 {
		observability.Log().Info("subscription plan applied",
			observability.Int("active", len(active)),
			observability.Int("added", added),
			observability.Int("removed", removed))
	}
	return observability.AggregateErrors("subscription apply", failures)
}

func (m *Manager) subscribeLocked(adapter adapters.Adapter, instrument schema.Instrument) error {
	venue := adapter.Name()
	err := adapter.Subscribe(instrument, m.sinkFor(venue))
	if err == nil {
		return nil
	}
	if m.notifier != nil {
		m.notifier.Notify(venue, notify.KindStreamOpenFailed,
			fmt.Sprintf("subscribe %s: %s", instrument, errs.MessageOf(err)))
	}
	return err
}

// sinkFor builds the tick sink bound to one venue. Store rejections are
// logged and dropped; adapters validate before delivery so a rejection here
// means a malformed tick slipped the venue boundary.
func (m *Manager) sinkFor(venue schema.Venue) schema.TickSink {
	return func(tick schema.Tick) {
		if err := m.store.Put(tick); err != nil {
			observability.Log().Debug("tick rejected by store",
				observability.String("venue", string(venue)),
				observability.String("instrument", string(tick.Instrument)),
				observability.Err(err))
		}
	}
}

// ReconnectVenue stops and restarts the venue's adapter, then replays every
// subscription currently assigned to it. Used by the health monitor when a
// venue goes quiet.
func (m *Manager) ReconnectVenue(ctx context.Context, venue schema.Venue) error {
	adapter, ok := m.adapters[venue]
	if !ok {
		return errs.New(string(venue), errs.CodeNotFound, errs.WithMessage("no adapter for venue"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	assigned := make([]schema.Instrument, 0, len(m.current[venue]))
	for instrument := range m.current[venue] {
		assigned = append(assigned, instrument)
	}
	sort.Slice(assigned, func(i, j int) bool { return assigned[i] < assigned[j] })

	if err := adapter.Stop(); err != nil {
		observability.Log().Error("adapter stop before reconnect failed",
			observability.String("venue", string(venue)),
			observability.Err(err))
	}
	if err := adapter.Start(ctx); err != nil {
		return fmt.Errorf("restart %s adapter: %w", venue, err)
	}

	live := make(map[schema.Instrument]struct{}, len(assigned))
	var failures []error
	for _, instrument := range assigned {
		if err := m.subscribeLocked(adapter, instrument); err != nil {
			failures = append(failures, err)
			continue
		}
		live[instrument] = struct{}{}
	}
	m.current[venue] = live

	observability.Log().Info("venue reconnected",
		observability.String("venue", string(venue)),
		observability.Int("resubscribed", len(live)),
		observability.Int("failed", len(failures)))
	return observability.AggregateErrors("venue reconnect", failures)
}

// Assigned returns the instruments currently subscribed on the venue, sorted.
func (m *Manager) Assigned(venue schema.Venue) []schema.Instrument {
	m.mu.Lock()
	defer m.mu.Unlock()
	assigned := make([]schema.Instrument, 0, len(m.current[venue]))
	for instrument := range m.current[venue] {
		assigned = append(assigned, instrument)
	}
	sort.Slice(assigned, func(i, j int) bool { return assigned[i] < assigned[j] })
	return assigned
}

// Close unsubscribes everything. Called on shutdown after the engine stops.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for venue, live := range m.current {
		adapter := m.adapters[venue]
		for instrument := range live {
			if err := adapter.Unsubscribe(instrument); err != nil {
				observability.Log().Debug("unsubscribe during close failed",
					observability.String("venue", string(venue)),
					observability.String("instrument", string(instrument)),
					observability.Err(err))
			}
		}
		delete(m.current, venue)
	}
}
