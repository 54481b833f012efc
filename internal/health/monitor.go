// Package health probes venue adapter liveness on a fixed cadence and
// requests reconnects for feeds that have gone dark.
package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/spreadwatch/internal/adapters"
	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/schema"
	"github.com/coachpo/spreadwatch/internal/telemetry"
)

// Reconnector restarts one venue's feed and replays its subscriptions.
// Implemented by the subscription manager.
type Reconnector interface {
	ReconnectVenue(ctx context.Context, venue schema.Venue) error
}

// Config tunes the probe cadence. Zero fields take the defaults noted per
// field.
type Config struct {
	// InitialDelay is the wait before the first probe (30s).
	InitialDelay time.Duration
	// Interval is the gap between probes after the first (5m).
	Interval time.Duration
	// ReconnectTimeout bounds a single reconnect attempt (30s).
	ReconnectTimeout time.Duration
	// OnProbe, when set, receives every probe snapshot.
	OnProbe func(Snapshot)
	// Metrics counts reconnect requests per venue.
	Metrics *observability.RuntimeMetrics
}

func (c Config) withDefaults() Config {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 30 * time.Second
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.ReconnectTimeout <= 0 {
		c.ReconnectTimeout = 30 * time.Second
	}
	return c
}

// Snapshot is the outcome of one probe pass. Venue slices are sorted.
type Snapshot struct {
	Probed  time.Time      `json:"probed"`
	Working []schema.Venue `json:"working"`
	Failed  []schema.Venue `json:"failed"`
}

// Monitor owns the probe loop.
type Monitor struct {
	cfg         Config
	adapters    []adapters.Adapter
	reconnector Reconnector

	running atomic.Bool
	cancel  context.CancelFunc
	wg      conc.WaitGroup

	mu   sync.Mutex
	last Snapshot

	now func() time.Time
}

// NewMonitor builds a monitor over the given adapters. Failed venues are
// handed to reconnector.
func NewMonitor(adapterList []adapters.Adapter, reconnector Reconnector, cfg Config) *Monitor {
	return &Monitor{
		cfg:         cfg.withDefaults(),
		adapters:    adapterList,
		reconnector: reconnector,
		now:         time.Now,
	}
}

// Run launches the probe loop: one probe after InitialDelay, then one every
// Interval, until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("health monitor requires context")
	}
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("health monitor already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Go(func() { m.loop(ctx) })
	return nil
}

// Stop halts the probe loop and waits for an in-flight probe to finish.
func (m *Monitor) Stop() {
	if !m.running.Load() {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.running.Store(false)
}

func (m *Monitor) loop(ctx context.Context) {
	timer := time.NewTimer(m.cfg.InitialDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			m.Probe(ctx)
			timer.Reset(m.cfg.Interval)
		}
	}
}

// Probe runs one status pass over every adapter. A venue reporting no live
// connection is failed and handed to the reconnector.
func (m *Monitor) Probe(ctx context.Context) Snapshot {
	snapshot := Snapshot{Probed: m.now()}
	for _, adapter := range m.adapters {
		venue := adapter.Name()
		status := adapter.Status()
		if status.Connected && status.ConnectionCount > 0 {
			snapshot.Working = append(snapshot.Working, venue)
			continue
		}
		snapshot.Failed = append(snapshot.Failed, venue)
		m.reconnect(ctx, venue, status.LastError)
	}
	sortVenues(snapshot.Working)
	sortVenues(snapshot.Failed)

	m.mu.Lock()
	m.last = snapshot
	m.mu.Unlock()

	observability.Telemetry().SetGauge(telemetry.MetricVenuesWorking, float64(len(snapshot.Working)), nil)
	observability.Telemetry().SetGauge(telemetry.MetricVenuesFailed, float64(len(snapshot.Failed)), nil)
	observability.Log().Info("venue health probe",
		observability.Int("working", len(snapshot.Working)),
		observability.Int("failed", len(snapshot.Failed)))
	if m.cfg.OnProbe != nil {
		m.cfg.OnProbe(snapshot)
	}
	return snapshot
}

func (m *Monitor) reconnect(ctx context.Context, venue schema.Venue, lastError string) {
	m.cfg.Metrics.RecordReconnect(string(venue))
	observability.Log().Error("venue unhealthy, requesting reconnect",
		observability.String("venue", string(venue)),
		observability.String("last_error", lastError))

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ReconnectTimeout)
	defer cancel()
	if err := m.reconnector.ReconnectVenue(ctx, venue); err != nil {
		observability.Log().Error("venue reconnect failed",
			observability.String("venue", string(venue)),
			observability.Err(err))
	}
}

// LastSnapshot returns the most recent probe outcome. Zero before the first
// probe.
func (m *Monitor) LastSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func sortVenues(venues []schema.Venue) {
	sort.Slice(venues, func(i, j int) bool { return venues[i] < venues[j] })
}
