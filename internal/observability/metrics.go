package observability

import "sync"

// Metrics provides counters, gauges, and histogram recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the system.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string)       {}
func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)         {}

// DetectorMetricsSnapshot captures detector-focused runtime counters.
type DetectorMetricsSnapshot struct {
	TicksIngested    map[string]uint64 `json:"ticks_ingested"`
	InvalidTicks     map[string]uint64 `json:"invalid_ticks"`
	Reconnects       map[string]uint64 `json:"reconnects"`
	CatalogFailures  map[string]uint64 `json:"catalog_failures"`
	ScansCompleted   uint64            `json:"scans_completed"`
	OpportunityOpens uint64            `json:"opportunity_opens"`
	OpportunityClose uint64            `json:"opportunity_closes"`
	AlertsEnqueued   uint64            `json:"alerts_enqueued"`
	AlertsDropped    uint64            `json:"alerts_dropped"`
	AlertsSuppressed uint64            `json:"alerts_suppressed"`
}

// RuntimeMetrics accumulates detector counters in-memory for status surfaces
// and periodic export.
type RuntimeMetrics struct {
	mu       sync.Mutex
	snapshot DetectorMetricsSnapshot
}

// NewRuntimeMetrics constructs a metrics accumulator with empty maps.
func NewRuntimeMetrics() *RuntimeMetrics {
	metrics := new(RuntimeMetrics)
	metrics.snapshot = DetectorMetricsSnapshot{
		TicksIngested:   make(map[string]uint64),
		InvalidTicks:    make(map[string]uint64),
		Reconnects:      make(map[string]uint64),
		CatalogFailures: make(map[string]uint64),
	}
	return metrics
}

// RecordTick counts one accepted tick for a venue.
func (m *RuntimeMetrics) RecordTick(venue string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.TicksIngested[venue]++
}

// RecordInvalidTick counts one tick rejected at the adapter boundary.
func (m *RuntimeMetrics) RecordInvalidTick(venue string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.InvalidTicks[venue]++
}

// RecordReconnect counts one stream reconnect attempt for a venue.
func (m *RuntimeMetrics) RecordReconnect(venue string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Reconnects[venue]++
}

// RecordCatalogFailure counts one failed catalog fetch for a venue.
func (m *RuntimeMetrics) RecordCatalogFailure(venue string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.CatalogFailures[venue]++
}

// RecordScan counts one completed engine scan.
func (m *RuntimeMetrics) RecordScan() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.ScansCompleted++
}

// RecordOpen counts one opened opportunity.
func (m *RuntimeMetrics) RecordOpen() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.OpportunityOpens++
}

// RecordClose counts one closed opportunity.
func (m *RuntimeMetrics) RecordClose() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.OpportunityClose++
}

// RecordAlertEnqueued counts one alert accepted by the sink.
func (m *RuntimeMetrics) RecordAlertEnqueued() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.AlertsEnqueued++
}

// RecordAlertDropped counts one alert dropped after exhausting its retry budget.
func (m *RuntimeMetrics) RecordAlertDropped() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.AlertsDropped++
}

// RecordAlertSuppressed counts one alert withheld by cooldown.
func (m *RuntimeMetrics) RecordAlertSuppressed() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.AlertsSuppressed++
}

// Snapshot copies the current counter state for reporting.
func (m *RuntimeMetrics) Snapshot() DetectorMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.snapshot
	out.TicksIngested = copyCounters(m.snapshot.TicksIngested)
	out.InvalidTicks = copyCounters(m.snapshot.InvalidTicks)
	out.Reconnects = copyCounters(m.snapshot.Reconnects)
	out.CatalogFailures = copyCounters(m.snapshot.CatalogFailures)
	return out
}

func copyCounters(src map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
