package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/spreadwatch/internal/observability"
)

// ObserveDetector registers observable counters that mirror the runtime
// counter snapshot, so the periodic reader exports detector totals without
// touching the hot paths.
func ObserveDetector(meter metric.Meter, runtime *observability.RuntimeMetrics) error {
	if runtime == nil {
		return nil
	}
	envAttr := AttrEnvironment.String(Environment())

	totals := []struct {
		name string
		read func(observability.DetectorMetricsSnapshot) uint64
	}{
		{MetricScansCompleted, func(s observability.DetectorMetricsSnapshot) uint64 { return s.ScansCompleted }},
		{MetricOpportunityOpen, func(s observability.DetectorMetricsSnapshot) uint64 { return s.OpportunityOpens }},
		{MetricOpportunityClose, func(s observability.DetectorMetricsSnapshot) uint64 { return s.OpportunityClose }},
		{MetricAlertsEnqueued, func(s observability.DetectorMetricsSnapshot) uint64 { return s.AlertsEnqueued }},
		{MetricAlertsDropped, func(s observability.DetectorMetricsSnapshot) uint64 { return s.AlertsDropped }},
		{MetricAlertsSuppressed, func(s observability.DetectorMetricsSnapshot) uint64 { return s.AlertsSuppressed }},
	}
	for _, total := range totals {
		if _, err := meter.Int64ObservableCounter(total.name,
			metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
				observer.Observe(int64(total.read(runtime.Snapshot())), metric.WithAttributes(envAttr))
				return nil
			}),
		); err != nil {
			return fmt.Errorf("register %s: %w", total.name, err)
		}
	}

	perVenue := []struct {
		name string
		read func(observability.DetectorMetricsSnapshot) map[string]uint64
	}{
		{MetricTicksIngested, func(s observability.DetectorMetricsSnapshot) map[string]uint64 { return s.TicksIngested }},
		{MetricInvalidTicks, func(s observability.DetectorMetricsSnapshot) map[string]uint64 { return s.InvalidTicks }},
		{MetricReconnects, func(s observability.DetectorMetricsSnapshot) map[string]uint64 { return s.Reconnects }},
		{MetricCatalogFailures, func(s observability.DetectorMetricsSnapshot) map[string]uint64 { return s.CatalogFailures }},
	}
	for _, series := range perVenue {
		if _, err := meter.Int64ObservableCounter(series.name,
			metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
				for venue, count := range series.read(runtime.Snapshot()) {
					observer.Observe(int64(count), metric.WithAttributes(envAttr, AttrVenue.String(venue)))
				}
				return nil
			}),
		); err != nil {
			return fmt.Errorf("register %s: %w", series.name, err)
		}
	}
	return nil
}
