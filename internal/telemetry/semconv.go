// Semantic conventions for detector telemetry: attribute keys follow the
// OpenTelemetry namespace.attribute_name convention.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	// AttrVenue identifies the exchange that produced the signal.
	AttrVenue = attribute.Key("venue")
	// AttrInstrument captures the canonical BASE/QUOTE pair.
	AttrInstrument = attribute.Key("instrument")
	// AttrAlertKind distinguishes open-or-update from close events.
	AttrAlertKind = attribute.Key("alert.kind")
	// AttrCloseReason labels close counters with the lifecycle outcome.
	AttrCloseReason = attribute.Key("close.reason")
	// AttrErrorType categorizes failures by canonical error code.
	AttrErrorType = attribute.Key("error.type")
	// AttrReason provides free-form context for errors and rejections.
	AttrReason = attribute.Key("reason")
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
)

// Metric names shared between the recording sites and the provider's views.
const (
	MetricTicksIngested    = "spreadwatch_ticks_ingested"
	MetricInvalidTicks     = "spreadwatch_invalid_ticks"
	MetricReconnects       = "spreadwatch_reconnects"
	MetricCatalogFailures  = "spreadwatch_catalog_failures"
	MetricScansCompleted   = "spreadwatch_scans_completed"
	MetricScanDuration     = "spreadwatch_scan_duration_ms"
	MetricOpportunityOpen  = "spreadwatch_opportunity_opens"
	MetricOpportunityClose = "spreadwatch_opportunity_closes"
	MetricAlertsEnqueued   = "spreadwatch_alerts_enqueued"
	MetricAlertsDropped    = "spreadwatch_alerts_dropped"
	MetricAlertsSuppressed = "spreadwatch_alerts_suppressed"
	MetricVenuesWorking    = "spreadwatch_venues_working"
	MetricVenuesFailed     = "spreadwatch_venues_failed"
)

// VenueAttributes returns the common attribute set for per-venue metrics.
func VenueAttributes(environment, venue string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrVenue.String(venue),
	}
}

// InstrumentAttributes returns attributes for per-instrument metrics.
func InstrumentAttributes(environment, venue, instrument string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrVenue.String(venue),
		AttrInstrument.String(instrument),
	}
}

// ErrorAttributes returns attributes for error metrics.
func ErrorAttributes(environment, errorType, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrErrorType.String(errorType),
		AttrReason.String(reason),
	}
}
