// Package config loads and validates the spreadwatch runtime configuration.
// The configuration is a single immutable value constructed at startup;
// components receive only the fields they need.
package config

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/spreadwatch/errs"
	"github.com/coachpo/spreadwatch/internal/schema"
)

const (
	defaultScanInterval          = 10 * time.Second
	defaultOpenThresholdPct      = 0.7
	defaultCloseThresholdPct     = 0.5
	defaultAlertCooldown         = 5 * time.Minute
	defaultMinProfit             = 10.0
	defaultNotionalUnits         = 1000.0
	defaultMinCloseAlertDuration = 2 * time.Minute
	defaultMaxOpportunityAge     = 2 * time.Hour
	defaultStaleAfter            = 60 * time.Second
	defaultDropAfter             = 5 * time.Minute
	defaultHistorySize           = 100
	defaultMinVenues             = 2
	defaultQuoteFilter           = "USDT"
	defaultWsTimeout             = 10 * time.Second
	defaultReconnectDelay        = 5 * time.Second
	defaultFailureCooldown       = 30 * time.Minute
	defaultHealthInterval        = 5 * time.Minute
	defaultQueueCapacity         = 1000
	defaultDrainInterval         = time.Second
	defaultCatalogRateLimit      = 2.0
	defaultCatalogRateBurst      = 6
	defaultBreakerTripAfter      = 3
	defaultBreakerCooldown       = time.Minute
)

// EndpointConfig overrides one venue's REST and websocket endpoints,
// typically to point at a test double.
type EndpointConfig struct {
	API string `yaml:"api"`
	WS  string `yaml:"ws"`
}

// VenuesConfig selects which adapters run and where they connect.
type VenuesConfig struct {
	// Enabled lists the venues to run. Empty means the production set.
	Enabled []string `yaml:"enabled"`
	// Endpoints hold per-venue endpoint overrides keyed by venue name.
	Endpoints map[string]EndpointConfig `yaml:"endpoints"`
	// SimTickerInterval paces the synthetic venue when enabled.
	SimTickerInterval Duration `yaml:"sim_ticker_interval"`
}

// AlertsConfig tunes the outbound alert pipeline.
type AlertsConfig struct {
	QueueCapacity int      `yaml:"queue_capacity"`
	DrainInterval Duration `yaml:"drain_interval"`
	// Script is the path of an optional JavaScript predicate gating delivery.
	Script string `yaml:"script"`
}

// ArchiveConfig enables Postgres persistence of close records.
type ArchiveConfig struct {
	DSN string `yaml:"dsn"`
}

// Enabled reports whether an archive DSN is configured.
func (a ArchiveConfig) Enabled() bool {
	return strings.TrimSpace(a.DSN) != ""
}

// BreakerConfig tunes the per-venue catalog circuit breaker.
type BreakerConfig struct {
	TripAfter int      `yaml:"trip_after"`
	Cooldown  Duration `yaml:"cooldown"`
}

// CatalogConfig tunes instrument discovery.
type CatalogConfig struct {
	// RefreshInterval re-runs discovery periodically. Zero refreshes only at
	// startup.
	RefreshInterval Duration `yaml:"refresh_interval"`
	// RateLimit caps venue catalog fetches per second across all venues.
	RateLimit float64       `yaml:"rate_limit"`
	RateBurst int           `yaml:"rate_burst"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

// AppConfig is the unified spreadwatch configuration sourced from YAML.
type AppConfig struct {
	ScanInterval           Duration `yaml:"scan_interval"`
	OpenThresholdPct       float64  `yaml:"open_threshold_pct"`
	CloseThresholdPct      float64  `yaml:"close_threshold_pct"`
	AlertCooldown          Duration `yaml:"alert_cooldown"`
	MinProfit              float64  `yaml:"min_profit"`
	NotionalUnits          float64  `yaml:"notional_units"`
	MinCloseAlertDuration  Duration `yaml:"min_close_alert_duration"`
	MaxOpportunityAge      Duration `yaml:"max_opportunity_age"`
	StaleAfter             Duration `yaml:"stale_after"`
	DropAfter              Duration `yaml:"drop_after"`
	HistorySize            int      `yaml:"history_size"`
	MinVenuesPerInstrument int      `yaml:"min_venues_per_instrument"`
	QuoteFilter            string   `yaml:"quote_filter"`
	EnableFallbacks        bool     `yaml:"enable_fallbacks"`
	FallbackInstruments    []string `yaml:"fallback_instruments"`
	WsTimeout              Duration `yaml:"ws_timeout"`
	ReconnectDelay         Duration `yaml:"reconnect_delay"`
	FailureCooldown        Duration `yaml:"failure_cooldown"`
	HealthInterval         Duration `yaml:"health_interval"`
	// CloseAlerts defaults to true; only an explicit false disables CLOSE
	// notifications.
	CloseAlerts *bool `yaml:"close_alerts"`

	Venues  VenuesConfig  `yaml:"venues"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Archive ArchiveConfig `yaml:"archive"`
	Catalog CatalogConfig `yaml:"catalog"`
}

// Default returns the configuration used when no file is supplied.
func Default() AppConfig {
	var cfg AppConfig
	cfg.normalise()
	return cfg
}

// Load reads, normalises, and validates an AppConfig from the YAML file at
// path.
func Load(path string) (AppConfig, error) {
	reader, closer, err := openConfigFile(path)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// CloseAlertsEnabled resolves the close_alerts tri-state.
func (c AppConfig) CloseAlertsEnabled() bool {
	return c.CloseAlerts == nil || *c.CloseAlerts
}

// EnabledVenues returns the normalized venue set to run.
func (c AppConfig) EnabledVenues() []schema.Venue {
	if len(c.Venues.Enabled) == 0 {
		return schema.KnownVenues()
	}
	out := make([]schema.Venue, 0, len(c.Venues.Enabled))
	seen := make(map[schema.Venue]struct{}, len(c.Venues.Enabled))
	for _, raw := range c.Venues.Enabled {
		venue := schema.NormalizeVenue(raw)
		if _, dup := seen[venue]; dup {
			continue
		}
		seen[venue] = struct{}{}
		out = append(out, venue)
	}
	return out
}

// Fallbacks returns the parsed fallback universe, or nil when fallbacks are
// disabled.
func (c AppConfig) Fallbacks() []schema.Instrument {
	if !c.EnableFallbacks || len(c.FallbackInstruments) == 0 {
		return nil
	}
	out := make([]schema.Instrument, 0, len(c.FallbackInstruments))
	for _, raw := range c.FallbackInstruments {
		instrument, err := schema.ParseInstrument(raw)
		if err != nil {
			continue // Validate rejected these already
		}
		out = append(out, instrument)
	}
	return out
}

// normalise fills defaults for absent keys and canonicalises strings. Zero
// values mean "not set"; explicitly negative values survive for Validate to
// reject.
func (c *AppConfig) normalise() {
	if c.ScanInterval == 0 {
		c.ScanInterval = Duration(defaultScanInterval)
	}
	if c.OpenThresholdPct == 0 {
		c.OpenThresholdPct = defaultOpenThresholdPct
	}
	if c.CloseThresholdPct == 0 {
		c.CloseThresholdPct = defaultCloseThresholdPct
	}
	if c.AlertCooldown == 0 {
		c.AlertCooldown = Duration(defaultAlertCooldown)
	}
	if c.MinProfit == 0 {
		c.MinProfit = defaultMinProfit
	}
	if c.NotionalUnits == 0 {
		c.NotionalUnits = defaultNotionalUnits
	}
	if c.MinCloseAlertDuration == 0 {
		c.MinCloseAlertDuration = Duration(defaultMinCloseAlertDuration)
	}
	if c.MaxOpportunityAge == 0 {
		c.MaxOpportunityAge = Duration(defaultMaxOpportunityAge)
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = Duration(defaultStaleAfter)
	}
	if c.DropAfter == 0 {
		c.DropAfter = Duration(defaultDropAfter)
	}
	if c.HistorySize == 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.MinVenuesPerInstrument == 0 {
		c.MinVenuesPerInstrument = defaultMinVenues
	}
	c.QuoteFilter = strings.ToUpper(strings.TrimSpace(c.QuoteFilter))
	if c.QuoteFilter == "" {
		c.QuoteFilter = defaultQuoteFilter
	}
	if c.WsTimeout == 0 {
		c.WsTimeout = Duration(defaultWsTimeout)
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = Duration(defaultReconnectDelay)
	}
	if c.FailureCooldown == 0 {
		c.FailureCooldown = Duration(defaultFailureCooldown)
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = Duration(defaultHealthInterval)
	}

	for i, raw := range c.Venues.Enabled {
		c.Venues.Enabled[i] = string(schema.NormalizeVenue(raw))
	}
	if len(c.Venues.Endpoints) > 0 {
		normalised := make(map[string]EndpointConfig, len(c.Venues.Endpoints))
		for key, endpoint := range c.Venues.Endpoints {
			endpoint.API = strings.TrimSpace(endpoint.API)
			endpoint.WS = strings.TrimSpace(endpoint.WS)
			normalised[string(schema.NormalizeVenue(key))] = endpoint
		}
		c.Venues.Endpoints = normalised
	}
	for i, raw := range c.FallbackInstruments {
		if instrument, err := schema.ParseInstrument(raw); err == nil {
			c.FallbackInstruments[i] = string(instrument)
		} else {
			c.FallbackInstruments[i] = strings.TrimSpace(raw)
		}
	}

	if c.Alerts.QueueCapacity == 0 {
		c.Alerts.QueueCapacity = defaultQueueCapacity
	}
	if c.Alerts.DrainInterval == 0 {
		c.Alerts.DrainInterval = Duration(defaultDrainInterval)
	}
	c.Alerts.Script = strings.TrimSpace(c.Alerts.Script)
	c.Archive.DSN = strings.TrimSpace(c.Archive.DSN)

	if c.Catalog.RateLimit == 0 {
		c.Catalog.RateLimit = defaultCatalogRateLimit
	}
	if c.Catalog.RateBurst == 0 {
		c.Catalog.RateBurst = defaultCatalogRateBurst
	}
	if c.Catalog.Breaker.TripAfter == 0 {
		c.Catalog.Breaker.TripAfter = defaultBreakerTripAfter
	}
	if c.Catalog.Breaker.Cooldown == 0 {
		c.Catalog.Breaker.Cooldown = Duration(defaultBreakerCooldown)
	}
}

// Validate rejects nonsensical configuration after normalisation.
func (c AppConfig) Validate() error {
	if err := positiveDuration("scan_interval", c.ScanInterval); err != nil {
		return err
	}
	if !finite(c.OpenThresholdPct) || c.OpenThresholdPct <= 0 {
		return configError("open_threshold_pct must be a positive finite percentage")
	}
	if !finite(c.CloseThresholdPct) || c.CloseThresholdPct < 0 {
		return configError("close_threshold_pct must be a non-negative finite percentage")
	}
	if c.CloseThresholdPct > c.OpenThresholdPct {
		return configError("close_threshold_pct must not exceed open_threshold_pct")
	}
	if !finite(c.MinProfit) || c.MinProfit < 0 {
		return configError("min_profit must be a non-negative finite number")
	}
	if !finite(c.NotionalUnits) || c.NotionalUnits <= 0 {
		return configError("notional_units must be a positive finite number")
	}
	for _, check := range []struct {
		key   string
		value Duration
	}{
		{"alert_cooldown", c.AlertCooldown},
		{"min_close_alert_duration", c.MinCloseAlertDuration},
		{"max_opportunity_age", c.MaxOpportunityAge},
		{"stale_after", c.StaleAfter},
		{"drop_after", c.DropAfter},
		{"ws_timeout", c.WsTimeout},
		{"reconnect_delay", c.ReconnectDelay},
		{"failure_cooldown", c.FailureCooldown},
		{"health_interval", c.HealthInterval},
		{"alerts drain_interval", c.Alerts.DrainInterval},
		{"catalog breaker cooldown", c.Catalog.Breaker.Cooldown},
	} {
		if err := positiveDuration(check.key, check.value); err != nil {
			return err
		}
	}
	if c.Catalog.RefreshInterval < 0 {
		return configError("catalog refresh_interval must not be negative")
	}
	if c.HistorySize < 1 {
		return configError("history_size must be at least 1")
	}
	if c.MinVenuesPerInstrument < 2 {
		return configError("min_venues_per_instrument must be at least 2")
	}
	for _, raw := range c.Venues.Enabled {
		if !schema.Venue(raw).Valid() {
			return configError(fmt.Sprintf("unknown venue %q", raw))
		}
	}
	for key := range c.Venues.Endpoints {
		if !schema.Venue(key).Valid() {
			return configError(fmt.Sprintf("endpoint override for unknown venue %q", key))
		}
	}
	if c.Venues.SimTickerInterval < 0 {
		return configError("venues sim_ticker_interval must not be negative")
	}
	for _, raw := range c.FallbackInstruments {
		if _, err := schema.ParseInstrument(raw); err != nil {
			return configError(fmt.Sprintf("fallback instrument %q: want BASE/QUOTE", raw))
		}
	}
	if c.Alerts.QueueCapacity < 0 {
		return configError("alerts queue_capacity must not be negative")
	}
	if !finite(c.Catalog.RateLimit) || c.Catalog.RateLimit <= 0 {
		return configError("catalog rate_limit must be a positive finite rate")
	}
	if c.Catalog.RateBurst < 1 {
		return configError("catalog rate_burst must be at least 1")
	}
	if c.Catalog.Breaker.TripAfter < 1 {
		return configError("catalog breaker trip_after must be at least 1")
	}
	return nil
}

func configError(message string) error {
	return errs.New("config", errs.CodeConfig, errs.WithMessage(message))
}

func positiveDuration(key string, d Duration) error {
	if d <= 0 {
		return configError(fmt.Sprintf("%s must be a positive duration", key))
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))
	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
