// Command spreadwatch launches the cross-venue spread detector.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/coachpo/spreadwatch/config"
	"github.com/coachpo/spreadwatch/internal/adapters"
	"github.com/coachpo/spreadwatch/internal/alert"
	"github.com/coachpo/spreadwatch/internal/archive"
	"github.com/coachpo/spreadwatch/internal/catalog"
	"github.com/coachpo/spreadwatch/internal/engine"
	"github.com/coachpo/spreadwatch/internal/health"
	"github.com/coachpo/spreadwatch/internal/notify"
	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/pricestore"
	"github.com/coachpo/spreadwatch/internal/schema"
	"github.com/coachpo/spreadwatch/internal/subscription"
	"github.com/coachpo/spreadwatch/internal/telemetry"
)

const (
	defaultConfigPath     = "config/spreadwatch.yaml"
	defaultLoggerPrefix   = "spreadwatch "
	detectorMeterName     = "spreadwatch.detector"
	initialRefreshTimeout = 30 * time.Second

	shutdownTimeout          = 30 * time.Second
	engineShutdownTimeout    = 10 * time.Second
	healthShutdownTimeout    = 5 * time.Second
	loopShutdownTimeout      = 5 * time.Second
	adapterShutdownTimeout   = 10 * time.Second
	alertShutdownTimeout     = 5 * time.Second
	archiveShutdownTimeout   = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPathFlag, logPrefix := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := log.New(os.Stdout, logPrefix, log.LstdFlags|log.Lmicroseconds)
	observability.SetLogger(observability.NewStdLogger(logger, false))

	cfg, loadedFromFile, err := loadConfig(cfgPathFlag)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Print("configuration file not found, using defaults")
	}
	venues := cfg.EnabledVenues()
	logger.Printf("configuration initialised: venues=%d, scan_interval=%s, open=%.2f%%, close=%.2f%%",
		len(venues), cfg.ScanInterval, cfg.OpenThresholdPct, cfg.CloseThresholdPct)

	metrics := observability.NewRuntimeMetrics()

	telemetryProvider, err := initTelemetry(ctx, logger, metrics)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	notifier := notify.NewDedup(notify.LogNotifier{}, cfg.FailureCooldown.Std())

	adapterList, err := startAdapters(ctx, cfg, venues, notifier, metrics)
	if err != nil {
		logger.Fatalf("initialise adapters: %v", err)
	}
	logger.Printf("venue adapters started: %d", len(adapterList))

	store := pricestore.NewMemoryStore(pricestore.Options{
		HistorySize: cfg.HistorySize,
		StaleAfter:  cfg.StaleAfter.Std(),
		DropAfter:   cfg.DropAfter.Std(),
	})

	catalogSvc := catalog.NewService(adapterList, catalog.Config{
		QuoteFilter:      cfg.QuoteFilter,
		MinVenues:        cfg.MinVenuesPerInstrument,
		FetchTimeout:     cfg.WsTimeout.Std(),
		RefreshRate:      rate.Limit(cfg.Catalog.RateLimit),
		RefreshBurst:     cfg.Catalog.RateBurst,
		Fallback:         cfg.Fallbacks(),
		BreakerTripAfter: cfg.Catalog.Breaker.TripAfter,
		BreakerCooldown:  cfg.Catalog.Breaker.Cooldown.Std(),
		Metrics:          metrics,
	})
	manager := subscription.NewManager(adapterList, store, notifier)
	catalogSvc.SetApplier(manager)

	refreshCtx, refreshCancel := context.WithTimeout(ctx, initialRefreshTimeout)
	_, err = catalogSvc.Refresh(refreshCtx)
	refreshCancel()
	if err != nil {
		logger.Printf("initial catalog refresh: %v", err)
	}
	logger.Printf("instrument universe: %d instruments across %d venues",
		len(catalogSvc.ActiveSet()), len(adapterList))

	queue := alert.NewQueue(cfg.Alerts.QueueCapacity)
	deliverer, archiveStore, err := buildDeliverer(ctx, logger, cfg)
	if err != nil {
		logger.Fatalf("initialise archive: %v", err)
	}
	filter, err := buildFilter(logger, cfg)
	if err != nil {
		logger.Fatalf("load alert filter script: %v", err)
	}
	dispatcher := alert.NewDispatcher(queue, deliverer, alert.DispatcherOptions{
		DrainInterval: cfg.Alerts.DrainInterval.Std(),
		Filter:        filter,
		Metrics:       metrics,
	})
	if err := dispatcher.Start(ctx); err != nil {
		logger.Fatalf("start alert dispatcher: %v", err)
	}

	eng := engine.New(store, catalogSvc, queue, metrics, engine.Config{
		ScanInterval:          cfg.ScanInterval.Std(),
		OpenThresholdPct:      cfg.OpenThresholdPct,
		CloseThresholdPct:     cfg.CloseThresholdPct,
		MinProfit:             cfg.MinProfit,
		NotionalUnits:         cfg.NotionalUnits,
		AlertCooldown:         cfg.AlertCooldown.Std(),
		MaxOpportunityAge:     cfg.MaxOpportunityAge.Std(),
		MinCloseAlertDuration: cfg.MinCloseAlertDuration.Std(),
		DisableCloseAlerts:    !cfg.CloseAlertsEnabled(),
	})
	if err := eng.Run(ctx); err != nil {
		logger.Fatalf("start engine: %v", err)
	}

	monitor := health.NewMonitor(adapterList, manager, health.Config{
		Interval: cfg.HealthInterval.Std(),
		Metrics:  metrics,
	})
	if err := monitor.Run(ctx); err != nil {
		logger.Fatalf("start health monitor: %v", err)
	}

	var lifecycle conc.WaitGroup
	startCatalogRefreshLoop(ctx, &lifecycle, logger, catalogSvc, cfg.Catalog.RefreshInterval.Std())

	logger.Print("spreadwatch started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		engine:     eng,
		monitor:    monitor,
		lifecycle:  &lifecycle,
		manager:    manager,
		adapters:   adapterList,
		store:      store,
		dispatcher: dispatcher,
		archive:    archiveStore,
		telemetry:  telemetryProvider,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() (configPath, logPrefix string) {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to the configuration file (default: %s)", defaultConfigPath))
	prefix := flag.String("log-prefix", defaultLoggerPrefix, "Prefix for process log lines")
	flag.Parse()
	return *cfgPath, *prefix
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// loadConfig loads the flag-supplied path strictly; the default path is
// optional and falls back to built-in defaults when absent.
func loadConfig(flagValue string) (config.AppConfig, bool, error) {
	if flagValue != "" {
		cfg, err := config.Load(flagValue)
		return cfg, err == nil, err
	}
	path := filepath.Clean(defaultConfigPath)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), false, nil
	}
	cfg, err := config.Load(path)
	return cfg, err == nil, err
}

func initTelemetry(ctx context.Context, logger *log.Logger, metrics *observability.RuntimeMetrics) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if !telemetryCfg.Enabled {
		logger.Print("telemetry disabled")
		return provider, nil
	}

	meter := provider.Meter(detectorMeterName)
	observability.SetMetrics(telemetry.NewCollector(meter))
	if err := telemetry.ObserveDetector(meter, metrics); err != nil {
		return nil, fmt.Errorf("register detector instruments: %w", err)
	}
	logger.Printf("telemetry initialized: endpoint=%s, service=%s, env=%s",
		telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName, telemetryCfg.Environment)
	return provider, nil
}

// startAdapters constructs and starts the enabled venue adapters, preserving
// the configured venue order.
func startAdapters(ctx context.Context, cfg config.AppConfig, venues []schema.Venue, notifier notify.Notifier, metrics *observability.RuntimeMetrics) ([]adapters.Adapter, error) {
	settings := adapters.Settings{
		WsTimeout:         cfg.WsTimeout.Std(),
		ReconnectDelay:    cfg.ReconnectDelay.Std(),
		SimTickerInterval: cfg.Venues.SimTickerInterval.Std(),
		Notifier:          notifier,
		Metrics:           metrics,
	}
	if fallback := cfg.Fallbacks(); len(fallback) > 0 {
		settings.FallbackInstruments = make(map[schema.Venue][]schema.Instrument, len(venues))
		for _, venue := range venues {
			settings.FallbackInstruments[venue] = fallback
		}
	}
	if len(cfg.Venues.Endpoints) > 0 {
		settings.Endpoints = make(map[schema.Venue]adapters.EndpointOverride, len(cfg.Venues.Endpoints))
		for name, endpoint := range cfg.Venues.Endpoints {
			settings.Endpoints[schema.NormalizeVenue(name)] = adapters.EndpointOverride{
				API: endpoint.API,
				WS:  endpoint.WS,
			}
		}
	}

	byVenue, err := adapters.NewAll(venues, settings)
	if err != nil {
		return nil, err
	}

	adapterList := make([]adapters.Adapter, 0, len(byVenue))
	for _, venue := range venues {
		adapter, ok := byVenue[venue]
		if !ok {
			continue
		}
		if err := adapter.Start(ctx); err != nil {
			return nil, fmt.Errorf("start %s adapter: %w", venue, err)
		}
		adapterList = append(adapterList, adapter)
		delete(byVenue, venue)
	}
	return adapterList, nil
}

// buildDeliverer assembles the outbound alert chain. With an archive DSN
// configured, close records tee into Postgres before the log channel.
func buildDeliverer(ctx context.Context, logger *log.Logger, cfg config.AppConfig) (alert.Deliverer, *archive.Store, error) {
	base := alert.LogDeliverer{}
	if !cfg.Archive.Enabled() {
		return base, nil, nil
	}
	store, err := archive.Open(ctx, cfg.Archive.DSN)
	if err != nil {
		return nil, nil, err
	}
	logger.Print("close-record archive enabled")
	return archive.NewRecorder(base, store), store, nil
}

func buildFilter(logger *log.Logger, cfg config.AppConfig) (*alert.ScriptFilter, error) {
	if cfg.Alerts.Script == "" {
		return nil, nil
	}
	filter, err := alert.NewScriptFilter(cfg.Alerts.Script)
	if err != nil {
		return nil, err
	}
	logger.Printf("alert filter script loaded: %s", cfg.Alerts.Script)
	return filter, nil
}

// startCatalogRefreshLoop re-runs discovery on a fixed cadence. Zero interval
// keeps discovery startup-only.
func startCatalogRefreshLoop(ctx context.Context, lifecycle *conc.WaitGroup, logger *log.Logger, svc *catalog.Service, interval time.Duration) {
	if interval <= 0 {
		return
	}
	logger.Printf("periodic catalog refresh enabled: every %s", interval)
	lifecycle.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := svc.Refresh(ctx); err != nil {
					logger.Printf("catalog refresh: %v", err)
				}
			}
		}
	})
}

type gracefulShutdownConfig struct {
	engine     *engine.Engine
	monitor    *health.Monitor
	lifecycle  *conc.WaitGroup
	manager    *subscription.Manager
	adapters   []adapters.Adapter
	store      *pricestore.MemoryStore
	dispatcher *alert.Dispatcher
	archive    *archive.Store
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.engine != nil {
		shutdownStep("stopping engine", engineShutdownTimeout, func(stepCtx context.Context) error {
			cfg.engine.Stop()
			if closed := cfg.engine.CloseAll(stepCtx, schema.CloseManual); closed > 0 {
				logger.Printf("shutdown: flushed %d open opportunities", closed)
			}
			return nil
		})
	}

	if cfg.monitor != nil {
		shutdownStep("stopping health monitor", healthShutdownTimeout, func(context.Context) error {
			cfg.monitor.Stop()
			return nil
		})
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for background loops", loopShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	shutdownStep("stopping venue adapters", adapterShutdownTimeout, func(context.Context) error {
		if cfg.manager != nil {
			cfg.manager.Close()
		}
		var failures []error
		for _, adapter := range cfg.adapters {
			if err := adapter.Stop(); err != nil {
				failures = append(failures, fmt.Errorf("stop %s: %w", adapter.Name(), err))
			}
		}
		return errors.Join(failures...)
	})

	if cfg.store != nil {
		shutdownStep("closing price store", loopShutdownTimeout, func(context.Context) error {
			cfg.store.Close()
			return nil
		})
	}

	if cfg.dispatcher != nil {
		shutdownStep("draining alert queue", alertShutdownTimeout, func(context.Context) error {
			cfg.dispatcher.Stop()
			return nil
		})
	}

	if cfg.archive != nil {
		shutdownStep("closing archive", archiveShutdownTimeout, func(context.Context) error {
			cfg.archive.Close()
			return nil
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}
