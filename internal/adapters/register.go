package adapters

import (
	"time"

	"github.com/coachpo/spreadwatch/errs"
	"github.com/coachpo/spreadwatch/internal/adapters/binance"
	"github.com/coachpo/spreadwatch/internal/adapters/bybit"
	"github.com/coachpo/spreadwatch/internal/adapters/gate"
	"github.com/coachpo/spreadwatch/internal/adapters/kraken"
	"github.com/coachpo/spreadwatch/internal/adapters/okx"
	"github.com/coachpo/spreadwatch/internal/adapters/sim"
	"github.com/coachpo/spreadwatch/internal/notify"
	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/schema"
)

// EndpointOverride redirects one venue's REST and websocket endpoints. Empty
// fields keep the adapter's production defaults.
type EndpointOverride struct {
	API string
	WS  string
}

// Settings carry the cross-venue knobs every adapter shares.
type Settings struct {
	// WsTimeout bounds catalog fetches and the initial websocket dial.
	WsTimeout time.Duration
	// ReconnectDelay seeds the reconnect backoff.
	ReconnectDelay time.Duration
	// FallbackInstruments substitute for a venue's catalog when its endpoint
	// is down.
	FallbackInstruments map[schema.Venue][]schema.Instrument
	// Endpoints override per-venue base URLs, typically toward test doubles.
	Endpoints map[schema.Venue]EndpointOverride
	// SimTickerInterval paces the synthetic venue. Zero keeps its default.
	SimTickerInterval time.Duration

	Notifier notify.Notifier
	Metrics  *observability.RuntimeMetrics
}

func (s Settings) fallbackFor(venue schema.Venue) []schema.Instrument {
	if s.FallbackInstruments == nil {
		return nil
	}
	return s.FallbackInstruments[venue]
}

func (s Settings) endpointFor(venue schema.Venue) EndpointOverride {
	if s.Endpoints == nil {
		return EndpointOverride{}
	}
	return s.Endpoints[venue]
}

// New constructs the adapter for one venue. The venue set is closed; unknown
// names are configuration errors.
func New(venue schema.Venue, settings Settings) (Adapter, error) {
	endpoints := settings.endpointFor(venue)
	switch venue {
	case schema.VenueBinance:
		return binance.New(binance.Options{
			APIBaseURL:          endpoints.API,
			WSBaseURL:           endpoints.WS,
			WsTimeout:           settings.WsTimeout,
			ReconnectDelay:      settings.ReconnectDelay,
			FallbackInstruments: settings.fallbackFor(venue),
			Notifier:            settings.Notifier,
			Metrics:             settings.Metrics,
		}), nil
	case schema.VenueOKX:
		return okx.New(okx.Options{
			APIBaseURL:          endpoints.API,
			WSBaseURL:           endpoints.WS,
			WsTimeout:           settings.WsTimeout,
			ReconnectDelay:      settings.ReconnectDelay,
			FallbackInstruments: settings.fallbackFor(venue),
			Notifier:            settings.Notifier,
			Metrics:             settings.Metrics,
		}), nil
	case schema.VenueBybit:
		return bybit.New(bybit.Options{
			APIBaseURL:          endpoints.API,
			WSBaseURL:           endpoints.WS,
			WsTimeout:           settings.WsTimeout,
			ReconnectDelay:      settings.ReconnectDelay,
			FallbackInstruments: settings.fallbackFor(venue),
			Notifier:            settings.Notifier,
			Metrics:             settings.Metrics,
		}), nil
	case schema.VenueKraken:
		return kraken.New(kraken.Options{
			APIBaseURL:          endpoints.API,
			WSBaseURL:           endpoints.WS,
			WsTimeout:           settings.WsTimeout,
			ReconnectDelay:      settings.ReconnectDelay,
			FallbackInstruments: settings.fallbackFor(venue),
			Notifier:            settings.Notifier,
			Metrics:             settings.Metrics,
		}), nil
	case schema.VenueGate:
		return gate.New(gate.Options{
			APIBaseURL:          endpoints.API,
			WSBaseURL:           endpoints.WS,
			WsTimeout:           settings.WsTimeout,
			ReconnectDelay:      settings.ReconnectDelay,
			FallbackInstruments: settings.fallbackFor(venue),
			Notifier:            settings.Notifier,
			Metrics:             settings.Metrics,
		}), nil
	case schema.VenueSim:
		return sim.New(sim.Options{
			TickerInterval: settings.SimTickerInterval,
			Instruments:    settings.fallbackFor(venue),
			Metrics:        settings.Metrics,
		}), nil
	default:
		return nil, errs.New(string(venue), errs.CodeConfig,
			errs.WithMessage("unknown venue"))
	}
}

// NewAll constructs adapters for every requested venue, keyed by name.
func NewAll(venues []schema.Venue, settings Settings) (map[schema.Venue]Adapter, error) {
	out := make(map[schema.Venue]Adapter, len(venues))
	for _, venue := range venues {
		if _, dup := out[venue]; dup {
			continue
		}
		adapter, err := New(venue, settings)
		if err != nil {
			return nil, err
		}
		out[venue] = adapter
	}
	return out, nil
}
