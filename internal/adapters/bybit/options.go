package bybit

import (
	"net/http"
	"strings"
	"time"

	"github.com/coachpo/spreadwatch/internal/notify"
	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/schema"
)

const (
	defaultAPIBaseURL = "https://api.bybit.com"
	defaultWSBaseURL  = "wss://stream.bybit.com"
	defaultWsTimeout  = 10 * time.Second
	defaultReconnect  = 5 * time.Second

	instrumentsPath = "/v5/market/instruments-info"
	spotWSPath      = "/v5/public/spot"

	// Bybit caps subscribe requests at ten args on spot.
	maxArgsPerRequest = 10
)

// Options configure the Bybit adapter.
type Options struct {
	APIBaseURL     string
	WSBaseURL      string
	WsTimeout      time.Duration
	ReconnectDelay time.Duration
	HTTPClient     *http.Client

	// FallbackInstruments are returned as a synthetic catalog when the
	// instruments-info endpoint is unavailable. Empty disables the fallback.
	FallbackInstruments []schema.Instrument

	Notifier notify.Notifier
	Metrics  *observability.RuntimeMetrics
}

func withDefaults(in Options) Options {
	if strings.TrimSpace(in.APIBaseURL) == "" {
		in.APIBaseURL = defaultAPIBaseURL
	}
	if strings.TrimSpace(in.WSBaseURL) == "" {
		in.WSBaseURL = defaultWSBaseURL
	}
	if in.WsTimeout <= 0 {
		in.WsTimeout = defaultWsTimeout
	}
	if in.ReconnectDelay <= 0 {
		in.ReconnectDelay = defaultReconnect
	}
	if in.HTTPClient == nil {
		in.HTTPClient = &http.Client{Timeout: in.WsTimeout}
	}
	return in
}

func (o Options) instrumentsEndpoint() string {
	return strings.TrimSuffix(strings.TrimSpace(o.APIBaseURL), "/") + instrumentsPath + "?category=spot"
}

func (o Options) spotStreamURL() string {
	return strings.TrimSuffix(strings.TrimSpace(o.WSBaseURL), "/") + spotWSPath
}
