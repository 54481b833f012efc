package gate

import (
	"net/http"
	"strings"
	"time"

	"github.com/coachpo/spreadwatch/internal/notify"
	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/schema"
)

const (
	defaultAPIBaseURL = "https://api.gateio.ws"
	defaultWSBaseURL  = "wss://api.gateio.ws"
	defaultWsTimeout  = 10 * time.Second
	defaultReconnect  = 5 * time.Second

	currencyPairsPath = "/api/v4/spot/currency_pairs"
	spotWSPath        = "/ws/v4/"

	maxPairsPerRequest = 100
)

// Options configure the Gate.io adapter.
type Options struct {
	APIBaseURL     string
	WSBaseURL      string
	WsTimeout      time.Duration
	ReconnectDelay time.Duration
	HTTPClient     *http.Client

	// FallbackInstruments are returned as a synthetic catalog when the
	// currency-pairs endpoint is unavailable. Empty disables the fallback.
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

func (o Options) currencyPairsEndpoint() string {
	return strings.TrimSuffix(strings.TrimSpace(o.APIBaseURL), "/") + currencyPairsPath
}

func (o Options) spotStreamURL() string {
	return strings.TrimSuffix(strings.TrimSpace(o.WSBaseURL), "/") + spotWSPath
}
