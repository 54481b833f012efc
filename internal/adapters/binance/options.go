package binance

import (
	"net/http"
	"strings"
	"time"

	"github.com/coachpo/spreadwatch/internal/notify"
	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/schema"
)

const (
	defaultAPIBaseURL = "https://api.binance.com"
	defaultWSBaseURL  = "wss://stream.binance.com:9443"
	defaultWsTimeout  = 10 * time.Second
	defaultReconnect  = 5 * time.Second

	exchangeInfoPath = "/api/v3/exchangeInfo"

	// Binance limits control messages (SUBSCRIBE/UNSUBSCRIBE, PING/PONG) to 5
	// per second per connection.
	// See: https://github.com/binance/binance-spot-api-docs/blob/master/web-socket-streams.md
	controlMessageInterval = 250 * time.Millisecond
	maxStreamsPerRequest   = 100
)

// Options configure the Binance adapter.
type Options struct {
	APIBaseURL     string
	WSBaseURL      string
	WsTimeout      time.Duration
	ReconnectDelay time.Duration
	HTTPClient     *http.Client

	// FallbackInstruments are returned as a synthetic catalog when the
	// exchangeInfo endpoint is unavailable. Empty disables the fallback.
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

func (o Options) exchangeInfoEndpoint() string {
	return strings.TrimSuffix(strings.TrimSpace(o.APIBaseURL), "/") + exchangeInfoPath
}

// combinedStreamURL is the multiplexed endpoint; individual streams are added
// and removed with SUBSCRIBE/UNSUBSCRIBE control frames.
func (o Options) combinedStreamURL() string {
	return strings.TrimSuffix(strings.TrimSpace(o.WSBaseURL), "/") + "/stream"
}
