package okx

import (
	"net/http"
	"strings"
	"time"

	"github.com/coachpo/spreadwatch/internal/notify"
	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/schema"
)

const (
	defaultAPIBaseURL = "https://www.okx.com"
	defaultWSBaseURL  = "wss://ws.okx.com:8443"
	defaultWsTimeout  = 10 * time.Second
	defaultReconnect  = 5 * time.Second

	instrumentsPath = "/api/v5/public/instruments"
	publicWSPath    = "/ws/v5/public"

	// OKX rejects subscribe payloads above 4 KiB; sixty args stays well under.
	maxArgsPerRequest = 60
)

// Options configure the OKX adapter.
type Options struct {
	APIBaseURL     string
	WSBaseURL      string
	WsTimeout      time.Duration
	ReconnectDelay time.Duration
	HTTPClient     *http.Client

	// FallbackInstruments are returned as a synthetic catalog when the
	// instruments endpoint is unavailable. Empty disables the fallback.
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
	return strings.TrimSuffix(strings.TrimSpace(o.APIBaseURL), "/") + instrumentsPath + "?instType=SPOT"
}

func (o Options) publicStreamURL() string {
	return strings.TrimSuffix(strings.TrimSpace(o.WSBaseURL), "/") + publicWSPath
}
