// Package gate adapts the Gate.io v4 spot feed to the detector's venue
// contract: the spot.tickers channel over one websocket plus the
// currency-pairs catalog.
package gate

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/spreadwatch/internal/schema"
)

type wsRequest struct {
	Time    int64    `json:"time"`
	Channel string   `json:"channel"`
	Event   string   `json:"event"`
	Payload []string `json:"payload"`
}

// wsEnvelope wraps channel updates and operation acknowledgements. Acks echo
// the request event; updates carry event "update" and a result body.
type wsEnvelope struct {
	Time    int64           `json:"time"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Error   *wsError        `json:"error"`
	Result  json.RawMessage `json:"result"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type tickerResult struct {
	CurrencyPair string `json:"currency_pair"`
	Last         string `json:"last"`
	BaseVolume   string `json:"base_volume"`
	High24h      string `json:"high_24h"`
	Low24h       string `json:"low_24h"`
}

// parseFrame decodes a spot-stream frame into its ticker body. ok is false
// for acknowledgements and non-ticker channels; error acknowledgements
// surface as errors.
func parseFrame(data []byte) (tickerResult, bool, error) {
	var envelope wsEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return tickerResult{}, false, fmt.Errorf("parse spot stream frame: %w", err)
	}

	if envelope.Error != nil {
		return tickerResult{}, false,
			fmt.Errorf("%s %s rejected: code=%d %s",
				envelope.Channel, envelope.Event, envelope.Error.Code, envelope.Error.Message)
	}
	if !strings.EqualFold(envelope.Event, "update") {
		return tickerResult{}, false, nil
	}
	if !strings.EqualFold(envelope.Channel, "spot.tickers") {
		return tickerResult{}, false, nil
	}

	var ticker tickerResult
	if err := json.Unmarshal(envelope.Result, &ticker); err != nil {
		return tickerResult{}, false, fmt.Errorf("parse ticker body: %w", err)
	}
	return ticker, true, nil
}

// pairFor converts a canonical instrument to the underscore-joined wire pair,
// e.g. BTC/USDT -> BTC_USDT.
func pairFor(instrument schema.Instrument) string {
	return strings.ToUpper(instrument.Base() + "_" + instrument.Quote())
}
